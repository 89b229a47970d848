package banner

import (
	"fmt"

	"earnhub/pkg/config"
)

const banner = `
███████╗ █████╗ ██████╗ ███╗   ██╗██╗  ██╗██╗   ██╗██████╗
██╔════╝██╔══██╗██╔══██╗████╗  ██║██║  ██║██║   ██║██╔══██╗
█████╗  ███████║██████╔╝██╔██╗ ██║███████║██║   ██║██████╔╝
██╔══╝  ██╔══██║██╔══██╗██║╚██╗██║██╔══██║██║   ██║██╔══██╗
███████╗██║  ██║██║  ██║██║ ╚████║██║  ██║╚██████╔╝██████╔╝
╚══════╝╚═╝  ╚═╝╚═╝  ╚═╝╚═╝  ╚═══╝╚═╝  ╚═╝ ╚═════╝ ╚═════╝
`

// Print displays the startup banner with the effective runtime settings.
func Print(cfg *config.Config, source, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", cfg.Addr())
	fmt.Printf("DB Path:  %s\n", cfg.Server.DBPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	if source != "" {
		fmt.Printf("Config:   %s\n", source)
	}
	fmt.Printf("Room:     %s (%d forbidden terms)\n", cfg.Moderation.Room, len(cfg.Moderation.ForbiddenTerms))
	fmt.Printf("Wallet:   min withdraw %d, deposit window %s\n", cfg.Wallet.MinWithdraw, cfg.Wallet.DepositWindow.Duration())

	fmt.Println("\n== Examples ===================================================")
	fmt.Println("curl -X POST 'http://<host>:<port>/v1/session/register' -d '{\"email\":\"a@b.c\",\"password\":\"secret\",\"name\":\"A\"}'")
	fmt.Println("curl 'http://<host>:<port>/v1/chat/messages?limit=50'")

	fmt.Println("\n== Production? =================================================")
	be := len(cfg.Security.APIKeys.Backend)
	fe := len(cfg.Security.APIKeys.Frontend)
	ak := len(cfg.Security.APIKeys.Admin)
	if be == 0 && fe == 0 && ak == 0 {
		fmt.Println("No API keys configured: all requests will be rejected")
	} else {
		fmt.Printf("API keys: backend=%d frontend=%d admin=%d\n", be, fe, ak)
	}
	if cfg.Server.TLS.CertFile == "" {
		fmt.Println("TLS not configured: serving plain HTTP")
	}
	fmt.Println()
}
