package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"earnhub/internal/sweeper"
	"earnhub/pkg/api"
	"earnhub/pkg/banner"
	"earnhub/pkg/config"
	"earnhub/pkg/ledger"
	"earnhub/pkg/logger"
	"earnhub/pkg/models"
	"earnhub/pkg/moderation"
	"earnhub/pkg/notify"
	"earnhub/pkg/profile"
	"earnhub/pkg/security"
	"earnhub/pkg/shutdown"
	"earnhub/pkg/state"
	"earnhub/pkg/store"
	"earnhub/pkg/telemetry"
	"earnhub/pkg/utils"
	"earnhub/pkg/validation"
)

func main() {
	// build metadata - set via ldflags during build/release
	var (
		version   = "dev"
		commit    = "none"
		buildDate = "unknown"
	)
	_ = godotenv.Load(".env")
	addrVal, dbVal, cfgVal, setFlags := config.ParseCommandFlags()

	cfgPath := config.ResolveConfigPath(cfgVal, setFlags["config"])
	cfg, envUsed, err := config.LoadEffective(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// flags win over env/config when explicitly provided
	addr := cfg.Addr()
	if setFlags["addr"] {
		addr = addrVal
	}
	dbPath := cfg.Server.DBPath
	if dbPath == "" || setFlags["db"] {
		dbPath = dbVal
	}

	logger.InitWithLevel(cfg.Logging.Level)

	if err := state.EnsureStateDirs(dbPath); err != nil {
		shutdown.Abort("state dirs", err, dbPath, 0)
	}
	auditDir := cfg.Moderation.AuditDir
	if auditDir == "" {
		auditDir = state.AuditPath(dbPath)
	}
	if err := logger.AttachAuditFileSink(auditDir); err != nil {
		shutdown.Abort("audit sink", err, dbPath, 0)
	}

	if err := store.Open(state.StorePath(dbPath)); err != nil {
		shutdown.Abort("open pebble", err, dbPath, 0)
	}

	// backend keys double as signing secrets, matching the /session/sign flow
	runtimeCfg := &config.RuntimeConfig{BackendKeys: map[string]struct{}{}, SigningKeys: map[string]struct{}{}}
	for _, k := range cfg.Security.APIKeys.Backend {
		runtimeCfg.BackendKeys[k] = struct{}{}
		runtimeCfg.SigningKeys[k] = struct{}{}
	}
	config.SetRuntime(runtimeCfg)

	// seed the broadcast banner from config on first boot
	if cfg.Announcement != "" {
		if cur, err := store.GetAnnouncement(); err == nil && cur == "" {
			if err := store.SetAnnouncement(cfg.Announcement); err != nil {
				logger.Warn("announcement_seed_failed", "error", err)
			}
		}
	}

	// empty room gets a system welcome so the stream is never blank
	if msgs, err := store.ListMessages(cfg.Moderation.Room); err == nil && len(msgs) == 0 {
		welcome := models.ChatMessage{
			ID:         utils.GenID(),
			Room:       cfg.Moderation.Room,
			AuthorID:   "system",
			AuthorName: "SYSTEM",
			Kind:       models.KindText,
			Origin:     models.OriginSystem,
			Text:       "Welcome to the community chat. Be respectful and follow the rules.",
			TS:         time.Now().UTC().UnixNano(),
		}
		if err := store.SaveMessage(welcome); err != nil {
			logger.Warn("welcome_seed_failed", "error", err)
		}
	}

	validation.SetRules(validation.Rules{MaxTextLen: cfg.Moderation.MaxTextLen})
	telemetry.SetSlowThreshold(cfg.Logging.SlowRequest.Duration())

	notifier := notify.LogNotifier{}
	guard := moderation.NewGuard(cfg.Moderation.ForbiddenTerms, cfg.Moderation.Room, notifier)
	led := ledger.New(cfg.Wallet, notifier)

	rootCtx, cancelRoot := context.WithCancel(context.Background())

	cancelSweep, err := sweeper.Start(rootCtx, cfg.Sweep, led)
	if err != nil {
		shutdown.Abort("sweep scheduler", err, dbPath, 0)
	}

	go profile.RunSyncer(rootCtx, profile.NewClient(cfg.Profile), cfg.Profile.Interval.Duration())

	verStr := version
	if commit != "none" {
		verStr += " (" + commit + ")"
	}
	if buildDate != "unknown" {
		verStr += " @ " + buildDate
	}
	source := "defaults"
	if _, err := config.Load(cfgPath); err == nil {
		source = "config"
	}
	if envUsed {
		source += "+env"
	}
	if len(setFlags) > 0 {
		source += "+flags"
	}
	banner.Print(cfg, source, verStr)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !store.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"not ready"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","version":"` + version + `"}`))
	})
	mux.Handle("/", security.RequireSignedAuthor(api.Handler(api.Deps{
		Guard:  guard,
		Ledger: led,
		Room:   cfg.Moderation.Room,
	})))
	mux.Handle("/docs/", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))
	mux.Handle("/openapi.yaml", http.FileServer(http.Dir("./docs")))
	mux.Handle("/metrics", promhttp.Handler())

	secCfg := security.SecConfig{
		AllowedOrigins: append([]string{}, cfg.Security.CORS.AllowedOrigins...),
		RPS:            cfg.Security.RateLimit.RPS,
		Burst:          cfg.Security.RateLimit.Burst,
		IPWhitelist:    append([]string{}, cfg.Security.IPWhitelist...),
		BackendKeys:    map[string]struct{}{},
		FrontendKeys:   map[string]struct{}{},
		AdminKeys:      map[string]struct{}{},
	}
	for _, k := range cfg.Security.APIKeys.Backend {
		secCfg.BackendKeys[k] = struct{}{}
	}
	for _, k := range cfg.Security.APIKeys.Frontend {
		secCfg.FrontendKeys[k] = struct{}{}
	}
	for _, k := range cfg.Security.APIKeys.Admin {
		secCfg.AdminKeys[k] = struct{}{}
	}

	wrapped := security.AuthenticateRequestMiddleware(secCfg)(telemetry.Middleware(mux))

	srv := &http.Server{Addr: addr, Handler: wrapped}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigc
		logger.Info("signal_received", "signal", s.String())
		cancelSweep()
		cancelRoot()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		if err := store.Close(); err != nil {
			logger.Error("store_close_failed", "error", err)
		}
	}()

	cert := cfg.Server.TLS.CertFile
	key := cfg.Server.TLS.KeyFile
	var errServe error
	if cert != "" && key != "" {
		errServe = srv.ListenAndServeTLS(cert, key)
	} else {
		errServe = srv.ListenAndServe()
	}
	if errServe != nil && errServe != http.ErrServerClosed {
		log.Fatal(errServe)
	}
	logger.Info("server_stopped")
}
