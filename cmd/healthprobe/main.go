package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"

	"earnhub/pkg/logger"
)

// Lean sidecar probe endpoint for load balancers that hammer health checks;
// it avoids waking the main server's middleware chain.
func main() {
	addr := flag.String("addr", ":8081", "listen address for the health probe")
	ver := flag.String("version", "dev", "version string to return")
	flag.Parse()
	logger.Init()

	h := func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case "/health", "/healthz":
			ctx.Response.Header.Set("Content-Type", "application/json")
			ctx.SetStatusCode(fasthttp.StatusOK)
			_, _ = ctx.WriteString(fmt.Sprintf("{\"status\":\"ok\",\"version\":\"%s\"}", *ver))
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		}
	}

	logger.Info("health_probe_listening", "addr", *addr, "version", *ver)
	srv := &fasthttp.Server{
		Handler:            h,
		Name:               "earnhub-healthprobe",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       5 * time.Second,
		MaxRequestBodySize: 1 << 20,
	}
	if err := srv.ListenAndServe(*addr); err != nil {
		logger.Error("health_probe_exit", "error", err)
	}
}
