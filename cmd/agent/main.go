// Command agent runs the gre-watchdog Agent: an HTTP server that executes
// local interface operations on behalf of a remote Coordinator over the
// signed RPC protocol defined in §6.2.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"k8s.io/klog/v2"

	"github.com/Kup1ng/gre-watchdog/internal/agentserver"
	"github.com/Kup1ng/gre-watchdog/internal/config"
)

func main() {
	defaults := config.DefaultAgent()

	var (
		listenAddress   = flag.String("listen-address", defaults.ListenAddress, "address to listen on for Coordinator RPC requests")
		sharedSecret    = flag.String("shared-secret", "", "HMAC shared secret (required)")
		allowCIDRs      = flag.String("allow-cidrs", strings.Join(defaults.AllowCIDRs, ","), "comma-separated CIDRs allowed to call this Agent")
		maxClockSkewSec = flag.Int("max-clock-skew-sec", defaults.MaxClockSkewSec, "maximum allowed |now - x-ts| in seconds")
		idempotencyTTL  = flag.Int("idempotency-ttl-sec", defaults.IdempotencyTTLSec, "idempotency cache entry TTL in seconds")
	)

	klog.InitFlags(nil)
	flag.Parse()

	if *sharedSecret == "" {
		klog.ErrorS(nil, "shared-secret is required")
		os.Exit(1)
	}

	cfg := agentserver.Config{
		SharedSecret:   *sharedSecret,
		AllowCIDRs:     splitCSV(*allowCIDRs),
		MaxClockSkew:   time.Duration(*maxClockSkewSec) * time.Second,
		IdempotencyTTL: time.Duration(*idempotencyTTL) * time.Second,
	}

	klog.InfoS("starting gre-watchdog agent",
		"listen_address", *listenAddress,
		"allow_cidrs", cfg.AllowCIDRs,
		"max_clock_skew_sec", *maxClockSkewSec,
		"idempotency_ttl_sec", *idempotencyTTL)

	srv := agentserver.New(cfg)
	httpServer := &http.Server{
		Addr:    *listenAddress,
		Handler: srv.Handler(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	klog.InfoS("agent started successfully")

	select {
	case <-sigCh:
		klog.InfoS("received shutdown signal, stopping agent...")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			klog.ErrorS(err, "error during agent shutdown")
		}
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			klog.ErrorS(err, "agent stopped with error")
			os.Exit(1)
		}
	}

	klog.InfoS("agent stopped")
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
