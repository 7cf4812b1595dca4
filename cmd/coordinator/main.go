// Command coordinator runs the gre-watchdog Coordinator: the scheduler
// that probes, classifies, and coordinates resets of every discovered
// tunnel, driving the remote Agent over the signed RPC protocol (§6.2).
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"k8s.io/klog/v2"

	"github.com/Kup1ng/gre-watchdog/internal/agentclient"
	"github.com/Kup1ng/gre-watchdog/internal/config"
	"github.com/Kup1ng/gre-watchdog/internal/discover"
	"github.com/Kup1ng/gre-watchdog/internal/model"
	"github.com/Kup1ng/gre-watchdog/internal/probe"
	"github.com/Kup1ng/gre-watchdog/internal/reset"
	"github.com/Kup1ng/gre-watchdog/internal/scheduler"
	"github.com/Kup1ng/gre-watchdog/internal/state"
)

func main() {
	defaults := config.DefaultCoordinator()
	cfg := defaults

	flag.StringVar(&cfg.IfaceRegex, "iface-regex", defaults.IfaceRegex, "regex matching local tunnel interface names, with the tunnel id as group 1")
	flag.Float64Var(&cfg.LossOKPercent, "loss-ok-percent", defaults.LossOKPercent, "loss percentage below which a side is considered healthy")
	flag.IntVar(&cfg.PingCount, "ping-count", defaults.PingCount, "echo requests per probe")
	flag.IntVar(&cfg.PingTimeoutSec, "ping-timeout-sec", defaults.PingTimeoutSec, "per-packet ping timeout in seconds")
	flag.IntVar(&cfg.CheckIntervalSec, "check-interval-sec", defaults.CheckIntervalSec, "scheduler iteration interval in seconds")
	flag.IntVar(&cfg.ConfirmBadRounds, "confirm-bad-rounds", defaults.ConfirmBadRounds, "consecutive PUBLIC_OK_GRE_BAD rounds before a reset is requested")
	flag.IntVar(&cfg.DownHoldSec, "down-hold-sec", defaults.DownHoldSec, "seconds to hold both sides down before bringing the local side back up")
	flag.IntVar(&cfg.UpGapSec, "up-gap-sec", defaults.UpGapSec, "seconds between local UP and remote UP")
	flag.IntVar(&cfg.MaxResetsPer30Min, "max-resets-per-30min", defaults.MaxResetsPer30Min, "reset admission limit per 30-minute sliding window")
	flag.IntVar(&cfg.PauseAfterLimitMin, "pause-after-limit-min", defaults.PauseAfterLimitMin, "pause duration in minutes once the reset rate limit is hit")
	flag.StringVar(&cfg.AgentBaseURL, "agent-base-url", defaults.AgentBaseURL, "base URL of the remote Agent")
	flag.StringVar(&cfg.SharedSecret, "shared-secret", "", "HMAC shared secret (required)")
	flag.IntVar(&cfg.RPCTimeoutSec, "rpc-timeout-sec", defaults.RPCTimeoutSec, "per-attempt Agent RPC timeout in seconds")
	flag.IntVar(&cfg.RPCMaxAttempts, "rpc-max-attempts", defaults.RPCMaxAttempts, "maximum Agent RPC attempts")
	flag.IntVar(&cfg.RPCBaseBackoffMs, "rpc-base-backoff-ms", defaults.RPCBaseBackoffMs, "initial Agent RPC retry backoff in milliseconds")
	flag.IntVar(&cfg.RPCMaxBackoffMs, "rpc-max-backoff-ms", defaults.RPCMaxBackoffMs, "maximum Agent RPC retry backoff in milliseconds")
	flag.StringVar(&cfg.StatePath, "state-path", defaults.StatePath, "path to the persisted state JSON document")

	klog.InitFlags(nil)
	flag.Parse()

	if cfg.SharedSecret == "" {
		klog.ErrorS(nil, "shared-secret is required")
		os.Exit(1)
	}

	klog.InfoS("starting gre-watchdog coordinator",
		"agent_base_url", cfg.AgentBaseURL,
		"state_path", cfg.StatePath,
		"check_interval_sec", cfg.CheckIntervalSec,
		"confirm_bad_rounds", cfg.ConfirmBadRounds)

	store := state.Load(cfg.StatePath)
	store.AddEvent(model.EventInfo, "coordinator started", nil)
	if err := store.Save(); err != nil {
		klog.ErrorS(err, "failed to persist initial state")
	}

	agent := agentclient.New(
		cfg.AgentBaseURL,
		cfg.SharedSecret,
		cfg.RPCTimeout(),
		cfg.RPCMaxAttempts,
		time.Duration(cfg.RPCBaseBackoffMs)*time.Millisecond,
		time.Duration(cfg.RPCMaxBackoffMs)*time.Millisecond,
	)

	orchestrator := reset.New(agent, store)

	resetFn := func(ctx context.Context, c *config.Coordinator, st *model.TunnelState, mu *sync.Mutex) {
		orchestrator.Reset(ctx, c, st, mu)
		if err := store.Save(); err != nil {
			klog.ErrorS(err, "failed to persist state after reset")
		}
	}

	discoverFn := func(ctx context.Context) ([]model.Descriptor, error) {
		return discover.Discover(ctx, cfg.IfaceRegex)
	}

	sched := scheduler.New(&cfg, store, discoverFn, probe.ExecProber{}, resetFn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sched.Run(ctx)
	}()

	klog.InfoS("coordinator started successfully")

	<-sigCh
	klog.InfoS("received shutdown signal, stopping coordinator...")
	cancel()
	<-done

	if err := store.Save(); err != nil {
		klog.ErrorS(err, "failed to persist state on shutdown")
	}
	klog.InfoS("coordinator stopped")
}
