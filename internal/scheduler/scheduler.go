// Package scheduler implements the periodic discover -> probe -> classify
// -> (maybe) reset loop that drives the whole Coordinator (§4.3).
package scheduler

import (
	"context"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/Kup1ng/gre-watchdog/internal/classify"
	"github.com/Kup1ng/gre-watchdog/internal/config"
	"github.com/Kup1ng/gre-watchdog/internal/model"
	"github.com/Kup1ng/gre-watchdog/internal/probe"
	"github.com/Kup1ng/gre-watchdog/internal/state"
)

// Discoverer yields the current tunnel descriptor list.
type Discoverer func(ctx context.Context) ([]model.Descriptor, error)

// Resetter runs the reset sequence for one tunnel, serialized under mu.
type Resetter func(ctx context.Context, cfg *config.Coordinator, st *model.TunnelState, mu *sync.Mutex)

// Scheduler drives the periodic monitoring loop.
type Scheduler struct {
	Cfg       *config.Coordinator
	Store     *state.Store
	Discover  Discoverer
	Prober    probe.Prober
	Reset     Resetter

	mu    sync.Mutex
	locks map[int]*sync.Mutex
}

// New creates a Scheduler.
func New(cfg *config.Coordinator, store *state.Store, discover Discoverer, prober probe.Prober, reset Resetter) *Scheduler {
	return &Scheduler{
		Cfg:      cfg,
		Store:    store,
		Discover: discover,
		Prober:   prober,
		Reset:    reset,
		locks:    make(map[int]*sync.Mutex),
	}
}

// lockFor returns the per-tunnel mutex for id, lazily materializing it on
// first sight, and keeping it alive for the lifetime of the Scheduler
// (§9 "Global mutable state").
func (s *Scheduler) lockFor(id int) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	mu, ok := s.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[id] = mu
	}
	return mu
}

// Run blocks, executing one iteration every CheckInterval until ctx is
// cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Cfg.CheckInterval())
	defer ticker.Stop()

	s.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

// runOnce performs one full scheduler iteration (§4.3).
func (s *Scheduler) runOnce(ctx context.Context) {
	descriptors, err := s.Discover(ctx)
	if err != nil {
		klog.ErrorS(err, "discovery failed; skipping this iteration")
		return
	}

	for _, d := range descriptors {
		_, created := s.Store.EnsureTunnel(d)
		s.lockFor(d.ID) // materialize the mutex even if the state already existed
		if created {
			id := d.ID
			s.Store.AddEvent(model.EventInfo, "tunnel discovered", &id)
		}
	}

	var wg sync.WaitGroup
	for _, d := range descriptors {
		d := d
		st, ok := s.Store.Tunnel(d.ID)
		if !ok {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.checkTunnel(ctx, d, st)
		}()
	}
	wg.Wait()

	if err := s.Store.Save(); err != nil {
		klog.ErrorS(err, "failed to persist state")
	}
}

// checkTunnel probes and classifies one tunnel. A panic or error here must
// not affect any other tunnel's round; callers run this in its own
// goroutine and recover defensively.
func (s *Scheduler) checkTunnel(ctx context.Context, d model.Descriptor, st *model.TunnelState) {
	defer func() {
		if r := recover(); r != nil {
			klog.ErrorS(nil, "panic while checking tunnel", "tunnel_id", d.ID, "recover", r)
		}
	}()

	st.LastSeen = time.Now().Unix()

	result := probe.Probe(ctx, s.Prober, d.PeerPublic, d.PeerPrivate, s.Cfg.PingCount, s.Cfg.PingTimeoutSec)
	st.LastPublicLoss = result.PublicLoss
	st.LastGRELoss = result.GRELoss

	// A tunnel that is paused, manually paused, or mid-reset is left alone
	// by the classifier; measurements are still recorded above.
	if st.Status == model.StatusPausedManual || st.Status == model.StatusResetting {
		return
	}
	if st.Status == model.StatusPaused && time.Now().Unix() < st.PausedUntil {
		return
	}

	outcome := classify.Classify(result.PublicLoss, result.GRELoss, s.Cfg.LossOKPercent, st.BadRounds, s.Cfg.ConfirmBadRounds)
	st.Status = outcome.Status
	st.BadRounds = outcome.BadRounds
	if outcome.Status == model.StatusPublicOKGREBad {
		st.LastAction = model.BadRound(outcome.BadRounds)
	} else {
		st.LastAction = model.ActionNone
	}

	if outcome.RequestReset {
		id := d.ID
		s.Store.AddEvent(model.EventWarn, "reset triggered (confirmed)", &id)
		mu := s.lockFor(d.ID)
		go s.Reset(ctx, s.Cfg, st, mu)
	}
}
