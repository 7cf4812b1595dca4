package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Kup1ng/gre-watchdog/internal/config"
	"github.com/Kup1ng/gre-watchdog/internal/model"
	"github.com/Kup1ng/gre-watchdog/internal/state"
)

// fakeProber returns a fixed loss pair for every address.
type fakeProber struct {
	publicLoss, greLoss float64
}

func (f fakeProber) Loss(ctx context.Context, addr string, count, timeoutSec int) float64 {
	if addr == "public" {
		return f.publicLoss
	}
	return f.greLoss
}

func newTestScheduler(t *testing.T, discover Discoverer, prober lossProber, reset Resetter) *Scheduler {
	t.Helper()
	cfg := config.DefaultCoordinator()
	store := state.NewStore(filepath.Join(t.TempDir(), "state.json"))
	return New(&cfg, store, discover, prober, reset)
}

// lossProber has the same method set as probe.Prober, so the fakes below
// satisfy what New expects; it is not named probe because that name is
// already taken by the probe package import in scheduler.go.
type lossProber = interface {
	Loss(ctx context.Context, addr string, count, timeoutSec int) float64
}

// On first sight of a descriptor, runOnce creates its tunnel state and
// emits a discovery event.
func TestRunOnceDiscoversNewTunnel(t *testing.T) {
	descriptors := []model.Descriptor{{ID: 1, PeerPublic: "public", PeerPrivate: "gre"}}
	discover := func(ctx context.Context) ([]model.Descriptor, error) { return descriptors, nil }
	reset := func(ctx context.Context, cfg *config.Coordinator, st *model.TunnelState, mu *sync.Mutex) {}

	s := newTestScheduler(t, discover, fakeProber{publicLoss: 0, greLoss: 0}, reset)
	s.runOnce(context.Background())

	st, ok := s.Store.Tunnel(1)
	if !ok {
		t.Fatal("expected tunnel 1 to be created")
	}
	if st.Status != model.StatusOK {
		t.Fatalf("status = %v, want OK after a clean probe", st.Status)
	}

	found := false
	for _, e := range s.Store.Events() {
		if e.Message == "tunnel discovered" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a 'tunnel discovered' event")
	}
}

// A panic while checking one tunnel must not prevent other tunnels in the
// same round from being checked.
func TestCheckTunnelPanicIsolation(t *testing.T) {
	descriptors := []model.Descriptor{
		{ID: 1, PeerPublic: "public", PeerPrivate: "panic-gre"},
		{ID: 2, PeerPublic: "public", PeerPrivate: "gre"},
	}
	discover := func(ctx context.Context) ([]model.Descriptor, error) { return descriptors, nil }
	reset := func(ctx context.Context, cfg *config.Coordinator, st *model.TunnelState, mu *sync.Mutex) {}

	s := newTestScheduler(t, discover, panickyProber{}, reset)
	s.runOnce(context.Background())

	st2, ok := s.Store.Tunnel(2)
	if !ok {
		t.Fatal("expected tunnel 2 to still be processed")
	}
	if st2.Status != model.StatusOK {
		t.Fatalf("tunnel 2 status = %v, want OK despite tunnel 1 panicking", st2.Status)
	}
}

type panickyProber struct{}

func (p panickyProber) Loss(ctx context.Context, addr string, count, timeoutSec int) float64 {
	// Tunnel 1's private-side address panics; tunnel 2 uses a distinct
	// address pair so it is unaffected.
	if addr == "panic-gre" {
		panic("boom")
	}
	return 0
}

// A confirmed wedge (bad rounds reaching the threshold) triggers Reset
// exactly once and emits the warning event.
func TestRunOnceTriggersResetOnConfirmedWedge(t *testing.T) {
	descriptors := []model.Descriptor{{ID: 5, PeerPublic: "public", PeerPrivate: "gre"}}
	discover := func(ctx context.Context) ([]model.Descriptor, error) { return descriptors, nil }

	var mu sync.Mutex
	var resetCalls int
	resetDone := make(chan struct{})
	reset := func(ctx context.Context, cfg *config.Coordinator, st *model.TunnelState, tmu *sync.Mutex) {
		mu.Lock()
		resetCalls++
		mu.Unlock()
		close(resetDone)
	}

	s := newTestScheduler(t, discover, fakeProber{publicLoss: 0, greLoss: 100}, reset)
	s.Cfg.ConfirmBadRounds = 1 // one bad round confirms immediately

	s.runOnce(context.Background())

	select {
	case <-resetDone:
	case <-time.After(time.Second):
		t.Fatal("expected Reset to be invoked for a confirmed wedge")
	}

	mu.Lock()
	defer mu.Unlock()
	if resetCalls != 1 {
		t.Fatalf("resetCalls = %d, want 1", resetCalls)
	}
}

// lockFor lazily creates a mutex per tunnel ID and reuses it across calls.
func TestLockForReusesMutexPerTunnel(t *testing.T) {
	s := newTestScheduler(t, func(ctx context.Context) ([]model.Descriptor, error) {
		return nil, nil
	}, fakeProber{}, func(ctx context.Context, cfg *config.Coordinator, st *model.TunnelState, mu *sync.Mutex) {})

	a := s.lockFor(1)
	b := s.lockFor(1)
	c := s.lockFor(2)

	if a != b {
		t.Fatal("expected the same mutex instance for repeated calls with the same tunnel ID")
	}
	if a == c {
		t.Fatal("expected distinct mutexes for distinct tunnel IDs")
	}
}

// A discovery error aborts the round without touching the store.
func TestRunOnceSkipsRoundOnDiscoveryError(t *testing.T) {
	discover := func(ctx context.Context) ([]model.Descriptor, error) {
		return nil, errors.New("ip: command not found")
	}
	s := newTestScheduler(t, discover, fakeProber{}, func(ctx context.Context, cfg *config.Coordinator, st *model.TunnelState, mu *sync.Mutex) {})

	s.runOnce(context.Background())

	if len(s.Store.Tunnels()) != 0 {
		t.Fatal("expected no tunnels to be created when discovery fails")
	}
}
