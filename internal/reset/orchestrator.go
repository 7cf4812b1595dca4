// Package reset implements the Reset Orchestrator (§4.4): the ordered,
// rate-limited, rollback-aware two-endpoint flap that recovers a wedged
// tunnel.
package reset

import (
	"context"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/Kup1ng/gre-watchdog/internal/agentclient"
	"github.com/Kup1ng/gre-watchdog/internal/config"
	"github.com/Kup1ng/gre-watchdog/internal/iface"
	"github.com/Kup1ng/gre-watchdog/internal/model"
)

// EventSink records operator-visible events, satisfied by *state.Store.
type EventSink interface {
	AddEvent(kind model.EventKind, message string, tunnelID *int)
}

// AgentCaller issues a single signed, retrying, idempotent Agent RPC call,
// satisfied by *agentclient.Client.
type AgentCaller interface {
	Call(ctx context.Context, path, iface string, mustOK bool) (agentclient.Response, error)
}

// LinkSetter brings a local interface up or down, satisfied by
// iface.SetLink. It is a field (not a direct package call) so tests can
// substitute a fake without shelling out to `ip`.
type LinkSetter func(ctx context.Context, name string, up bool) (string, error)

// Orchestrator runs the reset sequence for a single tunnel at a time
// (enforced by the caller-supplied per-tunnel mutex).
type Orchestrator struct {
	Agent   AgentCaller
	Link    LinkSetter
	Events  EventSink
	Now     func() time.Time
}

// New creates an Orchestrator that drives the local interface via
// iface.SetLink.
func New(agent AgentCaller, events EventSink) *Orchestrator {
	return &Orchestrator{Agent: agent, Link: iface.SetLink, Events: events, Now: time.Now}
}

// Reset executes the nine-step sequence of §4.4 for tunnel, serialized
// under mu. mu is held for the entire sequence, including the down_hold_sec
// sleep, so a concurrent manual reset request for the same tunnel cannot
// interleave — this is intentional (§5, §9).
func (o *Orchestrator) Reset(ctx context.Context, cfg *config.Coordinator, st *model.TunnelState, mu *sync.Mutex) {
	mu.Lock()
	defer mu.Unlock()

	id := st.ID
	now := o.Now()

	// Step 0: paused guard.
	if now.Unix() < st.PausedUntil {
		o.Events.AddEvent(model.EventInfo, "reset skipped (paused)", &id)
		return
	}

	// Step 1: mark RESETTING.
	st.Status = model.StatusResetting
	st.LastAction = model.ActionResetStart
	st.LastResetStartedAt = now.Unix()
	o.Events.AddEvent(model.EventAction, "reset started", &id)

	// Step 2: rate-limit admission.
	st.ResetsWindow = pruneWindow(st.ResetsWindow, now)
	if len(st.ResetsWindow) >= cfg.MaxResetsPer30Min {
		st.PausedUntil = now.Add(cfg.PauseAfterLimit()).Unix()
		st.Status = model.StatusPaused
		st.LastAction = model.ActionPausedRateLimit
		o.Events.AddEvent(model.EventWarn, "paused due to reset rate limit", &id)
		return
	}

	// Step 3: remote DOWN.
	if _, err := o.Agent.Call(ctx, "/v1/iface/down", st.IfaceRemote, true); err != nil {
		st.Status = model.StatusError
		st.LastAction = model.ActionRemoteDownFailed
		st.LastError = err.Error()
		o.Events.AddEvent(model.EventError, "remote down failed: "+err.Error(), &id)
		return
	}

	// Step 4: local DOWN, with best-effort remote-up rollback on failure.
	if _, err := o.Link(ctx, st.IfaceLocal, false); err != nil {
		st.Status = model.StatusError
		st.LastAction = model.ActionLocalDownFailed
		st.LastError = err.Error()
		o.Events.AddEvent(model.EventError, "local down failed: "+err.Error(), &id)
		_, _ = o.Agent.Call(ctx, "/v1/iface/up", st.IfaceRemote, false)
		return
	}

	// Step 5: hold.
	if !sleepCtx(ctx, cfg.DownHold()) {
		return
	}

	// Step 6: local UP.
	if _, err := o.Link(ctx, st.IfaceLocal, true); err != nil {
		st.Status = model.StatusError
		st.LastAction = model.ActionLocalUpFailed
		st.LastError = err.Error()
		o.Events.AddEvent(model.EventError, "local up failed: "+err.Error(), &id)
		return
	}

	// Step 7: gap.
	if !sleepCtx(ctx, cfg.UpGap()) {
		return
	}

	// Step 8: remote UP.
	if _, err := o.Agent.Call(ctx, "/v1/iface/up", st.IfaceRemote, true); err != nil {
		st.Status = model.StatusError
		st.LastAction = model.ActionRemoteUpFailed
		st.LastError = err.Error()
		o.Events.AddEvent(model.EventError, "remote up failed: "+err.Error(), &id)
		return
	}

	// Step 9: success.
	finish := o.Now()
	st.ResetsWindow = append(st.ResetsWindow, finish.Unix())
	st.BadRounds = 0
	st.Status = model.StatusOK
	st.LastAction = model.ActionResetDone
	st.LastError = ""
	st.LastResetFinishedAt = finish.Unix()
	o.Events.AddEvent(model.EventAction, "reset done", &id)
}

// pruneWindow drops timestamps older than model.MaxResetsWindowAge.
func pruneWindow(window []int64, now time.Time) []int64 {
	cutoff := now.Add(-model.MaxResetsWindowAge).Unix()
	kept := window[:0:0]
	for _, t := range window {
		if t >= cutoff {
			kept = append(kept, t)
		}
	}
	return kept
}

// sleepCtx sleeps for d or returns false early if ctx is cancelled first.
// A reset in progress is not cancellable per §5, but shutdown is still
// observed at sleep boundaries so the process can exit promptly; the
// tunnel is left mid-sequence (as it would be on any process kill) rather
// than forced into an artificial terminal status.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	klog.V(2).InfoS("reset hold/gap sleep", "duration", d)
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
