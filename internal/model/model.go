// Package model defines the tunnel descriptor, persisted tunnel state, and
// event types shared across the coordinator and agent.
package model

import "time"

// Status is the lifecycle state of a single tunnel.
type Status string

// Tunnel statuses, per the dual-side health classification table.
const (
	StatusInit                Status = "INIT"
	StatusOK                  Status = "OK"
	StatusFilteredOrDown      Status = "FILTERED_OR_DOWN"
	StatusPublicOKGREBad      Status = "PUBLIC_OK_GRE_BAD"
	StatusWeirdPublicBadGREOK Status = "WEIRD_PUBLIC_BAD_GRE_OK"
	StatusResetting           Status = "RESETTING"
	StatusError               Status = "ERROR"
	StatusPaused              Status = "PAUSED"
	StatusPausedManual        Status = "PAUSED_MANUAL"
)

// ActionTag identifies the most recent action taken (or attempted) for a
// tunnel, surfaced to operators via last_action.
type ActionTag string

const (
	ActionNone             ActionTag = "-"
	ActionResetStart       ActionTag = "reset_start"
	ActionResetDone        ActionTag = "reset_done"
	ActionPausedRateLimit  ActionTag = "paused_due_to_rate_limit"
	ActionRemoteDownFailed ActionTag = "remote_down_failed"
	ActionLocalDownFailed  ActionTag = "local_down_failed"
	ActionLocalUpFailed    ActionTag = "local_up_failed"
	ActionRemoteUpFailed   ActionTag = "remote_up_failed"
)

// BadRound returns the ActionTag for a confirmation round, matching the
// Python source's f"bad_round_{n}" label.
func BadRound(n int) ActionTag {
	return ActionTag("bad_round_" + itoa(n))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Descriptor is an ephemeral, discovered tunnel endpoint pair. Two
// descriptors are the same entity iff their IDs match.
type Descriptor struct {
	ID            int    `json:"id"`
	IfaceLocal    string `json:"iface_local"`
	IfaceRemote   string `json:"iface_remote"`
	PeerPublic    string `json:"peer_public"`
	LocalPrivate  string `json:"local_private"`
	PeerPrivate   string `json:"peer_private"`
}

// TunnelState is the persisted, mutable record for one tunnel. Descriptor
// fields are refreshed on every discovery pass; measurement and status
// fields mutate only from the Scheduler or the Reset Orchestrator, never
// concurrently for the same tunnel (enforced by the per-tunnel mutex).
type TunnelState struct {
	Descriptor

	Status        Status    `json:"status"`
	BadRounds     int       `json:"bad_rounds"`
	LastSeen      int64     `json:"last_seen"`
	LastPublicLoss float64  `json:"last_public_loss"`
	LastGRELoss   float64   `json:"last_gre_loss"`
	LastAction    ActionTag `json:"last_action"`
	LastError     string    `json:"last_error"`

	PausedUntil int64   `json:"paused_until"`
	ResetsWindow []int64 `json:"resets_window"`

	LastResetStartedAt  int64 `json:"last_reset_started_at"`
	LastResetFinishedAt int64 `json:"last_reset_finished_at"`
}

// NewTunnelState creates a fresh INIT-status state from a discovered
// descriptor, as happens the first time a tunnel ID is observed.
func NewTunnelState(d Descriptor) *TunnelState {
	return &TunnelState{
		Descriptor:     d,
		Status:         StatusInit,
		LastAction:     ActionNone,
		LastPublicLoss: 100.0,
		LastGRELoss:    100.0,
	}
}

// RefreshDescriptor updates the discovered-field portion of the state in
// place, leaving measurement/status fields untouched.
func (s *TunnelState) RefreshDescriptor(d Descriptor) {
	s.Descriptor = d
}

// EventKind classifies an Event.
type EventKind string

const (
	EventInfo   EventKind = "info"
	EventWarn   EventKind = "warn"
	EventError  EventKind = "error"
	EventAction EventKind = "action"
)

// Event is one entry in the bounded event ring.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	Kind      EventKind         `json:"kind"`
	Message   string            `json:"message"`
	TunnelID  *int              `json:"tunnel_id,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// MaxEvents bounds the event ring, per §3.
const MaxEvents = 2000

// MaxResetsWindowAge is the width of the sliding reset-rate-limit window.
const MaxResetsWindowAge = 30 * time.Minute
