// Package integration exercises the Coordinator and Agent RPC protocol
// end to end: a real signed HTTP round trip against a real
// internal/agentserver.Handler, driven through internal/agentclient.Client,
// with only the local `ip link` call faked out.
package integration

import (
	"context"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/Kup1ng/gre-watchdog/internal/agentclient"
	"github.com/Kup1ng/gre-watchdog/internal/agentserver"
	"github.com/Kup1ng/gre-watchdog/internal/model"
	"github.com/Kup1ng/gre-watchdog/internal/reset"
)

const testSharedSecret = "integration-shared-secret"

// Framework wires a live Agent RPC Server, a Client pointed at it, and a
// Reset Orchestrator whose local-link side is faked, so a full reset
// sequence can run against a real network round trip without touching the
// host's actual network interfaces.
type Framework struct {
	AgentServer *httptest.Server
	Client      *agentclient.Client
	Orchestrator *reset.Orchestrator
	Events      *recordingSink

	mu        sync.Mutex
	linkCalls []string
	linkErr   error
}

// NewFramework starts an in-process Agent RPC Server and a Client
// configured to talk to it.
func NewFramework() *Framework {
	srv := agentserver.New(agentserver.Config{
		SharedSecret:   testSharedSecret,
		AllowCIDRs:     []string{"127.0.0.1/32", "::1/128"},
		MaxClockSkew:   30 * time.Second,
		IdempotencyTTL: time.Minute,
	})
	httpSrv := httptest.NewServer(srv.Handler())

	client := agentclient.New(httpSrv.URL, testSharedSecret, 2*time.Second, 3, 5*time.Millisecond, 20*time.Millisecond)

	f := &Framework{
		AgentServer: httpSrv,
		Client:      client,
		Events:      &recordingSink{},
	}
	f.Orchestrator = &reset.Orchestrator{
		Agent:  client,
		Link:   f.fakeLink,
		Events: f.Events,
		Now:    time.Now,
	}
	return f
}

// Close shuts down the underlying Agent RPC Server.
func (f *Framework) Close() {
	f.AgentServer.Close()
}

// FailLocalLink makes every subsequent fakeLink call return err.
func (f *Framework) FailLocalLink(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.linkErr = err
}

// LinkCalls returns the recorded sequence of local link operations.
func (f *Framework) LinkCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.linkCalls))
	copy(out, f.linkCalls)
	return out
}

func (f *Framework) fakeLink(ctx context.Context, name string, up bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dir := "down"
	if up {
		dir = "up"
	}
	f.linkCalls = append(f.linkCalls, name+":"+dir)
	if f.linkErr != nil {
		return "", f.linkErr
	}
	return "", nil
}

// recordingSink is an EventSink that keeps every event in memory for
// assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	Kind    model.EventKind
	Message string
}

func (s *recordingSink) AddEvent(kind model.EventKind, message string, tunnelID *int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, recordedEvent{Kind: kind, Message: message})
}

func (s *recordingSink) Messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.Message
	}
	return out
}
