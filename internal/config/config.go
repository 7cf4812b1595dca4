// Package config holds the configuration keys consumed by the core
// (§6.4). Configuration file parsing is out of scope per spec.md; both
// binaries populate these structs from command-line flags.
package config

import "time"

// Coordinator holds the configuration consumed by the Scheduler, Classifier,
// Reset Orchestrator, and Agent RPC Client.
type Coordinator struct {
	// Discovery / probing.
	IfaceRegex      string
	LossOKPercent   float64
	PingCount       int
	PingTimeoutSec  int
	CheckIntervalSec int

	// Classification.
	ConfirmBadRounds int

	// Reset sequencing.
	DownHoldSec      int
	UpGapSec         int
	MaxResetsPer30Min int
	PauseAfterLimitMin int

	// Agent RPC client.
	AgentBaseURL     string
	SharedSecret     string
	RPCTimeoutSec    int
	RPCMaxAttempts   int
	RPCBaseBackoffMs int
	RPCMaxBackoffMs  int

	// State persistence.
	StatePath string
}

// CheckInterval returns CheckIntervalSec as a time.Duration.
func (c *Coordinator) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSec) * time.Second
}

// DownHold returns DownHoldSec as a time.Duration.
func (c *Coordinator) DownHold() time.Duration {
	return time.Duration(c.DownHoldSec) * time.Second
}

// UpGap returns UpGapSec as a time.Duration.
func (c *Coordinator) UpGap() time.Duration {
	return time.Duration(c.UpGapSec) * time.Second
}

// RPCTimeout returns RPCTimeoutSec as a time.Duration.
func (c *Coordinator) RPCTimeout() time.Duration {
	return time.Duration(c.RPCTimeoutSec) * time.Second
}

// PauseAfterLimit returns PauseAfterLimitMin as a time.Duration.
func (c *Coordinator) PauseAfterLimit() time.Duration {
	return time.Duration(c.PauseAfterLimitMin) * time.Minute
}

// DefaultCoordinator returns the defaults used when a flag isn't overridden,
// chosen to match the values implied by original_source's example configs.
func DefaultCoordinator() Coordinator {
	return Coordinator{
		IfaceRegex:         `gre-kh-(\d+)`,
		LossOKPercent:      70.0,
		PingCount:          5,
		PingTimeoutSec:     2,
		CheckIntervalSec:   30,
		ConfirmBadRounds:   3,
		DownHoldSec:        300,
		UpGapSec:           5,
		MaxResetsPer30Min:  3,
		PauseAfterLimitMin: 60,
		AgentBaseURL:       "http://127.0.0.1:8088",
		RPCTimeoutSec:      10,
		RPCMaxAttempts:     4,
		RPCBaseBackoffMs:   500,
		RPCMaxBackoffMs:    10000,
		StatePath:          "/var/lib/gre-watchdog/state.json",
	}
}

// Agent holds the configuration consumed by the Agent RPC Server.
type Agent struct {
	ListenAddress     string
	SharedSecret      string
	AllowCIDRs        []string
	MaxClockSkewSec   int
	IdempotencyTTLSec int
}

// IdempotencyTTL returns IdempotencyTTLSec as a time.Duration.
func (a *Agent) IdempotencyTTL() time.Duration {
	return time.Duration(a.IdempotencyTTLSec) * time.Second
}

// DefaultAgent returns the defaults used when a flag isn't overridden.
func DefaultAgent() Agent {
	return Agent{
		ListenAddress:     ":8088",
		AllowCIDRs:        []string{"0.0.0.0/0"},
		MaxClockSkewSec:   30,
		IdempotencyTTLSec: 120,
	}
}
