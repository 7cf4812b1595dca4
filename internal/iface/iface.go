// Package iface executes local network interface operations on behalf of
// both the Coordinator (its own local endpoint) and the Agent (the remote
// endpoint, behind the RPC server), mirroring
// original_source/gre_watchdog/agent/gre_ops.py and coordinator/actions.py's
// ip_link_set.
package iface

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// SetLink brings interface name up or down via `ip link set dev <name>
// up|down`. On a non-zero exit it returns an error wrapping the command's
// combined output.
func SetLink(ctx context.Context, name string, up bool) (string, error) {
	state := "down"
	if up {
		state = "up"
	}

	cmd := exec.CommandContext(ctx, "ip", "link", "set", "dev", name, state)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("ip link set dev %s %s: %w: %s", name, state, err, strings.TrimSpace(out.String()))
	}
	return strings.TrimSpace(out.String()), nil
}

// Restart brings the interface down and then back up, matching
// iface_restart's down-then-up sequencing. If the down step fails, up is
// not attempted.
func Restart(ctx context.Context, name string) (string, error) {
	if _, err := SetLink(ctx, name, false); err != nil {
		return "", err
	}
	return SetLink(ctx, name, true)
}
