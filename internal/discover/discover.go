// Package discover yields the current list of tunnel descriptors by parsing
// `ip -d addr show`. Tunnel discovery is an explicit Non-goal of this spec
// (it "just yields a list of tunnel descriptors"); this package exists so
// the Scheduler has a concrete discover() to call, and mirrors
// original_source/gre_watchdog/coordinator/gre_discover.py.
package discover

import (
	"bytes"
	"context"
	"fmt"
	"net/netip"
	"os/exec"
	"regexp"
	"strconv"

	"github.com/Kup1ng/gre-watchdog/internal/model"
)

var (
	ifaceLineRe = regexp.MustCompile(`(?m)^\d+:\s+([^\s:]+)@`)
	peerLineRe  = regexp.MustCompile(`link/gre\s+(\S+)\s+peer\s+(\S+)`)
	inetLineRe  = regexp.MustCompile(`\s+inet\s+(\d+\.\d+\.\d+\.\d+)/(\d+)`)
)

// Discover runs `ip -d addr show` and returns one Descriptor per interface
// whose name matches ifaceRegex, with its numeric capture group used as the
// tunnel ID.
func Discover(ctx context.Context, ifaceRegex string) ([]model.Descriptor, error) {
	out, err := exec.CommandContext(ctx, "ip", "-d", "addr", "show").CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("ip -d addr show: %w", err)
	}

	idRe, err := regexp.Compile(ifaceRegex)
	if err != nil {
		return nil, fmt.Errorf("invalid iface regex %q: %w", ifaceRegex, err)
	}

	// Each interface block starts with an unindented "N: name..." line;
	// its detail lines are indented.
	var blocks [][]byte
	for _, line := range bytes.SplitAfter(out, []byte("\n")) {
		if len(blocks) == 0 || (len(line) > 0 && line[0] != ' ' && line[0] != '\t') {
			blocks = append(blocks, nil)
		}
		blocks[len(blocks)-1] = append(blocks[len(blocks)-1], line...)
	}

	var descriptors []model.Descriptor
	for _, block := range blocks {
		ifaceMatch := ifaceLineRe.FindSubmatch(block)
		if ifaceMatch == nil {
			continue
		}
		ifaceLocal := string(ifaceMatch[1])

		idMatch := idRe.FindStringSubmatch(ifaceLocal)
		if idMatch == nil || len(idMatch) < 2 {
			continue
		}
		id, err := strconv.Atoi(idMatch[1])
		if err != nil {
			continue
		}

		peerMatch := peerLineRe.FindSubmatch(block)
		inetMatch := inetLineRe.FindSubmatch(block)
		if peerMatch == nil || inetMatch == nil {
			continue
		}

		peerPublic := string(peerMatch[2])
		localPrivate := string(inetMatch[1])
		mask, err := strconv.Atoi(string(inetMatch[2]))
		if err != nil {
			continue
		}

		peerPrivate, err := otherHostInPrefix(localPrivate, mask)
		if err != nil {
			continue
		}

		descriptors = append(descriptors, model.Descriptor{
			ID:           id,
			IfaceLocal:   ifaceLocal,
			IfaceRemote:  fmt.Sprintf("gre-kh-%d", id),
			PeerPublic:   peerPublic,
			LocalPrivate: localPrivate,
			PeerPrivate:  peerPrivate,
		})
	}
	return descriptors, nil
}

// otherHostInPrefix returns the other usable host address in the prefix
// containing ip/mask, matching gre_discover.py's other_host_in_30 for the
// common /30 point-to-point case and returning the first usable host that
// differs from ip for masks /24 through /29. Masks shorter than /24, and
// /31 and /32 (which have no other usable host), return an error.
func otherHostInPrefix(ip string, mask int) (string, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "", fmt.Errorf("invalid address %q: %w", ip, err)
	}
	prefix := netip.PrefixFrom(addr, mask).Masked()

	base := prefix.Addr()
	hostBits := addr.BitLen() - mask
	if hostBits <= 0 || hostBits > 8 {
		return "", fmt.Errorf("unsupported mask /%d for %s", mask, ip)
	}
	numHosts := 1 << hostBits

	for i := 1; i < numHosts-1; i++ {
		candidate := addOffset(base, i)
		if candidate != addr {
			return candidate.String(), nil
		}
	}
	return "", fmt.Errorf("no other host found in %s", prefix)
}

// addOffset adds a small non-negative offset to an IPv4 address.
func addOffset(base netip.Addr, offset int) netip.Addr {
	b := base.As4()
	v := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	v += uint32(offset)
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}
