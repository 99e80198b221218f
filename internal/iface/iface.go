// Package iface resolves a configured interface name or glob pattern into
// a concrete, ordered set of live interfaces, so the Coordinator can spread
// workers across more than one NIC without a separate process per
// interface.
package iface

import (
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"github.com/vishvananda/netlink"
)

// Target is one resolved capture interface.
type Target struct {
	Name  string
	Index int
}

// LinkSource abstracts the two netlink calls Resolve needs, so it can be
// driven against a fake interface set in tests without any real NICs or
// elevated privileges, the same way SocketStatter lets internal/stats test
// the Aggregator without a real socket.
type LinkSource interface {
	LinkByName(name string) (netlink.Link, error)
	LinkList() ([]netlink.Link, error)
}

// netlinkSource is the production LinkSource, backed directly by
// vishvananda/netlink.
type netlinkSource struct{}

func (netlinkSource) LinkByName(name string) (netlink.Link, error) { return netlink.LinkByName(name) }
func (netlinkSource) LinkList() ([]netlink.Link, error)            { return netlink.LinkList() }

// isGlobPattern reports whether token contains a glob metacharacter.
// Plain interface names (the overwhelmingly common case) never contain
// these, so this is a cheap, conservative check.
func isGlobPattern(token string) bool {
	return strings.ContainsAny(token, "*?[]{}!")
}

// Resolve expands token into an ordered, deduplicated list of live
// interfaces. A literal name is resolved directly and must exist. A glob
// pattern is matched against every link reported by netlink, restricted to
// links that are administratively up, sorted by name for determinism.
// Matching zero interfaces is always an error: a capture engine with no
// interface to bind is a startup misconfiguration, not a valid empty set.
func Resolve(token string) ([]Target, error) {
	return ResolveFrom(netlinkSource{}, token)
}

// ResolveFrom is Resolve with an injectable LinkSource; tests call this
// directly against a fake to exercise glob matching, the zero-match error,
// and the unknown-literal error without real interfaces.
func ResolveFrom(src LinkSource, token string) ([]Target, error) {
	if !isGlobPattern(token) {
		link, err := src.LinkByName(token)
		if err != nil {
			return nil, fmt.Errorf("iface: interface %q not found: %w", token, err)
		}
		return []Target{{Name: token, Index: link.Attrs().Index}}, nil
	}

	pattern, err := glob.Compile(token)
	if err != nil {
		return nil, fmt.Errorf("iface: invalid interface pattern %q: %w", token, err)
	}

	links, err := src.LinkList()
	if err != nil {
		return nil, fmt.Errorf("iface: failed to list interfaces: %w", err)
	}

	var matches []Target
	for _, link := range links {
		attrs := link.Attrs()
		if attrs.Flags&net.FlagUp == 0 {
			continue
		}
		if pattern.Match(attrs.Name) {
			matches = append(matches, Target{Name: attrs.Name, Index: attrs.Index})
		}
	}

	if len(matches) == 0 {
		return nil, fmt.Errorf("iface: pattern %q matched no live interfaces", token)
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Name < matches[j].Name })

	return matches, nil
}

// Assign returns the interface a given worker index should bind to,
// spreading workers round-robin across the resolved set. With a single
// resolved interface (the common case) every worker gets the same target,
// which is the original one-interface-all-workers topology.
func Assign(targets []Target, workerIdx int) Target {
	return targets[workerIdx%len(targets)]
}
