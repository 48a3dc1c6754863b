// Package inventory resolves live deployment hosts from external sources and
// groups them by tags, the way a dynamic inventory plugin would.
package inventory

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Host is one resolved deployment target.
type Host struct {
	// Name is the host's display name (the Name tag, or the instance id).
	Name string `json:"name"`
	// Address is the composed connection address.
	Address string `json:"address"`
	// Tags holds the provider tags attached to the host.
	Tags map[string]string `json:"tags,omitempty"`
}

// Inventory is a grouped host list. A host with tag key=value joins group
// tag_<key>_<value>; every host also joins the "all" group.
type Inventory struct {
	Hosts  []Host            `json:"hosts"`
	Groups map[string][]Host `json:"groups"`
}

// Source resolves hosts from an external system.
type Source interface {
	// Resolve queries the source and returns the matching hosts.
	Resolve(ctx context.Context) ([]Host, error)
}

// Build groups the given hosts by their tags.
func Build(hosts []Host) *Inventory {
	inv := &Inventory{Hosts: hosts, Groups: make(map[string][]Host)}
	for _, h := range hosts {
		inv.Groups["all"] = append(inv.Groups["all"], h)
		for key, value := range h.Tags {
			group := GroupName(key, value)
			inv.Groups[group] = append(inv.Groups[group], h)
		}
	}
	return inv
}

// GroupName derives the deterministic group name for a tag pair:
// tag_<key>_<value> with non-word characters mapped to underscores.
func GroupName(key, value string) string {
	return "tag_" + sanitize(key) + "_" + sanitize(value)
}

// GroupNames returns the group names in sorted order.
func (inv *Inventory) GroupNames() []string {
	names := make([]string, 0, len(inv.Groups))
	for name := range inv.Groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Group returns the hosts in the named group. Unknown groups produce an error
// naming the closest known group so tag/group-var typos surface early.
func (inv *Inventory) Group(name string) ([]Host, error) {
	if hosts, ok := inv.Groups[name]; ok {
		return hosts, nil
	}
	if nearest := inv.nearestGroup(name); nearest != "" {
		return nil, fmt.Errorf("unknown inventory group %q (did you mean %q?)", name, nearest)
	}
	return nil, fmt.Errorf("unknown inventory group %q", name)
}

// Render emits the inventory as an Ansible-compatible INI document.
func (inv *Inventory) Render() string {
	var b strings.Builder
	for _, group := range inv.GroupNames() {
		fmt.Fprintf(&b, "[%s]\n", group)
		for _, h := range inv.Groups[group] {
			fmt.Fprintf(&b, "%s ansible_host=%s\n", h.Name, h.Address)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (inv *Inventory) nearestGroup(name string) string {
	best := ""
	bestScore := 0
	for candidate := range inv.Groups {
		score := commonPrefixLen(candidate, name)
		if score > bestScore {
			best, bestScore = candidate, score
		}
	}
	// A bare "tag_" prefix match is not a useful suggestion.
	if bestScore <= len("tag_") {
		return ""
	}
	return best
}

func commonPrefixLen(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
