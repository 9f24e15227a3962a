// Package gateway manages the forwarding/NAT data path between the
// management subnet and the uplink interface. The management subnet reaches
// the internet through the uplink; nothing on the uplink side can open a
// connection inward.
package gateway

import (
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/jbweber/homelab/forge/internal/domain"
)

// ErrApply is returned when a policy cannot be applied. The previously
// working rules stay in place.
var ErrApply = errors.New("failed to apply route policy")

// Firewall is the slice of iptables operations the gateway uses. The real
// implementation is github.com/coreos/go-iptables; tests substitute a fake.
type Firewall interface {
	AppendUnique(table, chain string, rulespec ...string) error
	Exists(table, chain string, rulespec ...string) (bool, error)
	Delete(table, chain string, rulespec ...string) error
}

// InterfaceLookup resolves an interface name. Defaults to
// net.InterfaceByName; tests substitute their own.
type InterfaceLookup func(name string) (*net.Interface, error)

// Status is a consistent snapshot of the gateway's state.
type Status struct {
	Enabled       bool      `json:"enabled"`
	RuleCount     int       `json:"rule_count"`
	LastAppliedAt time.Time `json:"last_applied_at"`
	LastError     string    `json:"last_error,omitempty"`
}

// rule is one iptables rule the gateway owns.
type rule struct {
	table string
	chain string
	spec  []string
}

func (r rule) equal(other rule) bool {
	if r.table != other.table || r.chain != other.chain || len(r.spec) != len(other.spec) {
		return false
	}
	for i := range r.spec {
		if r.spec[i] != other.spec[i] {
			return false
		}
	}
	return true
}

// Gateway applies RoutePolicy to the data path. Single writer: one Apply in
// flight at a time, Status readers see a consistent snapshot.
type Gateway struct {
	fw     Firewall
	lookup InterfaceLookup

	mu      sync.Mutex
	current []rule
	policy  domain.RoutePolicy
	applied time.Time
	lastErr string
}

// New creates a gateway over the given firewall. lookup may be nil, in
// which case net.InterfaceByName is used.
func New(fw Firewall, lookup InterfaceLookup) *Gateway {
	if lookup == nil {
		lookup = net.InterfaceByName
	}
	return &Gateway{
		fw:     fw,
		lookup: lookup,
	}
}

// Apply validates the policy, installs its rules, then removes rules of the
// previous policy that the new one no longer wants. Validate-then-swap:
// until the new rule set is fully in place the old one keeps working, and a
// failure never leaves the data path half-configured. Re-applying an
// identical policy is a no-op at the data-path level because every install
// goes through AppendUnique.
func (g *Gateway) Apply(policy domain.RoutePolicy) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	desired, err := g.validate(policy)
	if err != nil {
		g.lastErr = err.Error()
		return err
	}

	// Install new rules first. Order matters inside the slice: the
	// established/related return-traffic accept must be active before the
	// forward accept, otherwise admitted connections hang silently.
	var installed []rule
	for _, r := range desired {
		if err := g.fw.AppendUnique(r.table, r.chain, r.spec...); err != nil {
			g.rollback(installed)
			g.lastErr = fmt.Sprintf("installing %s/%s rule: %v", r.table, r.chain, err)
			return fmt.Errorf("%w: installing %s/%s rule: %v", ErrApply, r.table, r.chain, err)
		}
		installed = append(installed, r)
	}

	// New rules are live; retire the old ones the new policy doesn't carry.
	for _, old := range g.current {
		if containsRule(desired, old) {
			continue
		}
		if err := g.fw.Delete(old.table, old.chain, old.spec...); err != nil {
			// The new policy is fully in force; a stale leftover rule is
			// logged and retried on the next Apply.
			log.Printf("failed to remove stale %s/%s rule: %v", old.table, old.chain, err)
		}
	}

	g.current = desired
	g.policy = policy
	g.applied = time.Now()
	g.lastErr = ""
	log.Printf("route policy applied: subnet=%s uplink=%s enabled=%t rules=%d",
		policy.SubnetCIDR, policy.Uplink, policy.Enabled, len(desired))
	return nil
}

// validate checks the policy and returns the rule set it implies. A
// disabled policy implies no rules.
func (g *Gateway) validate(policy domain.RoutePolicy) ([]rule, error) {
	if !policy.Enabled {
		return nil, nil
	}

	_, subnet, err := net.ParseCIDR(policy.SubnetCIDR)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid subnet %q: %v", ErrApply, policy.SubnetCIDR, err)
	}
	if policy.Uplink == "" {
		return nil, fmt.Errorf("%w: uplink interface not set", ErrApply)
	}
	if _, err := g.lookup(policy.Uplink); err != nil {
		return nil, fmt.Errorf("%w: uplink interface %q unavailable: %v", ErrApply, policy.Uplink, err)
	}

	cidrStr := subnet.String()
	return []rule{
		// Return traffic for connections the subnet opened. Must precede
		// the forward accept.
		{table: "filter", chain: "FORWARD", spec: []string{
			"-d", cidrStr, "-i", policy.Uplink,
			"-m", "conntrack", "--ctstate", "RELATED,ESTABLISHED",
			"-j", "ACCEPT",
		}},
		// Outbound traffic from the subnet to the uplink.
		{table: "filter", chain: "FORWARD", spec: []string{
			"-s", cidrStr, "-o", policy.Uplink,
			"-j", "ACCEPT",
		}},
		// Source NAT behind the uplink address.
		{table: "nat", chain: "POSTROUTING", spec: []string{
			"-s", cidrStr, "-o", policy.Uplink,
			"-j", "MASQUERADE",
		}},
	}, nil
}

func (g *Gateway) rollback(installed []rule) {
	// Remove only rules this attempt added that the previous policy did not
	// already own, so a failed Apply leaves the prior data path intact.
	for i := len(installed) - 1; i >= 0; i-- {
		r := installed[i]
		if containsRule(g.current, r) {
			continue
		}
		if err := g.fw.Delete(r.table, r.chain, r.spec...); err != nil {
			log.Printf("rollback: failed to remove %s/%s rule: %v", r.table, r.chain, err)
		}
	}
}

// Status returns a snapshot of the gateway state.
func (g *Gateway) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	return Status{
		Enabled:       g.policy.Enabled && len(g.current) > 0,
		RuleCount:     len(g.current),
		LastAppliedAt: g.applied,
		LastError:     g.lastErr,
	}
}

// Policy returns the currently applied policy.
func (g *Gateway) Policy() domain.RoutePolicy {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.policy
}

func containsRule(rules []rule, candidate rule) bool {
	for _, r := range rules {
		if r.equal(candidate) {
			return true
		}
	}
	return false
}
