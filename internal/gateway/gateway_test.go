package gateway

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/homelab/forge/internal/domain"
)

// fakeFirewall records installed rules in order and can be told to fail on
// a specific rule.
type fakeFirewall struct {
	mu      sync.Mutex
	rules   []string
	failOn  string
	deletes []string
}

func ruleKey(table, chain string, rulespec ...string) string {
	return table + "/" + chain + " " + strings.Join(rulespec, " ")
}

func (f *fakeFirewall) AppendUnique(table, chain string, rulespec ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := ruleKey(table, chain, rulespec...)
	if f.failOn != "" && strings.Contains(key, f.failOn) {
		return fmt.Errorf("iptables: simulated failure for %s", key)
	}
	for _, r := range f.rules {
		if r == key {
			return nil
		}
	}
	f.rules = append(f.rules, key)
	return nil
}

func (f *fakeFirewall) Exists(table, chain string, rulespec ...string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := ruleKey(table, chain, rulespec...)
	for _, r := range f.rules {
		if r == key {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeFirewall) Delete(table, chain string, rulespec ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := ruleKey(table, chain, rulespec...)
	f.deletes = append(f.deletes, key)
	for i, r := range f.rules {
		if r == key {
			f.rules = append(f.rules[:i], f.rules[i+1:]...)
			return nil
		}
	}
	return errors.New("iptables: rule not found")
}

func fakeLookup(name string) (*net.Interface, error) {
	if name == "eth0" || name == "wan0" {
		return &net.Interface{Name: name}, nil
	}
	return nil, fmt.Errorf("interface %s not found", name)
}

func testPolicy() domain.RoutePolicy {
	return domain.RoutePolicy{
		SubnetCIDR: "10.10.10.0/24",
		Uplink:     "eth0",
		Enabled:    true,
	}
}

func TestGateway_Apply(t *testing.T) {
	fw := &fakeFirewall{}
	g := New(fw, fakeLookup)

	require.NoError(t, g.Apply(testPolicy()))

	require.Len(t, fw.rules, 3)
	// Return-traffic accept must land before the forward accept
	assert.Contains(t, fw.rules[0], "RELATED,ESTABLISHED")
	assert.Contains(t, fw.rules[1], "-j ACCEPT")
	assert.Contains(t, fw.rules[2], "MASQUERADE")

	status := g.Status()
	assert.True(t, status.Enabled)
	assert.Equal(t, 3, status.RuleCount)
	assert.Empty(t, status.LastError)
	assert.False(t, status.LastAppliedAt.IsZero())
}

func TestGateway_Apply_Idempotent(t *testing.T) {
	fw := &fakeFirewall{}
	g := New(fw, fakeLookup)

	require.NoError(t, g.Apply(testPolicy()))
	require.NoError(t, g.Apply(testPolicy()))

	assert.Len(t, fw.rules, 3)
	assert.Empty(t, fw.deletes)
}

func TestGateway_Apply_Disable(t *testing.T) {
	fw := &fakeFirewall{}
	g := New(fw, fakeLookup)

	require.NoError(t, g.Apply(testPolicy()))

	disabled := testPolicy()
	disabled.Enabled = false
	require.NoError(t, g.Apply(disabled))

	assert.Empty(t, fw.rules)

	status := g.Status()
	assert.False(t, status.Enabled)
	assert.Equal(t, 0, status.RuleCount)
}

func TestGateway_Apply_UplinkSwap(t *testing.T) {
	fw := &fakeFirewall{}
	g := New(fw, fakeLookup)

	require.NoError(t, g.Apply(testPolicy()))

	moved := testPolicy()
	moved.Uplink = "wan0"
	require.NoError(t, g.Apply(moved))

	// Only the new policy's rules remain
	require.Len(t, fw.rules, 3)
	for _, r := range fw.rules {
		assert.Contains(t, r, "wan0")
	}
}

func TestGateway_Apply_ValidationErrors(t *testing.T) {
	g := New(&fakeFirewall{}, fakeLookup)

	bad := testPolicy()
	bad.SubnetCIDR = "bogus"
	assert.ErrorIs(t, g.Apply(bad), ErrApply)

	bad = testPolicy()
	bad.Uplink = ""
	assert.ErrorIs(t, g.Apply(bad), ErrApply)

	bad = testPolicy()
	bad.Uplink = "missing0"
	assert.ErrorIs(t, g.Apply(bad), ErrApply)
}

func TestGateway_Apply_FailurePreservesPreviousPolicy(t *testing.T) {
	fw := &fakeFirewall{}
	g := New(fw, fakeLookup)

	require.NoError(t, g.Apply(testPolicy()))
	before := append([]string(nil), fw.rules...)

	// The swap to wan0 fails installing the MASQUERADE rule
	fw.failOn = "nat/POSTROUTING"

	moved := testPolicy()
	moved.Uplink = "wan0"
	err := g.Apply(moved)
	require.ErrorIs(t, err, ErrApply)

	// The old rules are still in place and the snapshot still reports them
	fw.mu.Lock()
	after := append([]string(nil), fw.rules...)
	fw.mu.Unlock()
	assert.Equal(t, before, after)

	status := g.Status()
	assert.True(t, status.Enabled)
	assert.Equal(t, 3, status.RuleCount)
	assert.NotEmpty(t, status.LastError)
	assert.Equal(t, "eth0", g.Policy().Uplink)
}

func TestGateway_Apply_StatusErrorClearsOnSuccess(t *testing.T) {
	fw := &fakeFirewall{}
	g := New(fw, fakeLookup)

	bad := testPolicy()
	bad.Uplink = "missing0"
	require.Error(t, g.Apply(bad))
	assert.NotEmpty(t, g.Status().LastError)

	require.NoError(t, g.Apply(testPolicy()))
	assert.Empty(t, g.Status().LastError)
}
