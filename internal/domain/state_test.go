package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return parsed
}

func TestCanTransition(t *testing.T) {
	// Forward path
	assert.True(t, CanTransition(StateDiscovered, StateAddressed))
	assert.True(t, CanTransition(StateAddressed, StateBootConfigured))
	assert.True(t, CanTransition(StateBootConfigured, StateInstalling))
	assert.True(t, CanTransition(StateInstalling, StateInstalled))

	// Any non-terminal state may fail
	assert.True(t, CanTransition(StateDiscovered, StateFailed))
	assert.True(t, CanTransition(StateAddressed, StateFailed))
	assert.True(t, CanTransition(StateBootConfigured, StateFailed))
	assert.True(t, CanTransition(StateInstalling, StateFailed))

	// Retry re-enters at addressed
	assert.True(t, CanTransition(StateFailed, StateAddressed))
}

func TestCanTransition_NoSkipping(t *testing.T) {
	assert.False(t, CanTransition(StateDiscovered, StateBootConfigured))
	assert.False(t, CanTransition(StateDiscovered, StateInstalling))
	assert.False(t, CanTransition(StateDiscovered, StateInstalled))
	assert.False(t, CanTransition(StateAddressed, StateInstalling))
	assert.False(t, CanTransition(StateAddressed, StateInstalled))
	assert.False(t, CanTransition(StateBootConfigured, StateInstalled))
}

func TestCanTransition_NoBacktracking(t *testing.T) {
	assert.False(t, CanTransition(StateAddressed, StateDiscovered))
	assert.False(t, CanTransition(StateInstalling, StateBootConfigured))
	assert.False(t, CanTransition(StateInstalled, StateInstalling))
	assert.False(t, CanTransition(StateInstalled, StateFailed))
	assert.False(t, CanTransition(StateFailed, StateDiscovered))
	assert.False(t, CanTransition(StateFailed, StateBootConfigured))
}

func TestTerminal(t *testing.T) {
	assert.True(t, Terminal(StateInstalled))
	assert.True(t, Terminal(StateFailed))
	assert.False(t, Terminal(StateDiscovered))
	assert.False(t, Terminal(StateAddressed))
	assert.False(t, Terminal(StateBootConfigured))
	assert.False(t, Terminal(StateInstalling))
}

func TestValidState(t *testing.T) {
	assert.True(t, ValidState(StateDiscovered))
	assert.True(t, ValidState(StateInstalled))
	assert.False(t, ValidState("provisioning"))
	assert.False(t, ValidState(""))
}

func TestValidEventType(t *testing.T) {
	assert.True(t, ValidEventType(EventStarted))
	assert.True(t, ValidEventType(EventSucceeded))
	assert.True(t, ValidEventType(EventFailed))
	assert.False(t, ValidEventType("rebooted"))
	assert.False(t, ValidEventType(""))
}

func TestNormalizeMAC(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"AA:BB:CC:DD:EE:FF", "aa:bb:cc:dd:ee:ff"},
		{"aa-bb-cc-dd-ee-ff", "aa:bb:cc:dd:ee:ff"},
		{"  aa:bb:cc:dd:ee:ff  ", "aa:bb:cc:dd:ee:ff"},
		{"aabb.ccdd.eeff", "aa:bb:cc:dd:ee:ff"},
	}

	for _, tt := range tests {
		got, err := NormalizeMAC(tt.input)
		require.NoError(t, err, "input %q", tt.input)
		assert.Equal(t, tt.want, got)
	}
}

func TestNormalizeMAC_Invalid(t *testing.T) {
	for _, input := range []string{"", "not-a-mac", "aa:bb:cc:dd:ee", "zz:bb:cc:dd:ee:ff"} {
		_, err := NormalizeMAC(input)
		assert.Error(t, err, "input %q", input)
	}
}

func TestAddressLease_Active(t *testing.T) {
	now := mustParse(t, "2026-01-02T15:00:00Z")

	lease := AddressLease{ExpiresAt: mustParse(t, "2026-01-02T16:00:00Z")}
	assert.True(t, lease.Active(now))

	lease.ExpiresAt = mustParse(t, "2026-01-02T14:00:00Z")
	assert.False(t, lease.Active(now))

	// Expiry instant itself is no longer active
	lease.ExpiresAt = now
	assert.False(t, lease.Active(now))
}
