package domain

import (
	"net"
	"strings"
)

// HostState is the lifecycle state of a host in the install pipeline.
type HostState string

const (
	StateDiscovered     HostState = "discovered"
	StateAddressed      HostState = "addressed"
	StateBootConfigured HostState = "boot_configured"
	StateInstalling     HostState = "installing"
	StateInstalled      HostState = "installed"
	StateFailed         HostState = "failed"
)

// validTransitions is the install pipeline as data. Every state change in the
// system goes through CanTransition; there is no other path.
var validTransitions = map[HostState][]HostState{
	StateDiscovered:     {StateAddressed, StateFailed},
	StateAddressed:      {StateBootConfigured, StateFailed},
	StateBootConfigured: {StateInstalling, StateFailed},
	StateInstalling:     {StateInstalled, StateFailed},
	StateInstalled:      {},
	StateFailed:         {StateAddressed},
}

// ValidState reports whether s is a known host state.
func ValidState(s HostState) bool {
	_, ok := validTransitions[s]
	return ok
}

// CanTransition reports whether a host may move from one state to another.
// Skipping intermediate states is never allowed.
func CanTransition(from, to HostState) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a state ends the pipeline. A failed host can only
// leave via an explicit retry, so failed counts as terminal for timeouts and
// event handling.
func Terminal(s HostState) bool {
	return s == StateInstalled || s == StateFailed
}

// EventType identifies an installer-reported event.
type EventType string

const (
	EventStarted   EventType = "started"
	EventSucceeded EventType = "succeeded"
	EventFailed    EventType = "failed"
)

// ValidEventType reports whether t is a known installer event type.
func ValidEventType(t EventType) bool {
	switch t {
	case EventStarted, EventSucceeded, EventFailed:
		return true
	}
	return false
}

// NormalizeMAC canonicalizes a hardware address to lowercase colon-separated
// form. Returns an error for anything net.ParseMAC rejects.
func NormalizeMAC(mac string) (string, error) {
	hw, err := net.ParseMAC(strings.TrimSpace(mac))
	if err != nil {
		return "", err
	}
	return strings.ToLower(hw.String()), nil
}
