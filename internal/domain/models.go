package domain

import "time"

// Host represents a physical machine known to the orchestrator
type Host struct {
	ID             int64     // Unique identifier
	MAC            string    // Hardware address, normalized lowercase (primary identity)
	Name           string    // Friendly name (optional)
	Address        string    // Assigned management address (empty until allocated)
	ProfileName    string    // BootProfile assigned to this host (empty means default)
	State          HostState // Current lifecycle state
	FailureCount   int       // Number of failed install cycles
	FailureReason  string    // Reason for the most recent failure (empty if none)
	LastSeenAt     time.Time // Last time the host was observed on the network
	StateChangedAt time.Time // When the host entered its current state
	CreatedAt      time.Time // When the host was first registered
	UpdatedAt      time.Time // When the host record last changed
}

// AddressLease represents the binding of one management address to one host
// for a validity window. Owned by the allocator; hosts reference the address
// but never the lease itself.
type AddressLease struct {
	ID         int64     // Unique identifier
	MAC        string    // Hardware address of the leased host
	Address    string    // The leased management address
	StartsAt   time.Time // Lease start
	ExpiresAt  time.Time // Lease expiry
	RenewCount int       // Number of renewals
}

// Active reports whether the lease is still within its validity window.
func (l AddressLease) Active(now time.Time) bool {
	return now.Before(l.ExpiresAt)
}

// BootProfile is a named, versioned set of install parameters. A profile is
// immutable once referenced by an install; edits create a new version.
type BootProfile struct {
	ID              int64     // Unique identifier
	Name            string    // Profile name (e.g. "debian-12-default")
	Version         int       // Version, bumped on every edit
	TargetOS        string    // OS identifier passed to the installer
	PartitionPolicy string    // Partitioning policy name
	InstallSource   string    // Install source location (URL with a literal IP host)
	KernelArgs      string    // Extra kernel command line arguments (optional)
	CreatedAt       time.Time // When this version was created
}

// InstallAttempt is one record per install cycle for a host. Append-only;
// used for retry accounting and audit.
type InstallAttempt struct {
	ID          int64     // Unique identifier
	AttemptID   string    // Stable external identifier for event deduplication
	MAC         string    // Hardware address of the host
	StartedAt   time.Time // When the attempt opened
	EndedAt     time.Time // When the attempt closed (zero while pending)
	Outcome     Outcome   // pending, success or failed
	ErrorDetail string    // Failure detail (empty unless failed)
}

// Outcome is the result of an install attempt.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// RoutePolicy describes the NAT/forwarding relationship between the
// management subnet and one uplink interface. Singleton per gateway.
type RoutePolicy struct {
	SubnetCIDR string // Management subnet in CIDR notation
	Uplink     string // Uplink interface name
	Enabled    bool   // Whether forwarding/NAT is active
}

// AuditEntry records one host state change.
type AuditEntry struct {
	ID        int64     // Unique identifier
	MAC       string    // Hardware address of the host
	OldState  HostState // State before the change
	NewState  HostState // State after the change
	Reason    string    // Why the change happened (empty for normal progression)
	CreatedAt time.Time // When the change happened
}
