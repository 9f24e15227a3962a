// Package registry is the durable catalog of known machines. Registration
// is idempotent by hardware address, and every state change is guarded by
// the transition table in the domain package and appended to the audit log.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jbweber/homelab/forge/internal/domain"
	"github.com/jbweber/homelab/forge/internal/repository"
)

// ErrInvalidTransition is returned when a requested state change violates
// the install state machine.
var ErrInvalidTransition = errors.New("invalid state transition")

// Registry tracks known hosts and serializes writes per host. Reads go
// straight to the repository and may run concurrently.
type Registry struct {
	hosts repository.HostRepository
	audit repository.AuditRepository

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a host registry over the given repositories.
func New(hosts repository.HostRepository, audit repository.AuditRepository) *Registry {
	return &Registry{
		hosts: hosts,
		audit: audit,
		locks: make(map[string]*sync.Mutex),
	}
}

// hostLock returns the mutex serializing writes for one hardware address.
func (r *Registry) hostLock(mac string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.locks[mac]
	if !ok {
		l = &sync.Mutex{}
		r.locks[mac] = l
	}
	return l
}

// Register records a host by hardware address. Idempotent: a known MAC gets
// its existing record back (with last-seen refreshed), an unknown MAC is
// created in state discovered. The name is the hostname the machine
// announced over DHCP; it fills the friendly name only while that is unset,
// so an operator-assigned name is never clobbered by boot traffic.
func (r *Registry) Register(ctx context.Context, mac, name string) (domain.Host, error) {
	normalized, err := domain.NormalizeMAC(mac)
	if err != nil {
		return domain.Host{}, fmt.Errorf("%w: bad hardware address %q: %v", repository.ErrInvalidEntity, mac, err)
	}

	l := r.hostLock(normalized)
	l.Lock()
	defer l.Unlock()

	existing, err := r.hosts.FindByMAC(ctx, normalized)
	if err == nil {
		existing.LastSeenAt = time.Now()
		if existing.Name == "" && name != "" {
			existing.Name = name
		}
		return r.hosts.Save(ctx, existing)
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return domain.Host{}, err
	}

	host := domain.Host{
		MAC:        normalized,
		Name:       name,
		State:      domain.StateDiscovered,
		LastSeenAt: time.Now(),
	}
	created, err := r.hosts.Create(ctx, host)
	if err != nil {
		return domain.Host{}, err
	}

	log.Printf("registered new host %s", normalized)
	return created, nil
}

// Get returns the host with the given hardware address.
func (r *Registry) Get(ctx context.Context, mac string) (domain.Host, error) {
	normalized, err := domain.NormalizeMAC(mac)
	if err != nil {
		return domain.Host{}, fmt.Errorf("%w: bad hardware address %q: %v", repository.ErrInvalidEntity, mac, err)
	}
	return r.hosts.FindByMAC(ctx, normalized)
}

// List returns all hosts, optionally filtered by state. An empty state
// means no filter.
func (r *Registry) List(ctx context.Context, state domain.HostState) ([]domain.Host, error) {
	if state == "" {
		return r.hosts.FindAll(ctx)
	}
	if !domain.ValidState(state) {
		return nil, fmt.Errorf("%w: unknown state %q", repository.ErrInvalidEntity, state)
	}
	return r.hosts.FindByState(ctx, state)
}

// UpdateState moves a host to a new state, applying mutate (may be nil) to
// the record before saving. The change is rejected with ErrInvalidTransition
// unless the transition table allows it, and every accepted change appends
// an audit entry.
func (r *Registry) UpdateState(ctx context.Context, mac string, newState domain.HostState, reason string, mutate func(*domain.Host)) (domain.Host, error) {
	l := r.hostLock(mac)
	l.Lock()
	defer l.Unlock()

	return r.updateStateLocked(ctx, mac, newState, reason, mutate)
}

func (r *Registry) updateStateLocked(ctx context.Context, mac string, newState domain.HostState, reason string, mutate func(*domain.Host)) (domain.Host, error) {
	host, err := r.hosts.FindByMAC(ctx, mac)
	if err != nil {
		return domain.Host{}, err
	}

	if !domain.CanTransition(host.State, newState) {
		return domain.Host{}, fmt.Errorf("%w: %s -> %s for host %s", ErrInvalidTransition, host.State, newState, mac)
	}

	oldState := host.State
	host.State = newState
	// Dwell deadlines run from here; Register saves touch updated_at but
	// never this field.
	host.StateChangedAt = time.Now()
	if mutate != nil {
		mutate(&host)
	}

	saved, err := r.hosts.Save(ctx, host)
	if err != nil {
		return domain.Host{}, err
	}

	if _, err := r.audit.Append(ctx, domain.AuditEntry{
		MAC:      mac,
		OldState: oldState,
		NewState: newState,
		Reason:   reason,
	}); err != nil {
		// The state change already landed; a lost audit row is logged, not
		// surfaced as a pipeline failure.
		log.Printf("failed to append audit entry for %s: %v", mac, err)
	}

	log.Printf("host %s: %s -> %s%s", mac, oldState, newState, reasonSuffix(reason))
	return saved, nil
}

// Fail moves a host to failed from any non-terminal state, recording the
// reason and bumping the failure count. Failing a host already in a
// terminal state is a no-op so external failure reports stay idempotent.
func (r *Registry) Fail(ctx context.Context, mac string, reason string) (domain.Host, error) {
	l := r.hostLock(mac)
	l.Lock()
	defer l.Unlock()

	host, err := r.hosts.FindByMAC(ctx, mac)
	if err != nil {
		return domain.Host{}, err
	}
	if domain.Terminal(host.State) {
		return host, nil
	}

	return r.updateStateLocked(ctx, mac, domain.StateFailed, reason, func(h *domain.Host) {
		h.FailureCount++
		h.FailureReason = reason
	})
}

// Delete removes a host and its audit trail. Hosts are never deleted
// automatically; this exists for explicit operator removal only.
func (r *Registry) Delete(ctx context.Context, mac string) error {
	normalized, err := domain.NormalizeMAC(mac)
	if err != nil {
		return fmt.Errorf("%w: bad hardware address %q: %v", repository.ErrInvalidEntity, mac, err)
	}

	l := r.hostLock(normalized)
	l.Lock()
	defer l.Unlock()

	host, err := r.hosts.FindByMAC(ctx, normalized)
	if err != nil {
		return err
	}

	if err := r.hosts.DeleteByID(ctx, host.ID); err != nil {
		return err
	}
	if err := r.audit.DeleteByMAC(ctx, normalized); err != nil {
		log.Printf("failed to delete audit entries for %s: %v", normalized, err)
	}

	log.Printf("removed host %s", normalized)
	return nil
}

// Audit returns the state change history for a host.
func (r *Registry) Audit(ctx context.Context, mac string) ([]domain.AuditEntry, error) {
	normalized, err := domain.NormalizeMAC(mac)
	if err != nil {
		return nil, fmt.Errorf("%w: bad hardware address %q: %v", repository.ErrInvalidEntity, mac, err)
	}
	return r.audit.FindByMAC(ctx, normalized)
}

func reasonSuffix(reason string) string {
	if reason == "" {
		return ""
	}
	return " (" + reason + ")"
}
