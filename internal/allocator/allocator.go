// Package allocator assigns management-network addresses to hosts from a
// configured pool. Allocation is deterministic: the lowest free address in
// the pool always wins, so a fixed call order reproduces the same layout.
package allocator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/apparentlymart/go-cidr/cidr"

	"github.com/jbweber/homelab/forge/internal/config"
	"github.com/jbweber/homelab/forge/internal/domain"
	"github.com/jbweber/homelab/forge/internal/repository"
)

var (
	// ErrPoolExhausted is returned when no address in the pool is free.
	ErrPoolExhausted = errors.New("address pool exhausted")

	// ErrLeaseExpired is returned when renewing a lease past its expiry.
	ErrLeaseExpired = errors.New("lease expired")
)

// Allocator owns the address pool and every AddressLease row. All mutations
// go through a single mutex; a crash between persisting a lease and the
// external DHCP server picking it up is safe because the persisted lease is
// simply re-offered after restart.
type Allocator struct {
	leases repository.LeaseRepository

	poolStart uint32
	poolEnd   uint32
	ttl       time.Duration

	mu sync.Mutex

	now func() time.Time
}

// New creates an allocator for the pool described by cfg.
func New(cfg config.NetworkConfig, leases repository.LeaseRepository) (*Allocator, error) {
	_, subnet, err := net.ParseCIDR(cfg.SubnetCIDR)
	if err != nil {
		return nil, fmt.Errorf("invalid subnet CIDR %q: %w", cfg.SubnetCIDR, err)
	}

	start := net.ParseIP(cfg.PoolStart)
	end := net.ParseIP(cfg.PoolEnd)
	if start == nil || end == nil {
		return nil, fmt.Errorf("invalid pool bounds %q-%q", cfg.PoolStart, cfg.PoolEnd)
	}
	if start.To4() == nil || end.To4() == nil {
		return nil, fmt.Errorf("pool bounds %q-%q must be IPv4", cfg.PoolStart, cfg.PoolEnd)
	}
	if !subnet.Contains(start) || !subnet.Contains(end) {
		first, last := cidr.AddressRange(subnet)
		return nil, fmt.Errorf("pool %s-%s is outside subnet %s (%s-%s)", cfg.PoolStart, cfg.PoolEnd, cfg.SubnetCIDR, first, last)
	}

	startInt := ipToInt(start)
	endInt := ipToInt(end)
	if startInt > endInt {
		return nil, fmt.Errorf("pool start %s is above pool end %s", cfg.PoolStart, cfg.PoolEnd)
	}

	return &Allocator{
		leases:    leases,
		poolStart: startInt,
		poolEnd:   endInt,
		ttl:       cfg.LeaseTTL.Std(),
		now:       time.Now,
	}, nil
}

// Allocate returns the active lease for a host, creating one on the lowest
// free address when none exists. The lease is persisted before it is
// returned. Pool pressure surfaces as ErrPoolExhausted and never blocks
// other hosts beyond the duration of this call.
func (a *Allocator) Allocate(ctx context.Context, mac string) (domain.AddressLease, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()

	existing, err := a.leases.FindByMAC(ctx, mac)
	if err == nil {
		if existing.Active(now) {
			return existing, nil
		}
		// The host's own lease lapsed; drop it and allocate fresh.
		if err := a.leases.DeleteByID(ctx, existing.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return domain.AddressLease{}, err
		}
	} else if !errors.Is(err, repository.ErrNotFound) {
		return domain.AddressLease{}, err
	}

	address, err := a.lowestFree(ctx, now)
	if err != nil {
		return domain.AddressLease{}, err
	}

	lease := domain.AddressLease{
		MAC:       mac,
		Address:   address,
		StartsAt:  now,
		ExpiresAt: now.Add(a.ttl),
	}
	return a.leases.Save(ctx, lease)
}

// lowestFree scans the pool from the bottom and returns the first address
// without an active lease. Expired leases occupying a candidate address are
// removed on the way.
func (a *Allocator) lowestFree(ctx context.Context, now time.Time) (string, error) {
	all, err := a.leases.FindAll(ctx)
	if err != nil {
		return "", err
	}

	active := make(map[string]bool, len(all))
	expired := make(map[string]int64, len(all))
	for _, l := range all {
		if l.Active(now) {
			active[l.Address] = true
		} else {
			expired[l.Address] = l.ID
		}
	}

	for ipInt := a.poolStart; ipInt <= a.poolEnd; ipInt++ {
		address := intToIP(ipInt).String()
		if active[address] {
			continue
		}
		if id, ok := expired[address]; ok {
			if err := a.leases.DeleteByID(ctx, id); err != nil && !errors.Is(err, repository.ErrNotFound) {
				return "", err
			}
		}
		return address, nil
	}

	return "", fmt.Errorf("%w: no free address in %s-%s", ErrPoolExhausted, intToIP(a.poolStart), intToIP(a.poolEnd))
}

// Renew extends an active lease by the configured TTL. A lease already past
// its expiry cannot be renewed; the host must allocate again.
func (a *Allocator) Renew(ctx context.Context, address string) (domain.AddressLease, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	lease, err := a.leases.FindByAddress(ctx, address)
	if err != nil {
		return domain.AddressLease{}, err
	}

	now := a.now()
	if !lease.Active(now) {
		return domain.AddressLease{}, fmt.Errorf("%w: lease on %s expired at %s", ErrLeaseExpired, address, lease.ExpiresAt.Format(time.RFC3339))
	}

	lease.ExpiresAt = now.Add(a.ttl)
	lease.RenewCount++
	return a.leases.Save(ctx, lease)
}

// Release frees the lease on an address. Releasing an address with no lease
// is not an error.
func (a *Allocator) Release(ctx context.Context, address string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	err := a.leases.DeleteByAddress(ctx, address)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	return err
}

// Reconcile sweeps expired leases after a restart. Surviving leases are
// kept as-is: a lease the host never acknowledged is still valid and will
// simply be offered again on the next Allocate.
func (a *Allocator) Reconcile(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	removed, err := a.leases.DeleteExpired(ctx, repository.FormatTime(a.now()))
	if err != nil {
		return err
	}
	if removed > 0 {
		log.Printf("reconciled lease table, removed %d expired leases", removed)
	}
	return nil
}

// ActiveLeases returns every lease still inside its validity window,
// ordered by address.
func (a *Allocator) ActiveLeases(ctx context.Context) ([]domain.AddressLease, error) {
	all, err := a.leases.FindAll(ctx)
	if err != nil {
		return nil, err
	}

	now := a.now()
	var active []domain.AddressLease
	for _, l := range all {
		if l.Active(now) {
			active = append(active, l)
		}
	}
	return active, nil
}

// PoolSize returns the number of addresses in the pool.
func (a *Allocator) PoolSize() int {
	return int(a.poolEnd-a.poolStart) + 1
}

// ipToInt and intToIP convert between dotted-quad and host-order integers
// so the pool can be scanned in address order.
func ipToInt(ip net.IP) uint32 {
	ip = ip.To4()
	return uint32(ip[0])<<24 + uint32(ip[1])<<16 + uint32(ip[2])<<8 + uint32(ip[3])
}

func intToIP(ipInt uint32) net.IP {
	return net.IPv4(byte(ipInt>>24), byte(ipInt>>16), byte(ipInt>>8), byte(ipInt))
}
