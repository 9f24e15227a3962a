// Package dhcpexport renders the allocator's lease table into a dnsmasq
// configuration fragment. The orchestrator never speaks the DHCP wire
// protocol itself; it keeps the external dnsmasq instance's reservations in
// step with the lease table.
package dhcpexport

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jbweber/homelab/forge/internal/config"
	"github.com/jbweber/homelab/forge/internal/domain"
)

// Exporter writes the dnsmasq conf fragment.
type Exporter struct {
	path      string
	poolStart string
	poolEnd   string
	leaseTTL  time.Duration
}

// New creates an exporter targeting the conf path from cfg.
func New(cfg config.NetworkConfig) *Exporter {
	return &Exporter{
		path:      cfg.DNSMasq.ConfPath,
		poolStart: cfg.PoolStart,
		poolEnd:   cfg.PoolEnd,
		leaseTTL:  cfg.LeaseTTL.Std(),
	}
}

// Render produces the conf fragment for the given active leases: one
// dhcp-range line for the pool and one dhcp-host reservation per lease.
// Output is deterministic for a given lease slice.
func (e *Exporter) Render(leases []domain.AddressLease) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# generated by forge; do not edit\n")
	fmt.Fprintf(&b, "dhcp-range=%s,%s,%s\n", e.poolStart, e.poolEnd, formatLeaseTime(e.leaseTTL))

	for _, lease := range leases {
		fmt.Fprintf(&b, "dhcp-host=%s,%s,%s\n", lease.MAC, lease.Address, formatLeaseTime(e.leaseTTL))
	}

	return b.String()
}

// Write renders the fragment and writes it atomically (temp file + rename)
// so dnsmasq never reads a half-written config.
func (e *Exporter) Write(leases []domain.AddressLease) error {
	content := e.Render(leases)

	dir := filepath.Dir(e.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create dnsmasq conf dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".forge-dnsmasq-*")
	if err != nil {
		return fmt.Errorf("failed to create temp conf: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp conf: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp conf: %w", err)
	}

	if err := os.Rename(tmpName, e.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to publish dnsmasq conf: %w", err)
	}

	return nil
}

// formatLeaseTime renders a duration in the compact form dnsmasq expects
// (whole hours or minutes, "infinite" for zero).
func formatLeaseTime(d time.Duration) string {
	if d <= 0 {
		return "infinite"
	}
	if d%time.Hour == 0 {
		return fmt.Sprintf("%dh", int(d/time.Hour))
	}
	return fmt.Sprintf("%dm", int(d/time.Minute))
}
