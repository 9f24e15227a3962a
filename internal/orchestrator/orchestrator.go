// Package orchestrator ties the registry, allocator, boot config generator
// and install state machine together. Each host moves through its pipeline
// independently; transitions for one host are serialized, hosts never block
// each other.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jbweber/homelab/forge/internal/allocator"
	"github.com/jbweber/homelab/forge/internal/bootcfg"
	"github.com/jbweber/homelab/forge/internal/config"
	"github.com/jbweber/homelab/forge/internal/dhcpexport"
	"github.com/jbweber/homelab/forge/internal/domain"
	"github.com/jbweber/homelab/forge/internal/metrics"
	"github.com/jbweber/homelab/forge/internal/registry"
	"github.com/jbweber/homelab/forge/internal/repository"
)

var (
	// ErrNotRetryable is returned when retrying a host that is not failed.
	ErrNotRetryable = errors.New("host is not in failed state")

	// ErrRetryExhausted is returned when a host has used up its retry
	// budget; operator intervention is required.
	ErrRetryExhausted = errors.New("retry limit exceeded")

	// ErrUnknownEvent is returned for installer events of an unknown type.
	ErrUnknownEvent = errors.New("unknown event type")
)

// Core drives hosts through the install pipeline.
type Core struct {
	registry  *registry.Registry
	alloc     *allocator.Allocator
	profiles  repository.ProfileRepository
	attempts  repository.AttemptRepository
	renderer  *bootcfg.Renderer
	publisher *bootcfg.Publisher
	exporter  *dhcpexport.Exporter

	install        config.InstallConfig
	defaultProfile string

	mu        sync.Mutex
	pipelines map[string]*sync.Mutex

	discoveries  chan observation
	stop         chan struct{}
	wg           sync.WaitGroup
	scanInterval time.Duration

	now func() time.Time
}

// Deps bundles the collaborators a Core needs.
type Deps struct {
	Registry  *registry.Registry
	Allocator *allocator.Allocator
	Profiles  repository.ProfileRepository
	Attempts  repository.AttemptRepository
	Renderer  *bootcfg.Renderer
	Publisher *bootcfg.Publisher
	Exporter  *dhcpexport.Exporter
}

// New creates an orchestrator core.
func New(deps Deps, install config.InstallConfig, defaultProfile string) *Core {
	return &Core{
		registry:       deps.Registry,
		alloc:          deps.Allocator,
		profiles:       deps.Profiles,
		attempts:       deps.Attempts,
		renderer:       deps.Renderer,
		publisher:      deps.Publisher,
		exporter:       deps.Exporter,
		install:        install,
		defaultProfile: defaultProfile,
		pipelines:      make(map[string]*sync.Mutex),
		discoveries:    make(chan observation, 256),
		stop:           make(chan struct{}),
		scanInterval:   30 * time.Second,
		now:            time.Now,
	}
}

// pipelineLock returns the mutex serializing one host's pipeline. Only one
// transition is in flight per host at a time.
func (c *Core) pipelineLock(mac string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.pipelines[mac]
	if !ok {
		l = &sync.Mutex{}
		c.pipelines[mac] = l
	}
	return l
}

// Start launches the background workers: the discovery consumers and the
// dwell-time scanner.
func (c *Core) Start(ctx context.Context) {
	for i := 0; i < 4; i++ {
		c.wg.Add(1)
		go c.discoveryWorker(ctx)
	}

	c.wg.Add(1)
	go c.timeoutScanner(ctx)
}

// Stop shuts the background workers down and waits for them.
func (c *Core) Stop() {
	close(c.stop)
	c.wg.Wait()
}

// observation is one queued sighting of a machine on the network.
type observation struct {
	mac  string
	name string
}

// EnqueueDiscovery hands a hardware address to the discovery workers. Never
// blocks; under sustained overload the observation is dropped and the host
// is picked up on its next DHCP request.
func (c *Core) EnqueueDiscovery(mac, hostname string) {
	select {
	case c.discoveries <- observation{mac: mac, name: hostname}:
	default:
		log.Printf("discovery queue full, dropping observation of %s", mac)
	}
}

func (c *Core) discoveryWorker(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		case obs := <-c.discoveries:
			if err := c.Observe(ctx, obs.mac, obs.name); err != nil {
				log.Printf("discovery of %s: %v", obs.mac, err)
			}
		}
	}
}

// Discover registers an anonymous host observation and advances its
// pipeline as far as it can go without external input.
func (c *Core) Discover(ctx context.Context, mac string) error {
	return c.Observe(ctx, mac, "")
}

// Observe registers a host observation, recording the hostname the machine
// announced, and advances its pipeline. An observation is lease activity,
// so the host's existing lease is renewed on the way.
func (c *Core) Observe(ctx context.Context, mac, hostname string) error {
	host, err := c.registry.Register(ctx, mac, hostname)
	if err != nil {
		return err
	}

	if host.Address != "" {
		if _, err := c.alloc.Renew(ctx, host.Address); err != nil &&
			!errors.Is(err, allocator.ErrLeaseExpired) && !errors.Is(err, repository.ErrNotFound) {
			log.Printf("failed to renew lease %s for %s: %v", host.Address, host.MAC, err)
		}
	}

	return c.advance(ctx, host.MAC)
}

// advance pushes one host forward: discovered hosts get an address,
// addressed hosts get a boot artifact. It stops at boot_configured, where
// only installer events move things along.
func (c *Core) advance(ctx context.Context, mac string) error {
	l := c.pipelineLock(mac)
	l.Lock()
	defer l.Unlock()

	for {
		host, err := c.registry.Get(ctx, mac)
		if err != nil {
			return err
		}

		switch host.State {
		case domain.StateDiscovered:
			if err := c.assignAddress(ctx, host); err != nil {
				return err
			}
		case domain.StateAddressed:
			if err := c.configureBoot(ctx, host); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// assignAddress allocates a lease and moves the host to addressed. On pool
// exhaustion the host stays discovered; allocation is retried on its next
// observation.
func (c *Core) assignAddress(ctx context.Context, host domain.Host) error {
	lease, err := c.alloc.Allocate(ctx, host.MAC)
	if err != nil {
		if errors.Is(err, allocator.ErrPoolExhausted) {
			metrics.PoolExhaustions.Inc()
		}
		return fmt.Errorf("allocating address for %s: %w", host.MAC, err)
	}
	metrics.LeaseAllocations.Inc()

	if _, err := c.registry.UpdateState(ctx, host.MAC, domain.StateAddressed, "", func(h *domain.Host) {
		h.Address = lease.Address
	}); err != nil {
		return err
	}
	metrics.StateTransitions.WithLabelValues(string(domain.StateAddressed)).Inc()

	c.exportReservations(ctx)
	return nil
}

// configureBoot renders and publishes the boot artifact, moves the host to
// boot_configured and opens the install attempt. Profile problems hold the
// host at addressed: retrying an invalid profile cannot succeed, so nothing
// is retried until the profile changes.
func (c *Core) configureBoot(ctx context.Context, host domain.Host) error {
	profileName := host.ProfileName
	if profileName == "" {
		profileName = c.defaultProfile
	}

	profile, err := c.profiles.FindLatestByName(ctx, profileName)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: profile %q is not registered", bootcfg.ErrProfileInvalid, profileName)
		}
		return err
	}

	artifact, err := c.renderer.Render(host, profile)
	if err != nil {
		return fmt.Errorf("rendering boot artifact for %s: %w", host.MAC, err)
	}

	changed, err := c.publisher.Publish(host.MAC, artifact)
	if err != nil {
		return fmt.Errorf("publishing boot artifact for %s: %w", host.MAC, err)
	}
	if changed {
		log.Printf("published boot artifact for %s (profile %s/v%d)", host.MAC, profile.Name, profile.Version)
	}

	if _, err := c.registry.UpdateState(ctx, host.MAC, domain.StateBootConfigured,
		fmt.Sprintf("profile %s/v%d", profile.Name, profile.Version), func(h *domain.Host) {
			h.ProfileName = profile.Name
		}); err != nil {
		return err
	}
	metrics.StateTransitions.WithLabelValues(string(domain.StateBootConfigured)).Inc()

	if _, err := c.attempts.Open(ctx, host.MAC); err != nil && !errors.Is(err, repository.ErrDuplicate) {
		return err
	}

	return nil
}

// exportReservations pushes the current lease table out to dnsmasq. Export
// failure does not fail the pipeline; the reservation lands with the next
// successful export.
func (c *Core) exportReservations(ctx context.Context) {
	leases, err := c.alloc.ActiveLeases(ctx)
	if err != nil {
		log.Printf("failed to collect leases for dnsmasq export: %v", err)
		return
	}
	if err := c.exporter.Write(leases); err != nil {
		log.Printf("failed to export dnsmasq reservations: %v", err)
	}
}

// HandleEvent processes an installer callback. Events are accepted
// at-least-once: a duplicate of an already-processed event is a no-op,
// keyed by the host's single pending attempt and the state machine.
func (c *Core) HandleEvent(ctx context.Context, mac string, eventType domain.EventType, detail string) error {
	normalized, err := domain.NormalizeMAC(mac)
	if err != nil {
		return fmt.Errorf("%w: bad hardware address %q: %v", repository.ErrInvalidEntity, mac, err)
	}
	if !domain.ValidEventType(eventType) {
		return fmt.Errorf("%w: %q", ErrUnknownEvent, eventType)
	}

	l := c.pipelineLock(normalized)
	l.Lock()
	defer l.Unlock()

	host, err := c.registry.Get(ctx, normalized)
	if err != nil {
		return err
	}

	switch eventType {
	case domain.EventStarted:
		return c.handleStarted(ctx, host)
	case domain.EventSucceeded:
		return c.handleSucceeded(ctx, host)
	case domain.EventFailed:
		return c.failLocked(ctx, host.MAC, failureReason(detail))
	}
	return nil
}

func (c *Core) handleStarted(ctx context.Context, host domain.Host) error {
	switch host.State {
	case domain.StateInstalling:
		// duplicate delivery
		return nil
	case domain.StateBootConfigured:
		if _, err := c.registry.UpdateState(ctx, host.MAC, domain.StateInstalling, "install started", nil); err != nil {
			return err
		}
		metrics.StateTransitions.WithLabelValues(string(domain.StateInstalling)).Inc()
		return nil
	case domain.StateInstalled, domain.StateFailed:
		// stale report for a finished cycle
		return nil
	}
	return fmt.Errorf("%w: started event in state %s", registry.ErrInvalidTransition, host.State)
}

func (c *Core) handleSucceeded(ctx context.Context, host domain.Host) error {
	switch host.State {
	case domain.StateInstalled:
		// duplicate delivery
		return nil
	case domain.StateInstalling:
		if _, err := c.registry.UpdateState(ctx, host.MAC, domain.StateInstalled, "install succeeded", func(h *domain.Host) {
			h.FailureReason = ""
		}); err != nil {
			return err
		}
		metrics.StateTransitions.WithLabelValues(string(domain.StateInstalled)).Inc()
		c.closePendingAttempt(ctx, host.MAC, domain.OutcomeSuccess, "")
		return nil
	case domain.StateFailed:
		// stale report for a cycle that already failed
		return nil
	}
	return fmt.Errorf("%w: succeeded event in state %s", registry.ErrInvalidTransition, host.State)
}

// Fail marks a host failed with the given reason. Idempotent for hosts
// already in a terminal state. Errors local to this host never touch other
// hosts' pipelines.
func (c *Core) Fail(ctx context.Context, mac string, reason string) error {
	normalized, err := domain.NormalizeMAC(mac)
	if err != nil {
		return fmt.Errorf("%w: bad hardware address %q: %v", repository.ErrInvalidEntity, mac, err)
	}

	l := c.pipelineLock(normalized)
	l.Lock()
	defer l.Unlock()

	return c.failLocked(ctx, normalized, reason)
}

func (c *Core) failLocked(ctx context.Context, mac string, reason string) error {
	host, err := c.registry.Get(ctx, mac)
	if err != nil {
		return err
	}
	if domain.Terminal(host.State) {
		return nil
	}

	if _, err := c.registry.Fail(ctx, mac, reason); err != nil {
		return err
	}
	metrics.StateTransitions.WithLabelValues(string(domain.StateFailed)).Inc()

	c.closePendingAttempt(ctx, mac, domain.OutcomeFailed, reason)
	return nil
}

// closePendingAttempt closes the host's pending attempt if one exists.
// Nothing pending means the event raced a previous close; that is fine.
func (c *Core) closePendingAttempt(ctx context.Context, mac string, outcome domain.Outcome, detail string) {
	attempt, err := c.attempts.FindPendingByMAC(ctx, mac)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			log.Printf("failed to look up pending attempt for %s: %v", mac, err)
		}
		return
	}

	if _, err := c.attempts.Close(ctx, attempt.AttemptID, outcome, detail); err != nil && !errors.Is(err, repository.ErrNotFound) {
		log.Printf("failed to close attempt %s for %s: %v", attempt.AttemptID, mac, err)
		return
	}
	metrics.InstallAttemptsClosed.WithLabelValues(string(outcome)).Inc()
}

// Retry re-enters a failed host into the pipeline. Only valid while the
// host is failed, and bounded by the configured retry budget.
func (c *Core) Retry(ctx context.Context, mac string) error {
	normalized, err := domain.NormalizeMAC(mac)
	if err != nil {
		return fmt.Errorf("%w: bad hardware address %q: %v", repository.ErrInvalidEntity, mac, err)
	}

	if err := c.reenter(ctx, normalized); err != nil {
		return err
	}

	return c.advance(ctx, normalized)
}

// reenter moves a failed host back to addressed under the pipeline lock.
func (c *Core) reenter(ctx context.Context, mac string) error {
	l := c.pipelineLock(mac)
	l.Lock()
	defer l.Unlock()

	host, err := c.registry.Get(ctx, mac)
	if err != nil {
		return err
	}
	if host.State != domain.StateFailed {
		return fmt.Errorf("%w: host %s is %s", ErrNotRetryable, mac, host.State)
	}
	if host.FailureCount > c.install.MaxRetries {
		return fmt.Errorf("%w: host %s failed %d times (max %d)", ErrRetryExhausted, mac, host.FailureCount, c.install.MaxRetries)
	}

	if _, err := c.registry.UpdateState(ctx, mac, domain.StateAddressed, "retry", nil); err != nil {
		return err
	}
	metrics.StateTransitions.WithLabelValues(string(domain.StateAddressed)).Inc()
	return nil
}

// Forget removes a host entirely: its install attempts, its boot artifact,
// its address lease and the registry record. Never invoked automatically;
// removal is an operator decision. A re-observed machine starts over as a
// fresh discovery.
func (c *Core) Forget(ctx context.Context, mac string) error {
	normalized, err := domain.NormalizeMAC(mac)
	if err != nil {
		return fmt.Errorf("%w: bad hardware address %q: %v", repository.ErrInvalidEntity, mac, err)
	}

	l := c.pipelineLock(normalized)
	l.Lock()
	defer l.Unlock()

	host, err := c.registry.Get(ctx, normalized)
	if err != nil {
		return err
	}

	// Attempts reference the host row, so they go first.
	if err := c.attempts.DeleteByMAC(ctx, normalized); err != nil {
		return err
	}
	if err := c.publisher.Remove(normalized); err != nil {
		return err
	}
	if host.Address != "" {
		if err := c.alloc.Release(ctx, host.Address); err != nil {
			return err
		}
	}
	if err := c.registry.Delete(ctx, normalized); err != nil {
		return err
	}

	c.exportReservations(ctx)
	return nil
}

// HostDetail bundles a host with its install history for the control API.
type HostDetail struct {
	Host     domain.Host
	Attempts []domain.InstallAttempt
}

// Detail returns a host with its install attempts.
func (c *Core) Detail(ctx context.Context, mac string) (HostDetail, error) {
	host, err := c.registry.Get(ctx, mac)
	if err != nil {
		return HostDetail{}, err
	}
	attempts, err := c.attempts.FindByMAC(ctx, host.MAC)
	if err != nil {
		return HostDetail{}, err
	}
	return HostDetail{Host: host, Attempts: attempts}, nil
}

// timeoutScanner fails hosts that dwell in a non-terminal state past the
// configured deadline. Timeout is a normal failure: it counts against the
// retry budget and is eligible for automatic retry via the operator.
func (c *Core) timeoutScanner(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.ScanTimeouts(ctx)
		}
	}
}

// ScanTimeouts runs one pass over all hosts and fails the ones whose dwell
// time in the current state exceeds the configured deadline.
func (c *Core) ScanTimeouts(ctx context.Context) {
	hosts, err := c.registry.List(ctx, "")
	if err != nil {
		log.Printf("timeout scan: failed to list hosts: %v", err)
		return
	}

	now := c.now()
	for _, host := range hosts {
		if domain.Terminal(host.State) {
			continue
		}
		deadline := c.install.StateTimeout(host.State)
		if deadline <= 0 {
			continue
		}
		// Dwell runs from state entry. Lease renewals and DHCP
		// re-observations touch the row but are not progress events.
		entered := host.StateChangedAt
		if entered.IsZero() {
			entered = host.UpdatedAt
		}
		if now.Sub(entered) <= deadline {
			continue
		}

		log.Printf("host %s dwelled in %s for more than %s", host.MAC, host.State, deadline)
		if err := c.Fail(ctx, host.MAC, "timeout"); err != nil {
			log.Printf("timeout scan: failed to fail host %s: %v", host.MAC, err)
		}
	}
}

func failureReason(detail string) string {
	if detail == "" {
		return "installer reported failure"
	}
	return detail
}
