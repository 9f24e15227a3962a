// Package discovery observes the external DHCP server's lease file and
// feeds previously unseen hardware addresses into the orchestrator. A
// machine's very first PXE/DHCP request is what creates its Host record.
package discovery

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Observation is one lease line from the DHCP server.
type Observation struct {
	MAC      string
	Address  string
	Hostname string
	Expire   time.Time
}

// Sink receives discovered hardware addresses and the hostname the machine
// sent with its DHCP request, if any.
type Sink interface {
	EnqueueDiscovery(mac, hostname string)
}

// Watcher tails a dnsmasq leases file and reports every MAC it sees.
type Watcher struct {
	path string
	sink Sink

	watcher *fsnotify.Watcher

	mu   sync.Mutex
	seen map[string]bool

	stop chan struct{}
	wg   sync.WaitGroup

	now func() time.Time
}

// NewWatcher creates a watcher for the given leases file.
func NewWatcher(path string, sink Sink) *Watcher {
	return &Watcher{
		path: path,
		sink: sink,
		seen: make(map[string]bool),
		stop: make(chan struct{}),
		now:  time.Now,
	}
}

// Start performs an initial scan and begins watching for changes. A missing
// leases file is not fatal; dnsmasq creates it on its first lease.
func (w *Watcher) Start() error {
	var err error
	w.watcher, err = fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	if err := w.Scan(); err != nil {
		log.Printf("warning: initial lease scan failed: %v", err)
	}

	w.wg.Add(1)
	go w.watchLoop()

	// Watch the directory, not the file: dnsmasq rewrites the lease file
	// in place and some platforms drop the watch on rename.
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		log.Printf("warning: failed to watch %s: %v", dir, err)
	}

	return nil
}

// Stop shuts the watcher down.
func (w *Watcher) Stop() {
	close(w.stop)
	if w.watcher != nil {
		w.watcher.Close()
	}
	w.wg.Wait()
}

func (w *Watcher) watchLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := w.Scan(); err != nil {
				log.Printf("lease scan failed: %v", err)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("lease watcher error: %v", err)
		}
	}
}

// Scan parses the leases file and feeds every live entry to the sink. A
// lapsed entry that survived a dnsmasq restart is not evidence the machine
// is on the network, so it is skipped.
func (w *Watcher) Scan() error {
	observations, err := ParseLeasesFile(w.path)
	if err != nil {
		return err
	}

	now := w.now()
	for _, obs := range observations {
		if !obs.Expire.IsZero() && obs.Expire.Before(now) {
			continue
		}

		w.mu.Lock()
		known := w.seen[obs.MAC]
		w.seen[obs.MAC] = true
		w.mu.Unlock()

		if !known {
			log.Printf("observed new host %s (%s) in lease file", obs.MAC, obs.Address)
		}
		// Re-enqueue known hosts too; registration is idempotent and the
		// orchestrator uses the observation to refresh last-seen.
		w.sink.EnqueueDiscovery(obs.MAC, obs.Hostname)
	}

	return nil
}

// ParseLeasesFile reads a dnsmasq leases file. Each line is
// "<expiry epoch> <mac> <address> <hostname> <client-id>"; malformed lines
// are skipped.
func ParseLeasesFile(path string) ([]Observation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open leases file: %w", err)
	}
	defer f.Close()

	var observations []Observation
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		obs, ok := parseLeaseLine(scanner.Text())
		if !ok {
			continue
		}
		observations = append(observations, obs)
	}

	return observations, scanner.Err()
}

func parseLeaseLine(line string) (Observation, bool) {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) < 4 {
		return Observation{}, false
	}

	hw, err := net.ParseMAC(fields[1])
	if err != nil {
		return Observation{}, false
	}
	if net.ParseIP(fields[2]) == nil {
		return Observation{}, false
	}

	obs := Observation{
		MAC:     strings.ToLower(hw.String()),
		Address: fields[2],
	}
	// dnsmasq writes "*" when the client sent no hostname
	if fields[3] != "*" {
		obs.Hostname = fields[3]
	}
	// and an epoch of 0 for infinite leases
	if epoch, err := strconv.ParseInt(fields[0], 10, 64); err == nil && epoch > 0 {
		obs.Expire = time.Unix(epoch, 0)
	}

	return obs, true
}
