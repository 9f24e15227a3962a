package discovery

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink collects discovered MACs and announced hostnames.
type recordingSink struct {
	mu    sync.Mutex
	macs  []string
	names map[string]string
}

func (s *recordingSink) EnqueueDiscovery(mac, hostname string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.macs = append(s.macs, mac)
	if s.names == nil {
		s.names = make(map[string]string)
	}
	s.names[mac] = hostname
}

func (s *recordingSink) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.macs...)
}

func (s *recordingSink) nameOf(mac string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.names[mac]
}

func TestParseLeasesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dnsmasq.leases")
	content := `1893456000 aa:bb:cc:dd:ee:01 10.10.10.50 rack1-node1 01:aa:bb:cc:dd:ee:01
1893456100 AA:BB:CC:DD:EE:02 10.10.10.51 * *
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	observations, err := ParseLeasesFile(path)
	require.NoError(t, err)
	require.Len(t, observations, 2)

	assert.Equal(t, "aa:bb:cc:dd:ee:01", observations[0].MAC)
	assert.Equal(t, "10.10.10.50", observations[0].Address)
	assert.Equal(t, "rack1-node1", observations[0].Hostname)
	assert.Equal(t, time.Unix(1893456000, 0), observations[0].Expire)

	// MACs come out normalized, and "*" means the client sent no hostname
	assert.Equal(t, "aa:bb:cc:dd:ee:02", observations[1].MAC)
	assert.Empty(t, observations[1].Hostname)
}

func TestParseLeasesFile_SkipsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dnsmasq.leases")
	content := `garbage line
1893456000 not-a-mac 10.10.10.50 node *
1893456000 aa:bb:cc:dd:ee:01 not-an-ip node *
1893456000 aa:bb:cc:dd:ee:02
1893456000 aa:bb:cc:dd:ee:03 10.10.10.52 node *

`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	observations, err := ParseLeasesFile(path)
	require.NoError(t, err)
	require.Len(t, observations, 1)
	assert.Equal(t, "aa:bb:cc:dd:ee:03", observations[0].MAC)
}

func TestParseLeasesFile_Missing(t *testing.T) {
	_, err := ParseLeasesFile(filepath.Join(t.TempDir(), "absent.leases"))
	assert.Error(t, err)
}

func TestWatcher_Scan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dnsmasq.leases")
	content := `1893456000 aa:bb:cc:dd:ee:01 10.10.10.50 node1 *
1893456000 aa:bb:cc:dd:ee:02 10.10.10.51 node2 *
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	sink := &recordingSink{}
	w := NewWatcher(path, sink)

	require.NoError(t, w.Scan())
	assert.Equal(t, []string{"aa:bb:cc:dd:ee:01", "aa:bb:cc:dd:ee:02"}, sink.snapshot())
	assert.Equal(t, "node1", sink.nameOf("aa:bb:cc:dd:ee:01"))

	// Re-scanning enqueues again; the orchestrator deduplicates
	require.NoError(t, w.Scan())
	assert.Len(t, sink.snapshot(), 4)
}

func TestWatcher_Scan_SkipsLapsedEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dnsmasq.leases")
	content := `1893456000 aa:bb:cc:dd:ee:01 10.10.10.50 node1 *
1000000000 aa:bb:cc:dd:ee:02 10.10.10.51 node2 *
0 aa:bb:cc:dd:ee:03 10.10.10.52 node3 *
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	sink := &recordingSink{}
	w := NewWatcher(path, sink)
	w.now = func() time.Time { return time.Unix(1800000000, 0) }

	// The lapsed entry is skipped; the zero epoch means an infinite lease.
	require.NoError(t, w.Scan())
	assert.Equal(t, []string{"aa:bb:cc:dd:ee:01", "aa:bb:cc:dd:ee:03"}, sink.snapshot())
}

func TestWatcher_StartPicksUpRewrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dnsmasq.leases")
	require.NoError(t, os.WriteFile(path, []byte("1893456000 aa:bb:cc:dd:ee:01 10.10.10.50 node1 *\n"), 0o644))

	sink := &recordingSink{}
	w := NewWatcher(path, sink)
	require.NoError(t, w.Start())
	defer w.Stop()

	// The initial scan sees the first host
	require.Eventually(t, func() bool {
		return len(sink.snapshot()) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	// dnsmasq rewrites the file with a second host
	content := `1893456000 aa:bb:cc:dd:ee:01 10.10.10.50 node1 *
1893456100 aa:bb:cc:dd:ee:02 10.10.10.51 node2 *
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	require.Eventually(t, func() bool {
		for _, mac := range sink.snapshot() {
			if mac == "aa:bb:cc:dd:ee:02" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatcher_StartWithMissingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dnsmasq.leases")

	sink := &recordingSink{}
	w := NewWatcher(path, sink)
	// Missing file is tolerated; dnsmasq creates it later
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("1893456000 aa:bb:cc:dd:ee:01 10.10.10.50 node1 *\n"), 0o644))

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) >= 1
	}, 2*time.Second, 10*time.Millisecond)
}
