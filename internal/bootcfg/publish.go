package bootcfg

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Publisher places rendered artifacts where the PXE loader fetches them.
// Publishing is at-least-once: rewriting an unchanged artifact is a no-op,
// and writes go through a temp file + rename so the loader never fetches a
// partial file.
type Publisher struct {
	root string
}

// NewPublisher creates a publisher rooted at the TFTP directory.
func NewPublisher(tftpRoot string) *Publisher {
	return &Publisher{root: tftpRoot}
}

// ArtifactPath returns the path the PXE loader expects for a hardware
// address, relative to the TFTP root: pxelinux.cfg/01-aa-bb-cc-dd-ee-ff.
// The 01- prefix is the PXELINUX ARP hardware type for ethernet.
func ArtifactPath(mac string) string {
	return filepath.Join("pxelinux.cfg", "01-"+strings.ReplaceAll(mac, ":", "-"))
}

// Publish writes the artifact for a hardware address. Returns true when the
// file changed on disk.
func (p *Publisher) Publish(mac string, artifact []byte) (bool, error) {
	path := filepath.Join(p.root, ArtifactPath(mac))

	existing, err := os.ReadFile(path)
	if err == nil && bytes.Equal(existing, artifact) {
		return false, nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("failed to create artifact dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".forge-artifact-*")
	if err != nil {
		return false, fmt.Errorf("failed to create temp artifact: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(artifact); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return false, fmt.Errorf("failed to write temp artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return false, fmt.Errorf("failed to close temp artifact: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return false, fmt.Errorf("failed to publish artifact: %w", err)
	}

	return true, nil
}

// Remove deletes the published artifact for a hardware address. Removing an
// artifact that was never published is a no-op.
func (p *Publisher) Remove(mac string) error {
	err := os.Remove(filepath.Join(p.root, ArtifactPath(mac)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove artifact: %w", err)
	}
	return nil
}

// Fetch reads the published artifact for a hardware address.
func (p *Publisher) Fetch(mac string) ([]byte, error) {
	return os.ReadFile(filepath.Join(p.root, ArtifactPath(mac)))
}
