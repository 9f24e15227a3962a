package bootcfg

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/homelab/forge/internal/domain"
)

func testProfile() domain.BootProfile {
	return domain.BootProfile{
		Name:            "debian-12-default",
		Version:         3,
		TargetOS:        "debian-12",
		PartitionPolicy: "single-disk-lvm",
		InstallSource:   "http://10.10.10.2/debian",
		KernelArgs:      "console=ttyS0,115200",
	}
}

func TestRenderer_Render(t *testing.T) {
	r := NewRenderer()

	host := domain.Host{MAC: "aa:bb:cc:dd:ee:ff", Name: "rack1-node1"}

	artifact, err := r.Render(host, testProfile())
	require.NoError(t, err)

	content := string(artifact)
	assert.Contains(t, content, "KERNEL http://10.10.10.2/debian/boot/vmlinuz")
	assert.Contains(t, content, "INITRD http://10.10.10.2/debian/boot/initrd.img")
	assert.Contains(t, content, "install_url=http://10.10.10.2/debian")
	assert.Contains(t, content, "hostname=rack1-node1")
	assert.Contains(t, content, "profile=debian-12-default/v3")
	assert.Contains(t, content, "partition=single-disk-lvm")
	assert.Contains(t, content, "console=ttyS0,115200")
}

func TestRenderer_Render_Deterministic(t *testing.T) {
	r := NewRenderer()

	host := domain.Host{MAC: "aa:bb:cc:dd:ee:ff"}
	profile := testProfile()

	first, err := r.Render(host, profile)
	require.NoError(t, err)
	second, err := r.Render(host, profile)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRenderer_Render_DefaultHostname(t *testing.T) {
	r := NewRenderer()

	artifact, err := r.Render(domain.Host{MAC: "aa:bb:cc:dd:ee:ff"}, testProfile())
	require.NoError(t, err)
	assert.Contains(t, string(artifact), "hostname=host-aabbccddeeff")
}

func TestRenderer_Render_TrailingSlashTrimmed(t *testing.T) {
	r := NewRenderer()

	profile := testProfile()
	profile.InstallSource = "http://10.10.10.2/debian/"

	artifact, err := r.Render(domain.Host{MAC: "aa:bb:cc:dd:ee:ff"}, profile)
	require.NoError(t, err)
	assert.NotContains(t, string(artifact), "debian//")
}

func TestRenderer_Render_EmptyKernelArgs(t *testing.T) {
	r := NewRenderer()

	profile := testProfile()
	profile.KernelArgs = ""

	artifact, err := r.Render(domain.Host{MAC: "aa:bb:cc:dd:ee:ff"}, profile)
	require.NoError(t, err)

	for _, line := range strings.Split(string(artifact), "\n") {
		assert.False(t, strings.HasSuffix(line, " "), "trailing space on %q", line)
	}
}

func TestValidateProfile(t *testing.T) {
	assert.NoError(t, ValidateProfile(testProfile()))
}

func TestValidateProfile_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.BootProfile)
	}{
		{"no install source", func(p *domain.BootProfile) { p.InstallSource = "" }},
		{"relative URL", func(p *domain.BootProfile) { p.InstallSource = "/debian" }},
		{"no scheme", func(p *domain.BootProfile) { p.InstallSource = "10.10.10.2/debian" }},
		{"hostname instead of IP", func(p *domain.BootProfile) { p.InstallSource = "http://mirror.example.com/debian" }},
		{"no target OS", func(p *domain.BootProfile) { p.TargetOS = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profile := testProfile()
			tt.mutate(&profile)
			err := ValidateProfile(profile)
			assert.ErrorIs(t, err, ErrProfileInvalid)
		})
	}
}
