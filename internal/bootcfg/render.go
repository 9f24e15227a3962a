// Package bootcfg turns a (host, profile) pair into the network-boot
// artifact the PXE loader fetches. Rendering is a pure function of its
// inputs: the same pair always yields byte-identical output, so artifacts
// can be republished and cached freely.
package bootcfg

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"text/template"

	"github.com/jbweber/homelab/forge/internal/domain"
)

var (
	// ErrProfileInvalid is returned when a profile references a missing or
	// unusable install source.
	ErrProfileInvalid = errors.New("invalid boot profile")

	// ErrRenderFailed is returned on templating failure.
	ErrRenderFailed = errors.New("failed to render boot artifact")
)

// artifactTemplate is a PXELINUX-style boot menu. The install source host
// must be a literal IP because the booting machine has no DNS yet.
const artifactTemplate = `DEFAULT install
PROMPT 0
TIMEOUT 50

LABEL install
  MENU LABEL Install {{ .TargetOS }} on {{ .MAC }}
  KERNEL {{ .InstallSource }}/boot/vmlinuz
  INITRD {{ .InstallSource }}/boot/initrd.img
  APPEND ip=dhcp install_url={{ .InstallSource }} hostname={{ .Hostname }} profile={{ .ProfileName }}/v{{ .ProfileVersion }} partition={{ .PartitionPolicy }}{{ if .KernelArgs }} {{ .KernelArgs }}{{ end }}
`

// artifactView is everything the template may see. Built only from the
// inputs so rendering stays deterministic.
type artifactView struct {
	MAC             string
	Hostname        string
	TargetOS        string
	InstallSource   string
	ProfileName     string
	ProfileVersion  int
	PartitionPolicy string
	KernelArgs      string
}

// Renderer renders boot artifacts.
type Renderer struct {
	tmpl *template.Template
}

// NewRenderer creates a renderer over the built-in artifact template.
func NewRenderer() *Renderer {
	return &Renderer{
		tmpl: template.Must(template.New("bootcfg").Option("missingkey=error").Parse(artifactTemplate)),
	}
}

// Render produces the boot artifact for a host and profile.
func (r *Renderer) Render(host domain.Host, profile domain.BootProfile) ([]byte, error) {
	if err := ValidateProfile(profile); err != nil {
		return nil, err
	}

	hostname := host.Name
	if hostname == "" {
		hostname = "host-" + strings.ReplaceAll(host.MAC, ":", "")
	}

	view := artifactView{
		MAC:             host.MAC,
		Hostname:        hostname,
		TargetOS:        profile.TargetOS,
		InstallSource:   strings.TrimRight(profile.InstallSource, "/"),
		ProfileName:     profile.Name,
		ProfileVersion:  profile.Version,
		PartitionPolicy: profile.PartitionPolicy,
		KernelArgs:      profile.KernelArgs,
	}

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, view); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRenderFailed, err)
	}

	return buf.Bytes(), nil
}

// ValidateProfile checks that the install source is a URL whose host is a
// literal IP. Booting machines resolve nothing, so a DNS name in the source
// would fail at the worst possible moment.
func ValidateProfile(profile domain.BootProfile) error {
	if profile.InstallSource == "" {
		return fmt.Errorf("%w: profile %q has no install source", ErrProfileInvalid, profile.Name)
	}

	u, err := url.Parse(profile.InstallSource)
	if err != nil {
		return fmt.Errorf("%w: profile %q install source: %v", ErrProfileInvalid, profile.Name, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: profile %q install source %q is not an absolute URL", ErrProfileInvalid, profile.Name, profile.InstallSource)
	}
	if net.ParseIP(u.Hostname()) == nil {
		return fmt.Errorf("%w: profile %q install source host %q is not a literal IP", ErrProfileInvalid, profile.Name, u.Hostname())
	}
	if profile.TargetOS == "" {
		return fmt.Errorf("%w: profile %q has no target OS", ErrProfileInvalid, profile.Name)
	}

	return nil
}
