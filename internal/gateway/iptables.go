package gateway

import (
	"fmt"

	"github.com/coreos/go-iptables/iptables"
)

// NewFirewall returns the Linux netfilter implementation of Firewall.
func NewFirewall() (Firewall, error) {
	ipt, err := iptables.NewWithProtocol(iptables.ProtocolIPv4)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize iptables: %w", err)
	}
	return ipt, nil
}
