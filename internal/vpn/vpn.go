// Package vpn maintains a stateful view of the WireGuard interface by
// driving the wg/wg-quick command-line tools and parsing their text output.
// It is the gateway's only source of truth for peer membership.
package vpn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/omnia-network/wg-gateway/internal/ipalloc"
	"go.uber.org/zap"
)

// WGFirstAddr and WGNetmask bound the /24 WireGuard reserves for peer
// addresses. Allocation starts strictly above WGFirstAddr.
var (
	WGFirstAddr = net.ParseIP("10.13.13.1").To4()
	WGNetmask   = net.CIDRMask(24, 32)
)

// CommandRunner executes wg/wg-quick and returns stdout or a structured
// error. Satisfied by *dockerexec.Runner; abstracted here so the controller
// can be exercised against a fake in tests.
type CommandRunner interface {
	Run(ctx context.Context, args []string, useWgQuick bool) (string, error)
}

// RegisteredPeer is a single peer as known to WireGuard.
type RegisteredPeer struct {
	PublicKey     string   `json:"public_key"`
	PresharedKey  *string  `json:"preshared_key,omitempty"`
	RemoteAddress *string  `json:"remote_address,omitempty"`
	AllowedIPs    []net.IP `json:"allowed_ips"`
}

// VPNIP returns the peer's assigned VPN address. By invariant AllowedIPs
// always has exactly one element for peers retained by the dump parser.
func (p RegisteredPeer) VPNIP() net.IP {
	if len(p.AllowedIPs) == 0 {
		return nil
	}
	return p.AllowedIPs[0]
}

// Controller is the stateful view of one WireGuard interface. Exported
// fields are the ones that persist; runner and logger are rehydrated by the
// owning directory after a JSON load.
type Controller struct {
	runner CommandRunner
	logger *zap.Logger

	InterfaceName      string                    `json:"interface_name"`
	InterfacePublicKey string                    `json:"interface_public_key"`
	Peers              map[string]RegisteredPeer `json:"peers"`
	AssignedIPs        map[string]string         `json:"assigned_ips"`
}

// New scrapes the interface name, interface public key, and current peer
// dump from the WireGuard container, in that order.
func New(ctx context.Context, runner CommandRunner, logger *zap.Logger) (*Controller, error) {
	ifaceOut, err := runner.Run(ctx, []string{"show", "interfaces"}, false)
	if err != nil {
		return nil, fmt.Errorf("wg show interfaces: %w", err)
	}
	ifaceName := strings.TrimSpace(ifaceOut)
	if ifaceName == "" {
		return nil, errors.New("wg show interfaces returned no interface name")
	}

	pubKeyOut, err := runner.Run(ctx, []string{"show", ifaceName, "public-key"}, false)
	if err != nil {
		return nil, fmt.Errorf("wg show %s public-key: %w", ifaceName, err)
	}

	c := &Controller{
		runner:             runner,
		logger:             logger,
		InterfaceName:      ifaceName,
		InterfacePublicKey: strings.TrimSpace(pubKeyOut),
		Peers:              map[string]RegisteredPeer{},
		AssignedIPs:        map[string]string{},
	}

	if err := c.RegisteredPeers(ctx); err != nil {
		return nil, err
	}

	return c, nil
}

// Attach rehydrates a Controller deserialised from disk with the runner and
// logger it needs to operate again.
func (c *Controller) Attach(runner CommandRunner, logger *zap.Logger) {
	c.runner = runner
	c.logger = logger
	if c.Peers == nil {
		c.Peers = map[string]RegisteredPeer{}
	}
	if c.AssignedIPs == nil {
		c.AssignedIPs = map[string]string{}
	}
}

// RegisteredPeers re-scrapes "wg show <if> dump" and rebuilds Peers and
// AssignedIPs from scratch.
func (c *Controller) RegisteredPeers(ctx context.Context) error {
	dump, err := c.runner.Run(ctx, []string{"show", c.InterfaceName, "dump"}, false)
	if err != nil {
		return fmt.Errorf("wg show %s dump: %w", c.InterfaceName, err)
	}

	peers, assignedIPs, err := parseDump(dump, c.logger)
	if err != nil {
		return err
	}

	c.Peers = peers
	c.AssignedIPs = assignedIPs
	return nil
}

// parseDump parses the tab-separated output of "wg show <if> dump". The
// first line (the interface itself) is discarded; each following line is a
// peer with fields public_key, preshared_key, remote_address, allowed_ips,
// and further fields this parser ignores. Peers with no allowed IPs are
// dropped with a log line; IPv6 allowed-ip entries are skipped the same
// way.
func parseDump(dump string, logger *zap.Logger) (map[string]RegisteredPeer, map[string]string, error) {
	peers := map[string]RegisteredPeer{}
	assignedIPs := map[string]string{}

	lines := strings.Split(strings.TrimRight(dump, "\n"), "\n")
	if len(lines) == 0 {
		return peers, assignedIPs, nil
	}

	for _, line := range lines[1:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		fields := strings.Split(line, "\t")
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		if len(fields) < 4 {
			logger.Warn("skipping malformed wg dump line", zap.String("line", line))
			continue
		}

		publicKey := fields[0]
		presharedRaw := fields[1]
		remoteRaw := fields[2]
		allowedRaw := fields[3]

		var presharedKey *string
		if presharedRaw != "" && presharedRaw != "(none)" {
			presharedKey = &presharedRaw
		}

		var remoteAddress *string
		if remoteRaw != "" && remoteRaw != "(none)" {
			if _, _, err := net.SplitHostPort(remoteRaw); err != nil {
				return nil, nil, fmt.Errorf("peer %s has malformed endpoint %q: %w", redactKey(publicKey), remoteRaw, err)
			}
			remoteAddress = &remoteRaw
		}

		var allowedIPs []net.IP
		if allowedRaw != "" && allowedRaw != "(none)" {
			for _, entry := range strings.Split(allowedRaw, ",") {
				entry = strings.TrimSpace(entry)
				if entry == "" {
					continue
				}
				ipStr := entry
				if idx := strings.Index(entry, "/"); idx >= 0 {
					ipStr = entry[:idx]
				}
				ip := net.ParseIP(ipStr)
				if ip == nil {
					logger.Warn("skipping unparseable allowed-ip", zap.String("entry", entry))
					continue
				}
				if ip.To4() == nil {
					logger.Info("skipping ipv6 allowed-ip", zap.String("entry", entry))
					continue
				}
				allowedIPs = append(allowedIPs, ip.To4())
			}
		}

		if len(allowedIPs) == 0 {
			logger.Info("dropping peer with no allowed ips", zap.String("public_key", redactKey(publicKey)))
			continue
		}

		peers[publicKey] = RegisteredPeer{
			PublicKey:     publicKey,
			PresharedKey:  presharedKey,
			RemoteAddress: remoteAddress,
			AllowedIPs:    allowedIPs,
		}
		assignedIPs[allowedIPs[0].String()] = publicKey
	}

	return peers, assignedIPs, nil
}

// AddOrUpdatePeer registers a new peer or refreshes the remote address of
// one already known. A brand-new peer is allocated the next VPN IP, told
// to WireGuard via "wg set", and picked up by cycling the interface.
func (c *Controller) AddOrUpdatePeer(ctx context.Context, publicKey string, presharedKey *string, remoteAddress *net.UDPAddr) (*RegisteredPeer, error) {
	if existing, ok := c.Peers[publicKey]; ok {
		if remoteAddress != nil {
			addr := remoteAddress.String()
			existing.RemoteAddress = &addr
		}
		c.Peers[publicKey] = existing
		return &existing, nil
	}

	assigned := make([]net.IP, 0, len(c.AssignedIPs))
	for ipStr := range c.AssignedIPs {
		if ip := net.ParseIP(ipStr); ip != nil {
			assigned = append(assigned, ip.To4())
		}
	}

	ip, ok := ipalloc.NextAvailable(assigned, WGNetmask, WGFirstAddr)
	if !ok {
		return nil, errors.New("no vpn addresses remain in the wireguard /24")
	}

	if _, err := c.runner.Run(ctx, []string{"set", c.InterfaceName, "peer", publicKey, "allowed-ips", ip.String()}, false); err != nil {
		return nil, fmt.Errorf("wg set peer %s: %w", redactKey(publicKey), err)
	}

	if _, err := c.runner.Run(ctx, []string{"down", c.InterfaceName}, true); err != nil {
		return nil, fmt.Errorf("cycling interface %s down: %w", c.InterfaceName, err)
	}
	if _, err := c.runner.Run(ctx, []string{"up", c.InterfaceName}, true); err != nil {
		return nil, fmt.Errorf("cycling interface %s up: %w", c.InterfaceName, err)
	}

	var addrStr *string
	if remoteAddress != nil {
		s := remoteAddress.String()
		addrStr = &s
	}

	peer := RegisteredPeer{
		PublicKey:     publicKey,
		PresharedKey:  presharedKey,
		RemoteAddress: addrStr,
		AllowedIPs:    []net.IP{ip},
	}
	c.Peers[publicKey] = peer
	c.AssignedIPs[ip.String()] = publicKey

	c.logger.Info("registered new peer",
		zap.String("public_key", redactKey(publicKey)),
		zap.String("vpn_ip", ip.String()),
	)

	return &peer, nil
}

// RefreshAndGetPeer re-scrapes the dump and returns the peer whose
// allowed-ips contains vpnIP.
func (c *Controller) RefreshAndGetPeer(ctx context.Context, vpnIP string) (*RegisteredPeer, error) {
	if err := c.RegisteredPeers(ctx); err != nil {
		return nil, err
	}

	publicKey, ok := c.AssignedIPs[vpnIP]
	if !ok {
		return nil, fmt.Errorf("no peer assigned %s", vpnIP)
	}
	peer, ok := c.Peers[publicKey]
	if !ok {
		return nil, fmt.Errorf("no peer assigned %s", vpnIP)
	}
	return &peer, nil
}

func redactKey(key string) string {
	if len(key) <= 8 {
		return key
	}
	return key[:8] + "..."
}
