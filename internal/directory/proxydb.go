// Package directory owns ProxyDb, the durable dual index mapping peer
// identity, VPN IP, and last-known public IP, backed by the VPN controller
// and persisted as a single JSON document.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/omnia-network/wg-gateway/internal/vpn"
	"go.uber.org/zap"
)

// DefaultPath is where the directory is persisted.
const DefaultPath = "data/db.json"

// PeerInfo is the directory's view of a peer: its stable id and last-known
// public IP.
type PeerInfo struct {
	ID       uuid.UUID `json:"id"`
	PublicIP string    `json:"public_ip"`
}

// document is the on-disk JSON shape.
type document struct {
	InternalMapping map[string]PeerInfo `json:"internal_mapping"` // vpn_ip -> PeerInfo
	ExternalMapping map[string]string   `json:"external_mapping"` // uuid -> vpn_ip
	VPN             *vpn.Controller     `json:"vpn"`
}

// Directory is the process-wide ProxyDb. Exported locking methods let a
// caller hold the lock across a multi-step classify-then-mutate sequence,
// matching the single-mutex concurrency model: every handler acquires the
// lock for the duration of its work and releases it before any downstream
// streaming begins.
type Directory struct {
	sync.Mutex

	path   string
	logger *zap.Logger

	internalMapping map[string]PeerInfo
	externalMapping map[uuid.UUID]string
	vpn             *vpn.Controller
}

// Load reads path if it exists and rehydrates a Directory from it;
// otherwise it constructs a fresh Directory by scraping the WireGuard
// daemon through runner and seeding one directory entry per peer already
// known to it that has a remote address on record.
func Load(ctx context.Context, path string, runner vpn.CommandRunner, logger *zap.Logger) (*Directory, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return newDirectory(ctx, path, runner, logger)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if doc.VPN == nil {
		return nil, fmt.Errorf("%s: missing vpn section", path)
	}
	doc.VPN.Attach(runner, logger)

	externalMapping := make(map[uuid.UUID]string, len(doc.ExternalMapping))
	for idStr, vpnIP := range doc.ExternalMapping {
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid peer id %q: %w", path, idStr, err)
		}
		externalMapping[id] = vpnIP
	}

	internalMapping := doc.InternalMapping
	if internalMapping == nil {
		internalMapping = map[string]PeerInfo{}
	}

	return &Directory{
		path:            path,
		logger:          logger,
		internalMapping: internalMapping,
		externalMapping: externalMapping,
		vpn:             doc.VPN,
	}, nil
}

// newDirectory constructs a fresh Directory by scraping the WireGuard
// daemon and minting a directory entry for every peer it already knows
// about that has a remote address on record.
func newDirectory(ctx context.Context, path string, runner vpn.CommandRunner, logger *zap.Logger) (*Directory, error) {
	controller, err := vpn.New(ctx, runner, logger)
	if err != nil {
		return nil, err
	}

	d := &Directory{
		path:            path,
		logger:          logger,
		internalMapping: map[string]PeerInfo{},
		externalMapping: map[uuid.UUID]string{},
		vpn:             controller,
	}

	for _, peer := range controller.Peers {
		if peer.RemoteAddress == nil {
			continue
		}
		vpnIP := peer.VPNIP().String()
		publicIP, err := splitHostOnly(*peer.RemoteAddress)
		if err != nil {
			logger.Warn("skipping peer with unparseable remote address during seed",
				zap.String("vpn_ip", vpnIP))
			continue
		}
		d.insertPeerLocked(publicIP, vpnIP)
	}

	if err := d.save(); err != nil {
		return nil, err
	}

	return d, nil
}

// VPN exposes the embedded controller, e.g. for the registration handler's
// server-public-key response field.
func (d *Directory) VPN() *vpn.Controller {
	return d.vpn
}

// AddOrUpdatePeer delegates to the embedded VPN controller. Callers must
// hold the directory lock.
func (d *Directory) AddOrUpdatePeer(ctx context.Context, publicKey string, presharedKey *string, remoteAddress *net.UDPAddr) (*vpn.RegisteredPeer, error) {
	return d.vpn.AddOrUpdatePeer(ctx, publicKey, presharedKey, remoteAddress)
}

// RefreshAndGetPeer delegates to the embedded VPN controller. Callers must
// hold the directory lock.
func (d *Directory) RefreshAndGetPeer(ctx context.Context, vpnIP string) (*vpn.RegisteredPeer, error) {
	return d.vpn.RefreshAndGetPeer(ctx, vpnIP)
}

// InsertPeer records a directory entry for (publicIP, vpnIP), persists, and
// returns its id. If vpnIP already has a PeerInfo, that existing entry
// (and its id) is preserved rather than minting a duplicate (the
// directory only refreshes its public_ip in that case). Callers must hold
// the directory lock.
func (d *Directory) InsertPeer(publicIP, vpnIP string) (uuid.UUID, error) {
	id := d.insertPeerLocked(publicIP, vpnIP)
	if err := d.save(); err != nil {
		return id, err
	}
	return id, nil
}

func (d *Directory) insertPeerLocked(publicIP, vpnIP string) uuid.UUID {
	if existing, ok := d.internalMapping[vpnIP]; ok {
		existing.PublicIP = publicIP
		d.internalMapping[vpnIP] = existing
		return existing.ID
	}

	id := uuid.New()
	d.internalMapping[vpnIP] = PeerInfo{ID: id, PublicIP: publicIP}
	d.externalMapping[id] = vpnIP
	return id
}

// GetPeerInfo looks up the directory entry for a VPN IP. Callers must hold
// the directory lock.
func (d *Directory) GetPeerInfo(vpnIP string) (PeerInfo, error) {
	info, ok := d.internalMapping[vpnIP]
	if !ok {
		return PeerInfo{}, fmt.Errorf("no directory entry for %s", vpnIP)
	}
	return info, nil
}

// GetPeerInternalIP resolves a peer id to its VPN IP. Callers must hold the
// directory lock.
func (d *Directory) GetPeerInternalIP(id uuid.UUID) (string, error) {
	vpnIP, ok := d.externalMapping[id]
	if !ok {
		return "", fmt.Errorf("no directory entry for peer %s", id)
	}
	return vpnIP, nil
}

// GetPeerPublicIP returns the last-known public IP for vpnIP, consulting
// the directory first and falling back to a live VPN refresh on miss.
// Callers must hold the directory lock.
func (d *Directory) GetPeerPublicIP(ctx context.Context, vpnIP string) (string, error) {
	if info, ok := d.internalMapping[vpnIP]; ok {
		return info.PublicIP, nil
	}

	peer, err := d.vpn.RefreshAndGetPeer(ctx, vpnIP)
	if err != nil {
		return "", err
	}
	if peer.RemoteAddress == nil {
		return "", fmt.Errorf("peer at %s has no remote address on record", vpnIP)
	}
	publicIP, err := splitHostOnly(*peer.RemoteAddress)
	if err != nil {
		return "", err
	}

	if err := d.save(); err != nil {
		d.logger.Warn("failed to persist directory after vpn refresh", zap.Error(err))
	}
	return publicIP, nil
}

// save atomically rewrites the JSON document: write to a temp file in the
// same directory, then rename over the target, so a crash mid-write never
// leaves a truncated db.json.
func (d *Directory) save() error {
	externalMapping := make(map[string]string, len(d.externalMapping))
	for id, vpnIP := range d.externalMapping {
		externalMapping[id.String()] = vpnIP
	}

	doc := document{
		InternalMapping: d.internalMapping,
		ExternalMapping: externalMapping,
		VPN:             d.vpn,
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling directory: %w", err)
	}

	dir := filepath.Dir(d.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".db-*.json.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpName, d.path); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}

	return nil
}

// splitHostOnly strips the port from an "ip:port" endpoint string.
func splitHostOnly(hostport string) (string, error) {
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		return "", fmt.Errorf("parsing endpoint %q: %w", hostport, err)
	}
	return host, nil
}
