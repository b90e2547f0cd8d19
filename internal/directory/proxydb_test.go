package directory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/omnia-network/wg-gateway/internal/vpn"
	"go.uber.org/zap"
)

type fakeRunner struct {
	dump string
}

func (f *fakeRunner) Run(ctx context.Context, args []string, useWgQuick bool) (string, error) {
	if len(args) >= 1 && args[0] == "show" {
		if len(args) >= 2 && args[1] == "interfaces" {
			return "wg0\n", nil
		}
		if len(args) >= 3 && args[2] == "public-key" {
			return "SERVER_PK\n", nil
		}
		if len(args) >= 3 && args[2] == "dump" {
			return f.dump, nil
		}
	}
	return "", nil
}

func newTestDirectory(t *testing.T) (*Directory, vpn.CommandRunner, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "db.json")
	runner := &fakeRunner{dump: "SERVER_PK\t(none)\t51820\toff\n"}

	d, err := Load(context.Background(), path, runner, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return d, runner, path
}

func TestInsertPeer_IdempotentByVPNIP(t *testing.T) {
	d, _, _ := newTestDirectory(t)

	id1, err := d.InsertPeer("203.0.113.9", "10.13.13.2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	id2, err := d.InsertPeer("203.0.113.9", "10.13.13.2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if id1 != id2 {
		t.Fatalf("expected the same id on re-insertion, got %s and %s", id1, id2)
	}
	if len(d.internalMapping) != 1 || len(d.externalMapping) != 1 {
		t.Fatalf("expected exactly one directory entry, got internal=%d external=%d",
			len(d.internalMapping), len(d.externalMapping))
	}
}

func TestIndexInverse(t *testing.T) {
	d, _, _ := newTestDirectory(t)

	id, err := d.InsertPeer("203.0.113.9", "10.13.13.2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	vpnIP, err := d.GetPeerInternalIP(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	info, err := d.GetPeerInfo(vpnIP)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.ID != id {
		t.Fatalf("index inverse violated: external_mapping[%s] = %s, but internal_mapping[%s].id = %s", id, vpnIP, vpnIP, info.ID)
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	d, runner, path := newTestDirectory(t)

	if _, err := d.InsertPeer("203.0.113.9", "10.13.13.2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected db.json to exist: %v", err)
	}

	reloaded, err := Load(context.Background(), path, runner, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error reloading: %v", err)
	}

	if len(reloaded.internalMapping) != len(d.internalMapping) {
		t.Fatalf("expected %d entries, got %d", len(d.internalMapping), len(reloaded.internalMapping))
	}
	for vpnIP, info := range d.internalMapping {
		reloadedInfo, ok := reloaded.internalMapping[vpnIP]
		if !ok || reloadedInfo.ID != info.ID || reloadedInfo.PublicIP != info.PublicIP {
			t.Fatalf("mismatch for %s: want %+v, got %+v", vpnIP, info, reloadedInfo)
		}
	}
}
