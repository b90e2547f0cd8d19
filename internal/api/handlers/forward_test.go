package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/omnia-network/wg-gateway/internal/config"
	"github.com/omnia-network/wg-gateway/internal/directory"
	"go.uber.org/zap"
)

type stubRunner struct{}

func (stubRunner) Run(ctx context.Context, args []string, useWgQuick bool) (string, error) {
	if len(args) >= 2 && args[0] == "show" && args[1] == "interfaces" {
		return "wg0\n", nil
	}
	if len(args) >= 3 && args[2] == "public-key" {
		return "SERVER_PK\n", nil
	}
	if len(args) >= 3 && args[2] == "dump" {
		return "SERVER_PK\t(none)\t51820\toff\n" +
			"PK_A\t(none)\t203.0.113.9:51820\t10.13.13.2/32\t0\t0\toff\n", nil
	}
	return "", nil
}

func newTestHandlers(t *testing.T) *Handlers {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir, err := directory.Load(context.Background(), t.TempDir()+"/db.json", stubRunner{}, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := dir.InsertPeer("203.0.113.9", "10.13.13.2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg := &config.Config{ProxyInternalAddress: "10.13.13.1:8081"}
	return New(dir, cfg, zap.NewNop())
}

func TestForward_ClassifierPrecedence_ForwardToPeerWins(t *testing.T) {
	h := newTestHandlers(t)

	id, err := h.dir.GetPeerInfo("10.13.13.2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	router := gin.New()
	router.NoRoute(h.Forward)

	req := httptest.NewRequest(http.MethodGet, "/resource?x=1", nil)
	req.RemoteAddr = "198.51.100.1:9999"
	req.Header.Set("X-Forward-To-Peer", id.ID.String())
	req.Header.Set("X-Destination-Url", "http://should-not-be-used.example/")

	target, _, apiErr := h.classify(&gin.Context{Request: req})
	if apiErr != nil {
		t.Fatalf("unexpected classify error: %v", apiErr)
	}
	if target != "http://10.13.13.2:8888/" {
		t.Fatalf("expected X-Forward-To-Peer to win classification, got target %q", target)
	}
}

func TestForward_PeerToBackend(t *testing.T) {
	h := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/resource?x=1", nil)
	req.RemoteAddr = "10.13.13.2:45000"
	req.Header.Set("X-Destination-Url", "http://backend.example/api")

	target, mutate, apiErr := h.classify(&gin.Context{Request: req})
	if apiErr != nil {
		t.Fatalf("unexpected classify error: %v", apiErr)
	}
	if target != "http://backend.example/api" {
		t.Fatalf("expected http://backend.example/api, got %q", target)
	}

	hdr := http.Header{}
	mutate(hdr)
	if hdr.Get("X-Proxied-For") != "203.0.113.9" {
		t.Fatalf("expected X-Proxied-For 203.0.113.9, got %q", hdr.Get("X-Proxied-For"))
	}
}

func TestForward_UnknownPeer(t *testing.T) {
	h := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = "10.13.13.99:40000"
	req.Header.Set("X-Destination-Url", "http://y/")

	target, _, apiErr := h.classify(&gin.Context{Request: req})
	if apiErr == nil && target != "" {
		t.Fatalf("expected unknown peer to be rejected, got target %q", target)
	}
}
