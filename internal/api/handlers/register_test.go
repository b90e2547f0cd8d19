package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func doRegister(t *testing.T, router *gin.Engine, publicKey, remoteAddr string) registerResponse {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"public_key": publicKey})
	req := httptest.NewRequest(http.MethodPost, "/register-to-vpn", bytes.NewReader(body))
	req.RemoteAddr = remoteAddr
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp registerResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unexpected error unmarshaling response: %v", err)
	}
	return resp
}

func TestRegister_Idempotence(t *testing.T) {
	h := newTestHandlers(t)
	router := gin.New()
	router.POST("/register-to-vpn", h.Register)

	validKey := "qJXrV+TyOP4zQZ/TCWWrKlBSkW8yOVQiTEWZzCNbMUw="

	first := doRegister(t, router, validKey, "203.0.113.50:51820")
	second := doRegister(t, router, validKey, "203.0.113.50:51820")

	if first.AssignedIP != second.AssignedIP {
		t.Fatalf("expected stable assigned_ip, got %q then %q", first.AssignedIP, second.AssignedIP)
	}
	if first.AssignedID != second.AssignedID {
		t.Fatalf("expected stable assigned_id, got %q then %q", first.AssignedID, second.AssignedID)
	}
}

func TestRegister_RejectsMalformedKey(t *testing.T) {
	h := newTestHandlers(t)
	router := gin.New()
	router.POST("/register-to-vpn", h.Register)

	body, _ := json.Marshal(map[string]string{"public_key": "not-a-valid-key"})
	req := httptest.NewRequest(http.MethodPost, "/register-to-vpn", bytes.NewReader(body))
	req.RemoteAddr = "203.0.113.50:51820"
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed key, got %d", rec.Code)
	}
}
