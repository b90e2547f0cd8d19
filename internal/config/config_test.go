package config

import (
	"os"
	"testing"
)

func clearGatewayEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		os.Unsetenv(envName(key))
	}
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	clearGatewayEnv(t)
	os.Setenv("ENV", "production")
	defer os.Unsetenv("ENV")

	if _, err := Load(); err == nil {
		t.Fatal("expected an error when WIREGUARD_CONTAINER_NAME and PROXY_INTERNAL_ADDRESS are unset")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearGatewayEnv(t)
	os.Setenv("ENV", "production")
	os.Setenv("WIREGUARD_CONTAINER_NAME", "wireguard")
	os.Setenv("PROXY_INTERNAL_ADDRESS", "10.13.13.1")
	defer clearGatewayEnv(t)
	defer os.Unsetenv("ENV")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.EnableHTTPS {
		t.Fatal("expected EnableHTTPS to default to false")
	}
	if cfg.DockerDialTimeout.Seconds() != 10 {
		t.Fatalf("expected a 10s default docker dial timeout, got %s", cfg.DockerDialTimeout)
	}
}

func TestLoad_HTTPSRequiresCertAndKey(t *testing.T) {
	clearGatewayEnv(t)
	os.Setenv("ENV", "production")
	os.Setenv("WIREGUARD_CONTAINER_NAME", "wireguard")
	os.Setenv("PROXY_INTERNAL_ADDRESS", "10.13.13.1")
	os.Setenv("ENABLE_HTTPS", "true")
	defer clearGatewayEnv(t)
	defer os.Unsetenv("ENV")

	if _, err := Load(); err == nil {
		t.Fatal("expected an error when ENABLE_HTTPS=true without cert/key paths")
	}
}
