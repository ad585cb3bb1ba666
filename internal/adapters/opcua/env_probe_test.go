package opcua

import (
	"context"
	"testing"
	"time"
)

func TestConfigDefaultsAndValidation(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()
	if cfg.PublishInterval != 250*time.Millisecond {
		t.Fatalf("expected default publish interval, got %s", cfg.PublishInterval)
	}
	if cfg.MaxAge != 10*time.Second {
		t.Fatalf("expected default max age, got %s", cfg.MaxAge)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation failure without endpoint")
	}

	cfg.Endpoint = "opc.tcp://localhost:4840"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation failure without nodes")
	}
	cfg.TempNode = "ns=2;s=Lab.TempC"
	cfg.HumidityNode = "ns=2;s=Lab.RH"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestReadEnvironmentFreshness(t *testing.T) {
	p := &Probe{cfg: Config{MaxAge: 100 * time.Millisecond}}
	ctx := context.Background()

	if _, err := p.ReadEnvironment(ctx); err == nil {
		t.Fatal("expected error before any data")
	}

	p.store(handleTemp, 22.5, time.Now())
	p.store(handleHumidity, 48.0, time.Now())

	env, err := p.ReadEnvironment(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !env.OK || env.TempC != 22.5 || env.HumidityPct != 48.0 {
		t.Fatalf("unexpected environment %+v", env)
	}

	p.store(handleTemp, 22.5, time.Now().Add(-time.Second))
	if _, err := p.ReadEnvironment(ctx); err == nil {
		t.Fatal("expected stale-data error")
	}
}

func TestNormalizeSecurityMode(t *testing.T) {
	if normalizeSecurityMode("sign") != "Sign" {
		t.Fatal("sign")
	}
	if normalizeSecurityMode("sign_and_encrypt") != "SignAndEncrypt" {
		t.Fatal("sign_and_encrypt")
	}
	if normalizeSecurityMode("anything") != "None" {
		t.Fatal("default")
	}
}
