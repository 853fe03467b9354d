package config

import "testing"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ADDR", "")
	t.Setenv("PORT", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("SEND_BUFFER", "")
	t.Setenv("ALLOWED_ORIGINS", "")
	t.Setenv("PEER_LEFT", "")

	cfg, err := Load(Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != DefaultAddr || cfg.LogLevel != DefaultLogLevel || cfg.SendBuffer != DefaultSendBuffer {
		t.Fatalf("cfg=%+v, want defaults", cfg)
	}
	if !cfg.PeerLeft {
		t.Fatalf("PeerLeft should default to true")
	}
	if !cfg.OriginAllowed("https://anything.example") {
		t.Fatalf("empty allow list should accept every origin")
	}
}

func TestLoad_EnvThenFlags(t *testing.T) {
	t.Setenv("ADDR", "")
	t.Setenv("PORT", "9000")
	t.Setenv("SEND_BUFFER", "32")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("PEER_LEFT", "false")

	cfg, err := Load(Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":9000" || cfg.SendBuffer != 32 || cfg.PeerLeft {
		t.Fatalf("cfg=%+v, want env values", cfg)
	}
	if !cfg.OriginAllowed("https://B.example") || cfg.OriginAllowed("https://c.example") {
		t.Fatalf("origin allow list not applied: %v", cfg.AllowedOrigins)
	}

	on := true
	cfg, err = Load(Options{Addr: "127.0.0.1:1", SendBuffer: 4, PeerLeft: &on})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != "127.0.0.1:1" || cfg.SendBuffer != 4 || !cfg.PeerLeft {
		t.Fatalf("cfg=%+v, want flag values", cfg)
	}
}

func TestLoad_RejectsBadEnv(t *testing.T) {
	t.Setenv("SEND_BUFFER", "lots")
	if _, err := Load(Options{}); err == nil {
		t.Fatalf("expected error for SEND_BUFFER=lots")
	}

	t.Setenv("SEND_BUFFER", "")
	t.Setenv("PEER_LEFT", "maybe")
	if _, err := Load(Options{}); err == nil {
		t.Fatalf("expected error for PEER_LEFT=maybe")
	}
}
