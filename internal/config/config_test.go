package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Synthesis.MaxChunkChars != 3000 {
		t.Fatalf("expected default chunk budget 3000, got %d", cfg.Synthesis.MaxChunkChars)
	}
	if cfg.Synthesis.MaxParallel != 10 {
		t.Fatalf("expected default parallelism 10, got %d", cfg.Synthesis.MaxParallel)
	}
	if cfg.Storage.MaxSizeMB != 300 {
		t.Fatalf("expected default storage budget 300 MB, got %d", cfg.Storage.MaxSizeMB)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ALOUD_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("ALOUD_BUS_USERNAME", "alice")
	t.Setenv("ALOUD_BUS_TLS_INSECURE", "true")
	t.Setenv("ALOUD_STORAGE_DIR", "/tmp/audio")
	t.Setenv("ALOUD_STORAGE_MAX_SIZE_MB", "512")
	t.Setenv("ALOUD_SYNTHESIS_VOICE", "ru-RU-SvetlanaNeural")
	t.Setenv("ALOUD_SYNTHESIS_RATE", "+25%")
	t.Setenv("ALOUD_SYNTHESIS_MAX_PARALLEL", "4")
	t.Setenv("ALOUD_SYNTHESIS_VALIDATION_TOLERANCE", "0.5")
	t.Setenv("ALOUD_HISTORY_PATH", "./tmp.db")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" {
		t.Fatal("expected username override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Storage.Dir != "/tmp/audio" || cfg.Storage.MaxSizeMB != 512 {
		t.Fatalf("expected storage overrides, got %+v", cfg.Storage)
	}
	if cfg.Synthesis.Voice != "ru-RU-SvetlanaNeural" || cfg.Synthesis.Rate != "+25%" {
		t.Fatalf("expected voice overrides, got %+v", cfg.Synthesis)
	}
	if cfg.Synthesis.MaxParallel != 4 {
		t.Fatalf("expected parallelism override, got %d", cfg.Synthesis.MaxParallel)
	}
	if cfg.Synthesis.ValidationTolerance != 0.5 {
		t.Fatalf("expected tolerance override, got %f", cfg.Synthesis.ValidationTolerance)
	}
	if cfg.History.Path != "./tmp.db" {
		t.Fatal("expected history path override")
	}
}

func TestValidateRejectsBadModes(t *testing.T) {
	cfg := Default()
	cfg.Synthesis.Mode = "exec"
	cfg.Synthesis.Command = ""
	if err := validate(cfg); err == nil {
		t.Fatal("expected error for exec mode without command")
	}

	cfg = Default()
	cfg.Synthesis.Mode = "cloud"
	if err := validate(cfg); err == nil {
		t.Fatal("expected error for unknown synthesis mode")
	}

	cfg = Default()
	cfg.Extract.Mode = "exec"
	if err := validate(cfg); err == nil {
		t.Fatal("expected error for exec extract without command")
	}

	cfg = Default()
	cfg.Synthesis.ValidationTolerance = 1.5
	if err := validate(cfg); err == nil {
		t.Fatal("expected error for tolerance out of range")
	}
}
