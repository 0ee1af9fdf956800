package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDynamicURLGeneration(t *testing.T) {
	os.Setenv("SHYFT_API_KEY", "test-shyft-key")
	os.Setenv("HELIUS_API_KEY", "test-helius-key")
	defer os.Unsetenv("SHYFT_API_KEY")
	defer os.Unsetenv("HELIUS_API_KEY")

	content := `
rpc:
    shyft_url: https://rpc.shyft.to
    fallback_url: https://mainnet.helius-rpc.com
    shyft_api_key_env: SHYFT_API_KEY
    helius_api_key_env: HELIUS_API_KEY
websocket:
    shyft_url: wss://rpc.shyft.to
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	m, err := NewManager(configPath)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	shyftURL := m.GetShyftRPCURL()
	expectedShyft := "https://rpc.shyft.to?api_key=test-shyft-key"
	if shyftURL != expectedShyft {
		t.Errorf("GetShyftRPCURL = %q, want %q", shyftURL, expectedShyft)
	}

	fallbackURL := m.GetFallbackRPCURL()
	if !strings.Contains(fallbackURL, "https://mainnet.helius-rpc.com") || !strings.Contains(fallbackURL, "api-key=test-helius-key") {
		t.Errorf("GetFallbackRPCURL = %q, want it to contain base url and api key", fallbackURL)
	}

	wsURL := m.GetShyftWSURL()
	expectedWS := "wss://rpc.shyft.to?api_key=test-shyft-key"
	if wsURL != expectedWS {
		t.Errorf("GetShyftWSURL = %q, want %q", wsURL, expectedWS)
	}
}

func TestDynamicURLGeneration_ExistingQueryParams(t *testing.T) {
	os.Setenv("SHYFT_API_KEY", "test-shyft-key")
	defer os.Unsetenv("SHYFT_API_KEY")

	content := `
rpc:
    shyft_url: https://rpc.shyft.to?param=value
    shyft_api_key_env: SHYFT_API_KEY
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	m, err := NewManager(configPath)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	shyftURL := m.GetShyftRPCURL()
	expectedShyft := "https://rpc.shyft.to?param=value&api_key=test-shyft-key"
	if shyftURL != expectedShyft {
		t.Errorf("GetShyftRPCURL = %q, want %q", shyftURL, expectedShyft)
	}
}

func TestDefaultsApplied(t *testing.T) {
	content := `
rpc:
    shyft_url: https://rpc.shyft.to
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	m, err := NewManager(configPath)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	cfg := m.Get()
	if cfg.ExecQueue.MinSpacingMs != 2000 {
		t.Errorf("exec_queue.min_spacing_ms default = %d, want 2000", cfg.ExecQueue.MinSpacingMs)
	}
	if cfg.Safety.PassThreshold != 0.60 {
		t.Errorf("safety.pass_threshold default = %v, want 0.60", cfg.Safety.PassThreshold)
	}
	if cfg.Breaker.DailyLossLimitUSD != 500.0 {
		t.Errorf("breaker.daily_loss_limit_usd default = %v, want 500.0", cfg.Breaker.DailyLossLimitUSD)
	}
	if cfg.ExecQueue.MinSpacing().String() != "2s" {
		t.Errorf("MinSpacing() = %v, want 2s", cfg.ExecQueue.MinSpacing())
	}
}

func TestReload(t *testing.T) {
	content := `
breaker:
    daily_loss_limit_usd: 500
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	m, err := NewManager(configPath)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	received := make(chan *Config, 1)
	m.SetOnChange(func(c *Config) { received <- c })

	if err := os.WriteFile(configPath, []byte(`
breaker:
    daily_loss_limit_usd: 750
`), 0644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	m.Reload()

	select {
	case cfg := <-received:
		if cfg.Breaker.DailyLossLimitUSD != 750 {
			t.Errorf("reloaded daily_loss_limit_usd = %v, want 750", cfg.Breaker.DailyLossLimitUSD)
		}
	default:
		t.Fatal("onChange callback was not invoked by Reload")
	}
}
