package bridge

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const (
	testClientID  = "6a17b27c-24d6-4e3f-9f32-bd2f28f0b8e5"
	testAccountID = "d9e56c24-8b13-4a2e-9d91-4a8a2f0c7b11"
)

// clearBridgeEnv keeps ambient environment out of config tests.
func clearBridgeEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CLIENT_ID", "GCID", "BMW_HOST", "BMW_PORT", "BMW_CA_FILE",
		"LOCAL_HOST", "LOCAL_PORT", "LOCAL_PREFIX", "LOCAL_USER",
		"LOCAL_PASSWORD", "OPS_ADDR",
	} {
		t.Setenv(key, "")
	}
}

func writeEnvFile(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearBridgeEnv(t)

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.VendorHost != defaultVendorHost {
		t.Errorf("VendorHost = %q", cfg.VendorHost)
	}
	if cfg.VendorPort != 9000 {
		t.Errorf("VendorPort = %d, want 9000", cfg.VendorPort)
	}
	if cfg.LocalHost != "127.0.0.1" || cfg.LocalPort != 1883 {
		t.Errorf("local broker = %s:%d, want 127.0.0.1:1883", cfg.LocalHost, cfg.LocalPort)
	}
	if cfg.LocalPrefix != "bmw/" {
		t.Errorf("LocalPrefix = %q, want bmw/", cfg.LocalPrefix)
	}
	if cfg.ClientID != "" || cfg.AccountID != "" {
		t.Errorf("ids should default empty, got %q/%q", cfg.ClientID, cfg.AccountID)
	}
	if cfg.Ops.Enabled() {
		t.Errorf("ops listener = %q, want disabled", cfg.Ops.Addr)
	}
}

func TestLoadEnvFile(t *testing.T) {
	clearBridgeEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, strings.Join([]string{
		"CLIENT_ID=" + testClientID,
		`GCID="` + testAccountID + `"`, // quotes are stripped
		"LOCAL_HOST=mosquitto.lan",
		"LOCAL_PORT=11883",
		"LOCAL_PREFIX=cardata", // missing slash gets appended
		"OPS_ADDR=:9090",
	}, "\n")+"\n")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ClientID != testClientID {
		t.Errorf("ClientID = %q", cfg.ClientID)
	}
	if cfg.AccountID != testAccountID {
		t.Errorf("AccountID = %q", cfg.AccountID)
	}
	if cfg.LocalHost != "mosquitto.lan" || cfg.LocalPort != 11883 {
		t.Errorf("local broker = %s:%d", cfg.LocalHost, cfg.LocalPort)
	}
	if cfg.LocalPrefix != "cardata/" {
		t.Errorf("LocalPrefix = %q, want cardata/", cfg.LocalPrefix)
	}
	if cfg.Ops.Addr != ":9090" {
		t.Errorf("ops addr = %q", cfg.Ops.Addr)
	}
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	clearBridgeEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, "LOCAL_HOST=10.0.0.1\nBMW_PORT=9000\n")

	t.Setenv("LOCAL_HOST", "192.168.1.5")
	t.Setenv("BMW_PORT", "9443")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LocalHost != "192.168.1.5" {
		t.Errorf("LocalHost = %q, want the environment value", cfg.LocalHost)
	}
	if cfg.VendorPort != 9443 {
		t.Errorf("VendorPort = %d, want 9443", cfg.VendorPort)
	}
}

func TestLoadMalformedEnvFile(t *testing.T) {
	clearBridgeEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, "this line has no separator\n")

	if _, err := Load(dir); err == nil {
		t.Error("expected error for malformed .env")
	}
}

func TestLoadMissingEnvFileIsFine(t *testing.T) {
	clearBridgeEnv(t)
	t.Setenv("CLIENT_ID", testClientID)

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ClientID != testClientID {
		t.Errorf("ClientID = %q, want environment value without a file", cfg.ClientID)
	}
}

func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			ClientID:   testClientID,
			AccountID:  testAccountID,
			VendorHost: defaultVendorHost,
			VendorPort: 9000,
			LocalHost:  "127.0.0.1",
			LocalPort:  1883,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"client id empty", func(c *Config) { c.ClientID = "" }, true},
		{"client id not a uuid", func(c *Config) { c.ClientID = "not-a-uuid" }, true},
		{"client id placeholder", func(c *Config) { c.ClientID = placeholderUUID }, true},
		{"account id empty", func(c *Config) { c.AccountID = "" }, true},
		{"account id placeholder", func(c *Config) { c.AccountID = placeholderUUID }, true},
		{"vendor host empty", func(c *Config) { c.VendorHost = "" }, true},
		{"vendor port zero", func(c *Config) { c.VendorPort = 0 }, true},
		{"local port out of range", func(c *Config) { c.LocalPort = 66000 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
