// Package bridge wires the forwarder together: configuration, the
// one-second supervisor loop that drives token refresh and the CONNECT
// watchdog, and the operational HTTP surface.
package bridge

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/opencardata/cardata-bridge/pkg/options"
)

// placeholderUUID is what the login helper writes before the operator fills
// in real ids. Refusing it early beats a cryptic broker rejection later.
const placeholderUUID = "11111111-1111-1111-1111-111111111111"

const (
	defaultVendorHost  = "customer.streaming-cardata.bmwgroup.com"
	defaultVendorPort  = 9000
	defaultLocalHost   = "127.0.0.1"
	defaultLocalPort   = 1883
	defaultLocalPrefix = "bmw/"
)

// Config is the bridge's runtime configuration. Values come from the .env
// file in the state directory, with the process environment taking
// precedence, so containerised deployments can override single keys.
type Config struct {
	ClientID  string // OAuth client id, doubles as the vendor MQTT client id
	AccountID string // vendor account id (GCID), username and topic root

	VendorHost   string
	VendorPort   int
	VendorCAFile string

	LocalHost     string
	LocalPort     int
	LocalPrefix   string
	LocalUser     string
	LocalPassword string

	// Ops configures the metrics/health listener; an empty address keeps it
	// off. The address may come from OPS_ADDR or the ops.addr flag.
	Ops *options.HTTPOptions
}

// Load reads dir/.env when present and overlays the process environment.
func Load(dir string) (*Config, error) {
	v := viper.New()

	v.SetDefault("CLIENT_ID", "")
	v.SetDefault("GCID", "")
	v.SetDefault("BMW_HOST", defaultVendorHost)
	v.SetDefault("BMW_PORT", defaultVendorPort)
	v.SetDefault("BMW_CA_FILE", "")
	v.SetDefault("LOCAL_HOST", defaultLocalHost)
	v.SetDefault("LOCAL_PORT", defaultLocalPort)
	v.SetDefault("LOCAL_PREFIX", defaultLocalPrefix)
	v.SetDefault("LOCAL_USER", "")
	v.SetDefault("LOCAL_PASSWORD", "")
	v.SetDefault("OPS_ADDR", "")

	envPath := filepath.Join(dir, ".env")
	if _, err := os.Stat(envPath); err == nil {
		v.SetConfigFile(envPath)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read %s: %w", envPath, err)
		}
	}

	// The environment wins over the file. Binding the documented keys keeps
	// lookups exact-cased instead of relying on viper's key mangling.
	v.AutomaticEnv()
	for _, key := range []string{
		"CLIENT_ID", "GCID", "BMW_HOST", "BMW_PORT", "BMW_CA_FILE",
		"LOCAL_HOST", "LOCAL_PORT", "LOCAL_PREFIX", "LOCAL_USER",
		"LOCAL_PASSWORD", "OPS_ADDR",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	ops := options.NewHTTPOptions()
	ops.Addr = v.GetString("OPS_ADDR")

	cfg := &Config{
		ClientID:      strings.TrimSpace(v.GetString("CLIENT_ID")),
		AccountID:     strings.TrimSpace(v.GetString("GCID")),
		VendorHost:    v.GetString("BMW_HOST"),
		VendorPort:    v.GetInt("BMW_PORT"),
		VendorCAFile:  v.GetString("BMW_CA_FILE"),
		LocalHost:     v.GetString("LOCAL_HOST"),
		LocalPort:     v.GetInt("LOCAL_PORT"),
		LocalPrefix:   v.GetString("LOCAL_PREFIX"),
		LocalUser:     v.GetString("LOCAL_USER"),
		LocalPassword: v.GetString("LOCAL_PASSWORD"),
		Ops:           ops,
	}

	// Every topic the bridge writes hangs off the prefix; a missing slash
	// would silently glue it onto the first level.
	if cfg.LocalPrefix != "" && !strings.HasSuffix(cfg.LocalPrefix, "/") {
		cfg.LocalPrefix += "/"
	}

	return cfg, nil
}

// Validate enforces the identity requirements. Both ids must be real UUIDs
// and not the documentation placeholder.
func (c *Config) Validate() error {
	if err := validateID("CLIENT_ID", c.ClientID); err != nil {
		return err
	}
	if err := validateID("GCID", c.AccountID); err != nil {
		return err
	}
	if c.VendorHost == "" {
		return fmt.Errorf("BMW_HOST must not be empty")
	}
	if c.VendorPort < 1 || c.VendorPort > 65535 {
		return fmt.Errorf("BMW_PORT %d out of range", c.VendorPort)
	}
	if c.LocalHost == "" {
		return fmt.Errorf("LOCAL_HOST must not be empty")
	}
	if c.LocalPort < 1 || c.LocalPort > 65535 {
		return fmt.Errorf("LOCAL_PORT %d out of range", c.LocalPort)
	}
	if errs := c.Ops.Validate(); len(errs) > 0 {
		return fmt.Errorf("OPS_ADDR: %w", errs[0])
	}
	return nil
}

func validateID(name, value string) error {
	if value == "" {
		return fmt.Errorf("%s is not set", name)
	}
	if _, err := uuid.Parse(value); err != nil {
		return fmt.Errorf("%s is not a valid UUID: %w", name, err)
	}
	if value == placeholderUUID {
		return fmt.Errorf("%s still holds the placeholder value", name)
	}
	return nil
}
