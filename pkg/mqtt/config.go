package mqtt

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"time"
)

// ClientConfig holds the configuration for creating a new MQTT Client.
type ClientConfig struct {
	BrokerURL string
	ClientID  string

	// Username and Password are sent in CONNECT when Username is non-empty.
	Username string
	Password string

	// KeepAlive in seconds. Default is 30.
	KeepAlive uint16

	// ConnectTimeout for a single connection attempt. Default is 5s.
	ConnectTimeout time.Duration

	// CleanStart requests a fresh session on the initial connection.
	CleanStart bool

	// SessionExpiry in seconds, sent in CONNECT properties.
	SessionExpiry uint32

	// ReconnectMinDelay and ReconnectMaxDelay bound the exponential backoff
	// between reconnection attempts. Defaults are 1s and 10s.
	ReconnectMinDelay time.Duration
	ReconnectMaxDelay time.Duration

	// TLSConfig is used as-is for mqtts/ssl/tls/wss broker URLs. Nil means
	// the connection is made with the system defaults for those schemes, or
	// in the clear for plaintext schemes.
	TLSConfig *tls.Config

	// Will message registered at CONNECT time. Empty WillTopic disables it.
	WillTopic   string
	WillPayload []byte
	WillQoS     byte
	WillRetain  bool
}

// setDefaultConfig applies safe default values to the configuration.
func setDefaultConfig(cfg *ClientConfig) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 30
	}

	if cfg.ReconnectMinDelay == 0 {
		cfg.ReconnectMinDelay = time.Second
	}

	if cfg.ReconnectMaxDelay == 0 {
		cfg.ReconnectMaxDelay = 10 * time.Second
	}
}

// Validate checks if the configuration is valid.
func (c *ClientConfig) Validate() error {
	if c.BrokerURL == "" {
		return errors.New("broker url is required")
	}

	u, err := url.Parse(c.BrokerURL)
	if err != nil {
		return fmt.Errorf("invalid broker url: %w", err)
	}

	switch u.Scheme {
	case "mqtt", "mqtts", "tcp", "ssl", "tls", "ws", "wss":
	default:
		return fmt.Errorf("unsupported broker url scheme %q", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("broker url is missing a host")
	}

	if c.ReconnectMinDelay > c.ReconnectMaxDelay {
		return fmt.Errorf("reconnect min delay %s exceeds max delay %s", c.ReconnectMinDelay, c.ReconnectMaxDelay)
	}

	return nil
}
