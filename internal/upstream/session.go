package upstream

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/eclipse/paho.golang/paho/session/state"

	"github.com/opencardata/cardata-bridge/internal/pkg/metrics"
	"github.com/opencardata/cardata-bridge/pkg/log"
	"github.com/opencardata/cardata-bridge/pkg/mqtt/topic"
)

// MessageHandler receives every message arriving on the account subscription.
// It runs on the client's inbound path, so it must not block; handlers that
// publish do so through a queue.
type MessageHandler func(topic string, payload []byte)

// StatusSink is told about every connectivity transition so the local side
// can announce it.
type StatusSink interface {
	Publish(connected bool)
}

// Config describes one vendor broker session. The identity token is fixed
// for the session's lifetime; adopting a fresh token means building a new
// Session.
type Config struct {
	Host          string
	Port          int
	ClientID      string // MQTT client identifier, the OAuth client id
	AccountID     string // username and first topic level of the subscription
	IdentityToken string // password
	CAFile        string // optional PEM bundle, system roots when empty

	KeepAlive      uint16
	ConnectTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.KeepAlive == 0 {
		c.KeepAlive = 30
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 30 * time.Second
	}
}

func (c *Config) validate() error {
	if c.Host == "" {
		return fmt.Errorf("broker host is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("broker port %d out of range", c.Port)
	}
	if c.ClientID == "" {
		return fmt.Errorf("client id is required")
	}
	if c.AccountID == "" {
		return fmt.Errorf("account id is required")
	}
	if c.IdentityToken == "" {
		return fmt.Errorf("identity token is required")
	}
	return nil
}

// Session owns one generation of the vendor client. The supervisor builds a
// fresh Session whenever credentials rotate or the watchdog fires, and never
// reuses a stopped one.
type Session struct {
	cfg     Config
	st      *State
	handler MessageHandler
	status  StatusSink

	tlsCfg *tls.Config
	cm     *autopaho.ConnectionManager
	cancel context.CancelFunc
}

// New validates cfg and prepares a Session. The TLS material is loaded here
// so that a bad CA file surfaces before any connect is attempted.
func New(cfg Config, st *State, handler MessageHandler, status StatusSink) (*Session, error) {
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid upstream config: %w", err)
	}

	tlsCfg, err := newTLSConfig(cfg.CAFile)
	if err != nil {
		return nil, err
	}

	return &Session{
		cfg:     cfg,
		st:      st,
		handler: handler,
		status:  status,
		tlsCfg:  tlsCfg,
	}, nil
}

func newTLSConfig(caFile string) (*tls.Config, error) {
	if caFile == "" {
		return &tls.Config{}, nil
	}
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read CA bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", caFile)
	}
	return &tls.Config{RootCAs: pool}, nil
}

// Start launches the connection manager and arms the CONNECT watchdog. The
// caller must only invoke it while the backoff fence is open.
func (s *Session) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(fmt.Sprintf("mqtts://%s:%d", s.cfg.Host, s.cfg.Port))
	if err != nil {
		return fmt.Errorf("broker url: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	inner := autopaho.NewExponentialBackoff(time.Second, 10*time.Second, time.Second, 2.0)

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{brokerURL},
		TlsCfg:                        s.tlsCfg,
		KeepAlive:                     s.cfg.KeepAlive,
		CleanStartOnInitialConnection: true,
		SessionExpiryInterval:         0,
		ConnectTimeout:                s.cfg.ConnectTimeout,
		ReconnectBackoff: func(attempt int) time.Duration {
			return s.fencedDelay(inner(attempt))
		},
		ConnectUsername:      s.cfg.AccountID,
		ConnectPassword:      []byte(s.cfg.IdentityToken),
		ConnectPacketBuilder: func(c *paho.Connect, u *url.URL) (*paho.Connect, error) {
			return s.buildConnect(c, u), nil
		},
		OnConnectionUp:       s.onConnectionUp,
		OnConnectionDown:     s.onConnectionDown,
		OnConnectError:       s.onConnectError,
		Debug:                pahoLog{prefix: "autopaho"},
		PahoDebug:            pahoLog{prefix: "paho"},
		ClientConfig: paho.ClientConfig{
			ClientID:           s.cfg.ClientID,
			Session:            state.NewInMemory(),
			OnClientError:      s.onClientError,
			OnServerDisconnect: s.onServerDisconnect,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				s.onPublishReceived,
			},
		},
	}

	log.Info("Starting vendor broker session",
		"server", brokerURL.String(), "clientID", s.cfg.ClientID, "account", s.cfg.AccountID)

	// Stamp before NewConnection so a dial that never completes still ages
	// against the watchdog.
	s.st.StampConnectAttempt(time.Now().Unix())

	cm, err := autopaho.NewConnection(runCtx, pahoCfg)
	if err != nil {
		cancel()
		return err
	}
	s.cm = cm
	return nil
}

// Stop tears the client down. Safe on a session that never started.
func (s *Session) Stop() {
	if s.cm != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = s.cm.Disconnect(ctx)
		cancel()
	}
	if s.cancel != nil {
		s.cancel()
	}
}

// fencedDelay stretches the library's reconnect delay so no CONNECT goes out
// while the backoff fence is closed.
func (s *Session) fencedDelay(d time.Duration) time.Duration {
	until := time.Until(time.Unix(s.st.NextConnectAfter(), 0))
	if until > d {
		return until
	}
	return d
}

// buildConnect runs for every CONNECT the library sends, including automatic
// reconnects, making it the one place the watchdog is armed for retries.
func (s *Session) buildConnect(c *paho.Connect, u *url.URL) *paho.Connect {
	s.st.StampConnectAttempt(time.Now().Unix())
	log.Debug("Sending CONNECT", "server", u.Host, "clientID", c.ClientID)
	return c
}

func (s *Session) onConnectionUp(cm *autopaho.ConnectionManager, ack *paho.Connack) {
	s.st.SetConnected(true)
	s.st.ClearConnectAttempt()
	metrics.UpstreamConnected.Set(1)
	log.Info("Connected to vendor broker", "sessionPresent", ack.SessionPresent)

	filter := topic.VendorStream(s.cfg.AccountID)
	subCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	suback, err := cm.Subscribe(subCtx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: filter, QoS: 1},
		},
	})
	if err != nil {
		log.Error(err, "Subscribe to account topics failed", "filter", filter)
	} else {
		log.Info("Subscribed to account topics", "filter", filter, "reasons", suback.Reasons)
	}

	s.status.Publish(true)
}

func (s *Session) onConnectionDown() bool {
	s.st.SetConnected(false)
	metrics.UpstreamConnected.Set(0)
	s.status.Publish(false)
	log.Warn("Vendor broker connection lost")
	return true
}

// classifyConnectError maps a failed attempt to the fence delay and a class
// label. reasonCode is -1 when the failure happened below the MQTT layer.
func classifyConnectError(err error) (delay time.Duration, class string, reasonCode int) {
	var connack *autopaho.ConnackError
	if errors.As(err, &connack) {
		return ConnectBackoff(connack.ReasonCode), BackoffClass(connack.ReasonCode), int(connack.ReasonCode)
	}
	return TransportBackoff, "transport", -1
}

func (s *Session) onConnectError(err error) {
	now := time.Now().Unix()
	delay, class, reasonCode := classifyConnectError(err)
	s.st.DeferConnectsUntil(FenceDeadline(now, delay))
	s.st.SetConnected(false)
	metrics.UpstreamConnected.Set(0)
	metrics.ConnectBackoffTotal.WithLabelValues(class).Inc()
	s.status.Publish(false)

	if reasonCode >= 0 {
		log.Warn("Vendor broker refused connection",
			"reasonCode", reasonCode, "class", class, "backoff", delay, "error", err)
	} else {
		log.Warn("Vendor connect attempt failed", "backoff", delay, "error", err)
	}
}

// onClientError fires on transport failures of an established link, the
// closest signal to a TLS error or unexpected EOF mid-session.
func (s *Session) onClientError(err error) {
	now := time.Now().Unix()
	s.st.SetConnected(false)
	s.st.DeferConnectsUntil(FenceDeadline(now, TransportBackoff))
	metrics.UpstreamConnected.Set(0)
	metrics.ConnectBackoffTotal.WithLabelValues("transport").Inc()
	s.status.Publish(false)
	log.Warn("Vendor session transport error", "backoff", TransportBackoff, "error", err)
}

func (s *Session) onServerDisconnect(d *paho.Disconnect) {
	reason := ""
	if d.Properties != nil {
		reason = d.Properties.ReasonString
	}
	// Connectivity bookkeeping happens in onConnectionDown, which follows.
	log.Warn("Vendor broker sent DISCONNECT", "reasonCode", int(d.ReasonCode), "reason", reason)
}

// onPublishReceived runs inline on the inbound path; the republisher only
// issues queued publishes, so ordering is preserved without risking a stall.
func (s *Session) onPublishReceived(pr paho.PublishReceived) (bool, error) {
	metrics.MessagesReceivedTotal.Inc()
	s.handler(pr.Packet.Topic, pr.Packet.Payload)
	return true, nil
}
