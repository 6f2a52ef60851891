package bridge

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opencardata/cardata-bridge/internal/pkg/metrics"
	"github.com/opencardata/cardata-bridge/internal/republish"
	"github.com/opencardata/cardata-bridge/internal/token"
	"github.com/opencardata/cardata-bridge/internal/upstream"
	"github.com/opencardata/cardata-bridge/pkg/log"
	"github.com/opencardata/cardata-bridge/pkg/mqtt"
)

// Boot failure exit codes. Startup scripts key off these.
const (
	ExitCodeConfig        = 1 // state dir, ids or tokens unusable
	ExitCodeLocalSetup    = 2 // local client could not be built
	ExitCodeLocalConnect  = 3 // local broker unreachable
	ExitCodeUpstreamSetup = 4 // vendor client could not be built
)

// ExitError carries the process exit code for a boot failure.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

func exitErr(code int, err error) error {
	return &ExitError{Code: code, Err: err}
}

// Supervisor timing, in seconds.
const (
	softRefreshMargin   = 600 // refresh this long before the token expires
	clockSkewMargin     = 60
	hardRefreshInterval = 2700 // refresh at least this often regardless
	refreshThrottle     = 10
	connectHungAfter    = 30 // CONNECT without CONNACK for this long is hung
)

const (
	localClientID       = "cardata-local-forwarder"
	localConnectTimeout = 30 * time.Second
)

// Bridge owns every moving part of the forwarder: the local and vendor MQTT
// clients, the token store, and the supervisor that keeps the vendor session
// authenticated.
type Bridge struct {
	cfg   *Config
	store *token.Store

	state     *upstream.State
	refresher *token.Refresher
	watcher   *token.Watcher
	tr        *tracker
	ops       *opsServer

	local   mqtt.Client
	status  *republish.StatusPublisher
	repub   *republish.Republisher
	session *upstream.Session

	creds *token.Credentials

	// Supervisor-local refresh bookkeeping; only the supervisor goroutine
	// touches these.
	lastRefreshAttempt    int64
	lastSuccessfulRefresh int64
	trackerConnected      bool
}

// New validates cfg and assembles the bridge. All network activity waits
// for Run.
func New(cfg *Config, store *token.Store) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, exitErr(ExitCodeConfig, err)
	}

	b := &Bridge{
		cfg:       cfg,
		store:     store,
		state:     &upstream.State{},
		refresher: token.NewRefresher(store, cfg.ClientID),
		tr:        newTracker(),
	}

	// The watcher is an add-on for external login flows; the bridge runs
	// fine without it.
	if w, err := token.NewWatcher(store); err != nil {
		log.Warn("Token file watcher unavailable", "error", err)
	} else {
		b.watcher = w
	}

	if cfg.Ops.Enabled() {
		b.ops = newOpsServer(cfg.Ops, b.state, b.tr)
	}

	return b, nil
}

// Run boots the bridge and blocks until ctx ends or a component fails. Boot
// failures come back as ExitError.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.bootCredentials(ctx); err != nil {
		return err
	}
	if err := b.startLocal(ctx); err != nil {
		return err
	}
	if err := b.startUpstream(ctx); err != nil {
		return err
	}
	defer b.teardown()

	g, gctx := errgroup.WithContext(ctx)
	if b.watcher != nil {
		g.Go(func() error { return b.watcher.Run(gctx) })
	}
	if b.ops != nil {
		g.Go(func() error { return b.ops.Run(gctx) })
	}
	g.Go(func() error { return b.supervise(gctx) })
	return g.Wait()
}

// bootCredentials loads the persisted tokens and insists on a usable
// identity token before any broker is contacted.
func (b *Bridge) bootCredentials(ctx context.Context) error {
	creds, err := b.store.Load()
	if err != nil {
		return exitErr(ExitCodeConfig, err)
	}
	b.creds = creds

	exp := token.IdentityExpiry(creds.IdentityToken)
	if exp == 0 {
		log.Warn("Identity token has no usable expiry, refreshing before startup")
		fresh, rerr := b.doRefresh(ctx)
		if rerr != nil {
			return exitErr(ExitCodeConfig, fmt.Errorf("cannot obtain a valid identity token: %w", rerr))
		}
		b.creds = fresh
		exp = token.IdentityExpiry(fresh.IdentityToken)
	}

	b.state.SetIdentityExpiry(exp)
	metrics.IdentityTokenExpiry.Set(float64(exp))
	log.Info("Loaded vendor credentials", "identityExpiry", exp)
	return nil
}

func (b *Bridge) startLocal(ctx context.Context) error {
	localCfg := &mqtt.ClientConfig{
		BrokerURL:   fmt.Sprintf("mqtt://%s:%d", b.cfg.LocalHost, b.cfg.LocalPort),
		ClientID:    localClientID,
		KeepAlive:   30,
		CleanStart:  true,
		WillTopic:   b.cfg.LocalPrefix + "status",
		WillPayload: republish.WillPayload(),
		WillQoS:     0,
		WillRetain:  true,
	}
	// Anonymous unless both parts are configured.
	if b.cfg.LocalUser != "" && b.cfg.LocalPassword != "" {
		localCfg.Username = b.cfg.LocalUser
		localCfg.Password = b.cfg.LocalPassword
	}

	local, err := mqtt.NewClient(localCfg)
	if err != nil {
		return exitErr(ExitCodeLocalSetup, err)
	}
	b.local = local
	b.status = republish.NewStatusPublisher(local, b.cfg.LocalPrefix)
	b.repub = republish.NewRepublisher(local, b.cfg.LocalPrefix)

	if err := local.Start(ctx); err != nil {
		return exitErr(ExitCodeLocalConnect, err)
	}

	// Prime the retained status before the vendor side does anything.
	b.status.Publish(false)

	awaitCtx, cancel := context.WithTimeout(ctx, localConnectTimeout)
	defer cancel()
	if err := local.AwaitConnection(awaitCtx); err != nil {
		return exitErr(ExitCodeLocalConnect,
			fmt.Errorf("local broker %s:%d unreachable: %w", b.cfg.LocalHost, b.cfg.LocalPort, err))
	}
	log.Info("Connected to local broker", "host", b.cfg.LocalHost, "port", b.cfg.LocalPort)
	return nil
}

func (b *Bridge) startUpstream(ctx context.Context) error {
	sess, err := upstream.New(b.upstreamConfig(), b.state, b.repub.Handle, b.status)
	if err != nil {
		return exitErr(ExitCodeUpstreamSetup, err)
	}
	b.session = sess

	now := time.Now().Unix()
	if b.state.FenceOpen(now) {
		b.tr.observe(ctx, eventConnect)
		if err := sess.Start(ctx); err != nil {
			// Not fatal: the stamp is armed, so the watchdog rebuilds.
			log.Error(err, "Initial vendor connect failed")
		}
	} else {
		log.Info("Initial connect delayed by backoff fence",
			"remaining", b.state.NextConnectAfter()-now)
	}
	return nil
}

// supervise is the one-second heartbeat. Each tick: track state changes,
// honor the backoff fence, adopt rotated tokens, refresh when due, and
// rebuild hung connects.
func (b *Bridge) supervise(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	b.lastSuccessfulRefresh = time.Now().Unix()
	log.Info("Bridge running")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		now := time.Now().Unix()

		b.reconcileTracker(ctx, now)

		// Backoff fence closed: no connect-class action this tick.
		if !b.state.FenceOpen(now) {
			continue
		}

		b.adoptRotatedTokens(ctx, now)

		if due, kind := b.refreshDue(now); due {
			b.refresh(ctx, now, kind)
		}

		b.watchdog(ctx, now)
	}
}

// reconcileTracker feeds connectivity flips and fence movement into the
// state tracker. Purely observational.
func (b *Bridge) reconcileTracker(ctx context.Context, now int64) {
	connected := b.state.Connected()
	if connected != b.trackerConnected {
		b.trackerConnected = connected
		if connected {
			b.tr.observe(ctx, eventConnackOK)
		} else {
			b.tr.observe(ctx, eventConnectionLost)
		}
	}

	if connected {
		return
	}
	cur := b.tr.current()
	if !b.state.FenceOpen(now) {
		if cur == stateIdle || cur == stateConnecting {
			b.tr.observe(ctx, eventConnackFail)
		}
	} else if cur == stateBackingOff {
		b.tr.observe(ctx, eventFenceOpen)
	}
}

// refreshDue reports whether a token refresh should run this tick and which
// pressure triggered it. Attempts are throttled so a broken endpoint is not
// hammered every second.
func (b *Bridge) refreshDue(now int64) (bool, string) {
	soft := (b.state.IdentityExpiry() - now) <= softRefreshMargin+clockSkewMargin
	hard := (now - b.lastSuccessfulRefresh) >= hardRefreshInterval
	if !soft && !hard {
		return false, ""
	}
	if now-b.lastRefreshAttempt <= refreshThrottle {
		return false, ""
	}
	if soft {
		return true, "soft"
	}
	return true, "hard"
}

func (b *Bridge) refresh(ctx context.Context, now int64, kind string) {
	b.tr.observe(ctx, eventRefreshDue)

	// Spread simultaneous bridges' refreshes apart.
	if !sleepCtx(ctx, upstream.StaggerDelay()) {
		return
	}

	log.Info("Refreshing vendor tokens", "kind", kind)
	creds, err := b.doRefresh(ctx)
	if err != nil {
		b.lastRefreshAttempt = now
		b.state.DeferConnectsUntil(upstream.FenceDeadline(now, upstream.RefreshFailureBackoff))
		b.tr.observe(ctx, eventRefreshFail)
		log.Error(err, "Token refresh failed, retrying soon")
		return
	}

	b.lastRefreshAttempt = now
	b.lastSuccessfulRefresh = now
	b.tr.observe(ctx, eventRefreshOK)
	b.adoptCredentials(ctx, creds, "refresh")
}

func (b *Bridge) doRefresh(ctx context.Context) (*token.Credentials, error) {
	start := time.Now()
	creds, err := b.refresher.Refresh(ctx)
	metrics.TokenRefreshLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.TokenRefreshTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	metrics.TokenRefreshTotal.WithLabelValues("success").Inc()
	return creds, nil
}

// adoptRotatedTokens picks up token files rewritten by an external login
// flow. The bridge's own saves raise the same flag; identical content is a
// no-op.
func (b *Bridge) adoptRotatedTokens(ctx context.Context, now int64) {
	if b.watcher == nil || !b.watcher.ChangedAndReset() {
		return
	}
	creds, err := b.store.Load()
	if err != nil {
		log.Warn("Token files changed but are unreadable", "error", err)
		return
	}
	if creds.IdentityToken == b.creds.IdentityToken && creds.RefreshToken == b.creds.RefreshToken {
		return
	}

	log.Info("Adopting externally rotated tokens")
	// An external rotation is as good as a refresh of our own.
	b.lastRefreshAttempt = now
	b.lastSuccessfulRefresh = now
	b.adoptCredentials(ctx, creds, "rotation")
}

// adoptCredentials swaps the session onto fresh credentials: announce the
// drop, hold connects while the old session dies, then rebuild. MQTT
// libraries read the password at CONNECT, so a live client is never mutated.
func (b *Bridge) adoptCredentials(ctx context.Context, creds *token.Credentials, trigger string) {
	b.creds = creds
	exp := token.IdentityExpiry(creds.IdentityToken)
	b.state.SetIdentityExpiry(exp)
	metrics.IdentityTokenExpiry.Set(float64(exp))

	b.state.SetConnected(false)
	b.status.Publish(false)

	b.state.DeferConnectsUntil(time.Now().Unix() + 1)
	if !sleepCtx(ctx, upstream.SettleDelay()) {
		return
	}

	b.rebuild(ctx, trigger)
}

// rebuild replaces the vendor client generation and reconnects if the fence
// allows. A delayed connect leaves the watchdog stamp armed, so the next
// open tick rebuilds again and connects then.
func (b *Bridge) rebuild(ctx context.Context, trigger string) {
	metrics.ClientRebuildsTotal.WithLabelValues(trigger).Inc()

	if b.session != nil {
		b.session.Stop()
	}

	sess, err := upstream.New(b.upstreamConfig(), b.state, b.repub.Handle, b.status)
	if err != nil {
		// Retry on a later tick rather than dying mid-flight.
		log.Error(err, "Vendor client rebuild failed")
		b.state.DeferConnectsUntil(time.Now().Unix() + 2)
		return
	}
	b.session = sess
	b.tr.observe(ctx, eventClientBuilt)

	now := time.Now().Unix()
	if b.state.FenceOpen(now) {
		if err := sess.Start(ctx); err != nil {
			log.Error(err, "Vendor connect failed, watchdog will retry")
		}
	} else {
		log.Info("Rebuild done, connect delayed by backoff fence",
			"remaining", b.state.NextConnectAfter()-now)
	}
}

// watchdog tears down a client whose CONNECT has gone unanswered. The stamp
// is cleared only by a successful CONNACK, so a handshake that dies silently
// (half-open TCP, stalled TLS) always ends up here.
func (b *Bridge) watchdog(ctx context.Context, now int64) {
	attempt := b.state.LastConnectAttempt()
	if attempt == 0 || now-attempt <= connectHungAfter {
		return
	}
	if !b.state.FenceOpen(now) {
		return
	}

	log.Warn("CONNECT timed out, rebuilding vendor client", "attemptAge", now-attempt)
	b.state.SetConnected(false)
	b.status.Publish(false)
	b.tr.observe(ctx, eventWatchdogFired)
	b.rebuild(ctx, "watchdog")
}

func (b *Bridge) upstreamConfig() upstream.Config {
	return upstream.Config{
		Host:          b.cfg.VendorHost,
		Port:          b.cfg.VendorPort,
		ClientID:      b.cfg.ClientID,
		AccountID:     b.cfg.AccountID,
		IdentityToken: b.creds.IdentityToken,
		CAFile:        b.cfg.VendorCAFile,
	}
}

// teardown stops the vendor side first so the local broker sees the final
// status publish before the client goes away.
func (b *Bridge) teardown() {
	if b.session != nil {
		b.session.Stop()
	}
	if b.local != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		b.local.Disconnect(ctx)
		cancel()
	}
	log.Info("Bridge stopped")
}

// sleepCtx waits d unless ctx ends first, reporting whether the full wait
// elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
