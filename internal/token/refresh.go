package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/opencardata/cardata-bridge/pkg/log"
)

const (
	// defaultEndpoint is the BMW GCDM OAuth token endpoint. Note this is a
	// different host than the streaming broker.
	defaultEndpoint = "https://customer.bmwgroup.com/gcdm/oauth/token"

	userAgent = "cardata-bridge/1.0"

	requestTimeout = 20 * time.Second
	connectTimeout = 10 * time.Second

	maxResponseBytes = 1 << 20
)

// Refresher exchanges the stored refresh token for a fresh credential set.
// It persists the new set before returning it, so a crash after a
// successful exchange never loses tokens.
type Refresher struct {
	endpoint string
	clientID string
	store    *Store
	hc       *http.Client
}

// NewRefresher builds a Refresher bound to the given store. The HTTP client
// enforces the endpoint's interactive-grade timeouts and never follows
// redirects: a redirect from an OAuth token endpoint is a failure, not a hint.
func NewRefresher(store *Store, clientID string) *Refresher {
	return &Refresher{
		endpoint: defaultEndpoint,
		clientID: clientID,
		store:    store,
		hc: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: connectTimeout}).DialContext,
				TLSHandshakeTimeout: connectTimeout,
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

type refreshResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`

	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	AccessToken  string `json:"access_token"`
}

// Refresh performs one token exchange. The refresh token is re-read from
// disk at call time so externally rotated tokens are picked up. On success
// the new set is already persisted when the call returns.
func (r *Refresher) Refresh(ctx context.Context) (*Credentials, error) {
	refreshTok, err := r.store.RefreshToken()
	if err != nil {
		return nil, fmt.Errorf("read refresh token: %w", err)
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshTok},
		"client_id":     {r.clientID},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token endpoint request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}

	// Persisted for every attempt; the first place to look when refreshes
	// start failing in the field.
	if derr := r.store.WriteDebugResponse(body); derr != nil {
		log.Warn("Failed to persist token response debug file", derr)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token endpoint returned HTTP %d", resp.StatusCode)
	}

	var parsed refreshResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("token endpoint error: %s (%s)", parsed.Error, parsed.ErrorDescription)
	}

	creds := &Credentials{
		IdentityToken: strings.TrimSpace(parsed.IDToken),
		RefreshToken:  strings.TrimSpace(parsed.RefreshToken),
		AccessToken:   strings.TrimSpace(parsed.AccessToken),
	}
	if creds.IdentityToken == "" || creds.RefreshToken == "" || creds.AccessToken == "" {
		return nil, errors.New("token response missing id_token, refresh_token or access_token")
	}

	if err := r.store.Save(creds); err != nil {
		return nil, fmt.Errorf("persist refreshed tokens: %w", err)
	}

	log.Info("Token refresh succeeded", "idTokenExpiry", IdentityExpiry(creds.IdentityToken))
	return creds, nil
}
