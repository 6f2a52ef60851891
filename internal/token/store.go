// Package token owns the credential set the bridge authenticates with:
// loading it from the state directory, refreshing it against the vendor
// token endpoint and persisting every change atomically.
package token

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/opencardata/cardata-bridge/pkg/log"
)

const (
	identityTokenFile = "id_token.txt"
	refreshTokenFile  = "refresh_token.txt"
	accessTokenFile   = "access_token.txt"
	debugResponseFile = "token_refresh_response.json"

	appDirName = "cardata-bridge"
)

// Credentials is one coherent token set. The identity token doubles as the
// upstream MQTT password, the refresh token buys the next set, the access
// token is kept for API use by neighboring tooling.
type Credentials struct {
	IdentityToken string
	RefreshToken  string
	AccessToken   string
}

// Store reads and writes the credential files under a single directory.
// Writes are atomic (temp file, fsync, rename) so a concurrent reader sees
// either the old or the new token, never a torn one.
type Store struct {
	dir string
}

// DefaultDir resolves the state directory: $XDG_STATE_HOME/cardata-bridge,
// falling back to $HOME/.local/state/cardata-bridge.
func DefaultDir() string {
	if x := os.Getenv("XDG_STATE_HOME"); x != "" {
		return filepath.Join(x, appDirName)
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".local", "state", appDirName)
	}
	return filepath.Join(".", ".local", "state", appDirName)
}

// NewStore returns a Store rooted at dir. The directory must already exist;
// provisioning it (and the bootstrap tokens) is an external concern.
func NewStore(dir string) (*Store, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("state directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("state directory %s is not a directory", dir)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the state directory path.
func (s *Store) Dir() string {
	return s.dir
}

// Load reads the persisted credential set. The identity and refresh tokens
// are required; a missing or empty access token is tolerated since older
// deployments never stored one.
func (s *Store) Load() (*Credentials, error) {
	id, err := s.readToken(identityTokenFile)
	if err != nil {
		return nil, fmt.Errorf("identity token: %w", err)
	}

	refresh, err := s.readToken(refreshTokenFile)
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}

	access, _ := s.readToken(accessTokenFile)

	return &Credentials{
		IdentityToken: id,
		RefreshToken:  refresh,
		AccessToken:   access,
	}, nil
}

// RefreshToken re-reads the refresh token from disk. Called at refresh time
// rather than using the in-memory copy, so a token rotated by an external
// process between refreshes is honored.
func (s *Store) RefreshToken() (string, error) {
	return s.readToken(refreshTokenFile)
}

// Save persists a complete credential set, one atomic write per file.
func (s *Store) Save(c *Credentials) error {
	if c == nil {
		return errors.New("nil credentials")
	}

	files := []struct {
		name  string
		value string
	}{
		{identityTokenFile, c.IdentityToken},
		{refreshTokenFile, c.RefreshToken},
		{accessTokenFile, c.AccessToken},
	}

	for _, f := range files {
		if err := writeFileAtomic(filepath.Join(s.dir, f.name), []byte(f.value+"\n")); err != nil {
			return fmt.Errorf("persist %s: %w", f.name, err)
		}
	}

	return nil
}

// WriteDebugResponse stores the raw token endpoint response body, pretty
// printed when it parses as JSON. The file is overwritten on every refresh
// attempt, success or failure.
func (s *Store) WriteDebugResponse(body []byte) error {
	out := body
	var pretty bytes.Buffer
	if json.Indent(&pretty, body, "", "  ") == nil {
		out = pretty.Bytes()
	}
	return writeFileAtomic(filepath.Join(s.dir, debugResponseFile), out)
}

func (s *Store) readToken(name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return "", err
	}
	tok := strings.TrimSpace(string(data))
	if tok == "" {
		return "", fmt.Errorf("%s is empty", name)
	}
	return tok, nil
}

// writeFileAtomic writes data to path through a temp file in the same
// directory: write, fsync, close, rename. A reader holding the old file
// keeps a consistent view; a crash mid-write leaves the old file intact.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	// Rename durability needs the directory synced too, but a failure here
	// does not tear the file, so it is not worth failing the refresh over.
	if err := syncDir(dir); err != nil {
		log.Warn("Failed to sync state directory after rename", "dir", dir, err)
	}

	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
