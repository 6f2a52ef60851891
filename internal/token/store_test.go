package token

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return s
}

func writeTokenFile(t *testing.T, s *Store, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(s.Dir(), name), []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
}

func TestNewStoreMissingDir(t *testing.T) {
	if _, err := NewStore(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("NewStore() with missing dir error = nil, want error")
	}
}

func TestLoad(t *testing.T) {
	s := newTestStore(t)
	writeTokenFile(t, s, identityTokenFile, "  id-tok \n")
	writeTokenFile(t, s, refreshTokenFile, "refresh-tok\n")
	writeTokenFile(t, s, accessTokenFile, "access-tok\n")

	c, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if c.IdentityToken != "id-tok" || c.RefreshToken != "refresh-tok" || c.AccessToken != "access-tok" {
		t.Errorf("Load() = %+v, want trimmed tokens", c)
	}
}

func TestLoadRequiresIdentityAndRefresh(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*testing.T, *Store)
	}{
		{"missing identity", func(t *testing.T, s *Store) {
			writeTokenFile(t, s, refreshTokenFile, "r")
		}},
		{"empty identity", func(t *testing.T, s *Store) {
			writeTokenFile(t, s, identityTokenFile, " \n")
			writeTokenFile(t, s, refreshTokenFile, "r")
		}},
		{"missing refresh", func(t *testing.T, s *Store) {
			writeTokenFile(t, s, identityTokenFile, "i")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			tt.setup(t, s)
			if _, err := s.Load(); err == nil {
				t.Error("Load() error = nil, want error")
			}
		})
	}
}

func TestLoadAccessTokenOptional(t *testing.T) {
	s := newTestStore(t)
	writeTokenFile(t, s, identityTokenFile, "i")
	writeTokenFile(t, s, refreshTokenFile, "r")

	c, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if c.AccessToken != "" {
		t.Errorf("AccessToken = %q, want empty", c.AccessToken)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	s := newTestStore(t)
	in := &Credentials{IdentityToken: "id2", RefreshToken: "refresh2", AccessToken: "access2"}

	if err := s.Save(in); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	out, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if *out != *in {
		t.Errorf("Load() after Save() = %+v, want %+v", out, in)
	}

	// Files are newline-terminated for hand editing.
	raw, err := os.ReadFile(filepath.Join(s.Dir(), identityTokenFile))
	if err != nil {
		t.Fatalf("reading identity token file: %v", err)
	}
	if string(raw) != "id2\n" {
		t.Errorf("identity token file = %q, want %q", raw, "id2\n")
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	s := newTestStore(t)
	if err := s.Save(&Credentials{IdentityToken: "i", RefreshToken: "r", AccessToken: "a"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	entries, err := os.ReadDir(s.Dir())
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp") {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}
}

// A reader racing Save must observe one complete token, never a torn mix.
func TestSaveIsAtomicUnderConcurrentReads(t *testing.T) {
	s := newTestStore(t)
	a := strings.Repeat("a", 512)
	b := strings.Repeat("b", 512)
	path := filepath.Join(s.Dir(), identityTokenFile)

	writeTokenFile(t, s, identityTokenFile, a+"\n")

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			data, err := os.ReadFile(path)
			if err != nil {
				// The rename window can surface a transient stat miss on
				// some filesystems; only content corruption is a failure.
				continue
			}
			got := strings.TrimSpace(string(data))
			if got != a && got != b {
				t.Errorf("read torn token of length %d", len(got))
				return
			}
		}
	}()

	for i := 0; i < 200; i++ {
		tok := a
		if i%2 == 1 {
			tok = b
		}
		if err := s.Save(&Credentials{IdentityToken: tok, RefreshToken: "r", AccessToken: "x"}); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	close(stop)
	wg.Wait()
}

func TestWriteDebugResponse(t *testing.T) {
	s := newTestStore(t)

	t.Run("json is pretty printed", func(t *testing.T) {
		if err := s.WriteDebugResponse([]byte(`{"id_token":"x","expires_in":3600}`)); err != nil {
			t.Fatalf("WriteDebugResponse() error = %v", err)
		}
		data, err := os.ReadFile(filepath.Join(s.Dir(), debugResponseFile))
		if err != nil {
			t.Fatalf("reading debug file: %v", err)
		}
		if !strings.Contains(string(data), "\n  \"id_token\"") {
			t.Errorf("debug file not indented: %q", data)
		}
	})

	t.Run("non-json kept verbatim", func(t *testing.T) {
		if err := s.WriteDebugResponse([]byte("<html>bad gateway</html>")); err != nil {
			t.Fatalf("WriteDebugResponse() error = %v", err)
		}
		data, err := os.ReadFile(filepath.Join(s.Dir(), debugResponseFile))
		if err != nil {
			t.Fatalf("reading debug file: %v", err)
		}
		if string(data) != "<html>bad gateway</html>" {
			t.Errorf("debug file = %q, want raw body", data)
		}
	})
}

func TestDefaultDir(t *testing.T) {
	t.Run("xdg state home wins", func(t *testing.T) {
		t.Setenv("XDG_STATE_HOME", "/tmp/xdg-state")
		if got, want := DefaultDir(), filepath.Join("/tmp/xdg-state", appDirName); got != want {
			t.Errorf("DefaultDir() = %q, want %q", got, want)
		}
	})

	t.Run("falls back to home", func(t *testing.T) {
		t.Setenv("XDG_STATE_HOME", "")
		t.Setenv("HOME", "/home/bridge")
		if got, want := DefaultDir(), filepath.Join("/home/bridge", ".local", "state", appDirName); got != want {
			t.Errorf("DefaultDir() = %q, want %q", got, want)
		}
	})
}
