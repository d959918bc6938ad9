package sign

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yfan/redsift/internal/util"
)

func writeCredsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cookies.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write cookies file: %v", err)
	}
	return path
}

func TestLoadCredentialsArrayForm(t *testing.T) {
	path := writeCredsFile(t, `[
		{"name": "web_session", "value": "sess", "domain": ".xiaohongshu.com"},
		{"name": "a1", "value": "dev"}
	]`)

	c, err := LoadCredentials(path)
	if err != nil {
		t.Fatalf("LoadCredentials failed: %v", err)
	}
	if c.Get("web_session") != "sess" {
		t.Errorf("web_session = %q, want sess", c.Get("web_session"))
	}
	if c.A1() != "dev" {
		t.Errorf("a1 = %q, want dev", c.A1())
	}
	if c.B1() != "" {
		t.Errorf("b1 = %q, want empty for array form", c.B1())
	}
}

func TestLoadCredentialsObjectForm(t *testing.T) {
	path := writeCredsFile(t, `{
		"cookies": [
			{"name": "web_session", "value": "sess"},
			{"name": "a1", "value": "dev"}
		],
		"b1": "local-token"
	}`)

	c, err := LoadCredentials(path)
	if err != nil {
		t.Fatalf("LoadCredentials failed: %v", err)
	}
	if c.B1() != "local-token" {
		t.Errorf("b1 = %q, want local-token", c.B1())
	}
}

func TestLoadCredentialsMissingSession(t *testing.T) {
	path := writeCredsFile(t, `[{"name": "a1", "value": "dev"}]`)

	if _, err := LoadCredentials(path); !errors.Is(err, util.ErrAuth) {
		t.Errorf("expected ErrAuth for missing web_session, got %v", err)
	}
}

func TestLoadCredentialsBadFile(t *testing.T) {
	if _, err := LoadCredentials(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("expected error for missing file")
	}

	path := writeCredsFile(t, "not json at all")
	if _, err := LoadCredentials(path); err == nil {
		t.Error("expected error for malformed file")
	}
}

func TestCookieHeader(t *testing.T) {
	path := writeCredsFile(t, `[
		{"name": "web_session", "value": "sess"},
		{"name": "a1", "value": "dev"}
	]`)
	c, err := LoadCredentials(path)
	if err != nil {
		t.Fatalf("LoadCredentials failed: %v", err)
	}

	header := c.CookieHeader()
	if !strings.Contains(header, "web_session=sess") || !strings.Contains(header, "a1=dev") {
		t.Errorf("cookie header missing pairs: %q", header)
	}
	if !strings.Contains(header, "; ") {
		t.Errorf("cookie header should join with '; ': %q", header)
	}
}
