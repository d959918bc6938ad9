package sign

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/yfan/redsift/internal/util"
)

// Cookie is one browser cookie as exported by the interactive login
// helper (name/value pairs, domain retained for reference).
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain,omitempty"`
}

// Credentials holds the session material required to sign and send
// authenticated requests. It replaces ambient cookie state: a value is
// loaded once and passed explicitly into the signer and client.
type Credentials struct {
	cookies []Cookie
	byName  map[string]string
	b1      string
}

// credentialsFile is the on-disk shape: either a bare cookie array or
// an object carrying cookies plus the localStorage-derived b1 token.
type credentialsFile struct {
	Cookies []Cookie `json:"cookies"`
	B1      string   `json:"b1,omitempty"`
}

// NewCredentials builds credentials from a cookie map, mainly for tests.
func NewCredentials(cookies map[string]string, b1 string) *Credentials {
	c := &Credentials{byName: make(map[string]string, len(cookies)), b1: b1}
	for name, value := range cookies {
		c.cookies = append(c.cookies, Cookie{Name: name, Value: value})
		c.byName[name] = value
	}
	return c
}

// LoadCredentials reads a cookie export file and validates that the
// core session cookie is present.
func LoadCredentials(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials %s: %w", path, err)
	}

	var cookies []Cookie
	var b1 string
	if err := json.Unmarshal(data, &cookies); err != nil {
		var file credentialsFile
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse credentials %s: %w", path, err)
		}
		cookies = file.Cookies
		b1 = file.B1
	}

	c := &Credentials{cookies: cookies, byName: make(map[string]string, len(cookies)), b1: b1}
	for _, ck := range cookies {
		c.byName[ck.Name] = ck.Value
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks that the session material needed for signing exists.
func (c *Credentials) Validate() error {
	if c == nil || len(c.cookies) == 0 {
		return fmt.Errorf("no cookies loaded: %w", util.ErrAuth)
	}
	if c.Get("web_session") == "" {
		return fmt.Errorf("missing web_session cookie: %w", util.ErrAuth)
	}
	if c.Get("a1") == "" {
		return fmt.Errorf("missing a1 device cookie: %w", util.ErrAuth)
	}
	return nil
}

// Get returns the named cookie value, or "".
func (c *Credentials) Get(name string) string {
	if c == nil {
		return ""
	}
	return c.byName[name]
}

// A1 returns the device fingerprint cookie.
func (c *Credentials) A1() string { return c.Get("a1") }

// B1 returns the localStorage-derived token; may be empty.
func (c *Credentials) B1() string { return c.b1 }

// CookieHeader renders the credentials as a Cookie request header.
func (c *Credentials) CookieHeader() string {
	parts := make([]string, 0, len(c.cookies))
	for _, ck := range c.cookies {
		parts = append(parts, ck.Name+"="+ck.Value)
	}
	return strings.Join(parts, "; ")
}
