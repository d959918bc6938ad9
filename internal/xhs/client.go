// Package xhs is the platform API client: signed JSON endpoints for
// note search and detail, plus unauthenticated image downloads.
package xhs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/yfan/redsift/internal/sign"
	"github.com/yfan/redsift/internal/util"
)

const (
	// DefaultBaseURL is the API host serving the web endpoints.
	DefaultBaseURL = "https://edith.xiaohongshu.com"

	searchURI = "/api/sns/web/v1/search/notes"
	feedURI   = "/api/sns/web/v1/feed"

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

	searchPageSize = 20
)

// Client issues authenticated API calls. All mutating state (cookies,
// signer) is supplied at construction; the client itself is safe for
// sequential use by one pipeline run.
type Client struct {
	http        *resty.Client
	images      *resty.Client
	signer      sign.Signer
	creds       *sign.Credentials
	retry       *util.RetryConfig
	rateLimiter *time.Ticker
}

// Options configures a Client.
type Options struct {
	BaseURL     string
	Signer      sign.Signer
	Credentials *sign.Credentials
	Retry       *util.RetryConfig // nil = util.DefaultRetryConfig
	Timeout     time.Duration     // per-request timeout, default 30s
	Interval    time.Duration     // minimum spacing between API calls, default 1s
}

// NewClient creates an API client.
func NewClient(opts Options) (*Client, error) {
	if opts.Signer == nil {
		return nil, fmt.Errorf("xhs: signer is required: %w", util.ErrInvalidConfig)
	}
	if opts.Credentials == nil {
		return nil, fmt.Errorf("xhs: credentials are required: %w", util.ErrInvalidConfig)
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Retry == nil {
		opts.Retry = util.DefaultRetryConfig()
	}

	api := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", userAgent).
		SetHeader("Content-Type", "application/json;charset=UTF-8").
		SetHeader("Cookie", opts.Credentials.CookieHeader())

	images := resty.New().
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", userAgent)

	return &Client{
		http:        api,
		images:      images,
		signer:      opts.Signer,
		creds:       opts.Credentials,
		retry:       opts.Retry,
		rateLimiter: time.NewTicker(opts.Interval),
	}, nil
}

// Close releases the client's rate-limit ticker.
func (c *Client) Close() {
	if c.rateLimiter != nil {
		c.rateLimiter.Stop()
	}
}

// NewSearchID generates the per-search session id the search endpoint
// expects (32 lowercase hex chars).
func NewSearchID() string {
	const chars = "0123456789abcdef"
	var b [32]byte
	for i := range b {
		b[i] = chars[rand.Intn(len(chars))]
	}
	return string(b[:])
}

// SearchNotes fetches one page of note search results.
func (c *Client) SearchNotes(ctx context.Context, keyword string, page int, searchID string) (*SearchPage, error) {
	if keyword == "" {
		return nil, fmt.Errorf("xhs: empty keyword: %w", util.ErrInvalidConfig)
	}
	req := searchRequest{
		Keyword:  keyword,
		Page:     page,
		PageSize: searchPageSize,
		SearchID: searchID,
		Sort:     "general",
		NoteType: 0,
	}
	var result SearchPage
	if err := c.postSigned(ctx, searchURI, req, &result); err != nil {
		return nil, fmt.Errorf("search %q page %d: %w", keyword, page, err)
	}
	return &result, nil
}

// NoteDetail fetches the full note card for one note id.
func (c *Client) NoteDetail(ctx context.Context, noteID, xsecToken string) (*NoteCard, error) {
	req := feedRequest{
		SourceNoteID: noteID,
		ImageFormats: []string{"jpg", "webp", "avif"},
		Extra:        feedExtra{NeedBodyTopic: "1"},
		XsecSource:   "pc_search",
		XsecToken:    xsecToken,
	}
	var result feedData
	if err := c.postSigned(ctx, feedURI, req, &result); err != nil {
		return nil, fmt.Errorf("note detail %s: %w", noteID, err)
	}
	if len(result.Items) == 0 {
		return nil, fmt.Errorf("note detail %s: no items in response: %w", noteID, util.ErrNotFound)
	}
	card := result.Items[0].NoteCard
	if card.NoteID == "" {
		card.NoteID = noteID
	}
	return &card, nil
}

// DownloadImage fetches raw image bytes. Transient failures are
// retried with the client's backoff policy.
func (c *Client) DownloadImage(ctx context.Context, url string) ([]byte, error) {
	return util.RetryWithBackoff(c.retry, func() ([]byte, error) {
		resp, err := c.images.R().SetContext(ctx).Get(url)
		if err != nil {
			return nil, fmt.Errorf("download image: %w", err)
		}
		if err := classifyStatus(resp.StatusCode()); err != nil {
			return nil, fmt.Errorf("download image: %w", err)
		}
		return resp.Body(), nil
	}, "download "+url)
}

// postSigned serializes the payload once, signs exactly those bytes,
// and sends them. Transient failures go through backoff; an auth
// rejection is retried a single time with a fresh signature before
// being surfaced as fatal for this request.
func (c *Client) postSigned(ctx context.Context, uri string, payload any, out any) error {
	body, err := sign.CompactJSON(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	_, err = util.RetryWithBackoff(c.retry, func() (struct{}, error) {
		authAttempts := 0
		for {
			err := c.doSigned(ctx, uri, payload, body, out)
			if err != nil && isAuthError(err) && authAttempts == 0 {
				authAttempts++
				util.DebugLog("auth rejected on %s, re-signing once", uri)
				continue
			}
			return struct{}{}, err
		}
	}, "POST "+uri)
	return err
}

// doSigned signs the structured payload (the canonical string is the
// same compact JSON) and sends the pre-marshaled bytes.
func (c *Client) doSigned(ctx context.Context, uri string, payload any, body string, out any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.rateLimiter.C:
	}

	headers, err := c.signer.Sign(http.MethodPost, uri, payload, time.Now())
	if err != nil {
		return fmt.Errorf("sign request: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers.Map()).
		SetBody(body).
		Post(uri)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	if err := classifyStatus(resp.StatusCode()); err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !env.Success {
		if isAuthMessage(env.Msg, env.Code) {
			return fmt.Errorf("api rejected request (code %d): %s: %w", env.Code, env.Msg, util.ErrAuth)
		}
		return fmt.Errorf("api error (code %d): %s", env.Code, env.Msg)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode response data: %w", err)
		}
	}
	return nil
}

// classifyStatus maps HTTP status codes onto the error taxonomy.
func classifyStatus(code int) error {
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("status %d: %w", code, util.ErrAuth)
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("status %d: %w", code, util.ErrTransient)
	default:
		return fmt.Errorf("unexpected status %d", code)
	}
}

// isAuthMessage spots signature/session rejections that come back with
// HTTP 200 and a failure envelope.
func isAuthMessage(msg string, code int) bool {
	if code == -100 || code == -101 { // session expired / invalid signature
		return true
	}
	lowered := strings.ToLower(msg)
	return strings.Contains(lowered, "登录") || strings.Contains(lowered, "sign") || strings.Contains(lowered, "signature")
}

func isAuthError(err error) bool {
	return errors.Is(err, util.ErrAuth)
}
