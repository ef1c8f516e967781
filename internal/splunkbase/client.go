// Package splunkbase wraps the Splunkbase web and API endpoints. The HTTP
// client is always injected so tests can substitute a fake transport.
package splunkbase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gotarr/sbmirror/internal/util"
)

var (
	// ErrAuthRejected signals bad credentials (HTTP 403 on login).
	ErrAuthRejected = errors.New("authentication rejected")
	// ErrLookupFailed covers network failures and malformed responses
	// while resolving versions or catalog entries.
	ErrLookupFailed = errors.New("remote lookup failed")
)

// CatalogEntry is one app as listed by the remote catalog.
type CatalogEntry struct {
	UID   int    `json:"uid"`
	AppID string `json:"appid"`
	Title string `json:"title"`
}

type Options struct {
	WWWURL       string // web host: login, releases, catalog
	APIURL       string // api host: downloads
	UserAgent    string
	RetryCount   int
	RetryBackoff time.Duration
}

type Client struct {
	http *http.Client
	opts Options

	cookies []*http.Cookie
}

// New builds a client around the given HTTP client. The HTTP client owns
// the request timeout.
func New(httpClient *http.Client, opts Options) *Client {
	if httpClient == nil {
		panic("splunkbase: nil http client")
	}
	opts.WWWURL = strings.TrimRight(opts.WWWURL, "/")
	opts.APIURL = strings.TrimRight(opts.APIURL, "/")
	if opts.RetryCount <= 0 {
		opts.RetryCount = 1
	}
	return &Client{http: httpClient, opts: opts}
}

// Login authenticates with a form post and keeps the session cookies for
// subsequent calls.
func (c *Client) Login(ctx context.Context, username, password string) error {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	resp, err := c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.WWWURL+"/api/account:login/", strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer drain(resp)
	if resp.StatusCode == http.StatusForbidden {
		return ErrAuthRejected
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login: unexpected status %s", resp.Status)
	}
	c.cookies = resp.Cookies()
	return nil
}

// LatestVersion returns the newest published version for an app. The
// release endpoint lists releases newest-first; the first element's name
// is the latest version.
func (c *Client) LatestVersion(ctx context.Context, uid int) (string, error) {
	resp, err := c.get(ctx, fmt.Sprintf("%s/api/v1/app/%d/release/", c.opts.WWWURL, uid))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %s", ErrLookupFailed, resp.Status)
	}
	var releases []struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&releases); err != nil {
		return "", fmt.Errorf("%w: decode releases: %v", ErrLookupFailed, err)
	}
	if len(releases) == 0 || releases[0].Name == "" {
		return "", fmt.Errorf("%w: no release name for uid %d", ErrLookupFailed, uid)
	}
	return releases[0].Name, nil
}

// Catalog retrieves the full app listing, paginated.
func (c *Client) Catalog(ctx context.Context) ([]CatalogEntry, error) {
	const pageSize = 100
	var all []CatalogEntry
	for offset := 0; ; offset += pageSize {
		resp, err := c.get(ctx, fmt.Sprintf("%s/api/v1/app/?limit=%d&offset=%d", c.opts.WWWURL, pageSize, offset))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLookupFailed, err)
		}
		if resp.StatusCode != http.StatusOK {
			drain(resp)
			return nil, fmt.Errorf("%w: catalog status %s", ErrLookupFailed, resp.Status)
		}
		var page struct {
			Total   int            `json:"total"`
			Results []CatalogEntry `json:"results"`
		}
		decodeErr := json.NewDecoder(resp.Body).Decode(&page)
		drain(resp)
		if decodeErr != nil {
			return nil, fmt.Errorf("%w: decode catalog: %v", ErrLookupFailed, decodeErr)
		}
		all = append(all, page.Results...)
		if len(page.Results) < pageSize || len(all) >= page.Total {
			return all, nil
		}
	}
}

// Detail fetches title and appid for a single app.
func (c *Client) Detail(ctx context.Context, uid int) (CatalogEntry, error) {
	resp, err := c.get(ctx, fmt.Sprintf("%s/api/v1/app/%d/", c.opts.WWWURL, uid))
	if err != nil {
		return CatalogEntry{}, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK {
		return CatalogEntry{}, fmt.Errorf("%w: detail status %s", ErrLookupFailed, resp.Status)
	}
	var entry CatalogEntry
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		return CatalogEntry{}, fmt.Errorf("%w: decode detail: %v", ErrLookupFailed, err)
	}
	if entry.UID == 0 {
		entry.UID = uid
	}
	return entry, nil
}

// Search queries the catalog by free text.
func (c *Client) Search(ctx context.Context, query string) ([]CatalogEntry, error) {
	resp, err := c.get(ctx, fmt.Sprintf("%s/api/v1/app/?query=%s", c.opts.WWWURL, url.QueryEscape(query)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: search status %s", ErrLookupFailed, resp.Status)
	}
	var page struct {
		Results []CatalogEntry `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("%w: decode search: %v", ErrLookupFailed, err)
	}
	return page.Results, nil
}

// Download opens the archive stream for a release. The returned time is
// the remote's Last-Modified converted to UTC, or zero when absent. The
// caller owns the body.
func (c *Client) Download(ctx context.Context, uid int, version string) (io.ReadCloser, time.Time, error) {
	target := fmt.Sprintf("%s/api/v2/apps/%d/releases/%s/download/?origin=sb&lead=false", c.opts.APIURL, uid, url.PathEscape(version))
	resp, err := c.get(ctx, target)
	if err != nil {
		return nil, time.Time{}, err
	}
	if resp.StatusCode != http.StatusOK {
		drain(resp)
		return nil, time.Time{}, fmt.Errorf("download %d/%s: status %s", uid, version, resp.Status)
	}
	var lastMod time.Time
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			lastMod = t.UTC()
		}
	}
	return resp.Body, lastMod, nil
}

func (c *Client) get(ctx context.Context, target string) (*http.Response, error) {
	return c.do(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	})
}

// do runs a request with bounded retries on 429, 5xx, and transport
// errors. Other statuses are returned to the caller as-is.
func (c *Client) do(ctx context.Context, build func() (*http.Request, error)) (*http.Response, error) {
	var resp *http.Response
	err := util.Retry(ctx, c.opts.RetryCount, c.opts.RetryBackoff, nil, func() error {
		req, err := build()
		if err != nil {
			return err
		}
		if c.opts.UserAgent != "" {
			req.Header.Set("User-Agent", c.opts.UserAgent)
		}
		for _, ck := range c.cookies {
			req.AddCookie(ck)
		}
		r, err := c.http.Do(req)
		if err != nil {
			return err
		}
		if r.StatusCode == http.StatusTooManyRequests || r.StatusCode >= 500 {
			drain(r)
			return fmt.Errorf("transient status %s", r.Status)
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	resp.Body.Close()
}
