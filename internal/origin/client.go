// Package origin is the HTTP client for the match data provider.
package origin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	DefaultBaseURL = "https://api.henrikdev.xyz"
	maxBodyBytes   = 8 << 20
	maxListSize    = 20
)

// Client calls the provider. The zero value is usable against the default
// base URL without a key.
type Client struct {
	BaseURL   string
	APIKey    string
	UserAgent string
	Client    *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL:   baseURL,
		APIKey:    SanitizeKey(apiKey),
		UserAgent: "rankbot",
		Client:    &http.Client{Timeout: timeout},
	}
}

var (
	authPrefix   = regexp.MustCompile(`(?i)^authorization\s*:\s*`)
	bearerPrefix = regexp.MustCompile(`(?i)^bearer\s+`)
)

// SanitizeKey strips header-style prefixes pasted along with the key.
func SanitizeKey(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimSpace(authPrefix.ReplaceAllString(s, ""))
	for bearerPrefix.MatchString(s) {
		s = strings.TrimSpace(bearerPrefix.ReplaceAllString(s, ""))
	}
	return s
}

func (c *Client) GetAccount(ctx context.Context, name, tag string) (Account, error) {
	d, err := c.get(ctx, "account", []string{"valorant", "v1", "account", name, tag}, nil)
	if err != nil {
		return Account{}, err
	}
	return parseAccount(d), nil
}

func (c *Client) GetStanding(ctx context.Context, region, name, tag string) (Standing, error) {
	d, err := c.get(ctx, "mmr", []string{"valorant", "v2", "mmr", region, name, tag}, nil)
	if err != nil {
		return Standing{}, err
	}
	return parseStanding(d), nil
}

func (c *Client) GetRecentMatches(ctx context.Context, region, name, tag string, count int, mode string) ([]Match, error) {
	if count <= 0 {
		count = 1
	}
	size := count
	q := url.Values{}
	if mode != "" {
		// over-fetch: the upstream filter is not always honored
		size = min(count*3, maxListSize)
		q.Set("filter", mode)
	}
	q.Set("size", strconv.Itoa(size))
	q.Set("start", "0")

	d, err := c.get(ctx, "matches", []string{"valorant", "v3", "matches", region, name, tag}, q)
	if err != nil {
		return nil, err
	}
	out := make([]Match, 0, count)
	for _, r := range d.Array() {
		m := parseMatch(r)
		if mode != "" && !strings.EqualFold(m.Mode, mode) {
			continue
		}
		out = append(out, m)
		if len(out) == count {
			break
		}
	}
	return out, nil
}

func (c *Client) GetMatch(ctx context.Context, region, id string) (Match, error) {
	d, err := c.get(ctx, "match", []string{"valorant", "v4", "match", region, id}, nil)
	if err != nil {
		return Match{}, err
	}
	return parseMatch(d), nil
}

func (c *Client) GetStandingHistory(ctx context.Context, region, name, tag string) ([]StandingChange, error) {
	d, err := c.get(ctx, "mmr-history", []string{"valorant", "v1", "mmr-history", region, name, tag}, nil)
	if errors.Is(err, ErrNotFound) {
		return []StandingChange{}, nil
	}
	if err != nil {
		return nil, err
	}
	return parseStandingHistory(d), nil
}

// get fetches a path and returns its "data" member. On 401 it retries once
// with the key as a query parameter.
func (c *Client) get(ctx context.Context, endpoint string, segments []string, q url.Values) (gjson.Result, error) {
	u := c.url(segments, q)
	resp, err := c.do(ctx, u, true)
	if err != nil {
		return gjson.Result{}, err
	}
	if resp.StatusCode == http.StatusUnauthorized && c.APIKey != "" {
		_ = drain(resp)
		q2 := url.Values{}
		for k, v := range q {
			q2[k] = v
		}
		q2.Set("api_key", c.APIKey)
		resp, err = c.do(ctx, c.url(segments, q2), false)
		if err != nil {
			return gjson.Result{}, err
		}
	}
	defer drain(resp)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return gjson.Result{}, ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return gjson.Result{}, fmt.Errorf("%s: %w", endpoint, ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return gjson.Result{}, &StatusError{Code: resp.StatusCode, Endpoint: endpoint, RetryAfter: retryAfterHeader(resp)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%s: read body: %w", endpoint, err)
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("%s: invalid json response", endpoint)
	}
	return gjson.GetBytes(body, "data"), nil
}

func (c *Client) do(ctx context.Context, u string, withHeader bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	if withHeader && c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	hc := c.Client
	if hc == nil {
		hc = http.DefaultClient
	}
	return hc.Do(req)
}

func (c *Client) url(segments []string, q url.Values) string {
	base := strings.TrimRight(c.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	var b strings.Builder
	b.WriteString(base)
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	if len(q) > 0 {
		b.WriteByte('?')
		b.WriteString(q.Encode())
	}
	return b.String()
}

func drain(resp *http.Response) error {
	if resp == nil || resp.Body == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.Body.Close()
}
