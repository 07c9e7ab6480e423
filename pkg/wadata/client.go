package wadata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"
)

const (
	DefaultBaseURL = "https://whatsapp-data1.p.rapidapi.com"
	DefaultTimeout = 15 * time.Second

	userAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:82.0) Gecko/20100101 Firefox/82.0"
)

// APIClient talks to the WhatsApp data API on RapidAPI. Transport-level
// hiccups (connection resets) are retried by retryablehttp; API-level
// retry policy belongs to the caller.
type APIClient struct {
	apiKey  string
	baseURL string
	host    string
	client  *retryablehttp.Client
}

// ClientOptions configures an APIClient.
type ClientOptions struct {
	APIKey  string
	BaseURL string // defaults to DefaultBaseURL
	Timeout time.Duration
	Proxy   string // optional HTTP proxy, useful for debugging
}

// NewAPIClient builds a lookup client. The API key must not be empty.
func NewAPIClient(opts ClientOptions) (*APIClient, error) {
	if opts.APIKey == "" {
		return nil, errors.New("missing API key")
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	retryClient := retryablehttp.NewClient()
	retryClient.Logger = log.New(io.Discard, "", 0)
	retryClient.RetryMax = 1
	retryClient.HTTPClient.Timeout = timeout
	if opts.Proxy != "" {
		proxyURL, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		retryClient.HTTPClient.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	}

	return &APIClient{
		apiKey:  opts.APIKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		host:    u.Host,
		client:  retryClient,
	}, nil
}

// Lookup checks a single E.164 number. API failures are reported in
// Result.Err so the caller can classify and retry; the error return is
// only used for context cancellation.
func (c *APIClient) Lookup(ctx context.Context, number string) (Result, error) {
	result := Result{Number: number, CheckedAt: time.Now().UTC()}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/number/"+url.PathEscape(number), nil)
	if err != nil {
		result.Err = err.Error()
		return result, nil
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-rapidapi-key", c.apiKey)
	req.Header.Set("x-rapidapi-host", c.host)

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.Err = err.Error()
		return result, nil
	}
	defer resp.Body.Close()

	result.RateLimit = parseRateLimitHeaders(resp.Header)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		result.Err = err.Error()
		return result, nil
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		c.parseProfile(string(body), &result)
	case resp.StatusCode == http.StatusNotFound:
		result.Err = "number not found on WhatsApp"
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		result.Err = fmt.Sprintf("authentication failed (status %d)", resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		result.Err = "rate limit exceeded"
	default:
		result.Err = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}

	return result, nil
}

func (c *APIClient) parseProfile(body string, result *Result) {
	if msg := gjson.Get(body, "error").Str; msg != "" {
		result.Err = msg
		return
	}
	if !gjson.Valid(body) {
		result.Err = "invalid JSON response"
		return
	}

	result.Profile = &Profile{
		Number:        firstString(body, "number", "phone"),
		Name:          gjson.Get(body, "name").Str,
		PushName:      gjson.Get(body, "pushname").Str,
		About:         gjson.Get(body, "about").Str,
		CountryCode:   gjson.Get(body, "countryCode").Str,
		ProfilePic:    gjson.Get(body, "profilePic").Str,
		IsWAContact:   gjson.Get(body, "isWAContact").Bool(),
		IsBusiness:    gjson.Get(body, "isBusiness").Bool(),
		IsEnterprise:  gjson.Get(body, "isEnterprise").Bool(),
		VerifiedLevel: int(gjson.Get(body, "verifiedLevel").Int()),
		VerifiedName:  gjson.Get(body, "verifiedName").Str,
	}
	if result.Profile.Number == "" {
		result.Profile.Number = result.Number
	}
}

func firstString(body string, paths ...string) string {
	for _, p := range paths {
		if v := gjson.Get(body, p).Str; v != "" {
			return v
		}
	}
	return ""
}

// parseRateLimitHeaders reads the RapidAPI x-ratelimit-* family. Reset
// headers carry seconds-until-reset and are converted to epoch seconds.
func parseRateLimitHeaders(h http.Header) *RateLimitInfo {
	remaining, okRemaining := headerInt(h, "x-ratelimit-requests-remaining")
	limit, okLimit := headerInt(h, "x-ratelimit-requests-limit")
	if !okRemaining && !okLimit {
		return nil
	}

	now := time.Now().Unix()
	info := &RateLimitInfo{
		Remaining: remaining,
		Limit:     limit,
		Used:      limit - remaining,
	}
	if resetSec, ok := headerInt(h, "x-ratelimit-requests-reset"); ok {
		info.Reset = now + int64(resetSec)
	}
	if v, ok := headerInt(h, "x-ratelimit-rapid-free-plans-hard-limit-remaining"); ok {
		info.MonthlyRemaining = v
	}
	if v, ok := headerInt(h, "x-ratelimit-rapid-free-plans-hard-limit-limit"); ok {
		info.MonthlyLimit = v
		info.MonthlyUsed = v - info.MonthlyRemaining
	}
	if v, ok := headerInt(h, "x-ratelimit-rapid-free-plans-hard-limit-reset"); ok {
		info.MonthlyReset = now + int64(v)
	}
	return info
}

func headerInt(h http.Header, name string) (int, bool) {
	v := h.Get(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
