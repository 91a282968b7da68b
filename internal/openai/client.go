// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package openai

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/morganforge/ghostwriter/internal/config"
)

// Configuration constants for the completions client.
const (
	// DefaultConnectTimeout bounds connection establishment.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultReadTimeout bounds the gap between stream reads.
	DefaultReadTimeout = 60 * time.Second

	// userAgent identifies this client.
	userAgent = "ghostwriter/1.0"
)

// Client speaks the OpenAI-compatible chat-completions wire protocol to a
// configured endpoint, cloud or self-hosted. One client is built per
// resolved profile; it is safe for concurrent use.
type Client struct {
	endpoint string
	token    string

	// streamClient has no overall timeout: stream lifetime is controlled
	// by context and the per-read timeout.
	streamClient *http.Client

	connectTimeout time.Duration
	readTimeout    time.Duration
}

// NewClient builds a client from a resolved profile. Proxy settings, when
// present, route all requests through the configured HTTP proxy.
func NewClient(cfg *config.Config) (*Client, error) {
	connectTimeout := time.Duration(cfg.Assistant.ConnectTimeoutSecs) * time.Second
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	readTimeout := time.Duration(cfg.Assistant.ReadTimeoutSecs) * time.Second
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: connectTimeout,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: connectTimeout + readTimeout,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}

	if cfg.Proxy.Address != "" {
		proxyURL, err := buildProxyURL(cfg.Proxy)
		if err != nil {
			return nil, err
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return &Client{
		endpoint: cfg.Assistant.URL,
		token:    cfg.Assistant.Token,
		streamClient: &http.Client{
			Transport: transport,
			// No overall timeout for streaming - controlled via context
			// and the per-read timeout.
		},
		connectTimeout: connectTimeout,
		readTimeout:    readTimeout,
	}, nil
}

// buildProxyURL assembles the proxy URL, embedding basic credentials when
// configured.
func buildProxyURL(p config.ProxyConfig) (*url.URL, error) {
	raw := "http://" + net.JoinHostPort(p.Address, strconv.Itoa(p.Port))
	proxyURL, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy address: %w", err)
	}
	if p.Username != "" {
		proxyURL.User = url.UserPassword(p.Username, p.Password)
	}
	return proxyURL, nil
}

// Endpoint returns the configured completions URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// setHeaders sets the required headers for completions requests.
func (c *Client) setHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
}

// handleErrorResponse converts HTTP error responses to appropriate Go
// errors. Known statuses map to sentinels so callers can errors.Is them.
func handleErrorResponse(statusCode int, body []byte) error {
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		detail := &APIError{
			Code:    apiErr.Error.Code,
			Message: apiErr.Error.Message,
			Status:  statusCode,
		}
		switch statusCode {
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: %s", ErrAuthFailed, detail.Message)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrModelNotFound, detail.Message)
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %s", ErrRateLimited, detail.Message)
		default:
			return detail
		}
	}

	switch statusCode {
	case http.StatusUnauthorized:
		return ErrAuthFailed
	case http.StatusNotFound:
		return ErrModelNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return &APIError{
			Message: string(body),
			Status:  statusCode,
		}
	}
}
