package report

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/net/http2"
)

// Sender transmits an encoded report. Implementations bound the request with
// their own timeout.
type Sender interface {
	Send(ctx context.Context, body []byte, token string) (*http.Response, error)
}

// HTTPConfig configures an HTTPSender.
type HTTPConfig struct {
	Endpoint           string
	Timeout            time.Duration
	CAFile             string
	InsecureSkipVerify bool
	UserAgent          string
}

// HTTPSender POSTs reports over HTTPS with HTTP/2 enabled.
type HTTPSender struct {
	endpoint  string
	userAgent string
	client    *http.Client
}

// NewHTTPSender builds the client. It fails only on unreadable TLS material.
func NewHTTPSender(cfg HTTPConfig) (*HTTPSender, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}
	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("parse CA file %s: no certificates", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		TLSClientConfig:     tlsConfig,
		TLSHandshakeTimeout: cfg.Timeout,
		IdleConnTimeout:     90 * time.Second,
		MaxIdleConns:        1,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		return nil, fmt.Errorf("configure http2: %w", err)
	}

	return &HTTPSender{
		endpoint:  cfg.Endpoint,
		userAgent: cfg.UserAgent,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
	}, nil
}

// Send POSTs body as JSON with the token in the Authorization header.
func (s *HTTPSender) Send(ctx context.Context, body []byte, token string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", token)
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post report: %w", err)
	}
	return resp, nil
}
