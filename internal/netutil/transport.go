package netutil

import (
	"crypto/tls"
	"net/http"
	"time"
)

// NewTransport returns the HTTP transport shared by the Cognito and GraphQL
// clients. Both endpoints are AWS-hosted, so connection reuse across polls
// matters more than per-request setup cost.
func NewTransport() *http.Transport {
	return &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		TLSHandshakeTimeout:   10 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
	}
}
