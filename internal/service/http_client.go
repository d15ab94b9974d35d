package service

import (
	"net/http"
	"time"
)

// NewHTTPClient builds the shared client used for source collection. Pipeline
// runs fetch many sources against a small set of hosts, so idle connections
// are pooled per host and the overall timeout is the per-source default.
func NewHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
