package backend

import (
	"net"
	"net/http"
	"time"
)

// PoolConfig tunes the shared HTTP transport both reference adapters
// use. Adapted from a connection-pool manager built for a multi-
// provider HTTP gateway; generalized here to the two quote backends
// instead of per-LLM-vendor routing.
type PoolConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	DialTimeout         time.Duration
	TLSHandshakeTimeout time.Duration
}

// DefaultPoolConfig returns sane defaults for a low-volume collector
// (a handful of tracked symbols polled every few minutes, not a
// high-throughput gateway).
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:        32,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
		DialTimeout:         10 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

// NewTransport builds the shared *http.Transport both adapters pass to
// their *http.Client, so DNS/TCP/TLS connection reuse is shared rather
// than each adapter opening its own isolated pool.
func NewTransport(cfg PoolConfig) *http.Transport {
	dialer := &net.Dialer{Timeout: cfg.DialTimeout}
	return &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		TLSHandshakeTimeout: cfg.TLSHandshakeTimeout,
	}
}
