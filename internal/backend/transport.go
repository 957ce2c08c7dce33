package backend

import (
	"net"
	"net/http"
	"time"
)

// Config tunes the shared upstream transport.
type Config struct {
	DialTimeout         time.Duration
	MaxIdleConnsPerHost int
	// Via names this proxy in the Via header of relayed responses.
	Via string
}

func NewTransport(cfg Config) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: 60 * time.Second,
	}

	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          cfg.MaxIdleConnsPerHost * 4,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		// relay upstream bodies as encoded
		DisableCompression: true,
	}
}
