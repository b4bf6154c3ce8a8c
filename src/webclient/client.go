package webclient

import (
	"net"
	"net/http"
	"time"
)

// NewDefault returns an HTTP client with sane timeouts.
func NewDefault(timeout time.Duration) *http.Client {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// NewStreaming returns an HTTP client for long-lived streaming responses.
// There is no overall deadline; the request context bounds the body read,
// and headerTimeout bounds the wait for the upstream to start answering.
func NewStreaming(headerTimeout time.Duration) *http.Client {
	if headerTimeout == 0 {
		headerTimeout = 120 * time.Second
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: headerTimeout,
	}
	return &http.Client{Transport: transport}
}
