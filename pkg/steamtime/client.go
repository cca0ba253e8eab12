package steamtime

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// HTTPClient defines the interface for making HTTP requests.
// This abstraction allows for testing and custom implementations.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// newDefaultHTTPClient creates an HTTP client for the time endpoint. The
// request timeout itself is applied per call through the context so that
// expiry can be reported as ErrTimeout.
func newDefaultHTTPClient(timeout time.Duration) HTTPClient {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   timeout,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: timeout,
	}

	return &http.Client{Transport: transport}
}
