package httpclient

import (
	"net/http"
	"time"

	"github.com/yunfie-twitter/ytdlp-api/internal/logging"
)

// New returns an http.Client configured for outbound requests made by the
// service itself — cover-art fetches, webhook delivery, and anything else
// that isn't the extractor/transcoder subprocess traffic.
//
// It respects HTTP(S)_PROXY/ALL_PROXY/NO_PROXY by default, but bypasses an
// unreachable loopback proxy so local development keeps working.
func New(timeout time.Duration, logger logging.Logger) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: Transport(logger),
	}
}

// Transport returns an http.Transport clone with a proxy policy suitable for
// outbound calls.
func Transport(logger logging.Logger) *http.Transport {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return &http.Transport{Proxy: proxyFunc(logger)}
	}

	transport := base.Clone()
	transport.Proxy = proxyFunc(logger)
	return transport
}
