package httpclient

import (
	"net/http"

	"golang.org/x/time/rate"
)

// limitedTransport blocks on the limiter before every request, so all
// callers sharing the client are throttled together.
type limitedTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

func (t *limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(req)
}

// ForIngest wraps a client with a steady request-rate cap toward the
// watch-graph upstream. rps <= 0 disables the limiter.
func ForIngest(client *http.Client, rps float64, burst int) *http.Client {
	if client == nil {
		client = Default()
	}
	if rps <= 0 {
		return client
	}
	if burst < 1 {
		burst = 1
	}
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	c := *client
	c.Transport = &limitedTransport{
		base:    base,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
	return &c
}
