package telegram

import (
	"net"
	"net/http"
	"time"

	"github.com/m3rciful/dialogbot/core/telegram/outbox"
)

// newHTTPClient returns the client used for every bot API call. The client
// timeout must exceed the long-poll timeout or getUpdates would always fail.
func newHTTPClient(pollTimeout time.Duration) *http.Client {
	base := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          32,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{
		Timeout:   pollTimeout + 20*time.Second,
		Transport: &redial{next: base, attempts: 3, pause: time.Second},
	}
}

// redial repeats requests that never reached the API: refused dials and
// connect timeouts. Anything that may have been delivered is returned as is.
type redial struct {
	next     http.RoundTripper
	attempts int
	pause    time.Duration
}

func (t *redial) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	for attempt := 1; err != nil && attempt < t.attempts && outbox.Transient(err); attempt++ {
		if req.Body != nil && req.GetBody == nil {
			break
		}
		timer := time.NewTimer(t.pause * time.Duration(attempt))
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}
		retry := req.Clone(req.Context())
		if req.GetBody != nil {
			body, bodyErr := req.GetBody()
			if bodyErr != nil {
				return nil, bodyErr
			}
			retry.Body = body
		}
		resp, err = t.next.RoundTrip(retry)
	}
	return resp, err
}
