package telegram

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scripted struct {
	errs   []error
	calls  int
	bodies []string
}

func (s *scripted) RoundTrip(req *http.Request) (*http.Response, error) {
	s.calls++
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		s.bodies = append(s.bodies, string(b))
	}
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("{}"))}, nil
}

func TestRedialRepeatsRefusedDials(t *testing.T) {
	refused := &net.OpError{Op: "dial", Err: errors.New("connection refused")}
	next := &scripted{errs: []error{refused, refused}}
	rt := &redial{next: next, attempts: 3, pause: time.Millisecond}

	req, err := http.NewRequest(http.MethodPost, "https://api.telegram.org/botX/getMe", strings.NewReader("a=1"))
	require.NoError(t, err)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, 3, next.calls)
	assert.Equal(t, []string{"a=1", "a=1", "a=1"}, next.bodies)
}

func TestRedialKeepsOtherErrors(t *testing.T) {
	next := &scripted{errs: []error{errors.New("connection reset")}}
	rt := &redial{next: next, attempts: 3, pause: time.Millisecond}

	req, err := http.NewRequest(http.MethodGet, "https://api.telegram.org/botX/getMe", nil)
	require.NoError(t, err)
	_, err = rt.RoundTrip(req)
	assert.ErrorContains(t, err, "reset")
	assert.Equal(t, 1, next.calls)
}

func TestRedialStopsOnCancel(t *testing.T) {
	refused := &net.OpError{Op: "dial", Err: errors.New("connection refused")}
	next := &scripted{errs: []error{refused, refused, refused}}
	rt := &redial{next: next, attempts: 3, pause: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.telegram.org/botX/getMe", nil)
	require.NoError(t, err)
	_, err = rt.RoundTrip(req)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, next.calls)
}

func TestClientOutlivesPoll(t *testing.T) {
	assert.Greater(t, newHTTPClient(25*time.Second).Timeout, 25*time.Second)
}
