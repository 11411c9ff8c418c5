package wa

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mukisa/paybot/core/chat"
	"github.com/mukisa/paybot/core/dispatch"
)

type captureQueue struct {
	events []chat.Event
	err    error
}

func (c *captureQueue) Enqueue(_ context.Context, ev chat.Event) error {
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, ev)
	return nil
}

type staticLinks map[string]string

func (s staticLinks) Resolve(_ context.Context, code string) (string, bool, error) {
	url, ok := s[code]
	return url, ok, nil
}

type readRecorder struct {
	mu  sync.Mutex
	ids []string
}

func (r *readRecorder) MarkRead(_ context.Context, messageID string) error {
	r.mu.Lock()
	r.ids = append(r.ids, messageID)
	r.mu.Unlock()
	return nil
}

func (r *readRecorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func newTestServer(t *testing.T, q *captureQueue, links LinkResolver) *httptest.Server {
	t.Helper()
	s := NewServer(ServerConfig{VerifyToken: "shhh"}, q, links, nil)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestVerifyHandshake(t *testing.T) {
	srv := newTestServer(t, &captureQueue{}, nil)

	resp, err := http.Get(srv.URL + "/webhook?hub.mode=subscribe&hub.verify_token=shhh&hub.challenge=12345")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "12345", string(body))
}

func TestVerifyHandshakeWrongToken(t *testing.T) {
	srv := newTestServer(t, &captureQueue{}, nil)

	resp, err := http.Get(srv.URL + "/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestNotifyEnqueuesEvents(t *testing.T) {
	q := &captureQueue{}
	srv := newTestServer(t, q, nil)

	resp, err := http.Post(srv.URL+"/webhook", "application/json", strings.NewReader(textNotification))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Len(t, q.events, 1)
	assert.Equal(t, "wamid.ABC123", q.events[0].ID)
	assert.Equal(t, "pay tv", q.events[0].Text)
}

func TestNotifyMarksMessagesRead(t *testing.T) {
	q := &captureQueue{}
	reads := &readRecorder{}
	s := NewServer(ServerConfig{VerifyToken: "shhh"}, q, nil, reads)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Post(srv.URL+"/webhook", "application/json", strings.NewReader(textNotification))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Eventually(t, func() bool {
		ids := reads.seen()
		return len(ids) == 1 && ids[0] == "wamid.ABC123"
	}, time.Second, 5*time.Millisecond)
}

func TestNotifyAcksDuplicates(t *testing.T) {
	q := &captureQueue{err: dispatch.ErrDuplicate}
	srv := newTestServer(t, q, nil)

	resp, err := http.Post(srv.URL+"/webhook", "application/json", strings.NewReader(textNotification))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNotifyRejectsMalformedBody(t *testing.T) {
	srv := newTestServer(t, &captureQueue{}, nil)

	resp, err := http.Post(srv.URL+"/webhook", "application/json", strings.NewReader("{broken"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestShortLinkRedirect(t *testing.T) {
	links := staticLinks{"abc12345": "https://gateway.example.com/pay?gtp_OrderId=ORD-1"}
	srv := newTestServer(t, &captureQueue{}, links)

	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Get(srv.URL + "/s/abc12345")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "https://gateway.example.com/pay?gtp_OrderId=ORD-1", resp.Header.Get("Location"))

	resp, err = client.Get(srv.URL + "/s/unknown1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &captureQueue{}, nil)
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `"status":"ok"`)
}
