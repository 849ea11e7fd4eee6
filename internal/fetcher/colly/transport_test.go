package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ed-forum-harvester/internal/forum"
)

func TestSendSuccessPassesHeadersAndQuery(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "harvester-test", r.Header.Get("User-Agent"))
		assert.Equal(t, "20", r.URL.Query().Get("offset"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"threads":[]}`))
	}))
	t.Cleanup(srv.Close)

	tr := New(Config{UserAgent: "harvester-test", Timeout: time.Second}, nil)
	out := tr.Send(context.Background(), forum.Request{
		Method: http.MethodGet,
		URL:    srv.URL + "/courses/7/threads",
		Header: http.Header{"Authorization": {"Bearer secret"}},
		Query:  url.Values{"offset": {"20"}, "limit": {"10"}},
	})

	require.Equal(t, forum.OutcomeSuccess, out.Kind, "err: %v", out.Err)
	require.Equal(t, http.StatusOK, out.Response.StatusCode)
	require.JSONEq(t, `{"threads":[]}`, string(out.Response.Body))
	require.Equal(t, "application/json", out.Response.Header.Get("Content-Type"))
}

func TestSendRateLimited(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	out := New(Config{}, nil).Send(context.Background(), forum.Request{URL: srv.URL + "/user"})
	require.Equal(t, forum.OutcomeRateLimited, out.Kind)
	require.NoError(t, out.Err)
}

func TestSendRequestFailureCarriesStatusAndBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	out := New(Config{}, nil).Send(context.Background(), forum.Request{URL: srv.URL + "/threads/1"})
	require.Equal(t, forum.OutcomeFailure, out.Kind)

	var failure *forum.RequestFailure
	require.True(t, errors.As(out.Err, &failure))
	require.Equal(t, http.StatusInternalServerError, failure.StatusCode)
	require.Contains(t, failure.Body, "boom")
	require.Contains(t, failure.URL, "/threads/1")
}

func TestSendRepeatsSameURL(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)

	tr := New(Config{}, nil)
	for i := 0; i < 3; i++ {
		out := tr.Send(context.Background(), forum.Request{URL: srv.URL + "/user"})
		require.Equal(t, forum.OutcomeSuccess, out.Kind, "err: %v", out.Err)
	}
	require.Equal(t, int32(3), hits.Load())
}

func TestSendCanceledContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	out := New(Config{Timeout: 5 * time.Second}, nil).Send(ctx, forum.Request{URL: srv.URL + "/user"})
	require.Equal(t, forum.OutcomeFailure, out.Kind)
	require.True(t, errors.Is(out.Err, context.DeadlineExceeded), "got %v", out.Err)
}

func TestSendRejectsRelativeURL(t *testing.T) {
	t.Parallel()

	out := New(Config{}, nil).Send(context.Background(), forum.Request{URL: "/user"})
	require.Equal(t, forum.OutcomeFailure, out.Kind)
	require.Error(t, out.Err)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	tr := New(Config{}, nil)
	var result *colly.Response
	var fetchErr error

	hooks := &stubHooks{}
	tr.configureCollectorHooks(hooks, &result, &fetchErr)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	hooks.onError(&colly.Response{}, errors.New("dial failed"))
	require.EqualError(t, fetchErr, "dial failed")
	require.Nil(t, result)

	resp := &colly.Response{StatusCode: http.StatusNotFound}
	hooks.onError(resp, errors.New("Not Found"))
	require.Same(t, resp, result)

	ok := &colly.Response{StatusCode: http.StatusOK}
	hooks.onResponse(ok)
	require.Same(t, ok, result)
}

func TestBuildURLMergesQuery(t *testing.T) {
	t.Parallel()

	got, err := buildURL("https://forum.example.com/threads/5?view=1", url.Values{"x": {"y"}})
	require.NoError(t, err)
	require.Equal(t, "https://forum.example.com/threads/5?view=1&x=y", got)

	got, err = buildURL("https://forum.example.com/user", nil)
	require.NoError(t, err)
	require.Equal(t, "https://forum.example.com/user", got)
}

type stubHooks struct {
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
