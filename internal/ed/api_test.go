package ed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ed-forum-harvester/internal/forum"
)

type callerFunc func(ctx context.Context, req forum.Request) (forum.Response, error)

func (f callerFunc) Call(ctx context.Context, req forum.Request) (forum.Response, error) {
	return f(ctx, req)
}

type recordingPauser struct {
	delays []time.Duration
	err    error
}

func (p *recordingPauser) Pause(_ context.Context, d time.Duration) error {
	p.delays = append(p.delays, d)
	return p.err
}

func jsonResponse(t *testing.T, v any) forum.Response {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	return forum.Response{StatusCode: http.StatusOK, Body: body}
}

func threadPage(t *testing.T, start, n int) forum.Response {
	t.Helper()
	threads := make([]forum.ThreadSummary, 0, n)
	for i := 0; i < n; i++ {
		threads = append(threads, forum.ThreadSummary{ID: int64(start + i), Title: fmt.Sprintf("t%d", start+i)})
	}
	return jsonResponse(t, map[string]any{"threads": threads})
}

func newTestAPI(t *testing.T, caller forum.Caller, pauser forum.Pauser) *API {
	t.Helper()
	api, err := New(caller, pauser, Config{
		Host:       "https://forum.example.com/api/",
		Credential: "tok",
	}, nil, WithRand(func() float64 { return 0.5 }))
	require.NoError(t, err)
	return api
}

func TestNewValidatesHost(t *testing.T) {
	t.Parallel()

	noop := callerFunc(func(context.Context, forum.Request) (forum.Response, error) { return forum.Response{}, nil })
	_, err := New(noop, &recordingPauser{}, Config{}, nil)
	require.Error(t, err)
	_, err = New(noop, &recordingPauser{}, Config{Host: "forum.example.com"}, nil)
	require.Error(t, err)
	_, err = New(nil, &recordingPauser{}, Config{Host: "https://forum.example.com"}, nil)
	require.Error(t, err)

	api, err := New(noop, &recordingPauser{}, Config{Host: " https://forum.example.com/api/ "}, nil)
	require.NoError(t, err)
	require.Equal(t, "https://forum.example.com/api", api.Host())
	require.Equal(t, DefaultPageSize, api.cfg.PageSize)
	require.Equal(t, DefaultEmptyPageThreshold, api.cfg.EmptyPageThreshold)
	require.Equal(t, DefaultCooldown, api.cfg.Cooldown)
}

func TestListCoursesFlatAndEnveloped(t *testing.T) {
	t.Parallel()

	var seen forum.Request
	caller := callerFunc(func(_ context.Context, req forum.Request) (forum.Response, error) {
		seen = req
		return forum.Response{StatusCode: http.StatusOK, Body: []byte(`{
			"user": {"id": 9, "name": "Ada", "email": "ada@example.com"},
			"courses": [
				{"course": {"id": 1, "name": "CS 101"}, "role": {"role": "student"}},
				{"id": 2, "name": "Math 2"}
			]
		}`)}, nil
	})

	courses, err := newTestAPI(t, caller, &recordingPauser{}).ListCourses(context.Background())
	require.NoError(t, err)
	require.Equal(t, []forum.Course{{ID: 1, Name: "CS 101"}, {ID: 2, Name: "Math 2"}}, courses)
	require.Equal(t, "https://forum.example.com/api/user", seen.URL)
	require.Equal(t, "Bearer tok", seen.Header.Get("Authorization"))
	require.Equal(t, EndpointUser, seen.Endpoint)
}

func TestListCoursesMissingFieldIsEmpty(t *testing.T) {
	t.Parallel()

	caller := callerFunc(func(context.Context, forum.Request) (forum.Response, error) {
		return forum.Response{Body: []byte(`{"user": {"name": "Ada"}}`)}, nil
	})
	courses, err := newTestAPI(t, caller, &recordingPauser{}).ListCourses(context.Background())
	require.NoError(t, err)
	require.NotNil(t, courses)
	require.Empty(t, courses)
}

func TestListCoursesPropagatesErrors(t *testing.T) {
	t.Parallel()

	caller := callerFunc(func(context.Context, forum.Request) (forum.Response, error) {
		return forum.Response{}, forum.NewRequestFailure(http.StatusUnauthorized, "u", []byte("bad token"))
	})
	_, err := newTestAPI(t, caller, &recordingPauser{}).ListCourses(context.Background())
	var rf *forum.RequestFailure
	require.True(t, errors.As(err, &rf))
	require.Equal(t, http.StatusUnauthorized, rf.StatusCode)

	bad := callerFunc(func(context.Context, forum.Request) (forum.Response, error) {
		return forum.Response{Body: []byte(`not json`)}, nil
	})
	_, err = newTestAPI(t, bad, &recordingPauser{}).ListCourses(context.Background())
	require.ErrorContains(t, err, "decode user response")
}

func TestListThreadsStopsAfterConsecutiveEmptyPages(t *testing.T) {
	t.Parallel()

	sizes := []int{10, 10, 0, 10, 0, 0, 0, 10}
	var offsets []string
	caller := callerFunc(func(_ context.Context, req forum.Request) (forum.Response, error) {
		idx := len(offsets)
		offsets = append(offsets, req.Query.Get("offset"))
		require.Equal(t, "10", req.Query.Get("limit"))
		require.Equal(t, "https://forum.example.com/api/courses/42/threads", req.URL)
		return threadPage(t, idx*100, sizes[idx]), nil
	})
	pauser := &recordingPauser{}

	threads, err := newTestAPI(t, caller, pauser).ListThreads(context.Background(), 42)
	require.NoError(t, err)
	require.Len(t, offsets, 7, "page requests")
	require.Len(t, threads, 30)
	require.Equal(t, []string{"0", "10", "20", "20", "30", "30", "30"}, offsets)

	// One politeness pause between each pair of requests, drawn from [1s, 2s).
	require.Len(t, pauser.delays, 6)
	for _, d := range pauser.delays {
		require.Equal(t, 1500*time.Millisecond, d)
	}
}

func TestListThreadsAllEmpty(t *testing.T) {
	t.Parallel()

	calls := 0
	caller := callerFunc(func(context.Context, forum.Request) (forum.Response, error) {
		calls++
		return forum.Response{Body: []byte(`{}`)}, nil
	})
	threads, err := newTestAPI(t, caller, &recordingPauser{}).ListThreads(context.Background(), 1)
	require.NoError(t, err)
	require.Empty(t, threads)
	require.Equal(t, 3, calls)
}

func TestListThreadsCoolsDownAndResumesSameOffset(t *testing.T) {
	t.Parallel()

	var offsets []string
	caller := callerFunc(func(_ context.Context, req forum.Request) (forum.Response, error) {
		offsets = append(offsets, req.Query.Get("offset"))
		switch len(offsets) {
		case 1:
			return threadPage(t, 0, 10), nil
		case 2:
			return forum.Response{}, fmt.Errorf("wrapped: %w", forum.ErrRetryBudgetExhausted)
		case 3:
			return threadPage(t, 10, 4), nil
		default:
			return forum.Response{Body: []byte(`{"threads": []}`)}, nil
		}
	})
	pauser := &recordingPauser{}

	threads, err := newTestAPI(t, caller, pauser).ListThreads(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, threads, 14)
	require.Equal(t, []string{"0", "10", "10", "20", "20", "20"}, offsets)
	require.Contains(t, pauser.delays, DefaultCooldown)
}

func TestListThreadsReturnsPartialOnFailure(t *testing.T) {
	t.Parallel()

	calls := 0
	caller := callerFunc(func(context.Context, forum.Request) (forum.Response, error) {
		calls++
		if calls == 1 {
			return threadPage(t, 0, 10), nil
		}
		return forum.Response{}, forum.NewRequestFailure(http.StatusInternalServerError, "u", nil)
	})

	threads, err := newTestAPI(t, caller, &recordingPauser{}).ListThreads(context.Background(), 5)
	require.Error(t, err)
	require.Len(t, threads, 10)
	require.Equal(t, 2, calls)
}

func TestListThreadsHonoursCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	caller := callerFunc(func(context.Context, forum.Request) (forum.Response, error) {
		calls++
		cancel()
		return threadPage(t, 0, 10), nil
	})

	threads, err := newTestAPI(t, caller, &recordingPauser{}).ListThreads(ctx, 5)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, threads, 10)
	require.Equal(t, 1, calls)
}

func TestGetThreadDetail(t *testing.T) {
	t.Parallel()

	var seen forum.Request
	caller := callerFunc(func(_ context.Context, req forum.Request) (forum.Response, error) {
		seen = req
		return forum.Response{Body: []byte(`{
			"thread": {"body": "Why?", "answers": [{"document": "Because"}, {"document": "Also"}]},
			"users": [{"id": 1, "name": "Ada"}, {"id": 2, "name": "Grace"}]
		}`)}, nil
	})

	detail, err := newTestAPI(t, caller, &recordingPauser{}).GetThreadDetail(context.Background(), 77)
	require.NoError(t, err)
	require.Equal(t, "https://forum.example.com/api/threads/77", seen.URL)
	require.Equal(t, "1", seen.Query.Get("view"))
	require.Equal(t, "Why?", detail.Body)
	require.Equal(t, []forum.Answer{{Document: "Because"}, {Document: "Also"}}, detail.Answers)
	require.Equal(t, map[int64]string{1: "Ada", 2: "Grace"}, detail.Users)
	require.False(t, detail.Stub)
}

func TestGetThreadDetailStubsExhaustedBudget(t *testing.T) {
	t.Parallel()

	caller := callerFunc(func(context.Context, forum.Request) (forum.Response, error) {
		return forum.Response{}, fmt.Errorf("x: %w", forum.ErrRetryBudgetExhausted)
	})
	pauser := &recordingPauser{}

	detail, err := newTestAPI(t, caller, pauser).GetThreadDetail(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, detail.Stub)
	require.Empty(t, detail.Body)
	require.NotNil(t, detail.Answers)
	require.Empty(t, detail.Answers)
	require.NotNil(t, detail.Users)
	require.Equal(t, []time.Duration{DefaultCooldown}, pauser.delays)
}

func TestGetThreadDetailPropagatesOtherErrors(t *testing.T) {
	t.Parallel()

	caller := callerFunc(func(context.Context, forum.Request) (forum.Response, error) {
		return forum.Response{}, forum.NewRequestFailure(http.StatusNotFound, "u", nil)
	})
	_, err := newTestAPI(t, caller, &recordingPauser{}).GetThreadDetail(context.Background(), 1)
	require.Error(t, err)

	caller = callerFunc(func(context.Context, forum.Request) (forum.Response, error) {
		return forum.Response{Body: []byte(`{"thread": `)}, nil
	})
	_, err = newTestAPI(t, caller, &recordingPauser{}).GetThreadDetail(context.Background(), 1)
	require.ErrorContains(t, err, "decode thread 1")
}
