package harvest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ed-forum-harvester/internal/client"
	"github.com/JakeFAU/ed-forum-harvester/internal/corpus"
	"github.com/JakeFAU/ed-forum-harvester/internal/ed"
	collyfetcher "github.com/JakeFAU/ed-forum-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/ed-forum-harvester/internal/forum"
	"github.com/JakeFAU/ed-forum-harvester/internal/policy/backoff"
)

type fakeSource struct {
	courses    []forum.Course
	coursesErr error
	threads    map[int64][]forum.ThreadSummary
	threadErr  map[int64]error
	details    map[int64]forum.ThreadDetail
	detailErr  map[int64]error
}

func (f *fakeSource) ListCourses(context.Context) ([]forum.Course, error) {
	return f.courses, f.coursesErr
}

func (f *fakeSource) ListThreads(_ context.Context, courseID int64) ([]forum.ThreadSummary, error) {
	return f.threads[courseID], f.threadErr[courseID]
}

func (f *fakeSource) GetThreadDetail(_ context.Context, threadID int64) (forum.ThreadDetail, error) {
	if err := f.detailErr[threadID]; err != nil {
		return forum.ThreadDetail{}, err
	}
	return f.details[threadID], nil
}

func TestQuestionText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		document string
		want     string
	}{
		{name: "empty", document: "", want: "Heading"},
		{name: "whitespace", document: "  \n", want: "Heading"},
		{name: "caret placeholder", document: "^", want: "Heading"},
		{name: "title placeholder", document: "Title", want: "Heading"},
		{name: "mentions title", document: "see the title above", want: "Heading"},
		{name: "upper-case mention is a body", document: "See the TITLE above", want: "See the TITLE above"},
		{name: "padded placeholder", document: "  Title  ", want: "Heading"},
		{name: "real body", document: "Why does X happen?", want: "Why does X happen?"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := QuestionText(forum.ThreadSummary{ID: 1, Title: "Heading", Document: tc.document})
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCollectEnumerationFailureIsFatal(t *testing.T) {
	t.Parallel()

	src := &fakeSource{coursesErr: errors.New("unauthorized")}
	c, report, err := NewCollector(src, nil).Collect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enumerate courses")
	assert.Equal(t, 0, c.Len())
	assert.Zero(t, report.Counters.Courses)
}

func TestCollectFoldsCoursesAndRecoversFailures(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		courses: []forum.Course{{ID: 1, Name: "Algorithms"}, {ID: 2, Name: "Compilers"}, {ID: 3, Name: "Empty"}},
		threads: map[int64][]forum.ThreadSummary{
			1: {
				{ID: 10, Title: "Sorting", Document: "How stable is quicksort?"},
				{ID: 11, Title: "Graphs", Document: "^"},
				{ID: 12, Title: "Broken", Document: "body"},
			},
			2: {{ID: 20, Title: "Parsing", Document: "LL or LR?"}},
		},
		threadErr: map[int64]error{2: errors.New("page 2 failed")},
		details: map[int64]forum.ThreadDetail{
			10: {Answers: []forum.Answer{{Document: "No."}}},
			11: {Answers: []forum.Answer{{Document: "BFS"}, {Document: "DFS"}}},
			20: forum.EmptyThreadDetail(),
		},
		detailErr: map[int64]error{12: errors.New("boom")},
	}

	got, report, err := NewCollector(src, nil).Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"Algorithms", "Compilers", "Empty"}, got.Courses())

	algo, ok := got.Entries("Algorithms")
	require.True(t, ok)
	require.Len(t, algo, 2)
	assert.Equal(t, "How stable is quicksort?", algo[0].Question)
	assert.Equal(t, "No.", algo[0].Answer.Text())
	assert.Equal(t, "Graphs", algo[1].Question)
	assert.Equal(t, []string{"BFS", "DFS"}, algo[1].Answer.Texts())

	comp, ok := got.Entries("Compilers")
	require.True(t, ok)
	require.Len(t, comp, 1)
	assert.Equal(t, corpus.NoAnswers, comp[0].Answer.Text())

	empty, ok := got.Entries("Empty")
	require.True(t, ok)
	assert.Empty(t, empty)

	assert.Equal(t, forum.RunCounters{
		Courses:        3,
		CoursesFailed:  1,
		Threads:        4,
		ThreadsSkipped: 1,
		ThreadsStubbed: 1,
		Entries:        3,
	}, report.Counters)
	require.Len(t, report.Failures, 2)
	assert.Equal(t, ScopeThread, report.Failures[0].Scope)
	assert.Equal(t, int64(12), report.Failures[0].ThreadID)
	assert.Equal(t, ScopeCourse, report.Failures[1].Scope)
	assert.Equal(t, "Compilers", report.Failures[1].Course)
}

func TestCollectStopsOnCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &fakeSource{courses: []forum.Course{{ID: 1, Name: "A"}}}
	_, _, err := NewCollector(src, nil).Collect(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

// cancelingSource cancels the run from inside the thread listing.
type cancelingSource struct {
	fakeSource
	cancel context.CancelFunc
}

func (c *cancelingSource) ListThreads(ctx context.Context, _ int64) ([]forum.ThreadSummary, error) {
	c.cancel()
	return nil, ctx.Err()
}

func TestCollectCanceledDuringLastCourseFails(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &cancelingSource{
		fakeSource: fakeSource{courses: []forum.Course{{ID: 1, Name: "Only"}}},
		cancel:     cancel,
	}

	out, report, err := NewCollector(src, nil).Collect(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, out.Len())
	assert.Equal(t, 1, report.Counters.CoursesFailed)
}

type noopPauser struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (p *noopPauser) Pause(_ context.Context, d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delays = append(p.delays, d)
	return nil
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	assert.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestCollectEndToEnd(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/user":
			writeJSON(t, w, map[string]any{
				"user": map[string]any{"id": 7, "name": "Ada"},
				"courses": []map[string]any{
					{"course": map[string]any{"id": 1, "name": "Course A"}, "role": "student"},
					{"course": map[string]any{"id": 2, "name": "Course B"}, "role": "student"},
				},
			})
		case "/courses/1/threads":
			if r.URL.Query().Get("offset") != "0" {
				writeJSON(t, w, map[string]any{"threads": []any{}})
				return
			}
			writeJSON(t, w, map[string]any{"threads": []map[string]any{
				{"id": 11, "title": "Loops", "document": "Why does X happen?"},
				{"id": 12, "title": "Recursion", "document": "Title"},
			}})
		case "/courses/2/threads":
			http.Error(w, "internal", http.StatusInternalServerError)
		case "/threads/11":
			assert.Equal(t, "1", r.URL.Query().Get("view"))
			writeJSON(t, w, map[string]any{"thread": map[string]any{
				"document": "Why does X happen?",
				"answers":  []map[string]any{{"document": "Because Y."}, {"document": "Also Z."}},
			}})
		case "/threads/12":
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	pauser := &noopPauser{}
	transport := collyfetcher.New(collyfetcher.Config{Timeout: 5 * time.Second}, nil)
	caller := client.New(transport, backoff.New(), nil, pauser, client.Config{MaxAttempts: 2, BaseDelay: time.Millisecond}, nil)
	api, err := ed.New(caller, pauser, ed.Config{Host: srv.URL, Credential: "secret"}, nil)
	require.NoError(t, err)

	got, report, err := NewCollector(api, nil).Collect(context.Background())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, corpus.Encode(&buf, got))
	want := `{
    "Course A": [
        [
            "Why does X happen?",
            [
                "Because Y.",
                "Also Z."
            ]
        ],
        [
            "Recursion",
            "No answers available"
        ]
    ],
    "Course B": []
}
`
	assert.Equal(t, want, buf.String())
	assert.Equal(t, 1, report.Counters.CoursesFailed)
	assert.Equal(t, 1, report.Counters.ThreadsStubbed)
	assert.Equal(t, 2, report.Counters.Entries)
}
