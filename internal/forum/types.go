// Package forum defines the core types shared across the harvester subsystems.
package forum

import (
	"net/http"
	"net/url"
	"time"
)

// Credential is the bearer token supplied by the caller for one run.
type Credential string

// String redacts the token so it never lands in logs by accident.
func (c Credential) String() string {
	if c == "" {
		return ""
	}
	return "[redacted]"
}

// Course is a course visible to the credential.
type Course struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ThreadSummary is one item of a thread list page.
type ThreadSummary struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	Document string `json:"document"`
}

// Answer is a single reply to a thread, in server order.
type Answer struct {
	Document string `json:"document"`
}

// ThreadDetail is the full view of a thread.
type ThreadDetail struct {
	Body    string
	Answers []Answer
	// Users maps user ID to display name.
	Users map[int64]string
	// Stub marks a placeholder returned after the retry budget ran out.
	Stub bool
}

// EmptyThreadDetail returns the stub used when a thread could not be fetched
// within the retry budget.
func EmptyThreadDetail() ThreadDetail {
	return ThreadDetail{
		Body:    "",
		Answers: []Answer{},
		Users:   map[int64]string{},
		Stub:    true,
	}
}

// Request captures everything needed for one API round trip.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Query  url.Values
	// Endpoint is a low-cardinality label used for metrics and logs.
	Endpoint string
	// MaxAttempts bounds rate-limit retries for this request; zero means the
	// caller's default.
	MaxAttempts int
}

// Response is a successful API response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
}

// RunStatus represents the lifecycle state of a harvest run.
type RunStatus string

// Run status values persisted in the run store.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// RunCounters tracks per-run harvest stats.
type RunCounters struct {
	Courses        int `json:"courses"`
	CoursesFailed  int `json:"courses_failed"`
	Threads        int `json:"threads"`
	ThreadsSkipped int `json:"threads_skipped"`
	ThreadsStubbed int `json:"threads_stubbed"`
	Entries        int `json:"entries"`
}

// Run is the ledger record kept for each harvest.
type Run struct {
	ID           string      `json:"id"`
	Host         string      `json:"host"`
	Status       RunStatus   `json:"status"`
	Started      time.Time   `json:"started_at"`
	Finished     *time.Time  `json:"finished_at,omitempty"`
	ErrorText    string      `json:"error_text,omitempty"`
	Counters     RunCounters `json:"counters"`
	CorpusURI    string      `json:"corpus_uri,omitempty"`
	CorpusSHA256 string      `json:"corpus_sha256,omitempty"`
}

// CorpusReady is published once a corpus has been persisted.
type CorpusReady struct {
	RunID        string `json:"run_id"`
	CorpusURI    string `json:"corpus_uri"`
	CorpusSHA256 string `json:"corpus_sha256"`
	Courses      int    `json:"courses"`
	Entries      int    `json:"entries"`
}
