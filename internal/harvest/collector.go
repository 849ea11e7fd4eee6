// Package harvest drives course enumeration, thread pagination and thread
// detail fetching, and folds the results into a corpus.
package harvest

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/ed-forum-harvester/internal/corpus"
	"github.com/JakeFAU/ed-forum-harvester/internal/forum"
	"github.com/JakeFAU/ed-forum-harvester/internal/metrics"
)

var tracer = otel.Tracer("github.com/JakeFAU/ed-forum-harvester/internal/harvest")

// Source is the forum API surface the collector needs.
type Source interface {
	ListCourses(ctx context.Context) ([]forum.Course, error)
	ListThreads(ctx context.Context, courseID int64) ([]forum.ThreadSummary, error)
	GetThreadDetail(ctx context.Context, threadID int64) (forum.ThreadDetail, error)
}

// Failure scopes.
const (
	ScopeCourse = "course"
	ScopeThread = "thread"
)

// Failure is a recovered error that did not stop the run.
type Failure struct {
	Scope    string `json:"scope"`
	CourseID int64  `json:"course_id"`
	Course   string `json:"course"`
	ThreadID int64  `json:"thread_id,omitempty"`
	Error    string `json:"error"`
}

// Report summarizes a collection run.
type Report struct {
	Counters forum.RunCounters `json:"counters"`
	Failures []Failure         `json:"failures"`
}

// Collector assembles a corpus from a Source.
type Collector struct {
	source Source
	logger *zap.Logger
}

// NewCollector builds a Collector.
func NewCollector(source Source, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{source: source, logger: logger}
}

// Collect walks every course and returns the corpus. Only a course
// enumeration failure (or cancellation) is returned as an error; thread-list
// and thread-detail failures are logged, recorded in the Report and skipped.
func (c *Collector) Collect(ctx context.Context) (corpus.Corpus, Report, error) {
	ctx, span := tracer.Start(ctx, "harvest.collect")
	defer span.End()

	report := Report{Failures: []Failure{}}
	courses, err := c.source.ListCourses(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "enumerate courses")
		return corpus.New(), report, fmt.Errorf("enumerate courses: %w", err)
	}
	c.logger.Info("courses enumerated", zap.Int("courses", len(courses)))

	out := corpus.New()
	for _, course := range courses {
		if err := ctx.Err(); err != nil {
			return out, report, fmt.Errorf("collect canceled: %w", err)
		}
		entries := c.collectCourse(ctx, course, &report)
		out = out.With(course.Name, entries)
		report.Counters.Courses++
		report.Counters.Entries += len(entries)
	}
	// A course cut short by cancellation must not pass for a finished run.
	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "canceled")
		return out, report, fmt.Errorf("collect canceled: %w", err)
	}
	span.SetAttributes(
		attribute.Int("harvest.courses", report.Counters.Courses),
		attribute.Int("harvest.entries", report.Counters.Entries),
	)
	return out, report, nil
}

func (c *Collector) collectCourse(ctx context.Context, course forum.Course, report *Report) []corpus.Entry {
	ctx, span := tracer.Start(ctx, "harvest.course", trace.WithAttributes(
		attribute.Int64("forum.course_id", course.ID),
	))
	defer span.End()

	logger := c.logger.With(zap.Int64("course_id", course.ID), zap.String("course", course.Name))
	entries := make([]corpus.Entry, 0)

	threads, err := c.source.ListThreads(ctx, course.ID)
	if err != nil {
		// Keep whatever pages arrived before the failure.
		logger.Error("thread listing failed; keeping partial results",
			zap.Int("threads", len(threads)),
			zap.Error(err),
		)
		span.RecordError(err)
		metrics.ObserveCourse(metrics.CourseFailed)
		report.Counters.CoursesFailed++
		report.Failures = append(report.Failures, Failure{
			Scope:    ScopeCourse,
			CourseID: course.ID,
			Course:   course.Name,
			Error:    err.Error(),
		})
	} else {
		metrics.ObserveCourse(metrics.CourseOK)
	}
	logger.Info("threads listed", zap.Int("threads", len(threads)))

	for _, thread := range threads {
		if ctx.Err() != nil {
			break
		}
		report.Counters.Threads++
		question := QuestionText(thread)
		detail, err := c.source.GetThreadDetail(ctx, thread.ID)
		if err != nil {
			logger.Warn("thread skipped", zap.Int64("thread_id", thread.ID), zap.Error(err))
			metrics.ObserveThread(metrics.ThreadSkipped)
			report.Counters.ThreadsSkipped++
			report.Failures = append(report.Failures, Failure{
				Scope:    ScopeThread,
				CourseID: course.ID,
				Course:   course.Name,
				ThreadID: thread.ID,
				Error:    err.Error(),
			})
			continue
		}
		if detail.Stub {
			metrics.ObserveThread(metrics.ThreadStubbed)
			report.Counters.ThreadsStubbed++
		} else {
			metrics.ObserveThread(metrics.ThreadHarvested)
		}
		entries = append(entries, corpus.Entry{
			Question: question,
			Answer:   corpus.Collapse(detail.Answers),
		})
	}
	span.SetAttributes(attribute.Int("harvest.entries", len(entries)))
	return entries
}

// placeholderBodies are summary documents that carry no real question.
var placeholderBodies = map[string]struct{}{
	"^":     {},
	"title": {},
}

// QuestionText picks the text recorded for a thread. The title wins when the
// trimmed summary document is blank, equals a placeholder ("^" or "title",
// ignoring case) or contains the lower-case substring "title"; the substring
// match is case-sensitive. Otherwise the document itself is used.
func QuestionText(thread forum.ThreadSummary) string {
	body := strings.TrimSpace(thread.Document)
	if body == "" {
		return thread.Title
	}
	if _, ok := placeholderBodies[strings.ToLower(body)]; ok {
		return thread.Title
	}
	if strings.Contains(body, "title") {
		return thread.Title
	}
	return thread.Document
}
