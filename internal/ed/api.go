// Package ed implements the forum API operations used by the harvester:
// course enumeration, offset-paginated thread listing and thread detail.
package ed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ed-forum-harvester/internal/forum"
	"github.com/JakeFAU/ed-forum-harvester/internal/metrics"
)

// Endpoint labels used for metrics and logs.
const (
	EndpointUser    = "user"
	EndpointThreads = "threads"
	EndpointThread  = "thread"
)

// Defaults applied when Config leaves a knob unset.
const (
	DefaultPageSize           = 10
	DefaultEmptyPageThreshold = 3
	DefaultPolitenessMin      = time.Second
	DefaultPolitenessMax      = 2 * time.Second
	DefaultCooldown           = 60 * time.Second
)

// Config captures the per-run API parameters.
type Config struct {
	Host       string
	Credential forum.Credential
	// PageSize is the limit sent with every thread list request.
	PageSize int
	// EmptyPageThreshold is the number of consecutive empty pages that ends pagination.
	EmptyPageThreshold int
	// PolitenessMin and PolitenessMax bound the uniform pause between pages.
	PolitenessMin time.Duration
	PolitenessMax time.Duration
	// Cooldown is the pause after a request exhausts its retry budget.
	Cooldown time.Duration
}

// API issues forum requests through a forum.Caller.
type API struct {
	caller forum.Caller
	pauser forum.Pauser
	cfg    Config
	rand   func() float64
	logger *zap.Logger
}

// Option customizes an API.
type Option func(*API)

// WithRand replaces the politeness jitter source. fn must return values in [0, 1).
func WithRand(fn func() float64) Option {
	return func(a *API) {
		if fn != nil {
			a.rand = fn
		}
	}
}

// New validates cfg and builds an API.
func New(caller forum.Caller, pauser forum.Pauser, cfg Config, logger *zap.Logger, opts ...Option) (*API, error) {
	if caller == nil {
		return nil, errors.New("caller is required")
	}
	if pauser == nil {
		return nil, errors.New("pauser is required")
	}
	cfg.Host = strings.TrimRight(strings.TrimSpace(cfg.Host), "/")
	if cfg.Host == "" {
		return nil, errors.New("api host is required")
	}
	if _, err := url.ParseRequestURI(cfg.Host); err != nil {
		return nil, fmt.Errorf("invalid api host %q: %w", cfg.Host, err)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.EmptyPageThreshold <= 0 {
		cfg.EmptyPageThreshold = DefaultEmptyPageThreshold
	}
	if cfg.PolitenessMin < 0 {
		cfg.PolitenessMin = 0
	}
	if cfg.PolitenessMin == 0 && cfg.PolitenessMax == 0 {
		cfg.PolitenessMin, cfg.PolitenessMax = DefaultPolitenessMin, DefaultPolitenessMax
	}
	if cfg.PolitenessMax < cfg.PolitenessMin {
		cfg.PolitenessMax = cfg.PolitenessMin
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &API{
		caller: caller,
		pauser: pauser,
		cfg:    cfg,
		rand:   rand.Float64,
		logger: logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Host returns the normalized API host.
func (a *API) Host() string {
	return a.cfg.Host
}

// ListCourses returns the courses visible to the credential.
func (a *API) ListCourses(ctx context.Context) ([]forum.Course, error) {
	resp, err := a.caller.Call(ctx, a.newRequest(EndpointUser, "/user", nil))
	if err != nil {
		return nil, fmt.Errorf("fetch current user: %w", err)
	}
	var payload userResponse
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, fmt.Errorf("decode user response: %w", err)
	}
	if payload.User != nil {
		a.logger.Info("authenticated",
			zap.String("user", payload.User.Name),
			zap.String("email", payload.User.Email),
		)
	}
	courses := make([]forum.Course, 0, len(payload.Courses))
	for _, item := range payload.Courses {
		courses = append(courses, item.toCourse())
	}
	return courses, nil
}

// ListThreads walks a course's thread list with offset/limit pagination. It
// stops after EmptyPageThreshold consecutive empty pages. A page that exhausts
// the retry budget is retried at the same offset after Cooldown; any other
// error ends pagination and is returned together with the threads collected
// so far.
func (a *API) ListThreads(ctx context.Context, courseID int64) ([]forum.ThreadSummary, error) {
	logger := a.logger.With(zap.Int64("course_id", courseID))
	threads := make([]forum.ThreadSummary, 0)
	offset, empty := 0, 0

	for first := true; empty < a.cfg.EmptyPageThreshold; first = false {
		if err := ctx.Err(); err != nil {
			return threads, fmt.Errorf("list threads for course %d: %w", courseID, err)
		}
		if !first {
			if err := a.pauser.Pause(ctx, a.politeness()); err != nil {
				return threads, fmt.Errorf("list threads for course %d: %w", courseID, err)
			}
		}

		page, err := a.fetchPage(ctx, courseID, offset)
		switch {
		case errors.Is(err, forum.ErrRetryBudgetExhausted):
			metrics.ObservePage(metrics.PageCooldown)
			logger.Warn("thread page exhausted retry budget; cooling down",
				zap.Int("offset", offset),
				zap.Duration("cooldown", a.cfg.Cooldown),
			)
			if err := a.pauser.Pause(ctx, a.cfg.Cooldown); err != nil {
				return threads, fmt.Errorf("list threads for course %d: %w", courseID, err)
			}
			continue
		case err != nil:
			metrics.ObservePage(metrics.PageError)
			return threads, fmt.Errorf("list threads for course %d at offset %d: %w", courseID, offset, err)
		}

		if len(page) == 0 {
			empty++
			metrics.ObservePage(metrics.PageEmpty)
			logger.Debug("empty thread page", zap.Int("offset", offset), zap.Int("consecutive", empty))
			continue
		}
		metrics.ObservePage(metrics.PageItems)
		threads = append(threads, page...)
		empty = 0
		offset += a.cfg.PageSize
	}
	logger.Debug("thread pagination finished", zap.Int("threads", len(threads)))
	return threads, nil
}

func (a *API) fetchPage(ctx context.Context, courseID int64, offset int) ([]forum.ThreadSummary, error) {
	path := "/courses/" + strconv.FormatInt(courseID, 10) + "/threads"
	query := url.Values{
		"offset": {strconv.Itoa(offset)},
		"limit":  {strconv.Itoa(a.cfg.PageSize)},
	}
	resp, err := a.caller.Call(ctx, a.newRequest(EndpointThreads, path, query))
	if err != nil {
		return nil, err
	}
	var payload threadsResponse
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, fmt.Errorf("decode threads response: %w", err)
	}
	return payload.Threads, nil
}

// GetThreadDetail fetches the full view of a thread. When the request
// exhausts its retry budget the API cools down and returns
// forum.EmptyThreadDetail instead of an error.
func (a *API) GetThreadDetail(ctx context.Context, threadID int64) (forum.ThreadDetail, error) {
	path := "/threads/" + strconv.FormatInt(threadID, 10)
	resp, err := a.caller.Call(ctx, a.newRequest(EndpointThread, path, url.Values{"view": {"1"}}))
	switch {
	case errors.Is(err, forum.ErrRetryBudgetExhausted):
		a.logger.Warn("thread detail exhausted retry budget; substituting empty detail",
			zap.Int64("thread_id", threadID),
			zap.Duration("cooldown", a.cfg.Cooldown),
		)
		if err := a.pauser.Pause(ctx, a.cfg.Cooldown); err != nil {
			return forum.EmptyThreadDetail(), fmt.Errorf("thread %d cooldown: %w", threadID, err)
		}
		return forum.EmptyThreadDetail(), nil
	case err != nil:
		return forum.ThreadDetail{}, fmt.Errorf("fetch thread %d: %w", threadID, err)
	}

	var payload threadResponse
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return forum.ThreadDetail{}, fmt.Errorf("decode thread %d: %w", threadID, err)
	}
	return payload.toDetail(), nil
}

func (a *API) newRequest(endpoint, path string, query url.Values) forum.Request {
	header := http.Header{}
	header.Set("Accept", "application/json")
	if a.cfg.Credential != "" {
		header.Set("Authorization", "Bearer "+string(a.cfg.Credential))
	}
	return forum.Request{
		Method:   http.MethodGet,
		URL:      a.cfg.Host + path,
		Header:   header,
		Query:    query,
		Endpoint: endpoint,
	}
}

func (a *API) politeness() time.Duration {
	spread := a.cfg.PolitenessMax - a.cfg.PolitenessMin
	if spread <= 0 {
		return a.cfg.PolitenessMin
	}
	return a.cfg.PolitenessMin + time.Duration(a.rand()*float64(spread))
}
