// Package collyfetcher implements forum.Transport using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/ed-forum-harvester/internal/forum"
)

const defaultTimeout = 30 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int
}

// Transport implements forum.Transport using the Colly collector. Every Send
// performs exactly one round trip; rate limiting is reported, never retried.
type Transport struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Transport.
func New(cfg Config, logger *zap.Logger) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	opts := []colly.CollectorOption{
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.ParseHTTPErrorResponse(),
	}
	if cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(cfg.UserAgent))
	}
	if cfg.MaxBodyBytes > 0 {
		opts = append(opts, colly.MaxBodySize(cfg.MaxBodyBytes))
	}
	c := colly.NewCollector(opts...)
	c.WithTransport(newHTTPTransport())
	// The backend client is shared by every clone, so the timeout is set once.
	c.SetRequestTimeout(cfg.Timeout)

	return &Transport{
		cfg:           cfg,
		baseCollector: c,
		logger:        logger,
	}
}

// Send executes a single HTTP request and classifies the result.
func (t *Transport) Send(ctx context.Context, req forum.Request) forum.Outcome {
	target, err := buildURL(req.URL, req.Query)
	if err != nil {
		return forum.Failure(err)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var (
		result   *colly.Response
		fetchErr error
	)
	start := time.Now()
	collector := t.baseCollector.Clone()
	collector.Context = ctx
	t.configureCollectorHooks(collector, &result, &fetchErr)

	if err := t.runCollector(ctx, collector, method, target, req.Header); err != nil {
		return forum.Failure(err)
	}
	if fetchErr != nil {
		return forum.Failure(fmt.Errorf("colly response failed: %w", fetchErr))
	}
	if result == nil {
		return forum.Failure(fmt.Errorf("no response received for %s", target))
	}
	return classify(target, result, time.Since(start))
}

func (t *Transport) configureCollectorHooks(
	hooks collectorHooks,
	result **colly.Response,
	fetchErr *error,
) {
	hooks.OnResponse(func(r *colly.Response) {
		*result = r
	})
	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*result = r
			return
		}
		*fetchErr = err
	})
}

func (t *Transport) runCollector(
	ctx context.Context,
	collector *colly.Collector,
	method string,
	target string,
	header http.Header,
) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Request(method, target, nil, nil, header.Clone())
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly request canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			t.logger.Debug("colly request returned error", zap.String("url", target), zap.Error(err))
			return fmt.Errorf("colly request failed: %w", err)
		}
		return nil
	}
}

func classify(target string, r *colly.Response, elapsed time.Duration) forum.Outcome {
	switch {
	case r.StatusCode == http.StatusTooManyRequests:
		return forum.RateLimited()
	case r.StatusCode >= 200 && r.StatusCode < 400:
		var header http.Header
		if r.Headers != nil {
			header = r.Headers.Clone()
		}
		return forum.Success(forum.Response{
			StatusCode: r.StatusCode,
			Header:     header,
			Body:       append([]byte(nil), r.Body...),
			Duration:   elapsed,
		})
	default:
		return forum.Failure(forum.NewRequestFailure(r.StatusCode, target, r.Body))
	}
}

func buildURL(raw string, query url.Values) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q must be absolute", raw)
	}
	if len(query) > 0 {
		merged := u.Query()
		for key, values := range query {
			for _, v := range values {
				merged.Add(key, v)
			}
		}
		u.RawQuery = merged.Encode()
	}
	return u.String(), nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
