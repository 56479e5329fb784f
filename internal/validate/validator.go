package validate

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/unburden/solvency/internal/model"
	"github.com/unburden/solvency/internal/util"
	"github.com/unburden/solvency/internal/worker"
)

const (
	linkMaxRetries = 3
	maxCrawlDelay  = 2 * time.Second
)

// linkSleepFunc is the sleep function used between retries (injectable for tests)
var linkSleepFunc = time.Sleep

// LinkChecker verifies that links resolve, concurrently and politely
type LinkChecker struct {
	httpClient *http.Client
	maxWorkers int
	userAgent  string
	robots     *util.RobotsChecker // nil when robots.txt is not honoured
	limiter    *worker.Limiter     // per-host; nil disables limiting
}

// NewLinkChecker creates a link checker from the outbound HTTP settings
func NewLinkChecker(cfg model.HTTPConfig, limiter *worker.Limiter) *LinkChecker {
	maxWorkers := cfg.LinkWorkers
	if maxWorkers <= 0 {
		maxWorkers = 8
	}

	client := util.NewHTTPClient(cfg)
	checker := &LinkChecker{
		httpClient: client,
		maxWorkers: maxWorkers,
		userAgent:  cfg.UserAgent,
		limiter:    limiter,
	}
	if cfg.RespectRobots {
		checker.robots = util.NewRobotsChecker(client, cfg.UserAgent)
	}
	return checker
}

// Check checks all URLs concurrently. Results are in input order.
func (v *LinkChecker) Check(ctx context.Context, urls []string) []model.LinkCheck {
	if len(urls) == 0 {
		return []model.LinkCheck{}
	}

	results := make([]model.LinkCheck, len(urls))
	var wg sync.WaitGroup

	// Semaphore limits concurrent requests
	semaphore := make(chan struct{}, v.maxWorkers)

	for i, u := range urls {
		wg.Add(1)
		go func(idx int, rawURL string) {
			defer wg.Done()

			select {
			case <-ctx.Done():
				results[idx] = model.LinkCheck{URL: rawURL, Error: "context cancelled"}
				return
			case semaphore <- struct{}{}:
			}
			defer func() { <-semaphore }()

			results[idx] = v.checkWithRetry(ctx, rawURL)
		}(i, u)
	}

	wg.Wait()

	return results
}

func (v *LinkChecker) checkWithRetry(ctx context.Context, rawURL string) model.LinkCheck {
	if v.robots != nil {
		allowed, delay, err := v.robots.CanFetch(ctx, rawURL)
		if err == nil && !allowed {
			return model.LinkCheck{URL: rawURL, Disallowed: true}
		}
		if v.limiter != nil {
			host, _ := worker.HostKey(rawURL)
			if err := v.limiter.WaitWithDelay(ctx, host, min(delay, maxCrawlDelay)); err != nil {
				return model.LinkCheck{URL: rawURL, Error: err.Error()}
			}
		}
	} else if v.limiter != nil {
		if err := v.limiter.WaitURL(ctx, rawURL); err != nil {
			return model.LinkCheck{URL: rawURL, Error: err.Error()}
		}
	}

	var result model.LinkCheck
	for attempt := 0; attempt < linkMaxRetries; attempt++ {
		result = v.checkSingle(ctx, rawURL)
		if !isRetryableLinkCheck(result) {
			return result
		}
		if attempt < linkMaxRetries-1 {
			backoff := time.Duration(1<<uint(attempt)) * time.Second
			linkSleepFunc(backoff)
		}
	}
	return result
}

// checkSingle checks one link with HEAD, falling back to GET for servers
// that refuse HEAD
func (v *LinkChecker) checkSingle(ctx context.Context, rawURL string) model.LinkCheck {
	result := model.LinkCheck{URL: rawURL}

	resp, err := v.do(ctx, http.MethodHead, rawURL)
	if err == nil && (resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented) {
		_ = resp.Body.Close()
		resp, err = v.do(ctx, http.MethodGet, rawURL)
	}
	if err != nil {
		result.Error = err.Error()
		result.Dead = true
		return result
	}
	defer func() { _ = resp.Body.Close() }()

	result.StatusCode = resp.StatusCode

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 400:
		result.Accessible = true
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		result.Dead = true
	}

	if final := resp.Request.URL.String(); final != rawURL {
		result.RedirectURL = final
	}

	if lastModified := resp.Header.Get("Last-Modified"); lastModified != "" {
		if t, err := http.ParseTime(lastModified); err == nil {
			result.LastModified = &t
			result.Stale = time.Since(t) > 365*24*time.Hour
		}
	}

	return result
}

func (v *LinkChecker) do(ctx context.Context, method, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if v.userAgent != "" {
		req.Header.Set("User-Agent", v.userAgent)
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// isRetryableLinkCheck returns true for results that indicate transient failures
func isRetryableLinkCheck(result model.LinkCheck) bool {
	if model.IsTransientStatus(result.StatusCode) {
		return true
	}
	return result.Error != "" && isRetryableNetworkError(result.Error)
}

// isRetryableNetworkError checks error strings for transient network failures
func isRetryableNetworkError(errMsg string) bool {
	s := strings.ToLower(errMsg)
	return strings.Contains(s, "timeout") ||
		strings.Contains(s, "connection refused") ||
		strings.Contains(s, "connection reset")
}
