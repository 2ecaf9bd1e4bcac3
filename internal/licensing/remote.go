package licensing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	ProductionBaseURL  = "https://store-dot-rvaserver2.appspot.com"
	TestBaseURL        = "https://store-dot-rvacore-test.appspot.com"
	DefaultPartnerCode = "b0cba08a4baa"
)

var ErrMissingVerdict = errors.New("verdict response missing authorized field")

type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("http %d", e.StatusCode)
}

// Checker performs one remote verdict check for an identity.
type Checker interface {
	Check(ctx context.Context, identity string) (bool, error)
}

// BaseURLFor returns the verdict service for an environment name. Anything
// other than "test" resolves to production.
func BaseURLFor(environment string) string {
	if strings.EqualFold(strings.TrimSpace(environment), "test") {
		return TestBaseURL
	}
	return ProductionBaseURL
}

type HTTPChecker struct {
	baseURL     string
	partnerCode string
	httpClient  *http.Client
	maxRetries  int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

func NewHTTPChecker(baseURL, partnerCode string, httpClient *http.Client) *HTTPChecker {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = ProductionBaseURL
	}
	partnerCode = strings.TrimSpace(partnerCode)
	if partnerCode == "" {
		partnerCode = DefaultPartnerCode
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPChecker{
		baseURL:     baseURL,
		partnerCode: partnerCode,
		httpClient:  httpClient,
		baseDelay:   100 * time.Millisecond,
		maxDelay:    2 * time.Second,
	}
}

// SetMaxRetries allows retrying transport failures and 429/5xx answers.
// Zero, the default, sends exactly one request per check.
func (c *HTTPChecker) SetMaxRetries(n int) {
	if n < 0 {
		n = 0
	}
	c.maxRetries = n
}

func (c *HTTPChecker) Check(ctx context.Context, identity string) (bool, error) {
	q := url.Values{}
	q.Set("cid", strings.TrimSpace(identity))
	q.Set("pc", c.partnerCode)
	var out struct {
		Authorized *bool `json:"authorized"`
	}
	if err := c.doJSON(ctx, "/v1/widget/auth?"+q.Encode(), &out); err != nil {
		return false, err
	}
	if out.Authorized == nil {
		return false, ErrMissingVerdict
	}
	return *out.Authorized, nil
}

func (c *HTTPChecker) doJSON(ctx context.Context, requestPath string, out any) error {
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+requestPath, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if err := json.Unmarshal(payload, out); err != nil {
				return fmt.Errorf("decode verdict response: %w", err)
			}
			return nil
		}

		if (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && attempt < c.maxRetries {
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		var errPayload struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(payload, &errPayload)
		return &HTTPError{StatusCode: resp.StatusCode, Message: errPayload.Message}
	}
}

func (c *HTTPChecker) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := c.maxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > maxDelay {
			return maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
