package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"CatalogEnricher/internal/domain"
)

const errorBodyLimit = 1024

// StatusError is a non-success HTTP response from the provider.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s error: http %d: %s", e.Provider, e.StatusCode, strings.TrimSpace(e.Body))
}

// classifyResponse maps a non-2xx response to throttle (429) or permanent.
func classifyResponse(provider string, resp *http.Response) domain.Outcome {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	statusErr := &StatusError{Provider: provider, StatusCode: resp.StatusCode, Body: string(body)}
	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		return domain.Throttle(retryAfter, statusErr)
	}
	return domain.Permanent(statusErr)
}

// transportFailure wraps a failed round trip. Context cancellation is kept
// visible so callers can stop instead of skipping.
func transportFailure(provider string, timeout time.Duration, err error) domain.Outcome {
	if errors.Is(err, context.Canceled) {
		return domain.Permanent(err)
	}
	return domain.Permanent(fmt.Errorf("%s request: http error (timeout=%s): %w", provider, timeout, err))
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}
