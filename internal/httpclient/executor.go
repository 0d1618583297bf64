package httpclient

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// ErrorKind classifies an API failure so callers can decide between
// retrying, aborting the run, or skipping the record and moving on.
type ErrorKind int

const (
	// KindTransient failures are worth retrying: rate limits, server
	// faults, transport errors.
	KindTransient ErrorKind = iota
	// KindFatal failures will not get better on retry.
	KindFatal
	// KindRecoverable marks a per-record failure the sync run survives;
	// the record stays unsent and is picked up again on the next run.
	KindRecoverable
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	case KindRecoverable:
		return "recoverable"
	default:
		return "unknown"
	}
}

// APIError carries the classification plus the last observed HTTP
// status and body, so log lines can show what the server actually said.
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s API error: HTTP %d: %s", e.Kind, e.StatusCode, e.Body)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s API error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s API error", e.Kind)
}

func (e *APIError) Unwrap() error { return e.Err }

// Response is the successful outcome of Execute: a 2xx status and the
// fully read body.
type Response struct {
	StatusCode int
	Body       []byte
}

// RequestBuilder constructs the request for a given attempt (1-based).
// It is called once per attempt so that timestamp-bound signatures are
// regenerated instead of replayed.
type RequestBuilder func(attempt int) (*http.Request, error)

// Executor issues HTTP requests with bounded exponential backoff on
// transient failures. A status in [200,300) is success; 429 and 5xx are
// transient, as are transport-level errors; everything else fails
// immediately with no retry.
type Executor struct {
	Client      *http.Client
	MaxAttempts int
	Backoff     time.Duration

	// Sleep is swapped out in tests
	Sleep func(time.Duration)
}

func NewExecutor(timeout time.Duration) *Executor {
	return &Executor{
		Client:      &http.Client{Timeout: timeout},
		MaxAttempts: 3,
		Backoff:     1 * time.Second,
		Sleep:       time.Sleep,
	}
}

func (e *Executor) Execute(ctx context.Context, build RequestBuilder) (*Response, error) {
	sleep := e.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	backoff := e.Backoff
	var lastStatus int
	var lastBody string

	for attempt := 1; attempt <= e.MaxAttempts; attempt++ {
		req, err := build(attempt)
		if err != nil {
			return nil, errors.Wrap(err, "building request")
		}
		req = req.WithContext(ctx)

		resp, err := e.Client.Do(req)
		if err != nil {
			// Transport errors are as likely to succeed on retry as a 503.
			if attempt < e.MaxAttempts {
				log.Printf("Transient transport error (attempt %d/%d): %v", attempt, e.MaxAttempts, err)
				sleep(backoff)
				backoff *= 2
				continue
			}
			return nil, &APIError{Kind: KindFatal, Err: err}
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, &APIError{Kind: KindFatal, Err: errors.Wrap(readErr, "reading response body")}
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return &Response{StatusCode: resp.StatusCode, Body: body}, nil
		}

		lastStatus = resp.StatusCode
		lastBody = string(body)

		transient := resp.StatusCode == http.StatusTooManyRequests ||
			(resp.StatusCode >= 500 && resp.StatusCode <= 599)
		if transient && attempt < e.MaxAttempts {
			log.Printf("Transient API error, retrying: status=%d attempt=%d", resp.StatusCode, attempt)
			sleep(backoff)
			backoff *= 2
			continue
		}

		return nil, &APIError{Kind: KindFatal, StatusCode: lastStatus, Body: lastBody}
	}

	return nil, &APIError{Kind: KindFatal, StatusCode: lastStatus, Body: lastBody}
}

// Kind reports the classification of err, defaulting to KindFatal for
// anything that is not an APIError.
func Kind(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindFatal
}
