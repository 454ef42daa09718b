package analysis

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/lehigh-university-libraries/platecheck/internal/models"
	"github.com/lehigh-university-libraries/platecheck/internal/providers"
)

// Failure is the classified error that flows from the retry controller up to the session.
type Failure struct {
	Kind       models.ErrorKind
	Tier       string
	StatusCode int
	Attempts   int
	Message    string
	Err        error
}

func (f *Failure) Error() string {
	var sb strings.Builder
	sb.WriteString(string(f.Kind))
	if f.Tier != "" {
		fmt.Fprintf(&sb, " (tier=%s", f.Tier)
		if f.Attempts > 0 {
			fmt.Fprintf(&sb, ", attempts=%d", f.Attempts)
		}
		sb.WriteString(")")
	}
	msg := f.Message
	if msg == "" && f.Err != nil {
		msg = f.Err.Error()
	}
	if msg != "" {
		sb.WriteString(": ")
		sb.WriteString(msg)
	}
	return sb.String()
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Classify maps any error from an inference call to an ErrorKind.
// Status codes win; message matching is only used when no code is available.
func Classify(err error) models.ErrorKind {
	if err == nil {
		return ""
	}

	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return models.KindUnknown
	}

	var se *providers.StatusError
	if errors.As(err, &se) {
		return ClassifyStatus(se.StatusCode, se.Error())
	}
	return ClassifyStatus(0, err.Error())
}

// ClassifyStatus is the pure mapping behind Classify.
func ClassifyStatus(statusCode int, message string) models.ErrorKind {
	switch statusCode {
	case 0:
		return classifyByMessage(message)
	case http.StatusTooManyRequests:
		return models.KindRateLimited
	case http.StatusServiceUnavailable, 529:
		return models.KindOverloaded
	case http.StatusForbidden, http.StatusUnauthorized:
		return models.KindAccessDenied
	case http.StatusNotFound:
		return models.KindNotFound
	default:
		return models.KindUnknown
	}
}

func classifyByMessage(message string) models.ErrorKind {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "429") || strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "resource exhausted") || strings.Contains(lower, "resource_exhausted") ||
		strings.Contains(lower, "quota"):
		return models.KindRateLimited
	case strings.Contains(lower, "503") || strings.Contains(lower, "overloaded") ||
		strings.Contains(lower, "unavailable"):
		return models.KindOverloaded
	case strings.Contains(lower, "403") || strings.Contains(lower, "permission denied") ||
		strings.Contains(lower, "permission_denied") || strings.Contains(lower, "forbidden"):
		return models.KindAccessDenied
	case strings.Contains(lower, "404") || strings.Contains(lower, "not found") ||
		strings.Contains(lower, "not_found") || strings.Contains(lower, "is not supported"):
		return models.KindNotFound
	}
	return models.KindUnknown
}

// asFailure wraps err into a *Failure, keeping an existing one untouched.
func asFailure(err error, tier string) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		if f.Tier == "" {
			f.Tier = tier
		}
		return f
	}
	f = &Failure{Kind: Classify(err), Tier: tier, Message: err.Error(), Err: err}
	var se *providers.StatusError
	if errors.As(err, &se) {
		f.StatusCode = se.StatusCode
	}
	return f
}
