package types

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigValidateFailed = errors.New("config validate failed")
)

var (
	ErrCacheKeyEmpty         = errors.New("cache key empty")
	ErrCacheConnectionFailed = errors.New("cache connection failed")
	ErrCacheTypeUnknown      = errors.New("cache type unknown")
	ErrCacheWriteTimeout     = errors.New("cache write timeout")
	ErrCacheIsDisabled       = errors.New("cache client is disabled")
)

var (
	ErrBusNotRunning     = errors.New("event bus not running")
	ErrBusTypeUnknown    = errors.New("event bus type unknown")
	ErrBusChannelEmpty   = errors.New("event channel empty")
	ErrBusHandlerIsNil   = errors.New("event handler is nil")
	ErrSubscriptionIsNil = errors.New("subscription is nil")
)

var (
	ErrBackendNotRunning  = errors.New("backend client not running")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrCircuitBreakerOpen = errors.New("circuit breaker open")
	ErrBatchUnsupported   = errors.New("batch endpoint unsupported")
)

var (
	ErrRecordNotFound    = errors.New("record not found")
	ErrMutationConflict  = errors.New("mutation already pending for record")
	ErrEngineNotRunning  = errors.New("sync engine not running")
	ErrEmptySelection    = errors.New("empty selection")
	ErrRetriesExhausted  = errors.New("retries exhausted")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

var (
	ErrServerAlreadyRunning  = errors.New("component already running")
	ErrServerNotRunning      = errors.New("component not running")
	ErrLocalStoreClosed      = errors.New("local store closed")
	ErrCronJobNameIsEmpty    = errors.New("cron job name is empty")
	ErrCronJobExists         = errors.New("cron job already exists")
	ErrCronJobIsNil          = errors.New("cron job is nil")
	ErrCronExpressionInvalid = errors.New("cron expression invalid")
	ErrLoggerTypeUnknown     = errors.New("logger type unknown")
)

// ErrorClass partitions mutation failures by how callers should react.
type ErrorClass int

const (
	ClassTransient ErrorClass = iota
	ClassRateLimited
	ClassPermanent
	ClassInfrastructure
)

func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassRateLimited:
		return "rate_limited"
	case ClassPermanent:
		return "permanent"
	case ClassInfrastructure:
		return "infrastructure"
	default:
		return "unknown"
	}
}

// ClassifiedError carries the failure class and a short user-presentable
// message alongside the underlying cause. Status is the HTTP status that
// produced the classification, zero for transport-level failures.
type ClassifiedError struct {
	Class   ErrorClass
	Status  int
	Message string
	Err     error
}

func (e *ClassifiedError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

func NewClassifiedError(class ErrorClass, err error) *ClassifiedError {
	return &ClassifiedError{
		Class:   class,
		Message: classMessage(class),
		Err:     err,
	}
}

func classMessage(class ErrorClass) string {
	switch class {
	case ClassTransient:
		return "temporary network issue"
	case ClassRateLimited:
		return "rate limited, try again later"
	case ClassPermanent:
		return "invalid request"
	default:
		return "internal error"
	}
}

// ClassifyStatus maps an HTTP status code and transport error onto the
// error taxonomy. Transport-level failures and 5xx are transient, 429 is
// rate limited, remaining 4xx are permanent. 408 counts as a timeout.
func ClassifyStatus(statusCode int, err error) *ClassifiedError {
	var classified *ClassifiedError

	switch {
	case err != nil:
		classified = NewClassifiedError(ClassTransient, err)
	case statusCode == 429:
		classified = NewClassifiedError(ClassRateLimited, ErrRateLimitExceeded)
	case statusCode == 408:
		classified = NewClassifiedError(ClassTransient, NewErrorf("HTTP %d", statusCode))
	case statusCode >= 500:
		classified = NewClassifiedError(ClassTransient, NewErrorf("HTTP %d", statusCode))
	case statusCode >= 400:
		classified = NewClassifiedError(ClassPermanent, NewErrorf("HTTP %d", statusCode))
	default:
		return nil
	}

	classified.Status = statusCode
	return classified
}

// ClassOf reports the class of err, defaulting to permanent for
// unclassified errors so they are never retried by accident.
func ClassOf(err error) ErrorClass {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	return ClassPermanent
}

func IsTransient(err error) bool {
	return ClassOf(err) == ClassTransient
}

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func NewErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}
