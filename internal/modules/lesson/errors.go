package lesson

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sony/gobreaker"

	"github.com/yungbote/lessonforge/internal/platform/httpx"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrPrecondition    = errors.New("precondition failed")
	ErrSchemaExhausted = errors.New("schema validation exhausted")
	ErrQuality         = errors.New("quality gate blocking")
)

// StageError reports a stage that ended without cards.
type StageError struct {
	Stage     StageName
	Reason    string
	Retryable bool
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %s", e.Stage, e.Reason)
}

type ErrorKind string

const (
	KindTransient  ErrorKind = "transient"
	KindStructural ErrorKind = "structural"
	KindPermanent  ErrorKind = "permanent"
	KindQuality    ErrorKind = "quality"
)

// Classify maps err onto the pipeline's error taxonomy. Unknown errors are permanent.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSchemaExhausted):
		return KindStructural
	case errors.Is(err, ErrQuality):
		return KindQuality
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrUnauthorized), errors.Is(err, ErrPrecondition):
		return KindPermanent
	case errors.Is(err, context.Canceled):
		return KindPermanent
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return KindTransient
	}
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		if stageErr.Retryable {
			return KindTransient
		}
		return KindPermanent
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return KindTransient
		}
		return KindPermanent
	}
	switch httpx.StatusOf(err) {
	case 401, 403:
		return KindPermanent
	}
	if httpx.IsRetryableError(err) {
		return KindTransient
	}
	return KindPermanent
}

func IsRetryable(err error) bool {
	return Classify(err) == KindTransient
}

// Aborts reports whether err must stop the whole run instead of being recorded
// against a single card: auth failures, invalid caller input and cancellation.
func Aborts(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrInvalidInput), errors.Is(err, context.Canceled):
		return true
	}
	switch httpx.StatusOf(err) {
	case 401, 403:
		return true
	}
	return false
}

// NewCardError records err against a stage in the document error map.
func NewCardError(stage StageName, err error) CardError {
	kind := Classify(err)
	return CardError{
		Stage:     stage,
		Kind:      kind,
		Message:   err.Error(),
		Retryable: kind == KindTransient,
	}
}
