package repair

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/yungbote/lessonforge/internal/modules/lesson"
)

// GenerateFunc performs one outbound generation call and returns the raw text.
type GenerateFunc func(ctx context.Context, system, user string) (string, error)

// Validator returns the problems with raw, or nil when raw is acceptable.
type Validator func(raw []byte) []string

type Request struct {
	Name        string
	SchemaText  string
	Validate    Validator
	System      string
	User        string
	MaxAttempts int
	// Fallback is validated and returned once repair is exhausted. Nil disables it.
	Fallback json.RawMessage
}

// Payload is the only form in which generated content leaves this package.
type Payload struct {
	Raw      json.RawMessage
	Attempts int
	Repaired bool
	Fallback bool
	// Errors holds the last validation errors seen before a fallback was used.
	Errors []string
}

func (p *Payload) Decode(out any) error {
	return json.Unmarshal(p.Raw, out)
}

const defaultMaxAttempts = 3

// ValidateOrRepair calls gen, extracts and validates a structured block, and on failure
// asks gen to correct it. MaxAttempts counts every call to gen. Generation errors are
// returned as-is; only validation exhaustion falls through to the fallback.
func ValidateOrRepair(ctx context.Context, gen GenerateFunc, req Request) (*Payload, error) {
	if gen == nil || req.Validate == nil {
		return nil, fmt.Errorf("repair %s: generate func and validator required", req.Name)
	}
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	system, user := req.System, req.User
	var lastErrs []string
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := gen(ctx, system, user)
		if err != nil {
			return nil, fmt.Errorf("repair %s: attempt %d: %w", req.Name, attempt, err)
		}
		block, ok := extract(text)
		if !ok {
			lastErrs = []string{"no JSON object or array found in output"}
		} else if lastErrs = req.Validate(block); len(lastErrs) == 0 {
			return &Payload{Raw: block, Attempts: attempt, Repaired: attempt > 1}, nil
		}
		system, user = repairPrompt(req, offending(text, block), lastErrs)
	}

	if req.Fallback != nil {
		if errs := req.Validate(req.Fallback); len(errs) > 0 {
			return nil, fmt.Errorf("repair %s: fallback invalid: %s: %w", req.Name, strings.Join(errs, "; "), lesson.ErrSchemaExhausted)
		}
		return &Payload{Raw: req.Fallback, Attempts: maxAttempts, Fallback: true, Errors: lastErrs}, nil
	}
	return nil, &ExhaustedError{Name: req.Name, Attempts: maxAttempts, Errors: lastErrs}
}

// ExhaustedError reports a payload that never validated and had no fallback.
type ExhaustedError struct {
	Name     string
	Attempts int
	Errors   []string
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("repair %s: invalid after %d attempts: %s", e.Name, e.Attempts, strings.Join(e.Errors, "; "))
}

func (e *ExhaustedError) Unwrap() error { return lesson.ErrSchemaExhausted }

func IsExhausted(err error) bool {
	var ee *ExhaustedError
	return errors.As(err, &ee)
}
