package lesson

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
)

type statusErr int

func (e statusErr) Error() string       { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) HTTPStatusCode() int { return int(e) }

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ""},
		{"deadline", context.DeadlineExceeded, KindTransient},
		{"canceled", context.Canceled, KindPermanent},
		{"rate limit", statusErr(429), KindTransient},
		{"server", fmt.Errorf("wrap: %w", statusErr(503)), KindTransient},
		{"auth", statusErr(401), KindPermanent},
		{"bad request", statusErr(400), KindPermanent},
		{"breaker open", gobreaker.ErrOpenState, KindTransient},
		{"serialization", &pgconn.PgError{Code: "40001"}, KindTransient},
		{"unique violation", &pgconn.PgError{Code: "23505"}, KindPermanent},
		{"schema", fmt.Errorf("card dialogue: %w", ErrSchemaExhausted), KindStructural},
		{"quality", ErrQuality, KindQuality},
		{"not found", fmt.Errorf("descriptor X:9: %w", ErrNotFound), KindPermanent},
		{"opaque", errors.New("boom"), KindPermanent},
		{"stage retryable", &StageError{Stage: StageContent, Reason: "503", Retryable: true}, KindTransient},
		{"stage permanent", fmt.Errorf("compile: %w", &StageError{Stage: StageContent}), KindPermanent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestNewCardErrorCarriesRetryable(t *testing.T) {
	ce := NewCardError(StageProduction, context.DeadlineExceeded)
	assert.Equal(t, StageProduction, ce.Stage)
	assert.Equal(t, KindTransient, ce.Kind)
	assert.True(t, ce.Retryable)
}

func TestAborts(t *testing.T) {
	assert.True(t, Aborts(statusErr(403)))
	assert.True(t, Aborts(fmt.Errorf("card: %w", context.Canceled)))
	assert.True(t, Aborts(ErrUnauthorized))
	assert.False(t, Aborts(statusErr(503)))
	assert.False(t, Aborts(errors.New("boom")))
	assert.False(t, Aborts(nil))
}

func TestStagePredecessor(t *testing.T) {
	_, ok := StageContent.Predecessor()
	assert.False(t, ok)
	p, ok := StageInteraction.Predecessor()
	assert.True(t, ok)
	assert.Equal(t, StageProduction, p)

	_, err := ParseStage("bogus")
	assert.ErrorIs(t, err, ErrInvalidInput)
	s, err := ParseStage(" Production ")
	assert.NoError(t, err)
	assert.Equal(t, StageProduction, s)
}

func TestNewDocumentStartsPending(t *testing.T) {
	doc := NewDocument([16]byte{1}, 1, Descriptor{ID: "X:1", Topic: "cafe"}, "h")
	assert.Len(t, doc.Status, 4)
	for _, s := range Stages {
		assert.Equal(t, StatePending, doc.Status[s].State)
	}
}
