package quality

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/lessonforge/internal/modules/lesson"
	"github.com/yungbote/lessonforge/internal/modules/lesson/cards"
	"github.com/yungbote/lessonforge/internal/modules/lesson/lessontest"
	"github.com/yungbote/lessonforge/internal/modules/lesson/schema"
	"github.com/yungbote/lessonforge/internal/platform/logger"
)

const offTopicReading = `{"type":"reading","title":"Match day","passage":"The stadium was full. Fans sang while the striker scored twice."}`

// assembled builds a complete document from deterministic payloads.
func assembled(t *testing.T) *lesson.Document {
	t.Helper()
	cat := schema.MustDefault()
	plan := lessontest.Plan()
	d := lessontest.Descriptor()
	doc := lesson.NewDocument(uuid.New(), 1, d, "")
	doc.Plan = &plan
	for _, typ := range cat.Types() {
		spec, _ := cat.Card(typ)
		ex := cards.Extract(&plan, nil)
		raw, err := cards.Fallback(typ, d, &plan, nil, &ex)
		require.NoError(t, err)
		doc.Cards = append(doc.Cards, lesson.Card{Type: typ, Stage: spec.Stage, Payload: raw})
	}
	for _, s := range lesson.Stages {
		doc.Status[s] = lesson.StageStatus{State: lesson.StateComplete}
	}
	return doc
}

func seeded(t *testing.T, cardType, payload string) *lesson.Document {
	doc := assembled(t)
	c, _ := doc.Card(cardType)
	c.Payload = json.RawMessage(payload)
	doc.ReplaceCard(c)
	return doc
}

func gate(opts Options) *Gate {
	return NewGate(logger.Nop(), schema.MustDefault(), nil, opts)
}

type scriptedRegen struct {
	calls   map[string]int
	notes   []string
	payload func(call int) string
}

func (r *scriptedRegen) Regenerate(_ context.Context, cardType string, notes []string) (lesson.Card, error) {
	if r.calls == nil {
		r.calls = map[string]int{}
	}
	r.calls[cardType]++
	r.notes = notes
	return lesson.Card{Type: cardType, Stage: lesson.StageContent, Payload: json.RawMessage(r.payload(r.calls[cardType]))}, nil
}

func TestCleanDocumentScoresFull(t *testing.T) {
	rep := gate(Options{}).Score(assembled(t), lesson.Requirements{}, ModeWarn)
	assert.Empty(t, rep.Issues)
	assert.Equal(t, 100, rep.Score)
	assert.False(t, rep.HasBlocking)
}

func TestTopicMismatchUnderEnforceConverges(t *testing.T) {
	doc := seeded(t, "reading", offTopicReading)
	g := gate(Options{Mode: ModeEnforce})

	before := g.Score(doc, lesson.Requirements{}, ModeEnforce)
	require.True(t, before.HasBlocking)
	assert.Equal(t, lesson.IssueTopicMismatch, before.Issues[0].Category)
	assert.Equal(t, "reading", before.Issues[0].CardType)

	regen := &scriptedRegen{payload: func(int) string {
		return `{"type":"reading","title":"At the cafe","passage":"Pido agua y la cuenta en el café."}`
	}}
	rep, err := g.Apply(context.Background(), doc, lesson.Requirements{}, regen)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"reading": 1}, regen.calls)
	assert.Len(t, regen.notes, 1)
	assert.False(t, rep.HasBlocking)
	assert.False(t, rep.Degraded)
	assert.Equal(t, 1, rep.Attempts)
	assert.Equal(t, string(ModeEnforce), rep.Mode)
	assert.Same(t, rep, doc.Quality)

	c, _ := doc.Card("reading")
	assert.Contains(t, string(c.Payload), "cuenta")
}

func TestPersistentBlockingDegradesToWarn(t *testing.T) {
	doc := seeded(t, "reading", offTopicReading)
	regen := &scriptedRegen{payload: func(int) string { return offTopicReading }}

	rep, err := gate(Options{Mode: ModeEnforce}).Apply(context.Background(), doc, lesson.Requirements{}, regen)
	require.NoError(t, err)
	assert.Equal(t, 2, regen.calls["reading"])
	assert.Equal(t, 2, rep.Attempts)
	assert.True(t, rep.HasBlocking)
	assert.True(t, rep.Degraded)
	assert.Equal(t, string(ModeWarn), rep.Mode)
}

func TestFailOnBlockingReturnsQualityError(t *testing.T) {
	doc := seeded(t, "reading", offTopicReading)
	regen := &scriptedRegen{payload: func(int) string { return offTopicReading }}

	rep, err := gate(Options{Mode: ModeEnforce, FailOnBlocking: true}).Apply(context.Background(), doc, lesson.Requirements{}, regen)
	assert.ErrorIs(t, err, lesson.ErrQuality)
	assert.Equal(t, lesson.KindQuality, lesson.Classify(err))
	require.NotNil(t, rep)
	assert.True(t, rep.HasBlocking)
}

func TestWarnModeNeverRegenerates(t *testing.T) {
	doc := seeded(t, "reading", offTopicReading)
	regen := &scriptedRegen{payload: func(int) string { return offTopicReading }}

	rep, err := gate(Options{Mode: ModeWarn}).Apply(context.Background(), doc, lesson.Requirements{}, regen)
	require.NoError(t, err)
	assert.Nil(t, regen.calls)
	assert.True(t, rep.HasBlocking)
	assert.Equal(t, 75, rep.Score)
}

func TestOffModeSkipsScoring(t *testing.T) {
	doc := seeded(t, "reading", offTopicReading)
	rep, err := gate(Options{Mode: ModeOff}).Apply(context.Background(), doc, lesson.Requirements{}, nil)
	require.NoError(t, err)
	assert.Nil(t, rep)
	assert.Nil(t, doc.Quality)
}

func TestLeakageAndCoverage(t *testing.T) {
	doc := seeded(t, "discussion", `{"type":"discussion","questions":["As an AI language model I think cafes are nice."]}`)
	rep := gate(Options{}).Score(doc, lesson.Requirements{Vocabulary: []string{"Agua", "bocadillo"}}, ModeWarn)

	var cats []lesson.IssueCategory
	for _, is := range rep.Issues {
		cats = append(cats, is.Category)
	}
	assert.ElementsMatch(t, []lesson.IssueCategory{lesson.IssueLeakage, lesson.IssueCoverage}, cats)
	assert.True(t, rep.HasBlocking)
	assert.Equal(t, 100-25-5, rep.Score)
}

func TestStructuralIssues(t *testing.T) {
	doc := seeded(t, "objective", `{"type":"objective"}`)
	doc.Cards = doc.Cards[:len(doc.Cards)-1] // drop discussion
	rep := gate(Options{}).Score(doc, lesson.Requirements{}, ModeWarn)

	require.Len(t, rep.Issues, 2)
	assert.Equal(t, lesson.SeverityBlocking, rep.Issues[0].Severity)
	assert.Equal(t, "objective", rep.Issues[0].CardType)
	assert.Equal(t, lesson.SeverityWarning, rep.Issues[1].Severity)
	assert.Equal(t, "discussion", rep.Issues[1].CardType)
}

func TestAbortingRegenerationStopsTheGate(t *testing.T) {
	doc := seeded(t, "reading", offTopicReading)
	regen := RegeneratorFunc(func(context.Context, string, []string) (lesson.Card, error) {
		return lesson.Card{}, lesson.ErrUnauthorized
	})
	_, err := gate(Options{Mode: ModeEnforce}).Apply(context.Background(), doc, lesson.Requirements{}, regen)
	assert.True(t, errors.Is(err, lesson.ErrUnauthorized))
}

func TestFoldMatchesAccents(t *testing.T) {
	assert.Equal(t, "cafe con leche", fold("Café con LECHE"))
	assert.True(t, tokens("¡Un café!")["cafe"])
}

func TestRepairPassesEachCardItsOwnNotes(t *testing.T) {
	doc := seeded(t, "reading", offTopicReading)
	got := map[string][]string{}
	regen := RegeneratorFunc(func(_ context.Context, cardType string, notes []string) (lesson.Card, error) {
		got[cardType] = notes
		return lesson.Card{
			Type:    cardType,
			Stage:   lesson.StageContent,
			Payload: json.RawMessage(`{"type":"reading","title":"At the cafe","passage":"Pido agua y la cuenta en el café."}`),
		}, nil
	})
	rep, err := gate(Options{Mode: ModeEnforce}).Apply(context.Background(), doc, lesson.Requirements{}, regen)
	require.NoError(t, err)
	require.Contains(t, got, "reading")
	require.Len(t, got["reading"], 1)
	assert.Contains(t, got["reading"][0], "topic")
	assert.False(t, rep.HasBlocking)
}

func TestFoldAndScoreAreSafeConcurrently(t *testing.T) {
	long := strings.Repeat("Él comió piña y café en São Paulo. ", 400)
	want := fold(long)
	doc := assembled(t)
	g := gate(Options{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				assert.Equal(t, want, fold(long))
				rep := g.Score(doc, lesson.Requirements{}, ModeWarn)
				assert.False(t, rep.HasBlocking)
			}
		}()
	}
	wg.Wait()
}
