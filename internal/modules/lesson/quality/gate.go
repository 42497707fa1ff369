package quality

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/yungbote/lessonforge/internal/modules/lesson"
	"github.com/yungbote/lessonforge/internal/modules/lesson/schema"
	"github.com/yungbote/lessonforge/internal/observability"
	"github.com/yungbote/lessonforge/internal/platform/envutil"
	"github.com/yungbote/lessonforge/internal/platform/logger"
)

type Mode string

const (
	ModeOff     Mode = "off"
	ModeWarn    Mode = "warn"
	ModeEnforce Mode = "enforce"
)

// ParseMode defaults to warn for anything unrecognized.
func ParseMode(raw string) Mode {
	switch m := Mode(strings.ToLower(strings.TrimSpace(raw))); m {
	case ModeOff, ModeWarn, ModeEnforce:
		return m
	}
	return ModeWarn
}

type Options struct {
	Mode       Mode
	MaxRepairs int
	// FailOnBlocking makes enforce return ErrQuality once repairs are exhausted instead
	// of degrading to warn.
	FailOnBlocking bool
}

func OptionsFromEnv() Options {
	return Options{
		Mode:           ParseMode(envutil.String("LESSON_QUALITY_MODE", string(ModeWarn))),
		MaxRepairs:     envutil.Int("LESSON_QUALITY_MAX_REPAIRS", 2),
		FailOnBlocking: envutil.Bool("LESSON_QUALITY_FAIL_ON_BLOCKING", false),
	}
}

// Regenerator rebuilds one card with reviewer notes.
type Regenerator interface {
	Regenerate(ctx context.Context, cardType string, notes []string) (lesson.Card, error)
}

type RegeneratorFunc func(ctx context.Context, cardType string, notes []string) (lesson.Card, error)

func (f RegeneratorFunc) Regenerate(ctx context.Context, cardType string, notes []string) (lesson.Card, error) {
	return f(ctx, cardType, notes)
}

type Gate struct {
	log     *logger.Logger
	catalog *schema.Catalog
	metrics *observability.Metrics
	opts    Options
}

func NewGate(log *logger.Logger, catalog *schema.Catalog, metrics *observability.Metrics, opts Options) *Gate {
	if opts.Mode == "" {
		opts.Mode = ModeWarn
	}
	if opts.MaxRepairs <= 0 {
		opts.MaxRepairs = 2
	}
	return &Gate{log: log.With("service", "QualityGate"), catalog: catalog, metrics: metrics, opts: opts}
}

func (g *Gate) Mode() Mode { return g.opts.Mode }

// Score inspects doc without changing it.
func (g *Gate) Score(doc *lesson.Document, req lesson.Requirements, mode Mode) lesson.QualityReport {
	var issues []lesson.QualityIssue
	issues = append(issues, checkStructure(g.catalog, doc)...)
	issues = append(issues, checkTopic(doc)...)
	issues = append(issues, checkLeakage(doc)...)
	issues = append(issues, checkCoverage(doc, req)...)

	rep := lesson.QualityReport{Mode: string(mode), Score: 100, Issues: issues}
	if rep.Issues == nil {
		rep.Issues = []lesson.QualityIssue{}
	}
	for _, is := range issues {
		switch is.Severity {
		case lesson.SeverityBlocking:
			rep.HasBlocking = true
			rep.Score -= 25
		default:
			rep.Score -= 5
		}
	}
	if rep.Score < 0 {
		rep.Score = 0
	}
	return rep
}

// Apply scores doc under the configured mode. In enforce mode blocking issues trigger up to
// MaxRepairs rounds that regenerate only the implicated cards and rescore; doc.Cards is
// updated in place. A nil report means the gate is off.
func (g *Gate) Apply(ctx context.Context, doc *lesson.Document, req lesson.Requirements, regen Regenerator) (*lesson.QualityReport, error) {
	if g.opts.Mode == ModeOff {
		return nil, nil
	}
	rep := g.Score(doc, req, g.opts.Mode)
	if g.opts.Mode == ModeEnforce && regen != nil {
		for rep.HasBlocking && rep.Attempts < g.opts.MaxRepairs {
			targets := implicated(rep.Issues)
			if len(targets) == 0 {
				break
			}
			attempt := rep.Attempts + 1
			for _, cardType := range sortedKeys(targets) {
				c, err := regen.Regenerate(ctx, cardType, targets[cardType])
				if err != nil {
					if lesson.Aborts(err) {
						return nil, fmt.Errorf("quality: regenerate %s: %w", cardType, err)
					}
					g.log.Warn("quality regeneration failed", "document_id", doc.ID, "card_type", cardType, "attempt", attempt, "error", err)
					continue
				}
				doc.ReplaceCard(c)
			}
			rep = g.Score(doc, req, g.opts.Mode)
			rep.Attempts = attempt
		}
	}
	g.record(rep)

	if rep.HasBlocking && g.opts.Mode == ModeEnforce {
		if g.opts.FailOnBlocking {
			doc.Quality = &rep
			return &rep, fmt.Errorf("quality: %d blocking issues after %d repairs: %w", countBlocking(rep.Issues), rep.Attempts, lesson.ErrQuality)
		}
		rep.Mode = string(ModeWarn)
		rep.Degraded = true
		g.log.Warn("quality gate degraded to warn", "document_id", doc.ID, "score", rep.Score, "attempts", rep.Attempts)
	}
	doc.Quality = &rep
	return &rep, nil
}

func sortedKeys(m map[string][]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (g *Gate) record(rep lesson.QualityReport) {
	for _, is := range rep.Issues {
		g.metrics.IncQualityIssue(string(is.Category), string(is.Severity))
	}
}

// implicated maps each card with a blocking issue to the messages it must address.
func implicated(issues []lesson.QualityIssue) map[string][]string {
	out := map[string][]string{}
	for _, is := range issues {
		if is.Severity != lesson.SeverityBlocking || is.CardType == "" {
			continue
		}
		out[is.CardType] = append(out[is.CardType], is.Message)
	}
	for _, notes := range out {
		sort.Strings(notes)
	}
	return out
}

func countBlocking(issues []lesson.QualityIssue) int {
	n := 0
	for _, is := range issues {
		if is.Severity == lesson.SeverityBlocking {
			n++
		}
	}
	return n
}
