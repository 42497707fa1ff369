package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/yungbote/lessonforge/internal/modules/lesson"
	"github.com/yungbote/lessonforge/internal/platform/logger"
	"github.com/yungbote/lessonforge/internal/platform/neo4jdb"
)

// Knowledge resolves surface forms against (:Vocabulary) and (:GrammarFunction) nodes.
type Knowledge struct {
	client *neo4jdb.Client
	log    *logger.Logger
}

var _ lesson.KnowledgeResolver = (*Knowledge)(nil)

func NewKnowledge(client *neo4jdb.Client, log *logger.Logger) *Knowledge {
	return &Knowledge{client: client, log: log.With("service", "GraphKnowledge")}
}

func (k *Knowledge) ResolveVocabulary(ctx context.Context, language string, surfaces []string) (map[string]string, error) {
	return k.resolve(ctx, `
UNWIND $forms AS form
MATCH (v:Vocabulary {language: $language})
WHERE v.surface_norm = toLower(trim(form))
RETURN form AS form, v.id AS id
`, language, surfaces)
}

func (k *Knowledge) ResolveGrammar(ctx context.Context, language string, labels []string) (map[string]string, error) {
	return k.resolve(ctx, `
UNWIND $forms AS form
MATCH (g:GrammarFunction {language: $language})
WHERE g.label_norm = toLower(trim(form))
RETURN form AS form, g.id AS id
`, language, labels)
}

func (k *Knowledge) resolve(ctx context.Context, query, language string, forms []string) (map[string]string, error) {
	out := map[string]string{}
	if k == nil || k.client == nil || k.client.Driver == nil || len(forms) == 0 {
		return out, nil
	}
	session := k.client.ReadSession(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{"language": language, "forms": forms})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			form, _ := rec.Get("form")
			id, _ := rec.Get("id")
			f, ok1 := form.(string)
			s, ok2 := id.(string)
			if ok1 && ok2 && s != "" {
				out[f] = s
			}
		}
		return nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("graph: resolve %d forms: %w", len(forms), err)
	}
	return out, nil
}

// Descriptors reads (:Descriptor) nodes.
type Descriptors struct {
	client *neo4jdb.Client
	log    *logger.Logger
}

var _ lesson.DescriptorSource = (*Descriptors)(nil)

func NewDescriptors(client *neo4jdb.Client, log *logger.Logger) *Descriptors {
	return &Descriptors{client: client, log: log.With("service", "GraphDescriptors")}
}

func (d *Descriptors) Descriptor(ctx context.Context, id string) (*lesson.Descriptor, error) {
	if d == nil || d.client == nil || d.client.Driver == nil {
		return nil, fmt.Errorf("graph: descriptor %q: %w", id, lesson.ErrNotFound)
	}
	session := d.client.ReadSession(ctx)
	defer session.Close(ctx)

	got, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `MATCH (d:Descriptor {id: $id}) RETURN d LIMIT 1`, map[string]any{"id": id})
		if err != nil {
			return nil, err
		}
		if !res.Next(ctx) {
			return nil, res.Err()
		}
		raw, _ := res.Record().Get("d")
		node, ok := raw.(neo4j.Node)
		if !ok {
			return nil, fmt.Errorf("unexpected descriptor value %T", raw)
		}
		return descriptorFromProps(node.Props), nil
	})
	if err != nil {
		return nil, fmt.Errorf("graph: descriptor %q: %w", id, err)
	}
	if got == nil {
		return nil, fmt.Errorf("graph: descriptor %q: %w", id, lesson.ErrNotFound)
	}
	return got.(*lesson.Descriptor), nil
}

// UpsertFixture writes descriptors and knowledge entries. Used to seed a fresh graph.
func UpsertFixture(ctx context.Context, client *neo4jdb.Client, log *logger.Logger, f *Fixture) error {
	if client == nil || client.Driver == nil || f == nil {
		return nil
	}
	session := client.WriteSession(ctx)
	defer session.Close(ctx)

	for _, q := range []string{
		`CREATE CONSTRAINT descriptor_id_unique IF NOT EXISTS FOR (d:Descriptor) REQUIRE d.id IS UNIQUE`,
		`CREATE CONSTRAINT vocabulary_id_unique IF NOT EXISTS FOR (v:Vocabulary) REQUIRE v.id IS UNIQUE`,
		`CREATE CONSTRAINT grammar_function_id_unique IF NOT EXISTS FOR (g:GrammarFunction) REQUIRE g.id IS UNIQUE`,
	} {
		if res, err := session.Run(ctx, q, nil); err != nil {
			log.Warn("neo4j schema init failed (continuing)", "error", err)
		} else {
			_, _ = res.Consume(ctx)
		}
	}

	descs := make([]map[string]any, 0, len(f.Descriptors))
	for _, d := range f.Descriptors {
		descs = append(descs, map[string]any{
			"id":           d.ID,
			"title":        d.Title,
			"language":     d.Language,
			"metalanguage": d.Metalanguage,
			"level":        d.Level,
			"topic":        d.Topic,
			"objectives":   d.Objectives,
		})
	}
	vocab := entryParams(f.Vocabulary)
	grammar := entryParams(f.Grammar)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if len(descs) > 0 {
			res, err := tx.Run(ctx, `
UNWIND $rows AS row
MERGE (d:Descriptor {id: row.id})
SET d += row
`, map[string]any{"rows": descs})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		if len(vocab) > 0 {
			res, err := tx.Run(ctx, `
UNWIND $rows AS row
MERGE (v:Vocabulary {id: row.id})
SET v.language = row.language, v.surface = row.form, v.surface_norm = row.norm
`, map[string]any{"rows": vocab})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		if len(grammar) > 0 {
			res, err := tx.Run(ctx, `
UNWIND $rows AS row
MERGE (g:GrammarFunction {id: row.id})
SET g.language = row.language, g.label = row.form, g.label_norm = row.norm
`, map[string]any{"rows": grammar})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("graph: upsert fixture: %w", err)
	}
	log.Info("graph fixture upserted", "descriptors", len(descs), "vocabulary", len(vocab), "grammar", len(grammar))
	return nil
}

func entryParams(entries []Entry) []map[string]any {
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		if e.ID == "" || strings.TrimSpace(e.Form) == "" {
			continue
		}
		out = append(out, map[string]any{
			"id":       e.ID,
			"language": e.Language,
			"form":     e.Form,
			"norm":     normForm(e.Form),
		})
	}
	return out
}

func descriptorFromProps(p map[string]any) *lesson.Descriptor {
	str := func(k string) string {
		s, _ := p[k].(string)
		return s
	}
	d := &lesson.Descriptor{
		ID:           str("id"),
		Title:        str("title"),
		Language:     str("language"),
		Metalanguage: str("metalanguage"),
		Level:        str("level"),
		Topic:        str("topic"),
	}
	if objs, ok := p["objectives"].([]any); ok {
		for _, o := range objs {
			if s, ok := o.(string); ok {
				d.Objectives = append(d.Objectives, s)
			}
		}
	}
	return d
}

func normForm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
