package prompts

import (
	"fmt"
	"strings"
)

// Input is a superset of the fields any lesson prompt reads.
// Missing fields render empty strings (templates use missingkey=zero).
type Input struct {
	Language     string
	Metalanguage string
	Level        string
	Topic        string
	Title        string

	DescriptorJSON string
	PlanJSON       string
	// Cards from earlier stages or earlier waves, keyed by type.
	UpstreamJSON        string
	PersonalizationJSON string
	RequiredJSON        string
	// Elements mined from dialogue/reading for extraction cards.
	ExtractedJSON string
	SchemaJSON    string
	CardType      string
	// Issues a reviewer found in a previous version of this card.
	ReviewNotes string
}

type Validator func(Input) error

func RequireNonEmpty(field string, get func(Input) string) Validator {
	return func(in Input) error {
		if get == nil {
			return fmt.Errorf("validator for %s: getter is nil", field)
		}
		if strings.TrimSpace(get(in)) == "" {
			return fmt.Errorf("%s required", field)
		}
		return nil
	}
}
