// Package content defines the practice-content domain types and the store
// interface the progression logic reads them through. Content items are
// authored records (words, phrases, sentences tagged with phonemes and
// difficulty tiers); they are read-only to the rest of the system.
package content

import "context"

// Type classifies a content item by grammatical size, which also determines
// the phonation target duration of the level derived from it.
type Type string

const (
	TypeWord     Type = "word"
	TypePhrase   Type = "phrase"
	TypeSentence Type = "sentence"
)

// IsValid reports whether t is a recognised content type.
func (t Type) IsValid() bool {
	switch t {
	case TypeWord, TypePhrase, TypeSentence:
		return true
	}
	return false
}

// Tier boundaries. Tiers bucket phoneme categories by difficulty:
// 1 sustained sounds, 2 friction sounds, 3 stop consonants.
const (
	MinTier = 1
	MaxTier = 3
)

// Item is a single authored practice record.
type Item struct {
	ID            string
	Text          string
	Phoneme       string
	PhonemeCode   string
	Tier          int
	Type          Type
	SyllableCount int

	// Exercises lists the exercise identifiers this item is compatible with
	// (e.g. "snake", "turtle").
	Exercises []string
}

// SupportsExercise reports whether the item is tagged for exercise.
func (i Item) SupportsExercise(exercise string) bool {
	for _, e := range i.Exercises {
		if e == exercise {
			return true
		}
	}
	return false
}

// Store is the read-side contract for content lookups. Implementations must
// be safe for concurrent use.
type Store interface {
	// Item returns the content item with the given id.
	Item(ctx context.Context, id string) (Item, error)

	// ByTierType returns all items of one tier and type compatible with the
	// given exercise, in stable (authored) order.
	ByTierType(ctx context.Context, tier int, typ Type, exercise string) ([]Item, error)
}
