package domain

import (
	"errors"
	"regexp"
	"strings"
)

// ErrInvalidKey is returned when a routine key has an empty skin type or
// skin concern after trimming.
var ErrInvalidKey = errors.New("skinType and skinConcern are required")

// RoutineKey identifies a routine. Two requests with the same normalized key
// share one cache entry and one durable history.
type RoutineKey struct {
	SkinType    string `json:"skinType"`
	SkinConcern string `json:"skinConcern"`
}

// Normalize returns a copy with surrounding whitespace removed from both
// fields. Case is preserved.
func (k RoutineKey) Normalize() RoutineKey {
	return RoutineKey{
		SkinType:    strings.TrimSpace(k.SkinType),
		SkinConcern: strings.TrimSpace(k.SkinConcern),
	}
}

// Validate reports ErrInvalidKey if either normalized field is empty.
func (k RoutineKey) Validate() error {
	n := k.Normalize()
	if n.SkinType == "" || n.SkinConcern == "" {
		return ErrInvalidKey
	}
	return nil
}

// CacheKey is the Cache Store key for the normalized routine.
func (k RoutineKey) CacheKey() string {
	n := k.Normalize()
	return "routine:" + n.SkinType + ":" + n.SkinConcern
}

func (k RoutineKey) String() string { return k.SkinType + "/" + k.SkinConcern }

// PriceRange optionally narrows the product catalog before generation.
type PriceRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"` // 0 means no upper bound
}

// GenerationParams are the per-request knobs that shape a generated
// routine. They never participate in the routine key.
type GenerationParams struct {
	CommitmentLevel   string      `json:"commitmentLevel,omitempty"`
	PreferredProducts string      `json:"preferredProducts,omitempty"`
	Limit             int         `json:"limit,omitempty"`
	Categories        []string    `json:"categories,omitempty"`
	PriceRange        *PriceRange `json:"priceRange,omitempty"`
}

// RoutineStep is one ordered product application in a morning or evening routine.
type RoutineStep struct {
	Step        int    `json:"step"`
	ProductName string `json:"product_name"`
	ProductURL  string `json:"product_url,omitempty"`
	Reasoning   string `json:"reasoning"`
	HowToUse    string `json:"how_to_use"`
}

// WeeklyTreatment is an occasional treatment such as a mask or exfoliant.
type WeeklyTreatment struct {
	TreatmentType     string `json:"treatment_type"`
	ProductSuggestion string `json:"product_suggestion,omitempty"`
	Reasoning         string `json:"reasoning,omitempty"`
	HowToUse          string `json:"how_to_use"`
}

// Routine groups the daily steps.
type Routine struct {
	Morning []RoutineStep `json:"morning"`
	Evening []RoutineStep `json:"evening"`
}

// RoutineRecord is the final structured routine. It is the value stored in
// the cache and the durable store and delivered in complete events.
type RoutineRecord struct {
	Routine          Routine           `json:"routine"`
	WeeklyTreatments []WeeklyTreatment `json:"weekly_treatments"`
	GeneralNotes     []string          `json:"general_notes"`
}

// ErrIncompleteRoutine is returned by RoutineRecord.Validate.
var ErrIncompleteRoutine = errors.New("routine is incomplete")

// Validate checks the minimum shape a usable routine must have: at least one
// morning and one evening step, each naming a product.
func (r *RoutineRecord) Validate() error {
	if r == nil || len(r.Routine.Morning) == 0 || len(r.Routine.Evening) == 0 {
		return ErrIncompleteRoutine
	}
	for _, steps := range [][]RoutineStep{r.Routine.Morning, r.Routine.Evening} {
		for _, s := range steps {
			if strings.TrimSpace(s.ProductName) == "" {
				return ErrIncompleteRoutine
			}
		}
	}
	return nil
}

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{8,128}$`)

// ValidSessionID reports whether id is acceptable as a client generated
// session identifier. UUIDs and nanoid-style ids both pass.
func ValidSessionID(id string) bool { return sessionIDPattern.MatchString(id) }
