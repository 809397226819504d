package catalog

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"

	"github.com/tbourn/go-routine-backend/internal/domain"
)

//go:embed profiles.yaml
var defaultProfilesYAML []byte

// Wildcard in a profile's skin_type or skin_concern matches any value.
const Wildcard = "*"

type profileFile struct {
	Profiles []domain.SkinProfile `yaml:"profiles"`
}

// Profiles is an immutable set of skin profiles.
type Profiles struct {
	items []domain.SkinProfile
}

// LoadProfiles parses a YAML document with a top-level "profiles" list.
func LoadProfiles(r io.Reader) (*Profiles, error) {
	var f profileFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse skin profiles: %w", err)
	}
	for i, p := range f.Profiles {
		if strings.TrimSpace(p.SkinType) == "" || strings.TrimSpace(p.SkinConcern) == "" {
			return nil, fmt.Errorf("skin profile #%d: skin_type and skin_concern are required", i+1)
		}
	}
	return &Profiles{items: f.Profiles}, nil
}

// LoadProfilesFile reads profiles from path, or the embedded dataset when
// path is empty.
func LoadProfilesFile(path string) (*Profiles, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultProfiles()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadProfiles(f)
}

// DefaultProfiles returns the embedded dataset.
func DefaultProfiles() (*Profiles, error) {
	return LoadProfiles(strings.NewReader(string(defaultProfilesYAML)))
}

// Len reports the number of profiles.
func (p *Profiles) Len() int { return len(p.items) }

// Match returns the most specific profile for the request, or nil. Type and
// concern must match (case-insensitively, or by wildcard); commitment level
// and preferred products only break ties.
func (p *Profiles) Match(key domain.RoutineKey, params domain.GenerationParams) *domain.SkinProfile {
	if p == nil {
		return nil
	}
	key = key.Normalize()
	best, bestScore := -1, -1
	for i := range p.items {
		it := &p.items[i]
		score := 0
		switch {
		case foldEq(it.SkinType, key.SkinType):
			score += 8
		case it.SkinType == Wildcard:
		default:
			continue
		}
		switch {
		case foldEq(it.SkinConcern, key.SkinConcern):
			score += 4
		case it.SkinConcern == Wildcard:
		default:
			continue
		}
		if it.CommitmentLevel != "" && foldEq(it.CommitmentLevel, params.CommitmentLevel) {
			score += 2
		}
		if it.PreferredProducts != "" && foldEq(it.PreferredProducts, params.PreferredProducts) {
			score++
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return nil
	}
	out := p.items[best]
	return &out
}

// foldEq compares with Unicode case folding. A Caser keeps state, so each
// call gets its own.
func foldEq(a, b string) bool {
	fold := cases.Fold()
	return fold.String(strings.TrimSpace(a)) == fold.String(strings.TrimSpace(b))
}
