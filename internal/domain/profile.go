package domain

// SkinProfile is curated guidance for a skin type and concern. Profiles feed
// the prompt builder and the product shortlist; they are optional.
type SkinProfile struct {
	SkinType             string   `yaml:"skin_type"             json:"skinType"`
	SkinConcern          string   `yaml:"skin_concern"          json:"skinConcern"`
	CommitmentLevel      string   `yaml:"commitment_level"      json:"commitmentLevel,omitempty"`
	PreferredProducts    string   `yaml:"preferred_products"    json:"preferredProducts,omitempty"`
	EssentialIngredients []string `yaml:"essential_ingredients" json:"essentialIngredients"`
	MorningSteps         []string `yaml:"morning_steps"         json:"morningSteps"`
	EveningSteps         []string `yaml:"evening_steps"         json:"eveningSteps"`
	WeeklyTreatments     []string `yaml:"weekly_treatments"     json:"weeklyTreatments,omitempty"`
	OtherSuggestions     string   `yaml:"other_suggestions"     json:"otherSuggestions,omitempty"`
}

// Keywords returns the words the product shortlist ranks against.
func (p *SkinProfile) Keywords() []string {
	if p == nil {
		return nil
	}
	out := make([]string, 0, len(p.EssentialIngredients)+len(p.MorningSteps)+len(p.EveningSteps)+2)
	out = append(out, p.SkinType, p.SkinConcern)
	out = append(out, p.EssentialIngredients...)
	out = append(out, p.MorningSteps...)
	out = append(out, p.EveningSteps...)
	out = append(out, p.WeeklyTreatments...)
	return out
}
