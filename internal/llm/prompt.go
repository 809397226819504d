package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

const systemPrompt = "You are a professional skincare consultant. Build personalized routines by matching " +
	"product ingredients with the user's needs. Only recommend products from the provided list. " +
	"Always prioritize ingredient compatibility and the user's constraints. Return only valid JSON."

// promptProduct is the subset of a catalog product sent to the model.
type promptProduct struct {
	Title        string  `json:"title"`
	URL          string  `json:"url"`
	Category     string  `json:"category,omitempty"`
	Description  string  `json:"description,omitempty"`
	CurrentPrice float64 `json:"currentPrice,omitempty"`
	Currency     string  `json:"currency,omitempty"`
	DiscountRate float64 `json:"discountRate,omitempty"`
}

const maxDescriptionRunes = 300

// buildPrompt renders the system and user messages for req.
func buildPrompt(req Request) (system, user string, err error) {
	products := make([]promptProduct, 0, len(req.Products))
	for _, p := range req.Products {
		products = append(products, promptProduct{
			Title:        p.Title,
			URL:          p.URL,
			Category:     p.Category,
			Description:  truncateRunes(p.Description, maxDescriptionRunes),
			CurrentPrice: p.CurrentPrice,
			Currency:     p.Currency,
			DiscountRate: p.DiscountRate,
		})
	}
	catalog, err := json.Marshal(products)
	if err != nil {
		return "", "", fmt.Errorf("encode products: %w", err)
	}

	commitment := orDefault(req.Params.CommitmentLevel, "Standard")
	preferred := orDefault(req.Params.PreferredProducts, "No preference")

	var b strings.Builder
	b.WriteString("Analyze the available products and create a personalized morning and evening routine.\n\n")
	b.WriteString("USER PROFILE:\n")
	fmt.Fprintf(&b, "- Skin Type: %s\n- Primary Concern: %s\n- Commitment Level: %s\n- Preferred Products: %s\n\n",
		req.Key.SkinType, req.Key.SkinConcern, commitment, preferred)

	if p := req.Profile; p != nil {
		if len(p.EssentialIngredients) > 0 {
			b.WriteString("ESSENTIAL INGREDIENTS TO PRIORITIZE:\n- ")
			b.WriteString(strings.Join(p.EssentialIngredients, "\n- "))
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "ROUTINE STRUCTURE GUIDELINES:\nMorning Steps: %s\nEvening Steps: %s\n\n",
			strings.Join(p.MorningSteps, " -> "), strings.Join(p.EveningSteps, " -> "))
		if len(p.WeeklyTreatments) > 0 {
			fmt.Fprintf(&b, "WEEKLY TREATMENTS: %s\n\n", strings.Join(p.WeeklyTreatments, "; "))
		}
		if p.OtherSuggestions != "" {
			fmt.Fprintf(&b, "BUDGET/PREFERENCE CONSTRAINTS: %s\n\n", p.OtherSuggestions)
		}
	} else {
		b.WriteString("ROUTINE STRUCTURE GUIDELINES:\nUse a cleanser, a targeted treatment, a moisturizer and, in the morning, sunscreen.\n\n")
	}

	b.WriteString("AVAILABLE PRODUCTS:\n")
	b.Write(catalog)
	b.WriteString("\n\nINSTRUCTIONS:\n")
	fmt.Fprintf(&b, "1. Create %s for both the morning and the evening routine.\n", stepsFor(commitment))
	b.WriteString("2. Choose products whose ingredients fit the skin type and concern; copy product_name and product_url exactly from the list.\n")
	b.WriteString("3. For each step explain why the product was chosen and how to use it.\n")
	b.WriteString("4. Include weekly treatment recommendations when applicable.\n")
	b.WriteString("5. Add general routine notes and tips.\n\n")
	b.WriteString("Return ONLY valid JSON following the exact schema provided.")

	return systemPrompt, b.String(), nil
}

func stepsFor(commitment string) string {
	switch strings.ToLower(commitment) {
	case "minimal":
		return "3 to 4 steps"
	case "comprehensive":
		return "6 to 7 steps"
	default:
		return "4 to 5 steps"
	}
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

// routineSchema is the JSON schema of domain.RoutineRecord sent to vendors
// that support structured output.
var routineSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"routine": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"morning": stepsSchema,
				"evening": stepsSchema,
			},
			"required": []string{"morning", "evening"},
		},
		"weekly_treatments": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"treatment_type":     map[string]any{"type": "string"},
					"product_suggestion": map[string]any{"type": "string"},
					"reasoning":          map[string]any{"type": "string"},
					"how_to_use":         map[string]any{"type": "string"},
				},
				"required": []string{"treatment_type", "product_suggestion", "reasoning", "how_to_use"},
			},
		},
		"general_notes": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
	},
	"required": []string{"routine", "general_notes"},
}

var stepsSchema = map[string]any{
	"type": "array",
	"items": map[string]any{
		"type": "object",
		"properties": map[string]any{
			"step":         map[string]any{"type": "integer"},
			"product_name": map[string]any{"type": "string"},
			"product_url":  map[string]any{"type": "string"},
			"reasoning":    map[string]any{"type": "string"},
			"how_to_use":   map[string]any{"type": "string"},
		},
		"required": []string{"step", "product_name", "product_url", "reasoning", "how_to_use"},
	},
}
