package catalog

import (
	"strings"

	"github.com/tbourn/go-routine-backend/internal/domain"
	"github.com/tbourn/go-routine-backend/internal/search"
)

// Filter applies the optional category and price constraints of params.
// When the constraints remove every product the input is returned unchanged:
// a routine from the wider catalog beats no routine.
func Filter(products []domain.Product, params domain.GenerationParams) []domain.Product {
	cats := make(map[string]struct{}, len(params.Categories))
	for _, c := range params.Categories {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			cats[c] = struct{}{}
		}
	}
	pr := params.PriceRange
	if len(cats) == 0 && pr == nil {
		return products
	}
	out := make([]domain.Product, 0, len(products))
	for _, p := range products {
		if len(cats) > 0 {
			if _, ok := cats[strings.ToLower(strings.TrimSpace(p.Category))]; !ok {
				continue
			}
		}
		if pr != nil {
			if p.CurrentPrice < pr.Min || (pr.Max > 0 && p.CurrentPrice > pr.Max) {
				continue
			}
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return products
	}
	return out
}

// Shortlist picks at most n products for the prompt. Products relevant to
// the key and profile come first (Jaccard rank over title, category and
// description); the remainder is filled in catalog order. With n <= 0 or
// fewer products than n, the input is returned as is.
func Shortlist(products []domain.Product, key domain.RoutineKey, profile *domain.SkinProfile, n int) []domain.Product {
	if n <= 0 || len(products) <= n {
		return products
	}
	docs := make([]search.Document, len(products))
	byID := make(map[string]int, len(products))
	for i, p := range products {
		id := p.ID
		if id == "" {
			id = p.URL
		}
		byID[id] = i
		docs[i] = search.Document{ID: id, Text: p.Title + " " + p.Category + " " + p.Description}
	}
	idx := search.New(docs, search.WithStopwords(search.DefaultStopwords))

	terms := append([]string{key.SkinType, key.SkinConcern}, profile.Keywords()...)
	query := strings.Join(terms, " ")

	picked := make([]bool, len(products))
	out := make([]domain.Product, 0, n)
	for _, r := range idx.TopK(query, n) {
		i := byID[r.ID]
		if !picked[i] {
			picked[i] = true
			out = append(out, products[i])
		}
	}
	for i := 0; i < len(products) && len(out) < n; i++ {
		if !picked[i] {
			picked[i] = true
			out = append(out, products[i])
		}
	}
	return out
}
