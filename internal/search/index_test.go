package search

import "testing"

func TestOptionsAndDefaults(t *testing.T) {
	def := defaultConfig()
	if def.minRunes != 0 || def.stopwords != nil || def.maxDocs != 0 {
		t.Fatalf("defaultConfig unexpected: %#v", def)
	}

	cfg := def
	WithMinRunes(10)(&cfg)
	WithMinRunes(-5)(&cfg) // ignored
	if cfg.minRunes != 10 {
		t.Fatalf("WithMinRunes = %d", cfg.minRunes)
	}

	WithStopwords([]string{"  The ", "", "An"})(&cfg)
	if _, ok := cfg.stopwords["the"]; !ok {
		t.Fatalf("WithStopwords missing 'the': %#v", cfg.stopwords)
	}
	cfg2 := def
	WithStopwords(nil)(&cfg2)
	if cfg2.stopwords != nil {
		t.Fatalf("empty stopwords should remain nil")
	}

	WithMaxDocs(2)(&cfg)
	WithMaxDocs(0)(&cfg) // ignored
	if cfg.maxDocs != 2 {
		t.Fatalf("WithMaxDocs = %d", cfg.maxDocs)
	}
}

func productDocs() []Document {
	return []Document{
		{ID: "p1", Text: "Salicylic Acid Cleanser for oily skin"},
		{ID: "p2", Text: "Hyaluronic Acid Serum hydrating"},
		{ID: "p3", Text: "Mineral Sunscreen SPF 50"},
		{ID: "p4", Text: "Salicylic Acid Spot Treatment"},
		{ID: "p5", Text: "   "},
	}
}

func TestTopK_RanksByOverlap(t *testing.T) {
	idx := New(productDocs(), WithStopwords(DefaultStopwords))
	if idx.Len() != 4 {
		t.Fatalf("Len = %d; want 4 (blank skipped)", idx.Len())
	}
	res := idx.TopK("salicylic acid acne", 10)
	if len(res) != 3 {
		t.Fatalf("got %d results; want 3: %+v", len(res), res)
	}
	if res[0].ID != "p4" && res[0].ID != "p1" {
		t.Fatalf("top result %q should mention salicylic acid", res[0].ID)
	}
	for i := 1; i < len(res); i++ {
		if res[i].Score > res[i-1].Score {
			t.Fatalf("results not sorted by score: %+v", res)
		}
	}
	for _, r := range res {
		if r.ID == "p3" {
			t.Fatalf("non-matching document returned")
		}
	}
}

func TestTopK_TiesKeepInsertionOrder(t *testing.T) {
	idx := New([]Document{{ID: "a", Text: "niacinamide"}, {ID: "b", Text: "niacinamide"}})
	res := idx.TopK("niacinamide", 2)
	if len(res) != 2 || res[0].ID != "a" || res[1].ID != "b" {
		t.Fatalf("tie order = %+v", res)
	}
}

func TestTopK_EdgeCases(t *testing.T) {
	if res := New(nil).TopK("anything", 3); res != nil {
		t.Fatalf("empty index returned %+v", res)
	}
	idx := New(productDocs())
	if res := idx.TopK("   ", 3); res != nil {
		t.Fatalf("blank query returned %+v", res)
	}
	if res := idx.TopK("!!!", 3); res != nil {
		t.Fatalf("token-less query returned %+v", res)
	}
	if res := idx.TopK("acid", 0); len(res) != 3 {
		t.Fatalf("k<=0 should default to 3, got %d", len(res))
	}
	if got := New(productDocs(), WithMaxDocs(2)).Len(); got != 2 {
		t.Fatalf("WithMaxDocs(2) Len = %d", got)
	}
	if got := New(productDocs(), WithMinRunes(30)).Len(); got != 2 {
		t.Fatalf("WithMinRunes(30) Len = %d", got)
	}
}
