package handlers

import (
	"net/http"
	"strings"
	"testing"
)

func TestUploadProducts(t *testing.T) {
	env := newEnv(t, Options{}, false)

	w := do(env.r, http.MethodPost, "/products", `{"products":[]}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty upload -> %d", w.Code)
	}

	w = do(env.r, http.MethodPost, "/products", `{"products":[{"url":"not a url","title":" ","stars":7}]}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid upload -> %d", w.Code)
	}
	details := strings.Join(decode[ErrorResponse](t, w).Details, "|")
	for _, want := range []string{"products[0].url must be a valid URL", "products[0].title is required", "products[0].stars must be at most 5"} {
		if !strings.Contains(details, want) {
			t.Fatalf("details %q missing %q", details, want)
		}
	}

	body := `{"products":[
		{"url":"https://shop/a","title":"Cleanser","category":"cleanser","currentPrice":10,"discountRate":5},
		{"url":"https://shop/b","title":"Serum","category":"serum","currentPrice":30,"discountRate":40}
	]}`
	w = do(env.r, http.MethodPost, "/products", body)
	if w.Code != http.StatusOK {
		t.Fatalf("upload -> %d %s", w.Code, w.Body.String())
	}
	if got := decode[UploadProductsResponse](t, w); got.Upserted != 2 {
		t.Fatalf("upserted = %d", got.Upserted)
	}
}

func TestListProducts_FiltersAndETag(t *testing.T) {
	env := newEnv(t, Options{}, false, testProducts...)

	w := do(env.r, http.MethodGet, "/products", "")
	got := decode[ProductsResponse](t, w)
	if got.Count != 2 || got.Data[0].URL != "https://shop/2" {
		t.Fatalf("list = %+v", got)
	}

	got = decode[ProductsResponse](t, do(env.r, http.MethodGet, "/products?categories=cleanser,%20", ""))
	if got.Count != 1 || got.Data[0].Category != "cleanser" {
		t.Fatalf("category filter = %+v", got)
	}
	got = decode[ProductsResponse](t, do(env.r, http.MethodGet, "/products?minPrice=15", ""))
	if got.Count != 1 || got.Data[0].URL != "https://shop/2" {
		t.Fatalf("price filter = %+v", got)
	}

	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatalf("missing ETag")
	}
	if w := do(env.r, http.MethodGet, "/products", "", "If-None-Match", etag); w.Code != http.StatusNotModified {
		t.Fatalf("if-none-match -> %d", w.Code)
	}
	if w := do(env.r, http.MethodGet, "/products?limit=1", "", "If-None-Match", etag); w.Code != http.StatusOK {
		t.Fatalf("other query must not match -> %d", w.Code)
	}
}

func TestProductRoutes_WithoutService(t *testing.T) {
	r := mount(New(stubRoutines{}, nil, nil, Options{}))
	if w := do(r, http.MethodGet, "/products", ""); w.Code != http.StatusNotFound {
		t.Fatalf("list without catalog -> %d", w.Code)
	}
}
