// Package catalog supplies the products a routine is generated from and the
// curated skin profiles that guide generation.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-routine-backend/internal/cache"
	"github.com/tbourn/go-routine-backend/internal/domain"
	"github.com/tbourn/go-routine-backend/internal/observability"
	"github.com/tbourn/go-routine-backend/internal/repo"
)

// ErrUnavailable wraps failures of the underlying catalog source.
var ErrUnavailable = errors.New("product catalog unavailable")

// Provider lists catalog products, best offers first.
type Provider interface {
	ListProducts(ctx context.Context, limit int) ([]domain.Product, error)
}

// DB reads products straight from the products table.
type DB struct {
	DB *gorm.DB
}

func (d DB) ListProducts(ctx context.Context, limit int) ([]domain.Product, error) {
	out, err := repo.ListProducts(ctx, d.DB, repo.ProductQuery{Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return out, nil
}

const versionKey = "products:version"

// Cached memoizes another Provider in the Cache Store for a TTL. Entries are
// namespaced by a version counter, so Invalidate drops every cached limit at
// once by bumping the counter.
type Cached struct {
	Inner Provider
	Store cache.Store
	TTL   time.Duration
}

// NewCached wraps inner. A non-positive ttl selects ten minutes.
func NewCached(inner Provider, store cache.Store, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cached{Inner: inner, Store: store, TTL: ttl}
}

func (c *Cached) ListProducts(ctx context.Context, limit int) ([]domain.Product, error) {
	if limit <= 0 || limit > repo.MaxProductLimit {
		limit = repo.MaxProductLimit
	}
	key, kerr := c.key(ctx, limit)
	if kerr == nil {
		if raw, ok, err := c.Store.Get(ctx, key); err == nil && ok {
			var out []domain.Product
			if err := json.Unmarshal([]byte(raw), &out); err == nil {
				observability.CatalogCache.WithLabelValues("hit").Inc()
				return out, nil
			}
		} else if err != nil {
			kerr = err
		}
	}
	if kerr != nil {
		observability.CatalogCache.WithLabelValues("error").Inc()
		log.Warn().Err(kerr).Msg("product cache unavailable; reading through")
	} else {
		observability.CatalogCache.WithLabelValues("miss").Inc()
	}

	out, err := c.Inner.ListProducts(ctx, limit)
	if err != nil {
		return nil, err
	}
	// Empty lists are not cached so a freshly seeded catalog shows up at once.
	if kerr == nil && len(out) > 0 {
		if b, err := json.Marshal(out); err == nil {
			if err := c.Store.Set(ctx, key, string(b), c.TTL); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("product cache write failed")
			}
		}
	}
	return out, nil
}

// Invalidate makes every previously cached product list unreachable.
func (c *Cached) Invalidate(ctx context.Context) error {
	_, err := c.Store.Incr(ctx, versionKey)
	return err
}

func (c *Cached) key(ctx context.Context, limit int) (string, error) {
	v, ok, err := c.Store.Get(ctx, versionKey)
	if err != nil {
		return "", err
	}
	if !ok {
		v = "0"
	}
	return "products:v" + v + ":" + strconv.Itoa(limit), nil
}
