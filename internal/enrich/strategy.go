// Package enrich resolves card metadata for saved items in the background.
package enrich

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"stash/internal/cache"
	"stash/internal/models"
	"stash/internal/processor"
	"stash/internal/render"
)

var (
	// ErrSkip is returned by a strategy that does not apply to the target.
	ErrSkip = errors.New("strategy not applicable")
	// ErrNoMetadata means every applicable strategy failed.
	ErrNoMetadata = errors.New("no metadata found")
)

// Target is the URL being enriched and the item it belongs to.
type Target struct {
	ItemID string
	UserID string
	// URL is canonical: tracking parameters have been removed.
	URL string
}

type Result struct {
	Blob models.MetadataBlob
	// Cached is set when the blob came straight from the metadata cache.
	Cached *models.Metadata
	Source string
}

type Strategy interface {
	Name() string
	Attempt(ctx context.Context, t Target) (*Result, error)
}

// CacheStrategy answers from the shared metadata cache without any network access.
type CacheStrategy struct {
	Cache *cache.Cache
}

func (s *CacheStrategy) Name() string { return "cache" }

func (s *CacheStrategy) Attempt(ctx context.Context, t Target) (*Result, error) {
	row, err := s.Cache.Lookup(ctx, t.URL)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrSkip
	}
	blob := cache.Decode(row)
	if !blob.Usable() {
		return nil, ErrSkip
	}
	return &Result{Blob: blob, Cached: row, Source: s.Name()}, nil
}

// ScrapeStrategy fetches the page directly and reads its OpenGraph tags.
type ScrapeStrategy struct {
	Processor *processor.Processor
}

func (s *ScrapeStrategy) Name() string { return "opengraph" }

func (s *ScrapeStrategy) Attempt(ctx context.Context, t Target) (*Result, error) {
	body, err := s.Processor.FetchHTML(ctx, t.URL)
	if err != nil {
		return nil, err
	}
	page, err := processor.Extract(t.URL, body)
	if err != nil {
		return nil, errors.Wrap(err, "parse html")
	}
	if !page.SocialTitle {
		return nil, errors.New("page has no og:title or twitter:title")
	}
	return &Result{Blob: page.Blob, Source: s.Name()}, nil
}

// RenderStrategy asks the external render service for the page. Product
// details it reports take precedence over the page's own tags.
type RenderStrategy struct {
	Client *render.Client
}

func (s *RenderStrategy) Name() string { return "render" }

func (s *RenderStrategy) Attempt(ctx context.Context, t Target) (*Result, error) {
	if !s.Client.Enabled() {
		return nil, ErrSkip
	}
	res, err := s.Client.Fetch(ctx, t.URL)
	if err != nil {
		return nil, err
	}
	page, err := processor.Extract(t.URL, []byte(res.HTML))
	if err != nil {
		return nil, errors.Wrap(err, "parse rendered html")
	}
	page.ApplyProduct(page.Product)
	if p := res.ExtractedProduct; p != nil {
		page.ApplyProduct(&processor.Product{Name: p.Name, Image: p.Image, Description: p.Description})
	}
	if !page.Blob.Usable() {
		return nil, fmt.Errorf("rendered page for %s has no usable metadata", t.URL)
	}
	return &Result{Blob: page.Blob, Source: s.Name()}, nil
}
