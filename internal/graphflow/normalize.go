package graphflow

import (
	"context"
	"errors"
	"strings"

	"github.com/cloudwego/eino/compose"

	"stash/internal/models"
	"stash/internal/sanitize"
	"stash/internal/store"
	"stash/internal/urlutil"
)

// Input is a resolved metadata blob for the page at PageURL.
type Input struct {
	PageURL    string
	MetadataID string
	Blob       models.MetadataBlob
}

type cleaned struct {
	PageURL    string
	MetadataID string
	Blob       models.MetadataBlob
}

type resolved struct {
	cleaned
	Image string
	Logo  string
}

type Normalizer struct {
	runnable compose.Runnable[Input, store.Patch]
}

func NewNormalizer() (*Normalizer, error) {
	graph := compose.NewGraph[Input, store.Patch]()
	if err := graph.AddLambdaNode("cleaner", compose.InvokableLambda(cleanerNode)); err != nil {
		return nil, err
	}
	if err := graph.AddLambdaNode("resolver", compose.InvokableLambda(resolverNode)); err != nil {
		return nil, err
	}
	if err := graph.AddLambdaNode("formatter", compose.InvokableLambda(formatterNode)); err != nil {
		return nil, err
	}
	if err := graph.AddEdge(compose.START, "cleaner"); err != nil {
		return nil, err
	}
	if err := graph.AddEdge("cleaner", "resolver"); err != nil {
		return nil, err
	}
	if err := graph.AddEdge("resolver", "formatter"); err != nil {
		return nil, err
	}
	if err := graph.AddEdge("formatter", compose.END); err != nil {
		return nil, err
	}

	runnable, err := graph.Compile(context.Background(), compose.WithGraphName("metadata_normalize"))
	if err != nil {
		return nil, err
	}
	return &Normalizer{runnable: runnable}, nil
}

// Normalize turns a blob into the patch written to the item row.
func (n *Normalizer) Normalize(ctx context.Context, in Input) (store.Patch, error) {
	if n == nil || n.runnable == nil {
		return store.Patch{}, errors.New("normalize graph not initialized")
	}
	return n.runnable.Invoke(ctx, in)
}

// CleanBlob bounds and sanitizes the text fields of b. Blobs are cleaned
// before they are cached so every reader sees the same column-safe values.
func CleanBlob(b models.MetadataBlob) models.MetadataBlob {
	b.Title = sanitize.Field(b.Title, models.MaxTitleLength)
	b.Description = sanitize.Field(b.Description, models.MaxDescriptionLength)
	b.Author = sanitize.Field(b.Author, 255)
	b.Publisher = sanitize.Field(b.Publisher, 255)
	b.SiteName = sanitize.Field(b.SiteName, 255)
	b.Lang = sanitize.Field(b.Lang, 32)
	return b
}

func cleanerNode(ctx context.Context, in Input) (cleaned, error) {
	return cleaned{PageURL: in.PageURL, MetadataID: in.MetadataID, Blob: CleanBlob(in.Blob)}, nil
}

func resolverNode(ctx context.Context, in cleaned) (resolved, error) {
	out := resolved{cleaned: in}
	out.Image = urlutil.PrepareURL(in.Blob.Image, in.PageURL)
	out.Logo = urlutil.PrepareURL(in.Blob.Logo, in.PageURL)
	if out.Logo == "" {
		if origin := urlutil.Origin(in.PageURL); origin != "" {
			out.Logo = origin + "/favicon.ico"
		}
	}
	return out, nil
}

func formatterNode(ctx context.Context, in resolved) (store.Patch, error) {
	b := in.Blob
	site := b.SiteName
	if site == "" && in.PageURL != "" {
		site = urlutil.SiteName(in.PageURL)
	}
	return store.Patch{
		Title:        strings.TrimSpace(b.Title),
		Description:  strings.TrimSpace(b.Description),
		ThumbnailURL: in.Image,
		FaviconURL:   in.Logo,
		MetadataID:   in.MetadataID,
		Tags: models.ItemTags{
			Author:    b.Author,
			Language:  b.Lang,
			Publisher: b.Publisher,
			SiteName:  site,
		},
		Status: models.StatusCompleted,
	}, nil
}
