package enrich

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"stash/internal/cache"
	"stash/internal/events"
	"stash/internal/files"
	"stash/internal/graphflow"
	"stash/internal/models"
	"stash/internal/store"
	"stash/internal/urlutil"
)

// Worker enriches one item at a time. It is safe for concurrent use.
type Worker struct {
	Store      *store.Store
	Cache      *cache.Cache
	Runner     *Runner
	Normalizer *graphflow.Normalizer
	Files      *files.Handler
	Bus        events.Publisher
	Log        logrus.FieldLogger
}

// progress publishes update events for one item and marks it partial on the
// first one.
type progress struct {
	w    *Worker
	ctx  context.Context
	item *models.Item
	once sync.Once
}

func (p *progress) update(msg string) {
	p.once.Do(func() {
		if err := p.w.Store.SetStatus(p.ctx, p.item.ID, models.StatusPartial, ""); err != nil {
			p.w.Log.WithField("item", p.item.ID).WithError(err).Warn("mark partial")
		}
	})
	p.w.Bus.Publish(events.UpdateEvent(p.item.UserID, p.item.ID, msg))
}

// Enrich resolves metadata for the item and writes it back. Exactly one
// processing-complete event is published per call once the item was found.
// An item deleted before or during enrichment is not an error.
func (w *Worker) Enrich(ctx context.Context, itemID string) (err error) {
	item, err := w.Store.Get(ctx, itemID)
	if errors.Is(err, store.ErrNotFound) {
		w.Log.WithField("item", itemID).Debug("item gone before enrichment")
		return nil
	}
	if err != nil {
		return err
	}

	log := w.Log.WithFields(logrus.Fields{"item": item.ID, "type": item.Type})
	w.Bus.Publish(events.StartEvent(item.UserID, item.ID, string(item.Type)))

	var message string
	defer func() {
		if err != nil {
			message = err.Error()
			log.WithError(err).Warn("enrichment failed")
		}
		w.Bus.Publish(events.CompleteEvent(item.UserID, item.ID, err == nil, message))
	}()

	p := &progress{w: w, ctx: ctx, item: item}
	switch {
	case item.Type == models.TypeText:
		return w.Store.SetStatus(ctx, item.ID, models.StatusCompleted, "")
	case item.Type.FileLike():
		message, err = w.enrichFile(ctx, item, p)
		return err
	default:
		return w.enrichURL(ctx, item, p)
	}
}

func (w *Worker) enrichURL(ctx context.Context, item *models.Item, p *progress) error {
	raw := item.URLValue()
	if raw == "" {
		raw = urlutil.EnsureScheme(item.Content)
	}
	target := Target{ItemID: item.ID, UserID: item.UserID, URL: urlutil.Canonicalize(raw)}

	res, err := w.Runner.Run(ctx, target, p.update)
	if err != nil {
		w.fail(ctx, item.ID, err)
		return err
	}

	res.Blob = graphflow.CleanBlob(res.Blob)
	row := res.Cached
	if row == nil {
		row, err = w.Cache.Upsert(ctx, target.URL, res.Blob)
		if err != nil {
			w.Log.WithField("item", item.ID).WithError(err).Warn("metadata cache upsert")
		}
	}

	in := graphflow.Input{PageURL: target.URL, Blob: res.Blob}
	if row != nil {
		in.MetadataID = row.ID
		in.Blob = cache.Decode(row)
	}
	patch, err := w.Normalizer.Normalize(ctx, in)
	if err != nil {
		w.fail(ctx, item.ID, err)
		return errors.Wrap(err, "normalize metadata")
	}
	return w.Store.ApplyEnrichment(ctx, item.ID, patch)
}

// fail records a terminal failure. The item keeps its content so the user
// still sees what they saved. Work cancelled from outside (shutdown) is not a
// failure: the item goes back to pending for the next stale sweep.
func (w *Worker) fail(jobCtx context.Context, id string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), failWriteTimeout)
	defer cancel()
	if errors.Is(jobCtx.Err(), context.Canceled) {
		if err := w.Store.Requeue(ctx, id); err != nil {
			w.Log.WithField("item", id).WithError(err).Error("requeue interrupted item")
		}
		return
	}
	if err := w.Store.SetStatus(ctx, id, models.StatusFailed, cause.Error()); err != nil {
		w.Log.WithField("item", id).WithError(err).Error("mark failed")
	}
}
