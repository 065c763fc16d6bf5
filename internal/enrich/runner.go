package enrich

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Runner tries strategies in order until one produces usable metadata.
type Runner struct {
	Strategies []Strategy
	Log        logrus.FieldLogger
}

// Run returns the first successful result. progress is called once for every
// strategy that was actually attempted. A cancelled ctx is returned as is.
func (r *Runner) Run(ctx context.Context, t Target, progress func(msg string)) (*Result, error) {
	var lastErr error
	for _, s := range r.Strategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := s.Attempt(ctx, t)
		if err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		switch {
		case errors.Is(err, ErrSkip):
			continue
		case err != nil:
			lastErr = err
			r.Log.WithFields(logrus.Fields{
				"item":     t.ItemID,
				"url":      t.URL,
				"strategy": s.Name(),
			}).WithError(err).Debug("strategy failed")
			progress(fmt.Sprintf("%s failed", s.Name()))
			continue
		case res == nil || !res.Blob.Usable():
			progress(fmt.Sprintf("%s found nothing", s.Name()))
			continue
		}
		progress(fmt.Sprintf("metadata found via %s", s.Name()))
		return res, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoMetadata, lastErr)
	}
	return nil, ErrNoMetadata
}
