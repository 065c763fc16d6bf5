// Package ingest accepts user submissions: it classifies them, saves the
// primary record and hands the item to background enrichment.
package ingest

import (
	"context"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"stash/internal/classifier"
	"stash/internal/events"
	"stash/internal/files"
	"stash/internal/models"
	"stash/internal/store"
	"stash/internal/urlutil"
)

const (
	MaxContentLength = 100000

	discardTimeout = 5 * time.Second
)

type Classifier interface {
	Classify(ctx context.Context, raw string) models.ItemType
}

type FileStorer interface {
	Store(ctx context.Context, in files.StoreInput) (*files.StoredFile, error)
	Remove(ctx context.Context, key string) error
}

// Dispatcher schedules enrichment. *enrich.Pool implements it.
type Dispatcher interface {
	Submit(itemID string) bool
}

type Service struct {
	Store      *store.Store
	Classifier Classifier
	Files      FileStorer
	Bus        events.Publisher
	Dispatch   Dispatcher
	Log        logrus.FieldLogger
}

type FileRef struct {
	Filename    string
	ContentType string
	Body        []byte
}

type Request struct {
	UserID  string
	Content string
	Title   string
	File    *FileRef
}

func (r Request) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.UserID, validation.Required),
		validation.Field(&r.Content,
			validation.When(r.File == nil, validation.Required),
			validation.Length(0, MaxContentLength)),
		validation.Field(&r.Title, validation.Length(0, models.MaxTitleLength)),
	)
}

type Result struct {
	ItemID  string          `json:"id"`
	Existed bool            `json:"existed"`
	Type    models.ItemType `json:"type"`
}

// Ingest saves the submission and returns as soon as the row exists.
// Enrichment continues in the background.
func (s *Service) Ingest(ctx context.Context, req Request) (*Result, error) {
	req.Content = strings.TrimSpace(req.Content)
	if err := req.Validate(); err != nil {
		return nil, err
	}

	in := store.SaveInput{
		UserID:  req.UserID,
		Content: req.Content,
		Title:   req.Title,
		Status:  models.StatusPending,
	}
	var stored *files.StoredFile
	if req.File != nil {
		var err error
		stored, err = s.storeFile(ctx, req)
		if err != nil {
			return nil, err
		}
		in.Content = stored.PublicURL
		in.URL = stored.PublicURL
		in.FileID = stored.ID
		in.Type = classifier.ClassifyFile(req.File.Filename, stored.ContentType)
		if in.Title == "" {
			in.Title = req.File.Filename
		}
	} else {
		in.Type = s.Classifier.Classify(ctx, req.Content)
		if in.Type != models.TypeText {
			in.URL = urlutil.EnsureScheme(req.Content)
		}
	}

	id, existed, err := s.Store.SavePrimary(ctx, in)
	if err != nil {
		if stored != nil {
			s.discard(ctx, stored.Key)
		}
		return nil, errors.Wrap(err, "save item")
	}

	log := s.Log.WithFields(logrus.Fields{"item": id, "user": req.UserID, "type": in.Type})
	s.Bus.Publish(events.NewItemEvent(req.UserID, id))
	if existed {
		log.Debug("duplicate submission")
		typ := in.Type
		if item, err := s.Store.Get(ctx, id); err == nil {
			typ = item.Type
		}
		return &Result{ItemID: id, Existed: true, Type: typ}, nil
	}

	if !s.Dispatch.Submit(id) {
		log.Warn("enrichment not scheduled")
	}
	log.Info("item saved")
	return &Result{ItemID: id, Type: in.Type}, nil
}

func (s *Service) storeFile(ctx context.Context, req Request) (*files.StoredFile, error) {
	if s.Files == nil {
		return nil, files.ErrUpload
	}
	return s.Files.Store(ctx, files.StoreInput{
		UserID:      req.UserID,
		FileID:      ulid.Make().String(),
		Filename:    req.File.Filename,
		ContentType: req.File.ContentType,
		Body:        req.File.Body,
	})
}

// discard removes an upload whose item could not be saved.
func (s *Service) discard(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), discardTimeout)
	defer cancel()
	log := s.Log.WithField("key", key)
	if err := s.Files.Remove(ctx, key); err != nil {
		log.WithError(err).Error("orphaned upload left in object store")
		return
	}
	log.Warn("removed upload of unsaved item")
}
