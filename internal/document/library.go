package document

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"
)

// Library serves stored documents and renders missing ones on demand.
// Rendering is idempotent, so a failed or lost render is retried by the
// next request.
type Library struct {
	gen   Generator
	store *Store
	log   *slog.Logger
}

func NewLibrary(gen Generator, store *Store, log *slog.Logger) *Library {
	if log == nil {
		log = slog.Default()
	}
	return &Library{gen: gen, store: store, log: log}
}

// Get returns the document, rendering and storing it when absent.
func (l *Library) Get(ctx context.Context, kind Kind, in Input) (Document, error) {
	doc, err := l.store.Get(ctx, in.Record.ID, kind)
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, ErrNotFound) {
		l.log.Warn("document store read failed", "record_id", in.Record.ID, "kind", string(kind), "err", err)
	}
	doc, err = l.gen.Generate(kind, in)
	if err != nil {
		return Document{}, err
	}
	if err := l.store.Put(ctx, in.Record.ID, doc); err != nil {
		l.log.Warn("document store write failed", "record_id", in.Record.ID, "kind", string(kind), "err", err)
	}
	return doc, nil
}

// IssueAll renders and stores every kind for a record.  It stops at the
// first failure.
func (l *Library) IssueAll(ctx context.Context, in Input) error {
	for _, kind := range Kinds {
		doc, err := l.gen.Generate(kind, in)
		if err != nil {
			return err
		}
		if err := l.store.Put(ctx, in.Record.ID, doc); err != nil {
			return err
		}
	}
	return nil
}
