package document

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/gcerrors"
)

// ErrNotFound is returned when a document has not been stored yet.
var ErrNotFound = errors.New("document not found")

// Store keeps rendered documents under records/<record id>/<kind>.pdf.
type Store struct {
	bucket *blob.Bucket
}

func NewStore(bucket *blob.Bucket) *Store { return &Store{bucket: bucket} }

// OpenFileStore opens a bucket backed by a local directory, creating it
// when missing.
func OpenFileStore(dir string) (*Store, error) {
	b, err := fileblob.OpenBucket(dir, &fileblob.Options{CreateDir: true})
	if err != nil {
		return nil, errors.Wrapf(err, "open document bucket %s", dir)
	}
	return NewStore(b), nil
}

// Key returns the blob key of a document.
func Key(recordID string, kind Kind) string {
	return fmt.Sprintf("records/%s/%s.pdf", recordID, kind)
}

// Put writes doc for recordID, replacing any previous version.
func (s *Store) Put(ctx context.Context, recordID string, doc Document) error {
	err := s.bucket.WriteAll(ctx, Key(recordID, doc.Kind), doc.Body, &blob.WriterOptions{
		ContentType:        doc.ContentType,
		ContentDisposition: fmt.Sprintf("attachment; filename=%q", doc.Filename),
	})
	return errors.Wrapf(err, "store %s of %s", doc.Kind, recordID)
}

// Get reads a stored document.
func (s *Store) Get(ctx context.Context, recordID string, kind Kind) (Document, error) {
	body, err := s.bucket.ReadAll(ctx, Key(recordID, kind))
	if gcerrors.Code(err) == gcerrors.NotFound {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, errors.Wrapf(err, "read %s of %s", kind, recordID)
	}
	return Document{
		Kind:        kind,
		Filename:    filename(kind, recordID),
		ContentType: "application/pdf",
		Body:        body,
	}, nil
}

func (s *Store) Close() error { return s.bucket.Close() }
