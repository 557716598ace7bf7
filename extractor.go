package surveyetl

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog/log"
	"golang.org/x/xerrors"
)

const gsScheme = "gs://"

// extractor opens the raw survey file.
type extractor interface {
	extract(context.Context, string) (io.Reader, func(), error)
}

// fileExtractor reads local files and, through a storage client built on
// first use and shared by later calls, Cloud Storage objects.
type fileExtractor struct {
	newStorage func(context.Context) (*storage.Client, error)

	mu      sync.Mutex
	storage *storage.Client
}

func newDefaultExtractor() *fileExtractor {
	return &fileExtractor{
		newStorage: func(ctx context.Context) (*storage.Client, error) {
			return storage.NewClient(ctx)
		},
	}
}

func (e *fileExtractor) extract(ctx context.Context, location string) (io.Reader, func(), error) {
	if strings.HasPrefix(location, gsScheme) {
		return e.extractObject(ctx, location)
	}

	f, err := os.Open(location)
	if err != nil {
		return nil, nil, xerrors.Errorf("failed to open %s: %v: %w", location, err, ErrExternalIO)
	}

	return f, func() { f.Close() }, nil
}

func (e *fileExtractor) extractObject(ctx context.Context, location string) (io.Reader, func(), error) {
	l := log.Ctx(ctx)

	bucket, name, err := splitObjectPath(location)
	if err != nil {
		return nil, nil, err
	}

	c, err := e.client(ctx)
	if err != nil {
		return nil, nil, err
	}

	r, err := c.Bucket(bucket).Object(name).NewReader(ctx)
	if err != nil {
		l.Error().Err(err).Str("object", location).Msg("failed to initialize object reader")
		return nil, nil, xerrors.Errorf("failed to get reader of %s: %v: %w", location, err, ErrExternalIO)
	}
	l.Debug().Str("object", location).Int64("size", r.Attrs.Size).Msg("object opened")

	return r, func() { r.Close() }, nil
}

func (e *fileExtractor) client(ctx context.Context) (*storage.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.storage == nil {
		c, err := e.newStorage(ctx)
		if err != nil {
			return nil, xerrors.Errorf("failed to build storage client: %v: %w", err, ErrExternalIO)
		}
		e.storage = c
	}

	return e.storage, nil
}

// Close closes the storage client if one was built.
func (e *fileExtractor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.storage == nil {
		return nil
	}

	err := e.storage.Close()
	e.storage = nil
	if err != nil {
		return xerrors.Errorf("failed to close storage client: %w", err)
	}

	return nil
}

func splitObjectPath(location string) (string, string, error) {
	p := strings.TrimPrefix(location, gsScheme)
	i := strings.Index(p, "/")
	if i <= 0 || i == len(p)-1 {
		return "", "", xerrors.Errorf("invalid object path %q: %w", location, ErrExternalIO)
	}
	return p[:i], p[i+1:], nil
}
