package surveyetl

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/xerrors"
)

// Option configures Pipeline.
type Option interface {
	apply(*Pipeline) error
}

type optionFunc func(*Pipeline) error

func (f optionFunc) apply(p *Pipeline) error {
	return f(p)
}

// WithPrettyLogging configures Pipeline to print human friendly logs.
func WithPrettyLogging() Option {
	return optionFunc(func(p *Pipeline) error {
		p.prettyLogging = true
		return nil
	})
}

// WithLogLevel configures log level. Default is info.
func WithLogLevel(level string) Option {
	return optionFunc(func(p *Pipeline) error {
		l, err := zerolog.ParseLevel(level)
		if err != nil {
			return xerrors.Errorf("invalid log level %q: %w", level, err)
		}
		p.logLevel = l
		return nil
	})
}

// WithConcurrency limits how many tables are loaded into the warehouse at
// once. Default is 1.
func WithConcurrency(n int) Option {
	return optionFunc(func(p *Pipeline) error {
		if n < 1 {
			return xerrors.Errorf("concurrency must be positive: %d", n)
		}
		p.concurrency = n
		return nil
	})
}

// WithNotifier sends every run summary to n.
func WithNotifier(n Notifier) Option {
	return optionFunc(func(p *Pipeline) error {
		p.notifier = n
		return nil
	})
}

// WithClock replaces time.Now, which stamps CreatedAt.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(p *Pipeline) error {
		p.now = now
		return nil
	})
}

// WithWarehouse loads tables into w, tolerating maxBadRecords malformed rows
// per table. The dataset must exist before loading.
func WithWarehouse(w *Warehouse, maxBadRecords int64) Option {
	return optionFunc(func(p *Pipeline) error {
		p.sink = w.Sink(maxBadRecords)
		p.preflight = func(ctx context.Context) error {
			_, err := w.CheckDataset(ctx)
			return err
		}
		return nil
	})
}

// WithSink loads tables into s instead of a warehouse.
func WithSink(s Sink) Option {
	return optionFunc(func(p *Pipeline) error {
		p.sink = s
		return nil
	})
}
