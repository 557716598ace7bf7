package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"golang.org/x/xerrors"

	"go.nownabe.dev/surveyetl"
	"go.nownabe.dev/surveyetl/internal/config"
)

var errFailedTables = errors.New("some tables failed")

type command struct {
	cfg    *config.Config
	logger zerolog.Logger
}

func (c *command) job() (*surveyetl.Job, error) {
	enc, err := surveyetl.EncodingByName(c.cfg.Input.Encoding)
	if err != nil {
		return nil, err
	}

	return &surveyetl.Job{
		Name:      "surveyetl",
		Source:    c.cfg.Input.File,
		Encoding:  enc,
		OutputDir: c.cfg.Output.Dir,
	}, nil
}

func (c *command) warehouse(ctx context.Context) (*surveyetl.Warehouse, error) {
	if err := c.cfg.ValidateWarehouse(); err != nil {
		return nil, err
	}

	bq := c.cfg.BigQuery
	c.logger.Info().Str("project", bq.Project).Str("dataset", bq.Dataset).Msg("connecting to bigquery")

	return surveyetl.NewWarehouse(ctx, bq.Project, bq.Dataset, bq.Location)
}

func (c *command) options() []surveyetl.Option {
	opts := []surveyetl.Option{
		surveyetl.WithLogLevel(c.cfg.Log.Level),
		surveyetl.WithConcurrency(c.cfg.BigQuery.LoadConcurrency),
	}

	if c.cfg.Log.Pretty {
		opts = append(opts, surveyetl.WithPrettyLogging())
	}

	if c.cfg.Slack.Enabled() {
		opts = append(opts, surveyetl.WithNotifier(&surveyetl.SlackNotifier{
			Token:   c.cfg.Slack.Token,
			Channel: c.cfg.Slack.Channel,
		}))
	}

	return opts
}

type stage func(*surveyetl.Pipeline, context.Context, *surveyetl.Job) (*surveyetl.Summary, error)

func (c *command) pipeline(ctx context.Context, warehouse, input bool, run stage) error {
	if input {
		if err := c.cfg.ValidateInput(); err != nil {
			return err
		}
	}

	j, err := c.job()
	if err != nil {
		return err
	}

	opts := c.options()

	if warehouse {
		w, err := c.warehouse(ctx)
		if err != nil {
			return err
		}
		defer w.Close()

		opts = append(opts, surveyetl.WithWarehouse(w, c.cfg.BigQuery.MaxBadRecords))
	}

	p, err := surveyetl.New(opts...)
	if err != nil {
		return err
	}
	defer p.Close()

	s, err := run(p, ctx, j)
	if err != nil {
		if errors.Is(err, surveyetl.ErrDatasetNotFound) {
			c.logger.Error().Msgf("create the dataset first: %s create-dataset", filepath.Base(os.Args[0]))
		}
		return err
	}

	if err := surveyetl.WriteReport(os.Stdout, s); err != nil {
		return err
	}

	if !s.OK() {
		return errFailedTables
	}

	return nil
}

func (c *command) analyze(ctx context.Context) error {
	if err := c.cfg.ValidateInput(); err != nil {
		return err
	}

	j, err := c.job()
	if err != nil {
		return err
	}

	src, err := surveyetl.ReadSource(ctx, j)
	if err != nil {
		return err
	}

	fmt.Printf("rows: %d\ncolumns: %d\n", src.Len(), len(src.Header()))

	sections := []struct {
		title    string
		patterns []string
	}{
		{"technology columns", []string{"Language", "Database", "Platform", "Webframe"}},
		{"demographic columns", []string{"Country", "Age", "Ed", "Gender", "Employment", "YearsCode"}},
	}

	for _, sec := range sections {
		cols := surveyetl.MatchColumns(src, sec.patterns...)
		fmt.Printf("\n%s: %d\n", sec.title, len(cols))
		for _, p := range surveyetl.Profile(src, cols) {
			fmt.Printf("  %s: filled %d (%.1f%%), missing %d, unique %d\n", p.Column, p.Filled, p.FillRate(), p.Missing, p.Unique)
			if p.Sample != "" {
				fmt.Printf("    sample: %s\n", p.Sample)
			}
			for _, t := range p.Top {
				fmt.Printf("    %6d  %s\n", t.Count, t.Technology)
			}
		}
	}

	if d := src.KeyDefects(); len(d) > 0 {
		fmt.Printf("\nrows with unusable %s: %d\n", src.KeyColumn(), len(d))
	}

	return nil
}

func (c *command) check(ctx context.Context) error {
	w, err := c.warehouse(ctx)
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Ping(ctx); err != nil {
		return err
	}
	c.logger.Info().Msg("connection successful")

	md, err := w.CheckDataset(ctx)
	if err != nil {
		return xerrors.Errorf("dataset check (run create-dataset): %w", err)
	}
	c.logger.Info().Str("dataset", w.ID()).Str("location", md.Location).Time("created", md.CreationTime).Msg("dataset exists")

	return nil
}

func (c *command) createDataset(ctx context.Context) error {
	w, err := c.warehouse(ctx)
	if err != nil {
		return err
	}
	defer w.Close()

	created, err := w.CreateDataset(ctx)
	if err != nil {
		return err
	}

	if created {
		c.logger.Info().Str("dataset", w.ID()).Str("location", c.cfg.BigQuery.Location).Msg("dataset created")
	} else {
		c.logger.Info().Str("dataset", w.ID()).Msg("dataset already exists")
	}

	return nil
}
