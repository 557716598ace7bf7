// Command surveyetl prepares survey results and loads them into BigQuery.
//
// Usage:
//
//	surveyetl [-env .env] [-config surveyetl.yaml] <command>
//
// Commands:
//
//	analyze         profile technology and demographic columns of the source
//	prepare         write derived tables and the report to the output directory
//	load            load prepared tables into the dataset
//	run             prepare and load
//	check           verify credentials, connectivity and the dataset
//	create-dataset  create the dataset if it does not exist
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"go.nownabe.dev/surveyetl"
	"go.nownabe.dev/surveyetl/internal/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	dotenv := flag.String("env", ".env", "dotenv file, ignored when missing")
	path := flag.String("config", "", "YAML config file (default $SURVEY_CONFIG_FILE)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] analyze|prepare|load|run|check|create-dataset\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		return 2
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := config.Load(*dotenv, *path)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load configuration")
		return 1
	}

	if lvl, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
		logger = logger.Level(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx)

	cmd := &command{cfg: cfg, logger: logger}

	switch flag.Arg(0) {
	case "analyze":
		err = cmd.analyze(ctx)
	case "prepare":
		err = cmd.pipeline(ctx, false, true, (*surveyetl.Pipeline).Prepare)
	case "load":
		err = cmd.pipeline(ctx, true, false, (*surveyetl.Pipeline).Load)
	case "run":
		err = cmd.pipeline(ctx, true, true, (*surveyetl.Pipeline).Run)
	case "check":
		err = cmd.check(ctx)
	case "create-dataset":
		err = cmd.createDataset(ctx)
	default:
		flag.Usage()
		return 2
	}

	if err != nil {
		if !errors.Is(err, errFailedTables) {
			logger.Error().Err(err).Msg(flag.Arg(0) + " failed")
		}
		return 1
	}

	return 0
}
