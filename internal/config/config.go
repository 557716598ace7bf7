// Package config loads the settings of a surveyetl run from a .env file, an
// optional YAML file and the process environment, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is loaded once at start-up and passed down explicitly.
type Config struct {
	Input    InputConfig    `yaml:"input"`
	Output   OutputConfig   `yaml:"output"`
	BigQuery BigQueryConfig `yaml:"bigquery"`
	Log      LogConfig      `yaml:"log"`
	Slack    SlackConfig    `yaml:"slack"`
}

type InputConfig struct {
	// File is a local path or gs://bucket/object.
	File     string `yaml:"file"`
	Encoding string `yaml:"encoding"`
}

type OutputConfig struct {
	Dir string `yaml:"dir"`
}

type BigQueryConfig struct {
	Project         string `yaml:"project"`
	Dataset         string `yaml:"dataset"`
	Location        string `yaml:"location"`
	Credentials     string `yaml:"credentials"`
	MaxBadRecords   int64  `yaml:"max_bad_records"`
	LoadConcurrency int    `yaml:"load_concurrency"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type SlackConfig struct {
	Token   string `yaml:"token"`
	Channel string `yaml:"channel"`
}

// Enabled reports whether Slack notifications are configured.
func (c SlackConfig) Enabled() bool {
	return c.Token != "" && c.Channel != ""
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Input:  InputConfig{File: "data/raw/survey_results.csv", Encoding: "utf-8"},
		Output: OutputConfig{Dir: "data/processed"},
		BigQuery: BigQueryConfig{
			Dataset:         "tech_survey_data",
			Location:        "US",
			MaxBadRecords:   10,
			LoadConcurrency: 1,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads dotenv (missing file is fine), then the YAML file at path when
// path is not empty, then the environment.
func Load(dotenv, path string) (*Config, error) {
	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config load %s: %w", dotenv, err)
		}
	}

	cfg := Default()

	if path == "" {
		path = os.Getenv("SURVEY_CONFIG_FILE")
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config load: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("config load %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*dst = v
		}
	}

	str("SURVEY_INPUT_FILE", &c.Input.File)
	str("SURVEY_SOURCE_ENCODING", &c.Input.Encoding)
	str("SURVEY_OUTPUT_DIR", &c.Output.Dir)
	str("GCP_PROJECT_ID", &c.BigQuery.Project)
	str("BIGQUERY_DATASET", &c.BigQuery.Dataset)
	str("BIGQUERY_LOCATION", &c.BigQuery.Location)
	str("GOOGLE_APPLICATION_CREDENTIALS", &c.BigQuery.Credentials)
	str("LOG_LEVEL", &c.Log.Level)
	str("SLACK_TOKEN", &c.Slack.Token)
	str("SLACK_CHANNEL", &c.Slack.Channel)

	if v := os.Getenv("BIGQUERY_MAX_BAD_RECORDS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid BIGQUERY_MAX_BAD_RECORDS %q: %w", v, err)
		}
		c.BigQuery.MaxBadRecords = n
	}

	if v := os.Getenv("LOAD_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid LOAD_CONCURRENCY %q: %w", v, err)
		}
		c.BigQuery.LoadConcurrency = n
	}

	if v := os.Getenv("LOG_PRETTY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid LOG_PRETTY %q: %w", v, err)
		}
		c.Log.Pretty = b
	}

	return nil
}

// Validate checks settings needed by every command.
func (c *Config) Validate() error {
	var errs []string

	if c.Input.File == "" {
		errs = append(errs, "input file is required")
	}
	if c.Output.Dir == "" {
		errs = append(errs, "output dir is required")
	}
	if c.BigQuery.MaxBadRecords < 0 {
		errs = append(errs, "max bad records must not be negative")
	}
	if c.BigQuery.LoadConcurrency < 1 {
		errs = append(errs, "load concurrency must be positive")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

// ValidateInput checks that a local input file exists.
func (c *Config) ValidateInput() error {
	if strings.HasPrefix(c.Input.File, "gs://") {
		return nil
	}
	if _, err := os.Stat(c.Input.File); err != nil {
		return fmt.Errorf("input file: %w", err)
	}
	return nil
}

// ValidateWarehouse checks settings needed before talking to BigQuery. When a
// credentials file is configured it must exist; it is then exported as
// GOOGLE_APPLICATION_CREDENTIALS for the client libraries.
func (c *Config) ValidateWarehouse() error {
	if c.BigQuery.Project == "" {
		return errors.New("GCP_PROJECT_ID is required")
	}
	if c.BigQuery.Dataset == "" {
		return errors.New("BIGQUERY_DATASET is required")
	}

	if c.BigQuery.Credentials != "" {
		if _, err := os.Stat(c.BigQuery.Credentials); err != nil {
			return fmt.Errorf("credentials file: %w", err)
		}
		if err := os.Setenv("GOOGLE_APPLICATION_CREDENTIALS", c.BigQuery.Credentials); err != nil {
			return fmt.Errorf("credentials: %w", err)
		}
	}

	return nil
}
