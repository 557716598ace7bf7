/*

Package surveyetl prepares developer survey results for analysis and loads
them into BigQuery.

A run reads one survey table (CSV or XLS, local or on Cloud Storage) and
derives:

	demographics           one row per respondent with validity flags
	<category>_<usage>     one row per (respondent, technology) pair

Derived tables are written to an output directory and then loaded into a
BigQuery dataset, replacing the previous content of each table.

Getting started

	package main

	import (
		"context"
		"os"

		"go.nownabe.dev/surveyetl"
	)

	func main() {
		ctx := context.Background()

		w, err := surveyetl.NewWarehouse(ctx, os.Getenv("GCP_PROJECT_ID"), "tech_survey_data", "US")
		if err != nil {
			panic(err)
		}
		defer w.Close()

		p, err := surveyetl.New(
			surveyetl.WithPrettyLogging(),
			surveyetl.WithWarehouse(w, surveyetl.DefaultMaxBadRecords),
		)
		if err != nil {
			panic(err)
		}

		s, err := p.Run(ctx, &surveyetl.Job{
			Name:      "survey",
			Source:    "data/raw/survey_results.csv",
			OutputDir: "data/processed",
		})
		if err != nil || !s.OK() {
			os.Exit(1)
		}
	}

The dataset must exist before loading. Create it once with
Warehouse.CreateDataset.

*/
package surveyetl
