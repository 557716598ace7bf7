package surveyetl

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"path"
	"strings"

	"github.com/extrame/xls"
	"gitlab.com/osaki-lab/iowrapper"
	"golang.org/x/xerrors"
)

var errXLSNoSheet = errors.New("no sheet found")

// Parser parses a source file into records, header first.
type Parser func(context.Context, io.Reader) ([][]string, error)

// CSVParser provides a parser for delimited text files with a header row.
// Rows may have fewer fields than the header.
func CSVParser() Parser {
	return func(_ context.Context, r io.Reader) ([][]string, error) {
		cr := csv.NewReader(r)
		cr.FieldsPerRecord = -1
		cr.LazyQuotes = true

		records, err := cr.ReadAll()
		if err != nil {
			return nil, xerrors.Errorf("failed to read csv: %w", err)
		}

		return records, nil
	}
}

// XLSParser provides a parser for the first sheet of an Excel 97 workbook.
// The first non-empty row is the header.
func XLSParser() Parser {
	getRow := func(sheet *xls.WorkSheet, row int) (r *xls.Row, ok bool) {
		defer func() { recover() }()

		return sheet.Row(row), true
	}

	return func(_ context.Context, r io.Reader) ([][]string, error) {
		wb, err := xls.OpenReader(iowrapper.NewSeeker(r), "utf-8")
		if err != nil {
			return nil, xerrors.Errorf("failed to open xls file: %w", err)
		}

		sheet := wb.GetSheet(0)
		if sheet == nil {
			return nil, errXLSNoSheet
		}

		records := [][]string{}
		width := 0

		for i := 0; i <= int(sheet.MaxRow); i++ {
			row, ok := getRow(sheet, i)
			if !ok || row == nil {
				continue
			}

			if len(records) == 0 {
				width = row.LastCol()
			}

			record := make([]string, 0, width)
			for colNum := 0; colNum < row.LastCol() && colNum < width; colNum++ {
				record = append(record, row.Col(colNum))
			}

			if len(records) == 0 && strings.Join(record, "") == "" {
				continue
			}

			records = append(records, record)
		}

		return records, nil
	}
}

// ParserFor chooses a parser by file extension. CSV is the default.
func ParserFor(name string) Parser {
	if isXLS(name) {
		return XLSParser()
	}
	return CSVParser()
}

func isXLS(name string) bool {
	return strings.EqualFold(path.Ext(name), ".xls")
}
