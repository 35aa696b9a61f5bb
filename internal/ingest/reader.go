// Package ingest reads upload files row by row and maps them onto the typed
// fund-feed and bank-feed records. Files are streamed, never fully
// materialised; a malformed row yields a row-scoped error and parsing
// continues with the next row.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// rowSource yields raw rows from an upload file. Next returns io.EOF when
// the file is exhausted.
type rowSource interface {
	Next() ([]string, error)
	Close() error
}

// openSource picks a reader by file extension. CSV is the default; .xlsx
// goes through the streaming sheet iterator.
func openSource(path string) (rowSource, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return openExcelSource(path)
	default:
		return openCSVSource(path)
	}
}

type csvSource struct {
	file   *os.File
	reader *csv.Reader
}

func openCSVSource(path string) (*csvSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open upload file: %w", err)
	}
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.LazyQuotes = true
	return &csvSource{file: f, reader: r}, nil
}

func (s *csvSource) Next() ([]string, error) {
	record, err := s.reader.Read()
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *csvSource) Close() error { return s.file.Close() }

type excelSource struct {
	file *excelize.File
	rows *excelize.Rows
}

func openExcelSource(path string) (*excelSource, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		f.Close()
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.Rows(sheets[0])
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to iterate sheet %q: %w", sheets[0], err)
	}
	return &excelSource{file: f, rows: rows}, nil
}

func (s *excelSource) Next() ([]string, error) {
	if !s.rows.Next() {
		if err := s.rows.Error(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	cols, err := s.rows.Columns()
	if err != nil {
		return nil, err
	}
	return cols, nil
}

func (s *excelSource) Close() error {
	s.rows.Close()
	return s.file.Close()
}

// isBlankRow reports whether every cell is empty after trimming. Excel
// exports routinely carry trailing blank rows.
func isBlankRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func cellAt(cells []string, idx int) string {
	if idx < 0 || idx >= len(cells) {
		return ""
	}
	return strings.TrimSpace(cells[idx])
}
