// Package ingest extracts candidate phone numbers from user-supplied
// files and text, then runs them through validation and deduplication.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/sw33tLie/wascope/pkg/phone"
)

// FileResult summarizes one parsed input source.
type FileResult struct {
	FileName string
	Records  []phone.Record
	Valid    int
	Invalid  int
}

// ParseFile reads phone-number candidates from a .txt, .csv or
// .xlsx/.xls file. Any cell or line that looks like a phone number is a
// candidate; everything else is silently skipped.
func ParseFile(path string) (*FileResult, error) {
	var (
		raw []string
		err error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".txt":
		raw, err = parseTextFile(path)
	case ".csv":
		raw, err = parseCSVFile(path)
	case ".xlsx", ".xls":
		raw, err = parseExcelFile(path)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return buildResult(filepath.Base(path), raw), nil
}

// ParseText extracts candidates from inline text, one per line.
func ParseText(input string) (*FileResult, error) {
	var raw []string
	for _, line := range strings.Split(input, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line != "" && phone.LooksLikeNumber(line) {
			raw = append(raw, line)
		}
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("no phone number candidates found in input")
	}
	return buildResult("text-input", raw), nil
}

func buildResult(name string, raw []string) *FileResult {
	records := make([]phone.Record, 0, len(raw))
	for _, r := range raw {
		records = append(records, phone.Normalize(r))
	}
	records = phone.Dedup(records)

	res := &FileResult{FileName: name, Records: records}
	for _, r := range records {
		if r.Valid {
			res.Valid++
		} else {
			res.Invalid++
		}
	}
	return res
}

func parseTextFile(path string) ([]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line != "" && phone.LooksLikeNumber(line) {
			out = append(out, line)
		}
	}
	return out, nil
}

func parseCSVFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	var out []string
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		// Numbers may live in any column.
		for _, cell := range row {
			cell = strings.TrimSpace(cell)
			if cell != "" && phone.LooksLikeNumber(cell) {
				out = append(out, cell)
			}
		}
	}
	return out, nil
}

func parseExcelFile(path string) ([]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			for _, cell := range row {
				cell = strings.TrimSpace(cell)
				if cell != "" && phone.LooksLikeNumber(cell) {
					out = append(out, cell)
				}
			}
		}
	}
	return out, nil
}
