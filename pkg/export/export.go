// Package export converts completed sessions into JSON, CSV or XLSX
// files. Sessions are consumed read-only.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/sw33tLie/wascope/pkg/session"
	"github.com/sw33tLie/wascope/pkg/wadata"
)

// Options selects the output format and result filters.
type Options struct {
	Format         string // json, csv or xlsx
	IncludeDetails bool   // extra profile columns
	IncludeErrors  bool   // keep results that ended in an error
	WhatsAppOnly   bool   // only numbers with an active WhatsApp account
}

// Write renders the session to path in the requested format.
func Write(sess *session.Session, opts Options, path string) error {
	results := filterResults(sess.Results, opts)

	switch opts.Format {
	case "json":
		return writeJSON(sess, results, opts, path)
	case "csv":
		return writeCSV(results, opts, path)
	case "xlsx":
		return writeXLSX(sess, results, opts, path)
	default:
		return fmt.Errorf("unsupported export format: %s", opts.Format)
	}
}

func filterResults(results []wadata.Result, opts Options) []wadata.Result {
	out := make([]wadata.Result, 0, len(results))
	for _, r := range results {
		if opts.WhatsAppOnly && wadata.Classify(r) != wadata.OutcomeActive {
			continue
		}
		if !opts.IncludeErrors && r.Err != "" {
			continue
		}
		out = append(out, r)
	}
	return out
}

type jsonSummary struct {
	ID               string     `json:"id"`
	FileName         string     `json:"fileName,omitempty"`
	Status           string     `json:"status"`
	StartTime        time.Time  `json:"startTime"`
	EndTime          *time.Time `json:"endTime,omitempty"`
	TotalNumbers     int        `json:"totalNumbers"`
	CompletedNumbers int        `json:"completedNumbers"`
	SuccessfulChecks int        `json:"successfulChecks"`
	FailedChecks     int        `json:"failedChecks"`
}

type jsonSlimRow struct {
	Number      string `json:"number"`
	HasWhatsApp bool   `json:"hasWhatsApp"`
	Error       string `json:"error,omitempty"`
}

func writeJSON(sess *session.Session, results []wadata.Result, opts Options, path string) error {
	doc := struct {
		Session jsonSummary `json:"session"`
		Results interface{} `json:"results"`
	}{
		Session: jsonSummary{
			ID:               sess.ID,
			FileName:         sess.FileName,
			Status:           string(sess.Status),
			StartTime:        sess.StartTime,
			EndTime:          sess.EndTime,
			TotalNumbers:     sess.TotalNumbers,
			CompletedNumbers: sess.CompletedNumbers,
			SuccessfulChecks: sess.SuccessfulChecks,
			FailedChecks:     sess.FailedChecks,
		},
	}

	if opts.IncludeDetails {
		doc.Results = results
	} else {
		slim := make([]jsonSlimRow, 0, len(results))
		for _, r := range results {
			slim = append(slim, jsonSlimRow{
				Number:      r.Number,
				HasWhatsApp: wadata.Classify(r) == wadata.OutcomeActive,
				Error:       r.Err,
			})
		}
		doc.Results = slim
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func headerRow(opts Options, xlsx bool) []string {
	headers := []string{"Phone Number", "Has WhatsApp", "Is Business", "Name", "Error"}
	if opts.IncludeDetails {
		headers = append(headers, "About", "Country Code", "Profile Picture")
		if xlsx {
			headers = append(headers, "Verified Level")
		}
	}
	return headers
}

func resultRow(r wadata.Result, opts Options, xlsx bool) []string {
	p := r.Profile
	yesNo := func(b bool) string {
		if b {
			return "Yes"
		}
		return "No"
	}

	row := []string{
		r.Number,
		yesNo(p != nil && p.IsWAContact),
		yesNo(p != nil && p.IsBusiness),
		"",
		r.Err,
	}
	if p != nil {
		row[3] = p.Name
	}
	if opts.IncludeDetails {
		about, cc, pic, verified := "", "", "", ""
		if p != nil {
			about, cc, pic = p.About, p.CountryCode, p.ProfilePic
			if p.VerifiedLevel > 0 {
				verified = strconv.Itoa(p.VerifiedLevel)
			}
		}
		row = append(row, about, cc, pic)
		if xlsx {
			row = append(row, verified)
		}
	}
	return row
}

func writeCSV(results []wadata.Result, opts Options, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(headerRow(opts, false)); err != nil {
		return err
	}
	for _, r := range results {
		if err := w.Write(resultRow(r, opts, false)); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeXLSX(sess *session.Session, results []wadata.Result, opts Options, path string) error {
	f := excelize.NewFile()
	defer f.Close()

	// Summary sheet first.
	if err := f.SetSheetName("Sheet1", "Summary"); err != nil {
		return err
	}
	endTime := "N/A"
	if sess.EndTime != nil {
		endTime = sess.EndTime.Format(time.RFC3339)
	}
	summary := [][]interface{}{
		{"Session Summary"},
		{"Session ID", sess.ID},
		{"File Name", sess.FileName},
		{"Start Time", sess.StartTime.Format(time.RFC3339)},
		{"End Time", endTime},
		{"Total Numbers", sess.TotalNumbers},
		{"Completed Numbers", sess.CompletedNumbers},
		{"Successful Checks", sess.SuccessfulChecks},
		{"Failed Checks", sess.FailedChecks},
		{"Status", string(sess.Status)},
	}
	for i, row := range summary {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow("Summary", cell, &row); err != nil {
			return err
		}
	}

	// Results sheet mirrors the CSV columns.
	if _, err := f.NewSheet("Results"); err != nil {
		return err
	}
	header := headerRow(opts, true)
	headerCells := make([]interface{}, len(header))
	for i, h := range header {
		headerCells[i] = h
	}
	if err := f.SetSheetRow("Results", "A1", &headerCells); err != nil {
		return err
	}
	for i, r := range results {
		row := resultRow(r, opts, true)
		cells := make([]interface{}, len(row))
		for j, v := range row {
			cells[j] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow("Results", cell, &cells); err != nil {
			return err
		}
	}

	return f.SaveAs(path)
}
