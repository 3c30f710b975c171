package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

type Record struct {
	Title string
	Link  string
}

const utf8BOM = "\uFEFF"

// ReadRecords parses an article CSV. The header row must contain Title and Link
// columns, matched case-insensitively. Other columns are ignored.
func ReadRecords(r io.Reader) ([]Record, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("csv is empty")
		}
		return nil, fmt.Errorf("error reading csv header: %w", err)
	}

	titleCol, linkCol := -1, -1
	for i, name := range header {
		if i == 0 {
			name = strings.TrimPrefix(name, utf8BOM)
		}
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "title":
			titleCol = i
		case "link":
			linkCol = i
		}
	}
	if titleCol < 0 || linkCol < 0 {
		return nil, fmt.Errorf("csv header must contain Title and Link columns, found %v", header)
	}

	var records []Record
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading csv row: %w", err)
		}

		if isEmptyRow(row) {
			continue
		}

		records = append(records, Record{
			Title: strings.TrimSpace(field(row, titleCol)),
			Link:  strings.TrimSpace(field(row, linkCol)),
		})
	}

	return records, nil
}

func field(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
