// Package export renders the event log as a portable document and writes it
// to a file, stdout or an S3-compatible bucket.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/marcus/ct/internal/models"
	"gopkg.in/yaml.v3"
)

// Readme is embedded in every export so the file explains itself.
const Readme = "All dates are in ISO 8601 format (YYYY-MM-DDTHH:mm:ss.sssZ)"

const isoMillis = "2006-01-02T15:04:05.000Z"

// Format selects the document encoding
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts json, yaml or yml.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown export format %q (want json or yaml)", s)
}

// Record is one event in export form.
type Record struct {
	ID        string  `json:"id" yaml:"id"`
	StartTime string  `json:"startTime" yaml:"startTime"`
	EndTime   *string `json:"endTime" yaml:"endTime"`
	Duration  *int64  `json:"duration" yaml:"duration"`
	Intensity *int    `json:"intensity" yaml:"intensity"`
	Notes     string  `json:"notes" yaml:"notes"`
	CreatedAt string  `json:"createdAt" yaml:"createdAt"`
	Archived  bool    `json:"archived" yaml:"archived"`
}

// Document is the exported file.
type Document struct {
	Readme           string   `json:"_readme" yaml:"_readme"`
	ExportDate       string   `json:"exportDate" yaml:"exportDate"`
	UserID           string   `json:"userId,omitempty" yaml:"userId,omitempty"`
	ContractionCount int      `json:"contractionCount" yaml:"contractionCount"`
	Contractions     []Record `json:"contractions" yaml:"contractions"`
}

func iso(m models.Millis) string {
	return m.Time().UTC().Format(isoMillis)
}

// Build converts events, in the order given, into a document stamped at now.
func Build(events []models.Event, userID string, now time.Time) Document {
	doc := Document{
		Readme:           Readme,
		ExportDate:       now.UTC().Format(isoMillis),
		UserID:           userID,
		ContractionCount: len(events),
		Contractions:     make([]Record, 0, len(events)),
	}
	for _, e := range events {
		r := Record{
			ID:        e.ID,
			StartTime: iso(e.StartTime),
			Duration:  e.Duration,
			Intensity: e.Intensity,
			Notes:     e.Notes,
			CreatedAt: iso(e.CreatedAt),
			Archived:  e.Archived,
		}
		if e.EndTime != nil {
			end := iso(*e.EndTime)
			r.EndTime = &end
		}
		doc.Contractions = append(doc.Contractions, r)
	}
	return doc
}

// Encode writes doc to w in the given format.
func Encode(w io.Writer, doc Document, format Format) error {
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		return nil
	}
}

// DefaultFilename names an export taken on now's date.
func DefaultFilename(now time.Time, format Format) string {
	return fmt.Sprintf("contractions-export-%s.%s", now.UTC().Format("2006-01-02"), format)
}
