// Package output writes way slope results as JSON or GeoJSON.
package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/paulmach/orb/geojson"

	slope "github.com/twpayne/go-slope"
)

// A Format is an output format.
type Format string

// Formats.
const (
	FormatJSON    Format = "json"
	FormatGeoJSON Format = "geojson"
)

// ParseFormat parses s.
func ParseFormat(s string) (Format, error) {
	switch format := Format(s); format {
	case FormatJSON, FormatGeoJSON:
		return format, nil
	default:
		return "", fmt.Errorf("%s: unknown format", s)
	}
}

// A Document is the JSON output.
type Document struct {
	Features    []*slope.WayResult `json:"features"`
	Diagnostics Diagnostics        `json:"diagnostics"`
}

// Diagnostics is the diagnostics summary and the individual diagnostic
// messages.
type Diagnostics struct {
	slope.DiagnosticsSummary
	Errors []string `json:"errors,omitempty"`
}

func newDiagnostics(d *slope.Diagnostics) Diagnostics {
	diagnostics := Diagnostics{
		DiagnosticsSummary: d.Summary(),
	}
	for _, err := range d.Errors() {
		diagnostics.Errors = append(diagnostics.Errors, err.Error())
	}
	return diagnostics
}

// NewDocument returns the JSON document of result.
func NewDocument(result *slope.Result) *Document {
	features := result.Ways
	if features == nil {
		features = []*slope.WayResult{}
	}
	return &Document{
		Features:    features,
		Diagnostics: newDiagnostics(result.Diagnostics),
	}
}

// NewFeatureCollection returns result as a GeoJSON FeatureCollection with one
// LineString feature per way.
func NewFeatureCollection(result *slope.Result) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, way := range result.Ways {
		feature := geojson.NewFeature(way.Geometry)
		feature.ID = int64(way.ID)
		feature.Properties["tags"] = way.Tags.Map()
		feature.Properties["elevations"] = way.Elevations
		feature.Properties["segments"] = way.Segments
		feature.Properties["aggregate"] = way.Aggregate
		feature.Properties["totals"] = way.Totals
		fc.Append(feature)
	}
	fc.ExtraMembers = geojson.Properties{
		"diagnostics": newDiagnostics(result.Diagnostics),
	}
	return fc
}

// Write writes result to w in format.
func Write(w io.Writer, format Format, result *slope.Result) error {
	var v any
	switch format {
	case FormatJSON:
		v = NewDocument(result)
	case FormatGeoJSON:
		v = NewFeatureCollection(result)
	default:
		return fmt.Errorf("%s: unknown format", format)
	}
	return json.NewEncoder(w).Encode(v)
}

// WriteFile writes result to the file name in format. The file is replaced
// atomically, so name is left untouched if WriteFile fails.
func WriteFile(name string, format Format, result *slope.Result) error {
	file, err := os.CreateTemp(filepath.Dir(name), "."+filepath.Base(name)+".*")
	if err != nil {
		return err
	}
	ok := false
	defer func() {
		if !ok {
			_ = file.Close()
			_ = os.Remove(file.Name())
		}
	}()

	bufferedWriter := bufio.NewWriterSize(file, 1<<16)
	if err := Write(bufferedWriter, format, result); err != nil {
		return err
	}
	if err := bufferedWriter.Flush(); err != nil {
		return err
	}
	if err := file.Chmod(0o644); err != nil {
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	if err := os.Rename(file.Name(), name); err != nil {
		return err
	}
	ok = true
	return nil
}
