// Package render writes reports as documents and plots.
package render

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vk/labgrid/internal/report"
)

// Document formats.
const (
	FormatMarkdown = "md"
	FormatHTML     = "html"
	FormatText     = "txt"
	FormatJSON     = "json"
)

// DefaultFormats are written when the configuration names none.
var DefaultFormats = []string{FormatMarkdown, FormatHTML, FormatJSON}

// DefaultPlotFormat is used for scatter series without a format.
const DefaultPlotFormat = "png"

// BaseName is the file name, without extension, of every report document.
const BaseName = "report"

// Write renders r into dir: first the scatter plots, then one document per
// format. A plot that cannot be drawn is skipped and added to r.Warnings so
// the documents mention it. The written paths are returned.
func Write(dir string, r *report.Report, formats []string) ([]string, error) {
	if len(formats) == 0 {
		formats = DefaultFormats
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	var written []string
	var plotted []report.Series
	for _, s := range r.Scatter {
		path := filepath.Join(dir, PlotFile(s))
		if err := Plot(path, s); err != nil {
			r.Warnings = append(r.Warnings, fmt.Sprintf("scatter %s %s vs %s: %v", s.Attribute, s.X, s.Y, err))
			continue
		}
		plotted = append(plotted, s)
		written = append(written, path)
	}
	r.Scatter = plotted

	var errs []error
	for _, format := range formats {
		data, err := Document(r, format)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		path := filepath.Join(dir, BaseName+"."+format)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			errs = append(errs, err)
			continue
		}
		written = append(written, path)
	}
	return written, errors.Join(errs...)
}

// Document renders r in one of the document formats.
func Document(r *report.Report, format string) ([]byte, error) {
	switch format {
	case FormatMarkdown:
		return Markdown(r), nil
	case FormatHTML:
		return HTML(r), nil
	case FormatText:
		var b strings.Builder
		Text(&b, r)
		return []byte(b.String()), nil
	case FormatJSON:
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	}
	return nil, fmt.Errorf("unknown report format %q", format)
}

// PlotFile names the plot file of s.
func PlotFile(s report.Series) string {
	format := s.Format
	if format == "" {
		format = DefaultPlotFormat
	}
	return "scatter-" + safeName(s.Attribute) + "-" + safeName(s.X) + "-" + safeName(s.Y) + "." + format
}

func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, s)
}
