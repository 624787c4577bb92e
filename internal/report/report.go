// Package report renders attribution reports as JSON or as a text summary.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/haasonsaas/ablate/pkg/models"
)

// WriteJSON writes r as indented JSON. Non-ASCII and HTML characters are
// written as-is.
func WriteJSON(w io.Writer, r *models.AttributionReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}

// WriteFile writes r as JSON to path, replacing any existing file only once
// the new content is complete.
func WriteFile(path string, r *models.AttributionReport) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".report-*.json")
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := WriteJSON(tmp, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("write report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// WriteText writes a human-readable summary: the full-context answer and
// quality followed by one row per source in document order.
func WriteText(w io.Writer, r *models.AttributionReport) error {
	fmt.Fprintf(w, "Run: %s\n", r.RunID)
	fmt.Fprintf(w, "Question: %s\n", r.Question)
	fmt.Fprintf(w, "Full quality: %.3f", r.FullQuality.Combined)
	for _, name := range r.FullQuality.Metrics() {
		fmt.Fprintf(w, " %s=%.3f", name, r.FullQuality.Breakdown[name])
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "\nAnswer:\n%s\n\n", strings.TrimSpace(r.FullAnswer))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	header := "#\tIMPACT\tWITHOUT"
	if len(r.SoloQuality) > 0 {
		header += "\tALONE"
	}
	fmt.Fprintln(tw, header+"\tTITLE\tURL")
	for i, meta := range r.SourcesMeta {
		row := fmt.Sprintf("S%d\t%+.3f\t%s", i+1, r.PerSourceImpact[i], withoutQuality(r, i))
		if len(r.SoloQuality) > 0 {
			row += fmt.Sprintf("\t%.3f", r.SoloQuality[i].Combined)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", row, meta.Title, meta.URL)
	}
	return tw.Flush()
}

func withoutQuality(r *models.AttributionReport, i int) string {
	if i >= len(r.Ablations) {
		return "-"
	}
	return fmt.Sprintf("%.3f", r.Ablations[i].Quality.Combined)
}
