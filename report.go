package layerforge

import (
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"strings"
)

// Report summarizes one Generate run.
type Report struct {
	RunID      string
	Collection string
	Seed       uint64
	// Category names in sampling order; one CSV column each.
	Categories []string
	// Successful tokens in ascending id order.
	Tokens   []TokenSummary
	Failures []TokenFailure
}

type TokenSummary struct {
	ID          int
	Name        string
	ImageKey    string
	MetadataKey string
	Traits      []Trait
	RarityScore float64
	// Dominant colours as hex, empty when palette extraction is off.
	Palette []string
}

type TokenFailure struct {
	ID  int
	Err error
}

// Err joins the failures of the run, or returns nil.
func (r *Report) Err() error {
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f.Err
	}
	return errors.Join(errs...)
}

// WriteCSV writes one row per generated token.
func (r *Report) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	header := append([]string{"id", "name", "image", "metadata"}, r.Categories...)
	header = append(header, "rarity_score", "palette")
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, t := range r.Tokens {
		row := []string{strconv.Itoa(t.ID), t.Name, t.ImageKey, t.MetadataKey}
		values := make(map[string]string, len(t.Traits))
		for _, tr := range t.Traits {
			values[tr.Category] = tr.Value
		}
		for _, c := range r.Categories {
			row = append(row, values[c])
		}
		row = append(row, strconv.FormatFloat(t.RarityScore, 'g', 8, 64), strings.Join(t.Palette, " "))
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
