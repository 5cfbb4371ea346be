package layerforge

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const rarityTolerance = 1e-9

// Rarity is the normalized probability of one trait value.
type Rarity struct {
	Value       string
	Probability float64
}

type categoryRarity struct {
	name   string
	values []Rarity
}

// RarityTable holds one probability distribution per category. It is
// immutable once built and safe for concurrent use.
type RarityTable struct {
	categories []categoryRarity
	index      map[string]int
}

// BuildRarityTable normalizes configured weights into per-category
// distributions. Values without a weight (nil or 0) split the mass left
// over by the weighted ones equally.
//
// A category whose weights reach 1 while unweighted values remain, or
// exceed 1, fails with ErrRarityOverflow. A fully weighted category that
// sums below 1 is scaled up proportionally. logger may be nil.
func BuildRarityTable(categories []Category, logger *slog.Logger) (*RarityTable, error) {
	if logger == nil {
		logger = discardLogger
	}
	t := &RarityTable{
		categories: make([]categoryRarity, 0, len(categories)),
		index:      make(map[string]int, len(categories)),
	}
	for _, c := range categories {
		if len(c.Values) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrEmptyCategory, c.Name)
		}
		probs := make([]float64, len(c.Values))
		assigned := make([]float64, 0, len(c.Values))
		unassigned := 0
		for i, v := range c.Values {
			if v.Weight == nil || *v.Weight == 0 {
				unassigned++
				continue
			}
			probs[i] = *v.Weight
			assigned = append(assigned, *v.Weight)
		}
		assignedSum := floats.Sum(assigned)

		switch {
		case assignedSum > 1+rarityTolerance:
			return nil, fmt.Errorf("%w: category %s sums to %g", ErrRarityOverflow, c.Name, assignedSum)
		case unassigned > 0 && assignedSum >= 1-rarityTolerance:
			return nil, fmt.Errorf("%w: category %s assigns %g leaving nothing for %d unweighted values",
				ErrRarityOverflow, c.Name, assignedSum, unassigned)
		case unassigned > 0:
			share := (1 - assignedSum) / float64(unassigned)
			for i, v := range c.Values {
				if v.Weight == nil || *v.Weight == 0 {
					probs[i] = share
				}
			}
		case math.Abs(assignedSum-1) > rarityTolerance:
			logger.Warn("rarity weights rescaled to sum to 1",
				slog.String("category", c.Name), slog.Float64("sum", assignedSum))
			floats.Scale(1/assignedSum, probs)
		}

		cr := categoryRarity{name: c.Name, values: make([]Rarity, len(c.Values))}
		for i, v := range c.Values {
			cr.values[i] = Rarity{Value: v.Name, Probability: probs[i]}
		}
		t.index[c.Name] = len(t.categories)
		t.categories = append(t.categories, cr)
	}
	return t, nil
}

// Categories returns category names in sampling order.
func (t *RarityTable) Categories() []string {
	out := make([]string, len(t.categories))
	for i, c := range t.categories {
		out[i] = c.name
	}
	return out
}

// Distribution returns a copy of the category's distribution in sampling
// order, or nil for an unknown category.
func (t *RarityTable) Distribution(category string) []Rarity {
	i, ok := t.index[category]
	if !ok {
		return nil
	}
	out := make([]Rarity, len(t.categories[i].values))
	copy(out, t.categories[i].values)
	return out
}

func (t *RarityTable) Probability(category, value string) (float64, bool) {
	for _, r := range t.Distribution(category) {
		if r.Value == value {
			return r.Probability, true
		}
	}
	return 0, false
}

// Entropy is the Shannon entropy of a category's distribution in nats.
func (t *RarityTable) Entropy(category string) float64 {
	dist := t.Distribution(category)
	p := make([]float64, len(dist))
	for i, r := range dist {
		p[i] = r.Probability
	}
	return stat.Entropy(p)
}

// WriteCSV writes the potential distribution of the collection, one row
// per trait value.
func (t *RarityTable) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"category", "value", "probability", "category_entropy"}); err != nil {
		return err
	}
	for _, c := range t.categories {
		entropy := strconv.FormatFloat(t.Entropy(c.name), 'f', 6, 64)
		for _, r := range c.values {
			row := []string{c.name, r.Value, strconv.FormatFloat(r.Probability, 'f', 6, 64), entropy}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}
