package layerforge

import (
	"fmt"
	"math/rand/v2"
)

// Rand is a source of uniform numbers in [0,1).
type Rand interface {
	Float64() float64
}

// TokenRand returns the random stream for one token. Streams are keyed by
// (seed, id) so a token samples the same traits no matter which other
// tokens are generated, in what order, or on how many workers.
func TokenRand(seed uint64, id int) *rand.Rand {
	return rand.New(rand.NewPCG(seed, uint64(id)))
}

// Trait is the value chosen for one category of a token.
type Trait struct {
	Category    string
	Value       string
	Path        string
	Depth       int
	Probability float64
}

// Selection is the sampled trait set of one token.
type Selection struct {
	TokenID int
	// One entry per category, in sampling order.
	Traits []Trait
	// Compositing depth to category. Depths are unique within a token.
	Depths map[int]string
}

// Layers returns the traits bottom layer first.
func (s Selection) Layers() []Trait {
	byCategory := make(map[string]Trait, len(s.Traits))
	for _, t := range s.Traits {
		byCategory[t.Category] = t
	}
	depths := sortedKeys(s.Depths)
	out := make([]Trait, 0, len(depths))
	for _, d := range depths {
		out = append(out, byCategory[s.Depths[d]])
	}
	return out
}

func (s Selection) Trait(category string) (Trait, bool) {
	for _, t := range s.Traits {
		if t.Category == category {
			return t, true
		}
	}
	return Trait{}, false
}

// RarityScore is the probability of drawing exactly this combination.
func (s Selection) RarityScore() float64 {
	score := 1.0
	for _, t := range s.Traits {
		score *= t.Probability
	}
	return score
}

// Sampler draws trait combinations from a RarityTable.
type Sampler struct {
	table      *RarityTable
	categories map[string]Category
	values     map[string]map[string]Value
}

// NewSampler pairs a rarity table with the categories it was built from,
// which supply depths and asset paths.
func NewSampler(table *RarityTable, categories []Category) *Sampler {
	s := &Sampler{
		table:      table,
		categories: make(map[string]Category, len(categories)),
		values:     make(map[string]map[string]Value, len(categories)),
	}
	for _, c := range categories {
		s.categories[c.Name] = c
		vals := make(map[string]Value, len(c.Values))
		for _, v := range c.Values {
			vals[v.Name] = v
		}
		s.values[c.Name] = vals
	}
	return s
}

// Sample draws one value per category, one rng draw each in table order,
// and assigns each a unique depth. A depth already taken is probed
// upwards until a free slot is found, so earlier categories win ties.
func (s *Sampler) Sample(id int, rng Rand) (Selection, error) {
	sel := Selection{
		TokenID: id,
		Traits:  make([]Trait, 0, len(s.table.categories)),
		Depths:  make(map[int]string, len(s.table.categories)),
	}
	for _, cr := range s.table.categories {
		r := rng.Float64()
		picked, ok := pick(cr.values, r)
		if !ok {
			return Selection{}, fmt.Errorf("%w: %s", ErrEmptyCategory, cr.name)
		}
		v, ok := s.values[cr.name][picked.Value]
		if !ok {
			return Selection{}, fmt.Errorf("%w: %s/%s", ErrMissingAsset, cr.name, picked.Value)
		}

		depth := 0
		if d := s.categories[cr.name].Depth; d != nil {
			depth = *d
		}
		if v.Depth != nil {
			depth = *v.Depth
		}
		depth, err := probeDepth(sel.Depths, depth, len(s.table.categories))
		if err != nil {
			return Selection{}, fmt.Errorf("category %s: %w", cr.name, err)
		}
		sel.Depths[depth] = cr.name
		sel.Traits = append(sel.Traits, Trait{
			Category:    cr.name,
			Value:       v.Name,
			Path:        v.Path,
			Depth:       depth,
			Probability: picked.Probability,
		})
	}
	return sel, nil
}

// pick walks the cumulative distribution and returns the value whose
// interval [acc, acc+p) holds r. Rounding can leave r past the last
// boundary; the last value with mass is returned then.
func pick(dist []Rarity, r float64) (Rarity, bool) {
	acc := 0.0
	for _, v := range dist {
		if r >= acc && r < acc+v.Probability {
			return v, true
		}
		acc += v.Probability
	}
	for j := len(dist) - 1; j >= 0; j-- {
		if dist[j].Probability > 0 {
			return dist[j], true
		}
	}
	return Rarity{}, false
}

func probeDepth(taken map[int]string, depth, limit int) (int, error) {
	for probes := 0; ; probes++ {
		if _, used := taken[depth]; !used {
			return depth, nil
		}
		if probes >= limit {
			return 0, fmt.Errorf("no free depth after %d probes", probes)
		}
		depth++
	}
}
