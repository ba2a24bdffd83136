// Package aggregate rolls extracted parameter scores up into subcategory
// and country totals using registry weights, and orders countries for
// comparison. Pure arithmetic over already-validated results.
package aggregate

import (
	"sort"

	"go.uber.org/zap"

	"github.com/meridian-group/scorecard-cli/internal/model"
	"github.com/meridian-group/scorecard-cli/internal/params"
)

// ParameterScore is one scored parameter feeding the rollup.
type ParameterScore struct {
	ParameterID string               `json:"parameter_id"`
	Data        *model.ExtractedData `json:"data"`
}

// SubcategoryScore is the weighted rollup of one subcategory.
type SubcategoryScore struct {
	Subcategory string  `json:"subcategory"`
	Score       float64 `json:"score"`
	Weight      float64 `json:"weight"`
	Parameters  int     `json:"parameters"`
}

// Scorecard is the full rollup for one country.
type Scorecard struct {
	Country       string             `json:"country"`
	Total         float64            `json:"total"`
	Confidence    float64            `json:"confidence"`
	Subcategories []SubcategoryScore `json:"subcategories"`
	Missing       []string           `json:"missing,omitempty"`
}

// Build rolls parameter scores up into a country scorecard. Text-valued and
// absent parameters contribute nothing to the total; their weight is
// excluded from the normalization so partial coverage still yields a 0-100
// score. The scorecard confidence is the weight-averaged confidence of the
// parameters that did contribute.
func Build(country string, reg *params.Registry, scores []ParameterScore) Scorecard {
	byID := make(map[string]*model.ExtractedData, len(scores))
	for _, s := range scores {
		if s.Data != nil {
			byID[s.ParameterID] = s.Data
		}
	}

	type bucket struct {
		weighted    float64
		weight      float64
		confWeights float64
		count       int
	}
	buckets := make(map[string]*bucket)
	var order []string
	card := Scorecard{Country: country}

	var totalWeighted, totalWeight, confWeighted float64
	for _, p := range reg.All() {
		data, ok := byID[p.ID]
		if !ok {
			card.Missing = append(card.Missing, p.ID)
			continue
		}
		n, ok := data.Value.Float()
		if !ok {
			// Text parameters inform the report, not the arithmetic.
			continue
		}

		b := buckets[p.Subcategory]
		if b == nil {
			b = &bucket{}
			buckets[p.Subcategory] = b
			order = append(order, p.Subcategory)
		}
		b.weighted += n * p.Weight
		b.weight += p.Weight
		b.confWeights += data.Confidence * p.Weight
		b.count++

		totalWeighted += n * p.Weight
		totalWeight += p.Weight
		confWeighted += data.Confidence * p.Weight
	}

	for _, sub := range order {
		b := buckets[sub]
		card.Subcategories = append(card.Subcategories, SubcategoryScore{
			Subcategory: sub,
			Score:       b.weighted / b.weight,
			Weight:      b.weight,
			Parameters:  b.count,
		})
	}

	if totalWeight > 0 {
		card.Total = totalWeighted / totalWeight
		card.Confidence = confWeighted / totalWeight
	}

	if len(card.Missing) > 0 {
		zap.L().Debug("aggregate: scorecard built with gaps",
			zap.String("country", country),
			zap.Strings("missing", card.Missing),
		)
	}
	return card
}

// Compare orders scorecards best-first: by total score, then confidence,
// then country name for a stable ordering.
func Compare(cards []Scorecard) []Scorecard {
	out := make([]Scorecard, len(cards))
	copy(out, cards)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Country < out[j].Country
	})
	return out
}
