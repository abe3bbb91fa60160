// Package prediction converts between the classifier's delimited result string
// and ranked predictions.
//
// The wire form is a comma separated list of "confidence-code" entries, for
// example "0.8123-56,0.0912-57". Codes are resolved through a label catalog.
package prediction

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/menta2k/breed-camera/pkg/labels"
	"github.com/menta2k/breed-camera/pkg/types"
)

const (
	entrySep = ","
	fieldSep = "-"
)

// Parse decodes raw into predictions in source order. Malformed entries,
// confidences outside [0,1] and codes the catalog cannot resolve are skipped;
// Parse never fails and returns an empty slice when nothing is usable.
func Parse(raw string, catalog labels.Catalog) []types.Prediction {
	result := make([]types.Prediction, 0)
	if catalog == nil {
		return result
	}

	for _, entry := range strings.Split(raw, entrySep) {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		parts := strings.Split(entry, fieldSep)
		if len(parts) < 2 {
			continue
		}

		confidence, ok := parseConfidence(parts[0])
		if !ok {
			continue
		}

		label, ok := catalog.Resolve(strings.TrimSpace(parts[1]))
		if !ok {
			continue
		}

		result = append(result, types.NewPrediction(label, confidence))
	}

	return result
}

func parseConfidence(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || v < 0 || v > 1 {
		return 0, false
	}
	return v, true
}

// Entry is one scored code ready to be formatted for the wire
type Entry struct {
	Code       string
	Confidence float64
}

// Format renders entries as "confidence-code" pairs. Entries whose code would
// break the framing, or whose confidence is out of range, are left out.
func Format(entries []Entry) string {
	var b strings.Builder
	for _, e := range entries {
		if e.Code == "" || strings.ContainsAny(e.Code, entrySep+fieldSep) {
			continue
		}
		if math.IsNaN(e.Confidence) || e.Confidence < 0 || e.Confidence > 1 {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(entrySep)
		}
		fmt.Fprintf(&b, "%.4f%s%s", e.Confidence, fieldSep, e.Code)
	}
	return b.String()
}

// Top returns at most n valid predictions, keeping their order
func Top(preds []types.Prediction, n int) []types.Prediction {
	out := make([]types.Prediction, 0, n)
	for _, p := range preds {
		if len(out) >= n {
			break
		}
		if p.Valid() {
			out = append(out, p)
		}
	}
	return out
}
