package validate

import (
	"io"

	"github.com/goccy/go-json"
)

// Report is the JSON-serializable validation report written by dbloader.
type Report struct {
	TotalFindings int                    `json:"total_findings"`
	Categories    map[string]CategorySum `json:"categories"`
	Findings      []Finding              `json:"findings"`
}

// CategorySum summarizes findings for a single category.
type CategorySum struct {
	Total   int    `json:"total"`
	Fixable int    `json:"fixable"`
	Fixed   int    `json:"fixed"`
	Label   string `json:"label"`
}

var categoryLabels = map[Category]string{
	CatDoubleEscape:   "Double-Escaped Brackets and Braces",
	CatPercent:        "Backslash-Percent Patterns",
	CatUnbalanced:     "Unbalanced Brackets and Braces",
	CatLock:           "Locks That Do Not Compile",
	CatIntegrityError: "Referential Integrity Errors",
	CatIntegrityWarn:  "Referential Integrity Warnings",
}

// Label returns the human-readable heading for c.
func (c Category) Label() string {
	if l, ok := categoryLabels[c]; ok {
		return l
	}
	return c.String()
}

// GenerateReport builds a Report from the validator's current findings.
func GenerateReport(v *Validator) *Report {
	r := &Report{
		TotalFindings: len(v.findings),
		Categories:    make(map[string]CategorySum),
		Findings:      v.findings,
	}
	for _, f := range v.findings {
		cs, ok := r.Categories[f.Category.String()]
		if !ok {
			cs = CategorySum{Label: f.Category.Label()}
		}
		cs.Total++
		if f.Fixable {
			cs.Fixable++
		}
		if f.Fixed {
			cs.Fixed++
		}
		r.Categories[f.Category.String()] = cs
	}
	return r
}

// WriteJSON writes the report as JSON to the given writer.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
