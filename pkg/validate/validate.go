// Package validate lints a world before it is served: softcode escaping
// that will not evaluate the way its author meant, locks that do not
// compile, and references to objects that do not exist. Some findings
// carry a fix that rewrites the attribute through a gamedb.Store.
package validate

import (
	"context"
	"fmt"
	"sort"

	"github.com/crystal-mush/mushcode/pkg/eval"
	"github.com/crystal-mush/mushcode/pkg/gamedb"
)

// Category classifies the type of finding.
type Category int

const (
	CatDoubleEscape   Category = iota // \\[text\\] and \{text} escaping
	CatPercent                        // Backslash-percent issues
	CatUnbalanced                     // Unpaired brackets or braces
	CatLock                           // Lock attribute that does not compile
	CatIntegrityError                 // Broken references
	CatIntegrityWarn                  // Suspicious references
)

func (c Category) String() string {
	switch c {
	case CatDoubleEscape:
		return "double-escape"
	case CatPercent:
		return "percent"
	case CatUnbalanced:
		return "unbalanced"
	case CatLock:
		return "lock"
	case CatIntegrityError:
		return "integrity-error"
	case CatIntegrityWarn:
		return "integrity-warning"
	default:
		return "unknown"
	}
}

// Severity indicates how serious a finding is.
type Severity int

const (
	SevError   Severity = iota // Must be fixed for correct behavior
	SevWarning                 // Should be reviewed
	SevInfo                    // Informational only
)

func (s Severity) String() string {
	switch s {
	case SevError:
		return "error"
	case SevWarning:
		return "warning"
	case SevInfo:
		return "info"
	default:
		return "unknown"
	}
}

// Finding represents a single validation issue detected in the database.
type Finding struct {
	ID          string       `json:"id"`
	Category    Category     `json:"category"`
	Severity    Severity     `json:"severity"`
	ObjectRef   gamedb.DBRef `json:"object_ref"`
	Attr        string       `json:"attr,omitempty"`
	OwnerRef    gamedb.DBRef `json:"owner_ref"`
	Description string       `json:"description"`
	Current     string       `json:"current,omitempty"`
	Proposed    string       `json:"proposed,omitempty"`
	Fixable     bool         `json:"fixable"`
	Fixed       bool         `json:"fixed"`

	fix func(string) string
}

// Checker is the interface that each validation check implements. Objects
// arrive sorted by dbref.
type Checker interface {
	Name() string
	Check(objs []*gamedb.Object) []Finding
}

// Validator orchestrates running all checkers against a database.
type Validator struct {
	checkers []Checker
	db       *gamedb.Database
	findings []Finding
}

// New creates a Validator with all built-in checkers registered. Escape
// checks only look inside calls to functions funcs knows; a nil funcs
// treats every name as a function.
func New(db *gamedb.Database, funcs *eval.Registry) *Validator {
	known := func(string) bool { return true }
	if funcs != nil {
		known = func(name string) bool {
			if _, ok := funcs.Lookup(name); ok {
				return true
			}
			_, ok := funcs.LookupUser(name)
			return ok
		}
	}
	return &Validator{
		db: db,
		checkers: []Checker{
			&DoubleEscapeChecker{Known: known},
			&PercentChecker{},
			&BalanceChecker{},
			&LockChecker{},
			&IntegrityChecker{},
		},
	}
}

// Run executes all checkers and returns findings sorted by dbref then
// attribute name.
func (v *Validator) Run() []Finding {
	objs, _ := v.db.Snapshot()
	v.findings = nil
	for _, c := range v.checkers {
		for _, f := range c.Check(objs) {
			f.ID = fmt.Sprintf("%s-%d", c.Name(), len(v.findings))
			v.findings = append(v.findings, f)
		}
	}
	sort.SliceStable(v.findings, func(i, j int) bool {
		if v.findings[i].ObjectRef != v.findings[j].ObjectRef {
			return v.findings[i].ObjectRef < v.findings[j].ObjectRef
		}
		return v.findings[i].Attr < v.findings[j].Attr
	})
	return v.findings
}

// Findings returns the current findings (after Run has been called).
func (v *Validator) Findings() []Finding {
	return v.findings
}

// ApplyFix writes the proposed value of one finding through store.
func (v *Validator) ApplyFix(ctx context.Context, store gamedb.Store, id string) error {
	for i := range v.findings {
		f := &v.findings[i]
		if f.ID != id {
			continue
		}
		if !f.Fixable {
			return fmt.Errorf("finding %s is not fixable", id)
		}
		if f.Fixed {
			return fmt.Errorf("finding %s is already fixed", id)
		}
		return v.apply(ctx, store, f)
	}
	return fmt.Errorf("finding %s not found", id)
}

// ApplyAll applies all fixable findings in the given category. Returns
// count of fixes applied.
func (v *Validator) ApplyAll(ctx context.Context, store gamedb.Store, cat Category) (int, error) {
	count := 0
	for i := range v.findings {
		f := &v.findings[i]
		if f.Category != cat || !f.Fixable || f.Fixed {
			continue
		}
		if err := v.apply(ctx, store, f); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// apply rewrites the attribute as it stands now, so several fixes to one
// attribute compose.
func (v *Validator) apply(ctx context.Context, store gamedb.Store, f *Finding) error {
	cur, _, err := store.Attr(ctx, f.ObjectRef, f.Attr)
	if err != nil {
		return fmt.Errorf("fix %s: %w", f.ID, err)
	}
	if err := store.SetAttr(ctx, f.ObjectRef, f.Attr, f.fix(cur)); err != nil {
		return fmt.Errorf("fix %s: %w", f.ID, err)
	}
	f.Fixed = true
	return nil
}

// Summary returns counts of findings per category.
func (v *Validator) Summary() map[Category]int {
	m := make(map[Category]int)
	for _, f := range v.findings {
		m[f.Category]++
	}
	return m
}

// attrs yields the non-empty softcode attributes of o in name order. Lock
// attributes hold lock keys, not softcode, and are skipped.
func attrs(o *gamedb.Object, fn func(name, text string)) {
	locks := make(map[string]bool, len(gamedb.LockAttrs))
	for _, a := range gamedb.LockAttrs {
		locks[a] = true
	}
	for _, name := range o.AttrNames() {
		if text := o.Attrs[name]; text != "" && !locks[name] {
			fn(name, text)
		}
	}
}

// truncate returns at most max characters of s, adding "..." if truncated.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

// fixable builds a warning finding whose fix rewrites the attribute.
func fixable(cat Category, o *gamedb.Object, attr, text string, fix func(string) string, desc string) Finding {
	proposed := fix(text)
	return Finding{
		Category:    cat,
		Severity:    SevWarning,
		ObjectRef:   o.DBRef,
		Attr:        attr,
		OwnerRef:    o.Owner,
		Description: desc,
		Current:     truncate(text, 200),
		Proposed:    truncate(proposed, 200),
		Fixable:     true,
		fix:         fix,
	}
}
