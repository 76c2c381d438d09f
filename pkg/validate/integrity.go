package validate

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"github.com/crystal-mush/mushcode/pkg/gamedb"
	"github.com/crystal-mush/mushcode/pkg/lock"
)

// IntegrityChecker performs referential integrity checks on the database.
type IntegrityChecker struct{}

func (c *IntegrityChecker) Name() string { return "integrity" }

func (c *IntegrityChecker) Check(objs []*gamedb.Object) []Finding {
	var findings []Finding
	byRef := make(map[gamedb.DBRef]*gamedb.Object, len(objs))
	for _, o := range objs {
		byRef[o.DBRef] = o
	}
	broken := func(o *gamedb.Object, format string, args ...any) {
		findings = append(findings, Finding{
			Category:    CatIntegrityError,
			Severity:    SevError,
			ObjectRef:   o.DBRef,
			OwnerRef:    o.Owner,
			Description: fmt.Sprintf(format, args...),
		})
	}

	for _, o := range objs {
		if o.IsGoing() {
			continue
		}
		ref := o.DBRef

		if o.Location != gamedb.Nothing && o.Location != gamedb.Home {
			if _, ok := byRef[o.Location]; !ok {
				broken(o, "#%d location #%d does not exist", ref, o.Location)
			}
		}

		// Owner should exist and be a player
		if owner, ok := byRef[o.Owner]; !ok {
			broken(o, "#%d owner #%d does not exist", ref, o.Owner)
		} else if owner.Type != gamedb.TypePlayer {
			findings = append(findings, Finding{
				Category:    CatIntegrityWarn,
				Severity:    SevWarning,
				ObjectRef:   ref,
				OwnerRef:    o.Owner,
				Description: fmt.Sprintf("#%d owner #%d is not a player (type=%s)", ref, o.Owner, owner.Type),
			})
		}

		if o.Parent != gamedb.Nothing {
			if _, ok := byRef[o.Parent]; !ok {
				broken(o, "#%d parent #%d does not exist", ref, o.Parent)
			} else if msg := chain(byRef, o, func(x *gamedb.Object) gamedb.DBRef { return x.Parent }, gamedb.MaxParentDepth); msg != "" {
				broken(o, "#%d parent chain %s", ref, msg)
			}
		}

		if o.Zone != gamedb.Nothing {
			if _, ok := byRef[o.Zone]; !ok {
				broken(o, "#%d zone #%d does not exist", ref, o.Zone)
			}
		}

		if msg := chain(byRef, o, func(x *gamedb.Object) gamedb.DBRef { return x.Location }, 0); msg != "" {
			broken(o, "#%d location chain %s", ref, msg)
		}
	}
	return findings
}

// chain follows next from o and describes a loop, or a walk longer than
// limit when limit is positive. It returns "" for a clean chain.
func chain(byRef map[gamedb.DBRef]*gamedb.Object, o *gamedb.Object, next func(*gamedb.Object) gamedb.DBRef, limit int) string {
	seen := map[gamedb.DBRef]bool{o.DBRef: true}
	cur := next(o)
	for depth := 1; cur != gamedb.Nothing; depth++ {
		if seen[cur] {
			return fmt.Sprintf("has loop at #%d", cur)
		}
		if limit > 0 && depth > limit {
			return fmt.Sprintf("exceeds %d levels", limit)
		}
		seen[cur] = true
		x, ok := byRef[cur]
		if !ok {
			return ""
		}
		cur = next(x)
	}
	return ""
}

// LockChecker compiles every stored lock and reports the ones that fail.
// A lock that does not compile denies everyone.
type LockChecker struct{}

func (c *LockChecker) Name() string { return "lock" }

func (c *LockChecker) Check(objs []*gamedb.Object) []Finding {
	attrs := make(map[string]bool, len(gamedb.LockAttrs))
	for _, a := range gamedb.LockAttrs {
		attrs[a] = true
	}
	names := make([]string, 0, len(attrs))
	for a := range attrs {
		names = append(names, a)
	}
	sort.Strings(names)

	var findings []Finding
	for _, o := range objs {
		if o.IsGoing() {
			continue
		}
		for _, name := range names {
			src := o.Attrs[name]
			if src == "" {
				continue
			}
			_, err := lock.Compile(src)
			if err == nil {
				continue
			}
			desc := err.Error()
			var pe *lock.ParseError
			if errors.As(err, &pe) {
				desc = fmt.Sprintf("%s at position %d", pe.Msg, pe.Pos)
			}
			findings = append(findings, Finding{
				Category:    CatLock,
				Severity:    SevError,
				ObjectRef:   o.DBRef,
				Attr:        name,
				OwnerRef:    o.Owner,
				Description: fmt.Sprintf("%s on #%d does not compile: %s", name, o.DBRef, desc),
				Current:     truncate(src, 200),
			})
		}
	}
	return findings
}
