package gamedb

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

// ErrNoSuchObject is returned when a reference does not name a live object.
var ErrNoSuchObject = errors.New("no such object")

// ErrBadLockType is returned for a lock type with no storage attribute.
var ErrBadLockType = errors.New("unknown lock type")

// MaxParentDepth bounds attribute inheritance walks.
const MaxParentDepth = 10

// Store is the object store consumed by the evaluator, the lock compiler
// and the command engine. Implementations must be safe for concurrent use.
// Any error other than ErrNoSuchObject or ErrBadLockType (possibly wrapped)
// signals infrastructure trouble.
type Store interface {
	// Object returns a snapshot of ref.
	Object(ctx context.Context, ref DBRef) (*Object, error)
	// Match resolves a name as seen by looker: "me", "here", "#n",
	// "*player", or the name of something nearby. It returns Nothing
	// or Ambiguous when the name does not resolve to one object.
	Match(ctx context.Context, looker DBRef, name string) (DBRef, error)
	// Attr reads an attribute, walking the parent chain.
	Attr(ctx context.Context, obj DBRef, path string) (string, bool, error)
	// SetAttr writes an attribute; an empty value clears it.
	SetAttr(ctx context.Context, obj DBRef, path, value string) error
	Lock(ctx context.Context, obj DBRef, lockType string) (string, error)
	SetLock(ctx context.Context, obj DBRef, lockType, lockString string) error
	Contents(ctx context.Context, obj DBRef) ([]DBRef, error)
	OnChannel(ctx context.Context, channel string, obj DBRef) (bool, error)
	SetFlag(ctx context.Context, obj DBRef, name string, on bool) error
}

// LockAttr returns the attribute holding locks of the given type.
func LockAttr(lockType string) (string, error) {
	t := strings.ToUpper(strings.TrimSpace(lockType))
	if t == "" {
		t = "BASIC"
	}
	if attr, ok := LockAttrs[t]; ok {
		return attr, nil
	}
	return "", errors.Wrapf(ErrBadLockType, "lock type %q", lockType)
}

// IsLockAttr reports whether the normalized attribute name stores a lock.
func IsLockAttr(attr string) bool {
	for _, la := range LockAttrs {
		if la == attr {
			return true
		}
	}
	return false
}

// NormalizeAttr canonicalizes an attribute path: upper case, no
// surrounding spaces, no empty path segments.
func NormalizeAttr(path string) string {
	path = strings.ToUpper(strings.TrimSpace(path))
	if !strings.Contains(path, ".") {
		return path
	}
	parts := strings.Split(path, ".")
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ".")
}

// ParseRef parses "#n" into a DBRef.
func ParseRef(s string) (DBRef, bool) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '#' {
		return Nothing, false
	}
	n := 0
	neg := false
	body := s[1:]
	if body[0] == '-' {
		neg = true
		body = body[1:]
	}
	if body == "" {
		return Nothing, false
	}
	for _, c := range body {
		if c < '0' || c > '9' {
			return Nothing, false
		}
		n = n*10 + int(c-'0')
		if n > 1<<30 {
			return Nothing, false
		}
	}
	if neg {
		n = -n
	}
	return DBRef(n), true
}

// IsNotFound reports whether err means a missing object or lock type
// rather than a store failure.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNoSuchObject) || errors.Is(err, ErrBadLockType)
}
