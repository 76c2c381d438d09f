package gamedb

import (
	"sort"
	"strings"
)

// DBRef is the fundamental object reference type in MUSH.
type DBRef int

const (
	Nothing   DBRef = -1
	Ambiguous DBRef = -2
	Home      DBRef = -3
	NoPerm    DBRef = -4
)

// ObjectType represents the type of a MUSH object.
type ObjectType int

const (
	TypeRoom    ObjectType = 0
	TypeThing   ObjectType = 1
	TypeExit    ObjectType = 2
	TypePlayer  ObjectType = 3
	TypeGarbage ObjectType = 5
)

func (t ObjectType) String() string {
	switch t {
	case TypeRoom:
		return "ROOM"
	case TypeThing:
		return "THING"
	case TypeExit:
		return "EXIT"
	case TypePlayer:
		return "PLAYER"
	case TypeGarbage:
		return "GARBAGE"
	default:
		return "UNKNOWN"
	}
}

// ParseType maps a type name (case-insensitive) to an ObjectType.
func ParseType(name string) (ObjectType, bool) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "ROOM":
		return TypeRoom, true
	case "THING", "OBJECT":
		return TypeThing, true
	case "EXIT":
		return TypeExit, true
	case "PLAYER":
		return TypePlayer, true
	case "GARBAGE":
		return TypeGarbage, true
	}
	return 0, false
}

// Object is a snapshot of a game object. Attribute names are upper-case.
type Object struct {
	DBRef    DBRef
	Name     string
	Type     ObjectType
	Location DBRef
	Owner    DBRef
	Parent   DBRef
	Zone     DBRef
	Flags    [3]int
	Powers   [2]int
	Attrs    map[string]string
}

// Clone returns a deep copy so callers can hold a snapshot without racing
// the store.
func (o *Object) Clone() *Object {
	cp := *o
	if o.Attrs != nil {
		cp.Attrs = make(map[string]string, len(o.Attrs))
		for k, v := range o.Attrs {
			cp.Attrs[k] = v
		}
	}
	return &cp
}

// HasFlag reports whether the named flag is set.
func (o *Object) HasFlag(name string) bool {
	def, ok := FlagTable[strings.ToUpper(name)]
	if !ok {
		return false
	}
	return o.Flags[def.Word]&def.Bit != 0
}

// HasPower reports whether the named power is set.
func (o *Object) HasPower(name string) bool {
	def, ok := PowerTable[strings.ToUpper(name)]
	if !ok {
		return false
	}
	return o.Powers[def.Word]&def.Bit != 0
}

// IsWizard reports the WIZARD flag.
func (o *Object) IsWizard() bool {
	return o.Flags[0]&FlagWizard != 0
}

// IsGoing returns true if the object is marked for destruction.
func (o *Object) IsGoing() bool {
	return o.Flags[0]&FlagGoing != 0
}

// FlagNames lists the set flags in table order.
func (o *Object) FlagNames() []string {
	var out []string
	for _, def := range flagOrder {
		if o.Flags[def.Word]&def.Bit != 0 {
			out = append(out, def.Name)
		}
	}
	return out
}

// AttrNames lists the attribute names on the object itself, sorted.
func (o *Object) AttrNames() []string {
	names := make([]string, 0, len(o.Attrs))
	for k := range o.Attrs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// MatchesName reports whether name equals the object's name or, for exits,
// one of its ';'-separated aliases.
func (o *Object) MatchesName(name string) bool {
	for _, alias := range strings.Split(o.Name, ";") {
		if strings.EqualFold(strings.TrimSpace(alias), name) {
			return true
		}
	}
	return false
}

// DisplayName returns the name with exit aliases removed.
func (o *Object) DisplayName() string {
	if i := strings.IndexByte(o.Name, ';'); i >= 0 {
		return o.Name[:i]
	}
	return o.Name
}

// Channel is a comsys channel and its member set.
type Channel struct {
	Name        string
	Owner       DBRef
	Description string
	Members     map[DBRef]bool
}
