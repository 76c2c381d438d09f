package flatfile

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/crystal-mush/mushcode/pkg/gamedb"
)

// writeFlags is the format Write produces. Locks travel as attribute 42.
const writeFlags = VZone | VLink | VAtrKey | VParent | VXFlags | V3Flags | VPowers | VQuoted

// Write writes db in TinyMUSH 3 flatfile format. Attributes without a
// builtin number are numbered from 256 up and declared with +A lines.
func Write(w io.Writer, db *gamedb.Database) error {
	objs, _ := db.Snapshot()
	wr := &writer{w: w}

	wr.writef("+T%d\n", 1|writeFlags)

	size := 0
	for _, o := range objs {
		if int(o.DBRef) >= size {
			size = int(o.DBRef) + 1
		}
	}
	wr.writef("+S%d\n", size)

	nums, user := assignAttrNums(objs)
	wr.writef("+N%d\n", firstUserAttr+len(user))
	for i, name := range user {
		wr.writef("+A%d\n0:%s\n", firstUserAttr+i, name)
	}

	players := 0
	for _, o := range objs {
		if o.Type == gamedb.TypePlayer && !o.IsGoing() {
			players++
		}
	}
	wr.writef("-R%d\n", players)

	chains := buildChains(objs)
	for _, o := range objs {
		if err := wr.writeObject(o, chains, nums); err != nil {
			return fmt.Errorf("writing object #%d: %w", o.DBRef, err)
		}
	}
	wr.writef("***END OF DUMP***\n")
	return wr.err
}

// Save writes db to path through a temp file and rename.
func Save(path string, db *gamedb.Database) error {
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if err := Write(f, db); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp to final: %w", err)
	}
	return nil
}

// assignAttrNums maps every attribute name in use to its number. Names
// with no builtin number are returned in the order they were numbered.
func assignAttrNums(objs []*gamedb.Object) (map[string]int, []string) {
	nums := make(map[string]int)
	var user []string
	for _, o := range objs {
		for _, name := range o.AttrNames() {
			if _, ok := nums[name]; ok {
				continue
			}
			if n, ok := builtinAttrNums[name]; ok {
				nums[name] = n
				continue
			}
			nums[name] = firstUserAttr + len(user)
			user = append(user, name)
		}
	}
	return nums, user
}

// chain heads and links the C server keeps on every object.
type chains struct {
	contents map[gamedb.DBRef]gamedb.DBRef
	exits    map[gamedb.DBRef]gamedb.DBRef
	next     map[gamedb.DBRef]gamedb.DBRef
}

// buildChains rebuilds the contents, exits and next lists from locations.
// Objects arrive sorted, so each list runs in dbref order.
func buildChains(objs []*gamedb.Object) chains {
	c := chains{
		contents: make(map[gamedb.DBRef]gamedb.DBRef),
		exits:    make(map[gamedb.DBRef]gamedb.DBRef),
		next:     make(map[gamedb.DBRef]gamedb.DBRef),
	}
	lastContent := make(map[gamedb.DBRef]gamedb.DBRef)
	lastExit := make(map[gamedb.DBRef]gamedb.DBRef)
	for _, o := range objs {
		if o.Location < 0 || o.IsGoing() {
			continue
		}
		head, last := c.contents, lastContent
		if o.Type == gamedb.TypeExit {
			head, last = c.exits, lastExit
		}
		if prev, ok := last[o.Location]; ok {
			c.next[prev] = o.DBRef
		} else {
			head[o.Location] = o.DBRef
		}
		last[o.Location] = o.DBRef
	}
	return c
}

func (c chains) lookup(m map[gamedb.DBRef]gamedb.DBRef, ref gamedb.DBRef) gamedb.DBRef {
	if v, ok := m[ref]; ok {
		return v
	}
	return gamedb.Nothing
}

type writer struct {
	w   io.Writer
	err error
}

func (wr *writer) writef(format string, args ...any) {
	if wr.err != nil {
		return
	}
	_, wr.err = fmt.Fprintf(wr.w, format, args...)
}

func (wr *writer) writeObject(obj *gamedb.Object, c chains, nums map[string]int) error {
	wr.writef("!%d\n", obj.DBRef)
	wr.writef("%s\n", quoteString(obj.Name))
	wr.writef("%d\n", obj.Location)
	wr.writef("%d\n", obj.Zone)
	wr.writef("%d\n", c.lookup(c.contents, obj.DBRef))
	wr.writef("%d\n", c.lookup(c.exits, obj.DBRef))
	wr.writef("%d\n", gamedb.Nothing) // link
	wr.writef("%d\n", c.lookup(c.next, obj.DBRef))
	wr.writef("%d\n", obj.Owner)
	wr.writef("%d\n", obj.Parent)
	wr.writef("0\n") // pennies

	wr.writef("%d\n", int32(uint32(obj.Flags[0]|int(obj.Type))))
	wr.writef("%d\n", int32(uint32(obj.Flags[1])))
	wr.writef("%d\n", int32(uint32(obj.Flags[2])))
	wr.writef("%d\n", int32(uint32(obj.Powers[0])))
	wr.writef("%d\n", int32(uint32(obj.Powers[1])))

	for _, name := range obj.AttrNames() {
		val := obj.Attrs[name]
		if val == "" {
			continue
		}
		wr.writef(">%d\n%s\n", nums[name], quoteString(val))
	}
	wr.writef("<\n")
	return wr.err
}

// quoteString wraps s in double quotes with C-style escapes.
func quoteString(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}
