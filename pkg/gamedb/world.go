package gamedb

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// WorldFile is the YAML layout of a seed world.
//
//	objects:
//	  - ref: 1
//	    name: Wizard
//	    type: player
//	    location: 0
//	    flags: [WIZARD]
//	    attrs:
//	      VA: hello
//	    locks:
//	      enter: "#1|wizard"
//	channels:
//	  - name: Public
//	    members: [1]
type WorldFile struct {
	Objects  []WorldObject  `yaml:"objects"`
	Channels []WorldChannel `yaml:"channels"`
}

// WorldObject is one object entry in a WorldFile.
type WorldObject struct {
	Ref      int               `yaml:"ref"`
	Name     string            `yaml:"name"`
	Type     string            `yaml:"type"`
	Location *int              `yaml:"location"`
	Owner    *int              `yaml:"owner"`
	Parent   *int              `yaml:"parent"`
	Zone     *int              `yaml:"zone"`
	Flags    []string          `yaml:"flags"`
	Powers   []string          `yaml:"powers"`
	Attrs    map[string]string `yaml:"attrs"`
	Locks    map[string]string `yaml:"locks"`
}

// WorldChannel is one channel entry in a WorldFile.
type WorldChannel struct {
	Name        string `yaml:"name"`
	Owner       int    `yaml:"owner"`
	Description string `yaml:"description"`
	Members     []int  `yaml:"members"`
}

// LoadWorldFile reads a YAML world from disk.
func LoadWorldFile(path string) (*Database, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("gamedb: open world %s: %w", path, err)
	}
	defer f.Close()
	return LoadWorld(f)
}

// LoadWorld decodes a YAML world into a fresh Database.
func LoadWorld(r io.Reader) (*Database, error) {
	var wf WorldFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&wf); err != nil && err != io.EOF {
		return nil, fmt.Errorf("gamedb: decode world: %w", err)
	}
	db := NewDatabase()
	for _, wo := range wf.Objects {
		obj, err := wo.build()
		if err != nil {
			return nil, err
		}
		if _, dup := db.Objects[obj.DBRef]; dup {
			return nil, fmt.Errorf("gamedb: duplicate object #%d", obj.DBRef)
		}
		db.Add(obj)
	}
	for _, wc := range wf.Channels {
		ch := &Channel{
			Name:        wc.Name,
			Owner:       DBRef(wc.Owner),
			Description: wc.Description,
			Members:     make(map[DBRef]bool, len(wc.Members)),
		}
		for _, m := range wc.Members {
			ch.Members[DBRef(m)] = true
		}
		db.AddChannel(ch)
	}
	return db, nil
}

func refOr(p *int, def DBRef) DBRef {
	if p == nil {
		return def
	}
	return DBRef(*p)
}

func (wo WorldObject) build() (*Object, error) {
	typ := TypeThing
	if wo.Type != "" {
		t, ok := ParseType(wo.Type)
		if !ok {
			return nil, fmt.Errorf("gamedb: object #%d: unknown type %q", wo.Ref, wo.Type)
		}
		typ = t
	}
	ref := DBRef(wo.Ref)
	obj := &Object{
		DBRef:    ref,
		Name:     wo.Name,
		Type:     typ,
		Location: refOr(wo.Location, Nothing),
		Owner:    refOr(wo.Owner, ref),
		Parent:   refOr(wo.Parent, Nothing),
		Zone:     refOr(wo.Zone, Nothing),
		Attrs:    make(map[string]string, len(wo.Attrs)+len(wo.Locks)),
	}
	for _, f := range wo.Flags {
		def, ok := FlagTable[strings.ToUpper(f)]
		if !ok {
			return nil, fmt.Errorf("gamedb: object #%d: unknown flag %q", wo.Ref, f)
		}
		obj.Flags[def.Word] |= def.Bit
	}
	for _, p := range wo.Powers {
		def, ok := PowerTable[strings.ToUpper(p)]
		if !ok {
			return nil, fmt.Errorf("gamedb: object #%d: unknown power %q", wo.Ref, p)
		}
		obj.Powers[def.Word] |= def.Bit
	}
	for k, v := range wo.Attrs {
		obj.Attrs[NormalizeAttr(k)] = v
	}
	for lt, lock := range wo.Locks {
		attr, err := LockAttr(lt)
		if err != nil {
			return nil, fmt.Errorf("gamedb: object #%d: %w", wo.Ref, err)
		}
		obj.Attrs[attr] = lock
	}
	return obj, nil
}

// ToWorld converts a database back into its YAML layout.
func ToWorld(db *Database) *WorldFile {
	objs, chans := db.Snapshot()
	wf := &WorldFile{}
	for _, o := range objs {
		loc, owner, parent, zone := int(o.Location), int(o.Owner), int(o.Parent), int(o.Zone)
		wo := WorldObject{
			Ref:      int(o.DBRef),
			Name:     o.Name,
			Type:     strings.ToLower(o.Type.String()),
			Location: &loc,
			Owner:    &owner,
			Parent:   &parent,
			Zone:     &zone,
			Flags:    o.FlagNames(),
			Attrs:    o.Attrs,
		}
		for name, def := range PowerTable {
			if o.Powers[def.Word]&def.Bit != 0 {
				wo.Powers = append(wo.Powers, name)
			}
		}
		sort.Strings(wo.Powers)
		wf.Objects = append(wf.Objects, wo)
	}
	for _, ch := range chans {
		wc := WorldChannel{Name: ch.Name, Owner: int(ch.Owner), Description: ch.Description}
		for m, on := range ch.Members {
			if on {
				wc.Members = append(wc.Members, int(m))
			}
		}
		sort.Ints(wc.Members)
		wf.Channels = append(wf.Channels, wc)
	}
	return wf
}

// Marshal encodes the world as YAML.
func (wf *WorldFile) Marshal() ([]byte, error) {
	return yaml.Marshal(wf)
}
