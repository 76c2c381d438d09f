package boltstore

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/crystal-mush/mushcode/pkg/gamedb"
)

const world = `
objects:
  - ref: 0
    name: Lobby
    type: room
    owner: 1
  - ref: 1
    name: Wizard
    type: player
    location: 0
    flags: [WIZARD]
    attrs:
      VA: hello
  - ref: 2
    name: Box
    location: 1
    owner: 1
    parent: 3
    locks:
      basic: "#1|wizard"
  - ref: 3
    name: Parent
    owner: 1
    attrs:
      INHERITED: from parent
channels:
  - name: Public
    members: [1]
`

func openImported(t *testing.T) (*Store, string) {
	t.Helper()
	db, err := gamedb.LoadWorld(strings.NewReader(world))
	if err != nil {
		t.Fatalf("LoadWorld: %v", err)
	}
	path := filepath.Join(t.TempDir(), "game.bolt")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.HasData() {
		t.Errorf("fresh file reports data")
	}
	if err := s.Import(db); err != nil {
		t.Fatalf("Import: %v", err)
	}
	return s, path
}

func reopen(t *testing.T, s *Store, path string) *Store {
	t.Helper()
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	s, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := s.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, path := openImported(t)
	if !s.HasData() {
		t.Fatalf("no data after import")
	}
	if err := s.SetAttr(ctx, 2, "note", "written"); err != nil {
		t.Fatalf("SetAttr: %v", err)
	}
	if err := s.SetAttr(ctx, 1, "VA", ""); err != nil {
		t.Fatalf("clear attr: %v", err)
	}
	if err := s.SetLock(ctx, 2, "use", "=#1"); err != nil {
		t.Fatalf("SetLock: %v", err)
	}
	if err := s.SetFlag(ctx, 2, "INHERIT", true); err != nil {
		t.Fatalf("SetFlag: %v", err)
	}
	if err := s.PutChannel(&gamedb.Channel{Name: "Staff", Members: map[gamedb.DBRef]bool{2: true}}); err != nil {
		t.Fatalf("PutChannel: %v", err)
	}

	s = reopen(t, s, path)

	attr := func(obj gamedb.DBRef, name string) string {
		v, _, err := s.Attr(ctx, obj, name)
		if err != nil {
			t.Fatalf("Attr(#%d/%s): %v", obj, name, err)
		}
		return v
	}
	if got := attr(2, "NOTE"); got != "written" {
		t.Errorf("NOTE = %q", got)
	}
	if got := attr(2, "inherited"); got != "from parent" {
		t.Errorf("parent attribute = %q", got)
	}
	if _, ok, _ := s.Attr(ctx, 1, "VA"); ok {
		t.Errorf("cleared attribute survived")
	}
	for typ, want := range map[string]string{"": "#1|wizard", "use": "=#1", "enter": ""} {
		got, err := s.Lock(ctx, 2, typ)
		if err != nil || got != want {
			t.Errorf("Lock(#2, %q) = %q, %v; want %q", typ, got, err, want)
		}
	}
	obj, err := s.Object(ctx, 2)
	if err != nil {
		t.Fatalf("Object: %v", err)
	}
	if !obj.HasFlag("INHERIT") || obj.Parent != 3 || obj.Location != 1 {
		t.Errorf("object #2 = %+v", obj)
	}
	if ok, _ := s.OnChannel(ctx, "public", 1); !ok {
		t.Errorf("channel membership lost")
	}
	if ok, _ := s.OnChannel(ctx, "staff", 2); !ok {
		t.Errorf("new channel lost")
	}
	if ref, _ := s.Match(ctx, 0, "*wizard"); ref != 1 {
		t.Errorf("Match(*wizard) = #%d", ref)
	}
	if refs, _ := s.Contents(ctx, 1); len(refs) != 1 || refs[0] != 2 {
		t.Errorf("Contents(#1) = %v", refs)
	}
}

func TestPutAndDelete(t *testing.T) {
	ctx := context.Background()
	s, path := openImported(t)
	if err := s.PutObject(&gamedb.Object{DBRef: 7, Name: "Widget", Type: gamedb.TypeThing, Location: 0, Owner: 1, Parent: gamedb.Nothing, Zone: gamedb.Nothing}); err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	if err := s.DeleteObject(3); err != nil {
		t.Fatalf("DeleteObject: %v", err)
	}
	s = reopen(t, s, path)
	if obj, err := s.Object(ctx, 7); err != nil || obj.Name != "Widget" {
		t.Errorf("Object(#7) = %v, %v", obj, err)
	}
	if _, err := s.Object(ctx, 3); !gamedb.IsNotFound(err) {
		t.Errorf("deleted object: %v", err)
	}
	if _, ok, err := s.Attr(ctx, 2, "INHERITED"); ok || err != nil {
		t.Errorf("attribute inherited from a deleted parent: %v %v", ok, err)
	}
}

func TestWriteErrors(t *testing.T) {
	ctx := context.Background()
	s, _ := openImported(t)
	t.Cleanup(func() { s.Close() })
	if err := s.SetAttr(ctx, 42, "X", "y"); !gamedb.IsNotFound(err) {
		t.Errorf("SetAttr on missing object: %v", err)
	}
	if err := s.SetLock(ctx, 2, "nosuch", "#1"); !gamedb.IsNotFound(err) {
		t.Errorf("SetLock with bad type: %v", err)
	}
	if err := s.SetFlag(ctx, 2, "NOSUCHFLAG", true); err == nil {
		t.Errorf("SetFlag accepted an unknown flag")
	}
}

func TestBackup(t *testing.T) {
	ctx := context.Background()
	s, _ := openImported(t)
	t.Cleanup(func() { s.Close() })
	backup := filepath.Join(t.TempDir(), "backup.bolt")
	if err := s.Backup(backup); err != nil {
		t.Fatalf("Backup: %v", err)
	}
	b, err := Open(backup)
	if err != nil {
		t.Fatalf("Open backup: %v", err)
	}
	defer b.Close()
	if err := b.Load(); err != nil {
		t.Fatalf("Load backup: %v", err)
	}
	if v, _, _ := b.Attr(ctx, 1, "VA"); v != "hello" {
		t.Errorf("backup VA = %q", v)
	}
}
