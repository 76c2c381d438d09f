package validate

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/crystal-mush/mushcode/pkg/eval"
	"github.com/crystal-mush/mushcode/pkg/eval/functions"
	"github.com/crystal-mush/mushcode/pkg/gamedb"
)

const lintWorld = `
objects:
  - ref: 0
    name: Lobby
    type: room
    owner: 1
  - ref: 1
    name: Wizard
    type: player
    location: 0
    owner: 1
    flags: [WIZARD]
  - ref: 2
    name: Monitor
    location: 0
    owner: 1
    attrs:
      CONNECT: '@pemit %#=[ansi(h,\\[Monitor\\])] connected.'
      PLAIN: 'say \\[not in a function\\]'
      BREAK: 'think Testing \\%r line break'
      GROUP: '@switch 1=1,\{think yes}'
      OPEN: 'think [add(1,2)'
      CLEAN: 'think [add(1,2)] (and a smile :)'
    locks:
      basic: '#1&('
      enter: '#1|WIZARD'
  - ref: 3
    name: Orphan
    location: 42
    owner: 2
    parent: 4
  - ref: 4
    name: Loop
    location: 0
    owner: 1
    parent: 3
`

func loadLintWorld(t *testing.T) *gamedb.Database {
	t.Helper()
	db, err := gamedb.LoadWorld(strings.NewReader(lintWorld))
	if err != nil {
		t.Fatalf("LoadWorld: %v", err)
	}
	return db
}

func registry() *eval.Registry {
	r := eval.NewRegistry()
	functions.RegisterAll(r)
	return r
}

func find(findings []Finding, cat Category, ref gamedb.DBRef, attr string) *Finding {
	for i := range findings {
		f := &findings[i]
		if f.Category == cat && f.ObjectRef == ref && f.Attr == attr {
			return f
		}
	}
	return nil
}

func TestDoubleEscapeChecker(t *testing.T) {
	v := New(loadLintWorld(t), registry())
	findings := v.Run()

	f := find(findings, CatDoubleEscape, 2, "CONNECT")
	if f == nil {
		t.Fatal("expected a double-escape finding on CONNECT")
	}
	if !f.Fixable {
		t.Error("expected finding to be fixable")
	}
	if want := `@pemit %#=[ansi(h,\[Monitor\])] connected.`; f.Proposed != want {
		t.Errorf("proposed = %q, want %q", f.Proposed, want)
	}
	if find(findings, CatDoubleEscape, 2, "PLAIN") != nil {
		t.Error("escaped brackets outside a function call should not be flagged")
	}
}

func TestDoubleEscapeUnknownFunction(t *testing.T) {
	c := &DoubleEscapeChecker{Known: func(string) bool { return false }}
	if m := c.inFuncArgs(`[ansi(h,\\[x\\])]`); len(m) != 0 {
		t.Errorf("expected no matches for unknown functions, got %v", m)
	}
}

func TestBraceEscape(t *testing.T) {
	findings := New(loadLintWorld(t), registry()).Run()
	f := find(findings, CatDoubleEscape, 2, "GROUP")
	if f == nil {
		t.Fatal("expected a finding on GROUP")
	}
	if want := "@switch 1=1,{think yes}"; f.Proposed != want {
		t.Errorf("proposed = %q, want %q", f.Proposed, want)
	}
}

func TestPercentChecker(t *testing.T) {
	findings := New(loadLintWorld(t), registry()).Run()
	f := find(findings, CatPercent, 2, "BREAK")
	if f == nil {
		t.Fatal("expected a percent finding on BREAK")
	}
	if want := `think Testing \%r line break`; f.Proposed != want {
		t.Errorf("proposed = %q, want %q", f.Proposed, want)
	}
}

func TestBalanceChecker(t *testing.T) {
	findings := New(loadLintWorld(t), registry()).Run()
	f := find(findings, CatUnbalanced, 2, "OPEN")
	if f == nil {
		t.Fatal("expected an unbalanced finding on OPEN")
	}
	if f.Fixable {
		t.Error("unbalanced findings are not fixable")
	}
	if find(findings, CatUnbalanced, 2, "CLEAN") != nil {
		t.Error("literal parentheses should not be flagged")
	}
	if find(findings, CatUnbalanced, 2, "CONNECT") != nil {
		t.Error("escaped brackets should balance")
	}
}

func TestUnbalanced(t *testing.T) {
	tests := []struct {
		in  string
		ch  byte
		pos int
	}{
		{"think [add(1,2)]", 0, 0},
		{"think [add(1,2)", '[', 6},
		{"{a;b", '{', 0},
		{"a}", '}', 1},
		{`\[literal`, 0, 0},
		{"%[x", 0, 0},
		{"(smile", 0, 0},
	}
	for _, tt := range tests {
		ch, pos := unbalanced(tt.in)
		if ch != tt.ch || pos != tt.pos {
			t.Errorf("unbalanced(%q) = %q, %d; want %q, %d", tt.in, ch, pos, tt.ch, tt.pos)
		}
	}
}

func TestLockChecker(t *testing.T) {
	findings := New(loadLintWorld(t), registry()).Run()
	f := find(findings, CatLock, 2, "LOCK")
	if f == nil {
		t.Fatal("expected a lock finding on LOCK")
	}
	if f.Severity != SevError {
		t.Errorf("severity = %v, want error", f.Severity)
	}
	if find(findings, CatLock, 2, "LENTER") != nil {
		t.Error("a valid lock should not be flagged")
	}
	// Lock keys are not softcode.
	if find(findings, CatUnbalanced, 2, "LOCK") != nil {
		t.Error("lock attributes should not be linted as softcode")
	}
}

func TestIntegrityChecker(t *testing.T) {
	findings := (&IntegrityChecker{}).Check(mustSnapshot(t))

	var descs []string
	for _, f := range findings {
		descs = append(descs, f.Description)
	}
	joined := strings.Join(descs, "\n")
	for _, want := range []string{
		"#3 location #42 does not exist",
		"#3 owner #2 is not a player (type=THING)",
		"#3 parent chain has loop at #3",
		"#4 parent chain has loop at #4",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("missing finding %q in:\n%s", want, joined)
		}
	}
	for _, f := range findings {
		if f.ObjectRef == 0 || f.ObjectRef == 1 {
			t.Errorf("unexpected finding on #%d: %s", f.ObjectRef, f.Description)
		}
	}
}

func mustSnapshot(t *testing.T) []*gamedb.Object {
	objs, _ := loadLintWorld(t).Snapshot()
	return objs
}

func TestValidatorApplyFix(t *testing.T) {
	db := loadLintWorld(t)
	v := New(db, registry())
	f := find(v.Run(), CatDoubleEscape, 2, "CONNECT")
	if f == nil {
		t.Fatal("no finding to fix")
	}
	ctx := context.Background()
	if err := v.ApplyFix(ctx, db, f.ID); err != nil {
		t.Fatalf("ApplyFix: %v", err)
	}
	got, _, _ := db.Attr(ctx, 2, "CONNECT")
	if want := `@pemit %#=[ansi(h,\[Monitor\])] connected.`; got != want {
		t.Errorf("CONNECT = %q, want %q", got, want)
	}
	if err := v.ApplyFix(ctx, db, f.ID); err == nil {
		t.Error("expected an error fixing twice")
	}
	if err := v.ApplyFix(ctx, db, "nope-0"); err == nil {
		t.Error("expected an error for an unknown id")
	}
	lockFinding := find(v.Findings(), CatLock, 2, "LOCK")
	if err := v.ApplyFix(ctx, db, lockFinding.ID); err == nil {
		t.Error("expected an error fixing an unfixable finding")
	}
}

func TestValidatorApplyAll(t *testing.T) {
	db := loadLintWorld(t)
	v := New(db, registry())
	v.Run()
	ctx := context.Background()
	n, err := v.ApplyAll(ctx, db, CatPercent)
	if err != nil || n != 1 {
		t.Fatalf("ApplyAll = %d, %v; want 1, nil", n, err)
	}
	if n, _ := v.ApplyAll(ctx, db, CatPercent); n != 0 {
		t.Errorf("second ApplyAll fixed %d, want 0", n)
	}
	if find(New(db, registry()).Run(), CatPercent, 2, "BREAK") != nil {
		t.Error("BREAK still flagged after fix")
	}
}

func TestValidatorSummary(t *testing.T) {
	v := New(loadLintWorld(t), registry())
	v.Run()
	sum := v.Summary()
	if sum[CatPercent] != 1 {
		t.Errorf("percent = %d, want 1", sum[CatPercent])
	}
	if sum[CatLock] != 1 {
		t.Errorf("lock = %d, want 1", sum[CatLock])
	}
}

func TestReportJSON(t *testing.T) {
	v := New(loadLintWorld(t), registry())
	v.Run()
	var buf bytes.Buffer
	if err := GenerateReport(v).WriteJSON(&buf); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	var r struct {
		Total      int `json:"total_findings"`
		Categories map[string]struct {
			Total int    `json:"total"`
			Label string `json:"label"`
		} `json:"categories"`
	}
	if err := json.Unmarshal(buf.Bytes(), &r); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if r.Total != len(v.Findings()) {
		t.Errorf("total = %d, want %d", r.Total, len(v.Findings()))
	}
	if r.Categories["lock"].Label != "Locks That Do Not Compile" {
		t.Errorf("lock label = %q", r.Categories["lock"].Label)
	}
}

func TestNoFindingsOnCleanDB(t *testing.T) {
	db, err := gamedb.LoadWorld(strings.NewReader(`
objects:
  - ref: 0
    name: Lobby
    type: room
    owner: 1
  - ref: 1
    name: Wizard
    type: player
    location: 0
    owner: 1
    attrs:
      GREET: 'think [name(me)] says hi'
`))
	if err != nil {
		t.Fatal(err)
	}
	if findings := New(db, nil).Run(); len(findings) != 0 {
		t.Errorf("expected no findings, got %+v", findings)
	}
}
