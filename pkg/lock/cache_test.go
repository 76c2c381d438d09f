package lock

import (
	"context"
	"testing"

	"github.com/crystal-mush/mushcode/pkg/eval"
	"github.com/crystal-mush/mushcode/pkg/eval/functions"
	"github.com/crystal-mush/mushcode/pkg/gamedb"
	"github.com/crystal-mush/mushcode/pkg/markup"
)

func (c *Cache) cached(obj gamedb.DBRef, lockType string) bool {
	k, err := cacheKey(obj, lockType)
	if err != nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[k]
	return ok
}

func TestCacheGet(t *testing.T) {
	db := loadLockWorld(t)
	c := NewCache(db, 0, nil)
	ctx := context.Background()

	l, err := c.Get(ctx, 5, "")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if l.String() != "#4" {
		t.Errorf("Get(#5) = %q, want #4", l.String())
	}
	if !c.cached(5, "basic") || !c.cached(5, "default") {
		t.Errorf("basic and default should share one entry")
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}

	if _, err := c.Get(ctx, 5, "nosuchtype"); !gamedb.IsNotFound(err) {
		t.Errorf("bad lock type: got %v", err)
	}
	if _, err := c.Get(ctx, 99, ""); !gamedb.IsNotFound(err) {
		t.Errorf("missing object: got %v", err)
	}
}

func TestCacheSetKeepsPreviousOnError(t *testing.T) {
	db := loadLockWorld(t)
	c := NewCache(db, 0, nil)
	ctx := context.Background()

	if err := c.Set(ctx, 5, "", " #3 "); err != nil {
		t.Fatalf("Set: %v", err)
	}
	err := c.Set(ctx, 5, "", "(#3")
	if _, ok := err.(*ParseError); !ok {
		t.Fatalf("Set bad lock: expected *ParseError, got %v", err)
	}
	if s, _ := db.Lock(ctx, 5, ""); s != "#3" {
		t.Errorf("store holds %q after failed Set, want #3", s)
	}
	l, err := c.Get(ctx, 5, "")
	if err != nil || l.String() != "#3" {
		t.Errorf("cache holds %v, %v after failed Set, want #3", l, err)
	}
	if ok, _ := c.Check(ctx, 5, 3, ""); !ok {
		t.Errorf("#3 should pass the kept lock")
	}
}

func TestCacheInvalidate(t *testing.T) {
	db := loadLockWorld(t)
	c := NewCache(db, 0, nil)
	ctx := context.Background()

	if _, err := c.Get(ctx, 5, ""); err != nil {
		t.Fatalf("Get: %v", err)
	}
	// written behind the cache's back
	if err := db.SetLock(ctx, 5, "", "#2"); err != nil {
		t.Fatalf("SetLock: %v", err)
	}
	if l, _ := c.Get(ctx, 5, ""); l.String() != "#4" {
		t.Errorf("expected the cached lock before Invalidate, got %q", l.String())
	}
	c.Invalidate(5, "basic")
	if l, _ := c.Get(ctx, 5, ""); l.String() != "#2" {
		t.Errorf("expected the stored lock after Invalidate, got %q", l.String())
	}

	if _, err := c.Get(ctx, 9, "control"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	c.InvalidateObject(9)
	if c.cached(9, "control") || !c.cached(5, "") {
		t.Errorf("InvalidateObject dropped the wrong entries")
	}
}

func TestCacheLFU(t *testing.T) {
	db := loadLockWorld(t)
	c := NewCache(db, 2, nil)
	ctx := context.Background()

	for range 3 {
		c.Get(ctx, 5, "")
	}
	c.Get(ctx, 6, "")
	c.Get(ctx, 7, "") // evicts #6, used once
	if !c.cached(5, "") || c.cached(6, "") || !c.cached(7, "") {
		t.Errorf("after #7: #5=%v #6=%v #7=%v", c.cached(5, ""), c.cached(6, ""), c.cached(7, ""))
	}
	c.Get(ctx, 7, "")
	c.Get(ctx, 7, "")
	c.Get(ctx, 7, "")
	c.Get(ctx, 9, "control") // #5 used 3 times, #7 4 times
	if c.cached(5, "") || !c.cached(7, "") || !c.cached(9, "control") {
		t.Errorf("after #9: #5=%v #7=%v #9=%v", c.cached(5, ""), c.cached(7, ""), c.cached(9, "control"))
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}

	// eviction never changes answers
	for _, who := range []gamedb.DBRef{2, 3} {
		want, _ := Evaluate(ctx, Env{Store: db}, "#4", 5, who)
		got, err := c.Check(ctx, 5, who, "")
		if err != nil || got != want {
			t.Errorf("Check(#5, #%d) = %v, %v; want %v", who, got, err, want)
		}
	}
}

func TestCachePass(t *testing.T) {
	db := loadLockWorld(t)
	c := NewCache(db, 0, nil)
	ctx := context.Background()
	tests := []struct {
		who  gamedb.DBRef
		want bool
	}{
		{1, true}, // wizard
		{8, true}, // PASS_LOCKS
		{3, true}, // carries the key
		{2, false},
	}
	for _, tt := range tests {
		got, err := c.Pass(ctx, 5, tt.who, "")
		if err != nil {
			t.Fatalf("Pass(#%d): %v", tt.who, err)
		}
		if got != tt.want {
			t.Errorf("Pass(#5, #%d) = %v, want %v", tt.who, got, tt.want)
		}
	}
	if ok, _ := c.Check(ctx, 5, 1, ""); ok {
		t.Errorf("Check should not apply the wizard bypass")
	}
	if _, err := c.Pass(ctx, 5, 1, "bogus"); !gamedb.IsNotFound(err) {
		t.Errorf("bad lock type: got %v", err)
	}
}

func TestControls(t *testing.T) {
	db := loadLockWorld(t)
	c := NewCache(db, 0, nil)
	tests := []struct {
		who, what gamedb.DBRef
		want bool
	}{
		{3, 3, true},
		{1, 4, true},   // wizard
		{3, 4, true},   // owner
		{2, 4, false},  // stranger
		{3, 1, false},  // nobody controls a wizard
		{3, 10, true},  // zone control lock
		{2, 10, true},  // owner
		{8, 10, false}, // fails the zone lock
		{14, 13, false},
		{13, 14, true},
		{14, 4, true},
		{3, 99, false},
	}
	for _, tt := range tests {
		got, err := c.Controls(context.Background(), tt.who, tt.what)
		if err != nil {
			t.Fatalf("Controls(#%d, #%d): %v", tt.who, tt.what, err)
		}
		if got != tt.want {
			t.Errorf("Controls(#%d, #%d) = %v, want %v", tt.who, tt.what, got, tt.want)
		}
	}
}

func TestEvaluationLocks(t *testing.T) {
	db := loadLockWorld(t)
	ctx := context.Background()
	for attr, value := range map[string]string{
		"CHECK": "[strmatch(%#,#3)]",
		"SNEAK": "[pemit(%#,hi)]ok",
		"LOOPY": "[elock(me/use,%#)]",
	} {
		if err := db.SetAttr(ctx, 5, attr, value); err != nil {
			t.Fatalf("SetAttr: %v", err)
		}
	}
	reg := eval.NewRegistry()
	functions.RegisterAll(reg)
	ev := eval.New(db, reg, eval.Options{})
	c := NewCache(db, 0, nil)
	Wire(c, ev)

	tests := []struct {
		lock string
		who  gamedb.DBRef
		want bool
	}{
		{"CHECK/1", 3, true},
		{"CHECK/1", 2, false},
		{"SNEAK/ok", 3, false},
		{"SNEAK/#-1 PERMISSION DENIED*", 3, true},
		{"LOOPY/1", 3, false},
	}
	for _, tt := range tests {
		if err := c.Set(ctx, 5, "use", tt.lock); err != nil {
			t.Fatalf("Set(%q): %v", tt.lock, err)
		}
		got, err := c.Pass(ctx, 5, tt.who, "use")
		if err != nil {
			t.Fatalf("Pass(%q, #%d): %v", tt.lock, tt.who, err)
		}
		if got != tt.want {
			t.Errorf("Pass(%q, #%d) = %v, want %v", tt.lock, tt.who, got, tt.want)
		}
	}

	// the same question asked from softcode
	if err := c.Set(ctx, 5, "use", "CHECK/1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	cs, err := ev.Evaluate(ctx, markup.New("[elock(#5/use,#3)][elock(#5/use,#2)][elock(#5/bogus,#3)]"), eval.NewState(3, 3))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got := cs.Text.Plain(); got != "10#-1 INVALID LOCK TYPE" {
		t.Errorf("elock results = %q", got)
	}
}
