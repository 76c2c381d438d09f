package queue

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/crystal-mush/mushcode/pkg/gamedb"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// recorder remembers the commands it ran, in order.
type recorder struct {
	mu  sync.Mutex
	ran []string
}

func (r *recorder) Execute(_ context.Context, e *Entry) error {
	r.mu.Lock()
	r.ran = append(r.ran, e.Command)
	r.mu.Unlock()
	return nil
}

func (r *recorder) commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.ran)
}

func newScheduler(t *testing.T, exec Executor) (*Scheduler, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New(exec, Options{Now: c.Now}), c
}

func entry(obj gamedb.DBRef, cmd string) *Entry {
	return &Entry{Executor: obj, Enactor: obj, Caller: obj, Command: cmd}
}

func TestFIFOPerObject(t *testing.T) {
	rec := &recorder{}
	s, _ := newScheduler(t, rec)
	s.Enqueue(entry(1, "a"))
	s.Enqueue(entry(1, "b"))
	s.Enqueue(entry(1, "c"))
	if n := s.Pending(1); n != 3 {
		t.Fatalf("Pending = %d, want 3", n)
	}
	s.ProcessReady(context.Background())
	if got := rec.commands(); !slices.Equal(got, []string{"a", "b", "c"}) {
		t.Errorf("ran %v", got)
	}
	if n := s.Pending(1); n != 0 {
		t.Errorf("Pending after run = %d", n)
	}
}

func TestEntryIdentity(t *testing.T) {
	s, _ := newScheduler(t, &recorder{})
	a, b := entry(1, "a"), entry(1, "b")
	s.Enqueue(a)
	s.Enqueue(b)
	if a.ID == b.ID {
		t.Errorf("entries share ID %s", a.ID)
	}
	if a.Seq() >= b.Seq() {
		t.Errorf("seq %d then %d", a.Seq(), b.Seq())
	}
	if peek := s.Peek(1, 5); len(peek) != 2 || peek[0] != a {
		t.Errorf("Peek = %v", peek)
	}
}

func TestHaltBeforeRun(t *testing.T) {
	rec := &recorder{}
	s, _ := newScheduler(t, rec)
	s.Enqueue(entry(1, "a"))
	s.Enqueue(entry(1, "b"))
	s.EnqueueDelayed(entry(1, "later"), time.Second)
	s.Wait(Key{Obj: 2, Attr: "sem"}, entry(1, "waiter"), 0)
	s.Enqueue(entry(2, "other"))

	if n := s.Halt(1); n != 4 {
		t.Errorf("Halt removed %d, want 4", n)
	}
	s.ProcessReady(context.Background())
	if got := rec.commands(); !slices.Equal(got, []string{"other"}) {
		t.Errorf("ran %v", got)
	}
	if st := s.Stats(); st.Ready+st.Delayed+st.Waiting != 0 {
		t.Errorf("stats after halt: %+v", st)
	}
}

func TestHaltAll(t *testing.T) {
	rec := &recorder{}
	s, _ := newScheduler(t, rec)
	s.Enqueue(entry(1, "a"))
	s.Enqueue(entry(2, "b"))
	s.Notify(Key{Obj: 3, Attr: "sem"})
	if n := s.HaltAll(); n != 2 {
		t.Errorf("HaltAll removed %d, want 2", n)
	}
	if st := s.Stats(); st != (Stats{}) {
		t.Errorf("stats after HaltAll: %+v", st)
	}
	s.ProcessReady(context.Background())
	if len(rec.commands()) != 0 {
		t.Errorf("ran %v", rec.commands())
	}
}

func TestDelayed(t *testing.T) {
	rec := &recorder{}
	s, clk := newScheduler(t, rec)
	ctx := context.Background()
	s.EnqueueDelayed(entry(1, "two"), 2*time.Second)
	s.EnqueueDelayed(entry(1, "one"), time.Second)
	s.EnqueueDelayed(entry(1, "now"), 0)

	s.ProcessReady(ctx)
	if got := rec.commands(); !slices.Equal(got, []string{"now"}) {
		t.Fatalf("ran %v", got)
	}
	clk.Advance(time.Second)
	s.ProcessReady(ctx)
	clk.Advance(5 * time.Second)
	s.ProcessReady(ctx)
	if got := rec.commands(); !slices.Equal(got, []string{"now", "one", "two"}) {
		t.Errorf("ran %v", got)
	}
}

func TestNotifyCredit(t *testing.T) {
	rec := &recorder{}
	s, _ := newScheduler(t, rec)
	key := Key{Obj: 5, Attr: "SEM"}
	if s.Notify(key) {
		t.Errorf("Notify with no waiters reported a release")
	}
	if st := s.Stats(); st.Credits != 1 {
		t.Errorf("credits = %d, want 1", st.Credits)
	}
	s.Wait(Key{Obj: 5, Attr: "sem"}, entry(1, "go"), 0)
	s.Wait(key, entry(1, "stay"), 0)
	s.ProcessReady(context.Background())
	if got := rec.commands(); !slices.Equal(got, []string{"go"}) {
		t.Errorf("ran %v", got)
	}
	if st := s.Stats(); st.Waiting != 1 || st.Credits != 0 {
		t.Errorf("stats: %+v", st)
	}
}

func TestNotifyKeepsOrder(t *testing.T) {
	rec := &recorder{}
	s, _ := newScheduler(t, rec)
	key := Key{Obj: 5, Attr: "SEM"}
	s.Wait(key, entry(1, "first"), 0)
	s.Enqueue(entry(1, "second"))
	s.Wait(key, entry(1, "third"), 0)
	s.Enqueue(entry(1, "fourth"))

	if !s.Notify(key) {
		t.Fatalf("Notify released nobody")
	}
	s.ProcessReady(context.Background())
	if got := rec.commands(); !slices.Equal(got, []string{"first", "second", "fourth"}) {
		t.Errorf("ran %v", got)
	}
	if n := s.NotifyAll(key); n != 1 {
		t.Errorf("NotifyAll released %d, want 1", n)
	}
	if n := s.NotifyAll(key); n != 0 {
		t.Errorf("second NotifyAll released %d", n)
	}
	s.ProcessReady(context.Background())
	if got := rec.commands(); !slices.Equal(got, []string{"first", "second", "fourth", "third"}) {
		t.Errorf("ran %v", got)
	}
	if st := s.Stats(); st.Credits != 0 {
		t.Errorf("NotifyAll left %d credits", st.Credits)
	}
}

func TestDrain(t *testing.T) {
	rec := &recorder{}
	s, _ := newScheduler(t, rec)
	key := Key{Obj: 5, Attr: "SEM"}
	s.Wait(key, entry(1, "a"), 0)
	s.Wait(key, entry(2, "b"), 0)
	s.Wait(Key{Obj: 5, Attr: "OTHER"}, entry(1, "c"), 0)
	s.Notify(Key{Obj: 6, Attr: "SEM"})

	if n := s.Drain(key); n != 2 {
		t.Errorf("Drain removed %d, want 2", n)
	}
	s.Notify(key)
	s.Notify(key)
	if n := s.Drain(key); n != 0 {
		t.Errorf("Drain of credits only removed %d", n)
	}
	s.Wait(key, entry(1, "d"), 0)
	s.ProcessReady(context.Background())
	if len(rec.commands()) != 0 {
		t.Errorf("drained entries ran: %v", rec.commands())
	}
	if n := s.DrainObject(5); n != 2 {
		t.Errorf("DrainObject removed %d, want 2", n)
	}
	if st := s.Stats(); st.Waiting != 0 || st.Credits != 1 {
		t.Errorf("stats: %+v", st)
	}
	if s.Pending(1) != 0 || s.Pending(2) != 0 {
		t.Errorf("pending counts survived the drain")
	}
}

func TestWaitTimeout(t *testing.T) {
	rec := &recorder{}
	s, clk := newScheduler(t, rec)
	ctx := context.Background()
	key := Key{Obj: 5, Attr: "SEM"}
	s.Wait(key, entry(1, "timed"), 3*time.Second)
	s.Wait(key, entry(1, "forever"), 0)

	clk.Advance(2 * time.Second)
	s.ProcessReady(ctx)
	if len(rec.commands()) != 0 {
		t.Fatalf("ran early: %v", rec.commands())
	}
	clk.Advance(time.Second)
	s.ProcessReady(ctx)
	if got := rec.commands(); !slices.Equal(got, []string{"timed"}) {
		t.Fatalf("ran %v", got)
	}
	if !s.Notify(key) {
		t.Errorf("remaining waiter not released")
	}
	s.ProcessReady(ctx)
	if got := rec.commands(); !slices.Equal(got, []string{"timed", "forever"}) {
		t.Errorf("ran %v", got)
	}
}

func TestPerObjectLimit(t *testing.T) {
	rec := &recorder{}
	s := New(rec, Options{MaxPerObject: 2})
	if !s.Enqueue(entry(1, "a")) || !s.EnqueueDelayed(entry(1, "b"), time.Hour) {
		t.Fatalf("entries under the limit were dropped")
	}
	if s.Enqueue(entry(1, "c")) || s.Wait(Key{Obj: 1, Attr: "x"}, entry(1, "d"), 0) {
		t.Errorf("entries over the limit were accepted")
	}
	if !s.Enqueue(entry(2, "e")) {
		t.Errorf("another object's entry was dropped")
	}
	s.ProcessReady(context.Background())
	if !s.Enqueue(entry(1, "f")) {
		t.Errorf("limit not released after execution")
	}
}

func TestHaltDuringExecution(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	rec := &recorder{}
	exec := ExecutorFunc(func(ctx context.Context, e *Entry) error {
		if e.Command == "slow" {
			close(started)
			<-release
		}
		return rec.Execute(ctx, e)
	})
	s, _ := newScheduler(t, exec)
	s.Enqueue(entry(1, "slow"))
	s.Enqueue(entry(1, "next"))

	done := make(chan struct{})
	go func() {
		s.ProcessReady(context.Background())
		close(done)
	}()
	<-started
	if st := s.Stats(); st.Running != 1 {
		t.Errorf("running = %d, want 1", st.Running)
	}
	if n := s.Halt(1); n != 1 {
		t.Errorf("Halt removed %d, want 1", n)
	}
	close(release)
	<-done
	if got := rec.commands(); !slices.Equal(got, []string{"slow"}) {
		t.Errorf("ran %v", got)
	}
}

func TestOneInFlightPerObject(t *testing.T) {
	var mu sync.Mutex
	inFlight := map[gamedb.DBRef]int{}
	violations := 0
	total := 0
	exec := ExecutorFunc(func(_ context.Context, e *Entry) error {
		mu.Lock()
		inFlight[e.Executor]++
		if inFlight[e.Executor] > 1 {
			violations++
		}
		mu.Unlock()
		time.Sleep(time.Millisecond)
		mu.Lock()
		inFlight[e.Executor]--
		total++
		mu.Unlock()
		return nil
	})
	s, _ := newScheduler(t, exec)
	for i := range 20 {
		s.Enqueue(entry(gamedb.DBRef(i%4), "x"))
	}
	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.ProcessReady(context.Background())
		}()
	}
	wg.Wait()
	s.ProcessReady(context.Background())
	if violations != 0 {
		t.Errorf("%d overlapping executions for one object", violations)
	}
	if total != 20 {
		t.Errorf("executed %d entries, want 20", total)
	}
}

func TestExecutionEnqueuesMore(t *testing.T) {
	rec := &recorder{}
	var s *Scheduler
	exec := ExecutorFunc(func(ctx context.Context, e *Entry) error {
		if e.Command == "parent" {
			s.Enqueue(entry(1, "child"))
		}
		return rec.Execute(ctx, e)
	})
	s, _ = newScheduler(t, exec)
	s.Enqueue(entry(1, "parent"))
	s.Enqueue(entry(1, "sibling"))
	s.ProcessReady(context.Background())
	if got := rec.commands(); !slices.Equal(got, []string{"parent", "sibling", "child"}) {
		t.Errorf("ran %v", got)
	}
}

func TestPanicRecovered(t *testing.T) {
	rec := &recorder{}
	exec := ExecutorFunc(func(ctx context.Context, e *Entry) error {
		switch e.Command {
		case "boom":
			panic("boom")
		case "fail":
			return errors.New("store unavailable")
		}
		return rec.Execute(ctx, e)
	})
	s, _ := newScheduler(t, exec)
	s.Enqueue(entry(1, "boom"))
	s.Enqueue(entry(1, "fail"))
	s.Enqueue(entry(1, "after"))
	if n := s.ProcessReady(context.Background()); n != 3 {
		t.Errorf("ProcessReady = %d, want 3", n)
	}
	if got := rec.commands(); !slices.Equal(got, []string{"after"}) {
		t.Errorf("ran %v", got)
	}
}

func TestRun(t *testing.T) {
	rec := &recorder{}
	s := New(rec, Options{})
	s.Enqueue(entry(1, "a"))
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for len(rec.commands()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Errorf("Run returned %v", err)
	}
	if got := rec.commands(); !slices.Equal(got, []string{"a"}) {
		t.Errorf("ran %v", got)
	}
}
