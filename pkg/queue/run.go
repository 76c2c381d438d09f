package queue

import (
	"context"
	"log"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/crystal-mush/mushcode/pkg/gamedb"
)

const (
	fastTick  = 10 * time.Millisecond
	idleTick  = 100 * time.Millisecond
	heartbeat = 60 * time.Second
	slowEntry = 5 * time.Second
)

// ProcessReady runs one tick: due entries are promoted, then every object
// with ready work drains up to a fixed number of entries in order, objects
// in parallel. It returns how many entries were promoted or executed.
func (s *Scheduler) ProcessReady(ctx context.Context) int {
	s.mu.Lock()
	promoted := s.promote(s.now())
	var objs []gamedb.DBRef
	for obj, q := range s.ready {
		if len(q) > 0 && !s.running[obj] {
			s.running[obj] = true
			objs = append(objs, obj)
		}
	}
	s.mu.Unlock()

	counts := make([]int, len(objs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, obj := range objs {
		g.Go(func() error {
			counts[i] = s.drainObject(gctx, obj)
			return nil
		})
	}
	g.Wait()

	executed := 0
	for _, n := range counts {
		executed += n
	}
	return promoted + executed
}

// drainObject executes obj's ready entries one at a time. The running mark
// set by ProcessReady keeps any other worker off this object.
func (s *Scheduler) drainObject(ctx context.Context, obj gamedb.DBRef) int {
	n := 0
	for ; n < perObjectPerTick; n++ {
		if ctx.Err() != nil {
			break
		}
		e := s.next(obj)
		if e == nil {
			return n
		}
		s.execute(ctx, e)
	}
	s.mu.Lock()
	delete(s.running, obj)
	s.mu.Unlock()
	return n
}

func (s *Scheduler) execute(ctx context.Context, e *Entry) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("QUEUE: panic in entry %s (executor=#%d cmd=%q): %v\n%s",
				e.ID, e.Executor, e.Command, r, debug.Stack())
			s.metrics.ExecutorPanic()
		}
	}()
	timer := time.AfterFunc(slowEntry, func() {
		log.Printf("QUEUE: slow entry %s >%s (executor=#%d cmd=%q)", e.ID, slowEntry, e.Executor, snippet(e.Command))
	})
	defer timer.Stop()

	s.metrics.EntryExecuted()
	if err := s.exec.Execute(ctx, e); err != nil {
		log.Printf("QUEUE: entry %s (executor=#%d): %v", e.ID, e.Executor, err)
	}
}

func snippet(cmd string) string {
	if len(cmd) > 80 {
		return cmd[:80]
	}
	return cmd
}

// Run processes the queue until ctx is cancelled. The tick is fast while
// there is work and slows down when the queue goes quiet.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(idleTick)
	defer ticker.Stop()
	beat := time.NewTicker(heartbeat)
	defer beat.Stop()
	idle := true
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			hadWork := s.tick(ctx) > 0
			if hadWork && idle {
				idle = false
				ticker.Reset(fastTick)
			} else if !hadWork && !idle {
				idle = true
				ticker.Reset(idleTick)
			}
		case <-beat.C:
			if st := s.Stats(); st.Ready+st.Delayed+st.Waiting > 0 {
				log.Printf("QUEUE: heartbeat: %d ready, %d delayed, %d waiting", st.Ready, st.Delayed, st.Waiting)
			}
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) (n int) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("QUEUE: panic in processor: %v", r)
		}
	}()
	return s.ProcessReady(ctx)
}
