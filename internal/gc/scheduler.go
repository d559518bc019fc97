package gc

import (
	"log"
	"sync"

	"github.com/robfig/cron/v3"
)

// ───────────────────────────────────────────────────────────────────────────
// Scheduler — periodic maintenance
// ───────────────────────────────────────────────────────────────────────────
//
// Grounded on the teacher's internal/storage/scheduler.go (a cron.Cron
// instance driving named jobs through a JobExecutor interface), narrowed
// from arbitrary SQL jobs down to the two maintenance actions a heap
// actually needs run on a cadence: a collection sweep and a minimize pass.

// Scheduler runs FullCollect and Minimize on cron schedules, independent of
// the retry ladder's on-demand collections.
type Scheduler struct {
	heap *Heap
	cron *cron.Cron
	mu   sync.Mutex
}

// NewScheduler creates a Scheduler bound to heap. It does not start running
// until Start is called.
func NewScheduler(heap *Heap) *Scheduler {
	return &Scheduler{
		heap: heap,
		cron: cron.New(cron.WithSeconds()),
	}
}

// ScheduleCollect registers a cron expression (with seconds field, e.g.
// "*/30 * * * * *") on which FullCollect runs.
func (s *Scheduler) ScheduleCollect(cronExpr string) error {
	_, err := s.cron.AddFunc(cronExpr, func() {
		cs, err := s.heap.FullCollect()
		if err != nil {
			log.Printf("gc: scheduled collect failed: %v", err)
			return
		}
		log.Printf("gc: scheduled collect reclaimed %d units across %d pools", cs.PagesReclaimed, cs.PoolsVisited)
	})
	return err
}

// ScheduleMinimize registers a cron expression on which Minimize runs.
func (s *Scheduler) ScheduleMinimize(cronExpr string) error {
	_, err := s.cron.AddFunc(cronExpr, func() {
		if err := s.heap.Minimize(); err != nil {
			log.Printf("gc: scheduled minimize failed: %v", err)
		}
	})
	return err
}

// Start begins running scheduled entries in the background.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cron.Start()
}

// Stop halts the scheduler, waiting for any in-flight entry to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	<-s.cron.Stop().Done()
}
