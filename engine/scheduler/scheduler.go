// Package scheduler runs the per-tenant outreach cadence tick
// (spec.md §4.10): once per period, it enqueues an evaluate-then-dispatch
// pair for every tenant whose schedule has come due.
package scheduler

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/AzielCF/az-wap/engine/dispatcher"
	"github.com/AzielCF/az-wap/engine/evaluator"
	"github.com/AzielCF/az-wap/pkg/workerpool"
	domain "github.com/AzielCF/az-wap/store/domain"
)

const defaultTick = 60 * time.Second

// Scheduler drives the recurring tick described in spec.md §4.10. Its
// own tick loop never blocks on I/O: every due tenant is handed off to
// pool as a job, sharded by tenant id so a tenant's Evaluate always
// runs before its Dispatch on the same worker.
type Scheduler struct {
	store      domain.Store
	pool       *workerpool.Pool
	evaluator  *evaluator.Evaluator
	dispatcher *dispatcher.Dispatcher
	tick       time.Duration

	stop chan struct{}
	done chan struct{}
}

func New(store domain.Store, pool *workerpool.Pool, eval *evaluator.Evaluator, disp *dispatcher.Dispatcher, tick time.Duration) *Scheduler {
	if tick <= 0 {
		tick = defaultTick
	}
	return &Scheduler{
		store:      store,
		pool:       pool,
		evaluator:  eval,
		dispatcher: disp,
		tick:       tick,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the ticker goroutine. Call Stop to shut it down.
func (s *Scheduler) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop halts the ticker and waits for the in-flight tick to finish.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	logrus.Infof("[SCHEDULER] started, tick every %s", s.tick)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.runTick(ctx)
		}
	}
}

// runTick is the non-blocking half of spec.md §4.10: it loads due
// schedules and hands each off to the worker pool, never calling the
// evaluator/dispatcher itself. Suspension happens only at enqueue.
func (s *Scheduler) runTick(ctx context.Context) {
	now := time.Now().UTC()
	tenants, err := s.store.DueSchedules(ctx, now)
	if err != nil {
		logrus.WithError(err).Error("[SCHEDULER] failed to load due schedules")
		return
	}
	if len(tenants) == 0 {
		return
	}

	logrus.Infof("[SCHEDULER] tick: %s tenant(s) due", humanize.Comma(int64(len(tenants))))

	for _, tenant := range tenants {
		if !s.claimTenant(ctx, tenant.ID, now) {
			continue
		}
		s.enqueueTenant(tenant.ID)
	}
}

// claimTenant performs the conditional last_sent advance described in
// spec.md §5 so two scheduler instances racing the same tenant produce
// at most one enqueue. A tenant without a Schedule row at all cannot be
// due (DueSchedules only returns active schedules), so GetSchedule
// failing to find one here would indicate a race with a deletion —
// treated as "someone else already claimed/removed it".
func (s *Scheduler) claimTenant(ctx context.Context, tenantID string, now time.Time) bool {
	sched, ok, err := s.store.GetSchedule(ctx, tenantID)
	if err != nil {
		logrus.WithError(err).Errorf("[SCHEDULER] failed to load schedule for tenant %s", tenantID)
		return false
	}
	if !ok {
		return false
	}
	advanced, err := s.store.AdvanceScheduleLastSent(ctx, tenantID, sched.LastSent, now)
	if err != nil {
		logrus.WithError(err).Errorf("[SCHEDULER] failed to advance last_sent for tenant %s", tenantID)
		return false
	}
	if !advanced {
		logrus.Infof("[SCHEDULER] tenant %s already claimed this tick, skipping", tenantID)
	}
	return advanced
}

// enqueueTenant submits Evaluate then Dispatch on the same shard key so
// the worker pool processes them in order for this tenant; ordering
// across tenants, or against a prior tick's jobs still in flight, is
// not guaranteed (spec.md §5).
func (s *Scheduler) enqueueTenant(tenantID string) {
	if !s.pool.TryDispatch(workerpool.Job{
		ShardKey: tenantID,
		Kind:     "evaluate",
		Handler: func(ctx context.Context) error {
			counts, err := s.evaluator.EvaluateTenant(ctx, tenantID)
			if err != nil {
				return err
			}
			logrus.Infof("[SCHEDULER] tenant %s evaluated: %+v", tenantID, counts)
			return nil
		},
	}) {
		logrus.Warnf("[SCHEDULER] evaluate job dropped for tenant %s, queue full", tenantID)
	}

	if !s.pool.TryDispatch(workerpool.Job{
		ShardKey: tenantID,
		Kind:     "dispatch",
		Handler: func(ctx context.Context) error {
			counts, err := s.dispatcher.DispatchTenant(ctx, tenantID)
			if err != nil {
				return err
			}
			logrus.Infof("[SCHEDULER] tenant %s dispatched: %+v", tenantID, counts)
			return nil
		},
	}) {
		logrus.Warnf("[SCHEDULER] dispatch job dropped for tenant %s, queue full", tenantID)
	}
}
