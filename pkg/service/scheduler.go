package service

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/flovyn/flovyn/internal/metrics"
	"github.com/flovyn/flovyn/pkg/models"
	"github.com/flovyn/flovyn/pkg/storage"
)

// SchedulerConfig tunes the background passes. Zero values fall back to the
// defaults below.
type SchedulerConfig struct {
	// TimerInterval is how often due timers are fired.
	TimerInterval time.Duration
	// HeartbeatTimeout is how stale a worker heartbeat may be before the
	// worker is marked OFFLINE and its work reclaimed.
	HeartbeatTimeout time.Duration
	// SweepInterval is how often the orphan sweep and the waiting-workflow
	// safety net run.
	SweepInterval time.Duration
	// TimerBatchSize caps how many timers one pass fires.
	TimerBatchSize int
}

func (c *SchedulerConfig) applyDefaults() {
	if c.TimerInterval <= 0 {
		c.TimerInterval = time.Second
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 30 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 15 * time.Second
	}
	if c.TimerBatchSize <= 0 {
		c.TimerBatchSize = 100
	}
}

// Scheduler runs the engine's periodic duties: firing due timers, detecting
// dead workers and reclaiming their work, sweeping orphaned RUNNING rows and
// resuming WAITING workflows whose wakeup slipped through. Multiple scheduler
// instances may run against the same database; claim semantics keep each
// timer and reclaim single-owner.
type Scheduler struct {
	store    storage.Store
	notifier *Notifier
	logger   Logger
	cfg      SchedulerConfig
	cron     *cron.Cron
}

func NewScheduler(store storage.Store, notifier *Notifier, logger Logger, cfg SchedulerConfig) *Scheduler {
	cfg.applyDefaults()
	return &Scheduler{
		store:    store,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
	}
}

// Start registers the periodic jobs and launches them. Call Stop to halt.
func (s *Scheduler) Start() error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(every(s.cfg.TimerInterval), s.fireDueTimers); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(every(s.cfg.HeartbeatTimeout/3), s.detectStaleWorkers); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(every(s.cfg.SweepInterval), s.sweepOrphans); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(every(s.cfg.SweepInterval), s.resumeEligible); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Infof("Scheduler started (timers every %s, heartbeat timeout %s, sweep every %s)",
		s.cfg.TimerInterval, s.cfg.HeartbeatTimeout, s.cfg.SweepInterval)
	return nil
}

// Stop halts the periodic jobs and waits for in-flight ones to finish.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

func every(d time.Duration) string {
	if d < time.Second {
		d = time.Second
	}
	return fmt.Sprintf("@every %s", d)
}

// fireDueTimers claims due timers and turns each into a TIMER_FIRED event on
// its workflow's log, resuming the workflow if it was waiting. The claim
// stamps fired_at atomically, so each timer fires exactly once even with
// concurrent scheduler instances.
func (s *Scheduler) fireDueTimers() {
	timers, err := s.store.ClaimDueTimers(time.Now().UTC(), s.cfg.TimerBatchSize)
	if err != nil {
		s.logger.Errorf("Failed to claim due timers: %v", err)
		return
	}
	for _, t := range timers {
		if err := s.fireTimer(t); err != nil {
			s.logger.Errorf("Failed to fire timer %s for workflow %s: %v", t.ID, t.WorkflowExecutionID, err)
			continue
		}
		metrics.TimersFired.Inc()
	}
}

func (s *Scheduler) fireTimer(t models.Timer) (err error) {
	txStore, err := s.store.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				s.logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			s.logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
		}
	}()

	event, err := models.NewEvent(t.WorkflowExecutionID, models.TimerFiredEvent, models.TimerFiredPayload{TimerID: t.ID})
	if err != nil {
		return err
	}
	if _, err = txStore.AppendEvent(t.WorkflowExecutionID, event); err != nil {
		return err
	}
	metrics.EventsAppended.Inc()

	resumed, err := txStore.ResumeWorkflowExecution(t.WorkflowExecutionID)
	if err != nil {
		return err
	}
	if resumed {
		wf, err := txStore.GetWorkflowExecution(t.WorkflowExecutionID)
		if err != nil {
			return err
		}
		s.logger.Debugf("Timer %s fired, workflow %s resumed", t.ID, wf.ID)
		s.notifier.Notify(Notification{Type: WorkflowNotification, Queue: wf.TaskQueue, Kind: wf.Kind})
	}
	return nil
}

// detectStaleWorkers marks workers past the heartbeat timeout OFFLINE and
// immediately requeues everything they held.
func (s *Scheduler) detectStaleWorkers() {
	cutoff := time.Now().UTC().Add(-s.cfg.HeartbeatTimeout)
	stale, err := s.store.MarkStaleWorkersOffline(cutoff)
	if err != nil {
		s.logger.Errorf("Failed to mark stale workers offline: %v", err)
		return
	}
	if len(stale) == 0 {
		return
	}
	s.logger.Warnf("Workers went stale: %v", stale)
	stats, err := s.store.ReclaimByWorkerNames(stale)
	if err != nil {
		s.logger.Errorf("Failed to reclaim work from stale workers: %v", err)
		return
	}
	s.recordReclaim(stats)
}

// sweepOrphans requeues RUNNING work attributed to any worker not currently
// online. It backstops detectStaleWorkers against rows claimed by workers
// that never registered or whose offline transition was missed.
func (s *Scheduler) sweepOrphans() {
	online, err := s.store.ListOnlineWorkerNames()
	if err != nil {
		s.logger.Errorf("Failed to list online workers: %v", err)
		return
	}
	stats, err := s.store.ReclaimOrphaned(online)
	if err != nil {
		s.logger.Errorf("Failed to reclaim orphaned work: %v", err)
		return
	}
	s.recordReclaim(stats)
}

func (s *Scheduler) recordReclaim(stats storage.ReclaimStats) {
	if stats.Total() == 0 {
		return
	}
	metrics.ExecutionsReclaimed.WithLabelValues("workflow").Add(float64(stats.Workflows))
	metrics.ExecutionsReclaimed.WithLabelValues("task").Add(float64(stats.Tasks))
	metrics.ExecutionsReclaimed.WithLabelValues("agent").Add(float64(stats.Agents))
	s.logger.Infof("Reclaimed %d workflows, %d tasks, %d agents", stats.Workflows, stats.Tasks, stats.Agents)
	// A broad nudge; idle pollers re-poll and claim whatever matches them.
	s.notifier.Notify(Notification{Type: WorkflowNotification})
	s.notifier.Notify(Notification{Type: TaskNotification})
	s.notifier.Notify(Notification{Type: AgentNotification})
}

// resumeEligible is the last safety net for missed wakeups: any WAITING
// workflow whose log already holds a wake event past its last suspension is
// moved back to PENDING.
func (s *Scheduler) resumeEligible() {
	ids, err := s.store.ListWaitingWorkflowIDs()
	if err != nil {
		s.logger.Errorf("Failed to list waiting workflows: %v", err)
		return
	}
	for _, id := range ids {
		events, err := s.store.ListEvents(id)
		if err != nil {
			s.logger.Errorf("Failed to list events for workflow %s: %v", id, err)
			continue
		}
		var suspendedAt int64
		for _, e := range events {
			if e.EventType == models.WorkflowSuspendedEvent {
				suspendedAt = e.SequenceNumber
			}
		}
		eligible := false
		for _, e := range events {
			if e.SequenceNumber > suspendedAt && e.EventType.WakeEvent() {
				eligible = true
				break
			}
		}
		if !eligible {
			continue
		}
		resumed, err := s.store.ResumeWorkflowExecution(id)
		if err != nil {
			s.logger.Errorf("Failed to resume workflow %s: %v", id, err)
			continue
		}
		if resumed {
			wf, err := s.store.GetWorkflowExecution(id)
			if err != nil {
				s.logger.Errorf("Failed to load workflow %s after resume: %v", id, err)
				continue
			}
			s.logger.Infof("Safety-net resume for workflow %s", id)
			s.notifier.Notify(Notification{Type: WorkflowNotification, Queue: wf.TaskQueue, Kind: wf.Kind})
		}
	}
}
