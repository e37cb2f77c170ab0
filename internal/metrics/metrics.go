package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsAppended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flovyn_events_appended_total",
		Help: "Events appended to execution logs.",
	})

	SequenceConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flovyn_sequence_conflicts_total",
		Help: "Event appends that lost a sequence-number race.",
	})

	WorkflowsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flovyn_workflows_started_total",
		Help: "Workflow executions created.",
	})

	WorkflowsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flovyn_workflows_finished_total",
		Help: "Workflow executions reaching a terminal state.",
	}, []string{"status"})

	TasksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flovyn_tasks_finished_total",
		Help: "Task executions reaching a terminal state.",
	}, []string{"status"})

	TimersFired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flovyn_timers_fired_total",
		Help: "Timers fired by the scheduler.",
	})

	ExecutionsReclaimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flovyn_executions_reclaimed_total",
		Help: "Executions returned to PENDING after their worker went away.",
	}, []string{"type"})

	NotificationsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flovyn_notifications_dropped_total",
		Help: "Best-effort notifications dropped on slow subscribers.",
	})
)
