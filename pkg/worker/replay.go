package worker

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/flovyn/flovyn/pkg/models"
)

// outcome is the recorded result of a task, child workflow or promise, plus
// the sequence number of the event that delivered it.
type outcome struct {
	failed bool
	result json.RawMessage
	errMsg string
	seq    int64
}

type signalRecord struct {
	seq     int64
	payload json.RawMessage
}

// replayState is the read model a workflow function executes against. It is
// rebuilt from the full event log on every claim; user code then re-runs from
// the top and each deterministic call either finds its answer here or
// suspends the workflow.
type replayState struct {
	input     json.RawMessage
	maxSeq    int64
	cancelled bool

	// Every WORKFLOW_SUSPENDED sequence, in order. Together with progressSeq
	// they reconstruct which run segment the replaying code is currently in.
	suspendSeqs []int64

	// Highest sequence number any consuming call has observed so far in this
	// replay. It advances identically on every replay because consumption
	// order is deterministic.
	progressSeq int64

	tasksScheduled map[string]bool
	taskOutcomes   map[string]outcome

	timersScheduled map[string]time.Time
	timersFired     map[string]int64 // timer id -> sequence of TIMER_FIRED

	childInitiated map[string]bool
	childOutcomes  map[string]outcome

	promises map[string]outcome

	// Settlements this execution issued against other executions, counted per
	// target/name/kind key. Replay emits a resolve or reject command only past
	// the recorded count.
	promiseSettles map[string]int

	// Signals in arrival order, bucketed by name. Cursors advance as user
	// code consumes them; consumption order is deterministic because the
	// consuming calls are.
	signals       map[string][]signalRecord
	signalCursors map[string]int
}

func buildReplayState(events []models.WorkflowEvent) (*replayState, error) {
	st := &replayState{
		tasksScheduled:  map[string]bool{},
		taskOutcomes:    map[string]outcome{},
		timersScheduled: map[string]time.Time{},
		timersFired:     map[string]int64{},
		childInitiated:  map[string]bool{},
		childOutcomes:   map[string]outcome{},
		promises:        map[string]outcome{},
		promiseSettles:  map[string]int{},
		signals:         map[string][]signalRecord{},
		signalCursors:   map[string]int{},
	}
	for _, e := range events {
		if e.SequenceNumber > st.maxSeq {
			st.maxSeq = e.SequenceNumber
		}
		switch e.EventType {
		case models.WorkflowStartedEvent:
			var p models.WorkflowStartedPayload
			if err := json.Unmarshal(e.Payload, &p); err != nil {
				return nil, err
			}
			st.input = p.Input

		case models.TaskScheduledEvent:
			var p models.TaskScheduledPayload
			if err := json.Unmarshal(e.Payload, &p); err != nil {
				return nil, err
			}
			st.tasksScheduled[p.TaskID] = true

		case models.TaskCompletedEvent:
			var p models.TaskCompletedPayload
			if err := json.Unmarshal(e.Payload, &p); err != nil {
				return nil, err
			}
			st.taskOutcomes[p.TaskID] = outcome{result: p.Result, seq: e.SequenceNumber}

		case models.TaskFailedEvent:
			var p models.TaskFailedPayload
			if err := json.Unmarshal(e.Payload, &p); err != nil {
				return nil, err
			}
			st.taskOutcomes[p.TaskID] = outcome{failed: true, errMsg: p.Error, seq: e.SequenceNumber}

		case models.TimerScheduledEvent:
			var p models.TimerScheduledPayload
			if err := json.Unmarshal(e.Payload, &p); err != nil {
				return nil, err
			}
			st.timersScheduled[p.TimerID] = p.FireAt

		case models.TimerFiredEvent:
			var p models.TimerFiredPayload
			if err := json.Unmarshal(e.Payload, &p); err != nil {
				return nil, err
			}
			st.timersFired[p.TimerID] = e.SequenceNumber

		case models.ChildWorkflowInitiatedEvent:
			var p models.ChildWorkflowInitiatedPayload
			if err := json.Unmarshal(e.Payload, &p); err != nil {
				return nil, err
			}
			st.childInitiated[p.ChildWorkflowID] = true

		case models.ChildWorkflowCompletedEvent:
			var p models.ChildWorkflowCompletedPayload
			if err := json.Unmarshal(e.Payload, &p); err != nil {
				return nil, err
			}
			st.childOutcomes[p.ChildWorkflowID] = outcome{failed: p.Failed, result: p.Result, errMsg: p.Error, seq: e.SequenceNumber}

		case models.PromiseResolvedEvent:
			var p models.PromiseResolvedPayload
			if err := json.Unmarshal(e.Payload, &p); err != nil {
				return nil, err
			}
			st.promises[p.Name] = outcome{result: p.Value, seq: e.SequenceNumber}

		case models.PromiseRejectedEvent:
			var p models.PromiseRejectedPayload
			if err := json.Unmarshal(e.Payload, &p); err != nil {
				return nil, err
			}
			st.promises[p.Name] = outcome{failed: true, errMsg: p.Reason, seq: e.SequenceNumber}

		case models.PromiseSettledEvent:
			var p models.PromiseSettledPayload
			if err := json.Unmarshal(e.Payload, &p); err != nil {
				return nil, err
			}
			st.promiseSettles[settleKey(p.WorkflowExecutionID, p.Name, p.Rejected)]++

		case models.SignalReceivedEvent:
			var p models.SignalReceivedPayload
			if err := json.Unmarshal(e.Payload, &p); err != nil {
				return nil, err
			}
			if p.Name == models.CancelSignalName {
				st.cancelled = true
			}
			st.signals[p.Name] = append(st.signals[p.Name], signalRecord{
				seq:     e.SequenceNumber,
				payload: p.Payload,
			})

		case models.WorkflowSuspendedEvent:
			st.suspendSeqs = append(st.suspendSeqs, e.SequenceNumber)
		}
	}
	return st, nil
}

func settleKey(execID, name string, rejected bool) string {
	return fmt.Sprintf("%s\x00%s\x00%t", execID, name, rejected)
}

// observe records that replaying user code has consumed the event at seq.
func (st *replayState) observe(seq int64) {
	if seq > st.progressSeq {
		st.progressSeq = seq
	}
}

// settledBoundary returns the sequence number of the latest suspension the
// replay has already progressed past. Events after that suspension were not
// in the log when the current run segment originally executed, so they must
// stay invisible to non-blocking calls replaying within it.
func (st *replayState) settledBoundary() int64 {
	var boundary int64
	for _, s := range st.suspendSeqs {
		if s < st.progressSeq && s > boundary {
			boundary = s
		}
	}
	return boundary
}

// nextSignal consumes the next unconsumed signal with the given name. When
// settledOnly is set, only signals that had already arrived by the suspension
// closing the current run segment are visible; later arrivals stay queued for
// a blocking wait. That keeps a non-blocking peek from stealing a signal a
// replayed blocking wait further down is about to consume.
func (st *replayState) nextSignal(name string, settledOnly bool) (json.RawMessage, bool) {
	queue := st.signals[name]
	cursor := st.signalCursors[name]
	if cursor >= len(queue) {
		return nil, false
	}
	rec := queue[cursor]
	if settledOnly && rec.seq > st.settledBoundary() {
		return nil, false
	}
	st.signalCursors[name] = cursor + 1
	st.observe(rec.seq)
	return rec.payload, true
}
