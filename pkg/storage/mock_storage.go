package storage

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/flovyn/flovyn/pkg/models"
)

// MockStore implements Store with in-memory state. It is safe for concurrent
// use and mirrors the claim/append semantics of the Postgres store closely
// enough that the dispatcher and scheduler can be tested against it directly.
// Begin returns the store itself: there is no transactional isolation, only
// operation-level atomicity, which is what the engine's invariants rely on.
type MockStore struct {
	mu sync.Mutex

	workflows map[string]*models.WorkflowExecution
	tasks     map[string]*models.TaskExecution
	agents    map[string]*models.AgentExecution
	timers    map[string]*models.Timer
	workers   map[string]*models.Worker // keyed by worker_name

	events      map[string][]models.WorkflowEvent
	eventLocks  map[string]*sync.Mutex
	entries     map[string][]models.AgentEntry
	checkpoints map[string][]models.AgentCheckpoint

	nextEventID int64
}

func NewMockStore() *MockStore {
	return &MockStore{
		workflows:   make(map[string]*models.WorkflowExecution),
		tasks:       make(map[string]*models.TaskExecution),
		agents:      make(map[string]*models.AgentExecution),
		timers:      make(map[string]*models.Timer),
		workers:     make(map[string]*models.Worker),
		events:      make(map[string][]models.WorkflowEvent),
		eventLocks:  make(map[string]*sync.Mutex),
		entries:     make(map[string][]models.AgentEntry),
		checkpoints: make(map[string][]models.AgentCheckpoint),
	}
}

func (m *MockStore) Begin() (Store, error) { return m, nil }
func (m *MockStore) Commit() error         { return nil }
func (m *MockStore) Rollback() error       { return nil }
func (m *MockStore) Close() error          { return nil }

// execLock serializes sequence assignment per execution, the in-memory
// analogue of the Postgres advisory lock.
func (m *MockStore) execLock(execID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.eventLocks[execID]
	if !ok {
		l = &sync.Mutex{}
		m.eventLocks[execID] = l
	}
	return l
}

func (m *MockStore) AppendEvent(execID string, event models.WorkflowEvent) (int64, error) {
	seqs, err := m.AppendEvents(execID, []models.WorkflowEvent{event})
	if err != nil {
		return 0, err
	}
	return seqs[0], nil
}

func (m *MockStore) AppendEvents(execID string, events []models.WorkflowEvent) ([]int64, error) {
	l := m.execLock(execID)
	l.Lock()
	defer l.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	seqs := make([]int64, 0, len(events))
	next := int64(len(m.events[execID])) + 1
	for _, e := range events {
		m.nextEventID++
		e.ID = m.nextEventID
		e.ExecutionID = execID
		e.SequenceNumber = next
		e.CreatedAt = time.Now()
		m.events[execID] = append(m.events[execID], e)
		seqs = append(seqs, next)
		next++
	}
	if wf, ok := m.workflows[execID]; ok {
		wf.CurrentSequence = next - 1
	}
	return seqs, nil
}

func (m *MockStore) ListEvents(execID string) ([]models.WorkflowEvent, error) {
	return m.ListEventsAfter(execID, 0)
}

func (m *MockStore) ListEventsAfter(execID string, afterSeq int64) ([]models.WorkflowEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.WorkflowEvent
	for _, e := range m.events[execID] {
		if e.SequenceNumber > afterSeq {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MockStore) CreateWorkflowExecution(wf models.WorkflowExecution) (models.WorkflowExecution, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if wf.IdempotencyKey != nil {
		for _, existing := range m.workflows {
			if existing.IdempotencyKey != nil && *existing.IdempotencyKey == *wf.IdempotencyKey {
				return *existing, false, nil
			}
		}
	}
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	now := time.Now()
	wf.CreatedAt = now
	wf.UpdatedAt = now
	cp := wf
	m.workflows[wf.ID] = &cp
	return wf, true, nil
}

func (m *MockStore) GetWorkflowExecution(id string) (models.WorkflowExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return models.WorkflowExecution{}, ErrNotFound
	}
	return *wf, nil
}

// GetWorkflowExecutionForUpdate has no lock to take here: MockStore mutations
// are atomic under the store mutex, which is the isolation its callers get.
func (m *MockStore) GetWorkflowExecutionForUpdate(id string) (models.WorkflowExecution, error) {
	return m.GetWorkflowExecution(id)
}

func (m *MockStore) ListWorkflowExecutions(f WorkflowFilter) ([]models.WorkflowExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.WorkflowExecution
	for _, wf := range m.workflows {
		if f.Status != "" && wf.Status != f.Status {
			continue
		}
		if f.Kind != "" && wf.Kind != f.Kind {
			continue
		}
		if f.TaskQueue != "" && wf.TaskQueue != f.TaskQueue {
			continue
		}
		if f.ParentID != nil && (wf.ParentWorkflowID == nil || *wf.ParentWorkflowID != *f.ParentID) {
			continue
		}
		out = append(out, *wf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MockStore) ClaimWorkflowExecution(queue string, kinds []string, workerName string) (models.WorkflowExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var candidates []*models.WorkflowExecution
	for _, wf := range m.workflows {
		if wf.Status != models.PendingWorkflowStatus || wf.TaskQueue != queue {
			continue
		}
		if !containsString(kinds, wf.Kind) {
			continue
		}
		candidates = append(candidates, wf)
	}
	if len(candidates) == 0 {
		return models.WorkflowExecution{}, ErrNoWork
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].PriorityMS != candidates[j].PriorityMS {
			return candidates[i].PriorityMS < candidates[j].PriorityMS
		}
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		}
		return candidates[i].ID < candidates[j].ID
	})
	wf := candidates[0]
	wf.Status = models.RunningWorkflowStatus
	name := workerName
	wf.WorkerID = &name
	wf.UpdatedAt = time.Now()
	return *wf, nil
}

func (m *MockStore) SuspendWorkflowExecution(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return ErrNotFound
	}
	wf.Status = models.WaitingWorkflowStatus
	wf.WorkerID = nil
	wf.UpdatedAt = time.Now()
	return nil
}

func (m *MockStore) ResumeWorkflowExecution(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return false, ErrNotFound
	}
	if wf.Status != models.WaitingWorkflowStatus {
		return false, nil
	}
	wf.Status = models.PendingWorkflowStatus
	wf.WorkerID = nil
	wf.UpdatedAt = time.Now()
	return true, nil
}

func (m *MockStore) CompleteWorkflowExecution(id string, result []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return ErrNotFound
	}
	wf.Status = models.CompletedWorkflowStatus
	wf.Result = result
	wf.WorkerID = nil
	wf.UpdatedAt = time.Now()
	return nil
}

func (m *MockStore) FailWorkflowExecution(id string, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return ErrNotFound
	}
	wf.Status = models.FailedWorkflowStatus
	wf.ErrorMsg = errMsg
	wf.WorkerID = nil
	wf.UpdatedAt = time.Now()
	return nil
}

func (m *MockStore) ListWaitingWorkflowIDs() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for id, wf := range m.workflows {
		if wf.Status == models.WaitingWorkflowStatus {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MockStore) CreateTaskExecution(t models.TaskExecution) (models.TaskExecution, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.IdempotencyKey != nil {
		for _, existing := range m.tasks {
			if existing.TaskQueue == t.TaskQueue && existing.IdempotencyKey != nil && *existing.IdempotencyKey == *t.IdempotencyKey {
				return *existing, false, nil
			}
		}
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = models.PendingTaskStatus
	}
	cp := t
	m.tasks[t.ID] = &cp
	return t, true, nil
}

func (m *MockStore) GetTaskExecution(id string) (models.TaskExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return models.TaskExecution{}, ErrNotFound
	}
	return *t, nil
}

func (m *MockStore) GetTaskExecutions(ids []string) ([]models.TaskExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.TaskExecution, 0, len(ids))
	for _, id := range ids {
		if t, ok := m.tasks[id]; ok {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *MockStore) ListTaskExecutions(f TaskFilter) ([]models.TaskExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TaskExecution
	for _, t := range m.tasks {
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.Kind != "" && t.Kind != f.Kind {
			continue
		}
		if f.TaskQueue != "" && t.TaskQueue != f.TaskQueue {
			continue
		}
		if f.WorkflowExecutionID != nil && (t.WorkflowExecutionID == nil || *t.WorkflowExecutionID != *f.WorkflowExecutionID) {
			continue
		}
		if f.AgentExecutionID != nil && (t.AgentExecutionID == nil || *t.AgentExecutionID != *f.AgentExecutionID) {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MockStore) ClaimTaskExecution(queue string, kinds []string, workerName string) (models.TaskExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var candidates []*models.TaskExecution
	for _, t := range m.tasks {
		if t.Status != models.PendingTaskStatus || t.TaskQueue != queue {
			continue
		}
		if !containsString(kinds, t.Kind) {
			continue
		}
		candidates = append(candidates, t)
	}
	if len(candidates) == 0 {
		return models.TaskExecution{}, ErrNoWork
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		}
		return candidates[i].ID < candidates[j].ID
	})
	t := candidates[0]
	t.Status = models.RunningTaskStatus
	name := workerName
	t.WorkerID = &name
	t.ExecutionCount++
	now := time.Now()
	t.StartedAt = &now
	t.UpdatedAt = now
	return *t, nil
}

func (m *MockStore) MarkTaskExecution(id string, status models.TaskStatus, result []byte, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if t.Status.Terminal() {
		return errors.Wrapf(ErrConflict, "task %s is already terminal", id)
	}
	t.Status = status
	t.Result = result
	t.ErrorMsg = errMsg
	t.WorkerID = nil
	now := time.Now()
	t.UpdatedAt = now
	if status.Terminal() {
		t.FinishedAt = &now
	}
	return nil
}

func (m *MockStore) RequeueTaskExecution(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	t.Status = models.PendingTaskStatus
	t.WorkerID = nil
	t.UpdatedAt = time.Now()
	return nil
}

func (m *MockStore) UpdateTaskProgress(id string, progress []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	t.Progress = progress
	t.UpdatedAt = time.Now()
	return nil
}

func (m *MockStore) CreateTimer(t models.Timer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.CreatedAt = time.Now()
	cp := t
	m.timers[t.ID] = &cp
	return nil
}

func (m *MockStore) ClaimDueTimers(now time.Time, limit int) ([]models.Timer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*models.Timer
	for _, t := range m.timers {
		if t.FiredAt == nil && !t.FireAt.After(now) {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].FireAt.Before(due[j].FireAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]models.Timer, 0, len(due))
	for _, t := range due {
		fired := now
		t.FiredAt = &fired
		out = append(out, *t)
	}
	return out, nil
}

func (m *MockStore) UpsertWorker(w models.Worker) (models.Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if existing, ok := m.workers[w.WorkerName]; ok {
		existing.Status = models.OnlineWorkerStatus
		existing.TaskQueue = w.TaskQueue
		existing.WorkflowKinds = w.WorkflowKinds
		existing.TaskKinds = w.TaskKinds
		existing.AgentKinds = w.AgentKinds
		existing.LastHeartbeatAt = now
		existing.UpdatedAt = now
		return *existing, nil
	}
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	w.Status = models.OnlineWorkerStatus
	w.LastHeartbeatAt = now
	w.CreatedAt = now
	w.UpdatedAt = now
	cp := w
	m.workers[w.WorkerName] = &cp
	return w, nil
}

func (m *MockStore) GetWorker(name string) (models.Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[name]
	if !ok {
		return models.Worker{}, ErrNotFound
	}
	return *w, nil
}

func (m *MockStore) ListWorkers() ([]models.Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Worker, 0, len(m.workers))
	for _, w := range m.workers {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkerName < out[j].WorkerName })
	return out, nil
}

func (m *MockStore) HeartbeatWorker(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[name]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	w.Status = models.OnlineWorkerStatus
	w.LastHeartbeatAt = now
	w.UpdatedAt = now
	return nil
}

func (m *MockStore) MarkStaleWorkersOffline(cutoff time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stale []string
	for _, w := range m.workers {
		if w.Status == models.OnlineWorkerStatus && w.LastHeartbeatAt.Before(cutoff) {
			w.Status = models.OfflineWorkerStatus
			w.UpdatedAt = time.Now()
			stale = append(stale, w.WorkerName)
		}
	}
	sort.Strings(stale)
	return stale, nil
}

func (m *MockStore) ListOnlineWorkerNames() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, w := range m.workers {
		if w.Status == models.OnlineWorkerStatus {
			out = append(out, w.WorkerName)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MockStore) ReclaimByWorkerNames(names []string) (ReclaimStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reclaimLocked(func(worker string) bool { return containsString(names, worker) }), nil
}

func (m *MockStore) ReclaimOrphaned(onlineNames []string) (ReclaimStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reclaimLocked(func(worker string) bool { return !containsString(onlineNames, worker) }), nil
}

func (m *MockStore) reclaimLocked(match func(worker string) bool) ReclaimStats {
	var stats ReclaimStats
	now := time.Now()
	for _, wf := range m.workflows {
		if wf.Status == models.RunningWorkflowStatus && wf.WorkerID != nil && match(*wf.WorkerID) {
			wf.Status = models.PendingWorkflowStatus
			wf.WorkerID = nil
			wf.UpdatedAt = now
			stats.Workflows++
		}
	}
	for _, t := range m.tasks {
		if t.Status == models.RunningTaskStatus && t.WorkerID != nil && match(*t.WorkerID) {
			t.Status = models.PendingTaskStatus
			t.WorkerID = nil
			t.UpdatedAt = now
			stats.Tasks++
		}
	}
	for _, a := range m.agents {
		if a.Status == models.RunningAgentStatus && a.WorkerID != nil && match(*a.WorkerID) {
			a.Status = models.PendingAgentStatus
			a.WorkerID = nil
			a.UpdatedAt = now
			stats.Agents++
		}
	}
	return stats
}

func (m *MockStore) CreateAgentExecution(a models.AgentExecution) (models.AgentExecution, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.IdempotencyKey != nil {
		for _, existing := range m.agents {
			if existing.IdempotencyKey != nil && *existing.IdempotencyKey == *a.IdempotencyKey {
				return *existing, false, nil
			}
		}
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now
	if a.Status == "" {
		a.Status = models.PendingAgentStatus
	}
	cp := a
	m.agents[a.ID] = &cp
	return a, true, nil
}

func (m *MockStore) GetAgentExecution(id string) (models.AgentExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return models.AgentExecution{}, ErrNotFound
	}
	return *a, nil
}

func (m *MockStore) ListAgentExecutions(status models.AgentStatus, limit int) ([]models.AgentExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AgentExecution
	for _, a := range m.agents {
		if status != "" && a.Status != status {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockStore) ClaimAgentExecution(queue string, kinds []string, workerName string) (models.AgentExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var candidates []*models.AgentExecution
	for _, a := range m.agents {
		if a.Status != models.PendingAgentStatus || a.TaskQueue != queue {
			continue
		}
		if !containsString(kinds, a.Kind) {
			continue
		}
		candidates = append(candidates, a)
	}
	if len(candidates) == 0 {
		return models.AgentExecution{}, ErrNoWork
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		}
		return candidates[i].ID < candidates[j].ID
	})
	a := candidates[0]
	a.Status = models.RunningAgentStatus
	name := workerName
	a.WorkerID = &name
	a.UpdatedAt = time.Now()
	return *a, nil
}

func (m *MockStore) SuspendAgentExecution(id string, awaitedTaskIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return ErrNotFound
	}
	a.Status = models.WaitingForTasksAgentStatus
	a.AwaitedTaskIDs = awaitedTaskIDs
	a.WorkerID = nil
	a.UpdatedAt = time.Now()
	return nil
}

func (m *MockStore) ResumeAgentExecution(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return false, ErrNotFound
	}
	if a.Status != models.WaitingForTasksAgentStatus {
		return false, nil
	}
	a.Status = models.PendingAgentStatus
	a.AwaitedTaskIDs = nil
	a.WorkerID = nil
	a.UpdatedAt = time.Now()
	return true, nil
}

func (m *MockStore) CompleteAgentExecution(id string, result []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return ErrNotFound
	}
	a.Status = models.CompletedAgentStatus
	a.Result = result
	a.WorkerID = nil
	a.UpdatedAt = time.Now()
	return nil
}

func (m *MockStore) FailAgentExecution(id string, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return ErrNotFound
	}
	a.Status = models.FailedAgentStatus
	a.ErrorMsg = errMsg
	a.WorkerID = nil
	a.UpdatedAt = time.Now()
	return nil
}

func (m *MockStore) AppendAgentEntry(e models.AgentEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.entries[e.AgentExecutionID] {
		if existing.ID == e.ID {
			return false, nil
		}
	}
	e.CreatedAt = time.Now()
	m.entries[e.AgentExecutionID] = append(m.entries[e.AgentExecutionID], e)
	return true, nil
}

func (m *MockStore) ListAgentEntries(agentID string) ([]models.AgentEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.AgentEntry, len(m.entries[agentID]))
	copy(out, m.entries[agentID])
	return out, nil
}

func (m *MockStore) SaveAgentCheckpoint(c models.AgentCheckpoint) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.CheckpointSeq = int64(len(m.checkpoints[c.AgentExecutionID])) + 1
	c.ID = c.CheckpointSeq
	c.CreatedAt = time.Now()
	m.checkpoints[c.AgentExecutionID] = append(m.checkpoints[c.AgentExecutionID], c)
	return c.CheckpointSeq, nil
}

func (m *MockStore) LatestAgentCheckpoint(agentID string) (models.AgentCheckpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cps := m.checkpoints[agentID]
	if len(cps) == 0 {
		return models.AgentCheckpoint{}, ErrNotFound
	}
	return cps[len(cps)-1], nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
