package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

type WorkerStatus string

const (
	OnlineWorkerStatus  WorkerStatus = "ONLINE"
	OfflineWorkerStatus WorkerStatus = "OFFLINE"
)

// StringList stores a capability set as a JSON array column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *StringList) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	}
	return errors.Errorf("cannot scan %T into StringList", src)
}

// Contains reports whether kind is in the list. An empty list declares no
// capability at all, never "everything".
func (l StringList) Contains(kind string) bool {
	for _, k := range l {
		if k == kind {
			return true
		}
	}
	return false
}

// Worker is a registered poller. WorkerName is the externally stable identity
// used to tag claimed work; the row id is internal. A worker whose heartbeat
// exceeds the scheduler's timeout is marked OFFLINE and its RUNNING work is
// reclaimed.
type Worker struct {
	ID              string       `json:"id" db:"id"`
	WorkerName      string       `json:"worker_name" db:"worker_name"`
	Status          WorkerStatus `json:"status" db:"status"`
	TaskQueue       string       `json:"task_queue" db:"task_queue"`
	WorkflowKinds   StringList   `json:"workflow_kinds" db:"workflow_kinds"`
	TaskKinds       StringList   `json:"task_kinds" db:"task_kinds"`
	AgentKinds      StringList   `json:"agent_kinds" db:"agent_kinds"`
	LastHeartbeatAt time.Time    `json:"last_heartbeat_at" db:"last_heartbeat_at"`
	CreatedAt       time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at" db:"updated_at"`
}
