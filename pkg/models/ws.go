package models

import (
	"encoding/json"
	"time"
)

type WSMessageType string

const (
	WSSubscribe             WSMessageType = "subscribe"
	WSUnsubscribe           WSMessageType = "unsubscribe"
	WSPing                  WSMessageType = "ping"
	WSCancelTask            WSMessageType = "cancel_task"
	WSTaskUpdate            WSMessageType = "task_update"
	WSInitialStatus         WSMessageType = "initial_status"
	WSPong                  WSMessageType = "pong"
	WSConnectionEstablished WSMessageType = "connection_established"
	WSTaskSubscribed        WSMessageType = "task_subscribed"
	WSError                 WSMessageType = "error"
)

// WSMessage is a single frame in either direction.
type WSMessage struct {
	Type      WSMessageType   `json:"type"`
	TaskID    string          `json:"task_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
}

// TaskIDData is the payload of subscribe, unsubscribe and cancel_task.
type TaskIDData struct {
	TaskID string `json:"task_id"`
}

// TaskUpdate decodes the data of task_update and initial_status frames.
func (m WSMessage) TaskUpdate() (*Task, error) {
	t := &Task{}
	if len(m.Data) > 0 {
		if err := json.Unmarshal(m.Data, t); err != nil {
			return nil, err
		}
	}
	if t.ID == "" {
		t.ID = m.TaskID
	}
	return t, nil
}
