package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies a message exchanged over a persistent websocket.
type MessageType string

const (
	// MessageTriggerBackup asks an agent to run a named backup now.
	MessageTriggerBackup MessageType = "trigger-backup"
	// MessageBackupResult is the agent's reply to a trigger-backup message.
	MessageBackupResult MessageType = "backup-result"
	// MessageStatusUpdate is pushed to observers when a trigger changes state.
	MessageStatusUpdate MessageType = "backup-status-update"
	// MessageSubscribe is sent by an observer to follow one client.
	MessageSubscribe MessageType = "subscribe"
	// MessageStatuses is the snapshot sent to an observer right after it subscribes.
	MessageStatuses MessageType = "backup-statuses"
	// MessageError reports a malformed or rejected message back to its sender.
	MessageError MessageType = "error"
)

// TriggerStatus is the lifecycle state of an on-demand trigger.
type TriggerStatus string

const (
	// TriggerStatusQueued means the lock is held but the agent has not been messaged yet.
	TriggerStatusQueued TriggerStatus = "queued"
	// TriggerStatusInProgress means the trigger message was delivered to the agent.
	TriggerStatusInProgress TriggerStatus = "in_progress"
	// TriggerStatusCompleted means the agent reported success.
	TriggerStatusCompleted TriggerStatus = "completed"
	// TriggerStatusFailed means the agent reported failure, timed out, or disconnected.
	TriggerStatusFailed TriggerStatus = "failed"
)

// Envelope is decoded first to find out which concrete message follows.
type Envelope struct {
	Type MessageType `json:"type"`
}

// TriggerBackupMessage is sent server -> agent.
type TriggerBackupMessage struct {
	Type       MessageType `json:"type"`
	BackupName string      `json:"backupName"`
	RequestID  string      `json:"requestId"`
}

// NewTriggerBackupMessage builds a trigger-backup message.
func NewTriggerBackupMessage(backupName, requestID string) TriggerBackupMessage {
	return TriggerBackupMessage{Type: MessageTriggerBackup, BackupName: backupName, RequestID: requestID}
}

// BackupResultMessage is sent agent -> server in reply to a TriggerBackupMessage.
type BackupResultMessage struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"requestId"`
	Success   bool        `json:"success"`
	Error     string      `json:"error,omitempty"`
}

// NewBackupResultMessage builds a backup-result message.
func NewBackupResultMessage(requestID string, success bool, errMsg string) BackupResultMessage {
	return BackupResultMessage{Type: MessageBackupResult, RequestID: requestID, Success: success, Error: errMsg}
}

// StatusUpdateMessage is pushed to observers subscribed to the agent.
type StatusUpdateMessage struct {
	Type       MessageType   `json:"type"`
	BackupName string        `json:"backupName"`
	Status     TriggerStatus `json:"status"`
}

// SubscribeMessage is sent by an observer.
type SubscribeMessage struct {
	Type     MessageType `json:"type"`
	ClientID string      `json:"clientId"`
}

// BackupStatusEntry is one entry of a StatusesMessage snapshot.
type BackupStatusEntry struct {
	BackupName string        `json:"backupName"`
	Status     TriggerStatus `json:"status"`
}

// StatusesMessage is the snapshot of running triggers for one agent.
type StatusesMessage struct {
	Type     MessageType         `json:"type"`
	Statuses []BackupStatusEntry `json:"statuses"`
}

// NewStatusesMessage builds a snapshot listing every running backup name as in_progress.
func NewStatusesMessage(running []string) StatusesMessage {
	entries := make([]BackupStatusEntry, 0, len(running))
	for _, name := range running {
		entries = append(entries, BackupStatusEntry{BackupName: name, Status: TriggerStatusInProgress})
	}
	return StatusesMessage{Type: MessageStatuses, Statuses: entries}
}

// ErrorMessage tells the peer its last message was rejected.
type ErrorMessage struct {
	Type  MessageType `json:"type"`
	Error string      `json:"error"`
}

// TriggerResult is the single outcome shared by every caller attached to one trigger.
type TriggerResult struct {
	RequestID   string    `json:"request_id"`
	ClientID    string    `json:"client_id"`
	BackupName  string    `json:"backup_name"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// DecodeMessage peeks at the type field of raw and unmarshals into the matching struct.
// The returned value is one of the *Message types declared in this file.
func DecodeMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	var msg any
	switch env.Type {
	case MessageTriggerBackup:
		msg = &TriggerBackupMessage{}
	case MessageBackupResult:
		msg = &BackupResultMessage{}
	case MessageStatusUpdate:
		msg = &StatusUpdateMessage{}
	case MessageSubscribe:
		msg = &SubscribeMessage{}
	case MessageStatuses:
		msg = &StatusesMessage{}
	case MessageError:
		msg = &ErrorMessage{}
	default:
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}

	if err := json.Unmarshal(raw, msg); err != nil {
		return nil, fmt.Errorf("decode %s message: %w", env.Type, err)
	}
	return msg, nil
}
