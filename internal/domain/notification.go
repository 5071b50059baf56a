package domain

import "time"

// NotificationLevel grades user-facing notifications.
type NotificationLevel string

const (
	LevelInfo    NotificationLevel = "info"
	LevelSuccess NotificationLevel = "success"
	LevelWarning NotificationLevel = "warning"
	LevelError   NotificationLevel = "error"
)

// ActionOpenCredentialSettings asks the UI to surface the credential form.
const ActionOpenCredentialSettings = "open-credential-settings"

// Notification is a title/message pair surfaced to the user.
type Notification struct {
	Level     NotificationLevel `json:"level"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Action    string            `json:"action,omitempty"`
	JobID     string            `json:"jobId,omitempty"`
	JobKind   JobKind           `json:"jobKind,omitempty"`
	ErrorKind ErrorKind         `json:"errorKind,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Push message actions.
const (
	PushGenerationStatusChanged = "generationStatusChanged"
	PushNotification            = "notification"
)

// PushMessage is the best-effort background to UI message.
type PushMessage struct {
	Action       string        `json:"action"`
	InProgress   bool          `json:"inProgress"`
	StartTime    *time.Time    `json:"startTime"`
	JobID        string        `json:"jobId,omitempty"`
	JobKind      JobKind       `json:"jobKind,omitempty"`
	Status       JobStatus     `json:"status,omitempty"`
	Notification *Notification `json:"notification,omitempty"`
}
