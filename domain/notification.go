package domain

import "time"

const (
	NotificationTaskUpdated = "TASK_UPDATED"
	NotificationTaskDeleted = "TASK_DELETED"
)

// Notification is the message carried on the notification queue. UserID is
// the recipient; ActorID is the user whose change produced it.
type Notification struct {
	TaskID        string    `json:"taskId"`
	UserID        string    `json:"userId"`
	ActorID       string    `json:"actorId,omitempty"`
	Type          string    `json:"type"`
	Message       string    `json:"message"`
	UpdatedFields []string  `json:"updatedFields"`
	UpdatedTask   *Task     `json:"updatedTask,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// RenderedNotification is a notification ready for delivery.
type RenderedNotification struct {
	To      string `json:"to"`
	UserID  string `json:"userId"`
	TaskID  string `json:"taskId"`
	Type    string `json:"type"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html"`
}

// UploadGrant is a time-limited permission to upload one file for a task.
type UploadGrant struct {
	UploadURL    string    `json:"uploadUrl"`
	FileKey      string    `json:"fileKey"`
	AttachmentID string    `json:"attachmentId"`
	ExpiresAt    time.Time `json:"expiresAt"`
}
