package domain

// QueueMessage is a message handed to a batch processor.
type QueueMessage struct {
	ID           string
	PopReceipt   string
	Body         string
	DequeueCount int64
}

// BatchSuccess describes a message that was processed.
type BatchSuccess struct {
	MessageID     string   `json:"messageId"`
	Operation     string   `json:"operation,omitempty"`
	TaskID        string   `json:"taskId,omitempty"`
	UserID        string   `json:"userId,omitempty"`
	Recipient     string   `json:"recipient,omitempty"`
	UpdatedFields []string `json:"updatedFields,omitempty"`
	Duplicate     bool     `json:"duplicate,omitempty"`
	Result        any      `json:"result,omitempty"`
}

// BatchFailure describes a message that could not be processed.
type BatchFailure struct {
	MessageID string `json:"messageId"`
	Error     string `json:"error"`
}

// BatchResult partitions per-message outcomes. The failed subset is what a
// queue trigger redelivers.
type BatchResult struct {
	Successful []BatchSuccess `json:"successful"`
	Failed     []BatchFailure `json:"failed"`
}

// NewBatchResult returns a result with non-nil slices so it encodes as lists.
func NewBatchResult(capacity int) BatchResult {
	return BatchResult{
		Successful: make([]BatchSuccess, 0, capacity),
		Failed:     make([]BatchFailure, 0),
	}
}

// Succeeded reports whether the message id is in the successful subset.
func (r BatchResult) Succeeded(id string) bool {
	for _, s := range r.Successful {
		if s.MessageID == id {
			return true
		}
	}
	return false
}
