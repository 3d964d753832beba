package models

import "time"

// Notification is a message dispatched to a participant on a lifecycle
// transition such as cancellation, reschedule or recorded progress.
type Notification struct {
	Recipient string    `json:"recipient"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
