package types

import "time"

// NotificationKind classifies a notification.
type NotificationKind string

// Notification kinds emitted by the workflow.
const (
	NotifyStatusChange NotificationKind = "status_change"
	NotifyNewComment   NotificationKind = "new_comment"
	NotifyNewFile      NotificationKind = "new_file"
	NotifyAssignment   NotificationKind = "assignment"
)

// Notification is a message delivered to a user in response to a workflow
// event. Only the Read flag is ever mutated after creation.
type Notification struct {
	// ID is the unique identifier of the notification.
	ID int `json:"id" db:"id"`

	// RecipientID identifies the user the notification is addressed to.
	RecipientID int `json:"recipient_id" db:"recipient_id"`

	// Kind classifies the triggering event.
	Kind NotificationKind `json:"kind" db:"kind"`

	// Message is the rendered notification text.
	Message string `json:"message" db:"message"`

	// FileID references the ECU file the notification is about, if any.
	FileID int `json:"file_id,omitempty" db:"file_id"`

	// Read reports whether the recipient has seen the notification.
	Read bool `json:"read" db:"read"`

	// CreatedAt is the timestamp when the notification was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
