// Package queue defines message payloads exchanged over the message broker
// and the background consumer that records them.
package queue

// ActivityQueueName is the durable queue carrying ActivityRecordedEvent.
const ActivityQueueName = "activity.recorded"

// ActivityRecordedEvent is published after a task mutation has been
// forwarded to Microsoft To Do and stored in activity_logs.  It carries
// enough to log or notify without querying the primary database.
type ActivityRecordedEvent struct {
    ActivityID uint64 `json:"activity_id"`
    UserID     uint64 `json:"user_id"`
    Action     string `json:"action"`
    TaskTitle  string `json:"task_title,omitempty"`
    ListID     string `json:"list_id,omitempty"`
    TaskID     string `json:"task_id,omitempty"`
    RecordedAt string `json:"recorded_at"`
}
