package model

import "time"

// Activity actions recorded for task mutations.
const (
    ActionCreate = "CREATE"
    ActionUpdate = "UPDATE"
    ActionDelete = "DELETE"
)

// ActivityLog models an entry in the append-only `activity_logs` table.
// Only mutations forwarded to Microsoft To Do are recorded; reads are not.
//
// Fields:
//  ID        – primary key identifier.
//  UserID    – identity that performed the mutation.
//  Action    – one of CREATE, UPDATE, DELETE.
//  TaskTitle – title of the task when known.
//  ListID    – To Do list the task belongs to.
//  TaskID    – remote task identifier.
//  CreatedAt – timestamp of the entry.
type ActivityLog struct {
    ID        uint64     // activity_logs.id
    UserID    uint64     // activity_logs.user_id
    Action    string     // activity_logs.action
    TaskTitle *string    // activity_logs.task_title (nullable)
    ListID    *string    // activity_logs.list_id (nullable)
    TaskID    *string    // activity_logs.task_id (nullable)
    CreatedAt time.Time  // activity_logs.created_at
}
