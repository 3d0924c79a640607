package service

import (
    "context"
    "errors"
    "time"
    "unicode/utf8"

    log "github.com/sirupsen/logrus"

    "github.com/iliyamo/mstodo-proxy/internal/model"
    "github.com/iliyamo/mstodo-proxy/internal/queue"
)

// ActivityStore persists activity entries.
type ActivityStore interface {
    Insert(ctx context.Context, entry model.ActivityLog) (model.ActivityLog, error)
    ListByUser(ctx context.Context, userID uint64, limit int) ([]model.ActivityLog, error)
}

// EventPublisher fans a stored entry out to the message broker.
type EventPublisher interface {
    PublishActivity(ctx context.Context, event queue.ActivityRecordedEvent) error
}

// maxTitleRunes matches activity_logs.task_title.
const maxTitleRunes = 1024

// publishTimeout bounds the detached publish that follows a stored entry.
const publishTimeout = 5 * time.Second

// Recorder writes the audit trail of task mutations.
type Recorder struct {
    store  ActivityStore
    events EventPublisher
}

// NewRecorder returns a Recorder.  events may be nil to disable fan-out.
func NewRecorder(store ActivityStore, events EventPublisher) *Recorder {
    return &Recorder{store: store, events: events}
}

// Record stores entry and then publishes it in the background.  Only the
// insert can fail the call; publishing is best effort.
func (r *Recorder) Record(ctx context.Context, entry model.ActivityLog) (model.ActivityLog, error) {
    if entry.UserID == 0 || entry.Action == "" {
        return model.ActivityLog{}, errors.New("activity entry needs a user and an action")
    }
    entry.TaskTitle = clipTitle(entry.TaskTitle)
    saved, err := r.store.Insert(ctx, entry)
    if err != nil {
        return model.ActivityLog{}, err
    }
    if r.events != nil {
        ev := eventFrom(saved)
        go func() {
            pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
            defer cancel()
            if err := r.events.PublishActivity(pctx, ev); err != nil {
                log.WithError(err).WithField("activity_id", ev.ActivityID).Debug("activity publish skipped")
            }
        }()
    }
    return saved, nil
}

// Recent returns a user's latest entries, newest first.
func (r *Recorder) Recent(ctx context.Context, userID uint64, limit int) ([]model.ActivityLog, error) {
    return r.store.ListByUser(ctx, userID, limit)
}

func clipTitle(title *string) *string {
    if title == nil || utf8.RuneCountInString(*title) <= maxTitleRunes {
        return title
    }
    clipped := string([]rune(*title)[:maxTitleRunes])
    return &clipped
}

func eventFrom(a model.ActivityLog) queue.ActivityRecordedEvent {
    deref := func(s *string) string {
        if s == nil {
            return ""
        }
        return *s
    }
    return queue.ActivityRecordedEvent{
        ActivityID: a.ID,
        UserID:     a.UserID,
        Action:     a.Action,
        TaskTitle:  deref(a.TaskTitle),
        ListID:     deref(a.ListID),
        TaskID:     deref(a.TaskID),
        RecordedAt: a.CreatedAt.UTC().Format(time.RFC3339),
    }
}
