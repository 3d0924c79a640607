package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    log "github.com/sirupsen/logrus"
)

// StartActivityConsumer connects to RabbitMQ, declares the activity.recorded
// queue (durable) and appends each message to <logDir>/activity.log as one
// line.  It reconnects with backoff until ctx is cancelled, then returns
// ctx.Err().  Undecodable messages are rejected without requeue.
func StartActivityConsumer(ctx context.Context, url, logDir string) error {
    backoff := time.Second
    for {
        conn, err := amqp.Dial(url)
        if err != nil {
            log.WithError(err).WithField("retry_in", backoff.String()).Warn("activity-consumer: dial failed")
            if !sleepCtx(ctx, backoff) {
                return ctx.Err()
            }
            if backoff < 30*time.Second {
                backoff *= 2
            }
            continue
        }
        backoff = time.Second

        err = consumeLoop(ctx, conn, logDir)
        _ = conn.Close()
        if ctx.Err() != nil {
            return ctx.Err()
        }
        log.WithError(err).Warn("activity-consumer: consume loop ended, reconnecting")
        if !sleepCtx(ctx, 2*time.Second) {
            return ctx.Err()
        }
    }
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return false
    case <-t.C:
        return true
    }
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, logDir string) error {
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if err := ch.Qos(50, 0, false); err != nil {
        log.WithError(err).Warn("activity-consumer: set QoS failed")
    }
    if _, err := ch.QueueDeclare(ActivityQueueName, true, false, false, false, nil); err != nil {
        return fmt.Errorf("queue declare: %w", err)
    }
    msgs, err := ch.ConsumeWithContext(ctx, ActivityQueueName, "", false, false, false, false, nil)
    if err != nil {
        return fmt.Errorf("queue consume: %w", err)
    }

    for d := range msgs {
        if err := handleMessage(logDir, d.Body); err != nil {
            log.WithError(err).Error("activity-consumer: handle message failed")
            _ = d.Nack(false, false)
            continue
        }
        _ = d.Ack(false)
    }
    return errors.New("deliveries channel closed")
}

func handleMessage(logDir string, body []byte) error {
    var ev ActivityRecordedEvent
    if err := json.Unmarshal(body, &ev); err != nil {
        return fmt.Errorf("unmarshal: %w", err)
    }
    if ev.UserID == 0 || ev.Action == "" {
        return errors.New("event without user or action")
    }
    if err := os.MkdirAll(logDir, 0o755); err != nil {
        return fmt.Errorf("mkdir logs: %w", err)
    }
    f, err := os.OpenFile(filepath.Join(logDir, "activity.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
    if err != nil {
        return fmt.Errorf("open log file: %w", err)
    }
    defer f.Close()

    if _, err := f.WriteString(formatLine(ev)); err != nil {
        return fmt.Errorf("write log: %w", err)
    }
    return nil
}

func formatLine(ev ActivityRecordedEvent) string {
    return fmt.Sprintf("[%s] Task %s | activity_id=%d | user_id=%d | list=%q | task=%q | title=%q\n",
        ev.RecordedAt, ev.Action, ev.ActivityID, ev.UserID, ev.ListID, ev.TaskID, ev.TaskTitle)
}
