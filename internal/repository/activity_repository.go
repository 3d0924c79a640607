package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/iliyamo/mstodo-proxy/internal/model"
)

// ActivityRepo appends and reads rows of the `activity_logs` table.
type ActivityRepo struct{ DB *sql.DB }

func NewActivityRepo(db *sql.DB) *ActivityRepo { return &ActivityRepo{DB: db} }

// Insert appends one entry and returns it with ID and CreatedAt set.
func (r *ActivityRepo) Insert(ctx context.Context, entry model.ActivityLog) (model.ActivityLog, error) {
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO activity_logs (user_id, action, task_title, list_id, task_id) VALUES (?,?,?,?,?)",
		entry.UserID, entry.Action, nullable(entry.TaskTitle), nullable(entry.ListID), nullable(entry.TaskID))
	if err != nil {
		return model.ActivityLog{}, fmt.Errorf("insert activity: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.ActivityLog{}, err
	}
	entry.ID = uint64(id)
	entry.CreatedAt = time.Now().UTC()
	return entry, nil
}

// ListByUser returns the most recent entries of a user, newest first.
func (r *ActivityRepo) ListByUser(ctx context.Context, userID uint64, limit int) ([]model.ActivityLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx,
		"SELECT id,user_id,action,task_title,list_id,task_id,created_at FROM activity_logs WHERE user_id=? ORDER BY id DESC LIMIT ?",
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	out := []model.ActivityLog{}
	for rows.Next() {
		var e model.ActivityLog
		var title, listID, taskID sql.NullString
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &title, &listID, &taskID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.TaskTitle, e.ListID, e.TaskID = fromNull(title), fromNull(listID), fromNull(taskID)
		out = append(out, e)
	}
	return out, rows.Err()
}
