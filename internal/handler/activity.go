package handler

import (
    "context"
    "net/http"
    "strconv"
    "time"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/mstodo-proxy/internal/model"
    "github.com/iliyamo/mstodo-proxy/internal/session"
)

// ActivityReader lists a user's recorded task mutations.
type ActivityReader interface {
    Recent(ctx context.Context, userID uint64, limit int) ([]model.ActivityLog, error)
}

// ActivityHandler exposes the caller's own audit trail.
type ActivityHandler struct {
    Activity ActivityReader
}

func NewActivityHandler(a ActivityReader) *ActivityHandler {
    if a == nil {
        panic("nil dependency passed to NewActivityHandler")
    }
    return &ActivityHandler{Activity: a}
}

type activityItem struct {
    ID        uint64    `json:"id"`
    Action    string    `json:"action"`
    TaskTitle *string   `json:"task_title"`
    ListID    *string   `json:"list_id"`
    TaskID    *string   `json:"task_id"`
    CreatedAt time.Time `json:"created_at"`
}

// List returns the most recent entries, newest first.  ?limit= caps the
// count (default 50, max 200).
func (h *ActivityHandler) List(c echo.Context) error {
    claims, ok := session.FromContext(c.Request().Context())
    if !ok {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    limit := 50
    if v := c.QueryParam("limit"); v != "" {
        n, err := strconv.Atoi(v)
        if err != nil || n < 1 || n > 200 {
            return c.JSON(http.StatusBadRequest, echo.Map{"error": "limit must be between 1 and 200"})
        }
        limit = n
    }
    ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
    defer cancel()

    entries, err := h.Activity.Recent(ctx, claims.UserID, limit)
    if err != nil {
        return fail(c, err)
    }
    items := make([]activityItem, 0, len(entries))
    for _, e := range entries {
        items = append(items, activityItem{
            ID: e.ID, Action: e.Action, TaskTitle: e.TaskTitle, ListID: e.ListID, TaskID: e.TaskID, CreatedAt: e.CreatedAt,
        })
    }
    return c.JSON(http.StatusOK, echo.Map{"items": items})
}
