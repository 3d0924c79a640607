package handler

import (
    "context"
    "encoding/json"
    "io"
    "net/http"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
    log "github.com/sirupsen/logrus"

    "github.com/iliyamo/mstodo-proxy/internal/middleware"
    "github.com/iliyamo/mstodo-proxy/internal/model"
    "github.com/iliyamo/mstodo-proxy/internal/session"
)

// TodoGateway forwards To Do operations to Microsoft Graph with the
// caller's own access token.
type TodoGateway interface {
    Lists(ctx context.Context, token string) (json.RawMessage, error)
    Tasks(ctx context.Context, token, listID string) (json.RawMessage, error)
    CreateTask(ctx context.Context, token, listID string, body json.RawMessage) (json.RawMessage, error)
    UpdateTask(ctx context.Context, token, listID, taskID string, body json.RawMessage) (json.RawMessage, error)
    DeleteTask(ctx context.Context, token, listID, taskID string) error
}

// ActivityRecorder stores the audit trail of task mutations.
type ActivityRecorder interface {
    Record(ctx context.Context, entry model.ActivityLog) (model.ActivityLog, error)
}

const (
    graphTimeout   = 15 * time.Second
    maxTaskPayload = 256 << 10
)

// TodoHandler proxies Microsoft To Do lists and tasks.  Mutations are
// recorded only after Graph accepted them.
type TodoHandler struct {
    Graph    TodoGateway
    Activity ActivityRecorder
}

func NewTodoHandler(g TodoGateway, a ActivityRecorder) *TodoHandler {
    if g == nil || a == nil {
        panic("nil dependency passed to NewTodoHandler")
    }
    return &TodoHandler{Graph: g, Activity: a}
}

// caller returns the session identity id and the Microsoft access token put
// on the request by SessionAuth and RequireMSToken.
func caller(c echo.Context) (uint64, string, bool) {
    ctx := c.Request().Context()
    claims, ok := session.FromContext(ctx)
    if !ok {
        return 0, "", false
    }
    tok, ok := middleware.MSTokenFromContext(ctx)
    return claims.UserID, tok, ok
}

func pathParam(c echo.Context, name string) (string, bool) {
    v := strings.TrimSpace(c.Param(name))
    return v, v != ""
}

// readTaskBody reads a JSON object request body.
func readTaskBody(c echo.Context) (json.RawMessage, bool) {
    data, err := io.ReadAll(io.LimitReader(c.Request().Body, maxTaskPayload+1))
    if err != nil || len(data) > maxTaskPayload {
        return nil, false
    }
    var probe map[string]json.RawMessage
    if json.Unmarshal(data, &probe) != nil || probe == nil {
        return nil, false
    }
    return json.RawMessage(data), true
}

// taskFields extracts id and title from a todoTask payload when present.
func taskFields(raw json.RawMessage) (id, title string) {
    var t struct {
        ID    string `json:"id"`
        Title string `json:"title"`
    }
    _ = json.Unmarshal(raw, &t)
    return t.ID, t.Title
}

func optional(s string) *string {
    if s == "" {
        return nil
    }
    return &s
}

// ListLists returns the caller's task lists.
func (h *TodoHandler) ListLists(c echo.Context) error {
    _, tok, ok := caller(c)
    if !ok {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    ctx, cancel := context.WithTimeout(c.Request().Context(), graphTimeout)
    defer cancel()

    raw, err := h.Graph.Lists(ctx, tok)
    if err != nil {
        return fail(c, err)
    }
    return c.JSONBlob(http.StatusOK, raw)
}

// ListTasks returns the tasks of one list.
func (h *TodoHandler) ListTasks(c echo.Context) error {
    _, tok, ok := caller(c)
    if !ok {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    listID, ok := pathParam(c, "listId")
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "listId required"})
    }
    ctx, cancel := context.WithTimeout(c.Request().Context(), graphTimeout)
    defer cancel()

    raw, err := h.Graph.Tasks(ctx, tok, listID)
    if err != nil {
        return fail(c, err)
    }
    return c.JSONBlob(http.StatusOK, raw)
}

// CreateTask creates a task and records CREATE with the title Graph
// returned.
func (h *TodoHandler) CreateTask(c echo.Context) error {
    uid, tok, ok := caller(c)
    if !ok {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    listID, ok := pathParam(c, "listId")
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "listId required"})
    }
    body, ok := readTaskBody(c)
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "body must be a JSON object"})
    }
    if _, title := taskFields(body); strings.TrimSpace(title) == "" {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "title required"})
    }
    ctx, cancel := context.WithTimeout(c.Request().Context(), graphTimeout)
    defer cancel()

    created, err := h.Graph.CreateTask(ctx, tok, listID, body)
    if err != nil {
        return fail(c, err)
    }
    taskID, title := taskFields(created)
    h.record(ctx, model.ActivityLog{
        UserID: uid, Action: model.ActionCreate,
        TaskTitle: optional(title), ListID: optional(listID), TaskID: optional(taskID),
    })
    return c.JSONBlob(http.StatusCreated, created)
}

// UpdateTask patches a task and records UPDATE with the title from the
// request, if it changed one.
func (h *TodoHandler) UpdateTask(c echo.Context) error {
    uid, tok, ok := caller(c)
    if !ok {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    listID, okList := pathParam(c, "listId")
    taskID, okTask := pathParam(c, "taskId")
    if !okList || !okTask {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "listId and taskId required"})
    }
    body, ok := readTaskBody(c)
    if !ok {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "body must be a JSON object"})
    }
    ctx, cancel := context.WithTimeout(c.Request().Context(), graphTimeout)
    defer cancel()

    updated, err := h.Graph.UpdateTask(ctx, tok, listID, taskID, body)
    if err != nil {
        return fail(c, err)
    }
    _, title := taskFields(body)
    h.record(ctx, model.ActivityLog{
        UserID: uid, Action: model.ActionUpdate,
        TaskTitle: optional(title), ListID: optional(listID), TaskID: optional(taskID),
    })
    if len(updated) == 0 {
        return c.NoContent(http.StatusNoContent)
    }
    return c.JSONBlob(http.StatusOK, updated)
}

// DeleteTask removes a task and records DELETE.
func (h *TodoHandler) DeleteTask(c echo.Context) error {
    uid, tok, ok := caller(c)
    if !ok {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    listID, okList := pathParam(c, "listId")
    taskID, okTask := pathParam(c, "taskId")
    if !okList || !okTask {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "listId and taskId required"})
    }
    ctx, cancel := context.WithTimeout(c.Request().Context(), graphTimeout)
    defer cancel()

    if err := h.Graph.DeleteTask(ctx, tok, listID, taskID); err != nil {
        return fail(c, err)
    }
    h.record(ctx, model.ActivityLog{
        UserID: uid, Action: model.ActionDelete,
        ListID: optional(listID), TaskID: optional(taskID),
    })
    return c.NoContent(http.StatusNoContent)
}

// record writes the audit entry.  The Graph mutation already happened, so
// a failure here is logged rather than returned.
func (h *TodoHandler) record(ctx context.Context, entry model.ActivityLog) {
    if _, err := h.Activity.Record(context.WithoutCancel(ctx), entry); err != nil {
        log.WithError(err).WithFields(log.Fields{
            "user_id": entry.UserID,
            "action":  entry.Action,
        }).Warn("activity not recorded")
    }
}
