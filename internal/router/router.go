package router // package router defines how HTTP routes are registered for the API

import (
    "strings"

    "github.com/labstack/echo/v4"
    echomw "github.com/labstack/echo/v4/middleware"

    "github.com/iliyamo/mstodo-proxy/internal/handler"
    "github.com/iliyamo/mstodo-proxy/internal/middleware"
)

// Deps carries everything the routes need.  A nil RateLimit or Cache leaves
// that middleware off; Sessions is required.
type Deps struct {
    Auth      *handler.AuthHandler
    Todo      *handler.TodoHandler
    Activity  *handler.ActivityHandler
    Sessions  middleware.SessionValidator
    RateLimit echo.MiddlewareFunc
    Cache     echo.MiddlewareFunc
}

// RegisterBase installs the process-wide middleware and the health check.
func RegisterBase(e *echo.Echo, corsOrigin string) {
    e.Use(echomw.Recover())
    e.Use(echomw.RequestID())
    e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
        AllowOrigins: splitOrigins(corsOrigin),
        AllowHeaders: []string{
            echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization,
            middleware.HeaderMSAccessToken, "ms_token",
        },
    }))
    e.GET("/healthz", handler.Health)
}

// RegisterAuth registers the sign-in endpoints under /v1/auth and the
// gated identity endpoints under /v1.
func RegisterAuth(e *echo.Echo, d Deps) {
    g := e.Group("/v1/auth")
    g.POST("/register", d.Auth.Register)
    g.POST("/login", d.Auth.Login)
    g.POST("/microsoft", d.Auth.Microsoft)
    g.POST("/link", d.Auth.Link, middleware.SessionAuth(d.Sessions))

    gated := e.Group("/v1", middleware.SessionAuth(d.Sessions), orNoop(d.RateLimit))
    gated.GET("/me", d.Auth.Me)
    gated.GET("/activity", d.Activity.List)
}

// RegisterTodo registers the Microsoft To Do forwarding routes.  They need
// a session and the caller's Microsoft access token.  Reads are served
// through the cache; mutations invalidate it.
func RegisterTodo(e *echo.Echo, d Deps) {
    g := e.Group("/v1/todo",
        middleware.SessionAuth(d.Sessions),
        orNoop(d.RateLimit),
        middleware.RequireMSToken(),
        orNoop(d.Cache),
    )
    g.GET("/lists", d.Todo.ListLists)
    g.GET("/lists/:listId/tasks", d.Todo.ListTasks)
    g.POST("/lists/:listId/tasks", d.Todo.CreateTask)
    g.PATCH("/lists/:listId/tasks/:taskId", d.Todo.UpdateTask)
    g.DELETE("/lists/:listId/tasks/:taskId", d.Todo.DeleteTask)
}

func orNoop(m echo.MiddlewareFunc) echo.MiddlewareFunc {
    if m == nil {
        return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
    }
    return m
}

func splitOrigins(v string) []string {
    var out []string
    for _, o := range strings.Split(v, ",") {
        if o = strings.TrimSpace(o); o != "" {
            out = append(out, o)
        }
    }
    if len(out) == 0 {
        return []string{"*"}
    }
    return out
}
