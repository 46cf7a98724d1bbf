package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	afErrors "github.com/kbukum/autoflow/errors"
	"github.com/kbukum/autoflow/scheduler"
	"github.com/kbukum/autoflow/server"
	"github.com/kbukum/autoflow/task"
)

// Scheduler is the schedule management surface the handlers need.
// *scheduler.Manager implements it.
type Scheduler interface {
	List(ctx context.Context) ([]task.ScheduleTask, error)
	Get(ctx context.Context, id string) (*task.ScheduleTask, error)
	Save(ctx context.Context, t *task.ScheduleTask) (*scheduler.SaveResult, error)
	Delete(ctx context.Context, id string) error
	RunNow(ctx context.Context, id string) error
	Logs(ctx context.Context, f task.LogFilter) ([]task.TaskLog, int, error)
	IsInstalled(id string) bool
	NextRun(id string) (time.Time, bool)
}

var _ Scheduler = (*scheduler.Manager)(nil)

// ScheduleView is a schedule with its timer state.
type ScheduleView struct {
	*task.ScheduleTask
	Installed bool       `json:"installed"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	Warning   string     `json:"warning,omitempty"`
}

// ScheduleList is the body of GET /schedules.
type ScheduleList struct {
	Items []ScheduleView `json:"items"`
}

// LogPage is the body of GET /logs.
type LogPage struct {
	Items  []task.TaskLog `json:"items"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// Handler serves the routes.
type Handler struct {
	svc         Scheduler
	health      server.HealthChecker
	serviceName string
}

// New creates a Handler. health may be nil.
func New(svc Scheduler, serviceName string, health server.HealthChecker) *Handler {
	return &Handler{svc: svc, health: health, serviceName: serviceName}
}

// Register mounts the routes under /api/v1 of r.
func (h *Handler) Register(r gin.IRouter) {
	v1 := r.Group("/api/v1")
	v1.GET("/schedules", h.listSchedules)
	v1.POST("/schedules", h.createSchedule)
	v1.GET("/schedules/:id", h.getSchedule)
	v1.PUT("/schedules/:id", h.updateSchedule)
	v1.DELETE("/schedules/:id", h.deleteSchedule)
	v1.POST("/schedules/:id/run", h.runSchedule)
	v1.GET("/logs", h.listLogs)
	v1.GET("/health", server.Health(h.serviceName, h.health))
}

func (h *Handler) view(t *task.ScheduleTask) ScheduleView {
	v := ScheduleView{ScheduleTask: t, Installed: h.svc.IsInstalled(t.ID)}
	if next, ok := h.svc.NextRun(t.ID); ok {
		v.NextRun = &next
	}
	return v
}

func (h *Handler) listSchedules(c *gin.Context) {
	list, err := h.svc.List(c.Request.Context())
	if err != nil {
		server.RespondWithError(c, err)
		return
	}
	out := ScheduleList{Items: make([]ScheduleView, len(list))}
	for i := range list {
		out.Items[i] = h.view(&list[i])
	}
	server.RespondOK(c, out)
}

func (h *Handler) getSchedule(c *gin.Context) {
	t, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		server.RespondWithError(c, err)
		return
	}
	server.RespondOK(c, h.view(t))
}

func (h *Handler) createSchedule(c *gin.Context) {
	var t task.ScheduleTask
	if err := bindSchedule(c, &t); err != nil {
		server.RespondWithError(c, err)
		return
	}
	ctx := c.Request.Context()
	if t.ID != "" {
		if _, err := h.svc.Get(ctx, t.ID); err == nil {
			server.RespondWithError(c, afErrors.Conflict("schedule "+t.ID+" already exists"))
			return
		} else if !afErrors.IsCode(err, afErrors.ErrCodeNotFound) {
			server.RespondWithError(c, err)
			return
		}
	}
	res, err := h.svc.Save(ctx, &t)
	if err != nil {
		server.RespondWithError(c, err)
		return
	}
	server.RespondCreated(c, h.saved(res))
}

func (h *Handler) updateSchedule(c *gin.Context) {
	var t task.ScheduleTask
	if err := bindSchedule(c, &t); err != nil {
		server.RespondWithError(c, err)
		return
	}
	id := c.Param("id")
	if t.ID != "" && t.ID != id {
		server.RespondWithError(c, afErrors.InvalidInput("id", "body id does not match path"))
		return
	}
	t.ID = id
	ctx := c.Request.Context()
	if _, err := h.svc.Get(ctx, id); err != nil {
		server.RespondWithError(c, err)
		return
	}
	res, err := h.svc.Save(ctx, &t)
	if err != nil {
		server.RespondWithError(c, err)
		return
	}
	server.RespondOK(c, h.saved(res))
}

func (h *Handler) saved(res *scheduler.SaveResult) ScheduleView {
	v := h.view(res.Task)
	v.Installed = res.Installed
	v.Warning = res.Warning
	return v
}

func (h *Handler) deleteSchedule(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		server.RespondWithError(c, err)
		return
	}
	server.RespondNoContent(c)
}

func (h *Handler) runSchedule(c *gin.Context) {
	id := c.Param("id")
	if err := h.svc.RunNow(c.Request.Context(), id); err != nil {
		server.RespondWithError(c, err)
		return
	}
	server.RespondAccepted(c, gin.H{"id": id, "status": "started"})
}

func (h *Handler) listLogs(c *gin.Context) {
	f, err := parseLogFilter(c)
	if err != nil {
		server.RespondWithError(c, err)
		return
	}
	f = f.Normalize()
	logs, total, err := h.svc.Logs(c.Request.Context(), f)
	if err != nil {
		server.RespondWithError(c, err)
		return
	}
	if logs == nil {
		logs = []task.TaskLog{}
	}
	server.RespondOK(c, LogPage{Items: logs, Total: total, Limit: f.Limit, Offset: f.Offset})
}

func bindSchedule(c *gin.Context, t *task.ScheduleTask) error {
	if err := c.ShouldBindJSON(t); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return afErrors.InvalidInput("body", "request body too large")
		}
		return afErrors.InvalidInput("body", "malformed JSON").WithCause(err)
	}
	return nil
}

func parseLogFilter(c *gin.Context) (task.LogFilter, error) {
	f := task.LogFilter{TaskID: c.Query("task_id")}
	if s := c.Query("status"); s != "" {
		st := task.LogStatus(s)
		switch st {
		case task.LogRunning, task.LogSuccess, task.LogError, task.LogInterrupted:
			f.Status = st
		default:
			return f, afErrors.InvalidInput("status", "unknown log status "+s)
		}
	}
	var err error
	if f.Limit, err = queryInt(c, "limit"); err != nil {
		return f, err
	}
	if f.Offset, err = queryInt(c, "offset"); err != nil {
		return f, err
	}
	return f, nil
}

func queryInt(c *gin.Context, name string) (int, error) {
	s := c.Query(name)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, afErrors.InvalidInput(name, "must be a non-negative integer")
	}
	return n, nil
}
