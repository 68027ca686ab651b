package router

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/taskdeck/taskdeck/engine/core"
	"github.com/taskdeck/taskdeck/engine/executor"
	"github.com/taskdeck/taskdeck/engine/task"
	"github.com/taskdeck/taskdeck/engine/tool"
	"github.com/taskdeck/taskdeck/pkg/logger"
)

// RespondProblem writes problem as the response and aborts the chain.
func RespondProblem(c *gin.Context, problem *core.Problem) {
	problem = problem.Normalize()
	if problem.Instance == "" {
		problem.Instance = c.Request.URL.Path
	}
	if problem.TaskID.IsZero() {
		problem.TaskID = core.ID(c.Param("task_id"))
	}
	logProblem(c, problem)
	c.Header("Content-Type", core.ProblemContentType)
	c.AbortWithStatusJSON(problem.Status, problem)
}

// RespondProblemWithCode writes a problem response embedding a code and detail.
func RespondProblemWithCode(c *gin.Context, status int, code string, detail string) {
	RespondProblem(c, core.NewProblem(status, code, detail))
}

// RespondError maps domain errors onto problem responses. Details of 5xx
// failures stay in the log.
func RespondError(c *gin.Context, err error) {
	status, code := classify(err)
	detail := err.Error()
	if status == http.StatusInternalServerError {
		logger.FromContext(c.Request.Context()).Error("Unhandled request error", "error", err)
		detail = "internal server error"
	}
	RespondProblemWithCode(c, status, code, detail)
}

// BadRequest wraps a parsing failure so RespondError answers 400.
func BadRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadRequest, fmt.Sprintf(format, args...))
}

func classify(err error) (int, string) {
	var validation *tool.ValidationError
	var submission *task.SubmissionError
	var transport *executor.TransportError
	switch {
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, ErrBadRequestCode
	case errors.As(err, &validation):
		return http.StatusBadRequest, ErrValidationCode
	case errors.Is(err, task.ErrNotFound), errors.Is(err, tool.ErrNotFound):
		return http.StatusNotFound, ErrNotFoundCode
	case errors.Is(err, task.ErrConflict):
		return http.StatusConflict, ErrConflictCode
	case errors.Is(err, task.ErrExpired):
		return http.StatusGone, ErrExpiredCode
	case errors.As(err, &submission):
		return http.StatusBadGateway, ErrSubmissionCode
	case errors.As(err, &transport):
		return http.StatusServiceUnavailable, ErrServiceUnavailableCode
	default:
		return http.StatusInternalServerError, ErrInternalCode
	}
}

func logProblem(c *gin.Context, problem *core.Problem) {
	route := c.FullPath()
	if route == "" {
		route = c.Request.URL.Path
	}
	fields := []any{"status", problem.Status, "code", problem.Code, "route", route}
	if !problem.TaskID.IsZero() {
		fields = append(fields, "task_id", problem.TaskID)
	}
	if requestID := c.Writer.Header().Get(HeaderRequestID); requestID != "" {
		fields = append(fields, "request_id", requestID)
	}
	log := logger.FromContext(c.Request.Context())
	if problem.ServerSide() {
		log.Error("Request failed", append(fields, "detail", problem.Detail)...)
		return
	}
	log.Debug("Request rejected", append(fields, "detail", problem.Detail)...)
}
