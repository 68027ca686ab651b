package server

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/taskdeck/taskdeck/engine/auth"
	"github.com/taskdeck/taskdeck/engine/core"
	"github.com/taskdeck/taskdeck/engine/executor"
	"github.com/taskdeck/taskdeck/engine/infra/server/router"
	"github.com/taskdeck/taskdeck/engine/task"
	"github.com/taskdeck/taskdeck/engine/task/orchestrator"
)

// TaskService is the task lifecycle the HTTP layer drives.
type TaskService interface {
	Run(ctx context.Context, in *orchestrator.RunInput) (*orchestrator.SubmitResult, error)
	Get(ctx context.Context, taskID core.ID, orgID string) (*task.Task, error)
	ListProgress(ctx context.Context, taskID core.ID, orgID string, afterIndex int) ([]*task.Progress, error)
	Terminate(ctx context.Context, taskID core.ID, orgID string) (*task.Task, error)
	Share(ctx context.Context, taskID core.ID, orgID string, expiresAtMs int64) (*task.Task, error)
	FetchShared(ctx context.Context, taskID core.ID) (*orchestrator.SharedTask, error)
}

type createTaskForm struct {
	TaskID     string   `form:"task_id"`
	Prompt     string   `form:"prompt"      binding:"required"`
	ModelID    string   `form:"model_id"    binding:"required"`
	Tools      []string `form:"tools"`
	ShouldPlan bool     `form:"should_plan"`
}

type shareRequest struct {
	ExpiresAt int64 `json:"expires_at" binding:"required,gt=0"`
}

type taskHandlers struct {
	tasks TaskService
}

// createTask creates or resumes a task and submits it to the executor.
func (h *taskHandlers) createTask(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var form createTaskForm
	if err := c.ShouldBind(&form); err != nil {
		router.RespondError(c, router.BadRequest("%v", err))
		return
	}
	in := &orchestrator.RunInput{
		CreateInput: orchestrator.CreateInput{
			OrganizationID: id.OrganizationID,
			UserID:         id.UserID,
			Prompt:         form.Prompt,
			LLMID:          form.ModelID,
			Tools:          normalizeTools(form.Tools),
		},
		ShouldPlan: form.ShouldPlan,
	}
	if form.TaskID != "" {
		taskID, err := core.ParseID(form.TaskID)
		if err != nil {
			router.RespondError(c, router.BadRequest("%v", err))
			return
		}
		in.TaskID = &taskID
	}
	files, closeFiles, err := uploadedFiles(c)
	if err != nil {
		router.RespondError(c, err)
		return
	}
	defer closeFiles()
	in.Files = files
	result, err := h.tasks.Run(c.Request.Context(), in)
	if err != nil {
		router.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *taskHandlers) getTask(c *gin.Context) {
	id, taskID, ok := identityAndTask(c)
	if !ok {
		return
	}
	t, err := h.tasks.Get(c.Request.Context(), taskID, id.OrganizationID)
	if err != nil {
		router.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *taskHandlers) listProgress(c *gin.Context) {
	id, taskID, ok := identityAndTask(c)
	if !ok {
		return
	}
	after := -1
	if raw := c.Query("after"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			router.RespondError(c, router.BadRequest("invalid after %q", raw))
			return
		}
		after = n
	}
	rows, err := h.tasks.ListProgress(c.Request.Context(), taskID, id.OrganizationID, after)
	if err != nil {
		router.RespondError(c, err)
		return
	}
	if rows == nil {
		rows = []*task.Progress{}
	}
	c.JSON(http.StatusOK, gin.H{"progress": rows})
}

func (h *taskHandlers) terminateTask(c *gin.Context) {
	id, taskID, ok := identityAndTask(c)
	if !ok {
		return
	}
	t, err := h.tasks.Terminate(c.Request.Context(), taskID, id.OrganizationID)
	if err != nil {
		router.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *taskHandlers) shareTask(c *gin.Context) {
	id, taskID, ok := identityAndTask(c)
	if !ok {
		return
	}
	var req shareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		router.RespondError(c, router.BadRequest("%v", err))
		return
	}
	t, err := h.tasks.Share(c.Request.Context(), taskID, id.OrganizationID, req.ExpiresAt)
	if err != nil {
		router.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// fetchShared serves a shared task without authentication.
func (h *taskHandlers) fetchShared(c *gin.Context) {
	taskID, ok := taskIDParam(c)
	if !ok {
		return
	}
	shared, err := h.tasks.FetchShared(c.Request.Context(), taskID)
	if err != nil {
		router.RespondError(c, err)
		return
	}
	if shared.Progress == nil {
		shared.Progress = []*task.Progress{}
	}
	c.JSON(http.StatusOK, gin.H{"task": shared.Task, "progress": shared.Progress})
}

func identity(c *gin.Context) (auth.Identity, bool) {
	id, ok := auth.GetIdentity(c)
	if !ok {
		router.RespondProblemWithCode(c, http.StatusUnauthorized, router.ErrUnauthorizedCode, "authentication required")
		return auth.Identity{}, false
	}
	return id, true
}

func taskIDParam(c *gin.Context) (core.ID, bool) {
	taskID, err := core.ParseID(c.Param("task_id"))
	if err != nil {
		router.RespondError(c, router.BadRequest("%v", err))
		return "", false
	}
	return taskID, true
}

func identityAndTask(c *gin.Context) (auth.Identity, core.ID, bool) {
	id, ok := identity(c)
	if !ok {
		return auth.Identity{}, "", false
	}
	taskID, ok := taskIDParam(c)
	if !ok {
		return auth.Identity{}, "", false
	}
	return id, taskID, true
}

// normalizeTools accepts repeated fields as well as comma separated values.
func normalizeTools(raw []string) []string {
	tools := make([]string, 0, len(raw))
	for _, value := range raw {
		for part := range strings.SplitSeq(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				tools = append(tools, part)
			}
		}
	}
	return tools
}

func uploadedFiles(c *gin.Context) ([]executor.File, func(), error) {
	noop := func() {}
	if !strings.HasPrefix(c.ContentType(), "multipart/") {
		return nil, noop, nil
	}
	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, noop, router.BadRequest("upload exceeds %d bytes", tooLarge.Limit)
		}
		return nil, noop, router.BadRequest("invalid multipart form: %v", err)
	}
	headers := form.File["files"]
	files := make([]executor.File, 0, len(headers))
	opened := make([]multipart.File, 0, len(headers))
	closeAll := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}
	for _, header := range headers {
		f, err := header.Open()
		if err != nil {
			closeAll()
			return nil, noop, router.BadRequest("cannot read file %q: %v", header.Filename, err)
		}
		opened = append(opened, f)
		contentType, err := fileContentType(f, header.Header.Get("Content-Type"))
		if err != nil {
			closeAll()
			return nil, noop, router.BadRequest("cannot read file %q: %v", header.Filename, err)
		}
		files = append(files, executor.File{Name: header.Filename, ContentType: contentType, Reader: f})
	}
	return files, closeAll, nil
}

// fileContentType trusts a specific declared type and sniffs the content
// otherwise. The file is rewound before it is forwarded.
func fileContentType(f multipart.File, declared string) (string, error) {
	if declared != "" && declared != "application/octet-stream" {
		return declared, nil
	}
	detected, err := mimetype.DetectReader(f)
	if err != nil {
		return "", err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return detected.String(), nil
}
