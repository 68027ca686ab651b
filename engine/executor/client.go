package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/taskdeck/taskdeck/engine/task"
	"github.com/taskdeck/taskdeck/pkg/logger"
)

const defaultRequestTimeout = 60 * time.Second

// ErrTaskNotFound is returned by TerminateTask when the executor no longer knows the task.
var ErrTaskNotFound = errors.New("executor: task not found")

// TransportError reports a failure to talk to the executor at all, or an
// event stream that could not be opened.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("executor %s: unexpected status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("executor %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
}

// File is an attachment forwarded with a submission.
type File struct {
	Name        string
	ContentType string
	Reader      io.Reader
}

// Submission is the multipart payload of POST /tasks.
type Submission struct {
	TaskID      string
	Prompt      string
	ShouldPlan  bool
	Tools       []string
	Preferences any
	LLMConfig   any
	History     any
	Files       []File
}

type SubmitResponse struct {
	TaskID string `json:"task_id"`
}

// Client talks to the agent executor. It never retries.
type Client struct {
	http   *resty.Client
	stream *resty.Client
}

func NewClient(cfg Config) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
		// streams stay open for the lifetime of a task; only ctx bounds them
		stream: resty.New().
			SetBaseURL(baseURL).
			SetHeader("Accept", "text/event-stream").
			SetHeader("Cache-Control", "no-cache"),
	}
}

// SubmitTask posts a task. A non-200 response or a missing task id yields *task.SubmissionError.
func (c *Client) SubmitTask(ctx context.Context, s *Submission) (*SubmitResponse, error) {
	fields, err := submissionFields(s)
	if err != nil {
		return nil, err
	}
	req := c.http.R().
		SetContext(ctx).
		SetMultipartFormData(map[string]string{"task_id": s.TaskID}).
		SetFormDataFromValues(fields)
	for _, f := range s.Files {
		contentType := f.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		req.SetMultipartField("files", f.Name, contentType, f.Reader)
	}
	resp, err := req.Post("/tasks")
	if err != nil {
		return nil, &TransportError{Op: "submit", Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, &task.SubmissionError{StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	var out SubmitResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil || out.TaskID == "" {
		return nil, &task.SubmissionError{StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	logger.FromContext(ctx).Debug("Task submitted to executor", "task_id", s.TaskID, "out_id", out.TaskID)
	return &out, nil
}

func submissionFields(s *Submission) (url.Values, error) {
	fields := url.Values{}
	fields.Set("prompt", s.Prompt)
	fields.Set("should_plan", strconv.FormatBool(s.ShouldPlan))
	for _, t := range s.Tools {
		fields.Add("tools", t)
	}
	for name, value := range map[string]any{
		"preferences": s.Preferences,
		"llm_config":  s.LLMConfig,
		"history":     s.History,
	} {
		if value == nil {
			continue
		}
		data, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encoding %s: %w", name, err)
		}
		fields.Set(name, string(data))
	}
	return fields, nil
}

type terminateResponse struct {
	Message string `json:"message"`
	TaskID  string `json:"task_id"`
}

// TerminateTask asks the executor to stop a task identified by its composite id.
func (c *Client) TerminateTask(ctx context.Context, compositeID string) error {
	var out terminateResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"task_id": compositeID}).
		Post("/tasks/terminate")
	if err != nil {
		return &TransportError{Op: "terminate", Err: err}
	}
	if resp.IsError() || resp.StatusCode() >= http.StatusMultipleChoices {
		return fmt.Errorf("executor terminate failed with status %d: %s", resp.StatusCode(), resp.String())
	}
	// the executor does not always label its JSON, so decode by hand
	_ = json.Unmarshal(resp.Body(), &out)
	if isTaskNotFound(out.Message, compositeID) {
		return ErrTaskNotFound
	}
	logger.FromContext(ctx).Debug("Executor acknowledged termination", "task_id", compositeID, "message", out.Message)
	return nil
}

// isTaskNotFound matches the executor's "Task <id> not found" acknowledgement.
func isTaskNotFound(message, compositeID string) bool {
	message = strings.TrimSpace(message)
	return strings.EqualFold(message, "Task "+compositeID+" not found") ||
		strings.EqualFold(message, "Task not found")
}

// OpenEventStream opens the per-task event stream. The caller must close the body.
func (c *Client) OpenEventStream(ctx context.Context, outID string) (io.ReadCloser, error) {
	resp, err := c.stream.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get("/tasks/" + strings.TrimLeft(outID, "/") + "/events")
	if err != nil {
		if resp != nil && resp.RawBody() != nil {
			resp.RawBody().Close()
		}
		return nil, &TransportError{Op: "open stream", Err: err}
	}
	body := resp.RawBody()
	if resp.StatusCode() != http.StatusOK {
		if body != nil {
			body.Close()
		}
		return nil, &TransportError{Op: "open stream", StatusCode: resp.StatusCode()}
	}
	return body, nil
}
