package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("tool not found")

type Source string

const (
	SourceStandard Source = "standard"
	SourceCustom   Source = "custom"
)

// AgentTool is a tool installed for an organization. Env, Query, Headers and
// CustomConfig hold encrypted JSON documents.
type AgentTool struct {
	ID             string  `db:"id"`
	OrganizationID string  `db:"organization_id"`
	Name           string  `db:"name"`
	Source         Source  `db:"source"`
	SchemaID       *string `db:"schema_id"`
	Env            string  `db:"env"`
	Query          string  `db:"query"`
	Headers        string  `db:"headers"`
	CustomConfig   string  `db:"custom_config"`
}

// Schema is a catalog entry describing how a standard tool is launched.
type Schema struct {
	ID          string          `db:"id"`
	Name        string          `db:"name"`
	Description string          `db:"description"`
	Command     string          `db:"command"`
	Args        []string        `db:"args"`
	URL         string          `db:"url"`
	EnvSchema   json.RawMessage `db:"env_schema"`
}

type Repository interface {
	GetAgentTool(ctx context.Context, orgID string, id string) (*AgentTool, error)
	GetSchema(ctx context.Context, id string) (*Schema, error)
}

// Descriptor is the fully resolved configuration sent to the executor.
type Descriptor struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}

func (d Descriptor) normalized() Descriptor {
	if d.Args == nil {
		d.Args = []string{}
	}
	if d.Env == nil {
		d.Env = map[string]string{}
	}
	if d.Headers == nil {
		d.Headers = map[string]string{}
	}
	return d
}

// Ref is one entry of a task's tool list: either a resolved descriptor or a
// built-in tool name understood by the executor.
type Ref struct {
	Name       string
	Descriptor *Descriptor
}

func (r Ref) IsBuiltin() bool {
	return r.Descriptor == nil
}

// Encode returns the value placed in a multipart tools field.
func (r Ref) Encode() (string, error) {
	if r.Descriptor == nil {
		return r.Name, nil
	}
	data, err := json.Marshal(r.Descriptor.normalized())
	if err != nil {
		return "", fmt.Errorf("encoding tool %s: %w", r.Descriptor.ID, err)
	}
	return string(data), nil
}

// ValidationError reports a stored tool configuration that cannot be used.
type ValidationError struct {
	ToolID string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	msg := e.Reason
	if e.ToolID != "" {
		msg = fmt.Sprintf("tool %s: %s", e.ToolID, e.Reason)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
