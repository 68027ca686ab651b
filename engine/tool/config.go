package tool

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/kaptinlin/jsonschema"
)

//go:embed custom_config.schema.json
var customConfigSchemaJSON []byte

var (
	customSchemaOnce sync.Once
	customSchema     *jsonschema.Schema
	customSchemaErr  error
)

// Config is the launch configuration of a custom tool. It is either a
// CommandTool or a URLTool; DecodeConfig never yields anything else.
type Config interface {
	descriptor(id, name string) Descriptor
	isConfig()
}

// CommandTool is launched as a local process speaking stdio.
type CommandTool struct {
	Command string
	Args    []string
	Env     map[string]string
}

// URLTool is reached over HTTP.
type URLTool struct {
	URL     string
	Headers map[string]string
}

func (CommandTool) isConfig() {}

func (URLTool) isConfig() {}

func (c CommandTool) descriptor(id, name string) Descriptor {
	return Descriptor{ID: id, Name: name, Command: c.Command, Args: c.Args, Env: c.Env}
}

func (u URLTool) descriptor(id, name string) Descriptor {
	return Descriptor{ID: id, Name: name, URL: u.URL, Headers: u.Headers}
}

type rawConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}

// DecodeConfig parses a stored custom tool configuration.
func DecodeConfig(data []byte) (Config, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &ValidationError{Reason: "custom config is not a JSON object", Err: err}
	}
	schema, err := compiledCustomSchema()
	if err != nil {
		return nil, err
	}
	if result := schema.Validate(doc); !result.Valid {
		return nil, &ValidationError{Reason: fmt.Sprintf("custom config does not match schema: %v", result.Errors)}
	}
	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ValidationError{Reason: "custom config has invalid field types", Err: err}
	}
	hasCommand := strings.TrimSpace(raw.Command) != ""
	hasURL := strings.TrimSpace(raw.URL) != ""
	switch {
	case hasCommand && hasURL:
		return nil, &ValidationError{Reason: "custom config must not set both command and url"}
	case hasCommand:
		return CommandTool{Command: raw.Command, Args: raw.Args, Env: raw.Env}, nil
	case hasURL:
		return URLTool{URL: raw.URL, Headers: raw.Headers}, nil
	default:
		return nil, &ValidationError{Reason: "custom config must set either command or url"}
	}
}

func compiledCustomSchema() (*jsonschema.Schema, error) {
	customSchemaOnce.Do(func() {
		customSchema, customSchemaErr = jsonschema.NewCompiler().Compile(customConfigSchemaJSON)
		if customSchemaErr != nil {
			customSchemaErr = fmt.Errorf("failed to compile custom tool schema: %w", customSchemaErr)
		}
	})
	return customSchema, customSchemaErr
}
