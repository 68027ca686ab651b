package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/taskdeck/taskdeck/engine/secret"
)

var ErrNotFound = errors.New("llm config not found")

// Config is an organization's stored model configuration. APIKey holds ciphertext.
type Config struct {
	ID             string  `json:"id"                         db:"id"`
	OrganizationID string  `json:"organization_id"            db:"organization_id"`
	Name           string  `json:"name"                       db:"name"`
	Model          string  `json:"model"                      db:"model"`
	BaseURL        string  `json:"base_url"                   db:"base_url"`
	APIKey         string  `json:"-"                          db:"api_key"`
	MaxTokens      int     `json:"max_tokens"                 db:"max_tokens"`
	MaxInputTokens *int    `json:"max_input_tokens,omitempty" db:"max_input_tokens"`
	Temperature    float64 `json:"temperature"                db:"temperature"`
	APIType        string  `json:"api_type"                   db:"api_type"`
	APIVersion     string  `json:"api_version"                db:"api_version"`
}

// Connection is the form the executor expects in the llm_config field.
type Connection struct {
	Model          string  `json:"model"`
	BaseURL        string  `json:"base_url"`
	APIKey         string  `json:"api_key"`
	MaxTokens      int     `json:"max_tokens"`
	MaxInputTokens *int    `json:"max_input_tokens"`
	Temperature    float64 `json:"temperature"`
	APIType        string  `json:"api_type"`
	APIVersion     string  `json:"api_version"`
}

// Connection decrypts the API key and returns executor connection parameters.
func (c *Config) Connection(cipher secret.Cipher) (*Connection, error) {
	apiKey, err := cipher.Decrypt(c.APIKey)
	if err != nil {
		return nil, fmt.Errorf("decrypting api key for llm config %s: %w", c.ID, err)
	}
	return &Connection{
		Model:          c.Model,
		BaseURL:        c.BaseURL,
		APIKey:         apiKey,
		MaxTokens:      c.MaxTokens,
		MaxInputTokens: c.MaxInputTokens,
		Temperature:    c.Temperature,
		APIType:        c.APIType,
		APIVersion:     c.APIVersion,
	}, nil
}

type Repository interface {
	// Get returns ErrNotFound when the organization has no such config.
	Get(ctx context.Context, id string, orgID string) (*Config, error)
}
