package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/taskdeck/taskdeck/engine/llm"
	"github.com/taskdeck/taskdeck/engine/preference"
	"github.com/taskdeck/taskdeck/engine/tool"
)

// -----------------------------------------------------------------------------
// LLM configs
// -----------------------------------------------------------------------------

var llmConfigColumns = []string{
	"id",
	"organization_id",
	"name",
	"model",
	"base_url",
	"api_key",
	"max_tokens",
	"max_input_tokens",
	"temperature",
	"api_type",
	"api_version",
}

type LLMConfigRepo struct {
	db DB
}

func NewLLMConfigRepo(db DB) *LLMConfigRepo {
	return &LLMConfigRepo{db: db}
}

func (r *LLMConfigRepo) Get(ctx context.Context, id string, orgID string) (*llm.Config, error) {
	query, args, err := psql().Select(llmConfigColumns...).From("llm_configs").
		Where(squirrel.Eq{"id": id, "organization_id": orgID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	var cfg llm.Config
	if err := pgxscan.Get(ctx, r.db, &cfg, query, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, llm.ErrNotFound
		}
		return nil, fmt.Errorf("scanning llm config: %w", err)
	}
	return &cfg, nil
}

// -----------------------------------------------------------------------------
// Tools
// -----------------------------------------------------------------------------

var agentToolColumns = []string{
	"id",
	"organization_id",
	"name",
	"source",
	"schema_id",
	"env",
	"query",
	"headers",
	"custom_config",
}

var toolSchemaColumns = []string{"id", "name", "description", "command", "args", "url", "env_schema"}

type ToolRepo struct {
	db DB
}

func NewToolRepo(db DB) *ToolRepo {
	return &ToolRepo{db: db}
}

func (r *ToolRepo) GetAgentTool(ctx context.Context, orgID string, id string) (*tool.AgentTool, error) {
	query, args, err := psql().Select(agentToolColumns...).From("agent_tools").
		Where(squirrel.Eq{"id": id, "organization_id": orgID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	var t tool.AgentTool
	if err := pgxscan.Get(ctx, r.db, &t, query, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tool.ErrNotFound
		}
		return nil, fmt.Errorf("scanning agent tool: %w", err)
	}
	return &t, nil
}

func (r *ToolRepo) GetSchema(ctx context.Context, id string) (*tool.Schema, error) {
	query, args, err := psql().Select(toolSchemaColumns...).From("tool_schemas").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	var s tool.Schema
	if err := pgxscan.Get(ctx, r.db, &s, query, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("tool schema %s: %w", id, tool.ErrNotFound)
		}
		return nil, fmt.Errorf("scanning tool schema: %w", err)
	}
	return &s, nil
}

// -----------------------------------------------------------------------------
// Preferences
// -----------------------------------------------------------------------------

type PreferenceRepo struct {
	db DB
}

func NewPreferenceRepo(db DB) *PreferenceRepo {
	return &PreferenceRepo{db: db}
}

// Get returns nil when the user has no stored preferences.
func (r *PreferenceRepo) Get(ctx context.Context, orgID string, userID string) (*preference.Preferences, error) {
	query, args, err := psql().Select("language").From("user_preferences").
		Where(squirrel.Eq{"organization_id": orgID, "user_id": userID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	var prefs preference.Preferences
	if err := pgxscan.Get(ctx, r.db, &prefs, query, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning preferences: %w", err)
	}
	return &prefs, nil
}
