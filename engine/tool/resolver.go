package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/kaptinlin/jsonschema"
	"github.com/taskdeck/taskdeck/engine/secret"
	"github.com/taskdeck/taskdeck/pkg/logger"
)

// Resolver expands tool references into descriptors the executor can launch.
type Resolver struct {
	repo    Repository
	catalog *Catalog
	cipher  secret.Cipher
}

func NewResolver(repo Repository, catalog *Catalog, cipher secret.Cipher) *Resolver {
	if cipher == nil {
		cipher = secret.Plaintext{}
	}
	if catalog == nil {
		catalog = NewCatalog(repo, 0, 0)
	}
	return &Resolver{repo: repo, catalog: catalog, cipher: cipher}
}

// Resolve returns one Ref per input reference, in order. References that do
// not name an installed tool are passed through as built-in tool names.
func (r *Resolver) Resolve(ctx context.Context, orgID string, refs []string) ([]Ref, error) {
	log := logger.FromContext(ctx)
	resolved := make([]Ref, 0, len(refs))
	for _, ref := range refs {
		agentTool, err := r.repo.GetAgentTool(ctx, orgID, ref)
		if errors.Is(err, ErrNotFound) {
			log.Debug("Tool reference passed through as built-in", "tool", ref)
			resolved = append(resolved, Ref{Name: ref})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("loading tool %s: %w", ref, err)
		}
		descriptor, err := r.describe(ctx, agentTool)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, Ref{Name: agentTool.Name, Descriptor: descriptor})
	}
	return resolved, nil
}

func (r *Resolver) describe(ctx context.Context, t *AgentTool) (*Descriptor, error) {
	switch t.Source {
	case SourceCustom:
		plain, err := r.cipher.Decrypt(t.CustomConfig)
		if err != nil {
			return nil, &ValidationError{ToolID: t.ID, Reason: "cannot decrypt custom config", Err: err}
		}
		cfg, err := DecodeConfig([]byte(plain))
		if err != nil {
			var verr *ValidationError
			if errors.As(err, &verr) {
				verr.ToolID = t.ID
			}
			return nil, err
		}
		d := cfg.descriptor(t.ID, t.Name)
		return &d, nil
	case SourceStandard:
		return r.describeStandard(ctx, t)
	default:
		return nil, &ValidationError{ToolID: t.ID, Reason: fmt.Sprintf("unknown tool source %q", t.Source)}
	}
}

func (r *Resolver) describeStandard(ctx context.Context, t *AgentTool) (*Descriptor, error) {
	if t.SchemaID == nil || *t.SchemaID == "" {
		return nil, &ValidationError{ToolID: t.ID, Reason: "standard tool has no schema"}
	}
	schema, err := r.catalog.Get(ctx, *t.SchemaID)
	if err != nil {
		return nil, fmt.Errorf("loading schema %s for tool %s: %w", *t.SchemaID, t.ID, err)
	}
	env, err := r.decryptMap(t.ID, "env", t.Env)
	if err != nil {
		return nil, err
	}
	if err := validateEnv(t.ID, schema.EnvSchema, env); err != nil {
		return nil, err
	}
	query, err := r.decryptMap(t.ID, "query", t.Query)
	if err != nil {
		return nil, err
	}
	headers, err := r.decryptMap(t.ID, "headers", t.Headers)
	if err != nil {
		return nil, err
	}
	fullURL, err := mergeQuery(schema.URL, query)
	if err != nil {
		return nil, &ValidationError{ToolID: t.ID, Reason: "invalid catalog url", Err: err}
	}
	return &Descriptor{
		ID:      t.ID,
		Name:    t.Name,
		Command: schema.Command,
		Args:    schema.Args,
		Env:     env,
		URL:     fullURL,
		Headers: headers,
	}, nil
}

func (r *Resolver) decryptMap(toolID, field, ciphertext string) (map[string]string, error) {
	if ciphertext == "" {
		return map[string]string{}, nil
	}
	plain, err := r.cipher.Decrypt(ciphertext)
	if err != nil {
		return nil, &ValidationError{ToolID: toolID, Reason: "cannot decrypt " + field, Err: err}
	}
	values := map[string]string{}
	if plain == "" {
		return values, nil
	}
	if err := json.Unmarshal([]byte(plain), &values); err != nil {
		return nil, &ValidationError{ToolID: toolID, Reason: field + " must be a string map", Err: err}
	}
	return values, nil
}

func validateEnv(toolID string, envSchema json.RawMessage, env map[string]string) error {
	if len(envSchema) == 0 || string(envSchema) == "null" {
		return nil
	}
	compiled, err := jsonschema.NewCompiler().Compile(envSchema)
	if err != nil {
		return &ValidationError{ToolID: toolID, Reason: "invalid env schema", Err: err}
	}
	doc := make(map[string]any, len(env))
	for k, v := range env {
		doc[k] = v
	}
	if result := compiled.Validate(doc); !result.Valid {
		return &ValidationError{ToolID: toolID, Reason: fmt.Sprintf("env does not match schema: %v", result.Errors)}
	}
	return nil
}

func mergeQuery(rawURL string, query map[string]string) (string, error) {
	if rawURL == "" || len(query) == 0 {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	values := u.Query()
	for k, v := range query {
		values.Set(k, v)
	}
	u.RawQuery = values.Encode()
	return u.String(), nil
}
