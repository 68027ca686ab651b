package preference

import "context"

const DefaultLanguage = "en"

// Preferences are the per-user settings forwarded to the executor.
type Preferences struct {
	Language string `json:"language" db:"language"`
}

// Default returns the preferences used when a user has none stored.
func Default() *Preferences {
	return &Preferences{Language: DefaultLanguage}
}

type Repository interface {
	// Get returns nil preferences without error when the user has none.
	Get(ctx context.Context, orgID string, userID string) (*Preferences, error)
}

// Resolve loads a user's preferences and fills unset values with defaults.
func Resolve(ctx context.Context, repo Repository, orgID string, userID string) (*Preferences, error) {
	if repo == nil || userID == "" {
		return Default(), nil
	}
	prefs, err := repo.Get(ctx, orgID, userID)
	if err != nil {
		return nil, err
	}
	if prefs == nil {
		return Default(), nil
	}
	if prefs.Language == "" {
		prefs.Language = DefaultLanguage
	}
	return prefs, nil
}
