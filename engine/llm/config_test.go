package llm_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskdeck/taskdeck/engine/llm"
	"github.com/taskdeck/taskdeck/engine/secret"
)

func TestConfig_Connection(t *testing.T) {
	t.Run("Should decrypt the api key into connection params", func(t *testing.T) {
		kp, err := secret.GenerateKeypair()
		require.NoError(t, err)
		sealed, err := kp.Encrypt("sk-test")
		require.NoError(t, err)
		cfg := &llm.Config{
			ID:          "llm1",
			Model:       "gpt-4o",
			BaseURL:     "https://api.openai.com/v1",
			APIKey:      sealed,
			MaxTokens:   4096,
			Temperature: 0.2,
			APIType:     "openai",
		}
		conn, err := cfg.Connection(kp)
		require.NoError(t, err)
		assert.Equal(t, "sk-test", conn.APIKey)
		raw, err := json.Marshal(conn)
		require.NoError(t, err)
		assert.JSONEq(t, `{
			"model":"gpt-4o","base_url":"https://api.openai.com/v1","api_key":"sk-test",
			"max_tokens":4096,"max_input_tokens":null,"temperature":0.2,
			"api_type":"openai","api_version":""
		}`, string(raw))
	})
	t.Run("Should fail when ciphertext is invalid", func(t *testing.T) {
		kp, err := secret.GenerateKeypair()
		require.NoError(t, err)
		cfg := &llm.Config{ID: "llm1", APIKey: "!!not-base64"}
		_, err = cfg.Connection(kp)
		assert.ErrorIs(t, err, secret.ErrDecrypt)
	})
}
