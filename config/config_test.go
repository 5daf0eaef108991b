package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fichflow/fichflow/config"
)

func TestLoad_DefaultsWithEnvSecret(t *testing.T) {
	t.Setenv("FICHFLOW_JWT_SECRET", "from-env")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "fichflow.db", cfg.Database.Path)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
}

func TestLoad_MissingJWTSecretFails(t *testing.T) {
	t.Setenv("FICHFLOW_JWT_SECRET", "")

	_, err := config.Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt_secret")
}

func TestLoad_TOMLFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fichflow.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
addr = ":9090"

[database]
path = "/tmp/test.db"

[auth]
jwt_secret = "file-secret"
admin_emails = ["ops@fichflow.example"]

[stripe]
secret_key = "sk_test_x"
[stripe.price_ids]
pack_10 = "price_abc"

[anthropic]
model = "claude-haiku-4-5-20251001"
`), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "/tmp/test.db", cfg.Database.Path)
	assert.Equal(t, "file-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, "price_abc", cfg.Stripe.PriceIDs["pack_10"])
}

func TestLoad_EnvWinsOverFile(t *testing.T) {
	t.Setenv("STRIPE_SECRET_KEY", "sk_env")

	path := filepath.Join(t.TempDir(), "fichflow.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[auth]
jwt_secret = "s"

[stripe]
secret_key = "sk_file"
`), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk_env", cfg.Stripe.SecretKey)
}

func TestIsAdminEmail(t *testing.T) {
	cfg := config.Config{}
	cfg.Auth.AdminEmails = []string{"ops@fichflow.example"}

	assert.True(t, cfg.IsAdminEmail("ops@fichflow.example"))
	assert.False(t, cfg.IsAdminEmail("user@example.com"))
	assert.False(t, cfg.IsAdminEmail(""))
}
