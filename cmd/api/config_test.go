package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("MINIMUM_COMMISSION", "7")
	t.Setenv("PRODUCTION", "true")

	v := viper.New()
	config, err := loadConfig(v)
	require.NoError(t, err)

	assert.Equal(t, "9090", config.Port)
	assert.Equal(t, "secret", config.JWTSecret)
	assert.EqualValues(t, 7, config.MinimumCommission)
	assert.True(t, config.Production)
	assert.Equal(t, "./data", config.Directory)
	assert.Equal(t, "pandoc", config.Converter)
	assert.Equal(t, 587, config.SMTPPort)

	assert.Contains(t, missing(v), "STRIPE_SECRET_KEY")
	assert.NotContains(t, missing(v), "JWT_SECRET")
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	contents := "BASE_HREF=https://market.example\nADMIN_EMAIL=ops@example.com\nCORS_ORIGINS=https://a.example, https://b.example\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.env"), []byte(contents), 0o600))

	config, err := loadConfig(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "https://market.example", config.BaseHref)
	assert.Equal(t, "ops@example.com", config.AdminEmail)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, config.Origins())
}

func TestOrigins(t *testing.T) {
	assert.Equal(t, []string{"*"}, Config{CORSOrigins: "*"}.Origins())
	assert.Empty(t, Config{CORSOrigins: " , "}.Origins())
}
