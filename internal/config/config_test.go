package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "gemini-2.5-flash", cfg.Classifier.Model)
	assert.Equal(t, 4, cfg.Classifier.MaxWorkers)
	assert.Equal(t, 3, cfg.Classifier.MaxAttempts)
	assert.Equal(t, "data/raw", cfg.Inbox.Dir)
	assert.NotEmpty(t, cfg.Taxonomy)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DB_NAME", "spendflow_test")
	t.Setenv("DB_HOST", "db.internal")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "spendflow_test", cfg.DB.Name)
	assert.Contains(t, cfg.DB.URL(), "@db.internal:5432/spendflow_test")
}

func TestLoad_ParamsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	params := `
classifier:
  model: gemini-2.0-pro
  max_workers: 8
  max_attempts: 5
inbox:
  dir: /var/statements/in
taxonomy:
  - category: Food & Dining
    subcategories: [Eat Out, Grab Food]
`
	require.NoError(t, os.WriteFile(path, []byte(params), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "gemini-2.0-pro", cfg.Classifier.Model)
	assert.Equal(t, 8, cfg.Classifier.MaxWorkers)
	assert.Equal(t, 5, cfg.Classifier.RetryPolicy().MaxAttempts)
	assert.Equal(t, "/var/statements/in", cfg.Inbox.Dir)
	// unset params keep their defaults
	assert.Equal(t, "data/processed", cfg.Inbox.ProcessedDir)

	require.Len(t, cfg.Taxonomy, 1)
	assert.Equal(t, "Food & Dining", cfg.Taxonomy[0].Category)
}

func TestLoad_MissingParamsFileIsFine(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Classifier.MaxWorkers)
}

func TestDBURL_EscapesCredentials(t *testing.T) {
	d := DB{Name: "spendflow", User: "app user", Password: "p@ss/word", Host: "localhost", Port: "5432"}
	u := d.URL()
	assert.Contains(t, u, "app+user")
	assert.NotContains(t, u, "p@ss/word")
}
