package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const partialConfig = `
http_addr          = ":9090"
feedback_tolerance = 0.25
`

func TestLoad_FillsUnsetFieldsFromDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "controller.hcl")
	require.NoError(t, os.WriteFile(path, []byte(partialConfig), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, 0.25, cfg.FeedbackTolerance)
	assert.Equal(t, DefaultController().CatalogDir, cfg.CatalogDir)
	assert.Equal(t, DefaultController().MetricsRetention, cfg.MetricsRetention)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.hcl"))
	require.Error(t, err)
}

func TestParseDuration_EmptyUsesDefault(t *testing.T) {
	d, err := ParseDuration("", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), int64(d))

	d, err = ParseDuration("30s", 0)
	require.NoError(t, err)
	assert.Equal(t, "30s", d.String())
}
