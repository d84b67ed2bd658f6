package cli

import (
	"testing"

	"lexicon-go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyLabelFlags_OnlyOverridesExplicitFlags(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	require.NoError(t, labelCmd.ParseFlags([]string{
		"--dir", "/data/armor",
		"--api", "gpu-box:11434",
		"--concurrency", "4",
	}))
	applyLabelFlags(labelCmd, cfg)

	assert.Equal(t, "/data/armor", cfg.Labeler.ImageDir)
	assert.Equal(t, "http://gpu-box:11434/v1", cfg.LLM.BaseURL)
	assert.Equal(t, 4, cfg.Labeler.MaxConcurrency)
	assert.Equal(t, 50, cfg.Labeler.BatchSize)
	assert.Equal(t, "equipment_labels.csv", cfg.Labeler.OutputPath)
	assert.False(t, cfg.Labeler.Debug)
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "12345678", shortID("1234567890"))
	assert.Equal(t, "abc", shortID("abc"))
}

func TestApplyLabelFlags_TypeIsRequired(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	require.NoError(t, labelCmd.ParseFlags([]string{"--dir", "/data/helmets"}))
	applyLabelFlags(labelCmd, cfg)
	assert.ErrorContains(t, cfg.ValidateLabeler(), "--type")

	require.NoError(t, labelCmd.ParseFlags([]string{"--type", "头部防具"}))
	applyLabelFlags(labelCmd, cfg)
	assert.NoError(t, cfg.ValidateLabeler())
}
