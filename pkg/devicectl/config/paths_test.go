package config

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfigPath(t *testing.T) {
	t.Run("uses DEVICECTL_CONFIG env var when set", func(t *testing.T) {
		customPath := "/custom/path/config.yaml"
		t.Setenv("DEVICECTL_CONFIG", customPath)
		assert.Equal(t, customPath, DefaultConfigPath())
	})

	t.Run("uses user config dir when DEVICECTL_CONFIG not set", func(t *testing.T) {
		t.Setenv("DEVICECTL_CONFIG", "")
		result := DefaultConfigPath()
		assert.True(t, strings.HasSuffix(result, filepath.Join("devicectl", "config.yaml")),
			"Expected path to end with devicectl/config.yaml, got: %s", result)
	})
}
