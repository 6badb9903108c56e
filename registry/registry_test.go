package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "adapters.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestRegistry(t *testing.T) {
	validConfig := `
adapters:
  - image: ghcr.io/example/alpha
  - command: [./adapter, --strict]
    timeout: 30s
  - direct: true
`
	configPath := writeConfig(t, validConfig)

	t.Run("config loading", func(t *testing.T) {
		tests := []struct {
			name    string
			cfg     Config
			wantErr bool
		}{
			{
				name:    "valid config",
				cfg:     Config{AdapterConfigFile: configPath},
				wantErr: false,
			},
			{
				name:    "invalid config path",
				cfg:     Config{AdapterConfigFile: "nonexistent.yaml"},
				wantErr: true,
			},
			{
				name:    "missing config file",
				cfg:     Config{},
				wantErr: true,
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				r, err := NewRegistry(tt.cfg)
				if tt.wantErr {
					require.Error(t, err)
					return
				}
				require.NoError(t, err)
				require.NotNil(t, r.GetConfig())
			})
		}
	})

	t.Run("adapters", func(t *testing.T) {
		r, err := NewRegistry(Config{AdapterConfigFile: configPath})
		require.NoError(t, err)

		adapters := r.Adapters()
		require.Len(t, adapters, 3)
		assert.Equal(t, []string{"ghcr.io/example/alpha", "./adapter --strict", DirectKey}, r.Keys())
		assert.Equal(t, 30*time.Second, adapters[1].TimeoutOr(10*time.Second))
		assert.Equal(t, 10*time.Second, adapters[0].TimeoutOr(10*time.Second))
	})
}

func TestRegistryValidation(t *testing.T) {
	tests := []struct {
		name      string
		config    string
		wantError string
	}{
		{
			name:      "no adapters",
			config:    "adapters: []\n",
			wantError: "config declares no adapters",
		},
		{
			name:      "ambiguous adapter",
			config:    "adapters:\n  - image: x\n    direct: true\n",
			wantError: "exactly one of image, command, or direct",
		},
		{
			name:      "empty adapter",
			config:    "adapters:\n  - timeout: 5s\n",
			wantError: "exactly one of image, command, or direct",
		},
		{
			name:      "duplicate image",
			config:    "adapters:\n  - image: x\n  - image: x\n",
			wantError: `duplicate adapter "x"`,
		},
		{
			name:      "bad duration",
			config:    "adapters:\n  - image: x\n    timeout: fast\n",
			wantError: `parsing duration "fast"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(Config{AdapterConfigFile: writeConfig(t, tt.config)})
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantError)
		})
	}
}

func TestFromAdapters(t *testing.T) {
	r, err := FromAdapters(nil, []Adapter{{Image: "x"}, {Direct: true}})
	require.NoError(t, err)
	assert.Equal(t, []string{"x", DirectKey}, r.Keys())

	_, err = FromAdapters(nil, nil)
	require.Error(t, err)

	_, err = FromAdapters(nil, []Adapter{{Image: "x"}, {Image: "x"}})
	require.Error(t, err)
}

func TestAdapterKey(t *testing.T) {
	assert.Equal(t, "ghcr.io/x", Adapter{Image: "ghcr.io/x"}.Key())
	assert.Equal(t, "./a --flag", Adapter{Command: []string{"./a", "--flag"}}.Key())
	assert.Equal(t, DirectKey, Adapter{Direct: true}.Key())
	assert.Equal(t, "", Adapter{}.Key())
}

func TestParseAdapter(t *testing.T) {
	assert.Equal(t, Adapter{Direct: true}, ParseAdapter("direct"))
	assert.Equal(t, Adapter{Image: "ghcr.io/example/alpha"}, ParseAdapter("ghcr.io/example/alpha"))
}
