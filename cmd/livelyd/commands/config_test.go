package commands

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/livelyd/livelyd/internal/config"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestWriteConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.ServerPort = 9090

	var out bytes.Buffer
	require.NoError(t, writeConfig(&out, cfg, "json"))
	var fromJSON map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &fromJSON))
	require.EqualValues(t, 9090, fromJSON["server_port"])

	out.Reset()
	require.NoError(t, writeConfig(&out, cfg, "yaml"))
	var fromYAML map[string]any
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &fromYAML))
	require.EqualValues(t, 9090, fromYAML["server_port"])

	require.ErrorContains(t, writeConfig(&out, cfg, "toml"), "unknown format")
}
