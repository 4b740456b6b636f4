package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/xansworks/shadow/config"
	"github.com/xansworks/shadow/savedata"
)

func exportedSave(t *testing.T) string {
	t.Helper()
	store := savedata.NewStore()
	a, err := store.Accessor("lizards", "spawns")
	require.NoError(t, err)
	require.NoError(t, savedata.SetValue(a, savedata.Slugcat, "count", 4))
	require.NoError(t, savedata.SetValue(a, savedata.Global, "name", "cyan"))
	require.NoError(t, store.Set("raw", savedata.Cycle, "bytes", []byte{0xc1}))

	exported, err := store.Export()
	require.NoError(t, err)
	return exported
}

func runDecode(t *testing.T, input string) map[string]map[string]map[string]any {
	t.Helper()
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetIn(strings.NewReader(input))
	cmd.SetOut(&out)
	require.NoError(t, savedataDecodeCmd.RunE(cmd, nil))

	var decoded map[string]map[string]map[string]any
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &decoded))
	return decoded
}

func TestSavedataDecode(t *testing.T) {
	exported := exportedSave(t)

	for name, input := range map[string]string{
		"save strings": "OTHER<svB>abc\n" + exported + "\n",
		"blob":         strings.TrimPrefix(exported, savedata.DefaultKey+"<svB>") + "\n",
	} {
		t.Run(name, func(t *testing.T) {
			decoded := runDecode(t, input)
			assert.Equal(t, 4, decoded["lizards:spawns"]["slugcat"]["count"])
			assert.Equal(t, "cyan", decoded["lizards:spawns"]["global"]["name"])
			assert.Equal(t, "base64:wQ==", decoded["raw"]["cycle"]["bytes"])
		})
	}
}

func TestReadStore_Errors(t *testing.T) {
	_, err := readStore(strings.NewReader("  \n"), savedata.DefaultKey)
	assert.ErrorContains(t, err, "no XANSTOOLSSAVEDATA save data found")

	_, err = readStore(strings.NewReader("OTHER<svB>abc"), savedata.DefaultKey)
	assert.ErrorContains(t, err, "not a blob")
}

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), config.FileName)
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)

	require.NoError(t, initConfig(cmd, path, false))
	assert.Contains(t, out.String(), path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)

	assert.ErrorContains(t, initConfig(cmd, path, false), "already exists")

	require.NoError(t, os.WriteFile(path, []byte("junk"), 0o644))
	require.NoError(t, initConfig(cmd, path, true))
	cfg, err = config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}
