package main

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"

	"github.com/xansworks/shadow/savedata"
)

var savedataCmd = &cobra.Command{
	Use:   "savedata",
	Short: "Work with mod data stored in save files",
}

var savedataKey string

func init() {
	savedataDecodeCmd.Flags().StringVar(&savedataKey, "key", savedata.DefaultKey, "marker of the save string that carries mod data")
	savedataCmd.AddCommand(savedataDecodeCmd)
}

var savedataDecodeCmd = &cobra.Command{
	Use:   "decode [file]",
	Short: "Print the mod data held in a save file as YAML",
	Long: `Reads save strings, one per line, from file or standard input and prints
the mod data found in them. A bare encoded blob is accepted too.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := cmd.InOrStdin()
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}

		store, err := readStore(in, savedataKey)
		if err != nil {
			return err
		}
		return writeYAML(cmd.OutOrStdout(), decodedEntries(store))
	},
}

func readStore(r io.Reader, key string) (*savedata.Store, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	store := savedata.NewStore(savedata.WithKey(key))
	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	found, err := store.ImportFrom(lines)
	if err != nil {
		return nil, err
	}
	if found {
		return store, nil
	}

	blob := strings.TrimSpace(string(data))
	if blob == "" {
		return nil, fmt.Errorf("no %s save data found", key)
	}
	if err := store.Import(blob); err != nil {
		return nil, fmt.Errorf("no %s save string found and the input is not a blob: %w", key, err)
	}
	return store, nil
}

// decodedEntries groups the entries of store by accessor and scope. Values
// that are not msgpack are shown as base64.
func decodedEntries(store *savedata.Store) map[string]map[string]map[string]any {
	out := map[string]map[string]map[string]any{}
	for _, e := range store.Entries() {
		scopes, ok := out[e.Accessor]
		if !ok {
			scopes = map[string]map[string]any{}
			out[e.Accessor] = scopes
		}
		values, ok := scopes[e.Scope.String()]
		if !ok {
			values = map[string]any{}
			scopes[e.Scope.String()] = values
		}

		var v any
		if err := msgpack.Unmarshal(e.Value, &v); err != nil {
			v = "base64:" + base64.StdEncoding.EncodeToString(e.Value)
		}
		values[e.Key] = v
	}
	return out
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
