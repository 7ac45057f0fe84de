package cmd

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bascanada/epidata/pkg/epidata/client/config"
	"github.com/bascanada/epidata/pkg/epidata/factory"
	"github.com/bascanada/epidata/pkg/printer"
)

const dataset = `[
  {"ts": 1428004316123, "company": "Company-1", "site": "Site-1", "device_group": "1000", "tester": "Station-1", "meas_value": 45.7},
  {"ts": 1428004317000, "company": "Company-1", "site": "Site-2", "device_group": "1000", "tester": "Station-1", "meas_value": 12, "meas_status": "FAIL"},
  {"ts": 1428004318000, "company": "Company-2", "site": "Site-1", "device_group": "1000", "tester": "Station-2", "meas_value": 3}
]`

func resetFlags() {
	configPath, contextID, engineName = "", "", ""
	inherits, vars, fields = []string{}, []string{}, []string{}
	fieldsFile, varsFile = "", ""
	from, to, last = "", "", ""
	outputFormat, outputFile, colorMode = "text", "", "never"
	adhocClasspath, adhocEndpoint, adhocData, adhocKeyFields = "", "", "", nil
	resetHelpFlags(rootCmd)
}

// resetHelpFlags clears a --help left set by a previous test on the shared commands.
func resetHelpFlags(c *cobra.Command) {
	if f := c.Flags().Lookup("help"); f != nil {
		_ = f.Value.Set("false")
		f.Changed = false
	}
	for _, sub := range c.Commands() {
		resetHelpFlags(sub)
	}
}

func writeDataset(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "measurements.json")
	require.NoError(t, os.WriteFile(path, []byte(dataset), 0o644))
	return path
}

func writeConfigFile(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
engines:
  dev:
    type: memory
    options:
      data: `+data+`
queries:
  company1:
    fields:
      company: Company-1
contexts:
  window:
    engine: dev
    description: fixed window
    queryInherit: [company1]
    query:
      range:
        begin: "2015-04-02T19:51:56Z"
        end: "2015-04-02T19:52:00Z"
  cleansed:
    engine: dev
    kind: cleansed
    queryInherit: [company1]
    query:
      range:
        last: 1h
`), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	t.Setenv(config.EnvStatePath, filepath.Join(t.TempDir(), "state.yaml"))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	defer rootCmd.SetOut(nil)
	defer rootCmd.SetErr(nil)

	_, err := rootCmd.ExecuteC()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "develop\n", out)
}

func TestHelpOutput(t *testing.T) {
	out, err := run(t, "query", "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "original measurements")
	assert.Contains(t, out, "--field")
}

func TestQueryCommand_Adhoc(t *testing.T) {
	data := writeDataset(t)

	out, err := run(t, "query", "--data", data,
		"-f", "company=Company-1",
		"--from", "2015-04-02T19:51:56Z", "--to", "2015-04-02T19:52:00Z",
		"-o", "csv")
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Contains(t, records[0], "ts")
	assert.Contains(t, records[0], "meas_value")
}

func TestQueryCommand_Context(t *testing.T) {
	cfg := writeConfigFile(t, writeDataset(t))

	out, err := run(t, "query", "-c", cfg, "-i", "window", "-o", "json")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 2)

	out, err = run(t, "query", "cleansed", "-c", cfg, "-i", "window", "-o", "json")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 1)

	out, err = run(t, "query", "summary", "-c", cfg, "-i", "window", "-o", "csv")
	require.NoError(t, err)
	assert.Contains(t, out, "meas_mean")
}

func TestQueryCommand_Errors(t *testing.T) {
	data := writeDataset(t)

	_, err := run(t, "query", "raw", "--data", data, "--last", "1h")
	assert.ErrorContains(t, err, "unknown query kind")

	_, err = run(t, "query", "--data", data, "-f", "=x", "--last", "1h")
	assert.Error(t, err)

	_, err = run(t, "query", "--data", data, "--classpath", "engine.jar", "--last", "1h")
	assert.ErrorContains(t, err, "exclusive")

	_, err = run(t, "query", "--data", data)
	assert.ErrorContains(t, err, "time range")

	_, err = run(t, "query", "--data", data, "--last", "1h", "-o", "xml")
	assert.ErrorContains(t, err, "xml")
}

func TestQueryCommand_ParquetToFile(t *testing.T) {
	data := writeDataset(t)
	out := filepath.Join(t.TempDir(), "result.parquet")

	_, err := run(t, "query", "--data", data,
		"--from", "2015-04-02T19:51:56Z", "--to", "2015-04-02T19:52:00Z",
		"-o", "parquet", "--out", out)
	require.NoError(t, err)

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(b, []byte("PAR1")))
}

func TestKeysCommand(t *testing.T) {
	data := writeDataset(t)

	out, err := run(t, "keys", "--data", data, "--key-fields", "company,site", "-o", "csv")
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []string{"company", "site"}, records[0])
	assert.Len(t, records, 4)
}

func TestContextCommands(t *testing.T) {
	cfg := writeConfigFile(t, writeDataset(t))
	state := filepath.Join(t.TempDir(), "state.yaml")

	resetFlags()
	t.Setenv(config.EnvStatePath, state)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	defer rootCmd.SetOut(nil)

	rootCmd.SetArgs([]string{"context", "use", "-c", cfg, "window"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), `Switched to context "window"`)

	out.Reset()
	rootCmd.SetArgs([]string{"context", "list", "-c", cfg})
	require.NoError(t, rootCmd.Execute())
	var current []string
	for _, line := range strings.Split(out.String(), "\n") {
		if strings.HasPrefix(line, "*") {
			current = append(current, line)
		}
	}
	require.Len(t, current, 1)
	assert.Contains(t, current[0], "window")
	assert.Contains(t, out.String(), "cleansed")

	// the saved context is used without --id
	out.Reset()
	resetFlags()
	rootCmd.SetArgs([]string{"query", "-c", cfg, "-o", "json", "--color", "never"})
	require.NoError(t, rootCmd.Execute())
	assert.Len(t, strings.Split(strings.TrimSpace(out.String()), "\n"), 2)

	rootCmd.SetArgs([]string{"context", "use", "-c", cfg, "nope"})
	assert.ErrorIs(t, rootCmd.Execute(), config.ErrContextNotFound)
}

func TestBuildRequest(t *testing.T) {
	resetFlags()
	engineName = "dev"
	fields = []string{"company=Company-1", "site=Site-1,Site-2"}
	last = "24h"
	vars = []string{"tester=Station-1"}

	req, err := buildRequest("summary")
	require.NoError(t, err)
	assert.Equal(t, "dev", req.Engine)
	assert.Equal(t, "summary", req.Kind)
	assert.Equal(t, []string{"Company-1"}, req.Query.Fields["company"].Values)
	assert.True(t, req.Query.Fields["site"].Set)
	assert.Equal(t, "24h", req.Query.Range.Last.Value)
	assert.Equal(t, map[string]string{"tester": "Station-1"}, req.Variables)

	vars = []string{"novalue"}
	_, err = buildRequest("")
	assert.Error(t, err)
}

func TestBuildRequest_Files(t *testing.T) {
	resetFlags()
	dir := t.TempDir()
	fieldsFile = filepath.Join(dir, "fields")
	varsFile = filepath.Join(dir, "vars")
	require.NoError(t, os.WriteFile(fieldsFile, []byte("company=Company-1\nsite=Site-1,Site-2\n"), 0o644))
	require.NoError(t, os.WriteFile(varsFile, []byte("tester=Station-1\nday=2015-04-02\n"), 0o644))
	fields = []string{"company=Company-2"}
	vars = []string{"tester=Station-2"}

	req, err := buildRequest("")
	require.NoError(t, err)
	assert.Equal(t, []string{"Company-2"}, req.Query.Fields["company"].Values)
	assert.Equal(t, []string{"Site-1", "Site-2"}, req.Query.Fields["site"].Values)
	assert.Equal(t, map[string]string{"tester": "Station-2", "day": "2015-04-02"}, req.Variables)
}

func TestRunKeys_NoEngine(t *testing.T) {
	cfg, err := config.Parse([]byte(`
engines:
  a: {type: memory}
  b: {type: memory}
`), ".yaml")
	require.NoError(t, err)

	engines, qf, err := openFactories(context.Background(), cfg)
	require.NoError(t, err)
	defer engines.Close()

	err = RunKeys(context.Background(), &bytes.Buffer{}, qf, "", printer.Options{})
	assert.ErrorIs(t, err, factory.ErrNoEngine)
}
