package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlagsEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "site.env")
	require.NoError(t, os.WriteFile(envPath, []byte("ZONECOUNT_DB=from-file.db\nZONECOUNT_LISTEN=:9000\nZONECOUNT_LAYOUT=file.yaml\n"), 0o644))
	t.Setenv("ZONECOUNT_LISTEN", ":9100")

	var out bytes.Buffer
	o, err := parseFlags([]string{"-env", envPath, "-layout", "cli.yaml"}, &out)
	require.NoError(t, err)

	assert.Equal(t, "from-file.db", o.dbPath)
	assert.Equal(t, ":9100", o.listen, "process environment beats the file")
	assert.Equal(t, "cli.yaml", o.layoutPath, "command line beats both")
	assert.Equal(t, "-", o.input)
}

func TestParseFlagsMissingEnvFile(t *testing.T) {
	var out bytes.Buffer
	o, err := parseFlags([]string{"-env", filepath.Join(t.TempDir(), "absent.env")}, &out)
	require.NoError(t, err)
	assert.Equal(t, "zonecount.db", o.dbPath)
}
