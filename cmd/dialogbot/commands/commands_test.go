package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/dialogbot/automation/patterns"
	"github.com/m3rciful/dialogbot/automation/store"
)

func TestKeygenPrintsParsableKey(t *testing.T) {
	root := NewRootCmd("test")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"keygen"})

	require.NoError(t, root.Execute())
	_, err := store.ParseKey(strings.TrimSpace(out.String()))
	assert.NoError(t, err)
}

func TestReadSession(t *testing.T) {
	s, err := readSession(strings.NewReader("  1Abc==\n"), "-")
	require.NoError(t, err)
	assert.Equal(t, "1Abc==", s)

	path := filepath.Join(t.TempDir(), "s.txt")
	require.NoError(t, os.WriteFile(path, []byte("fromfile"), 0o600))
	s, err = readSession(nil, path)
	require.NoError(t, err)
	assert.Equal(t, "fromfile", s)

	_, err = readSession(strings.NewReader("   "), "-")
	assert.Error(t, err)
}

func TestRootRegistersSubcommands(t *testing.T) {
	root := NewRootCmd("v1")
	for _, name := range []string{"run", "migrate", "keygen", "account", "patterns"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestMergePatternsReplacesNamedLists(t *testing.T) {
	base := patterns.DefaultSet()
	got, err := mergePatterns(base, map[string][]string{
		"found":  {" Partner found ", "", "Собеседник найден"},
		"system": {"ad"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Partner found", "Собеседник найден"}, got.PartnerFound)
	assert.Equal(t, []string{"ad"}, got.SystemMessage)
	assert.Equal(t, base.PartnerSkipped, got.PartnerSkipped)
	assert.Equal(t, base.AlreadyInDialog, got.AlreadyInDialog)
	assert.Equal(t, patterns.DefaultSet(), base)
}

func TestMergePatternsRejectsEmptyList(t *testing.T) {
	_, err := mergePatterns(patterns.DefaultSet(), map[string][]string{"busy": {"  "}})
	assert.ErrorContains(t, err, "--busy")
}

func TestPatternsSetNeedsChanges(t *testing.T) {
	root := NewRootCmd("test")
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"patterns", "set"})

	assert.ErrorContains(t, root.Execute(), "nothing to change")
}

func TestPrintPatternsListsEveryGroup(t *testing.T) {
	var out bytes.Buffer
	printPatterns(&out, patterns.Set{PartnerFound: []string{"found it"}})
	text := out.String()
	for _, name := range []string{"found", "skipped", "busy", "system"} {
		assert.Contains(t, text, name)
	}
	assert.Contains(t, text, `"found it"`)
}
