package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antibyte/emojivm/pkg/emoji"
	"github.com/antibyte/emojivm/pkg/shared"
)

const countdown = "LOAD 3\ntop:\nPRINT\nSUB 1\nCMP 0\nJGT top\nHALT\n"

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// writeConfig points the store into a temp dir and fixes the receipt secret.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf("[Store]\ndb_path = %s\n\n[Lessons]\nreceipt_secret = cli-test-secret\nreceipt_ttl = 1h\n",
		filepath.Join(dir, "cli.db"))
	path := filepath.Join(dir, "emojivm.cfg")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0644))
	return path
}

func TestRun(t *testing.T) {
	prog := writeFile(t, "countdown.emo", countdown)
	stdout, _, err := execute(t, "run", prog)
	require.NoError(t, err)
	assert.Equal(t, "3\n2\n1\n", stdout)
}

func TestRunInputs(t *testing.T) {
	prog := writeFile(t, "echo.emo", "⌨️\n🖨️\n⌨️\n🖨️\n🛑\n")

	stdout, _, err := execute(t, "run", prog, "--input", "4", "-i", "5")
	require.NoError(t, err)
	assert.Equal(t, "4\n5\n", stdout)

	stdout, _, err = execute(t, "run", prog, "--input", "4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--input")
	assert.Equal(t, "4\n", stdout)
}

func TestRunLimits(t *testing.T) {
	prog := writeFile(t, "spin.emo", "top:\nJUMP top\n")
	_, _, err := execute(t, "run", prog, "--max-cycles", "20")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PROGRAM RAN TOO LONG")
}

func TestRunTrace(t *testing.T) {
	prog := writeFile(t, "ten.emo", "LOAD 10\nPRINT\nHALT\n")
	stdout, stderr, err := execute(t, "run", prog, "--trace")
	require.NoError(t, err)
	assert.Equal(t, "10\n", stdout)
	assert.Contains(t, stderr, `output "10"`)
	assert.Contains(t, stderr, "milestone halted")
	assert.Contains(t, stderr, "status RUNNING -> HALTED")
}

func TestRunJSON(t *testing.T) {
	prog := writeFile(t, "ten.emo", "LOAD 10\nPRINT\nHALT\n")
	stdout, _, err := execute(t, "run", prog, "--json")
	require.NoError(t, err)

	var rec shared.SnapshotRecord
	require.NoError(t, json.Unmarshal([]byte(stdout), &rec))
	assert.Equal(t, "HALTED", rec.Status)
	assert.Equal(t, []string{"10"}, rec.Output)
	assert.Equal(t, emoji.SourceID("LOAD 10\nPRINT\nHALT\n"), rec.ProgramID)
}

func TestRunInvalidProgram(t *testing.T) {
	prog := writeFile(t, "bad.emo", "LOAD\nJUMP nowhere\n")
	_, stderr, err := execute(t, "run", prog)
	require.Error(t, err)
	assert.Contains(t, stderr, "line 1")
	assert.Contains(t, stderr, "line 2")
}

func TestCheck(t *testing.T) {
	prog := writeFile(t, "countdown.emo", countdown)
	stdout, _, err := execute(t, "check", prog)
	require.NoError(t, err)
	assert.Contains(t, stdout, "ok, 6 instructions, 1 labels")

	// the program record round-trips through the JSON validator
	stdout, _, err = execute(t, "check", "--json", prog)
	require.NoError(t, err)
	record := writeFile(t, "countdown.json", stdout)
	stdout, _, err = execute(t, "check", record)
	require.NoError(t, err)
	assert.Contains(t, stdout, "ok, 0 warnings")

	broken := writeFile(t, "broken.json", `{"schemaVersion": 1, "instructions": []}`)
	_, stderr, err := execute(t, "check", broken)
	require.Error(t, err)
	assert.Contains(t, stderr, "sourceText")

	_, _, err = execute(t, "check", "--kind", "nonsense", broken)
	require.Error(t, err)
}

func TestFmt(t *testing.T) {
	prog := writeFile(t, "ten.emo", "load 10\nprint\nhalt\n")

	stdout, _, err := execute(t, "fmt", "--mnemonic", prog)
	require.NoError(t, err)
	assert.Contains(t, stdout, "LOAD 10\nPRINT\nHALT\n")

	stdout, _, err = execute(t, "fmt", prog)
	require.NoError(t, err)
	assert.Contains(t, stdout, "📥 10\n")

	_, _, err = execute(t, "fmt", "-w", prog)
	require.NoError(t, err)
	data, err := os.ReadFile(prog)
	require.NoError(t, err)
	assert.Equal(t, stdout, string(data))
}

func TestDisasm(t *testing.T) {
	prog := writeFile(t, "countdown.emo", countdown)
	stdout, _, err := execute(t, "disasm", prog)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 6)
	assert.Contains(t, lines[1], "<top>")
}

const lessonCUE = `
id:    "basics"
title: "Basics"
steps: [{
	id:             "double"
	inputs:         [21]
	expectedOutput: ["42"]
}]
`

func TestGradeAndVerify(t *testing.T) {
	cfg := writeConfig(t)
	lessonPath := writeFile(t, "basics.cue", lessonCUE)
	good := writeFile(t, "good.emo", "INPUT\nMUL 2\nPRINT\nHALT\n")
	wrong := writeFile(t, "wrong.emo", "INPUT\nPRINT\nHALT\n")

	stdout, _, err := execute(t, "--config", cfg, "grade", lessonPath, "double", good)
	require.NoError(t, err)
	assert.Contains(t, stdout, "PASS basics/double")

	var receipt string
	for _, line := range strings.Split(stdout, "\n") {
		if strings.HasPrefix(line, "receipt: ") {
			receipt = strings.TrimPrefix(line, "receipt: ")
		}
	}
	require.NotEmpty(t, receipt)

	stdout, _, err = execute(t, "--config", cfg, "verify", receipt)
	require.NoError(t, err)
	assert.Contains(t, stdout, "lesson basics step double")

	_, _, err = execute(t, "--config", cfg, "verify", receipt+"x")
	require.Error(t, err)

	stdout, _, err = execute(t, "--config", cfg, "grade", lessonPath, "double", wrong)
	require.Error(t, err)
	assert.Contains(t, stdout, "FAIL basics/double")
	assert.Contains(t, stdout, "expected: 42")

	_, _, err = execute(t, "--config", cfg, "grade", lessonPath, "missing", good)
	require.Error(t, err)
}

func TestRunSaveAndHistory(t *testing.T) {
	cfg := writeConfig(t)
	prog := writeFile(t, "countdown.emo", countdown)

	for i := 0; i < 2; i++ {
		_, stderr, err := execute(t, "--config", cfg, "run", "--save", prog)
		require.NoError(t, err)
		assert.Empty(t, stderr)
	}

	stdout, _, err := execute(t, "--config", cfg, "history", emoji.SourceID(countdown))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "HALTED")

	stdout, _, err = execute(t, "--config", cfg, "history", "-n", "1", emoji.SourceID(countdown))
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(stdout), "\n"), 1)
}
