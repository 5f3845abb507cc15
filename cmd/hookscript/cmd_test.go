package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestFile(t *testing.T, p, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))

	return p
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestRunCommand(t *testing.T) {
	dir := t.TempDir()
	scriptFile := writeTestFile(t, filepath.Join(dir, "greet.lua"), "--* require: greet\nif status == 500 then error(\"boom\") end\nsetResult(greet(body))")
	writeTestFile(t, filepath.Join(dir, "libs", "greet.lua"), `function greet(n) return "hello " .. n end`)
	exchanges := writeTestFile(t, filepath.Join(dir, "exchanges.ndjson"),
		`{"id": "1", "status": 200, "body": "a"}`+"\n"+
			`{"id": "2", "status": 500, "body": "b"}`+"\n"+
			`{"id": "3", "status": 200, "body": "c"}`+"\n")

	stdout, stderr, err := execute(t, "run", scriptFile, exchanges, "-o", "text", "-c", "2")
	require.NoError(t, err)
	assert.Equal(t, "hello a\nb\nhello c\n", stdout)
	assert.Contains(t, stderr, "[2] runtime error")
}

func TestRunCommandCompileError(t *testing.T) {
	dir := t.TempDir()
	scriptFile := writeTestFile(t, filepath.Join(dir, "broken.js"), "setResult(")
	exchanges := writeTestFile(t, filepath.Join(dir, "exchanges.ndjson"), `{"body": "a"}`+"\n")

	_, _, err := execute(t, "run", scriptFile, exchanges, "-o", "json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to compile js script broken")
}

func TestCheckCommand(t *testing.T) {
	dir := t.TempDir()
	good := writeTestFile(t, filepath.Join(dir, "good.jsonpath"), "$.token")
	bad := writeTestFile(t, filepath.Join(dir, "bad.lua"), "if then")

	stdout, _, err := execute(t, "check", good)
	require.NoError(t, err)
	assert.Contains(t, stdout, "good.jsonpath: ok (good, jsonpath)")

	_, stderr, err := execute(t, "check", good, bad)
	require.Error(t, err)
	assert.Contains(t, stderr, "bad.lua")
}

func TestUnknownOutput(t *testing.T) {
	dir := t.TempDir()
	scriptFile := writeTestFile(t, filepath.Join(dir, "s.lua"), "")

	_, _, err := execute(t, "run", scriptFile, "-o", "yaml")
	assert.Error(t, err)
}

func TestCheckCommandStdin(t *testing.T) {
	rootCmd.SetIn(strings.NewReader("//* name: inline\nsetResult(body)"))
	defer rootCmd.SetIn(nil)

	stdout, _, err := execute(t, "check", "-", "--engine", "js")
	require.NoError(t, err)
	assert.Contains(t, stdout, "-: ok (inline, js)")

	rootCmd.SetIn(strings.NewReader("if then"))
	_, stderr, err := execute(t, "check", "-", "--engine", "lua")
	require.Error(t, err)
	assert.Contains(t, stderr, "failed to compile lua script stdin")
}
