// Package cmd contains testing utilities shared between command tests.
// This file provides common functions for setting up test environments
// and capturing output.
package cmd

import (
	"bytes"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/PolarWolf314/sharevault/internal/configs"
)

const testPassphrase = "correct horse battery staple"

// setupTestEnvironment moves into a fresh project directory, points the user
// settings at a temporary home and restores everything when the test ends.
func setupTestEnvironment(t *testing.T) string {
	t.Helper()

	tempDir := t.TempDir()
	originalWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}
	if err := os.Chdir(tempDir); err != nil {
		t.Fatalf("Failed to change to temp directory: %v", err)
	}

	originalUser := configs.UserVaultSettings
	originalProject := configs.ProjectVaultSettings
	t.Cleanup(func() {
		if err := os.Chdir(originalWd); err != nil {
			t.Fatalf("Failed to change to original directory: %v", err)
		}
		configs.UserVaultSettings = originalUser
		configs.ProjectVaultSettings = originalProject
		ResetGlobalState()
	})

	t.Setenv(passphraseEnv, testPassphrase)
	useTestUser(t, "testuser")
	return tempDir
}

// useTestUser switches the current user to a per-test home directory.
func useTestUser(t *testing.T, name string) {
	t.Helper()
	home := t.TempDir()
	configs.UserVaultSettings = &configs.UserSettings{
		UserKeysPath:     filepath.Join(home, "identity"),
		UserKeyStorePath: filepath.Join(home, "keystore"),
		UserConfigsPath:  filepath.Join(home, "config"),
		Username:         name,
	}
}

// captureOutput captures both stdout and stderr during function execution.
func captureOutput(fn func() error) (string, error) {
	originalStdout := os.Stdout
	originalStderr := os.Stderr

	stdoutReader, stdoutWriter, _ := os.Pipe()
	stderrReader, stderrWriter, _ := os.Pipe()

	os.Stdout = stdoutWriter
	os.Stderr = stderrWriter

	outputChan := make(chan string, 2)
	for _, r := range []io.Reader{stdoutReader, stderrReader} {
		go func(r io.Reader) {
			var buf bytes.Buffer
			if _, err := io.Copy(&buf, r); err != nil {
				log.Fatalf("Failed to run copy command: %s", err)
			}
			outputChan <- buf.String()
		}(r)
	}

	err := fn()

	stdoutWriter.Close()
	stderrWriter.Close()

	os.Stdout = originalStdout
	os.Stderr = originalStderr

	first := <-outputChan
	second := <-outputChan

	return first + second, err
}

// runCLI executes the root command with args and returns everything it printed.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	ResetGlobalState()
	return captureOutput(func() error {
		RootCmd.SetArgs(args)
		return RootCmd.Execute()
	})
}
