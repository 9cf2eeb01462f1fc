package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// SetupTestEnv sets environment variables for the duration of a test.
//
// It uses t.Setenv, so the test and its ancestors must not call t.Parallel.
//
// Example usage:
//
//	SetupTestEnv(t, map[string]string{
//	    "ROTATION_STRATEGY": "single-user",
//	    "AWS_REGION":        "eu-west-1",
//	})
func SetupTestEnv(t *testing.T, vars map[string]string) {
	t.Helper()
	for key, value := range vars {
		t.Setenv(key, value)
	}
}

// WriteTestConfig writes yamlContent to dbrotate.yaml in a fresh temporary
// directory and returns its path.
//
// Example:
//
//	path := WriteTestConfig(t, `
//	strategy: single-user
//	aws:
//	  region: eu-west-1
//	`)
func WriteTestConfig(t *testing.T, yamlContent string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "dbrotate.yaml")
	if err := os.WriteFile(path, []byte(yamlContent), 0o600); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}
