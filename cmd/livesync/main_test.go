package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
)

func init() {
	color.NoColor = true
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "livesync dev") {
		t.Errorf("output = %q, want livesync dev prefix", out)
	}
}

func TestValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "livesync.yaml")
	content := `
stores:
  - name: "Counter"
    writable: true
lists:
  - name: "Chat"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "validate", "--config", path)
	if err != nil {
		t.Fatalf("validate: %v\n%s", err, out)
	}

	for _, want := range []string{
		"✓ Config valid",
		"Stores (1):",
		"Counter (read-write)",
		"Lists (1):",
		"Chat (read-only)",
		"Configuration is valid",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestValidate_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "livesync.yaml")
	content := `
stores:
  - name: "Counter"
  - name: "Counter"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "validate", "-c", path)
	if err == nil {
		t.Fatal("expected error for duplicate store")
	}
	if !strings.Contains(out, "✗ Config valid") {
		t.Errorf("output = %q, want failure mark", out)
	}
}

func TestValidate_MissingFile(t *testing.T) {
	_, err := run(t, "validate", "--config", filepath.Join(t.TempDir(), "none.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("err = %v, want config file not found", err)
	}
}
