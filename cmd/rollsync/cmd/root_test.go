package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// runCommand executes the root command with args, capturing cobra output.
func runCommand(t *testing.T, args []string) (string, error) {
	t.Helper()

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)

	err := rootCmd.Execute()
	return buf.String(), err
}

// useTempStores points the CLI at a throwaway local database.
func useTempStores(t *testing.T) {
	t.Helper()
	t.Setenv("ROLLSYNC_MODE", "local")
	t.Setenv("ROLLSYNC_DB", filepath.Join(t.TempDir(), "rollsync.db"))
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
}

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "rollsync" {
		t.Errorf("Use = %q, want rollsync", rootCmd.Use)
	}
	if rootCmd.Short == "" || rootCmd.Long == "" {
		t.Error("root command missing descriptions")
	}
	if rootCmd.PersistentPreRunE == nil {
		t.Error("PersistentPreRunE not set")
	}
}

func TestSubcommandsRegistered(t *testing.T) {
	want := map[string]bool{"reconcile": false, "verify": false, "roster": false, "config": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("subcommand %s not registered", name)
		}
	}
}

func TestIsConfigCommand(t *testing.T) {
	if !isConfigCommand(configShowCmd) {
		t.Error("config show not recognized as config command")
	}
	if isConfigCommand(reconcileCmd) {
		t.Error("reconcile recognized as config command")
	}
}

func TestReconcileThenVerifyLocalMode(t *testing.T) {
	useTempStores(t)
	t.Setenv("TEST_PASSWORD", "portal-password-1")

	_, err := runCommand(t, []string{
		"reconcile",
		"--role", "student",
		"--prn", "rbt24cs028",
		"--email", "t28.gfm@gmail.com",
		"--password-env", "TEST_PASSWORD",
		"--name", "G. F. M.",
		"--branch", "CSE",
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	// Canonicalization makes the upper-case PRN find the same record.
	if _, err := runCommand(t, []string{"verify", "student", "RBT24CS028"}); err != nil {
		t.Fatalf("verify after reconcile: %v", err)
	}
}

func TestVerifyUnknownPersonFails(t *testing.T) {
	useTempStores(t)

	if _, err := runCommand(t, []string{"verify", "student", "NO-SUCH-PRN"}); err == nil {
		t.Error("verify on absent records = nil error, want out-of-sync failure")
	}
}

func TestReconcileRejectsUnknownRole(t *testing.T) {
	useTempStores(t)
	t.Setenv("TEST_PASSWORD", "portal-password-1")

	_, err := runCommand(t, []string{
		"reconcile",
		"--role", "gardener",
		"--prn", "X1",
		"--email", "x1@test.com",
		"--password-env", "TEST_PASSWORD",
	})
	if err == nil {
		t.Error("reconcile with unknown role = nil error")
	}
}

func TestConfigSetWritesFile(t *testing.T) {
	useTempStores(t)
	path := filepath.Join(t.TempDir(), "config.json")
	t.Cleanup(func() { flagConfig = "" })

	if _, err := runCommand(t, []string{"--config", path, "config", "set", "service-key-env", "SCHOOL_KEY"}); err != nil {
		t.Fatalf("config set: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if !strings.Contains(string(data), "SCHOOL_KEY") {
		t.Errorf("config file missing saved value: %s", data)
	}
}
