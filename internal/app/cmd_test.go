package app

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want Command
	}{
		{"no args", nil, CommandServe},
		{"serve", []string{"serve"}, CommandServe},
		{"worker", []string{"worker"}, CommandWorker},
		{"migrate", []string{"migrate"}, CommandMigrate},
		{"healthcheck", []string{"healthcheck"}, CommandHealthcheck},
		{"extra args ignored", []string{"worker", "--flag", "value"}, CommandWorker},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand(tt.args)
			if err != nil {
				t.Fatalf("ParseCommand(%v) returned error: %v", tt.args, err)
			}
			if got != tt.want {
				t.Errorf("ParseCommand(%v) = %q, want %q", tt.args, got, tt.want)
			}
		})
	}
}

func TestParseCommand_UnknownCommand_ReturnsError(t *testing.T) {
	for _, arg := range []string{"migarte", "Serve", "", "--help"} {
		cmd, err := ParseCommand([]string{arg})
		if err == nil {
			t.Errorf("ParseCommand([%q]) = %q, want error", arg, cmd)
			continue
		}
		if cmd != "" {
			t.Errorf("ParseCommand([%q]) command = %q, want empty on error", arg, cmd)
		}
	}
}

func TestRun_UnknownCommand_DoesNotStart(t *testing.T) {
	setTestEnv(t)

	var buf bytes.Buffer
	err := Run(&buf, []string{"migarte"})
	if err == nil {
		t.Fatal("Run with an unknown command should return error")
	}
	if !strings.Contains(err.Error(), "migarte") {
		t.Errorf("error = %q, want it to name the unknown command", err)
	}
	if buf.Len() != 0 {
		t.Errorf("expected no startup logs for an unknown command, got %s", buf.String())
	}
}
