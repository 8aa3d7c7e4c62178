package effector

import (
	"context"
	"testing"
)

func TestExecDeniedOutsideAllowlist(t *testing.T) {
	e := New(Config{ExecAllow: []string{"echo *"}}, nil)
	got := e.Exec(context.Background(), ExecRequest{Command: "rm -rf /"})
	if got.Success || got.Error != "permission denied" {
		t.Fatalf("expected permission denied, got %+v", got)
	}
}

func TestExecCapturesStdoutAndExitCode(t *testing.T) {
	e := New(Config{ExecAllow: []string{"*"}}, nil)
	got := e.Exec(context.Background(), ExecRequest{Command: "echo hi"})
	if !got.Success || got.ExitCode != 0 {
		t.Fatalf("expected success exit 0, got %+v", got)
	}
	if got.Stdout != "hi\n" {
		t.Fatalf("expected stdout %q, got %q", "hi\n", got.Stdout)
	}
}

func TestExecNonZeroExit(t *testing.T) {
	e := New(Config{ExecAllow: []string{"*"}}, nil)
	got := e.Exec(context.Background(), ExecRequest{Command: "exit 3"})
	if got.Success || got.ExitCode != 3 {
		t.Fatalf("expected exit 3 failure, got %+v", got)
	}
}

func TestExecTimeoutKillsProcess(t *testing.T) {
	e := New(Config{ExecAllow: []string{"*"}}, nil)
	got := e.Exec(context.Background(), ExecRequest{Command: "sleep 5", Timeout: 1})
	if got.Error != "timeout" {
		t.Fatalf("expected timeout error, got %+v", got)
	}
}
