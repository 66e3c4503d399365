package rag

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/tessera-kb/tessera/internal/log"
)

func TestCLIGenerate(t *testing.T) {
	// cat echoes the combined prompt back, proving stdin wiring.
	g := NewCLIGenerator("cat", nil, log.NewNop())

	out, err := g.Generate(context.Background(), "system text", "user prompt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "system text") || !strings.Contains(out, "user prompt") {
		t.Errorf("stdin not forwarded: %q", out)
	}
}

func TestCLIGenerateNonZeroExit(t *testing.T) {
	g := NewCLIGenerator("sh", []string{"-c", "echo boom >&2; exit 3"}, log.NewNop())

	_, err := g.Generate(context.Background(), "", "prompt")
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("stderr not captured in error: %v", err)
	}
}

func TestCLIGenerateStream(t *testing.T) {
	g := NewCLIGenerator("sh", []string{"-c", "printf 'line one\\nline two\\n'"}, log.NewNop())

	var got []string
	err := g.GenerateStream(context.Background(), "", "prompt", func(text string) error {
		got = append(got, text)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0] != "line one\n" || got[1] != "line two\n" {
		t.Errorf("unexpected stream output: %q", got)
	}
}

func TestCLIGenerateStreamNonZeroExitAfterOutput(t *testing.T) {
	g := NewCLIGenerator("sh", []string{"-c", "echo partial; exit 1"}, log.NewNop())

	var got []string
	err := g.GenerateStream(context.Background(), "", "prompt", func(text string) error {
		got = append(got, text)
		return nil
	})
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	// Partial output still reached the consumer before the failure surfaced.
	if len(got) != 1 || got[0] != "partial\n" {
		t.Errorf("partial output lost: %q", got)
	}
}

func TestCLIGenerateStreamCancellation(t *testing.T) {
	g := NewCLIGenerator("sh", []string{"-c", "sleep 30"}, log.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := g.GenerateStream(ctx, "", "prompt", func(string) error { return nil })
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("subprocess not killed on cancellation")
	}
}

func TestCLIGenerateStreamCancellationKillsDescendants(t *testing.T) {
	// The shell backgrounds a child that inherits the stdout pipe; killing
	// only the shell would leave the stream blocked until the child exits.
	g := NewCLIGenerator("sh", []string{"-c", "sleep 30 & wait"}, log.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := g.GenerateStream(ctx, "", "prompt", func(string) error { return nil })
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("process group not killed on cancellation")
	}
}
