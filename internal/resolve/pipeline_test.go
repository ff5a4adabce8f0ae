package resolve

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"testing"
	"time"
)

// TestHelperProcess is not a real test. It is re-executed by helperCommand to
// stand in for yt-dlp and ffmpeg.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("VIBOT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for i, a := range args {
		if a == "--" {
			args = args[i+1:]
			break
		}
	}

	switch args[0] {
	case "emit":
		n, _ := strconv.Atoi(args[1])
		_, _ = os.Stdout.Write(bytes.Repeat([]byte{0x2a}, n))
		os.Exit(0)
	case "cat":
		_, _ = io.Copy(os.Stdout, os.Stdin)
		os.Exit(0)
	case "fail":
		fmt.Fprintln(os.Stderr, "ERROR: video unavailable")
		os.Exit(3)
	case "emit-then-fail":
		_, _ = os.Stdout.Write(bytes.Repeat([]byte{0x2a}, 100))
		fmt.Fprintln(os.Stderr, "decoder exploded")
		os.Exit(1)
	case "hang":
		time.Sleep(time.Minute)
		os.Exit(0)
	}
	os.Exit(2)
}

func helperCommand(ctx context.Context, args ...string) *exec.Cmd {
	cs := append([]string{"-test.run=TestHelperProcess", "--"}, args...)
	cmd := exec.CommandContext(ctx, os.Args[0], cs...)
	cmd.Env = append(os.Environ(), "VIBOT_HELPER_PROCESS=1")
	return cmd
}

func startHelpers(t *testing.T, specs ...[]string) *pipeline {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	stages := make([]stage, len(specs))
	for i, spec := range specs {
		stages[i] = newStage(spec[0], helperCommand(ctx, spec...))
	}
	p, err := startPipeline(cancel, stages...)
	if err != nil {
		t.Fatalf("startPipeline: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestPipeline_SingleStage(t *testing.T) {
	t.Parallel()
	p := startHelpers(t, []string{"emit", "10000"})

	data, err := io.ReadAll(p)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(data) != 10000 {
		t.Fatalf("read %d bytes, want 10000", len(data))
	}
}

func TestPipeline_ChainsStages(t *testing.T) {
	t.Parallel()
	p := startHelpers(t, []string{"emit", "50000"}, []string{"cat"}, []string{"cat"})

	data, err := io.ReadAll(p)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(data) != 50000 {
		t.Fatalf("read %d bytes, want 50000", len(data))
	}
}

func TestPipeline_ExitErrorReplacesEOF(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		specs    [][]string
		wantTail string
	}{
		{name: "upstream", specs: [][]string{{"fail"}, {"cat"}}, wantTail: "video unavailable"},
		{name: "downstream", specs: [][]string{{"emit", "10"}, {"emit-then-fail"}}, wantTail: "decoder exploded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := startHelpers(t, tt.specs...)

			_, err := io.ReadAll(p)
			if err == nil {
				t.Fatal("ReadAll succeeded, want exit error")
			}
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				t.Errorf("err = %v, want it to wrap *exec.ExitError", err)
			}
			if !strings.Contains(err.Error(), tt.wantTail) {
				t.Errorf("err = %q, want stderr tail %q", err, tt.wantTail)
			}
		})
	}
}

func TestPipeline_CloseKillsProcesses(t *testing.T) {
	t.Parallel()
	p := startHelpers(t, []string{"hang"}, []string{"cat"})

	readErr := make(chan error, 1)
	go func() {
		_, err := io.ReadAll(p)
		readErr <- err
	}()

	closed := make(chan struct{})
	go func() {
		_ = p.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}
	select {
	case err := <-readErr:
		if err != nil {
			t.Errorf("read after close = %v, want clean EOF", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Read did not unblock after Close")
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}

func TestStartPipeline_MissingBinary(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	_, err := startPipeline(cancel,
		newStage("hang", helperCommand(ctx, "hang")),
		newStage("nope", exec.CommandContext(ctx, "/nonexistent/vibot-test-binary")),
	)
	if err == nil {
		t.Fatal("startPipeline succeeded with a missing binary")
	}
	if !strings.Contains(err.Error(), "start nope") {
		t.Errorf("err = %q, want it to name the stage", err)
	}
	if ctx.Err() == nil {
		t.Error("context not cancelled after failed start")
	}
}

func TestTailBuffer_KeepsEnd(t *testing.T) {
	t.Parallel()

	b := &tailBuffer{size: 8}
	_, _ = b.Write([]byte("0123456789"))
	_, _ = b.Write([]byte("ab"))
	if got := b.String(); got != "456789ab" {
		t.Fatalf("tail = %q, want %q", got, "456789ab")
	}
}
