// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package container

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

// mockExecutor records calls and returns configured responses.
type mockExecutor struct {
	availableBins map[string]bool // binary -> whether LookPath succeeds
	runnableCmds  map[string]bool // "bin arg1 arg2" -> whether RunSilent succeeds
	runPipedFunc  func(name string, args []string, stdin io.Reader, stdout, stderr io.Writer) error
	silentCalls   []string
}

func (m *mockExecutor) LookPath(file string) (string, error) {
	if m.availableBins[file] {
		return "/usr/bin/" + file, nil
	}
	return "", errors.New("not found: " + file)
}

func (m *mockExecutor) RunSilent(_ context.Context, name string, args ...string) error {
	key := name + " " + strings.Join(args, " ")
	m.silentCalls = append(m.silentCalls, key)
	if m.runnableCmds[key] {
		return nil
	}
	return errors.New("command failed: " + key)
}

func (m *mockExecutor) RunPiped(_ context.Context, name string, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	if m.runPipedFunc != nil {
		return m.runPipedFunc(name, args, stdin, stdout, stderr)
	}
	return nil
}

func TestDetectRuntime(t *testing.T) {
	tests := []struct {
		name     string
		exec     *mockExecutor
		wantName string
		wantErr  bool
	}{
		{
			name: "docker available",
			exec: &mockExecutor{
				availableBins: map[string]bool{"docker": true},
				runnableCmds:  map[string]bool{"docker info": true},
			},
			wantName: "docker",
		},
		{
			name: "podman fallback when docker missing",
			exec: &mockExecutor{
				availableBins: map[string]bool{"podman": true},
				runnableCmds:  map[string]bool{"podman info": true},
			},
			wantName: "podman",
		},
		{
			name:    "neither available",
			exec:    &mockExecutor{},
			wantErr: true,
		},
		{
			name: "docker on PATH but info fails, podman works",
			exec: &mockExecutor{
				availableBins: map[string]bool{"docker": true, "podman": true},
				runnableCmds:  map[string]bool{"podman info": true},
			},
			wantName: "podman",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt, err := detectRuntime(context.Background(), tt.exec)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !strings.Contains(err.Error(), "no container runtime available") {
					t.Errorf("error should mention no runtime available, got: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rt.Name() != tt.wantName {
				t.Errorf("got runtime %q, want %q", rt.Name(), tt.wantName)
			}
		})
	}
}

func TestEnsureImage(t *testing.T) {
	const image = "minidocks/poppler:latest"
	tests := []struct {
		name      string
		mkRT      func(*mockExecutor) Runtime
		cmds      map[string]bool
		wantCalls []string
		wantErr   bool
	}{
		{
			name:      "docker image present",
			mkRT:      func(e *mockExecutor) Runtime { return newDockerRuntime(e) },
			cmds:      map[string]bool{"docker image inspect " + image: true},
			wantCalls: []string{"docker image inspect " + image},
		},
		{
			name:      "docker image pulled when missing",
			mkRT:      func(e *mockExecutor) Runtime { return newDockerRuntime(e) },
			cmds:      map[string]bool{"docker pull " + image: true},
			wantCalls: []string{"docker image inspect " + image, "docker pull " + image},
		},
		{
			name:      "podman image present",
			mkRT:      func(e *mockExecutor) Runtime { return newPodmanRuntime(e) },
			cmds:      map[string]bool{"podman image exists " + image: true},
			wantCalls: []string{"podman image exists " + image},
		},
		{
			name:      "pull fails",
			mkRT:      func(e *mockExecutor) Runtime { return newPodmanRuntime(e) },
			cmds:      map[string]bool{},
			wantCalls: []string{"podman image exists " + image, "podman pull " + image},
			wantErr:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &mockExecutor{runnableCmds: tt.cmds}
			err := tt.mkRT(exec).EnsureImage(context.Background(), image)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !strings.Contains(err.Error(), image) {
					t.Errorf("error should mention image name, got: %v", err)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if strings.Join(exec.silentCalls, "|") != strings.Join(tt.wantCalls, "|") {
				t.Errorf("calls = %v, want %v", exec.silentCalls, tt.wantCalls)
			}
		})
	}
}

func TestRun(t *testing.T) {
	t.Run("pipes stdin to stdout with args after image", func(t *testing.T) {
		var gotName string
		var gotArgs []string
		exec := &mockExecutor{runPipedFunc: func(name string, args []string, stdin io.Reader, stdout, _ io.Writer) error {
			gotName, gotArgs = name, args
			data, _ := io.ReadAll(stdin)
			_, _ = stdout.Write([]byte("png of " + string(data)))
			return nil
		}}
		var out bytes.Buffer
		err := newPodmanRuntime(exec).Run(context.Background(), "poppler", []string{"pdftoppm", "-png"}, strings.NewReader("pdf"), &out)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if gotName != "podman" {
			t.Errorf("binary = %q, want podman", gotName)
		}
		if want := "run --rm -i poppler pdftoppm -png"; strings.Join(gotArgs, " ") != want {
			t.Errorf("args = %q, want %q", strings.Join(gotArgs, " "), want)
		}
		if out.String() != "png of pdf" {
			t.Errorf("output = %q", out.String())
		}
	})

	t.Run("failure includes stderr", func(t *testing.T) {
		exec := &mockExecutor{runPipedFunc: func(_ string, _ []string, _ io.Reader, _, stderr io.Writer) error {
			_, _ = stderr.Write([]byte("Syntax Error: Couldn't read xref table\n"))
			return errors.New("exit status 1")
		}}
		err := newDockerRuntime(exec).Run(context.Background(), "poppler", nil, strings.NewReader(""), io.Discard)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if !strings.Contains(err.Error(), "Couldn't read xref table") {
			t.Errorf("error should carry stderr, got: %v", err)
		}
	})
}
