package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestRun_NoCommandPrintsUsage(t *testing.T) {
	var out, errBuf bytes.Buffer

	if err := run(context.Background(), &out, &errBuf, nil); err != nil {
		t.Fatalf("run with no args failed: %v", err)
	}
	if !strings.Contains(out.String(), "Usage: attache") {
		t.Errorf("expected usage text, got:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "serve") {
		t.Errorf("usage text missing serve command:\n%s", out.String())
	}
}

func TestRun_HelpFlag(t *testing.T) {
	for _, flag := range []string{"-h", "-help", "--help"} {
		var out, errBuf bytes.Buffer
		if err := run(context.Background(), &out, &errBuf, []string{flag}); err != nil {
			t.Errorf("run %s failed: %v", flag, err)
		}
		if !strings.Contains(out.String(), "Usage: attache") {
			t.Errorf("%s: expected usage text, got:\n%s", flag, out.String())
		}
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	var out, errBuf bytes.Buffer

	err := run(context.Background(), &out, &errBuf, []string{"bogus"})
	if err == nil {
		t.Fatal("expected error for unknown command")
	}
	if !strings.Contains(err.Error(), "bogus") {
		t.Errorf("error should name the command, got: %v", err)
	}
}

func TestRun_UnknownFlag(t *testing.T) {
	var out, errBuf bytes.Buffer

	err := run(context.Background(), &out, &errBuf, []string{"-frobnicate"})
	if err == nil {
		t.Fatal("expected error for unknown flag")
	}
}

func TestRun_BadOutputFormat(t *testing.T) {
	var out, errBuf bytes.Buffer

	err := run(context.Background(), &out, &errBuf, []string{"-o", "xml", "version"})
	if err == nil {
		t.Fatal("expected error for unknown output format")
	}
	if !strings.Contains(err.Error(), "xml") {
		t.Errorf("error should name the format, got: %v", err)
	}
}

func TestRun_VersionText(t *testing.T) {
	var out, errBuf bytes.Buffer

	if err := run(context.Background(), &out, &errBuf, []string{"version"}); err != nil {
		t.Fatalf("run version failed: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "Attache") {
		t.Errorf("version output missing product name:\n%s", got)
	}
	if !strings.Contains(got, "go_version:") {
		t.Errorf("version output missing go_version:\n%s", got)
	}
}

func TestRun_VersionJSON(t *testing.T) {
	var out, errBuf bytes.Buffer

	if err := run(context.Background(), &out, &errBuf, []string{"-o", "json", "version"}); err != nil {
		t.Fatalf("run version failed: %v", err)
	}

	var info map[string]string
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		t.Fatalf("version output is not valid JSON: %v\n%s", err, out.String())
	}
	for _, key := range []string{"version", "git_commit", "go_version", "os", "arch"} {
		if info[key] == "" {
			t.Errorf("version JSON missing %q: %v", key, info)
		}
	}
}

func TestRun_AskRequiresQuestion(t *testing.T) {
	var out, errBuf bytes.Buffer

	err := run(context.Background(), &out, &errBuf, []string{"ask"})
	if err == nil {
		t.Fatal("expected error for ask with no question")
	}
	if !strings.Contains(err.Error(), "usage") {
		t.Errorf("error should show usage, got: %v", err)
	}
}

func TestRun_ConfigFlagForms(t *testing.T) {
	// Both -config <path> and -config=<path> should parse; a missing
	// file surfaces when the command actually loads config.
	for _, args := range [][]string{
		{"-config", "/nonexistent/attache.yaml", "serve"},
		{"-config=/nonexistent/attache.yaml", "serve"},
	} {
		var out, errBuf bytes.Buffer
		err := run(context.Background(), &out, &errBuf, args)
		if err == nil {
			t.Errorf("%v: expected error for missing config file", args)
		}
	}
}
