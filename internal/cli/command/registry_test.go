package command

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestBuildSubmitCreateWithSourceFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sourcePath := filepath.Join(dir, "answer.txt")
	if err := os.WriteFile(sourcePath, []byte("42\n"), 0o600); err != nil {
		t.Fatalf("write temp source failed: %v", err)
	}

	cmd := Registry()["submit create"]
	params := Params{}
	params.Set("round", "2")
	params.Set("task", "10")
	params.Set("file", sourcePath)
	params.Set("source", "_file_")

	req, err := BuildRequest(cmd, params)
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}
	if req.Method != "POST" || req.Path != "/api/v1/submissions" {
		t.Fatalf("unexpected request %s %s", req.Method, req.Path)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if payload["source"] != "42\n" {
		t.Fatalf("source = %v", payload["source"])
	}
	if payload["round_id"] != float64(2) || payload["task_id"] != float64(10) {
		t.Fatalf("payload = %v", payload)
	}
}

func TestBuildSubmitCreateWithoutSource(t *testing.T) {
	t.Parallel()

	params := Params{}
	params.Set("round_id", "3")
	params.Set("task_id", "11")
	req, err := BuildRequest(Registry()["submit create"], params)
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if _, ok := payload["source"]; ok {
		t.Fatalf("empty source must be omitted: %v", payload)
	}
}

func TestBuildRankingQuery(t *testing.T) {
	t.Parallel()

	params := Params{}
	params.Set("round", "7")
	params.Set("source", "compute")
	req, err := BuildRequest(Registry()["ranking get"], params)
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}
	if req.Path != "/api/v1/rounds/7/ranking?source=compute" {
		t.Fatalf("path = %s", req.Path)
	}
	if req.Body != nil {
		t.Fatalf("GET must not carry a body")
	}

	params = Params{}
	params.Set("id", "7")
	req, err = BuildRequest(Registry()["ranking get"], params)
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}
	if req.Path != "/api/v1/rounds/7/ranking" {
		t.Fatalf("path = %s", req.Path)
	}
}

func TestBuildRequestRejectsBadIDs(t *testing.T) {
	t.Parallel()

	params := Params{}
	params.Set("id", "abc")
	if _, err := BuildRequest(Registry()["submit status"], params); err == nil {
		t.Fatalf("expected error for non-numeric id")
	}

	params = Params{}
	params.Set("id", "-1")
	if _, err := BuildRequest(Registry()["ranking rebuild"], params); err == nil {
		t.Fatalf("expected error for negative id")
	}

	if _, err := BuildRequest(Registry()["submit status"], Params{}); err == nil {
		t.Fatalf("expected error for missing id")
	}
}

func TestRegistryKeys(t *testing.T) {
	t.Parallel()

	reg := Registry()
	for _, key := range []string{"submit create", "submit status", "ranking get", "ranking rebuild", "queue stats"} {
		cmd, ok := reg[key]
		if !ok {
			t.Fatalf("command %q missing", key)
		}
		if cmd.Service+" "+cmd.Action != key {
			t.Fatalf("command %q registered under %q", cmd.Service+" "+cmd.Action, key)
		}
	}
}
