package pythonbridge

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/McKrispy/Ageeeent/internal/llm"
)

func TestCompleteThroughScript(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "echo.sh")
	body := "#!/bin/sh\ncat >/dev/null\necho '{\"content\": \" {\\\"ok\\\": true} \"}'\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	client, err := NewClient(sh, "echo.sh", dir)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	out, err := client.Complete(context.Background(), llm.Request{Prompt: "x", Schema: []byte(`{"type":"object"}`)})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out != `{"ok": true}` {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestNewClientRequiresScript(t *testing.T) {
	if _, err := NewClient("", "", ""); err == nil {
		t.Fatalf("expected error")
	}
}

func TestResolveScriptPath(t *testing.T) {
	if got := ResolveScriptPath("/base", "bridge.py"); got != "/base/bridge.py" {
		t.Fatalf("unexpected path %s", got)
	}
	if got := ResolveScriptPath("/base", "/abs/bridge.py"); got != "/abs/bridge.py" {
		t.Fatalf("unexpected path %s", got)
	}
}
