package fs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadReadsPromptBelowRoot(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "agents"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "agents", "emotion.md"), []byte("\n  You reflect feelings.\n"), 0o644); err != nil {
		t.Fatalf("write prompt: %v", err)
	}
	loader, err := NewPromptLoader(root)
	if err != nil {
		t.Fatalf("new loader: %v", err)
	}

	got, err := loader.Load("./agents/emotion.md")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != "You reflect feelings." {
		t.Fatalf("prompt=%q", got)
	}
}

func TestLoadRejectsEscapingPaths(t *testing.T) {
	loader, err := NewPromptLoader(t.TempDir())
	if err != nil {
		t.Fatalf("new loader: %v", err)
	}
	for _, p := range []string{"../secret.txt", "/etc/passwd", "agents/../../x"} {
		if _, err := loader.Load(p); !errors.Is(err, ErrPathOutsideRoot) {
			t.Fatalf("Load(%q) err=%v want ErrPathOutsideRoot", p, err)
		}
	}
}

func TestLoadRejectsEmptyPrompt(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "blank.md"), []byte("   \n"), 0o644); err != nil {
		t.Fatalf("write prompt: %v", err)
	}
	loader, err := NewPromptLoader(root)
	if err != nil {
		t.Fatalf("new loader: %v", err)
	}
	if _, err := loader.Load("blank.md"); err == nil {
		t.Fatalf("expected empty prompt error")
	}
}

func TestNewPromptLoaderRequiresDirectory(t *testing.T) {
	if _, err := NewPromptLoader(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatalf("expected missing root error")
	}
}
