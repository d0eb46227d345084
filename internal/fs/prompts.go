package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var ErrPathOutsideRoot = errors.New("path escapes prompts root")

// PromptLoader reads agent prompt files from beneath a fixed root directory.
type PromptLoader struct {
	root string
}

func NewPromptLoader(root string) (*PromptLoader, error) {
	if strings.TrimSpace(root) == "" {
		root = "."
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root path: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat prompts root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("prompts root %s is not a directory", absRoot)
	}
	return &PromptLoader{root: absRoot}, nil
}

func (l *PromptLoader) Root() string {
	return l.root
}

// Load returns the trimmed content of relPath. Empty files are rejected so
// an agent never runs with a blank persona.
func (l *PromptLoader) Load(relPath string) (string, error) {
	absPath, normalized, err := l.resolve(relPath)
	if err != nil {
		return "", err
	}
	content, err := os.ReadFile(absPath)
	if err != nil {
		return "", fmt.Errorf("read prompt file %s: %w", normalized, err)
	}
	text := strings.TrimSpace(string(content))
	if text == "" {
		return "", fmt.Errorf("prompt file %s is empty", normalized)
	}
	return text, nil
}

func (l *PromptLoader) resolve(relPath string) (absolute string, normalized string, err error) {
	normalized = strings.ReplaceAll(strings.TrimSpace(relPath), "\\", "/")
	normalized = strings.TrimPrefix(normalized, "./")
	if strings.HasPrefix(normalized, "/") {
		return "", "", fmt.Errorf("%w: absolute path %q", ErrPathOutsideRoot, relPath)
	}
	if normalized == "" || normalized == "." {
		return "", "", fmt.Errorf("invalid relative path %q", relPath)
	}

	absClean := filepath.Clean(filepath.Join(l.root, filepath.FromSlash(normalized)))
	rel, err := filepath.Rel(l.root, absClean)
	if err != nil {
		return "", "", fmt.Errorf("resolve relative path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == "." {
		return "", "", fmt.Errorf("%w: %q", ErrPathOutsideRoot, relPath)
	}
	return absClean, filepath.ToSlash(rel), nil
}
