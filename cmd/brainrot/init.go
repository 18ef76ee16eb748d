package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/brainrot/tg-llm-rewrite/examples"
)

// runInit writes an example config.yaml into dir. An existing file is
// never overwritten.
func runInit(w io.Writer, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	configPath := filepath.Join(dir, "config.yaml")
	wrote, err := writeIfMissing(configPath, examples.ConfigYAML)
	if err != nil {
		return err
	}
	if wrote {
		fmt.Fprintf(w, "Wrote %s\n", configPath)
	} else {
		fmt.Fprintf(w, "Kept existing %s\n", configPath)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Fill in telegram.api_id and api_hash, then run `brainrot list-chats`")
	fmt.Fprintln(w, "to find the chat ids to put under rewrite.chats.")
	return nil
}

// writeIfMissing writes content to path only if the file does not
// already exist. The file may hold an API key, so it is private.
func writeIfMissing(path string, content []byte) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.WriteFile(path, content, 0o600); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
