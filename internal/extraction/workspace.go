package extraction

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/calders/mediascope/pkg/logger"
)

var workspaceLogger = logger.Get("Workspace")

// workspace is the backend's single shared virtual filesystem: a scratch
// directory holding the bytes handed to the active backend and anything
// the backend produced. It has no isolation between logical operations,
// which is why the coordinator enforces one active session at a time.
type workspace struct {
	root string
}

func newWorkspace(root string) (*workspace, error) {
	if info, err := os.Stat(root); err == nil {
		if !info.IsDir() {
			return nil, fmt.Errorf("workspace path '%s' is not a directory", root)
		}
	} else if os.IsNotExist(err) {
		if mkErr := os.MkdirAll(root, os.ModeDir|os.ModePerm); mkErr != nil {
			return nil, fmt.Errorf("workspace path '%s' could not be created: %w", root, mkErr)
		}
	} else {
		return nil, fmt.Errorf("workspace path '%s' could not be accessed: %w", root, err)
	}

	return &workspace{root: root}, nil
}

func (ws *workspace) Path(name string) string {
	return filepath.Join(ws.root, filepath.Base(name))
}

func (ws *workspace) Write(name string, data []byte) error {
	return os.WriteFile(ws.Path(name), data, 0o644)
}

func (ws *workspace) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(ws.Path(name))
}

func (ws *workspace) DeleteFile(name string) error {
	return os.Remove(ws.Path(name))
}

func (ws *workspace) List() ([]string, error) {
	entries, err := os.ReadDir(ws.root)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// Cleanup removes every working file left over from prior operations.
// Failures are retried a bounded number of times with a short backoff and
// then swallowed: leftover scratch files waste space but cannot corrupt
// subsequent runs, so they must never block forward progress.
func (ws *workspace) Cleanup(attempts int, backoff time.Duration) {
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		names, err := ws.List()
		if err != nil {
			workspaceLogger.Emit(logger.WARNING, "Workspace cleanup could not list '%s': %v\n", ws.root, err)
			return
		}
		if len(names) == 0 {
			return
		}

		failed := 0
		for _, name := range names {
			if err := ws.DeleteFile(name); err != nil {
				failed++
				workspaceLogger.Emit(logger.DEBUG, "Failed to delete scratch file '%s': %v\n", name, err)
			}
		}
		if failed == 0 {
			return
		}

		time.Sleep(backoff)
	}

	workspaceLogger.Emit(logger.WARNING, "Workspace cleanup left files behind in '%s'; continuing anyway\n", ws.root)
}
