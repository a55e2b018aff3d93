package extraction

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/calders/mediascope/pkg/logger"
)

var backendLogger = logger.Get("Backend")

// Backend is the capability contract the engine requires of a wrapped
// media-analysis engine: a shared working filesystem plus the ability to
// execute an operation against it.
type Backend interface {
	Load(ctx context.Context) error
	Write(name string, data []byte) error
	Execute(ctx context.Context, args []string) error
	ReadFile(name string) ([]byte, error)
	DeleteFile(name string) error
}

// LogSubscriber is additionally implemented by backends which emit
// diagnostic text during Execute.
type LogSubscriber interface {
	SubscribeLogs() (<-chan string, func())
}

// textBackend wraps the transcoder binary. Execute runs the binary with
// the provided arguments inside the shared workspace, capturing each
// stderr line and fanning it out to log subscribers - the transcoder
// writes its diagnostic output there, including during probes.
type textBackend struct {
	binaryPath string
	workspace  *workspace

	mu          sync.Mutex
	subscribers map[int]chan string
	nextSubID   int
}

func newTextBackend(binaryPath string, ws *workspace) *textBackend {
	return &textBackend{
		binaryPath:  binaryPath,
		workspace:   ws,
		subscribers: make(map[int]chan string),
	}
}

// Load verifies the transcoder binary is reachable and the workspace is
// writable. Failure is fatal for the session; the hint distinguishes the
// common causes so the consumer can present something actionable.
func (backend *textBackend) Load(_ context.Context) error {
	resolved, err := exec.LookPath(backend.binaryPath)
	if err != nil {
		hint := "install ffmpeg or point MEDIASCOPE_FFMPEG_BIN at the binary"
		if errors.Is(err, exec.ErrNotFound) {
			hint = "ffmpeg binary not found on PATH; " + hint
		}
		return &BackendLoadError{Cause: err, Hint: hint}
	}

	probeName := ".load-probe"
	if err := backend.workspace.Write(probeName, []byte{0}); err != nil {
		return &BackendLoadError{Cause: err, Hint: "scratch directory is not writable"}
	}
	_ = backend.workspace.DeleteFile(probeName)

	backendLogger.Emit(logger.DEBUG, "Text backend loaded using binary %s\n", resolved)
	return nil
}

func (backend *textBackend) Write(name string, data []byte) error {
	return backend.workspace.Write(name, data)
}

func (backend *textBackend) ReadFile(name string) ([]byte, error) {
	return backend.workspace.ReadFile(name)
}

func (backend *textBackend) DeleteFile(name string) error {
	return backend.workspace.DeleteFile(name)
}

// Execute runs the transcoder with the given arguments, streaming each
// diagnostic line to subscribers. A non-zero exit is returned as an error
// with the tail of the diagnostic output attached; some callers (probes)
// expect and tolerate it.
func (backend *textBackend) Execute(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, backend.binaryPath, args...)
	cmd.Dir = backend.workspace.root

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open diagnostic pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start backend execution: %w", err)
	}

	var tail []string
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		backend.publish(line)

		tail = append(tail, line)
		if len(tail) > 16 {
			tail = tail[1:]
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("backend execution failed: %w: %s", err, strings.Join(tail, "\n"))
	}

	return nil
}

// SubscribeLogs returns a channel receiving each diagnostic line emitted
// by subsequent executions, plus a cancel function that closes it. The
// channel is buffered; a subscriber that falls far enough behind loses
// lines rather than stalling the execution.
func (backend *textBackend) SubscribeLogs() (<-chan string, func()) {
	backend.mu.Lock()
	defer backend.mu.Unlock()

	id := backend.nextSubID
	backend.nextSubID++

	ch := make(chan string, 512)
	backend.subscribers[id] = ch

	cancel := func() {
		backend.mu.Lock()
		defer backend.mu.Unlock()

		if existing, ok := backend.subscribers[id]; ok {
			delete(backend.subscribers, id)
			close(existing)
		}
	}

	return ch, cancel
}

func (backend *textBackend) publish(line string) {
	backend.mu.Lock()
	defer backend.mu.Unlock()

	for _, ch := range backend.subscribers {
		select {
		case ch <- line:
		default:
		}
	}
}
