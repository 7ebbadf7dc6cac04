package staticanalysis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

const (
	stderrTailBytes = 2 << 10
	killGrace       = 5 * time.Second
)

// tailBuffer keeps only the last max bytes written to it.
type tailBuffer struct {
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return string(t.buf)
}

// commandResult carries what a finished subprocess left behind.
type commandResult struct {
	Stdout     []byte
	StderrTail string
	TimedOut   bool
}

// runCommand runs argv in dir under its own deadline. The process is killed when the
// deadline passes; TimedOut is then set and err is non-nil.
func runCommand(ctx context.Context, timeout time.Duration, dir string, argv []string) (commandResult, error) {
	if len(argv) == 0 {
		return commandResult{}, errors.New("empty command")
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout bytes.Buffer
	stderr := newTailBuffer(stderrTailBytes)

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = killGrace

	err := cmd.Run()
	res := commandResult{Stdout: stdout.Bytes(), StderrTail: stderr.String()}

	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			res.TimedOut = true
		}
		return res, fmt.Errorf("%s: %w", argv[0], err)
	}
	return res, nil
}
