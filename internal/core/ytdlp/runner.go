package ytdlp

import (
	"bytes"
	"context"
	"os/exec"
)

const DefaultBinary = "yt-dlp"

// Runner executes the extraction engine with the given arguments.
type Runner interface {
	Run(ctx context.Context, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner runs the yt-dlp binary as a child process. The process is killed
// when ctx is done.
type ExecRunner struct {
	Binary string
}

// NewExecRunner returns a runner for binary, or for yt-dlp from PATH when empty.
func NewExecRunner(binary string) *ExecRunner {
	if binary == "" {
		binary = DefaultBinary
	}
	return &ExecRunner{Binary: binary}
}

func (r *ExecRunner) Run(ctx context.Context, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, r.Binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Available reports whether the binary can be found.
func (r *ExecRunner) Available() bool {
	_, err := exec.LookPath(r.Binary)
	return err == nil
}
