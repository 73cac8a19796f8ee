package compress

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rowjay/todoist-backup/internal/util"
)

const xzBinary = "xz"

// CommandError is returned when an external codec process fails.
type CommandError struct {
	Codec  string
	Err    error
	Stderr string
}

func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s failed: %v: %s", e.Codec, e.Err, e.Stderr)
	}
	return fmt.Sprintf("%s failed: %v", e.Codec, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

type xzWriter struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *bytes.Buffer
}

func newXZWriter(ctx context.Context, level int, w io.Writer) (io.WriteCloser, error) {
	args := []string{"--compress", "--stdout", "--quiet"}
	if level > 0 && level <= 9 {
		args = append(args, "-"+strconv.Itoa(level))
	}
	cmd := util.Command(ctx, xzBinary, args, nil)
	cmd.Stdout = w
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, &CommandError{Codec: xzBinary, Err: err}
	}
	return &xzWriter{cmd: cmd, stdin: stdin, stderr: stderr}, nil
}

func (x *xzWriter) Write(p []byte) (int, error) {
	return x.stdin.Write(p)
}

// Close flushes stdin and waits for xz to finish writing its output.
func (x *xzWriter) Close() error {
	closeErr := x.stdin.Close()
	if err := x.cmd.Wait(); err != nil {
		return &CommandError{Codec: xzBinary, Err: err, Stderr: strings.TrimSpace(x.stderr.String())}
	}
	return closeErr
}

type xzReader struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer
}

func newXZReader(ctx context.Context, r io.Reader) (io.ReadCloser, error) {
	cmd := util.Command(ctx, xzBinary, []string{"--decompress", "--stdout", "--quiet"}, nil)
	cmd.Stdin = r
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, &CommandError{Codec: xzBinary, Err: err}
	}
	return &xzReader{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

func (x *xzReader) Read(p []byte) (int, error) {
	return x.stdout.Read(p)
}

// Close drains what is left of stdout so xz can exit, then reaps it.
func (x *xzReader) Close() error {
	_, _ = io.Copy(io.Discard, x.stdout)
	if err := x.cmd.Wait(); err != nil {
		return &CommandError{Codec: xzBinary, Err: err, Stderr: strings.TrimSpace(x.stderr.String())}
	}
	return nil
}
