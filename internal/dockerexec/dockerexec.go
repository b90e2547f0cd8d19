// Package dockerexec runs the wg and wg-quick command-line tools inside an
// adjacent container by driving the Docker Engine API directly, rather than
// shelling out to a local docker binary.
package dockerexec

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"go.uber.org/zap"
)

// CommandError is returned when wg/wg-quick exits non-zero inside the
// container.
type CommandError struct {
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q exited with status %d: %s", strings.Join(e.Args, " "), e.ExitCode, e.Stderr)
}

// Runner executes wg/wg-quick inside a named container.
type Runner struct {
	client        *client.Client
	containerName string
	logger        *zap.Logger
}

// New builds a Runner bound to an already-connected Docker client.
func New(cli *client.Client, containerName string, logger *zap.Logger) *Runner {
	return &Runner{client: cli, containerName: containerName, logger: logger}
}

// Ping confirms the Docker daemon is reachable; used at boot as part of the
// VPN-reachability check.
func (r *Runner) Ping(ctx context.Context) error {
	_, err := r.client.Ping(ctx)
	return err
}

// Run execs either "wg <args>" or "wg-quick <args>" inside the configured
// container and returns its stdout. A non-zero exit code is returned as a
// *CommandError carrying the captured stderr.
func (r *Runner) Run(ctx context.Context, args []string, useWgQuick bool) (string, error) {
	bin := "wg"
	if useWgQuick {
		bin = "wg-quick"
	}
	cmd := append([]string{bin}, args...)

	execConfig := types.ExecConfig{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	}

	execID, err := r.client.ContainerExecCreate(ctx, r.containerName, execConfig)
	if err != nil {
		return "", fmt.Errorf("exec create: %w", err)
	}

	attach, err := r.client.ContainerExecAttach(ctx, execID.ID, types.ExecStartCheck{})
	if err != nil {
		return "", fmt.Errorf("exec attach: %w", err)
	}
	defer attach.Close()

	var stdout, stderr strings.Builder
	if _, err := demux(&stdout, &stderr, attach.Reader); err != nil {
		return "", fmt.Errorf("reading exec output: %w", err)
	}

	inspect, err := r.client.ContainerExecInspect(ctx, execID.ID)
	if err != nil {
		return "", fmt.Errorf("exec inspect: %w", err)
	}

	out := strings.ToValidUTF8(stdout.String(), "�")
	if inspect.ExitCode != 0 {
		r.logger.Warn("wg command failed",
			zap.Strings("args", cmd),
			zap.Int("exit_code", inspect.ExitCode),
		)
		return "", &CommandError{
			Args:     cmd,
			ExitCode: inspect.ExitCode,
			Stderr:   strings.TrimSpace(strings.ToValidUTF8(stderr.String(), "�")),
		}
	}

	return out, nil
}

// demux splits a Docker exec attach stream into stdout/stderr. Docker
// multiplexes both over one connection with an 8-byte frame header: byte 0
// selects the stream (1=stdout, 2=stderr), bytes 4-7 are a big-endian frame
// length.
func demux(stdout, stderr io.Writer, reader io.Reader) (int64, error) {
	var written int64
	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(reader, header); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return written, nil
			}
			return written, err
		}

		frameLen := int(header[4])<<24 | int(header[5])<<16 | int(header[6])<<8 | int(header[7])
		dst := stdout
		if header[0] == 2 {
			dst = stderr
		}

		n, err := io.CopyN(dst, reader, int64(frameLen))
		written += n
		if err != nil {
			if err == io.EOF {
				return written, nil
			}
			return written, err
		}
	}
}

// Connect dials the Docker daemon from the environment and confirms it is
// reachable within the given timeout.
func Connect(timeout time.Duration) (*client.Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if _, err := cli.Ping(ctx); err != nil {
		return nil, fmt.Errorf("connecting to docker daemon: %w", err)
	}

	return cli, nil
}
