package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mozilla-ai/fleetd/internal/domain"
	"github.com/mozilla-ai/fleetd/internal/protocol"
)

// process is one live OS process of a supervised server together with its protocol connection.
type process struct {
	logger    hclog.Logger
	cmd       *exec.Cmd
	client    *protocol.Client
	startedAt time.Time

	// done is closed once the process has been reaped; exitErr is valid afterwards.
	done    chan struct{}
	exitErr error
}

// spawn starts the server's command with its stdio wired to a protocol connection.
// Worker stderr is forwarded to logger.
func spawn(logger hclog.Logger, def domain.ServerDefinition, startedAt time.Time) (*process, error) {
	cmd := exec.Command(def.Command, def.Args...)
	cmd.Env = append(os.Environ(), def.Environ()...)
	cmd.Dir = def.WorkingDir
	cmd.Stderr = logger.StandardWriter(&hclog.StandardLoggerOptions{
		InferLevels: true,
	})
	cmd.WaitDelay = def.StopGracePeriod

	// Explicit pipes keep our ends open until the connection is done with them, independently of Wait.
	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		_ = stdinR.Close()
		_ = stdinW.Close()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW

	if err := cmd.Start(); err != nil {
		for _, f := range []*os.File{stdinR, stdinW, stdoutR, stdoutW} {
			_ = f.Close()
		}
		return nil, fmt.Errorf("failed to start process: %w", err)
	}
	_ = stdinR.Close()
	_ = stdoutW.Close()

	client, err := protocol.NewClient(logger, stdoutR, stdinW)
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		_ = stdinW.Close()
		_ = stdoutR.Close()
		return nil, fmt.Errorf("failed to create connection: %w", err)
	}

	p := &process{
		logger:    logger,
		cmd:       cmd,
		client:    client,
		startedAt: startedAt,
		done:      make(chan struct{}),
	}

	go func() {
		p.exitErr = cmd.Wait()
		_ = client.Close()
		_ = stdoutR.Close()
		close(p.done)
	}()

	logger.Debug("Process started", "pid", cmd.Process.Pid, "command", def.Command)

	return p, nil
}

func (p *process) pid() int {
	return p.cmd.Process.Pid
}

// exited reports whether the process has been reaped.
func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// exitCode returns the exit code once the process has been reaped, -1 when it was signalled.
func (p *process) exitCode() int {
	if p.cmd.ProcessState == nil {
		return -1
	}
	return p.cmd.ProcessState.ExitCode()
}

// handshake performs the initialize exchange and returns the tools the worker advertises.
func (p *process) handshake(ctx context.Context) ([]mcp.Tool, error) {
	var res protocol.InitializeResult
	err := p.client.Call(ctx, protocol.MethodInitialize, protocol.InitializeParams{
		ProtocolVersion: protocol.ProtocolVersion,
		ClientInfo:      mcp.Implementation{Name: "fleetd", Version: "dev"},
	}, &res)
	if err != nil {
		return nil, err
	}

	if err := p.client.Notify(protocol.NotificationInitialized, nil); err != nil {
		return nil, err
	}

	p.logger.Debug("Handshake complete", "server_info", res.ServerInfo.Name, "session", res.SessionID, "tools", len(res.Tools))

	return res.Tools, nil
}

// stop closes the worker's stdin, signals it to terminate and waits up to grace for it to exit.
// The process is killed if it outlives the grace period. On return the process has been reaped.
func (p *process) stop(grace time.Duration) error {
	if p.exited() {
		return p.result()
	}

	_ = p.client.Close()
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Debug("Failed to signal process", "error", err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-p.done:
		return p.result()
	case <-timer.C:
	}

	p.logger.Warn("Process didn't exit gracefully, force killing", "timeout", grace)
	if err := p.kill(); err != nil {
		return fmt.Errorf("failed to force kill stuck process: %w", err)
	}

	return nil
}

// kill terminates the process immediately and waits for it to be reaped.
func (p *process) kill() error {
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	<-p.done
	return nil
}

func (p *process) result() error {
	if isExpectedShutdownError(p.exitErr) {
		return nil
	}
	return fmt.Errorf("process exited with unexpected error: %w", p.exitErr)
}

// isExpectedShutdownError checks if an error is expected during graceful shutdown.
func isExpectedShutdownError(err error) bool {
	if err == nil {
		return true
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Exited() {
			code := exitErr.ExitCode()
			return code == 0 || code == -1
		}
		// Terminated by a signal.
		return true
	}

	return false
}
