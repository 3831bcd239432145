// Package pty allocates pseudo-terminals and runs a child process on the
// slave side. The master file descriptor and the child live and die
// together.
package pty

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// StartOptions configures a new PTY-backed process.
type StartOptions struct {
	Shell string   // program to run, e.g. /bin/bash
	Args  []string // arguments, without the program name
	Env   []string // extra environment entries, appended to os.Environ
	Dir   string   // working directory; empty means inherit
	Rows  uint16
	Cols  uint16
}

// Process is a child process attached to a PTY master. Read and Write
// operate on the master side; closing the master unblocks a pending Read.
type Process struct {
	master *os.File
	cmd    *exec.Cmd
}

// Start spawns opts.Shell on a fresh PTY sized to opts.Rows x opts.Cols.
// The child is made leader of its own process group so teardown signals
// reach the whole job.
func Start(opts StartOptions) (*Process, error) {
	if opts.Rows == 0 {
		opts.Rows = 24
	}
	if opts.Cols == 0 {
		opts.Cols = 80
	}

	cmd := exec.Command(opts.Shell, opts.Args...)
	cmd.Dir = opts.Dir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	cmd.Env = append(cmd.Env, opts.Env...)

	// StartWithSize makes the child a session leader with the slave as
	// its controlling terminal, so Signal(-pid) reaches the whole job.
	master, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: opts.Rows,
		Cols: opts.Cols,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start pty: %w", err)
	}

	return &Process{master: master, cmd: cmd}, nil
}

// Read reads from the PTY master. Returns an error once the master is
// closed or the slave side is gone (EIO on Linux).
func (p *Process) Read(buf []byte) (int, error) {
	return p.master.Read(buf)
}

// Write writes input bytes to the PTY master.
func (p *Process) Write(data []byte) (int, error) {
	return p.master.Write(data)
}

// Resize updates the terminal window size. The kernel delivers SIGWINCH
// to the foreground process group on the slave side.
func (p *Process) Resize(rows, cols uint16) error {
	if err := pty.Setsize(p.master, &pty.Winsize{Rows: rows, Cols: cols}); err != nil {
		return fmt.Errorf("failed to resize pty: %w", err)
	}
	return nil
}

// PID returns the child's process id.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// Signal sends sig to the child's whole process group.
func (p *Process) Signal(sig syscall.Signal) error {
	return unix.Kill(-p.cmd.Process.Pid, sig)
}

// Wait blocks until the child exits and returns its exit code. A child
// killed by a signal reports 128+signal, shell convention.
func (p *Process) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return 128 + int(status.Signal()), nil
		}
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

// CloseMaster closes the master fd. Any blocked Read returns with an
// error, which the bridge treats as end-of-stream.
func (p *Process) CloseMaster() error {
	return p.master.Close()
}

// Probe checks whether this process can allocate a PTY at all. Used once
// at startup by capability negotiation.
func Probe() error {
	master, slave, err := pty.Open()
	if err != nil {
		return fmt.Errorf("pty allocation failed: %w", err)
	}
	slave.Close()
	master.Close()
	return nil
}
