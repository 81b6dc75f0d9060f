// Package sshexec is the SSH-backed implementation of sshx.Executor.
package sshexec

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	coreerrors "github.com/codeblabdev/codeb-controlplane/internal/core/errors"
	"github.com/codeblabdev/codeb-controlplane/internal/core/logger"
	"github.com/codeblabdev/codeb-controlplane/internal/core/sshx"
)

// Config holds the dial parameters shared by every managed-host connection.
type Config struct {
	User           string
	PrivateKeyPath string
	Port           int
	DialTimeout    time.Duration
	IdleTimeout    time.Duration
}

// Executor is a pooled, per-host golang.org/x/crypto/ssh implementation of
// sshx.Executor. Connections are established lazily and reused; a dead
// connection is transparently redialed on the next call.
type Executor struct {
	cfg    Config
	signer ssh.Signer
	log    logger.Logger

	mu      sync.Mutex
	clients map[string]*pooledClient
}

type pooledClient struct {
	client   *ssh.Client
	lastUsed time.Time
}

// New loads the private key at cfg.PrivateKeyPath and returns an Executor
// ready to dial any of the four managed hosts.
func New(cfg Config, log logger.Logger) (*Executor, error) {
	keyBytes, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read ssh private key %s: %w", cfg.PrivateKeyPath, err)
	}

	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("parse ssh private key %s: %w", cfg.PrivateKeyPath, err)
	}

	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 10 * time.Minute
	}

	return &Executor{
		cfg:     cfg,
		signer:  signer,
		log:     log,
		clients: make(map[string]*pooledClient),
	}, nil
}

func (e *Executor) clientFor(host string) (*ssh.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if pc, ok := e.clients[host]; ok {
		if isAlive(pc.client) {
			pc.lastUsed = time.Now()
			return pc.client, nil
		}
		pc.client.Close()
		delete(e.clients, host)
	}

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", e.cfg.Port))
	sshConfig := &ssh.ClientConfig{
		User:            e.cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(e.signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         e.cfg.DialTimeout,
	}

	client, err := ssh.Dial("tcp", addr, sshConfig)
	if err != nil {
		return nil, coreerrors.NewSSHUnavailableError(host, err)
	}

	e.clients[host] = &pooledClient{client: client, lastUsed: time.Now()}
	return client, nil
}

func isAlive(c *ssh.Client) bool {
	_, _, err := c.SendRequest("keepalive@codeb", true, nil)
	return err == nil
}

// Exec runs command on host with the given timeout.
func (e *Executor) Exec(ctx context.Context, host, command string, timeout time.Duration) (sshx.Result, error) {
	client, err := e.clientFor(host)
	if err != nil {
		return sshx.Result{}, err
	}

	session, err := client.NewSession()
	if err != nil {
		return sshx.Result{}, coreerrors.NewSSHUnavailableError(host, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	start := time.Now()
	go func() { done <- session.Run(command) }()

	select {
	case <-runCtx.Done():
		session.Signal(ssh.SIGKILL)
		session.Close()
		return sshx.Result{Stdout: stdout.String(), Stderr: stderr.String(), Duration: time.Since(start)},
			coreerrors.NewCommandTimeoutError(command, runCtx.Err())
	case err := <-done:
		result := sshx.Result{
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Duration: time.Since(start),
		}
		if err == nil {
			result.ExitCode = 0
			return result, nil
		}
		var exitErr *ssh.ExitError
		if ok := asExitError(err, &exitErr); ok {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		return result, coreerrors.NewSSHUnavailableError(host, err)
	}
}

func asExitError(err error, target **ssh.ExitError) bool {
	if ee, ok := err.(*ssh.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

// WriteFile writes data to path on host by piping it to `cat > path`,
// avoiding any dependency on a separate SFTP channel.
func (e *Executor) WriteFile(ctx context.Context, host, path string, data []byte) error {
	client, err := e.clientFor(host)
	if err != nil {
		return err
	}

	session, err := client.NewSession()
	if err != nil {
		return coreerrors.NewSSHUnavailableError(host, err)
	}
	defer session.Close()

	stdin, err := session.StdinPipe()
	if err != nil {
		return coreerrors.NewSSHUnavailableError(host, err)
	}

	if err := session.Start(fmt.Sprintf("cat > %s", shellQuote(path))); err != nil {
		return coreerrors.NewSSHUnavailableError(host, err)
	}

	if _, err := stdin.Write(data); err != nil {
		stdin.Close()
		session.Wait()
		return coreerrors.NewInternalError("write file contents", err)
	}
	stdin.Close()

	if err := session.Wait(); err != nil {
		return coreerrors.NewInternalError(fmt.Sprintf("write file %s on %s", path, host), err)
	}
	return nil
}

// ReadFile returns the full contents of path on host.
func (e *Executor) ReadFile(ctx context.Context, host, path string) ([]byte, error) {
	client, err := e.clientFor(host)
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, coreerrors.NewSSHUnavailableError(host, err)
	}
	defer session.Close()

	out, err := session.Output(fmt.Sprintf("cat %s", shellQuote(path)))
	if err != nil {
		return nil, coreerrors.NewInternalError(fmt.Sprintf("read file %s on %s", path, host), err)
	}
	return out, nil
}

// FileExists reports whether path exists on host.
func (e *Executor) FileExists(ctx context.Context, host, path string) (bool, error) {
	result, err := e.Exec(ctx, host, fmt.Sprintf("test -e %s", shellQuote(path)), 15*time.Second)
	if err != nil {
		return false, err
	}
	return result.ExitCode == 0, nil
}

// Mkdirp creates path and any missing parents on host.
func (e *Executor) Mkdirp(ctx context.Context, host, path string) error {
	result, err := e.Exec(ctx, host, fmt.Sprintf("mkdir -p %s", shellQuote(path)), 15*time.Second)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return coreerrors.NewInternalError(fmt.Sprintf("mkdir -p %s on %s: %s", path, host, result.Stderr), nil)
	}
	return nil
}

// Close releases every pooled connection.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var firstErr error
	for host, pc := range e.clients {
		if err := pc.client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(e.clients, host)
	}
	return firstErr
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

var _ sshx.Executor = (*Executor)(nil)
