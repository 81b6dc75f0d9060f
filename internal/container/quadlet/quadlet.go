// Package quadlet is the Container Driver implementation: it manages
// Podman Quadlet unit files over SSH and drives them through systemd
// rather than ad-hoc CLI calls, except in the deploy-failure and
// cleanup/force-recovery paths where stop/remove are issued directly.
package quadlet

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/codeblabdev/codeb-controlplane/internal/core/container"
	coreerrors "github.com/codeblabdev/codeb-controlplane/internal/core/errors"
	"github.com/codeblabdev/codeb-controlplane/internal/core/logger"
	"github.com/codeblabdev/codeb-controlplane/internal/core/sshx"
)

const unitDir = "~/.config/containers/systemd"

// Driver is a container.Driver backed by Podman Quadlet unit files
// managed over SSH.
type Driver struct {
	exec    sshx.Executor
	appHost string
	http    *resty.Client
	log     logger.Logger
}

// New returns a Driver that manages units on appHost.
func New(exec sshx.Executor, appHost string, log logger.Logger) *Driver {
	return &Driver{
		exec:    exec,
		appHost: appHost,
		http:    resty.New().SetTimeout(5 * time.Second),
		log:     log,
	}
}

// Apply writes the .container unit file describing spec.
func (d *Driver) Apply(ctx context.Context, spec container.UnitSpec) error {
	path := fmt.Sprintf("%s/%s.container", unitDir, spec.ContainerName)
	content := renderUnit(spec)

	if err := d.exec.Mkdirp(ctx, d.appHost, unitDir); err != nil {
		return err
	}
	if err := d.exec.WriteFile(ctx, d.appHost, path, []byte(content)); err != nil {
		return err
	}

	d.log.Info("container unit written", "containerName", spec.ContainerName, "image", spec.Image)
	return nil
}

func renderUnit(spec container.UnitSpec) string {
	var b strings.Builder
	b.WriteString("[Unit]\n")
	b.WriteString(fmt.Sprintf("Description=codeb slot %s\n\n", spec.ContainerName))

	b.WriteString("[Container]\n")
	b.WriteString(fmt.Sprintf("Image=%s\n", spec.Image))
	b.WriteString(fmt.Sprintf("ContainerName=%s\n", spec.ContainerName))
	b.WriteString(fmt.Sprintf("PublishPort=%d:3000\n", spec.Port))
	b.WriteString(fmt.Sprintf("EnvironmentFile=%s\n", spec.EnvFile))

	keys := make([]string, 0, len(spec.Labels))
	for k := range spec.Labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(fmt.Sprintf("Label=%s=%s\n", k, spec.Labels[k]))
	}

	b.WriteString("HealthCmd=curl -f http://localhost:3000/health\n")
	b.WriteString("HealthInterval=10s\n")
	b.WriteString("HealthTimeout=5s\n")
	b.WriteString("HealthRetries=3\n\n")

	b.WriteString("[Service]\n")
	b.WriteString("Restart=always\n\n")

	b.WriteString("[Install]\n")
	b.WriteString("WantedBy=multi-user.target default.target\n")

	return b.String()
}

// Reload triggers systemd to rescan unit files.
func (d *Driver) Reload(ctx context.Context) error {
	result, err := d.exec.Exec(ctx, d.appHost, "systemctl --user daemon-reload", 15*time.Second)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return coreerrors.NewInternalError("daemon-reload: "+result.Stderr, nil)
	}
	return nil
}

// Start stops any prior instance with a 10s grace, then starts fresh.
func (d *Driver) Start(ctx context.Context, containerName string) error {
	d.exec.Exec(ctx, d.appHost, fmt.Sprintf("systemctl --user stop --timeout 10 %s.service", containerName), 15*time.Second)

	result, err := d.exec.Exec(ctx, d.appHost, fmt.Sprintf("systemctl --user start %s.service", containerName), 120*time.Second)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return coreerrors.NewInternalError(fmt.Sprintf("start %s: %s", containerName, result.Stderr), nil)
	}
	return nil
}

// WaitHealthy polls http://localhost:<port>/health until a 2xx or deadline.
func (d *Driver) WaitHealthy(ctx context.Context, port int, deadline time.Duration) error {
	url := fmt.Sprintf("http://localhost:%d/health", port)
	deadlineAt := time.Now().Add(deadline)
	lastCode := 0

	for time.Now().Before(deadlineAt) {
		resp, err := d.http.R().SetContext(ctx).Get(url)
		if err == nil {
			lastCode = resp.StatusCode()
			if resp.IsSuccess() {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return coreerrors.NewHealthcheckFailedError(url, ctx.Err())
		case <-time.After(5 * time.Second):
		}
	}
	return coreerrors.NewHealthcheckFailedError(url, fmt.Errorf("last status code %d", lastCode))
}

// Stop issues an ad-hoc podman stop. Only called from deploy-failure and
// cleanup/force-recovery paths.
func (d *Driver) Stop(ctx context.Context, containerName string) error {
	result, err := d.exec.Exec(ctx, d.appHost, fmt.Sprintf("podman stop -t 10 %s", containerName), 20*time.Second)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		d.log.Warn("podman stop non-zero exit", "containerName", containerName, "stderr", result.Stderr)
	}
	return nil
}

// Remove issues an ad-hoc podman rm. Only called from deploy-failure and
// cleanup/force-recovery paths.
func (d *Driver) Remove(ctx context.Context, containerName string) error {
	result, err := d.exec.Exec(ctx, d.appHost, fmt.Sprintf("podman rm -f %s", containerName), 20*time.Second)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		d.log.Warn("podman rm non-zero exit", "containerName", containerName, "stderr", result.Stderr)
	}

	unitPath := fmt.Sprintf("%s/%s.container", unitDir, containerName)
	d.exec.Exec(ctx, d.appHost, fmt.Sprintf("rm -f %s", unitPath), 15*time.Second)
	return nil
}

var _ container.Driver = (*Driver)(nil)
