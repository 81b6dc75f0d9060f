// Package caddyfile is the Router Controller implementation: it writes a
// Caddyfile site block over SSH and reloads Caddy through the host's
// service manager, rather than Caddy's JSON Admin API.
package caddyfile

import (
	"context"
	"fmt"
	"sync"
	"time"

	coreerrors "github.com/codeblabdev/codeb-controlplane/internal/core/errors"
	"github.com/codeblabdev/codeb-controlplane/internal/core/logger"
	"github.com/codeblabdev/codeb-controlplane/internal/core/proxy"
	"github.com/codeblabdev/codeb-controlplane/internal/core/sshx"
)

const sitesDir = "/etc/caddy/sites"

// Controller is a proxy.Controller backed by per-site Caddyfiles managed
// over SSH. Reloads are serialized under a single process-wide lock.
type Controller struct {
	exec    sshx.Executor
	appHost string
	log     logger.Logger

	reloadMu sync.Mutex
}

// New returns a Controller that writes site files to appHost.
func New(exec sshx.Executor, appHost string, log logger.Logger) *Controller {
	return &Controller{exec: exec, appHost: appHost, log: log}
}

// Configure renders and installs the site block for (project, environment)
// pointing at port, then reloads Caddy.
func (c *Controller) Configure(ctx context.Context, project, environment string, port int, isRollback bool) error {
	domain := proxy.Domain(project, environment)
	content := renderSite(domain, project, environment, port, isRollback)

	if err := c.exec.Mkdirp(ctx, c.appHost, sitesDir); err != nil {
		return err
	}

	path := fmt.Sprintf("%s/%s-%s.caddy", sitesDir, project, environment)
	if err := c.exec.WriteFile(ctx, c.appHost, path, []byte(content)); err != nil {
		return err
	}

	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()

	result, err := c.exec.Exec(ctx, c.appHost, "systemctl reload caddy", 15*time.Second)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return coreerrors.NewInternalError("reload caddy: "+result.Stderr, nil)
	}

	c.log.Info("proxy configured", logger.Project(project), logger.Environment(environment),
		"domain", domain, "port", port, "isRollback", isRollback)
	return nil
}

func renderSite(domain, project, environment string, port int, isRollback bool) string {
	rollbackHeader := ""
	if isRollback {
		rollbackHeader = "\n\theader X-Codeb-Rollback true"
	}

	return fmt.Sprintf(`%s {
	reverse_proxy localhost:%d {
		health_uri /health
		health_interval 10s
		health_timeout 5s
	}
	encode gzip
	log {
		output file /var/log/caddy/%s-%s.log
	}
	header X-Codeb-Project %s
	header X-Codeb-Environment %s%s
}
`, domain, port, project, environment, project, environment, rollbackHeader)
}
