package k8s

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/risedotdev/rise/internal/db"
	"github.com/risedotdev/rise/internal/registry"
	"github.com/risedotdev/rise/internal/telemetry"
)

// dockerAuthEntry is one entry of a .dockerconfigjson "auths" map.
type dockerAuthEntry struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Auth     string `json:"auth"`
}

// dockerConfigJSON builds the .dockerconfigjson payload kubelet uses to
// authenticate image pulls against creds.RegistryURL.
func dockerConfigJSON(creds registry.Credentials) []byte {
	auth := base64.StdEncoding.EncodeToString([]byte(creds.Username + ":" + creds.Password))
	cfg := map[string]map[string]dockerAuthEntry{
		"auths": {
			creds.RegistryURL: {Username: creds.Username, Password: creds.Password, Auth: auth},
		},
	}
	data, _ := json.Marshal(cfg)
	return data
}

// ProjectLister lists non-terminated projects whose pull secret needs
// refreshing. Satisfied by *db.Queries.
type ProjectLister interface {
	ListProjectsNeedingPullSecretRefresh(ctx context.Context, refreshInterval time.Duration) ([]db.Project, error)
	SetPullSecretRefreshed(ctx context.Context, id uuid.UUID) error
}

var _ ProjectLister = (*db.Queries)(nil)

// PullSecretRefresher iterates projects needing a fresh pull secret and
// patches each one (§4.2 pull-secret refresh background task), independent
// of any particular deployment's reconcile pass.
type PullSecretRefresher struct {
	reconciler *Reconciler
	projects   ProjectLister
	logger     *slog.Logger
	interval   time.Duration
}

func NewPullSecretRefresher(reconciler *Reconciler, projects ProjectLister, logger *slog.Logger, interval time.Duration) *PullSecretRefresher {
	return &PullSecretRefresher{reconciler: reconciler, projects: projects, logger: logger, interval: interval}
}

func (p *PullSecretRefresher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	if err := p.refreshAll(ctx); err != nil {
		p.logger.Error("pull secret refresh pass failed", "error", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.refreshAll(ctx); err != nil {
				p.logger.Error("pull secret refresh pass failed", "error", err)
			}
		}
	}
}

func (p *PullSecretRefresher) refreshAll(ctx context.Context) error {
	projects, err := p.projects.ListProjectsNeedingPullSecretRefresh(ctx, p.reconciler.pullSecretRefresh)
	if err != nil {
		return fmt.Errorf("listing projects needing pull secret refresh: %w", err)
	}

	for _, project := range projects {
		ns := Namespace(p.reconciler.namespacePrefix, project.Name)
		if err := p.reconciler.refreshPullSecret(ctx, ns, project); err != nil {
			telemetry.PullSecretRefreshFailuresTotal.Inc()
			p.logger.Error("refreshing pull secret", "project", project.Name, "error", err)
			continue
		}
		if err := p.projects.SetPullSecretRefreshed(ctx, project.ID); err != nil {
			p.logger.Error("stamping pull secret refresh", "project", project.Name, "error", err)
		}
	}
	return nil
}
