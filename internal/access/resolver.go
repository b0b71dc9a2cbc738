// Package access decides which project a conversation is about and whether
// the assistant may serve it. The resolver reduces heterogeneous, partially
// missing page context to one canonical project id; the policy gates the
// assistant on the admin settings. Both are best-effort: losing project
// context degrades precision, never crashes the assistant.
package access

import (
	"context"
	"log/slog"
	"strings"

	"github.com/BTreeMap/PortalAssist/internal/models"
)

// Directory is the subset of the ticketing client the resolver needs.
type Directory interface {
	ServiceDeskByPortalID(ctx context.Context, portalID string) (*models.ServiceDeskSummary, error)
	ProjectByKey(ctx context.Context, key string) (string, error)
}

// Resolver resolves a ProjectContext to a canonical project id.
type Resolver struct {
	directory Directory
}

// NewResolver creates a resolver over the given ticketing directory.
func NewResolver(directory Directory) *Resolver {
	return &Resolver{directory: directory}
}

// ResolveProjectID reduces the context to a single project id, or "" when
// nothing resolves. Each step is tried in order and the first success wins;
// network failures are swallowed so resolution falls through to the next
// step instead of aborting.
func (r *Resolver) ResolveProjectID(ctx context.Context, pc models.ProjectContext) string {
	if id := strings.TrimSpace(pc.ProjectID); id != "" {
		return id
	}

	if portalID := strings.TrimSpace(pc.PortalID); portalID != "" {
		desk, err := r.directory.ServiceDeskByPortalID(ctx, portalID)
		if err != nil {
			slog.Warn("Resolver portal lookup failed, falling through", "error", err, "portalID", portalID)
		} else if desk != nil && desk.ProjectID != "" {
			return desk.ProjectID
		}
	}

	if key := strings.TrimSpace(pc.ProjectKey); key != "" {
		id, err := r.directory.ProjectByKey(ctx, key)
		if err != nil {
			slog.Warn("Resolver project key lookup failed, falling through", "error", err, "projectKey", key)
		} else if id != "" {
			return id
		}
	}

	return ""
}
