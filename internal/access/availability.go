// Package access decides which project a conversation is about and whether
// the assistant may serve it.
//
// This file implements the availability policy: the single authority
// consulted by both the lookup path and the request-creation path.
package access

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/PortalAssist/internal/models"
)

// SettingsReader is the subset of the store the policy needs.
type SettingsReader interface {
	GetSettings() (*models.AssistantSettings, error)
}

// Policy computes availability decisions from the admin settings and the
// resolved project context.
type Policy struct {
	settings SettingsReader
	resolver *Resolver
}

// NewPolicy creates the availability policy.
func NewPolicy(settings SettingsReader, resolver *Resolver) *Policy {
	return &Policy{settings: settings, resolver: resolver}
}

// Check evaluates the availability rules in order:
//  1. global kill switch explicitly off → disabled_by_admin
//  2. no resolvable project → enabled with missing_project_context
//     (fail open: ambiguous-context pages keep the widget visible; the
//     ticketing system's own access control still guards concrete lookups)
//  3. resolved project not in the enablement map → disabled_for_project
//  4. otherwise enabled with the resolved id
func (p *Policy) Check(ctx context.Context, pc models.ProjectContext) models.AvailabilityDecision {
	settings, err := p.settings.GetSettings()
	if err != nil {
		slog.Error("Policy.Check failed to read settings", "error", err)
		return models.AvailabilityDecision{Enabled: false, Reason: models.ReasonAvailabilityCheckFailed}
	}
	if settings == nil {
		settings = &models.AssistantSettings{}
	}

	if settings.ChatbotEnabled != nil && !*settings.ChatbotEnabled {
		slog.Debug("Policy.Check assistant disabled by admin")
		return models.AvailabilityDecision{Enabled: false, Reason: models.ReasonDisabledByAdmin}
	}

	projectID := p.resolver.ResolveProjectID(ctx, pc)
	if projectID == "" {
		slog.Debug("Policy.Check no project context resolved, failing open")
		return models.AvailabilityDecision{Enabled: true, Reason: models.ReasonMissingProjectContext}
	}

	if !settings.EnabledProjects[projectID] {
		slog.Debug("Policy.Check assistant not enabled for project", "projectID", projectID)
		return models.AvailabilityDecision{Enabled: false, Reason: models.ReasonDisabledForProject, ProjectID: projectID}
	}

	return models.AvailabilityDecision{Enabled: true, ProjectID: projectID}
}
