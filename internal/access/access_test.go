package access

import (
	"context"
	"errors"
	"testing"

	"github.com/BTreeMap/PortalAssist/internal/models"
)

type fakeSettings struct {
	settings *models.AssistantSettings
	err      error
}

func (f fakeSettings) GetSettings() (*models.AssistantSettings, error) {
	return f.settings, f.err
}

type fakeDirectory struct {
	desks      map[string]*models.ServiceDeskSummary
	projectIDs map[string]string
	err        error
}

func (f fakeDirectory) ServiceDeskByPortalID(ctx context.Context, portalID string) (*models.ServiceDeskSummary, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.desks[portalID], nil
}

func (f fakeDirectory) ProjectByKey(ctx context.Context, key string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.projectIDs[key], nil
}

func boolPtr(b bool) *bool { return &b }

func TestResolveProjectID(t *testing.T) {
	dir := fakeDirectory{
		desks:      map[string]*models.ServiceDeskSummary{"7": {ID: "7", ProjectID: "10100"}},
		projectIDs: map[string]string{"HELP": "10200"},
	}
	r := NewResolver(dir)

	tests := []struct {
		name     string
		pc       models.ProjectContext
		expected string
	}{
		{"explicit project id wins", models.ProjectContext{ProjectID: "10000", PortalID: "7", ProjectKey: "HELP"}, "10000"},
		{"portal id resolves", models.ProjectContext{PortalID: "7"}, "10100"},
		{"project key resolves", models.ProjectContext{ProjectKey: "HELP"}, "10200"},
		{"unknown portal falls through to key", models.ProjectContext{PortalID: "99", ProjectKey: "HELP"}, "10200"},
		{"nothing resolves", models.ProjectContext{}, ""},
		{"whitespace ignored", models.ProjectContext{ProjectID: "   "}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.ResolveProjectID(context.Background(), tt.pc); got != tt.expected {
				t.Errorf("ResolveProjectID = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestResolveProjectIDNetworkFailureFallsThrough(t *testing.T) {
	r := NewResolver(fakeDirectory{err: errors.New("connection refused")})
	got := r.ResolveProjectID(context.Background(), models.ProjectContext{PortalID: "7", ProjectKey: "HELP"})
	if got != "" {
		t.Errorf("expected empty project id on lookup failure, got %q", got)
	}
}

func TestPolicyCheck(t *testing.T) {
	dir := fakeDirectory{projectIDs: map[string]string{"HELP": "10200"}}

	tests := []struct {
		name          string
		settings      *models.AssistantSettings
		settingsErr   error
		pc            models.ProjectContext
		wantEnabled   bool
		wantReason    models.AvailabilityReason
		wantProjectID string
	}{
		{
			name:        "settings read failure disables with reason",
			settingsErr: errors.New("db down"),
			pc:          models.ProjectContext{ProjectID: "10000"},
			wantEnabled: false,
			wantReason:  models.ReasonAvailabilityCheckFailed,
		},
		{
			name:        "admin kill switch",
			settings:    &models.AssistantSettings{ChatbotEnabled: boolPtr(false)},
			pc:          models.ProjectContext{ProjectID: "10000"},
			wantEnabled: false,
			wantReason:  models.ReasonDisabledByAdmin,
		},
		{
			name:        "missing context fails open",
			settings:    &models.AssistantSettings{ChatbotEnabled: boolPtr(true)},
			pc:          models.ProjectContext{},
			wantEnabled: true,
			wantReason:  models.ReasonMissingProjectContext,
		},
		{
			name: "project not enabled",
			settings: &models.AssistantSettings{
				ChatbotEnabled:  boolPtr(true),
				EnabledProjects: map[string]bool{"10100": true},
			},
			pc:            models.ProjectContext{ProjectID: "10000"},
			wantEnabled:   false,
			wantReason:    models.ReasonDisabledForProject,
			wantProjectID: "10000",
		},
		{
			name: "enabled project",
			settings: &models.AssistantSettings{
				ChatbotEnabled:  boolPtr(true),
				EnabledProjects: map[string]bool{"10000": true},
			},
			pc:            models.ProjectContext{ProjectID: "10000"},
			wantEnabled:   true,
			wantProjectID: "10000",
		},
		{
			name: "resolved key checked against enablement",
			settings: &models.AssistantSettings{
				EnabledProjects: map[string]bool{"10200": true},
			},
			pc:            models.ProjectContext{ProjectKey: "HELP"},
			wantEnabled:   true,
			wantProjectID: "10200",
		},
		{
			name:        "nil settings defaults to enabled with missing context",
			settings:    nil,
			pc:          models.ProjectContext{},
			wantEnabled: true,
			wantReason:  models.ReasonMissingProjectContext,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPolicy(fakeSettings{settings: tt.settings, err: tt.settingsErr}, NewResolver(dir))
			d := p.Check(context.Background(), tt.pc)
			if d.Enabled != tt.wantEnabled {
				t.Errorf("Enabled = %v, want %v", d.Enabled, tt.wantEnabled)
			}
			if d.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", d.Reason, tt.wantReason)
			}
			if d.ProjectID != tt.wantProjectID {
				t.Errorf("ProjectID = %q, want %q", d.ProjectID, tt.wantProjectID)
			}
		})
	}
}
