package cloudbuild

import (
	"context"

	cb "google.golang.org/api/cloudbuild/v1"

	"github.com/gcpkit/gcpkit/gcperr"
)

// CreateTrigger creates a build trigger from spec. Exactly one source
// binding must be set: either RepoName (Cloud Source Repositories) or
// GitHubOwner+GitHubRepo.
func (c *Client) CreateTrigger(ctx context.Context, spec TriggerSpec) (*TriggerInfo, error) {
	if spec.Name == "" {
		return nil, gcperr.Validation(serviceName, "trigger name is required")
	}
	hasRepo := spec.RepoName != ""
	hasGitHub := spec.GitHubOwner != "" && spec.GitHubRepo != ""
	if hasRepo == hasGitHub {
		return nil, gcperr.Validation(serviceName,
			"exactly one of repo_name or github owner/repo must be set")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "creating trigger", "name", spec.Name)

	trigger := &cb.BuildTrigger{
		Name:          spec.Name,
		Description:   spec.Description,
		Filename:      spec.Filename,
		Substitutions: spec.Substitutions,
		Tags:          spec.Tags,
		Disabled:      spec.Disabled,
	}
	if hasRepo {
		trigger.TriggerTemplate = &cb.RepoSource{
			ProjectId:  c.settings.ProjectID,
			RepoName:   spec.RepoName,
			BranchName: spec.BranchName,
			TagName:    spec.TagName,
		}
	} else {
		push := &cb.PushFilter{Branch: spec.GitHubBranch}
		trigger.Github = &cb.GitHubEventsConfig{
			Owner: spec.GitHubOwner,
			Name:  spec.GitHubRepo,
			Push:  push,
		}
	}

	created, err := c.service.Projects.Triggers.Create(c.settings.ProjectID, trigger).
		Context(ctx).
		Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "create trigger", err).WithDetail("name", spec.Name)
	}
	return toTriggerInfo(created), nil
}

// GetTrigger fetches one trigger by ID.
func (c *Client) GetTrigger(ctx context.Context, triggerID string) (*TriggerInfo, error) {
	if triggerID == "" {
		return nil, gcperr.Validation(serviceName, "trigger id is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "getting trigger", "trigger", triggerID)

	trigger, err := c.service.Projects.Triggers.Get(c.settings.ProjectID, triggerID).Context(ctx).Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "get trigger", err).WithDetail("trigger", triggerID)
	}
	return toTriggerInfo(trigger), nil
}

// ListTriggers lists every trigger in the project.
func (c *Client) ListTriggers(ctx context.Context) ([]TriggerInfo, error) {
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "listing triggers")

	var triggers []TriggerInfo
	err := c.service.Projects.Triggers.List(c.settings.ProjectID).
		Pages(ctx, func(resp *cb.ListBuildTriggersResponse) error {
			for _, t := range resp.Triggers {
				triggers = append(triggers, *toTriggerInfo(t))
			}
			return nil
		})
	if err != nil {
		return nil, gcperr.Classify(serviceName, "list triggers", err)
	}
	return triggers, nil
}

// UpdateTrigger applies the non-nil fields of update to an existing
// trigger, read-modify-write.
func (c *Client) UpdateTrigger(ctx context.Context, triggerID string, update TriggerUpdate) (*TriggerInfo, error) {
	if triggerID == "" {
		return nil, gcperr.Validation(serviceName, "trigger id is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "updating trigger", "trigger", triggerID)

	trigger, err := c.service.Projects.Triggers.Get(c.settings.ProjectID, triggerID).Context(ctx).Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "get trigger", err).WithDetail("trigger", triggerID)
	}

	if update.Name != nil {
		trigger.Name = *update.Name
	}
	if update.Description != nil {
		trigger.Description = *update.Description
	}
	if update.Disabled != nil {
		trigger.Disabled = *update.Disabled
		trigger.ForceSendFields = append(trigger.ForceSendFields, "Disabled")
	}
	if update.Substitutions != nil {
		trigger.Substitutions = update.Substitutions
	}

	updated, err := c.service.Projects.Triggers.Patch(c.settings.ProjectID, triggerID, trigger).
		Context(ctx).
		Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "update trigger", err).WithDetail("trigger", triggerID)
	}
	return toTriggerInfo(updated), nil
}

// DeleteTrigger removes a trigger.
func (c *Client) DeleteTrigger(ctx context.Context, triggerID string) error {
	if triggerID == "" {
		return gcperr.Validation(serviceName, "trigger id is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "deleting trigger", "trigger", triggerID)

	if _, err := c.service.Projects.Triggers.Delete(c.settings.ProjectID, triggerID).Context(ctx).Do(); err != nil {
		return gcperr.Classify(serviceName, "delete trigger", err).WithDetail("trigger", triggerID)
	}
	return nil
}

// RunTrigger fires a trigger manually and returns the queued build. An
// empty branch uses the trigger's configured source.
func (c *Client) RunTrigger(ctx context.Context, triggerID, branch string) (*BuildInfo, error) {
	if triggerID == "" {
		return nil, gcperr.Validation(serviceName, "trigger id is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "running trigger", "trigger", triggerID, "branch", branch)

	source := &cb.RepoSource{}
	if branch != "" {
		source.BranchName = branch
	}
	op, err := c.service.Projects.Triggers.Run(c.settings.ProjectID, triggerID, source).
		Context(ctx).
		Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "run trigger", err).WithDetail("trigger", triggerID)
	}

	queued, err := buildFromOperation(op.Metadata)
	if err != nil {
		return nil, gcperr.New(serviceName, "trigger operation carries no build metadata", err).
			WithDetail("trigger", triggerID)
	}
	return c.toBuildInfo(queued), nil
}

func toTriggerInfo(t *cb.BuildTrigger) *TriggerInfo {
	return &TriggerInfo{
		ID:            t.Id,
		Name:          t.Name,
		Description:   t.Description,
		Filename:      t.Filename,
		Disabled:      t.Disabled,
		Substitutions: t.Substitutions,
		Tags:          t.Tags,
		CreateTime:    parseTime(t.CreateTime),
	}
}
