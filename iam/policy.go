package iam

import (
	"context"
	"slices"
	"strconv"

	"cloud.google.com/go/resourcemanager/apiv3/resourcemanagerpb"
	crm "google.golang.org/api/cloudresourcemanager/v3"
	iamapi "google.golang.org/api/iam/v1"

	"github.com/gcpkit/gcpkit/gcperr"
)

// Project-level policy

// GetIAMPolicy fetches the configured project's IAM policy.
func (c *Client) GetIAMPolicy(ctx context.Context) (*IAMPolicy, error) {
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "getting project iam policy")

	policy, err := c.getProjectPolicy(ctx)
	if err != nil {
		return nil, err
	}
	return toPolicy(policy), nil
}

// SetIAMPolicy replaces the project's IAM policy. The policy's Etag
// should come from a preceding GetIAMPolicy so lost updates are
// rejected.
func (c *Client) SetIAMPolicy(ctx context.Context, policy *IAMPolicy) (*IAMPolicy, error) {
	if policy == nil {
		return nil, gcperr.Validation(serviceName, "policy is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "setting project iam policy", "bindings", len(policy.Bindings))

	updated, err := c.setProjectPolicy(ctx, fromPolicy(policy))
	if err != nil {
		return nil, err
	}
	return toPolicy(updated), nil
}

// AddIAMBinding grants role to member on the project. Adding a grant
// that already exists is a no-op.
func (c *Client) AddIAMBinding(ctx context.Context, role, member string) error {
	if role == "" || member == "" {
		return gcperr.Validation(serviceName, "role and member are required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "adding project iam binding", "role", role, "member", member)

	policy, err := c.getProjectPolicy(ctx)
	if err != nil {
		return err
	}
	if !crmBindingExists(policy.Bindings, role, member) {
		policy.Bindings = append(policy.Bindings, &crm.Binding{
			Role:    role,
			Members: []string{member},
		})
	}
	_, err = c.setProjectPolicy(ctx, policy)
	return err
}

// RemoveIAMBinding revokes role from member on the project. Removing a
// grant that does not exist is a no-op.
func (c *Client) RemoveIAMBinding(ctx context.Context, role, member string) error {
	if role == "" || member == "" {
		return gcperr.Validation(serviceName, "role and member are required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "removing project iam binding", "role", role, "member", member)

	policy, err := c.getProjectPolicy(ctx)
	if err != nil {
		return err
	}
	policy.Bindings = removeCRMBinding(policy.Bindings, role, member)
	_, err = c.setProjectPolicy(ctx, policy)
	return err
}

// Service-account-level policy

// AddServiceAccountBinding grants role to member on one service
// account, typically roles/iam.serviceAccountUser or
// serviceAccountTokenCreator.
func (c *Client) AddServiceAccountBinding(ctx context.Context, email, role, member string) error {
	if email == "" || role == "" || member == "" {
		return gcperr.Validation(serviceName, "email, role, and member are required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "adding service account binding", "email", email, "role", role, "member", member)

	resource := c.accountPath(email)
	policy, err := c.iamService.Projects.ServiceAccounts.GetIamPolicy(resource).Context(ctx).Do()
	if err != nil {
		return gcperr.Classify(serviceName, "get service account iam policy", err).WithDetail("email", email)
	}

	if !saBindingExists(policy.Bindings, role, member) {
		policy.Bindings = append(policy.Bindings, &iamapi.Binding{
			Role:    role,
			Members: []string{member},
		})
	}

	_, err = c.iamService.Projects.ServiceAccounts.SetIamPolicy(resource,
		&iamapi.SetIamPolicyRequest{Policy: policy}).Context(ctx).Do()
	if err != nil {
		return gcperr.Classify(serviceName, "set service account iam policy", err).WithDetail("email", email)
	}
	return nil
}

// RemoveServiceAccountBinding revokes role from member on one service
// account.
func (c *Client) RemoveServiceAccountBinding(ctx context.Context, email, role, member string) error {
	if email == "" || role == "" || member == "" {
		return gcperr.Validation(serviceName, "email, role, and member are required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "removing service account binding", "email", email, "role", role, "member", member)

	resource := c.accountPath(email)
	policy, err := c.iamService.Projects.ServiceAccounts.GetIamPolicy(resource).Context(ctx).Do()
	if err != nil {
		return gcperr.Classify(serviceName, "get service account iam policy", err).WithDetail("email", email)
	}

	policy.Bindings = removeSABinding(policy.Bindings, role, member)

	_, err = c.iamService.Projects.ServiceAccounts.SetIamPolicy(resource,
		&iamapi.SetIamPolicyRequest{Policy: policy}).Context(ctx).Do()
	if err != nil {
		return gcperr.Classify(serviceName, "set service account iam policy", err).WithDetail("email", email)
	}
	return nil
}

// Project

// GetProject fetches the configured project's metadata, including its
// numeric identifier.
func (c *Client) GetProject(ctx context.Context) (*ProjectInfo, error) {
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "getting project")

	project, err := c.projects.GetProject(ctx, &resourcemanagerpb.GetProjectRequest{
		Name: "projects/" + c.settings.ProjectID,
	})
	if err != nil {
		return nil, gcperr.Classify(serviceName, "get project", err).
			WithDetail("project", c.settings.ProjectID)
	}
	return toProjectInfo(project), nil
}

// ProjectNumber resolves the configured project's numeric identifier,
// needed for some resource names (e.g. Pub/Sub service agents).
func (c *Client) ProjectNumber(ctx context.Context) (int64, error) {
	project, err := c.GetProject(ctx)
	if err != nil {
		return 0, err
	}
	if project.Number == 0 {
		return 0, gcperr.New(serviceName, "project carries no numeric name", nil).
			WithDetail("project", c.settings.ProjectID)
	}
	return project.Number, nil
}

// Helpers

func (c *Client) getProjectPolicy(ctx context.Context) (*crm.Policy, error) {
	policy, err := c.resourceManager.Projects.GetIamPolicy("projects/"+c.settings.ProjectID,
		&crm.GetIamPolicyRequest{}).Context(ctx).Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "get project iam policy", err)
	}
	return policy, nil
}

func (c *Client) setProjectPolicy(ctx context.Context, policy *crm.Policy) (*crm.Policy, error) {
	updated, err := c.resourceManager.Projects.SetIamPolicy("projects/"+c.settings.ProjectID,
		&crm.SetIamPolicyRequest{Policy: policy}).Context(ctx).Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "set project iam policy", err)
	}
	return updated, nil
}

func crmBindingExists(bindings []*crm.Binding, role, member string) bool {
	for _, b := range bindings {
		if b.Role == role && slices.Contains(b.Members, member) {
			return true
		}
	}
	return false
}

func removeCRMBinding(bindings []*crm.Binding, role, member string) []*crm.Binding {
	var result []*crm.Binding
	for _, b := range bindings {
		if b.Role != role {
			result = append(result, b)
			continue
		}
		var members []string
		for _, m := range b.Members {
			if m != member {
				members = append(members, m)
			}
		}
		if len(members) > 0 {
			b.Members = members
			result = append(result, b)
		}
	}
	return result
}

func saBindingExists(bindings []*iamapi.Binding, role, member string) bool {
	for _, b := range bindings {
		if b.Role == role && slices.Contains(b.Members, member) {
			return true
		}
	}
	return false
}

func removeSABinding(bindings []*iamapi.Binding, role, member string) []*iamapi.Binding {
	var result []*iamapi.Binding
	for _, b := range bindings {
		if b.Role != role {
			result = append(result, b)
			continue
		}
		var members []string
		for _, m := range b.Members {
			if m != member {
				members = append(members, m)
			}
		}
		if len(members) > 0 {
			b.Members = members
			result = append(result, b)
		}
	}
	return result
}

func toPolicy(p *crm.Policy) *IAMPolicy {
	policy := &IAMPolicy{
		Version: p.Version,
		Etag:    p.Etag,
	}
	for _, b := range p.Bindings {
		policy.Bindings = append(policy.Bindings, IAMBinding{
			Role:    b.Role,
			Members: b.Members,
		})
	}
	return policy
}

func fromPolicy(p *IAMPolicy) *crm.Policy {
	policy := &crm.Policy{
		Version: p.Version,
		Etag:    p.Etag,
	}
	for _, b := range p.Bindings {
		policy.Bindings = append(policy.Bindings, &crm.Binding{
			Role:    b.Role,
			Members: b.Members,
		})
	}
	return policy
}

func toProjectInfo(p *resourcemanagerpb.Project) *ProjectInfo {
	info := &ProjectInfo{
		ProjectID:   p.GetProjectId(),
		Name:        p.GetName(),
		DisplayName: p.GetDisplayName(),
		State:       p.GetState().String(),
		Parent:      p.GetParent(),
		Labels:      p.GetLabels(),
	}
	if p.GetCreateTime() != nil {
		info.CreateTime = p.GetCreateTime().AsTime()
	}
	if name := p.GetName(); len(name) > len("projects/") {
		if number, err := strconv.ParseInt(name[len("projects/"):], 10, 64); err == nil {
			info.Number = number
		}
	}
	return info
}
