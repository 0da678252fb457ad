// Package workflows manages Cloud Workflows definitions and their
// executions.
package workflows

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/api/option"
	wfx "google.golang.org/api/workflowexecutions/v1"
	wf "google.golang.org/api/workflows/v1"

	"github.com/gcpkit/gcpkit/config"
	"github.com/gcpkit/gcpkit/gcperr"
)

const serviceName = "workflows"

const operationPollInterval = 2 * time.Second

// Client wraps the Workflows and Workflow Executions APIs for the
// configured project and location.
type Client struct {
	service    *wf.Service
	executions *wfx.Service
	settings   *config.Settings
	logger     *slog.Logger
}

// NewClient builds a Workflows client using the settings' credentials.
func NewClient(ctx context.Context, settings *config.Settings, opts ...option.ClientOption) (*Client, error) {
	if settings == nil {
		return nil, gcperr.Configuration("settings must not be nil", nil)
	}

	allOpts := append(settings.ClientOptions(), opts...)
	service, err := wf.NewService(ctx, allOpts...)
	if err != nil {
		return nil, gcperr.Unauthenticated(serviceName, "failed to create workflows service", err)
	}
	executions, err := wfx.NewService(ctx, allOpts...)
	if err != nil {
		return nil, gcperr.Unauthenticated(serviceName, "failed to create executions service", err)
	}

	return &Client{
		service:    service,
		executions: executions,
		settings:   settings,
		logger:     slog.Default().With("service", serviceName),
	}, nil
}

// CreateWorkflow deploys a workflow definition and waits for it to
// become active.
func (c *Client) CreateWorkflow(ctx context.Context, name string, spec WorkflowSpec) (*WorkflowInfo, error) {
	if name == "" {
		return nil, gcperr.Validation(serviceName, "workflow name is required")
	}
	if spec.SourceContents == "" {
		return nil, gcperr.Validation(serviceName, "workflow source contents are required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "creating workflow", "workflow", name)

	workflow := &wf.Workflow{
		Description:    spec.Description,
		SourceContents: spec.SourceContents,
		Labels:         spec.Labels,
		ServiceAccount: spec.ServiceAccount,
	}
	op, err := c.service.Projects.Locations.Workflows.Create(c.parent(), workflow).
		WorkflowId(name).
		Context(ctx).
		Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "create workflow", err).WithDetail("workflow", name)
	}
	if err := c.waitOperation(ctx, op.Name); err != nil {
		return nil, err
	}
	return c.GetWorkflow(ctx, name)
}

// GetWorkflow fetches one workflow.
func (c *Client) GetWorkflow(ctx context.Context, name string) (*WorkflowInfo, error) {
	if name == "" {
		return nil, gcperr.Validation(serviceName, "workflow name is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "getting workflow", "workflow", name)

	workflow, err := c.service.Projects.Locations.Workflows.Get(c.workflowPath(name)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "get workflow", err).WithDetail("workflow", name)
	}
	return toWorkflowInfo(workflow), nil
}

// ListWorkflows lists every workflow in the configured location.
func (c *Client) ListWorkflows(ctx context.Context) ([]WorkflowInfo, error) {
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "listing workflows")

	var workflows []WorkflowInfo
	err := c.service.Projects.Locations.Workflows.List(c.parent()).
		Pages(ctx, func(resp *wf.ListWorkflowsResponse) error {
			for _, w := range resp.Workflows {
				workflows = append(workflows, *toWorkflowInfo(w))
			}
			return nil
		})
	if err != nil {
		return nil, gcperr.Classify(serviceName, "list workflows", err)
	}
	return workflows, nil
}

// UpdateWorkflow applies the given changes read-modify-write and waits
// for the new revision to deploy.
func (c *Client) UpdateWorkflow(ctx context.Context, name string, update WorkflowUpdate) (*WorkflowInfo, error) {
	if name == "" {
		return nil, gcperr.Validation(serviceName, "workflow name is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "updating workflow", "workflow", name)

	path := c.workflowPath(name)
	workflow, err := c.service.Projects.Locations.Workflows.Get(path).Context(ctx).Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "get workflow", err).WithDetail("workflow", name)
	}

	if update.SourceContents != nil {
		workflow.SourceContents = *update.SourceContents
	}
	if update.Description != nil {
		workflow.Description = *update.Description
	}
	if len(update.Labels) > 0 {
		if workflow.Labels == nil {
			workflow.Labels = map[string]string{}
		}
		for k, v := range update.Labels {
			workflow.Labels[k] = v
		}
	}

	op, err := c.service.Projects.Locations.Workflows.Patch(path, workflow).Context(ctx).Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "update workflow", err).WithDetail("workflow", name)
	}
	if err := c.waitOperation(ctx, op.Name); err != nil {
		return nil, err
	}
	return c.GetWorkflow(ctx, name)
}

// DeleteWorkflow removes a workflow and waits for the deletion to
// finish. Running executions are not cancelled.
func (c *Client) DeleteWorkflow(ctx context.Context, name string) error {
	if name == "" {
		return gcperr.Validation(serviceName, "workflow name is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "deleting workflow", "workflow", name)

	op, err := c.service.Projects.Locations.Workflows.Delete(c.workflowPath(name)).
		Context(ctx).
		Do()
	if err != nil {
		return gcperr.Classify(serviceName, "delete workflow", err).WithDetail("workflow", name)
	}
	return c.waitOperation(ctx, op.Name)
}

// ExecuteWorkflow starts an execution. The argument map is passed to
// the workflow as its JSON input; nil runs it without input. The
// returned execution is usually still ACTIVE.
func (c *Client) ExecuteWorkflow(ctx context.Context, name string, argument map[string]any) (*ExecutionInfo, error) {
	if name == "" {
		return nil, gcperr.Validation(serviceName, "workflow name is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "executing workflow", "workflow", name)

	execution := &wfx.Execution{}
	if argument != nil {
		encoded, err := json.Marshal(argument)
		if err != nil {
			return nil, gcperr.Validation(serviceName, "argument is not JSON-encodable: "+err.Error())
		}
		execution.Argument = string(encoded)
	}

	created, err := c.executions.Projects.Locations.Workflows.Executions.
		Create(c.workflowPath(name), execution).
		Context(ctx).
		Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "execute workflow", err).WithDetail("workflow", name)
	}
	return toExecutionInfo(created, name), nil
}

// GetExecution fetches one execution, including its result once it has
// finished.
func (c *Client) GetExecution(ctx context.Context, workflow, executionID string) (*ExecutionInfo, error) {
	if workflow == "" || executionID == "" {
		return nil, gcperr.Validation(serviceName, "workflow name and execution id are required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "getting execution", "workflow", workflow, "execution", executionID)

	execution, err := c.executions.Projects.Locations.Workflows.Executions.
		Get(c.executionPath(workflow, executionID)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "get execution", err).
			WithDetail("workflow", workflow).WithDetail("execution", executionID)
	}
	return toExecutionInfo(execution, workflow), nil
}

// ListExecutions lists a workflow's executions, newest first. Limit 0
// lists them all.
func (c *Client) ListExecutions(ctx context.Context, workflow string, limit int64) ([]ExecutionInfo, error) {
	if workflow == "" {
		return nil, gcperr.Validation(serviceName, "workflow name is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "listing executions", "workflow", workflow)

	call := c.executions.Projects.Locations.Workflows.Executions.List(c.workflowPath(workflow))
	if limit > 0 {
		call = call.PageSize(limit)
	}

	var executions []ExecutionInfo
	err := call.Pages(ctx, func(resp *wfx.ListExecutionsResponse) error {
		for _, e := range resp.Executions {
			executions = append(executions, *toExecutionInfo(e, workflow))
			if limit > 0 && int64(len(executions)) >= limit {
				return errStopPaging
			}
		}
		return nil
	})
	if err != nil && err != errStopPaging {
		return nil, gcperr.Classify(serviceName, "list executions", err).WithDetail("workflow", workflow)
	}
	return executions, nil
}

// CancelExecution cancels a running execution.
func (c *Client) CancelExecution(ctx context.Context, workflow, executionID string) (*ExecutionInfo, error) {
	if workflow == "" || executionID == "" {
		return nil, gcperr.Validation(serviceName, "workflow name and execution id are required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "cancelling execution", "workflow", workflow, "execution", executionID)

	execution, err := c.executions.Projects.Locations.Workflows.Executions.
		Cancel(c.executionPath(workflow, executionID), &wfx.CancelExecutionRequest{}).
		Context(ctx).
		Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "cancel execution", err).
			WithDetail("workflow", workflow).WithDetail("execution", executionID)
	}
	return toExecutionInfo(execution, workflow), nil
}

// WaitForExecution polls an execution until it reaches a terminal
// state.
func (c *Client) WaitForExecution(ctx context.Context, workflow, executionID string) (*ExecutionInfo, error) {
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()

	for {
		execution, err := c.GetExecution(ctx, workflow, executionID)
		if err != nil {
			return nil, err
		}
		if execution.Finished() {
			return execution, nil
		}
		select {
		case <-ctx.Done():
			return nil, gcperr.Timeout(serviceName, "timed out waiting for execution", ctx.Err()).
				WithDetail("workflow", workflow).WithDetail("execution", executionID)
		case <-time.After(operationPollInterval):
		}
	}
}

// Helpers

var errStopPaging = fmt.Errorf("stop paging")

func (c *Client) parent() string {
	return fmt.Sprintf("projects/%s/locations/%s", c.settings.ProjectID, c.settings.Location)
}

func (c *Client) workflowPath(name string) string {
	return fmt.Sprintf("%s/workflows/%s", c.parent(), name)
}

func (c *Client) executionPath(workflow, executionID string) string {
	return fmt.Sprintf("%s/executions/%s", c.workflowPath(workflow), executionID)
}

func (c *Client) logCall(ctx context.Context, msg string, attrs ...any) {
	if c.settings.EnableRequestLogging {
		c.logger.DebugContext(ctx, msg, attrs...)
	}
}

// waitOperation polls a long-running operation until it finishes or ctx
// expires.
func (c *Client) waitOperation(ctx context.Context, name string) error {
	for {
		op, err := c.service.Projects.Locations.Operations.Get(name).Context(ctx).Do()
		if err != nil {
			return gcperr.Classify(serviceName, "poll operation", err).WithDetail("operation", name)
		}
		if op.Done {
			if op.Error != nil {
				return gcperr.New(serviceName, "operation failed: "+op.Error.Message, nil).
					WithDetail("operation", name)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return gcperr.Timeout(serviceName, "timed out waiting for operation", ctx.Err()).
				WithDetail("operation", name)
		case <-time.After(operationPollInterval):
		}
	}
}

func toWorkflowInfo(w *wf.Workflow) *WorkflowInfo {
	return &WorkflowInfo{
		Name:           shortName(w.Name),
		FullName:       w.Name,
		Description:    w.Description,
		State:          w.State,
		RevisionID:     w.RevisionId,
		ServiceAccount: w.ServiceAccount,
		Labels:         w.Labels,
		CreateTime:     parseTime(w.CreateTime),
		UpdateTime:     parseTime(w.UpdateTime),
	}
}

func toExecutionInfo(e *wfx.Execution, workflow string) *ExecutionInfo {
	info := &ExecutionInfo{
		ID:        shortName(e.Name),
		Workflow:  workflow,
		State:     e.State,
		Argument:  decodeJSONValue(e.Argument),
		Result:    decodeJSONValue(e.Result),
		StartTime: parseTime(e.StartTime),
		EndTime:   parseTime(e.EndTime),
	}
	if e.Error != nil {
		info.Error = e.Error.Payload
		if info.Error == "" {
			info.Error = e.Error.Context
		}
	}
	return info
}

// decodeJSONValue decodes an execution argument or result. Values that
// are not valid JSON are kept as the raw string.
func decodeJSONValue(s string) any {
	if s == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

func shortName(full string) string {
	parts := strings.Split(full, "/")
	return parts[len(parts)-1]
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
