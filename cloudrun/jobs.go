package cloudrun

import (
	"context"
	"encoding/json"
	"fmt"

	run "google.golang.org/api/run/v2"

	"github.com/gcpkit/gcpkit/gcperr"
)

// Jobs

// CreateJob registers a Cloud Run job and waits until it is ready to
// be executed.
func (c *Client) CreateJob(ctx context.Context, jobID string, spec JobSpec) (*JobInfo, error) {
	if jobID == "" {
		return nil, gcperr.Validation(serviceName, "job name is required")
	}
	if spec.Image == "" {
		return nil, gcperr.Validation(serviceName, "container image is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "creating job", "name", jobID, "image", spec.Image)

	job := &run.GoogleCloudRunV2Job{
		Template: toExecutionTemplate(spec),
		Labels:   spec.Labels,
	}
	op, err := c.service.Projects.Locations.Jobs.Create(c.parent(), job).
		JobId(jobID).
		Context(ctx).
		Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "create job", err).WithDetail("name", jobID)
	}
	if _, err := c.waitOperation(ctx, op.Name); err != nil {
		return nil, err
	}
	return c.GetJob(ctx, jobID)
}

// GetJob fetches one job definition.
func (c *Client) GetJob(ctx context.Context, jobID string) (*JobInfo, error) {
	if jobID == "" {
		return nil, gcperr.Validation(serviceName, "job name is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "getting job", "name", jobID)

	job, err := c.service.Projects.Locations.Jobs.Get(c.jobPath(jobID)).Context(ctx).Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "get job", err).WithDetail("name", jobID)
	}
	return c.toJobInfo(job), nil
}

// ListJobs lists every job in the configured region.
func (c *Client) ListJobs(ctx context.Context) ([]JobInfo, error) {
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "listing jobs")

	var jobs []JobInfo
	err := c.service.Projects.Locations.Jobs.List(c.parent()).
		Pages(ctx, func(resp *run.GoogleCloudRunV2ListJobsResponse) error {
			for _, job := range resp.Jobs {
				jobs = append(jobs, *c.toJobInfo(job))
			}
			return nil
		})
	if err != nil {
		return nil, gcperr.Classify(serviceName, "list jobs", err)
	}
	return jobs, nil
}

// DeleteJob removes a job definition and waits for the deletion.
// Completed executions are removed with it.
func (c *Client) DeleteJob(ctx context.Context, jobID string) error {
	if jobID == "" {
		return gcperr.Validation(serviceName, "job name is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "deleting job", "name", jobID)

	op, err := c.service.Projects.Locations.Jobs.Delete(c.jobPath(jobID)).Context(ctx).Do()
	if err != nil {
		return gcperr.Classify(serviceName, "delete job", err).WithDetail("name", jobID)
	}
	_, err = c.waitOperation(ctx, op.Name)
	return err
}

// RunJob starts an execution of a job. Without wait it returns as soon
// as the execution is accepted; with wait it blocks until the execution
// reaches a terminal state and reports the final counts.
func (c *Client) RunJob(ctx context.Context, jobID string, wait bool) (*ExecutionInfo, error) {
	if jobID == "" {
		return nil, gcperr.Validation(serviceName, "job name is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "running job", "name", jobID, "wait", wait)

	op, err := c.service.Projects.Locations.Jobs.Run(c.jobPath(jobID), &run.GoogleCloudRunV2RunJobRequest{}).
		Context(ctx).
		Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "run job", err).WithDetail("name", jobID)
	}

	// The operation carries the execution in its metadata from the
	// start and in its response once done.
	raw := []byte(op.Metadata)
	if wait {
		final, err := c.waitOperation(ctx, op.Name)
		if err != nil {
			return nil, err
		}
		raw = []byte(final.Response)
	}

	var exec run.GoogleCloudRunV2Execution
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &exec); err != nil {
			return nil, gcperr.New(serviceName, "failed to decode execution from operation", err).
				WithDetail("name", jobID)
		}
	}
	if exec.Name == "" {
		return nil, gcperr.New(serviceName, "run operation carried no execution", nil).
			WithDetail("name", jobID).WithDetail("operation", op.Name)
	}
	return toExecutionInfo(&exec), nil
}

// GetExecution fetches one execution of a job.
func (c *Client) GetExecution(ctx context.Context, jobID, executionID string) (*ExecutionInfo, error) {
	if jobID == "" || executionID == "" {
		return nil, gcperr.Validation(serviceName, "job and execution names are required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "getting execution", "job", jobID, "execution", executionID)

	exec, err := c.service.Projects.Locations.Jobs.Executions.Get(c.executionPath(jobID, executionID)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "get execution", err).
			WithDetail("job", jobID).WithDetail("execution", executionID)
	}
	return toExecutionInfo(exec), nil
}

// ListExecutions lists the executions of a job, newest first as
// returned by the service.
func (c *Client) ListExecutions(ctx context.Context, jobID string) ([]ExecutionInfo, error) {
	if jobID == "" {
		return nil, gcperr.Validation(serviceName, "job name is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "listing executions", "job", jobID)

	var executions []ExecutionInfo
	err := c.service.Projects.Locations.Jobs.Executions.List(c.jobPath(jobID)).
		Pages(ctx, func(resp *run.GoogleCloudRunV2ListExecutionsResponse) error {
			for _, exec := range resp.Executions {
				executions = append(executions, *toExecutionInfo(exec))
			}
			return nil
		})
	if err != nil {
		return nil, gcperr.Classify(serviceName, "list executions", err).WithDetail("job", jobID)
	}
	return executions, nil
}

// Helpers

func (c *Client) jobPath(jobID string) string {
	return fmt.Sprintf("%s/jobs/%s", c.parent(), jobID)
}

func (c *Client) executionPath(jobID, executionID string) string {
	return fmt.Sprintf("%s/executions/%s", c.jobPath(jobID), executionID)
}

func toExecutionTemplate(spec JobSpec) *run.GoogleCloudRunV2ExecutionTemplate {
	timeout := spec.TimeoutSeconds
	if timeout == 0 {
		timeout = defaultTimeoutSeconds
	}
	taskCount := spec.TaskCount
	if taskCount == 0 {
		taskCount = 1
	}

	return &run.GoogleCloudRunV2ExecutionTemplate{
		TaskCount:   taskCount,
		Parallelism: spec.Parallelism,
		Template: &run.GoogleCloudRunV2TaskTemplate{
			Containers: []*run.GoogleCloudRunV2Container{
				{
					Image:     spec.Image,
					Command:   spec.Command,
					Args:      spec.Args,
					Env:       toEnvVars(spec.EnvVars),
					Resources: toResources(spec.CPU, spec.Memory),
				},
			},
			MaxRetries:     spec.MaxRetries,
			Timeout:        fmt.Sprintf("%ds", timeout),
			ServiceAccount: spec.ServiceAccount,
		},
	}
}

func (c *Client) toJobInfo(job *run.GoogleCloudRunV2Job) *JobInfo {
	info := &JobInfo{
		Name:           shortName(job.Name),
		Region:         c.settings.Location,
		ExecutionCount: job.ExecutionCount,
		Labels:         job.Labels,
		CreateTime:     parseTime(job.CreateTime),
		UpdateTime:     parseTime(job.UpdateTime),
	}
	if job.Template != nil {
		info.TaskCount = job.Template.TaskCount
		info.Parallelism = job.Template.Parallelism
		if job.Template.Template != nil && len(job.Template.Template.Containers) > 0 {
			info.Image = job.Template.Template.Containers[0].Image
		}
	}
	if job.LatestCreatedExecution != nil {
		info.LastExecution = shortName(job.LatestCreatedExecution.Name)
	}
	return info
}

func toExecutionInfo(exec *run.GoogleCloudRunV2Execution) *ExecutionInfo {
	info := &ExecutionInfo{
		Name:           shortName(exec.Name),
		FullName:       exec.Name,
		Job:            shortName(exec.Job),
		TaskCount:      exec.TaskCount,
		SucceededCount: exec.SucceededCount,
		FailedCount:    exec.FailedCount,
		RunningCount:   exec.RunningCount,
		CreateTime:     parseTime(exec.CreateTime),
		StartTime:      parseTime(exec.StartTime),
		CompletionTime: parseTime(exec.CompletionTime),
	}
	info.Done = !info.CompletionTime.IsZero()
	return info
}
