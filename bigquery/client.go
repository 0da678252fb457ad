// Package bigquery manages datasets and tables, runs queries, and
// loads data. Query rows are decoded into map values using the result
// schema, so callers get int64/float64/bool/time values instead of the
// wire's string cells.
package bigquery

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	bq "google.golang.org/api/bigquery/v2"
	"google.golang.org/api/option"

	"github.com/gcpkit/gcpkit/config"
	"github.com/gcpkit/gcpkit/gcperr"
)

const serviceName = "bigquery"

const jobPollInterval = 2 * time.Second

// Client wraps the BigQuery API for the configured project.
type Client struct {
	service  *bq.Service
	settings *config.Settings
	logger   *slog.Logger
}

// NewClient builds a BigQuery client using the settings' credentials.
func NewClient(ctx context.Context, settings *config.Settings, opts ...option.ClientOption) (*Client, error) {
	if settings == nil {
		return nil, gcperr.Configuration("settings must not be nil", nil)
	}

	allOpts := append(settings.ClientOptions(), opts...)
	service, err := bq.NewService(ctx, allOpts...)
	if err != nil {
		return nil, gcperr.Unauthenticated(serviceName, "failed to create bigquery service", err)
	}

	return &Client{
		service:  service,
		settings: settings,
		logger:   slog.Default().With("service", serviceName),
	}, nil
}

// Datasets

// CreateDataset creates a dataset in the configured BigQuery location.
func (c *Client) CreateDataset(ctx context.Context, datasetID, description string, labels map[string]string) (*DatasetInfo, error) {
	if datasetID == "" {
		return nil, gcperr.Validation(serviceName, "dataset id is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "creating dataset", "dataset", datasetID)

	dataset := &bq.Dataset{
		DatasetReference: &bq.DatasetReference{
			ProjectId: c.settings.ProjectID,
			DatasetId: datasetID,
		},
		Location:    c.settings.BigQueryLocation,
		Description: description,
		Labels:      labels,
	}
	created, err := c.service.Datasets.Insert(c.settings.ProjectID, dataset).Context(ctx).Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "create dataset", err).WithDetail("dataset", datasetID)
	}
	return toDatasetInfo(created), nil
}

// GetDataset fetches one dataset.
func (c *Client) GetDataset(ctx context.Context, datasetID string) (*DatasetInfo, error) {
	if datasetID == "" {
		return nil, gcperr.Validation(serviceName, "dataset id is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "getting dataset", "dataset", datasetID)

	dataset, err := c.service.Datasets.Get(c.settings.ProjectID, datasetID).Context(ctx).Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "get dataset", err).WithDetail("dataset", datasetID)
	}
	return toDatasetInfo(dataset), nil
}

// ListDatasets lists every dataset in the project.
func (c *Client) ListDatasets(ctx context.Context) ([]DatasetInfo, error) {
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "listing datasets")

	var datasets []DatasetInfo
	err := c.service.Datasets.List(c.settings.ProjectID).
		Pages(ctx, func(resp *bq.DatasetList) error {
			for _, d := range resp.Datasets {
				info := DatasetInfo{Location: d.Location, Labels: d.Labels}
				if d.DatasetReference != nil {
					info.DatasetID = d.DatasetReference.DatasetId
					info.ProjectID = d.DatasetReference.ProjectId
				}
				datasets = append(datasets, info)
			}
			return nil
		})
	if err != nil {
		return nil, gcperr.Classify(serviceName, "list datasets", err)
	}
	return datasets, nil
}

// DeleteDataset removes a dataset. With force the contained tables are
// deleted too; without it the call fails on a non-empty dataset.
func (c *Client) DeleteDataset(ctx context.Context, datasetID string, force bool) error {
	if datasetID == "" {
		return gcperr.Validation(serviceName, "dataset id is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "deleting dataset", "dataset", datasetID, "force", force)

	err := c.service.Datasets.Delete(c.settings.ProjectID, datasetID).
		DeleteContents(force).
		Context(ctx).
		Do()
	if err != nil {
		return gcperr.Classify(serviceName, "delete dataset", err).WithDetail("dataset", datasetID)
	}
	return nil
}

// Tables

// CreateTable creates a table with the given column schema.
func (c *Client) CreateTable(ctx context.Context, datasetID, tableID string, schema []SchemaField) (*TableInfo, error) {
	if datasetID == "" || tableID == "" {
		return nil, gcperr.Validation(serviceName, "dataset id and table id are required")
	}
	if len(schema) == 0 {
		return nil, gcperr.Validation(serviceName, "table schema is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "creating table", "dataset", datasetID, "table", tableID)

	table := &bq.Table{
		TableReference: &bq.TableReference{
			ProjectId: c.settings.ProjectID,
			DatasetId: datasetID,
			TableId:   tableID,
		},
		Schema: toWireSchema(schema),
	}
	created, err := c.service.Tables.Insert(c.settings.ProjectID, datasetID, table).Context(ctx).Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "create table", err).
			WithDetail("dataset", datasetID).WithDetail("table", tableID)
	}
	return toTableInfo(created), nil
}

// GetTable fetches one table with its schema and row counts.
func (c *Client) GetTable(ctx context.Context, datasetID, tableID string) (*TableInfo, error) {
	if datasetID == "" || tableID == "" {
		return nil, gcperr.Validation(serviceName, "dataset id and table id are required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "getting table", "dataset", datasetID, "table", tableID)

	table, err := c.service.Tables.Get(c.settings.ProjectID, datasetID, tableID).Context(ctx).Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "get table", err).
			WithDetail("dataset", datasetID).WithDetail("table", tableID)
	}
	return toTableInfo(table), nil
}

// ListTables lists every table in a dataset.
func (c *Client) ListTables(ctx context.Context, datasetID string) ([]TableInfo, error) {
	if datasetID == "" {
		return nil, gcperr.Validation(serviceName, "dataset id is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "listing tables", "dataset", datasetID)

	var tables []TableInfo
	err := c.service.Tables.List(c.settings.ProjectID, datasetID).
		Pages(ctx, func(resp *bq.TableList) error {
			for _, t := range resp.Tables {
				info := TableInfo{DatasetID: datasetID}
				if t.TableReference != nil {
					info.TableID = t.TableReference.TableId
				}
				tables = append(tables, info)
			}
			return nil
		})
	if err != nil {
		return nil, gcperr.Classify(serviceName, "list tables", err).WithDetail("dataset", datasetID)
	}
	return tables, nil
}

// DeleteTable removes a table and its data.
func (c *Client) DeleteTable(ctx context.Context, datasetID, tableID string) error {
	if datasetID == "" || tableID == "" {
		return gcperr.Validation(serviceName, "dataset id and table id are required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "deleting table", "dataset", datasetID, "table", tableID)

	err := c.service.Tables.Delete(c.settings.ProjectID, datasetID, tableID).Context(ctx).Do()
	if err != nil {
		return gcperr.Classify(serviceName, "delete table", err).
			WithDetail("dataset", datasetID).WithDetail("table", tableID)
	}
	return nil
}

// Queries

// Query runs a standard-SQL query and waits for its results. MaxResults
// 0 lets the service choose a page size.
func (c *Client) Query(ctx context.Context, sql string, maxResults int64) (*QueryResult, error) {
	if sql == "" {
		return nil, gcperr.Validation(serviceName, "query sql is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "running query")

	useLegacySQL := false
	req := &bq.QueryRequest{
		Query:        sql,
		Location:     c.settings.BigQueryLocation,
		UseLegacySql: &useLegacySQL,
		// The service defaults useLegacySql to true when absent.
		ForceSendFields: []string{"UseLegacySql"},
	}
	if maxResults > 0 {
		req.MaxResults = maxResults
	}

	resp, err := c.service.Jobs.Query(c.settings.ProjectID, req).Context(ctx).Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "run query", err)
	}

	schema := resp.Schema
	rows := resp.Rows
	totalRows := resp.TotalRows
	bytesProcessed := resp.TotalBytesProcessed
	cacheHit := resp.CacheHit
	jobID := ""
	if resp.JobReference != nil {
		jobID = resp.JobReference.JobId
	}

	// A query that misses the synchronous window completes through
	// getQueryResults.
	for !resp.JobComplete {
		select {
		case <-ctx.Done():
			return nil, gcperr.Timeout(serviceName, "timed out waiting for query", ctx.Err()).
				WithDetail("job", jobID)
		case <-time.After(jobPollInterval):
		}
		results, err := c.service.Jobs.GetQueryResults(c.settings.ProjectID, jobID).
			Location(c.settings.BigQueryLocation).
			Context(ctx).
			Do()
		if err != nil {
			return nil, gcperr.Classify(serviceName, "poll query results", err).WithDetail("job", jobID)
		}
		resp.JobComplete = results.JobComplete
		if results.JobComplete {
			schema = results.Schema
			rows = results.Rows
			totalRows = results.TotalRows
			cacheHit = results.CacheHit
		}
	}

	result := &QueryResult{
		Schema:         fromWireSchema(schema),
		TotalRows:      totalRows,
		BytesProcessed: bytesProcessed,
		CacheHit:       cacheHit,
		JobID:          jobID,
	}
	for _, row := range rows {
		result.Rows = append(result.Rows, decodeRow(schema, row))
	}
	return result, nil
}

// LoadFromURI loads Cloud Storage objects into a table and waits for
// the load job to finish.
func (c *Client) LoadFromURI(ctx context.Context, sourceURIs []string, datasetID, tableID string, spec LoadSpec) (*JobInfo, error) {
	if len(sourceURIs) == 0 {
		return nil, gcperr.Validation(serviceName, "at least one source uri is required")
	}
	if datasetID == "" || tableID == "" {
		return nil, gcperr.Validation(serviceName, "dataset id and table id are required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "loading table from uri", "dataset", datasetID, "table", tableID,
		"sources", len(sourceURIs))

	load := &bq.JobConfigurationLoad{
		SourceUris: sourceURIs,
		DestinationTable: &bq.TableReference{
			ProjectId: c.settings.ProjectID,
			DatasetId: datasetID,
			TableId:   tableID,
		},
		SourceFormat:     spec.SourceFormat,
		WriteDisposition: spec.WriteDisposition,
		Autodetect:       spec.Autodetect,
	}
	if len(spec.Schema) > 0 {
		load.Schema = toWireSchema(spec.Schema)
	}
	if spec.SkipLeadingRows > 0 && (spec.SourceFormat == "" || spec.SourceFormat == FormatCSV) {
		load.SkipLeadingRows = spec.SkipLeadingRows
	}

	job := &bq.Job{
		Configuration: &bq.JobConfiguration{Load: load},
		JobReference: &bq.JobReference{
			ProjectId: c.settings.ProjectID,
			Location:  c.settings.BigQueryLocation,
		},
	}
	inserted, err := c.service.Jobs.Insert(c.settings.ProjectID, job).Context(ctx).Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "submit load job", err).
			WithDetail("dataset", datasetID).WithDetail("table", tableID)
	}

	jobID := inserted.JobReference.JobId
	for {
		if inserted.Status != nil && inserted.Status.State == "DONE" {
			if inserted.Status.ErrorResult != nil {
				return nil, gcperr.New(serviceName,
					"load job failed: "+inserted.Status.ErrorResult.Message, nil).
					WithDetail("job", jobID)
			}
			break
		}
		select {
		case <-ctx.Done():
			return nil, gcperr.Timeout(serviceName, "timed out waiting for load job", ctx.Err()).
				WithDetail("job", jobID)
		case <-time.After(jobPollInterval):
		}
		inserted, err = c.service.Jobs.Get(c.settings.ProjectID, jobID).
			Location(c.settings.BigQueryLocation).
			Context(ctx).
			Do()
		if err != nil {
			return nil, gcperr.Classify(serviceName, "poll load job", err).WithDetail("job", jobID)
		}
	}

	info := &JobInfo{JobID: jobID, State: "DONE"}
	if inserted.Statistics != nil && inserted.Statistics.Load != nil {
		info.OutputRows = inserted.Statistics.Load.OutputRows
	}
	return info, nil
}

// InsertRows streams rows into a table. Rows the service rejects are
// returned as RowErrors alongside a service error; accepted rows stay
// inserted.
func (c *Client) InsertRows(ctx context.Context, datasetID, tableID string, rows []map[string]any) ([]RowError, error) {
	if datasetID == "" || tableID == "" {
		return nil, gcperr.Validation(serviceName, "dataset id and table id are required")
	}
	if len(rows) == 0 {
		return nil, gcperr.Validation(serviceName, "at least one row is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "inserting rows", "dataset", datasetID, "table", tableID, "rows", len(rows))

	req := &bq.TableDataInsertAllRequest{
		Rows: make([]*bq.TableDataInsertAllRequestRows, 0, len(rows)),
	}
	for _, row := range rows {
		jsonRow := make(map[string]bq.JsonValue, len(row))
		for k, v := range row {
			jsonRow[k] = v
		}
		req.Rows = append(req.Rows, &bq.TableDataInsertAllRequestRows{Json: jsonRow})
	}

	resp, err := c.service.Tabledata.InsertAll(c.settings.ProjectID, datasetID, tableID, req).
		Context(ctx).
		Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "insert rows", err).
			WithDetail("dataset", datasetID).WithDetail("table", tableID)
	}
	if len(resp.InsertErrors) == 0 {
		return nil, nil
	}

	rowErrors := make([]RowError, 0, len(resp.InsertErrors))
	for _, ie := range resp.InsertErrors {
		re := RowError{Index: ie.Index}
		for _, e := range ie.Errors {
			re.Messages = append(re.Messages, e.Message)
		}
		rowErrors = append(rowErrors, re)
	}
	return rowErrors, gcperr.New(serviceName,
		fmt.Sprintf("%d of %d rows were rejected", len(rowErrors), len(rows)), nil).
		WithDetail("dataset", datasetID).WithDetail("table", tableID)
}

// Helpers

func (c *Client) logCall(ctx context.Context, msg string, attrs ...any) {
	if c.settings.EnableRequestLogging {
		c.logger.DebugContext(ctx, msg, attrs...)
	}
}

func toWireSchema(schema []SchemaField) *bq.TableSchema {
	fields := make([]*bq.TableFieldSchema, 0, len(schema))
	for _, f := range schema {
		fields = append(fields, &bq.TableFieldSchema{
			Name:        f.Name,
			Type:        f.Type,
			Mode:        f.Mode,
			Description: f.Description,
		})
	}
	return &bq.TableSchema{Fields: fields}
}

func fromWireSchema(schema *bq.TableSchema) []SchemaField {
	if schema == nil {
		return nil
	}
	fields := make([]SchemaField, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		fields = append(fields, SchemaField{
			Name:        f.Name,
			Type:        f.Type,
			Mode:        f.Mode,
			Description: f.Description,
		})
	}
	return fields
}

// decodeRow converts one wire row into a map keyed by column name,
// parsing cell strings into Go values per the schema field type.
func decodeRow(schema *bq.TableSchema, row *bq.TableRow) map[string]any {
	decoded := make(map[string]any)
	if schema == nil || row == nil {
		return decoded
	}
	for i, cell := range row.F {
		if i >= len(schema.Fields) {
			break
		}
		field := schema.Fields[i]
		decoded[field.Name] = decodeCell(field, cell.V)
	}
	return decoded
}

func decodeCell(field *bq.TableFieldSchema, v any) any {
	if v == nil {
		return nil
	}
	if field.Mode == "REPEATED" {
		items, ok := v.([]any)
		if !ok {
			return v
		}
		var out []any
		for _, item := range items {
			if wrapper, ok := item.(map[string]any); ok {
				out = append(out, decodeScalar(field.Type, wrapper["v"]))
				continue
			}
			out = append(out, decodeScalar(field.Type, item))
		}
		return out
	}
	return decodeScalar(field.Type, v)
}

func decodeScalar(fieldType string, v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	switch strings.ToUpper(fieldType) {
	case "INTEGER", "INT64":
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	case "FLOAT", "FLOAT64", "NUMERIC", "BIGNUMERIC":
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	case "BOOLEAN", "BOOL":
		return s == "true"
	case "TIMESTAMP":
		// Timestamps arrive as fractional epoch seconds.
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			sec := int64(f)
			nsec := int64((f - float64(sec)) * 1e9)
			return time.Unix(sec, nsec).UTC()
		}
	}
	return s
}

func toDatasetInfo(d *bq.Dataset) *DatasetInfo {
	info := &DatasetInfo{
		Location:    d.Location,
		Description: d.Description,
		Labels:      d.Labels,
		CreateTime:  fromMillis(d.CreationTime),
	}
	if d.DatasetReference != nil {
		info.DatasetID = d.DatasetReference.DatasetId
		info.ProjectID = d.DatasetReference.ProjectId
	}
	return info
}

func toTableInfo(t *bq.Table) *TableInfo {
	info := &TableInfo{
		Schema:     fromWireSchema(t.Schema),
		NumRows:    t.NumRows,
		NumBytes:   t.NumBytes,
		CreateTime: fromMillis(t.CreationTime),
	}
	if t.TableReference != nil {
		info.DatasetID = t.TableReference.DatasetId
		info.TableID = t.TableReference.TableId
	}
	return info
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
