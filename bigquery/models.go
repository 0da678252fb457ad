package bigquery

import "time"

// Source formats accepted by LoadFromURI.
const (
	FormatCSV     = "CSV"
	FormatJSON    = "NEWLINE_DELIMITED_JSON"
	FormatAvro    = "AVRO"
	FormatParquet = "PARQUET"
)

// Write dispositions accepted by LoadFromURI.
const (
	WriteEmpty    = "WRITE_EMPTY"
	WriteAppend   = "WRITE_APPEND"
	WriteTruncate = "WRITE_TRUNCATE"
)

// SchemaField is one column definition. Mode defaults to NULLABLE.
type SchemaField struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Mode        string `json:"mode,omitempty"`
	Description string `json:"description,omitempty"`
}

// DatasetInfo describes a dataset.
type DatasetInfo struct {
	DatasetID   string            `json:"dataset_id"`
	ProjectID   string            `json:"project_id"`
	Location    string            `json:"location,omitempty"`
	Description string            `json:"description,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	CreateTime  time.Time         `json:"create_time,omitempty"`
}

// TableInfo describes a table and its schema.
type TableInfo struct {
	DatasetID  string        `json:"dataset_id"`
	TableID    string        `json:"table_id"`
	Schema     []SchemaField `json:"schema,omitempty"`
	NumRows    uint64        `json:"num_rows,omitempty"`
	NumBytes   int64         `json:"num_bytes,omitempty"`
	CreateTime time.Time     `json:"create_time,omitempty"`
}

// QueryResult carries a completed query's rows, decoded per the result
// schema.
type QueryResult struct {
	Rows           []map[string]any `json:"rows"`
	Schema         []SchemaField    `json:"schema,omitempty"`
	TotalRows      uint64           `json:"total_rows"`
	BytesProcessed int64            `json:"bytes_processed,omitempty"`
	CacheHit       bool             `json:"cache_hit,omitempty"`
	JobID          string           `json:"job_id,omitempty"`
}

// LoadSpec configures a LoadFromURI job.
type LoadSpec struct {
	SourceFormat     string        `json:"source_format,omitempty"`
	Schema           []SchemaField `json:"schema,omitempty"`
	WriteDisposition string        `json:"write_disposition,omitempty"`
	Autodetect       bool          `json:"autodetect,omitempty"`
	SkipLeadingRows  int64         `json:"skip_leading_rows,omitempty"`
}

// JobInfo describes a load job's final state.
type JobInfo struct {
	JobID      string `json:"job_id"`
	State      string `json:"state"`
	OutputRows int64  `json:"output_rows,omitempty"`
}

// RowError reports one rejected row from a streaming insert.
type RowError struct {
	Index    int64    `json:"index"`
	Messages []string `json:"messages"`
}
