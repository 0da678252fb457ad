package firestore

import "time"

// Document is a typed view of one Firestore document.
type Document struct {
	ID         string         `json:"id"`
	Collection string         `json:"collection"`
	Data       map[string]any `json:"data"`
	CreateTime time.Time      `json:"create_time"`
	UpdateTime time.Time      `json:"update_time"`
}

// Condition is one field filter in a query. Op uses Firestore operator
// syntax: "==", "!=", "<", "<=", ">", ">=", "array-contains",
// "array-contains-any", "in", "not-in".
type Condition struct {
	Path  string `json:"path"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

// WriteKind selects the write applied by one BatchWrite operation.
type WriteKind string

const (
	WriteSet    WriteKind = "set"
	WriteUpdate WriteKind = "update"
	WriteDelete WriteKind = "delete"
)

// WriteOp is a single operation in a BatchWrite call.
type WriteOp struct {
	Kind       WriteKind      `json:"kind"`
	Collection string         `json:"collection"`
	DocumentID string         `json:"document_id"`
	Data       map[string]any `json:"data,omitempty"`
	Merge      bool           `json:"merge,omitempty"`
}
