// Package firestore wraps Cloud Firestore with typed document CRUD,
// filtered queries, batched writes, and collection utilities.
package firestore

import (
	"context"
	"errors"
	"log/slog"

	fs "cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/gcpkit/gcpkit/config"
	"github.com/gcpkit/gcpkit/gcperr"
)

const serviceName = "firestore"

// defaultDeleteBatchSize bounds one round of DeleteCollection.
const defaultDeleteBatchSize = 100

// Client wraps a Firestore client bound to the configured database.
type Client struct {
	client   *fs.Client
	settings *config.Settings
	logger   *slog.Logger
}

// NewClient builds a Firestore client for the settings' project and
// database.
func NewClient(ctx context.Context, settings *config.Settings, opts ...option.ClientOption) (*Client, error) {
	if settings == nil {
		return nil, gcperr.Configuration("settings must not be nil", nil)
	}

	allOpts := append(settings.ClientOptions(), opts...)
	client, err := fs.NewClientWithDatabase(ctx, settings.ProjectID, settings.FirestoreDatabase, allOpts...)
	if err != nil {
		return nil, gcperr.Unauthenticated(serviceName, "failed to create firestore client", err)
	}

	return &Client{
		client:   client,
		settings: settings,
		logger:   slog.Default().With("service", serviceName),
	}, nil
}

// Close releases the underlying client's connections.
func (c *Client) Close() error {
	return c.client.Close()
}

// CreateDocument writes a new document. An empty documentID lets
// Firestore generate one. The created document is fetched back so the
// returned value carries server timestamps.
func (c *Client) CreateDocument(ctx context.Context, collection string, data map[string]any, documentID string) (*Document, error) {
	if collection == "" {
		return nil, gcperr.Validation(serviceName, "collection is required")
	}
	if len(data) == 0 {
		return nil, gcperr.Validation(serviceName, "document data is empty")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "creating document", "collection", collection, "document_id", documentID)

	col := c.client.Collection(collection)
	if documentID != "" {
		if _, err := col.Doc(documentID).Set(ctx, data); err != nil {
			return nil, gcperr.Classify(serviceName, "create document", err).
				WithDetail("collection", collection).WithDetail("document_id", documentID)
		}
	} else {
		ref, _, err := col.Add(ctx, data)
		if err != nil {
			return nil, gcperr.Classify(serviceName, "create document", err).
				WithDetail("collection", collection)
		}
		documentID = ref.ID
	}

	return c.getDocument(ctx, collection, documentID)
}

// GetDocument fetches one document by ID.
func (c *Client) GetDocument(ctx context.Context, collection, documentID string) (*Document, error) {
	if collection == "" || documentID == "" {
		return nil, gcperr.Validation(serviceName, "collection and document id are required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "getting document", "collection", collection, "document_id", documentID)

	return c.getDocument(ctx, collection, documentID)
}

func (c *Client) getDocument(ctx context.Context, collection, documentID string) (*Document, error) {
	snap, err := c.client.Collection(collection).Doc(documentID).Get(ctx)
	if err != nil {
		return nil, gcperr.Classify(serviceName, "get document", err).
			WithDetail("collection", collection).WithDetail("document_id", documentID)
	}
	return toDocument(collection, snap), nil
}

// UpdateDocument writes fields of an existing document. With merge,
// untouched fields survive; without it the document is replaced.
func (c *Client) UpdateDocument(ctx context.Context, collection, documentID string, data map[string]any, merge bool) (*Document, error) {
	if collection == "" || documentID == "" {
		return nil, gcperr.Validation(serviceName, "collection and document id are required")
	}
	if len(data) == 0 {
		return nil, gcperr.Validation(serviceName, "update data is empty")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "updating document", "collection", collection, "document_id", documentID, "merge", merge)

	doc := c.client.Collection(collection).Doc(documentID)
	var err error
	if merge {
		_, err = doc.Set(ctx, data, fs.MergeAll)
	} else {
		_, err = doc.Set(ctx, data)
	}
	if err != nil {
		return nil, gcperr.Classify(serviceName, "update document", err).
			WithDetail("collection", collection).WithDetail("document_id", documentID)
	}

	return c.getDocument(ctx, collection, documentID)
}

// DeleteDocument removes one document. Deleting a missing document is
// not an error, mirroring Firestore's own semantics.
func (c *Client) DeleteDocument(ctx context.Context, collection, documentID string) error {
	if collection == "" || documentID == "" {
		return gcperr.Validation(serviceName, "collection and document id are required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "deleting document", "collection", collection, "document_id", documentID)

	if _, err := c.client.Collection(collection).Doc(documentID).Delete(ctx); err != nil {
		return gcperr.Classify(serviceName, "delete document", err).
			WithDetail("collection", collection).WithDetail("document_id", documentID)
	}
	return nil
}

// ListDocuments streams a collection. orderBy is optional; desc flips
// the sort; limit > 0 caps the result.
func (c *Client) ListDocuments(ctx context.Context, collection string, limit int, orderBy string, desc bool) ([]Document, error) {
	if collection == "" {
		return nil, gcperr.Validation(serviceName, "collection is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "listing documents", "collection", collection)

	q := c.client.Collection(collection).Query
	q = applyOrder(q, orderBy, desc)
	if limit > 0 {
		q = q.Limit(limit)
	}
	return c.runQuery(ctx, collection, q, "list documents")
}

// QueryDocuments runs a filtered query. Every condition is ANDed.
func (c *Client) QueryDocuments(ctx context.Context, collection string, conditions []Condition, limit int, orderBy string, desc bool) ([]Document, error) {
	if collection == "" {
		return nil, gcperr.Validation(serviceName, "collection is required")
	}
	if len(conditions) == 0 {
		return nil, gcperr.Validation(serviceName, "at least one condition is required")
	}

	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "querying documents", "collection", collection, "conditions", len(conditions))

	q := c.client.Collection(collection).Query
	for _, cond := range conditions {
		q = q.WhereEntity(fs.PropertyFilter{
			Path:     cond.Path,
			Operator: cond.Op,
			Value:    cond.Value,
		})
	}
	q = applyOrder(q, orderBy, desc)
	if limit > 0 {
		q = q.Limit(limit)
	}
	return c.runQuery(ctx, collection, q, "query documents")
}

func (c *Client) runQuery(ctx context.Context, collection string, q fs.Query, action string) ([]Document, error) {
	it := q.Documents(ctx)
	defer it.Stop()

	var docs []Document
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return docs, nil
		}
		if err != nil {
			return nil, gcperr.Classify(serviceName, action, err).WithDetail("collection", collection)
		}
		docs = append(docs, *toDocument(collection, snap))
	}
}

// BatchWrite applies a set of writes through a BulkWriter. The batch is
// validated before anything is enqueued; the first failed write surfaces
// as the returned error.
func (c *Client) BatchWrite(ctx context.Context, ops []WriteOp) error {
	if len(ops) == 0 {
		return gcperr.Validation(serviceName, "operations list is empty")
	}
	for i := range ops {
		if err := validateWriteOp(ops[i]); err != nil {
			return err
		}
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "batch writing", "operations", len(ops))

	bw := c.client.BulkWriter(ctx)
	jobs := make([]*fs.BulkWriterJob, 0, len(ops))
	for _, op := range ops {
		ref := c.client.Collection(op.Collection).Doc(op.DocumentID)

		var (
			job *fs.BulkWriterJob
			err error
		)
		switch op.Kind {
		case WriteSet:
			if op.Merge {
				job, err = bw.Set(ref, op.Data, fs.MergeAll)
			} else {
				job, err = bw.Set(ref, op.Data)
			}
		case WriteUpdate:
			job, err = bw.Update(ref, updatesFromMap(op.Data))
		case WriteDelete:
			job, err = bw.Delete(ref)
		}
		if err != nil {
			bw.End()
			return gcperr.Classify(serviceName, "batch write", err).
				WithDetail("collection", op.Collection).WithDetail("document_id", op.DocumentID)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return gcperr.Classify(serviceName, "batch write", err)
		}
	}
	return nil
}

// RunTransaction executes fn inside a Firestore transaction, retrying
// on contention per the client library's rules.
func (c *Client) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx *fs.Transaction) error) error {
	if fn == nil {
		return gcperr.Validation(serviceName, "transaction function is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "running transaction")

	if err := c.client.RunTransaction(ctx, fn); err != nil {
		return gcperr.Classify(serviceName, "run transaction", err)
	}
	return nil
}

// CollectionExists reports whether a collection has at least one
// document.
func (c *Client) CollectionExists(ctx context.Context, collection string) (bool, error) {
	if collection == "" {
		return false, gcperr.Validation(serviceName, "collection is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()

	it := c.client.Collection(collection).Limit(1).Documents(ctx)
	defer it.Stop()

	_, err := it.Next()
	if errors.Is(err, iterator.Done) {
		return false, nil
	}
	if err != nil {
		return false, gcperr.Classify(serviceName, "check collection", err).
			WithDetail("collection", collection)
	}
	return true, nil
}

// DeleteCollection removes every document in a collection in batches
// and returns the number of deleted documents. Subcollections are not
// touched.
func (c *Client) DeleteCollection(ctx context.Context, collection string, batchSize int) (int, error) {
	if collection == "" {
		return 0, gcperr.Validation(serviceName, "collection is required")
	}
	if batchSize <= 0 {
		batchSize = defaultDeleteBatchSize
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "deleting collection", "collection", collection, "batch_size", batchSize)

	col := c.client.Collection(collection)
	deleted := 0
	for {
		refs, err := c.collectRefs(ctx, col, batchSize)
		if err != nil {
			return deleted, gcperr.Classify(serviceName, "delete collection", err).
				WithDetail("collection", collection)
		}
		if len(refs) == 0 {
			return deleted, nil
		}

		bw := c.client.BulkWriter(ctx)
		jobs := make([]*fs.BulkWriterJob, 0, len(refs))
		for _, ref := range refs {
			job, err := bw.Delete(ref)
			if err != nil {
				bw.End()
				return deleted, gcperr.Classify(serviceName, "delete collection", err).
					WithDetail("collection", collection)
			}
			jobs = append(jobs, job)
		}
		bw.End()

		for _, job := range jobs {
			if _, err := job.Results(); err != nil {
				return deleted, gcperr.Classify(serviceName, "delete collection", err).
					WithDetail("collection", collection)
			}
			deleted++
		}
	}
}

func (c *Client) collectRefs(ctx context.Context, col *fs.CollectionRef, limit int) ([]*fs.DocumentRef, error) {
	it := col.Limit(limit).Documents(ctx)
	defer it.Stop()

	var refs []*fs.DocumentRef
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return refs, nil
		}
		if err != nil {
			return nil, err
		}
		refs = append(refs, snap.Ref)
	}
}

// Subcollections lists the IDs of a document's subcollections.
func (c *Client) Subcollections(ctx context.Context, collection, documentID string) ([]string, error) {
	if collection == "" || documentID == "" {
		return nil, gcperr.Validation(serviceName, "collection and document id are required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "listing subcollections", "collection", collection, "document_id", documentID)

	it := c.client.Collection(collection).Doc(documentID).Collections(ctx)

	var ids []string
	for {
		sub, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return ids, nil
		}
		if err != nil {
			return nil, gcperr.Classify(serviceName, "list subcollections", err).
				WithDetail("collection", collection).WithDetail("document_id", documentID)
		}
		ids = append(ids, sub.ID)
	}
}

// Helpers

func (c *Client) logCall(ctx context.Context, msg string, attrs ...any) {
	if c.settings.EnableRequestLogging {
		c.logger.DebugContext(ctx, msg, attrs...)
	}
}

func applyOrder(q fs.Query, orderBy string, desc bool) fs.Query {
	if orderBy == "" {
		return q
	}
	dir := fs.Asc
	if desc {
		dir = fs.Desc
	}
	return q.OrderBy(orderBy, dir)
}

func validateWriteOp(op WriteOp) error {
	if op.Collection == "" || op.DocumentID == "" {
		return gcperr.Validation(serviceName, "each operation requires collection and document id")
	}
	switch op.Kind {
	case WriteSet, WriteUpdate:
		if len(op.Data) == 0 {
			return gcperr.Validation(serviceName, string(op.Kind)+" operation requires data")
		}
	case WriteDelete:
	default:
		return gcperr.Validation(serviceName, "invalid operation kind: "+string(op.Kind))
	}
	return nil
}

func updatesFromMap(data map[string]any) []fs.Update {
	updates := make([]fs.Update, 0, len(data))
	for path, value := range data {
		updates = append(updates, fs.Update{Path: path, Value: value})
	}
	return updates
}

func toDocument(collection string, snap *fs.DocumentSnapshot) *Document {
	return &Document{
		ID:         snap.Ref.ID,
		Collection: collection,
		Data:       snap.Data(),
		CreateTime: snap.CreateTime,
		UpdateTime: snap.UpdateTime,
	}
}
