package mimir

import (
	"context"
)

// Index is a lightweight, shareable handle bound to one index inside one
// named instance. It holds no connection state: every operation re-resolves
// the instance from the registry by name, so a handle outliving its
// instance fails with an instance-not-found error rather than a stale
// success.
type Index struct {
	mgr          *manager
	instanceName string
	uid          string
}

// UID returns the index name.
func (x *Index) UID() string { return x.uid }

// InstanceName returns the name of the instance the handle is bound to.
func (x *Index) InstanceName() string { return x.instanceName }

func (x *Index) resolve() (*client, error) {
	inst, ok := x.mgr.get(x.instanceName)
	if !ok {
		return nil, errorf(KindInstanceNotFound, "instance_not_found",
			"instance %q is not live", x.instanceName)
	}
	return inst.live()
}

// Info fetches the index's metadata, including its primary key.
func (x *Index) Info(ctx context.Context) (IndexInfo, error) {
	c, err := x.resolve()
	if err != nil {
		return IndexInfo{}, err
	}
	return c.getIndex(ctx, x.uid)
}

// AddDocuments adds documents, replacing any existing document with the
// same primary-key value. The write is accepted asynchronously: await the
// returned task for durability and visibility.
func (x *Index) AddDocuments(ctx context.Context, docs []Document) (Task, error) {
	c, err := x.resolve()
	if err != nil {
		return Task{}, err
	}
	return c.addDocuments(ctx, x.uid, docs, "")
}

// AddDocumentsWithPrimaryKey is AddDocuments declaring the primary-key
// field for an index that has not established one yet.
func (x *Index) AddDocumentsWithPrimaryKey(ctx context.Context, docs []Document, primaryKey string) (Task, error) {
	c, err := x.resolve()
	if err != nil {
		return Task{}, err
	}
	return c.addDocuments(ctx, x.uid, docs, primaryKey)
}

// UpdateDocuments partially updates documents: fields present in the given
// documents are merged over the stored ones.
func (x *Index) UpdateDocuments(ctx context.Context, docs []Document) (Task, error) {
	c, err := x.resolve()
	if err != nil {
		return Task{}, err
	}
	return c.updateDocuments(ctx, x.uid, docs, "")
}

// SetDocuments replaces the index's entire contents with docs, as one
// atomic task: clear then add.
func (x *Index) SetDocuments(ctx context.Context, docs []Document) (Task, error) {
	c, err := x.resolve()
	if err != nil {
		return Task{}, err
	}
	// FIFO per index: the add queues behind the clear.
	if _, err := c.deleteAllDocuments(ctx, x.uid); err != nil {
		return Task{}, err
	}
	return c.addDocuments(ctx, x.uid, docs, "")
}

// DeleteDocuments removes documents by primary-key value.
func (x *Index) DeleteDocuments(ctx context.Context, ids []string) (Task, error) {
	c, err := x.resolve()
	if err != nil {
		return Task{}, err
	}
	return c.deleteDocuments(ctx, x.uid, ids)
}

// DeleteAllDocuments clears the index, keeping its settings.
func (x *Index) DeleteAllDocuments(ctx context.Context) (Task, error) {
	c, err := x.resolve()
	if err != nil {
		return Task{}, err
	}
	return c.deleteAllDocuments(ctx, x.uid)
}

// GetDocument fetches one document by primary-key value.
func (x *Index) GetDocument(ctx context.Context, id string) (Document, error) {
	c, err := x.resolve()
	if err != nil {
		return Document{}, err
	}
	return c.getDocument(ctx, x.uid, id)
}

// GetAllDocuments pages through the index's documents in insertion order.
func (x *Index) GetAllDocuments(ctx context.Context) ([]Document, error) {
	c, err := x.resolve()
	if err != nil {
		return nil, err
	}
	var all []Document
	for offset := 0; ; {
		page, total, err := c.getDocuments(ctx, x.uid, offset, 1000)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		offset += len(page)
		if len(page) == 0 || int64(offset) >= total {
			return all, nil
		}
	}
}

// NumberOfDocuments returns the index's document count.
func (x *Index) NumberOfDocuments(ctx context.Context) (int64, error) {
	c, err := x.resolve()
	if err != nil {
		return 0, err
	}
	_, total, err := c.getDocuments(ctx, x.uid, 0, 1)
	return total, err
}

// Search runs a query and returns final results synchronously. Reads issued
// while writes are pending may observe pre- or post-write state; await the
// write's task first for read-after-write consistency.
func (x *Index) Search(ctx context.Context, q Query) (SearchResult, error) {
	c, err := x.resolve()
	if err != nil {
		return SearchResult{}, err
	}
	return c.search(ctx, x.uid, q)
}

// GetSettings fetches the index's current settings.
func (x *Index) GetSettings(ctx context.Context) (Settings, error) {
	c, err := x.resolve()
	if err != nil {
		return Settings{}, err
	}
	return c.getSettings(ctx, x.uid)
}

// UpdateSettings applies a partial settings update asynchronously.
func (x *Index) UpdateSettings(ctx context.Context, s Settings) (Task, error) {
	c, err := x.resolve()
	if err != nil {
		return Task{}, err
	}
	return c.updateSettings(ctx, x.uid, s)
}

// Delete removes the index itself.
func (x *Index) Delete(ctx context.Context) (Task, error) {
	c, err := x.resolve()
	if err != nil {
		return Task{}, err
	}
	return c.deleteIndex(ctx, x.uid)
}

// WaitForTask is a convenience forwarding to the owning instance.
func (x *Index) WaitForTask(ctx context.Context, uid int64) (Task, error) {
	c, err := x.resolve()
	if err != nil {
		return Task{}, err
	}
	return c.waitForTask(ctx, uid)
}
