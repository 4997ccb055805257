package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
)

// Document represents a strongly typed Firestore document with metadata timestamps.
type Document[T any] struct {
	ID         string
	Data       T
	CreateTime time.Time
	UpdateTime time.Time
}

// QueryBuilder customises Firestore queries before execution.
type QueryBuilder func(query firestore.Query) firestore.Query

// BaseRepository provides typed helpers over one collection. Every call participates in the
// transaction attached to ctx, if any.
type BaseRepository[T any] struct {
	provider   *Provider
	collection string
	parent     func(ctx context.Context, client *firestore.Client, parentID string) *firestore.DocumentRef
}

// NewBaseRepository constructs a BaseRepository bound to a top-level collection.
func NewBaseRepository[T any](provider *Provider, collection string) *BaseRepository[T] {
	return &BaseRepository[T]{provider: provider, collection: strings.TrimSpace(collection)}
}

// NewSubcollectionRepository binds the repository to `{parentCollection}/{parentID}/{collection}`.
func NewSubcollectionRepository[T any](provider *Provider, parentCollection, collection string) *BaseRepository[T] {
	parentCollection = strings.TrimSpace(parentCollection)
	return &BaseRepository[T]{
		provider:   provider,
		collection: strings.TrimSpace(collection),
		parent: func(_ context.Context, client *firestore.Client, parentID string) *firestore.DocumentRef {
			return client.Collection(parentCollection).Doc(parentID)
		},
	}
}

// Get fetches the document by ID and decodes it.
func (r *BaseRepository[T]) Get(ctx context.Context, parentID, id string) (Document[T], error) {
	ref, err := r.DocumentRef(ctx, parentID, id)
	if err != nil {
		return Document[T]{}, err
	}
	snap, err := GetDocument(ctx, ref)
	if err != nil {
		return Document[T]{}, err
	}
	return decode[T](snap)
}

// GetMany fetches several documents by ID. Missing IDs are absent from the result.
func (r *BaseRepository[T]) GetMany(ctx context.Context, parentID string, ids []string) (map[string]Document[T], error) {
	client, err := r.client(ctx)
	if err != nil {
		return nil, err
	}
	refs := make([]*firestore.DocumentRef, 0, len(ids))
	for _, id := range ids {
		ref, err := r.DocumentRef(ctx, parentID, id)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	snaps, err := GetDocuments(ctx, client, refs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Document[T], len(snaps))
	for _, snap := range snaps {
		if snap == nil || !snap.Exists() {
			continue
		}
		doc, err := decode[T](snap)
		if err != nil {
			return nil, err
		}
		out[doc.ID] = doc
	}
	return out, nil
}

// Create inserts the document and fails with a conflict when it already exists.
func (r *BaseRepository[T]) Create(ctx context.Context, parentID, id string, value T) error {
	ref, err := r.DocumentRef(ctx, parentID, id)
	if err != nil {
		return err
	}
	return CreateDocument(ctx, ref, value)
}

// Set upserts the document.
func (r *BaseRepository[T]) Set(ctx context.Context, parentID, id string, value T) error {
	ref, err := r.DocumentRef(ctx, parentID, id)
	if err != nil {
		return err
	}
	return SetDocument(ctx, ref, value)
}

// Update applies partial updates to the document.
func (r *BaseRepository[T]) Update(ctx context.Context, parentID, id string, updates []firestore.Update) error {
	ref, err := r.DocumentRef(ctx, parentID, id)
	if err != nil {
		return err
	}
	return UpdateDocument(ctx, ref, updates)
}

// Delete removes the document.
func (r *BaseRepository[T]) Delete(ctx context.Context, parentID, id string) error {
	ref, err := r.DocumentRef(ctx, parentID, id)
	if err != nil {
		return err
	}
	return DeleteDocument(ctx, ref)
}

// Query executes a collection query and returns the decoded documents.
func (r *BaseRepository[T]) Query(ctx context.Context, parentID string, build QueryBuilder) ([]Document[T], error) {
	coll, err := r.CollectionRef(ctx, parentID)
	if err != nil {
		return nil, err
	}
	query := coll.Query
	if build != nil {
		query = build(query)
	}
	snaps, err := QueryDocuments(ctx, query)
	if err != nil {
		return nil, WrapError(r.op("query"), err)
	}
	docs := make([]Document[T], 0, len(snaps))
	for _, snap := range snaps {
		doc, err := decode[T](snap)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// CollectionRef resolves the collection, nested under parentID for subcollection repositories.
func (r *BaseRepository[T]) CollectionRef(ctx context.Context, parentID string) (*firestore.CollectionRef, error) {
	if r == nil || r.collection == "" {
		return nil, WrapError(r.op("collection"), errors.New("firestore: collection name is required"))
	}
	client, err := r.client(ctx)
	if err != nil {
		return nil, err
	}
	if r.parent == nil {
		return client.Collection(r.collection), nil
	}
	if strings.TrimSpace(parentID) == "" {
		return nil, WrapError(r.op("collection"), errors.New("firestore: parent id is required"))
	}
	return r.parent(ctx, client, parentID).Collection(r.collection), nil
}

// DocumentRef exposes the underlying document reference.
func (r *BaseRepository[T]) DocumentRef(ctx context.Context, parentID, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, WrapError(r.op("document"), errors.New("firestore: document id is required"))
	}
	coll, err := r.CollectionRef(ctx, parentID)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

func (r *BaseRepository[T]) client(ctx context.Context) (*firestore.Client, error) {
	if r == nil || r.provider == nil {
		return nil, WrapError(r.op("client"), errors.New("firestore: provider is nil"))
	}
	return r.provider.Client(ctx)
}

func (r *BaseRepository[T]) op(action string) string {
	name := "firestore"
	if r != nil && r.collection != "" {
		name = r.collection
	}
	return fmt.Sprintf("%s.%s", name, strings.ToLower(action))
}

func decode[T any](snap *firestore.DocumentSnapshot) (Document[T], error) {
	var target T
	if err := snap.DataTo(&target); err != nil {
		return Document[T]{}, fmt.Errorf("firestore: decode document %s: %w", snap.Ref.ID, err)
	}
	return Document[T]{
		ID:         snap.Ref.ID,
		Data:       target,
		CreateTime: snap.CreateTime,
		UpdateTime: snap.UpdateTime,
	}, nil
}

// Decode hydrates a snapshot obtained outside BaseRepository.
func Decode[T any](snap *firestore.DocumentSnapshot) (Document[T], error) {
	return decode[T](snap)
}
