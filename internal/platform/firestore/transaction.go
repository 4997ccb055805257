package firestore

import (
	"context"
	"errors"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

const (
	defaultTxAttempts = 5
	defaultTxTimeout  = 15 * time.Second
)

// TxFunc is executed within a Firestore transaction.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// TxOption customises transaction behaviour.
type TxOption func(*txConfig)

type txConfig struct {
	attempts int
	timeout  time.Duration
}

// WithTxAttempts overrides the retry attempts for a transaction.
func WithTxAttempts(attempts int) TxOption {
	return func(cfg *txConfig) {
		if attempts > 0 {
			cfg.attempts = attempts
		}
	}
}

// WithTxTimeout sets a timeout for the transaction context.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(cfg *txConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// RunTransaction executes fn within a transaction on the provided client. The transaction is also
// attached to the context handed to fn so repository helpers in this package route their reads and
// writes through it.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc, opts ...TxOption) error {
	if client == nil {
		return WrapError("transaction", errors.New("firestore: client is nil"))
	}
	if fn == nil {
		return WrapError("transaction", errors.New("firestore: transaction function is nil"))
	}

	cfg := txConfig{attempts: defaultTxAttempts, timeout: defaultTxTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	txnCtx := ctx
	if cfg.timeout > 0 {
		deadline, hasDeadline := ctx.Deadline()
		if !hasDeadline || time.Until(deadline) > cfg.timeout {
			var cancel context.CancelFunc
			txnCtx, cancel = context.WithTimeout(ctx, cfg.timeout)
			defer cancel()
		}
	}

	err := client.RunTransaction(txnCtx, func(ctx context.Context, tx *firestore.Transaction) error {
		// each attempt starts with an empty read cache
		return fn(WithTransaction(ctx, tx), tx)
	}, firestore.MaxAttempts(cfg.attempts))

	return WrapError("transaction", err)
}

type txContextKey struct{}

// txState carries the active transaction and the snapshots already read through it. Firestore
// rejects reads issued after the first write, so repositories look snapshots up here before
// mutating a document that was read earlier in the same unit of work.
type txState struct {
	tx *firestore.Transaction

	mu        sync.Mutex
	snapshots map[string]*firestore.DocumentSnapshot
}

// WithTransaction attaches tx to ctx.
func WithTransaction(ctx context.Context, tx *firestore.Transaction) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txContextKey{}, &txState{
		tx:        tx,
		snapshots: make(map[string]*firestore.DocumentSnapshot),
	})
}

// TransactionFrom returns the transaction attached to ctx, if any.
func TransactionFrom(ctx context.Context) (*firestore.Transaction, bool) {
	state := stateFrom(ctx)
	if state == nil {
		return nil, false
	}
	return state.tx, true
}

func stateFrom(ctx context.Context) *txState {
	if ctx == nil {
		return nil
	}
	state, _ := ctx.Value(txContextKey{}).(*txState)
	return state
}

// GetDocument reads ref through the ambient transaction when present. Repeated reads of the same
// document within one transaction return the first snapshot.
func GetDocument(ctx context.Context, ref *firestore.DocumentRef) (*firestore.DocumentSnapshot, error) {
	state := stateFrom(ctx)
	if state == nil {
		snap, err := ref.Get(ctx)
		if err != nil {
			return nil, WrapError(ref.Parent.ID+".get", err)
		}
		return snap, nil
	}

	state.mu.Lock()
	cached, ok := state.snapshots[ref.Path]
	state.mu.Unlock()
	if ok {
		if !cached.Exists() {
			return nil, NotFoundError(ref.Parent.ID+".get", ref.ID)
		}
		return cached, nil
	}

	snap, err := state.tx.Get(ref)
	if err != nil {
		wrapped := WrapError(ref.Parent.ID+".get", err)
		var repoErr *Error
		if errors.As(wrapped, &repoErr) && repoErr.IsNotFound() && snap != nil {
			state.remember(ref.Path, snap)
		}
		return nil, wrapped
	}
	state.remember(ref.Path, snap)
	return snap, nil
}

// GetDocuments reads several documents at once. Missing documents are returned as snapshots whose
// Exists reports false.
func GetDocuments(ctx context.Context, client *firestore.Client, refs []*firestore.DocumentRef) ([]*firestore.DocumentSnapshot, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	state := stateFrom(ctx)
	if state == nil {
		snaps, err := client.GetAll(ctx, refs)
		if err != nil {
			return nil, WrapError("getall", err)
		}
		return snaps, nil
	}

	out := make([]*firestore.DocumentSnapshot, len(refs))
	var missing []*firestore.DocumentRef
	var missingIdx []int
	state.mu.Lock()
	for i, ref := range refs {
		if snap, ok := state.snapshots[ref.Path]; ok {
			out[i] = snap
			continue
		}
		missing = append(missing, ref)
		missingIdx = append(missingIdx, i)
	}
	state.mu.Unlock()

	if len(missing) > 0 {
		snaps, err := state.tx.GetAll(missing)
		if err != nil {
			return nil, WrapError("getall", err)
		}
		for j, snap := range snaps {
			out[missingIdx[j]] = snap
			state.remember(missing[j].Path, snap)
		}
	}
	return out, nil
}

// CachedDocument returns the snapshot read earlier in the ambient transaction.
func CachedDocument(ctx context.Context, ref *firestore.DocumentRef) (*firestore.DocumentSnapshot, bool) {
	state := stateFrom(ctx)
	if state == nil {
		return nil, false
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	snap, ok := state.snapshots[ref.Path]
	return snap, ok
}

// QueryDocuments runs query through the ambient transaction when present.
func QueryDocuments(ctx context.Context, query firestore.Query) ([]*firestore.DocumentSnapshot, error) {
	var iter *firestore.DocumentIterator
	state := stateFrom(ctx)
	if state != nil {
		iter = state.tx.Documents(query)
	} else {
		iter = query.Documents(ctx)
	}
	defer iter.Stop()

	var out []*firestore.DocumentSnapshot
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, WrapError("query", err)
		}
		if state != nil {
			state.remember(snap.Ref.Path, snap)
		}
		out = append(out, snap)
	}
	return out, nil
}

// CreateDocument creates ref, failing with a conflict error when it already exists.
func CreateDocument(ctx context.Context, ref *firestore.DocumentRef, data any) error {
	if state := stateFrom(ctx); state != nil {
		return WrapError(ref.Parent.ID+".create", state.tx.Create(ref, data))
	}
	_, err := ref.Create(ctx, data)
	return WrapError(ref.Parent.ID+".create", err)
}

// SetDocument upserts ref.
func SetDocument(ctx context.Context, ref *firestore.DocumentRef, data any, opts ...firestore.SetOption) error {
	if state := stateFrom(ctx); state != nil {
		return WrapError(ref.Parent.ID+".set", state.tx.Set(ref, data, opts...))
	}
	_, err := ref.Set(ctx, data, opts...)
	return WrapError(ref.Parent.ID+".set", err)
}

// UpdateDocument applies partial updates to ref.
func UpdateDocument(ctx context.Context, ref *firestore.DocumentRef, updates []firestore.Update, preconds ...firestore.Precondition) error {
	if state := stateFrom(ctx); state != nil {
		return WrapError(ref.Parent.ID+".update", state.tx.Update(ref, updates, preconds...))
	}
	_, err := ref.Update(ctx, updates, preconds...)
	return WrapError(ref.Parent.ID+".update", err)
}

// DeleteDocument removes ref.
func DeleteDocument(ctx context.Context, ref *firestore.DocumentRef) error {
	if state := stateFrom(ctx); state != nil {
		return WrapError(ref.Parent.ID+".delete", state.tx.Delete(ref))
	}
	_, err := ref.Delete(ctx)
	return WrapError(ref.Parent.ID+".delete", err)
}

func (s *txState) remember(path string, snap *firestore.DocumentSnapshot) {
	s.mu.Lock()
	s.snapshots[path] = snap
	s.mu.Unlock()
}
