// Package workflowstore implements the external workflow-storage
// collaborator the reflection executor patches against (engine/executors/
// evolution.WorkflowStore) and cmd/engineserver serves workflow documents
// from (§1 non-goals: "YAML/JSON workflow document storage and versioning
// live outside the engine's scope" — this is that outside store, built for
// the demo boundary rather than the core library).
//
// MemoryStore is grounded on common/cache.MemoryCache (a
// mutex-guarded map, no persistence); RedisStore is grounded on
// common/clients.RedisCASClient and the common/redis.Client wrapper,
// swapping the CAS's content-hash key scheme for a plain per-workflow key
// since this store is mutable (a workflow document is replaced in place,
// not content-addressed).
package workflowstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a workflow id has no stored document.
var ErrNotFound = fmt.Errorf("workflow not found")

// Store is the full contract cmd/engineserver needs: the evolution
// executor's read/patch pair plus a direct Seed for the create-workflow
// route.
type Store interface {
	Seed(ctx context.Context, workflowID string, doc []byte) error
	GetWorkflow(ctx context.Context, workflowID string) ([]byte, error)
	ApplyPatch(ctx context.Context, workflowID string, patched []byte) error
}

// MemoryStore is an in-process, non-persistent WorkflowStore — the
// default backend, suitable for the single-process demo server.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]byte)}
}

// Seed stores or replaces a workflow document directly (used by the
// create-workflow REST handler; ApplyPatch is the mutation path a
// reflection node drives).
func (m *MemoryStore) Seed(ctx context.Context, workflowID string, doc []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[workflowID] = doc
	return nil
}

// GetWorkflow returns the current document for workflowID.
func (m *MemoryStore) GetWorkflow(ctx context.Context, workflowID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[workflowID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, workflowID)
	}
	return doc, nil
}

// ApplyPatch replaces workflowID's stored document with patched.
func (m *MemoryStore) ApplyPatch(ctx context.Context, workflowID string, patched []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[workflowID] = patched
	return nil
}

func keyFor(workflowID string) string {
	return fmt.Sprintf("workflow:%s", workflowID)
}

// RedisStore persists workflow documents in Redis, for deployments that
// want the document visible outside this process (e.g. a second
// engineserver replica resuming a replay someone else started).
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing redis.Client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Seed stores or replaces a workflow document directly, with no expiry.
func (r *RedisStore) Seed(ctx context.Context, workflowID string, doc []byte) error {
	if err := r.client.Set(ctx, keyFor(workflowID), doc, 0).Err(); err != nil {
		return fmt.Errorf("workflowstore: set %s: %w", workflowID, err)
	}
	return nil
}

// GetWorkflow returns the current document for workflowID.
func (r *RedisStore) GetWorkflow(ctx context.Context, workflowID string) ([]byte, error) {
	val, err := r.client.Get(ctx, keyFor(workflowID)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, workflowID)
	}
	if err != nil {
		return nil, fmt.Errorf("workflowstore: get %s: %w", workflowID, err)
	}
	return val, nil
}

// ApplyPatch replaces workflowID's stored document with patched.
func (r *RedisStore) ApplyPatch(ctx context.Context, workflowID string, patched []byte) error {
	return r.Seed(ctx, workflowID, patched)
}

var _ Store = (*MemoryStore)(nil)
var _ Store = (*RedisStore)(nil)
