// Package memory provides an in-process implementation of the batch, ledger
// and catalog repositories. It backs tests and single-node demo runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"lotledger/internal/core/id"
	"lotledger/internal/domain/batches"
	"lotledger/internal/domain/catalog"
	"lotledger/internal/domain/ledger"
)

// Store holds all state behind one RWMutex.
type Store struct {
	mu       sync.RWMutex
	products map[id.ID]catalog.Product
	batches  map[id.ID]batches.ProductBatch
	entries  []ledger.InventoryAdjustment

	// txMu serializes transactions, which makes them trivially serializable.
	txMu sync.Mutex
}

// New creates an empty store.
func New() *Store {
	return &Store{
		products: make(map[id.ID]catalog.Product),
		batches:  make(map[id.ID]batches.ProductBatch),
	}
}

// Batches returns the batch repository view.
func (s *Store) Batches() *BatchRepo { return &BatchRepo{s: s} }

// Ledger returns the ledger repository view.
func (s *Store) Ledger() *LedgerRepo { return &LedgerRepo{s: s} }

// Catalog returns the product catalog view.
func (s *Store) Catalog() *CatalogRepo { return &CatalogRepo{s: s} }

// TxManager returns the transaction manager for this store.
func (s *Store) TxManager() *TxManager { return &TxManager{s: s} }

// --- transactions ---

type txKey struct{}

type txState struct {
	undo     []func()
	readOnly bool
}

// TxManager runs functions atomically against a Store.
// Writes record undo closures; a failed function replays them in reverse.
type TxManager struct {
	s *Store
}

// RunInTransaction implements tx.Manager.
func (m *TxManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return m.run(ctx, false, fn)
}

// ReadOnly implements tx.ReadOnlyManager.
func (m *TxManager) ReadOnly(ctx context.Context, fn func(ctx context.Context) error) error {
	return m.run(ctx, true, fn)
}

func (m *TxManager) run(ctx context.Context, readOnly bool, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(txKey{}).(*txState); ok {
		return fn(ctx)
	}

	m.s.txMu.Lock()
	defer m.s.txMu.Unlock()

	state := &txState{readOnly: readOnly}
	txCtx := context.WithValue(ctx, txKey{}, state)

	defer func() {
		if p := recover(); p != nil {
			m.s.rollback(state)
			panic(p)
		}
		if err != nil {
			m.s.rollback(state)
		}
	}()

	return fn(txCtx)
}

func (s *Store) rollback(state *txState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(state.undo) - 1; i >= 0; i-- {
		state.undo[i]()
	}
	state.undo = nil
}

// beginWrite returns the undo log of the current transaction, nil outside one.
// Callers hold s.mu.
func (s *Store) beginWrite(ctx context.Context) (*txState, error) {
	state, ok := ctx.Value(txKey{}).(*txState)
	if !ok {
		return nil, nil
	}
	if state.readOnly {
		return nil, fmt.Errorf("write in read-only transaction")
	}
	return state, nil
}

func (t *txState) onRollback(fn func()) {
	if t != nil {
		t.undo = append(t.undo, fn)
	}
}
