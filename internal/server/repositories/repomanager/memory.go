package repomanager

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/notesync/internal/dbx"
	"github.com/dmitrijs2005/notesync/internal/server/repositories/devices"
	"github.com/dmitrijs2005/notesync/internal/server/repositories/notes"
)

// InMemoryRepositoryManager keeps everything in process memory. Handles are
// ignored. InTx serializes units of work but cannot roll back, so callers
// write only after all checks pass.
type InMemoryRepositoryManager struct {
	txMu    sync.Mutex
	notes   *notes.MemoryRepository
	devices *devices.MemoryRepository
}

func NewInMemoryRepositoryManager() *InMemoryRepositoryManager {
	return &InMemoryRepositoryManager{
		notes:   notes.NewMemoryRepository(),
		devices: devices.NewMemoryRepository(),
	}
}

func (m *InMemoryRepositoryManager) RunMigrations(context.Context) error { return nil }

func (m *InMemoryRepositoryManager) Conn() dbx.DBTX { return nil }

func (m *InMemoryRepositoryManager) InTx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return fn(ctx, nil)
}

func (m *InMemoryRepositoryManager) Notes(dbx.DBTX) notes.Repository { return m.notes }

func (m *InMemoryRepositoryManager) Devices(dbx.DBTX) devices.Repository { return m.devices }

func (m *InMemoryRepositoryManager) Close() error { return nil }
