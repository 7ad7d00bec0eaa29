// Package progress implements the Progress Publisher (§4.E) and the
// stores it writes to: a DynamoDB-backed record keyed by transferId, an
// HTTP-REST alternative, and an in-memory store for tests and local
// runs. An optional single-bar terminal view (localui.go) gives a human
// watching a dev run something to look at; the core never consults it.
package progress

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/rescale-labs/streamrelay/internal/models"
)

// Store is the external progress record the Publisher writes to. Writes
// are keyed by TransferID and idempotent; last-write-wins on concurrent
// terminal writes is acceptable because both are terminal (§5).
type Store interface {
	Write(ctx context.Context, record models.TransferProgress) error
}

// NewStore selects a backend from the worker's configuration: a
// DynamoDB table name wins, then an HTTP progress API base URL, and
// absent both the record stays in process memory (local/dev runs),
// with a warning so an operator notices a misconfigured worker.
func NewStore(ctx context.Context, region, tableName, apiURL string, log zerolog.Logger) (Store, error) {
	switch {
	case tableName != "":
		return NewDynamoStore(ctx, region, tableName, log)
	case apiURL != "":
		return NewHTTPStore(apiURL, log), nil
	default:
		log.Warn().Msg("no progress store configured, progress is only visible in this process")
		return NewMemoryStore(), nil
	}
}

// MemoryStore keeps every write in process memory. It backs tests
// (which assert on the full write history, not just the latest record)
// and local runs with no store configured.
type MemoryStore struct {
	mu      sync.Mutex
	latest  map[string]models.TransferProgress
	history map[string][]models.TransferProgress
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		latest:  make(map[string]models.TransferProgress),
		history: make(map[string][]models.TransferProgress),
	}
}

func (m *MemoryStore) Write(ctx context.Context, record models.TransferProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest[record.TransferID] = record
	m.history[record.TransferID] = append(m.history[record.TransferID], record)
	return nil
}

// Latest returns the most recent record written for transferID.
func (m *MemoryStore) Latest(transferID string) (models.TransferProgress, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.latest[transferID]
	return rec, ok
}

// History returns every record written for transferID, in write order.
func (m *MemoryStore) History(transferID string) []models.TransferProgress {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.TransferProgress, len(m.history[transferID]))
	copy(out, m.history[transferID])
	return out
}
