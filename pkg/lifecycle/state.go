package lifecycle

import (
	"github.com/pkg/errors"

	"github.com/lumebot/lumebot/pkg/persistence"
	"github.com/lumebot/lumebot/pkg/types"
)

// checkpoint is the persisted shape of the manager's state.
type checkpoint struct {
	AccountID string        `json:"accountID"`
	Orders    []types.Order `json:"orders"`
}

// SnapshotState checkpoints tracked orders to the configured store so they
// survive a process restart. No-op without a store.
func (m *Manager) SnapshotState() error {
	if m.store == nil {
		return nil
	}

	state := checkpoint{
		AccountID: m.config.AccountID,
		Orders:    m.book.Orders(),
	}

	return errors.Wrap(m.store.Save(&state), "snapshot state")
}

// RestoreState loads a previous checkpoint. Restored non-terminal orders
// are trusted only until the next reconcile sweep verifies them against
// the ledger.
func (m *Manager) RestoreState() error {
	if m.store == nil {
		return nil
	}

	var state checkpoint
	if err := m.store.Load(&state); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil
		}
		return errors.Wrap(err, "restore state")
	}

	if state.AccountID != m.config.AccountID {
		return errors.Errorf("checkpoint belongs to account %s, not %s",
			state.AccountID, m.config.AccountID)
	}

	for _, order := range state.Orders {
		m.book.Add(order)
	}
	m.publishOpenOrdersGauge()

	m.logger.Infof("restored %d orders from checkpoint", len(state.Orders))
	return nil
}
