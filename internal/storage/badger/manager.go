package badger

import (
	"github.com/ternarybob/arbor"

	"github.com/avermeer/circlesift/internal/common"
	"github.com/avermeer/circlesift/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db     *BadgerDB
	store  interfaces.AccountStore
	reader interfaces.AccountReader
	logger arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:     db,
		store:  NewAccountStorage(db, logger),
		reader: NewAccountReader(db, logger),
		logger: logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// AccountStore returns the durable write path used by the scan pipeline
func (m *Manager) AccountStore() interfaces.AccountStore {
	return m.store
}

// AccountReader returns the read surface used by the dashboard handlers
func (m *Manager) AccountReader() interfaces.AccountReader {
	return m.reader
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
