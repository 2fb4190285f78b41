package badger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/avermeer/circlesift/internal/common"
)

// gcInterval is how often the value log garbage collector runs
const gcInterval = 10 * time.Minute

// BadgerDB manages the Badger database connection and its value log GC
type BadgerDB struct {
	store  *badgerhold.Store
	logger arbor.ILogger
	config *common.BadgerConfig
	gcDone chan struct{}
}

// NewBadgerDB opens the Badger database, creating the directory as needed.
// With reset_on_startup the existing database is deleted first for clean
// test runs.
func NewBadgerDB(logger arbor.ILogger, config *common.BadgerConfig) (*BadgerDB, error) {
	if config.ResetOnStartup {
		if _, err := os.Stat(config.Path); err == nil {
			logger.Debug().Str("path", config.Path).Msg("Deleting existing database (reset_on_startup=true)")
			if err := os.RemoveAll(config.Path); err != nil {
				logger.Warn().Err(err).Str("path", config.Path).Msg("Failed to delete database directory")
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = config.Path
	options.ValueDir = config.Path
	options.Logger = nil // arbor handles logging

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	logger.Debug().Str("path", config.Path).Msg("Badger database initialized")

	db := &BadgerDB{
		store:  store,
		logger: logger,
		config: config,
		gcDone: make(chan struct{}),
	}
	go db.runGC()

	return db, nil
}

// Store returns the underlying badgerhold store
func (b *BadgerDB) Store() *badgerhold.Store {
	return b.store
}

// runGC reclaims value log space periodically. Repeated scans overwrite
// account rows in place, so without GC the value log only grows.
func (b *BadgerDB) runGC() {
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.gcDone:
			return
		case <-ticker.C:
			for {
				err := b.store.Badger().RunValueLogGC(0.5)
				if err == nil {
					continue // a file was rewritten, try for another
				}
				if !errors.Is(err, badger.ErrNoRewrite) {
					b.logger.Warn().Err(err).Msg("Badger value log GC failed")
				}
				break
			}
		}
	}
}

// Close stops the GC loop and closes the database connection
func (b *BadgerDB) Close() error {
	close(b.gcDone)
	if b.store != nil {
		return b.store.Close()
	}
	return nil
}
