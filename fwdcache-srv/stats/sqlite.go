package stats

import (
	"database/sql"
	"fmt"

	"github.com/codefionn/fwdcache/fwdcache-srv/logger"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/multierr"
)

// SQLiteCollector implements Collector using SQLite as the backend
type SQLiteCollector struct {
	*sqlCollector
}

// NewSQLiteCollector creates a new SQLite-based statistics collector
func NewSQLiteCollector(dbPath string) (*SQLiteCollector, error) {
	db, err := sql.Open(driverSQLite, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to SQLite database: %w", err)
	}

	// One writer at a time; WAL lets readers proceed alongside it.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := initSchema(db, driverSQLite); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Debug("Initialized stats collector sqlite at %s", dbPath)
	return &SQLiteCollector{sqlCollector: newSQLCollector(db, driverSQLite)}, nil
}

// Close folds the write-ahead log back into the database file and closes it.
func (s *SQLiteCollector) Close() error {
	_, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	if err != nil {
		err = fmt.Errorf("failed to checkpoint SQLite database: %w", err)
	}
	return multierr.Append(err, s.sqlCollector.Close())
}
