package stats

import (
	"fmt"

	"github.com/codefionn/fwdcache/fwdcache-srv/config"
)

const defaultSQLitePath = "fwdcache_stats.db"

// CollectorFactory creates statistics collectors based on configuration
type CollectorFactory struct{}

// NewCollectorFactory creates a new collector factory
func NewCollectorFactory() *CollectorFactory {
	return &CollectorFactory{}
}

// CreateCollector creates a statistics collector based on the provided configuration
func (f *CollectorFactory) CreateCollector(cfg *config.StatisticsConfig) (Collector, error) {
	if !cfg.Enabled {
		return NewDummyCollector(), nil
	}

	switch cfg.Backend {
	case "sqlite", "":
		sqlitePath := cfg.SQLitePath
		if sqlitePath == "" {
			sqlitePath = defaultSQLitePath
		}
		collector, err := NewSQLiteCollector(sqlitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to create sqlite collector: %w", err)
		}
		return collector, nil
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres-dsn is required for postgres backend")
		}
		collector, err := NewPostgreSQLCollector(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres collector: %w", err)
		}
		return collector, nil
	case "dummy":
		return NewDummyCollector(), nil
	default:
		return nil, fmt.Errorf("unsupported stats backend: %s", cfg.Backend)
	}
}
