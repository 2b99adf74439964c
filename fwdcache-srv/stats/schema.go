package stats

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/codefionn/fwdcache/fwdcache-srv/logger"
)

const (
	driverSQLite   = "sqlite3"
	driverPostgres = "postgres"
)

// ColumnType represents the type of a database column
type ColumnType string

const (
	ColumnTypeSerial    ColumnType = "SERIAL"    // auto-increment primary key
	ColumnTypeInteger   ColumnType = "INTEGER"   // SQLite/PostgreSQL integer
	ColumnTypeText      ColumnType = "TEXT"      // Text/VARCHAR
	ColumnTypeBigint    ColumnType = "BIGINT"    // Large integers
	ColumnTypeBoolean   ColumnType = "BOOLEAN"   // stored as INTEGER on SQLite
	ColumnTypeTimestamp ColumnType = "TIMESTAMP" // Timestamp with timezone
)

// ColumnDefinition defines a database column
type ColumnDefinition struct {
	Name         string
	Type         ColumnType
	NotNull      bool
	PrimaryKey   bool
	DefaultValue string
	References   string // "table(column)", cascades on delete
}

// IndexDefinition defines a database index
type IndexDefinition struct {
	Name    string
	Columns []string
}

// TableDefinition defines a complete database table
type TableDefinition struct {
	Name    string
	Columns []ColumnDefinition
	Indexes []IndexDefinition
}

func serialID() ColumnDefinition {
	return ColumnDefinition{Name: "id", Type: ColumnTypeSerial, PrimaryKey: true, NotNull: true}
}

func connectionRef() ColumnDefinition {
	return ColumnDefinition{Name: "connection_id", Type: ColumnTypeInteger, NotNull: true, References: "connections(id)"}
}

// expectedSchema lists every table the collectors write to.
var expectedSchema = []TableDefinition{
	{
		Name: "connections",
		Columns: []ColumnDefinition{
			serialID(),
			{Name: "connection_uuid", Type: ColumnTypeText},
			{Name: "client_ip", Type: ColumnTypeText, NotNull: true},
			{Name: "target_host", Type: ColumnTypeText, NotNull: true},
			{Name: "target_port", Type: ColumnTypeInteger, NotNull: true},
			{Name: "protocol", Type: ColumnTypeText, NotNull: true},
			{Name: "started_at", Type: ColumnTypeTimestamp, NotNull: true},
			{Name: "ended_at", Type: ColumnTypeTimestamp},
			{Name: "bytes_sent", Type: ColumnTypeBigint, DefaultValue: "0"},
			{Name: "bytes_received", Type: ColumnTypeBigint, DefaultValue: "0"},
			{Name: "duration_ms", Type: ColumnTypeInteger},
			{Name: "close_reason", Type: ColumnTypeText},
		},
		Indexes: []IndexDefinition{
			{Name: "idx_connections_target_host", Columns: []string{"target_host"}},
			{Name: "idx_connections_started_at", Columns: []string{"started_at"}},
			{Name: "idx_connections_uuid", Columns: []string{"connection_uuid"}},
		},
	},
	{
		Name: "http_requests",
		Columns: []ColumnDefinition{
			serialID(),
			connectionRef(),
			{Name: "method", Type: ColumnTypeText, NotNull: true},
			{Name: "url", Type: ColumnTypeText, NotNull: true},
			{Name: "host", Type: ColumnTypeText, NotNull: true},
			{Name: "user_agent", Type: ColumnTypeText},
			{Name: "content_length", Type: ColumnTypeBigint, DefaultValue: "0"},
			{Name: "timestamp", Type: ColumnTypeTimestamp, NotNull: true},
		},
		Indexes: []IndexDefinition{
			{Name: "idx_http_requests_connection_id", Columns: []string{"connection_id"}},
		},
	},
	{
		Name: "http_responses",
		Columns: []ColumnDefinition{
			serialID(),
			connectionRef(),
			{Name: "status_code", Type: ColumnTypeInteger, NotNull: true},
			{Name: "content_length", Type: ColumnTypeBigint, DefaultValue: "0"},
			{Name: "timestamp", Type: ColumnTypeTimestamp, NotNull: true},
		},
		Indexes: []IndexDefinition{
			{Name: "idx_http_responses_connection_id", Columns: []string{"connection_id"}},
		},
	},
	{
		Name: "errors",
		Columns: []ColumnDefinition{
			serialID(),
			connectionRef(),
			{Name: "error_type", Type: ColumnTypeText, NotNull: true},
			{Name: "error_message", Type: ColumnTypeText},
			{Name: "timestamp", Type: ColumnTypeTimestamp, NotNull: true},
		},
	},
	{
		Name: "security_events",
		Columns: []ColumnDefinition{
			serialID(),
			{Name: "client_ip", Type: ColumnTypeText, NotNull: true},
			{Name: "target_host", Type: ColumnTypeText, NotNull: true},
			{Name: "event_type", Type: ColumnTypeText, NotNull: true},
			{Name: "reason", Type: ColumnTypeText},
			{Name: "timestamp", Type: ColumnTypeTimestamp, NotNull: true},
		},
	},
	{
		Name: "cache_lookups",
		Columns: []ColumnDefinition{
			serialID(),
			connectionRef(),
			{Name: "url", Type: ColumnTypeText, NotNull: true},
			{Name: "hit", Type: ColumnTypeBoolean, NotNull: true},
			{Name: "timestamp", Type: ColumnTypeTimestamp, NotNull: true},
		},
		Indexes: []IndexDefinition{
			{Name: "idx_cache_lookups_url", Columns: []string{"url"}},
		},
	},
}

// initSchema creates missing tables and indexes. It is idempotent.
func initSchema(db *sql.DB, driver string) error {
	for _, table := range expectedSchema {
		if _, err := db.Exec(createTableSQL(driver, table)); err != nil {
			return fmt.Errorf("failed to create table %s: %w", table.Name, err)
		}
		for _, index := range table.Indexes {
			if _, err := db.Exec(createIndexSQL(table.Name, index)); err != nil {
				return fmt.Errorf("failed to create index %s: %w", index.Name, err)
			}
		}
		logger.Trace("Ensured table %s", table.Name)
	}
	return nil
}

// createTableSQL generates CREATE TABLE SQL for the specific driver
func createTableSQL(driver string, table TableDefinition) string {
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n", table.Name))

	columnDefs := make([]string, 0, len(table.Columns))
	for _, column := range table.Columns {
		columnDefs = append(columnDefs, "  "+columnSQL(driver, column))
	}

	builder.WriteString(strings.Join(columnDefs, ",\n"))
	builder.WriteString("\n)")
	return builder.String()
}

// columnSQL generates column definition SQL
func columnSQL(driver string, column ColumnDefinition) string {
	parts := []string{column.Name, string(convertColumnType(driver, column.Type))}

	if column.PrimaryKey {
		if driver == driverSQLite && column.Type == ColumnTypeSerial {
			parts = append(parts, "PRIMARY KEY AUTOINCREMENT")
		} else {
			parts = append(parts, "PRIMARY KEY")
		}
	}
	if column.NotNull && !column.PrimaryKey {
		parts = append(parts, "NOT NULL")
	}
	if column.DefaultValue != "" {
		parts = append(parts, "DEFAULT "+column.DefaultValue)
	}
	if column.References != "" {
		parts = append(parts, "REFERENCES "+column.References+" ON DELETE CASCADE")
	}
	return strings.Join(parts, " ")
}

// convertColumnType converts our ColumnType to database-specific types
func convertColumnType(driver string, colType ColumnType) ColumnType {
	switch driver {
	case driverSQLite:
		switch colType {
		case ColumnTypeSerial, ColumnTypeBoolean:
			return ColumnTypeInteger
		case ColumnTypeTimestamp:
			return "DATETIME"
		}
	case driverPostgres:
		if colType == ColumnTypeTimestamp {
			return "TIMESTAMP WITH TIME ZONE"
		}
	}
	return colType
}

func createIndexSQL(table string, index IndexDefinition) string {
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s)",
		index.Name, table, strings.Join(index.Columns, ", "))
}
