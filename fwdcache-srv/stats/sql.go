package stats

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// sqlCollector implements Collector over database/sql. Queries are written
// with '?' placeholders and rebound for drivers that number them.
type sqlCollector struct {
	db        *sql.DB
	driver    string
	startedAt time.Time
}

func newSQLCollector(db *sql.DB, driver string) *sqlCollector {
	return &sqlCollector{db: db, driver: driver, startedAt: time.Now()}
}

// rebind rewrites '?' placeholders to $1, $2, ... for PostgreSQL.
func (s *sqlCollector) rebind(query string) string {
	if s.driver != driverPostgres {
		return query
	}
	var builder strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			builder.WriteByte('$')
			builder.WriteString(strconv.Itoa(n))
			continue
		}
		builder.WriteRune(r)
	}
	return builder.String()
}

func (s *sqlCollector) exec(ctx context.Context, what, query string, args ...any) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(query), args...); err != nil {
		return fmt.Errorf("failed to record %s: %w", what, err)
	}
	return nil
}

// StartConnection records the start of a connection and returns its row id
func (s *sqlCollector) StartConnection(ctx context.Context, connectionUUID, clientIP, targetHost string, targetPort int, protocol string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, s.rebind(
		`INSERT INTO connections (connection_uuid, client_ip, target_host, target_port, protocol, started_at)
		 VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
		connectionUUID, clientIP, targetHost, targetPort, protocol, time.Now()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to record connection start: %w", err)
	}
	return id, nil
}

// EndConnection records the end of a connection
func (s *sqlCollector) EndConnection(ctx context.Context, connectionID, bytesSent, bytesReceived int64, duration time.Duration, closeReason string) error {
	return s.exec(ctx, "connection end",
		`UPDATE connections
		 SET ended_at = ?, bytes_sent = ?, bytes_received = ?, duration_ms = ?, close_reason = ?
		 WHERE id = ?`,
		time.Now(), bytesSent, bytesReceived, duration.Milliseconds(), closeReason, connectionID)
}

// RecordHTTPRequest records an HTTP request
func (s *sqlCollector) RecordHTTPRequest(ctx context.Context, connectionID int64, method, url, host, userAgent string, contentLength int64) error {
	return s.exec(ctx, "HTTP request",
		`INSERT INTO http_requests (connection_id, method, url, host, user_agent, content_length, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		connectionID, method, url, host, userAgent, contentLength, time.Now())
}

// RecordHTTPResponse records an HTTP response
func (s *sqlCollector) RecordHTTPResponse(ctx context.Context, connectionID int64, statusCode int, contentLength int64) error {
	return s.exec(ctx, "HTTP response",
		`INSERT INTO http_responses (connection_id, status_code, content_length, timestamp)
		 VALUES (?, ?, ?, ?)`,
		connectionID, statusCode, contentLength, time.Now())
}

// RecordError records an error
func (s *sqlCollector) RecordError(ctx context.Context, connectionID int64, errorType, errorMessage string) error {
	return s.exec(ctx, "error",
		`INSERT INTO errors (connection_id, error_type, error_message, timestamp)
		 VALUES (?, ?, ?, ?)`,
		connectionID, errorType, errorMessage, time.Now())
}

// RecordDataTransfer adds transferred bytes to a connection
func (s *sqlCollector) RecordDataTransfer(ctx context.Context, connectionID, bytesSent, bytesReceived int64) error {
	return s.exec(ctx, "data transfer",
		`UPDATE connections
		 SET bytes_sent = bytes_sent + ?, bytes_received = bytes_received + ?
		 WHERE id = ?`,
		bytesSent, bytesReceived, connectionID)
}

// RecordBlockedRequest records a blocked request
func (s *sqlCollector) RecordBlockedRequest(ctx context.Context, clientIP, targetHost, reason string) error {
	return s.exec(ctx, "blocked request",
		`INSERT INTO security_events (client_ip, target_host, event_type, reason, timestamp)
		 VALUES (?, ?, 'blocked', ?, ?)`,
		clientIP, targetHost, reason, time.Now())
}

// RecordCacheLookup records a cache hit or miss for a GET request
func (s *sqlCollector) RecordCacheLookup(ctx context.Context, connectionID int64, url string, hit bool) error {
	return s.exec(ctx, "cache lookup",
		`INSERT INTO cache_lookups (connection_id, url, hit, timestamp)
		 VALUES (?, ?, ?, ?)`,
		connectionID, url, hit, time.Now())
}

// GetOverviewStats returns overview statistics
func (s *sqlCollector) GetOverviewStats(ctx context.Context) (*OverviewStats, error) {
	stats := &OverviewStats{}

	queries := []struct {
		name  string
		query string
		dest  []any
	}{
		{"total connections", "SELECT COUNT(*) FROM connections", []any{&stats.TotalConnections}},
		{"active connections", "SELECT COUNT(*) FROM connections WHERE ended_at IS NULL", []any{&stats.ActiveConnections}},
		{"total requests", "SELECT COUNT(*) FROM http_requests", []any{&stats.TotalRequests}},
		{"total errors", "SELECT COUNT(*) FROM errors", []any{&stats.TotalErrors}},
		{"blocked requests", "SELECT COUNT(*) FROM security_events WHERE event_type = 'blocked'", []any{&stats.BlockedRequests}},
		{"cache stats", `SELECT
			COALESCE(SUM(CASE WHEN hit THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN hit THEN 0 ELSE 1 END), 0)
			FROM cache_lookups`, []any{&stats.CacheHits, &stats.CacheMisses}},
		{"total bytes", "SELECT COALESCE(SUM(bytes_sent), 0), COALESCE(SUM(bytes_received), 0) FROM connections",
			[]any{&stats.TotalBytesOut, &stats.TotalBytesIn}},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest...); err != nil {
			return nil, fmt.Errorf("failed to get %s: %w", q.name, err)
		}
	}

	stats.Uptime = time.Since(s.startedAt).Truncate(time.Second).String()
	return stats, nil
}

// HealthCheck checks if the database connection is healthy
func (s *sqlCollector) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *sqlCollector) Close() error {
	return s.db.Close()
}
