package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const schemaVersion = "1.0.0"

// InitializeSchema creates the events table if it does not exist.
func InitializeSchema(ctx context.Context, conn driver.Conn) error {
	if err := createSchemaVersionTable(ctx, conn); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	currentVersion, err := getCurrentSchemaVersion(ctx, conn)
	if err != nil {
		return fmt.Errorf("checking schema version: %w", err)
	}

	if currentVersion != "" && currentVersion != schemaVersion {
		return fmt.Errorf("schema version mismatch: database has %s, code expects %s", currentVersion, schemaVersion)
	}

	if err := conn.Exec(ctx, eventsTableDDL); err != nil {
		return fmt.Errorf("creating table analysis_events: %w", err)
	}

	if currentVersion == "" {
		if err := setSchemaVersion(ctx, conn, schemaVersion); err != nil {
			return fmt.Errorf("setting schema version: %w", err)
		}
	}

	return nil
}

func createSchemaVersionTable(ctx context.Context, conn driver.Conn) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS schema_version (
			version String,
			applied_at DateTime64(3) DEFAULT now64(3)
		) ENGINE = MergeTree()
		ORDER BY applied_at
	`
	return conn.Exec(ctx, ddl)
}

func getCurrentSchemaVersion(ctx context.Context, conn driver.Conn) (string, error) {
	var version string
	row := conn.QueryRow(ctx, "SELECT version FROM schema_version ORDER BY applied_at DESC LIMIT 1")
	err := row.Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}
	return version, nil
}

func setSchemaVersion(ctx context.Context, conn driver.Conn, version string) error {
	return conn.Exec(ctx, "INSERT INTO schema_version (version) VALUES (?)", version)
}

// Rows are replaced by id on merge, so re-imported events converge.
const eventsTableDDL = `
CREATE TABLE IF NOT EXISTS analysis_events (
    id String,

    -- Hierarchy
    tool LowCardinality(String),
    project String,
    environment LowCardinality(String),
    server String,
    log_type LowCardinality(String),

    -- Outcome
    status LowCardinality(String),
    severity_level LowCardinality(String),
    failure_category String,
    deployment_success UInt8,

    -- Unix milliseconds
    analysis_timestamp Nullable(Int64),

    build_duration_seconds Nullable(Float64),
    business_impact_score Nullable(Float64),
    confidence_score Nullable(Float64),
    resolution_time_estimate Nullable(String),

    -- Full event JSON
    document String

) ENGINE = ReplacingMergeTree
ORDER BY (tool, project, environment, server, id)
SETTINGS index_granularity = 8192
`
