// Package migrations holds the detected_swaps schema for each sink and
// applies it at startup.
package migrations

import "embed"

// PostgresFS embeds the PostgreSQL migrations, applied in file name order.
//
//go:embed postgres/*.sql
var PostgresFS embed.FS

// ClickhouseFS embeds the ClickHouse migrations, applied statement by statement.
//
//go:embed clickhouse/*.sql
var ClickhouseFS embed.FS
