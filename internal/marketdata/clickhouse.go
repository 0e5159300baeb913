package marketdata

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"slices"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jwtly10/metalsbot/internal/types"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

// ClickHouseHistory reads backfills from a bar table with columns
// symbol, ts, open, high, low, close, volume.
type ClickHouseHistory struct {
	db    *sql.DB
	table string
	limit int
}

// OpenClickHouse opens and pings a connection with the clickhouse driver.
func OpenClickHouse(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	return db, nil
}

func NewClickHouseHistory(db *sql.DB, table string, limit int) (*ClickHouseHistory, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("history limit must be positive, got %d", limit)
	}
	return &ClickHouseHistory{db: db, table: table, limit: limit}, nil
}

// FetchHistory returns the latest bars in ascending time order.
func (h *ClickHouseHistory) FetchHistory(ctx context.Context, symbol string) ([]types.Candle, error) {
	query := fmt.Sprintf(`SELECT ts, open, high, low, close, volume FROM %s
		WHERE symbol = ?
		ORDER BY ts DESC
		LIMIT ?`, h.table)

	rows, err := h.db.QueryContext(ctx, query, symbol, h.limit)
	if err != nil {
		return nil, fmt.Errorf("query history for %s: %w", symbol, err)
	}
	defer rows.Close()

	var candles []types.Candle
	for rows.Next() {
		c := types.Candle{Quality: types.BACKFILLED}
		if err := rows.Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		c.Timestamp = c.Timestamp.UTC()
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}

	slices.Reverse(candles)
	return candles, nil
}
