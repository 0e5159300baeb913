// Package journal persists closed paper trades and the per-symbol state
// machine in SQLite.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jwtly10/metalsbot/internal/types"
	_ "modernc.org/sqlite"
)

const DefaultMaxTrades = 1000

var ErrNotFound = errors.New("journal: trade not found")

// Sink is where closed trades go.
type Sink interface {
	Append(ctx context.Context, trade types.JournalTrade) error
	List(ctx context.Context) ([]types.JournalTrade, error)
	Clear(ctx context.Context) error
	Export(ctx context.Context) ([]byte, error)
}

// Store is the SQLite Sink. It also keeps symbol states across restarts.
type Store struct {
	db        *sql.DB
	maxTrades int
}

// New opens or creates the database at dbPath. An empty dbPath defaults to
// $TMPDIR/metalsbot/journal.db.
func New(dbPath string, maxTrades int) (*Store, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "metalsbot", "journal.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	if maxTrades <= 0 {
		maxTrades = DefaultMaxTrades
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	s := &Store{db: db, maxTrades: maxTrades}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id          TEXT PRIMARY KEY,
			symbol      TEXT NOT NULL,
			opened_at   INTEGER NOT NULL,
			closed_at   INTEGER NOT NULL,
			entry       REAL NOT NULL,
			exit_price  REAL NOT NULL,
			shares      INTEGER NOT NULL,
			stop        REAL NOT NULL,
			target      REAL NOT NULL,
			outcome     TEXT NOT NULL,
			rationale   TEXT,
			r_multiple  REAL NOT NULL,
			pnl         REAL NOT NULL,
			seq         INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_seq ON trades(seq DESC)`,
		`CREATE TABLE IF NOT EXISTS symbol_state (
			symbol      TEXT PRIMARY KEY,
			state       TEXT NOT NULL,
			cooldown    INTEGER NOT NULL DEFAULT 0,
			updated_at  INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

const tradeCols = `id, symbol, opened_at, closed_at, entry, exit_price, shares, stop, target,
	outcome, rationale, r_multiple, pnl`

// Append records the trade and drops the oldest rows beyond the cap.
func (s *Store) Append(ctx context.Context, trade types.JournalTrade) error {
	if trade.ID == "" {
		return fmt.Errorf("trade id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO trades (`+tradeCols+`, seq)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM trades))`,
		trade.ID, trade.Symbol, trade.OpenedAt.UnixNano(), trade.ClosedAt.UnixNano(),
		trade.Entry, trade.Exit, trade.Shares, trade.Stop, trade.Target,
		string(trade.Outcome), trade.Rationale, trade.RMultiple, trade.PnL,
	)
	if err != nil {
		return fmt.Errorf("failed to insert trade: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `
		DELETE FROM trades WHERE id NOT IN (
			SELECT id FROM trades ORDER BY seq DESC LIMIT ?
		)`, s.maxTrades); err != nil {
		return fmt.Errorf("failed to enforce trade cap: %w", err)
	}

	return tx.Commit()
}

// List returns trades newest first.
func (s *Store) List(ctx context.Context) ([]types.JournalTrade, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+tradeCols+` FROM trades ORDER BY seq DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	trades := []types.JournalTrade{}
	for rows.Next() {
		t, err := scanTrade(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *Store) Get(ctx context.Context, id string) (types.JournalTrade, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tradeCols+` FROM trades WHERE id = ?`, id)
	t, err := scanTrade(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return types.JournalTrade{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return types.JournalTrade{}, fmt.Errorf("failed to get trade: %w", err)
	}
	return t, nil
}

func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM trades`); err != nil {
		return fmt.Errorf("failed to clear trades: %w", err)
	}
	return nil
}

// Export renders the journal, newest first, as indented JSON.
func (s *Store) Export(ctx context.Context) ([]byte, error) {
	trades, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(trades, "", "  ")
}

func (s *Store) SaveState(ctx context.Context, symbol string, state types.BotState, cooldown int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO symbol_state (symbol, state, cooldown, updated_at)
		VALUES (?,?,?,?)`,
		symbol, string(state), cooldown, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

// LoadStates returns every persisted symbol state. Unknown states load as WAIT.
func (s *Store) LoadStates(ctx context.Context) (map[string]types.SymbolState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT symbol, state, cooldown, updated_at FROM symbol_state`)
	if err != nil {
		return nil, fmt.Errorf("failed to query states: %w", err)
	}
	defer rows.Close()

	states := make(map[string]types.SymbolState)
	for rows.Next() {
		var st types.SymbolState
		var state string
		var updatedAtNano int64
		if err := rows.Scan(&st.Symbol, &state, &st.Cooldown, &updatedAtNano); err != nil {
			return nil, fmt.Errorf("failed to scan state: %w", err)
		}
		st.State = types.BotState(state)
		if !st.State.Valid() {
			st.State = types.StateWait
			st.Cooldown = 0
		}
		st.UpdatedAt = time.Unix(0, updatedAtNano).UTC()
		states[st.Symbol] = st
	}
	return states, rows.Err()
}

func scanTrade(scan func(...any) error) (types.JournalTrade, error) {
	var t types.JournalTrade
	var openedNano, closedNano int64
	var outcome string
	var rationale sql.NullString

	err := scan(&t.ID, &t.Symbol, &openedNano, &closedNano, &t.Entry, &t.Exit, &t.Shares,
		&t.Stop, &t.Target, &outcome, &rationale, &t.RMultiple, &t.PnL)
	if err != nil {
		return types.JournalTrade{}, err
	}

	t.OpenedAt = time.Unix(0, openedNano).UTC()
	t.ClosedAt = time.Unix(0, closedNano).UTC()
	t.Outcome = types.Outcome(outcome)
	t.Rationale = rationale.String
	return t, nil
}
