package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"trendBot/internal/domain"
	"trendBot/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements the tick, signal and account state stores using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
	now    func() time.Time
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/trend_bot.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// One connection serializes writers; SQLite would otherwise return SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger, now: time.Now}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified")

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS ticks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		currency_pair TEXT NOT NULL,
		ts_ms INTEGER NOT NULL,
		last REAL NOT NULL,
		highest_bid REAL NOT NULL DEFAULT 0,
		lowest_ask REAL NOT NULL DEFAULT 0,
		base_volume REAL NOT NULL DEFAULT 0,
		quote_volume REAL NOT NULL DEFAULT 0,
		percent_change REAL NOT NULL DEFAULT 0,
		high_24h REAL NOT NULL DEFAULT 0,
		is_frozen INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS currency_signals (
		base_currency TEXT NOT NULL,
		currency TEXT NOT NULL,
		window_minutes INTEGER NOT NULL,
		sample_count INTEGER NOT NULL,
		current_price REAL NOT NULL,
		past_price REAL NOT NULL,
		percentage_gain REAL NOT NULL,
		slope REAL NOT NULL,
		slope_angle_degrees REAL NOT NULL,
		volatility_factor REAL NOT NULL,
		volume_24h REAL NOT NULL,
		highest_bid REAL NOT NULL,
		short_window_minutes INTEGER NOT NULL,
		short_sample_count INTEGER NOT NULL,
		short_percentage_gain REAL NOT NULL,
		short_slope_angle_degrees REAL NOT NULL,
		short_volatility_factor REAL NOT NULL,
		updated_at_ms INTEGER NOT NULL,
		PRIMARY KEY (base_currency, currency)
	);

	CREATE TABLE IF NOT EXISTS account_state (
		account_key TEXT PRIMARY KEY,
		last_action TEXT NOT NULL,
		updated_at_ms INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS account_positions (
		account_key TEXT NOT NULL,
		currency TEXT NOT NULL,
		buy_price REAL NOT NULL,
		peak_price REAL NOT NULL,
		low_price REAL NOT NULL,
		PRIMARY KEY (account_key, currency)
	);

	CREATE INDEX IF NOT EXISTS idx_ticks_pair_ts ON ticks (currency_pair, ts_ms);
	CREATE INDEX IF NOT EXISTS idx_ticks_ts ON ticks (ts_ms);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// persistenceErr wraps err so callers can classify it with errors.Is(err, ports.ErrPersistence).
func persistenceErr(kind, err error, format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w: %w: %w", fmt.Sprintf(format, args...), ports.ErrPersistence, kind, err)
}

// --- TickSource / TickRepository Implementation ---

// SaveTicks inserts ticks in a single transaction.
func (r *Repository) SaveTicks(ctx context.Context, ticks []domain.Tick) error {
	if len(ticks) == 0 {
		return nil
	}
	const query = `
	INSERT INTO ticks (currency_pair, ts_ms, last, highest_bid, lowest_ask, base_volume,
	                   quote_volume, percent_change, high_24h, is_frozen)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, t := range ticks {
			if _, err := stmt.ExecContext(ctx,
				t.CurrencyPair, t.Timestamp.UnixMilli(), t.Last, t.HighestBid, t.LowestAsk, t.BaseVolume,
				t.QuoteVolume, t.PercentChange, t.High24h, t.IsFrozen); err != nil {
				return fmt.Errorf("insert tick %s: %w", t.CurrencyPair, err)
			}
		}
		return nil
	})
	if err != nil {
		return persistenceErr(ports.ErrUpdateFailed, err, "failed to save %d ticks", len(ticks))
	}
	r.logger.Debug(ctx, "Ticks saved", map[string]interface{}{"count": len(ticks)})
	return nil
}

// FetchRecent returns ticks of "<baseCurrency>_*" pairs newer than maxAge, oldest first.
func (r *Repository) FetchRecent(ctx context.Context, baseCurrency string, maxAge time.Duration) ([]domain.Tick, error) {
	// '`' sorts right after '_', bounding the pair prefix range.
	const query = `
	SELECT currency_pair, ts_ms, last, highest_bid, lowest_ask, base_volume,
	       quote_volume, percent_change, high_24h, is_frozen
	FROM ticks
	WHERE currency_pair >= ? AND currency_pair < ? AND ts_ms > ?
	ORDER BY ts_ms ASC, id ASC`

	since := r.now().Add(-maxAge).UnixMilli()
	rows, err := r.db.QueryContext(ctx, query, baseCurrency+domain.PairDelimiter, baseCurrency+"`", since)
	if err != nil {
		return nil, persistenceErr(ports.ErrQueryFailed, err, "failed to query ticks for %s", baseCurrency)
	}
	defer rows.Close()

	ticks := make([]domain.Tick, 0)
	for rows.Next() {
		t, err := scanTick(rows)
		if err != nil {
			return nil, persistenceErr(ports.ErrQueryFailed, err, "failed to scan tick for %s", baseCurrency)
		}
		ticks = append(ticks, t)
	}
	if err = rows.Err(); err != nil {
		return nil, persistenceErr(ports.ErrQueryFailed, err, "error iterating tick rows for %s", baseCurrency)
	}
	return ticks, nil
}

// PruneTicks deletes ticks observed before olderThan.
func (r *Repository) PruneTicks(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM ticks WHERE ts_ms < ?`, olderThan.UnixMilli())
	if err != nil {
		return 0, persistenceErr(ports.ErrUpdateFailed, err, "failed to prune ticks before %s", olderThan.Format(time.RFC3339))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, persistenceErr(ports.ErrUpdateFailed, err, "failed to count pruned ticks")
	}
	return n, nil
}

// --- SignalRepository Implementation ---

// PutSignals replaces the signal set of baseCurrency in one transaction.
// Rows of currencies absent from signals are deleted.
func (r *Repository) PutSignals(ctx context.Context, baseCurrency string, signals []domain.CurrencySignal) error {
	const query = `
	INSERT INTO currency_signals (base_currency, currency, window_minutes, sample_count, current_price,
	       past_price, percentage_gain, slope, slope_angle_degrees, volatility_factor, volume_24h, highest_bid,
	       short_window_minutes, short_sample_count, short_percentage_gain, short_slope_angle_degrees,
	       short_volatility_factor, updated_at_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (base_currency, currency) DO UPDATE SET
	       window_minutes = excluded.window_minutes, sample_count = excluded.sample_count,
	       current_price = excluded.current_price, past_price = excluded.past_price,
	       percentage_gain = excluded.percentage_gain, slope = excluded.slope,
	       slope_angle_degrees = excluded.slope_angle_degrees, volatility_factor = excluded.volatility_factor,
	       volume_24h = excluded.volume_24h, highest_bid = excluded.highest_bid,
	       short_window_minutes = excluded.short_window_minutes, short_sample_count = excluded.short_sample_count,
	       short_percentage_gain = excluded.short_percentage_gain,
	       short_slope_angle_degrees = excluded.short_slope_angle_degrees,
	       short_volatility_factor = excluded.short_volatility_factor, updated_at_ms = excluded.updated_at_ms`

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, s := range signals {
			updatedAt := s.UpdatedAt
			if updatedAt.IsZero() {
				updatedAt = r.now()
			}
			if _, err := stmt.ExecContext(ctx,
				baseCurrency, s.Currency, s.WindowMinutes, s.SampleCount, s.CurrentPrice,
				s.PastPrice, s.PercentageGain, s.Slope, s.SlopeAngleDegrees, s.VolatilityFactor, s.Volume24h, s.HighestBid,
				s.Short.WindowMinutes, s.Short.SampleCount, s.Short.PercentageGain, s.Short.SlopeAngleDegrees,
				s.Short.VolatilityFactor, updatedAt.UnixMilli()); err != nil {
				return fmt.Errorf("upsert signal %s: %w", s.Currency, err)
			}
		}

		// Currencies missing from this set are stale.
		args := []interface{}{baseCurrency}
		stale := `DELETE FROM currency_signals WHERE base_currency = ?`
		if len(signals) > 0 {
			placeholders := make([]string, len(signals))
			for i, s := range signals {
				placeholders[i] = "?"
				args = append(args, s.Currency)
			}
			stale += ` AND currency NOT IN (` + strings.Join(placeholders, ", ") + `)`
		}
		if _, err := tx.ExecContext(ctx, stale, args...); err != nil {
			return fmt.Errorf("delete stale signals: %w", err)
		}
		return nil
	})
	if err != nil {
		return persistenceErr(ports.ErrUpdateFailed, err, "failed to save signals for %s", baseCurrency)
	}
	r.logger.Debug(ctx, "Signals saved", map[string]interface{}{"baseCurrency": baseCurrency, "count": len(signals)})
	return nil
}

// FindSignals returns the stored signals of baseCurrency ordered by currency.
func (r *Repository) FindSignals(ctx context.Context, baseCurrency string) ([]domain.CurrencySignal, error) {
	const query = `
	SELECT base_currency, currency, window_minutes, sample_count, current_price, past_price,
	       percentage_gain, slope, slope_angle_degrees, volatility_factor, volume_24h, highest_bid,
	       short_window_minutes, short_sample_count, short_percentage_gain, short_slope_angle_degrees,
	       short_volatility_factor, updated_at_ms
	FROM currency_signals
	WHERE base_currency = ?
	ORDER BY currency ASC`

	rows, err := r.db.QueryContext(ctx, query, baseCurrency)
	if err != nil {
		return nil, persistenceErr(ports.ErrQueryFailed, err, "failed to query signals for %s", baseCurrency)
	}
	defer rows.Close()

	signals := make([]domain.CurrencySignal, 0)
	for rows.Next() {
		s, err := scanSignal(rows)
		if err != nil {
			return nil, persistenceErr(ports.ErrQueryFailed, err, "failed to scan signal for %s", baseCurrency)
		}
		signals = append(signals, s)
	}
	if err = rows.Err(); err != nil {
		return nil, persistenceErr(ports.ErrQueryFailed, err, "error iterating signal rows for %s", baseCurrency)
	}
	return signals, nil
}

// --- AccountRepository Implementation ---

// GetAccountState loads the state of accountKey, returning an empty state if none was stored.
func (r *Repository) GetAccountState(ctx context.Context, accountKey string) (domain.AccountState, error) {
	state := domain.NewAccountState()

	var lastAction string
	var updatedAt int64
	err := r.db.QueryRowContext(ctx, `SELECT last_action, updated_at_ms FROM account_state WHERE account_key = ?`, accountKey).
		Scan(&lastAction, &updatedAt)
	switch {
	case err == sql.ErrNoRows:
		r.logger.Debug(ctx, "No stored account state, starting empty", map[string]interface{}{"accountKey": accountKey})
	case err != nil:
		return state, persistenceErr(ports.ErrQueryFailed, err, "failed to query account state %s", accountKey)
	default:
		state.LastAction = domain.ParseAction(lastAction)
		state.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	}

	rows, err := r.db.QueryContext(ctx, `
	SELECT currency, buy_price, peak_price, low_price
	FROM account_positions WHERE account_key = ? ORDER BY currency`, accountKey)
	if err != nil {
		return state, persistenceErr(ports.ErrQueryFailed, err, "failed to query positions for %s", accountKey)
	}
	defer rows.Close()
	for rows.Next() {
		var currency string
		var p domain.Position
		if err := rows.Scan(&currency, &p.BuyPrice, &p.PeakPrice, &p.LowPrice); err != nil {
			return state, persistenceErr(ports.ErrQueryFailed, err, "failed to scan position for %s", accountKey)
		}
		state.Positions[currency] = p
	}
	if err := rows.Err(); err != nil {
		return state, persistenceErr(ports.ErrQueryFailed, err, "error iterating positions for %s", accountKey)
	}
	return state, nil
}

// PutAccountState replaces the stored state of accountKey in one transaction.
func (r *Repository) PutAccountState(ctx context.Context, accountKey string, state domain.AccountState) error {
	updatedAt := state.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = r.now()
	}
	lastAction := state.LastAction
	if lastAction == "" {
		lastAction = domain.ActionNone
	}

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
		INSERT INTO account_state (account_key, last_action, updated_at_ms) VALUES (?, ?, ?)
		ON CONFLICT (account_key) DO UPDATE SET last_action = excluded.last_action, updated_at_ms = excluded.updated_at_ms`,
			accountKey, string(lastAction), updatedAt.UnixMilli()); err != nil {
			return fmt.Errorf("upsert account state: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM account_positions WHERE account_key = ?`, accountKey); err != nil {
			return fmt.Errorf("clear positions: %w", err)
		}
		for currency, p := range state.Positions {
			if _, err := tx.ExecContext(ctx, `
			INSERT INTO account_positions (account_key, currency, buy_price, peak_price, low_price)
			VALUES (?, ?, ?, ?, ?)`, accountKey, currency, p.BuyPrice, p.PeakPrice, p.LowPrice); err != nil {
				return fmt.Errorf("insert position %s: %w", currency, err)
			}
		}
		return nil
	})
	if err != nil {
		return persistenceErr(ports.ErrUpdateFailed, err, "failed to save account state %s", accountKey)
	}
	r.logger.Debug(ctx, "Account state saved", map[string]interface{}{"accountKey": accountKey, "lastAction": lastAction, "positions": len(state.Positions)})
	return nil
}

// --- Helpers ---

// withTx runs fn inside a transaction, rolling back on error.
func (r *Repository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			r.logger.Error(ctx, rbErr, "Transaction rollback failed")
		}
		return err
	}
	return tx.Commit()
}

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTick(s scanner) (domain.Tick, error) {
	var t domain.Tick
	var tsMs int64
	err := s.Scan(&t.CurrencyPair, &tsMs, &t.Last, &t.HighestBid, &t.LowestAsk, &t.BaseVolume,
		&t.QuoteVolume, &t.PercentChange, &t.High24h, &t.IsFrozen)
	if err != nil {
		return t, err
	}
	t.Timestamp = time.UnixMilli(tsMs).UTC()
	return t, nil
}

func scanSignal(s scanner) (domain.CurrencySignal, error) {
	var sig domain.CurrencySignal
	var updatedAt int64
	err := s.Scan(&sig.BaseCurrency, &sig.Currency, &sig.WindowMinutes, &sig.SampleCount, &sig.CurrentPrice, &sig.PastPrice,
		&sig.PercentageGain, &sig.Slope, &sig.SlopeAngleDegrees, &sig.VolatilityFactor, &sig.Volume24h, &sig.HighestBid,
		&sig.Short.WindowMinutes, &sig.Short.SampleCount, &sig.Short.PercentageGain, &sig.Short.SlopeAngleDegrees,
		&sig.Short.VolatilityFactor, &updatedAt)
	if err != nil {
		return sig, err
	}
	sig.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return sig, nil
}
