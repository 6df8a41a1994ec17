package database

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

const (
	migrationsDir = "migrations"

	// migrationLockID keys the session advisory lock held while migrating, so
	// two indexer processes starting together apply each file once.
	migrationLockID int64 = 0x617374726f
)

const noTransactionDirective = "-- +no-transaction"

// migration is one embedded file named <version>_<name>.sql.
type migration struct {
	Version int
	Name    string
	Script  string
	NoTx    bool
}

func (m migration) Label() string {
	return fmt.Sprintf("%03d_%s", m.Version, m.Name)
}

// RunMigrations applies the embedded migrations that are not yet recorded in
// schema_migrations, lowest version first. It returns the labels of the
// migrations applied by this call.
func RunMigrations(ctx context.Context, connString string, logger zerolog.Logger) ([]string, error) {
	logger = logger.With().Str("component", "migrator").Logger()

	migrations, err := loadMigrations(migrationsFS, migrationsDir)
	if err != nil {
		return nil, err
	}

	connConfig, err := pgx.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	// Multi-statement scripts need the simple protocol.
	connConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	conn, err := pgx.ConnectConfig(ctx, connConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database for migrations: %w", err)
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, migrationLockID); err != nil {
		return nil, fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		if _, err := conn.Exec(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, migrationLockID); err != nil {
			logger.Warn().Err(err).Msg("Failed to release migration lock")
		}
	}()

	if _, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return nil, fmt.Errorf("ensure schema_migrations table: %w", err)
	}

	done, err := appliedVersions(ctx, conn)
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, m := range migrations {
		if done[m.Version] {
			continue
		}
		start := time.Now()
		if err := applyMigration(ctx, conn, m); err != nil {
			return applied, err
		}
		logger.Info().
			Int("version", m.Version).
			Str("name", m.Name).
			Bool("transactional", !m.NoTx).
			Dur("took", time.Since(start)).
			Msg("Applied migration")
		applied = append(applied, m.Label())
	}

	if len(applied) == 0 {
		logger.Debug().Int("known", len(migrations)).Msg("Schema is up to date")
	}
	return applied, nil
}

// loadMigrations reads and orders the migration files in dir.
func loadMigrations(fsys fs.FS, dir string) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read embedded migrations: %w", err)
	}

	seen := make(map[int]string)
	var out []migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		base := strings.TrimSuffix(entry.Name(), ".sql")
		prefix, name, ok := strings.Cut(base, "_")
		if !ok || name == "" {
			return nil, fmt.Errorf("migration %s: expected <version>_<name>.sql", entry.Name())
		}
		version, err := strconv.Atoi(prefix)
		if err != nil || version <= 0 {
			return nil, fmt.Errorf("migration %s: invalid version %q", entry.Name(), prefix)
		}
		if other, dup := seen[version]; dup {
			return nil, fmt.Errorf("migrations %s and %s share version %d", other, entry.Name(), version)
		}
		seen[version] = entry.Name()

		contents, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		script := strings.TrimSpace(string(contents))

		out = append(out, migration{
			Version: version,
			Name:    name,
			Script:  script,
			NoTx:    hasDirective(script, noTransactionDirective),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func hasDirective(script, directive string) bool {
	for _, line := range strings.Split(script, "\n") {
		if strings.EqualFold(strings.TrimSpace(line), directive) {
			return true
		}
	}
	return false
}

func appliedVersions(ctx context.Context, conn *pgx.Conn) (map[int]bool, error) {
	rows, err := conn.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[int32])
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	done := make(map[int]bool, len(versions))
	for _, v := range versions {
		done[int(v)] = true
	}
	return done, nil
}

// applyMigration runs a script and records it. Scripts marked
// no-transaction (CREATE INDEX CONCURRENTLY) run statement by statement on
// the bare connection; everything else commits atomically with its record.
func applyMigration(ctx context.Context, conn *pgx.Conn, m migration) error {
	const record = `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`

	if m.NoTx {
		for _, stmt := range splitSQLStatements(m.Script) {
			if _, err := conn.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration %s: %w", m.Label(), err)
			}
		}
		if _, err := conn.Exec(ctx, record, m.Version, m.Name); err != nil {
			return fmt.Errorf("record migration %s: %w", m.Label(), err)
		}
		return nil
	}

	return pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
		if m.Script != "" {
			if _, err := tx.Exec(ctx, m.Script); err != nil {
				return fmt.Errorf("apply migration %s: %w", m.Label(), err)
			}
		}
		if _, err := tx.Exec(ctx, record, m.Version, m.Name); err != nil {
			return fmt.Errorf("record migration %s: %w", m.Label(), err)
		}
		return nil
	})
}

// splitSQLStatements drops comment lines and splits on semicolons. It is
// only used for no-transaction scripts, which hold plain DDL.
func splitSQLStatements(script string) []string {
	var kept []string
	for _, line := range strings.Split(script, "\n") {
		if t := strings.TrimSpace(line); t != "" && !strings.HasPrefix(t, "--") {
			kept = append(kept, line)
		}
	}

	var out []string
	for _, part := range strings.Split(strings.Join(kept, "\n"), ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
