package postgres

import (
	"cmp"
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Advisory lock сериализует миграции между репликами pos-service и cmd/migrate.
const schemaLockID = int64(0x504f53)

const schemaMigrationsDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

//go:embed sql/migrations/*.sql
var embeddedMigrations embed.FS

// 0001_catalog_and_sales.up.sql -> версия, имя, направление.
var migrationFileName = regexp.MustCompile(`^(\d+)_(\w+)\.(up|down)\.sql$`)

var errStoreNotInitialized = errors.New("postgres store is not initialized")

type migrationDirection string

const (
	migrationUp   migrationDirection = "up"
	migrationDown migrationDirection = "down"
)

// schemaMigration — пара up/down скриптов одной версии.
type schemaMigration struct {
	Version int64
	Name    string
	Up      string
	Down    string
}

func (m schemaMigration) String() string {
	return fmt.Sprintf("%04d_%s", m.Version, m.Name)
}

func (m schemaMigration) script(dir migrationDirection) string {
	if dir == migrationDown {
		return m.Down
	}
	return m.Up
}

// MigrationState описывает схему относительно встроенных миграций.
type MigrationState struct {
	// Version — последняя применённая версия, 0 для пустой схемы.
	Version int64
	Applied int
	Pending int
}

// MigrateUp применяет steps ожидающих миграций; steps = 0 применяет все.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.migrate(ctx, migrationUp, steps)
}

// MigrateDown откатывает steps последних миграций; steps <= 0 считается одним шагом.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	return s.migrate(ctx, migrationDown, max(steps, 1))
}

// MigrationStatus сравнивает schema_migrations со встроенным набором.
func (s *Store) MigrationStatus(ctx context.Context) (MigrationState, error) {
	if s == nil || s.db == nil {
		return MigrationState{}, errStoreNotInitialized
	}
	plan, err := parseMigrations(embeddedMigrations)
	if err != nil {
		return MigrationState{}, err
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, schemaMigrationsDDL); err != nil {
		return MigrationState{}, fmt.Errorf("ensure schema_migrations: %w", err)
	}
	applied, err := appliedVersions(ctx, s.db)
	if err != nil {
		return MigrationState{}, err
	}
	return summarize(plan, applied), nil
}

// summarize считает состояние; applied отсортирован по возрастанию.
func summarize(plan []schemaMigration, applied []int64) MigrationState {
	state := MigrationState{Applied: len(applied)}
	if n := len(applied); n > 0 {
		state.Version = applied[n-1]
	}
	for _, m := range plan {
		if _, found := slices.BinarySearch(applied, m.Version); !found {
			state.Pending++
		}
	}
	return state
}

func (s *Store) migrate(ctx context.Context, dir migrationDirection, steps int) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}
	if dir != migrationUp && dir != migrationDown {
		return fmt.Errorf("unsupported migration direction %q", dir)
	}
	plan, err := parseMigrations(embeddedMigrations)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration connection: %w", err)
	}
	defer conn.Close()

	unlock, err := lockSchema(ctx, conn)
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := conn.ExecContext(ctx, schemaMigrationsDDL); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return err
	}

	todo, err := selectSteps(plan, applied, dir, steps)
	if err != nil {
		return err
	}
	for _, m := range todo {
		if err := runStep(ctx, conn, m, dir); err != nil {
			return err
		}
		s.logger.WithField("migration", m.String()).Infof("migration %s applied", dir)
	}
	return nil
}

// selectSteps выбирает миграции к выполнению в нужном порядке.
func selectSteps(plan []schemaMigration, applied []int64, dir migrationDirection, steps int) ([]schemaMigration, error) {
	var todo []schemaMigration
	if dir == migrationUp {
		for _, m := range plan {
			if _, done := slices.BinarySearch(applied, m.Version); !done {
				todo = append(todo, m)
			}
		}
	} else {
		byVersion := make(map[int64]schemaMigration, len(plan))
		for _, m := range plan {
			byVersion[m.Version] = m
		}
		for _, v := range slices.Backward(applied) {
			m, ok := byVersion[v]
			if !ok {
				return nil, fmt.Errorf("cannot roll back unknown migration version %d", v)
			}
			todo = append(todo, m)
		}
	}
	if steps > 0 && len(todo) > steps {
		todo = todo[:steps]
	}
	return todo, nil
}

// runStep выполняет скрипт и правит schema_migrations в одной транзакции.
func runStep(ctx context.Context, conn *sql.Conn, m schemaMigration, dir migrationDirection) (err error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s %s: %w", dir, m, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, m.script(dir)); err != nil {
		return fmt.Errorf("run %s %s: %w", dir, m, err)
	}
	if dir == migrationUp {
		_, err = tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name)
	} else {
		_, err = tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = $1`, m.Version)
	}
	if err != nil {
		return fmt.Errorf("record %s %s: %w", dir, m, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit %s %s: %w", dir, m, err)
	}
	return nil
}

func lockSchema(ctx context.Context, conn *sql.Conn) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, `SELECT pg_advisory_lock($1)`, schemaLockID); err != nil {
		return nil, fmt.Errorf("acquire migration lock: %w", err)
	}
	return func() {
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, schemaLockID)
	}, nil
}

type versionQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// appliedVersions возвращает применённые версии по возрастанию.
func appliedVersions(ctx context.Context, q versionQuerier) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `SELECT version FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("query schema_migrations: %w", err)
	}
	defer rows.Close()

	var versions []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// parseMigrations читает sql/migrations/*.sql; у каждой версии обязаны быть up и down.
func parseMigrations(fsys fs.FS) ([]schemaMigration, error) {
	files, err := fs.Glob(fsys, "sql/migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no migration files found")
	}

	byVersion := make(map[int64]*schemaMigration)
	for _, file := range files {
		base := path.Base(file)
		parts := migrationFileName.FindStringSubmatch(base)
		if parts == nil {
			return nil, fmt.Errorf("invalid migration file name %s", base)
		}
		version, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("migration version in %s: %w", base, err)
		}

		raw, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration %s is empty", base)
		}

		m := byVersion[version]
		if m == nil {
			m = &schemaMigration{Version: version, Name: parts[2]}
			byVersion[version] = m
		}
		if m.Name != parts[2] {
			return nil, fmt.Errorf("version %d has conflicting names %s and %s", version, m.Name, parts[2])
		}

		slot := &m.Up
		if migrationDirection(parts[3]) == migrationDown {
			slot = &m.Down
		}
		if *slot != "" {
			return nil, fmt.Errorf("duplicate %s script for version %d", parts[3], version)
		}
		*slot = body
	}

	plan := make([]schemaMigration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" || m.Down == "" {
			return nil, fmt.Errorf("migration %s needs both up and down scripts", m)
		}
		plan = append(plan, *m)
	}
	slices.SortFunc(plan, func(a, b schemaMigration) int { return cmp.Compare(a.Version, b.Version) })
	return plan, nil
}
