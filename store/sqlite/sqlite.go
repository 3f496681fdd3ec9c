/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements engine.Store and engine.TxStore using SQLite. In production the
  same patterns apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  textbooks:                  Catalog records with the two stock counters
  branches/teachers/students: Directory records (read-mostly)
  textbook_sets(+items):      Named per-grade textbook collections
  distributions(+details):    Batch allocations, one detail row per textbook
  individual_distributions:   Single-title allocations to one person

INVARIANT ENFORCEMENT:
  The engine validates before writing; the schema backstops it with CHECK
  constraints (0 <= available_stock <= total_stock, per-line
  returned+missing <= distributed) and UNIQUE idempotency keys on both
  allocation tables.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. WithTx holds the write lock for the
  whole transaction, so every allocation, return, and deletion is one
  serialized read-modify-write unit. SQLite is opened in WAL mode so readers
  don't block.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper migration
  tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - engine/store.go: Interface definitions
  - engine/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/campus/textbook-engine/engine"
)

// Store implements engine.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Catalog
	CREATE TABLE IF NOT EXISTS textbooks (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		subject TEXT,
		grade_from INTEGER NOT NULL DEFAULT 0,
		grade_to INTEGER NOT NULL DEFAULT 0,
		total_stock INTEGER NOT NULL DEFAULT 0,
		available_stock INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK (available_stock >= 0 AND available_stock <= total_stock)
	);

	-- Directory
	CREATE TABLE IF NOT EXISTS branches (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		grade INTEGER NOT NULL,
		student_count INTEGER NOT NULL DEFAULT 0,
		teacher_id TEXT,
		created_at TEXT NOT NULL,
		CHECK (student_count >= 0)
	);

	CREATE TABLE IF NOT EXISTS teachers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS students (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		branch_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS textbook_sets (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		grade INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS textbook_set_items (
		set_id TEXT NOT NULL REFERENCES textbook_sets(id) ON DELETE CASCADE,
		textbook_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (set_id, textbook_id)
	);

	CREATE INDEX IF NOT EXISTS idx_set_items_set
		ON textbook_set_items(set_id, position);

	-- Batch allocations
	CREATE TABLE IF NOT EXISTS distributions (
		id TEXT PRIMARY KEY,
		branch_id TEXT NOT NULL,
		set_id TEXT NOT NULL,
		academic_year TEXT NOT NULL,
		status TEXT NOT NULL,
		distributed_at TEXT NOT NULL,
		returned_at TEXT,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_distributions_year
		ON distributions(academic_year);
	CREATE INDEX IF NOT EXISTS idx_distributions_branch
		ON distributions(branch_id);
	CREATE INDEX IF NOT EXISTS idx_distributions_status
		ON distributions(status);

	CREATE TABLE IF NOT EXISTS distribution_details (
		distribution_id TEXT NOT NULL REFERENCES distributions(id) ON DELETE CASCADE,
		textbook_id TEXT NOT NULL,
		distributed_qty INTEGER NOT NULL,
		returned_qty INTEGER NOT NULL DEFAULT 0,
		missing_qty INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (distribution_id, textbook_id),
		CHECK (returned_qty >= 0 AND missing_qty >= 0
			AND returned_qty + missing_qty <= distributed_qty)
	);

	CREATE INDEX IF NOT EXISTS idx_details_textbook
		ON distribution_details(textbook_id);

	-- Individual allocations
	CREATE TABLE IF NOT EXISTS individual_distributions (
		id TEXT PRIMARY KEY,
		textbook_id TEXT NOT NULL,
		recipient_type TEXT NOT NULL,
		recipient_id TEXT NOT NULL,
		recipient_name TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		returned_qty INTEGER NOT NULL DEFAULT 0,
		missing_qty INTEGER NOT NULL DEFAULT 0,
		academic_year TEXT NOT NULL,
		status TEXT NOT NULL,
		distributed_at TEXT NOT NULL,
		returned_at TEXT,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK (quantity >= 1),
		CHECK (returned_qty >= 0 AND missing_qty >= 0
			AND returned_qty + missing_qty <= quantity)
	);

	CREATE INDEX IF NOT EXISTS idx_individual_year
		ON individual_distributions(academic_year);
	CREATE INDEX IF NOT EXISTS idx_individual_textbook
		ON individual_distributions(textbook_id);
	CREATE INDEX IF NOT EXISTS idx_individual_recipient
		ON individual_distributions(recipient_type, recipient_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx, so the same query code
// runs inside and outside WithTx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// TRANSACTIONAL STORE (engine.TxStore)
// =============================================================================

// WithTx executes a function within a database transaction. The store mutex
// is held for the duration, serializing all read-modify-write units.
func (s *Store) WithTx(ctx context.Context, fn func(engine.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore routes every Store call through the open transaction.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) SaveTextbook(ctx context.Context, tb engine.Textbook) error {
	return saveTextbook(ctx, ts.tx, tb)
}

func (ts *txStore) GetTextbook(ctx context.Context, id engine.TextbookID) (*engine.Textbook, error) {
	return getTextbook(ctx, ts.tx, id)
}

func (ts *txStore) ListTextbooks(ctx context.Context) ([]engine.Textbook, error) {
	return listTextbooks(ctx, ts.tx)
}

func (ts *txStore) UpdateTextbookStock(ctx context.Context, id engine.TextbookID, total, available int) error {
	return updateTextbookStock(ctx, ts.tx, id, total, available)
}

func (ts *txStore) SaveBranch(ctx context.Context, b engine.Branch) error {
	return saveBranch(ctx, ts.tx, b)
}

func (ts *txStore) GetBranch(ctx context.Context, id engine.BranchID) (*engine.Branch, error) {
	return getBranch(ctx, ts.tx, id)
}

func (ts *txStore) ListBranches(ctx context.Context) ([]engine.Branch, error) {
	return listBranches(ctx, ts.tx)
}

func (ts *txStore) SaveSet(ctx context.Context, set engine.TextbookSet) error {
	return saveSet(ctx, ts.tx, set)
}

func (ts *txStore) GetSet(ctx context.Context, id engine.SetID) (*engine.TextbookSet, error) {
	return getSet(ctx, ts.tx, id)
}

func (ts *txStore) ListSets(ctx context.Context) ([]engine.TextbookSet, error) {
	return listSets(ctx, ts.tx)
}

func (ts *txStore) SaveTeacher(ctx context.Context, t engine.Teacher) error {
	return saveTeacher(ctx, ts.tx, t)
}

func (ts *txStore) GetTeacher(ctx context.Context, id engine.TeacherID) (*engine.Teacher, error) {
	return getTeacher(ctx, ts.tx, id)
}

func (ts *txStore) SaveStudent(ctx context.Context, st engine.Student) error {
	return saveStudent(ctx, ts.tx, st)
}

func (ts *txStore) GetStudent(ctx context.Context, id engine.StudentID) (*engine.Student, error) {
	return getStudent(ctx, ts.tx, id)
}

func (ts *txStore) SaveDistribution(ctx context.Context, d engine.Distribution) error {
	return saveDistribution(ctx, ts.tx, d)
}

func (ts *txStore) GetDistribution(ctx context.Context, id engine.DistributionID) (*engine.Distribution, error) {
	return getDistribution(ctx, ts.tx, id)
}

func (ts *txStore) ListDistributions(ctx context.Context, academicYear string) ([]engine.Distribution, error) {
	return listDistributions(ctx, ts.tx, academicYear)
}

func (ts *txStore) DeleteDistribution(ctx context.Context, id engine.DistributionID) error {
	return deleteDistribution(ctx, ts.tx, id)
}

func (ts *txStore) SaveIndividualDistribution(ctx context.Context, d engine.IndividualDistribution) error {
	return saveIndividualDistribution(ctx, ts.tx, d)
}

func (ts *txStore) GetIndividualDistribution(ctx context.Context, id engine.DistributionID) (*engine.IndividualDistribution, error) {
	return getIndividualDistribution(ctx, ts.tx, id)
}

func (ts *txStore) ListIndividualDistributions(ctx context.Context, academicYear string) ([]engine.IndividualDistribution, error) {
	return listIndividualDistributions(ctx, ts.tx, academicYear)
}

func (ts *txStore) DeleteIndividualDistribution(ctx context.Context, id engine.DistributionID) error {
	return deleteIndividualDistribution(ctx, ts.tx, id)
}

func (ts *txStore) HasIdempotencyKey(ctx context.Context, key string) (bool, error) {
	return hasIdempotencyKey(ctx, ts.tx, key)
}

// =============================================================================
// CATALOG (engine.Store)
// =============================================================================

func (s *Store) SaveTextbook(ctx context.Context, tb engine.Textbook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveTextbook(ctx, s.db, tb)
}

func (s *Store) GetTextbook(ctx context.Context, id engine.TextbookID) (*engine.Textbook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getTextbook(ctx, s.db, id)
}

func (s *Store) ListTextbooks(ctx context.Context) ([]engine.Textbook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listTextbooks(ctx, s.db)
}

func (s *Store) UpdateTextbookStock(ctx context.Context, id engine.TextbookID, total, available int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateTextbookStock(ctx, s.db, id, total, available)
}

func saveTextbook(ctx context.Context, q querier, tb engine.Textbook) error {
	query := `
		INSERT INTO textbooks
		(id, title, subject, grade_from, grade_to, total_stock, available_stock, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			subject = excluded.subject,
			grade_from = excluded.grade_from,
			grade_to = excluded.grade_to,
			total_stock = excluded.total_stock,
			available_stock = excluded.available_stock,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := q.ExecContext(ctx, query,
		tb.ID, tb.Title, tb.Subject, tb.GradeFrom, tb.GradeTo,
		tb.TotalStock, tb.AvailableStock, now, now,
	)
	return err
}

func getTextbook(ctx context.Context, q querier, id engine.TextbookID) (*engine.Textbook, error) {
	var tb engine.Textbook
	err := q.QueryRowContext(ctx,
		`SELECT id, title, subject, grade_from, grade_to, total_stock, available_stock
		 FROM textbooks WHERE id = ?`, id,
	).Scan(&tb.ID, &tb.Title, &tb.Subject, &tb.GradeFrom, &tb.GradeTo,
		&tb.TotalStock, &tb.AvailableStock)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tb, nil
}

func listTextbooks(ctx context.Context, q querier) ([]engine.Textbook, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, title, subject, grade_from, grade_to, total_stock, available_stock
		 FROM textbooks ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var textbooks []engine.Textbook
	for rows.Next() {
		var tb engine.Textbook
		if err := rows.Scan(&tb.ID, &tb.Title, &tb.Subject, &tb.GradeFrom, &tb.GradeTo,
			&tb.TotalStock, &tb.AvailableStock); err != nil {
			return nil, err
		}
		textbooks = append(textbooks, tb)
	}
	return textbooks, rows.Err()
}

func updateTextbookStock(ctx context.Context, q querier, id engine.TextbookID, total, available int) error {
	res, err := q.ExecContext(ctx,
		`UPDATE textbooks SET total_stock = ?, available_stock = ?, updated_at = ? WHERE id = ?`,
		total, available, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &engine.NotFoundError{Kind: "textbook", ID: string(id)}
	}
	return nil
}

// =============================================================================
// DIRECTORY
// =============================================================================

func (s *Store) SaveBranch(ctx context.Context, b engine.Branch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveBranch(ctx, s.db, b)
}

func (s *Store) GetBranch(ctx context.Context, id engine.BranchID) (*engine.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getBranch(ctx, s.db, id)
}

func (s *Store) ListBranches(ctx context.Context) ([]engine.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listBranches(ctx, s.db)
}

func saveBranch(ctx context.Context, q querier, b engine.Branch) error {
	query := `
		INSERT INTO branches (id, name, grade, student_count, teacher_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			grade = excluded.grade,
			student_count = excluded.student_count,
			teacher_id = excluded.teacher_id
	`

	_, err := q.ExecContext(ctx, query,
		b.ID, b.Name, b.Grade, b.StudentCount,
		nullString(string(b.TeacherID)),
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func getBranch(ctx context.Context, q querier, id engine.BranchID) (*engine.Branch, error) {
	var b engine.Branch
	var teacherID sql.NullString
	err := q.QueryRowContext(ctx,
		`SELECT id, name, grade, student_count, teacher_id FROM branches WHERE id = ?`, id,
	).Scan(&b.ID, &b.Name, &b.Grade, &b.StudentCount, &teacherID)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	b.TeacherID = engine.TeacherID(teacherID.String)
	return &b, nil
}

func listBranches(ctx context.Context, q querier) ([]engine.Branch, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, name, grade, student_count, teacher_id FROM branches ORDER BY grade, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var branches []engine.Branch
	for rows.Next() {
		var b engine.Branch
		var teacherID sql.NullString
		if err := rows.Scan(&b.ID, &b.Name, &b.Grade, &b.StudentCount, &teacherID); err != nil {
			return nil, err
		}
		b.TeacherID = engine.TeacherID(teacherID.String)
		branches = append(branches, b)
	}
	return branches, rows.Err()
}

func (s *Store) SaveSet(ctx context.Context, set engine.TextbookSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Header and item rows must change together.
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer sqlTx.Rollback()

	if err := saveSet(ctx, sqlTx, set); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *Store) GetSet(ctx context.Context, id engine.SetID) (*engine.TextbookSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getSet(ctx, s.db, id)
}

func (s *Store) ListSets(ctx context.Context) ([]engine.TextbookSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listSets(ctx, s.db)
}

func saveSet(ctx context.Context, q querier, set engine.TextbookSet) error {
	query := `
		INSERT INTO textbook_sets (id, name, grade, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			grade = excluded.grade
	`

	if _, err := q.ExecContext(ctx, query,
		set.ID, set.Name, set.Grade, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}

	if _, err := q.ExecContext(ctx,
		`DELETE FROM textbook_set_items WHERE set_id = ?`, set.ID); err != nil {
		return err
	}

	for i, tid := range set.TextbookIDs {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO textbook_set_items (set_id, textbook_id, position) VALUES (?, ?, ?)`,
			set.ID, tid, i); err != nil {
			return err
		}
	}
	return nil
}

func getSet(ctx context.Context, q querier, id engine.SetID) (*engine.TextbookSet, error) {
	var set engine.TextbookSet
	err := q.QueryRowContext(ctx,
		`SELECT id, name, grade FROM textbook_sets WHERE id = ?`, id,
	).Scan(&set.ID, &set.Name, &set.Grade)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	set.TextbookIDs, err = setItems(ctx, q, id)
	if err != nil {
		return nil, err
	}
	return &set, nil
}

func listSets(ctx context.Context, q querier) ([]engine.TextbookSet, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, name, grade FROM textbook_sets ORDER BY grade, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sets []engine.TextbookSet
	for rows.Next() {
		var set engine.TextbookSet
		if err := rows.Scan(&set.ID, &set.Name, &set.Grade); err != nil {
			return nil, err
		}
		sets = append(sets, set)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range sets {
		items, err := setItems(ctx, q, sets[i].ID)
		if err != nil {
			return nil, err
		}
		sets[i].TextbookIDs = items
	}
	return sets, nil
}

func setItems(ctx context.Context, q querier, id engine.SetID) ([]engine.TextbookID, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT textbook_id FROM textbook_set_items WHERE set_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []engine.TextbookID
	for rows.Next() {
		var tid engine.TextbookID
		if err := rows.Scan(&tid); err != nil {
			return nil, err
		}
		ids = append(ids, tid)
	}
	return ids, rows.Err()
}

func (s *Store) SaveTeacher(ctx context.Context, t engine.Teacher) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveTeacher(ctx, s.db, t)
}

func (s *Store) GetTeacher(ctx context.Context, id engine.TeacherID) (*engine.Teacher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getTeacher(ctx, s.db, id)
}

func (s *Store) SaveStudent(ctx context.Context, st engine.Student) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveStudent(ctx, s.db, st)
}

func (s *Store) GetStudent(ctx context.Context, id engine.StudentID) (*engine.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getStudent(ctx, s.db, id)
}

func saveTeacher(ctx context.Context, q querier, t engine.Teacher) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO teachers (id, name, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		t.ID, t.Name, time.Now().UTC().Format(time.RFC3339))
	return err
}

func getTeacher(ctx context.Context, q querier, id engine.TeacherID) (*engine.Teacher, error) {
	var t engine.Teacher
	err := q.QueryRowContext(ctx,
		`SELECT id, name FROM teachers WHERE id = ?`, id).Scan(&t.ID, &t.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func saveStudent(ctx context.Context, q querier, st engine.Student) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO students (id, name, branch_id, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, branch_id = excluded.branch_id`,
		st.ID, st.Name, nullString(string(st.BranchID)), time.Now().UTC().Format(time.RFC3339))
	return err
}

func getStudent(ctx context.Context, q querier, id engine.StudentID) (*engine.Student, error) {
	var st engine.Student
	var branchID sql.NullString
	err := q.QueryRowContext(ctx,
		`SELECT id, name, branch_id FROM students WHERE id = ?`, id,
	).Scan(&st.ID, &st.Name, &branchID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	st.BranchID = engine.BranchID(branchID.String)
	return &st, nil
}

// =============================================================================
// BATCH ALLOCATIONS
// =============================================================================

func (s *Store) SaveDistribution(ctx context.Context, d engine.Distribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Header and detail rows must change together.
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer sqlTx.Rollback()

	if err := saveDistribution(ctx, sqlTx, d); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *Store) GetDistribution(ctx context.Context, id engine.DistributionID) (*engine.Distribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getDistribution(ctx, s.db, id)
}

func (s *Store) ListDistributions(ctx context.Context, academicYear string) ([]engine.Distribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listDistributions(ctx, s.db, academicYear)
}

func (s *Store) DeleteDistribution(ctx context.Context, id engine.DistributionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteDistribution(ctx, s.db, id)
}

func saveDistribution(ctx context.Context, q querier, d engine.Distribution) error {
	query := `
		INSERT INTO distributions
		(id, branch_id, set_id, academic_year, status, distributed_at, returned_at,
		 idempotency_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			returned_at = excluded.returned_at,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := q.ExecContext(ctx, query,
		d.ID, d.BranchID, d.SetID, d.AcademicYear, d.Status,
		d.DistributedAt.Format(time.RFC3339),
		nullTime(d.ReturnedAt),
		nullString(d.IdempotencyKey),
		now, now,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return engine.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to save distribution: %w", err)
	}

	if _, err := q.ExecContext(ctx,
		`DELETE FROM distribution_details WHERE distribution_id = ?`, d.ID); err != nil {
		return err
	}
	for _, detail := range d.Details {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO distribution_details
			 (distribution_id, textbook_id, distributed_qty, returned_qty, missing_qty)
			 VALUES (?, ?, ?, ?, ?)`,
			d.ID, detail.TextbookID, detail.DistributedQty,
			detail.ReturnedQty, detail.MissingQty); err != nil {
			return fmt.Errorf("failed to save distribution detail: %w", err)
		}
	}
	return nil
}

func getDistribution(ctx context.Context, q querier, id engine.DistributionID) (*engine.Distribution, error) {
	var d engine.Distribution
	var distributedAt string
	var returnedAt, idempotencyKey sql.NullString

	err := q.QueryRowContext(ctx,
		`SELECT id, branch_id, set_id, academic_year, status, distributed_at, returned_at, idempotency_key
		 FROM distributions WHERE id = ?`, id,
	).Scan(&d.ID, &d.BranchID, &d.SetID, &d.AcademicYear, &d.Status,
		&distributedAt, &returnedAt, &idempotencyKey)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	d.DistributedAt, _ = time.Parse(time.RFC3339, distributedAt)
	d.ReturnedAt = parseNullTime(returnedAt)
	d.IdempotencyKey = idempotencyKey.String

	d.Details, err = distributionDetails(ctx, q, id)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func listDistributions(ctx context.Context, q querier, academicYear string) ([]engine.Distribution, error) {
	query := `
		SELECT id, branch_id, set_id, academic_year, status, distributed_at, returned_at, idempotency_key
		FROM distributions
	`
	var args []any
	if academicYear != "" {
		query += ` WHERE academic_year = ?`
		args = append(args, academicYear)
	}
	query += ` ORDER BY distributed_at DESC, id`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var distributions []engine.Distribution
	for rows.Next() {
		var d engine.Distribution
		var distributedAt string
		var returnedAt, idempotencyKey sql.NullString
		if err := rows.Scan(&d.ID, &d.BranchID, &d.SetID, &d.AcademicYear, &d.Status,
			&distributedAt, &returnedAt, &idempotencyKey); err != nil {
			return nil, err
		}
		d.DistributedAt, _ = time.Parse(time.RFC3339, distributedAt)
		d.ReturnedAt = parseNullTime(returnedAt)
		d.IdempotencyKey = idempotencyKey.String
		distributions = append(distributions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range distributions {
		details, err := distributionDetails(ctx, q, distributions[i].ID)
		if err != nil {
			return nil, err
		}
		distributions[i].Details = details
	}
	return distributions, nil
}

func distributionDetails(ctx context.Context, q querier, id engine.DistributionID) ([]engine.DistributionDetail, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT textbook_id, distributed_qty, returned_qty, missing_qty
		 FROM distribution_details WHERE distribution_id = ? ORDER BY rowid`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var details []engine.DistributionDetail
	for rows.Next() {
		var detail engine.DistributionDetail
		if err := rows.Scan(&detail.TextbookID, &detail.DistributedQty,
			&detail.ReturnedQty, &detail.MissingQty); err != nil {
			return nil, err
		}
		details = append(details, detail)
	}
	return details, rows.Err()
}

func deleteDistribution(ctx context.Context, q querier, id engine.DistributionID) error {
	if _, err := q.ExecContext(ctx,
		`DELETE FROM distribution_details WHERE distribution_id = ?`, id); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx, `DELETE FROM distributions WHERE id = ?`, id)
	return err
}

// =============================================================================
// INDIVIDUAL ALLOCATIONS
// =============================================================================

func (s *Store) SaveIndividualDistribution(ctx context.Context, d engine.IndividualDistribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveIndividualDistribution(ctx, s.db, d)
}

func (s *Store) GetIndividualDistribution(ctx context.Context, id engine.DistributionID) (*engine.IndividualDistribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getIndividualDistribution(ctx, s.db, id)
}

func (s *Store) ListIndividualDistributions(ctx context.Context, academicYear string) ([]engine.IndividualDistribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listIndividualDistributions(ctx, s.db, academicYear)
}

func (s *Store) DeleteIndividualDistribution(ctx context.Context, id engine.DistributionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteIndividualDistribution(ctx, s.db, id)
}

func saveIndividualDistribution(ctx context.Context, q querier, d engine.IndividualDistribution) error {
	query := `
		INSERT INTO individual_distributions
		(id, textbook_id, recipient_type, recipient_id, recipient_name, quantity,
		 returned_qty, missing_qty, academic_year, status, distributed_at, returned_at,
		 idempotency_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			returned_qty = excluded.returned_qty,
			missing_qty = excluded.missing_qty,
			status = excluded.status,
			returned_at = excluded.returned_at,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := q.ExecContext(ctx, query,
		d.ID, d.TextbookID, d.RecipientType, d.RecipientID, d.RecipientName,
		d.Quantity, d.ReturnedQty, d.MissingQty, d.AcademicYear, d.Status,
		d.DistributedAt.Format(time.RFC3339),
		nullTime(d.ReturnedAt),
		nullString(d.IdempotencyKey),
		now, now,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return engine.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to save individual distribution: %w", err)
	}
	return nil
}

func getIndividualDistribution(ctx context.Context, q querier, id engine.DistributionID) (*engine.IndividualDistribution, error) {
	var d engine.IndividualDistribution
	var distributedAt string
	var returnedAt, idempotencyKey sql.NullString

	err := q.QueryRowContext(ctx,
		`SELECT id, textbook_id, recipient_type, recipient_id, recipient_name, quantity,
		        returned_qty, missing_qty, academic_year, status, distributed_at, returned_at, idempotency_key
		 FROM individual_distributions WHERE id = ?`, id,
	).Scan(&d.ID, &d.TextbookID, &d.RecipientType, &d.RecipientID, &d.RecipientName,
		&d.Quantity, &d.ReturnedQty, &d.MissingQty, &d.AcademicYear, &d.Status,
		&distributedAt, &returnedAt, &idempotencyKey)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	d.DistributedAt, _ = time.Parse(time.RFC3339, distributedAt)
	d.ReturnedAt = parseNullTime(returnedAt)
	d.IdempotencyKey = idempotencyKey.String
	return &d, nil
}

func listIndividualDistributions(ctx context.Context, q querier, academicYear string) ([]engine.IndividualDistribution, error) {
	query := `
		SELECT id, textbook_id, recipient_type, recipient_id, recipient_name, quantity,
		       returned_qty, missing_qty, academic_year, status, distributed_at, returned_at, idempotency_key
		FROM individual_distributions
	`
	var args []any
	if academicYear != "" {
		query += ` WHERE academic_year = ?`
		args = append(args, academicYear)
	}
	query += ` ORDER BY distributed_at DESC, id`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var distributions []engine.IndividualDistribution
	for rows.Next() {
		var d engine.IndividualDistribution
		var distributedAt string
		var returnedAt, idempotencyKey sql.NullString
		if err := rows.Scan(&d.ID, &d.TextbookID, &d.RecipientType, &d.RecipientID,
			&d.RecipientName, &d.Quantity, &d.ReturnedQty, &d.MissingQty,
			&d.AcademicYear, &d.Status, &distributedAt, &returnedAt, &idempotencyKey); err != nil {
			return nil, err
		}
		d.DistributedAt, _ = time.Parse(time.RFC3339, distributedAt)
		d.ReturnedAt = parseNullTime(returnedAt)
		d.IdempotencyKey = idempotencyKey.String
		distributions = append(distributions, d)
	}
	return distributions, rows.Err()
}

func deleteIndividualDistribution(ctx context.Context, q querier, id engine.DistributionID) error {
	_, err := q.ExecContext(ctx, `DELETE FROM individual_distributions WHERE id = ?`, id)
	return err
}

// =============================================================================
// IDEMPOTENCY
// =============================================================================

func (s *Store) HasIdempotencyKey(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return hasIdempotencyKey(ctx, s.db, key)
}

func hasIdempotencyKey(ctx context.Context, q querier, key string) (bool, error) {
	if key == "" {
		return false, nil
	}

	var count int
	err := q.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM distributions WHERE idempotency_key = ?)
		      + (SELECT COUNT(*) FROM individual_distributions WHERE idempotency_key = ?)`,
		key, key,
	).Scan(&count)
	return count > 0, err
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"distribution_details", "distributions", "individual_distributions",
		"textbook_set_items", "textbook_sets",
		"students", "teachers", "branches", "textbooks",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
