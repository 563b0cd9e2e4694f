package repositories

import (
	"context"
	"database/sql"
	"strings"

	"github.com/lib/pq"

	"github.com/GUI0609/rdkit/internal/infrastructure/database/postgres"
	"github.com/GUI0609/rdkit/internal/infrastructure/monitoring/logging"
	"github.com/GUI0609/rdkit/pkg/errors"
)

// MolPklColumn holds the serialized molecule in the molecule table.
const MolPklColumn = "molpkl"

// LayeredColumn holds the substructure screen in the layered table.
const LayeredColumn = "layeredfp"

// MoleculeTable names the molecule table and its id column.
type MoleculeTable struct {
	Schema   string
	Table    string
	IDColumn string
}

// ScreenTable names the layered screen table joined during substructure
// scans.
type ScreenTable struct {
	Schema string
	Table  string
}

// MoleculeRepository queries the molecule table.
type MoleculeRepository struct {
	conn *postgres.Connection
	log  logging.Logger
}

// NewMoleculeRepository constructs a MoleculeRepository.
func NewMoleculeRepository(conn *postgres.Connection, log logging.Logger) *MoleculeRepository {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &MoleculeRepository{conn: conn, log: log}
}

func whereClause(cond string) string {
	cond = firstStatement(cond)
	if cond == "" {
		return ""
	}
	return " WHERE " + cond
}

// ─────────────────────────────────────────────────────────────────────────────
// Count / PropertyQuery
// ─────────────────────────────────────────────────────────────────────────────

// Count returns the number of molecules matching the optional raw SQL
// condition.
func (r *MoleculeRepository) Count(ctx context.Context, t MoleculeTable, cond string) (int64, error) {
	var n int64
	query := "SELECT count(*) FROM " + qualify(t.Schema, t.Table) + whereClause(cond)
	if err := r.conn.DB().QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, errors.Wrap(err, errors.ErrCodePropertyQueryError, "failed to count molecules")
	}
	return n, nil
}

// PropertyQuery returns the ids of molecules matching cond, a raw SQL
// condition over the molecule table.  Only the text before the first ';' is
// used.
func (r *MoleculeRepository) PropertyQuery(ctx context.Context, t MoleculeTable, cond string) ([]string, error) {
	where := whereClause(cond)
	if where == "" {
		return nil, errors.InvalidParam("property query is empty")
	}
	query := "SELECT " + quoteCols(t.IDColumn) + " FROM " + qualify(t.Schema, t.Table) + where
	rows, err := r.conn.DB().QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodePropertyQueryError, "property query failed").
			WithDetail(firstStatement(cond))
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id sql.NullString
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodePropertyQueryError, "failed to scan molecule id")
		}
		ids = append(ids, id.String)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodePropertyQueryError, "property query failed")
	}
	return ids, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Structure streaming
// ─────────────────────────────────────────────────────────────────────────────

// TableExists reports whether schema.table exists.
func (r *MoleculeRepository) TableExists(ctx context.Context, schema, table string) (bool, error) {
	var name sql.NullString
	err := r.conn.DB().QueryRowContext(ctx, "SELECT to_regclass($1)::text", qualify(schema, table)).Scan(&name)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to look up table")
	}
	return name.Valid, nil
}

// StructureQuery selects the molecules streamed by StreamStructures.
type StructureQuery struct {
	// Cond is an optional raw SQL condition over the molecule table.
	Cond string
	// Screen, when set, joins the layered table so each row carries its
	// screen blob.
	Screen *ScreenTable
}

// StreamStructures streams (id, molpkl[, screen]) rows of the molecule table.
func (r *MoleculeRepository) StreamStructures(ctx context.Context, t MoleculeTable, q StructureQuery) (*StructureRows, error) {
	var sb strings.Builder
	sb.WriteString("SELECT m.")
	sb.WriteString(quoteCols(t.IDColumn))
	sb.WriteString(", m.")
	sb.WriteString(quoteCols(MolPklColumn))
	if q.Screen != nil {
		sb.WriteString(", l.")
		sb.WriteString(quoteCols(LayeredColumn))
	}
	sb.WriteString(" FROM ")
	sb.WriteString(qualify(t.Schema, t.Table))
	sb.WriteString(" m")
	if q.Screen != nil {
		sb.WriteString(" JOIN ")
		sb.WriteString(qualify(q.Screen.Schema, q.Screen.Table))
		// USING merges the id columns, so Cond may name the id unqualified.
		sb.WriteString(" l USING (")
		sb.WriteString(quoteCols(t.IDColumn))
		sb.WriteString(")")
	}
	sb.WriteString(whereClause(q.Cond))

	rows, err := r.conn.DB().QueryContext(ctx, sb.String())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSubstructureSearchFailed, "failed to query molecules")
	}
	return &StructureRows{rows: rows, screened: q.Screen != nil}, nil
}

// StructureRows iterates the rows of StreamStructures.
type StructureRows struct {
	rows     *sql.Rows
	screened bool

	id     string
	molPkl []byte
	screen []byte
	err    error
}

// Next advances to the next row.  Scan failures are reported by Row.
func (s *StructureRows) Next() bool {
	if !s.rows.Next() {
		return false
	}
	var id sql.NullString
	s.molPkl, s.screen = nil, nil
	if s.screened {
		s.err = s.rows.Scan(&id, &s.molPkl, &s.screen)
	} else {
		s.err = s.rows.Scan(&id, &s.molPkl)
	}
	s.id = id.String
	return true
}

// Row returns the current id, serialized molecule and screen blob (nil when
// unscreened).
func (s *StructureRows) Row() (id string, molPkl, screen []byte, err error) {
	return s.id, s.molPkl, s.screen, s.err
}

func (s *StructureRows) Screened() bool { return s.screened }

func (s *StructureRows) Err() error { return s.rows.Err() }

func (s *StructureRows) Close() error { return s.rows.Close() }

// ─────────────────────────────────────────────────────────────────────────────
// Export
// ─────────────────────────────────────────────────────────────────────────────

// ExportRecord is one molecule row prepared for SD or SMILES output.
type ExportRecord struct {
	ID     string
	Fields []string
	Values []string
	MolPkl []byte
}

// ExportColumns returns the molecule table's columns in table order with the
// id column first, molpkl last and a leading "guid" column dropped.
func (r *MoleculeRepository) ExportColumns(ctx context.Context, t MoleculeTable) ([]string, error) {
	schema := t.Schema
	if schema == "" {
		schema = "public"
	}
	rows, err := r.conn.DB().QueryContext(ctx,
		`SELECT column_name FROM information_schema.columns
		 WHERE table_schema = $1 AND table_name = $2 ORDER BY ordinal_position`, schema, t.Table)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to list molecule columns")
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to list molecule columns")
		}
		cols = append(cols, strings.ToLower(c))
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to list molecule columns")
	}
	if len(cols) == 0 {
		return nil, errors.NotFound("molecule table has no columns").WithDetail(qualify(t.Schema, t.Table))
	}
	if cols[0] == "guid" {
		cols = cols[1:]
	}

	idCol := strings.ToLower(t.IDColumn)
	ordered := []string{idCol}
	hasPkl := false
	for _, c := range cols {
		switch c {
		case idCol:
		case MolPklColumn:
			hasPkl = true
		default:
			ordered = append(ordered, c)
		}
	}
	if !hasPkl {
		return nil, errors.NotFound("molecule table has no molpkl column").WithDetail(qualify(t.Schema, t.Table))
	}
	return append(ordered, MolPklColumn), nil
}

// ExportMolecules calls fn for every molecule whose id is in ids, ordered by
// id.  cols comes from ExportColumns.
func (r *MoleculeRepository) ExportMolecules(ctx context.Context, t MoleculeTable, cols []string, ids []string, fn func(ExportRecord) error) error {
	if len(ids) == 0 {
		return nil
	}
	if len(cols) < 2 {
		return errors.InvalidParam("export needs the id and molpkl columns")
	}
	idCol := quoteCols(t.IDColumn)
	query := "SELECT " + quoteCols(cols...) + " FROM " + qualify(t.Schema, t.Table) +
		" WHERE " + idCol + " = ANY($1) ORDER BY " + idCol
	rows, err := r.conn.DB().QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to fetch molecules for export")
	}
	defer rows.Close()

	fields := cols[1 : len(cols)-1]
	for rows.Next() {
		raw := make([][]byte, len(cols))
		dest := make([]interface{}, len(cols))
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan exported molecule")
		}
		rec := ExportRecord{
			ID:     string(raw[0]),
			Fields: fields,
			Values: make([]string, len(fields)),
			MolPkl: raw[len(raw)-1],
		}
		for i := range fields {
			rec.Values[i] = string(raw[i+1])
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to fetch molecules for export")
	}
	return nil
}
