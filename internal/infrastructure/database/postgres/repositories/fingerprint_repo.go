package repositories

import (
	"context"
	"database/sql"

	"github.com/GUI0609/rdkit/internal/domain/molecule"
	"github.com/GUI0609/rdkit/internal/infrastructure/database/postgres"
	"github.com/GUI0609/rdkit/internal/infrastructure/monitoring/logging"
	"github.com/GUI0609/rdkit/pkg/errors"
)

// FingerprintTable names a fingerprint column and the table holding it.
type FingerprintTable struct {
	Schema   string
	Table    string
	IDColumn string
	FPColumn string
}

func (t FingerprintTable) String() string {
	return t.Schema + "." + t.Table + "." + t.FPColumn
}

// FingerprintRepository reads fingerprint tables.
type FingerprintRepository struct {
	conn *postgres.Connection
	log  logging.Logger
}

// NewFingerprintRepository constructs a FingerprintRepository.
func NewFingerprintRepository(conn *postgres.Connection, log logging.Logger) *FingerprintRepository {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &FingerprintRepository{conn: conn, log: log}
}

// OpenPool starts streaming (id, fingerprint) rows of t.  A nil ids scans the
// whole table.  A non-nil ids restricts the scan to those ids through a
// temporary table joined on the id column; an empty slice yields an empty
// pool without touching the database.  The caller must Close the pool.
func (r *FingerprintRepository) OpenPool(ctx context.Context, t FingerprintTable, ids []string) (*FingerprintPool, error) {
	if ids != nil && len(ids) == 0 {
		return &FingerprintPool{}, nil
	}

	query := "SELECT " + quoteCols(t.IDColumn, t.FPColumn) + " FROM " + qualify(t.Schema, t.Table)
	if ids == nil {
		rows, err := r.conn.DB().QueryContext(ctx, query)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to query fingerprint table").
				WithDetail(t.String())
		}
		return &FingerprintPool{rows: rows}, nil
	}

	tx, err := r.conn.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to begin pool transaction")
	}
	if err := loadTempIDs(ctx, tx, t.IDColumn, ids); err != nil {
		_ = tx.Rollback()
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to load id filter")
	}
	query += " JOIN " + tempIDTable + " USING (" + quoteCols(t.IDColumn) + ")"
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to query fingerprint table").
			WithDetail(t.String())
	}
	r.log.Debug("fingerprint pool restricted", logging.String("table", t.String()), logging.Int("ids", len(ids)))
	return &FingerprintPool{rows: rows, tx: tx}, nil
}

// FingerprintPool adapts a fingerprint query to molecule.Pool.  Rows whose
// blob does not decode surface as entry errors, not as pool errors.
type FingerprintPool struct {
	rows *sql.Rows
	tx   *sql.Tx

	id  string
	fp  molecule.Fingerprint
	err error
}

var _ molecule.Pool = (*FingerprintPool)(nil)

func (p *FingerprintPool) Next() bool {
	if p.rows == nil || !p.rows.Next() {
		return false
	}
	var id sql.NullString
	var blob []byte
	p.fp = nil
	if err := p.rows.Scan(&id, &blob); err != nil {
		p.id, p.err = "", err
		return true
	}
	p.id = id.String
	if blob == nil {
		p.err = errors.New(errors.ErrCodeFingerprintDecodeFailed, "fingerprint is NULL")
		return true
	}
	p.fp, p.err = molecule.DecodeFingerprint(blob)
	return true
}

func (p *FingerprintPool) Entry() (string, molecule.Fingerprint, error) {
	return p.id, p.fp, p.err
}

func (p *FingerprintPool) Err() error {
	if p.rows == nil {
		return nil
	}
	return p.rows.Err()
}

// Close releases the rows and ends the filter transaction, dropping the
// temporary table.
func (p *FingerprintPool) Close() error {
	var err error
	if p.rows != nil {
		err = p.rows.Close()
	}
	if p.tx != nil {
		if rbErr := p.tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone && err == nil {
			err = rbErr
		}
	}
	return err
}
