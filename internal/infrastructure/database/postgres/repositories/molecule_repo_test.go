package repositories

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/GUI0609/rdkit/internal/infrastructure/database/postgres"
	"github.com/GUI0609/rdkit/internal/infrastructure/monitoring/logging"
	pkgerrors "github.com/GUI0609/rdkit/pkg/errors"
)

type MoleculeRepoTestSuite struct {
	suite.Suite
	db   *sql.DB
	mock sqlmock.Sqlmock
	repo *MoleculeRepository
}

var molTable = MoleculeTable{Schema: "compounds", Table: "molecules", IDColumn: "compound_id"}

func (s *MoleculeRepoTestSuite) SetupTest() {
	var err error
	s.db, s.mock, err = sqlmock.New()
	require.NoError(s.T(), err)
	s.repo = NewMoleculeRepository(postgres.NewConnectionWithDB(s.db, nil), logging.NewNopLogger())
}

func (s *MoleculeRepoTestSuite) TearDownTest() {
	s.NoError(s.mock.ExpectationsWereMet())
	s.db.Close()
}

func (s *MoleculeRepoTestSuite) TestCount_WithCondition() {
	s.mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "compounds"."molecules" WHERE mw < 500`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1234))

	n, err := s.repo.Count(context.Background(), molTable, "mw < 500; delete from molecules")
	s.NoError(err)
	s.Equal(int64(1234), n)
}

func (s *MoleculeRepoTestSuite) TestCount_NoCondition() {
	s.mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "compounds"."molecules"`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	n, err := s.repo.Count(context.Background(), molTable, "")
	s.NoError(err)
	s.Equal(int64(7), n)
}

func (s *MoleculeRepoTestSuite) TestPropertyQuery_Success() {
	s.mock.ExpectQuery(regexp.QuoteMeta(`SELECT "compound_id" FROM "compounds"."molecules" WHERE smiles like '%N%'`)).
		WillReturnRows(sqlmock.NewRows([]string{"compound_id"}).AddRow("c1").AddRow("c9"))

	ids, err := s.repo.PropertyQuery(context.Background(), molTable, "smiles like '%N%';drop table molecules")
	s.NoError(err)
	s.Equal([]string{"c1", "c9"}, ids)
}

func (s *MoleculeRepoTestSuite) TestPropertyQuery_NoMatchesIsEmptyNotNil() {
	s.mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"compound_id"}))

	ids, err := s.repo.PropertyQuery(context.Background(), molTable, "1 = 0")
	s.NoError(err)
	s.NotNil(ids)
	s.Empty(ids)
}

func (s *MoleculeRepoTestSuite) TestPropertyQuery_Empty() {
	_, err := s.repo.PropertyQuery(context.Background(), molTable, " ; ")
	s.True(pkgerrors.IsCode(err, pkgerrors.CodeInvalidParam))
}

func (s *MoleculeRepoTestSuite) TestPropertyQuery_SQLError() {
	s.mock.ExpectQuery("SELECT").WillReturnError(errors.New(`column "mw" does not exist`))

	_, err := s.repo.PropertyQuery(context.Background(), molTable, "mw > 1")
	s.True(pkgerrors.IsCode(err, pkgerrors.ErrCodePropertyQueryError))
	s.Contains(err.Error(), "mw > 1")
}

func (s *MoleculeRepoTestSuite) TestTableExists() {
	s.mock.ExpectQuery(regexp.QuoteMeta(`SELECT to_regclass($1)::text`)).
		WithArgs(`"fingerprints"."layeredfps"`).
		WillReturnRows(sqlmock.NewRows([]string{"to_regclass"}).AddRow("fingerprints.layeredfps"))
	s.mock.ExpectQuery(regexp.QuoteMeta(`SELECT to_regclass($1)::text`)).
		WithArgs(`"fingerprints"."missing"`).
		WillReturnRows(sqlmock.NewRows([]string{"to_regclass"}).AddRow(nil))

	ok, err := s.repo.TableExists(context.Background(), "fingerprints", "layeredfps")
	s.NoError(err)
	s.True(ok)
	ok, err = s.repo.TableExists(context.Background(), "fingerprints", "missing")
	s.NoError(err)
	s.False(ok)
}

func (s *MoleculeRepoTestSuite) TestStreamStructures_Screened() {
	s.mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT m."compound_id", m."molpkl", l."layeredfp" FROM "compounds"."molecules" m ` +
			`JOIN "fingerprints"."layeredfps" l USING ("compound_id") WHERE mw > 100`)).
		WillReturnRows(sqlmock.NewRows([]string{"compound_id", "molpkl", "layeredfp"}).
			AddRow("c1", []byte("pkl1"), []byte("scr1")))

	rows, err := s.repo.StreamStructures(context.Background(), molTable, StructureQuery{
		Cond:   "mw > 100",
		Screen: &ScreenTable{Schema: "fingerprints", Table: "layeredfps"},
	})
	s.Require().NoError(err)
	defer rows.Close()

	s.True(rows.Screened())
	s.Require().True(rows.Next())
	id, pkl, scr, err := rows.Row()
	s.NoError(err)
	s.Equal("c1", id)
	s.Equal([]byte("pkl1"), pkl)
	s.Equal([]byte("scr1"), scr)
	s.False(rows.Next())
	s.NoError(rows.Err())
}

func (s *MoleculeRepoTestSuite) TestStreamStructures_ScreenedCondNamesID() {
	s.mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT m."compound_id", m."molpkl", l."layeredfp" FROM "compounds"."molecules" m ` +
			`JOIN "fingerprints"."layeredfps" l USING ("compound_id") WHERE compound_id like 'ZINC%'`)).
		WillReturnRows(sqlmock.NewRows([]string{"compound_id", "molpkl", "layeredfp"}).
			AddRow("ZINC1", []byte("pkl1"), []byte("scr1")))

	rows, err := s.repo.StreamStructures(context.Background(), molTable, StructureQuery{
		Cond:   "compound_id like 'ZINC%'",
		Screen: &ScreenTable{Schema: "fingerprints", Table: "layeredfps"},
	})
	s.Require().NoError(err)
	defer rows.Close()

	s.Require().True(rows.Next())
	id, _, _, err := rows.Row()
	s.NoError(err)
	s.Equal("ZINC1", id)
}

func (s *MoleculeRepoTestSuite) TestStreamStructures_Unscreened() {
	s.mock.ExpectQuery(regexp.QuoteMeta(`SELECT m."compound_id", m."molpkl" FROM "compounds"."molecules" m`)).
		WillReturnRows(sqlmock.NewRows([]string{"compound_id", "molpkl"}).
			AddRow("c1", []byte("a")).AddRow("c2", []byte("b")))

	rows, err := s.repo.StreamStructures(context.Background(), molTable, StructureQuery{})
	s.Require().NoError(err)
	defer rows.Close()

	var ids []string
	for rows.Next() {
		id, _, scr, err := rows.Row()
		s.NoError(err)
		s.Nil(scr)
		ids = append(ids, id)
	}
	s.Equal([]string{"c1", "c2"}, ids)
}

func (s *MoleculeRepoTestSuite) TestExportColumns_Reorders() {
	s.mock.ExpectQuery("SELECT column_name FROM information_schema.columns").
		WithArgs("compounds", "molecules").
		WillReturnRows(sqlmock.NewRows([]string{"column_name"}).
			AddRow("guid").AddRow("molpkl").AddRow("Compound_ID").AddRow("smiles").AddRow("mw"))

	cols, err := s.repo.ExportColumns(context.Background(), molTable)
	s.NoError(err)
	s.Equal([]string{"compound_id", "smiles", "mw", "molpkl"}, cols)
}

func (s *MoleculeRepoTestSuite) TestExportColumns_NoMolPkl() {
	s.mock.ExpectQuery("SELECT column_name").
		WillReturnRows(sqlmock.NewRows([]string{"column_name"}).AddRow("compound_id").AddRow("smiles"))

	_, err := s.repo.ExportColumns(context.Background(), molTable)
	s.True(pkgerrors.IsCode(err, pkgerrors.ErrCodeNotFound))
}

func (s *MoleculeRepoTestSuite) TestExportMolecules() {
	cols := []string{"compound_id", "smiles", "mw", "molpkl"}
	ids := []string{"c2", "c1"}
	s.mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT "compound_id", "smiles", "mw", "molpkl" FROM "compounds"."molecules" WHERE "compound_id" = ANY($1) ORDER BY "compound_id"`)).
		WithArgs(pq.Array(ids)).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("c1", "CCO", 46.07, []byte("pkl-1")).
			AddRow("c2", "c1ccccc1", nil, []byte("pkl-2")))

	var got []ExportRecord
	err := s.repo.ExportMolecules(context.Background(), molTable, cols, ids, func(r ExportRecord) error {
		got = append(got, r)
		return nil
	})
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Equal("c1", got[0].ID)
	s.Equal([]string{"smiles", "mw"}, got[0].Fields)
	s.Equal([]string{"CCO", "46.07"}, got[0].Values)
	s.Equal([]byte("pkl-1"), got[0].MolPkl)
	s.Equal([]string{"c1ccccc1", ""}, got[1].Values)
}

func (s *MoleculeRepoTestSuite) TestExportMolecules_NoIDs() {
	err := s.repo.ExportMolecules(context.Background(), molTable, []string{"compound_id", "molpkl"}, nil,
		func(ExportRecord) error { s.Fail("unexpected record"); return nil })
	s.NoError(err)
}

func (s *MoleculeRepoTestSuite) TestExportMolecules_CallbackErrorStops() {
	s.mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"compound_id", "molpkl"}).
		AddRow("c1", []byte("x")).AddRow("c2", []byte("y")))

	boom := errors.New("disk full")
	calls := 0
	err := s.repo.ExportMolecules(context.Background(), molTable, []string{"compound_id", "molpkl"}, []string{"c1", "c2"},
		func(ExportRecord) error { calls++; return boom })
	s.ErrorIs(err, boom)
	s.Equal(1, calls)
}

func TestMoleculeRepoTestSuite(t *testing.T) {
	suite.Run(t, new(MoleculeRepoTestSuite))
}
