package repositories

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/GUI0609/rdkit/internal/domain/molecule"
	"github.com/GUI0609/rdkit/internal/infrastructure/database/postgres"
	"github.com/GUI0609/rdkit/internal/infrastructure/monitoring/logging"
	pkgerrors "github.com/GUI0609/rdkit/pkg/errors"
)

type FingerprintRepoTestSuite struct {
	suite.Suite
	db   *sql.DB
	mock sqlmock.Sqlmock
	repo *FingerprintRepository
}

var rdkTable = FingerprintTable{Schema: "fingerprints", Table: "rdkitfps", IDColumn: "compound_id", FPColumn: "rdkfp"}

func (s *FingerprintRepoTestSuite) SetupTest() {
	var err error
	s.db, s.mock, err = sqlmock.New()
	require.NoError(s.T(), err)
	s.repo = NewFingerprintRepository(postgres.NewConnectionWithDB(s.db, nil), logging.NewNopLogger())
}

func (s *FingerprintRepoTestSuite) TearDownTest() {
	assert.NoError(s.T(), s.mock.ExpectationsWereMet())
	s.db.Close()
}

func encodeBits(t require.TestingT, n int, on ...int) []byte {
	b, err := molecule.EncodeFingerprint(molecule.BitVectorFromOnBits(n, on...))
	require.NoError(t, err)
	return b
}

func (s *FingerprintRepoTestSuite) TestOpenPool_FullTable() {
	s.mock.ExpectQuery(regexp.QuoteMeta(`SELECT "compound_id", "rdkfp" FROM "fingerprints"."rdkitfps"`)).
		WillReturnRows(sqlmock.NewRows([]string{"compound_id", "rdkfp"}).
			AddRow("m1", encodeBits(s.T(), 64, 1, 2)).
			AddRow("m2", []byte{0xff}).
			AddRow("m3", nil))

	pool, err := s.repo.OpenPool(context.Background(), rdkTable, nil)
	s.Require().NoError(err)
	defer pool.Close()

	s.Require().True(pool.Next())
	id, fp, err := pool.Entry()
	s.NoError(err)
	s.Equal("m1", id)
	s.Equal(2, fp.(*molecule.BitVector).Count())

	s.Require().True(pool.Next())
	id, fp, err = pool.Entry()
	s.Equal("m2", id)
	s.Nil(fp)
	s.True(pkgerrors.IsCode(err, pkgerrors.ErrCodeFingerprintDecodeFailed))

	s.Require().True(pool.Next())
	_, _, err = pool.Entry()
	s.True(pkgerrors.IsCode(err, pkgerrors.ErrCodeFingerprintDecodeFailed))

	s.False(pool.Next())
	s.NoError(pool.Err())
}

func (s *FingerprintRepoTestSuite) TestOpenPool_RestrictedToIDs() {
	ids := []string{"m1", "m7"}
	s.mock.ExpectBegin()
	s.mock.ExpectExec(regexp.QuoteMeta(`CREATE TEMPORARY TABLE _tmptbl ("compound_id" TEXT) ON COMMIT DROP`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	s.mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO _tmptbl SELECT unnest($1::text[])`)).
		WithArgs(pq.Array(ids)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	s.mock.ExpectQuery(regexp.QuoteMeta(`SELECT "compound_id", "rdkfp" FROM "fingerprints"."rdkitfps" JOIN _tmptbl USING ("compound_id")`)).
		WillReturnRows(sqlmock.NewRows([]string{"compound_id", "rdkfp"}).AddRow("m7", encodeBits(s.T(), 64, 3)))
	s.mock.ExpectRollback()

	pool, err := s.repo.OpenPool(context.Background(), rdkTable, ids)
	s.Require().NoError(err)

	s.Require().True(pool.Next())
	id, _, err := pool.Entry()
	s.NoError(err)
	s.Equal("m7", id)
	s.False(pool.Next())
	s.NoError(pool.Close())
}

func (s *FingerprintRepoTestSuite) TestOpenPool_EmptyFilterIsEmptyPool() {
	pool, err := s.repo.OpenPool(context.Background(), rdkTable, []string{})
	s.Require().NoError(err)
	s.False(pool.Next())
	s.NoError(pool.Err())
	s.NoError(pool.Close())
}

func (s *FingerprintRepoTestSuite) TestOpenPool_TempTableFailureRollsBack() {
	s.mock.ExpectBegin()
	s.mock.ExpectExec("CREATE TEMPORARY TABLE").WillReturnError(errors.New("permission denied"))
	s.mock.ExpectRollback()

	_, err := s.repo.OpenPool(context.Background(), rdkTable, []string{"m1"})
	s.True(pkgerrors.IsCode(err, pkgerrors.ErrCodeDatabaseError))
}

func (s *FingerprintRepoTestSuite) TestOpenPool_QueryFailure() {
	s.mock.ExpectQuery("SELECT").WillReturnError(errors.New("relation does not exist"))

	_, err := s.repo.OpenPool(context.Background(), rdkTable, nil)
	s.Require().Error(err)
	s.True(pkgerrors.IsCode(err, pkgerrors.ErrCodeDatabaseError))
	s.Contains(err.Error(), "fingerprints.rdkitfps.rdkfp")
}

func (s *FingerprintRepoTestSuite) TestOpenPool_RowErrorSurfacesAsPoolError() {
	s.mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"compound_id", "rdkfp"}).
		AddRow("m1", encodeBits(s.T(), 8, 1)).
		RowError(0, errors.New("connection reset")))

	pool, err := s.repo.OpenPool(context.Background(), rdkTable, nil)
	s.Require().NoError(err)
	s.False(pool.Next())
	s.Error(pool.Err())
}

func (s *FingerprintRepoTestSuite) TestPoolDrivesNeighborSearch() {
	s.mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"compound_id", "rdkfp"}).
		AddRow("a", encodeBits(s.T(), 16, 1, 2, 3)).
		AddRow("b", encodeBits(s.T(), 16, 1)).
		AddRow("c", []byte("junk")))

	pool, err := s.repo.OpenPool(context.Background(), rdkTable, nil)
	s.Require().NoError(err)
	defer pool.Close()

	probe := molecule.BitVectorFromOnBits(16, 1, 2, 3)
	var stats molecule.ScanStats
	lists, err := molecule.GetNeighborLists(context.Background(), []molecule.Fingerprint{probe}, 2, pool,
		molecule.Tanimoto{}, molecule.WithStats(&stats))
	s.Require().NoError(err)
	lists[0].Reverse()
	s.Equal([]string{"a", "b"}, lists[0].Identifiers())
	s.Equal(int64(3), stats.Rows)
	s.Equal(int64(1), stats.Degraded)
}

func TestFingerprintRepoTestSuite(t *testing.T) {
	suite.Run(t, new(FingerprintRepoTestSuite))
}

func TestQualifyAndFirstStatement(t *testing.T) {
	assert.Equal(t, `"compounds"."molecules"`, qualify("compounds", "molecules"))
	assert.Equal(t, `"molecules"`, qualify("", "molecules"))
	assert.Equal(t, `"a", "b"`, quoteCols("a", "b"))
	assert.Equal(t, "mw > 300", firstStatement(" mw > 300 ; drop table molecules"))
	assert.Equal(t, "", firstStatement(";"))
}
