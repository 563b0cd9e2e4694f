package minio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/GUI0609/rdkit/internal/config"
	"github.com/GUI0609/rdkit/internal/infrastructure/monitoring/logging"
	pkgerrors "github.com/GUI0609/rdkit/pkg/errors"
)

type mockObjectAPI struct {
	mock.Mock
	uploaded map[string][]byte
}

func (m *mockObjectAPI) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	args := m.Called(ctx, bucketName)
	return args.Bool(0), args.Error(1)
}

func (m *mockObjectAPI) MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error {
	return m.Called(ctx, bucketName, opts).Error(0)
}

func (m *mockObjectAPI) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	data, _ := io.ReadAll(reader)
	if m.uploaded == nil {
		m.uploaded = make(map[string][]byte)
	}
	m.uploaded[bucketName+"/"+objectName] = data
	args := m.Called(ctx, bucketName, objectName, objectSize, opts.ContentType)
	return args.Get(0).(minio.UploadInfo), args.Error(1)
}

type UploaderTestSuite struct {
	suite.Suite
	api      *mockObjectAPI
	uploader *Uploader
	ctx      context.Context
}

func (s *UploaderTestSuite) SetupTest() {
	s.api = &mockObjectAPI{}
	s.uploader = NewUploaderWithAPI(s.api, logging.NewNopLogger())
	s.ctx = context.Background()
}

func (s *UploaderTestSuite) TearDownTest() {
	s.api.AssertExpectations(s.T())
}

func (s *UploaderTestSuite) TestUpload_CreatesMissingBucketOnce() {
	s.api.On("BucketExists", s.ctx, "results").Return(false, nil).Once()
	s.api.On("MakeBucket", s.ctx, "results", mock.Anything).Return(nil).Once()
	s.api.On("PutObject", s.ctx, "results", "run1/nbrs.csv", int64(5), "text/csv").
		Return(minio.UploadInfo{Size: 5}, nil).Once()
	s.api.On("PutObject", s.ctx, "results", "run1/hits.sdf", int64(-1), "chemical/x-mdl-sdfile").
		Return(minio.UploadInfo{Size: 3}, nil).Once()

	s.Require().NoError(s.uploader.Upload(s.ctx, "results", "run1/nbrs.csv", bytes.NewReader([]byte("a,b,c")), 5, "text/csv"))
	s.Require().NoError(s.uploader.Upload(s.ctx, "results", "run1/hits.sdf", bytes.NewReader([]byte("$$$")), -1, "chemical/x-mdl-sdfile"))
	s.Equal([]byte("a,b,c"), s.api.uploaded["results/run1/nbrs.csv"])
}

func (s *UploaderTestSuite) TestUpload_ExistingBucket() {
	s.api.On("BucketExists", s.ctx, "results").Return(true, nil).Once()
	s.api.On("PutObject", s.ctx, "results", "k", int64(1), "").Return(minio.UploadInfo{Size: 1}, nil)

	s.NoError(s.uploader.Upload(s.ctx, "results", "k", bytes.NewReader([]byte("x")), 1, ""))
	s.api.AssertNotCalled(s.T(), "MakeBucket", mock.Anything, mock.Anything, mock.Anything)
}

func (s *UploaderTestSuite) TestUpload_BucketCheckFails() {
	s.api.On("BucketExists", s.ctx, "results").Return(false, errors.New("access denied"))

	err := s.uploader.Upload(s.ctx, "results", "k", bytes.NewReader(nil), 0, "")
	s.True(pkgerrors.IsCode(err, pkgerrors.CodeStorageError))
}

func (s *UploaderTestSuite) TestUpload_PutFails() {
	s.api.On("BucketExists", s.ctx, "results").Return(true, nil)
	s.api.On("PutObject", s.ctx, "results", "k", int64(0), "").Return(minio.UploadInfo{}, errors.New("timeout"))

	err := s.uploader.Upload(s.ctx, "results", "k", bytes.NewReader(nil), 0, "")
	s.Require().Error(err)
	s.Contains(err.Error(), "results/k")
}

func TestUploaderTestSuite(t *testing.T) {
	suite.Run(t, new(UploaderTestSuite))
}

func TestParseObjectURL(t *testing.T) {
	tests := []struct {
		in          string
		bucket, key string
		ok          bool
	}{
		{"s3://results/run/out.csv", "results", "run/out.csv", true},
		{"s3://results/", "", "", false},
		{"s3://results", "", "", false},
		{"s3:///key", "", "", false},
		{"-", "", "", false},
		{"/tmp/out.csv", "", "", false},
	}
	for _, tt := range tests {
		bucket, key, ok := ParseObjectURL(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.bucket, bucket, tt.in)
		assert.Equal(t, tt.key, key, tt.in)
	}
	assert.True(t, IsObjectURL("s3://x"))
	assert.False(t, IsObjectURL("out.csv"))
}

func TestNewUploader(t *testing.T) {
	_, err := NewUploader(config.MinIOConfig{}, nil)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidParam))

	u, err := NewUploader(config.MinIOConfig{Endpoint: "localhost:9000", AccessKey: "k", SecretKey: "s"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, u)
}
