package minio

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-analytics/internal/testutil"
	sserr "github.com/StricklySoft/stricklysoft-analytics/pkg/errors"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/metrics"
)

// ===========================================================================
// Mock
// ===========================================================================

type mockObjectStore struct {
	mock.Mock
}

func (m *mockObjectStore) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	args := m.Called(ctx, bucketName, objectName, reader, objectSize, opts)
	return args.Get(0).(minio.UploadInfo), args.Error(1)
}

func (m *mockObjectStore) GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error) {
	args := m.Called(ctx, bucketName, objectName, opts)
	obj, _ := args.Get(0).(*minio.Object)
	return obj, args.Error(1)
}

func (m *mockObjectStore) ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	args := m.Called(ctx, bucketName, opts)
	return args.Get(0).(<-chan minio.ObjectInfo)
}

func (m *mockObjectStore) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	args := m.Called(ctx, bucketName)
	return args.Bool(0), args.Error(1)
}

func (m *mockObjectStore) MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error {
	return m.Called(ctx, bucketName, opts).Error(0)
}

var _ metrics.ObjectPutter = (*Client)(nil)

func objects(infos ...minio.ObjectInfo) <-chan minio.ObjectInfo {
	ch := make(chan minio.ObjectInfo, len(infos))
	for _, i := range infos {
		ch <- i
	}
	close(ch)
	return ch
}

// ===========================================================================
// Construction
// ===========================================================================

func TestNewFromStore(t *testing.T) {
	t.Parallel()
	c := NewFromStore(new(mockObjectStore), &Config{Bucket: "snapshots"})
	assert.Equal(t, "snapshots", c.Bucket())
	assert.NotNil(t, c.tracer)

	c = NewFromStore(new(mockObjectStore), nil)
	assert.Equal(t, DefaultBucket, c.Bucket())
}

func TestNewClient_InvalidConfig(t *testing.T) {
	t.Parallel()
	_, err := NewClient(context.Background(), Config{Endpoint: "localhost:9000"})
	testutil.RequireErrorCode(t, err, sserr.CodeValidation)
}

// ===========================================================================
// Objects
// ===========================================================================

func TestClient_PutObject(t *testing.T) {
	t.Parallel()
	m := new(mockObjectStore)
	m.On("PutObject", mock.Anything, "b", "o.json", mock.Anything, int64(2), mock.Anything).
		Return(minio.UploadInfo{Bucket: "b", Key: "o.json", Size: 2}, nil).Once()
	m.On("PutObject", mock.Anything, "b", "o.json", mock.Anything, int64(2), mock.Anything).
		Return(minio.UploadInfo{}, context.DeadlineExceeded).Once()
	c := NewFromStore(m, nil)

	info, err := c.PutObject(context.Background(), "b", "o.json", strings.NewReader("{}"), 2, minio.PutObjectOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), info.Size)

	_, err = c.PutObject(context.Background(), "b", "o.json", strings.NewReader("{}"), 2, minio.PutObjectOptions{})
	testutil.RequireErrorCode(t, err, sserr.CodeTimeoutDatabase)
	assert.True(t, sserr.IsRetryable(err))
}

func TestClient_ObjectExporterUploadsSnapshot(t *testing.T) {
	t.Parallel()
	m := new(mockObjectStore)
	at := time.Date(2026, 3, 1, 9, 30, 15, 0, time.UTC)
	var body []byte
	m.On("PutObject", mock.Anything, "metrics", "daily/2026/03/01/metrics_093015.json", mock.Anything, mock.Anything,
		mock.MatchedBy(func(o minio.PutObjectOptions) bool { return o.ContentType == "application/json" })).
		Run(func(args mock.Arguments) {
			b, err := io.ReadAll(args.Get(3).(io.Reader))
			require.NoError(t, err)
			body = b
		}).
		Return(minio.UploadInfo{}, nil)

	exp := &metrics.ObjectExporter{Client: NewFromStore(m, nil), Bucket: "metrics", Prefix: "daily"}
	require.NoError(t, exp.Export(context.Background(), metrics.Snapshot{GeneratedAt: at, Points: 3}))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.EqualValues(t, 3, decoded["points"])
}

func TestClient_GetObject_Error(t *testing.T) {
	t.Parallel()
	m := new(mockObjectStore)
	m.On("GetObject", mock.Anything, "b", "missing", mock.Anything).Return(nil, errors.New("NoSuchKey"))

	_, err := NewFromStore(m, nil).GetObject(context.Background(), "b", "missing", minio.GetObjectOptions{})
	testutil.RequireErrorCode(t, err, sserr.CodeInternalDatabase)
	e, ok := sserr.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "missing", e.Details["object"])
}

func TestClient_ListKeys(t *testing.T) {
	t.Parallel()
	m := new(mockObjectStore)
	opts := minio.ListObjectsOptions{Prefix: "daily/", Recursive: true}
	m.On("ListObjects", mock.Anything, "b", opts).
		Return(objects(minio.ObjectInfo{Key: "daily/a.json"}, minio.ObjectInfo{Key: "daily/b.json"})).Once()
	m.On("ListObjects", mock.Anything, "b", opts).
		Return(objects(minio.ObjectInfo{Key: "daily/a.json"}, minio.ObjectInfo{Err: errors.New("access denied")})).Once()
	c := NewFromStore(m, nil)

	keys, err := c.ListKeys(context.Background(), "b", "daily/")
	require.NoError(t, err)
	assert.Equal(t, []string{"daily/a.json", "daily/b.json"}, keys)

	_, err = c.ListKeys(context.Background(), "b", "daily/")
	testutil.RequireErrorCode(t, err, sserr.CodeInternalDatabase)
}

// ===========================================================================
// Buckets and health
// ===========================================================================

func TestClient_EnsureBucket(t *testing.T) {
	t.Parallel()
	m := new(mockObjectStore)
	m.On("BucketExists", mock.Anything, "fresh").Return(false, nil)
	m.On("MakeBucket", mock.Anything, "fresh", minio.MakeBucketOptions{Region: "eu-west-1"}).Return(nil)
	m.On("BucketExists", mock.Anything, "existing").Return(true, nil)
	c := NewFromStore(m, &Config{Region: "eu-west-1"})

	require.NoError(t, c.EnsureBucket(context.Background(), "fresh"))
	require.NoError(t, c.EnsureBucket(context.Background(), "existing"))
	m.AssertExpectations(t)
	m.AssertNumberOfCalls(t, "MakeBucket", 1)
}

func TestClient_EnsureBucket_MakeFails(t *testing.T) {
	t.Parallel()
	m := new(mockObjectStore)
	m.On("BucketExists", mock.Anything, "b").Return(false, nil)
	m.On("MakeBucket", mock.Anything, "b", mock.Anything).Return(errors.New("BucketAlreadyOwnedByYou"))

	err := NewFromStore(m, nil).EnsureBucket(context.Background(), "b")
	testutil.RequireErrorCode(t, err, sserr.CodeInternalDatabase)
}

func TestClient_Health(t *testing.T) {
	t.Parallel()
	m := new(mockObjectStore)
	m.On("BucketExists", mock.MatchedBy(func(ctx context.Context) bool {
		_, ok := ctx.Deadline()
		return ok
	}), DefaultHealthBucket).Return(false, nil).Once()
	m.On("BucketExists", mock.Anything, DefaultHealthBucket).Return(false, errors.New("dial tcp: connection refused")).Once()
	c := NewFromStore(m, nil)

	require.NoError(t, c.Health(context.Background()))
	err := c.Health(context.Background())
	testutil.RequireErrorCode(t, err, sserr.CodeUnavailableDependency)
	m.AssertExpectations(t)
}

func TestWrapError_Canceled(t *testing.T) {
	t.Parallel()
	err := wrapError(context.Canceled, "x")
	assert.Equal(t, sserr.CodeInternalDatabase, err.Code)
	assert.False(t, sserr.IsRetryable(err))
	assert.ErrorIs(t, err, context.Canceled)
}
