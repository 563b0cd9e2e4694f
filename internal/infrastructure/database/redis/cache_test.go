package redis

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/GUI0609/rdkit/internal/config"
	"github.com/GUI0609/rdkit/internal/infrastructure/monitoring/logging"
	pkgerrors "github.com/GUI0609/rdkit/pkg/errors"
)

type CacheTestSuite struct {
	suite.Suite
	mr     *miniredis.Miniredis
	client *Client
	cache  HitListCache
}

func (s *CacheTestSuite) SetupTest() {
	s.mr = miniredis.RunT(s.T())
	s.client = NewClientFromRedis(goredis.NewClient(&goredis.Options{Addr: s.mr.Addr()}), logging.NewNopLogger())
	s.cache = NewHitListCache(s.client, logging.NewNopLogger(), WithPrefix("test:"), WithDefaultTTL(10*time.Minute))
}

func (s *CacheTestSuite) TearDownTest() {
	s.client.Close()
}

func (s *CacheTestSuite) TestSetThenGet() {
	ctx := context.Background()
	s.Require().NoError(s.cache.Set(ctx, "k1", []string{"c1", "c2"}))

	ids, err := s.cache.Get(ctx, "k1")
	s.NoError(err)
	s.Equal([]string{"c1", "c2"}, ids)
	s.True(s.mr.Exists("test:k1"))

	ttl := s.mr.TTL("test:k1")
	s.GreaterOrEqual(ttl, 9*time.Minute)
	s.LessOrEqual(ttl, 11*time.Minute)
}

func (s *CacheTestSuite) TestEmptyListIsCached() {
	ctx := context.Background()
	s.Require().NoError(s.cache.Set(ctx, "none", nil))

	ids, err := s.cache.Get(ctx, "none")
	s.NoError(err)
	s.NotNil(ids)
	s.Empty(ids)
}

func (s *CacheTestSuite) TestGet_Miss() {
	_, err := s.cache.Get(context.Background(), "absent")
	s.ErrorIs(err, ErrCacheMiss)
}

func (s *CacheTestSuite) TestGet_CorruptValue() {
	s.Require().NoError(s.mr.Set("test:bad", "{not json"))
	_, err := s.cache.Get(context.Background(), "bad")
	s.True(pkgerrors.IsCode(err, pkgerrors.ErrCodeSerialization))
}

func (s *CacheTestSuite) TestGetOrLoad_MissThenHit() {
	ctx := context.Background()
	var calls int32
	loader := func(context.Context) ([]string, error) {
		atomic.AddInt32(&calls, 1)
		return []string{"c7"}, nil
	}

	ids, hit, err := s.cache.GetOrLoad(ctx, "k", loader)
	s.NoError(err)
	s.False(hit)
	s.Equal([]string{"c7"}, ids)

	ids, hit, err = s.cache.GetOrLoad(ctx, "k", loader)
	s.NoError(err)
	s.True(hit)
	s.Equal([]string{"c7"}, ids)
	s.Equal(int32(1), atomic.LoadInt32(&calls))
}

func (s *CacheTestSuite) TestGetOrLoad_LoaderErrorNotCached() {
	boom := errors.New("query failed")
	_, _, err := s.cache.GetOrLoad(context.Background(), "k", func(context.Context) ([]string, error) {
		return nil, boom
	})
	s.ErrorIs(err, boom)
	s.False(s.mr.Exists("test:k"))
}

func (s *CacheTestSuite) TestGetOrLoad_ServerDownFallsBackToLoader() {
	s.mr.Close()
	ids, hit, err := s.cache.GetOrLoad(context.Background(), "k", func(context.Context) ([]string, error) {
		return []string{"x"}, nil
	})
	s.NoError(err)
	s.False(hit)
	s.Equal([]string{"x"}, ids)
}

func (s *CacheTestSuite) TestGetOrLoad_ConcurrentCallersShareLoad() {
	var calls int32
	release := make(chan struct{})
	loader := func(context.Context) ([]string, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return []string{"a"}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids, _, err := s.cache.GetOrLoad(context.Background(), "shared", loader)
			assert.NoError(s.T(), err)
			assert.Equal(s.T(), []string{"a"}, ids)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	s.LessOrEqual(atomic.LoadInt32(&calls), int32(5))
	s.GreaterOrEqual(atomic.LoadInt32(&calls), int32(1))
}

func (s *CacheTestSuite) TestDelete() {
	ctx := context.Background()
	s.Require().NoError(s.cache.Set(ctx, "a", []string{"1"}))
	s.Require().NoError(s.cache.Set(ctx, "b", []string{"2"}))
	s.Require().NoError(s.cache.Delete(ctx, "a", "b"))
	s.False(s.mr.Exists("test:a"))
	s.False(s.mr.Exists("test:b"))
	s.NoError(s.cache.Delete(ctx))
}

func (s *CacheTestSuite) TestClosedClient() {
	s.Require().NoError(s.client.Close())
	s.NoError(s.client.Close())
	_, err := s.cache.Get(context.Background(), "k")
	s.ErrorIs(err, ErrClientClosed)
	s.ErrorIs(s.client.Ping(context.Background()), ErrClientClosed)
}

func TestCacheTestSuite(t *testing.T) {
	suite.Run(t, new(CacheTestSuite))
}

func TestHitListKey(t *testing.T) {
	a := HitListKey("substructure", "c1ccccc1", "false", "mw > 100")
	b := HitListKey("substructure", "c1ccccc1", "false", "mw > 100")
	c := HitListKey("substructure", "c1ccccc1", "true", "mw > 100")
	d := HitListKey("substructure", "c1ccccc1f", "alse", "mw > 100")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
	assert.Contains(t, a, "hits:substructure:")
}

func TestNewClient(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := NewClient(context.Background(), config.RedisConfig{Addr: mr.Addr()}, logging.NewNopLogger())
	require.NoError(t, err)
	defer c.Close()
	assert.NoError(t, c.Ping(context.Background()))
}

func TestNewClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewClient(context.Background(), config.RedisConfig{Addr: addr, DialTimeout: 200 * time.Millisecond},
		logging.NewNopLogger())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodeCacheError))
}
