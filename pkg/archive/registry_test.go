package archive

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terrycain/tiles-server/pkg/pmtiles/pmtilestest"
	"github.com/terrycain/tiles-server/pkg/s"
	"github.com/terrycain/tiles-server/pkg/storage/source"
)

type countingIssuer struct {
	issued  int32
	refresh atomic.Bool
	delay   time.Duration
	err     error
}

func (c *countingIssuer) Issue(ctx context.Context, id string) (s.Credential, error) {
	atomic.AddInt32(&c.issued, 1)
	time.Sleep(c.delay)
	if c.err != nil {
		return s.Credential{}, c.err
	}
	return s.Credential{ArchiveID: id, Key: id + ".pmtiles", URL: "https://example/" + id, IssuedAt: time.Now(), TTL: time.Hour}, nil
}

func (c *countingIssuer) NeedsRefresh(cred s.Credential) bool { return c.refresh.Load() }

type countingOpener struct {
	opened int32
	data   []byte
}

func (c *countingOpener) Open(cred s.Credential) (source.Source, error) {
	atomic.AddInt32(&c.opened, 1)
	return pmtilestest.NewSource(cred.Key, c.data), nil
}

func testArchive() []byte {
	return pmtilestest.MustBuild(pmtilestest.Archive{
		Tiles: map[pmtilestest.Tile][]byte{{Z: 0, X: 0, Y: 0}: []byte("zero")},
	})
}

func TestConcurrentFirstAccessBuildsOnce(t *testing.T) {
	issuer := &countingIssuer{delay: 50 * time.Millisecond}
	opener := &countingOpener{data: testArchive()}
	registry := NewRegistry(issuer, opener)

	const callers = 32
	handles := make([]*Handle, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := registry.Get(context.Background(), "roads")
			assert.NoError(t, err)
			handles[i] = h
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&issuer.issued))
	assert.Equal(t, int32(1), atomic.LoadInt32(&opener.opened))
	for _, h := range handles {
		assert.Same(t, handles[0], h)
	}
}

func TestHitDoesNoWork(t *testing.T) {
	issuer := &countingIssuer{}
	opener := &countingOpener{data: testArchive()}
	registry := NewRegistry(issuer, opener)
	ctx := context.Background()

	first, err := registry.Get(ctx, "roads")
	require.NoError(t, err)
	second, err := registry.Get(ctx, "roads")
	require.NoError(t, err)
	assert.Same(t, first, second)

	other, err := registry.Get(ctx, "water")
	require.NoError(t, err)
	assert.NotSame(t, first, other)
	assert.Equal(t, 2, registry.Len())
	assert.Equal(t, int32(2), atomic.LoadInt32(&issuer.issued))

	data, err := first.Reader.Tile(ctx, 0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "zero", string(data))
}

func TestExpiringCredentialRebuildsHandle(t *testing.T) {
	issuer := &countingIssuer{}
	opener := &countingOpener{data: testArchive()}
	registry := NewRegistry(issuer, opener)
	ctx := context.Background()

	first, err := registry.Get(ctx, "roads")
	require.NoError(t, err)

	issuer.refresh.Store(true)
	second, err := registry.Get(ctx, "roads")
	require.NoError(t, err)
	issuer.refresh.Store(false)

	assert.NotSame(t, first, second)
	assert.Equal(t, 1, registry.Len())

	third, err := registry.Get(ctx, "roads")
	require.NoError(t, err)
	assert.Same(t, second, third)
}

func TestBuildFailureIsNotStored(t *testing.T) {
	issuer := &countingIssuer{err: errors.New("signing unavailable")}
	registry := NewRegistry(issuer, &countingOpener{data: testArchive()})

	_, err := registry.Get(context.Background(), "roads")
	assert.ErrorContains(t, err, "signing unavailable")
	assert.Equal(t, 0, registry.Len())

	issuer.err = nil
	_, err = registry.Get(context.Background(), "roads")
	assert.NoError(t, err)
}

func TestForget(t *testing.T) {
	issuer := &countingIssuer{}
	registry := NewRegistry(issuer, &countingOpener{data: testArchive()})
	ctx := context.Background()

	first, err := registry.Get(ctx, "roads")
	require.NoError(t, err)
	registry.Forget("roads")
	second, err := registry.Get(ctx, "roads")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}

func TestCanceledCallerDoesNotPoisonBuild(t *testing.T) {
	issuer := &countingIssuer{}
	registry := NewRegistry(issuer, &countingOpener{data: testArchive()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h, err := registry.Get(ctx, "roads")
	require.NoError(t, err)
	assert.Equal(t, "roads", h.ID)
}
