package docstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"pii-redactor/internal/envelope"
	"pii-redactor/internal/logger"
	"pii-redactor/internal/pii"
)

const ttl = time.Hour

// fakeClock is a settable time source shared by a store under test.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func testCipher(t *testing.T) *envelope.Cipher {
	t.Helper()
	k, err := envelope.GenerateKey()
	require.NoError(t, err)
	c, err := envelope.New(k)
	require.NoError(t, err)
	return c
}

var sampleAudit = pii.NewAudit([]pii.Span{
	{Start: 0, End: 13, Type: "PHONE_KR", Text: "010-1234-5678", Source: pii.SourceRegex, Confidence: 1},
}, []string{pii.SourceRegex})

// StoreSuite runs the Store contract against one backend.
type StoreSuite struct {
	suite.Suite
	open  func(t *testing.T, clock *fakeClock) Store
	clock *fakeClock
	store Store
}

func (s *StoreSuite) SetupTest() {
	s.clock = &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	s.store = s.open(s.T(), s.clock)
}

func (s *StoreSuite) TearDownTest() {
	s.Require().NoError(s.store.Close())
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, &StoreSuite{open: func(_ *testing.T, clock *fakeClock) Store {
		return NewMemory(ttl, WithClock(clock.Now))
	}})
}

func TestBoltStoreSuite(t *testing.T) {
	suite.Run(t, &StoreSuite{open: func(t *testing.T, clock *fakeClock) Store {
		st, err := OpenBolt(filepath.Join(t.TempDir(), "docs.db"), ttl, testCipher(t), WithClock(clock.Now))
		require.NoError(t, err)
		return st
	}})
}

func (s *StoreSuite) TestPutGet() {
	id, err := s.store.Put("[[PII:PHONE_KR:0123abcd]]", sampleAudit, "v1.opaque")
	s.Require().NoError(err)
	s.Regexp(regexp.MustCompile(`^[0-9a-f]{12}$`), id)

	e, err := s.store.Get(id)
	s.Require().NoError(err)
	s.Equal(id, e.DocID)
	s.Equal("[[PII:PHONE_KR:0123abcd]]", e.MaskedText)
	s.Equal(sampleAudit, e.Audit)
	s.True(e.HasEnvelope())
	s.True(e.CreatedAt.Equal(s.clock.Now()))
}

func (s *StoreSuite) TestPutWithoutEnvelope() {
	id, err := s.store.Put("masked", pii.NewAudit(nil, nil), "")
	s.Require().NoError(err)
	e, err := s.store.Get(id)
	s.Require().NoError(err)
	s.False(e.HasEnvelope())
}

func (s *StoreSuite) TestUniqueIDs() {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id, err := s.store.Put(fmt.Sprintf("doc %d", i), sampleAudit, "")
		s.Require().NoError(err)
		s.False(seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	s.Equal(50, s.store.Len())
}

func (s *StoreSuite) TestGetUnknown() {
	_, err := s.store.Get("000000000000")
	s.ErrorIs(err, ErrNotFound)
}

func (s *StoreSuite) TestTTLBoundary() {
	id, err := s.store.Put("masked", sampleAudit, "")
	s.Require().NoError(err)

	s.clock.Advance(ttl - time.Millisecond)
	_, err = s.store.Get(id)
	s.NoError(err, "entry must be live just before TTL")

	s.clock.Advance(2 * time.Millisecond)
	_, err = s.store.Get(id)
	s.ErrorIs(err, ErrNotFound)
	s.Equal(0, s.store.Len(), "expired entry must be removed on access")

	// No transition back once removed.
	s.clock.Advance(-time.Hour)
	_, err = s.store.Get(id)
	s.ErrorIs(err, ErrNotFound)
}

func (s *StoreSuite) TestSweepRemovesOnlyExpired() {
	old, err := s.store.Put("old", sampleAudit, "")
	s.Require().NoError(err)
	s.clock.Advance(30 * time.Minute)
	fresh, err := s.store.Put("fresh", sampleAudit, "")
	s.Require().NoError(err)

	s.clock.Advance(30*time.Minute + time.Millisecond)
	removed, err := s.store.Sweep()
	s.Require().NoError(err)
	s.Equal(1, removed)
	s.Equal(1, s.store.Len())

	_, err = s.store.Get(old)
	s.ErrorIs(err, ErrNotFound)
	_, err = s.store.Get(fresh)
	s.NoError(err)

	removed, err = s.store.Sweep()
	s.Require().NoError(err)
	s.Zero(removed)
}

func (s *StoreSuite) TestConcurrentAccess() {
	var wg sync.WaitGroup
	ids := make(chan string, 200)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				id, err := s.store.Put("masked", sampleAudit, "")
				if err != nil {
					s.T().Error(err)
					return
				}
				ids <- id
				if _, err := s.store.Get(id); err != nil {
					s.T().Error(err)
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			_, _ = s.store.Sweep()
		}
	}()
	wg.Wait()
	close(ids)

	s.Equal(200, s.store.Len())
	for id := range ids {
		_, err := s.store.Get(id)
		s.NoError(err)
	}
}

func TestBolt_NoPlaintextOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.db")
	st, err := OpenBolt(path, ttl, testCipher(t))
	require.NoError(t, err)

	_, err = st.Put("masked body", sampleAudit, "")
	require.NoError(t, err)
	require.NoError(t, st.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "010-1234-5678")
	require.NotContains(t, string(raw), "masked body")
}

func TestBolt_SurvivesReopenWithSameKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.db")
	c := testCipher(t)

	st, err := OpenBolt(path, ttl, c)
	require.NoError(t, err)
	id, err := st.Put("masked", sampleAudit, "")
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st, err = OpenBolt(path, ttl, c)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck // test cleanup
	e, err := st.Get(id)
	require.NoError(t, err)
	require.Equal(t, "masked", e.MaskedText)
}

func TestBolt_EntryFromOtherKeyIsNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.db")

	st, err := OpenBolt(path, ttl, testCipher(t))
	require.NoError(t, err)
	id, err := st.Put("masked", sampleAudit, "")
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st, err = OpenBolt(path, ttl, testCipher(t))
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck // test cleanup
	require.Equal(t, 1, st.Len())

	_, err = st.Get(id)
	require.ErrorIs(t, err, ErrNotFound)
	require.Zero(t, st.Len(), "unreadable entry should be deleted")

	_, err = st.Get(id)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestOpenBolt_Errors(t *testing.T) {
	_, err := OpenBolt(filepath.Join(t.TempDir(), "x.db"), ttl, nil)
	require.Error(t, err)

	_, err = OpenBolt("/nonexistent/dir/x.db", ttl, testCipher(t))
	require.Error(t, err)
}

type countingStore struct {
	*Memory
	mu    sync.Mutex
	calls int
}

func (c *countingStore) Sweep() (int, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.Memory.Sweep()
}

func TestRunSweeper_EvictsAndStops(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	st := &countingStore{Memory: NewMemory(time.Minute, WithClock(clock.Now))}
	_, err := st.Put("masked", sampleAudit, "")
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)

	swept := make(chan int, 16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunSweeper(ctx, st, 5*time.Millisecond, logger.Discard(), func(n int) {
			select {
			case swept <- n:
			default:
			}
		})
		close(done)
	}()

	select {
	case n := <-swept:
		require.Equal(t, 1, n)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper never ran")
	}
	require.Equal(t, 0, st.Len())

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop on cancel")
	}
}

func TestRunSweeper_DisabledOnZeroInterval(t *testing.T) {
	st := &countingStore{Memory: NewMemory(time.Minute)}
	RunSweeper(context.Background(), st, 0, logger.Discard(), nil)
	require.Zero(t, st.calls)
}
