package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatlog/internal/store"
	"threatlog/pkg/models"
)

var base = time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

func appendAt(t *testing.T, s *Store, ev models.Event, ts time.Time) {
	t.Helper()
	ev.Timestamp = ts
	require.NoError(t, s.Append(context.Background(), &ev))
}

func TestCountMatchingIsScopedToTenant(t *testing.T) {
	s := New(Config{})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		appendAt(t, s, models.Event{Owner: "t1", SourceIP: "10.0.0.1"}, base.Add(time.Duration(i)*time.Second))
	}
	appendAt(t, s, models.Event{Owner: "t2", SourceIP: "10.0.0.1"}, base.Add(3*time.Second))

	n, err := s.CountMatching(ctx, store.Query{Owner: "t1", SourceIP: "10.0.0.1", Since: base})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.CountMatching(ctx, store.Query{Owner: "t2", SourceIP: "10.0.0.1", Since: base})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.CountMatching(ctx, store.Query{Owner: "t3", SourceIP: "10.0.0.1", Since: base})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCountMatchingHonorsWindowStart(t *testing.T) {
	s := New(Config{})
	appendAt(t, s, models.Event{Owner: "t1", SourceIP: "1.1.1.1"}, base)
	appendAt(t, s, models.Event{Owner: "t1", SourceIP: "1.1.1.1"}, base.Add(20*time.Second))

	n, err := s.CountMatching(context.Background(), store.Query{Owner: "t1", SourceIP: "1.1.1.1", Since: base.Add(10 * time.Second)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCountMatchingAppliesTextFilter(t *testing.T) {
	s := New(Config{})
	appendAt(t, s, models.Event{Owner: "t1", SourceIP: "1.1.1.1", Text: "FAILED LOGIN"}, base)
	appendAt(t, s, models.Event{Owner: "t1", SourceIP: "1.1.1.1", Text: "login ok"}, base.Add(time.Second))
	appendAt(t, s, models.Event{Owner: "t1", SourceIP: "1.1.1.1", Text: "failed login attempt"}, base.Add(2*time.Second))

	n, err := s.CountMatching(context.Background(), store.Query{
		Owner: "t1", SourceIP: "1.1.1.1", Since: base,
		Filter: store.Filter{TextContains: "failed login"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestDistinctMatchingPorts(t *testing.T) {
	s := New(Config{})
	for i, p := range []int{22, 80, 22, 443} {
		appendAt(t, s, models.Event{Owner: "t1", SourceIP: "1.1.1.1", DestinationPort: models.IntPtr(p)}, base.Add(time.Duration(i)*time.Second))
	}
	appendAt(t, s, models.Event{Owner: "t1", SourceIP: "1.1.1.1"}, base.Add(5*time.Second))

	ports, err := s.DistinctMatching(context.Background(), store.Query{
		Owner: "t1", SourceIP: "1.1.1.1", Since: base,
		Filter: store.Filter{RequireDestinationPort: true},
	}, store.FieldDestinationPort)
	require.NoError(t, err)
	assert.Equal(t, []string{"22", "80", "443"}, ports)
}

func TestAppendKeepsTimestampsMonotonic(t *testing.T) {
	s := New(Config{})
	first := models.Event{Owner: "t1", SourceIP: "1.1.1.1", Timestamp: base}
	second := models.Event{Owner: "t1", SourceIP: "1.1.1.1", Timestamp: base}
	require.NoError(t, s.Append(context.Background(), &first))
	require.NoError(t, s.Append(context.Background(), &second))
	assert.True(t, second.Timestamp.After(first.Timestamp))
}

func TestAppendRejectsMissingOwner(t *testing.T) {
	s := New(Config{})
	assert.ErrorIs(t, s.Append(context.Background(), &models.Event{SourceIP: "1.1.1.1"}), models.ErrMissingOwner)
}

func TestRetentionPrunesOldEvents(t *testing.T) {
	s := New(Config{Retention: time.Minute})
	appendAt(t, s, models.Event{Owner: "t1", SourceIP: "1.1.1.1"}, base)
	appendAt(t, s, models.Event{Owner: "t1", SourceIP: "1.1.1.1"}, base.Add(2*time.Minute))

	n, err := s.CountMatching(context.Background(), store.Query{Owner: "t1", SourceIP: "1.1.1.1"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestConcurrentAppendAndRead(t *testing.T) {
	s := New(Config{})
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ev := &models.Event{Owner: "t1", SourceIP: "1.1.1.1", Timestamp: time.Now()}
			_ = s.Append(ctx, ev)
			_, _ = s.CountMatching(ctx, store.Query{Owner: "t1", SourceIP: "1.1.1.1"})
		}()
	}
	wg.Wait()

	n, err := s.CountMatching(ctx, store.Query{Owner: "t1", SourceIP: "1.1.1.1"})
	require.NoError(t, err)
	assert.Equal(t, 20, n)
}

func TestAnalyticsAreTenantScoped(t *testing.T) {
	s := New(Config{Retention: -1})
	ctx := context.Background()
	appendAt(t, s, models.Event{Owner: "t1", SourceIP: "1.1.1.1", Text: "failed login", Severity: models.SeverityMedium}, base)
	appendAt(t, s, models.Event{Owner: "t1", SourceIP: "1.1.1.2", Text: "failed login", Severity: models.SeverityMedium}, base.Add(time.Second))
	appendAt(t, s, models.Event{Owner: "t1", Text: "brute force failed login", Severity: models.SeverityHigh}, base.Add(2*time.Second))
	appendAt(t, s, models.Event{Owner: "t2", Text: "attack", Severity: models.SeverityHigh}, base.Add(3*time.Second))

	counts, err := s.SeverityCounts(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []models.SeverityCount{
		{Severity: models.SeverityHigh, Count: 1},
		{Severity: models.SeverityMedium, Count: 2},
	}, counts)

	top, err := s.TopEvents(ctx, "t1", 1)
	require.NoError(t, err)
	assert.Equal(t, []models.EventCount{{Event: "failed login", Count: 2}}, top)

	recent, err := s.RecentBySeverity(ctx, "t1", models.SeverityHigh, 5)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "t1", recent[0].Owner)
}

func TestSweepDropsIdleBuckets(t *testing.T) {
	s := New(Config{Retention: time.Minute})
	for i := 0; i < 1000; i++ {
		ip := fmt.Sprintf("10.%d.%d.1", i/256, i%256)
		appendAt(t, s, models.Event{Owner: "t1", SourceIP: ip}, base)
	}
	appendAt(t, s, models.Event{Owner: "t2", SourceIP: "1.1.1.1"}, base.Add(24*time.Hour))

	buckets, events := s.size()
	assert.Equal(t, 1, buckets)
	assert.Equal(t, 1, events)

	counts, err := s.SeverityCounts(context.Background(), "t1")
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestAnalyticsSkipEventsPastRetention(t *testing.T) {
	s := New(Config{Retention: time.Minute})
	ctx := context.Background()
	appendAt(t, s, models.Event{Owner: "t1", SourceIP: "1.1.1.1", Text: "old", Severity: models.SeverityHigh}, base)
	appendAt(t, s, models.Event{Owner: "t1", SourceIP: "1.1.1.2", Text: "new", Severity: models.SeverityHigh}, base.Add(30*time.Second))
	appendAt(t, s, models.Event{Owner: "t1", SourceIP: "1.1.1.2", Text: "new", Severity: models.SeverityHigh}, base.Add(90*time.Second))

	top, err := s.TopEvents(ctx, "t1", 5)
	require.NoError(t, err)
	assert.Equal(t, []models.EventCount{{Event: "new", Count: 2}}, top)
}
