package infra

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"lookup-gateway/lookup/domain"
)

func journalRecords() []domain.BatchRecord {
	t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return []domain.BatchRecord{
		{ID: "b2", Keys: []domain.Key{"19", "27"}, CreatedAt: t0.Add(time.Second)},
		{ID: "b1", Keys: []domain.Key{"18547290"}, CreatedAt: t0},
	}
}

func TestRedisJournal_AppendPendingAck(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	j := NewRedisJournal(rdb, WithJournalPrefix("test:journal"), WithJournalOwner("a"))

	for _, rec := range journalRecords() {
		require.NoError(t, j.Append(ctx, rec))
	}
	require.True(t, mr.Exists("test:journal:pending:a"))
	require.True(t, mr.Exists("test:journal:lease:a"))

	got, err := j.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, domain.BatchID("b1"), got[0].ID, "oldest first")
	if diff := cmp.Diff([]domain.Key{"19", "27"}, got[1].Keys); diff != "" {
		t.Fatalf("keys mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, j.Ack(ctx, "b1"))
	got, err = j.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, domain.BatchID("b2"), got[0].ID)
}

func TestRedisJournal_DropsUnreadableRecords(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	j := NewRedisJournal(rdb, WithJournalOwner("a"))

	require.NoError(t, j.Append(ctx, journalRecords()[0]))
	mr.HSet("lookup:journal:pending:a", "garbage", "\xc1not-msgpack")

	got, err := j.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Empty(t, mr.HGet("lookup:journal:pending:a", "garbage"), "unreadable record is dropped")
}

func TestRedisJournal_LiveOwnerRecordsAreNotShared(t *testing.T) {
	ctx := context.Background()
	_, rdb := newTestRedis(t)
	a := NewRedisJournal(rdb, WithJournalOwner("a"))
	b := NewRedisJournal(rdb, WithJournalOwner("b"))

	require.NoError(t, a.Append(ctx, journalRecords()[0]))

	got, err := b.Pending(ctx)
	require.NoError(t, err)
	require.Empty(t, got, "a still holds its lease")

	got, err = a.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestRedisJournal_ClaimsOrphansOnce(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	dead := NewRedisJournal(rdb, WithJournalOwner("dead"), WithJournalLease(30*time.Second))
	for _, rec := range journalRecords() {
		require.NoError(t, dead.Append(ctx, rec))
	}
	mr.FastForward(31 * time.Second)

	b := NewRedisJournal(rdb, WithJournalOwner("b"))
	c := NewRedisJournal(rdb, WithJournalOwner("c"))

	got, err := b.Pending(ctx)
	require.NoError(t, err)
	require.Equal(t, []domain.BatchID{"b1", "b2"}, []domain.BatchID{got[0].ID, got[1].ID})
	require.False(t, mr.Exists("lookup:journal:pending:dead"))

	got, err = c.Pending(ctx)
	require.NoError(t, err)
	require.Empty(t, got, "orphan already claimed by b")

	// o lote tomado passa a ser de b: ack remove de vez
	require.NoError(t, b.Ack(ctx, "b1"))
	require.NoError(t, b.Ack(ctx, "b2"))
	got, err = b.Pending(ctx)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestRedisJournal_HeartbeatKeepsLease(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mr, rdb := newTestRedis(t)
	clock := clockwork.NewFakeClock()
	j := NewRedisJournal(rdb, WithJournalOwner("a"), WithJournalLease(30*time.Second), WithJournalClock(clock))

	require.NoError(t, j.Append(ctx, journalRecords()[0]))
	j.StartHeartbeat(ctx)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	mr.FastForward(20 * time.Second)
	require.Equal(t, 10*time.Second, mr.TTL("lookup:journal:lease:a"))

	clock.Advance(10 * time.Second)
	require.Eventually(t, func() bool {
		return mr.TTL("lookup:journal:lease:a") == 30*time.Second
	}, time.Second, 5*time.Millisecond)
}

func TestMemoryJournal_AppendPendingAck(t *testing.T) {
	ctx := context.Background()
	j := NewMemoryJournal()
	for _, rec := range journalRecords() {
		require.NoError(t, j.Append(ctx, rec))
	}

	got, err := j.Pending(ctx)
	require.NoError(t, err)
	require.Equal(t, []domain.BatchID{"b1", "b2"}, []domain.BatchID{got[0].ID, got[1].ID})

	require.NoError(t, j.Ack(ctx, "b2"))
	got, _ = j.Pending(ctx)
	require.Len(t, got, 1)
}
