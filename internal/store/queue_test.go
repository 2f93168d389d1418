package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestUpsertQueueEntryKeepsFIFOPositionInSameBucket(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		p := mustCreatePlayer(t, repo, "alice")
		t0 := testNow()

		first, err := repo.UpsertQueueEntry(ctx, JoinQueueParams{PlayerID: p, Subject: "math", Level: "A1", Now: t0})
		if err != nil {
			t.Fatalf("join: %v", err)
		}
		again, err := repo.UpsertQueueEntry(ctx, JoinQueueParams{PlayerID: p, Subject: "math", Level: "A1", Now: t0.Add(3 * time.Second)})
		if err != nil {
			t.Fatalf("rejoin: %v", err)
		}
		if !again.JoinedAt.Equal(first.JoinedAt) {
			t.Fatalf("joined_at moved: %v -> %v", first.JoinedAt, again.JoinedAt)
		}
		if !again.LastHeartbeat.Equal(t0.Add(3 * time.Second)) {
			t.Fatalf("heartbeat not refreshed: %v", again.LastHeartbeat)
		}

		moved, err := repo.UpsertQueueEntry(ctx, JoinQueueParams{PlayerID: p, Subject: "english", Level: "A1", Now: t0.Add(5 * time.Second)})
		if err != nil {
			t.Fatalf("switch bucket: %v", err)
		}
		if moved.Subject != "english" || !moved.JoinedAt.Equal(t0.Add(5*time.Second)) {
			t.Fatalf("expected fresh entry in english bucket, got %+v", moved)
		}
	})
}

func TestUpsertQueueEntryRejectsMatchedEntryInOtherBucket(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		a := mustCreatePlayer(t, repo, "a")
		b := mustCreatePlayer(t, repo, "b")
		now := testNow()
		for _, id := range []string{a, b} {
			if _, err := repo.UpsertQueueEntry(ctx, JoinQueueParams{PlayerID: id, Subject: "math", Level: "A1", Now: now}); err != nil {
				t.Fatalf("join: %v", err)
			}
		}
		offer, err := repo.CreateOfferFromQueue(ctx, PairParams{Subject: "math", Level: "A1", FreshAfter: now.Add(-time.Minute), Now: now, ExpiresAt: now.Add(10 * time.Second)})
		if err != nil || offer == nil {
			t.Fatalf("pair: offer=%v err=%v", offer, err)
		}

		if _, err := repo.UpsertQueueEntry(ctx, JoinQueueParams{PlayerID: a, Subject: "english", Level: "B1", Now: now}); !errors.Is(err, ErrAlreadyQueued) {
			t.Fatalf("expected ErrAlreadyQueued, got %v", err)
		}
		same, err := repo.UpsertQueueEntry(ctx, JoinQueueParams{PlayerID: a, Subject: "math", Level: "A1", Now: now.Add(time.Second)})
		if err != nil {
			t.Fatalf("same bucket rejoin: %v", err)
		}
		if same.Status != QueueMatched {
			t.Fatalf("expected matched entry to stay matched, got %s", same.Status)
		}
	})
}

func TestTouchAndDeleteQueueEntry(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		p := mustCreatePlayer(t, repo, "p")
		now := testNow()

		touched, err := repo.TouchQueueEntry(ctx, p, now)
		if err != nil || touched {
			t.Fatalf("heartbeat on absent entry: touched=%v err=%v", touched, err)
		}
		if _, err := repo.UpsertQueueEntry(ctx, JoinQueueParams{PlayerID: p, Subject: "math", Level: "A1", Now: now}); err != nil {
			t.Fatalf("join: %v", err)
		}
		touched, err = repo.TouchQueueEntry(ctx, p, now.Add(time.Second))
		if err != nil || !touched {
			t.Fatalf("heartbeat: touched=%v err=%v", touched, err)
		}
		removed, err := repo.DeleteQueueEntry(ctx, p)
		if err != nil || !removed {
			t.Fatalf("leave: removed=%v err=%v", removed, err)
		}
		if _, err := repo.GetQueueEntry(ctx, p); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound after leave, got %v", err)
		}
	})
}

func TestCreateOfferFromQueuePairsOldestFreshEntries(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		now := testNow()
		stale := mustCreatePlayer(t, repo, "stale")
		first := mustCreatePlayer(t, repo, "first")
		second := mustCreatePlayer(t, repo, "second")
		third := mustCreatePlayer(t, repo, "third")

		join := func(id string, at time.Time) {
			t.Helper()
			if _, err := repo.UpsertQueueEntry(ctx, JoinQueueParams{PlayerID: id, Subject: "math", Level: "A1", Now: at}); err != nil {
				t.Fatalf("join: %v", err)
			}
		}
		join(stale, now.Add(-time.Minute))
		join(first, now.Add(-3*time.Second))
		join(second, now.Add(-2*time.Second))
		join(third, now.Add(-time.Second))

		offer, err := repo.CreateOfferFromQueue(ctx, PairParams{Subject: "math", Level: "A1", FreshAfter: now.Add(-30 * time.Second), Now: now, ExpiresAt: now.Add(10 * time.Second)})
		if err != nil {
			t.Fatalf("pair: %v", err)
		}
		if offer == nil || offer.P1 != first || offer.P2 != second {
			t.Fatalf("expected first and second paired, got %+v", offer)
		}
		if offer.State != OfferPending || !offer.ExpiresAt.Equal(now.Add(10*time.Second)) {
			t.Fatalf("unexpected offer: %+v", offer)
		}
		for _, id := range []string{first, second} {
			e, err := repo.GetQueueEntry(ctx, id)
			if err != nil || e.Status != QueueMatched {
				t.Fatalf("expected %s matched, got %+v err=%v", id, e, err)
			}
		}

		again, err := repo.CreateOfferFromQueue(ctx, PairParams{Subject: "math", Level: "A1", FreshAfter: now.Add(-30 * time.Second), Now: now, ExpiresAt: now.Add(10 * time.Second)})
		if err != nil {
			t.Fatalf("second pair: %v", err)
		}
		if again != nil {
			t.Fatalf("expected no pair with one fresh entry left, got %+v", again)
		}
	})
}

func TestSweepQueueRemovesStaleEntriesFromPairing(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		now := testNow()
		a := mustCreatePlayer(t, repo, "a")
		b := mustCreatePlayer(t, repo, "b")
		if _, err := repo.UpsertQueueEntry(ctx, JoinQueueParams{PlayerID: a, Subject: "math", Level: "A1", Now: now.Add(-time.Minute)}); err != nil {
			t.Fatalf("join a: %v", err)
		}
		if _, err := repo.UpsertQueueEntry(ctx, JoinQueueParams{PlayerID: b, Subject: "math", Level: "A1", Now: now}); err != nil {
			t.Fatalf("join b: %v", err)
		}

		removed, err := repo.DeleteStaleQueueEntries(ctx, now.Add(-30*time.Second))
		if err != nil || removed != 1 {
			t.Fatalf("sweep: removed=%d err=%v", removed, err)
		}
		removed, err = repo.DeleteStaleQueueEntries(ctx, now.Add(-30*time.Second))
		if err != nil || removed != 0 {
			t.Fatalf("second sweep: removed=%d err=%v", removed, err)
		}
		if _, err := repo.GetQueueEntry(ctx, a); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected stale entry gone, got %v", err)
		}
		offer, err := repo.CreateOfferFromQueue(ctx, PairParams{Subject: "math", Level: "A1", FreshAfter: time.Time{}, Now: now, ExpiresAt: now.Add(10 * time.Second)})
		if err != nil || offer != nil {
			t.Fatalf("expected no pairing after sweep, got offer=%v err=%v", offer, err)
		}
	})
}

func TestListWaitingBuckets(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		now := testNow()
		for i, bucket := range []string{"math", "math", "english"} {
			id := mustCreatePlayer(t, repo, bucket+string(rune('a'+i)))
			if _, err := repo.UpsertQueueEntry(ctx, JoinQueueParams{PlayerID: id, Subject: bucket, Level: "A1", Now: now}); err != nil {
				t.Fatalf("join: %v", err)
			}
		}
		buckets, err := repo.ListWaitingBuckets(ctx, now.Add(-time.Minute))
		if err != nil {
			t.Fatalf("list buckets: %v", err)
		}
		if len(buckets) != 1 || buckets[0] != (Bucket{Subject: "math", Level: "A1"}) {
			t.Fatalf("unexpected buckets: %+v", buckets)
		}
	})
}
