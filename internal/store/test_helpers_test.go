package store

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"quizduel/internal/config"
	"quizduel/internal/questions"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var testSchemaNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func openStore(t *testing.T) (*Store, context.Context, func()) {
	t.Helper()
	cfg, err := config.LoadTest()
	if err != nil {
		t.Skipf("skip test db: %v", err)
	}
	dsn := cfg.TestPostgresDSN
	schema := fmt.Sprintf("test_%d", time.Now().UnixNano())
	base, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("open base db: %v", err)
	}
	createSchemaSQL, err := schemaDDL("CREATE SCHEMA %s", schema)
	if err != nil {
		base.Close()
		t.Fatalf("invalid schema name: %v", err)
	}
	if _, err := base.Exec(context.Background(), createSchemaSQL); err != nil {
		base.Close()
		t.Fatalf("create schema: %v", err)
	}
	base.Close()

	st, err := New(withSearchPath(dsn, schema))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := applySchema(st); err != nil {
		st.Close()
		t.Fatalf("apply schema: %v", err)
	}
	cleanup := func() {
		st.Close()
		base, err := pgxpool.New(context.Background(), dsn)
		if err == nil {
			if dropSchemaSQL, ddlErr := schemaDDL("DROP SCHEMA %s CASCADE", schema); ddlErr == nil {
				_, _ = base.Exec(context.Background(), dropSchemaSQL)
			}
			base.Close()
		}
	}
	return st, context.Background(), cleanup
}

// forEachRepo runs fn against the in-memory repository and, when
// TEST_POSTGRES_DSN is set, against a fresh PostgreSQL schema.
func forEachRepo(t *testing.T, fn func(t *testing.T, repo Repository)) {
	t.Helper()
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})
	t.Run("postgres", func(t *testing.T) {
		st, _, cleanup := openStore(t)
		defer cleanup()
		fn(t, st)
	})
}

func applySchema(st *Store) error {
	path, err := findInitMigrationPath()
	if err != nil {
		return err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	_, err = st.Pool.Exec(context.Background(), string(b))
	return err
}

func findInitMigrationPath() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for i := 0; i < 6; i++ {
		p := filepath.Join(dir, "migrations", "000001_init.up.sql")
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf("000001_init.up.sql not found from %s", dir)
}

func withSearchPath(dsn, schema string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "search_path=" + url.QueryEscape(schema)
}

func schemaDDL(format, schema string) (string, error) {
	if !testSchemaNamePattern.MatchString(schema) {
		return "", fmt.Errorf("schema %q does not match required pattern", schema)
	}
	return fmt.Sprintf(format, pgx.Identifier{schema}.Sanitize()), nil
}

func mustCreatePlayer(t *testing.T, repo Repository, name string) string {
	t.Helper()
	p, err := repo.CreatePlayer(context.Background(), name, "key-"+name+"-"+NewID())
	if err != nil {
		t.Fatalf("create player %s: %v", name, err)
	}
	return p.ID
}

// testNow is truncated to microseconds so values survive a round trip
// through timestamptz unchanged.
func testNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func testQuestion() questions.Question {
	return questions.Question{
		ID:      "q-test-1",
		Subject: "math",
		Level:   "A1",
		Stem:    "What is 2 + 2?",
		Steps: []questions.Step{{
			ID:              "s1",
			Prompt:          "What is 2 + 2?",
			Options:         []questions.Option{{ID: "a", Text: "3"}, {ID: "b", Text: "4"}},
			CorrectOptionID: "b",
		}},
	}
}

func testSeed(now time.Time) SeedFunc {
	return func(MatchOffer) (MatchSeed, error) {
		return MatchSeed{TotalRounds: 3, Question: testQuestion(), EndsAt: now.Add(5 * time.Second)}, nil
	}
}

// mustStartMatch creates an offer for p1 and p2 (self-play when equal) and
// accepts it for every seat.
func mustStartMatch(t *testing.T, repo Repository, p1, p2 string) *AcceptOutcome {
	t.Helper()
	ctx := context.Background()
	now := testNow()
	var (
		offer *MatchOffer
		err   error
	)
	if p1 == p2 {
		offer, err = repo.CreateSelfPlayOffer(ctx, SelfPlayParams{PlayerID: p1, Subject: "math", Level: "A1", Now: now, ExpiresAt: now.Add(10 * time.Second)})
	} else {
		for _, id := range []string{p1, p2} {
			if _, err := repo.UpsertQueueEntry(ctx, JoinQueueParams{PlayerID: id, Subject: "math", Level: "A1", Now: now}); err != nil {
				t.Fatalf("join %s: %v", id, err)
			}
		}
		offer, err = repo.CreateOfferFromQueue(ctx, PairParams{Subject: "math", Level: "A1", FreshAfter: now.Add(-time.Minute), Now: now, ExpiresAt: now.Add(10 * time.Second)})
	}
	if err != nil || offer == nil {
		t.Fatalf("create offer: offer=%v err=%v", offer, err)
	}
	var out *AcceptOutcome
	for _, id := range notificationRecipients(offer.P1, offer.P2) {
		out, err = repo.AcceptOffer(ctx, AcceptParams{OfferID: offer.ID, PlayerID: id, Now: now, Seed: testSeed(now)})
		if err != nil {
			t.Fatalf("accept %s: %v", id, err)
		}
	}
	if out.Match == nil || out.Round == nil {
		t.Fatalf("expected match and round, got %+v", out)
	}
	return out
}

func setRoundPhase(t *testing.T, repo Repository, roundID, phase string, seq int64) {
	t.Helper()
	switch r := repo.(type) {
	case *MemoryStore:
		if err := r.MutateRound(roundID, func(mr *MatchRound) {
			mr.Phase = phase
			mr.PhaseSeq = seq
		}); err != nil {
			t.Fatalf("mutate round: %v", err)
		}
	case *Store:
		if _, err := r.Pool.Exec(context.Background(), `UPDATE match_rounds SET phase = $2, phase_seq = $3 WHERE id = $1`, roundID, phase, seq); err != nil {
			t.Fatalf("update round: %v", err)
		}
	default:
		t.Fatalf("unsupported repository %T", repo)
	}
}
