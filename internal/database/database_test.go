package database

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/TobiSchelling/reviewpulse/internal/feedback"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func ptr[T any](v T) *T { return &v }

func createProject(t *testing.T, db *DB) *feedback.Project {
	t.Helper()
	p, err := db.CreateProject(context.Background(), "Acme App")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func item(projectID, externalID string, rating *int, at time.Time) *feedback.Item {
	return &feedback.Item{
		ProjectID:  projectID,
		Platform:   feedback.PlatformGooglePlay,
		ExternalID: externalID,
		Text:       "review " + externalID,
		Rating:     rating,
		CreatedAt:  at,
	}
}

func TestSchemaVersion(t *testing.T) {
	db := openTestDB(t)
	version, dirty, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if version != 1 || dirty {
		t.Errorf("expected clean version 1, got %d dirty=%v", version, dirty)
	}
}

func TestReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.Close()
	db, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	db.Close()
}

func TestRebind(t *testing.T) {
	db := &DB{driver: DriverPostgres}
	got := db.rebind("SELECT * FROM items WHERE a = ? AND b = ?")
	if got != "SELECT * FROM items WHERE a = $1 AND b = $2" {
		t.Errorf("unexpected rebind: %s", got)
	}
	db.driver = DriverSQLite
	if got := db.rebind("a = ?"); got != "a = ?" {
		t.Errorf("sqlite query should be unchanged, got %s", got)
	}
}

func TestConnectUnknownDriver(t *testing.T) {
	if _, err := Connect("mysql", "x"); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestProjectCRUD(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	p := createProject(t, db)

	got, err := db.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Acme App" || got.SyncInProgress {
		t.Errorf("unexpected project: %+v", got)
	}

	byName, err := db.FindProject(ctx, "Acme App")
	if err != nil {
		t.Fatalf("find by name: %v", err)
	}
	if byName.ID != p.ID {
		t.Errorf("expected %s, got %s", p.ID, byName.ID)
	}

	if _, err := db.GetProject(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	projects, err := db.ListProjects(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(projects) != 1 {
		t.Errorf("expected 1 project, got %d", len(projects))
	}
}

func TestDeleteProjectCascades(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	p := createProject(t, db)
	if _, err := db.AddSource(ctx, p.ID, feedback.CSVConfig{Path: "x.csv"}); err != nil {
		t.Fatalf("add source: %v", err)
	}
	if err := db.UpsertItem(ctx, item(p.ID, "a", ptr(2), time.Now())); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := db.InsertAnalysis(ctx, &feedback.AnalysisRecord{ProjectID: p.ID}); err != nil {
		t.Fatalf("insert analysis: %v", err)
	}

	if err := db.DeleteProject(ctx, p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	n, _ := db.CountItems(ctx, p.ID)
	if n != 0 {
		t.Errorf("expected items removed, got %d", n)
	}
	sources, _ := db.GetSourcesForProject(ctx, p.ID)
	if len(sources) != 0 {
		t.Errorf("expected sources removed, got %d", len(sources))
	}
	if err := db.DeleteProject(ctx, p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestSyncLockAcquireRelease(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	p := createProject(t, db)
	at := time.Now().UTC().Truncate(time.Microsecond)

	ok, err := db.TryAcquireSyncLock(ctx, p.ID, at)
	if err != nil || !ok {
		t.Fatalf("expected first acquire to succeed, ok=%v err=%v", ok, err)
	}
	ok, err = db.TryAcquireSyncLock(ctx, p.ID, at)
	if err != nil || ok {
		t.Fatalf("expected second acquire to fail, ok=%v err=%v", ok, err)
	}

	got, _ := db.GetProject(ctx, p.ID)
	if !got.SyncInProgress || got.SyncStartedAt == nil || !got.SyncStartedAt.Equal(at) {
		t.Errorf("unexpected lock state: %+v", got)
	}

	if err := db.ReleaseSyncLock(ctx, p.ID); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, _ = db.TryAcquireSyncLock(ctx, p.ID, at)
	if !ok {
		t.Error("expected acquire after release to succeed")
	}
}

func TestSyncLockConcurrentAcquire(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	p := createProject(t, db)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := db.TryAcquireSyncLock(ctx, p.ID, time.Now())
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("expected exactly one winner, got %d", wins)
	}
}

func TestStealSyncLock(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	p := createProject(t, db)
	old := time.Now().Add(-10 * time.Minute).UTC().Truncate(time.Microsecond)
	if ok, _ := db.TryAcquireSyncLock(ctx, p.ID, old); !ok {
		t.Fatal("expected acquire")
	}

	locked, _ := db.GetProject(ctx, p.ID)
	newer := time.Now().UTC().Truncate(time.Microsecond)
	ok, err := db.StealSyncLock(ctx, p.ID, locked.SyncStartedAt, newer)
	if err != nil || !ok {
		t.Fatalf("expected steal to succeed, ok=%v err=%v", ok, err)
	}
	// A second recoverer that observed the same stale start loses.
	ok, err = db.StealSyncLock(ctx, p.ID, locked.SyncStartedAt, newer)
	if err != nil || ok {
		t.Fatalf("expected second steal to fail, ok=%v err=%v", ok, err)
	}
}

func TestSourcesOrderedByCreation(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	p := createProject(t, db)

	first, err := db.AddSource(ctx, p.ID, feedback.GooglePlayConfig{PackageName: "com.acme"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	second, err := db.AddSource(ctx, p.ID, feedback.AppStoreConfig{AppID: "123"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	sources, err := db.GetSourcesForProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sources) != 2 || sources[0].ID != first.ID || sources[1].ID != second.ID {
		t.Fatalf("unexpected order: %+v", sources)
	}
	cfg, ok := sources[0].Config.(feedback.GooglePlayConfig)
	if !ok || cfg.PackageName != "com.acme" {
		t.Errorf("config not restored: %#v", sources[0].Config)
	}
	if sources[0].Status != feedback.StatusIdle || sources[0].LastSync != nil {
		t.Errorf("new source should be idle with no watermark: %+v", sources[0])
	}
}

func TestAddSourceRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	p := createProject(t, db)
	if _, err := db.AddSource(ctx, p.ID, feedback.XConfig{}); !errors.Is(err, feedback.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
	if _, err := db.AddSource(ctx, "missing", feedback.XConfig{Query: "acme"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMarkSourceSynced(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	p := createProject(t, db)
	s, _ := db.AddSource(ctx, p.ID, feedback.XConfig{Query: "acme"})

	if err := db.SetSourceStatus(ctx, s.ID, feedback.StatusSyncing); err != nil {
		t.Fatalf("set status: %v", err)
	}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := db.MarkSourceSynced(ctx, s.ID, at); err != nil {
		t.Fatalf("mark synced: %v", err)
	}
	got, err := db.GetSource(ctx, s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != feedback.StatusIdle || got.LastSync == nil || !got.LastSync.Equal(at) {
		t.Errorf("unexpected source: %+v", got)
	}

	if err := db.SetSourceStatus(ctx, s.ID, feedback.StatusError); err != nil {
		t.Fatalf("set status: %v", err)
	}
	got, _ = db.GetSource(ctx, s.ID)
	if got.Status != feedback.StatusError || !got.LastSync.Equal(at) {
		t.Errorf("error status must keep watermark: %+v", got)
	}
}

func TestUpsertItemDeduplicates(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	p := createProject(t, db)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := db.UpsertItem(ctx, item(p.ID, "r1", ptr(2), at)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	updated := item(p.ID, "r1", ptr(5), at)
	updated.Text = "changed my mind"
	updated.Metadata = map[string]any{"thumbsUp": float64(3)}
	if err := db.UpsertItem(ctx, updated); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	n, _ := db.CountItems(ctx, p.ID)
	if n != 1 {
		t.Fatalf("expected 1 item, got %d", n)
	}
	got, err := db.GetItem(ctx, p.ID, feedback.PlatformGooglePlay, "r1")
	if err != nil || got == nil {
		t.Fatalf("get item: %v", err)
	}
	if got.Text != "changed my mind" || *got.Rating != 5 {
		t.Errorf("expected overwrite, got %+v", got)
	}
	if got.Metadata["thumbsUp"] != float64(3) {
		t.Errorf("metadata not stored: %v", got.Metadata)
	}
	if !got.CreatedAt.Equal(at) {
		t.Errorf("expected created_at %v, got %v", at, got.CreatedAt)
	}
}

func TestUpsertItemSameExternalIDOtherProject(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	a := createProject(t, db)
	b := createProject(t, db)
	db.UpsertItem(ctx, item(a.ID, "r1", ptr(1), time.Now()))
	db.UpsertItem(ctx, item(b.ID, "r1", ptr(1), time.Now()))

	na, _ := db.CountItems(ctx, a.ID)
	nb, _ := db.CountItems(ctx, b.ID)
	if na != 1 || nb != 1 {
		t.Errorf("expected one item per project, got %d and %d", na, nb)
	}
}

func TestUpsertItemKeepsSentiment(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	p := createProject(t, db)
	it := item(p.ID, "c1", nil, time.Now())
	it.Platform = feedback.PlatformInstagram
	db.UpsertItem(ctx, it)

	stored, _ := db.GetItem(ctx, p.ID, feedback.PlatformInstagram, "c1")
	if err := db.SetItemSentiment(ctx, stored.ID, feedback.SentimentNegative); err != nil {
		t.Fatalf("set sentiment: %v", err)
	}
	if err := db.UpsertItem(ctx, it); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	stored, _ = db.GetItem(ctx, p.ID, feedback.PlatformInstagram, "c1")
	if stored.Sentiment == nil || *stored.Sentiment != feedback.SentimentNegative {
		t.Errorf("expected sentiment kept, got %v", stored.Sentiment)
	}
}

func TestUpsertItemRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	p := createProject(t, db)
	bad := item(p.ID, "", nil, time.Now())
	if err := db.UpsertItem(ctx, bad); !errors.Is(err, feedback.ErrMissingExternalID) {
		t.Errorf("expected ErrMissingExternalID, got %v", err)
	}
}

func TestBucketQueries(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	p := createProject(t, db)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	db.UpsertItem(ctx, item(p.ID, "low-old", ptr(1), base))
	db.UpsertItem(ctx, item(p.ID, "low-new", ptr(3), base.Add(time.Hour)))
	db.UpsertItem(ctx, item(p.ID, "high", ptr(5), base.Add(2*time.Hour)))
	neg := item(p.ID, "neg", nil, base.Add(3*time.Hour))
	neg.Sentiment = ptr(feedback.SentimentNegative)
	db.UpsertItem(ctx, neg)
	neu := item(p.ID, "neu", nil, base.Add(4*time.Hour))
	neu.Sentiment = ptr(feedback.SentimentNeutral)
	db.UpsertItem(ctx, neu)
	db.UpsertItem(ctx, item(p.ID, "unrated", nil, base.Add(5*time.Hour)))

	critical, err := db.GetBucketItems(ctx, p.ID, feedback.BucketCritical, 100)
	if err != nil {
		t.Fatalf("critical: %v", err)
	}
	want := []string{"neg", "low-new", "low-old"}
	if len(critical) != len(want) {
		t.Fatalf("expected %d critical items, got %d", len(want), len(critical))
	}
	for i, id := range want {
		if critical[i].ExternalID != id {
			t.Errorf("critical[%d]: expected %s, got %s", i, id, critical[i].ExternalID)
		}
	}

	limited, _ := db.GetBucketItems(ctx, p.ID, feedback.BucketCritical, 1)
	if len(limited) != 1 || limited[0].ExternalID != "neg" {
		t.Errorf("expected newest critical item only, got %+v", limited)
	}

	positive, _ := db.GetBucketItems(ctx, p.ID, feedback.BucketPositive, 100)
	if len(positive) != 1 || positive[0].ExternalID != "high" {
		t.Errorf("unexpected positive bucket: %+v", positive)
	}

	unclassified, _ := db.GetUnclassifiedItems(ctx, p.ID, 10)
	if len(unclassified) != 1 || unclassified[0].ExternalID != "unrated" {
		t.Errorf("unexpected unclassified: %+v", unclassified)
	}

	stats, err := db.GetProjectStats(ctx, p.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalItems != 6 || stats.CriticalItems != 3 || stats.PositiveItems != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.ByPlatform[feedback.PlatformGooglePlay] != 6 {
		t.Errorf("unexpected platform counts: %v", stats.ByPlatform)
	}
}

func TestAnalysesAppendOnly(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	p := createProject(t, db)

	latest, err := db.GetLatestAnalysis(ctx, p.ID)
	if err != nil || latest != nil {
		t.Fatalf("expected no analysis, got %+v err=%v", latest, err)
	}

	first := &feedback.AnalysisRecord{
		ProjectID: p.ID,
		CreatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Payload:   feedback.AnalysisPayload{Score: 40},
	}
	second := &feedback.AnalysisRecord{
		ProjectID: p.ID,
		CreatedAt: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		Payload: feedback.AnalysisPayload{
			Score:      70,
			Criticisms: feedback.ThemeGroup{Summary: "slow", Bullets: []feedback.Theme{{Title: "Speed", Count: 2}}},
		},
	}
	for _, rec := range []*feedback.AnalysisRecord{first, second} {
		if err := db.InsertAnalysis(ctx, rec); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	latest, err = db.GetLatestAnalysis(ctx, p.ID)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.ID != second.ID || latest.Payload.Score != 70 || latest.Payload.Criticisms.Bullets[0].Title != "Speed" {
		t.Errorf("unexpected latest: %+v", latest)
	}
	all, _ := db.ListAnalyses(ctx, p.ID, 10)
	if len(all) != 2 {
		t.Errorf("expected 2 analyses, got %d", len(all))
	}
}
