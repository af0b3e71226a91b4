package repository

import (
	"context"
	"errors"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/oslsr/kestrel/internal/domain"
)

func newTestRepo(t *testing.T) *SQLRepository {
	t.Helper()

	// Create temp database file
	tmpFile, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() {
		os.Remove(tmpPath)
		os.Remove(tmpPath + "-wal")
		os.Remove(tmpPath + "-shm")
	})

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func f64(v float64) *float64 { return &v }
func intp(v int) *int        { return &v }

func TestThresholdStore(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	high := domain.SeverityHigh
	seed := []*domain.ThresholdRule{
		{RuleKey: "gps_weight", DisplayName: "GPS weight", Category: domain.CategoryGPS, ThresholdValue: decimal.NewFromInt(25), Weight: decimal.NewNullDecimal(decimal.NewFromInt(25)), IsActive: true, CreatedBy: "system"},
		{RuleKey: "severity_high_min", DisplayName: "High floor", Category: domain.CategoryComposite, ThresholdValue: decimal.NewFromInt(70), SeverityFloor: &high, IsActive: true, CreatedBy: "system"},
	}

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("InsertAndList", func(t *testing.T) {
		for _, r := range seed {
			if err := repo.InsertThreshold(ctx, r); err != nil {
				t.Fatalf("InsertThreshold failed: %v", err)
			}
		}

		rules, err := repo.ListOpenThresholds(ctx)
		if err != nil {
			t.Fatalf("ListOpenThresholds failed: %v", err)
		}
		if len(rules) != 2 {
			t.Fatalf("expected 2 open rules, got %d", len(rules))
		}

		floor := rules[0]
		if floor.RuleKey != "severity_high_min" || floor.SeverityFloor == nil || *floor.SeverityFloor != domain.SeverityHigh {
			t.Errorf("expected composite floor rule first, got %+v", floor)
		}
		if floor.Weight.Valid {
			t.Error("expected null weight")
		}
		if rules[1].Version != 1 || !rules[1].Weight.Valid || !rules[1].Weight.Decimal.Equal(decimal.NewFromInt(25)) {
			t.Errorf("unexpected gps rule: %+v", rules[1])
		}
	})

	t.Run("SecondOpenRowRejected", func(t *testing.T) {
		dup := &domain.ThresholdRule{RuleKey: "gps_weight", DisplayName: "dup", Category: domain.CategoryGPS, ThresholdValue: decimal.NewFromInt(1), CreatedBy: "x"}
		if err := repo.InsertThreshold(ctx, dup); err == nil {
			t.Error("expected open-row index violation")
		}
	})

	t.Run("Supersede", func(t *testing.T) {
		created, err := repo.SupersedeThreshold(ctx, "gps_weight", func(cur domain.ThresholdRule) domain.ThresholdRule {
			cur.ThresholdValue = decimal.RequireFromString("22.5")
			cur.CreatedBy = "admin-1"
			cur.Notes = "tuning"
			return cur
		})
		if err != nil {
			t.Fatalf("SupersedeThreshold failed: %v", err)
		}
		if created.Version != 2 {
			t.Errorf("expected version 2, got %d", created.Version)
		}

		open, err := repo.GetOpenThreshold(ctx, "gps_weight")
		if err != nil {
			t.Fatalf("GetOpenThreshold failed: %v", err)
		}
		if !open.ThresholdValue.Equal(decimal.RequireFromString("22.5")) || open.ID != created.ID {
			t.Errorf("unexpected open row: %+v", open)
		}

		history, err := repo.ListThresholdHistory(ctx, "gps_weight")
		if err != nil {
			t.Fatalf("ListThresholdHistory failed: %v", err)
		}
		if len(history) != 2 {
			t.Fatalf("expected 2 versions, got %d", len(history))
		}
		if history[0].Version != 2 || history[0].EffectiveUntil != nil {
			t.Errorf("expected newest open row first, got %+v", history[0])
		}
		if history[1].EffectiveUntil == nil {
			t.Error("expected the previous row to be closed")
		}
		if !history[1].ThresholdValue.Equal(decimal.NewFromInt(25)) {
			t.Error("closed row must keep its value")
		}
	})

	t.Run("SupersedeUnknownKey", func(t *testing.T) {
		_, err := repo.SupersedeThreshold(ctx, "nope", func(cur domain.ThresholdRule) domain.ThresholdRule { return cur })
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if _, err := repo.ListThresholdHistory(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestSubmissionContext(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	form := &domain.Form{ID: "form-1", Name: "Household", Schema: map[string]any{
		"sections": []any{map[string]any{"id": "s1", "questions": []any{map[string]any{"name": "q1", "type": "text"}}}},
	}}
	if err := repo.SaveForm(ctx, form); err != nil {
		t.Fatalf("SaveForm failed: %v", err)
	}

	subs := []*domain.Submission{
		{ID: "cur", EnumeratorID: "e1", FormID: "form-1", RawData: map[string]any{"q1": "a"}, GPSLatitude: f64(6.5), GPSLongitude: f64(3.3), GPSAccuracyM: f64(8), CompletionTimeSeconds: intp(300), SubmittedAt: at},
		{ID: "e1-1h", EnumeratorID: "e1", FormID: "form-1", RawData: map[string]any{"q1": "b"}, GPSLatitude: f64(6.51), GPSLongitude: f64(3.3), SubmittedAt: at.Add(-time.Hour)},
		{ID: "e1-3d", EnumeratorID: "e1", FormID: "form-1", SubmittedAt: at.Add(-72 * time.Hour)},
		{ID: "e1-10d", EnumeratorID: "e1", SubmittedAt: at.Add(-240 * time.Hour)},
		{ID: "e1-later", EnumeratorID: "e1", SubmittedAt: at.Add(time.Hour)},
		{ID: "e2-2h", EnumeratorID: "e2", GPSLatitude: f64(6.5), GPSLongitude: f64(3.3), SubmittedAt: at.Add(-2 * time.Hour)},
		{ID: "e2-6h", EnumeratorID: "e2", GPSLatitude: f64(6.5), GPSLongitude: f64(3.3), SubmittedAt: at.Add(-6 * time.Hour)},
		{ID: "e3-nogps", EnumeratorID: "e3", SubmittedAt: at.Add(-time.Hour)},
	}
	for _, s := range subs {
		if err := repo.SaveSubmission(ctx, s); err != nil {
			t.Fatalf("SaveSubmission(%s) failed: %v", s.ID, err)
		}
	}

	t.Run("ResaveIsNoop", func(t *testing.T) {
		if err := repo.SaveSubmission(ctx, subs[0]); err != nil {
			t.Errorf("expected idempotent save, got %v", err)
		}
	})

	t.Run("Load", func(t *testing.T) {
		sc, err := repo.LoadSubmissionContext(ctx, "cur", domain.ContextWindow{
			Recent: 7 * 24 * time.Hour,
			Nearby: 4 * time.Hour,
		})
		if err != nil {
			t.Fatalf("LoadSubmissionContext failed: %v", err)
		}

		if sc.EnumeratorID != "e1" || *sc.CompletionTimeSeconds != 300 || *sc.GPSAccuracyM != 8 {
			t.Errorf("unexpected context header: %+v", sc)
		}
		if sc.RawData["q1"] != "a" {
			t.Errorf("expected raw data to round-trip, got %v", sc.RawData)
		}
		if sc.FormSchema == nil {
			t.Error("expected form schema")
		}

		if len(sc.RecentSubmissions) != 2 {
			t.Fatalf("expected 2 recent submissions, got %d", len(sc.RecentSubmissions))
		}
		if sc.RecentSubmissions[0].ID != "e1-1h" || sc.RecentSubmissions[1].ID != "e1-3d" {
			t.Errorf("expected newest first, got %s, %s", sc.RecentSubmissions[0].ID, sc.RecentSubmissions[1].ID)
		}
		if sc.RecentSubmissions[1].GPSLatitude != nil {
			t.Error("expected missing GPS to stay nil")
		}

		if len(sc.NearbySubmissions) != 1 || sc.NearbySubmissions[0].ID != "e2-2h" {
			t.Errorf("expected only e2-2h nearby, got %+v", sc.NearbySubmissions)
		}
	})

	t.Run("RecentLimit", func(t *testing.T) {
		sc, err := repo.LoadSubmissionContext(ctx, "cur", domain.ContextWindow{Recent: 30 * 24 * time.Hour, RecentLimit: 1})
		if err != nil {
			t.Fatalf("LoadSubmissionContext failed: %v", err)
		}
		if len(sc.RecentSubmissions) != 1 {
			t.Errorf("expected limit to apply, got %d", len(sc.RecentSubmissions))
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.LoadSubmissionContext(ctx, "missing", domain.ContextWindow{})
		if !errors.Is(err, domain.ErrSubmissionNotFound) {
			t.Errorf("expected ErrSubmissionNotFound, got %v", err)
		}
		if _, err := repo.GetForm(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func newDetection(id, submission, enumerator string, version int64, sev domain.Severity, gps float64, at time.Time) *domain.Detection {
	return &domain.Detection{
		ID:              id,
		SubmissionID:    submission,
		EnumeratorID:    enumerator,
		ConfigVersion:   version,
		ComponentScores: domain.ComponentScores{GPS: gps, Timing: 10},
		TotalScore:      gps + 10,
		Severity:        sev,
		Details:         map[domain.Category]map[string]any{domain.CategoryGPS: {"flags": []any{"in_spatial_cluster"}}},
		ComputedAt:      at,
	}
}

func TestDetectionStore(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	dets := []*domain.Detection{
		newDetection("d1", "s1", "e1", 27, domain.SeverityLow, 15, at),
		newDetection("d1b", "s1", "e1", 28, domain.SeverityMedium, 40, at.Add(time.Minute)),
		newDetection("d2", "s2", "e2", 27, domain.SeverityClean, 0, at.Add(2*time.Minute)),
		newDetection("d3", "s3", "e1", 27, domain.SeverityHigh, 25, at.Add(3*time.Minute)),
	}
	for _, d := range dets {
		if err := repo.SaveDetection(ctx, d); err != nil {
			t.Fatalf("SaveDetection(%s) failed: %v", d.ID, err)
		}
	}

	t.Run("DuplicateKey", func(t *testing.T) {
		dup := newDetection("other", "s1", "e1", 27, domain.SeverityCritical, 25, at)
		err := repo.SaveDetection(ctx, dup)
		if !errors.Is(err, domain.ErrDuplicateDetection) {
			t.Fatalf("expected ErrDuplicateDetection, got %v", err)
		}

		stored, err := repo.GetDetectionByKey(ctx, "s1", 27)
		if err != nil {
			t.Fatalf("GetDetectionByKey failed: %v", err)
		}
		if stored.ID != "d1" || stored.Severity != domain.SeverityLow {
			t.Errorf("expected the original detection, got %+v", stored)
		}
	})

	t.Run("Get", func(t *testing.T) {
		d, err := repo.GetDetection(ctx, "d3")
		if err != nil {
			t.Fatalf("GetDetection failed: %v", err)
		}
		if d.ComponentScores.GPS != 25 || d.TotalScore != 35 || d.Resolved() {
			t.Errorf("unexpected detection: %+v", d)
		}
		if _, ok := d.Details[domain.CategoryGPS]["flags"]; !ok {
			t.Error("expected details to round-trip")
		}
		if !d.ComputedAt.Equal(at.Add(3 * time.Minute)) {
			t.Errorf("expected computed_at to round-trip, got %v", d.ComputedAt)
		}

		if _, err := repo.GetDetection(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("ListLatestOnly", func(t *testing.T) {
		list, total, err := repo.ListDetections(ctx, domain.DetectionFilter{LatestOnly: true, Page: 1, PageSize: 20})
		if err != nil {
			t.Fatalf("ListDetections failed: %v", err)
		}
		if total != 3 {
			t.Errorf("expected 3 latest detections, got %d", total)
		}
		if list[0].ID != "d3" || list[len(list)-1].ID != "d1b" {
			t.Errorf("expected newest first, got %s..%s", list[0].ID, list[len(list)-1].ID)
		}
	})

	t.Run("ListFilters", func(t *testing.T) {
		_, total, _ := repo.ListDetections(ctx, domain.DetectionFilter{Severities: []domain.Severity{domain.SeverityHigh, domain.SeverityLow}})
		if total != 2 {
			t.Errorf("severity filter: expected 2, got %d", total)
		}

		_, total, _ = repo.ListDetections(ctx, domain.DetectionFilter{EnumeratorID: "e2"})
		if total != 1 {
			t.Errorf("enumerator filter: expected 1, got %d", total)
		}

		from := at.Add(90 * time.Second)
		_, total, _ = repo.ListDetections(ctx, domain.DetectionFilter{DateFrom: &from})
		if total != 2 {
			t.Errorf("date filter: expected 2, got %d", total)
		}

		list, total, _ := repo.ListDetections(ctx, domain.DetectionFilter{EnumeratorIDs: []string{}})
		if total != 0 || list == nil {
			t.Errorf("empty scope: expected empty page, got %d", total)
		}

		page, total, _ := repo.ListDetections(ctx, domain.DetectionFilter{Page: 2, PageSize: 3})
		if total != 4 || len(page) != 1 {
			t.Errorf("paging: expected 1 of 4, got %d of %d", len(page), total)
		}
	})

	t.Run("ClusterCandidates", func(t *testing.T) {
		got, err := repo.ListClusterCandidates(ctx, nil)
		if err != nil {
			t.Fatalf("ListClusterCandidates failed: %v", err)
		}
		if len(got) != 3 {
			t.Errorf("expected 3 detections with GPS score, got %d", len(got))
		}

		got, _ = repo.ListClusterCandidates(ctx, []string{"e2"})
		if len(got) != 0 {
			t.Errorf("expected none for e2, got %d", len(got))
		}
	})

	t.Run("Resolve", func(t *testing.T) {
		review := domain.DetectionReview{
			Resolution:      domain.ResolutionConfirmedFraud,
			ResolutionNotes: "same house photographed twice",
			ReviewedBy:      "assessor-1",
			ReviewedAt:      at.Add(time.Hour),
		}
		if err := repo.ResolveDetections(ctx, []string{"d1", "d3"}, review); err != nil {
			t.Fatalf("ResolveDetections failed: %v", err)
		}

		d, _ := repo.GetDetection(ctx, "d1")
		if !d.Resolved() || d.Review.Resolution != domain.ResolutionConfirmedFraud || d.Review.ReviewedBy != "assessor-1" {
			t.Errorf("expected review to be attached, got %+v", d.Review)
		}

		_, total, _ := repo.ListDetections(ctx, domain.DetectionFilter{Unreviewed: true})
		if total != 2 {
			t.Errorf("expected 2 unreviewed, got %d", total)
		}
		reviewed := true
		_, total, _ = repo.ListDetections(ctx, domain.DetectionFilter{Reviewed: &reviewed})
		if total != 2 {
			t.Errorf("expected 2 reviewed, got %d", total)
		}
	})

	t.Run("ResolveIsAllOrNothing", func(t *testing.T) {
		review := domain.DetectionReview{Resolution: domain.ResolutionDismissed, ReviewedBy: "a", ReviewedAt: at}
		err := repo.ResolveDetections(ctx, []string{"d2", "d1"}, review)
		if !errors.Is(err, domain.ErrAlreadyResolved) {
			t.Fatalf("expected ErrAlreadyResolved, got %v", err)
		}

		d2, _ := repo.GetDetection(ctx, "d2")
		if d2.Resolved() {
			t.Error("expected d2 to stay unresolved after a rejected batch")
		}
	})

	t.Run("GetDetections", func(t *testing.T) {
		got, err := repo.GetDetections(ctx, []string{"d1", "d2", "missing"})
		if err != nil {
			t.Fatalf("GetDetections failed: %v", err)
		}
		if len(got) != 2 {
			t.Errorf("expected 2 detections, got %d", len(got))
		}
	})
}

func TestTeamStore(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for _, e := range []string{"e2", "e1", "e2"} {
		if err := repo.AssignEnumerator(ctx, "sup-1", e); err != nil {
			t.Fatalf("AssignEnumerator failed: %v", err)
		}
	}

	ids, err := repo.EnumeratorIDsForSupervisor(ctx, "sup-1")
	if err != nil {
		t.Fatalf("EnumeratorIDsForSupervisor failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != "e1" || ids[1] != "e2" {
		t.Errorf("expected [e1 e2], got %v", ids)
	}

	ids, _ = repo.EnumeratorIDsForSupervisor(ctx, "sup-none")
	if ids == nil || len(ids) != 0 {
		t.Errorf("expected empty team, got %v", ids)
	}

	if err := repo.AssignEnumerator(ctx, "", "e1"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestPostgresDSN(t *testing.T) {
	got := postgresDSN(domain.RepositoryConfig{PostgresUser: "k", PostgresPassword: "p"})
	want := "host=localhost port=5432 user=k password=p dbname=kestrel sslmode=disable application_name=kestrel"
	if got != want {
		t.Errorf("postgresDSN = %q, want %q", got, want)
	}
}

func TestSQLiteDSN(t *testing.T) {
	dsn := sqliteDSN("/data/kestrel.db")
	if !strings.HasPrefix(dsn, "file:/data/kestrel.db?") {
		t.Fatalf("unexpected prefix: %s", dsn)
	}

	q, err := url.ParseQuery(strings.SplitN(dsn, "?", 2)[1])
	if err != nil {
		t.Fatalf("dsn query does not parse: %v", err)
	}
	if got := q["_pragma"]; len(got) != len(sqlitePragmas) || got[0] != "journal_mode(WAL)" {
		t.Errorf("unexpected pragmas: %v", got)
	}
	if q.Get("_time_format") != "sqlite" {
		t.Errorf("expected sqlite time format, got %q", q.Get("_time_format"))
	}
}

func TestInMemorySQLite(t *testing.T) {
	repo, err := New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open in-memory repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	if err := repo.AssignEnumerator(ctx, "sup-1", "enum-1"); err != nil {
		t.Fatalf("AssignEnumerator failed: %v", err)
	}
	ids, err := repo.EnumeratorIDsForSupervisor(ctx, "sup-1")
	if err != nil {
		t.Fatalf("EnumeratorIDsForSupervisor failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "enum-1" {
		t.Errorf("expected [enum-1], got %v", ids)
	}
}
