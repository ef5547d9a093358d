package database

import (
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	if err := db.migrate(); err != nil {
		t.Fatalf("second migrate must not fail: %v", err)
	}
}

func TestUpsertAndGetUser(t *testing.T) {
	db := openTestDB(t)
	if err := db.UpsertUser("u1", true, 20); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}

	u, err := db.GetUser("u1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if !u.IsAdmin || u.Credits != 20 {
		t.Errorf("got %+v", u)
	}

	if err := db.UpsertUser("u1", false, 3); err != nil {
		t.Fatalf("UpsertUser update: %v", err)
	}
	u, _ = db.GetUser("u1")
	if u.IsAdmin || u.Credits != 3 {
		t.Errorf("got %+v after update", u)
	}
}

func TestDeductCredits(t *testing.T) {
	db := openTestDB(t)
	db.UpsertUser("u1", false, 7)

	ok, err := db.DeductCredits("u1", 5)
	if err != nil || !ok {
		t.Fatalf("first deduction should succeed: ok=%v err=%v", ok, err)
	}

	// Balance is now 2 — a second deduction of 5 must fail and leave the
	// balance untouched.
	ok, err = db.DeductCredits("u1", 5)
	if err != nil {
		t.Fatalf("DeductCredits: %v", err)
	}
	if ok {
		t.Fatal("deduction below zero must be refused")
	}
	u, _ := db.GetUser("u1")
	if u.Credits != 2 {
		t.Errorf("got %d credits, want 2", u.Credits)
	}
}

func TestRecordFailureIncrementsCount(t *testing.T) {
	db := openTestDB(t)

	if err := db.RecordFailure("42", "SPLITTING", "boom"); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if err := db.RecordFailure("42", "LYRICS", "boom again"); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	failures, err := db.ListFailures()
	if err != nil {
		t.Fatalf("ListFailures: %v", err)
	}
	if len(failures) != 1 {
		t.Fatalf("got %d rows, want 1 (last-write-wins per track)", len(failures))
	}
	f := failures[0]
	if f.Stage != "LYRICS" || f.FailureCount != 2 {
		t.Errorf("got %+v, want stage LYRICS / count 2", f)
	}
}

func TestClearFailure(t *testing.T) {
	db := openTestDB(t)
	db.RecordFailure("42", "SPLITTING", "boom")

	if err := db.ClearFailure("42"); err != nil {
		t.Fatalf("ClearFailure: %v", err)
	}
	failures, _ := db.ListFailures()
	if len(failures) != 0 {
		t.Errorf("got %d rows, want 0", len(failures))
	}
}

func TestLogErrorAndList(t *testing.T) {
	db := openTestDB(t)
	if err := db.LogError("model", "pipeline", "separator timed out", "stack", "42"); err != nil {
		t.Fatalf("LogError: %v", err)
	}
	errs, err := db.ListErrors()
	if err != nil {
		t.Fatalf("ListErrors: %v", err)
	}
	if len(errs) != 1 || errs[0].ErrorType != "model" || errs[0].TrackID != "42" {
		t.Errorf("got %+v", errs)
	}
}

func TestUsageStats(t *testing.T) {
	db := openTestDB(t)
	db.LogUsage("u1", "alice", "download", "42")
	db.LogUsage("u1", "alice", "download", "43")
	db.LogUsage("u2", "bob", "play", "42")

	stats, err := db.UsageStats()
	if err != nil {
		t.Fatalf("UsageStats: %v", err)
	}
	byAction := make(map[string]int)
	for _, s := range stats {
		byAction[s.Action] = s.Count
	}
	if byAction["download"] != 2 || byAction["play"] != 1 {
		t.Errorf("got %v", byAction)
	}
}
