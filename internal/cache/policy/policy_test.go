package policy

import (
	"testing"
	"time"
)

func TestLRUPicksOldestAccess(t *testing.T) {
	p := NewLRU()
	now := time.Now()
	entries := map[string]EntryView{
		"a": {LastAccess: now.Add(-time.Minute)},
		"b": {LastAccess: now},
		"c": {LastAccess: now.Add(-time.Hour)},
	}
	victim, ok := p.PickVictim(entries, 0, 0)
	if !ok || victim != "c" {
		t.Fatalf("expected c as oldest, got %q ok=%v", victim, ok)
	}
}

func TestLRUTiesBreakLexicographically(t *testing.T) {
	p := NewLRU()
	now := time.Now()
	entries := map[string]EntryView{
		"zeta": {LastAccess: now},
		"alfa": {LastAccess: now},
	}
	victim, ok := p.PickVictim(entries, 0, 0)
	if !ok || victim != "alfa" {
		t.Fatalf("expected alfa on tie, got %q", victim)
	}
}

func TestLFUPicksLowestHitCount(t *testing.T) {
	p := NewLFU()
	now := time.Now()
	entries := map[string]EntryView{
		"hot":  {HitCount: 50, LastAccess: now},
		"cold": {HitCount: 1, LastAccess: now},
	}
	victim, ok := p.PickVictim(entries, 0, 0)
	if !ok || victim != "cold" {
		t.Fatalf("expected cold (lowest hits), got %q", victim)
	}
}

func TestCostPolicyRespectsAdmitThreshold(t *testing.T) {
	p := NewCost()
	params := DefaultParams()
	params.AdmitThreshold = 1e9 // impossibly high, nothing should pass
	p.SetParams(params)
	c := Candidate{Key: "k", Entry: EntryView{SizeBytes: 10}, MissCost: 5}
	if p.ShouldAdmit(c) {
		t.Fatalf("expected admission rejected at impossible threshold")
	}
}

func TestCostPolicyEvictPressureGate(t *testing.T) {
	p := NewCost()
	entries := map[string]EntryView{"a": {LastAccess: time.Now()}}
	// memory_used well below evict_pressure * memory_limit -> no victim.
	_, ok := p.PickVictim(entries, 10, 1000)
	if ok {
		t.Fatalf("expected no victim below eviction pressure threshold")
	}
}

func TestCostPolicyRateLimitsAdmissions(t *testing.T) {
	p := NewCost()
	params := DefaultParams()
	params.MaxAdmissionsPerSecond = 1
	p.SetParams(params)
	c := Candidate{Key: "k", Entry: EntryView{LastAccess: time.Now()}, MissCost: 100}
	if !p.ShouldAdmit(c) {
		t.Fatalf("expected first admission in window to succeed")
	}
	if p.ShouldAdmit(c) {
		t.Fatalf("expected second admission in same window to be rate-limited")
	}
}

func TestResolveRejectsUnknownName(t *testing.T) {
	if _, err := Resolve("not-a-policy"); err == nil {
		t.Fatalf("expected error for unknown policy name")
	}
}
