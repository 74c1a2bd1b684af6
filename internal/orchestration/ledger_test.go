package orchestration

import (
	"fmt"
	"sync"
	"testing"
)

func TestLedgerEvictsOldestFirst(t *testing.T) {
	var evicted []string
	ledger := NewHistoryLedger(3, WithEvictionHandler(func(e HistoryEntry) {
		evicted = append(evicted, e.ID)
	}))
	for i := 1; i <= 5; i++ {
		ledger.Append(HistoryEntry{ID: fmt.Sprint(i), Status: StatusSucceeded, Success: true, QualityScore: 1})
	}
	if ledger.Len() != 3 || ledger.Capacity() != 3 {
		t.Fatalf("len = %d cap = %d", ledger.Len(), ledger.Capacity())
	}
	recent := ledger.Recent(0)
	if recent[0].ID != "3" || recent[1].ID != "4" || recent[2].ID != "5" {
		t.Fatalf("recent = %+v", recent)
	}
	if last := ledger.Recent(2); len(last) != 2 || last[0].ID != "4" || last[1].ID != "5" {
		t.Fatalf("recent(2) = %+v", last)
	}
	if len(evicted) != 2 || evicted[0] != "1" || evicted[1] != "2" {
		t.Fatalf("evicted = %v", evicted)
	}
}

func TestLedgerStats(t *testing.T) {
	ledger := NewHistoryLedger(4)
	ledger.Append(HistoryEntry{Status: StatusSucceeded, Success: true, QualityScore: 0.8})
	ledger.Append(HistoryEntry{Status: StatusSucceeded, Success: true, QualityScore: 0.6})
	ledger.Append(HistoryEntry{Status: StatusFailed})
	ledger.Append(HistoryEntry{Status: StatusCancelled})

	stats := ledger.Stats()
	if stats.Total != 4 || stats.Succeeded != 2 || stats.Failed != 1 || stats.Cancelled != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.FailureRate != 0.5 {
		t.Fatalf("failure rate = %v", stats.FailureRate)
	}
	if stats.MeanQuality < 0.69 || stats.MeanQuality > 0.71 {
		t.Fatalf("mean quality = %v", stats.MeanQuality)
	}

	ledger.Append(HistoryEntry{Status: StatusSucceeded, Success: true, QualityScore: 1})
	stats = ledger.Stats()
	if stats.Succeeded != 2 || stats.Total != 4 || stats.Evicted != 1 {
		t.Fatalf("stats after eviction = %+v", stats)
	}
}

func TestLedgerDefaultCapacity(t *testing.T) {
	if NewHistoryLedger(0).Capacity() != DefaultHistoryCapacity {
		t.Fatalf("default capacity not applied")
	}
}

func TestLedgerConcurrentAccess(t *testing.T) {
	ledger := NewHistoryLedger(50)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				ledger.Append(HistoryEntry{Status: StatusSucceeded, Success: true})
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if n := len(ledger.Recent(10)); n > 10 {
					t.Errorf("recent returned %d entries", n)
				}
				_ = ledger.Stats()
			}
		}()
	}
	wg.Wait()
	if ledger.Len() != 50 {
		t.Fatalf("len = %d", ledger.Len())
	}
}
