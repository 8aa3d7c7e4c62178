package audit

import "testing"

func TestAppendAssignsIncreasingIDs(t *testing.T) {
	r := NewRing()
	r.Append(CategoryFS, "READ", 1, nil)
	r.Append(CategoryFS, "WRITE", 1, nil)

	entries := r.Query(0, "", 0, false, 0)
	if len(entries) != 2 || entries[0].ID != 1 || entries[1].ID != 2 {
		t.Fatalf("expected increasing ids 1,2, got %+v", entries)
	}
}

func TestAppendDropsCategoryWhenFilteredOut(t *testing.T) {
	r := NewRing()
	r.SetFilter(Filter{Categories: map[Category]bool{CategoryFS: false}, MaxEntries: 10})
	r.Append(CategoryFS, "READ", 1, nil)

	if entries := r.Query(0, "", 0, false, 0); len(entries) != 0 {
		t.Fatalf("expected no entries for filtered category, got %+v", entries)
	}
}

func TestQuerySinceIDExcludesOlder(t *testing.T) {
	r := NewRing()
	r.Append(CategoryFS, "READ", 1, nil)
	r.Append(CategoryFS, "READ", 1, nil)
	r.Append(CategoryFS, "READ", 1, nil)

	entries := r.Query(1, "", 0, false, 0)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries after id 1, got %d", len(entries))
	}
}

func TestQueryFiltersByAgentID(t *testing.T) {
	r := NewRing()
	r.Append(CategoryFS, "READ", 1, nil)
	r.Append(CategoryFS, "READ", 2, nil)

	entries := r.Query(0, "", 1, true, 0)
	if len(entries) != 1 || entries[0].AgentID != 1 {
		t.Fatalf("expected 1 entry for agent 1, got %+v", entries)
	}
}

func TestRingDropsOldestOverCapacity(t *testing.T) {
	r := NewRing()
	r.SetFilter(Filter{MaxEntries: 2})
	r.Append(CategoryFS, "A", 1, nil)
	r.Append(CategoryFS, "B", 1, nil)
	r.Append(CategoryFS, "C", 1, nil)

	entries := r.Query(0, "", 0, false, 0)
	if len(entries) != 2 || entries[0].EventType != "B" || entries[1].EventType != "C" {
		t.Fatalf("expected B,C after overflow, got %+v", entries)
	}
}

func TestQueryLimitCapsResults(t *testing.T) {
	r := NewRing()
	for i := 0; i < 5; i++ {
		r.Append(CategoryFS, "READ", 1, nil)
	}
	entries := r.Query(0, "", 0, false, 2)
	if len(entries) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(entries))
	}
}
