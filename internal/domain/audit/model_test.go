package audit

import "testing"

func TestValidTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusInReview, true},
		{StatusInReview, StatusResolved, true},
		{StatusPending, StatusResolved, false},
		{StatusResolved, StatusPending, true},
		{StatusResolved, StatusInReview, false},
		{StatusInReview, StatusPending, false},
		{StatusPending, StatusIgnored, true},
		{StatusInReview, StatusIgnored, true},
		{StatusResolved, StatusIgnored, true},
		{StatusIgnored, StatusPending, false},
	}
	for _, tc := range cases {
		if got := ValidTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("ValidTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestDefaultPriority(t *testing.T) {
	if p := DefaultPriority(KindDateMismatch); p != PriorityMedium {
		t.Errorf("expected MEDIUM for date_mismatch, got %s", p)
	}
	if p := DefaultPriority(KindQuotaExceeded); p != PriorityHigh {
		t.Errorf("expected HIGH for quota_exceeded, got %s", p)
	}
	if p := DefaultPriority(Kind("something_new")); p != PriorityMedium {
		t.Errorf("expected MEDIUM fallback for unknown kind, got %s", p)
	}
}

func TestNormalizeKindCounts_AllKindsPresent(t *testing.T) {
	counts := NormalizeKindCounts(map[Kind]int{KindDateMismatch: 3})
	if len(counts) != len(AllKinds) {
		t.Fatalf("expected %d kinds, got %d", len(AllKinds), len(counts))
	}
	if counts[KindDateMismatch] != 3 {
		t.Errorf("expected 3 date_mismatch, got %d", counts[KindDateMismatch])
	}
	for _, k := range AllKinds {
		if _, ok := counts[k]; !ok {
			t.Errorf("kind %s missing from normalized counts", k)
		}
	}
}

func TestNormalizeKindCounts_NilInput(t *testing.T) {
	counts := NormalizeKindCounts(nil)
	if len(counts) != len(AllKinds) {
		t.Fatalf("expected %d kinds, got %d", len(AllKinds), len(counts))
	}
	for k, v := range counts {
		if v != 0 {
			t.Errorf("expected 0 for %s, got %d", k, v)
		}
	}
}
