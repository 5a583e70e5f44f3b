package ids

import (
	"sort"
	"testing"
	"time"
)

func TestNewIsUnique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := New()
		if _, ok := seen[id]; ok {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = struct{}{}
	}
}

func TestNewAtSortsByTime(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var got []string
	for i := 0; i < 5; i++ {
		got = append(got, NewAt(base.Add(time.Duration(i)*time.Hour)))
	}
	sorted := append([]string(nil), got...)
	sort.Strings(sorted)
	for i := range got {
		if got[i] != sorted[i] {
			t.Fatalf("expected lexicographic order to follow time, got %v", got)
		}
	}
}
