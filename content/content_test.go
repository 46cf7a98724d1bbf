package content

import (
	"context"
	"reflect"
	"testing"
	"time"
)

func TestItemMissing(t *testing.T) {
	it := Item{Metadata: map[string]any{"summary": "s"}}
	if it.Missing([]string{"summary"}) {
		t.Error("summary present")
	}
	if !it.Missing([]string{"summary", "score"}) {
		t.Error("score absent")
	}
	if (Item{}).Missing(nil) {
		t.Error("no target fields means nothing is missing")
	}
}

func TestWindow(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	got := Window(now, 2)
	if !reflect.DeepEqual(got, []string{"2024-03-01", "2024-02-29"}) {
		t.Errorf("Window = %v", got)
	}
	if Window(now, 0) != nil {
		t.Error("expected nil for zero days")
	}
}

func TestMemoryStoreIsolation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	items := []Item{{ID: "1", Metadata: map[string]any{"a": 1}}}
	if err := s.SaveGroup(ctx, "2024-03-01", "hn", items); err != nil {
		t.Fatalf("SaveGroup: %v", err)
	}
	items[0].Metadata["a"] = 2

	groups, err := s.Groups(ctx, "2024-03-01")
	if err != nil {
		t.Fatalf("Groups: %v", err)
	}
	if groups["hn"][0].Metadata["a"] != 1 {
		t.Error("store shares metadata with caller")
	}
	groups["hn"][0].Metadata["a"] = 3
	again, _ := s.Groups(ctx, "2024-03-01")
	if again["hn"][0].Metadata["a"] != 1 {
		t.Error("store shares metadata with reader")
	}
	if empty, _ := s.Groups(ctx, "1999-01-01"); len(empty) != 0 {
		t.Errorf("unknown date should be empty, got %v", empty)
	}
	if s.Saves() != 1 || !reflect.DeepEqual(s.GroupNames("2024-03-01"), []string{"hn"}) {
		t.Errorf("saves=%d groups=%v", s.Saves(), s.GroupNames("2024-03-01"))
	}
}
