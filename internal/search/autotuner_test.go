package search

import (
	"context"
	"testing"

	"github.com/thisismudith/litscout/pkg/store"
	"github.com/thisismudith/litscout/pkg/store/mock"
	"github.com/thisismudith/litscout/pkg/types"
)

func TestChooseLists_StepsByRowCount(t *testing.T) {
	cases := []struct {
		rows int64
		want int
	}{
		{0, 50},
		{999, 50},
		{1_000, 100},
		{9_999, 100},
		{10_000, 200},
		{99_999, 200},
		{100_000, 1000},
		{999_999, 1000},
		{1_000_000, 2000},
		{50_000_000, 2000},
	}
	for _, tc := range cases {
		if got := chooseLists(tc.rows); got != tc.want {
			t.Errorf("chooseLists(%d) = %d, want %d", tc.rows, got, tc.want)
		}
	}
}

func TestChooseProbes_StepsByLists(t *testing.T) {
	cases := []struct {
		lists int
		want  int
	}{
		{50, 5},
		{100, 10},
		{200, 20},
		{1000, 50},
		{2000, 100},
	}
	for _, tc := range cases {
		if got := chooseProbes(tc.lists); got != tc.want {
			t.Errorf("chooseProbes(%d) = %d, want %d", tc.lists, got, tc.want)
		}
	}
}

func TestListsHaveDrifted_WithinOneAndHalfXIsStable(t *testing.T) {
	if listsHaveDrifted(100, 140) {
		t.Error("140 is within 1.5x of 100, should not be considered drifted")
	}
	if listsHaveDrifted(100, 70) {
		t.Error("70 is within 1.5x of 100, should not be considered drifted")
	}
}

func TestListsHaveDrifted_BeyondOneAndHalfXTriggersRebuild(t *testing.T) {
	if !listsHaveDrifted(100, 200) {
		t.Error("200 is more than 1.5x of 100, should be considered drifted")
	}
	if !listsHaveDrifted(100, 50) {
		t.Error("50 is less than 100/1.5, should be considered drifted")
	}
}

func TestListsHaveDrifted_NoExistingIndexAlwaysDrifts(t *testing.T) {
	if !listsHaveDrifted(0, 50) {
		t.Error("a current value of 0 (no index yet) must always be treated as drifted")
	}
}

func TestAutotuner_BuildsIndexWhenNoneExists(t *testing.T) {
	st := &mock.Store{IndexStatsResult: store.IndexStats{RowCount: 5_000, CurrentLists: 0}}
	a := NewAutotuner(st)

	lists, probes, err := a.Ensure(context.Background(), types.KindPaper)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if lists != 100 || probes != 10 {
		t.Errorf("got lists=%d probes=%d, want lists=100 probes=10", lists, probes)
	}
	if st.CallCount("EnsureANNIndex") != 1 {
		t.Errorf("expected EnsureANNIndex to be called once, got %d", st.CallCount("EnsureANNIndex"))
	}
}

func TestAutotuner_ReusesIndexWhenCloseEnough(t *testing.T) {
	st := &mock.Store{IndexStatsResult: store.IndexStats{RowCount: 5_000, CurrentLists: 120}}
	a := NewAutotuner(st)

	lists, _, err := a.Ensure(context.Background(), types.KindPaper)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if lists != 120 {
		t.Errorf("expected existing lists=120 to be reused, got %d", lists)
	}
	if st.CallCount("EnsureANNIndex") != 0 {
		t.Error("expected no rebuild when current lists is within drift tolerance")
	}
}

func TestAutotuner_RebuildsOnSignificantDrift(t *testing.T) {
	st := &mock.Store{IndexStatsResult: store.IndexStats{RowCount: 5_000_000, CurrentLists: 100}}
	a := NewAutotuner(st)

	lists, _, err := a.Ensure(context.Background(), types.KindPaper)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if lists != 2000 {
		t.Errorf("expected rebuild to 2000, got %d", lists)
	}
	if st.CallCount("EnsureANNIndex") != 1 {
		t.Error("expected a rebuild when current lists has drifted beyond tolerance")
	}
}

func TestAutotuner_CachesResultAcrossCalls(t *testing.T) {
	st := &mock.Store{IndexStatsResult: store.IndexStats{RowCount: 5_000, CurrentLists: 0}}
	a := NewAutotuner(st)

	if _, _, err := a.Ensure(context.Background(), types.KindPaper); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if _, _, err := a.Ensure(context.Background(), types.KindPaper); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if st.CallCount("IndexStats") != 1 {
		t.Errorf("expected IndexStats to be read once and cached, got %d calls", st.CallCount("IndexStats"))
	}
}

func TestAutotuner_InvalidateForcesRecheck(t *testing.T) {
	st := &mock.Store{IndexStatsResult: store.IndexStats{RowCount: 5_000, CurrentLists: 0}}
	a := NewAutotuner(st)

	if _, _, err := a.Ensure(context.Background(), types.KindPaper); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	a.Invalidate(types.KindPaper)
	if _, _, err := a.Ensure(context.Background(), types.KindPaper); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if st.CallCount("IndexStats") != 2 {
		t.Errorf("expected Invalidate to force a second IndexStats read, got %d calls", st.CallCount("IndexStats"))
	}
}

func TestAutotuner_KindsAreCachedIndependently(t *testing.T) {
	st := &mock.Store{IndexStatsResult: store.IndexStats{RowCount: 5_000, CurrentLists: 0}}
	a := NewAutotuner(st)

	if _, _, err := a.Ensure(context.Background(), types.KindPaper); err != nil {
		t.Fatalf("Ensure(paper): %v", err)
	}
	if _, _, err := a.Ensure(context.Background(), types.KindConcept); err != nil {
		t.Fatalf("Ensure(concept): %v", err)
	}
	if st.CallCount("IndexStats") != 2 {
		t.Errorf("expected independent caching per kind, got %d IndexStats calls", st.CallCount("IndexStats"))
	}
}
