package casegraph

import (
	"testing"
	"time"
)

func at(day int) time.Time {
	return time.Date(2017, time.March, day, 0, 0, 0, 0, time.UTC)
}

func TestEarliestOpened(t *testing.T) {
	cases := []*Case{
		{CaseID: "b", OpenedOn: at(5)},
		{CaseID: "a", OpenedOn: at(2)},
		{CaseID: "c", OpenedOn: at(2)},
	}
	if got := EarliestOpened(cases); got.CaseID != "a" {
		t.Errorf("expected a, got %s", got.CaseID)
	}
	if EarliestOpened(nil) != nil {
		t.Error("expected nil for no candidates")
	}
}

func TestLatestOpened_TieByCaseID(t *testing.T) {
	cases := []*Case{
		{CaseID: "a", OpenedOn: at(1)},
		{CaseID: "c", OpenedOn: at(9)},
		{CaseID: "b", OpenedOn: at(9)},
	}
	if got := LatestOpened(cases); got.CaseID != "b" {
		t.Errorf("expected b, got %s", got.CaseID)
	}
}

func TestEarliestOpened_TieIgnoresInputOrder(t *testing.T) {
	x := &Case{CaseID: "x", OpenedOn: at(4)}
	y := &Case{CaseID: "y", OpenedOn: at(4)}
	for _, cases := range [][]*Case{{x, y}, {y, x}} {
		if got := EarliestOpened(cases); got.CaseID != "x" {
			t.Errorf("%v: expected x, got %s", IDs(cases), got.CaseID)
		}
	}
}

func TestSortByOpened_TieByCaseID(t *testing.T) {
	cases := []*Case{
		{CaseID: "z", OpenedOn: at(3)},
		{CaseID: "y", OpenedOn: at(1)},
		{CaseID: "x", OpenedOn: at(3)},
	}
	SortByOpened(cases)
	got := IDs(cases)
	want := []string{"y", "x", "z"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestOfType(t *testing.T) {
	cases := []*Case{
		{CaseID: "1", Type: TypeEpisode},
		{CaseID: "2", Type: TypeTest},
		{CaseID: "3", Type: TypeEpisode},
	}
	if got := OfType(cases, TypeEpisode); len(got) != 2 {
		t.Errorf("expected 2 episodes, got %d", len(got))
	}
}
