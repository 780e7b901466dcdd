package snapshot

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func selectFrom(t *testing.T, feed string, region RegionPath) (SelectionResult, error) {
	t.Helper()
	snap, err := Decode(strings.NewReader(feed))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return Select(snap, region)
}

func TestSelectRevisionTiebreak(t *testing.T) {
	// The worked example from the selection contract: the dead mirror on
	// a newer version is excluded; within version 2023 the higher
	// revision wins.
	feed := `{"NA": {"USA": {
		"m1": {"url": "a", "status": "Alive", "releaseVersion": "2023", "revision": "1"},
		"m2": {"url": "b", "status": "Alive", "releaseVersion": "2023", "revision": "2"},
		"m3": {"url": "c", "status": "Dead", "releaseVersion": "2024", "revision": "1"}
	}}}`

	got, err := selectFrom(t, feed, "NA/USA")
	if err != nil {
		t.Fatal(err)
	}
	want := SelectionResult{"b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("want %v, got %v", want, got)
	}
}

func TestSelectVersionBeatsRevision(t *testing.T) {
	feed := `{"R": {
		"m1": {"url": "a", "status": "Alive", "releaseVersion": "2023", "revision": "900"},
		"m2": {"url": "b", "status": "Alive", "releaseVersion": "2024", "revision": "1"}
	}}`
	got, err := selectFrom(t, feed, "R")
	if err != nil {
		t.Fatal(err)
	}
	want := SelectionResult{"b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("want %v, got %v", want, got)
	}
}

func TestSelectTiedWinnersKeepFeedOrder(t *testing.T) {
	feed := `{"R": {
		"m1": {"url": "x", "status": "Alive", "releaseVersion": "2024", "revision": "9"},
		"m2": {"url": "y", "status": "Dead", "releaseVersion": "2024", "revision": "9"},
		"m3": {"url": "z", "status": "Alive", "releaseVersion": "2024", "revision": "9"}
	}}`
	got, err := selectFrom(t, feed, "R")
	if err != nil {
		t.Fatal(err)
	}
	want := SelectionResult{"x", "z"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("want %v, got %v", want, got)
	}
}

func TestSelectNumericNotLexicographic(t *testing.T) {
	// "10" must beat "9"; a string comparison would invert this.
	feed := `{"R": {
		"m1": {"url": "nine", "status": "Alive", "releaseVersion": "9", "revision": "1"},
		"m2": {"url": "ten", "status": "Alive", "releaseVersion": "10", "revision": "1"}
	}}`
	got, err := selectFrom(t, feed, "R")
	if err != nil {
		t.Fatal(err)
	}
	want := SelectionResult{"ten"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("want %v, got %v", want, got)
	}

	feed = `{"R": {
		"m1": {"url": "r9", "status": "Alive", "releaseVersion": "2024", "revision": "9"},
		"m2": {"url": "r10", "status": "Alive", "releaseVersion": "2024", "revision": "10"}
	}}`
	got, err = selectFrom(t, feed, "R")
	if err != nil {
		t.Fatal(err)
	}
	want = SelectionResult{"r10"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("want %v, got %v", want, got)
	}
}

func TestSelectEmptyCases(t *testing.T) {
	cases := []struct {
		name   string
		feed   string
		region RegionPath
	}{
		{"absent region", `{"R": {"m": {"url": "u", "status": "Alive", "releaseVersion": "1", "revision": "1"}}}`, "Other"},
		{"all dead", `{"R": {
			"m1": {"url": "a", "status": "Dead", "releaseVersion": "1", "revision": "1"},
			"m2": {"url": "b", "status": "Dead", "releaseVersion": "2", "revision": "2"}
		}}`, "R"},
		{"all unknown", `{"R": {"m": {"url": "a", "status": "Timeout"}}}`, "R"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := selectFrom(t, tc.feed, tc.region)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != 0 {
				t.Errorf("want empty result, got %v", got)
			}
		})
	}
}

func TestSelectMalformedTokens(t *testing.T) {
	cases := []struct {
		name string
		feed string
	}{
		{"non-numeric version", `{"R": {
			"m1": {"url": "a", "status": "Alive", "releaseVersion": "latest", "revision": "1"},
			"m2": {"url": "b", "status": "Alive", "releaseVersion": "2024", "revision": "1"}
		}}`},
		{"non-numeric revision in winning group", `{"R": {
			"m1": {"url": "a", "status": "Alive", "releaseVersion": "2024", "revision": "r7"}
		}}`},
		{"missing version field", `{"R": {
			"m1": {"url": "a", "status": "Alive", "revision": "1"}
		}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := selectFrom(t, tc.feed, "R")
			if !errors.Is(err, ErrMalformedRecord) {
				t.Fatalf("want ErrMalformedRecord, got %v", err)
			}
		})
	}
}

func TestSelectMalformedRevisionOutsideWinningGroupIgnored(t *testing.T) {
	// The revision policy applies within the selected version group only;
	// stale versions never have their revisions compared.
	feed := `{"R": {
		"m1": {"url": "old", "status": "Alive", "releaseVersion": "2023", "revision": "garbage"},
		"m2": {"url": "new", "status": "Alive", "releaseVersion": "2024", "revision": "1"}
	}}`
	got, err := selectFrom(t, feed, "R")
	if err != nil {
		t.Fatal(err)
	}
	want := SelectionResult{"new"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("want %v, got %v", want, got)
	}
}

func TestSelectDeadMalformedIgnored(t *testing.T) {
	// Only alive records are parsed; dead mirrors may carry any garbage.
	feed := `{"R": {
		"m1": {"url": "a", "status": "Dead", "releaseVersion": "not-a-number", "revision": "x"},
		"m2": {"url": "b", "status": "Alive", "releaseVersion": "2024", "revision": "1"}
	}}`
	got, err := selectFrom(t, feed, "R")
	if err != nil {
		t.Fatal(err)
	}
	want := SelectionResult{"b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("want %v, got %v", want, got)
	}
}

func TestSelectDeterministic(t *testing.T) {
	feed := `{"R": {
		"m1": {"url": "a", "status": "Alive", "releaseVersion": "2024", "revision": "3"},
		"m2": {"url": "b", "status": "Alive", "releaseVersion": "2024", "revision": "3"},
		"m3": {"url": "c", "status": "Alive", "releaseVersion": "2024", "revision": "2"}
	}}`
	snap, err := Decode(strings.NewReader(feed))
	if err != nil {
		t.Fatal(err)
	}
	first, err := Select(snap, "R")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 50; i++ {
		again, err := Select(snap, "R")
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("iteration %d: %v != %v", i, again, first)
		}
	}
}

func TestSelectNegativeTokensCompareNumerically(t *testing.T) {
	feed := `{"R": {
		"m1": {"url": "a", "status": "Alive", "releaseVersion": "-3", "revision": "1"},
		"m2": {"url": "b", "status": "Alive", "releaseVersion": "-2", "revision": "1"}
	}}`
	got, err := selectFrom(t, feed, "R")
	if err != nil {
		t.Fatal(err)
	}
	want := SelectionResult{"b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("want %v, got %v", want, got)
	}
}
