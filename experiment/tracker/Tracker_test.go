package tracker

import (
	"path/filepath"
	"testing"
)

// TestGobTrackerRoundTrip tracks two series, saves them, and reloads
// each from its own file.
func TestGobTrackerRoundTrip(t *testing.T) {
	dir := t.TempDir()

	tr, err := NewGob(dir)
	if err != nil {
		t.Fatalf("could not create tracker: %v", err)
	}

	tr.Track("critic_loss", 10000, 1.5)
	tr.Track("critic_loss", 20000, 0.75)
	tr.Track("q", 10000, -3)

	if err := tr.Save(); err != nil {
		t.Fatalf("could not save tracked data: %v", err)
	}

	points, err := LoadScalars(filepath.Join(dir, "critic_loss.bin"))
	if err != nil {
		t.Fatalf("could not load series: %v", err)
	}
	want := []Point{{Step: 10000, Value: 1.5}, {Step: 20000, Value: 0.75}}
	if len(points) != len(want) {
		t.Fatalf("loaded %v points, expected %v", len(points), len(want))
	}
	for i := range want {
		if points[i] != want[i] {
			t.Errorf("point %v is %+v, expected %+v", i, points[i], want[i])
		}
	}

	points, err = LoadScalars(filepath.Join(dir, "q.bin"))
	if err != nil {
		t.Fatalf("could not load series: %v", err)
	}
	if len(points) != 1 || points[0] != (Point{Step: 10000, Value: -3}) {
		t.Errorf("loaded %+v, expected a single point {10000 -3}", points)
	}
}

// TestLoadScalarsMissingFile ensures loading a nonexistent series
// fails.
func TestLoadScalarsMissingFile(t *testing.T) {
	if _, err := LoadScalars(filepath.Join(t.TempDir(),
		"missing.bin")); err == nil {
		t.Error("loading a missing series succeeded")
	}
}
