package synth

import (
	"context"
	"testing"
	"time"
)

func fixedClock() time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
}

func TestGenerator_GridShape(t *testing.T) {
	g := New(WithSeed(1), WithClock(fixedClock))

	grid := g.Grid()
	if !grid.Valid() {
		t.Fatal("generated grid has an invalid shape")
	}

	rows, cols := grid.Shape()
	if rows != DefaultFreqBuckets || cols != DefaultTimeBuckets {
		t.Errorf("expected %dx%d grid, got %dx%d", DefaultFreqBuckets, DefaultTimeBuckets, rows, cols)
	}
	if grid.Time[1] != 0.3 {
		t.Errorf("expected time step 0.3s, got %v", grid.Time[1])
	}
}

func TestGenerator_Bands(t *testing.T) {
	g := New(WithSeed(7), WithClock(fixedClock))
	grid := g.Grid()

	for fi, fv := range grid.Frequency {
		for ti, tv := range grid.Time {
			v := grid.Z[fi][ti]
			inBand := false
			for _, b := range DefaultBands {
				if tv >= b.TimeStart && tv < b.TimeEnd && fv >= b.FreqStart && fv < b.FreqEnd {
					inBand = true
				}
			}

			if inBand && v < DefaultBandFloor {
				t.Fatalf("cell (%v s, %v Hz) inside a band is %v, below the floor", tv, fv, v)
			}
			if !inBand && (v < 0 || v >= DefaultNoise) {
				t.Fatalf("background cell (%v s, %v Hz) is %v, outside [0, %v)", tv, fv, v, DefaultNoise)
			}
		}
	}
}

func TestGenerator_SeedIsDeterministic(t *testing.T) {
	a := New(WithSeed(42), WithClock(fixedClock)).Samples()
	b := New(WithSeed(42), WithClock(fixedClock)).Samples()

	if len(a) != len(b) {
		t.Fatalf("expected equal lengths, got %d and %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("sample %d differs: %+v != %+v", i, a[i], b[i])
		}
	}
}

func TestGenerator_NextFrame(t *testing.T) {
	g := New(WithSeed(1), WithAxes(10, 5, 100, 4), WithClock(fixedClock))

	f, err := g.NextFrame(context.Background(), "2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Channel != "2" {
		t.Errorf("expected channel 2, got %s", f.Channel)
	}
	if rows, cols := f.Grid.Shape(); rows != 4 || cols != 5 {
		t.Errorf("expected 4x5 grid, got %dx%d", rows, cols)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err = g.NextFrame(ctx, "2"); err == nil {
		t.Error("expected error on cancelled context")
	}
}
