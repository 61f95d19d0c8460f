package hlc

import "testing"

type fakeStore struct {
	id string
	ok bool
}

func (f *fakeStore) Load() (string, bool) { return f.id, f.ok }
func (f *fakeStore) Save(id string) error { f.id, f.ok = id, true; return nil }

func TestGenerateMonotone(t *testing.T) {
	tick := int64(1000)
	now := func() int64 { return tick }
	c := New(&fakeStore{id: "devdevic"}, WithWallClock(now))

	var prev string
	for i := 0; i < 5; i++ {
		got := c.Generate()
		if prev != "" && Compare(prev, got) >= 0 {
			t.Fatalf("expected %q < %q", prev, got)
		}
		prev = got
	}
}

func TestCounterResetsOnAdvance(t *testing.T) {
	tick := int64(1000)
	now := func() int64 { return tick }
	c := New(&fakeStore{id: "devdevic"}, WithWallClock(now))

	first := c.Generate()
	second := c.Generate() // same tick, counter should bump to 1
	tick = 2000
	third := c.Generate() // new tick, counter resets to 0

	_, ctr1, _, _ := Parse(first)
	_, ctr2, _, _ := Parse(second)
	ts3, ctr3, _, _ := Parse(third)

	if ctr1 != 0 || ctr2 != 1 {
		t.Fatalf("expected counters 0,1 got %d,%d", ctr1, ctr2)
	}
	if ctr3 != 0 || ts3 != 2000 {
		t.Fatalf("expected counter reset to 0 at new timestamp, got ctr=%d ts=%d", ctr3, ts3)
	}
}

func TestClockRegressionNeverErrors(t *testing.T) {
	tick := int64(5000)
	now := func() int64 { return tick }
	regressed := 0
	c := New(&fakeStore{id: "devdevic"}, WithWallClock(now), WithRegressionHook(func(int64, uint32) {
		regressed++
	}))

	c.Generate()
	tick = 1000 // wall clock regresses
	a := c.Generate()
	b := c.Generate()

	if Compare(a, b) >= 0 {
		t.Fatalf("expected monotone output even under clock regression: %q >= %q", a, b)
	}
	if regressed == 0 {
		t.Fatalf("expected regression hook to fire")
	}
}

func TestDeviceIDPersistsAcrossInstances(t *testing.T) {
	store := &fakeStore{}
	c1 := New(store)
	id := c1.DeviceID()
	if len(id) != deviceWidth {
		t.Fatalf("expected device id of width %d, got %q", deviceWidth, id)
	}

	c2 := New(store)
	if c2.DeviceID() != id {
		t.Fatalf("expected device id to persist: %q != %q", c2.DeviceID(), id)
	}
}

func TestCompareMatchesLexicographicOrder(t *testing.T) {
	a := Format(1000, 0, "devdevic")
	b := Format(1000, 1, "devdevic")
	c := Format(1001, 0, "devdevic")

	if Compare(a, b) >= 0 {
		t.Fatalf("expected a < b")
	}
	if Compare(b, c) >= 0 {
		t.Fatalf("expected b < c")
	}
	if Compare(a, a) != 0 {
		t.Fatalf("expected equal values to compare 0")
	}
}
