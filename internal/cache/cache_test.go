package cache

import (
	"testing"
	"time"

	"github.com/a-dev-mobile/t-indicators/internal/model"
)

var base = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func val(id string, minute int, out float64, provisional bool) model.Value {
	return model.Value{
		SpecID:      id,
		Name:        "SMA_3",
		Symbol:      "AAPL",
		Timeframe:   model.TF1m,
		TS:          base.Add(time.Duration(minute) * time.Minute),
		Outputs:     map[string]float64{"value": out},
		Status:      model.StatusReady,
		Provisional: provisional,
	}
}

func TestLatest_WriteThrough(t *testing.T) {
	c := New(8)
	c.Publish(val("a", 0, 10, false))
	c.Publish(val("a", 1, 11, false))

	v, ok := c.Latest("a")
	if !ok {
		t.Fatal("latest missing")
	}
	if v.Outputs["value"] != 11 {
		t.Errorf("latest = %v, want 11", v.Outputs["value"])
	}
	if _, ok := c.Latest("b"); ok {
		t.Error("unknown spec returned a value")
	}
}

func TestProvisional_SupersededByCommit(t *testing.T) {
	c := New(8)
	c.Publish(val("a", 0, 10, false))
	c.Publish(val("a", 1, 12.5, true))

	pv, ok := c.Provisional("a")
	if !ok || pv.Outputs["value"] != 12.5 {
		t.Fatalf("provisional = %v, %v", pv.Outputs, ok)
	}
	// committed value still the bar-0 one
	lv, _ := c.Latest("a")
	if lv.Outputs["value"] != 10 {
		t.Errorf("latest = %v, want 10", lv.Outputs["value"])
	}

	// bar 1 commits; the provisional must vanish
	c.Publish(val("a", 1, 11, false))
	if _, ok := c.Provisional("a"); ok {
		t.Error("provisional survived the committing bar")
	}
	lv, _ = c.Latest("a")
	if lv.Outputs["value"] != 11 {
		t.Errorf("latest after commit = %v, want 11", lv.Outputs["value"])
	}
}

func TestRange_OrderAndBounds(t *testing.T) {
	c := New(4)
	for i := 0; i < 6; i++ { // window keeps minutes 2..5
		c.Publish(val("a", i, float64(10+i), false))
	}

	got := c.Range("a", base.Add(3*time.Minute), base.Add(4*time.Minute))
	if len(got) != 2 {
		t.Fatalf("range len = %d, want 2", len(got))
	}
	if got[0].Outputs["value"] != 13 || got[1].Outputs["value"] != 14 {
		t.Errorf("range values = %v, %v", got[0].Outputs["value"], got[1].Outputs["value"])
	}

	oldest, ok := c.OldestCached("a")
	if !ok || !oldest.Equal(base.Add(2*time.Minute)) {
		t.Errorf("oldest = %v, want minute 2", oldest)
	}
}

func TestRevision_ReplacesInWindow(t *testing.T) {
	c := New(8)
	c.Publish(val("a", 0, 10, false))
	c.Publish(val("a", 1, 11, false))
	// revision of bar 1
	c.Publish(val("a", 1, 99, false))

	got := c.Range("a", base, base.Add(time.Minute))
	if len(got) != 2 {
		t.Fatalf("range len = %d, want 2 (revision must not duplicate)", len(got))
	}
	if got[1].Outputs["value"] != 99 {
		t.Errorf("revised value = %v, want 99", got[1].Outputs["value"])
	}
}

func TestStatusMarkers_SkipWindow(t *testing.T) {
	c := New(8)
	warming := val("a", 0, 0, false)
	warming.Outputs = nil
	warming.Status = model.StatusWarming
	c.Publish(warming)

	v, ok := c.Latest("a")
	if !ok || v.Status != model.StatusWarming {
		t.Fatalf("latest = %+v, %v", v, ok)
	}
	if got := c.Range("a", base.Add(-time.Hour), base.Add(time.Hour)); len(got) != 0 {
		t.Errorf("status marker entered the series window: %v", got)
	}
}

func TestEvict(t *testing.T) {
	c := New(8)
	c.Publish(val("a", 0, 10, false))
	c.Evict("a")
	if _, ok := c.Latest("a"); ok {
		t.Error("value survived eviction")
	}
	if c.Len() != 0 {
		t.Errorf("len = %d, want 0", c.Len())
	}
}
