package core

import (
	"errors"
	"testing"

	"arbees/pkg/types"
)

func TestTableRegisterAndLookup(t *testing.T) {
	tbl := NewTable()

	id, err := tbl.Register(types.MarketPair{
		KalshiTicker:    "NBA-LAL-W",
		PolyConditionID: "0xabc",
		Description:     "Lakers to win",
		League:          "nba",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if id != 0 {
		t.Fatalf("first registered id = %d, want 0", id)
	}

	gotID, err := tbl.ByVenueK("NBA-LAL-W")
	if err != nil || gotID != id {
		t.Fatalf("ByVenueK = (%d, %v), want (%d, nil)", gotID, err, id)
	}

	gotID, err = tbl.ByVenueP("0xabc")
	if err != nil || gotID != id {
		t.Fatalf("ByVenueP = (%d, %v), want (%d, nil)", gotID, err, id)
	}

	if _, err := tbl.ByVenueK("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ByVenueK(missing) err = %v, want ErrNotFound", err)
	}
}

func TestTableCapacityExceeded(t *testing.T) {
	tbl := NewTable()
	for i := 0; i < TableCapacity; i++ {
		if _, err := tbl.Register(types.MarketPair{}); err != nil {
			t.Fatalf("unexpected error registering slot %d: %v", i, err)
		}
	}
	if _, err := tbl.Register(types.MarketPair{}); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("1025th register err = %v, want ErrCapacityExceeded", err)
	}
}

func TestTableOutOfRangeID(t *testing.T) {
	tbl := NewTable()
	if _, _, ok := tbl.ByID(types.MarketID(TableCapacity)); ok {
		t.Fatal("ByID(1024) should report not-ok")
	}
}

func TestTableUpdateAndSnapshot(t *testing.T) {
	tbl := NewTable()
	id, _ := tbl.Register(types.MarketPair{KalshiTicker: "T", PolyConditionID: "C"})

	if err := tbl.UpdateVenueK(id, 40, 65, 100, 200); err != nil {
		t.Fatalf("UpdateVenueK: %v", err)
	}
	if err := tbl.UpdateVenueP(id, 30, 55, 300, 400); err != nil {
		t.Fatalf("UpdateVenueP: %v", err)
	}

	kYesAsk, kNoAsk, _, _, pYesAsk, pNoAsk, _, _, ok := tbl.SnapshotBoth(id)
	if !ok {
		t.Fatal("SnapshotBoth reported not-ok for registered id")
	}
	if kYesAsk != 40 || kNoAsk != 65 || pYesAsk != 30 || pNoAsk != 55 {
		t.Fatalf("unexpected snapshot values: kYesAsk=%d kNoAsk=%d pYesAsk=%d pNoAsk=%d", kYesAsk, kNoAsk, pYesAsk, pNoAsk)
	}
}
