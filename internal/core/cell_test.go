package core

import (
	"sync"
	"testing"
)

func TestPackUnpack(t *testing.T) {
	got := Pack(9500, 9600, 250, 300)
	want := uint64(0x251C_2580_00FA_012C)
	if got != want {
		t.Fatalf("Pack(9500,9600,250,300) = %#x, want %#x", got, want)
	}

	yesAsk, noAsk, yesSize, noSize := Unpack(got)
	if yesAsk != 9500 || noAsk != 9600 || yesSize != 250 || noSize != 300 {
		t.Fatalf("Unpack(%#x) = (%d,%d,%d,%d), want (9500,9600,250,300)", got, yesAsk, noAsk, yesSize, noSize)
	}
}

func TestCellLoadStore(t *testing.T) {
	var c Cell
	if !c.IsEmpty() {
		t.Fatal("new cell should be empty")
	}

	c.Store(40, 65, 100, 200)
	yesAsk, noAsk, yesSize, noSize := c.Load()
	if yesAsk != 40 || noAsk != 65 || yesSize != 100 || noSize != 200 {
		t.Fatalf("Load() = (%d,%d,%d,%d), want (40,65,100,200)", yesAsk, noAsk, yesSize, noSize)
	}
	if c.IsEmpty() {
		t.Fatal("stored cell should not be empty")
	}
}

func TestCellUpdateYesPreservesNo(t *testing.T) {
	var c Cell
	c.Store(10, 20, 30, 40)

	c.UpdateYes(15, 35)
	yesAsk, noAsk, yesSize, noSize := c.Load()
	if yesAsk != 15 || yesSize != 35 {
		t.Fatalf("UpdateYes did not apply: got yesAsk=%d yesSize=%d", yesAsk, yesSize)
	}
	if noAsk != 20 || noSize != 40 {
		t.Fatalf("UpdateYes clobbered no side: got noAsk=%d noSize=%d", noAsk, noSize)
	}
}

func TestCellUpdateNoPreservesYes(t *testing.T) {
	var c Cell
	c.Store(10, 20, 30, 40)

	c.UpdateNo(25, 45)
	yesAsk, noAsk, yesSize, noSize := c.Load()
	if noAsk != 25 || noSize != 45 {
		t.Fatalf("UpdateNo did not apply: got noAsk=%d noSize=%d", noAsk, noSize)
	}
	if yesAsk != 10 || yesSize != 30 {
		t.Fatalf("UpdateNo clobbered yes side: got yesAsk=%d yesSize=%d", yesAsk, yesSize)
	}
}

// TestCellConcurrentUpdates exercises the CAS retry loop under contention
// from two concurrent writers (one per side), matching the at-most-two-
// writers-per-cell assumption the spec relies on for termination.
func TestCellConcurrentUpdates(t *testing.T) {
	var c Cell
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := uint16(0); i < 1000; i++ {
			c.UpdateYes(i, i)
		}
	}()
	go func() {
		defer wg.Done()
		for i := uint16(0); i < 1000; i++ {
			c.UpdateNo(i, i)
		}
	}()
	wg.Wait()

	// Every load after both writers finish must reflect a self-consistent
	// quadruple that was actually written by one of the two loops.
	yesAsk, noAsk, yesSize, noSize := c.Load()
	if yesAsk != yesSize {
		t.Fatalf("yes side inconsistent: yesAsk=%d yesSize=%d", yesAsk, yesSize)
	}
	if noAsk != noSize {
		t.Fatalf("no side inconsistent: noAsk=%d noSize=%d", noAsk, noSize)
	}
}
