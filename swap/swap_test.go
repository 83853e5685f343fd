package swap

import (
	"testing"

	"corekern/block"
	"corekern/mem"
)

func TestOutInRoundtrip(t *testing.T) {
	d := block.MkMemDisk(SectorsPerSlot * 4)
	s := Init(d)
	var page mem.Page
	for i := range page {
		page[i] = 0x5a
	}
	slot, ok, err := s.Out(&page)
	if !ok || err != 0 {
		t.Fatalf("out: ok=%v err=%v", ok, err)
	}
	var back mem.Page
	if err := s.In(slot, &back); err != 0 {
		t.Fatalf("in: %v", err)
	}
	if back != page {
		t.Fatal("roundtrip mismatch")
	}
}

func TestDoubleFreePanics(t *testing.T) {
	d := block.MkMemDisk(SectorsPerSlot * 2)
	s := Init(d)
	var page mem.Page
	slot, _, _ := s.Out(&page)
	s.Free(slot)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	s.Free(slot)
}

func TestExhaustion(t *testing.T) {
	d := block.MkMemDisk(SectorsPerSlot * 1)
	s := Init(d)
	var page mem.Page
	if _, ok, _ := s.Out(&page); !ok {
		t.Fatal("expected first out to succeed")
	}
	if _, ok, _ := s.Out(&page); ok {
		t.Fatal("expected exhaustion")
	}
}
