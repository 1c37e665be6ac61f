package flash

import "testing"

func TestFakeEraseIsAllFF(t *testing.T) {
	f := NewFake()
	data, err := f.Read(0, SectorSize)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	for i, b := range data {
		if b != 0xFF {
			t.Fatalf("byte %d = 0x%02X, want 0xFF on fresh device", i, b)
		}
	}
}

func TestProgramPageOnlyClearsBits(t *testing.T) {
	f := NewFake()
	if err := f.ProgramPage(0, []byte{0x0F, 0xF0}); err != nil {
		t.Fatalf("ProgramPage: %v", err)
	}
	data, _ := f.Read(0, 2)
	if data[0] != 0x0F || data[1] != 0xF0 {
		t.Fatalf("got % X, want 0F F0", data)
	}
	// Re-programming without an erase can only clear further bits; a
	// caller asking to set 0xFF back over a 0x0F byte must not un-clear
	// the bits the first program set.
	if err := f.ProgramPage(0, []byte{0xFF, 0xFF}); err != nil {
		t.Fatalf("ProgramPage: %v", err)
	}
	data, _ = f.Read(0, 2)
	if data[0] != 0x0F || data[1] != 0xF0 {
		t.Fatalf("got % X after re-program, want unchanged 0F F0", data)
	}
}

func TestProgramPageRejectsOversize(t *testing.T) {
	f := NewFake()
	if err := f.ProgramPage(0, make([]byte, PageSize+1)); err == nil {
		t.Fatal("expected error for oversize page program")
	}
}

func TestEraseSubsectorScopesToContainingExtent(t *testing.T) {
	f := NewFake()
	if err := f.ProgramPage(0, []byte{0x00}); err != nil {
		t.Fatal(err)
	}
	if err := f.ProgramPage(SubsectorSize, []byte{0x00}); err != nil {
		t.Fatal(err)
	}
	if err := f.EraseSubsector(10); err != nil {
		t.Fatalf("EraseSubsector: %v", err)
	}
	data, _ := f.Read(0, 1)
	if data[0] != 0xFF {
		t.Fatalf("byte in erased subsector = 0x%02X, want 0xFF", data[0])
	}
	data, _ = f.Read(SubsectorSize, 1)
	if data[0] != 0x00 {
		t.Fatalf("byte outside erased subsector = 0x%02X, want unchanged 0x00", data[0])
	}
}

func TestScanFirstEmpty(t *testing.T) {
	f := NewFake()
	if err := f.ProgramPage(0, []byte{0x00}); err != nil {
		t.Fatal(err)
	}
	if err := f.ProgramPage(PageSize, []byte{0x00}); err != nil {
		t.Fatal(err)
	}
	addr, err := f.ScanFirstEmpty()
	if err != nil {
		t.Fatalf("ScanFirstEmpty: %v", err)
	}
	if addr != 2*PageSize {
		t.Fatalf("first empty = %d, want %d", addr, 2*PageSize)
	}
}

func TestReadRejectsOutOfRange(t *testing.T) {
	f := NewFake()
	if _, err := f.Read(DeviceSize-1, 2); err == nil {
		t.Fatal("expected error reading past device end")
	}
}

func TestStatusRegisterBits(t *testing.T) {
	sr := StatusRegister(0b00000011) // WEL + BUSY
	if !sr.Busy() || !sr.WriteEnabled() {
		t.Fatalf("Busy()=%v WriteEnabled()=%v, want both true", sr.Busy(), sr.WriteEnabled())
	}
	if sr.BlockProtect0() {
		t.Fatal("BlockProtect0 should be false")
	}
}
