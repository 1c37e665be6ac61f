package flash

// Fake is an in-memory Device used by tests throughout this module. It
// enforces the same 1->0-only program discipline as the real part,
// without touching a bus. It never reports a busy condition.
type Fake struct {
	data [DeviceSize]byte
}

// NewFake returns a Fake with every byte erased (0xFF), matching a fresh
// or just-erased part.
func NewFake() *Fake {
	f := &Fake{}
	for i := range f.data {
		f.data[i] = 0xFF
	}
	return f
}

func (f *Fake) Read(addr, n int) ([]byte, error) {
	if addr < 0 || n < 0 || addr+n > DeviceSize {
		return nil, ErrInvalidRange
	}
	out := make([]byte, n)
	copy(out, f.data[addr:addr+n])
	return out, nil
}

func (f *Fake) ProgramPage(addr int, data []byte) error {
	if len(data) > PageSize {
		return ErrInvalidRange
	}
	if addr < 0 || addr+len(data) > DeviceSize {
		return ErrInvalidRange
	}
	for i, b := range data {
		// A program can only clear bits: a requested 0->1 transition is
		// silently ignored, matching the real part's behavior (it simply
		// fails to set the bit, and no error is returned).
		f.data[addr+i] &= b
	}
	return nil
}

func (f *Fake) EraseSubsector(addr int) error {
	return f.erase(addr, SubsectorSize)
}

func (f *Fake) EraseSector(addr int) error {
	return f.erase(addr, SectorSize)
}

func (f *Fake) EraseDevice() error {
	return f.erase(0, DeviceSize)
}

func (f *Fake) erase(addr, size int) error {
	base := (addr / size) * size
	if base < 0 || base+size > DeviceSize {
		return ErrInvalidRange
	}
	for i := base; i < base+size; i++ {
		f.data[i] = 0xFF
	}
	return nil
}

func (f *Fake) ScanFirstEmpty() (int, error) {
	for addr := 0; addr < DeviceSize; addr += PageSize {
		if pageIsEmpty(f.data[addr : addr+PageSize]) {
			return addr, nil
		}
	}
	return DeviceSize, nil
}

var _ Device = (*Fake)(nil)
