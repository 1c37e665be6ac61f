package sensors

// FakeInertialSource is a scriptable InertialSource for tests: queued
// samples are returned one at a time from TryRead.
type FakeInertialSource struct {
	cfg     InertialConfig
	running bool
	queue   []InertialSample
}

func NewFakeInertialSource() *FakeInertialSource {
	return &FakeInertialSource{cfg: InertialConfig{}}
}

func (f *FakeInertialSource) Configure(cfg InertialConfig) error { f.cfg = cfg; return nil }
func (f *FakeInertialSource) DefaultConfig() InertialConfig      { return InertialConfig{} }
func (f *FakeInertialSource) CurrentConfig() InertialConfig      { return f.cfg }
func (f *FakeInertialSource) Start() error                       { f.running = true; return nil }
func (f *FakeInertialSource) Stop() error                        { f.running = false; return nil }
func (f *FakeInertialSource) IsRunning() bool                     { return f.running }

// Enqueue appends a sample to be returned by a future TryRead call.
func (f *FakeInertialSource) Enqueue(s InertialSample) { f.queue = append(f.queue, s) }

func (f *FakeInertialSource) TryRead() (InertialSample, bool) {
	if len(f.queue) == 0 {
		return InertialSample{}, false
	}
	s := f.queue[0]
	f.queue = f.queue[1:]
	return s, true
}

var _ InertialSource = (*FakeInertialSource)(nil)

// FakeBarometricSource is the barometric analogue of FakeInertialSource.
type FakeBarometricSource struct {
	cfg     BarometricConfig
	running bool
	queue   []BarometricSample
}

func NewFakeBarometricSource() *FakeBarometricSource {
	return &FakeBarometricSource{cfg: BarometricConfig{}}
}

func (f *FakeBarometricSource) Configure(cfg BarometricConfig) error { f.cfg = cfg; return nil }
func (f *FakeBarometricSource) DefaultConfig() BarometricConfig      { return BarometricConfig{} }
func (f *FakeBarometricSource) CurrentConfig() BarometricConfig      { return f.cfg }
func (f *FakeBarometricSource) Start() error                          { f.running = true; return nil }
func (f *FakeBarometricSource) Stop() error                           { f.running = false; return nil }
func (f *FakeBarometricSource) IsRunning() bool                        { return f.running }

func (f *FakeBarometricSource) Enqueue(s BarometricSample) { f.queue = append(f.queue, s) }

func (f *FakeBarometricSource) TryRead() (BarometricSample, bool) {
	if len(f.queue) == 0 {
		return BarometricSample{}, false
	}
	s := f.queue[0]
	f.queue = f.queue[1:]
	return s, true
}

var _ BarometricSource = (*FakeBarometricSource)(nil)
