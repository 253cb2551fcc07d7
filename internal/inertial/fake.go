package inertial

import "sync"

// FakeSource replays scripted readings and errors.
type FakeSource struct {
	mu sync.Mutex

	// Reading is returned by every successful Fetch.
	Reading Reading
	// Errs are returned by successive calls before Reading is. A nil entry
	// is a success.
	Errs []error

	calls int
}

// Fetch returns the next scripted error, or Reading.
func (f *FakeSource) Fetch() (Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.Errs) > 0 {
		err := f.Errs[0]
		f.Errs = f.Errs[1:]
		if err != nil {
			return Reading{}, err
		}
	}
	return f.Reading, nil
}

// Calls returns how many times Fetch ran.
func (f *FakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
