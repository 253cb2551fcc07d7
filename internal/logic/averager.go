package logic

// MicroPerUnit is the scale of the fractional part of a Fixed value.
const MicroPerUnit = 1000000

// Fixed is a two-part fixed-point reading: Int + Micro/1e6.
// Both parts carry the sign of the value, as sensor drivers report them.
type Fixed struct {
	Int   int32
	Micro int32
}

// Float returns the value as a float64.
func (f Fixed) Float() float64 {
	return float64(f.Int) + float64(f.Micro)/MicroPerUnit
}

// FixedFromFloat splits v into integer and micro parts.
func FixedFromFloat(v float64) Fixed {
	i := int32(v)
	return Fixed{Int: i, Micro: int32((v - float64(i)) * MicroPerUnit)}
}

// Averager sums a fixed window of multi-channel samples and yields their
// mean once the window is full. Sums are kept per part so nothing is
// converted until the window closes.
type Averager struct {
	window   int
	channels int
	count    int
	sumInt   []int64
	sumMicro []int64
}

// NewAverager creates an averager over the given number of channels.
// A window below 1 is treated as 1.
func NewAverager(window, channels int) *Averager {
	if window < 1 {
		window = 1
	}
	return &Averager{
		window:   window,
		channels: channels,
		sumInt:   make([]int64, channels),
		sumMicro: make([]int64, channels),
	}
}

// Add accumulates one sample. Once window samples have been added it returns
// the per-channel means and true, and resets for the next window.
// Samples shorter than the channel count leave the missing channels at zero.
func (a *Averager) Add(sample []Fixed) ([]float64, bool) {
	for i := 0; i < a.channels && i < len(sample); i++ {
		a.sumInt[i] += int64(sample[i].Int)
		a.sumMicro[i] += int64(sample[i].Micro)
	}
	a.count++
	if a.count < a.window {
		return nil, false
	}

	means := make([]float64, a.channels)
	n := float64(a.count)
	for i := range means {
		means[i] = (float64(a.sumInt[i]) + float64(a.sumMicro[i])/MicroPerUnit) / n
	}
	a.Reset()
	return means, true
}

// Reset discards the partial window.
func (a *Averager) Reset() {
	a.count = 0
	for i := range a.sumInt {
		a.sumInt[i] = 0
		a.sumMicro[i] = 0
	}
}

// Pending returns how many samples are in the current window.
func (a *Averager) Pending() int {
	return a.count
}

// Window returns the window size.
func (a *Averager) Window() int {
	return a.window
}
