//go:build !linux

package gpio

// CdevController is not available on non-Linux platforms.
type CdevController struct{}

// NewCdevController returns a controller whose operations all fail.
func NewCdevController() *CdevController {
	return &CdevController{}
}

// Configure is not implemented on non-Linux platforms.
func (c *CdevController) Configure(p Pin) error {
	return ErrUnsupported
}

// Set is not implemented on non-Linux platforms.
func (c *CdevController) Set(name string, level int) error {
	return ErrUnsupported
}

// Get is not implemented on non-Linux platforms.
func (c *CdevController) Get(name string) (int, error) {
	return 0, ErrUnsupported
}

// OnRisingEdge is not implemented on non-Linux platforms.
func (c *CdevController) OnRisingEdge(name string, h EdgeHandler) error {
	return ErrUnsupported
}

// Close is not implemented on non-Linux platforms.
func (c *CdevController) Close() error {
	return nil
}
