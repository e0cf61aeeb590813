package engine

import "fmt"

const (
	EngineImaging  = "imaging"
	EngineLilliput = "lilliput"
)

// New returns the engine registered under name. An empty name selects
// the imaging engine.
func New(name string) (Engine, error) {
	switch name {
	case "", EngineImaging:
		return NewImagingEngine(), nil
	case EngineLilliput:
		return NewLilliputEngine(), nil
	default:
		return nil, fmt.Errorf("unknown thumbnail engine %q", name)
	}
}
