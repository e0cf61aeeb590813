package engine

// Orientation is the EXIF orientation tag (1-8).
type Orientation int

const (
	OrientationTopLeft Orientation = iota + 1
	OrientationTopRight
	OrientationBottomRight
	OrientationBottomLeft
	OrientationLeftTop
	OrientationRightTop
	OrientationRightBottom
	OrientationLeftBottom
)

// Step is a single lossless pixel rearrangement.
type Step int

const (
	RotateCW Step = iota
	RotateCCW
	Rotate180
	Flip // vertical mirror
	Flop // horizontal mirror
)

// orientationSteps lists, per orientation tag, the steps that turn the
// stored pixels into top-left, unrotated pixels.
var orientationSteps = map[Orientation][]Step{
	OrientationTopLeft:     nil,
	OrientationTopRight:    {Flop},
	OrientationBottomRight: {Rotate180},
	OrientationBottomLeft:  {Flip},
	OrientationLeftTop:     {RotateCW, Flop},
	OrientationRightTop:    {RotateCW},
	OrientationRightBottom: {RotateCCW, Flop},
	OrientationLeftBottom:  {RotateCCW},
}

// Steps returns the normalization sequence for o. Unknown values
// normalize to nothing.
func (o Orientation) Steps() []Step {
	return orientationSteps[o]
}

// Transposes reports whether normalizing o swaps width and height.
func (o Orientation) Transposes() bool {
	return o >= OrientationLeftTop && o <= OrientationLeftBottom
}
