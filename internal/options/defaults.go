package options

// Defaults holds the configured rendering defaults merged into every
// option set.
type Defaults struct {
	Format                 string
	Quality                int
	Colorspace             string
	Upscale                bool
	AlternativeResolutions []float64

	Progressive bool
	Orientation bool
}

// NewDefaults returns the stock configuration.
func NewDefaults() Defaults {
	return Defaults{
		Format:                 "JPEG",
		Quality:                95,
		Colorspace:             "RGB",
		Upscale:                true,
		AlternativeResolutions: []float64{},
		Progressive:            DefaultProgressive,
		Orientation:            DefaultOrientation,
	}
}

// Merge returns a copy of opts completed with the defaults. Extras
// (progressive, orientation) are only added when the configured value
// diverges from the process default, so deployments that never touch
// them keep producing the same cache keys.
func (d Defaults) Merge(opts Options) Options {
	merged := opts.Clone()

	merged.SetDefault(Format, d.Format)
	merged.SetDefault(Quality, d.Quality)
	merged.SetDefault(Colorspace, d.Colorspace)
	merged.SetDefault(Upscale, d.Upscale)
	merged.SetDefault(AlternativeResolutions, d.alternativeResolutions())
	merged.SetDefault(Crop, false)
	merged.SetDefault(CropBox, nil)
	merged.SetDefault(Rounded, nil)

	if d.Progressive != DefaultProgressive {
		merged.SetDefault(Progressive, d.Progressive)
	}
	if d.Orientation != DefaultOrientation {
		merged.SetDefault(Orientation, d.Orientation)
	}

	return merged
}

func (d Defaults) alternativeResolutions() []float64 {
	if d.AlternativeResolutions == nil {
		return []float64{}
	}
	return d.AlternativeResolutions
}
