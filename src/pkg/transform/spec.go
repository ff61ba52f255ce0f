// Package transform turns a downloaded image into a processed one:
// resize, then encode in the requested format at the requested quality.
package transform

import (
	"errors"
	"fmt"
	"slices"
)

type Format string

const (
	JPEG Format = "jpeg"
	PNG  Format = "png"
	WebP Format = "webp"
	AVIF Format = "avif"
	TIFF Format = "tiff"
)

var Formats = []Format{JPEG, PNG, WebP, AVIF, TIFF}

// Ext is the file extension used for output files, dot included.
func (f Format) Ext() string {
	return "." + string(f)
}

func (f Format) Valid() bool {
	return slices.Contains(Formats, f)
}

type Fit string

const (
	Cover   Fit = "cover"
	Contain Fit = "contain"
	Fill    Fit = "fill"
	Inside  Fit = "inside"
	Outside Fit = "outside"
)

var Fits = []Fit{Cover, Contain, Fill, Inside, Outside}

func (f Fit) Valid() bool {
	return slices.Contains(Fits, f)
}

const (
	MaxDimension   = 10000
	DefaultQuality = 80
	DefaultFit     = Cover
)

type Resize struct {
	Width  *int `json:"width,omitempty"`
	Height *int `json:"height,omitempty"`
	Fit    Fit  `json:"fit,omitempty"`
}

type Compression struct {
	Quality       *int `json:"quality,omitempty"`
	Progressive   bool `json:"progressive,omitempty"`
	OptimizeScans bool `json:"optimizeScans,omitempty"`
}

type Conversion struct {
	Format Format `json:"format"`
}

// Spec describes one transformation. Conversion is required; the other
// parts are optional.
type Spec struct {
	Resize      *Resize      `json:"resize,omitempty"`
	Compression *Compression `json:"compression,omitempty"`
	Conversion  *Conversion  `json:"conversion,omitempty"`
}

var ErrFormatRequired = errors.New("conversion format is required in specs")

// Validate reports every problem with s at once.
func (s Spec) Validate() error {
	var errs []error

	if s.Conversion == nil || s.Conversion.Format == "" {
		errs = append(errs, ErrFormatRequired)
	} else if !s.Conversion.Format.Valid() {
		errs = append(errs, fmt.Errorf("unsupported format %q, expected one of %v", s.Conversion.Format, Formats))
	}

	if s.Resize != nil {
		if s.Resize.Fit != "" && !s.Resize.Fit.Valid() {
			errs = append(errs, fmt.Errorf("unsupported fit %q, expected one of %v", s.Resize.Fit, Fits))
		}
		if err := checkRange("width", s.Resize.Width, 1, MaxDimension); err != nil {
			errs = append(errs, err)
		}
		if err := checkRange("height", s.Resize.Height, 1, MaxDimension); err != nil {
			errs = append(errs, err)
		}
	}

	if s.Compression != nil {
		if err := checkRange("quality", s.Compression.Quality, 1, 100); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func checkRange(name string, value *int, lo, hi int) error {
	if value == nil {
		return nil
	}
	if *value < lo || *value > hi {
		return fmt.Errorf("%s must be between %d and %d, got %d", name, lo, hi, *value)
	}
	return nil
}

// Format returns the requested output format, or "" if none was given.
func (s Spec) Format() Format {
	if s.Conversion == nil {
		return ""
	}
	return s.Conversion.Format
}

func (s Spec) Quality() int {
	if s.Compression == nil || s.Compression.Quality == nil {
		return DefaultQuality
	}
	return *s.Compression.Quality
}

func (s Spec) Fit() Fit {
	if s.Resize == nil || s.Resize.Fit == "" {
		return DefaultFit
	}
	return s.Resize.Fit
}

// Dimensions returns the requested width and height; 0 means unset.
func (s Spec) Dimensions() (int, int) {
	if s.Resize == nil {
		return 0, 0
	}
	var w, h int
	if s.Resize.Width != nil {
		w = *s.Resize.Width
	}
	if s.Resize.Height != nil {
		h = *s.Resize.Height
	}
	return w, h
}
