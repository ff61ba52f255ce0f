package transform

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"math"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/avif"
	"github.com/gen2brain/webp"
	"github.com/q-controller/imgrelay/src/pkg/utils"
)

const (
	// Encoder effort: webp 0 (fast) to 6 (small), avif 0 (slow) to 10 (fast).
	webpMethod = 4
	avifSpeed  = 10
)

// ImageTransformer decodes with imaging (plus the webp and avif decoders
// those packages register) and writes the result into dir.
type ImageTransformer struct {
	dir    string
	filter imaging.ResampleFilter
	logger *slog.Logger
}

func NewImageTransformer(dir string, logger *slog.Logger) *ImageTransformer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImageTransformer{dir: dir, filter: imaging.Lanczos, logger: logger}
}

// Transform writes a new file named <uuid>.<format> and returns its path.
// The input is left in place. On failure no output file remains.
func (t *ImageTransformer) Transform(ctx context.Context, inputPath string, spec Spec) (outputPath string, retErr error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}

	src, err := imaging.Open(inputPath, imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	width, height := spec.Dimensions()
	img := t.resize(src, width, height, spec.Fit())
	if err := ctx.Err(); err != nil {
		return "", err
	}

	out, err := utils.CreateScratchFile(t.dir, spec.Format().Ext())
	if err != nil {
		return "", fmt.Errorf("failed to create output file: %w", err)
	}
	outputPath = out.Name()

	defer func() {
		if closeErr := out.Close(); closeErr != nil {
			retErr = errors.Join(retErr, closeErr)
		}
		if retErr != nil {
			if rmErr := utils.RemoveIfExists(outputPath); rmErr != nil {
				t.logger.Warn("Failed to remove partial output", "path", outputPath, "error", rmErr)
			}
			outputPath = ""
		}
	}()

	w := bufio.NewWriter(out)
	if err := encode(w, img, spec); err != nil {
		return outputPath, fmt.Errorf("failed to encode %s: %w", spec.Format(), err)
	}
	if err := w.Flush(); err != nil {
		return outputPath, fmt.Errorf("failed to write %s: %w", outputPath, err)
	}

	bounds := img.Bounds()
	t.logger.Debug("Image transformed", "output", outputPath, "format", spec.Format(),
		"width", bounds.Dx(), "height", bounds.Dy())
	return outputPath, nil
}

// resize applies fit to reach width x height. A zero dimension is derived
// from the other one keeping the aspect ratio; with both zero the image is
// returned as is.
func (t *ImageTransformer) resize(src image.Image, width, height int, fit Fit) image.Image {
	if width == 0 && height == 0 {
		return src
	}
	if width == 0 || height == 0 {
		return imaging.Resize(src, width, height, t.filter)
	}

	switch fit {
	case Contain:
		fitted := imaging.Fit(src, width, height, t.filter)
		if b := fitted.Bounds(); b.Dx() < width || b.Dy() < height {
			// imaging.Fit never enlarges; scale up to the box first.
			w, h := scaleToBox(src.Bounds(), width, height, false)
			fitted = imaging.Resize(src, w, h, t.filter)
		}
		canvas := imaging.New(width, height, color.NRGBA{})
		return imaging.PasteCenter(canvas, fitted)
	case Fill:
		return imaging.Resize(src, width, height, t.filter)
	case Inside:
		w, h := scaleToBox(src.Bounds(), width, height, false)
		return imaging.Resize(src, w, h, t.filter)
	case Outside:
		w, h := scaleToBox(src.Bounds(), width, height, true)
		return imaging.Resize(src, w, h, t.filter)
	default:
		return imaging.Fill(src, width, height, imaging.Center, t.filter)
	}
}

// scaleToBox scales bounds uniformly so that it fits inside the box, or
// covers it when cover is set.
func scaleToBox(bounds image.Rectangle, width, height int, cover bool) (int, int) {
	sx := float64(width) / float64(bounds.Dx())
	sy := float64(height) / float64(bounds.Dy())
	scale := math.Min(sx, sy)
	if cover {
		scale = math.Max(sx, sy)
	}
	w := max(1, int(math.Round(float64(bounds.Dx())*scale)))
	h := max(1, int(math.Round(float64(bounds.Dy())*scale)))
	return w, h
}

func encode(w io.Writer, img image.Image, spec Spec) error {
	quality := spec.Quality()
	switch spec.Format() {
	case JPEG:
		// The standard JPEG encoder is baseline only, so progressive has no effect.
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
	case PNG:
		level := png.DefaultCompression
		if spec.Compression != nil && spec.Compression.OptimizeScans {
			level = png.BestCompression
		}
		return imaging.Encode(w, img, imaging.PNG, imaging.PNGCompressionLevel(level))
	case TIFF:
		return imaging.Encode(w, img, imaging.TIFF)
	case WebP:
		return webp.Encode(w, img, webp.Options{Quality: quality, Method: webpMethod})
	case AVIF:
		return avif.Encode(w, img, avif.Options{
			Quality:           quality,
			QualityAlpha:      quality,
			Speed:             avifSpeed,
			ChromaSubsampling: image.YCbCrSubsampleRatio420,
		})
	default:
		return fmt.Errorf("unsupported format %q", spec.Format())
	}
}
