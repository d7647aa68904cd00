// Package compress implements docs.Compressor: raster images are scaled down
// and re-encoded in their own format, everything else is wrapped in a
// single-entry deflate zip.
package compress

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"path/filepath"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"

	"custdoc/internal/docs"
)

const (
	DefaultMaxDimension       = 1920
	DefaultTargetSize   int64 = 1 << 20

	maxJPEGQuality = 85
	minJPEGQuality = 40
	qualityStep    = 10
)

// ErrUnsupportedImage is returned for image formats that cannot be re-encoded.
var ErrUnsupportedImage = errors.New("unsupported image format")

// Options bounds image recompression.
type Options struct {
	MaxDimension int   // longest side in pixels
	TargetSize   int64 // JPEG quality is lowered until the output fits
}

// Compressor is the default docs.Compressor.
type Compressor struct {
	opts Options
}

// New creates a Compressor. Zero options take the defaults.
func New(opts Options) *Compressor {
	if opts.MaxDimension <= 0 {
		opts.MaxDimension = DefaultMaxDimension
	}
	if opts.TargetSize <= 0 {
		opts.TargetSize = DefaultTargetSize
	}
	return &Compressor{opts: opts}
}

// RecompressImage decodes f, scales it so neither side exceeds MaxDimension,
// and encodes it again in the same format.
func (c *Compressor) RecompressImage(ctx context.Context, f docs.File) ([]byte, error) {
	img, format, err := image.Decode(bytes.NewReader(f.Data))
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", f.Name, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img = c.scale(img)

	var buf bytes.Buffer
	switch format {
	case "jpeg":
		return c.encodeJPEG(ctx, img)
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		err = enc.Encode(&buf, img)
	case "bmp":
		err = bmp.Encode(&buf, img)
	case "tiff":
		err = tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedImage, format)
	}
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", f.Name, err)
	}
	return buf.Bytes(), nil
}

// scale returns img resized to fit within MaxDimension, keeping the aspect ratio.
func (c *Compressor) scale(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	longest := max(w, h)
	if longest <= c.opts.MaxDimension {
		return img
	}
	nw := max(1, w*c.opts.MaxDimension/longest)
	nh := max(1, h*c.opts.MaxDimension/longest)

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// encodeJPEG lowers the quality step by step until the output fits
// TargetSize, returning the smallest attempt if none does.
func (c *Compressor) encodeJPEG(ctx context.Context, img image.Image) ([]byte, error) {
	var out []byte
	for q := maxJPEGQuality; q >= minJPEGQuality; q -= qualityStep {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
			return nil, fmt.Errorf("encoding jpeg: %w", err)
		}
		out = buf.Bytes()
		if int64(len(out)) <= c.opts.TargetSize {
			break
		}
	}
	return out, nil
}

// Archive wraps f in a zip with one deflate entry at maximum compression.
func (c *Compressor) Archive(ctx context.Context, f docs.File) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.BestCompression)
	})

	name := filepath.Base(f.Name)
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return nil, fmt.Errorf("creating archive entry: %w", err)
	}
	if _, err := io.Copy(w, &ctxReader{ctx: ctx, r: bytes.NewReader(f.Data)}); err != nil {
		return nil, fmt.Errorf("compressing %s: %w", name, err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finishing archive: %w", err)
	}
	return buf.Bytes(), nil
}

// Extract returns the content of the single entry of an archive.
func (c *Compressor) Extract(payload []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	if len(zr.File) != 1 {
		return nil, fmt.Errorf("archive has %d entries, want 1", len(zr.File))
	}
	rc, err := zr.File[0].Open()
	if err != nil {
		return nil, fmt.Errorf("opening archive entry: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading archive entry: %w", err)
	}
	return data, nil
}

// ctxReader stops a long copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

// Compile-time check that Compressor implements docs.Compressor
var _ docs.Compressor = (*Compressor)(nil)
