package capture

import (
	"image"

	"github.com/disintegration/imaging"

	"github.com/rmackay9/blueos-precision-landing/internal/landing"
)

// preprocess applies the configured downscale and grayscale conversion to a
// decoded frame. With no options set the frame passes through untouched.
func (s *RTSPSource) preprocess(f *landing.Frame) *landing.Frame {
	if f == nil {
		return nil
	}
	if s.opts.MaxWidth == 0 && !s.opts.Grayscale {
		return f
	}
	if f.Width <= 0 || f.Height <= 0 || len(f.Pixels) < f.Width*f.Height*3 {
		return f
	}

	img := rgbToNRGBA(f.Pixels, f.Width, f.Height)

	if s.opts.MaxWidth > 0 && f.Width > s.opts.MaxWidth {
		img = imaging.Resize(img, s.opts.MaxWidth, 0, imaging.Box)
	}
	if s.opts.Grayscale {
		img = imaging.Grayscale(img)
	}

	bounds := img.Bounds()
	out := &landing.Frame{
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
		TraceID:    f.TraceID,
		CapturedAt: f.CapturedAt,
	}
	if s.opts.Grayscale {
		out.Pixels = flattenLuma(img)
	} else {
		out.Pixels = flattenRGB(img)
	}
	return out
}

// rgbToNRGBA expands packed 3-byte RGB pixels into an NRGBA image.
func rgbToNRGBA(pixels []byte, width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		src := y * width * 3
		dst := y * img.Stride
		for x := 0; x < width; x++ {
			img.Pix[dst] = pixels[src]
			img.Pix[dst+1] = pixels[src+1]
			img.Pix[dst+2] = pixels[src+2]
			img.Pix[dst+3] = 0xff
			src += 3
			dst += 4
		}
	}
	return img
}

// flattenRGB packs an NRGBA image back into 3-byte RGB pixels.
func flattenRGB(img *image.NRGBA) []byte {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	out := make([]byte, width*height*3)
	for y := 0; y < height; y++ {
		src := y * img.Stride
		dst := y * width * 3
		for x := 0; x < width; x++ {
			out[dst] = img.Pix[src]
			out[dst+1] = img.Pix[src+1]
			out[dst+2] = img.Pix[src+2]
			src += 4
			dst += 3
		}
	}
	return out
}

// flattenLuma packs a grayscale NRGBA image into single-channel bytes. After
// imaging.Grayscale the three channels are equal, so the red channel is the
// luminance.
func flattenLuma(img *image.NRGBA) []byte {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	out := make([]byte, width*height)
	for y := 0; y < height; y++ {
		src := y * img.Stride
		for x := 0; x < width; x++ {
			out[y*width+x] = img.Pix[src]
			src += 4
		}
	}
	return out
}
