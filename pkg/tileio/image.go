package tileio

import (
	"fmt"
	"image"
	"image/color"
	_ "image/png"
	"math"
	"os"

	"golang.org/x/image/tiff"

	"tilereg/internal/models"
)

// ReadPlane decodes an image file into a gray float plane in [0, 1].
func ReadPlane(path string) (*models.Plane, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return ImageToPlane(img), nil
}

// readSize returns image dimensions without decoding pixel data.
func readSize(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read header of %s: %w", path, err)
	}
	return cfg.Width, cfg.Height, nil
}

// ImageToPlane converts any image to a normalised gray plane.
func ImageToPlane(img image.Image) *models.Plane {
	b := img.Bounds()
	p := models.NewPlane(b.Dx(), b.Dy())

	switch src := img.(type) {
	case *image.Gray16:
		for y := 0; y < p.Height; y++ {
			for x := 0; x < p.Width; x++ {
				p.Pix[y*p.Width+x] = float64(src.Gray16At(b.Min.X+x, b.Min.Y+y).Y) / 65535
			}
		}
	case *image.Gray:
		for y := 0; y < p.Height; y++ {
			for x := 0; x < p.Width; x++ {
				p.Pix[y*p.Width+x] = float64(src.GrayAt(b.Min.X+x, b.Min.Y+y).Y) / 255
			}
		}
	default:
		for y := 0; y < p.Height; y++ {
			for x := 0; x < p.Width; x++ {
				g := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
				p.Pix[y*p.Width+x] = float64(g.Y) / 65535
			}
		}
	}
	return p
}

// PlaneToImage converts a plane to a 16-bit gray image, clipping to [0, 1].
func PlaneToImage(p *models.Plane) *image.Gray16 {
	img := image.NewGray16(p.Bounds())
	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			v := math.Max(0, math.Min(1, p.Pix[y*p.Width+x]))
			img.SetGray16(x, y, color.Gray16{Y: uint16(math.Round(v * 65535))})
		}
	}
	return img
}

// WriteTIFF saves a plane as a Deflate compressed 16-bit gray TIFF.
func WriteTIFF(path string, p *models.Plane) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := tiff.Encode(f, PlaneToImage(p), &tiff.Options{Compression: tiff.Deflate}); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}
