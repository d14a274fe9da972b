package correlate

import (
	"gonum.org/v1/gonum/dsp/fourier"
)

// fft2D holds the row and column transforms for one plane shape. It is not
// safe for concurrent use; every Align call builds its own.
type fft2D struct {
	width, height int
	rows          *fourier.CmplxFFT
	cols          *fourier.CmplxFFT
	rowBuf        []complex128
	colBuf        []complex128
	colOut        []complex128
}

func newFFT2D(width, height int) *fft2D {
	return &fft2D{
		width:  width,
		height: height,
		rows:   fourier.NewCmplxFFT(width),
		cols:   fourier.NewCmplxFFT(height),
		rowBuf: make([]complex128, width),
		colBuf: make([]complex128, height),
		colOut: make([]complex128, height),
	}
}

// forward transforms data in place. data is a row-major width*height array.
//
// The transform is separable: every row is transformed first, then every
// column of the row spectra.
func (f *fft2D) forward(data []complex128) {
	f.apply(data, false)
}

// inverse computes the unnormalised inverse transform in place. Callers
// divide by width*height when they need the true inverse.
func (f *fft2D) inverse(data []complex128) {
	f.apply(data, true)
}

func (f *fft2D) apply(data []complex128, inverse bool) {
	w, h := f.width, f.height

	// Row-wise transform
	for y := 0; y < h; y++ {
		row := data[y*w : (y+1)*w]
		copy(f.rowBuf, row)
		if inverse {
			f.rows.Sequence(row, f.rowBuf)
		} else {
			f.rows.Coefficients(row, f.rowBuf)
		}
	}

	// Column-wise transform
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			f.colBuf[y] = data[y*w+x]
		}
		if inverse {
			f.cols.Sequence(f.colOut, f.colBuf)
		} else {
			f.cols.Coefficients(f.colOut, f.colBuf)
		}
		for y := 0; y < h; y++ {
			data[y*w+x] = f.colOut[y]
		}
	}
}
