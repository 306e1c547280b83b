package imgrec

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/astrogo/fitsio"
	"github.com/snksoft/crc"

	"github.com/nasa-jpl/detctl/sdk"
)

// ErrMixedShapes is returned when frames of different sizes are written to
// one file
var ErrMixedShapes = errors.New("frames do not share one shape")

var crcTable = crc.NewTable(crc.CRC32)

// Checksum is the CRC-32 of the frames' pixels in little endian order
func Checksum(frames []sdk.Frame) uint32 {
	c := crcTable.InitCrc()
	b := make([]byte, 0)
	for _, f := range frames {
		if cap(b) < 2*len(f.Data) {
			b = make([]byte, 2*len(f.Data))
		}
		b = b[:2*len(f.Data)]
		for i, v := range f.Data {
			binary.LittleEndian.PutUint16(b[2*i:], v)
		}
		c = crcTable.UpdateCrc(c, b)
	}
	return crcTable.CRC32(c)
}

// WriteFits streams frames to w as one FITS image, a cube if there is more
// than one frame.  uint16 data is stored with BZERO=32768.
func WriteFits(w io.Writer, metadata []fitsio.Card, frames []sdk.Frame) error {
	if len(frames) == 0 {
		return errors.New("no frames to write")
	}
	width, height := frames[0].Width, frames[0].Height
	for _, f := range frames {
		if f.Width != width || f.Height != height || len(f.Data) < width*height {
			return ErrMixedShapes
		}
	}
	metadata = append(metadata,
		fitsio.Card{Name: "BZERO", Value: 32768},
		fitsio.Card{Name: "BSCALE", Value: 1.0},
		fitsio.Card{Name: "DATACRC", Value: int(Checksum(frames)), Comment: "CRC-32 of the unsigned pixels"})

	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	dims := []int{width, height}
	if len(frames) > 1 {
		dims = append(dims, len(frames))
	}
	im := fitsio.NewImage(16, dims)
	defer im.Close()
	err = im.Header().Append(metadata...)
	if err != nil {
		return err
	}

	npix := width * height
	ints := make([]int16, npix*len(frames))
	for n, f := range frames {
		offset := n * npix
		for idx, v := range f.Data[:npix] {
			ints[offset+idx] = int16(int32(v) - 32768)
		}
	}
	err = im.Write(ints)
	if err != nil {
		return err
	}
	return fits.Write(im)
}
