// Package nifti reads the fixed-size NIfTI-1 header of an image, plain or
// gzip-compressed. Only the header is decoded; voxel data is never touched.
//
// Field layout follows nifti1.h.
package nifti

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Header is the 348-byte NIfTI-1 header.
type Header struct {
	SizeofHdr          int32
	UnusedDataType     [10]int8
	UnusedDbName       [18]int8
	UnusedExtents      int32
	UnusedSessionError int16
	UnusedRegular      int8
	DimInfo            int8
	Dim                [8]int16 // Dim[0] is the rank, Dim[4] the time axis
	IntentP1           float32
	IntentP2           float32
	IntentP3           float32
	IntentCode         int16
	Datatype           int16
	Bitpix             int16
	SliceStart         int16
	Pixdim             [8]float32 // Pixdim[4] is the repetition time
	VoxOffset          float32
	SclSlope           float32
	SclInter           float32
	SliceEnd           int16
	SliceCode          int8
	XyztUnits          int8
	CalMax             float32
	CalMin             float32
	SliceDuration      float32
	Toffset            float32
	UnusedGlmax        int32
	UnusedGlmin        int32
	Descrip            [80]int8
	AuxFile            [24]int8
	QformCode          int16
	SformCode          int16
	QuaternB           float32
	QuaternC           float32
	QuaternD           float32
	QoffsetX           float32
	QoffsetY           float32
	QoffsetZ           float32
	SrowX              [4]float32
	SrowY              [4]float32
	SrowZ              [4]float32
	IntentName         [16]int8
	Magic              [4]int8
}

const headerSize = 348

var ErrNotNIfTI = errors.New("not a NIfTI-1 header")

// RepetitionTime returns pixdim[4], the time between volumes in seconds.
func (h Header) RepetitionTime() float64 { return float64(h.Pixdim[4]) }

// Volumes returns dim[4], the number of time points. Images of rank below 4
// have a single volume.
func (h Header) Volumes() int {
	if h.Dim[0] < 4 || h.Dim[4] < 1 {
		return 1
	}
	return int(h.Dim[4])
}

// ReadFile reads the header of the image at path.
func ReadFile(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, err
	}
	defer f.Close()

	h, err := Read(f)
	if err != nil {
		return Header{}, fmt.Errorf("failed to read NIfTI header %s: %w", path, err)
	}
	return h, nil
}

// Read decodes a header from r, transparently decompressing gzip input and
// detecting the byte order from sizeof_hdr.
func Read(r io.Reader) (Header, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err != nil {
		return Header{}, err
	}
	var src io.Reader = br
	if magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return Header{}, err
		}
		defer zr.Close()
		src = zr
	}

	buf := make([]byte, headerSize)
	if _, err := io.ReadFull(src, buf); err != nil {
		return Header{}, fmt.Errorf("short header: %w", err)
	}

	var order binary.ByteOrder = binary.LittleEndian
	switch {
	case int32(binary.LittleEndian.Uint32(buf)) == headerSize:
	case int32(binary.BigEndian.Uint32(buf)) == headerSize:
		order = binary.BigEndian
	default:
		return Header{}, ErrNotNIfTI
	}

	var h Header
	if err := binary.Read(bytes.NewReader(buf), order, &h); err != nil {
		return Header{}, err
	}
	if h.Dim[0] < 1 || h.Dim[0] > 7 {
		return Header{}, fmt.Errorf("%w: dim[0]=%d out of range", ErrNotNIfTI, h.Dim[0])
	}
	return h, nil
}

// NewHeader returns a minimal single-file header for a 4D image.
func NewHeader(x, y, z, volumes int16, tr float32) Header {
	return Header{
		SizeofHdr: headerSize,
		Dim:       [8]int16{4, x, y, z, volumes, 1, 1, 1},
		Datatype:  4,
		Bitpix:    16,
		Pixdim:    [8]float32{1, 2, 2, 2, tr, 0, 0, 0},
		VoxOffset: 352,
		Magic:     [4]int8{'n', '+', '1', 0},
	}
}

// WriteFile writes h, followed by the four-byte extension flag, to path.
// Paths ending in .gz are gzip-compressed.
func WriteFile(path string, h Header) error {
	var raw bytes.Buffer
	if err := binary.Write(&raw, binary.LittleEndian, &h); err != nil {
		return err
	}
	raw.Write([]byte{0, 0, 0, 0})

	data := raw.Bytes()
	if strings.HasSuffix(path, ".gz") {
		var zbuf bytes.Buffer
		zw := gzip.NewWriter(&zbuf)
		if _, err := zw.Write(data); err != nil {
			return err
		}
		if err := zw.Close(); err != nil {
			return err
		}
		data = zbuf.Bytes()
	}
	return os.WriteFile(path, data, 0o644)
}
