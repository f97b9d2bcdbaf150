// Copyright (c) 2020-2023 Ozan Hacıbekiroğlu.
// Use of this source code is governed by a MIT License
// that can be found in the LICENSE file.

package encoder

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/ozanh/koflvm"
)

// Format is the serialization format of a Chunk.
type Format int

// List of formats.
const (
	FormatBinary Format = iota
	FormatCBOR
)

func (f Format) String() string {
	switch f {
	case FormatBinary:
		return "binary"
	case FormatCBOR:
		return "cbor"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// imageVersion is the version of the CBOR image layout.
const imageVersion = 1

// cborMajorMap is the major type of a CBOR map in the high 3 bits of the
// first byte.
const cborMajorMap = 5

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("encoder: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// image is the CBOR form of a Chunk. Unlike the binary format it has no 8-bit
// size limits.
type image struct {
	Version  uint         `cbor:"1,keyasint"`
	Capacity int          `cbor:"2,keyasint,omitempty"`
	Code     []byte       `cbor:"3,keyasint"`
	Lines    []int        `cbor:"4,keyasint"`
	Consts   []imageConst `cbor:"5,keyasint,omitempty"`
}

type imageConst struct {
	Tag    byte    `cbor:"1,keyasint"`
	Number float64 `cbor:"2,keyasint"`
	String []byte  `cbor:"3,keyasint,omitempty"`
}

// maxImageCapacity returns the largest capacity accepted for a code of given
// size. Code arrays at most double on growth.
func maxImageCapacity(count int) int {
	return max(2*count, maxSectionSize)
}

// Detect returns the format of data. Binary chunks start with a reserved zero
// byte, CBOR images start with a map header.
func Detect(data []byte) Format {
	if len(data) > 0 && data[0]>>5 == cborMajorMap {
		return FormatCBOR
	}
	return FormatBinary
}

// MarshalCBOR serializes c to a canonical CBOR image.
func MarshalCBOR(c *koflvm.Chunk) ([]byte, error) {
	img := image{
		Version:  imageVersion,
		Capacity: min(c.Capacity(), maxImageCapacity(c.Count())),
		Code:     c.Code(),
		Lines:    c.Lines(),
	}
	if img.Code == nil {
		img.Code = []byte{}
	}
	if img.Lines == nil {
		img.Lines = []int{}
	}

	for i, v := range c.Consts() {
		var ic imageConst
		switch v := v.(type) {
		case koflvm.Number:
			ic = imageConst{Tag: binNumberV1, Number: float64(v)}
		case koflvm.Bool:
			ic.Tag = binFalseV1
			if v {
				ic.Tag = binTrueV1
			}
		case *koflvm.String:
			ic = imageConst{Tag: binStringV1, String: v.Bytes()}
		default:
			return nil, fmt.Errorf("constant #%d: %w", i,
				koflvm.ErrEncode.NewError(fmt.Sprintf("unsupported constant type %T", v)))
		}
		img.Consts = append(img.Consts, ic)
	}
	return cborEncMode.Marshal(&img)
}

// UnmarshalCBOR deserializes a Chunk from a CBOR image and validates it.
func UnmarshalCBOR(data []byte) (*koflvm.Chunk, error) {
	var img image
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, koflvm.ErrDecode.NewError(
			fmt.Sprintf("unmarshal chunk image: %v", err))
	}
	if img.Version != imageVersion {
		return nil, koflvm.ErrDecode.NewError(
			fmt.Sprintf("unsupported chunk image version %d", img.Version))
	}
	if len(img.Code) != len(img.Lines) {
		return nil, koflvm.ErrDecode.NewError(
			fmt.Sprintf("line table size %d does not match count %d",
				len(img.Lines), len(img.Code)))
	}

	if img.Capacity < len(img.Code) || img.Capacity > maxImageCapacity(len(img.Code)) {
		return nil, koflvm.ErrDecode.NewError(
			fmt.Sprintf("capacity %d is out of range for count %d",
				img.Capacity, len(img.Code)))
	}

	chunk := koflvm.NewChunkSize(img.Capacity)
	for i, b := range img.Code {
		chunk.Write(b, img.Lines[i])
	}

	for i, ic := range img.Consts {
		switch ic.Tag {
		case binNumberV1:
			chunk.WriteConst(koflvm.Number(ic.Number))
		case binTrueV1:
			chunk.WriteConst(koflvm.True)
		case binFalseV1:
			chunk.WriteConst(koflvm.False)
		case binStringV1:
			chunk.WriteConst(koflvm.NewString(string(ic.String)))
		default:
			return nil, koflvm.ErrDecode.NewError(
				fmt.Sprintf("constant #%d: unknown value tag %d", i, ic.Tag))
		}
	}

	if err := chunk.Validate(); err != nil {
		return nil, err
	}
	return chunk, nil
}
