// Copyright (c) 2020-2023 Ozan Hacıbekiroğlu.
// Use of this source code is governed by a MIT License
// that can be found in the LICENSE file.

package encoder

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/ozanh/koflvm"
)

// Header layout of the binary format. Bytes 0, 1 and 7 are reserved.
const (
	headerSize = 8

	countPos     = 2
	capacityPos  = 3
	linesSizePos = 4
	constsPos    = 5
	constEncPos  = 6

	maxSectionSize = math.MaxUint8
)

// Constant section encodings, stored at header byte 6.
const (
	// ConstEncodingLegacy stores one byte per constant which is decoded as a
	// number. It is the layout written by the first kofl compilers.
	ConstEncodingLegacy byte = 0
	// ConstEncodingV1 stores a type tag and a payload per constant.
	ConstEncodingV1 byte = 1
)

// Value type tags of ConstEncodingV1.
const (
	binNumberV1 byte = iota + 1
	binTrueV1
	binFalseV1
	binStringV1
)

var (
	errVarintTooSmall = errors.New("read varint error: buf too small")
	errVarintOverflow = errors.New("read varint error: value larger than 64 bits (overflow)")
)

// Chunk implements encoding.BinaryMarshaler and encoding.BinaryUnmarshaler.
type Chunk koflvm.Chunk

// MarshalBinary implements encoding.BinaryMarshaler.
func (c *Chunk) MarshalBinary() ([]byte, error) {
	return MarshalChunk((*koflvm.Chunk)(c))
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (c *Chunk) UnmarshalBinary(data []byte) error {
	chunk, err := Load(data)
	if err != nil {
		return err
	}
	*c = Chunk(*chunk)
	return nil
}

// Encode writes the binary form of c to w.
func Encode(c *koflvm.Chunk, w io.Writer) error {
	data, err := MarshalChunk(c)
	if err != nil {
		return err
	}

	n, err := w.Write(data)
	if err != nil {
		return err
	}

	if n != len(data) {
		return errors.New("short write")
	}
	return nil
}

// Decode reads all data from r and decodes a Chunk in binary or CBOR image
// format. The format is chosen by Detect from the first byte, so binary
// chunks must keep the reserved byte 0 zero.
func Decode(r io.Reader) (*koflvm.Chunk, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, err
	}

	data := buf.Bytes()
	if Detect(data) == FormatCBOR {
		return UnmarshalCBOR(data)
	}
	return Load(data)
}

// MarshalChunk returns the binary form of c with ConstEncodingV1 constants.
func MarshalChunk(c *koflvm.Chunk) ([]byte, error) {
	code, lines, consts := c.Code(), c.Lines(), c.Consts()
	if len(code) > maxSectionSize {
		return nil, koflvm.ErrEncode.NewError("code size", strconv.Itoa(len(code)),
			"exceeds", strconv.Itoa(maxSectionSize))
	}
	if len(consts) > maxSectionSize {
		return nil, koflvm.ErrEncode.NewError("constant pool size",
			strconv.Itoa(len(consts)), "exceeds", strconv.Itoa(maxSectionSize))
	}

	capacity := c.Capacity()
	if capacity > maxSectionSize {
		capacity = maxSectionSize
	}

	var buf bytes.Buffer
	buf.Grow(headerSize + 3*len(code) + 1)

	var header [headerSize]byte
	header[countPos] = byte(len(code))
	header[capacityPos] = byte(capacity)
	header[linesSizePos] = byte(len(lines))
	header[constsPos] = byte(len(consts))
	header[constEncPos] = ConstEncodingV1
	buf.Write(header[:])

	// reserved preamble between the header and the code section
	buf.Write(make([]byte, len(code)+1))
	buf.Write(code)

	for i, line := range lines {
		if line < 0 || line > maxSectionSize {
			return nil, koflvm.ErrEncode.NewError(
				fmt.Sprintf("line %d of instruction %d out of range", line, i))
		}
		buf.WriteByte(byte(line))
	}

	for i, v := range consts {
		if err := encodeValue(&buf, v); err != nil {
			return nil, fmt.Errorf("constant #%d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Load decodes a Chunk from data in binary format. Declared sizes are checked
// against the length of data before any section is read, and the decoded
// chunk is validated.
func Load(data []byte) (*koflvm.Chunk, error) {
	if len(data) < headerSize {
		return nil, koflvm.ErrDecode.NewError(
			fmt.Sprintf("buffer size %d is smaller than header", len(data)))
	}

	count := int(data[countPos])
	capacity := int(data[capacityPos])
	linesSize := int(data[linesSizePos])
	constsSize := int(data[constsPos])
	constEnc := data[constEncPos]

	if capacity < count {
		return nil, koflvm.ErrDecode.NewError(
			fmt.Sprintf("capacity %d is less than count %d", capacity, count))
	}
	if linesSize != count {
		return nil, koflvm.ErrDecode.NewError(
			fmt.Sprintf("line table size %d does not match count %d", linesSize, count))
	}

	codeStart := headerSize + count + 1
	linesStart := codeStart + count
	constsStart := linesStart + linesSize
	if len(data) < constsStart {
		return nil, koflvm.ErrDecode.NewError(
			fmt.Sprintf("truncated buffer: size %d, sections end at %d",
				len(data), constsStart))
	}

	chunk := koflvm.NewChunkSize(capacity)
	for i := 0; i < count; i++ {
		chunk.Write(data[codeStart+i], int(data[linesStart+i]))
	}

	rest := data[constsStart:]
	switch constEnc {
	case ConstEncodingLegacy:
		if len(rest) != constsSize {
			return nil, koflvm.ErrDecode.NewError(
				fmt.Sprintf("constant section size %d, expected %d",
					len(rest), constsSize))
		}
		for _, b := range rest {
			chunk.WriteConst(koflvm.Number(b))
		}
	case ConstEncodingV1:
		for i := 0; i < constsSize; i++ {
			v, n, err := decodeValue(rest)
			if err != nil {
				return nil, koflvm.ErrDecode.NewError(
					fmt.Sprintf("constant #%d: %v", i, err))
			}
			chunk.WriteConst(v)
			rest = rest[n:]
		}
		if len(rest) != 0 {
			return nil, koflvm.ErrDecode.NewError(
				fmt.Sprintf("%d trailing bytes after constant section", len(rest)))
		}
	default:
		return nil, koflvm.ErrDecode.NewError(
			"unsupported constant encoding:" + strconv.Itoa(int(constEnc)))
	}

	if err := chunk.Validate(); err != nil {
		return nil, err
	}
	return chunk, nil
}

func encodeValue(buf *bytes.Buffer, v koflvm.Value) error {
	switch v := v.(type) {
	case koflvm.Number:
		var tmp [2 + binary.MaxVarintLen64]byte
		tmp[0] = binNumberV1
		if v == 0 && !math.Signbit(float64(v)) {
			buf.Write(tmp[:2])
			return nil
		}
		n := binary.PutUvarint(tmp[2:], math.Float64bits(float64(v)))
		tmp[1] = byte(n)
		buf.Write(tmp[:2+n])
	case koflvm.Bool:
		if v {
			buf.WriteByte(binTrueV1)
		} else {
			buf.WriteByte(binFalseV1)
		}
	case *koflvm.String:
		buf.WriteByte(binStringV1)
		b := v.Bytes()
		var vi varintConv
		buf.Write(vi.toBytes(int64(len(b))))
		buf.Write(b)
	default:
		return koflvm.ErrEncode.NewError(
			fmt.Sprintf("unsupported constant type %T", v))
	}
	return nil
}

// decodeValue decodes a value from the beginning of data and returns the
// number of bytes read.
func decodeValue(data []byte) (koflvm.Value, int, error) {
	if len(data) < 1 {
		return nil, 0, errors.New("missing value tag")
	}

	switch data[0] {
	case binTrueV1:
		return koflvm.True, 1, nil
	case binFalseV1:
		return koflvm.False, 1, nil
	case binNumberV1:
		if len(data) < 2 {
			return nil, 0, errors.New("invalid number data")
		}
		size := int(data[1])
		if size == 0 {
			return koflvm.Number(0), 2, nil
		}
		if len(data) < 2+size {
			return nil, 0, errors.New("invalid number data size")
		}
		bits, n := binary.Uvarint(data[2 : 2+size])
		if n != size {
			if n == 0 {
				return nil, 0, errVarintTooSmall
			}
			return nil, 0, errVarintOverflow
		}
		return koflvm.Number(math.Float64frombits(bits)), 2 + size, nil
	case binStringV1:
		if len(data) < 2 {
			return nil, 0, errors.New("invalid string data")
		}
		size, offset, err := toVarint(data[1:])
		if err != nil {
			return nil, 0, err
		}
		if size < 0 {
			return nil, 0, errors.New("negative string size")
		}
		ub := 1 + offset + int(size)
		if ub > len(data) || ub < 1+offset {
			return nil, 0, errors.New("invalid string data size")
		}
		return koflvm.NewString(string(data[1+offset : ub])), ub, nil
	default:
		return nil, 0, fmt.Errorf("unknown value tag %d", data[0])
	}
}

type varintConv struct {
	buf [1 + binary.MaxVarintLen64]byte
}

func (vi *varintConv) toBytes(v int64) []byte {
	n := binary.PutVarint(vi.buf[1:], v)
	vi.buf[0] = byte(n)
	return vi.buf[:n+1]
}

// toVarint converts a size prefixed varint to int64 and returns the number of
// bytes read. If length of data is 0, it panics.
func toVarint(data []byte) (value int64, offset int, err error) {
	size := int(data[0])
	if size == 0 {
		offset = 1
		return
	}

	if len(data) < 1+size {
		err = errVarintTooSmall
		return
	}

	value, offset = binary.Varint(data[1 : 1+size])
	if offset < 1 {
		if offset == 0 {
			err = errVarintTooSmall
			return
		}
		err = errVarintOverflow
		return
	}

	offset++
	return
}
