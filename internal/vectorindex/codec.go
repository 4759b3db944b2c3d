package vectorindex

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrMalformed is returned by Decode for bytes that are not a valid index.
var ErrMalformed = errors.New("malformed index encoding")

const (
	magic   = "SGIX"
	version = uint16(1)

	maxTextLen   = 1 << 24
	maxSourceLen = 1 << 16
)

// Encode serializes the index:
//
//	"SGIX" | version u16 | dim u32 | count u32 | entries...
//	entry: page u32 | text len u32 | text | source len u16 | source | dim x f32
//
// All integers and floats are little-endian.
func Encode(ix *Index) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(14 + len(ix.Entries)*(10+4*ix.Dim))

	buf.WriteString(magic)
	le := binary.LittleEndian
	buf.Write(le.AppendUint16(nil, version))
	buf.Write(le.AppendUint32(nil, uint32(ix.Dim)))
	buf.Write(le.AppendUint32(nil, uint32(len(ix.Entries))))

	for i, e := range ix.Entries {
		if len(e.Vector) != ix.Dim {
			return nil, fmt.Errorf("entry %d: %w", i, ErrDimension)
		}
		if len(e.Text) >= maxTextLen || len(e.Source) >= maxSourceLen {
			return nil, fmt.Errorf("entry %d: text or source too long", i)
		}
		if e.Page < 0 || uint64(e.Page) > math.MaxUint32 {
			return nil, fmt.Errorf("entry %d: page %d out of range", i, e.Page)
		}
		buf.Write(le.AppendUint32(nil, uint32(e.Page)))
		buf.Write(le.AppendUint32(nil, uint32(len(e.Text))))
		buf.WriteString(e.Text)
		buf.Write(le.AppendUint16(nil, uint16(len(e.Source))))
		buf.WriteString(e.Source)
		for _, f := range e.Vector {
			buf.Write(le.AppendUint32(nil, math.Float32bits(f)))
		}
	}
	return buf.Bytes(), nil
}

type reader struct {
	b   []byte
	off int
}

func (r *reader) next(n int) ([]byte, error) {
	if n < 0 || len(r.b)-r.off < n {
		return nil, fmt.Errorf("%w: truncated at offset %d", ErrMalformed, r.off)
	}
	p := r.b[r.off : r.off+n]
	r.off += n
	return p, nil
}

func (r *reader) u16() (uint16, error) {
	p, err := r.next(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(p), nil
}

func (r *reader) u32() (uint32, error) {
	p, err := r.next(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(p), nil
}

// Decode parses bytes produced by Encode.
func Decode(b []byte) (*Index, error) {
	r := &reader{b: b}

	m, err := r.next(len(magic))
	if err != nil {
		return nil, err
	}
	if string(m) != magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrMalformed, m)
	}
	v, err := r.u16()
	if err != nil {
		return nil, err
	}
	if v != version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformed, v)
	}
	dim, err := r.u32()
	if err != nil {
		return nil, err
	}
	count, err := r.u32()
	if err != nil {
		return nil, err
	}

	// Each entry needs at least its fixed fields and vector.
	minEntry := 10 + 4*int(dim)
	if int(count) > (len(b)-r.off)/minEntry {
		return nil, fmt.Errorf("%w: %d entries cannot fit in %d bytes", ErrMalformed, count, len(b)-r.off)
	}

	ix := &Index{Dim: int(dim), Entries: make([]Entry, 0, count)}
	for i := 0; i < int(count); i++ {
		var e Entry
		page, err := r.u32()
		if err != nil {
			return nil, err
		}
		e.Page = int(page)

		textLen, err := r.u32()
		if err != nil {
			return nil, err
		}
		text, err := r.next(int(textLen))
		if err != nil {
			return nil, err
		}
		e.Text = string(text)

		srcLen, err := r.u16()
		if err != nil {
			return nil, err
		}
		src, err := r.next(int(srcLen))
		if err != nil {
			return nil, err
		}
		e.Source = string(src)

		raw, err := r.next(4 * int(dim))
		if err != nil {
			return nil, err
		}
		e.Vector = make([]float32, dim)
		for j := range e.Vector {
			e.Vector[j] = math.Float32frombits(binary.LittleEndian.Uint32(raw[j*4:]))
		}
		ix.Entries = append(ix.Entries, e)
	}
	if r.off != len(b) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(b)-r.off)
	}
	ix.ensureNorms()
	return ix, nil
}
