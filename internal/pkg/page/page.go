package page

import (
	"bytes"
	"errors"
	"fmt"
)

const (
	// Size is the fixed on-disk size of every page, 4 kilobytes.
	Size = 4096

	// HeaderSize is the reserved header capacity. It is a versioned constant
	// of the on-disk format, deliberately larger than the sum of the current
	// field widths so that future header fields never shift the body start.
	HeaderSize = 32

	// BodySize is the space available for the pointer table and cell data.
	BodySize = Size - HeaderSize

	// cellPointerSize is one pointer-table entry, addr uint16 + len uint16.
	cellPointerSize = 4
)

// Header field offsets, absolute within the page.
const (
	magicOffset    = 0
	lowerOffset    = 4
	upperOffset    = 6
	overflowOffset = 8
	flagsOffset    = 16
)

// magic marks the start of every page so that misdirected reads are caught
// instead of being interpreted as page data.
var magic = [4]byte{'P', 'A', 'G', 'E'}

var (
	ErrPageFull       = errors.New("page full")
	ErrCellOutOfRange = errors.New("cell index out of range")
	ErrInvalidMagic   = errors.New("invalid page magic")
	ErrCorruptHeader  = errors.New("corrupt page header")
)

// Kind discriminates what a page's cells contain. It occupies bit 0 of the
// header flags field; the remaining bits are reserved.
type Kind uint16

const (
	KeyPage      Kind = 0
	KeyValuePage Kind = 1
)

const kindMask uint16 = 1

// Page is a slotted page: a fixed-size buffer holding a header followed by a
// body in which a pointer table grows from the front and cell payloads grow
// from the back. Cell ordinals are stable for the lifetime of the page; there
// is no in-page deletion or compaction, so the free gap between the two
// regions only ever shrinks.
//
// A Page has no internal locking. The pager guarantees at most one writer per
// page at a time.
type Page struct {
	data [Size]byte
}

// NewPage returns an empty page: magic written, pointer table and cell data
// both empty, no overflow link, flags zeroed.
func NewPage() *Page {
	p := new(Page)
	copy(p.data[magicOffset:], magic[:])
	p.setLowerOffset(0)
	p.setUpperOffset(BodySize)
	p.SetOverflowPage(NoPage)
	p.SetFlags(0)
	return p
}

// LowerOffset is the body-relative offset where the next pointer-table entry
// would be written. It equals 4 times the number of cells.
func (p *Page) LowerOffset() uint16 {
	return unmarshalUint16(p.data[:], lowerOffset)
}

func (p *Page) setLowerOffset(offset uint16) {
	marshalUint16(p.data[:], offset, lowerOffset)
}

// UpperOffset is the body-relative offset where the most recently written
// cell begins, i.e. the upper edge of the free gap.
func (p *Page) UpperOffset() uint16 {
	return unmarshalUint16(p.data[:], upperOffset)
}

func (p *Page) setUpperOffset(offset uint16) {
	marshalUint16(p.data[:], offset, upperOffset)
}

// OverflowPage returns the continuation-page link recorded in the header.
func (p *Page) OverflowPage() MaybePageID {
	return MaybePageID(unmarshalUint64(p.data[:], overflowOffset))
}

// SetOverflowPage records a continuation page for records too large to fit
// here. The pager sets it once an overflow page has been allocated; this
// page itself never follows the link.
func (p *Page) SetOverflowPage(id MaybePageID) {
	marshalUint64(p.data[:], uint64(id), overflowOffset)
}

func (p *Page) Flags() uint16 {
	return unmarshalUint16(p.data[:], flagsOffset)
}

func (p *Page) SetFlags(flags uint16) {
	marshalUint16(p.data[:], flags, flagsOffset)
}

// Kind reads the page kind from the flags field.
func (p *Page) Kind() Kind {
	return Kind(p.Flags() & kindMask)
}

// SetKind stores the page kind in the flags field, leaving reserved bits
// untouched.
func (p *Page) SetKind(k Kind) {
	p.SetFlags(p.Flags()&^kindMask | uint16(k)&kindMask)
}

// FreeSpace is the unwritten gap between the pointer table and the cell data
// area. A cell of n bytes needs n plus 4 bytes of it, 4 for the pointer-table
// entry.
func (p *Page) FreeSpace() uint16 {
	return p.UpperOffset() - p.LowerOffset()
}

// CellsCount returns how many cells have been added since NewPage.
func (p *Page) CellsCount() int {
	return int(p.LowerOffset() / cellPointerSize)
}

// AddCell appends data as a new cell at the next ordinal. On ErrPageFull the
// page is left byte-for-byte unchanged; the caller is expected to obtain a
// fresh or overflow page and retry there.
func (p *Page) AddCell(data []byte) error {
	var (
		lower = p.LowerOffset()
		upper = p.UpperOffset()
	)
	if len(data)+cellPointerSize > int(upper-lower) {
		return fmt.Errorf("%w: %d bytes do not fit into %d free", ErrPageFull, len(data), upper-lower)
	}

	addr := upper - uint16(len(data))
	p.writeCellData(addr, data)
	p.writeCellPointer(lower, addr, uint16(len(data)))
	p.setLowerOffset(lower + cellPointerSize)
	p.setUpperOffset(addr)

	return nil
}

// NthCell returns the payload of the cell at ordinal n. The returned slice
// aliases the page buffer and is only valid until the page is next written.
func (p *Page) NthCell(n int) ([]byte, error) {
	if n < 0 || n >= p.CellsCount() {
		return nil, fmt.Errorf("%w: cell %d, page has %d", ErrCellOutOfRange, n, p.CellsCount())
	}
	addr, length := p.cellPointer(uint16(n * cellPointerSize))
	return p.cellData(addr, length), nil
}

func (p *Page) writeCellData(addr uint16, data []byte) {
	i := HeaderSize + int(addr)
	copy(p.data[i:i+len(data)], data)
}

func (p *Page) cellData(addr, length uint16) []byte {
	i := HeaderSize + int(addr)
	return p.data[i : i+int(length)]
}

func (p *Page) writeCellPointer(at, addr, length uint16) {
	i := uint64(HeaderSize) + uint64(at)
	marshalUint16(p.data[:], addr, i)
	marshalUint16(p.data[:], length, i+2)
}

func (p *Page) cellPointer(at uint16) (addr, length uint16) {
	i := uint64(HeaderSize) + uint64(at)
	addr = unmarshalUint16(p.data[:], i)
	length = unmarshalUint16(p.data[:], i+2)
	return addr, length
}

// Marshal copies the raw page image into buf, reusing it when large enough.
func (p *Page) Marshal(buf []byte) ([]byte, error) {
	if cap(buf) >= Size {
		buf = buf[:Size]
	} else {
		buf = make([]byte, Size)
	}
	copy(buf, p.data[:])
	return buf, nil
}

// Unmarshal loads a page image read from storage, validating the magic marker
// and the header's free-space bookkeeping before accepting any byte of it.
func (p *Page) Unmarshal(buf []byte) error {
	if len(buf) < Size {
		return fmt.Errorf("page buffer too small: %d bytes", len(buf))
	}
	if !bytes.Equal(buf[magicOffset:magicOffset+4], magic[:]) {
		return fmt.Errorf("%w: % x", ErrInvalidMagic, buf[magicOffset:magicOffset+4])
	}

	var (
		lower = unmarshalUint16(buf, lowerOffset)
		upper = unmarshalUint16(buf, upperOffset)
	)
	if lower > upper || upper > BodySize {
		return fmt.Errorf("%w: lower offset %d, upper offset %d", ErrCorruptHeader, lower, upper)
	}
	if lower%cellPointerSize != 0 {
		return fmt.Errorf("%w: lower offset %d not a multiple of %d", ErrCorruptHeader, lower, cellPointerSize)
	}
	// Verify every pointer-table entry up front so that cell reads never have
	// to bounds-check a loaded page again.
	for at := uint16(0); at < lower; at += cellPointerSize {
		i := uint64(HeaderSize) + uint64(at)
		addr := unmarshalUint16(buf, i)
		length := unmarshalUint16(buf, i+2)
		if addr < upper || int(addr)+int(length) > BodySize {
			return fmt.Errorf("%w: cell %d points at [%d, %d) outside [%d, %d)",
				ErrCorruptHeader, at/cellPointerSize, addr, int(addr)+int(length), upper, BodySize)
		}
	}

	copy(p.data[:], buf[:Size])
	return nil
}

func marshalUint16(buf []byte, n uint16, i uint64) []byte {
	buf[i+0] = byte(n >> 0)
	buf[i+1] = byte(n >> 8)
	return buf
}

func unmarshalUint16(buf []byte, i uint64) uint16 {
	return 0 |
		(uint16(buf[i+0]) << 0) |
		(uint16(buf[i+1]) << 8)
}

func marshalUint64(buf []byte, n uint64, i uint64) []byte {
	buf[i+0] = byte(n >> 0)
	buf[i+1] = byte(n >> 8)
	buf[i+2] = byte(n >> 16)
	buf[i+3] = byte(n >> 24)
	buf[i+4] = byte(n >> 32)
	buf[i+5] = byte(n >> 40)
	buf[i+6] = byte(n >> 48)
	buf[i+7] = byte(n >> 56)
	return buf
}

func unmarshalUint64(buf []byte, i uint64) uint64 {
	return 0 | (uint64(buf[i+0]) << 0) |
		(uint64(buf[i+1]) << 8) |
		(uint64(buf[i+2]) << 16) |
		(uint64(buf[i+3]) << 24) |
		(uint64(buf[i+4]) << 32) |
		(uint64(buf[i+5]) << 40) |
		(uint64(buf[i+6]) << 48) |
		(uint64(buf[i+7]) << 56)
}
