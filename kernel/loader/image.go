package loader

import (
	"bytes"
	"encoding/binary"

	"github.com/stylemate/CS330-project3-1/kernel"
	"github.com/stylemate/CS330-project3-1/kernel/mm"
)

// Executable images start with a header page mapped read-only at TextBase:
//
//	header | segment headers | entry symbol
//
// followed, at the next page boundary, by the initialized data of the
// program. All fields are 32-bit little endian words.
const (
	// TextBase is the address of the header page of every image.
	TextBase = mm.UserFloor

	// DataBase is the address of the writable data segment.
	DataBase = TextBase + mm.PageSize

	maxSegments = 8
	segWritable = 1 << 0
)

var (
	imageMagic = [4]byte{0x7f, 'U', 'X', 'E'}

	errBadMagic   = &kernel.Error{Module: "loader", Message: "not an executable"}
	errBadHeader  = &kernel.Error{Module: "loader", Message: "truncated executable header"}
	errBadSegment = &kernel.Error{Module: "loader", Message: "invalid segment"}
)

type imageHeader struct {
	Magic    [4]byte
	Segments uint32
	EntryOff uint32
	EntryLen uint32
}

type segmentHeader struct {
	Offset   uint32
	Vaddr    uint32
	FileSize uint32
	MemSize  uint32
	Flags    uint32
}

var (
	imageHeaderSize   = uint32(binary.Size(imageHeader{}))
	segmentHeaderSize = uint32(binary.Size(segmentHeader{}))
)

func (s *segmentHeader) writable() bool {
	return s.Flags&segWritable != 0
}

// image is a decoded executable header.
type image struct {
	entry    string
	segments []segmentHeader
}

// Build returns the executable image of prog.
func Build(prog Program) []byte {
	hdr := imageHeader{Magic: imageMagic, Segments: 1}
	dataSize := uint32(len(prog.Data)) + prog.BSS
	if dataSize > 0 {
		hdr.Segments++
	}
	hdr.EntryOff = imageHeaderSize + hdr.Segments*segmentHeaderSize
	hdr.EntryLen = uint32(len(prog.Name))
	textSize := hdr.EntryOff + hdr.EntryLen

	segs := []segmentHeader{
		{Offset: 0, Vaddr: uint32(TextBase), FileSize: textSize, MemSize: textSize},
	}
	if dataSize > 0 {
		data := segmentHeader{
			Vaddr:    uint32(DataBase),
			FileSize: uint32(len(prog.Data)),
			MemSize:  dataSize,
			Flags:    segWritable,
		}
		if data.FileSize > 0 {
			data.Offset = uint32(mm.PageSize)
		}
		segs = append(segs, data)
	}

	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, &hdr)
	_ = binary.Write(&buf, binary.LittleEndian, segs)
	buf.WriteString(prog.Name)

	if len(prog.Data) > 0 {
		buf.Write(make([]byte, int(mm.PageSize)-buf.Len()))
		buf.Write(prog.Data)
	}
	return buf.Bytes()
}

// parseImage decodes the header page of an executable of fileSize bytes.
func parseImage(page []byte, fileSize uint32) (*image, *kernel.Error) {
	var hdr imageHeader
	r := bytes.NewReader(page)
	if binary.Read(r, binary.LittleEndian, &hdr) != nil {
		return nil, errBadHeader
	}
	if hdr.Magic != imageMagic {
		return nil, errBadMagic
	}
	if hdr.Segments == 0 || hdr.Segments > maxSegments {
		return nil, errBadHeader
	}

	img := &image{segments: make([]segmentHeader, hdr.Segments)}
	if binary.Read(r, binary.LittleEndian, img.segments) != nil {
		return nil, errBadHeader
	}

	end := uint64(hdr.EntryOff) + uint64(hdr.EntryLen)
	if hdr.EntryLen == 0 || end > uint64(len(page)) {
		return nil, errBadHeader
	}
	img.entry = string(page[hdr.EntryOff:end])

	for i := range img.segments {
		if !img.segments[i].valid(fileSize) {
			return nil, errBadSegment
		}
	}
	return img, nil
}

// valid reports whether the segment describes a loadable range of user
// pages backed by a file of fileSize bytes.
func (s *segmentHeader) valid(fileSize uint32) bool {
	switch {
	case mm.PageOffset(uintptr(s.Offset)) != mm.PageOffset(uintptr(s.Vaddr)):
		return false
	case s.Offset > fileSize:
		return false
	case s.MemSize < s.FileSize || s.MemSize == 0:
		return false
	}

	start, end := uint64(s.Vaddr), uint64(s.Vaddr)+uint64(s.MemSize)
	return start >= uint64(mm.UserFloor) && end <= uint64(mm.PhysBase)
}

// pages returns the page aligned file offset, start address and the byte
// counts to declare for the segment.
func (s *segmentHeader) pages() (offset int32, upage uintptr, readBytes, zeroBytes uint32) {
	pageOffset := uint32(mm.PageOffset(uintptr(s.Vaddr)))
	offset = int32(s.Offset - pageOffset)
	upage = uintptr(s.Vaddr - pageOffset)

	span := uint32((uintptr(pageOffset+s.MemSize) + mm.PageSize - 1) &^ (mm.PageSize - 1))
	if s.FileSize > 0 {
		readBytes = pageOffset + s.FileSize
	}
	zeroBytes = span - readBytes
	return offset, upage, readBytes, zeroBytes
}
