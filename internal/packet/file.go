package packet

import (
	"encoding/binary"

	"github.com/klauspost/compress/zstd"
)

// FILE TLV tags (2-byte length prefix, strict decode: unknown types are
// rejected since a file transfer has no forward-compatibility need for
// skippable fields).
const (
	FileTagName        uint8 = 0x01
	FileTagMIME        uint8 = 0x02
	FileTagSize        uint8 = 0x03 // uint64, original (uncompressed) byte length
	FileTagCompression uint8 = 0x04 // uint8, CompressionXxx
	FileTagData        uint8 = 0x05
)

var fileKnownTags = map[uint8]bool{
	FileTagName: true, FileTagMIME: true, FileTagSize: true,
	FileTagCompression: true, FileTagData: true,
}

// Compression identifies how FileTagData was encoded before framing.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionZstd Compression = 1
)

// File is the decoded FILE (0x40) transfer payload.
type File struct {
	Name        string
	MIME        string
	Size        uint64 // original, uncompressed length
	Compression Compression
	Data        []byte // as carried on the wire; see Bytes() for the decompressed form
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	// A single shared encoder/decoder is safe for concurrent use and
	// avoids re-allocating zstd's internal tables per file packet.
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		panic("packet: zstd writer: " + err.Error())
	}
	zstdEncoder = enc

	dec, err := zstd.NewReader(nil)
	if err != nil {
		panic("packet: zstd reader: " + err.Error())
	}
	zstdDecoder = dec
}

// NewFile builds a File payload from raw content, compressing it with
// zstd when that actually shrinks it.
func NewFile(name, mime string, content []byte) *File {
	compressed := zstdEncoder.EncodeAll(content, nil)
	if len(compressed) < len(content) {
		return &File{Name: name, MIME: mime, Size: uint64(len(content)), Compression: CompressionZstd, Data: compressed}
	}
	return &File{Name: name, MIME: mime, Size: uint64(len(content)), Compression: CompressionNone, Data: content}
}

// Bytes returns the original, decompressed file content.
func (f *File) Bytes() ([]byte, error) {
	if f.Compression != CompressionZstd {
		return f.Data, nil
	}
	return zstdDecoder.DecodeAll(f.Data, make([]byte, 0, f.Size))
}

// EncodeFile serializes f as strict TLV.
func EncodeFile(f *File) []byte {
	tw := NewTLVWriter(2)
	tw.Put(FileTagName, []byte(f.Name))
	if f.MIME != "" {
		tw.Put(FileTagMIME, []byte(f.MIME))
	}
	tw.PutUint64(FileTagSize, f.Size)
	tw.PutUint8(FileTagCompression, uint8(f.Compression))
	tw.Put(FileTagData, f.Data)
	return tw.Bytes()
}

// DecodeFile parses a FILE payload, rejecting unknown TLV types.
func DecodeFile(payload []byte) (*File, error) {
	fields, err := DecodeTLVs(payload, 2, false, fileKnownTags)
	if err != nil {
		return nil, err
	}

	f := &File{}
	if v, ok := FirstField(fields, FileTagName); ok {
		f.Name = string(v)
	}
	if v, ok := FirstField(fields, FileTagMIME); ok {
		f.MIME = string(v)
	}
	if v, ok := FirstField(fields, FileTagSize); ok && len(v) == 8 {
		f.Size = binary.BigEndian.Uint64(v)
	}
	if v, ok := FirstField(fields, FileTagCompression); ok && len(v) == 1 {
		f.Compression = Compression(v[0])
	}
	if v, ok := FirstField(fields, FileTagData); ok {
		f.Data = v
	}
	return f, nil
}
