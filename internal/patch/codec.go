package patch

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// On-disk layout: an 8-byte plain header (magic + format version, so the
// version can be checked without decompressing anything), followed by a
// zstd-compressed entry stream.
//
//	header:  [4-byte magic "PLPK"][4-byte version (big-endian)]
//	body:    zstd( [4-byte entry count] entry... )
//	entry:   [2-byte path len][path][1-byte op kind][payload]
//	add:     [4-byte data len][data]
//	remove:  (no payload)
//	modify:  [32-byte before sum][32-byte after sum][4-byte block size]
//	         [4-byte op count] blockop...
//	blockop: [1-byte tag] tag 0: [4-byte len][literal bytes]
//	                      tag 1: [8-byte offset][4-byte length]
const (
	packageMagic = "PLPK"

	// headerSize is the size of the plain (uncompressed) package header.
	headerSize = 8

	// Structural limits enforced during decode. Length fields in a package
	// are attacker-influenced and are never trusted beyond these bounds.
	maxEntries  = 1 << 20
	maxPathLen  = 4096
	maxDataLen  = 1 << 30 // 1 GB per file payload
	maxBlockOps = 1 << 24

	// maxBodySize caps zstd decompression memory for a decoded body.
	maxBodySize = 4 << 30
)

const (
	tagLiteral byte = 0
	tagCopy    byte = 1
)

// Encode serializes pkg to its on-disk form. Encoding is deterministic: the
// same package always produces the same bytes (single-threaded zstd encoder
// at a fixed level), so independent builds over identical inputs are
// byte-identical and cacheable. The structural limits hold on both sides:
// a package Encode accepts is one Decode accepts back, so a build never
// writes a patch file its own decoder would refuse.
func Encode(pkg *Package) ([]byte, error) {
	if len(pkg.Entries) > maxEntries {
		return nil, fmt.Errorf("package has %d entries, limit %d", len(pkg.Entries), maxEntries)
	}

	body := binary.BigEndian.AppendUint32(nil, uint32(len(pkg.Entries)))
	for i := range pkg.Entries {
		var err error
		body, err = appendEntry(body, &pkg.Entries[i])
		if err != nil {
			return nil, err
		}
	}

	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	defer enc.Close()

	out := make([]byte, headerSize, headerSize+len(body)/2)
	copy(out, packageMagic)
	binary.BigEndian.PutUint32(out[4:8], pkg.Version)
	return enc.EncodeAll(body, out), nil
}

func appendEntry(b []byte, e *Entry) ([]byte, error) {
	if len(e.RelPath) > maxPathLen {
		return nil, fmt.Errorf("entry path too long: %d bytes", len(e.RelPath))
	}
	b = binary.BigEndian.AppendUint16(b, uint16(len(e.RelPath)))
	b = append(b, e.RelPath...)
	b = append(b, byte(e.Kind))

	switch e.Kind {
	case OpAdd:
		// Length fields are u32 on the wire; oversized payloads must fail
		// here rather than truncate silently.
		if len(e.Data) > maxDataLen {
			return nil, fmt.Errorf("add payload for %s is %d bytes, limit %d",
				e.RelPath, len(e.Data), maxDataLen)
		}
		b = binary.BigEndian.AppendUint32(b, uint32(len(e.Data)))
		b = append(b, e.Data...)
	case OpRemove:
		// No payload.
	case OpModify:
		if len(e.Delta.Ops) > maxBlockOps {
			return nil, fmt.Errorf("delta for %s has %d block ops, limit %d",
				e.RelPath, len(e.Delta.Ops), maxBlockOps)
		}
		b = append(b, e.Delta.BeforeSum[:]...)
		b = append(b, e.Delta.AfterSum[:]...)
		b = binary.BigEndian.AppendUint32(b, uint32(e.Delta.BlockSize))
		b = binary.BigEndian.AppendUint32(b, uint32(len(e.Delta.Ops)))
		for _, op := range e.Delta.Ops {
			if op.BlockIdx >= 0 {
				b = append(b, tagCopy)
				b = binary.BigEndian.AppendUint64(b, uint64(op.Offset))
				b = binary.BigEndian.AppendUint32(b, uint32(op.Length))
			} else {
				if len(op.Literal) > maxDataLen {
					return nil, fmt.Errorf("literal run for %s is %d bytes, limit %d",
						e.RelPath, len(op.Literal), maxDataLen)
				}
				b = append(b, tagLiteral)
				b = binary.BigEndian.AppendUint32(b, uint32(len(op.Literal)))
				b = append(b, op.Literal...)
			}
		}
	default:
		return nil, fmt.Errorf("unknown op kind %d for %s", e.Kind, e.RelPath)
	}
	return b, nil
}

// PeekVersion reads the format version from a serialized package without
// decoding the body. Fails with ErrCorruptPackage if the header is missing
// or carries the wrong magic.
func PeekVersion(data []byte) (uint32, error) {
	if len(data) < headerSize {
		return 0, fmt.Errorf("%w: %d bytes, want at least %d-byte header",
			ErrCorruptPackage, len(data), headerSize)
	}
	if string(data[:4]) != packageMagic {
		return 0, fmt.Errorf("%w: bad magic %q", ErrCorruptPackage, data[:4])
	}
	return binary.BigEndian.Uint32(data[4:8]), nil
}

// Decode parses a serialized package, validating every length field against
// the structural limits. Packages with an unsupported format version are
// rejected before the body is decompressed.
func Decode(data []byte) (*Package, error) {
	version, err := PeekVersion(data)
	if err != nil {
		return nil, err
	}
	if version != FormatVersion {
		return nil, fmt.Errorf("%w: package version %d, supported %d",
			ErrUnsupportedVersion, version, FormatVersion)
	}

	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(maxBodySize),
	)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	defer dec.Close()

	body, err := dec.DecodeAll(data[headerSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress body: %v", ErrCorruptPackage, err)
	}

	r := &byteReader{buf: body}
	count, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if count > maxEntries {
		return nil, fmt.Errorf("%w: entry count %d exceeds limit %d",
			ErrCorruptPackage, count, maxEntries)
	}

	pkg := &Package{Version: version, Entries: make([]Entry, 0, count)}
	for i := uint32(0); i < count; i++ {
		entry, err := readEntry(r)
		if err != nil {
			return nil, err
		}
		pkg.Entries = append(pkg.Entries, entry)
	}
	if r.remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after last entry",
			ErrCorruptPackage, r.remaining())
	}
	return pkg, nil
}

func readEntry(r *byteReader) (Entry, error) {
	pathLen, err := r.uint16()
	if err != nil {
		return Entry{}, err
	}
	if pathLen == 0 || int(pathLen) > maxPathLen {
		return Entry{}, fmt.Errorf("%w: entry path length %d", ErrCorruptPackage, pathLen)
	}
	pathBytes, err := r.take(int(pathLen))
	if err != nil {
		return Entry{}, err
	}
	kind, err := r.byte()
	if err != nil {
		return Entry{}, err
	}

	entry := Entry{RelPath: string(pathBytes), Kind: OpKind(kind)}
	switch entry.Kind {
	case OpAdd:
		dataLen, err := r.uint32()
		if err != nil {
			return Entry{}, err
		}
		if dataLen > maxDataLen {
			return Entry{}, fmt.Errorf("%w: add payload %d exceeds limit %d",
				ErrCorruptPackage, dataLen, maxDataLen)
		}
		data, err := r.take(int(dataLen))
		if err != nil {
			return Entry{}, err
		}
		entry.Data = data

	case OpRemove:
		// No payload.

	case OpModify:
		delta, err := readDelta(r)
		if err != nil {
			return Entry{}, err
		}
		entry.Delta = delta

	default:
		return Entry{}, fmt.Errorf("%w: unknown op kind %d for %s",
			ErrCorruptPackage, kind, entry.RelPath)
	}
	return entry, nil
}

func readDelta(r *byteReader) (*Delta, error) {
	d := &Delta{}

	beforeSum, err := r.take(32)
	if err != nil {
		return nil, err
	}
	copy(d.BeforeSum[:], beforeSum)

	afterSum, err := r.take(32)
	if err != nil {
		return nil, err
	}
	copy(d.AfterSum[:], afterSum)

	blockSize, err := r.uint32()
	if err != nil {
		return nil, err
	}
	d.BlockSize = int(blockSize)

	opCount, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if opCount > maxBlockOps {
		return nil, fmt.Errorf("%w: block op count %d exceeds limit %d",
			ErrCorruptPackage, opCount, maxBlockOps)
	}

	d.Ops = make([]BlockOp, 0, opCount)
	for i := uint32(0); i < opCount; i++ {
		tag, err := r.byte()
		if err != nil {
			return nil, err
		}
		switch tag {
		case tagLiteral:
			litLen, err := r.uint32()
			if err != nil {
				return nil, err
			}
			if litLen > maxDataLen {
				return nil, fmt.Errorf("%w: literal length %d exceeds limit %d",
					ErrCorruptPackage, litLen, maxDataLen)
			}
			lit, err := r.take(int(litLen))
			if err != nil {
				return nil, err
			}
			d.Ops = append(d.Ops, BlockOp{BlockIdx: -1, Length: len(lit), Literal: lit})
		case tagCopy:
			offset, err := r.uint64()
			if err != nil {
				return nil, err
			}
			length, err := r.uint32()
			if err != nil {
				return nil, err
			}
			d.Ops = append(d.Ops, BlockOp{
				BlockIdx: len(d.Ops),
				Offset:   int64(offset),
				Length:   int(length),
			})
		default:
			return nil, fmt.Errorf("%w: unknown block op tag %d", ErrCorruptPackage, tag)
		}
	}
	return d, nil
}

// byteReader is a bounds-checked cursor over a decoded package body.
// Every short read fails with ErrCorruptPackage.
type byteReader struct {
	buf []byte
	off int
}

func (r *byteReader) remaining() int { return len(r.buf) - r.off }

func (r *byteReader) take(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrCorruptPackage, n, r.remaining())
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *byteReader) byte() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *byteReader) uint16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *byteReader) uint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *byteReader) uint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}
