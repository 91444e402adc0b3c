package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"time"

	"github.com/klauspost/compress/gzip"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/tphakala/fieldalias/internal/alias"
	"github.com/tphakala/fieldalias/internal/errors"
	"github.com/tphakala/fieldalias/internal/signature"
)

// Cache file layout, little endian:
//
//	0  magic "FALC"         4
//	4  format version       u16
//	6  dataset kind         u16
//	8  codec                u8
//	9  compression          u8
//	10 reserved             u16
//	12 payload length       u64
//	20 uncompressed length  u64
//	28 record count         u32
//	32 payload CRC32        u32
//	36 header CRC32         u32 (over bytes 0..35)
const (
	HeaderSize = 40

	CacheFormatVersion uint16 = 1
	KindAliasIndex     uint16 = 1
	CodecProtowire     uint8  = 1
	CompressionGzip    uint8  = 1

	headerCRCOffset = 36

	// maxUncompressed bounds the allocation for a decoded payload.
	maxUncompressed = 512 << 20
)

var cacheMagic = [4]byte{'F', 'A', 'L', 'C'}

// ErrCorruptCache marks every cache decoding failure.
var ErrCorruptCache = errors.NewStd("corrupt alias cache")

// Header is the decoded fixed-width cache header.
type Header struct {
	FormatVersion      uint16
	Kind               uint16
	Codec              uint8
	Compression        uint8
	PayloadLength      uint64
	UncompressedLength uint64
	RecordCount        uint32
	PayloadCRC         uint32
	HeaderCRC          uint32
}

func corrupt(reason string, args ...any) error {
	return errors.New(fmt.Errorf("%w: %s", ErrCorruptCache, fmt.Sprintf(reason, args...))).
		Component("store").
		Category(errors.CategoryCorruptData).
		Build()
}

// EncodeCache serializes idx into the binary cache format.
func EncodeCache(idx *alias.Index) ([]byte, error) {
	raw := encodeIndex(idx)

	var payload bytes.Buffer
	zw := gzip.NewWriter(&payload)
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}

	out := make([]byte, HeaderSize, HeaderSize+payload.Len())
	copy(out[0:4], cacheMagic[:])
	binary.LittleEndian.PutUint16(out[4:6], CacheFormatVersion)
	binary.LittleEndian.PutUint16(out[6:8], KindAliasIndex)
	out[8] = CodecProtowire
	out[9] = CompressionGzip
	binary.LittleEndian.PutUint64(out[12:20], uint64(payload.Len()))
	binary.LittleEndian.PutUint64(out[20:28], uint64(len(raw)))
	binary.LittleEndian.PutUint32(out[28:32], uint32(idx.Len()))
	binary.LittleEndian.PutUint32(out[32:36], crc32.ChecksumIEEE(payload.Bytes()))
	binary.LittleEndian.PutUint32(out[36:40], crc32.ChecksumIEEE(out[:headerCRCOffset]))
	return append(out, payload.Bytes()...), nil
}

// DecodeHeader validates and parses the header. The checksum is verified
// before any other field is trusted.
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, corrupt("file shorter than header (%d bytes)", len(data))
	}
	h := Header{
		FormatVersion:      binary.LittleEndian.Uint16(data[4:6]),
		Kind:               binary.LittleEndian.Uint16(data[6:8]),
		Codec:              data[8],
		Compression:        data[9],
		PayloadLength:      binary.LittleEndian.Uint64(data[12:20]),
		UncompressedLength: binary.LittleEndian.Uint64(data[20:28]),
		RecordCount:        binary.LittleEndian.Uint32(data[28:32]),
		PayloadCRC:         binary.LittleEndian.Uint32(data[32:36]),
		HeaderCRC:          binary.LittleEndian.Uint32(data[36:40]),
	}
	if crc32.ChecksumIEEE(data[:headerCRCOffset]) != h.HeaderCRC {
		return h, corrupt("header checksum mismatch")
	}
	switch {
	case !bytes.Equal(data[0:4], cacheMagic[:]):
		return h, corrupt("bad magic")
	case h.FormatVersion != CacheFormatVersion:
		return h, corrupt("unsupported format version %d", h.FormatVersion)
	case h.Kind != KindAliasIndex:
		return h, corrupt("unexpected dataset kind %d", h.Kind)
	case h.Codec != CodecProtowire:
		return h, corrupt("unsupported codec %d", h.Codec)
	case h.Compression != CompressionGzip:
		return h, corrupt("unsupported compression %d", h.Compression)
	case h.PayloadLength != uint64(len(data)-HeaderSize):
		return h, corrupt("payload length %d does not match file (%d)", h.PayloadLength, len(data)-HeaderSize)
	case h.UncompressedLength > maxUncompressed:
		return h, corrupt("uncompressed length %d too large", h.UncompressedLength)
	}
	return h, nil
}

// DecodeCache parses a cache file produced by EncodeCache.
func DecodeCache(data []byte) (*alias.Index, error) {
	h, err := DecodeHeader(data)
	if err != nil {
		return nil, err
	}
	payload := data[HeaderSize:]
	if crc32.ChecksumIEEE(payload) != h.PayloadCRC {
		return nil, corrupt("payload checksum mismatch")
	}

	zr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, corrupt("gzip: %v", err)
	}
	raw, err := io.ReadAll(io.LimitReader(zr, int64(h.UncompressedLength)+1))
	_ = zr.Close()
	if err != nil {
		return nil, corrupt("gzip: %v", err)
	}
	if uint64(len(raw)) != h.UncompressedLength {
		return nil, corrupt("uncompressed length %d, header says %d", len(raw), h.UncompressedLength)
	}

	idx, err := decodeIndex(raw)
	if err != nil {
		return nil, corrupt("decode: %v", err)
	}
	if uint32(len(idx.Records)) != h.RecordCount {
		return nil, corrupt("record count %d, header says %d", len(idx.Records), h.RecordCount)
	}
	return idx, nil
}

// Index message fields.
const (
	fieldIndexVersion     protowire.Number = 1
	fieldIndexUpdatedAt   protowire.Number = 2
	fieldIndexFingerprint protowire.Number = 3
	fieldIndexRecord      protowire.Number = 4
)

// Record message fields.
const (
	fieldRecAliasID   protowire.Number = 1
	fieldRecSpeciesID protowire.Number = 2
	fieldRecCanonical protowire.Number = 3
	fieldRecTileName  protowire.Number = 4
	fieldRecAlias     protowire.Number = 5
	fieldRecNorm      protowire.Number = 6
	fieldRecCologne   protowire.Number = 7
	fieldRecPhonemes  protowire.Number = 8
	fieldRecMetaphone protowire.Number = 9
	fieldRecSignature protowire.Number = 10
	fieldRecWeight    protowire.Number = 11
	fieldRecSource    protowire.Number = 12
	fieldRecCreatedAt protowire.Number = 13
)

// Signature message fields.
const (
	fieldSigMinHash protowire.Number = 1
	fieldSigSimHash protowire.Number = 2
)

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendTime(b []byte, num protowire.Number, t time.Time) []byte {
	if t.IsZero() {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(t.UnixNano()))
}

func encodeIndex(idx *alias.Index) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldIndexVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(idx.Version))
	b = appendTime(b, fieldIndexUpdatedAt, idx.UpdatedAt)
	b = appendString(b, fieldIndexFingerprint, idx.Fingerprint)
	for i := range idx.Records {
		b = protowire.AppendTag(b, fieldIndexRecord, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeRecord(&idx.Records[i]))
	}
	return b
}

func encodeRecord(r *alias.Record) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldRecAliasID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.AliasID))
	b = appendString(b, fieldRecSpeciesID, r.SpeciesID)
	b = appendString(b, fieldRecCanonical, r.Canonical)
	b = appendString(b, fieldRecTileName, r.TileName)
	b = appendString(b, fieldRecAlias, r.Alias)
	b = appendString(b, fieldRecNorm, r.Norm)
	b = appendString(b, fieldRecCologne, r.Codes.Cologne)
	b = appendString(b, fieldRecPhonemes, r.Codes.Phonemes)
	b = appendString(b, fieldRecMetaphone, r.Codes.Metaphone)
	if r.Signature != nil {
		b = protowire.AppendTag(b, fieldRecSignature, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeSignature(r.Signature))
	}
	b = protowire.AppendTag(b, fieldRecWeight, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(r.Weight))
	b = appendString(b, fieldRecSource, string(r.Source))
	b = appendTime(b, fieldRecCreatedAt, r.CreatedAt)
	return b
}

func encodeSignature(s *signature.Signature) []byte {
	var packed []byte
	for _, v := range s.MinHash {
		packed = protowire.AppendFixed64(packed, v)
	}
	var b []byte
	b = protowire.AppendTag(b, fieldSigMinHash, protowire.BytesType)
	b = protowire.AppendBytes(b, packed)
	b = protowire.AppendTag(b, fieldSigSimHash, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, s.SimHash)
}

// fieldReader walks the fields of one message.
type fieldReader struct {
	b   []byte
	err error
}

// next returns the next field number and type; ok is false at the end or
// on error.
func (r *fieldReader) next() (protowire.Number, protowire.Type, bool) {
	if r.err != nil || len(r.b) == 0 {
		return 0, 0, false
	}
	num, typ, n := protowire.ConsumeTag(r.b)
	if n < 0 {
		r.err = protowire.ParseError(n)
		return 0, 0, false
	}
	r.b = r.b[n:]
	return num, typ, true
}

func (r *fieldReader) varint() uint64 {
	v, n := protowire.ConsumeVarint(r.b)
	if n < 0 {
		r.err = protowire.ParseError(n)
		return 0
	}
	r.b = r.b[n:]
	return v
}

func (r *fieldReader) fixed64() uint64 {
	v, n := protowire.ConsumeFixed64(r.b)
	if n < 0 {
		r.err = protowire.ParseError(n)
		return 0
	}
	r.b = r.b[n:]
	return v
}

func (r *fieldReader) bytes() []byte {
	v, n := protowire.ConsumeBytes(r.b)
	if n < 0 {
		r.err = protowire.ParseError(n)
		return nil
	}
	r.b = r.b[n:]
	return v
}

func (r *fieldReader) time() time.Time {
	return time.Unix(0, protowire.DecodeZigZag(r.varint())).UTC()
}

func (r *fieldReader) skip(num protowire.Number, typ protowire.Type) {
	n := protowire.ConsumeFieldValue(num, typ, r.b)
	if n < 0 {
		r.err = protowire.ParseError(n)
		return
	}
	r.b = r.b[n:]
}

// expect records a wire type mismatch; it returns false when the field
// must not be read.
func (r *fieldReader) expect(got, want protowire.Type, num protowire.Number) bool {
	if got != want {
		r.err = fmt.Errorf("field %d: wire type %d, want %d", num, got, want)
		return false
	}
	return true
}

func decodeIndex(b []byte) (*alias.Index, error) {
	idx := &alias.Index{}
	r := &fieldReader{b: b}
	for {
		num, typ, ok := r.next()
		if !ok {
			break
		}
		switch num {
		case fieldIndexVersion:
			if r.expect(typ, protowire.VarintType, num) {
				idx.Version = uint32(r.varint())
			}
		case fieldIndexUpdatedAt:
			if r.expect(typ, protowire.VarintType, num) {
				idx.UpdatedAt = r.time()
			}
		case fieldIndexFingerprint:
			if r.expect(typ, protowire.BytesType, num) {
				idx.Fingerprint = string(r.bytes())
			}
		case fieldIndexRecord:
			if !r.expect(typ, protowire.BytesType, num) {
				break
			}
			msg := r.bytes()
			if r.err != nil {
				break
			}
			rec, err := decodeRecord(msg)
			if err != nil {
				return nil, fmt.Errorf("record %d: %w", len(idx.Records), err)
			}
			idx.Records = append(idx.Records, rec)
		default:
			r.skip(num, typ)
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return idx, nil
}

func decodeRecord(b []byte) (alias.Record, error) {
	var rec alias.Record
	r := &fieldReader{b: b}
	for {
		num, typ, ok := r.next()
		if !ok {
			break
		}
		switch num {
		case fieldRecAliasID:
			if r.expect(typ, protowire.VarintType, num) {
				rec.AliasID = uint32(r.varint())
			}
		case fieldRecSpeciesID, fieldRecCanonical, fieldRecTileName, fieldRecAlias,
			fieldRecNorm, fieldRecCologne, fieldRecPhonemes, fieldRecMetaphone, fieldRecSource:
			if !r.expect(typ, protowire.BytesType, num) {
				break
			}
			s := string(r.bytes())
			switch num {
			case fieldRecSpeciesID:
				rec.SpeciesID = s
			case fieldRecCanonical:
				rec.Canonical = s
			case fieldRecTileName:
				rec.TileName = s
			case fieldRecAlias:
				rec.Alias = s
			case fieldRecNorm:
				rec.Norm = s
			case fieldRecCologne:
				rec.Codes.Cologne = s
			case fieldRecPhonemes:
				rec.Codes.Phonemes = s
			case fieldRecMetaphone:
				rec.Codes.Metaphone = s
			case fieldRecSource:
				rec.Source = alias.Source(s)
			}
		case fieldRecSignature:
			if !r.expect(typ, protowire.BytesType, num) {
				break
			}
			msg := r.bytes()
			if r.err != nil {
				break
			}
			sig, err := decodeSignature(msg)
			if err != nil {
				return rec, err
			}
			rec.Signature = sig
		case fieldRecWeight:
			if r.expect(typ, protowire.Fixed64Type, num) {
				rec.Weight = math.Float64frombits(r.fixed64())
			}
		case fieldRecCreatedAt:
			if r.expect(typ, protowire.VarintType, num) {
				rec.CreatedAt = r.time()
			}
		default:
			r.skip(num, typ)
		}
	}
	return rec, r.err
}

func decodeSignature(b []byte) (*signature.Signature, error) {
	sig := &signature.Signature{}
	r := &fieldReader{b: b}
	for {
		num, typ, ok := r.next()
		if !ok {
			break
		}
		switch num {
		case fieldSigMinHash:
			if !r.expect(typ, protowire.BytesType, num) {
				break
			}
			packed := r.bytes()
			if len(packed)%8 != 0 {
				return nil, fmt.Errorf("minhash length %d not a multiple of 8", len(packed))
			}
			sig.MinHash = make([]uint64, 0, len(packed)/8)
			for len(packed) > 0 {
				v, n := protowire.ConsumeFixed64(packed)
				if n < 0 {
					return nil, protowire.ParseError(n)
				}
				sig.MinHash = append(sig.MinHash, v)
				packed = packed[n:]
			}
		case fieldSigSimHash:
			if r.expect(typ, protowire.Fixed64Type, num) {
				sig.SimHash = r.fixed64()
			}
		default:
			r.skip(num, typ)
		}
	}
	return sig, r.err
}
