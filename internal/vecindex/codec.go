package vecindex

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

const (
	// magic identifies index files (ASCII "CIDX").
	magic         = 0x43494458
	formatVersion = 1

	// maxPayloadBytes bounds the decoded corpus size accepted from a header.
	maxPayloadBytes = 1 << 36

	// maxLZ4Ratio is the largest expansion an LZ4 block can encode.
	maxLZ4Ratio = 255
)

// fileHeader is the fixed header at the start of every index file.
type fileHeader struct {
	Magic       uint32
	Version     uint16
	Metric      uint8
	Compression uint8
	Dimension   uint32
	Count       uint64
	PayloadSize uint64
	Checksum    uint32 // CRC32 (IEEE) of the uncompressed payload
	Reserved    uint32
}

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// Save writes the index to path, creating parent directories. The file is written
// to a temporary sibling and renamed into place, so readers never observe a partial file.
// Concurrent writers to the same path are not coordinated.
func (i *Index) Save(path string) error {
	if !i.populated {
		return ErrUninitialized
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: create directory for %s: %w", ErrIO, path, err)
	}
	if err := writeFileAtomic(path, i.encode); err != nil {
		return fmt.Errorf("%w: save %s: %w", ErrIO, path, err)
	}
	return nil
}

func (i *Index) encode(w io.Writer) error {
	raw := encodeFloats(i.data)
	compression := i.compression
	payload, err := compress(raw, compression)
	if err != nil {
		return err
	}
	if payload == nil {
		// incompressible, store as-is
		compression = CompressionNone
		payload = raw
	}
	header := fileHeader{
		Magic:       magic,
		Version:     formatVersion,
		Metric:      uint8(i.metric),
		Compression: uint8(compression),
		Dimension:   uint32(i.dim),
		Count:       uint64(i.count),
		PayloadSize: uint64(len(payload)),
		Checksum:    crc32.ChecksumIEEE(raw),
	}
	if err := binary.Write(w, binary.LittleEndian, &header); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// Load replaces the index state (dimension, metric and corpus) with the contents of path.
// On error the index is left unchanged.
func (i *Index) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s: %w", ErrIndexNotFound, path, err)
		}
		return fmt.Errorf("%w: open %s: %w", ErrIO, path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%w: stat %s: %w", ErrIO, path, err)
	}
	loaded, err := decode(bufio.NewReader(f), info.Size())
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	i.dim = loaded.dim
	i.metric = loaded.metric
	i.compression = loaded.compression
	i.replace(loaded.data, loaded.count, false)
	return nil
}

// Open loads the index stored at path into a new Index.
func Open(path string, opts ...Option) (*Index, error) {
	idx := &Index{defaultK: DefaultK}
	for _, opt := range opts {
		opt(idx)
	}
	if err := idx.Load(path); err != nil {
		return nil, err
	}
	return idx, nil
}

type decoded struct {
	dim         int
	metric      Metric
	compression Compression
	count       int
	data        []float32
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruptIndex, fmt.Sprintf(format, args...))
}

// decode reads an index file of size bytes. The header is checked against size
// before any payload buffer is allocated.
func decode(r io.Reader, size int64) (*decoded, error) {
	var h fileHeader
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, corrupt("read header: %v", err)
	}
	if h.Magic != magic {
		return nil, corrupt("bad magic 0x%08x", h.Magic)
	}
	if h.Version != formatVersion {
		return nil, corrupt("unsupported version %d", h.Version)
	}
	metric := Metric(h.Metric)
	if !metric.valid() {
		return nil, corrupt("unknown metric tag %d", h.Metric)
	}
	compression := Compression(h.Compression)
	if compression > CompressionZstd {
		return nil, corrupt("unknown compression tag %d", h.Compression)
	}
	if h.Dimension == 0 {
		return nil, corrupt("zero dimension")
	}
	if h.Count > maxPayloadBytes/4/uint64(h.Dimension) {
		return nil, corrupt("corpus of %d x %d exceeds size limit", h.Count, h.Dimension)
	}
	rawSize := h.Count * uint64(h.Dimension) * 4
	if compression == CompressionNone && h.PayloadSize != rawSize {
		return nil, corrupt("payload is %d bytes, want %d for %d rows of %d", h.PayloadSize, rawSize, h.Count, h.Dimension)
	}
	if h.PayloadSize > maxPayloadBytes {
		return nil, corrupt("payload size %d exceeds limit", h.PayloadSize)
	}
	if want := uint64(binary.Size(fileHeader{})) + h.PayloadSize; size < 0 || uint64(size) != want {
		return nil, corrupt("header claims %d payload bytes, file is %d bytes", h.PayloadSize, size)
	}
	if compression == CompressionLZ4 && rawSize > h.PayloadSize*maxLZ4Ratio {
		return nil, corrupt("lz4 payload of %d bytes cannot expand to %d", h.PayloadSize, rawSize)
	}

	payload := make([]byte, h.PayloadSize)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, corrupt("truncated payload: %v", err)
	}
	var extra [1]byte
	if n, _ := r.Read(extra[:]); n > 0 {
		return nil, corrupt("trailing bytes after payload")
	}

	raw, err := decompress(payload, compression, int(rawSize))
	if err != nil {
		return nil, corrupt("decompress %s payload: %v", compression, err)
	}
	if uint64(len(raw)) != rawSize {
		return nil, corrupt("decoded payload is %d bytes, want %d", len(raw), rawSize)
	}
	if sum := crc32.ChecksumIEEE(raw); sum != h.Checksum {
		return nil, corrupt("checksum mismatch: got 0x%08x, want 0x%08x", sum, h.Checksum)
	}
	return &decoded{
		dim:         int(h.Dimension),
		metric:      metric,
		compression: compression,
		count:       int(h.Count),
		data:        decodeFloats(raw),
	}, nil
}

// compress returns nil when the payload does not shrink.
func compress(raw []byte, c Compression) ([]byte, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out []byte
	switch c {
	case CompressionNone:
		return nil, nil
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(raw)))
		n, err := lz4.CompressBlock(raw, buf, nil)
		if err != nil {
			return nil, err
		}
		out = buf[:n]
	case CompressionZstd:
		out = zstdEncoder.EncodeAll(raw, nil)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCompression, uint8(c))
	}
	if len(out) == 0 || len(out) >= len(raw) {
		return nil, nil
	}
	return out, nil
}

func decompress(payload []byte, c Compression, rawSize int) ([]byte, error) {
	switch c {
	case CompressionNone:
		return payload, nil
	case CompressionLZ4:
		raw := make([]byte, rawSize)
		n, err := lz4.UncompressBlock(payload, raw)
		if err != nil {
			return nil, err
		}
		return raw[:n], nil
	case CompressionZstd:
		var fh zstd.Header
		if err := fh.Decode(payload); err != nil {
			return nil, err
		}
		if !fh.HasFCS {
			return zstdDecoder.DecodeAll(payload, nil)
		}
		if fh.FrameContentSize != uint64(rawSize) {
			return nil, fmt.Errorf("frame holds %d bytes, want %d", fh.FrameContentSize, rawSize)
		}
		return zstdDecoder.DecodeAll(payload, make([]byte, 0, rawSize))
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCompression, uint8(c))
	}
}

func encodeFloats(v []float32) []byte {
	b := make([]byte, len(v)*4)
	for n, x := range v {
		binary.LittleEndian.PutUint32(b[n*4:], math.Float32bits(x))
	}
	return b
}

func decodeFloats(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for n := range v {
		v[n] = math.Float32frombits(binary.LittleEndian.Uint32(b[n*4:]))
	}
	return v
}

// writeFileAtomic writes through a temp file in the target directory and renames it over path.
func writeFileAtomic(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	buf := bufio.NewWriterSize(tmp, 256*1024)
	if err := write(buf); err != nil {
		return err
	}
	if err := buf.Flush(); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
