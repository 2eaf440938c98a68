// Package npy reads and writes two-dimensional float32 matrices in the NumPy
// .npy v1.0 format, the layout used for the raw embeddings artifact.
package npy

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var magic = []byte("\x93NUMPY")

const (
	// maxMatrixBytes bounds the data size accepted from a header's shape.
	maxMatrixBytes = 1 << 36
	// rowHint caps row preallocation before the data has been read.
	rowHint = 4096
)

// ErrFormat is returned for files that are not a C-ordered little-endian float32 matrix.
var ErrFormat = errors.New("npy: unsupported or malformed file")

var (
	descrRe   = regexp.MustCompile(`'descr'\s*:\s*'([^']*)'`)
	fortranRe = regexp.MustCompile(`'fortran_order'\s*:\s*(True|False)`)
	shapeRe   = regexp.MustCompile(`'shape'\s*:\s*\(([^)]*)\)`)
)

// Write encodes rows as an (len(rows), dim) '<f4' array.
func Write(w io.Writer, rows [][]float32, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("npy: dimension must be positive, got %d", dim)
	}
	for i, r := range rows {
		if len(r) != dim {
			return fmt.Errorf("npy: row %d has %d columns, want %d", i, len(r), dim)
		}
	}

	dict := fmt.Sprintf("{'descr': '<f4', 'fortran_order': False, 'shape': (%d, %d), }", len(rows), dim)
	// magic(6) + version(2) + header length(2) + dict, padded with spaces and
	// terminated by a newline so the data starts on a 64-byte boundary.
	total := 10 + len(dict) + 1
	if rem := total % 64; rem != 0 {
		total += 64 - rem
	}
	header := dict + strings.Repeat(" ", total-10-len(dict)-1) + "\n"

	bw := bufio.NewWriter(w)
	bw.Write(magic)
	bw.Write([]byte{1, 0})
	var hl [2]byte
	binary.LittleEndian.PutUint16(hl[:], uint16(len(header)))
	bw.Write(hl[:])
	bw.WriteString(header)

	var buf [4]byte
	for _, r := range rows {
		for _, v := range r {
			binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
			if _, err := bw.Write(buf[:]); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

// Read decodes a matrix written by Write (or numpy.save of a float32 2-D array).
// It returns the rows and the column count.
func Read(r io.Reader) ([][]float32, int, error) {
	return read(r, -1)
}

// read decodes a matrix. When size is non-negative it is the total input length
// and the shape must account for it exactly.
func read(r io.Reader, size int64) ([][]float32, int, error) {
	br := bufio.NewReader(r)
	pre := make([]byte, 10)
	if _, err := io.ReadFull(br, pre); err != nil {
		return nil, 0, fmt.Errorf("%w: read preamble: %v", ErrFormat, err)
	}
	if !bytes.Equal(pre[:6], magic) {
		return nil, 0, fmt.Errorf("%w: bad magic", ErrFormat)
	}
	if pre[6] != 1 {
		return nil, 0, fmt.Errorf("%w: version %d.%d", ErrFormat, pre[6], pre[7])
	}
	header := make([]byte, binary.LittleEndian.Uint16(pre[8:10]))
	if _, err := io.ReadFull(br, header); err != nil {
		return nil, 0, fmt.Errorf("%w: read header: %v", ErrFormat, err)
	}
	n, dim, err := parseHeader(string(header))
	if err != nil {
		return nil, 0, err
	}
	if size >= 0 {
		if want := int64(len(pre)+len(header)) + int64(n)*int64(dim)*4; want != size {
			return nil, 0, fmt.Errorf("%w: shape (%d, %d) needs %d bytes, file has %d", ErrFormat, n, dim, want, size)
		}
	}

	rows := make([][]float32, 0, min(n, rowHint))
	raw := make([]byte, dim*4)
	for i := 0; i < n; i++ {
		if _, err := io.ReadFull(br, raw); err != nil {
			return nil, 0, fmt.Errorf("%w: row %d: %v", ErrFormat, i, err)
		}
		row := make([]float32, dim)
		for j := range row {
			row[j] = math.Float32frombits(binary.LittleEndian.Uint32(raw[j*4:]))
		}
		rows = append(rows, row)
	}
	return rows, dim, nil
}

func parseHeader(h string) (int, int, error) {
	descr := descrRe.FindStringSubmatch(h)
	if descr == nil || descr[1] != "<f4" {
		return 0, 0, fmt.Errorf("%w: dtype must be '<f4'", ErrFormat)
	}
	fortran := fortranRe.FindStringSubmatch(h)
	if fortran == nil || fortran[1] != "False" {
		return 0, 0, fmt.Errorf("%w: only C order is supported", ErrFormat)
	}
	shape := shapeRe.FindStringSubmatch(h)
	if shape == nil {
		return 0, 0, fmt.Errorf("%w: missing shape", ErrFormat)
	}
	var dims []int
	for _, part := range strings.Split(shape[1], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil || v < 0 {
			return 0, 0, fmt.Errorf("%w: bad shape %q", ErrFormat, shape[1])
		}
		dims = append(dims, v)
	}
	if len(dims) != 2 || dims[1] == 0 {
		return 0, 0, fmt.Errorf("%w: want a 2-D shape with columns, got (%s)", ErrFormat, shape[1])
	}
	if dims[1] > maxMatrixBytes/4 || dims[0] > maxMatrixBytes/4/dims[1] {
		return 0, 0, fmt.Errorf("%w: shape (%s) exceeds size limit", ErrFormat, shape[1])
	}
	return dims[0], dims[1], nil
}

// WriteFile writes the matrix to path, creating parent directories and replacing
// any existing file atomically.
func WriteFile(path string, rows [][]float32, dim int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := Write(tmp, rows, dim); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ReadFile reads the matrix stored at path.
func ReadFile(path string) ([][]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, 0, err
	}
	return read(f, info.Size())
}
