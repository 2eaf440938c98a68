package vecindex

import (
	"encoding/binary"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomRows(r *rand.Rand, n, dim int) [][]float32 {
	rows := make([][]float32, n)
	for i := range rows {
		rows[i] = make([]float32, dim)
		for j := range rows[i] {
			rows[i][j] = r.Float32()*2 - 1
		}
	}
	return rows
}

func TestSaveLoadRoundTrip(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	queries := randomRows(r, 5, 16)

	for _, metric := range []Metric{L2, Cosine} {
		for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
			t.Run(metric.String()+"/"+c.String(), func(t *testing.T) {
				idx := newIndex(t, 16, metric, WithCompression(c))
				require.NoError(t, idx.Create(randomRows(r, 50, 16)))

				path := filepath.Join(t.TempDir(), "nested", "dir", "code.idx")
				require.NoError(t, idx.Save(path))

				loaded, err := Open(path)
				require.NoError(t, err)
				assert.Equal(t, idx.Dimension(), loaded.Dimension())
				assert.Equal(t, idx.Metric(), loaded.Metric())
				assert.Equal(t, idx.Size(), loaded.Size())

				for _, q := range queries {
					wantD, wantI, err := idx.Search(q, 10)
					require.NoError(t, err)
					gotD, gotI, err := loaded.Search(q, 10)
					require.NoError(t, err)
					assert.Equal(t, wantI, gotI)
					assert.InDeltaSlice(t, wantD, gotD, 1e-5)
				}
			})
		}
	}
}

func TestLoadKeepsCosineRowsNormalized(t *testing.T) {
	idx := newIndex(t, 2, Cosine)
	require.NoError(t, idx.Create([][]float32{{3, 4}, {0, 0}}))
	path := filepath.Join(t.TempDir(), "cos.idx")
	require.NoError(t, idx.Save(path))

	loaded, err := Open(path)
	require.NoError(t, err)
	v, err := loaded.vector(0)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	dists, ids, err := loaded.Search([]float32{1, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, ids)
	assert.Equal(t, float32(maxUnitDistance), dists[1])
}

func TestSaveLoadEmptyCorpus(t *testing.T) {
	idx := newIndex(t, 4, L2, WithCompression(CompressionZstd))
	require.NoError(t, idx.Create([][]float32{}))
	path := filepath.Join(t.TempDir(), "empty.idx")
	require.NoError(t, idx.Save(path))

	loaded, err := Open(path)
	require.NoError(t, err)
	assert.True(t, loaded.Populated())
	assert.Equal(t, 0, loaded.Size())
	_, ids, err := loaded.Search([]float32{1, 2, 3, 4}, 5)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestCompressionShrinksRepetitiveCorpus(t *testing.T) {
	rows := make([][]float32, 512)
	for n := range rows {
		rows[n] = []float32{1, 2, 3, 4, 5, 6, 7, 8}
	}
	raw := int64(headerBytes() + len(rows)*8*4)

	for _, c := range []Compression{CompressionLZ4, CompressionZstd} {
		idx := newIndex(t, 8, L2, WithCompression(c))
		require.NoError(t, idx.Create(rows))
		path := filepath.Join(t.TempDir(), c.String()+".idx")
		require.NoError(t, idx.Save(path))

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Less(t, info.Size(), raw, c.String())

		loaded, err := Open(path)
		require.NoError(t, err)
		assert.Equal(t, 512, loaded.Size())
	}
}

func TestLoadMissingFile(t *testing.T) {
	idx := newIndex(t, 2, L2)
	err := idx.Load(filepath.Join(t.TempDir(), "missing.idx"))
	assert.ErrorIs(t, err, ErrIndexNotFound)
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.False(t, idx.Populated())
}

func TestLoadCorruptFiles(t *testing.T) {
	idx := newIndex(t, 4, L2)
	require.NoError(t, idx.Create([][]float32{{1, 2, 3, 4}, {5, 6, 7, 8}, {9, 10, 11, 12}}))
	dir := t.TempDir()
	good := filepath.Join(dir, "good.idx")
	require.NoError(t, idx.Save(good))
	data, err := os.ReadFile(good)
	require.NoError(t, err)

	mutate := func(f func([]byte) []byte) []byte {
		return f(append([]byte(nil), data...))
	}
	hdr := headerBytes()

	tests := []struct {
		name string
		data []byte
	}{
		{"empty file", []byte{}},
		{"short header", data[:10]},
		{"bad magic", mutate(func(b []byte) []byte { b[0] ^= 0xff; return b })},
		{"bad version", mutate(func(b []byte) []byte { binary.LittleEndian.PutUint16(b[4:], 99); return b })},
		{"unknown metric", mutate(func(b []byte) []byte { b[6] = 42; return b })},
		{"unknown compression", mutate(func(b []byte) []byte { b[7] = 42; return b })},
		{"zero dimension", mutate(func(b []byte) []byte { binary.LittleEndian.PutUint32(b[8:], 0); return b })},
		{"row length mismatch", mutate(func(b []byte) []byte { binary.LittleEndian.PutUint32(b[8:], 5); return b })},
		{"truncated payload", data[:len(data)-3]},
		{"trailing bytes", append(append([]byte(nil), data...), 0x01)},
		{"checksum mismatch", mutate(func(b []byte) []byte { b[hdr+1] ^= 0x10; return b })},
		{"payload larger than file", mutate(func(b []byte) []byte {
			binary.LittleEndian.PutUint64(b[12:], 1<<30)
			binary.LittleEndian.PutUint64(b[20:], 1<<34)
			return b[:hdr+3]
		})},
		{"lz4 payload cannot hold corpus", mutate(func(b []byte) []byte {
			b[7] = uint8(CompressionLZ4)
			binary.LittleEndian.PutUint64(b[12:], 1<<28)
			return b
		})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "bad.idx")
			require.NoError(t, os.WriteFile(path, tt.data, 0o644))

			target := newIndex(t, 4, L2)
			require.NoError(t, target.Create([][]float32{{0, 0, 0, 1}}))

			err := target.Load(path)
			assert.ErrorIs(t, err, ErrCorruptIndex)
			assert.Equal(t, 1, target.Size(), "failed load must keep previous state")
		})
	}
}

func TestLoadRejectsZstdFrameSizeMismatch(t *testing.T) {
	rows := make([][]float32, 256)
	for n := range rows {
		rows[n] = []float32{1, 1, 1, 1}
	}
	idx := newIndex(t, 4, L2, WithCompression(CompressionZstd))
	require.NoError(t, idx.Create(rows))
	path := filepath.Join(t.TempDir(), "zstd.idx")
	require.NoError(t, idx.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, uint8(CompressionZstd), data[7])
	binary.LittleEndian.PutUint64(data[12:], 1<<30)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	err = idx.Load(path)
	assert.ErrorIs(t, err, ErrCorruptIndex)
	assert.Equal(t, 256, idx.Size())
}

func TestLoadReplacesState(t *testing.T) {
	src := newIndex(t, 3, Cosine)
	require.NoError(t, src.Create([][]float32{{1, 0, 0}, {0, 1, 0}}))
	path := filepath.Join(t.TempDir(), "src.idx")
	require.NoError(t, src.Save(path))

	dst := newIndex(t, 5, L2)
	require.NoError(t, dst.Create([][]float32{{1, 1, 1, 1, 1}, {2, 2, 2, 2, 2}, {3, 3, 3, 3, 3}}))
	require.NoError(t, dst.Load(path))

	assert.Equal(t, 3, dst.Dimension())
	assert.Equal(t, Cosine, dst.Metric())
	assert.Equal(t, 2, dst.Size())
}

func TestSaveUnwritablePath(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	idx := newIndex(t, 1, L2)
	require.NoError(t, idx.Create([][]float32{{1}}))
	err := idx.Save(filepath.Join(blocker, "sub", "code.idx"))
	assert.ErrorIs(t, err, ErrIO)
}

func headerBytes() int {
	return binary.Size(fileHeader{})
}
