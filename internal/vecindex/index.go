// Package vecindex implements an exact nearest-neighbor index over a fixed-dimension
// float32 corpus with L2 or cosine semantics and a binary on-disk form.
//
// Vectors are identified by their ordinal, the zero-based position in which they
// were passed to Create. An Index is populated in bulk and then frozen: Create and
// Load replace the whole corpus, nothing is appended or removed in between.
//
// An Index is not safe for concurrent use while it is being replaced; callers that
// share one across goroutines must serialize Create/Load against Search.
package vecindex

import "fmt"

// DefaultK is the result count used when Search is called with k <= 0 and no
// WithDefaultK option was given.
const DefaultK = 5

// Index is a flat, brute-force vector index.
type Index struct {
	dim         int
	metric      Metric
	defaultK    int
	compression Compression

	// data is the corpus in row-major order, len(data) == count*dim.
	data      []float32
	count     int
	zeroRows  []bool // rows with zero norm, only tracked under Cosine
	populated bool
}

// Option configures an Index.
type Option func(*Index)

// WithDefaultK sets the k used when Search is called without one.
func WithDefaultK(k int) Option {
	return func(i *Index) {
		if k > 0 {
			i.defaultK = k
		}
	}
}

// WithCompression sets the payload encoding used by Save.
func WithCompression(c Compression) Option {
	return func(i *Index) {
		i.compression = c
	}
}

// New returns an empty index for vectors of the given dimension.
func New(dim int, metric Metric, opts ...Option) (*Index, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("vecindex: dimension must be positive, got %d", dim)
	}
	if !metric.valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMetric, uint8(metric))
	}
	idx := &Index{
		dim:      dim,
		metric:   metric,
		defaultK: DefaultK,
	}
	for _, opt := range opts {
		opt(idx)
	}
	if idx.compression > CompressionZstd {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCompression, uint8(idx.compression))
	}
	return idx, nil
}

// Dimension returns the fixed vector width.
func (i *Index) Dimension() int { return i.dim }

// Metric returns the distance semantics of the index.
func (i *Index) Metric() Metric { return i.metric }

// Populated reports whether Create or Load has succeeded at least once.
func (i *Index) Populated() bool { return i.populated }

// Size returns the number of stored vectors, 0 if the index was never populated.
func (i *Index) Size() int { return i.count }

// Create replaces the corpus with the given rows. Rows are copied; under Cosine
// the stored copies are L2-normalized and zero-norm rows are kept as zero vectors.
// On error the index is left unchanged.
func (i *Index) Create(embeddings [][]float32) error {
	for row, v := range embeddings {
		if len(v) != i.dim {
			return fmt.Errorf("%w: row %d has %d columns, index dimension is %d", ErrDimensionMismatch, row, len(v), i.dim)
		}
	}
	data := make([]float32, len(embeddings)*i.dim)
	for row, v := range embeddings {
		copy(data[row*i.dim:(row+1)*i.dim], v)
	}
	i.replace(data, len(embeddings), i.metric == Cosine)
	return nil
}

// replace installs a row-major corpus, normalizing rows first when asked.
func (i *Index) replace(data []float32, count int, normalize bool) {
	var zeroRows []bool
	if i.metric == Cosine {
		zeroRows = make([]bool, count)
		for row := 0; row < count; row++ {
			v := data[row*i.dim : (row+1)*i.dim]
			if normalize {
				zeroRows[row] = !normalizeInPlace(v)
			} else {
				zeroRows[row] = isZero(v)
			}
		}
	}
	i.data = data
	i.count = count
	i.zeroRows = zeroRows
	i.populated = true
}

// Search returns up to k nearest stored vectors to query as parallel slices of
// squared Euclidean distances and ordinals, nearest first, ties broken by the
// lower ordinal. k <= 0 selects the default k. Fewer than k results are returned
// when the corpus is smaller than k.
func (i *Index) Search(query []float32, k int) ([]float32, []int, error) {
	if !i.populated {
		return nil, nil, ErrUninitialized
	}
	if len(query) != i.dim {
		return nil, nil, fmt.Errorf("%w: query has %d components, index dimension is %d", ErrDimensionMismatch, len(query), i.dim)
	}
	if k <= 0 {
		k = i.defaultK
	}
	if k > i.count {
		k = i.count
	}

	q := query
	queryZero := false
	if i.metric == Cosine {
		q = append([]float32(nil), query...)
		queryZero = !normalizeInPlace(q)
	}

	pq := make(neighborQueue, 0, k)
	if k > 0 {
		for row := 0; row < i.count; row++ {
			var d float32
			if i.metric == Cosine && (queryZero || i.zeroRows[row]) {
				d = maxUnitDistance
			} else {
				d = squaredL2(q, i.data[row*i.dim:(row+1)*i.dim])
			}
			pq.offer(neighbor{ordinal: row, distance: d}, k)
		}
	}

	nearest := pq.drain()
	distances := make([]float32, len(nearest))
	indices := make([]int, len(nearest))
	for n, nb := range nearest {
		distances[n] = nb.distance
		indices[n] = nb.ordinal
	}
	return distances, indices, nil
}

// vector returns a copy of the stored row at ordinal, as stored (normalized under Cosine).
func (i *Index) vector(ordinal int) ([]float32, error) {
	if !i.populated {
		return nil, ErrUninitialized
	}
	if ordinal < 0 || ordinal >= i.count {
		return nil, fmt.Errorf("vecindex: ordinal %d out of range [0,%d)", ordinal, i.count)
	}
	return append([]float32(nil), i.data[ordinal*i.dim:(ordinal+1)*i.dim]...), nil
}
