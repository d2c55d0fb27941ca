package rsync

import (
	"crypto/sha1"
	"math"
)

const (
	// minimumBlockSize is the minimum block size that will be returned by
	// SignatureParams. It has to be chosen so that it is at least a few
	// orders of magnitude larger than the size of a block hash record.
	minimumBlockSize = 1 << 10
	// maximumBlockSize is the maximum block size that will be returned by
	// SignatureParams. It must leave room to spare within the transfer
	// buffers, since delta generation needs a full block's worth of input
	// available at once.
	maximumBlockSize = 1 << 14
	// maximumLiteralSize is the maximum data size permitted per literal
	// command in a delta stream. The optimal value for this isn't at all
	// correlated with block size - it's just what's reasonable to hold
	// in-memory and stage for transmission at once.
	maximumLiteralSize = 1 << 14
)

const (
	// m is the weak hash modulus. I think they now recommend that it be the
	// largest prime less than 2^16, but this value is fine as well.
	m = 1 << 16
)

// SignatureParams computes the recommended signature parameters (block size
// and strong hash length) for a file of the specified size. It starts by
// choosing the optimal block length using the formula given in the rsync
// thesis (assuming one change per file) and then enforces that the block size
// is within a sensible range.
func SignatureParams(fileSize uint64) (uint64, int) {
	blockSize := uint64(math.Sqrt(24.0 * float64(fileSize)))
	if blockSize < minimumBlockSize {
		blockSize = minimumBlockSize
	} else if blockSize > maximumBlockSize {
		blockSize = maximumBlockSize
	}
	return blockSize, sha1.Size
}

// weakHash computes a fast checksum that can be rolled (updated without full
// recomputation). This particular hash is detailed on page 55 of the rsync
// thesis. It is not theoretically optimal, but it's fine for our purposes.
func weakHash(data []byte, blockSize uint64) (uint32, uint32, uint32) {
	var r1, r2 uint32
	for i, b := range data {
		r1 += uint32(b)
		r2 += (uint32(blockSize) - uint32(i)) * uint32(b)
	}
	r1 = r1 % m
	r2 = r2 % m
	return r1 + m*r2, r1, r2
}

// rollWeakHash updates the checksum computed by weakHash by adding and
// removing a byte.
func rollWeakHash(r1, r2 uint32, out, in byte, blockSize uint64) (uint32, uint32, uint32) {
	r1 = (r1 - uint32(out) + uint32(in)) % m
	r2 = (r2 - uint32(blockSize)*uint32(out) + r1) % m
	return r1 + m*r2, r1, r2
}

// strongHash computes a strong block checksum.
func strongHash(data []byte) [sha1.Size]byte {
	return sha1.Sum(data)
}

// min implements simple minimum finding for int values.
func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
