package rsync

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/larsewi/librsync/stream"
)

const (
	// signatureMagic identifies a signature stream.
	signatureMagic uint32 = 0x73696701
	// signatureHeaderSize is the size of the signature stream header: magic,
	// block size, strong hash length, and file size.
	signatureHeaderSize = 4 + 4 + 4 + 8
)

// BlockHash represents a pair of weak and strong hash for a base block.
type BlockHash struct {
	// Weak is the weak hash for the block.
	Weak uint32
	// Strong is the strong hash for the block. Only the first StrongLength
	// bytes of the owning signature are significant.
	Strong [sha1.Size]byte
}

// Signature represents an rsync base signature. It encodes the block size
// used to generate the signature, the size of the last block (which may be
// smaller than a full block), the strong hash truncation length, the size of
// the base, and the hashes for the blocks of the base. An empty base has a
// non-zero block size but no hashes.
type Signature struct {
	// BlockSize is the block size used to compute the signature.
	BlockSize uint64
	// LastBlockSize is the size of the last block in the signature. It is 0
	// if and only if the base is empty.
	LastBlockSize uint64
	// StrongLength is the number of significant strong hash bytes.
	StrongLength int
	// FileSize is the size of the base.
	FileSize uint64
	// Hashes are the hashes of the blocks in the base.
	Hashes []BlockHash
}

// SignatureJob incrementally emits the signature stream for a base: a fixed
// header followed by one weak+strong hash record per block. Input bytes are
// consumed a block at a time; a partial block is only hashed once the input
// has reached its end.
type SignatureJob struct {
	// blockSize is the signature block size.
	blockSize uint64
	// strongLength is the strong hash truncation length.
	strongLength int
	// fileSize is the expected size of the base, recorded in the header.
	fileSize uint64
	// headerWritten indicates that the stream header has been emitted.
	headerWritten bool
}

// NewSignatureJob creates a signature generation job for a base of the
// specified size using the specified parameters (typically obtained from
// SignatureParams).
func NewSignatureJob(fileSize, blockSize uint64, strongLength int) (*SignatureJob, error) {
	if blockSize == 0 {
		return nil, errors.New("block size is zero")
	} else if strongLength < 1 || strongLength > sha1.Size {
		return nil, errors.Errorf("invalid strong hash length: %d", strongLength)
	}
	return &SignatureJob{
		blockSize:    blockSize,
		strongLength: strongLength,
		fileSize:     fileSize,
	}, nil
}

// Step implements stream.Job.Step.
func (j *SignatureJob) Step(buffers *stream.Buffers) (stream.Result, error) {
	// Emit the header before any block records.
	if !j.headerWritten {
		free := buffers.OutputFree()
		if len(free) < signatureHeaderSize {
			return stream.Blocked, nil
		}
		binary.BigEndian.PutUint32(free, signatureMagic)
		binary.BigEndian.PutUint32(free[4:], uint32(j.blockSize))
		binary.BigEndian.PutUint32(free[8:], uint32(j.strongLength))
		binary.BigEndian.PutUint64(free[12:], j.fileSize)
		buffers.ProduceOutput(signatureHeaderSize)
		j.headerWritten = true
	}

	// Hash and emit one record per available block.
	recordSize := 4 + j.strongLength
	for {
		// Grab the next block. A short block is only hashed at end-of-input
		// (and marks the end of the signature).
		input := buffers.Input()
		blockLength := int(j.blockSize)
		if len(input) < blockLength {
			if !buffers.InputEOF() {
				return stream.Blocked, nil
			} else if len(input) == 0 {
				return stream.Done, nil
			}
			blockLength = len(input)
		}
		block := input[:blockLength]

		// Ensure there's space for the record.
		free := buffers.OutputFree()
		if len(free) < recordSize {
			return stream.Blocked, nil
		}

		// Compute hashes for the block. For short blocks, we still use the
		// full block size when computing the weak hash, which is the
		// convention delta generation relies on when searching for a short
		// last block match.
		weak, _, _ := weakHash(block, j.blockSize)
		strong := strongHash(block)

		// Emit the record and consume the block.
		binary.BigEndian.PutUint32(free, weak)
		copy(free[4:], strong[:j.strongLength])
		buffers.ProduceOutput(recordSize)
		buffers.ConsumeInput(blockLength)
	}
}

// CaptureJob accumulates an entire input stream into memory without producing
// any output. It is used to materialize a peer's signature stream before
// index construction, which is not incremental.
type CaptureJob struct {
	buffer bytes.Buffer
}

// NewCaptureJob creates a new capture job.
func NewCaptureJob() *CaptureJob {
	return &CaptureJob{}
}

// Step implements stream.Job.Step.
func (j *CaptureJob) Step(buffers *stream.Buffers) (stream.Result, error) {
	if input := buffers.Input(); len(input) > 0 {
		j.buffer.Write(input)
		buffers.ConsumeInput(len(input))
	}
	if buffers.InputEOF() {
		return stream.Done, nil
	}
	return stream.Blocked, nil
}

// Bytes returns the captured stream contents. It should only be called after
// the job has reported completion.
func (j *CaptureJob) Bytes() []byte {
	return j.buffer.Bytes()
}

// Index is a signature augmented with a lookup table from weak hash to
// candidate block indices, ready for delta generation. If the base's last
// block is short, it is held out of the table and matched separately, because
// match searches assume that every block in the table has a full block's
// worth of data.
type Index struct {
	// signature is the underlying signature.
	signature Signature
	// blocks maps weak hashes to all full-size blocks with that weak hash.
	blocks map[uint32][]uint64
	// haveShortLastBlock indicates that the base's last block is short.
	haveShortLastBlock bool
	// lastBlockIndex is the index of the short last block, if any.
	lastBlockIndex uint64
	// shortLastBlock is the hash of the short last block, if any.
	shortLastBlock BlockHash
}

// BuildIndex parses a received signature stream and builds the block lookup
// table used by delta generation. It is an atomic operation over the fully
// materialized signature bytes.
func BuildIndex(signature []byte) (*Index, error) {
	// Parse and validate the header.
	if len(signature) < signatureHeaderSize {
		return nil, errors.New("signature truncated before header")
	} else if binary.BigEndian.Uint32(signature) != signatureMagic {
		return nil, errors.New("unrecognized signature magic")
	}
	blockSize := uint64(binary.BigEndian.Uint32(signature[4:]))
	strongLength := int(binary.BigEndian.Uint32(signature[8:]))
	fileSize := binary.BigEndian.Uint64(signature[12:])
	if blockSize == 0 || blockSize > maximumBlockSize {
		return nil, errors.Errorf("signature has unusable block size: %d", blockSize)
	} else if strongLength < 1 || strongLength > sha1.Size {
		return nil, errors.Errorf("signature has invalid strong hash length: %d", strongLength)
	}

	// Parse the block records, verifying that their count matches the file
	// size declared in the header.
	records := signature[signatureHeaderSize:]
	recordSize := 4 + strongLength
	if len(records)%recordSize != 0 {
		return nil, errors.New("signature has truncated block record")
	}
	count := uint64(len(records) / recordSize)
	expected := fileSize / blockSize
	if fileSize%blockSize != 0 {
		expected++
	}
	if count != expected {
		return nil, errors.Errorf("signature block count (%d) does not match file size (expected %d)", count, expected)
	}
	hashes := make([]BlockHash, count)
	for i := range hashes {
		record := records[i*recordSize:]
		hashes[i].Weak = binary.BigEndian.Uint32(record)
		copy(hashes[i].Strong[:strongLength], record[4:recordSize])
	}

	// Compute the size of the last block.
	lastBlockSize := fileSize % blockSize
	if lastBlockSize == 0 && fileSize > 0 {
		lastBlockSize = blockSize
	}

	// Create the index. If the last block is short, extract it and hold it
	// separately.
	index := &Index{
		signature: Signature{
			BlockSize:     blockSize,
			LastBlockSize: lastBlockSize,
			StrongLength:  strongLength,
			FileSize:      fileSize,
			Hashes:        hashes,
		},
	}
	fullBlocks := hashes
	if count > 0 && lastBlockSize != blockSize {
		index.haveShortLastBlock = true
		index.lastBlockIndex = count - 1
		index.shortLastBlock = hashes[count-1]
		fullBlocks = hashes[:count-1]
	}
	index.blocks = make(map[uint32][]uint64, len(fullBlocks))
	for i, h := range fullBlocks {
		index.blocks[h.Weak] = append(index.blocks[h.Weak], uint64(i))
	}

	// Success.
	return index, nil
}

// match searches the index for a full-size block whose weak and strong hashes
// match the provided block. It returns the matching block's index.
func (x *Index) match(weak uint32, block []byte) (uint64, bool) {
	candidates := x.blocks[weak]
	if len(candidates) == 0 {
		return 0, false
	}
	strong := strongHash(block)
	for _, c := range candidates {
		if bytes.Equal(x.signature.Hashes[c].Strong[:x.signature.StrongLength], strong[:x.signature.StrongLength]) {
			return c, true
		}
	}
	return 0, false
}

// matchShortLastBlock checks whether the provided block matches the base's
// short last block, if there is one.
func (x *Index) matchShortLastBlock(block []byte) bool {
	if !x.haveShortLastBlock || uint64(len(block)) != x.signature.LastBlockSize {
		return false
	}
	// For short blocks, the weak hash is computed with the full block size,
	// matching the convention used during signature generation.
	if weak, _, _ := weakHash(block, x.signature.BlockSize); weak != x.shortLastBlock.Weak {
		return false
	}
	strong := strongHash(block)
	return bytes.Equal(x.shortLastBlock.Strong[:x.signature.StrongLength], strong[:x.signature.StrongLength])
}
