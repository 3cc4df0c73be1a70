package patch

import (
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/blake3"
)

// Fingerprint computes the BLAKE3-256 digest of b. Fingerprints detect drift
// between the expected and actual state of a file at apply time.
func Fingerprint(b []byte) [32]byte {
	return blake3.Sum256(b)
}

// BlockOp is a single instruction for reconstructing a buffer.
// If BlockIdx >= 0, copy [Offset, Offset+Length) from the before-image.
// Otherwise, Literal contains new data.
type BlockOp struct {
	Literal  []byte // non-nil only for literal ops
	Offset   int64  // offset in before-image (for block ops)
	BlockIdx int    // -1 = literal data, >= 0 = copy from before-image
	Length   int    // length of block or literal
}

// Delta is an opaque description of how to turn one byte buffer into
// another, carrying content fingerprints of both endpoints.
type Delta struct {
	Ops       []BlockOp
	BlockSize int
	BeforeSum [32]byte
	AfterSum  [32]byte
}

// chooseBlockSize selects an appropriate block size for a buffer.
// Uses sqrt(size) clamped to [512, 128KB].
func chooseBlockSize(size int64) int {
	bs := int(math.Sqrt(float64(size)))
	if bs < 512 {
		bs = 512
	}
	if bs > 131072 {
		bs = 131072
	}
	return bs
}

// blockSignature holds weak+strong hashes for a single block in the
// before-image.
type blockSignature struct {
	index  int
	offset int64
	strong [32]byte
}

// Diff computes a Delta that reconstructs after from before using rsync-style
// block matching: xxHash weak hashes select candidate blocks, BLAKE3 strong
// hashes confirm them, and unmatched regions become literal runs.
func Diff(before, after []byte) (*Delta, error) {
	blockSize := chooseBlockSize(int64(len(before)))

	d := &Delta{
		BlockSize: blockSize,
		BeforeSum: Fingerprint(before),
		AfterSum:  Fingerprint(after),
	}

	// Weak hash → candidate blocks in the before-image. Multiple blocks can
	// share a weak hash; keep all candidates.
	weakMap := make(map[uint64][]blockSignature)
	idx := 0
	for off := 0; off < len(before); off += blockSize {
		end := off + blockSize
		if end > len(before) {
			end = len(before)
		}
		block := before[off:end]
		weak := xxhash.Sum64(block)
		weakMap[weak] = append(weakMap[weak], blockSignature{
			index:  idx,
			offset: int64(off),
			strong: blake3.Sum256(block),
		})
		idx++
	}

	var literalBuf []byte
	flushLiteral := func() {
		if len(literalBuf) > 0 {
			d.Ops = append(d.Ops, BlockOp{
				BlockIdx: -1,
				Length:   len(literalBuf),
				Literal:  literalBuf,
			})
			literalBuf = nil
		}
	}

	i := 0
	for i < len(after) {
		end := i + blockSize
		if end > len(after) {
			end = len(after)
		}
		chunk := after[i:end]

		matched := false
		if len(chunk) >= blockSize || i+len(chunk) == len(after) {
			if candidates, ok := weakMap[xxhash.Sum64(chunk)]; ok {
				strong := blake3.Sum256(chunk)
				for _, c := range candidates {
					if c.strong == strong {
						flushLiteral()
						d.Ops = append(d.Ops, BlockOp{
							BlockIdx: c.index,
							Offset:   c.offset,
							Length:   len(chunk),
						})
						i += len(chunk)
						matched = true
						break
					}
				}
			}
		}

		if !matched {
			literalBuf = append(literalBuf, after[i])
			i++
		}
	}

	flushLiteral()
	return d, nil
}

// Apply reconstructs the after-image by replaying the delta's ops against
// before. Block ops referencing ranges outside before fail; the caller is
// expected to verify BeforeSum beforehand and AfterSum on the result.
func (d *Delta) Apply(before []byte) ([]byte, error) {
	var out []byte
	for _, op := range d.Ops {
		if op.BlockIdx >= 0 {
			end := op.Offset + int64(op.Length)
			if op.Offset < 0 || end > int64(len(before)) {
				return nil, fmt.Errorf("%w: block op [%d, %d) outside before-image of %d bytes",
					ErrCorruptPackage, op.Offset, end, len(before))
			}
			out = append(out, before[op.Offset:end]...)
		} else {
			out = append(out, op.Literal...)
		}
	}
	return out, nil
}

// Stats returns the number of matched blocks and literal bytes in the delta.
func (d *Delta) Stats() (matchedBlocks int, literalBytes int64) {
	for _, op := range d.Ops {
		if op.BlockIdx >= 0 {
			matchedBlocks++
		} else {
			literalBytes += int64(op.Length)
		}
	}
	return matchedBlocks, literalBytes
}
