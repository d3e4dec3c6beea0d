package p2p

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// makeMerkleParent combines two child hashes into their parent, or hashes a
// single left child with itself when there is no right sibling (BIP37's
// odd-leaf-count rule). CVE-2012-2459 duplicate-hash pairs are rejected.
func makeMerkleParent(left, right *chainhash.Hash) (*chainhash.Hash, error) {
	if left == nil {
		return nil, nil
	}
	if right != nil && left.IsEqual(right) {
		return nil, fmt.Errorf("p2p: duplicate merkle hash pair")
	}
	if right == nil {
		right = left
	}
	var buf [64]byte
	copy(buf[:32], left[:])
	copy(buf[32:], right[:])
	parent := chainhash.DoubleHashH(buf[:])
	return &parent, nil
}

type merkleNode struct {
	p uint32
	h *chainhash.Hash
}

// treeDepth returns the smallest e such that 2^e >= n.
func treeDepth(n uint32) (e uint8) {
	for ; (1 << e) < n; e++ {
	}
	return
}

func nextPowerOfTwo(n uint32) uint32 {
	return 1 << treeDepth(n)
}

// inDeadZone reports whether pos has no sibling populated in a tree holding
// size leaves — the case where a parent is built from a single left child.
func inDeadZone(pos, size uint32) bool {
	msb := nextPowerOfTwo(size)
	if pos > (msb<<1)-2 {
		return true
	}
	last := size - 1
	h := msb
	for pos >= h {
		h = h>>1 | msb
		last = last>>1 | msb
	}
	return pos > last
}

// decodeMerkleBlock walks a merkleblock's flag bits and hash list with a
// stack instead of recursion, verifying the reconstructed root against the
// header and returning the txids the remote peer flagged as matching our
// filter.
func decodeMerkleBlock(m *wire.MsgMerkleBlock) ([]chainhash.Hash, error) {
	if m.Transactions == 0 {
		return nil, fmt.Errorf("p2p: merkleblock with no transactions")
	}
	if len(m.Flags) == 0 {
		return nil, fmt.Errorf("p2p: merkleblock with no flag bits")
	}

	hashes := append([]*chainhash.Hash(nil), m.Hashes...)
	flags := append([]byte(nil), m.Flags...)

	var stack []merkleNode
	var matched []chainhash.Hash

	msb := nextPowerOfTwo(m.Transactions)
	pos := (msb << 1) - 2

	var bit uint8
	for {
		tip := len(stack) - 1
		if tip == 0 && stack[0].h != nil {
			if stack[0].h.IsEqual(&m.Header.MerkleRoot) {
				return matched, nil
			}
			return nil, fmt.Errorf("p2p: merkleblock root mismatch: computed %s want %s",
				stack[0].h, m.Header.MerkleRoot)
		}

		if inDeadZone(pos, m.Transactions) {
			parent, err := makeMerkleParent(stack[tip].h, nil)
			if err != nil {
				return nil, err
			}
			stack[tip-1].h = parent
			stack = stack[:tip]
			pos = stack[tip-1].p | 1
			continue
		}

		if tip > 1 && stack[tip-1].h != nil && stack[tip].h != nil {
			parent, err := makeMerkleParent(stack[tip-1].h, stack[tip].h)
			if err != nil {
				return nil, err
			}
			stack[tip-2].h = parent
			stack = stack[:tip-1]
			pos = stack[tip-2].p | 1
			continue
		}

		if len(hashes) == 0 {
			return nil, fmt.Errorf("p2p: ran out of hashes at position %d", pos)
		}
		if len(flags) == 0 {
			return nil, fmt.Errorf("p2p: ran out of flag bits")
		}

		n := merkleNode{p: pos}
		if pos&msb != 0 {
			// Upper, non-leaf row.
			if flags[0]&(1<<bit) == 0 {
				n.h = hashes[0]
				hashes = hashes[1:]
				if pos&1 != 0 {
					pos = pos>>1 | msb
				} else {
					pos |= 1
				}
			} else {
				pos = (pos ^ msb) << 1
			}
			stack = append(stack, n)
		} else {
			// Leaf row: a txid, flagged if it matched the filter.
			if pos >= m.Transactions {
				return nil, fmt.Errorf("p2p: walked into an invalid txid position")
			}
			n.h = hashes[0]
			hashes = hashes[1:]
			if flags[0]&(1<<bit) != 0 {
				matched = append(matched, *n.h)
			}
			if pos&1 == 0 {
				pos |= 1
			}
			stack = append(stack, n)
		}

		bit++
		if bit == 8 {
			bit = 0
			flags = flags[1:]
		}
	}
}
