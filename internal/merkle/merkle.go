// Package merkle builds the Merkle tree used to commit an entire
// batch of Roughtime requests to a single signature: one leaf per
// client nonce, hashed pairwise up to a single root, with an
// inclusion path handed back to each client alongside its leaf index.
//
// The leaf/node hash construction matches the one a verifying client
// walks in reverse when it checks its own inclusion proof; this
// package additionally builds the whole tree and extracts every
// client's path at once, rather than checking one given path.
package merkle

import "crypto/sha512"

// Size is the width, in bytes, of a Merkle node in this tree.
const Size = 32

// leaf computes the domain-separated leaf hash of a nonce.
func leaf(nonce [64]byte) [Size]byte {
	h := sha512.New()
	h.Write([]byte{0x00})
	h.Write(nonce[:])
	return truncate(h)
}

// node computes the domain-separated hash of an internal node from
// its two children.
func node(left, right [Size]byte) [Size]byte {
	h := sha512.New()
	h.Write([]byte{0x01})
	h.Write(left[:])
	h.Write(right[:])
	return truncate(h)
}

func truncate(h interface{ Sum([]byte) []byte }) [Size]byte {
	var out [Size]byte
	copy(out[:], h.Sum(nil))
	return out
}

// tree holds every level of a padded binary Merkle tree, leaves first.
// levels[0] is the leaves (after power-of-two duplicate padding),
// levels[len(levels)-1] is a single-element slice holding the root.
type tree struct {
	levels [][][Size]byte
}

// build constructs the full tree for a batch of nonces. A batch
// smaller than the next power of two has its last real leaf
// duplicated to fill the level, per the batch-responder's padding
// rule; Paths computed from this padded tree are byte-identical to
// what a ragged-tree implementation would produce.
func build(nonces [][64]byte) *tree {
	if len(nonces) == 0 {
		return &tree{levels: [][][Size]byte{{}}}
	}

	leaves := make([][Size]byte, len(nonces))
	for i, n := range nonces {
		leaves[i] = leaf(n)
	}
	width := 1
	for width < len(leaves) {
		width *= 2
	}
	for len(leaves) < width {
		leaves = append(leaves, leaves[len(leaves)-1])
	}

	t := &tree{levels: [][][Size]byte{leaves}}
	level := leaves
	for len(level) > 1 {
		next := make([][Size]byte, len(level)/2)
		for i := range next {
			next[i] = node(level[2*i], level[2*i+1])
		}
		t.levels = append(t.levels, next)
		level = next
	}
	return t
}

// Root computes the Merkle root over a batch of nonces, per the
// tree-shape and duplicate-padding rule.
func Root(nonces [][64]byte) [Size]byte {
	t := build(nonces)
	return t.levels[len(t.levels)-1][0]
}

// Paths computes, for every nonce in the batch, the sequence of
// sibling hashes from its leaf up to the root (lowest level first).
// Paths(nonces)[i] is the inclusion path for nonces[i]. For a
// single-element batch, the returned path is empty: the leaf is
// itself the root.
func Paths(nonces [][64]byte) [][][Size]byte {
	if len(nonces) == 0 {
		return nil
	}
	t := build(nonces)
	paths := make([][][Size]byte, len(nonces))
	for i := range nonces {
		idx := i
		var path [][Size]byte
		for lvl := 0; lvl < len(t.levels)-1; lvl++ {
			level := t.levels[lvl]
			var sibling [Size]byte
			if idx%2 == 0 {
				sibling = level[idx+1]
			} else {
				sibling = level[idx-1]
			}
			path = append(path, sibling)
			idx /= 2
		}
		paths[i] = path
	}
	return paths
}

// Verify checks the inclusion-proof law: starting from the leaf hash
// of nonce, walk up through path applying the sibling on the correct
// side according to the bit of index at that level, and check the
// result equals root.
func Verify(nonce [64]byte, index uint32, path [][Size]byte, root [Size]byte) bool {
	h := leaf(nonce)
	idx := index
	for _, sibling := range path {
		if idx&1 == 0 {
			h = node(h, sibling)
		} else {
			h = node(sibling, h)
		}
		idx >>= 1
	}
	return h == root
}
