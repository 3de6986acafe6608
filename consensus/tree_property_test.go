package consensus

import (
	"fmt"
	"testing"

	"pgregory.net/rapid"
)

// TestTreeInvariantsUnderRandomOperations drives a Tree through random
// sequences of offer/reject/remove/prune calls and checks structural
// invariants that must hold no matter what sequence produced the current
// state: the root is never lost, the favoured set is exactly the root..tip
// path, the leaf set matches the actual childless blocks, and every
// non-root block's parent is still present.
func TestTreeInvariantsUnderRandomOperations(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		k := rapid.Uint64Range(1, 6).Draw(rt, "k")
		tr, _ := newTestTree(k)
		root := mustSetRootRapid(rt, tr)

		n := rapid.IntRange(5, 60).Draw(rt, "ops")
		nextLabel := 0
		for i := 0; i < n; i++ {
			switch rapid.IntRange(0, 3).Draw(rt, "action") {
			case 0:
				parent := pickHash(rt, tr, root)
				parentRec := tr.blocks[parent]
				nextLabel++
				h := hashOf(fmt.Sprintf("op-block-%d", nextLabel))
				_, err := tr.CheckBlockWanted(h, parent, parentRec.Number+1, Slot(parentRec.Number+1))
				_ = err // forkDepth/validation rejections are expected outcomes, not failures
			case 1:
				h := pickHash(rt, tr, root)
				if h != root {
					_, _ = tr.MarkRejected(h)
				}
			case 2:
				h := pickHash(rt, tr, root)
				if h != root {
					_, _ = tr.RemoveBlock(h)
				}
			case 3:
				_ = tr.Prune()
			}
			checkTreeInvariants(rt, tr)
		}
	})
}

func mustSetRootRapid(rt *rapid.T, tr *Tree) BlockHash {
	h := hashOf("op-root")
	if err := tr.SetRoot(h, 0, 0); err != nil {
		rt.Fatalf("SetRoot: %v", err)
	}
	return h
}

// pickHash returns a deterministically-iterated (but rapid-seeded) member
// of tr's current block set, falling back to root if the map is somehow
// empty.
func pickHash(rt *rapid.T, tr *Tree, root BlockHash) BlockHash {
	hashes := make([]BlockHash, 0, len(tr.blocks))
	for h := range tr.blocks {
		hashes = append(hashes, h)
	}
	if len(hashes) == 0 {
		return root
	}
	idx := rapid.IntRange(0, len(hashes)-1).Draw(rt, "pick")
	return hashes[idx]
}

func checkTreeInvariants(rt *rapid.T, tr *Tree) {
	rootRec, ok := tr.blocks[tr.root]
	if !ok {
		rt.Fatalf("root %s missing from blocks", tr.root)
	}
	if !rootRec.IsRoot {
		rt.Fatalf("block at tr.root is not marked IsRoot")
	}

	for h, rec := range tr.blocks {
		if rec.IsRoot {
			continue
		}
		if _, ok := tr.blocks[rec.Parent]; !ok {
			rt.Fatalf("block %s has dangling parent %s", h, rec.Parent)
		}
	}

	wantFavoured := map[BlockHash]struct{}{}
	for cur := tr.favouredTip; ; {
		wantFavoured[cur] = struct{}{}
		rec, ok := tr.blocks[cur]
		if !ok {
			rt.Fatalf("favoured tip chain references missing block %s", cur)
		}
		if rec.IsRoot {
			break
		}
		cur = rec.Parent
	}
	if len(wantFavoured) != len(tr.favouredSet) {
		rt.Fatalf("favouredSet size %d, want %d", len(tr.favouredSet), len(wantFavoured))
	}
	for h := range wantFavoured {
		if _, ok := tr.favouredSet[h]; !ok {
			rt.Fatalf("favouredSet missing expected member %s", h)
		}
	}

	leafCount := 0
	tr.leaves.Ascend(func(item leafItem) bool {
		leafCount++
		rec, ok := tr.blocks[item.Hash]
		if !ok {
			rt.Fatalf("leaf set references missing block %s", item.Hash)
		}
		if len(rec.Children) != 0 {
			rt.Fatalf("leaf set contains non-leaf block %s (has %d children)", item.Hash, len(rec.Children))
		}
		return true
	})
	for h, rec := range tr.blocks {
		if len(rec.Children) == 0 {
			found := false
			tr.leaves.Ascend(func(item leafItem) bool {
				if item.Hash == h {
					found = true
					return false
				}
				return true
			})
			if !found {
				rt.Fatalf("childless block %s missing from leaf set", h)
			}
		}
	}
}
