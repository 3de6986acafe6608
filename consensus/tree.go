package consensus

import (
	"crypto/sha256"
	"fmt"

	"github.com/google/btree"

	"github.com/blinklabs-io/acropolis/internal/xlog"
	"github.com/blinklabs-io/acropolis/internal/xmath"
)

// Hasher derives a BlockHash from a block's body bytes, used by AddBlock to
// identify which Wanted record a delivered body belongs to.
// Cryptographic hashing itself is assumed available; the
// tree only pins which algorithm to use.
type Hasher func(body []byte) BlockHash

// Sha256Hasher is the default Hasher.
func Sha256Hasher(body []byte) BlockHash { return BlockHash(sha256.Sum256(body)) }

// leafItem orders the tree's leaf set by (Number, Hash) so the deepest leaf
// is always the btree's maximum, with hash bytes as a deterministic
// tie-breaker between equal-height leaves.
type leafItem struct {
	Number BlockNumber
	Hash   BlockHash
}

func lessLeaf(a, b leafItem) bool {
	if a.Number != b.Number {
		return a.Number < b.Number
	}
	for i := range a.Hash {
		if a.Hash[i] != b.Hash[i] {
			return a.Hash[i] < b.Hash[i]
		}
	}
	return false
}

// Tree is the volatile-window fork tracker. It is not internally
// synchronised: every public method must be called from a single
// logical owner, single-threaded.
type Tree struct {
	k        uint64
	observer Observer
	hash     Hasher
	log      *xlog.Logger

	blocks      map[BlockHash]*BlockRecord
	root        BlockHash
	favouredTip BlockHash
	favouredSet map[BlockHash]struct{}
	leaves      *btree.BTreeG[leafItem]

	// rejected remembers recently rejected hashes so a peer re-offering a
	// just-rejected block fails fast without re-walking the tree. It is a
	// pure performance aid; ForkTooDeep/ParentNotFound would eventually
	// catch the same block anyway once its ancestors are gone.
	rejected *rejectionCache
}

// NewTree constructs an empty Tree. Call SetRoot before any other
// operation. k is the Praos security parameter bounding the volatile
// window and the maximum admissible fork depth.
func NewTree(k uint64, observer Observer, hasher Hasher, logger *xlog.Logger) *Tree {
	if observer == nil {
		observer = NoopObserver{}
	}
	if hasher == nil {
		hasher = Sha256Hasher
	}
	if logger == nil {
		logger = xlog.New("consensustree")
	}
	return &Tree{
		k:        k,
		observer: observer,
		hash:     hasher,
		log:      logger,
		blocks:   make(map[BlockHash]*BlockRecord),
		leaves:   btree.NewG(32, lessLeaf),
		rejected: newRejectionCache(4096),
	}
}

// K returns the tree's configured security parameter.
func (t *Tree) K() uint64 { return t.k }

// Root returns the current root hash and number.
func (t *Tree) Root() (BlockHash, BlockNumber) {
	rec := t.blocks[t.root]
	return t.root, rec.Number
}

// FavouredTip returns the current favoured chain's tip hash and number.
func (t *Tree) FavouredTip() (BlockHash, BlockNumber) {
	rec := t.blocks[t.favouredTip]
	return t.favouredTip, rec.Number
}

// Len reports how many blocks the tree currently holds.
func (t *Tree) Len() int { return len(t.blocks) }

// Status reports a block's lifecycle status.
func (t *Tree) Status(hash BlockHash) (Status, bool) {
	rec, ok := t.blocks[hash]
	if !ok {
		return 0, false
	}
	return rec.Status, true
}

// Has reports whether hash is currently known to the tree.
func (t *Tree) Has(hash BlockHash) bool {
	_, ok := t.blocks[hash]
	return ok
}

// Body returns the stored body bytes for a Fetched or Validated block.
func (t *Tree) Body(hash BlockHash) ([]byte, bool) {
	rec, ok := t.blocks[hash]
	if !ok || rec.Body == nil {
		return nil, false
	}
	return rec.Body, true
}

// WasRecentlyRejected reports whether hash was rejected by MarkRejected
// within the cache's retention window. It is a caller-side fast-fail hint
// only — CheckBlockWanted does not consult it, since a rejected block's
// ancestors may still be present and a re-offer through them is legal —
// so a caller wanting to skip redundant network fetches can check this
// first without changing what CheckBlockWanted itself would decide.
func (t *Tree) WasRecentlyRejected(hash BlockHash) bool {
	return t.rejected.contains(hash)
}

// SetRoot initialises an empty tree with its oldest retained block. The
// root is treated as implicitly validated: it never fires block_proposed
// (see DESIGN.md for the reasoning).
func (t *Tree) SetRoot(hash BlockHash, number BlockNumber, slot Slot) error {
	if len(t.blocks) != 0 {
		return ErrRootAlreadySet
	}
	rec := newBlockRecord(hash, BlockHash{}, number, slot, true)
	rec.Status = Validated
	rec.proposed = true
	t.blocks[hash] = rec
	t.root = hash
	t.favouredTip = hash
	t.favouredSet = map[BlockHash]struct{}{hash: {}}
	t.leaves.ReplaceOrInsert(leafItem{number, hash})
	t.log.Info("root set", "hash", hash, "number", number)
	return nil
}

// CheckBlockWanted registers an offered block. It returns the
// hashes that became Wanted as a result, in ascending block-number order.
// The three refusal reasons below are exhaustive: a recently rejected hash
// whose ancestors are still present is accepted on re-offer exactly like
// any other candidate (see WasRecentlyRejected for a caller-side fast-fail
// check that does not change this operation's own outcome).
func (t *Tree) CheckBlockWanted(hash, parentHash BlockHash, number BlockNumber, slot Slot) ([]BlockHash, error) {
	if _, exists := t.blocks[hash]; exists {
		return nil, nil // already present: idempotent no-op
	}
	parent, ok := t.blocks[parentHash]
	if !ok {
		return nil, &ParentNotFoundError{Parent: parentHash}
	}
	if number != parent.Number+1 {
		return nil, &InvalidBlockNumberError{Hash: hash, Got: number, Expected: parent.Number + 1}
	}
	depth, accepted := t.forkDepth(parentHash)
	if !accepted {
		return nil, &ForkTooDeepError{Hash: hash, Depth: depth, K: t.k}
	}

	rec := newBlockRecord(hash, parentHash, number, slot, false)
	t.blocks[hash] = rec
	t.linkChild(parentHash, hash)

	wanted, err := t.evaluateFavouredChain(hash)
	if err != nil {
		return wanted, err
	}
	t.log.Debug("block offered", "hash", hash, "number", number, "status", rec.Status)
	return wanted, nil
}

// AddBlock delivers a Wanted block's body, deriving its hash from the body
// bytes.
func (t *Tree) AddBlock(body []byte) error {
	hash := t.hash(body)
	rec, ok := t.blocks[hash]
	if !ok {
		return &BlockNotInTreeError{Hash: hash}
	}
	if rec.Status == Fetched || rec.Status == Validated {
		return nil // idempotent no-op
	}
	if rec.Status != Wanted {
		return fmt.Errorf("consensus: block %s is not Wanted (status %s)", hash, rec.Status)
	}
	rec.Body = body
	rec.Status = Fetched

	if _, onFavoured := t.favouredSet[hash]; !onFavoured {
		// The block fell off the favoured chain between becoming Wanted
		// and its body arriving (a reorg raced the delivery); store the
		// body but do not propose, since the Observer contract requires
		// block_proposed only along the currently favoured chain.
		return nil
	}
	if parent, ok := t.blocks[rec.Parent]; ok && !parent.proposed {
		// An earlier favoured-chain block has not been proposed yet (its
		// body is still missing): this block waits until that gap fills.
		return nil
	}
	return t.proposeContiguousFrom(hash)
}

// proposeContiguousFrom fires block_proposed for hash and then for every
// contiguous already-Fetched, not-yet-proposed block along the favoured
// chain, stopping at the first gap.
func (t *Tree) proposeContiguousFrom(hash BlockHash) error {
	cur := hash
	for {
		rec := t.blocks[cur]
		if rec.Status != Fetched || rec.proposed {
			return nil
		}
		if err := t.observer.BlockProposed(rec.Number, rec.Hash, rec.Body); err != nil {
			return fmt.Errorf("consensus: block_proposed observer: %w", err)
		}
		rec.proposed = true
		next, ok := t.nextOnFavouredChain(cur)
		if !ok {
			return nil
		}
		cur = next
	}
}

// MarkValidated records validator success.
func (t *Tree) MarkValidated(hash BlockHash) error {
	rec, ok := t.blocks[hash]
	if !ok {
		return &BlockNotInTreeError{Hash: hash}
	}
	if rec.Status == Validated {
		return nil // idempotent no-op
	}
	if rec.Status != Fetched {
		return fmt.Errorf("consensus: cannot validate block %s in status %s", hash, rec.Status)
	}
	rec.Status = Validated
	return nil
}

// MarkRejected records validator failure: fires
// block_rejected, then removes the block and its descendants, then
// re-evaluates the favoured chain exactly as CheckBlockWanted would.
func (t *Tree) MarkRejected(hash BlockHash) ([]BlockHash, error) {
	if _, ok := t.blocks[hash]; !ok {
		return nil, &BlockNotInTreeError{Hash: hash}
	}
	if err := t.observer.BlockRejected(hash); err != nil {
		return nil, fmt.Errorf("consensus: block_rejected observer: %w", err)
	}
	t.rejected.add(hash)
	t.removeSubtree(hash)
	t.log.Info("block rejected", "hash", hash)
	return t.reevaluateAfterRemoval()
}

// RemoveBlock rescinds a previously offered block:
// equivalent to MarkRejected minus the block_rejected notification.
func (t *Tree) RemoveBlock(hash BlockHash) ([]BlockHash, error) {
	if _, ok := t.blocks[hash]; !ok {
		return nil, &BlockNotInTreeError{Hash: hash}
	}
	t.removeSubtree(hash)
	return t.reevaluateAfterRemoval()
}

// Prune removes every record older than the volatile window and any fork
// branches rooted at or before the new root that are off the favoured
// chain. It never removes the favoured tip.
func (t *Tree) Prune() error {
	_, tipNumber := t.FavouredTip()
	_, rootNumber := t.Root()
	newRootNumber := BlockNumber(xmath.SaturatingSub(uint64(tipNumber), t.k))
	if newRootNumber <= rootNumber {
		return nil // within the volatile window already; no-op
	}
	cur := t.favouredTip
	for t.blocks[cur].Number > newRootNumber {
		cur = t.blocks[cur].Parent
	}
	newRootHash := cur

	// newRootHash itself is always kept, along with the full subtree under
	// whichever of its children sits on the favoured chain. Any other
	// child of newRootHash forks at the new root itself rather than
	// before it, and spec §4.1 op 7 requires those off-favoured branches
	// dropped too, not just ones rooted deeper than the new root.
	keep := make(map[BlockHash]struct{}, len(t.blocks))
	keep[newRootHash] = struct{}{}
	for child := range t.blocks[newRootHash].Children {
		if _, onFavoured := t.favouredSet[child]; onFavoured {
			t.markKeep(child, keep)
		} else {
			delete(t.blocks[newRootHash].Children, child)
		}
	}

	for hash, rec := range t.blocks {
		if _, ok := keep[hash]; ok {
			continue
		}
		delete(t.blocks, hash)
		t.leaves.Delete(leafItem{rec.Number, hash})
	}

	newRootRec := t.blocks[newRootHash]
	newRootRec.IsRoot = true
	newRootRec.Parent = BlockHash{}
	t.root = newRootHash
	t.rebuildFavouredSet()
	t.log.Debug("pruned", "new root", newRootHash, "new root number", newRootNumber)
	return nil
}

func (t *Tree) markKeep(hash BlockHash, keep map[BlockHash]struct{}) {
	keep[hash] = struct{}{}
	rec := t.blocks[hash]
	for child := range rec.Children {
		t.markKeep(child, keep)
	}
}

// forkDepth walks the parent chain from parentHash toward the favoured
// chain, bounded by k+1 steps. It reports the depth at which a common
// ancestor was found and whether that depth is within the admissible
// bound (<= k).
func (t *Tree) forkDepth(parentHash BlockHash) (depth uint64, accepted bool) {
	cur := parentHash
	for d := uint64(1); d <= t.k; d++ {
		if _, onChain := t.favouredSet[cur]; onChain {
			return d, true
		}
		cur = t.blocks[cur].Parent
	}
	if _, onChain := t.favouredSet[cur]; onChain {
		return t.k + 1, false
	}
	return t.k + 1, false
}

// evaluateFavouredChain decides whether inserting candidateHash extends or
// switches the favoured chain.
func (t *Tree) evaluateFavouredChain(candidateHash BlockHash) ([]BlockHash, error) {
	cand := t.blocks[candidateHash]
	_, tipNumber := t.FavouredTip()
	if cand.Number <= tipNumber {
		cand.Status = Offered
		return nil, nil
	}

	oldTip := t.favouredTip
	ancestorHash := t.commonAncestor(oldTip, candidateHash)
	if ancestorHash == oldTip {
		// Pure linear extension: the new block's parent chain already
		// passes through the current tip, so there is nothing to undo
		// and no rollback fires (a pure linear extension).
		cand.Status = Wanted
		t.favouredTip = candidateHash
		t.favouredSet[candidateHash] = struct{}{}
		return []BlockHash{candidateHash}, nil
	}
	return t.performSwitch(ancestorHash, candidateHash)
}

// performSwitch applies a favoured-chain switch to newTipHash whose common
// ancestor with the previous tip is ancestorHash: it updates the tip and
// favoured-chain set, promotes Offered blocks on the new chain to Wanted,
// fires Rollback, then fires BlockProposed for every contiguous
// already-Fetched block in ascending order.
func (t *Tree) performSwitch(ancestorHash, newTipHash BlockHash) ([]BlockHash, error) {
	path := t.pathFromExclusive(ancestorHash, newTipHash)

	t.favouredTip = newTipHash
	t.rebuildFavouredSet()

	var newlyWanted []BlockHash
	for _, h := range path {
		rec := t.blocks[h]
		if rec.Status == Offered {
			rec.Status = Wanted
			newlyWanted = append(newlyWanted, h)
		}
	}

	ancestorNumber := t.blocks[ancestorHash].Number
	if err := t.observer.Rollback(ancestorNumber); err != nil {
		return newlyWanted, fmt.Errorf("consensus: rollback observer: %w", err)
	}

	for _, h := range path {
		rec := t.blocks[h]
		if rec.Status != Fetched || rec.proposed {
			break
		}
		if err := t.observer.BlockProposed(rec.Number, rec.Hash, rec.Body); err != nil {
			return newlyWanted, fmt.Errorf("consensus: block_proposed observer: %w", err)
		}
		rec.proposed = true
	}
	return newlyWanted, nil
}

// reevaluateAfterRemoval re-derives the favoured tip after a removal and,
// if it changed, drives the same switch machinery CheckBlockWanted uses.
// Unlike insertion, any tip change caused by removal always fires
// Rollback: removal can only shorten or divert the favoured chain, never
// purely extend it.
func (t *Tree) reevaluateAfterRemoval() ([]BlockHash, error) {
	deepest, ok := t.leaves.Max()
	if !ok {
		return nil, nil // unreachable: the root is always at least a leaf
	}
	if oldTipRec, alive := t.blocks[t.favouredTip]; alive {
		if deepest.Number <= oldTipRec.Number {
			return nil, nil
		}
	}
	ancestorHash := t.walkToFavouredSet(deepest.Hash)
	return t.performSwitch(ancestorHash, deepest.Hash)
}

// walkToFavouredSet walks hash's parent chain until it finds a member of
// the (pre-mutation) favoured-chain set, which always succeeds because the
// root is never removed and is always a favoured-chain member.
func (t *Tree) walkToFavouredSet(hash BlockHash) BlockHash {
	cur := hash
	for {
		if _, onChain := t.favouredSet[cur]; onChain {
			return cur
		}
		cur = t.blocks[cur].Parent
	}
}

// commonAncestor returns the deepest block present on both aHash's and
// bHash's ancestor chains: walk the higher one up to the lower one's
// height, then walk both in lockstep until the hashes coincide.
func (t *Tree) commonAncestor(aHash, bHash BlockHash) BlockHash {
	a := t.blocks[aHash]
	b := t.blocks[bHash]
	for a.Number > b.Number {
		a = t.blocks[a.Parent]
	}
	for b.Number > a.Number {
		b = t.blocks[b.Parent]
	}
	for a.Hash != b.Hash {
		a = t.blocks[a.Parent]
		b = t.blocks[b.Parent]
	}
	return a.Hash
}

// pathFromExclusive returns the hashes strictly after ancestorHash up to
// and including tipHash, in ascending block-number order.
func (t *Tree) pathFromExclusive(ancestorHash, tipHash BlockHash) []BlockHash {
	var rev []BlockHash
	for cur := tipHash; cur != ancestorHash; {
		rev = append(rev, cur)
		cur = t.blocks[cur].Parent
	}
	for i, j := 0, len(rev)-1; i < j; i, j = i+1, j-1 {
		rev[i], rev[j] = rev[j], rev[i]
	}
	return rev
}

// rebuildFavouredSet recomputes the set of hashes on the root..favouredTip
// path. Walking the chain is bounded by the volatile window length (at
// most k+1 blocks once Prune has run).
func (t *Tree) rebuildFavouredSet() {
	set := make(map[BlockHash]struct{})
	for cur := t.favouredTip; ; {
		set[cur] = struct{}{}
		rec := t.blocks[cur]
		if rec.IsRoot {
			break
		}
		cur = rec.Parent
	}
	t.favouredSet = set
}

// nextOnFavouredChain returns hash's unique child on the favoured chain, if
// any.
func (t *Tree) nextOnFavouredChain(hash BlockHash) (BlockHash, bool) {
	rec := t.blocks[hash]
	for child := range rec.Children {
		if _, on := t.favouredSet[child]; on {
			return child, true
		}
	}
	return BlockHash{}, false
}

// linkChild attaches childHash under parentHash, maintaining the leaf
// btree: parentHash stops being a leaf (if it was one) and childHash
// starts as one.
func (t *Tree) linkChild(parentHash, childHash BlockHash) {
	parent := t.blocks[parentHash]
	wasLeaf := len(parent.Children) == 0
	parent.Children[childHash] = struct{}{}
	if wasLeaf {
		t.leaves.Delete(leafItem{parent.Number, parentHash})
	}
	child := t.blocks[childHash]
	t.leaves.ReplaceOrInsert(leafItem{child.Number, childHash})
}

// unlinkChild detaches childHash from parentHash, re-adding parentHash to
// the leaf set if it has no other children left.
func (t *Tree) unlinkChild(parentHash, childHash BlockHash) {
	parent, ok := t.blocks[parentHash]
	if !ok {
		return
	}
	delete(parent.Children, childHash)
	if len(parent.Children) == 0 {
		t.leaves.ReplaceOrInsert(leafItem{parent.Number, parentHash})
	}
}

// removeSubtree deletes hash and every descendant, post-order, then
// unlinks hash from its parent. Complexity is O(subtree size).
func (t *Tree) removeSubtree(hash BlockHash) {
	rec, ok := t.blocks[hash]
	if !ok {
		return
	}
	for child := range rec.Children {
		t.removeSubtree(child)
	}
	delete(t.blocks, hash)
	t.leaves.Delete(leafItem{rec.Number, hash})
	if !rec.IsRoot {
		t.unlinkChild(rec.Parent, hash)
	}
}
