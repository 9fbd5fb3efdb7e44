package headertree

import (
	"fmt"
	"sort"
	"sync"

	"github.com/holiman/uint256"

	"github.com/weisyn/permnode/pkg/types"
)

// Tree 区块头树
//
// 读操作并发；插入与挂载区块体为短写临界区；MarkInvalid 与 PruneBelow 独占整棵树。
type Tree struct {
	mu       sync.RWMutex
	headers  map[types.Hash]*ChainedHeader
	children map[types.Hash][]types.Hash
	genesis  *ChainedHeader
	nextSeq  uint64

	// frontier 带 StatusChainData 且没有带该状态子节点的区块头
	frontier map[types.Hash]*ChainedHeader
}

// New 以创世区块头创建树；genesisBlock 可为 nil
func New(genesis *types.BlockHeader, genesisBlock *types.Block) (*Tree, error) {
	hash, err := genesis.Hash()
	if err != nil {
		return nil, fmt.Errorf("hash genesis header: %w", err)
	}
	if genesis.Height != 0 || !genesis.PrevHash.IsZero() {
		return nil, fmt.Errorf("genesis header must have height 0 and zero previous hash")
	}

	g := &ChainedHeader{
		height: 0,
		hash:   hash,
		work:   uint256.NewInt(genesis.Difficulty),
		header: genesis.Clone(),
	}
	g.setStatus(StatusDataStored | StatusPrevalidated | StatusChainData)
	if genesisBlock != nil {
		g.block.Store(genesisBlock)
	}

	t := &Tree{
		headers:  map[types.Hash]*ChainedHeader{hash: g},
		children: make(map[types.Hash][]types.Hash),
		genesis:  g,
		nextSeq:  1,
		frontier: map[types.Hash]*ChainedHeader{hash: g},
	}
	return t, nil
}

// Genesis 创世区块头
func (t *Tree) Genesis() *ChainedHeader { return t.genesis }

// InsertHeader 插入区块头
//
// 重复插入返回已有节点。前序未知返回 UnknownPreviousHeader；
// 前序已无效或高度不连续返回 HeaderInvalid。区块头规则由调用方在插入前执行。
func (t *Tree) InsertHeader(header *types.BlockHeader, peer string) (*ChainedHeader, error) {
	hash, err := header.Hash()
	if err != nil {
		return nil, types.NewConsensusError(types.KindHeaderInvalid, "header encoding failed").WithBlock(header.Height, hash)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.headers[hash]; ok {
		if existing.IsInvalid() {
			return existing, types.NewConsensusError(types.KindHeaderInvalid, "header is marked invalid").
				WithBlock(existing.height, hash)
		}
		return existing, nil
	}

	parent, ok := t.headers[header.PrevHash]
	if !ok {
		ce := types.NewConsensusError(types.KindUnknownPreviousHeader, "previous header "+header.PrevHash.Short()+" is unknown")
		return nil, ce.WithBlock(header.Height, hash)
	}
	if parent.IsInvalid() {
		return nil, types.NewConsensusError(types.KindHeaderInvalid, "previous header is invalid").WithBlock(header.Height, hash)
	}
	if header.Height != parent.height+1 {
		return nil, types.NewConsensusError(types.KindHeaderInvalid,
			fmt.Sprintf("height %d does not follow parent height %d", header.Height, parent.height)).WithBlock(header.Height, hash)
	}

	work := new(uint256.Int).Add(parent.work, uint256.NewInt(header.Difficulty))
	ch := &ChainedHeader{
		height: header.Height,
		hash:   hash,
		prev:   header.PrevHash,
		work:   work,
		header: header.Clone(),
		peer:   peer,
		seq:    t.nextSeq,
	}
	t.nextSeq++

	t.headers[hash] = ch
	t.children[parent.hash] = append(t.children[parent.hash], hash)
	return ch, nil
}

// Get 按哈希查找
func (t *Tree) Get(hash types.Hash) (*ChainedHeader, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.headers[hash]
	return h, ok
}

// Contains 是否已知该哈希
func (t *Tree) Contains(hash types.Hash) bool {
	_, ok := t.Get(hash)
	return ok
}

// Parent 返回父节点，创世区块或父节点已剪枝时返回 false
func (t *Tree) Parent(h *ChainedHeader) (*ChainedHeader, bool) {
	if h.height == 0 {
		return nil, false
	}
	return t.Get(h.prev)
}

// Children 返回直接子节点哈希（副本）
func (t *Tree) Children(hash types.Hash) []types.Hash {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]types.Hash(nil), t.children[hash]...)
}

// Len 已知区块头数量
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.headers)
}

// Ancestor 返回 h 在 height 高度上的祖先（含自身）
func (t *Tree) Ancestor(h *ChainedHeader, height uint32) (*ChainedHeader, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ancestorLocked(h, height)
}

func (t *Tree) ancestorLocked(h *ChainedHeader, height uint32) (*ChainedHeader, error) {
	if height > h.height {
		return nil, fmt.Errorf("ancestor height %d above header height %d", height, h.height)
	}
	cur := h
	for cur.height > height {
		parent, ok := t.headers[cur.prev]
		if !ok {
			return nil, fmt.Errorf("ancestor of %s at height %d has been pruned", cur.hash.Short(), cur.height-1)
		}
		cur = parent
	}
	return cur, nil
}

// FindForkPoint 返回 a、b 的最近公共祖先
//
// 先把较高的一侧回退到同一高度，再同步回退，复杂度为较长分支的深度。
func (t *Tree) FindForkPoint(a, b *ChainedHeader) (*ChainedHeader, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var err error
	if a.height > b.height {
		if a, err = t.ancestorLocked(a, b.height); err != nil {
			return nil, err
		}
	} else if b.height > a.height {
		if b, err = t.ancestorLocked(b, a.height); err != nil {
			return nil, err
		}
	}

	for a.hash != b.hash {
		if a.height == 0 {
			return nil, fmt.Errorf("headers do not share a common ancestor")
		}
		pa, ok := t.headers[a.prev]
		if !ok {
			return nil, fmt.Errorf("ancestor of %s has been pruned", a.hash.Short())
		}
		pb, ok := t.headers[b.prev]
		if !ok {
			return nil, fmt.Errorf("ancestor of %s has been pruned", b.hash.Short())
		}
		a, b = pa, pb
	}
	return a, nil
}

// PathBetween 返回从 ancestor（不含）到 descendant（含）的升序路径
func (t *Tree) PathBetween(ancestor, descendant *ChainedHeader) ([]*ChainedHeader, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if descendant.height < ancestor.height {
		return nil, fmt.Errorf("descendant height %d below ancestor height %d", descendant.height, ancestor.height)
	}
	path := make([]*ChainedHeader, descendant.height-ancestor.height)
	cur := descendant
	for i := len(path) - 1; i >= 0; i-- {
		path[i] = cur
		parent, ok := t.headers[cur.prev]
		if !ok {
			return nil, fmt.Errorf("ancestor of %s has been pruned", cur.hash.Short())
		}
		cur = parent
	}
	if cur.hash != ancestor.hash {
		return nil, fmt.Errorf("%s is not an ancestor of %s", ancestor.hash.Short(), descendant.hash.Short())
	}
	return path, nil
}

// BestCandidate 返回未被标记无效的区块头中权重最大者；同权重时先插入者胜出
func (t *Tree) BestCandidate() *ChainedHeader {
	t.mu.RLock()
	defer t.mu.RUnlock()

	best := t.genesis
	for _, h := range t.headers {
		if h.IsInvalid() {
			continue
		}
		if workBetter(h, best) {
			best = h
		}
	}
	return best
}

// ConnectableCandidates 返回权重大于 minWork、且从创世区块起区块体齐全的有效区块头，
// 按（权重降序，插入序升序）排列
//
// 只检查 frontier：每个分支上可连接部分的最重区块头必在 frontier 上，或是 frontier 节点
// 被标记无效后最近的有效祖先。代价与分支数量成正比，与区块头总数无关。
func (t *Tree) ConnectableCandidates(minWork *uint256.Int) []*ChainedHeader {
	t.mu.RLock()
	seen := make(map[types.Hash]struct{}, len(t.frontier))
	var out []*ChainedHeader
	for _, h := range t.frontier {
		for h != nil && h.IsInvalid() {
			h = t.headers[h.prev]
		}
		if h == nil {
			continue
		}
		// 零难度区块不增加权重，同权重时更早插入的祖先胜出
		for h.height > 0 {
			parent, ok := t.headers[h.prev]
			if !ok || parent.work.Cmp(h.work) != 0 {
				break
			}
			h = parent
		}
		if h.work.Cmp(minWork) <= 0 {
			continue
		}
		if _, dup := seen[h.hash]; dup {
			continue
		}
		seen[h.hash] = struct{}{}
		out = append(out, h)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return workBetter(out[i], out[j]) })
	return out
}

// MarkInvalid 将 h 及其全部后代标记为无效，返回本次标记的哈希（h 在首位）
func (t *Tree) MarkInvalid(h *ChainedHeader) []types.Hash {
	t.mu.Lock()
	defer t.mu.Unlock()

	var marked []types.Hash
	queue := []types.Hash{h.hash}
	for len(queue) > 0 {
		hash := queue[0]
		queue = queue[1:]
		node, ok := t.headers[hash]
		if !ok {
			continue
		}
		if !node.IsInvalid() {
			node.setStatus(StatusInvalid)
			marked = append(marked, hash)
		}
		queue = append(queue, t.children[hash]...)
	}
	return marked
}

// AttachBlock 挂载区块体
func (t *Tree) AttachBlock(hash types.Hash, block *types.Block) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.headers[hash]
	if !ok {
		return types.NewConsensusError(types.KindUnknownBlock, "no header for block").WithBlock(0, hash)
	}
	h.block.Store(block)
	h.setStatus(StatusDataStored)
	if parent, ok := t.headers[h.prev]; ok && parent.HasChainData() {
		t.propagateChainDataLocked(h)
	}
	return nil
}

// propagateChainDataLocked 给 h 及其已有区块体的后代设置 StatusChainData，并维护 frontier
func (t *Tree) propagateChainDataLocked(h *ChainedHeader) {
	queue := []*ChainedHeader{h}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if node.HasChainData() {
			continue
		}
		node.setStatus(StatusChainData)
		delete(t.frontier, node.prev)
		t.frontier[node.hash] = node
		for _, child := range t.children[node.hash] {
			if c, ok := t.headers[child]; ok && c.HasBlock() {
				queue = append(queue, c)
			}
		}
	}
}

// SetStatus 追加状态位
func (t *Tree) SetStatus(hash types.Hash, bits Status) bool {
	h, ok := t.Get(hash)
	if !ok {
		return false
	}
	h.setStatus(bits)
	return true
}

// PruneBelow 删除高度低于 height 且 keep 返回 false 的区块头及其整个子树
//
// 被保留且低于 height 的节点释放区块体（活跃链区块由区块存储持久化）。返回删除的数量。
func (t *Tree) PruneBelow(height uint32, keep func(*ChainedHeader) bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	var roots []*ChainedHeader
	for _, h := range t.headers {
		if h.height >= height || h == t.genesis {
			continue
		}
		if keep(h) {
			if h.height > 0 {
				h.block.Store(nil)
			}
			continue
		}
		roots = append(roots, h)
	}

	removed := 0
	for _, root := range roots {
		if _, ok := t.headers[root.hash]; !ok {
			continue // 已随祖先一起删除
		}
		t.detachChildLocked(root.prev, root.hash)
		queue := []types.Hash{root.hash}
		for len(queue) > 0 {
			hash := queue[0]
			queue = queue[1:]
			if _, ok := t.headers[hash]; !ok {
				continue
			}
			queue = append(queue, t.children[hash]...)
			delete(t.children, hash)
			delete(t.headers, hash)
			delete(t.frontier, hash)
			removed++
		}
	}
	return removed
}

func (t *Tree) detachChildLocked(parent, child types.Hash) {
	kids := t.children[parent]
	for i, k := range kids {
		if k == child {
			t.children[parent] = append(kids[:i:i], kids[i+1:]...)
			break
		}
	}
	if len(t.children[parent]) == 0 {
		delete(t.children, parent)
	}
}
