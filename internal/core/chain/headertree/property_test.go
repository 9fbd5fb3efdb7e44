package headertree

import (
	"testing"

	"github.com/holiman/uint256"
	"pgregory.net/rapid"

	"github.com/weisyn/permnode/pkg/types"
)

// buildRandomTree 随机生成多条从已有节点分叉出的分支
func buildRandomTree(t *rapid.T) (*Tree, []*ChainedHeader) {
	g := genesisHeader()
	tree, err := New(g, nil)
	if err != nil {
		t.Fatalf("new tree: %v", err)
	}
	all := []*ChainedHeader{tree.Genesis()}

	branches := rapid.IntRange(1, 6).Draw(t, "branches")
	for b := 0; b < branches; b++ {
		parent := all[rapid.IntRange(0, len(all)-1).Draw(t, "fork")]
		length := rapid.IntRange(1, 8).Draw(t, "length")
		cur := parent.Header()
		for i := 0; i < length; i++ {
			d := rapid.Uint64Range(1, 4).Draw(t, "difficulty")
			next := child(cur, d, int64(b*100+i))
			ch, err := tree.InsertHeader(next, "")
			if err != nil {
				t.Fatalf("insert: %v", err)
			}
			all = append(all, ch)
			cur = next
		}
	}
	return tree, all
}

// attachAll 以随机顺序挂载全部区块体，模拟乱序到达
func attachAll(t *rapid.T, tree *Tree, all []*ChainedHeader) {
	for _, h := range rapid.Permutation(all[1:]).Draw(t, "arrival") {
		if err := tree.AttachBlock(h.Hash(), &types.Block{Header: h.Header()}); err != nil {
			t.Fatalf("attach: %v", err)
		}
	}
}

// 最优候选的权重不小于任何有效区块头；同权重时插入序最小；重复调用结果相同
func TestBestCandidate_ChainWorkDeterminism(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tree, all := buildRandomTree(t)

		best := tree.BestCandidate()
		for _, h := range all {
			c := h.ChainWork().Cmp(best.ChainWork())
			if c > 0 {
				t.Fatalf("header %s has more work than best %s", h.Hash().Short(), best.Hash().Short())
			}
			if c == 0 && h.Seq() < best.Seq() {
				t.Fatalf("equal-work header %s was seen earlier than best", h.Hash().Short())
			}
		}
		for i := 0; i < 3; i++ {
			if again := tree.BestCandidate(); again != best {
				t.Fatalf("best candidate not stable: %s vs %s", again.Hash().Short(), best.Hash().Short())
			}
		}

		// 区块体齐全后，可连接候选的首位与最优候选一致
		attachAll(t, tree, all)
		cands := tree.ConnectableCandidates(uint256.NewInt(0))
		if len(cands) == 0 || cands[0] != best {
			t.Fatalf("connectable candidates do not start with best %s", best.Hash().Short())
		}
		for i := 1; i < len(cands); i++ {
			if workBetter(cands[i], cands[i-1]) {
				t.Fatalf("connectable candidates out of order at %d", i)
			}
		}

		// 链权重等于沿路径的难度之和
		for _, h := range all {
			sum := uint256.NewInt(0)
			cur := h
			for {
				sum.Add(sum, uint256.NewInt(cur.Header().Difficulty))
				p, ok := tree.Parent(cur)
				if !ok {
					break
				}
				cur = p
			}
			if sum.Cmp(h.ChainWork()) != 0 {
				t.Fatalf("chain work mismatch at %s", h.Hash().Short())
			}
		}
	})
}

// 被标记无效的区块头及其后代永远不会成为最优候选
func TestBestCandidate_PermanentInvalidation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tree, all := buildRandomTree(t)
		if len(all) < 2 {
			return
		}

		attachAll(t, tree, all)
		marks := rapid.IntRange(1, 3).Draw(t, "marks")
		invalid := make(map[types.Hash]bool)
		for i := 0; i < marks; i++ {
			target := all[rapid.IntRange(1, len(all)-1).Draw(t, "target")]
			for _, h := range tree.MarkInvalid(target) {
				invalid[h] = true
			}
			invalid[target.Hash()] = true

			// 在无效分支上继续插入更重的区块头也无法使其复活
			heavy := child(target.Header(), 1_000, int64(i+7_000))
			if _, err := tree.InsertHeader(heavy, ""); err == nil {
				t.Fatalf("insert on invalid branch succeeded")
			}

			best := tree.BestCandidate()
			for cur, ok := best, true; ok; cur, ok = tree.Parent(cur) {
				if invalid[cur.Hash()] {
					t.Fatalf("best candidate %s descends from invalid %s", best.Hash().Short(), cur.Hash().Short())
				}
			}
			cands := tree.ConnectableCandidates(uint256.NewInt(0))
			if len(cands) == 0 || cands[0] != best {
				t.Fatalf("connectable candidates do not start with best %s", best.Hash().Short())
			}
			for _, c := range cands {
				if invalid[c.Hash()] {
					t.Fatalf("invalid header %s listed as candidate", c.Hash().Short())
				}
			}
		}
	})
}
