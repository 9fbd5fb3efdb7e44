package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	consensusconfig "github.com/weisyn/permnode/internal/config/consensus"
	"github.com/weisyn/permnode/internal/core/chain/headertree"
	"github.com/weisyn/permnode/internal/core/chain/testutil"
	"github.com/weisyn/permnode/internal/core/chain/validation"
	"github.com/weisyn/permnode/internal/core/infrastructure/clock"
	"github.com/weisyn/permnode/internal/core/infrastructure/crypto/signature"
	logimpl "github.com/weisyn/permnode/internal/core/infrastructure/log"
	stateimpl "github.com/weisyn/permnode/internal/core/state"
	"github.com/weisyn/permnode/pkg/interfaces/state"
	"github.com/weisyn/permnode/pkg/types"
)

type fixture struct {
	b        *testutil.ChainBuilder
	tree     *headertree.Tree
	pipeline *validation.Pipeline
	repo     *stateimpl.Repository
	clock    *clock.MockClock
	genesis  *types.BlockHeader
}

func newFixture(t *testing.T, mutate func(*consensusconfig.ConsensusOptions)) *fixture {
	t.Helper()
	b := testutil.NewChainBuilder(t)
	opts := consensusconfig.New(nil).GetOptions()
	opts.AuthorizedValidators = []string{b.ValidatorHex()}
	opts.AuthorizedMembers = []string{b.MemberHex()}
	if mutate != nil {
		mutate(opts)
	}
	validators, err := signature.NewKeySet(opts.AuthorizedValidators)
	require.NoError(t, err)
	members, err := signature.NewKeySet(opts.AuthorizedMembers)
	require.NoError(t, err)

	clk := testutil.NewClockAfter(b.Genesis.Header.Timestamp)
	pipeline, err := BuildPipeline(Dependencies{
		Consensus:  opts,
		ChainID:    b.Chain.ChainID,
		Clock:      clk,
		Validators: validators,
		Members:    members,
	})
	require.NoError(t, err)

	tree, err := headertree.New(b.Genesis.Header, b.Genesis)
	require.NoError(t, err)

	repo := stateimpl.New(testutil.NewBadgerStore(t), nil, logimpl.NewNop())
	require.NoError(t, repo.Initialize(context.Background(), b.Genesis.Header.MustHash()))

	return &fixture{b: b, tree: tree, pipeline: pipeline, repo: repo, clock: clk, genesis: b.Genesis.Header}
}

func (f *fixture) contextFor(t *testing.T, block *types.Block) *validation.Context {
	t.Helper()
	parent, ok := f.tree.Get(block.Header.PrevHash)
	require.True(t, ok, "parent must be in the tree")
	return &validation.Context{
		Header: block.Header,
		Hash:   block.Header.MustHash(),
		Parent: parent,
		Block:  block,
		Clock:  f.clock,
		Peer:   "peer-a",
	}
}

// runFull 在父区块状态快照上执行 Full 阶段
func (f *fixture) runFull(t *testing.T, vc *validation.Context) ([]types.StateWrite, error) {
	t.Helper()
	ctx := context.Background()
	snap, err := f.repo.SnapshotAt(ctx, f.repo.TipHash())
	require.NoError(t, err)
	vc.State = snap
	err = f.pipeline.ValidateFull(ctx, vc)
	writes := snap.Writes()
	f.repo.Discard(snap)
	return writes, err
}

func requireRule(t *testing.T, err error, kind error, rule string) {
	t.Helper()
	require.Error(t, err)
	assert.ErrorIs(t, err, kind)
	ce, ok := types.AsConsensusError(err)
	require.True(t, ok)
	assert.Equal(t, rule, ce.Rule)
}

func TestBuildPipeline_DefaultRuleOrder(t *testing.T) {
	f := newFixture(t, nil)

	assert.Equal(t, []string{HeaderChainID, HeaderHeight, HeaderDifficulty, HeaderTimestamp, HeaderSignature},
		f.pipeline.RuleNames(validation.StageHeader))
	assert.Equal(t, []string{EndorsementPolicy, MVCCApply}, f.pipeline.RuleNames(validation.StageFull))
}

func TestBuildPipeline_UnknownRule(t *testing.T) {
	opts := consensusconfig.New(nil).GetOptions()
	opts.ValidationRuleSet.Partial = []string{"no_such_rule"}

	_, err := BuildPipeline(Dependencies{Consensus: opts, Clock: testutil.NewClockAfter(0)})

	assert.Error(t, err)
}

func TestValidBlock_PassesAllStages(t *testing.T) {
	// Arrange
	f := newFixture(t, nil)
	tx := f.b.Tx(nil, testutil.Put("a", "1"), testutil.Put("b", "2"))
	block := f.b.Block(f.genesis, 1, 0, tx)
	vc := f.contextFor(t, block)
	ctx := context.Background()

	// Act & Assert
	require.NoError(t, f.pipeline.ValidateHeader(ctx, vc))
	require.NoError(t, f.pipeline.PrevalidateBlock(ctx, vc))
	writes, err := f.runFull(t, vc)
	require.NoError(t, err)
	require.Len(t, writes, 2)
	assert.Equal(t, "a", writes[0].Key)
	assert.Equal(t, uint64(1), writes[0].Entry.Version)
}

func TestHeaderRules(t *testing.T) {
	ctx := context.Background()

	t.Run("chain id", func(t *testing.T) {
		f := newFixture(t, nil)
		block := f.b.Block(f.genesis, 1, 0)
		block.Header.ChainID++
		f.b.Sign(block.Header)
		requireRule(t, f.pipeline.ValidateHeader(ctx, f.contextFor(t, block)), types.ErrHeaderInvalid, HeaderChainID)
	})

	t.Run("height", func(t *testing.T) {
		f := newFixture(t, nil)
		block := f.b.Block(f.genesis, 1, 0)
		block.Header.Height = 5
		f.b.Sign(block.Header)
		requireRule(t, f.pipeline.ValidateHeader(ctx, f.contextFor(t, block)), types.ErrHeaderInvalid, HeaderHeight)
	})

	t.Run("difficulty", func(t *testing.T) {
		f := newFixture(t, nil)
		block := f.b.Block(f.genesis, 0, 0)
		requireRule(t, f.pipeline.ValidateHeader(ctx, f.contextFor(t, block)), types.ErrHeaderInvalid, HeaderDifficulty)
	})

	t.Run("timestamp not after parent", func(t *testing.T) {
		f := newFixture(t, nil)
		block := f.b.Block(f.genesis, 1, -testutil.BlockInterval)
		requireRule(t, f.pipeline.ValidateHeader(ctx, f.contextFor(t, block)), types.ErrHeaderInvalid, HeaderTimestamp)
	})

	t.Run("timestamp too far in future", func(t *testing.T) {
		f := newFixture(t, nil)
		block := f.b.Block(f.genesis, 1, 0)
		f.clock.Set(f.clock.Now().AddDate(0, 0, -2))
		requireRule(t, f.pipeline.ValidateHeader(ctx, f.contextFor(t, block)), types.ErrHeaderInvalid, HeaderTimestamp)
	})

	t.Run("unauthorized validator", func(t *testing.T) {
		f := newFixture(t, nil)
		other := testutil.NewChainBuilder(t)
		block := other.Block(f.genesis, 1, 0)
		requireRule(t, f.pipeline.ValidateHeader(ctx, f.contextFor(t, block)), types.ErrHeaderInvalid, HeaderSignature)
	})

	t.Run("tampered signature", func(t *testing.T) {
		f := newFixture(t, nil)
		block := f.b.Block(f.genesis, 1, 0)
		block.Header.Difficulty = 2
		requireRule(t, f.pipeline.ValidateHeader(ctx, f.contextFor(t, block)), types.ErrHeaderInvalid, HeaderSignature)
	})

	t.Run("open validator set still verifies signature", func(t *testing.T) {
		f := newFixture(t, func(o *consensusconfig.ConsensusOptions) { o.AuthorizedValidators = nil })
		other := testutil.NewChainBuilder(t)
		block := other.Block(f.genesis, 1, 0)
		require.NoError(t, f.pipeline.ValidateHeader(ctx, f.contextFor(t, block)))

		block.Header.Signature = nil
		requireRule(t, f.pipeline.ValidateHeader(ctx, f.contextFor(t, block)), types.ErrHeaderInvalid, HeaderSignature)
	})
}

func TestIntegrityRules(t *testing.T) {
	ctx := context.Background()

	t.Run("header mismatch", func(t *testing.T) {
		f := newFixture(t, nil)
		block := f.b.Block(f.genesis, 1, 0)
		vc := f.contextFor(t, block)
		vc.Hash = types.Hash{0xff}
		requireRule(t, f.pipeline.ValidateIntegrity(ctx, vc), types.ErrIntegrityInvalid, BlockHeaderMatch)
	})

	t.Run("malformed tx signature", func(t *testing.T) {
		f := newFixture(t, nil)
		tx := f.b.Tx(nil, testutil.Put("a", "1"))
		tx.Signature = []byte{0x01, 0x02}
		block := f.b.Block(f.genesis, 1, 0, tx)
		requireRule(t, f.pipeline.ValidateIntegrity(ctx, f.contextFor(t, block)), types.ErrIntegrityInvalid, TxSignatureFormat)
	})

	t.Run("merkle root", func(t *testing.T) {
		f := newFixture(t, nil)
		block := f.b.Block(f.genesis, 1, 0, f.b.Tx(nil, testutil.Put("a", "1")))
		block.Transactions = append(block.Transactions, f.b.Tx(nil, testutil.Put("b", "1")))
		requireRule(t, f.pipeline.ValidateIntegrity(ctx, f.contextFor(t, block)), types.ErrIntegrityInvalid, MerkleRoot)
	})
}

func TestPartialRules(t *testing.T) {
	ctx := context.Background()

	t.Run("too many transactions", func(t *testing.T) {
		f := newFixture(t, func(o *consensusconfig.ConsensusOptions) { o.MaxBlockTransactions = 1 })
		block := f.b.Block(f.genesis, 1, 0, f.b.Tx(nil, testutil.Put("a", "1")), f.b.Tx(nil, testutil.Put("b", "1")))
		requireRule(t, f.pipeline.ValidatePartial(ctx, f.contextFor(t, block)), types.ErrPartialValidationFailed, BlockSize)
	})

	t.Run("duplicate transaction", func(t *testing.T) {
		f := newFixture(t, nil)
		tx := f.b.Tx(nil, testutil.Put("a", "1"))
		block := f.b.Block(f.genesis, 1, 0, tx, tx)
		requireRule(t, f.pipeline.ValidatePartial(ctx, f.contextFor(t, block)), types.ErrPartialValidationFailed, DuplicateTx)
	})

	t.Run("write set", func(t *testing.T) {
		f := newFixture(t, nil)
		block := f.b.Block(f.genesis, 1, 0, f.b.Tx(nil, testutil.Put("a", "1"), testutil.Put("a", "2")))
		requireRule(t, f.pipeline.ValidatePartial(ctx, f.contextFor(t, block)), types.ErrPartialValidationFailed, WriteSet)
	})

	t.Run("value too large", func(t *testing.T) {
		f := newFixture(t, func(o *consensusconfig.ConsensusOptions) { o.MaxValueSize = 2 })
		block := f.b.Block(f.genesis, 1, 0, f.b.Tx(nil, testutil.Put("a", "123")))
		requireRule(t, f.pipeline.ValidatePartial(ctx, f.contextFor(t, block)), types.ErrPartialValidationFailed, WriteSet)
	})

	t.Run("forged tx signature", func(t *testing.T) {
		f := newFixture(t, nil)
		donor := f.b.Tx(nil, testutil.Put("x", "1"))
		tx := f.b.Tx(nil, testutil.Put("a", "1"))
		tx.Signature = donor.Signature
		block := f.b.Block(f.genesis, 1, 0, tx)
		require.NoError(t, f.pipeline.ValidateIntegrity(ctx, f.contextFor(t, block)))
		requireRule(t, f.pipeline.ValidatePartial(ctx, f.contextFor(t, block)), types.ErrPartialValidationFailed, TxSignature)
	})
}

func TestFullRules(t *testing.T) {
	t.Run("later transactions see earlier writes", func(t *testing.T) {
		f := newFixture(t, nil)
		block := f.b.Block(f.genesis, 1, 0,
			f.b.Tx([]types.KVRead{testutil.Read("k", 0)}, testutil.Put("k", "1")),
			f.b.Tx([]types.KVRead{testutil.Read("k", 1)}, testutil.Del("k")),
		)
		writes, err := f.runFull(t, f.contextFor(t, block))
		require.NoError(t, err)
		require.Len(t, writes, 1)
		assert.True(t, writes[0].Entry.Deleted)
		assert.Equal(t, uint64(2), writes[0].Entry.Version)
	})

	t.Run("read version conflict", func(t *testing.T) {
		f := newFixture(t, nil)
		block := f.b.Block(f.genesis, 1, 0,
			f.b.Tx([]types.KVRead{testutil.Read("k", 3)}, testutil.Put("k", "1")),
		)
		_, err := f.runFull(t, f.contextFor(t, block))
		requireRule(t, err, types.ErrFullValidationFailed, MVCCApply)
	})

	t.Run("non-member creator", func(t *testing.T) {
		f := newFixture(t, nil)
		outsider := testutil.NewChainBuilder(t)
		block := f.b.Block(f.genesis, 1, 0, outsider.Tx(nil, testutil.Put("k", "1")))
		_, err := f.runFull(t, f.contextFor(t, block))
		requireRule(t, err, types.ErrFullValidationFailed, EndorsementPolicy)
	})

	t.Run("custom policy", func(t *testing.T) {
		f := newFixture(t, nil)
		pipeline, err := BuildPipeline(Dependencies{
			Consensus: consensusconfig.New(nil).GetOptions(),
			ChainID:   f.b.Chain.ChainID,
			Clock:     f.clock,
			Policy: func(_ context.Context, tx *types.Transaction, _ state.Snapshot) error {
				if len(tx.WriteSet) > 1 {
					return assert.AnError
				}
				return nil
			},
		})
		require.NoError(t, err)
		f.pipeline = pipeline

		block := f.b.Block(f.genesis, 1, 0, f.b.Tx(nil, testutil.Put("a", "1"), testutil.Put("b", "1")))
		_, err = f.runFull(t, f.contextFor(t, block))
		requireRule(t, err, types.ErrFullValidationFailed, EndorsementPolicy)
	})
}
