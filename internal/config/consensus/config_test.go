package consensus

import (
	"testing"
	"time"

	"github.com/weisyn/permnode/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	opts := New(nil).GetOptions()

	assert.Equal(t, uint32(20), opts.MaxReorgLength)
	assert.Equal(t, uint32(100), opts.RetainedDepth)
	assert.Equal(t, []string{"endorsement_policy", "mvcc_apply"}, opts.ValidationRuleSet.Full)
	require.NoError(t, opts.Validate())
}

func TestNew_UserOverrides(t *testing.T) {
	maxReorg := uint32(5)
	retained := uint32(8)
	timeout := "250ms"
	cfg := New(&types.UserConsensusConfig{
		MaxReorgLength:  &maxReorg,
		RetainedDepth:   &retained,
		FullRuleTimeout: &timeout,
		ValidationRuleSet: &types.UserValidationRuleSet{
			Partial: []string{},
			Full:    []string{"mvcc_apply"},
		},
	})
	opts := cfg.GetOptions()

	assert.Equal(t, uint32(5), opts.MaxReorgLength)
	assert.Equal(t, uint32(8), opts.RetainedDepth)
	assert.Equal(t, 250*time.Millisecond, opts.FullRuleTimeout)
	assert.Empty(t, opts.ValidationRuleSet.Partial)
	assert.Equal(t, []string{"mvcc_apply"}, opts.ValidationRuleSet.Full)
	assert.Len(t, opts.ValidationRuleSet.Header, 5, "未配置的阶段保留默认规则")
}

func TestValidate_RetainedDepthBelowMaxReorg(t *testing.T) {
	opts := New(nil).GetOptions()
	opts.RetainedDepth = opts.MaxReorgLength - 1

	err := opts.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retained_depth")
}
