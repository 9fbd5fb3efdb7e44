package blockstore

import (
	"fmt"

	"github.com/golang/snappy"

	"github.com/weisyn/permnode/pkg/types"
)

// maxDecodedBlockSize 解压后的区块体上限，超过即视为数据损坏
const maxDecodedBlockSize = 64 << 20

// encodeBlock 区块体以 CBOR 编码后再经 snappy 压缩存储
func encodeBlock(b *types.Block) ([]byte, error) {
	raw, err := types.CanonicalMarshal(b)
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, raw), nil
}

func decodeBlock(data []byte) (*types.Block, error) {
	n, err := snappy.DecodedLen(data)
	if err != nil {
		return nil, fmt.Errorf("snappy header: %w", err)
	}
	if n > maxDecodedBlockSize {
		return nil, fmt.Errorf("decoded block too large: %d > %d", n, maxDecodedBlockSize)
	}
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("snappy decode: %w", err)
	}
	var blk types.Block
	if err := types.Unmarshal(raw, &blk); err != nil {
		return nil, err
	}
	return &blk, nil
}
