package types

import "fmt"

// BlockHeader 区块头
//
// 许可链区块头：由授权验证者（Validator）签名，Difficulty 作为该区块的链权重增量。
// Signature 不参与 SigningHash 计算，但参与区块哈希计算。
type BlockHeader struct {
	Version    uint32 `cbor:"1,keyasint" json:"version"`
	ChainID    uint32 `cbor:"2,keyasint" json:"chain_id"`
	Height     uint32 `cbor:"3,keyasint" json:"height"`
	PrevHash   Hash   `cbor:"4,keyasint" json:"prev_hash"`
	MerkleRoot Hash   `cbor:"5,keyasint" json:"merkle_root"`
	Timestamp  int64  `cbor:"6,keyasint" json:"timestamp"` // unix 毫秒
	Difficulty uint64 `cbor:"7,keyasint" json:"difficulty"`
	Validator  []byte `cbor:"8,keyasint" json:"validator"` // 33 字节压缩公钥
	Signature  []byte `cbor:"9,keyasint" json:"signature"` // DER 编码 ECDSA 签名
}

// SigningHash 返回验证者签名所覆盖的哈希（不含 Signature 字段）
func (h *BlockHeader) SigningHash() (Hash, error) {
	unsigned := *h
	unsigned.Signature = nil
	data, err := CanonicalMarshal(&unsigned)
	if err != nil {
		return Hash{}, fmt.Errorf("encode header for signing: %w", err)
	}
	return DoubleSHA256(data), nil
}

// Hash 返回区块哈希
func (h *BlockHeader) Hash() (Hash, error) {
	data, err := CanonicalMarshal(h)
	if err != nil {
		return Hash{}, fmt.Errorf("encode header: %w", err)
	}
	return DoubleSHA256(data), nil
}

// MustHash 返回区块哈希，编码失败时 panic（仅用于已校验过的内部数据）
func (h *BlockHeader) MustHash() Hash {
	hash, err := h.Hash()
	if err != nil {
		panic(err)
	}
	return hash
}

// Clone 深拷贝区块头
func (h *BlockHeader) Clone() *BlockHeader {
	if h == nil {
		return nil
	}
	out := *h
	out.Validator = append([]byte(nil), h.Validator...)
	out.Signature = append([]byte(nil), h.Signature...)
	return &out
}

// Block 完整区块（区块头 + 交易体）
type Block struct {
	Header       *BlockHeader   `cbor:"1,keyasint" json:"header"`
	Transactions []*Transaction `cbor:"2,keyasint" json:"transactions"`
}

// Hash 返回区块哈希（即区块头哈希）
func (b *Block) Hash() (Hash, error) {
	if b == nil || b.Header == nil {
		return Hash{}, fmt.Errorf("block header is nil")
	}
	return b.Header.Hash()
}

// Size 返回区块的编码长度
func (b *Block) Size() (int, error) {
	data, err := CanonicalMarshal(b)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// TxIDs 返回区块内全部交易 ID（按区块内顺序）
func (b *Block) TxIDs() ([]Hash, error) {
	ids := make([]Hash, 0, len(b.Transactions))
	for i, tx := range b.Transactions {
		if tx == nil {
			return nil, fmt.Errorf("transaction %d is nil", i)
		}
		id, err := tx.ID()
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
