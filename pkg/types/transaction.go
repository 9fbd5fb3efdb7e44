package types

import "fmt"

// KVRead 读集条目：交易执行时读取到的键及其版本
//
// Version 为 0 表示执行时该键从未被写入过（删除后的键保留墓碑版本）。
type KVRead struct {
	Key     string `cbor:"1,keyasint" json:"key"`
	Version uint64 `cbor:"2,keyasint" json:"version"`
}

// KVWrite 写集条目
type KVWrite struct {
	Key      string `cbor:"1,keyasint" json:"key"`
	Value    []byte `cbor:"2,keyasint" json:"value,omitempty"`
	IsDelete bool   `cbor:"3,keyasint" json:"is_delete,omitempty"`
}

// Transaction 许可链交易（读写集模型）
//
// 合约执行与背书在链外完成，交易只携带读写集；链上全量验证只做 MVCC 版本校验并应用写集。
type Transaction struct {
	Creator   []byte    `cbor:"1,keyasint" json:"creator"` // 33 字节压缩公钥
	Nonce     uint64    `cbor:"2,keyasint" json:"nonce"`
	ReadSet   []KVRead  `cbor:"3,keyasint" json:"read_set,omitempty"`
	WriteSet  []KVWrite `cbor:"4,keyasint" json:"write_set,omitempty"`
	Signature []byte    `cbor:"5,keyasint" json:"signature"`
}

// SigningHash 返回交易签名覆盖的哈希（不含 Signature）
func (tx *Transaction) SigningHash() (Hash, error) {
	unsigned := *tx
	unsigned.Signature = nil
	data, err := CanonicalMarshal(&unsigned)
	if err != nil {
		return Hash{}, fmt.Errorf("encode transaction: %w", err)
	}
	return DoubleSHA256(data), nil
}

// ID 返回交易 ID
//
// 交易 ID 不包含签名，避免签名延展性导致同一交易出现多个 ID。
func (tx *Transaction) ID() (Hash, error) {
	return tx.SigningHash()
}
