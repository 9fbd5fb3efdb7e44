package types

import (
	"crypto/sha256"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// canonicalEncMode 确定性 CBOR 编码模式（Core Deterministic Encoding）
//
// 区块头、交易的哈希与签名都基于此编码计算，任何字段顺序/长度编码差异都会改变哈希，
// 因此全局只允许使用这一个编码模式。
var canonicalEncMode cbor.EncMode

func init() {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("build canonical cbor encoder: %v", err))
	}
	canonicalEncMode = em
}

// CanonicalMarshal 使用确定性 CBOR 编码序列化
func CanonicalMarshal(v interface{}) ([]byte, error) {
	return canonicalEncMode.Marshal(v)
}

// Unmarshal 解码 CBOR 数据
func Unmarshal(data []byte, v interface{}) error {
	return cbor.Unmarshal(data, v)
}

// DoubleSHA256 计算 SHA256(SHA256(data))
func DoubleSHA256(data []byte) Hash {
	first := sha256.Sum256(data)
	return Hash(sha256.Sum256(first[:]))
}
