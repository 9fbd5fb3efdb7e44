package types

import (
	"encoding/hex"
	"fmt"
)

// HashSize 哈希长度（字节）
const HashSize = 32

// Hash 区块/交易哈希（DoubleSHA256）
type Hash [HashSize]byte

// ZeroHash 全零哈希，创世区块的 PrevHash
var ZeroHash Hash

// String 返回十六进制表示
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Short 返回前 8 字节的十六进制表示，用于日志
func (h Hash) Short() string {
	return hex.EncodeToString(h[:8])
}

// IsZero 是否为全零哈希
func (h Hash) IsZero() bool {
	return h == ZeroHash
}

// Bytes 返回哈希字节的副本
func (h Hash) Bytes() []byte {
	out := make([]byte, HashSize)
	copy(out, h[:])
	return out
}

// HashFromBytes 从字节切片构造哈希
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, fmt.Errorf("invalid hash length: expected %d, got %d", HashSize, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// HashFromHex 从十六进制字符串解析哈希
func HashFromHex(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("decode hash hex: %w", err)
	}
	return HashFromBytes(b)
}

// MarshalText 实现 encoding.TextMarshaler（JSON 输出为十六进制）
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := HashFromHex(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
