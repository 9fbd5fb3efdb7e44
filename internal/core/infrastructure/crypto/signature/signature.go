// Package signature 提供 secp256k1 ECDSA 签名与验证（DER 编码，压缩公钥）
package signature

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	btcec_ecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"github.com/weisyn/permnode/pkg/types"
)

// 错误定义
var (
	ErrInvalidSignature       = errors.New("无效的签名")
	ErrInvalidSignatureFormat = errors.New("无效的签名格式")
	ErrInvalidPublicKey       = errors.New("无效的公钥")
)

// PublicKeyLength 压缩公钥长度
const PublicKeyLength = btcec.PubKeyBytesLenCompressed

// GenerateKey 生成新的 secp256k1 私钥
func GenerateKey() (*btcec.PrivateKey, error) {
	return btcec.NewPrivateKey()
}

// PublicKeyBytes 返回私钥对应的 33 字节压缩公钥
func PublicKeyBytes(priv *btcec.PrivateKey) []byte {
	return priv.PubKey().SerializeCompressed()
}

// SignHash 对 32 字节哈希签名，返回 DER 编码（low-S 规范化）
func SignHash(priv *btcec.PrivateKey, hash types.Hash) []byte {
	return btcec_ecdsa.Sign(priv, hash[:]).Serialize()
}

// ParsePublicKey 解析 33 字节压缩公钥
func ParsePublicKey(pub []byte) (*btcec.PublicKey, error) {
	if len(pub) != PublicKeyLength {
		return nil, fmt.Errorf("%w: 长度=%d", ErrInvalidPublicKey, len(pub))
	}
	key, err := btcec.ParsePubKey(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return key, nil
}

// ParseSignature 严格解析 DER 签名
func ParseSignature(der []byte) (*btcec_ecdsa.Signature, error) {
	sig, err := btcec_ecdsa.ParseDERSignature(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignatureFormat, err)
	}
	return sig, nil
}

// Verify 使用压缩公钥验证 hash 上的 DER 签名
func Verify(pub []byte, hash types.Hash, der []byte) error {
	key, err := ParsePublicKey(pub)
	if err != nil {
		return err
	}
	sig, err := ParseSignature(der)
	if err != nil {
		return err
	}
	if !sig.Verify(hash[:], key) {
		return ErrInvalidSignature
	}
	return nil
}

// KeySet 授权公钥集合（以压缩公钥 hex 为键）
type KeySet struct {
	mu   sync.RWMutex
	keys map[string]struct{}
}

// NewKeySet 由 hex 编码的压缩公钥列表构造集合，非法条目返回错误
func NewKeySet(hexKeys []string) (*KeySet, error) {
	ks := &KeySet{keys: make(map[string]struct{}, len(hexKeys))}
	for _, h := range hexKeys {
		raw, err := hex.DecodeString(strings.TrimPrefix(h, "0x"))
		if err != nil {
			return nil, fmt.Errorf("解析授权公钥 %q 失败: %w", h, err)
		}
		if err := ks.Add(raw); err != nil {
			return nil, fmt.Errorf("授权公钥 %q: %w", h, err)
		}
	}
	return ks, nil
}

// Add 添加压缩公钥
func (ks *KeySet) Add(pub []byte) error {
	if _, err := ParsePublicKey(pub); err != nil {
		return err
	}
	ks.mu.Lock()
	ks.keys[hex.EncodeToString(pub)] = struct{}{}
	ks.mu.Unlock()
	return nil
}

// Contains 是否包含该公钥
func (ks *KeySet) Contains(pub []byte) bool {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	_, ok := ks.keys[hex.EncodeToString(pub)]
	return ok
}

// Len 集合大小
func (ks *KeySet) Len() int {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return len(ks.keys)
}
