// Package types 定义共识相关的错误类型
package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind 共识错误类别（封闭集合）
type ErrorKind int32

const (
	KindUnknown ErrorKind = iota
	KindHeaderInvalid
	KindIntegrityInvalid
	KindPartialValidationFailed
	KindFullValidationFailed
	KindMaxReorgViolation
	KindUnknownPreviousHeader
	KindStateRepositoryCorruption
	KindUnknownBlock
)

// String 返回错误类别名称
func (k ErrorKind) String() string {
	switch k {
	case KindHeaderInvalid:
		return "HeaderInvalid"
	case KindIntegrityInvalid:
		return "IntegrityInvalid"
	case KindPartialValidationFailed:
		return "PartialValidationFailed"
	case KindFullValidationFailed:
		return "FullValidationFailed"
	case KindMaxReorgViolation:
		return "MaxReorgViolation"
	case KindUnknownPreviousHeader:
		return "UnknownPreviousHeader"
	case KindStateRepositoryCorruption:
		return "StateRepositoryCorruption"
	case KindUnknownBlock:
		return "UnknownBlock"
	default:
		return "Unknown"
	}
}

// 哨兵错误：仅用于 errors.Is 按类别匹配，实际返回的总是 *ConsensusError
var (
	ErrHeaderInvalid             = &ConsensusError{Kind: KindHeaderInvalid}
	ErrIntegrityInvalid          = &ConsensusError{Kind: KindIntegrityInvalid}
	ErrPartialValidationFailed   = &ConsensusError{Kind: KindPartialValidationFailed}
	ErrFullValidationFailed      = &ConsensusError{Kind: KindFullValidationFailed}
	ErrMaxReorgViolation         = &ConsensusError{Kind: KindMaxReorgViolation}
	ErrUnknownPreviousHeader     = &ConsensusError{Kind: KindUnknownPreviousHeader}
	ErrStateRepositoryCorruption = &ConsensusError{Kind: KindStateRepositoryCorruption}
	ErrUnknownBlock              = &ConsensusError{Kind: KindUnknownBlock}
)

// ConsensusError 共识错误
//
// 携带失败的高度/哈希与来源节点，供回滚决策与节点封禁决策使用。
type ConsensusError struct {
	Kind   ErrorKind // 错误类别
	Rule   string    // 失败的规则名（校验阶段错误）
	Reason string    // 可读原因
	Height uint32    // 失败区块高度
	Hash   Hash      // 失败区块哈希
	Peer   string    // 提供该区块/区块头的节点
	Err    error     // 底层错误
}

// NewConsensusError 创建共识错误
func NewConsensusError(kind ErrorKind, reason string) *ConsensusError {
	return &ConsensusError{Kind: kind, Reason: reason}
}

// Error 实现 error 接口
func (e *ConsensusError) Error() string {
	var b strings.Builder
	b.WriteString(strings.ToLower(e.Kind.String()[:1]))
	b.WriteString(e.Kind.String()[1:])
	if e.Rule != "" {
		fmt.Fprintf(&b, " rule=%s", e.Rule)
	}
	if !e.Hash.IsZero() {
		fmt.Fprintf(&b, " height=%d hash=%s", e.Height, e.Hash.Short())
	}
	if e.Peer != "" {
		fmt.Fprintf(&b, " peer=%s", e.Peer)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap 返回底层错误
func (e *ConsensusError) Unwrap() error {
	return e.Err
}

// Is 按错误类别匹配，使 errors.Is(err, ErrFullValidationFailed) 成立
func (e *ConsensusError) Is(target error) bool {
	t, ok := target.(*ConsensusError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// IsFatal 是否为不可恢复错误（状态仓库回滚契约被破坏）
func (e *ConsensusError) IsFatal() bool {
	return e.Kind == KindStateRepositoryCorruption
}

// ShouldBanPeer 是否应当通知封禁提供该数据的节点
func (e *ConsensusError) ShouldBanPeer() bool {
	switch e.Kind {
	case KindHeaderInvalid, KindIntegrityInvalid, KindPartialValidationFailed,
		KindFullValidationFailed, KindMaxReorgViolation:
		return e.Peer != ""
	default:
		return false
	}
}

// WithBlock 补充失败区块信息（返回自身便于链式调用）
func (e *ConsensusError) WithBlock(height uint32, hash Hash) *ConsensusError {
	e.Height = height
	e.Hash = hash
	return e
}

// WithPeer 补充来源节点
func (e *ConsensusError) WithPeer(peer string) *ConsensusError {
	e.Peer = peer
	return e
}

// AsConsensusError 从错误链中提取共识错误
func AsConsensusError(err error) (*ConsensusError, bool) {
	if err == nil {
		return nil, false
	}
	var ce *ConsensusError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// KindOf 返回错误链中的共识错误类别，非共识错误返回 KindUnknown
func KindOf(err error) ErrorKind {
	if ce, ok := AsConsensusError(err); ok {
		return ce.Kind
	}
	return KindUnknown
}
