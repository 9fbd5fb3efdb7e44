package reorg

import (
	"time"

	"github.com/weisyn/permnode/pkg/types"
)

// Phase 一次重组会话所处的阶段
type Phase string

const (
	PhasePrepare    Phase = "Prepare"
	PhaseDisconnect Phase = "Disconnect"
	PhaseConnect    Phase = "Connect"
	PhaseRollback   Phase = "Rollback"
	PhaseReconnect  Phase = "Reconnect"
	PhaseCommit     Phase = "Commit"
)

// ErrorClass 重组失败原因分类，便于恢复策略与运维告警
type ErrorClass string

const (
	ErrClassPrepare    ErrorClass = "prepare_failed"
	ErrClassValidation ErrorClass = "validation_failed"
	ErrClassCanceled   ErrorClass = "canceled"
	ErrClassStorage    ErrorClass = "storage_unavailable"
	ErrClassCorruption ErrorClass = "state_corruption"
)

// ReorgError 带阶段与分类的重组错误
type ReorgError struct {
	Class ErrorClass
	Phase Phase
	Err   error
}

func (e *ReorgError) Error() string {
	if e == nil || e.Err == nil {
		return "reorg error: <nil>"
	}
	return string(e.Class) + "@" + string(e.Phase) + ": " + e.Err.Error()
}

func (e *ReorgError) Unwrap() error { return e.Err }

// Result 重组结果
type Result string

const (
	ResultSwitched   Result = "switched"
	ResultRolledBack Result = "rolled_back"
	ResultFailed     Result = "failed"
)

// ReorgSession 一次重组尝试的记录
type ReorgSession struct {
	ID            string
	FromHash      types.Hash
	FromHeight    uint32 // 重组前活跃链尖高度
	ForkHeight    uint32 // 共同祖先高度
	ToHeight      uint32 // 候选链尖高度
	CandidateHash types.Hash
	CreatedAt     time.Time

	Phase        Phase
	Result       Result
	Disconnected int // 断开的原活跃链区块数
	Connected    int // 成功连接的候选区块数（回滚前）
	FailingHash  types.Hash
	Invalidated  []types.Hash
}

// Depth 重组需要回退的区块数
func (s *ReorgSession) Depth() uint32 {
	return s.FromHeight - s.ForkHeight
}
