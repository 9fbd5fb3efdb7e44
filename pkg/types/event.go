package types

import "time"

// EventType 事件类型
type EventType string

// BlockConnectedEventData 区块连接到活跃链事件数据
type BlockConnectedEventData struct {
	Height     uint32    `json:"height"`
	Hash       Hash      `json:"hash"`
	ParentHash Hash      `json:"parent_hash"`
	TxCount    int       `json:"tx_count"`
	Timestamp  time.Time `json:"timestamp"`
}

// BlockDisconnectedEventData 区块从活跃链断开事件数据
type BlockDisconnectedEventData struct {
	Height     uint32    `json:"height"`
	Hash       Hash      `json:"hash"`
	ParentHash Hash      `json:"parent_hash"`
	Timestamp  time.Time `json:"timestamp"`
}

// ReorgFailedEventData 重组失败事件数据
type ReorgFailedEventData struct {
	FailingHash Hash      `json:"failing_hash"`
	Kind        string    `json:"kind"`
	Error       string    `json:"error"`
	Timestamp   time.Time `json:"timestamp"`
}

// MaxReorgViolationEventData 超过最大重组深度事件数据
type MaxReorgViolationEventData struct {
	PeerID         string    `json:"peer_id"`
	CandidateHash  Hash      `json:"candidate_hash"`
	TipHeight      uint32    `json:"tip_height"`
	ForkHeight     uint32    `json:"fork_height"`
	MaxReorgLength uint32    `json:"max_reorg_length"`
	Timestamp      time.Time `json:"timestamp"`
}

// ReorgPhaseEventData 重组会话阶段事件数据
type ReorgPhaseEventData struct {
	SessionID  string    `json:"session_id"`
	Phase      string    `json:"phase"`
	FromHeight uint32    `json:"from_height"`
	ForkHeight uint32    `json:"fork_height"`
	ToHeight   uint32    `json:"to_height"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
