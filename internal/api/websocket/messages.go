package websocket

import (
	"context"

	"github.com/weisyn/permnode/pkg/interfaces/chain"
	"github.com/weisyn/permnode/pkg/types"
)

// Topic 推送主题
type Topic string

const (
	TopicBlockConnected    Topic = "block_connected"
	TopicBlockDisconnected Topic = "block_disconnected"
	TopicReorgFailed       Topic = "reorg_failed"
	TopicMaxReorgViolation Topic = "max_reorg_violation"
)

func (t Topic) valid() bool {
	switch t {
	case TopicBlockConnected, TopicBlockDisconnected, TopicReorgFailed, TopicMaxReorgViolation:
		return true
	}
	return false
}

// Message 推送给订阅方的消息
//
// Seq 在进程内单调递增，出现跳号说明该连接曾被断开或消息被丢弃。
// 断开通知的 Removed 为 true，订阅方据此撤销该区块上的派生数据。
type Message struct {
	Topic     Topic  `json:"topic"`
	Seq       uint64 `json:"seq"`
	Timestamp int64  `json:"timestamp"`

	Height  uint32 `json:"height,omitempty"`
	Hash    string `json:"hash,omitempty"`
	Removed bool   `json:"removed,omitempty"`

	Kind  string `json:"kind,omitempty"`
	Error string `json:"error,omitempty"`

	Peer           string `json:"peer,omitempty"`
	TipHeight      uint32 `json:"tip_height,omitempty"`
	ForkHeight     uint32 `json:"fork_height,omitempty"`
	MaxReorgLength uint32 `json:"max_reorg_length,omitempty"`
}

var _ chain.NotificationSink = (*Hub)(nil)

func (h *Hub) OnBlockConnected(_ context.Context, b *chain.ChainedBlock) {
	h.broadcast(Message{Topic: TopicBlockConnected, Height: b.Height, Hash: b.Hash.String()})
}

func (h *Hub) OnBlockDisconnected(_ context.Context, b *chain.ChainedBlock) {
	h.broadcast(Message{Topic: TopicBlockDisconnected, Height: b.Height, Hash: b.Hash.String(), Removed: true})
}

func (h *Hub) OnReorgFailed(_ context.Context, failing types.Hash, err error) {
	msg := Message{Topic: TopicReorgFailed, Hash: failing.String(), Kind: types.KindOf(err).String()}
	if err != nil {
		msg.Error = err.Error()
	}
	h.broadcast(msg)
}

func (h *Hub) OnMaxReorgViolation(_ context.Context, p chain.PeerContext) {
	h.broadcast(Message{
		Topic:          TopicMaxReorgViolation,
		Hash:           p.CandidateHash.String(),
		Peer:           p.PeerID,
		TipHeight:      p.TipHeight,
		ForkHeight:     p.ForkHeight,
		MaxReorgLength: p.MaxReorgLength,
	})
}
