package testutil

import (
	"context"
	"sync"

	"github.com/weisyn/permnode/pkg/interfaces/chain"
	"github.com/weisyn/permnode/pkg/types"
)

// EventKind 通知类型
type EventKind string

const (
	EventConnected    EventKind = "connected"
	EventDisconnected EventKind = "disconnected"
	EventReorgFailed  EventKind = "reorg_failed"
	EventViolation    EventKind = "max_reorg_violation"
)

// SinkEvent 一条记录下来的通知
type SinkEvent struct {
	Kind   EventKind
	Height uint32
	Hash   types.Hash
	Err    error
	Peer   chain.PeerContext
}

// RecordingSink 按投递顺序记录全部通知
type RecordingSink struct {
	mu     sync.Mutex
	events []SinkEvent
}

var _ chain.NotificationSink = (*RecordingSink)(nil)

func NewRecordingSink() *RecordingSink { return &RecordingSink{} }

func (s *RecordingSink) record(e SinkEvent) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *RecordingSink) OnBlockConnected(_ context.Context, b *chain.ChainedBlock) {
	s.record(SinkEvent{Kind: EventConnected, Height: b.Height, Hash: b.Hash})
}

func (s *RecordingSink) OnBlockDisconnected(_ context.Context, b *chain.ChainedBlock) {
	s.record(SinkEvent{Kind: EventDisconnected, Height: b.Height, Hash: b.Hash})
}

func (s *RecordingSink) OnReorgFailed(_ context.Context, failing types.Hash, err error) {
	s.record(SinkEvent{Kind: EventReorgFailed, Hash: failing, Err: err})
}

func (s *RecordingSink) OnMaxReorgViolation(_ context.Context, peer chain.PeerContext) {
	s.record(SinkEvent{Kind: EventViolation, Hash: peer.CandidateHash, Peer: peer})
}

// Events 返回全部通知的副本
func (s *RecordingSink) Events() []SinkEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SinkEvent(nil), s.events...)
}

// Heights 返回指定类型通知的高度序列
func (s *RecordingSink) Heights(kind EventKind) []uint32 {
	var out []uint32
	for _, e := range s.Events() {
		if e.Kind == kind {
			out = append(out, e.Height)
		}
	}
	return out
}

// Count 指定类型通知的数量
func (s *RecordingSink) Count(kind EventKind) int {
	n := 0
	for _, e := range s.Events() {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// Reset 清空记录
func (s *RecordingSink) Reset() {
	s.mu.Lock()
	s.events = nil
	s.mu.Unlock()
}
