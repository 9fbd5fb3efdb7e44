package writegate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weisyn/permnode/pkg/interfaces/infrastructure/log"
	wgif "github.com/weisyn/permnode/pkg/interfaces/infrastructure/writegate"
)

// ErrWriteBlocked 写操作被门闸拒绝
var ErrWriteBlocked = errors.New("write blocked")

// fence 当前生效的写围栏
type fence struct {
	token   string
	purpose string
	since   time.Time
}

// gate 写门闸
//
// 状态只有三种：正常、围栏（只放行持有 token 的写）、只读。只读优先于围栏。
type gate struct {
	logger log.Logger

	mu       sync.RWMutex
	readOnly *readOnlyState
	fence    *fence
}

type readOnlyState struct {
	reason string
	since  time.Time
}

var _ wgif.WriteGate = (*gate)(nil)

// New 创建写门闸
func New() wgif.WriteGate {
	return newGate(nil)
}

func newGate(logger log.Logger) *gate {
	return &gate{logger: logger}
}

// EnterReadOnly 进入只读模式并撤销写围栏，已发出的 token 随之失效
func (g *gate) EnterReadOnly(reason string) {
	g.mu.Lock()
	g.readOnly = &readOnlyState{reason: reason, since: time.Now()}
	g.fence = nil
	g.mu.Unlock()

	if g.logger != nil {
		g.logger.Errorf("🔒 节点进入只读模式: %s", reason)
	}
}

func (g *gate) ExitReadOnly() {
	g.mu.Lock()
	was := g.readOnly
	g.readOnly = nil
	g.mu.Unlock()

	if was != nil && g.logger != nil {
		g.logger.Warnf("🔓 节点退出只读模式: 原因=%s 持续=%s", was.reason, time.Since(was.since).Truncate(time.Second))
	}
}

func (g *gate) IsReadOnly() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.readOnly != nil
}

func (g *gate) ReadOnlyReason() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.readOnly == nil {
		return ""
	}
	return g.readOnly.reason
}

// EnableWriteFence 同一时刻只允许一个围栏
func (g *gate) EnableWriteFence(purpose string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.readOnly != nil {
		return "", fmt.Errorf("%w: node is read-only: %s", ErrWriteBlocked, g.readOnly.reason)
	}
	if g.fence != nil {
		return "", fmt.Errorf("write fence already held for %q since %s",
			g.fence.purpose, g.fence.since.Format(time.RFC3339))
	}
	g.fence = &fence{token: uuid.NewString(), purpose: purpose, since: time.Now()}
	return g.fence.token, nil
}

// DisableWriteFence 围栏已不存在时（例如进入只读后）视为成功
func (g *gate) DisableWriteFence(token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.fence == nil {
		return nil
	}
	if g.fence.token != token {
		return errors.New("write fence token mismatch")
	}
	g.fence = nil
	return nil
}

func (g *gate) AssertWriteAllowed(ctx context.Context, op string) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	switch {
	case g.readOnly != nil:
		return fmt.Errorf("%w (read-only): op=%s reason=%s", ErrWriteBlocked, op, g.readOnly.reason)
	case g.fence != nil && wgif.TokenFromContext(ctx) != g.fence.token:
		return fmt.Errorf("%w (write-fence): op=%s purpose=%s", ErrWriteBlocked, op, g.fence.purpose)
	}
	return nil
}
