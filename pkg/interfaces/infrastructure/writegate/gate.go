// Package writegate 定义节点级写门闸接口
//
// 两种写控制机制：
//   - 只读模式（ReadOnly）：状态仓库回滚契约被破坏后进入，禁止一切写操作，不可自动恢复
//   - 写围栏（WriteFence）：重组期间只允许持有 token 的写操作（即重组协调器自身）
//
// 优先级：ReadOnly > WriteFenceToken > Normal
package writegate

import "context"

// WriteGate 写门闸接口
//
// 使用示例：
//
//	token, err := gate.EnableWriteFence("reorg")
//	if err != nil {
//	    return err
//	}
//	defer gate.DisableWriteFence(token)
//	ctx = writegate.WithWriteToken(ctx, token)
//	// 使用 ctx 执行受控写操作...
type WriteGate interface {
	// EnterReadOnly 进入只读模式，同时清除写围栏
	EnterReadOnly(reason string)

	// ExitReadOnly 退出只读模式（仅运维手动修复后使用）
	ExitReadOnly()

	// IsReadOnly 检查当前是否处于只读模式
	IsReadOnly() bool

	// ReadOnlyReason 返回进入只读模式的原因，不在只读模式时返回空字符串
	ReadOnlyReason() string

	// EnableWriteFence 开启写围栏，返回写操作通行证
	//
	// 只读模式下返回错误。使用完成后必须调用 DisableWriteFence。
	EnableWriteFence(purpose string) (token string, err error)

	// DisableWriteFence 关闭写围栏，token 不匹配时返回错误
	DisableWriteFence(token string) error

	// AssertWriteAllowed 校验写操作是否允许
	AssertWriteAllowed(ctx context.Context, operation string) error
}
