package writegate

import "context"

type tokenKey struct{}

// WithWriteToken 把围栏 token 附加到 ctx，持有该 ctx 的写操作可通过围栏
func WithWriteToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// TokenFromContext 读取 ctx 携带的围栏 token，没有时返回空串
func TokenFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	token, _ := ctx.Value(tokenKey{}).(string)
	return token
}
