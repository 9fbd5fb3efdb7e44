package types

// SuccessResponse 统一成功响应格式
type SuccessResponse struct {
	Data      interface{} `json:"data"`
	RequestID string      `json:"requestId,omitempty"`
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse(data interface{}, requestID string) *SuccessResponse {
	return &SuccessResponse{Data: data, RequestID: requestID}
}

// TipAnchoredResponse 附带查询时活跃链尖的响应
//
// 活跃链可能在两次查询之间重组，客户端据此判断结果是否仍然有效。
type TipAnchoredResponse struct {
	Data      interface{} `json:"data"`
	TipHeight uint32      `json:"tipHeight"`
	TipHash   string      `json:"tipHash"`
	RequestID string      `json:"requestId,omitempty"`
}

// SubmitResponse 区块头/区块提交结果
type SubmitResponse struct {
	Hash      string `json:"hash"`
	Height    uint32 `json:"height"`
	Accepted  bool   `json:"accepted"`
	TipHeight uint32 `json:"tipHeight"`
	TipHash   string `json:"tipHash"`
}

// MerkleProofResponse 交易包含证明
//
// Path 自底向上排列；Index 为偶数时兄弟在右侧。
type MerkleProofResponse struct {
	BlockHash  string   `json:"blockHash"`
	Height     uint32   `json:"height"`
	Index      int      `json:"index"`
	TxID       string   `json:"txId"`
	MerkleRoot string   `json:"merkleRoot"`
	Path       []string `json:"path"`
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status     string                 `json:"status"` // healthy, degraded, unhealthy
	Liveness   string                 `json:"liveness"`
	Readiness  string                 `json:"readiness"`
	Version    string                 `json:"version"`
	Uptime     string                 `json:"uptime"`
	Timestamp  string                 `json:"timestamp"`
	Components map[string]interface{} `json:"components"`
}
