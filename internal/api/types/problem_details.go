// Package types 定义 API 层共享的错误响应结构
package types

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	coretypes "github.com/weisyn/permnode/pkg/types"
)

// ProblemDetails 错误响应（RFC7807 + 扩展字段）
type ProblemDetails struct {
	// RFC7807 标准字段
	Type     string `json:"type,omitempty"`
	Title    string `json:"title,omitempty"`
	Status   int    `json:"status,omitempty"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	// 扩展字段
	Code        string                 `json:"code"`
	Layer       string                 `json:"layer"`
	UserMessage string                 `json:"userMessage"`
	Details     map[string]interface{} `json:"details,omitempty"`
	TraceID     string                 `json:"traceId"`
	Timestamp   string                 `json:"timestamp"`
}

// Error 实现 error 接口
func (p *ProblemDetails) Error() string {
	if p.Detail != "" {
		return p.Detail
	}
	return p.UserMessage
}

// WriteJSON 将 Problem Details 写入 HTTP 响应
func (p *ProblemDetails) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// NewProblemDetails 创建新的 Problem Details
func NewProblemDetails(
	code string,
	layer string,
	userMessage string,
	detail string,
	status int,
	details map[string]interface{},
) *ProblemDetails {
	if details == nil {
		details = make(map[string]interface{})
	}
	return &ProblemDetails{
		Title:       http.StatusText(status),
		Code:        code,
		Layer:       layer,
		UserMessage: userMessage,
		Detail:      detail,
		Status:      status,
		Details:     details,
		TraceID:     uuid.New().String(),
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
}

// IsProblemDetails 检查错误是否为 Problem Details
func IsProblemDetails(err error) (*ProblemDetails, bool) {
	var pd *ProblemDetails
	if errors.As(err, &pd) {
		return pd, true
	}
	return nil, false
}

// 错误码常量
const (
	CodeHeaderInvalid             = "CONSENSUS_HEADER_INVALID"
	CodeIntegrityInvalid          = "CONSENSUS_INTEGRITY_INVALID"
	CodePartialValidationFailed   = "CONSENSUS_PARTIAL_VALIDATION_FAILED"
	CodeFullValidationFailed      = "CONSENSUS_FULL_VALIDATION_FAILED"
	CodeMaxReorgViolation         = "CONSENSUS_MAX_REORG_VIOLATION"
	CodeUnknownPreviousHeader     = "CONSENSUS_UNKNOWN_PREVIOUS_HEADER"
	CodeStateRepositoryCorruption = "CONSENSUS_STATE_CORRUPTION"
	CodeUnknownBlock              = "CONSENSUS_UNKNOWN_BLOCK"

	CodeHeaderNotFound = "CHAIN_HEADER_NOT_FOUND"
	CodeBlockNotFound  = "CHAIN_BLOCK_NOT_FOUND"

	CodeCommonValidationError    = "COMMON_VALIDATION_ERROR"
	CodeCommonInternalError      = "COMMON_INTERNAL_ERROR"
	CodeCommonRateLimited        = "COMMON_RATE_LIMITED"
	CodeCommonServiceUnavailable = "COMMON_SERVICE_UNAVAILABLE"
)

// Layer 常量
const (
	LayerConsensus = "consensus"
	LayerAPI       = "api"
)

// FromConsensusError 把共识错误映射为 Problem Details；非共识错误按内部错误处理
func FromConsensusError(err error) *ProblemDetails {
	ce, ok := coretypes.AsConsensusError(err)
	if !ok {
		return NewProblemDetails(CodeCommonInternalError, LayerAPI,
			"服务器内部错误，请稍后重试或联系管理员。", err.Error(), http.StatusInternalServerError, nil)
	}

	code, status := CodeCommonInternalError, http.StatusInternalServerError
	switch ce.Kind {
	case coretypes.KindHeaderInvalid:
		code, status = CodeHeaderInvalid, http.StatusUnprocessableEntity
	case coretypes.KindIntegrityInvalid:
		code, status = CodeIntegrityInvalid, http.StatusUnprocessableEntity
	case coretypes.KindPartialValidationFailed:
		code, status = CodePartialValidationFailed, http.StatusUnprocessableEntity
	case coretypes.KindFullValidationFailed:
		code, status = CodeFullValidationFailed, http.StatusUnprocessableEntity
	case coretypes.KindMaxReorgViolation:
		code, status = CodeMaxReorgViolation, http.StatusConflict
	case coretypes.KindUnknownPreviousHeader:
		code, status = CodeUnknownPreviousHeader, http.StatusConflict
	case coretypes.KindUnknownBlock:
		code, status = CodeUnknownBlock, http.StatusNotFound
	case coretypes.KindStateRepositoryCorruption:
		code, status = CodeStateRepositoryCorruption, http.StatusServiceUnavailable
	}

	details := map[string]interface{}{
		"kind": ce.Kind.String(),
	}
	if ce.Rule != "" {
		details["rule"] = ce.Rule
	}
	if !ce.Hash.IsZero() {
		details["hash"] = ce.Hash.String()
		details["height"] = ce.Height
	}
	return NewProblemDetails(code, LayerConsensus, ce.Kind.String(), ce.Error(), status, details)
}
