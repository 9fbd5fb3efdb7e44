package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apitypes "github.com/weisyn/permnode/internal/api/types"
)

// ErrorHandler 把处理器通过 c.Error 记录的错误统一写为 Problem Details
//
// 共识错误按类别映射状态码，其余错误按内部错误处理。
func ErrorHandler(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err

		problem, ok := apitypes.IsProblemDetails(err)
		if !ok {
			problem = apitypes.FromConsensusError(err)
		}
		problem.Instance = c.Request.URL.Path
		if rid := GetRequestID(c); rid != "" {
			problem.TraceID = rid
		}

		if problem.Status >= http.StatusInternalServerError {
			logger.Error("HTTP error",
				zap.String("code", problem.Code),
				zap.String("traceId", problem.TraceID),
				zap.String("path", c.Request.URL.Path),
				zap.Error(err))
		}
		problem.WriteJSON(c.Writer)
		c.Abort()
	}
}

// WriteError 写入 Problem Details 并中止处理链
func WriteError(c *gin.Context, code string, userMessage string, detail string, status int) {
	problem := apitypes.NewProblemDetails(code, apitypes.LayerAPI, userMessage, detail, status, nil)
	problem.Instance = c.Request.URL.Path
	if rid := GetRequestID(c); rid != "" {
		problem.TraceID = rid
	}
	c.Header("Content-Type", "application/problem+json")
	c.AbortWithStatusJSON(status, problem)
}
