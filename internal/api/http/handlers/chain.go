// Package handlers 实现 HTTP API 的请求处理器
package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/weisyn/permnode/internal/api/http/middleware"
	httptypes "github.com/weisyn/permnode/internal/api/http/types"
	apitypes "github.com/weisyn/permnode/internal/api/types"
	"github.com/weisyn/permnode/internal/core/chain/invalidset"
	"github.com/weisyn/permnode/internal/core/infrastructure/crypto/merkle"
	"github.com/weisyn/permnode/pkg/interfaces/chain"
	"github.com/weisyn/permnode/pkg/interfaces/infrastructure/log"
	"github.com/weisyn/permnode/pkg/types"
)

// PeerHeader 提交请求中标识来源节点的请求头；缺省时使用 "api:<客户端IP>"
const PeerHeader = "X-Peer-ID"

// ChainQuery API 层依赖的共识管理器能力
type ChainQuery interface {
	chain.ConsensusManager
	InvalidRecords() []invalidset.Record
	Locator() []types.Hash
	GetBlock(ctx context.Context, hash types.Hash) (*types.Block, bool, error)
	BestHeader() chain.HeaderInfo
}

// ChainHandlers 链查询与提交处理器
type ChainHandlers struct {
	cm     ChainQuery
	logger log.Logger
}

// NewChainHandlers 创建链处理器
func NewChainHandlers(cm ChainQuery, logger log.Logger) *ChainHandlers {
	return &ChainHandlers{cm: cm, logger: logger}
}

// RegisterRoutes 注册链相关路由
//
//	GET  /chain/tip
//	GET  /chain/locator
//	GET  /chain/best-header
//	GET  /headers/hash/:hash
//	GET  /headers/height/:height
//	POST /headers
//	GET  /blocks/hash/:hash
//	GET  /blocks/hash/:hash/proof/:index
//	POST /blocks
//	GET  /invalid
//	GET  /invalid/:hash
func (h *ChainHandlers) RegisterRoutes(r *gin.RouterGroup) {
	chainGroup := r.Group("/chain")
	chainGroup.GET("/tip", h.GetTip)
	chainGroup.GET("/locator", h.GetLocator)
	chainGroup.GET("/best-header", h.GetBestHeader)

	headers := r.Group("/headers")
	headers.GET("/hash/:hash", h.GetHeaderByHash)
	headers.GET("/height/:height", h.GetHeaderByHeight)
	headers.POST("", h.SubmitHeaders)

	blocks := r.Group("/blocks")
	blocks.GET("/hash/:hash", h.GetBlockByHash)
	blocks.GET("/hash/:hash/proof/:index", h.GetTxProof)
	blocks.POST("", h.SubmitBlocks)

	invalid := r.Group("/invalid")
	invalid.GET("", h.ListInvalid)
	invalid.GET("/:hash", h.GetInvalid)
}

// GetTip 当前活跃链尖
func (h *ChainHandlers) GetTip(c *gin.Context) {
	tip := h.cm.GetTip()
	c.JSON(http.StatusOK, httptypes.NewSuccessResponse(tip, middleware.GetRequestID(c)))
}

// GetLocator 活跃链区块定位器（从链尖到创世，间隔指数增长）
func (h *ChainHandlers) GetLocator(c *gin.Context) {
	h.anchored(c, h.cm.Locator())
}

// GetBestHeader 工作量最大的有效区块头，可能在侧链上或尚缺区块体
func (h *ChainHandlers) GetBestHeader(c *gin.Context) {
	h.anchored(c, h.cm.BestHeader())
}

// GetHeaderByHash 按哈希查询任意已知区块头（含侧链）
func (h *ChainHandlers) GetHeaderByHash(c *gin.Context) {
	hash, ok := parseHash(c)
	if !ok {
		return
	}
	info, found := h.cm.GetHeaderByHash(hash)
	if !found {
		middleware.WriteError(c, apitypes.CodeHeaderNotFound, "区块头不存在。",
			"header "+hash.String()+" is unknown", http.StatusNotFound)
		return
	}
	h.anchored(c, info)
}

// GetHeaderByHeight 按高度查询活跃链区块头
func (h *ChainHandlers) GetHeaderByHeight(c *gin.Context) {
	height, err := strconv.ParseUint(c.Param("height"), 10, 32)
	if err != nil {
		middleware.WriteError(c, apitypes.CodeCommonValidationError, "高度参数无效。",
			err.Error(), http.StatusBadRequest)
		return
	}
	info, found := h.cm.GetHeaderByHeight(uint32(height))
	if !found {
		middleware.WriteError(c, apitypes.CodeHeaderNotFound, "该高度不在活跃链上。",
			"height "+c.Param("height")+" is above the active tip", http.StatusNotFound)
		return
	}
	h.anchored(c, info)
}

// GetBlockByHash 查询活跃链上的区块
func (h *ChainHandlers) GetBlockByHash(c *gin.Context) {
	hash, ok := parseHash(c)
	if !ok {
		return
	}
	block, found, err := h.cm.GetBlock(c.Request.Context(), hash)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if !found {
		middleware.WriteError(c, apitypes.CodeBlockNotFound, "区块不存在或不在活跃链上。",
			"block "+hash.String()+" is not stored", http.StatusNotFound)
		return
	}
	h.anchored(c, block)
}

// GetTxProof 活跃链区块内第 index 笔交易的 Merkle 包含证明
func (h *ChainHandlers) GetTxProof(c *gin.Context) {
	hash, ok := parseHash(c)
	if !ok {
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		middleware.WriteError(c, apitypes.CodeCommonValidationError, "交易序号无效。",
			"index must be a non-negative integer", http.StatusBadRequest)
		return
	}
	block, found, err := h.cm.GetBlock(c.Request.Context(), hash)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if !found {
		middleware.WriteError(c, apitypes.CodeBlockNotFound, "区块不存在或不在活跃链上。",
			"block "+hash.String()+" is not stored", http.StatusNotFound)
		return
	}
	ids, err := block.TxIDs()
	if err != nil {
		_ = c.Error(err)
		return
	}
	path, ok := merkle.Proof(ids, index)
	if !ok {
		middleware.WriteError(c, apitypes.CodeCommonValidationError, "交易序号超出范围。",
			"block "+hash.String()+" has "+strconv.Itoa(len(ids))+" transactions", http.StatusBadRequest)
		return
	}
	// 存储中的区块体已通过完整性校验，证明不成立说明数据损坏
	if !merkle.VerifyProof(ids[index], index, path, block.Header.MerkleRoot) {
		h.logger.Errorf("Merkle 证明与区块头不一致: block=%s index=%d", hash, index)
		middleware.WriteError(c, apitypes.CodeCommonInternalError, "无法生成交易证明。",
			"stored block body does not match its merkle root", http.StatusInternalServerError)
		return
	}

	out := httptypes.MerkleProofResponse{
		BlockHash:  hash.String(),
		Height:     block.Header.Height,
		Index:      index,
		TxID:       ids[index].String(),
		MerkleRoot: block.Header.MerkleRoot.String(),
		Path:       make([]string, 0, len(path)),
	}
	for _, sib := range path {
		out.Path = append(out.Path, sib.String())
	}
	h.anchored(c, out)
}

// SubmitHeaders 按顺序提交一批区块头
//
// 请求体为区块头 JSON 数组；遇到第一个错误即停止，已接受的区块头保留。
func (h *ChainHandlers) SubmitHeaders(c *gin.Context) {
	var headers []*types.BlockHeader
	if err := c.ShouldBindJSON(&headers); err != nil {
		middleware.WriteError(c, apitypes.CodeCommonValidationError, "请求体格式错误。",
			err.Error(), http.StatusBadRequest)
		return
	}
	infos, err := h.cm.SubmitHeaders(c.Request.Context(), headers, peerOf(c))
	if err != nil {
		h.logger.Debugf("提交区块头被拒绝: accepted=%d err=%v", len(infos), err)
		_ = c.Error(err)
		return
	}

	tip := h.cm.GetTip()
	out := make([]httptypes.SubmitResponse, 0, len(infos))
	for _, info := range infos {
		out = append(out, httptypes.SubmitResponse{
			Hash:      info.Hash.String(),
			Height:    info.Height,
			Accepted:  true,
			TipHeight: tip.Height,
			TipHash:   tip.Hash.String(),
		})
	}
	c.JSON(http.StatusOK, httptypes.NewSuccessResponse(out, middleware.GetRequestID(c)))
}

// SubmitBlocks 提交一批区块体
//
// 未知区块的区块头随区块一并提交；全部预校验后统一尝试切换链尖。
func (h *ChainHandlers) SubmitBlocks(c *gin.Context) {
	var blocks []*types.Block
	if err := c.ShouldBindJSON(&blocks); err != nil {
		middleware.WriteError(c, apitypes.CodeCommonValidationError, "请求体格式错误。",
			err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.cm.SubmitBlocks(c.Request.Context(), blocks, peerOf(c)); err != nil {
		h.logger.Debugf("提交区块被拒绝: count=%d err=%v", len(blocks), err)
		_ = c.Error(err)
		return
	}

	tip := h.cm.GetTip()
	out := make([]httptypes.SubmitResponse, 0, len(blocks))
	for _, b := range blocks {
		hash, err := b.Hash()
		if err != nil {
			continue
		}
		out = append(out, httptypes.SubmitResponse{
			Hash:      hash.String(),
			Height:    b.Header.Height,
			Accepted:  true,
			TipHeight: tip.Height,
			TipHash:   tip.Hash.String(),
		})
	}
	c.JSON(http.StatusOK, httptypes.NewSuccessResponse(out, middleware.GetRequestID(c)))
}

// ListInvalid 分页列出持久化无效集合
func (h *ChainHandlers) ListInvalid(c *gin.Context) {
	var page httptypes.PaginationRequest
	if err := c.ShouldBindQuery(&page); err != nil {
		middleware.WriteError(c, apitypes.CodeCommonValidationError, "分页参数无效。",
			err.Error(), http.StatusBadRequest)
		return
	}
	c.JSON(http.StatusOK, httptypes.Paginate(h.cm.InvalidRecords(), page))
}

// GetInvalid 查询单个哈希是否无效
func (h *ChainHandlers) GetInvalid(c *gin.Context) {
	hash, ok := parseHash(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, httptypes.NewSuccessResponse(gin.H{
		"hash":    hash.String(),
		"invalid": h.cm.IsInvalid(hash),
	}, middleware.GetRequestID(c)))
}

func (h *ChainHandlers) anchored(c *gin.Context, data interface{}) {
	tip := h.cm.GetTip()
	c.JSON(http.StatusOK, &httptypes.TipAnchoredResponse{
		Data:      data,
		TipHeight: tip.Height,
		TipHash:   tip.Hash.String(),
		RequestID: middleware.GetRequestID(c),
	})
}

func parseHash(c *gin.Context) (types.Hash, bool) {
	hash, err := types.HashFromHex(c.Param("hash"))
	if err != nil {
		middleware.WriteError(c, apitypes.CodeCommonValidationError, "哈希参数无效。",
			err.Error(), http.StatusBadRequest)
		return types.Hash{}, false
	}
	return hash, true
}

func peerOf(c *gin.Context) string {
	if p := c.GetHeader(PeerHeader); p != "" {
		return p
	}
	return "api:" + c.ClientIP()
}
