// Package types 定义 HTTP 层的请求与响应结构
package types

// PaginationRequest 分页请求参数
type PaginationRequest struct {
	Page     int `form:"page" binding:"omitempty,min=1"`             // 页码（从1开始）
	PageSize int `form:"pageSize" binding:"omitempty,min=1,max=100"` // 每页数量（最大100）
}

// Normalize 填充缺省的页码与每页数量
func (p *PaginationRequest) Normalize() {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = 20
	}
}

// Offset 计算偏移量
func (p *PaginationRequest) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// PaginationResponse 分页响应
type PaginationResponse struct {
	Data       interface{}    `json:"data"`
	Pagination PaginationMeta `json:"pagination"`
}

// PaginationMeta 分页元数据
type PaginationMeta struct {
	Page       int  `json:"page"`
	PageSize   int  `json:"pageSize"`
	TotalItems int  `json:"totalItems"`
	TotalPages int  `json:"totalPages"`
	HasNext    bool `json:"hasNext"`
	HasPrev    bool `json:"hasPrev"`
}

// Paginate 截取 items 中请求的一页并生成分页响应
func Paginate[T any](items []T, p PaginationRequest) *PaginationResponse {
	p.Normalize()
	total := len(items)
	totalPages := (total + p.PageSize - 1) / p.PageSize
	if totalPages < 1 {
		totalPages = 1
	}

	start := p.Offset()
	if start > total {
		start = total
	}
	end := start + p.PageSize
	if end > total {
		end = total
	}

	return &PaginationResponse{
		Data: items[start:end],
		Pagination: PaginationMeta{
			Page:       p.Page,
			PageSize:   p.PageSize,
			TotalItems: total,
			TotalPages: totalPages,
			HasNext:    p.Page < totalPages,
			HasPrev:    p.Page > 1,
		},
	}
}
