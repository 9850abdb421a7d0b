package admin

import "github.com/jifen-next/internal/provider"

// Handler 内部管理接口处理器入口
// 说明：该处理器仅用于运营后台与内部系统调用的 API，统一由静态令牌保护。
type Handler struct {
	*provider.Container
}

// New 创建后台处理器
func New(c *provider.Container) *Handler {
	return &Handler{Container: c}
}
