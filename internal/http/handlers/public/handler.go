package public

import "github.com/jifen-next/internal/provider"

// Handler 用户侧与公开接口处理器入口
// 说明：该处理器仅用于小程序用户、扫码与网关回调 API。
type Handler struct {
	*provider.Container
}

// New 创建前台处理器
func New(c *provider.Container) *Handler {
	return &Handler{Container: c}
}
