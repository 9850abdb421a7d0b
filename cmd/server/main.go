package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/jifen-next/internal/app"
	"github.com/jifen-next/internal/config"
	"github.com/jifen-next/internal/logger"

	"github.com/gin-gonic/gin"
)

const (
	ansiReset     = "\033[0m"
	ansiBold      = "\033[1m"
	ansiDim       = "\033[2m"
	ansiGreen     = "\033[32m"
	ansiCyan      = "\033[36m"
	ansiBrightMag = "\033[95m"
)

func main() {
	printStartupBanner()

	// 解析命令行参数
	var mode string
	flag.StringVar(&mode, "mode", app.ModeAll, "启动模式: all (默认), api, worker")
	flag.Parse()

	// 加载配置
	cfg := config.Load()
	logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	stdLog := logger.StdLogger()

	if cfg.Server.Mode == "release" {
		if isWeakSecret(cfg.UserJWT.SecretKey) {
			stdLog.Fatalf("用户 JWT secret 过弱或仍为默认值，请在生产环境中配置强随机密钥")
		}
		if isWeakSecret(cfg.Admin.Token) {
			stdLog.Fatalf("内部接口令牌过弱或仍为默认值，请在生产环境中配置强随机令牌")
		}
		if isWeakSecret(cfg.QRCode.Secret) {
			stdLog.Fatalf("收款码签名密钥过弱或仍为默认值，请在生产环境中配置强随机密钥")
		}
	} else if isWeakSecret(cfg.UserJWT.SecretKey) {
		stdLog.Printf("警告: 用户 JWT secret 过弱或仍为默认值，建议在生产环境中更换")
	}

	// 设置 Gin 模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 支付密钥材料无效、数据库不可用时直接退出
	if err := app.Run(app.Options{
		Config:  cfg,
		Logger:  logger.S(),
		Signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
		Mode:    mode,
	}); err != nil {
		stdLog.Fatalf("服务运行失败: %v", err)
	}
}

func printStartupBanner() {
	fmt.Println(ansiBrightMag + "╔══════════════════════════════════════════════════════════════╗" + ansiReset)
	fmt.Println(ansiBrightMag + "║                  Jifen-Next 支付结算与积分服务                  ║" + ansiReset)
	fmt.Println(ansiBrightMag + "╚══════════════════════════════════════════════════════════════╝" + ansiReset)
	fmt.Println(ansiCyan + "     ██╗██╗███████╗███████╗███╗   ██╗" + ansiReset)
	fmt.Println(ansiCyan + "     ██║██║██╔════╝██╔════╝████╗  ██║" + ansiReset)
	fmt.Println(ansiCyan + "     ██║██║█████╗  █████╗  ██╔██╗ ██║" + ansiReset)
	fmt.Println(ansiCyan + "██   ██║██║██╔══╝  ██╔══╝  ██║╚██╗██║" + ansiReset)
	fmt.Println(ansiCyan + "╚█████╔╝██║██║     ███████╗██║ ╚████║" + ansiReset)
	fmt.Println(ansiCyan + " ╚════╝ ╚═╝╚═╝     ╚══════╝╚═╝  ╚═══╝" + ansiReset)
	fmt.Println(ansiGreen + ansiBold + "Payment settlement & points ledger" + ansiReset)
	fmt.Println(ansiDim + "--------------------------------------------------------------" + ansiReset)
}

func isWeakSecret(secret string) bool {
	if len(secret) < 32 {
		return true
	}
	normalized := strings.ToLower(secret)
	if strings.Contains(normalized, "change-me") ||
		strings.Contains(normalized, "change-in-production") ||
		strings.Contains(normalized, "your-secret-key") {
		return true
	}
	return false
}
