package server

import (
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/gin-gonic/gin"
)

// Version 中继版本号
const Version = "0.3.0"

const banner = `
 War Room relay   %s
 listening        %s
`

// PrintBanner 打印启动信息与路由表
func (s *Server) PrintBanner(out io.Writer) {
	addr := s.cfg.Addr
	open := addr
	if strings.HasPrefix(addr, ":") {
		open = "ws://127.0.0.1" + addr
	} else if !strings.Contains(addr, "://") {
		open = "ws://" + addr
	}

	fPrint(out, banner, Version, open)
	fPrint(out, "\n")

	if routes := s.engine.Routes(); len(routes) > 0 {
		printRoutes(out, routes, s.cfg.Mode)
		fPrint(out, "\n")
	}
	if s.cfg.Mode == gin.DebugMode {
		fPrint(out, "[warroom] Running in \"%s\" mode. Switch to \"release\" mode in production.\n", s.cfg.Mode)
	} else {
		fPrint(out, "[warroom] Running in \"%s\" mode.\n", s.cfg.Mode)
	}
	fPrint(out, "[warroom] Go version: %s | OS: %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

func methodColor(method string) string {
	switch method {
	case "GET":
		return "\033[34m"
	case "POST":
		return "\033[32m"
	case "PUT":
		return "\033[33m"
	case "DELETE":
		return "\033[31m"
	default:
		return "\033[0m"
	}
}

const resetColor = "\033[0m"

// printRoutes 路径列按最长路径对齐
func printRoutes(out io.Writer, routes gin.RoutesInfo, mode string) {
	width := 0
	for _, r := range routes {
		width = max(width, len(r.Path))
	}
	for _, r := range routes {
		fPrint(out, "[warroom-%s] %s%-7s%s %-*s --> %s\n",
			mode, methodColor(r.Method), r.Method, resetColor, width, r.Path, r.Handler)
	}
}

// fPrint 忽略写入错误
func fPrint(out io.Writer, format string, a ...any) {
	_, _ = fmt.Fprintf(out, format, a...)
}
