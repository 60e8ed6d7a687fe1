// Command warroom 连接中继的三个实时通道，把分析流量写入日志并定期输出看板快照。
//
//	warroom --ws http://localhost:8080 --api http://localhost:8000 --snapshot 10s
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "warroom:", err)
		os.Exit(1)
	}
}
