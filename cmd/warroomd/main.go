// Command warroomd 实时中继：把数据源事件推送给看板、广告监控与分析三个 WebSocket 通道。
//
//	warroomd --config warroomd.yaml --banner
//	warroomd --addr :9000 --script demo.yaml
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
		fmt.Fprintln(os.Stderr, "warroomd:", err)
		os.Exit(1)
	}
}
