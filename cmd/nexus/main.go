package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	https_server "Nexus/api/http"
	"Nexus/internal/config"
	"Nexus/pkg/redis"
	"Nexus/pkg/zlog"
)

func main() {
	// 1. 加载配置
	conf := config.GetConfig()
	host := conf.MainConfig.Host
	port := conf.MainConfig.Port

	// 2. 异步摄取消费端
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	if https_server.IngestWorker != nil {
		go func() {
			if err := https_server.IngestWorker.Run(workerCtx); err != nil {
				zlog.Error(fmt.Sprintf("摄取消费端退出: %v", err))
			}
		}()
	}

	// 3. 启动 HTTP 服务
	go func() {
		addr := fmt.Sprintf("%s:%d", host, port)
		zlog.Info(fmt.Sprintf("服务器正在启动，监听地址: %s", addr))
		// 目前使用 HTTP 启动。如果需要 HTTPS，请配置证书并使用 GE.RunTLS
		if err := https_server.GE.Run(addr); err != nil {
			zlog.Fatal("服务器启动失败: " + err.Error())
			return
		}
	}()

	// 4. 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("正在关闭服务器...")
	stopWorker()
	if https_server.IngestWorker != nil {
		if err := https_server.IngestWorker.Close(); err != nil {
			zlog.Warn(fmt.Sprintf("摄取消费端关闭失败: %v", err))
		}
	}
	if https_server.KafkaPublisher != nil {
		if err := https_server.KafkaPublisher.Close(); err != nil {
			zlog.Warn(fmt.Sprintf("Kafka 生产端关闭失败: %v", err))
		}
	}
	if err := redis.Close(); err != nil {
		zlog.Warn(fmt.Sprintf("Redis 关闭失败: %v", err))
	}
	zlog.Sync()
	zlog.Info("服务器已关闭")
}
