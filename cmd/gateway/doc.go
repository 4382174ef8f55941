// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供网关服务端程序入口。

# 概述

cmd/gateway 是网关的可执行入口：跨多个已配置 LLM Provider 路由聊天补全
请求的 HTTP API 服务，附带健康检查与版本查询子命令。支持 YAML 配置文件
加载、环境变量覆盖、结构化日志（zap）以及独立端口的 Prometheus 指标。

# 核心类型

  - Server           — 主服务器，管理 HTTP、Metrics 双端口及优雅关闭
  - Middleware       — HTTP 中间件函数签名 func(http.Handler) http.Handler
  - responseWriter   — 包装 http.ResponseWriter 以捕获状态码

# 主要能力

  - 子命令：serve（启动服务）、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    MetricsMiddleware、CORS、RateLimiter（基于 IP）、APIKeyAuth
    （X-API-Key / query 参数，仅在配置了 api_keys 时启用）
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus）
  - 优雅关闭：信号监听 → 停止健康探测 → 关闭 HTTP → 关闭 Metrics →
    刷新遥测 → Wait
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
