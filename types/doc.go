// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供网关最底层的公共类型定义。

# 概述

types 不依赖任何内部包，为 llm、api 等上层模块提供统一的类型契约：
对话消息、工具定义、错误体系、Token 统计。所有跨包共享的结构体和
错误码均定义于此，以避免循环依赖。

# 核心类型

  - Message           — 对话消息（Role、Content、ToolCalls、Images）
  - ToolSchema        — 工具定义（name + description + JSON Schema parameters）
  - ToolResult        — 工具执行结果
  - Error / ErrorCode — 结构化错误体系，含 HTTP 状态码、Retryable、Provider 标记
  - TokenUsage        — Token 消耗统计（prompt/completion/total/cost）
  - Tokenizer         — 框架级 Token 计数接口（Message / ToolSchema 感知）

# 主要能力

  - 错误工具链：IsRetryable / GetErrorCode
  - 错误构造：NewError，配合 WithCause / WithHTTPStatus / WithRetryable / WithProvider 链式设置
  - Token 估算：EstimateTokenizer（中英文字符分别计算）
*/
package types
