package providers

import "time"

// BaseProviderConfig 所有 Provider 共享的基础配置字段。
// 通过嵌入此结构体，各 Provider 的 Config 自动获得 APIKey、APIKeys、BaseURL、Model、Models、Timeout 六个字段，
// 避免重复定义。
type BaseProviderConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key"`
	APIKeys []string      `json:"api_keys,omitempty" yaml:"api_keys,omitempty"` // 可配置多个 Key；适配器目前只使用 APIKey，不做轮询
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty"`
	Models  []string      `json:"models,omitempty" yaml:"models,omitempty"` // 可用模型白名单
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// OpenAIConfig OpenAI Provider 配置
type OpenAIConfig struct {
	BaseProviderConfig `yaml:",inline"`
	Organization       string `json:"organization,omitempty" yaml:"organization,omitempty"`
	UseResponsesAPI    bool   `json:"use_responses_api,omitempty" yaml:"use_responses_api,omitempty"` // 启用新的 Responses API (2025)
}

// ClaudeConfig Claude Provider 配置
type ClaudeConfig struct {
	BaseProviderConfig `yaml:",inline"`
	AuthType          string `json:"auth_type,omitempty" yaml:"auth_type,omitempty"`           // 适配器不读取；始终以 x-api-key 头认证
	AnthropicVersion  string `json:"anthropic_version,omitempty" yaml:"anthropic_version,omitempty"` // 默认 "2023-06-01"
}

// GeminiConfig Gemini Provider 配置。
// ProjectID、Region、AuthType 不被适配器读取；认证始终使用 x-goog-api-key 头。
type GeminiConfig struct {
	BaseProviderConfig `yaml:",inline"`
	ProjectID string `json:"project_id,omitempty" yaml:"project_id,omitempty"`
	Region    string `json:"region,omitempty" yaml:"region,omitempty"`
	AuthType  string `json:"auth_type,omitempty" yaml:"auth_type,omitempty"` // "api_key"(默认) | "oauth"
}

// OllamaConfig Ollama Provider 配置（本地推理，无需鉴权）
type OllamaConfig struct {
	BaseProviderConfig `yaml:",inline"`
}

// VLLMConfig vLLM Provider 配置（OpenAI 兼容的自托管推理服务器）
type VLLMConfig struct {
	BaseProviderConfig `yaml:",inline"`
}

// GenericCompatConfig 任意 OpenAI 兼容端点配置
type GenericCompatConfig struct {
	BaseProviderConfig `yaml:",inline"`
	EndpointPath       string `json:"endpoint_path,omitempty" yaml:"endpoint_path,omitempty"`
	ModelsEndpoint     string `json:"models_endpoint,omitempty" yaml:"models_endpoint,omitempty"`
}
