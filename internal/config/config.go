package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server   ServerConfig
	Telegram TelegramConfig
	Solana   SolanaConfig
	Market   MarketConfig
	AI       AIConfig
	Workflow WorkflowConfig
	Store    StoreConfig
	Notify   NotifyConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	telegram, err := loadTelegramConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	workflow, err := loadWorkflowConfig()
	if err != nil {
		return nil, err
	}

	store, err := loadStoreConfig()
	if err != nil {
		return nil, err
	}

	notify, err := loadNotifyConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:   server,
		Telegram: telegram,
		Solana: SolanaConfig{
			RPCURL:     getEnvOrDefault("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com"),
			Commitment: getEnvOrDefault("SOLANA_COMMITMENT", "confirmed"),
		},
		Market: MarketConfig{
			BaseURL: getEnvOrDefault("COINGECKO_API", "https://api.coingecko.com/api/v3"),
			APIKey:  strings.TrimSpace(os.Getenv("COINGECKO_API_KEY")),
		},
		AI:       ai,
		Workflow: workflow,
		Store:    store,
		Notify:   notify,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// TelegramConfig 描述机器人与运营通知频道。
type TelegramConfig struct {
	Token          string
	OperatorToken  string
	OperatorChatID int64
	PollTimeout    int
	Debug          bool
}

// Enabled 表示是否配置了机器人令牌。
func (c TelegramConfig) Enabled() bool {
	return c.Token != ""
}

// OperatorEnabled 表示是否配置了运营通知目标。
func (c TelegramConfig) OperatorEnabled() bool {
	return c.OperatorChatID != 0 && (c.OperatorToken != "" || c.Token != "")
}

func loadTelegramConfig() (TelegramConfig, error) {
	operatorID, err := parseOptionalInt64Env("ADMIN_USER_ID")
	if err != nil {
		return TelegramConfig{}, err
	}

	pollTimeout := 60
	if override, err := parseOptionalIntEnv("TELEGRAM_POLL_TIMEOUT"); err != nil {
		return TelegramConfig{}, err
	} else if override != nil && *override > 0 {
		pollTimeout = *override
	}

	debug, err := parseBoolEnv("TELEGRAM_DEBUG", false)
	if err != nil {
		return TelegramConfig{}, err
	}

	cfg := TelegramConfig{
		Token:         strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")),
		OperatorToken: strings.TrimSpace(os.Getenv("ADMIN_BOT_TOKEN")),
		PollTimeout:   pollTimeout,
		Debug:         debug,
	}
	if operatorID != nil {
		cfg.OperatorChatID = *operatorID
	}
	return cfg, nil
}

// SolanaConfig 描述链上 RPC 节点。
type SolanaConfig struct {
	RPCURL     string
	Commitment string
}

// MarketConfig 描述行情数据源。
type MarketConfig struct {
	BaseURL string
	APIKey  string
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}, nil
}

// WorkflowConfig 描述会话流程的词表与超时。
type WorkflowConfig struct {
	RestartCommand   string
	Triggers         []string
	Options          []string
	Affirmative      []string
	Negative         []string
	OperationTimeout time.Duration
	ReseedOnTerminal bool
}

func loadWorkflowConfig() (WorkflowConfig, error) {
	timeout := 30 * time.Second
	if seconds, err := parseOptionalIntEnv("WORKFLOW_OPERATION_TIMEOUT"); err != nil {
		return WorkflowConfig{}, err
	} else if seconds != nil {
		if *seconds < 1 {
			return WorkflowConfig{}, fmt.Errorf("invalid WORKFLOW_OPERATION_TIMEOUT value %d: must be positive", *seconds)
		}
		timeout = time.Duration(*seconds) * time.Second
	}

	reseed, err := parseBoolEnv("WORKFLOW_RESEED_ON_TERMINAL", false)
	if err != nil {
		return WorkflowConfig{}, err
	}

	return WorkflowConfig{
		RestartCommand:   getEnvOrDefault("WORKFLOW_RESTART_COMMAND", "/start"),
		Triggers:         parseListEnv("WORKFLOW_TRIGGERS", []string{"lookup"}),
		Options:          parseListEnv("WORKFLOW_OPTIONS", []string{"brief", "balance"}),
		Affirmative:      parseListEnv("WORKFLOW_AFFIRMATIVE", []string{"yes", "y"}),
		Negative:         parseListEnv("WORKFLOW_NEGATIVE", []string{"no", "n"}),
		OperationTimeout: timeout,
		ReseedOnTerminal: reseed,
	}, nil
}

// StoreConfig 描述会话持久化。Path 为空时仅保存在内存中。
type StoreConfig struct {
	Path            string
	TranscriptLimit int
}

func loadStoreConfig() (StoreConfig, error) {
	limit := 200
	if override, err := parseOptionalIntEnv("TRANSCRIPT_LIMIT"); err != nil {
		return StoreConfig{}, err
	} else if override != nil && *override > 0 {
		limit = *override
	}
	return StoreConfig{
		Path:            strings.TrimSpace(os.Getenv("STORE_PATH")),
		TranscriptLimit: limit,
	}, nil
}

// NotifyConfig 描述运营通知的队列与限速。
type NotifyConfig struct {
	QueueSize  int
	RatePerSec float64
	Burst      int
}

func loadNotifyConfig() (NotifyConfig, error) {
	cfg := NotifyConfig{QueueSize: 256, RatePerSec: 1, Burst: 5}

	if size, err := parseOptionalIntEnv("NOTIFY_QUEUE_SIZE"); err != nil {
		return NotifyConfig{}, err
	} else if size != nil && *size > 0 {
		cfg.QueueSize = *size
	}

	if rate, err := parseOptionalFloatEnv("NOTIFY_RATE_PER_SEC"); err != nil {
		return NotifyConfig{}, err
	} else if rate != nil && *rate > 0 {
		cfg.RatePerSec = *rate
	}

	if burst, err := parseOptionalIntEnv("NOTIFY_BURST"); err != nil {
		return NotifyConfig{}, err
	} else if burst != nil && *burst > 0 {
		cfg.Burst = *burst
	}
	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// parseListEnv 解析逗号分隔的列表，忽略空项。
func parseListEnv(key string, defaultValue []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return append([]string(nil), defaultValue...)
	}

	var items []string
	for _, part := range strings.Split(raw, ",") {
		if item := strings.TrimSpace(part); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return append([]string(nil), defaultValue...)
	}
	return items
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalInt64Env(key string) (*int64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
