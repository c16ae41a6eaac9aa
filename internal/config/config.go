package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// MailConfig 定义邮箱服务商轮询配置
type MailConfig struct {
	BaseURL      string        // 邮箱服务商 API 基地址
	PollInterval time.Duration // 轮询间隔，默认 30s
	FetchTimeout time.Duration // 单次拉取的超时时间，默认 20s
	PageSize     int           // 单次拉取的最大邮件数，默认 50
}

// ExtractConfig 定义文本理解（抽取）服务配置
type ExtractConfig struct {
	BaseURL string        // 抽取服务基地址
	APIKey  string        // 抽取服务 API Key
	Model   string        // 模型标识
	Timeout time.Duration // 单次抽取调用超时，默认 30s
}

// GeocodeConfig 定义地理编码服务配置
type GeocodeConfig struct {
	BaseURL string        // 地理编码服务基地址
	APIKey  string        // 地理编码 API Key
	Timeout time.Duration // 单次解析超时，默认 10s
	RPS     float64       // 对外调用限速（每秒请求数），默认 5
}

// SMTPConfig 定义可选的直收 SMTP 入口配置
type SMTPConfig struct {
	Enabled  bool   // 是否启用 SMTP 直收入口
	BindAddr string // SMTP 监听地址，默认 ":2525"
	Domain   string // HELO/EHLO 响应域名
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
}

// DatabaseConfig 定义数据库连接配置（支持 MySQL 和 PostgreSQL）
type DatabaseConfig struct {
	Type            string        // 数据库类型: "mysql" 或 "postgres"，留空使用内存存储
	DSN             string        // 数据库连接字符串
	MaxOpenConns    int           // 最大打开连接数，默认 25
	MaxIdleConns    int           // 最大空闲连接数，默认 5
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5 分钟
}

// RedisConfig 定义 Redis 配置（地理缓存的共享二级缓存，可选）
type RedisConfig struct {
	Enabled  bool   // 是否启用 Redis 二级缓存
	Address  string // Redis 服务地址，默认 "localhost:6379"
	Password string // Redis 认证密码，留空表示无密码
	DB       int    // Redis 数据库编号，默认 0
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server   ServerConfig
	Mail     MailConfig
	Extract  ExtractConfig
	Geocode  GeocodeConfig
	SMTP     SMTPConfig
	CORS     CORSConfig
	Log      LogConfig
	Database DatabaseConfig
	Redis    RedisConfig
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量（最高优先级）
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: TRUCKBOARD_
// 例如: TRUCKBOARD_MAIL_POLL_INTERVAL, TRUCKBOARD_EXTRACT_API_KEY
func Load() (*Config, error) {
	// 尝试加载 .env 文件（静默失败，因为 .env 文件是可选的）
	loadEnvFile()

	viper.SetEnvPrefix("truckboard")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("mail.base_url", "https://graph.microsoft.com/v1.0")
	viper.SetDefault("mail.poll_interval", "30s")
	viper.SetDefault("mail.fetch_timeout", "20s")
	viper.SetDefault("mail.page_size", 50)
	viper.SetDefault("extract.base_url", "https://api.openai.com/v1")
	viper.SetDefault("extract.api_key", "")
	viper.SetDefault("extract.model", "gpt-4o-mini")
	viper.SetDefault("extract.timeout", "30s")
	viper.SetDefault("geocode.base_url", "https://maps.googleapis.com/maps/api/geocode/json")
	viper.SetDefault("geocode.api_key", "")
	viper.SetDefault("geocode.timeout", "10s")
	viper.SetDefault("geocode.rps", 5.0)
	viper.SetDefault("smtp.enabled", false)
	viper.SetDefault("smtp.bind_addr", ":2525")
	viper.SetDefault("smtp.domain", "truckboard.local")
	viper.SetDefault("cors.allowed_origins", "*")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
	viper.SetDefault("database.type", "") // 默认为空，使用内存存储
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	pollInterval, err := time.ParseDuration(viper.GetString("mail.poll_interval"))
	if err != nil {
		return nil, fmt.Errorf("invalid mail.poll_interval: %w", err)
	}
	if pollInterval < time.Second {
		return nil, fmt.Errorf("mail.poll_interval must be at least 1s, got %s", pollInterval)
	}

	fetchTimeout := durationOr("mail.fetch_timeout", 20*time.Second)
	extractTimeout := durationOr("extract.timeout", 30*time.Second)
	geocodeTimeout := durationOr("geocode.timeout", 10*time.Second)
	connMaxLifetime := durationOr("database.conn_max_lifetime", 5*time.Minute)

	pageSize := viper.GetInt("mail.page_size")
	if pageSize <= 0 {
		pageSize = 50
	}

	rps := viper.GetFloat64("geocode.rps")
	if rps <= 0 {
		rps = 5.0
	}

	corsOrigins := parseList(viper.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	dbType := viper.GetString("database.type")
	if dbType != "" && dbType != "mysql" && dbType != "postgres" {
		return nil, fmt.Errorf("unsupported database.type: %s (supported: mysql, postgres)", dbType)
	}
	if dbType != "" && viper.GetString("database.dsn") == "" {
		return nil, fmt.Errorf("database.dsn is required when database.type is set")
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: viper.GetString("server.host"),
			Port: viper.GetInt("server.port"),
		},
		Mail: MailConfig{
			BaseURL:      strings.TrimRight(viper.GetString("mail.base_url"), "/"),
			PollInterval: pollInterval,
			FetchTimeout: fetchTimeout,
			PageSize:     pageSize,
		},
		Extract: ExtractConfig{
			BaseURL: strings.TrimRight(viper.GetString("extract.base_url"), "/"),
			APIKey:  viper.GetString("extract.api_key"),
			Model:   viper.GetString("extract.model"),
			Timeout: extractTimeout,
		},
		Geocode: GeocodeConfig{
			BaseURL: viper.GetString("geocode.base_url"),
			APIKey:  viper.GetString("geocode.api_key"),
			Timeout: geocodeTimeout,
			RPS:     rps,
		},
		SMTP: SMTPConfig{
			Enabled:  viper.GetBool("smtp.enabled"),
			BindAddr: viper.GetString("smtp.bind_addr"),
			Domain:   viper.GetString("smtp.domain"),
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       viper.GetString("log.level"),
			Development: viper.GetBool("log.development"),
		},
		Database: DatabaseConfig{
			Type:            dbType,
			DSN:             viper.GetString("database.dsn"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: connMaxLifetime,
		},
		Redis: RedisConfig{
			Enabled:  viper.GetBool("redis.enabled"),
			Address:  viper.GetString("redis.address"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
	}

	return cfg, nil
}

// durationOr 解析时长配置项，解析失败时返回默认值
func durationOr(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(viper.GetString(key))
	if err != nil {
		return fallback
	}
	return d
}

// parseList 将逗号分隔的字符串解析为字符串切片
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 加载顺序：
//  1. 当前目录的 .env
//  2. 父目录的 .env（用于从 backend/ 子目录运行的情况）
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
