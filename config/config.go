package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	JWT          JWTConfig          `mapstructure:"jwt"`
	Email        EmailConfig        `mapstructure:"email"`
	CORS         CORSConfig         `mapstructure:"cors"`
	Stripe       StripeConfig       `mapstructure:"stripe"`
	Credits      CreditsConfig      `mapstructure:"credits"`
	Referral     ReferralConfig     `mapstructure:"referral"`
	Subscription SubscriptionConfig `mapstructure:"subscription"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Alert        AlertConfig        `mapstructure:"alert"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// JWTConfig 认证服务签发的令牌，本服务只做校验
type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

type EmailConfig struct {
	SMTPHost string `mapstructure:"smtp_host"`
	SMTPPort int    `mapstructure:"smtp_port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

type StripeConfig struct {
	SecretKey     string `mapstructure:"secret_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

// CreditsConfig 各能力的默认额度（key 为能力名，如 gpt-4）
type CreditsConfig struct {
	Defaults map[string]int `mapstructure:"defaults"`
}

type ReferralConfig struct {
	TrialDays          int `mapstructure:"trial_days"`
	CodeTTLHours       int `mapstructure:"code_ttl_hours"`
	CodeLength         int `mapstructure:"code_length"`
	RefreshWindowHours int `mapstructure:"refresh_window_hours"`
}

type SubscriptionConfig struct {
	GracePeriodHours int `mapstructure:"grace_period_hours"`
}

type SchedulerConfig struct {
	DowngradeIntervalHours       int    `mapstructure:"downgrade_interval_hours"`
	ReferralRefreshIntervalHours int    `mapstructure:"referral_refresh_interval_hours"`
	CreditResetEnabled           bool   `mapstructure:"credit_reset_enabled"`
	LockPrefix                   string `mapstructure:"lock_prefix"`
}

// AlertConfig 运维告警：webhook 处理失败时通知
type AlertConfig struct {
	OperatorEmail   string `mapstructure:"operator_email"`
	DeadLetterQueue string `mapstructure:"dead_letter_queue"`
}

// TrialDuration 推荐试用时长，默认 3 天
func (c ReferralConfig) TrialDuration() time.Duration {
	days := c.TrialDays
	if days <= 0 {
		days = 3
	}
	return time.Duration(days) * 24 * time.Hour
}

// CodeTTL 推荐码有效期，默认 24 小时
func (c ReferralConfig) CodeTTL() time.Duration {
	hours := c.CodeTTLHours
	if hours <= 0 {
		hours = 24
	}
	return time.Duration(hours) * time.Hour
}

// CodeLen 推荐码长度，默认 8 位
func (c ReferralConfig) CodeLen() int {
	if c.CodeLength <= 0 {
		return 8
	}
	return c.CodeLength
}

// RefreshWindow 批量刷新的提前量，默认 2 小时
func (c ReferralConfig) RefreshWindow() time.Duration {
	hours := c.RefreshWindowHours
	if hours <= 0 {
		hours = 2
	}
	return time.Duration(hours) * time.Hour
}

// GracePeriod 到期后的付款宽限期，默认 1 天
func (c SubscriptionConfig) GracePeriod() time.Duration {
	hours := c.GracePeriodHours
	if hours <= 0 {
		hours = 24
	}
	return time.Duration(hours) * time.Hour
}

func (c SchedulerConfig) DowngradeInterval() time.Duration {
	if c.DowngradeIntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.DowngradeIntervalHours) * time.Hour
}

func (c SchedulerConfig) ReferralRefreshInterval() time.Duration {
	if c.ReferralRefreshIntervalHours <= 0 {
		return time.Hour
	}
	return time.Duration(c.ReferralRefreshIntervalHours) * time.Hour
}

func Load(configPath string) (*Config, error) {
	// 优先尝试读取 config.local.yaml（包含真实密钥，不提交到git）
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")

	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// 环境变量覆盖，如 STRIPE_WEBHOOK_SECRET
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("referral.trial_days", 3)
	v.SetDefault("referral.code_ttl_hours", 24)
	v.SetDefault("referral.code_length", 8)
	v.SetDefault("referral.refresh_window_hours", 2)
	v.SetDefault("subscription.grace_period_hours", 24)
	v.SetDefault("scheduler.downgrade_interval_hours", 24)
	v.SetDefault("scheduler.referral_refresh_interval_hours", 1)
	v.SetDefault("scheduler.credit_reset_enabled", true)
	v.SetDefault("scheduler.lock_prefix", "ledger:lock:")
	v.SetDefault("alert.dead_letter_queue", "ledger:webhook_failures")

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
