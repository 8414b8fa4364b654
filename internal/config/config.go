package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	OrderCacheTTLSeconds  int
	AuthSecret            string
	ManagerPIN            string
	LogLevel              string
	LogFormat             string
	LoyaltyAccrualRate    decimal.Decimal
	LoyaltyPointsPerUnit  decimal.Decimal
	StockOversellPolicy   string
	CompensateSideEffects bool
	TxMaxRetries          int
	PINAttemptsPerMinute  int
}

var (
	defaultAccrualRate   = decimal.RequireFromString("0.01")
	defaultPointsPerUnit = decimal.NewFromInt(1)
)

func Load() Config {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGIN", "http://127.0.0.1:3000")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("ORDER_CACHE_TTL_SECONDS", 30)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("LOYALTY_ACCRUAL_RATE", defaultAccrualRate.String())
	v.SetDefault("LOYALTY_POINTS_PER_UNIT", defaultPointsPerUnit.String())
	v.SetDefault("STOCK_OVERSELL_POLICY", "reject")
	v.SetDefault("COMPENSATE_SIDE_EFFECTS", true)
	v.SetDefault("TX_MAX_RETRIES", 3)
	v.SetDefault("PIN_ATTEMPTS_PER_MINUTE", 5)

	ttl := v.GetInt("ORDER_CACHE_TTL_SECONDS")
	if ttl < 1 {
		ttl = 30
	}
	retries := v.GetInt("TX_MAX_RETRIES")
	if retries < 0 {
		retries = 3
	}
	pinAttempts := v.GetInt("PIN_ATTEMPTS_PER_MINUTE")
	if pinAttempts < 1 {
		pinAttempts = 5
	}

	return Config{
		Port:                  v.GetString("PORT"),
		AllowedOrigin:         v.GetString("ALLOWED_ORIGIN"),
		DatabaseURL:           v.GetString("DATABASE_URL"),
		RedisAddr:             v.GetString("REDIS_ADDR"),
		RedisPassword:         v.GetString("REDIS_PASSWORD"),
		RedisDB:               v.GetInt("REDIS_DB"),
		OrderCacheTTLSeconds:  ttl,
		AuthSecret:            strings.TrimSpace(v.GetString("AUTH_SECRET")),
		ManagerPIN:            strings.TrimSpace(v.GetString("MANAGER_PIN")),
		LogLevel:              v.GetString("LOG_LEVEL"),
		LogFormat:             v.GetString("LOG_FORMAT"),
		LoyaltyAccrualRate:    positiveDecimal(v.GetString("LOYALTY_ACCRUAL_RATE"), defaultAccrualRate, true),
		LoyaltyPointsPerUnit:  positiveDecimal(v.GetString("LOYALTY_POINTS_PER_UNIT"), defaultPointsPerUnit, false),
		StockOversellPolicy:   strings.ToLower(strings.TrimSpace(v.GetString("STOCK_OVERSELL_POLICY"))),
		CompensateSideEffects: v.GetBool("COMPENSATE_SIDE_EFFECTS"),
		TxMaxRetries:          retries,
		PINAttemptsPerMinute:  pinAttempts,
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func positiveDecimal(raw string, fallback decimal.Decimal, allowZero bool) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || d.IsNegative() || (!allowZero && d.IsZero()) {
		return fallback
	}
	return d
}
