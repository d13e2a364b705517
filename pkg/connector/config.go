// Copyright 2024-2026 Aiku AI

package connector

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/template"
	"time"

	up "go.mau.fi/util/configupgrade"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"

	"github.com/aiku/chatwoot-telegram-bridge/pkg/store"
)

//go:embed example-config.yaml
var ExampleConfig string

const (
	megabyte = 1 << 20

	// maxTopicNameLength is the Bot API limit for forum topic names.
	maxTopicNameLength = 128
)

// Config is the full bridge configuration.
type Config struct {
	Telegram TelegramConfig    `yaml:"telegram"`
	Chatwoot ChatwootConfig    `yaml:"chatwoot"`
	Bridge   BridgeConfig      `yaml:"bridge"`
	Webhook  WebhookConfig     `yaml:"webhook"`
	Database store.Config      `yaml:"database"`
	Logging  zeroconfig.Config `yaml:"logging"`
}

type TelegramConfig struct {
	Token string `yaml:"token"`
	// ChatID is the control chat. A private chat with the operator in flat
	// mode, a forum supergroup in forum mode.
	ChatID int64 `yaml:"chat_id"`
	// AdminIDs lists the Telegram user ids allowed to drive the bridge.
	// Empty means ChatID when it is a private chat, otherwise anyone in
	// the control chat.
	AdminIDs      []int64 `yaml:"admin_ids"`
	APIURL        string  `yaml:"api_url"`
	RateLimit     float64 `yaml:"rate_limit"`
	RateBurst     int     `yaml:"rate_burst"`
	MaxDownloadMB int     `yaml:"max_download_mb"`
}

type ChatwootConfig struct {
	BaseURL     string `yaml:"base_url"`
	AccessToken string `yaml:"access_token"`
	AccountID   int64  `yaml:"account_id"`
}

type BridgeConfig struct {
	ForumMode             bool   `yaml:"forum_mode"`
	TopicTemplate         string `yaml:"topic_template"`
	AttachmentConcurrency int    `yaml:"attachment_concurrency"`
	PlatformLimitMB       int    `yaml:"platform_limit_mb"`
	SafetyMarginMB        int    `yaml:"safety_margin_mb"`
	DownloadTimeout       int    `yaml:"download_timeout"`
	EchoTTL               int    `yaml:"echo_ttl"`

	topicTemplate *template.Template `yaml:"-"`
}

type WebhookConfig struct {
	Listen string `yaml:"listen"`
	Path   string `yaml:"path"`
	// Secret, when set, must be passed as ?token= on every webhook call.
	Secret string `yaml:"secret"`
}

// TopicParams holds the parameters for rendering the topic name template.
type TopicParams struct {
	ConversationID int64
	Name           string
	Email          string
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// PostProcess applies environment overrides and defaults, then validates.
func (c *Config) PostProcess() error {
	if err := c.applyEnv(); err != nil {
		return err
	}
	c.Chatwoot.BaseURL = strings.TrimRight(c.Chatwoot.BaseURL, "/")

	if c.Telegram.RateLimit <= 0 {
		c.Telegram.RateLimit = 25
	}
	if c.Telegram.RateBurst <= 0 {
		c.Telegram.RateBurst = 5
	}
	if c.Telegram.MaxDownloadMB <= 0 {
		c.Telegram.MaxDownloadMB = 20
	}
	if len(c.Telegram.AdminIDs) == 0 && c.Telegram.ChatID > 0 {
		c.Telegram.AdminIDs = []int64{c.Telegram.ChatID}
	}
	if c.Bridge.AttachmentConcurrency <= 0 {
		c.Bridge.AttachmentConcurrency = 2
	}
	if c.Bridge.PlatformLimitMB <= 0 {
		c.Bridge.PlatformLimitMB = 50
	}
	if c.Bridge.SafetyMarginMB < 0 || c.Bridge.SafetyMarginMB >= c.Bridge.PlatformLimitMB {
		return fmt.Errorf("safety_margin_mb must be between 0 and %d", c.Bridge.PlatformLimitMB-1)
	}
	if c.Bridge.DownloadTimeout <= 0 {
		c.Bridge.DownloadTimeout = 20
	}
	if c.Bridge.EchoTTL <= 0 {
		c.Bridge.EchoTTL = 600
	}
	if c.Bridge.TopicTemplate == "" {
		c.Bridge.TopicTemplate = "#{{.ConversationID}} {{.Name}}"
	}
	var err error
	c.Bridge.topicTemplate, err = template.New("topic").Parse(c.Bridge.TopicTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse topic_template: %w", err)
	}
	if c.Webhook.Listen == "" {
		c.Webhook.Listen = ":8080"
	}
	if c.Webhook.Path == "" {
		c.Webhook.Path = "/webhook"
	}
	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	return nil
}

// applyEnv overrides file settings with the deployment environment.
// TELEGRAM_ADMIN_ID names the control chat, DB_PATH the sqlite file.
func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int64) error {
		v := os.Getenv(key)
		if v == "" {
			return nil
		}
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = n
		return nil
	}
	setString("TELEGRAM_TOKEN", &c.Telegram.Token)
	setString("CHATWOOT_ACCESS_TOKEN", &c.Chatwoot.AccessToken)
	setString("CHATWOOT_BASE_URL", &c.Chatwoot.BaseURL)
	if err := setInt("TELEGRAM_ADMIN_ID", &c.Telegram.ChatID); err != nil {
		return err
	}
	if err := setInt("CHATWOOT_ACCOUNT_ID", &c.Chatwoot.AccountID); err != nil {
		return err
	}
	if path := os.Getenv("DB_PATH"); path != "" && (c.Database.Type == "" || c.Database.Type == "sqlite") {
		c.Database.URI = path
	}
	if port := os.Getenv("PORT"); port != "" {
		if _, err := strconv.ParseUint(port, 10, 16); err != nil {
			return fmt.Errorf("invalid PORT: %w", err)
		}
		c.Webhook.Listen = ":" + port
	}
	return nil
}

// Validate reports the settings required to actually run the bridge.
func (c *Config) Validate() error {
	var errs []error
	if c.Telegram.Token == "" {
		errs = append(errs, errors.New("telegram.token is not set"))
	}
	if c.Telegram.ChatID == 0 {
		errs = append(errs, errors.New("telegram.chat_id is not set"))
	}
	if c.Chatwoot.BaseURL == "" {
		errs = append(errs, errors.New("chatwoot.base_url is not set"))
	}
	if c.Chatwoot.AccessToken == "" {
		errs = append(errs, errors.New("chatwoot.access_token is not set"))
	}
	if c.Chatwoot.AccountID == 0 {
		errs = append(errs, errors.New("chatwoot.account_id is not set"))
	}
	return errors.Join(errs...)
}

// MaxAttachmentSize is the largest payload sent to Telegram: the platform
// limit minus the safety margin.
func (c *Config) MaxAttachmentSize() int64 {
	return int64(c.Bridge.PlatformLimitMB-c.Bridge.SafetyMarginMB) * megabyte
}

// MaxDownloadSize is the largest file the Bot API lets the bot fetch.
func (c *Config) MaxDownloadSize() int64 {
	return int64(c.Telegram.MaxDownloadMB) * megabyte
}

func (c *Config) downloadTimeout() time.Duration {
	return time.Duration(c.Bridge.DownloadTimeout) * time.Second
}

func (c *Config) echoTTL() time.Duration {
	return time.Duration(c.Bridge.EchoTTL) * time.Second
}

// IsAdmin reports whether the Telegram user may drive the bridge.
func (c *Config) IsAdmin(userID int64) bool {
	if len(c.Telegram.AdminIDs) == 0 {
		return true
	}
	for _, id := range c.Telegram.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// FormatTopicName renders the forum topic name for a conversation.
func (c *Config) FormatTopicName(params TopicParams) string {
	fallback := fmt.Sprintf("#%d %s", params.ConversationID, params.Name)
	if c.Bridge.topicTemplate == nil {
		return truncateRunes(strings.TrimSpace(fallback), maxTopicNameLength)
	}
	var buf bytes.Buffer
	if err := c.Bridge.topicTemplate.Execute(&buf, params); err != nil {
		buf.Reset()
		buf.WriteString(fallback)
	}
	name := strings.TrimSpace(buf.String())
	if name == "" {
		name = strings.TrimSpace(fallback)
	}
	return truncateRunes(name, maxTopicNameLength)
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "telegram", "token")
	helper.Copy(up.Int, "telegram", "chat_id")
	helper.Copy(up.List, "telegram", "admin_ids")
	helper.Copy(up.Str, "telegram", "api_url")
	helper.Copy(up.Int|up.Float, "telegram", "rate_limit")
	helper.Copy(up.Int, "telegram", "rate_burst")
	helper.Copy(up.Int, "telegram", "max_download_mb")

	helper.Copy(up.Str, "chatwoot", "base_url")
	helper.Copy(up.Str, "chatwoot", "access_token")
	helper.Copy(up.Int, "chatwoot", "account_id")

	helper.Copy(up.Bool, "bridge", "forum_mode")
	helper.Copy(up.Str, "bridge", "topic_template")
	helper.Copy(up.Int, "bridge", "attachment_concurrency")
	helper.Copy(up.Int, "bridge", "platform_limit_mb")
	helper.Copy(up.Int, "bridge", "safety_margin_mb")
	helper.Copy(up.Int, "bridge", "download_timeout")
	helper.Copy(up.Int, "bridge", "echo_ttl")

	helper.Copy(up.Str, "webhook", "listen")
	helper.Copy(up.Str, "webhook", "path")
	helper.Copy(up.Str|up.Null, "webhook", "secret")

	helper.Copy(up.Str, "database", "type")
	helper.Copy(up.Str, "database", "uri")
	helper.Copy(up.Str|up.Null, "database", "key_prefix")

	helper.Copy(up.Map, "logging")
}

// Upgrader merges a user config file onto the embedded example config.
func Upgrader() *up.StructUpgrader {
	return &up.StructUpgrader{
		SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
		Blocks: [][]string{
			{"telegram"},
			{"chatwoot"},
			{"bridge"},
			{"webhook"},
			{"database"},
			{"logging"},
		},
		Base: ExampleConfig,
	}
}
