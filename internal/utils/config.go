package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sherlog-detector/internal/alert"
	"sherlog-detector/internal/batch"
	"sherlog-detector/internal/export"
	"sherlog-detector/internal/features"
	"sherlog-detector/internal/model"
	"sherlog-detector/internal/parser"
	"sherlog-detector/internal/pipeline"
	"sherlog-detector/internal/rules"
	"sherlog-detector/internal/rules/builtin"

	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const DefaultConfigFile = "configs/sherlog.yaml"

type SherlogConfig struct {
	Application ApplicationYAMLConfig `yaml:"application" json:"application"`
	Parser      ParserYAMLConfig      `yaml:"parser" json:"parser"`
	Model       ModelYAMLConfig       `yaml:"model" json:"model"`
	Detection   DetectionYAMLConfig   `yaml:"detection" json:"detection"`
	RulesFile   string                `yaml:"rules_file" json:"rules_file"`
	Rules       []model.Rule          `yaml:"rules" json:"rules"`
	Report      ReportYAMLConfig      `yaml:"report" json:"report"`
	Alerting    AlertingYAMLConfig    `yaml:"alerting" json:"alerting"`
	Export      ExportYAMLConfig      `yaml:"export" json:"export"`
	Logging     LoggingYAMLConfig     `yaml:"logging" json:"logging"`
}

type ApplicationYAMLConfig struct {
	Name      string `yaml:"name" json:"name"`
	Workers   int    `yaml:"workers" json:"workers"`
	QueueSize int    `yaml:"queue_size" json:"queue_size"`
}

type DialectYAMLConfig struct {
	Name    string `yaml:"name" json:"name"`
	Pattern string `yaml:"pattern" json:"pattern"`
}

type ParserYAMLConfig struct {
	// Dialects are tried before the builtin ones
	Dialects     []DialectYAMLConfig `yaml:"dialects" json:"dialects"`
	AssumeNow    bool                `yaml:"assume_now" json:"assume_now"`
	MaxLineBytes int                 `yaml:"max_line_bytes" json:"max_line_bytes"`
}

type ModelYAMLConfig struct {
	Dir            string   `yaml:"dir" json:"dir"`
	Threshold      float64  `yaml:"threshold" json:"threshold"`
	ExcludedLabels []string `yaml:"excluded_labels" json:"excluded_labels"`
}

type DetectionYAMLConfig struct {
	WindowSeconds       int `yaml:"window_seconds" json:"window_seconds"`
	MaxEntriesPerSource int `yaml:"max_entries_per_source" json:"max_entries_per_source"`
	MaxSources          int `yaml:"max_sources" json:"max_sources"`
	Shards              int `yaml:"shards" json:"shards"`
	BurstThreshold      int `yaml:"burst_threshold" json:"burst_threshold"`
	TargetLimit         int `yaml:"target_limit" json:"target_limit"`
}

type ReportYAMLConfig struct {
	TopOffenders int `yaml:"top_offenders" json:"top_offenders"`
	MaxSamples   int `yaml:"max_samples" json:"max_samples"`
	SampleLength int `yaml:"sample_length" json:"sample_length"`
}

type AlertChannelsYAML struct {
	Log      bool `yaml:"log" json:"log"`
	File     bool `yaml:"file" json:"file"`
	Telegram bool `yaml:"telegram" json:"telegram"`
}

type TelegramYAMLConfig struct {
	BotToken        string `yaml:"bot_token" json:"bot_token"`
	ChatID          string `yaml:"chat_id" json:"chat_id"`
	ParseMode       string `yaml:"parse_mode" json:"parse_mode"`
	MessageTemplate string `yaml:"message_template" json:"message_template"`
	APIURL          string `yaml:"api_url" json:"api_url"`
	TimeoutSeconds  int    `yaml:"timeout_seconds" json:"timeout_seconds"`
	Retries         int    `yaml:"retries" json:"retries"`
}

type AlertingYAMLConfig struct {
	Enabled              bool               `yaml:"enabled" json:"enabled"`
	MinSeverity          string             `yaml:"min_severity" json:"min_severity"`
	MaxAlertsPerMinute   int                `yaml:"max_alerts_per_minute" json:"max_alerts_per_minute"`
	AlertCooldownSeconds int                `yaml:"alert_cooldown_seconds" json:"alert_cooldown_seconds"`
	Channels             AlertChannelsYAML  `yaml:"channels" json:"channels"`
	FilePath             string             `yaml:"file_path" json:"file_path"`
	Telegram             TelegramYAMLConfig `yaml:"telegram" json:"telegram"`
}

type S3YAMLConfig struct {
	Enabled        bool   `yaml:"enabled" json:"enabled"`
	Bucket         string `yaml:"bucket" json:"bucket"`
	Prefix         string `yaml:"prefix" json:"prefix"`
	Region         string `yaml:"region" json:"region"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
	Retries        int    `yaml:"retries" json:"retries"`
}

type ExportYAMLConfig struct {
	CSVPath      string       `yaml:"csv_path" json:"csv_path"`
	JSONPath     string       `yaml:"json_path" json:"json_path"`
	FeaturesPath string       `yaml:"features_path" json:"features_path"`
	MetricsPath  string       `yaml:"metrics_path" json:"metrics_path"`
	S3           S3YAMLConfig `yaml:"s3" json:"s3"`
}

type LoggingYAMLConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

// LoadConfig reads a YAML config, or JSON when the file ends in .json
func LoadConfig(filename string) (*SherlogConfig, error) {
	if filename == "" {
		filename = DefaultConfigFile
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	var config SherlogConfig
	if strings.EqualFold(filepath.Ext(filename), ".json") {
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config file %s: %w", filename, err)
		}
	} else if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config file %s: %w", filename, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func (c *SherlogConfig) Validate() error {
	if c.Application.Name == "" {
		c.Application.Name = "sherlog"
	}
	if c.Application.Workers < 0 {
		return fmt.Errorf("application.workers cannot be negative")
	}
	if c.Application.QueueSize <= 0 {
		c.Application.QueueSize = batch.DefaultQueueSize
	}

	for i, d := range c.Parser.Dialects {
		if d.Name == "" {
			c.Parser.Dialects[i].Name = fmt.Sprintf("custom-%d", i+1)
		}
		if d.Pattern == "" {
			return fmt.Errorf("parser dialect %d has no pattern", i+1)
		}
	}
	if c.Parser.MaxLineBytes <= 0 {
		c.Parser.MaxLineBytes = batch.DefaultMaxLineBytes
	}

	if c.Model.Threshold == 0 {
		c.Model.Threshold = pipeline.DefaultThreshold
	}
	if c.Model.Threshold < 0 || c.Model.Threshold > 1 {
		return fmt.Errorf("model.threshold must be within [0, 1], got %v", c.Model.Threshold)
	}
	if c.Model.ExcludedLabels == nil {
		c.Model.ExcludedLabels = append([]string(nil), pipeline.DefaultExcludedLabels...)
	}

	if c.Detection.WindowSeconds <= 0 {
		c.Detection.WindowSeconds = int(features.DefaultRetention / time.Second)
	}
	if c.Detection.MaxEntriesPerSource <= 0 {
		c.Detection.MaxEntriesPerSource = features.DefaultMaxEntries
	}
	if c.Detection.MaxSources <= 0 {
		c.Detection.MaxSources = features.DefaultMaxSources
	}
	if c.Detection.Shards <= 0 {
		c.Detection.Shards = features.DefaultShards
	}
	if c.Detection.BurstThreshold <= 0 {
		c.Detection.BurstThreshold = features.DefaultBurstThreshold
	}
	if c.Detection.TargetLimit <= 0 {
		c.Detection.TargetLimit = pipeline.DefaultTargetLimit
	}

	for i, r := range c.Rules {
		if r.Name == "" {
			return fmt.Errorf("rule %d has no name", i+1)
		}
	}

	if c.Report.TopOffenders <= 0 {
		c.Report.TopOffenders = batch.DefaultTopOffenders
	}
	if c.Report.MaxSamples <= 0 {
		c.Report.MaxSamples = batch.DefaultMaxSamples
	}
	if c.Report.SampleLength <= 0 {
		c.Report.SampleLength = batch.DefaultSampleLength
	}

	if c.Alerting.MinSeverity == "" {
		c.Alerting.MinSeverity = "medium"
	}
	if c.Alerting.MaxAlertsPerMinute <= 0 {
		c.Alerting.MaxAlertsPerMinute = 10
	}
	if c.Alerting.AlertCooldownSeconds <= 0 {
		c.Alerting.AlertCooldownSeconds = 60
	}
	if c.Alerting.Channels.File && c.Alerting.FilePath == "" {
		return fmt.Errorf("alerting.file_path is required when the file channel is enabled")
	}
	if c.Alerting.Channels.Telegram {
		if c.Alerting.Telegram.BotToken == "" || c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.bot_token and chat_id are required when the telegram channel is enabled")
		}
	}

	if c.Export.S3.Enabled && c.Export.S3.Bucket == "" {
		return fmt.Errorf("export.s3.bucket cannot be empty when s3 export is enabled")
	}
	if c.Export.S3.Prefix == "" {
		c.Export.S3.Prefix = "sherlog"
	}
	if c.Export.S3.TimeoutSeconds <= 0 {
		c.Export.S3.TimeoutSeconds = int(export.DefaultS3Timeout / time.Second)
	}
	if c.Export.S3.Retries <= 0 {
		c.Export.S3.Retries = export.DefaultS3Retries
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "INFO"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	return nil
}

// GetDefaultConfig returns the configuration used when no file is available
func GetDefaultConfig() *SherlogConfig {
	c := &SherlogConfig{
		Alerting: AlertingYAMLConfig{
			Enabled: true,
			Channels: AlertChannelsYAML{
				Log: true,
			},
		},
		Model: ModelYAMLConfig{
			Dir: "models",
		},
	}
	_ = c.Validate()
	return c
}

// Dialects compiles the configured dialects ahead of the builtin chain
func (c *SherlogConfig) Dialects() ([]parser.Dialect, error) {
	dialects := make([]parser.Dialect, 0, len(c.Parser.Dialects)+3)
	for _, d := range c.Parser.Dialects {
		compiled, err := parser.NewDialect(d.Name, d.Pattern)
		if err != nil {
			return nil, err
		}
		dialects = append(dialects, compiled)
	}
	return append(dialects, parser.DefaultDialects()...), nil
}

func (c *SherlogConfig) WindowConfig() features.WindowConfig {
	return features.WindowConfig{
		Retention:      time.Duration(c.Detection.WindowSeconds) * time.Second,
		MaxEntries:     c.Detection.MaxEntriesPerSource,
		MaxSources:     c.Detection.MaxSources,
		Shards:         c.Detection.Shards,
		BurstThreshold: c.Detection.BurstThreshold,
	}
}

func (c *SherlogConfig) MergerConfig() pipeline.MergerConfig {
	return pipeline.MergerConfig{
		Threshold:      c.Model.Threshold,
		ExcludedLabels: c.Model.ExcludedLabels,
		TargetLimit:    c.Detection.TargetLimit,
	}
}

func (c *SherlogConfig) BatchConfig() batch.Config {
	return batch.Config{
		Workers:      c.Application.Workers,
		QueueSize:    c.Application.QueueSize,
		TopOffenders: c.Report.TopOffenders,
		MaxSamples:   c.Report.MaxSamples,
		SampleLength: c.Report.SampleLength,
		MaxLineBytes: c.Parser.MaxLineBytes,
	}
}

func (c *SherlogConfig) DispatcherConfig() alert.DispatcherConfig {
	return alert.DispatcherConfig{
		MinSeverity:        model.ParseSeverity(c.Alerting.MinSeverity),
		MaxAlertsPerMinute: c.Alerting.MaxAlertsPerMinute,
		Cooldown:           time.Duration(c.Alerting.AlertCooldownSeconds) * time.Second,
	}
}

func (c *SherlogConfig) TelegramConfig() alert.TelegramConfig {
	t := c.Alerting.Telegram
	return alert.TelegramConfig{
		BotToken:        t.BotToken,
		ChatID:          t.ChatID,
		ParseMode:       t.ParseMode,
		MessageTemplate: t.MessageTemplate,
		APIURL:          t.APIURL,
		Timeout:         time.Duration(t.TimeoutSeconds) * time.Second,
		Retries:         t.Retries,
	}
}

func (c *SherlogConfig) S3Config() export.S3Config {
	return export.S3Config{
		Bucket:  c.Export.S3.Bucket,
		Prefix:  c.Export.S3.Prefix,
		Region:  c.Export.S3.Region,
		Timeout: time.Duration(c.Export.S3.TimeoutSeconds) * time.Second,
		Retries: c.Export.S3.Retries,
	}
}

// GetRuleConfigByName finds an inline rule override
func (c *SherlogConfig) GetRuleConfigByName(name string) (*model.Rule, bool) {
	for i := range c.Rules {
		if c.Rules[i].Name == name {
			return &c.Rules[i], true
		}
	}
	return nil, false
}

// RegisterRulesFromConfig registers the builtin categories, then overlays the
// rules file and the inline rules, in that order
func RegisterRulesFromConfig(engine *rules.Engine, config *SherlogConfig, logger *logrus.Logger) error {
	builtin.RegisterAll(engine)

	if config.RulesFile != "" {
		fileRules, err := rules.LoadRules(config.RulesFile)
		if err != nil {
			return err
		}
		if err := rules.ApplyRules(engine, fileRules, logger); err != nil {
			return fmt.Errorf("failed to apply rules from %s: %w", config.RulesFile, err)
		}
		logger.Infof("Applied %d rule overrides from %s", len(fileRules), config.RulesFile)
	}

	if err := rules.ApplyRules(engine, config.Rules, logger); err != nil {
		return fmt.Errorf("failed to apply inline rules: %w", err)
	}
	return nil
}
