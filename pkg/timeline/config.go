package timeline

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// rulesFile is the on-disk YAML shape for classifier tuning. Durations are
// plain numbers (seconds/minutes) to keep the file editable by hand.
type rulesFile struct {
	AIReviewers           []string `yaml:"ai_reviewers"`
	DeniedBots            []string `yaml:"denied_bots"`
	BotPatterns           []string `yaml:"bot_patterns"`
	HybridReviewers       []string `yaml:"hybrid_reviewers"`
	BurstComments         int      `yaml:"burst_comments"`
	BurstWindowSeconds    int      `yaml:"burst_window_seconds"`
	BurstMaxLatencyMinute int      `yaml:"burst_max_latency_minutes"`
}

// LoadClassifierConfig reads a YAML rules file and merges it over the
// defaults. Absent fields keep their default values.
func LoadClassifierConfig(path string) (ClassifierConfig, error) {
	cfg := DefaultClassifierConfig()

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read classifier rules: %w", err)
	}

	var file rulesFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return cfg, fmt.Errorf("parse classifier rules: %w", err)
	}

	if len(file.AIReviewers) > 0 {
		cfg.AIReviewers = file.AIReviewers
	}
	if len(file.DeniedBots) > 0 {
		cfg.DeniedBots = file.DeniedBots
	}
	if len(file.BotPatterns) > 0 {
		cfg.BotPatterns = file.BotPatterns
	}
	if len(file.HybridReviewers) > 0 {
		cfg.HybridReviewers = file.HybridReviewers
	}
	if file.BurstComments > 0 {
		cfg.BurstComments = file.BurstComments
	}
	if file.BurstWindowSeconds > 0 {
		cfg.BurstWindow = time.Duration(file.BurstWindowSeconds) * time.Second
	}
	if file.BurstMaxLatencyMinute > 0 {
		cfg.BurstMaxLatency = time.Duration(file.BurstMaxLatencyMinute) * time.Minute
	}
	return cfg, nil
}
