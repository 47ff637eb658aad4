// Package config loads the agent's runtime configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration.
type Config struct {
	Server struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"server"`
	Agent struct {
		Cycles          int    `mapstructure:"cycles"`
		IntervalMS      int    `mapstructure:"interval_ms"`
		WindowCapacity  int    `mapstructure:"window_capacity"`
		Seed            int64  `mapstructure:"seed"`
		CalendarPath    string `mapstructure:"calendar_path"`
		ReportPath      string `mapstructure:"report_path"`
		SummaryPath     string `mapstructure:"summary_path"`
		InitialScenario string `mapstructure:"initial_scenario"`
		ScenarioTarget  string `mapstructure:"scenario_target"`
	} `mapstructure:"agent"`
	Telemetry struct {
		CollectorURL  string `mapstructure:"collector_url"`
		QueueCapacity int    `mapstructure:"queue_capacity"`
	} `mapstructure:"telemetry"`
	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`
}

// Load reads config.yaml from the given directory. A missing file is not an
// error; defaults and POA_* environment variables still apply.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)
	v.SetEnvPrefix("POA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Agent.Cycles < 1 {
		return Config{}, fmt.Errorf("agent.cycles must be positive, got %d", cfg.Agent.Cycles)
	}
	if cfg.Agent.WindowCapacity < 1 {
		return Config{}, fmt.Errorf("agent.window_capacity must be positive, got %d", cfg.Agent.WindowCapacity)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("agent.cycles", 20)
	v.SetDefault("agent.interval_ms", 0)
	v.SetDefault("agent.window_capacity", 1000)
	v.SetDefault("agent.seed", 42)
	v.SetDefault("agent.calendar_path", "payment_calendar.csv")
	v.SetDefault("agent.report_path", "agent_report.json")
	v.SetDefault("agent.summary_path", "agent_report.md")
	v.SetDefault("agent.initial_scenario", "")
	v.SetDefault("agent.scenario_target", "")
	v.SetDefault("telemetry.collector_url", "")
	v.SetDefault("telemetry.queue_capacity", 256)
	v.SetDefault("logging.level", "info")
}
