package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	configFilePathENV = "CONFIG_FILE"
	tokenTelegramENV  = "TELEGRAM_TOKEN"
	databaseDSN       = "DATABASE_DSN"
)

// FeedConfig — транспорт: WS-стрим + REST-бэкфилл.
type FeedConfig struct {
	WSURL   string `yaml:"ws_url"`
	RESTURL string `yaml:"rest_url"`

	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectBase        time.Duration `yaml:"reconnect_base"`
	ReconnectMax         time.Duration `yaml:"reconnect_max"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`

	BackfillDays  int           `yaml:"backfill_days"`
	RequestDelay  time.Duration `yaml:"request_delay"` // пауза между REST-страницами (rate limit)
	PageLimit     int           `yaml:"page_limit"`
	BufferMaxSize int           `yaml:"buffer_max_size"`
}

// FrictionConfig — фрикции применяются на входе И на выходе против нас.
type FrictionConfig struct {
	SpreadPct     float64 `yaml:"spread_pct"`     // 0.02 => 0.02%
	SlippagePct   float64 `yaml:"slippage_pct"`   //
	CommissionPct float64 `yaml:"commission_pct"` // на сторону
}

// PerUnit — суммарная фрикция на единицу цены, доля.
func (f FrictionConfig) PerUnit() float64 {
	return (f.SpreadPct + f.SlippagePct + f.CommissionPct) / 100.0
}

// LifecycleConfig — стопы / тейки / частичная фиксация / трейлинг.
type LifecycleConfig struct {
	MaxHoldBars int `yaml:"max_hold_bars"`

	PartialEnabled  bool    `yaml:"partial_enabled"`
	PartialTriggerR float64 `yaml:"partial_trigger_r"` // 0.8 => фиксируем часть на 0.8R
	PartialFraction float64 `yaml:"partial_fraction"`  // 0.5 => половину
	BEBufferR       float64 `yaml:"be_buffer_r"`       // BE = entry + buffer*R (для лонга)

	TrailTriggerR  float64 `yaml:"trail_trigger_r"` // с какого R включается трейлинг
	TrailATRMult   float64 `yaml:"trail_atr_mult"`
	TrailSwingBars int     `yaml:"trail_swing_bars"` // окно поиска свинга
	ATRPeriod      int     `yaml:"atr_period"`
}

// RiskConfig — лимиты гейта.
type RiskConfig struct {
	MaxDailyLossPct    float64 `yaml:"max_daily_loss_pct"` // 3.0 => 3%
	MaxDrawdownPct     float64 `yaml:"max_drawdown_pct"`
	MaxOpenPositions   int     `yaml:"max_open_positions"`
	MaxConsecLosses    int     `yaml:"max_consec_losses"`
	ForcedCooldownBars int     `yaml:"forced_cooldown_bars"`
	LossCooldownBars   int     `yaml:"loss_cooldown_bars"`
	MinBarsBetween     int     `yaml:"min_bars_between"`
}

// SizingConfig — границы сайзера.
type SizingConfig struct {
	BaseFraction  float64 `yaml:"base_fraction"` // 0.02 => 2% капитала под риском
	MinFraction   float64 `yaml:"min_fraction"`
	MaxFraction   float64 `yaml:"max_fraction"`
	KellyFraction float64 `yaml:"kelly_fraction"` // суб-Келли множитель, обычно 0.25-0.5
	TargetVol     float64 `yaml:"target_vol"`     // целевой ATR/price
	MinVolScale   float64 `yaml:"min_vol_scale"`
	MaxVolScale   float64 `yaml:"max_vol_scale"`
	DDThreshold   float64 `yaml:"dd_threshold"`   // с какой просадки начинаем резать
	DDMaxCut      float64 `yaml:"dd_max_cut"`     // максимум среза по просадке
	MinConfidence float64 `yaml:"min_confidence"` // ниже — линейно режем
	ConfFloor     float64 `yaml:"conf_floor"`
}

// LTFConfig — подтверждение на младшем таймфрейме.
type LTFConfig struct {
	Enabled             bool    `yaml:"enabled"`
	ZoneTimeoutBars     int     `yaml:"zone_timeout_bars"`
	ConfirmTimeoutBars  int     `yaml:"confirm_timeout_bars"`
	RequireVolumeSpike  bool    `yaml:"require_volume_spike"`
	VolumeSpikeMult     float64 `yaml:"volume_spike_mult"`
	SwingLookback       int     `yaml:"swing_lookback"`
	StopBufferPct       float64 `yaml:"stop_buffer_pct"`
	StructureBreakBars  int     `yaml:"structure_break_bars"`
}

// StrategyConfig — пороги скорера.
type StrategyConfig struct {
	ScoreThreshold float64 `yaml:"score_threshold"`
	EMAShort       int     `yaml:"ema_short"`
	EMALong        int     `yaml:"ema_long"`
	RSIPeriod      int     `yaml:"rsi_period"`
	RSIOverbought  float64 `yaml:"rsi_overbought"`
	RSIOversold    float64 `yaml:"rsi_oversold"`
	StopATRMult    float64 `yaml:"stop_atr_mult"`
	TakeProfitRR   float64 `yaml:"take_profit_rr"`
	VolLookback    int     `yaml:"vol_lookback"`
	TickSize       float64 `yaml:"tick_size"` // 0 — уровни не выравниваем
}

// Config ...
type Config struct {
	Telegram struct {
		Token  string `yaml:"token"`
		ChatID int64  `yaml:"chat_id"`
	} `yaml:"telegram"`
	DB string `yaml:"db_dsn"`

	Jaeger struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"jaeger"`

	Symbols        []string `yaml:"symbols"`
	Timeframe      string   `yaml:"timeframe"`     // старший ТФ, решения
	LTFTimeframe   string   `yaml:"ltf_timeframe"` // младший ТФ, подтверждения
	InitialCapital float64  `yaml:"initial_capital"`

	Feed      FeedConfig      `yaml:"feed"`
	Friction  FrictionConfig  `yaml:"friction"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Risk      RiskConfig      `yaml:"risk"`
	Sizing    SizingConfig    `yaml:"sizing"`
	LTF       LTFConfig       `yaml:"ltf"`
	Strategy  StrategyConfig  `yaml:"strategy"`
}

// BarInterval — длительность одного бара старшего ТФ.
func (c *Config) BarInterval() time.Duration { return tfDuration(c.Timeframe) }

// LTFBarInterval — длительность бара младшего ТФ.
func (c *Config) LTFBarInterval() time.Duration { return tfDuration(c.LTFTimeframe) }

func tfDuration(tf string) time.Duration {
	switch tf {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "1h", "60m":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	default:
		return time.Minute
	}
}

func NewConfig() (*Config, error) {

	configFileName := os.Getenv(configFilePathENV)
	if configFileName == "" {
		configFileName = "values_local.yaml"
	}
	file, err := os.Open("configs/" + configFileName)
	if err != nil {
		log.Fatalf("Failed to open config file: %v", err)
	}

	defer func() {
		_ = file.Close()
	}()

	decoder := yaml.NewDecoder(file)
	config := Config{
		Timeframe:      getenvDefault("TIMEFRAME", "15m"),
		LTFTimeframe:   getenvDefault("LTF_TIMEFRAME", "1m"),
		InitialCapital: floatFromEnv("INITIAL_CAPITAL", 10000),

		Feed: FeedConfig{
			MaxReconnectAttempts: intFromEnv("MAX_RECONNECT_ATTEMPTS", 10),
			ReconnectBase:        durationFromEnv("RECONNECT_BASE", "1s"),
			ReconnectMax:         durationFromEnv("RECONNECT_MAX", "60s"),
			HeartbeatInterval:    durationFromEnv("HEARTBEAT_INTERVAL", "20s"),
			BackfillDays:         intFromEnv("BACKFILL_DAYS", 7),
			RequestDelay:         durationFromEnv("REQUEST_DELAY", "150ms"),
			PageLimit:            intFromEnv("PAGE_LIMIT", 300),
			BufferMaxSize:        intFromEnv("BUFFER_MAX_SIZE", 2000),
		},
		Friction: FrictionConfig{
			SpreadPct:     0.02,
			SlippagePct:   0.02,
			CommissionPct: 0.05,
		},
		Lifecycle: LifecycleConfig{
			MaxHoldBars:     intFromEnv("MAX_HOLD_BARS", 48),
			PartialEnabled:  true,
			PartialTriggerR: 0.8,
			PartialFraction: 0.5,
			BEBufferR:       0.05,
			TrailTriggerR:   1.2,
			TrailATRMult:    1.5,
			TrailSwingBars:  10,
			ATRPeriod:       14,
		},
		Risk: RiskConfig{
			MaxDailyLossPct:    3.0,
			MaxDrawdownPct:     10.0,
			MaxOpenPositions:   1,
			MaxConsecLosses:    3,
			ForcedCooldownBars: 12,
			LossCooldownBars:   3,
			MinBarsBetween:     2,
		},
		Sizing: SizingConfig{
			BaseFraction:  0.02,
			MinFraction:   0.0025,
			MaxFraction:   0.03,
			KellyFraction: 0.3,
			TargetVol:     0.01,
			MinVolScale:   0.4,
			MaxVolScale:   1.2,
			DDThreshold:   0.05,
			DDMaxCut:      0.6,
			MinConfidence: 0.7,
			ConfFloor:     0.4,
		},
		LTF: LTFConfig{
			Enabled:            boolFromEnv("LTF_ENABLED", true),
			ZoneTimeoutBars:    20,
			ConfirmTimeoutBars: 15,
			RequireVolumeSpike: false,
			VolumeSpikeMult:    1.5,
			SwingLookback:      12,
			StopBufferPct:      0.05,
			StructureBreakBars: 5,
		},
		Strategy: StrategyConfig{
			ScoreThreshold: 0.65,
			EMAShort:       9,
			EMALong:        21,
			RSIPeriod:      14,
			RSIOverbought:  70,
			RSIOversold:    30,
			StopATRMult:    1.5,
			TakeProfitRR:   2.0,
			VolLookback:    20,
		},
	}
	err = decoder.Decode(&config)
	if err != nil {
		log.Fatalf("Failed to decode config file: %v", err)
	}

	token := os.Getenv(tokenTelegramENV)
	if token != "" {
		config.Telegram.Token = token
	}

	dsn := os.Getenv(databaseDSN)
	if dsn != "" {
		config.DB = dsn
	}

	if len(config.Symbols) == 0 {
		return nil, fmt.Errorf("config: symbols list is empty")
	}

	return &config, nil
}

func intFromEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func floatFromEnv(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func boolFromEnv(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if v == "1" || v == "true" || v == "TRUE" {
			return true
		}
		if v == "0" || v == "false" || v == "FALSE" {
			return false
		}
	}
	return def
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationFromEnv(key, def string) time.Duration {
	val := getenvDefault(key, def)
	d, err := time.ParseDuration(val)
	if err != nil {
		d, _ = time.ParseDuration(def)
	}
	return d
}
