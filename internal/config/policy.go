package config

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/hydroalert-service/internal/domain"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// PolicyWatcher serves the current deployment policy. When backed by a file it
// re-reads the file on change; an invalid revision is logged and ignored so
// the previous policy stays in force.
type PolicyWatcher struct {
	v              *viper.Viper
	current        atomic.Pointer[domain.Policy]
	windowDuration time.Duration
	logger         *slog.Logger
	onReload       func(applied bool)
}

// LoadPolicy reads the deployment policy from path. An empty path yields the
// built-in defaults. windowDuration is the nominal span of one aggregation
// window, used by index-based trend regression.
func LoadPolicy(path string, windowDuration time.Duration, logger *slog.Logger) (*PolicyWatcher, error) {
	w := &PolicyWatcher{windowDuration: windowDuration, logger: logger}

	if path == "" {
		p := domain.DefaultPolicy()
		p.Trend.WindowDuration = windowDuration
		w.current.Store(&p)
		return w, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	setPolicyDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read policy file %s: %w", path, err)
	}
	w.v = v

	p, err := w.decode()
	if err != nil {
		return nil, fmt.Errorf("policy file %s: %w", path, err)
	}
	w.current.Store(&p)
	return w, nil
}

// Policy returns the current snapshot. Callers must treat it as read-only.
func (w *PolicyWatcher) Policy() domain.Policy {
	return *w.current.Load()
}

// OnReload registers a hook called after every reload attempt.
func (w *PolicyWatcher) OnReload(fn func(applied bool)) {
	w.onReload = fn
}

// Run watches the policy file until ctx is cancelled. It returns immediately
// when the policy is not file-backed.
func (w *PolicyWatcher) Run(ctx context.Context) error {
	if w.v == nil {
		return nil
	}
	w.v.OnConfigChange(func(e fsnotify.Event) {
		w.logger.Info("policy file changed", "file", e.Name, "op", e.Op.String())
		w.reload()
	})
	w.v.WatchConfig()
	w.logger.Info("watching policy file", "file", w.v.ConfigFileUsed())
	<-ctx.Done()
	return nil
}

func (w *PolicyWatcher) reload() {
	p, err := w.decode()
	applied := err == nil
	if err != nil {
		w.logger.Error("policy reload rejected, keeping previous policy", "error", err)
	} else {
		w.current.Store(&p)
		w.logger.Info("policy reloaded",
			"noise_mode", p.Noise.Mode,
			"waspada", p.Thresholds.Waspada,
			"bahaya", p.Thresholds.Bahaya,
			"device_overrides", len(p.DeviceThresholds),
		)
	}
	if w.onReload != nil {
		w.onReload(applied)
	}
}

func (w *PolicyWatcher) decode() (domain.Policy, error) {
	var f policyFile
	if err := w.v.Unmarshal(&f); err != nil {
		return domain.Policy{}, fmt.Errorf("decode policy: %w", err)
	}
	p := f.toDomain(w.windowDuration)
	if err := p.Validate(); err != nil {
		return domain.Policy{}, err
	}
	return p, nil
}

func setPolicyDefaults(v *viper.Viper) {
	d := domain.DefaultPolicy()
	v.SetDefault("thresholds.waspada", d.Thresholds.Waspada)
	v.SetDefault("thresholds.siaga2", d.Thresholds.Siaga2)
	v.SetDefault("thresholds.siaga1", d.Thresholds.Siaga1)
	v.SetDefault("thresholds.bahaya", d.Thresholds.Bahaya)

	v.SetDefault("noise.mode", string(d.Noise.Mode))
	v.SetDefault("noise.max_jump_cm", d.Noise.MaxJumpCm)
	v.SetDefault("noise.min_interval", d.Noise.MinInterval)
	v.SetDefault("noise.noise_floor_cm", d.Noise.NoiseFloorCm)
	v.SetDefault("noise.relative_factor", d.Noise.RelativeFactor)
	v.SetDefault("noise.baseline_ttl", d.Noise.BaselineTTL)

	v.SetDefault("prediction.lookback", d.Trend.Lookback)
	v.SetDefault("prediction.min_points", d.Trend.MinPoints)
	v.SetDefault("prediction.min_rise_rate", d.Trend.MinRiseRate)
	v.SetDefault("prediction.regression_axis", string(d.Trend.Axis))

	v.SetDefault("notification.cooldown", d.Gate.Cooldown)
	v.SetDefault("notification.significant_rise_cm", d.Gate.SignificantRiseCm)
}

// policyFile mirrors the YAML layout:
//
//	thresholds: {waspada: 60, siaga2: 90, siaga1: 120, bahaya: 180}
//	device_thresholds:
//	  - {device_id: DEV-DEEP, waspada: 235, siaga2: 300, siaga1: 350, bahaya: 400}
//	noise: {mode: absolute, max_jump_cm: 100, min_interval: 30s, baseline_ttl: 60s}
//	prediction:
//	  rain_factors: [{below: 5, factor: 1.0}, {below: 20, factor: 1.1}, {factor: 1.35}]
//	notification: {cooldown: 30m, significant_rise_cm: 20}
//
// Device IDs live in list entries because viper lowercases map keys.
type policyFile struct {
	Thresholds       thresholdsFile         `mapstructure:"thresholds"`
	DeviceThresholds []deviceThresholdsFile `mapstructure:"device_thresholds"`
	Noise            noiseFile              `mapstructure:"noise"`
	Prediction       predictionFile         `mapstructure:"prediction"`
	Notification     notificationFile       `mapstructure:"notification"`
}

type thresholdsFile struct {
	Waspada float64 `mapstructure:"waspada"`
	Siaga2  float64 `mapstructure:"siaga2"`
	Siaga1  float64 `mapstructure:"siaga1"`
	Bahaya  float64 `mapstructure:"bahaya"`
}

type deviceThresholdsFile struct {
	DeviceID       string `mapstructure:"device_id"`
	thresholdsFile `mapstructure:",squash"`
}

type noiseFile struct {
	Mode           string        `mapstructure:"mode"`
	MaxJumpCm      float64       `mapstructure:"max_jump_cm"`
	MinInterval    time.Duration `mapstructure:"min_interval"`
	NoiseFloorCm   float64       `mapstructure:"noise_floor_cm"`
	RelativeFactor float64       `mapstructure:"relative_factor"`
	BaselineTTL    time.Duration `mapstructure:"baseline_ttl"`
}

type predictionFile struct {
	Lookback       time.Duration `mapstructure:"lookback"`
	MinPoints      int           `mapstructure:"min_points"`
	MinRiseRate    float64       `mapstructure:"min_rise_rate"`
	RegressionAxis string        `mapstructure:"regression_axis"`
	RainFactors    []factorFile  `mapstructure:"rain_factors"`
	WindFactors    []factorFile  `mapstructure:"wind_factors"`
}

// factorFile leaves Below nil on the open-ended last step.
type factorFile struct {
	Below  *float64 `mapstructure:"below"`
	Factor float64  `mapstructure:"factor"`
}

type notificationFile struct {
	Cooldown          time.Duration `mapstructure:"cooldown"`
	SignificantRiseCm float64       `mapstructure:"significant_rise_cm"`
}

func (t thresholdsFile) toDomain() domain.Thresholds {
	return domain.Thresholds{Waspada: t.Waspada, Siaga2: t.Siaga2, Siaga1: t.Siaga1, Bahaya: t.Bahaya}
}

func (f policyFile) toDomain(windowDuration time.Duration) domain.Policy {
	p := domain.Policy{
		Thresholds: f.Thresholds.toDomain(),
		Noise: domain.NoisePolicy{
			Mode:           domain.NoiseMode(strings.ToLower(f.Noise.Mode)),
			MaxJumpCm:      f.Noise.MaxJumpCm,
			MinInterval:    f.Noise.MinInterval,
			NoiseFloorCm:   f.Noise.NoiseFloorCm,
			RelativeFactor: f.Noise.RelativeFactor,
			BaselineTTL:    f.Noise.BaselineTTL,
		},
		Trend: domain.TrendPolicy{
			Lookback:       f.Prediction.Lookback,
			MinPoints:      f.Prediction.MinPoints,
			MinRiseRate:    f.Prediction.MinRiseRate,
			Axis:           domain.RegressionAxis(strings.ToLower(f.Prediction.RegressionAxis)),
			WindowDuration: windowDuration,
			RainFactors:    factorTable(f.Prediction.RainFactors, domain.DefaultRainFactors()),
			WindFactors:    factorTable(f.Prediction.WindFactors, domain.DefaultWindFactors()),
		},
		Gate: domain.GatePolicy{
			Cooldown:          f.Notification.Cooldown,
			SignificantRiseCm: f.Notification.SignificantRiseCm,
		},
	}
	if len(f.DeviceThresholds) > 0 {
		p.DeviceThresholds = make(map[string]domain.Thresholds, len(f.DeviceThresholds))
		for _, d := range f.DeviceThresholds {
			p.DeviceThresholds[d.DeviceID] = d.toDomain()
		}
	}
	return p
}

func factorTable(steps []factorFile, def domain.FactorTable) domain.FactorTable {
	if len(steps) == 0 {
		return def
	}
	out := make(domain.FactorTable, len(steps))
	for i, s := range steps {
		below := math.Inf(1)
		if s.Below != nil {
			below = *s.Below
		}
		out[i] = domain.FactorStep{Below: below, Factor: s.Factor}
	}
	return out
}
