// Command genmock generates synthetic river telemetry fixtures: a rising flood
// scenario per device, sampled at a fixed interval. The output is a JSON array
// of telemetry payloads that can be replayed against /api/device/store-data or
// produced onto the telemetry topic.
//
// Usage:
//
//	go run ./cmd/genmock -devices 3 -samples 120 -out data/mock/flood_scenario.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/couchcryptid/hydroalert-service/internal/domain"
)

type scenario struct {
	devices   int
	samples   int
	baseLevel float64 // cm at the first sample
	risePerS  float64 // cm added per sample
	jitter    float64 // max absolute noise per sample, cm
	rainMMs   float64 // peak rain intensity in mm/s
	seed      uint64
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	var s scenario
	flag.IntVar(&s.devices, "devices", 3, "number of devices")
	flag.IntVar(&s.samples, "samples", 120, "samples per device")
	flag.Float64Var(&s.baseLevel, "base-level", 40, "starting water level in cm")
	flag.Float64Var(&s.risePerS, "rise", 1.2, "water level rise per sample in cm")
	flag.Float64Var(&s.jitter, "jitter", 0.5, "max random jitter per sample in cm")
	flag.Float64Var(&s.rainMMs, "rain", 0.02, "peak rain intensity in mm/s")
	flag.Uint64Var(&s.seed, "seed", 1, "random seed")
	out := flag.String("out", "", "output path for the telemetry fixture")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}
	if s.devices <= 0 || s.samples <= 0 {
		return fmt.Errorf("-devices and -samples must be positive")
	}

	readings := generate(s)
	if err := writeJSON(*out, readings); err != nil {
		return fmt.Errorf("writing fixture: %w", err)
	}
	log.Printf("wrote %d readings to %s", len(readings), *out)

	printStats(readings, domain.DefaultThresholds())
	return nil
}

// generate interleaves the devices so the fixture replays like live traffic.
// Each device starts 10cm above the previous one.
func generate(s scenario) []domain.Telemetry {
	rng := rand.New(rand.NewPCG(s.seed, s.seed^0x9e3779b97f4a7c15))
	out := make([]domain.Telemetry, 0, s.devices*s.samples)

	for i := range s.samples {
		progress := float64(i) / float64(max(s.samples-1, 1))
		for d := range s.devices {
			level := s.baseLevel + float64(d)*10 + float64(i)*s.risePerS
			if s.jitter > 0 {
				level += (rng.Float64()*2 - 1) * s.jitter
			}
			out = append(out, domain.Telemetry{
				DeviceID:      deviceID(d),
				WaterLevel:    round1(math.Max(level, 0)),
				RainIntensity: s.rainMMs * math.Sin(progress*math.Pi),
				WindSpeed:     round1(2 + rng.Float64()*8),
			})
		}
	}
	return out
}

func deviceID(i int) string { return fmt.Sprintf("DEV-%03d", i+1) }

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644) //nolint:gosec // fixture output
}

// printStats logs how many samples fall into each tier.
func printStats(readings []domain.Telemetry, t domain.Thresholds) {
	counts := make(map[domain.Status]int)
	for _, r := range readings {
		counts[t.Classify(r.WaterLevel)]++
	}
	for s := domain.StatusNormal; s <= domain.MaxStatus; s++ {
		log.Printf("%-8s %d", s, counts[s])
	}
}
