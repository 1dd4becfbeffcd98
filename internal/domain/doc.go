// Package domain models river telemetry and the flood-alert rules applied to it.
//
// # Data Source
//
// Each monitoring station reports roughly every five seconds:
//
//	{"deviceID":"DEV-001","waterLevel":87.5,"rainIntensity":0.004,"windSpeed":3.2}
//
// waterLevel is in centimetres above the riverbed. Stations fitted with an
// ultrasonic sensor report the distance from the sensor to the surface
// instead; see [LevelFromDistance]. rainIntensity is in mm/s as read from the
// tipping-bucket gauge and is converted to mm/h during aggregation.
//
// # Severity Tiers
//
// Tiers are ordered Normal < Waspada < Siaga 2 < Siaga 1 < Bahaya, following
// the BPBD convention in which Siaga 1 is the more urgent standby level. Each
// non-normal tier starts at a configurable water level held in [Thresholds];
// rivers differ in depth so every deployment ships its own table.
//
// # Windows
//
// Accepted readings are grouped into fixed-size windows (12 samples by
// default, about one minute at a five second cadence). Each window is reduced
// by [Aggregate] into one [AggregatedReading], which is the only durable
// time series. Rise rates produced by [Predict] are expressed in cm per
// minute; with the index regression axis the nominal window duration converts
// one window step into minutes.
//
// # Noise
//
// Ultrasonic sensors occasionally echo off debris and report wild values.
// [CheckNoise] compares a reading against the last accepted one using either
// an absolute jump within a short interval or a jump relative to the current
// level.
//
// # Alerts
//
// [EvaluateGate] deduplicates alerts per device with a cooldown. Tier changes
// pass immediately and a significant rise bypasses the cooldown. Alert text is
// Indonesian; see [AlertText] and [AlertMessage].
package domain
