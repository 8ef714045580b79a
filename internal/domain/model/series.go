package model

import "time"

// TrendPoint is one sample of a parameter's telemetry history.
type TrendPoint struct {
	TS    time.Time `json:"ts"`
	Value float64   `json:"value"`
}

// At implements retention.Point.
func (p TrendPoint) At() time.Time { return p.TS }

// TargetPoint is one sample of the target series: the measured process
// value and the setpoint in effect at that time.
type TargetPoint struct {
	TS       time.Time `json:"ts"`
	PV       float64   `json:"pv"`
	Setpoint float64   `json:"sp"`
}

// At implements retention.Point.
func (p TargetPoint) At() time.Time { return p.TS }
