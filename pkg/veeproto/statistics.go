// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The OpenVee Authors

package veeproto

import (
	"errors"
	"fmt"
	"time"
)

// Statistics tracks telemetry frame statistics and error rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalFrames      uint64
	ValidFrames      uint64
	LengthErrors     uint64
	UnknownCharInput uint64
	DecodeErrors     uint64
	AnomalousValues  uint64
	LoadAnomalies    uint64
	MotionAnomalies  uint64
	RepAnomalies     uint64
	UnknownStates    uint64
	UnknownFaults    uint64

	// Per-stream counters
	Samples      uint64
	Reps         uint64
	Faults       uint64
	SequenceGaps uint64

	lastSequence uint32
	haveSequence bool

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update records one frame outcome: the decoded event (nil on decode
// failure), the decode error if any, and the validation results.
func (s *Statistics) Update(ev Event, decodeErr error, validationErrors []ValidationError) {
	s.TotalFrames++

	if decodeErr != nil {
		var de *DecodeError
		if errors.As(decodeErr, &de) {
			switch de.Kind {
			case DecodeUnexpectedLength:
				s.LengthErrors++
			case DecodeUnknownCharacteristic:
				s.UnknownCharInput++
			default:
				s.DecodeErrors++
			}
		} else {
			s.DecodeErrors++
		}
		return
	}

	switch e := ev.(type) {
	case Sample:
		s.Samples++
		if s.haveSequence && e.Sequence != s.lastSequence+1 && e.Sequence > s.lastSequence {
			s.SequenceGaps++
		}
		s.lastSequence = e.Sequence
		s.haveSequence = true
	case RepEvent:
		s.Reps++
	case Fault:
		s.Faults++
	}

	if len(validationErrors) > 0 {
		for _, err := range validationErrors {
			switch err.Type {
			case AnomalyLoadRange:
				s.LoadAnomalies++
			case AnomalyVelocityRange, AnomalyPowerRange, AnomalyPositionRange:
				s.MotionAnomalies++
			case AnomalyRepCount:
				s.RepAnomalies++
			case AnomalyUnknownState:
				s.UnknownStates++
			case AnomalyUnknownFault:
				s.UnknownFaults++
			}
			s.AnomalousValues++
		}
	} else {
		s.ValidFrames++
	}

	s.LastUpdateTime = time.Now()
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		errorCount := s.LengthErrors + s.UnknownCharInput + s.DecodeErrors + s.AnomalousValues
		s.ErrorRate = float64(errorCount) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var validPercent float64
	if s.TotalFrames > 0 {
		validPercent = float64(s.ValidFrames) * 100.0 / float64(s.TotalFrames)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames)
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", s.ValidFrames, validPercent)
	result += fmt.Sprintf("Samples:         %8d\n", s.Samples)
	result += fmt.Sprintf("Reps:            %8d\n", s.Reps)

	if s.Faults > 0 {
		result += fmt.Sprintf("Faults:          %8d\n", s.Faults)
	}
	if s.SequenceGaps > 0 {
		result += fmt.Sprintf("Sequence Gaps:   %8d\n", s.SequenceGaps)
	}
	if s.LengthErrors > 0 {
		result += fmt.Sprintf("Length Errors:   %8d\n", s.LengthErrors)
	}
	if s.UnknownCharInput > 0 {
		result += fmt.Sprintf("Unknown Chars:   %8d\n", s.UnknownCharInput)
	}
	if s.DecodeErrors > 0 {
		result += fmt.Sprintf("Decode Errors:   %8d\n", s.DecodeErrors)
	}
	if s.AnomalousValues > 0 {
		result += fmt.Sprintf("Anomalies:       %8d\n", s.AnomalousValues)
		if s.LoadAnomalies > 0 {
			result += fmt.Sprintf("  Load:             %5d\n", s.LoadAnomalies)
		}
		if s.MotionAnomalies > 0 {
			result += fmt.Sprintf("  Motion:           %5d\n", s.MotionAnomalies)
		}
		if s.RepAnomalies > 0 {
			result += fmt.Sprintf("  Rep Counters:     %5d\n", s.RepAnomalies)
		}
		if s.UnknownStates > 0 {
			result += fmt.Sprintf("  Unknown States:   %5d\n", s.UnknownStates)
		}
		if s.UnknownFaults > 0 {
			result += fmt.Sprintf("  Unknown Faults:   %5d\n", s.UnknownFaults)
		}
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	now := time.Now()
	*s = Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}
