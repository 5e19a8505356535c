package ledger

import (
	"encoding/json"
	"fmt"
	"time"
)

// InFlightCommand is a command whose begin notification arrived but whose end has not.
type InFlightCommand struct {
	Started time.Time
	Command string
}

// CommandStats is the running aggregate for one exact command text.
// Count == SuccessCount + FailCount always holds.
type CommandStats struct {
	Count           uint64        `json:"count"`
	TotalDuration   time.Duration `json:"total_duration"`
	LastRunDuration time.Duration `json:"last_run_duration"`
	SuccessCount    uint64        `json:"success_count"`
	FailCount       uint64        `json:"fail_count"`
}

// Mean returns the average run time, or zero when nothing was recorded.
func (s CommandStats) Mean() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(s.Count)
}

// UnmarshalJSON accepts durations either as integer nanoseconds or as
// {"secs": N, "nanos": N} objects, the layout older stats files use.
func (s *CommandStats) UnmarshalJSON(b []byte) error {
	var raw struct {
		Count           uint64          `json:"count"`
		TotalDuration   json.RawMessage `json:"total_duration"`
		LastRunDuration json.RawMessage `json:"last_run_duration"`
		SuccessCount    uint64          `json:"success_count"`
		FailCount       uint64          `json:"fail_count"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	total, err := decodeDuration(raw.TotalDuration)
	if err != nil {
		return fmt.Errorf("total_duration: %w", err)
	}
	last, err := decodeDuration(raw.LastRunDuration)
	if err != nil {
		return fmt.Errorf("last_run_duration: %w", err)
	}
	*s = CommandStats{
		Count:           raw.Count,
		TotalDuration:   total,
		LastRunDuration: last,
		SuccessCount:    raw.SuccessCount,
		FailCount:       raw.FailCount,
	}
	return nil
}

func decodeDuration(raw json.RawMessage) (time.Duration, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	if raw[0] == '{' {
		var sn struct {
			Secs  uint64 `json:"secs"`
			Nanos uint32 `json:"nanos"`
		}
		if err := json.Unmarshal(raw, &sn); err != nil {
			return 0, err
		}
		return time.Duration(sn.Secs)*time.Second + time.Duration(sn.Nanos), nil
	}
	var ns int64
	if err := json.Unmarshal(raw, &ns); err != nil {
		return 0, err
	}
	return time.Duration(ns), nil
}

// Stats maps command text to its aggregate.
type Stats map[string]CommandStats

// Clone returns an independent copy. A nil receiver yields an empty map.
func (s Stats) Clone() Stats {
	out := make(Stats, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
