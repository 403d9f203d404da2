package service

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	// heart rate range used to map normalized 0-1 readings back to bpm
	minHeartRateBPM = 40.0
	maxHeartRateBPM = 220.0

	metersPerKilometer = 1000.0
	metersPerMile      = 1609.34
	metersPerFoot      = 0.3048

	// basal metabolic rate used to pro-rate total calories from active calories
	bmrCaloriesPerDay = 1800.0
)

// sleepStageAliases maps each standard stage to the names providers use for it
var sleepStageAliases = map[string][]string{
	"light": {"light", "light_sleep"},
	"deep":  {"deep", "deep_sleep", "slow_wave"},
	"rem":   {"rem", "rem_sleep", "rapid_eye_movement"},
	"awake": {"awake", "wake", "wakefulness"},
}

// Summary is the unit-normalized view of one data item or the mean over
// several items. Nil fields were not present in the source.
type Summary struct {
	AvgHeartRateBPM     *float64           `json:"avgHeartRateBpm,omitempty"`
	RestingHeartRateBPM *float64           `json:"restingHeartRateBpm,omitempty"`
	DistanceMeters      *float64           `json:"distanceMeters,omitempty"`
	Steps               *int64             `json:"steps,omitempty"`
	TotalCalories       *float64           `json:"totalCalories,omitempty"`
	SleepDurationMs     *float64           `json:"sleepDurationMs,omitempty"`
	SleepStagesMs       map[string]float64 `json:"sleepStagesMs,omitempty"`
}

// NormalizedData is what the processor writes back into a processed record
type NormalizedData struct {
	Items   []Summary `json:"items"`
	Summary Summary   `json:"summary"`
}

// NormalizeHeartRate converts a heart rate block to bpm in place. It accepts
// normalized 0-1 readings, the avg_hr alias and raw data points.
func NormalizeHeartRate(hr map[string]interface{}) map[string]interface{} {
	if hr == nil {
		return nil
	}

	if unit, _ := hr["unit"].(string); unit == "normalized" {
		if avg, ok := number(hr["avg_normalized"]); ok && avg > 0 && avg < 1 {
			hr["avg_bpm"] = minHeartRateBPM + avg*(maxHeartRateBPM-minHeartRateBPM)
			hr["unit"] = "bpm"
		}
	}

	if unit, ok := hr["unit"].(string); ok {
		switch strings.ToLower(unit) {
		case "bpm", "beats_per_minute", "beats per minute":
			hr["unit"] = "bpm"
		}
	} else {
		hr["unit"] = "bpm"
	}

	if _, ok := hr["avg_bpm"]; !ok {
		if avg, ok := hr["avg_hr"]; ok {
			hr["avg_bpm"] = avg
		}
	}

	if _, ok := hr["avg_bpm"]; !ok {
		if points, ok := hr["data_points"].([]interface{}); ok {
			var sum float64
			var n int
			for _, p := range points {
				point, ok := p.(map[string]interface{})
				if !ok {
					continue
				}
				if v, ok := number(point["value"]); ok {
					sum += v
					n++
				}
			}
			if n > 0 {
				hr["avg_bpm"] = sum / float64(n)
			}
		}
	}

	return hr
}

// NormalizeActivity converts distance to meters, fills total calories and
// truncates steps to an integer
func NormalizeActivity(activity map[string]interface{}) map[string]interface{} {
	if activity == nil {
		return nil
	}

	if distance, ok := number(activity["distance"]); ok {
		unit, _ := activity["distance_unit"].(string)
		switch strings.ToLower(unit) {
		case "km", "kilometers":
			activity["distance_meters"] = distance * metersPerKilometer
		case "mi", "miles":
			activity["distance_meters"] = distance * metersPerMile
		case "ft", "feet":
			activity["distance_meters"] = distance * metersPerFoot
		default:
			activity["distance_meters"] = distance
		}
		activity["distance_unit"] = "meters"
	}

	if _, ok := activity["total_calories"]; !ok {
		if calories, ok := activity["calories"]; ok {
			activity["total_calories"] = calories
		} else if active, ok := number(activity["active_calories"]); ok {
			total := active
			if durationMs, ok := number(activity["duration_ms"]); ok {
				hours := durationMs / float64(60*60*1000)
				total += bmrCaloriesPerDay / 24 * hours
			}
			activity["total_calories"] = total
		}
	}

	if steps, ok := number(activity["steps"]); ok {
		activity["steps"] = int64(steps)
	}

	return activity
}

// NormalizeSleep converts sleep duration to milliseconds and maps stage
// names onto light, deep, rem and awake
func NormalizeSleep(sleep map[string]interface{}) map[string]interface{} {
	if sleep == nil {
		return nil
	}

	if _, ok := sleep["sleep_duration_ms"]; !ok {
		if duration, ok := number(sleep["sleep_duration"]); ok {
			unit, ok := sleep["duration_unit"].(string)
			if !ok {
				unit = "seconds"
			}
			sleep["sleep_duration_ms"] = durationToMs(duration, unit)
			sleep["duration_unit"] = "ms"
		}
	}

	if stages, ok := sleep["stages"].(map[string]interface{}); ok {
		normalized := map[string]interface{}{}
		for standard, aliases := range sleepStageAliases {
			for _, alias := range aliases {
				if v, ok := stages[alias]; ok {
					normalized[standard] = v
				}
			}
		}
		sleep["normalized_stages"] = normalized
	}

	return sleep
}

func durationToMs(duration float64, unit string) float64 {
	switch strings.ToLower(unit) {
	case "seconds", "s":
		return duration * 1000
	case "minutes", "min":
		return duration * 60 * 1000
	case "hours", "h":
		return duration * 60 * 60 * 1000
	default:
		return duration
	}
}

// NormalizeCategoryPayload normalizes every item of a stored category payload
// ({"data": [...]}) and returns the per-item summaries with their mean
func NormalizeCategoryPayload(payload json.RawMessage) (*NormalizedData, error) {
	var body struct {
		Data []map[string]interface{} `json:"data"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("decode record payload: %w", err)
	}

	out := &NormalizedData{Items: make([]Summary, 0, len(body.Data))}
	for _, item := range body.Data {
		out.Items = append(out.Items, SummarizeItem(item))
	}
	out.Summary = meanSummary(out.Items)
	return out, nil
}

// SummarizeItem extracts a Summary from one data item. Flat heart_rate,
// activity and sleep blocks are read first; Terra's nested
// heart_rate_data, distance_data, calories_data and sleep_durations_data
// blocks fill what is left.
func SummarizeItem(item map[string]interface{}) Summary {
	var s Summary

	hr := objectAt(item, "heart_rate")
	if hr == nil {
		if terraHR := objectAt(item, "heart_rate_data", "summary"); terraHR != nil {
			hr = map[string]interface{}{"unit": "bpm"}
			copyField(hr, "avg_hr", terraHR, "avg_hr_bpm")
			copyField(hr, "resting_bpm", terraHR, "resting_hr_bpm")
		}
	}
	if hr = NormalizeHeartRate(hr); hr != nil {
		s.AvgHeartRateBPM = numberPtr(hr["avg_bpm"])
		s.RestingHeartRateBPM = numberPtr(hr["resting_bpm"])
	}

	activity := objectAt(item, "activity")
	if activity == nil {
		activity = terraActivity(item)
	}
	if activity = NormalizeActivity(activity); activity != nil {
		s.DistanceMeters = numberPtr(activity["distance_meters"])
		s.TotalCalories = numberPtr(activity["total_calories"])
		if steps, ok := number(activity["steps"]); ok {
			n := int64(steps)
			s.Steps = &n
		}
	}

	sleep := objectAt(item, "sleep")
	if sleep == nil {
		sleep = terraSleep(item)
	}
	if sleep = NormalizeSleep(sleep); sleep != nil {
		s.SleepDurationMs = numberPtr(sleep["sleep_duration_ms"])
		if stages, ok := sleep["normalized_stages"].(map[string]interface{}); ok && len(stages) > 0 {
			unit, _ := sleep["stages_unit"].(string)
			s.SleepStagesMs = map[string]float64{}
			for stage, v := range stages {
				if f, ok := number(v); ok {
					s.SleepStagesMs[stage] = durationToMs(f, unitOr(unit, "ms"))
				}
			}
		}
	}

	return s
}

func terraActivity(item map[string]interface{}) map[string]interface{} {
	distance := objectAt(item, "distance_data", "summary")
	if distance == nil {
		// daily payloads keep the totals directly on distance_data
		distance = objectAt(item, "distance_data")
	}
	calories := objectAt(item, "calories_data")
	if distance == nil && calories == nil {
		return nil
	}

	activity := map[string]interface{}{}
	if distance != nil {
		if _, ok := distance["distance_meters"]; ok {
			activity["distance"] = distance["distance_meters"]
			activity["distance_unit"] = "meters"
		}
		copyField(activity, "steps", distance, "steps")
	}
	if calories != nil {
		copyField(activity, "total_calories", calories, "total_burned_calories")
		copyField(activity, "active_calories", calories, "net_activity_calories")
	}
	if len(activity) == 0 {
		return nil
	}
	return activity
}

func terraSleep(item map[string]interface{}) map[string]interface{} {
	durations := objectAt(item, "sleep_durations_data")
	if durations == nil {
		return nil
	}

	sleep := map[string]interface{}{"duration_unit": "seconds", "stages_unit": "seconds"}
	if asleep := objectAt(durations, "asleep"); asleep != nil {
		copyField(sleep, "sleep_duration", asleep, "duration_asleep_state_seconds")

		stages := map[string]interface{}{}
		copyField(stages, "light", asleep, "duration_light_sleep_state_seconds")
		copyField(stages, "deep", asleep, "duration_deep_sleep_state_seconds")
		copyField(stages, "rem", asleep, "duration_REM_sleep_state_seconds")
		if awake := objectAt(durations, "awake"); awake != nil {
			copyField(stages, "awake", awake, "duration_awake_state_seconds")
		}
		if len(stages) > 0 {
			sleep["stages"] = stages
		}
	}
	return sleep
}

// meanSummary averages every metric over the items that carry it
func meanSummary(items []Summary) Summary {
	var out Summary
	var avgHR, restHR, dist, cal, slp, steps mean
	stages := map[string]*mean{}
	for _, it := range items {
		avgHR.add(it.AvgHeartRateBPM)
		restHR.add(it.RestingHeartRateBPM)
		dist.add(it.DistanceMeters)
		cal.add(it.TotalCalories)
		slp.add(it.SleepDurationMs)
		if it.Steps != nil {
			v := float64(*it.Steps)
			steps.add(&v)
		}
		for stage, v := range it.SleepStagesMs {
			if stages[stage] == nil {
				stages[stage] = &mean{}
			}
			stages[stage].add(&v)
		}
	}

	out.AvgHeartRateBPM = avgHR.value()
	out.RestingHeartRateBPM = restHR.value()
	out.DistanceMeters = dist.value()
	out.TotalCalories = cal.value()
	out.SleepDurationMs = slp.value()
	if v := steps.value(); v != nil {
		n := int64(math.Round(*v))
		out.Steps = &n
	}
	if len(stages) > 0 {
		out.SleepStagesMs = map[string]float64{}
		for stage, m := range stages {
			out.SleepStagesMs[stage] = *m.value()
		}
	}
	return out
}

type mean struct {
	sum float64
	n   int
}

func (m *mean) add(v *float64) {
	if v == nil {
		return
	}
	m.sum += *v
	m.n++
}

func (m *mean) value() *float64 {
	if m.n == 0 {
		return nil
	}
	v := m.sum / float64(m.n)
	return &v
}

func objectAt(m map[string]interface{}, path ...string) map[string]interface{} {
	cur := m
	for _, key := range path {
		next, ok := cur[key].(map[string]interface{})
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

func copyField(dst map[string]interface{}, dstKey string, src map[string]interface{}, srcKey string) {
	if v, ok := src[srcKey]; ok && v != nil {
		dst[dstKey] = v
	}
}

// number reads a JSON number, an integer or a numeric string
func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f, true
		}
	}
	return 0, false
}

func numberPtr(v interface{}) *float64 {
	f, ok := number(v)
	if !ok {
		return nil
	}
	return &f
}

func unitOr(unit, fallback string) string {
	if unit == "" {
		return fallback
	}
	return unit
}
