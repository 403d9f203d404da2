package service

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, s string) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(s), &m))
	return m
}

func TestNormalizeHeartRate(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantBPM interface{}
	}{
		{"normalized scale", `{"unit":"normalized","normalized":true,"avg_normalized":0.5}`, 130.0},
		{"avg_hr alias", `{"avg_hr":72}`, 72.0},
		{"data points mean", `{"unit":"bpm","data_points":[{"value":60},{"value":80},{"ts":"x"}]}`, 70.0},
		{"existing avg kept", `{"avg_bpm":65,"avg_hr":90}`, 65.0},
		{"normalized out of range ignored", `{"unit":"normalized","avg_normalized":1.5}`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hr := NormalizeHeartRate(decode(t, tt.input))
			if tt.wantBPM == nil {
				assert.NotContains(t, hr, "avg_bpm")
				return
			}
			assert.InDelta(t, tt.wantBPM, hr["avg_bpm"], 0.001)
		})
	}
}

func TestNormalizeHeartRate_Units(t *testing.T) {
	assert.Equal(t, "bpm", NormalizeHeartRate(decode(t, `{"unit":"Beats_Per_Minute"}`))["unit"])
	assert.Equal(t, "bpm", NormalizeHeartRate(decode(t, `{}`))["unit"])
	assert.Nil(t, NormalizeHeartRate(nil))
}

func TestNormalizeActivity_Distance(t *testing.T) {
	tests := []struct {
		input string
		want  float64
	}{
		{`{"distance":5,"distance_unit":"km"}`, 5000},
		{`{"distance":2,"distance_unit":"Miles"}`, 3218.68},
		{`{"distance":100,"distance_unit":"ft"}`, 30.48},
		{`{"distance":420}`, 420},
	}

	for _, tt := range tests {
		activity := NormalizeActivity(decode(t, tt.input))
		assert.InDelta(t, tt.want, activity["distance_meters"], 0.001, tt.input)
		assert.Equal(t, "meters", activity["distance_unit"])
	}
}

func TestNormalizeActivity_Calories(t *testing.T) {
	assert.Equal(t, 512.0, NormalizeActivity(decode(t, `{"calories":512}`))["total_calories"])

	// 2h of basal burn at 1800 kcal/day is 150 kcal
	withDuration := NormalizeActivity(decode(t, `{"active_calories":300,"duration_ms":7200000}`))
	assert.InDelta(t, 450.0, withDuration["total_calories"], 0.001)

	assert.Equal(t, 300.0, NormalizeActivity(decode(t, `{"active_calories":300}`))["total_calories"])
	assert.Equal(t, 900.0, NormalizeActivity(decode(t, `{"total_calories":900,"calories":10}`))["total_calories"])
}

func TestNormalizeActivity_Steps(t *testing.T) {
	assert.Equal(t, int64(1234), NormalizeActivity(decode(t, `{"steps":"1234.7"}`))["steps"])
	assert.Equal(t, int64(8000), NormalizeActivity(decode(t, `{"steps":8000}`))["steps"])
	assert.Equal(t, "12abc", NormalizeActivity(decode(t, `{"steps":"12abc"}`))["steps"])
}

func TestNumber_Strings(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{in: "1234.5", want: 1234.5, ok: true},
		{in: " 42 ", want: 42, ok: true},
		{in: "1e3", want: 1000, ok: true},
		{in: "12abc", ok: false},
		{in: "", ok: false},
		{in: "NaN", ok: false},
		{in: "inf", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := number(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestNormalizeSleep(t *testing.T) {
	tests := []struct {
		input string
		want  float64
	}{
		{`{"sleep_duration":8,"duration_unit":"h"}`, 28800000},
		{`{"sleep_duration":90,"duration_unit":"minutes"}`, 5400000},
		{`{"sleep_duration":3600}`, 3600000},
		{`{"sleep_duration":1000,"duration_unit":"ms"}`, 1000},
	}
	for _, tt := range tests {
		sleep := NormalizeSleep(decode(t, tt.input))
		assert.InDelta(t, tt.want, sleep["sleep_duration_ms"], 0.001, tt.input)
	}

	staged := NormalizeSleep(decode(t, `{"stages":{"light_sleep":100,"slow_wave":50,"rapid_eye_movement":30,"wake":10,"unknown":1}}`))
	assert.Equal(t, map[string]interface{}{
		"light": 100.0,
		"deep":  50.0,
		"rem":   30.0,
		"awake": 10.0,
	}, staged["normalized_stages"])
}

func TestNormalizeCategoryPayload_TerraSleep(t *testing.T) {
	payload := `{"status":"success","type":"sleep","data":[
		{"sleep_durations_data":{"asleep":{"duration_asleep_state_seconds":25200,"duration_deep_sleep_state_seconds":3600,"duration_REM_sleep_state_seconds":5400},"awake":{"duration_awake_state_seconds":600}}},
		{"sleep_durations_data":{"asleep":{"duration_asleep_state_seconds":21600}}}
	]}`

	normalized, err := NormalizeCategoryPayload(json.RawMessage(payload))
	require.NoError(t, err)
	require.Len(t, normalized.Items, 2)

	first := normalized.Items[0]
	require.NotNil(t, first.SleepDurationMs)
	assert.Equal(t, 25200000.0, *first.SleepDurationMs)
	assert.Equal(t, map[string]float64{"deep": 3600000, "rem": 5400000, "awake": 600000}, first.SleepStagesMs)

	require.NotNil(t, normalized.Summary.SleepDurationMs)
	assert.Equal(t, 23400000.0, *normalized.Summary.SleepDurationMs)
	assert.Nil(t, normalized.Summary.Steps)
}

func TestNormalizeCategoryPayload_TerraDaily(t *testing.T) {
	payload := `{"data":[
		{"heart_rate_data":{"summary":{"avg_hr_bpm":70,"resting_hr_bpm":52}},"distance_data":{"steps":9000,"distance_meters":6500},"calories_data":{"total_burned_calories":2400}},
		{"heart_rate_data":{"summary":{"avg_hr_bpm":80,"resting_hr_bpm":58}},"distance_data":{"steps":3000}}
	]}`

	normalized, err := NormalizeCategoryPayload(json.RawMessage(payload))
	require.NoError(t, err)

	s := normalized.Summary
	assert.Equal(t, 75.0, *s.AvgHeartRateBPM)
	assert.Equal(t, 55.0, *s.RestingHeartRateBPM)
	assert.Equal(t, int64(6000), *s.Steps)
	assert.Equal(t, 6500.0, *s.DistanceMeters)
	assert.Equal(t, 2400.0, *s.TotalCalories)
}

func TestNormalizeCategoryPayload_FlatBlocks(t *testing.T) {
	payload := `{"data":[{"heart_rate":{"unit":"normalized","avg_normalized":0.25},"activity":{"distance":3,"distance_unit":"km","steps":"4100"}}]}`

	normalized, err := NormalizeCategoryPayload(json.RawMessage(payload))
	require.NoError(t, err)

	s := normalized.Items[0]
	assert.Equal(t, 85.0, *s.AvgHeartRateBPM)
	assert.Equal(t, 3000.0, *s.DistanceMeters)
	assert.Equal(t, int64(4100), *s.Steps)
	assert.Nil(t, s.SleepDurationMs)
}

func TestNormalizeCategoryPayload_Invalid(t *testing.T) {
	_, err := NormalizeCategoryPayload(json.RawMessage(`[1,2,3]`))
	assert.Error(t, err)

	empty, err := NormalizeCategoryPayload(json.RawMessage(`{"data":[]}`))
	require.NoError(t, err)
	assert.Empty(t, empty.Items)
	assert.Nil(t, empty.Summary.AvgHeartRateBPM)
}
