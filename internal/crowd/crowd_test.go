package crowd

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crowdpark/internal/types"
)

var testColumns = []string{
	"Hour",
	"Station_Ang Mo Kio",
	"Station_Bishan",
	"Station_Orchard",
	"Day_Monday",
	"Day_Saturday",
	"Crowd_Level",
}

type stubClassifier struct {
	names []string
	rows  [][]float64
	err   error
	panic bool
	seen  [][]float64
}

func (s *stubClassifier) FeatureNames() []string { return s.names }

func (s *stubClassifier) PredictProba(_ context.Context, rows [][]float64) ([][]float64, error) {
	s.seen = rows
	if s.panic {
		panic("shape mismatch")
	}
	return s.rows, s.err
}

func requireCode(t *testing.T, err error, code types.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr), "want *types.AppError, got %T", err)
	assert.Equal(t, code, appErr.Code)
}

func TestBuildMappings(t *testing.T) {
	r := BuildMappings(testColumns)

	col, ok := r.Station("  ANG MO KIO ")
	require.True(t, ok)
	assert.Equal(t, "Station_Ang Mo Kio", col)

	col, ok = r.Day("saturday")
	require.True(t, ok)
	assert.Equal(t, "Day_Saturday", col)

	_, ok = r.Station("Crowd_Level")
	assert.False(t, ok)
	assert.Equal(t, []string{"ang mo kio", "bishan", "orchard"}, r.Stations())
	assert.Equal(t, []string{"monday", "saturday"}, r.Days())
}

func TestBuildMappingsLastWriteWins(t *testing.T) {
	r := BuildMappings([]string{"Station_Bishan", "Station_BISHAN"})
	col, ok := r.Station("bishan")
	require.True(t, ok)
	assert.Equal(t, "Station_BISHAN", col)
}

func TestScaleHour(t *testing.T) {
	v, err := ScaleHour(0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)

	v, err = ScaleHour(23)
	require.NoError(t, err)
	assert.Equal(t, 0.5, v)

	prev := -1.0
	for h := 0; h <= 23; h++ {
		v, err := ScaleHour(float64(h))
		require.NoError(t, err)
		assert.Greater(t, v, prev)
		prev = v
	}

	for _, bad := range []float64{-1, 23.5, 24, math.NaN(), math.Inf(1)} {
		_, err := ScaleHour(bad)
		requireCode(t, err, types.ErrCodeValidationOutOfRange)
	}
}

func TestAssemble(t *testing.T) {
	a := NewAssembler(testColumns, BuildMappings(testColumns))

	vec, err := a.Assemble("Bishan", "Monday", 23)
	require.NoError(t, err)
	require.Len(t, vec, len(testColumns))
	assert.Equal(t, []float64{0.5, 0, 1, 0, 1, 0, 0}, vec)

	ones := 0
	for _, v := range vec {
		if v == 1 {
			ones++
		}
	}
	assert.Equal(t, 2, ones)
}

func TestAssembleDropsColumnsMissingFromSchema(t *testing.T) {
	schema := []string{"Station_Bishan", "Day_Monday"}
	a := NewAssembler(schema, BuildMappings(testColumns))

	vec, err := a.Assemble("orchard", "monday", 8)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1}, vec)
}

func TestAssembleErrors(t *testing.T) {
	a := NewAssembler(testColumns, BuildMappings(testColumns))

	tests := []struct {
		name    string
		station string
		day     string
		hour    float64
		code    types.ErrorCode
	}{
		{"unknown station", "Atlantis", "monday", 8, types.ErrCodeValidationUnknownCategory},
		{"unknown day", "bishan", "funday", 8, types.ErrCodeValidationUnknownCategory},
		{"hour too large", "bishan", "monday", 24, types.ErrCodeValidationOutOfRange},
		{"negative hour", "bishan", "monday", -1, types.ErrCodeValidationOutOfRange},
		{"nan hour", "bishan", "monday", math.NaN(), types.ErrCodeValidationOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Assemble(tt.station, tt.day, tt.hour)
			requireCode(t, err, tt.code)
		})
	}
}

func TestAdapterPredictLabels(t *testing.T) {
	tests := []struct {
		probs []float64
		want  types.CrowdLevel
	}{
		{[]float64{0.7, 0.2, 0.1}, types.CrowdLow},
		{[]float64{0.1, 0.7, 0.2}, types.CrowdMedium},
		{[]float64{0.1, 0.2, 0.7}, types.CrowdHigh},
		{[]float64{0.4, 0.4, 0.2}, types.CrowdLow},
		{[]float64{0.2, 0.4, 0.4}, types.CrowdMedium},
	}
	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			model := &stubClassifier{rows: [][]float64{tt.probs}}
			res, err := NewAdapter(model, nil).Predict(context.Background(), []float64{1, 2, 3})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Prediction)
			assert.Equal(t, [][]float64{{1, 2, 3}}, model.seen)
		})
	}
}

func TestAdapterRoundsPercentages(t *testing.T) {
	model := &stubClassifier{rows: [][]float64{{0.123456, 0.654321, 0.222223}}}
	res, err := NewAdapter(model, nil).Predict(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 12.35, res.Probabilities[types.CrowdLow])
	assert.Equal(t, 65.43, res.Probabilities[types.CrowdMedium])
	assert.Equal(t, 22.22, res.Probabilities[types.CrowdHigh])
}

func TestRound2(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{2.675, 2.67},
		{0.125, 0.12},
		{0.375, 0.38},
		{1.005, 1.0},
		{12.5, 12.5},
		{99.995, 100},
		{-0.125, -0.12},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, round2(tt.in), "round2(%v)", tt.in)
	}
	assert.Equal(t, 100.0, Percent(1))
	assert.Equal(t, 33.33, Percent(1.0/3))
}

func TestAdapterFailures(t *testing.T) {
	tests := []struct {
		name  string
		model *stubClassifier
		code  types.ErrorCode
	}{
		{"model error", &stubClassifier{err: errors.New("boom")}, types.ErrCodeInternalInference},
		{"upstream error passes through", &stubClassifier{err: types.NewAppError(types.ErrCodeUpstreamInference, "down", nil)}, types.ErrCodeUpstreamInference},
		{"panic", &stubClassifier{panic: true}, types.ErrCodeInternalInference},
		{"wrong width", &stubClassifier{rows: [][]float64{{0.5, 0.5}}}, types.ErrCodeInternalInference},
		{"no rows", &stubClassifier{rows: nil}, types.ErrCodeInternalInference},
		{"nan", &stubClassifier{rows: [][]float64{{math.NaN(), 0.5, 0.5}}}, types.ErrCodeInternalInference},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := NewAdapter(tt.model, nil).Predict(context.Background(), []float64{0})
			assert.Nil(t, res)
			requireCode(t, err, tt.code)
		})
	}
}

func TestServiceClassify(t *testing.T) {
	reg := BuildMappings(testColumns)
	model := &stubClassifier{rows: [][]float64{{0.1, 0.2, 0.7}}}
	svc := NewService(reg, NewAssembler(testColumns, reg), NewAdapter(model, nil), nil)

	first, err := svc.Classify(context.Background(), "Orchard", "Saturday", 18)
	require.NoError(t, err)
	assert.Equal(t, types.CrowdHigh, first.Prediction)
	assert.Equal(t, 70.0, first.Probabilities[types.CrowdHigh])

	second, err := svc.Classify(context.Background(), "Orchard", "Saturday", 18)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	_, err = svc.Classify(context.Background(), "Nowhere", "Saturday", 18)
	requireCode(t, err, types.ErrCodeValidationUnknownCategory)

	stations, days := svc.Categories()
	assert.Contains(t, stations, "orchard")
	assert.Contains(t, days, "saturday")
}

func TestParseHour(t *testing.T) {
	valid := map[string]float64{
		"15":    15,
		"0":     0,
		"3pm":   15,
		"3 PM":  15,
		"12am":  0,
		"12pm":  12,
		"11am":  11,
		" 9pm ": 21,
	}
	for in, want := range valid {
		got, err := ParseHour(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "noon", "13pm", "0am", "3.5pm"} {
		_, err := ParseHour(bad)
		requireCode(t, err, types.ErrCodeValidationOutOfRange)
	}
}
