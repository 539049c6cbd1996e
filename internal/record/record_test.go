package record

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		systolic  int
		diastolic int
		expected  Category
	}{
		{"both optimal", 119, 79, Optimal},
		{"systolic at normal bound", 120, 70, Normal},
		{"diastolic at normal bound", 110, 80, Normal},
		{"diastolic drives grade 1", 125, 95, Grade1Hypertension},
		{"high normal", 135, 87, HighNormal},
		{"grade 1", 150, 95, Grade1Hypertension},
		{"grade 2 diastolic driven", 120, 105, Grade2Hypertension},
		{"systolic drives grade 3", 185, 70, Grade3Hypertension},
		{"diastolic drives grade 3", 130, 110, Grade3Hypertension},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.systolic, tt.diastolic))
		})
	}
}

func TestClassify_DiastolicDrivenTier(t *testing.T) {
	// 95 mmHg diastolic alone is beyond the high_normal bound (<90), so the
	// reading lands in the tier diastolic 95 reaches.
	assert.Equal(t, Grade1Hypertension, Classify(125, 95))
	assert.Equal(t, HighNormal, Classify(125, 85))
}

func TestClassify_Monotonic(t *testing.T) {
	for dia := 40; dia <= 130; dia += 3 {
		prev := -1
		for sys := dia + 1; sys <= 220; sys++ {
			rank := Classify(sys, dia).Rank()
			require.GreaterOrEqual(t, rank, prev, "raising systolic MUST never lower the tier (%d/%d)", sys, dia)
			prev = rank
		}
	}
	for sys := 90; sys <= 220; sys += 5 {
		prev := -1
		for dia := 30; dia < sys; dia++ {
			rank := Classify(sys, dia).Rank()
			require.GreaterOrEqual(t, rank, prev, "raising diastolic MUST never lower the tier (%d/%d)", sys, dia)
			prev = rank
		}
	}
}

func TestCategoryRank(t *testing.T) {
	cats := Categories()
	require.Len(t, cats, 6)
	for i, c := range cats {
		assert.Equal(t, i, c.Rank(), "rank of %s", c)
	}
	assert.Equal(t, -1, Category("unknown").Rank())
}

func TestMeasurementIdentity(t *testing.T) {
	m := Measurement{
		Timestamp: time.Date(2025, 3, 14, 8, 5, 0, 0, time.UTC),
		Systolic:  128,
		Diastolic: 82,
		Pulse:     67,
		Slot:      1,
		Model:     "HEM-7361T",
	}

	assert.Equal(t, Identity("2025-03-14T08:05:00_128_82_67_1"), m.Identity())

	other := m
	other.Model = "HEM-7322T"
	other.IrregularHeartbeat = true
	assert.Equal(t, m.Identity(), other.Identity(), "identity MUST only depend on timestamp, pressures, pulse and slot")

	other.Slot = 2
	assert.NotEqual(t, m.Identity(), other.Identity(), "slot MUST participate in identity")
}

func TestMeasurementValidate(t *testing.T) {
	base := Measurement{Timestamp: time.Now(), Systolic: 120, Diastolic: 80, Pulse: 60, Slot: 1}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(m *Measurement)
	}{
		{"systolic equals diastolic", func(m *Measurement) { m.Systolic = 80 }},
		{"systolic below diastolic", func(m *Measurement) { m.Systolic = 70 }},
		{"zero diastolic", func(m *Measurement) { m.Diastolic = 0 }},
		{"slot zero", func(m *Measurement) { m.Slot = 0 }},
		{"slot three", func(m *Measurement) { m.Slot = 3 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := base
			tt.mutate(&m)
			assert.ErrorIs(t, m.Validate(), ErrInvalidMeasurement)
		})
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	m := Measurement{
		Timestamp:          DeviceTime(2025, 1, 2, 7, 0, 12),
		Systolic:           125,
		Diastolic:          95,
		Pulse:              72,
		IrregularHeartbeat: true,
		BodyMovement:       true,
		Slot:               2,
		Model:              "HEM-7361T",
	}

	p := NewPayload(m)
	assert.Equal(t, "2025-01-02T07:00:12", p.Timestamp)
	assert.Equal(t, Grade1Hypertension, p.Category)

	back, err := p.Measurement()
	require.NoError(t, err)
	assert.True(t, m.Timestamp.Equal(back.Timestamp))
	assert.Equal(t, m.Identity(), back.Identity())

	_, err = Payload{Timestamp: "yesterday"}.Measurement()
	assert.Error(t, err)
}
