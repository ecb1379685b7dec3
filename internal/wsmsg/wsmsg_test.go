package wsmsg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasAnySensorFieldFalseWhenEmpty(t *testing.T) {
	f := &SensorFrame{Timestamp: "2026-01-01T00:00:00Z"}
	assert.False(t, f.HasAnySensorField())
}

func TestHasAnySensorFieldTrueForEachSubfield(t *testing.T) {
	assert.True(t, (&SensorFrame{GPS: &GPS{}}).HasAnySensorField())
	assert.True(t, (&SensorFrame{Orientation: &Orientation{}}).HasAnySensorField())
	assert.True(t, (&SensorFrame{Motion: &Motion{}}).HasAnySensorField())
	assert.True(t, (&SensorFrame{Weather: &Weather{}}).HasAnySensorField())
	assert.True(t, (&SensorFrame{ObjectsDetected: []DetectedObject{{}}}).HasAnySensorField())
	assert.True(t, (&SensorFrame{PhotoBase64: "abc"}).HasAnySensorField())
	assert.True(t, (&SensorFrame{AudioBase64: "abc"}).HasAnySensorField())
}
