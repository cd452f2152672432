package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRect_Union(t *testing.T) {
	tests := []struct {
		name string
		a, b Rect
		want Rect
	}{
		{"empty with empty", Rect{}, Rect{}, Rect{}},
		{"empty with rect", Rect{}, Rect{X: 1, Y: 2, Width: 3, Height: 4}, Rect{X: 1, Y: 2, Width: 3, Height: 4}},
		{"rect with empty", Rect{X: 1, Y: 2, Width: 3, Height: 4}, Rect{X: 50, Y: 50}, Rect{X: 1, Y: 2, Width: 3, Height: 4}},
		{"overlap", Rect{X: 0, Y: 0, Width: 10, Height: 10}, Rect{X: 5, Y: 5, Width: 10, Height: 10}, Rect{X: 0, Y: 0, Width: 15, Height: 15}},
		{"disjoint", Rect{X: 0, Y: 400, Width: 480, Height: 100}, Rect{X: 0, Y: 300, Width: 100, Height: 20}, Rect{X: 0, Y: 300, Width: 480, Height: 200}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Union(tt.b))
		})
	}
}

func TestBoundingRect(t *testing.T) {
	assert.Equal(t, Rect{}, BoundingRect(nil))

	region := []Rect{
		{X: 0, Y: 600, Width: 800, Height: 200},
		{X: 700, Y: 550, Width: 100, Height: 50},
		{X: 10, Y: 10},
	}
	assert.Equal(t, Rect{X: 0, Y: 550, Width: 800, Height: 250}, BoundingRect(region))
}

func TestKeyEventType_String(t *testing.T) {
	assert.Equal(t, "press", KeyPress.String())
	assert.Equal(t, "release", KeyRelease.String())
	assert.Equal(t, "KeyEventType(3)", KeyEventType(3).String())
}
