package geocode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Victoria", "victoria"},
		{"  victoria  ", "victoria"},
		{"VICTORIA", "victoria"},
		{"Prince   George", "prince george"},
		{"\tNew\nWestminster ", "new westminster"},
		{"100 Mile House", "100 mile house"},
		{"Montréal", "montréal"},
		{"", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeKey(tt.in), "input %q", tt.in)
	}
}

func TestNormalizeKey_AccentsStayDistinct(t *testing.T) {
	assert.NotEqual(t, NormalizeKey("Montreal"), NormalizeKey("Montréal"))
}
