package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscapeLike(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"netflix|15.49|USD|subscription", "netflix|15.49|USD|subscription"},
		{"50% off", "50!% off"},
		{"a_b", "a!_b"},
		{"bang!bang", "bang!!bang"},
		{"all!%_three", "all!!!%!_three"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, escapeLike(tt.in), "input %q", tt.in)
	}
}

func TestRebindDollar(t *testing.T) {
	assert.Equal(t,
		"UPDATE facts SET revision = $1 WHERE fact_key = $2",
		rebindDollar("UPDATE facts SET revision = ? WHERE fact_key = ?"))
	assert.Equal(t, "SELECT 1", rebindDollar("SELECT 1"))
}
