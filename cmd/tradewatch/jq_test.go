package main

import (
	"testing"

	"github.com/brojonat/tradewatch/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJQFilterMatching(t *testing.T) {
	size := int64(25)
	price := int64(1500)
	ev := &client.Event{
		Signature: "5igExchange1",
		Category:  "exchange",
		Symbol:    "ATLASUSDC",
		Size:      &size,
		Price:     &price,
	}

	tests := []struct {
		name        string
		filters     []string
		expectMatch bool
	}{
		{name: "no filters match everything", expectMatch: true},
		{name: "symbol match", filters: []string{`.symbol == "ATLASUSDC"`}, expectMatch: true},
		{name: "symbol mismatch", filters: []string{`.symbol == "POLISUSDC"`}, expectMatch: false},
		{name: "numeric comparison", filters: []string{`.size > 10`}, expectMatch: true},
		{name: "all filters must hold", filters: []string{`.size > 10`, `.price < 1000`}, expectMatch: false},
		{name: "null result is falsy", filters: []string{`.missing`}, expectMatch: false},
		{name: "non-boolean result is truthy", filters: []string{`.category`}, expectMatch: true},
		{name: "runtime error does not match", filters: []string{`.symbol | tonumber`}, expectMatch: false},
		{name: "empty output does not match", filters: []string{`empty`}, expectMatch: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filter, err := compileJQ(tt.filters)
			require.NoError(t, err)
			assert.Equal(t, tt.expectMatch, filter.Match(ev))
		})
	}
}

func TestCompileJQ_Invalid(t *testing.T) {
	_, err := compileJQ([]string{`.size >`})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse jq filter")
}

func TestIsTruthy(t *testing.T) {
	assert.False(t, isTruthy(nil))
	assert.False(t, isTruthy(false))
	assert.True(t, isTruthy(true))
	assert.True(t, isTruthy(0.0))
	assert.True(t, isTruthy(""))
	assert.True(t, isTruthy([]interface{}{}))
}
