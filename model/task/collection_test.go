package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlatten(t *testing.T) {
	testCases := []struct {
		name   string
		input  interface{}
		expect []string
	}{
		{
			name:   "flat list",
			input:  []string{"a", "b"},
			expect: []string{"a", "b"},
		},
		{
			name:   "nested lists",
			input:  [][]string{{"a", "b"}, {"c"}},
			expect: []string{"a", "b", "c"},
		},
		{
			name:   "mixed interface collection",
			input:  []interface{}{"a", []string{"b", "c"}, []interface{}{"d"}},
			expect: []string{"a", "b", "c", "d"},
		},
		{
			name:   "branch indexed map in ascending order",
			input:  map[int][]string{2: {"c"}, 0: {"a"}, 1: {"b"}},
			expect: []string{"a", "b", "c"},
		},
		{
			name:   "empty strings dropped",
			input:  []string{"", "a", ""},
			expect: []string{"a"},
		},
		{
			name:   "nil",
			input:  nil,
			expect: nil,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			assert.Equal(t, testCase.expect, Flatten(testCase.input))
		})
	}
}

func TestIdentityString(t *testing.T) {
	assert.Equal(t, "CROWNRun", NewIdentity("CROWNRun").String())
	assert.Equal(t, "CROWNFriends_dy_nominal", NewIdentity("CROWNFriends", "dy", "nominal").String())
}
