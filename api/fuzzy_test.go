// File: api/fuzzy_test.go
// License: Apache-2.0

package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFuzzyBool(t *testing.T) {
	assert.Equal(t, FuzzyFalse, FuzzyTrue.Not())
	assert.Equal(t, FuzzyWasTrue, FuzzyWasFalse.Not())

	assert.True(t, FuzzyTrue.IsMomentaryTrue())
	assert.True(t, FuzzyWasTrue.IsMomentaryTrue())
	assert.False(t, FuzzyWasFalse.IsMomentaryTrue())

	assert.True(t, FuzzyWasFalse.IsMomentaryFalse())
	assert.True(t, FuzzyWasTrue.IsTransitoryTrue())
	assert.False(t, FuzzyTrue.IsTransitoryTrue())
}

func TestFuzzyCondition(t *testing.T) {
	v := FuzzyWasTrue
	cond := NewFuzzyCondition(func() FuzzyBool { return v })
	assert.Equal(t, FuzzyWasTrue, cond.Sampled())
	v = FuzzyFalse
	assert.Equal(t, FuzzyFalse, cond.Recheck())
	assert.Equal(t, FuzzyWasTrue, cond.Sampled(), "the sample must not move")
}
