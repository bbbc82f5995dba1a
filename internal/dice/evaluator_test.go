package dice_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/turnkeeper/internal/dice"
	"github.com/zhouzirui/turnkeeper/internal/model"
)

func entry(d20, d100 []int) model.EntropyEntry {
	return model.EntropyEntry{Index: 1, D20: d20, D100: d100}
}

func TestEvaluateSimpleRoll(t *testing.T) {
	e := dice.New()
	res, err := e.Evaluate("1d20", entry([]int{15}, nil))
	require.NoError(t, err)
	assert.Equal(t, 15, res.Total)
}

func TestEvaluateWithModifier(t *testing.T) {
	e := dice.New()
	res, err := e.Evaluate("1d20+3", entry([]int{10}, nil))
	require.NoError(t, err)
	assert.Equal(t, 13, res.Total)
}

func TestEvaluateAdvantageTakesHigher(t *testing.T) {
	e := dice.New()
	res, err := e.Evaluate("1d20adv", entry([]int{5, 18}, nil))
	require.NoError(t, err)
	assert.Equal(t, 18, res.Total)
}

func TestEvaluateDisadvantageTakesLower(t *testing.T) {
	e := dice.New()
	res, err := e.Evaluate("1d20dis", entry([]int{5, 18}, nil))
	require.NoError(t, err)
	assert.Equal(t, 5, res.Total)
}

func TestEvaluateCheckExpression(t *testing.T) {
	e := dice.New()
	res, err := e.Evaluate("check:perception+2", entry([]int{14}, nil))
	require.NoError(t, err)
	assert.Equal(t, 16, res.Total)
}

func TestEvaluateCheckWithDisadvantage(t *testing.T) {
	e := dice.New()
	res, err := e.Evaluate("check:stealth:dis", entry([]int{2, 19}, nil))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
}

func TestEvaluateMultipleDiceSums(t *testing.T) {
	e := dice.New()
	res, err := e.Evaluate("3d6", entry([]int{4, 5, 6}, nil))
	require.NoError(t, err)
	// d6 values are mapped from the d20 pool via 1+((raw-1) mod 6)
	assert.Equal(t, dice.MapRaw(4, 6, 20)+dice.MapRaw(5, 6, 20)+dice.MapRaw(6, 6, 20), res.Total)
}

func TestEvaluateD100UsesIdentityMapping(t *testing.T) {
	assert.Equal(t, 73, dice.MapRaw(73, 100, 100))
}

func TestEvaluateRejectsAdvantageOnNonD20(t *testing.T) {
	e := dice.New()
	_, err := e.Evaluate("2d20adv", entry([]int{1, 2}, nil))
	assert.ErrorIs(t, err, dice.ErrExpressionInvalid)
}

func TestEvaluateRejectsMalformedExpression(t *testing.T) {
	e := dice.New()
	_, err := e.Evaluate("not-a-roll", entry(nil, nil))
	assert.True(t, errors.Is(err, dice.ErrExpressionInvalid))
}

func TestEvaluateExhaustedPoolReturnsError(t *testing.T) {
	e := dice.New()
	_, err := e.Evaluate("1d20", entry(nil, nil))
	assert.ErrorIs(t, err, dice.ErrEntropyExhausted)
}

func TestDiceCountReportsDrawsNeeded(t *testing.T) {
	n, err := dice.DiceCount("1d20adv")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = dice.DiceCount("4d6")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = dice.DiceCount("check:perception")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMapRawIdentityAtNaturalSize(t *testing.T) {
	for _, raw := range []int{1, 10, 20} {
		assert.Equal(t, raw, dice.MapRaw(raw, 20, 20))
	}
}

func TestMapRawWrapsIntoRange(t *testing.T) {
	got := dice.MapRaw(25, 6, 20)
	assert.GreaterOrEqual(t, got, 1)
	assert.LessOrEqual(t, got, 6)
}
