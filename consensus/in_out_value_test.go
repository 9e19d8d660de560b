package consensus

import (
	"testing"

	"dposchain/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestInOutValue(t *testing.T) {
	v := newInOutValue()

	_, err := v.Reveal(1)
	assert.ErrorIs(t, err, ErrNoPendingValue)

	p, err := v.Generate(1)
	require.NoError(t, err)
	assert.Equal(t, types.CalculateOutValue(p.InValue), p.OutValue)
	assert.Len(t, p.InValue, inValueSize)

	_, err = v.Generate(1)
	assert.ErrorIs(t, err, ErrPendingValueExists)
	_, err = v.Generate(2)
	assert.ErrorIs(t, err, ErrPendingValueExists)

	// 同一轮不能公布
	_, err = v.Reveal(1)
	assert.ErrorIs(t, err, ErrNoPendingValue)
	assert.NotNil(t, v.Pending())

	revealed, err := v.Reveal(2)
	require.NoError(t, err)
	assert.Equal(t, p, revealed)
	assert.Nil(t, v.Pending())
}

func TestInOutValue_Stale(t *testing.T) {
	v := newInOutValue()
	_, err := v.Generate(3)
	require.NoError(t, err)

	_, err = v.Reveal(5)
	assert.ErrorIs(t, err, ErrStalePendingValue)
	assert.Nil(t, v.Pending())

	_, err = v.Generate(5)
	assert.NoError(t, err)
}

// 任意跳过轮次的情况下，最多只有一对未公布的值，公布的总是上一轮生成的值
func TestInOutValue_Discipline(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := newInOutValue()
		round := uint64(1)
		steps := rapid.IntRange(1, 30).Draw(t, "steps").(int)
		for i := 0; i < steps; i++ {
			round += uint64(rapid.IntRange(1, 3).Draw(t, "gap").(int))

			before := v.Pending()
			revealed, err := v.Reveal(round)
			if err == nil {
				require.NotNil(t, before)
				require.Equal(t, round-1, revealed.RoundNumber)
				require.Equal(t, types.CalculateOutValue(revealed.InValue), revealed.OutValue)
			}
			require.Nil(t, v.Pending())

			if rapid.Bool().Draw(t, "produce").(bool) {
				p, err := v.Generate(round)
				require.NoError(t, err)
				require.Equal(t, round, p.RoundNumber)
				_, err = v.Generate(round)
				require.ErrorIs(t, err, ErrPendingValueExists)
			}
		}
	})
}
