package consensus

import (
	"testing"
	"time"

	"dposchain/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRound(n int, interval time.Duration) *types.Round {
	producers := make(types.Addresses, n)
	for i := 0; i < n; i++ {
		producers[i] = types.NewMockPVWithSeed(string(rune('a' + i))).Address()
	}
	return types.GenerateFirstRounds(producers, time.Unix(1000, 0), interval)[0]
}

func TestIsAlive(t *testing.T) {
	round := testRound(3, time.Second)
	start := round.StartTime()

	assert.True(t, isAlive(round, start))
	assert.True(t, isAlive(round, start.Add(-2*time.Second)))
	assert.False(t, isAlive(round, start.Add(-3*time.Second)))
	assert.True(t, isAlive(round, start.Add(6*time.Second)))
	assert.False(t, isAlive(round, start.Add(7*time.Second)))
	assert.False(t, isAlive(nil, start))
}

func TestNextRoundStart(t *testing.T) {
	round := testRound(3, time.Second)
	extra := round.ExtraBlockTimeSlot()

	assert.Equal(t, extra.Add(time.Second), nextRoundStart(round, extra))
	late := extra.Add(10 * time.Second)
	assert.Equal(t, late.Add(time.Second), nextRoundStart(round, late))
}

func TestBackupTime(t *testing.T) {
	round := testRound(4, time.Second)
	extra := round.ExtraBlockTimeSlot()
	assert.Equal(t, extra.Add(2*time.Second), backupTime(round, 2, 0))
	assert.Equal(t, extra.Add(3*time.Second+500*time.Millisecond), backupTime(round, 3, 500*time.Millisecond))
}

func TestSlotPassed(t *testing.T) {
	slot := time.Unix(1000, 0)
	assert.False(t, slotPassed(slot, time.Second, slot))
	assert.False(t, slotPassed(slot, time.Second, slot.Add(999*time.Millisecond)))
	assert.True(t, slotPassed(slot, time.Second, slot.Add(time.Second)))
}

func TestRefBlock(t *testing.T) {
	tn := newTestNode(t, 1, time.Second)
	height, prefix := refBlock(tn.kv)
	assert.Equal(t, uint64(0), height)
	require.Len(t, prefix, types.RefBlockPrefixSize)
	assert.Equal(t, []byte(tn.kv.CurrentHash()[:types.RefBlockPrefixSize]), prefix)

	for i := 0; i < 6; i++ {
		tn.commit(t, tn.pvs[0], 0, nil)
	}
	height, _ = refBlock(tn.kv)
	assert.Equal(t, uint64(2), height)
}
