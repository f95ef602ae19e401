package cluster

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCRC16_KnownVectors(t *testing.T) {
	require.Equal(t, uint16(0x0000), CRC16(nil))
	require.Equal(t, uint16(0x31c3), CRC16([]byte("123456789")))
	require.Equal(t, uint16(0x9dd6), CRC16([]byte("abc")))
	require.Equal(t, uint16(0x7c87), CRC16([]byte("a")))
}

func TestSlot_InRange(t *testing.T) {
	for _, n := range []int{1, 2, 3, 7, 16, 1024} {
		for i := 0; i < 500; i++ {
			s := SlotString(fmt.Sprintf("key-%d", i), n)
			require.GreaterOrEqual(t, s, 0)
			require.Less(t, s, n)
		}
	}
}

func TestSlot_CongruentChecksumsShareRegion(t *testing.T) {
	const n = 5
	byResidue := map[uint16]int{}
	for i := 0; i < 1000; i++ {
		key := fmt.Sprintf("user:%d", i)
		residue := CRC16([]byte(key)) % n
		slot := SlotString(key, n)
		if prev, ok := byResidue[residue]; ok {
			require.Equal(t, prev, slot, "key %s", key)
		}
		byResidue[residue] = slot
	}
}

func TestSlot_Deterministic(t *testing.T) {
	require.Equal(t, 0, SlotString("abc", 2))
	require.Equal(t, SlotString("abc", 7), SlotString("abc", 7))
	require.Equal(t, 0, Slot([]byte("anything"), 0))
}
