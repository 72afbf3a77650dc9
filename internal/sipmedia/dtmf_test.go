package sipmedia_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/talkbridge/mediabridge/internal/sipmedia"
)

func packet(event, volume byte) []byte {
	return []byte{event, volume, 0x00, 0xa0}
}

func TestDtmfEmitsOnStrictlyIncreasingTimestamp(t *testing.T) {
	var d sipmedia.DtmfDepayloader

	_, ok := d.Process(1000, packet(5, 10))
	require.True(t, ok)

	_, ok = d.Process(1000, packet(5, 10)) // duplicate timestamp, marker-bit-style resend
	require.False(t, ok)

	ev, ok := d.Process(1160, packet(5, 10))
	require.True(t, ok)
	require.Equal(t, uint8(5), ev.Digit)
}

func TestDtmfIgnoresOutOfOrderOrEqualTimestamps(t *testing.T) {
	var d sipmedia.DtmfDepayloader
	_, _ = d.Process(2000, packet(1, 1))
	_, ok := d.Process(1999, packet(1, 1))
	require.False(t, ok)
	_, ok = d.Process(2000, packet(1, 1))
	require.False(t, ok)
}

func TestDtmfEventCountEqualsIncreasingTransitions(t *testing.T) {
	timestamps := []uint32{100, 100, 100, 260, 260, 420, 420, 420, 420, 580}
	var d sipmedia.DtmfDepayloader
	count := 0
	for _, ts := range timestamps {
		if _, ok := d.Process(ts, packet(9, 5)); ok {
			count++
		}
	}
	require.Equal(t, 4, count) // 100, 260, 420, 580 each trigger once
}
