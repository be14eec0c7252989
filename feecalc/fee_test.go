package feecalc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testCalculator() *Calculator {
	return &Calculator{
		PercentagePPM: PercentageFromBasisPoints(50), // 0.50%
		NormalFee:     500,
		LockupFee:     1000,
		ClaimFee:      136,
		MinAmount:     1_000,
		MaxAmount:     10_000_000,
		DustThreshold: 330,
	}
}

func TestSpecScenarioSixFeeRoundTrip(t *testing.T) {
	c := testCalculator()

	recv, ok, err := c.RecvFromSend(100_000, true)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(98_500), recv)

	roundTripped, err := c.SendFromRecv(recv, true)
	require.NoError(t, err)
	// (98_500 + 1_000) / 0.995 is exactly 100_000, so ceil adds nothing.
	require.Equal(t, int64(100_000), roundTripped)

	require.NoError(t, c.CheckRoundTrip(100_000, true))
}

func TestForwardRoundTripExact(t *testing.T) {
	c := testCalculator()

	// Every send here yields a forward recv inside [MinAmount, MaxAmount].
	for _, send := range []int64{2_000, 10_000, 250_000, 1_000_000, 9_999_999} {
		recv, ok, err := c.RecvFromSend(send, false)
		require.NoError(t, err)
		require.True(t, ok)

		roundTripped, err := c.SendFromRecv(recv, false)
		require.NoError(t, err)
		require.Equal(t, send, roundTripped, "forward round-trip must be exact for send=%d", send)

		require.NoError(t, c.CheckRoundTrip(send, false))
	}
}

func TestReverseRoundTripWithinTolerance(t *testing.T) {
	c := testCalculator()

	for _, send := range []int64{1_500, 10_000, 250_000, 1_000_000, 9_999_999} {
		require.NoError(t, c.CheckRoundTrip(send, true))
	}
}

func TestRecvFromSendOutOfRange(t *testing.T) {
	c := testCalculator()

	_, _, err := c.RecvFromSend(c.MinAmount-1, true)
	require.Error(t, err)

	_, _, err = c.RecvFromSend(c.MaxAmount+1, true)
	require.Error(t, err)
}

func TestRecvFromSendBelowDustReturnsNotOk(t *testing.T) {
	c := testCalculator()
	c.LockupFee = c.MaxAmount // force every reverse recv below dust

	_, ok, err := c.RecvFromSend(c.MinAmount, true)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBoundaryAmounts(t *testing.T) {
	c := testCalculator()

	// At MinAmount the 1,000-sat lockup fee leaves 1000-5-1000 < dust:
	// in range (no error) but nothing to receive.
	_, ok, err := c.RecvFromSend(c.MinAmount, true)
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = c.RecvFromSend(c.MaxAmount, true)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestPublicWrappersApplyClaimFee(t *testing.T) {
	c := testCalculator()

	internalRecv, ok, err := c.RecvFromSend(100_000, true)
	require.NoError(t, err)
	require.True(t, ok)

	publicRecv, ok, err := c.PublicRecvFromSend(100_000, true)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, internalRecv-c.ClaimFee, publicRecv)

	send, err := c.PublicSendFromRecv(publicRecv, true)
	require.NoError(t, err)
	require.InDelta(t, 100_000, send, 1)
}
