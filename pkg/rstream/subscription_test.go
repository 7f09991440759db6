package rstream

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSubscriptionRegistryDispatchToKnownSink(t *testing.T) {
	reg := newSubscriptionRegistry()
	var got Delivery
	reg.add(3, func(d Delivery) { got = d })

	delivered := reg.dispatch(Delivery{SubscriptionID: 3, Chunk: OsirisChunk{NumRecords: 1}})
	require.True(t, delivered)
	require.EqualValues(t, 3, got.SubscriptionID)
	require.EqualValues(t, 1, got.Chunk.NumRecords)
}

func TestSubscriptionRegistryDropsUnknownSubscription(t *testing.T) {
	reg := newSubscriptionRegistry()
	reg.add(1, func(Delivery) { t.Fatal("sink for a different subscription must not be called") })

	delivered := reg.dispatch(Delivery{SubscriptionID: 9})
	require.False(t, delivered)
}

func TestSubscriptionRegistryRemove(t *testing.T) {
	reg := newSubscriptionRegistry()
	reg.add(1, func(Delivery) {})
	require.Equal(t, 1, reg.len())

	reg.remove(1)
	require.Equal(t, 0, reg.len())
	require.False(t, reg.dispatch(Delivery{SubscriptionID: 1}))
}

func TestSubscriptionRegistryClear(t *testing.T) {
	reg := newSubscriptionRegistry()
	reg.add(1, func(Delivery) {})
	reg.add(2, func(Delivery) {})
	reg.clear()
	require.Equal(t, 0, reg.len())
}

func TestSubscriptionRegistryIsolatesSinks(t *testing.T) {
	reg := newSubscriptionRegistry()
	var calledA, calledB bool
	reg.add(1, func(Delivery) { calledA = true })
	reg.add(2, func(Delivery) { calledB = true })

	reg.dispatch(Delivery{SubscriptionID: 1})
	require.True(t, calledA)
	require.False(t, calledB)
}
