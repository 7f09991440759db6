package rstream

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMetadataCacheMergeIsUnionNotReplace(t *testing.T) {
	cache := newMetadataCache()
	cache.merge(&queryMetadataResponse{
		brokers: []Broker{{Reference: 1, Host: "node-a", Port: 5552}},
		streams: []StreamMetadata{{Name: "orders", LeaderRef: 1}},
	})
	cache.merge(&queryMetadataResponse{
		brokers: []Broker{{Reference: 2, Host: "node-b", Port: 5552}},
		streams: []StreamMetadata{{Name: "invoices", LeaderRef: 2}},
	})

	brokers := cache.brokersSnapshot()
	streams := cache.streamsSnapshot()
	require.Len(t, brokers, 2)
	require.Len(t, streams, 2)
}

func TestMetadataCacheMergeOverwritesSameKey(t *testing.T) {
	cache := newMetadataCache()
	cache.merge(&queryMetadataResponse{
		streams: []StreamMetadata{{Name: "orders", LeaderRef: 1}},
	})
	cache.merge(&queryMetadataResponse{
		streams: []StreamMetadata{{Name: "orders", LeaderRef: 2}},
	})

	streams := cache.streamsSnapshot()
	require.Len(t, streams, 1)
	require.EqualValues(t, 2, streams[0].LeaderRef)
}

func TestMetadataCacheStaleEntriesSurviveUnrelatedMerge(t *testing.T) {
	cache := newMetadataCache()
	cache.merge(&queryMetadataResponse{
		streams: []StreamMetadata{{Name: "orders", LeaderRef: 1}},
	})
	// a metadata_update-triggered refresh for a different stream must not
	// evict what is already cached about "orders".
	cache.merge(&queryMetadataResponse{
		streams: []StreamMetadata{{Name: "invoices", LeaderRef: 2}},
	})

	streams := cache.streamsSnapshot()
	require.Len(t, streams, 2)
}
