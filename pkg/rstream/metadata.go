package rstream

// metadataCache holds the connection's cached view of cluster topology,
// merged last-write-wins per key on every query_metadata reply and every
// metadata_update-triggered refresh.
type metadataCache struct {
	brokers map[uint16]Broker
	streams map[string]StreamMetadata
}

func newMetadataCache() *metadataCache {
	return &metadataCache{
		brokers: make(map[uint16]Broker),
		streams: make(map[string]StreamMetadata),
	}
}

// merge folds a query_metadata response into the cache. Existing entries
// not present in resp are left untouched: the merge is a union, not a
// replace, and staleness is never evicted.
func (m *metadataCache) merge(resp *queryMetadataResponse) {
	for _, b := range resp.brokers {
		m.brokers[b.Reference] = b
	}
	for _, s := range resp.streams {
		m.streams[s.Name] = s
	}
}

func (m *metadataCache) brokersSnapshot() []Broker {
	out := make([]Broker, 0, len(m.brokers))
	for _, b := range m.brokers {
		out = append(out, b)
	}
	return out
}

func (m *metadataCache) streamsSnapshot() []StreamMetadata {
	out := make([]StreamMetadata, 0, len(m.streams))
	for _, s := range m.streams {
		out = append(out, s)
	}
	return out
}
