package rstream

// Sink receives pushed delivery payloads for one subscription. It is
// called synchronously from the connection's actor goroutine and must
// not block: a slow or blocking sink stalls every other frame on the
// connection. Flow is regulated by the credit protocol: more deliveries
// are granted with Conn.Credit. Credit goes through the same actor that
// runs the sink, so a Credit call made from inside the sink returns only
// when its context ends.
type Sink func(Delivery)

// subscriptionRegistry maps subscription_id -> sink. It is owned
// exclusively by the actor goroutine.
type subscriptionRegistry struct {
	sinks map[uint8]Sink
}

func newSubscriptionRegistry() *subscriptionRegistry {
	return &subscriptionRegistry{sinks: make(map[uint8]Sink)}
}

func (r *subscriptionRegistry) add(id uint8, sink Sink) { r.sinks[id] = sink }

func (r *subscriptionRegistry) remove(id uint8) { delete(r.sinks, id) }

func (r *subscriptionRegistry) clear() { r.sinks = make(map[uint8]Sink) }

func (r *subscriptionRegistry) len() int { return len(r.sinks) }

// dispatch delivers d to its subscription's sink, dropping it silently
// if the subscription is absent (a late arrival after unsubscribe). It
// reports whether a sink was found, for tests.
func (r *subscriptionRegistry) dispatch(d Delivery) bool {
	sink, ok := r.sinks[d.SubscriptionID]
	if !ok {
		return false
	}
	sink(d)
	return true
}
