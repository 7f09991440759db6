package rstream

import "context"

// do sends a tracked command and blocks for its reply. payload is opaque
// bookkeeping the actor attaches to the tracker waiter (e.g. an id the
// caller will need stamped back into the response).
func (c *Conn) do(ctx context.Context, cmd command, payload interface{}) (reply, error) {
	if c.State() != StateOpen {
		return nil, ErrClosed
	}
	replyCh := make(chan trackerResult, 1)
	select {
	case c.mailbox <- callMsg{cmd: cmd, payload: payload, reply: replyCh}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-replyCh:
		return res.resp, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// doFireAndForget sends a command that carries no response.
func (c *Conn) doFireAndForget(ctx context.Context, cmd command) error {
	if c.State() != StateOpen {
		return ErrClosed
	}
	replyCh := make(chan trackerResult, 1)
	select {
	case c.mailbox <- callMsg{cmd: cmd, noReply: true, reply: replyCh}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case res := <-replyCh:
		return res.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CreateStream creates a stream with the given retention/placement
// arguments (e.g. "max-length-bytes", "max-age").
func (c *Conn) CreateStream(ctx context.Context, stream string, arguments map[string]string) error {
	if err := validateStreamName(stream); err != nil {
		return err
	}
	resp, err := c.do(ctx, &createStreamRequest{stream: stream, arguments: arguments}, nil)
	if err != nil {
		return err
	}
	return commandErr("create_stream", resp.(*createStreamResponse).code)
}

// DeleteStream deletes a stream.
func (c *Conn) DeleteStream(ctx context.Context, stream string) error {
	if err := validateStreamName(stream); err != nil {
		return err
	}
	resp, err := c.do(ctx, &deleteStreamRequest{stream: stream}, nil)
	if err != nil {
		return err
	}
	return commandErr("delete_stream", resp.(*deleteStreamResponse).code)
}

// DeclarePublisher registers a publisher for stream under reference (a
// name used for deduplication across reconnects via
// QueryPublisherSequence) and returns the publisher id the broker now
// associates with subsequent Publish calls.
func (c *Conn) DeclarePublisher(ctx context.Context, reference, stream string) (uint8, error) {
	if err := validateStreamName(stream); err != nil {
		return 0, err
	}
	if c.State() != StateOpen {
		return 0, ErrClosed
	}
	reply := make(chan trackerResult, 1)
	select {
	case c.mailbox <- declarePublisherMsg{reference: reference, stream: stream, reply: reply}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case res := <-reply:
		if res.err != nil {
			return 0, res.err
		}
		r := res.resp.(*declarePublisherResponse)
		if err := commandErr("declare_publisher", r.code); err != nil {
			return 0, err
		}
		return r.publisherID, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// DeletePublisher releases a publisher id.
func (c *Conn) DeletePublisher(ctx context.Context, publisherID uint8) error {
	resp, err := c.do(ctx, &deletePublisherRequest{publisherID: publisherID}, nil)
	if err != nil {
		return err
	}
	return commandErr("delete_publisher", resp.(*deletePublisherResponse).code)
}

// QueryPublisherSequence returns the last publishing id the broker
// persisted for reference on stream, for resuming a deduplicated
// publisher after a reconnect.
func (c *Conn) QueryPublisherSequence(ctx context.Context, reference, stream string) (uint64, error) {
	if err := validateStreamName(stream); err != nil {
		return 0, err
	}
	resp, err := c.do(ctx, &queryPublisherSequenceRequest{reference: reference, stream: stream}, nil)
	if err != nil {
		return 0, err
	}
	r := resp.(*queryPublisherSequenceResponse)
	if err := commandErr("query_publisher_sequence", r.code); err != nil {
		return 0, err
	}
	return r.sequence, nil
}

// Publish sends a batch of messages under publisherID. It does not wait
// for a broker reply: delivery outcomes arrive asynchronously through
// the PublishConfirmHandler/PublishErrorHandler callbacks.
func (c *Conn) Publish(ctx context.Context, publisherID uint8, messages []Message) error {
	return c.doFireAndForget(ctx, &publishRequest{publisherID: publisherID, messages: messages})
}

// StoreOffset records a consumer's reference offset on stream, without
// waiting for a broker reply.
func (c *Conn) StoreOffset(ctx context.Context, stream, reference string, offset uint64) error {
	if err := validateStreamName(stream); err != nil {
		return err
	}
	return c.doFireAndForget(ctx, &storeOffsetRequest{stream: stream, reference: reference, offset: offset})
}

// QueryOffset returns the last offset stored under reference on stream.
func (c *Conn) QueryOffset(ctx context.Context, stream, reference string) (uint64, error) {
	if err := validateStreamName(stream); err != nil {
		return 0, err
	}
	resp, err := c.do(ctx, &queryOffsetRequest{stream: stream, reference: reference}, nil)
	if err != nil {
		return 0, err
	}
	r := resp.(*queryOffsetResponse)
	if err := commandErr("query_offset", r.code); err != nil {
		return 0, err
	}
	return r.offset, nil
}

// Subscribe opens a subscription on stream starting at offset, with an
// initial credit grant, and registers sink to receive its deliveries. It
// returns the subscription id used by Credit and Unsubscribe.
func (c *Conn) Subscribe(ctx context.Context, stream string, offset OffsetSpec, credit uint16, properties map[string]string, sink Sink) (uint8, error) {
	if err := validateStreamName(stream); err != nil {
		return 0, err
	}
	if c.State() != StateOpen {
		return 0, ErrClosed
	}
	reply := make(chan trackerResult, 1)
	select {
	case c.mailbox <- subscribeMsg{stream: stream, offset: offset, credit: credit, properties: properties, sink: sink, reply: reply}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case res := <-reply:
		if res.err != nil {
			return 0, res.err
		}
		r := res.resp.(*subscribeResponse)
		if err := commandErr("subscribe", r.code); err != nil {
			return 0, err
		}
		return r.subscriptionID, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Unsubscribe ends a subscription; its sink stops receiving deliveries.
func (c *Conn) Unsubscribe(ctx context.Context, subscriptionID uint8) error {
	resp, err := c.do(ctx, &unsubscribeRequest{subscriptionID: subscriptionID}, subscriptionID)
	if err != nil {
		return err
	}
	return commandErr("unsubscribe", resp.(*unsubscribeResponse).code)
}

// Credit grants a subscription additional delivery credit.
func (c *Conn) Credit(ctx context.Context, subscriptionID uint8, credit uint16) error {
	return c.doFireAndForget(ctx, &creditRequest{subscriptionID: subscriptionID, credit: credit})
}

// QueryMetadata asks the broker for the current leader/replica placement
// of streams (or the whole cluster topology when streams is empty), and
// folds the answer into the connection's cached view.
func (c *Conn) QueryMetadata(ctx context.Context, streams []string) ([]Broker, []StreamMetadata, error) {
	for _, stream := range streams {
		if err := validateStreamName(stream); err != nil {
			return nil, nil, err
		}
	}
	resp, err := c.do(ctx, &queryMetadataRequest{streams: streams}, nil)
	if err != nil {
		return nil, nil, err
	}
	r := resp.(*queryMetadataResponse)
	return r.brokers, r.streams, nil
}

// CachedMetadata returns the connection's current cached view of cluster
// topology, last refreshed by the most recent QueryMetadata call or
// metadata_update push.
func (c *Conn) CachedMetadata(ctx context.Context) ([]Broker, []StreamMetadata, error) {
	reply := make(chan metadataSnapshot, 1)
	select {
	case c.mailbox <- metadataSnapshotMsg{reply: reply}:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
	select {
	case snap := <-reply:
		return snap.brokers, snap.streams, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}
