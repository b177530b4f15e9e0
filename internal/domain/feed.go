package domain

// FeedEvent is a single message pushed to subscribers of an orderbook's live
// stream.
type FeedEvent struct {
	Type       string // "trade" or "price"
	MarketID   string
	PositionID string
	Payload    any
}

// FeedPublisher broadcasts feed events to connected WebSocket clients. The
// matching engine holds one optionally; a nil publisher means no live feed
// is wired and publishing is a no-op.
type FeedPublisher interface {
	Publish(event FeedEvent)
}
