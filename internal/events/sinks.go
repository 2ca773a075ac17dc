package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/notify"
)

// Bus channel naming.
const (
	ChannelPrefix = "market:"
	EventStream   = "market:events"
)

// Channel returns the pub/sub channel for an event type.
func Channel(t domain.EventType) string {
	return ChannelPrefix + string(t)
}

// BusSink publishes the event JSON on its type channel and appends it to the
// durable event stream.
type BusSink struct {
	bus domain.SignalBus
}

// NewBusSink creates a BusSink over bus.
func NewBusSink(bus domain.SignalBus) *BusSink {
	return &BusSink{bus: bus}
}

func (s *BusSink) Name() string { return "bus" }

func (s *BusSink) Handle(ctx context.Context, evt domain.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", evt.Type, err)
	}
	if err := s.bus.Publish(ctx, Channel(evt.Type), payload); err != nil {
		return err
	}
	return s.bus.StreamAppend(ctx, EventStream, payload)
}

// NotifySink renders events for operator channels.
type NotifySink struct {
	notifier *notify.Notifier
}

// NewNotifySink creates a NotifySink over n.
func NewNotifySink(n *notify.Notifier) *NotifySink {
	return &NotifySink{notifier: n}
}

func (s *NotifySink) Name() string { return "notify" }

func (s *NotifySink) Handle(ctx context.Context, evt domain.Event) error {
	if !s.notifier.Enabled(string(evt.Type)) {
		return nil
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", evt.Type, err)
	}
	title, body := Describe(evt)
	return s.notifier.Notify(ctx, notify.Message{
		Event:   string(evt.Type),
		Title:   title,
		Body:    body,
		Payload: payload,
	})
}

// Describe renders a short human-readable title and body for evt.
func Describe(evt domain.Event) (title, body string) {
	amount := domain.FormatEther(evt.Amount)
	switch evt.Type {
	case domain.EventAuctionCreated:
		return "Auction created", fmt.Sprintf("Asset %s by %s, starting at %s ETH, open %d to %d",
			evt.AssetID, evt.Seller.Hex(), domain.FormatEther(evt.StartingPrice), evt.StartTime, evt.EndTime)
	case domain.EventBidPlaced:
		return "Bid placed", fmt.Sprintf("Asset %s: %s bid %s ETH", evt.AssetID, evt.Counterparty.Hex(), amount)
	case domain.EventAuctionFinalized:
		if evt.Counterparty == domain.NoAddress {
			return "Auction finalized", fmt.Sprintf("Asset %s closed without bids", evt.AssetID)
		}
		return "Auction finalized", fmt.Sprintf("Asset %s won by %s for %s ETH", evt.AssetID, evt.Counterparty.Hex(), amount)
	case domain.EventNFTListed:
		return "Asset listed", fmt.Sprintf("Asset %s listed by %s for %s ETH", evt.AssetID, evt.Seller.Hex(), amount)
	case domain.EventNFTSold:
		return "Asset sold", fmt.Sprintf("Asset %s sold by %s to %s for %s ETH", evt.AssetID, evt.Seller.Hex(), evt.Counterparty.Hex(), amount)
	default:
		return string(evt.Type), fmt.Sprintf("Asset %s", evt.AssetID)
	}
}

// AuditSink writes every event to the audit log.
type AuditSink struct {
	audit domain.AuditStore
}

// NewAuditSink creates an AuditSink over store.
func NewAuditSink(store domain.AuditStore) *AuditSink {
	return &AuditSink{audit: store}
}

func (s *AuditSink) Name() string { return "audit" }

func (s *AuditSink) Handle(ctx context.Context, evt domain.Event) error {
	return s.audit.Log(ctx, "market."+string(evt.Type), evt.Detail())
}

// Recorder keeps emitted events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *Recorder) Name() string { return "recorder" }

func (r *Recorder) Handle(_ context.Context, evt domain.Event) error {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}
