package main

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/talvikko/shopify-netvisor-sync/consumer"
	"github.com/talvikko/shopify-netvisor-sync/internal/state"
	"github.com/talvikko/shopify-netvisor-sync/processor"
	"github.com/talvikko/shopify-netvisor-sync/utils"
)

const defaultOverlap = 30 * time.Second

// SalesOrderMapper renders a canonical order into the destination
// document body.
type SalesOrderMapper interface {
	ToSalesOrderXML(processor.Order) ([]byte, error)
}

// OrderSyncService drives one full sync pass: read the watermark, pull
// every changed order, submit each unseen one, then persist the new
// watermark with a safety overlap. One invocation is one pass; an
// external scheduler re-invokes periodically.
//
// A single order's failure never aborts the run. The order stays
// unmarked in the checkpoint and the overlap window guarantees it is
// fetched and retried on the next pass.
type OrderSyncService struct {
	source  OrderSource
	mapper  SalesOrderMapper
	sink    consumer.Consumer
	state   *state.Store
	overlap time.Duration

	now func() time.Time
}

func NewOrderSyncService(source OrderSource, mapper SalesOrderMapper, sink consumer.Consumer, store *state.Store, overlap time.Duration) *OrderSyncService {
	if overlap <= 0 {
		overlap = defaultOverlap
	}
	return &OrderSyncService{
		source:  source,
		mapper:  mapper,
		sink:    sink,
		state:   store,
		overlap: overlap,
		now:     time.Now,
	}
}

func (s *OrderSyncService) Run(ctx context.Context) error {
	runID := uuid.NewString()
	since := s.state.LastRunISO()
	log.Printf("Sync run %s starting: fetching orders updated since %s", runID, since)

	orders, err := s.source.FetchUpdatedOrders(ctx, since)
	if err != nil {
		return errors.Wrap(err, "fetching updated orders")
	}
	log.Printf("Sync run %s: fetched %d orders", runID, len(orders))

	maxUpdated := since
	var sent, skipped, failed int

	for _, order := range orders {
		if order.ID == "" {
			log.Printf("Sync run %s: order missing id, skipping", runID)
			continue
		}

		// Track the high-water mark independently of submission outcome:
		// a failed order must not hold the window open forever, the
		// overlap plus the sent-set handles its retry.
		maxUpdated = utils.MaxISO(maxUpdated, order.UpdatedAt)

		if s.state.WasSent(order.ID) {
			log.Printf("Sync run %s: order %s already sent, skipping", runID, order.ID)
			skipped++
			continue
		}

		xmlDoc, err := s.mapper.ToSalesOrderXML(order)
		if err != nil {
			log.Printf("Sync run %s: failed to map order %s: %v", runID, order.ID, err)
			failed++
			continue
		}

		result, err := s.sink.SubmitSalesOrder(ctx, xmlDoc)
		if err != nil {
			log.Printf("Sync run %s: failed to submit order %s: %v", runID, order.ID, err)
			failed++
			continue
		}

		s.state.MarkSent(order.ID, result.NetvisorKey)
		sent++
		log.Printf("Sync run %s: sent order %s status=%d netvisorKey=%q", runID, order.ID, result.StatusCode, result.NetvisorKey)
	}

	if len(orders) == 0 {
		// Nothing observed: the watermark stays where it was. Subtracting
		// the overlap here would walk it backwards a little on every idle
		// run.
		log.Printf("Sync run %s finished: no orders, watermark unchanged at %s", runID, since)
		return nil
	}

	if maxUpdated == since {
		// Orders came back but none carried a parseable later timestamp.
		// Jump to now so the same window is not refetched forever; logged
		// loudly because a malformed-timestamp batch lands here too and
		// those orders fall out of the window.
		maxUpdated = s.now().UTC().Format(time.RFC3339)
		log.Printf("Sync run %s: %d orders fetched but watermark did not advance, jumping to %s", runID, len(orders), maxUpdated)
	}

	// Clamp to the previous watermark so it never moves backwards, even
	// when the freshest record sits inside the overlap window.
	checkpoint := utils.MaxISO(since, utils.SubtractISO(maxUpdated, s.overlap))
	s.state.SetLastRunISO(checkpoint)

	log.Printf("Sync run %s finished: sent=%d skipped=%d failed=%d newWatermark=%s", runID, sent, skipped, failed, checkpoint)
	return nil
}
