package main

import (
	"context"

	"github.com/talvikko/shopify-netvisor-sync/processor"
)

// OrderSource fetches every order updated since the given ISO-8601
// watermark, already normalized into canonical orders. Implementations
// materialize the whole changed set before returning.
type OrderSource interface {
	FetchUpdatedOrders(ctx context.Context, updatedSince string) ([]processor.Order, error)
}

type SourceConfig struct {
	Type   string                 `yaml:"type"`
	Config map[string]interface{} `yaml:"config"`
}
