package consumer

import (
	"context"
)

// Consumer is a destination sink for mapped sales order documents.
type Consumer interface {
	SubmitSalesOrder(ctx context.Context, xmlDoc []byte) (SubmitResult, error)
}

type ConsumerConfig struct {
	Type   string                 `yaml:"type"`
	Config map[string]interface{} `yaml:"config"`
}

// SubmitResult reports a successful submission. NetvisorKey is the
// destination-assigned identifier when the response carried one; it is
// empty for sinks (or responses) that have no such key.
type SubmitResult struct {
	StatusCode  int
	NetvisorKey string
}
