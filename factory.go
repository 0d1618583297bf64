package main

import (
	"fmt"

	"github.com/talvikko/shopify-netvisor-sync/consumer"
	"github.com/talvikko/shopify-netvisor-sync/internal/state"
	"github.com/talvikko/shopify-netvisor-sync/processor"
)

func createOrderSource(sourceConfig SourceConfig, store *state.Store) (OrderSource, error) {
	switch sourceConfig.Type {
	case "ShopifySourceAdapter":
		return NewShopifySourceAdapter(sourceConfig.Config, store)
	default:
		return nil, fmt.Errorf("unsupported source type: %s", sourceConfig.Type)
	}
}

func createMapper(mapperConfig processor.MapperConfig) (SalesOrderMapper, error) {
	switch mapperConfig.Type {
	case "", "NetvisorSalesOrder":
		return processor.NewNetvisorSalesOrderMapper(mapperConfig.Config)
	default:
		return nil, fmt.Errorf("unsupported mapper type: %s", mapperConfig.Type)
	}
}

func createConsumer(consumerConfig consumer.ConsumerConfig) (consumer.Consumer, error) {
	switch consumerConfig.Type {
	case "SendToNetvisor":
		return consumer.NewSendToNetvisor(consumerConfig.Config)
	case "SaveSalesOrderToFile":
		return consumer.NewSaveSalesOrderToFile(consumerConfig.Config)
	default:
		return nil, fmt.Errorf("unsupported consumer type: %s", consumerConfig.Type)
	}
}
