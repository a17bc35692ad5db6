package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/jensholdgaard/team-auction"

// Metrics are the auction instruments.
type Metrics struct {
	// Bids counts bid attempts by team and outcome.
	Bids metric.Int64Counter
	// Conflicts counts commits rejected because the store moved on.
	Conflicts metric.Int64Counter
	Sales     metric.Int64Counter
	SalePrice metric.Int64Histogram
}

// NewMetrics creates the auction instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)

	bids, err := meter.Int64Counter("auction.bids",
		metric.WithDescription("Bid attempts by team and outcome."))
	if err != nil {
		return nil, fmt.Errorf("creating auction.bids: %w", err)
	}
	conflicts, err := meter.Int64Counter("auction.commit.conflicts",
		metric.WithDescription("Commits retried because of a concurrent change."))
	if err != nil {
		return nil, fmt.Errorf("creating auction.commit.conflicts: %w", err)
	}
	sales, err := meter.Int64Counter("auction.sales",
		metric.WithDescription("Players sold."))
	if err != nil {
		return nil, fmt.Errorf("creating auction.sales: %w", err)
	}
	price, err := meter.Int64Histogram("auction.sale.price",
		metric.WithDescription("Final sale price."),
		metric.WithUnit("{lakh}"))
	if err != nil {
		return nil, fmt.Errorf("creating auction.sale.price: %w", err)
	}

	return &Metrics{Bids: bids, Conflicts: conflicts, Sales: sales, SalePrice: price}, nil
}
