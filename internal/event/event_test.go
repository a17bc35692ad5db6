package event_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/jensholdgaard/team-auction/internal/event"
)

func TestNew(t *testing.T) {
	at := time.Date(2025, 6, 15, 12, 0, 0, 0, time.FixedZone("IST", 5*3600+1800))

	e, err := event.New("p1", event.AuctionBidPlaced, event.BidPlacedData{Team: "A", Delta: 10, Price: 30}, at)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if e.AggregateID != "p1" || e.Type != event.AuctionBidPlaced {
		t.Errorf("event = %+v", e)
	}
	if e.CreatedAt.Location() != time.UTC {
		t.Errorf("CreatedAt location = %v, want UTC", e.CreatedAt.Location())
	}

	var d event.BidPlacedData
	if err := json.Unmarshal(e.Data, &d); err != nil {
		t.Fatalf("unmarshalling payload: %v", err)
	}
	if d.Price != 30 || d.Team != "A" {
		t.Errorf("payload = %+v", d)
	}
}

func TestNew_UnmarshallablePayload(t *testing.T) {
	if _, err := event.New("p1", event.PlayerAdded, make(chan int), time.Now()); err == nil {
		t.Fatal("expected marshalling error")
	}
}
