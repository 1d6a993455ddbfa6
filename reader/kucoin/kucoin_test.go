package kucoin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Prabhat-190/trade/logger"
	"github.com/Prabhat-190/trade/models"
	"github.com/Prabhat-190/trade/reader"
)

func TestParseChange(t *testing.T) {
	tests := []struct {
		change string
		want   models.LevelChange
		ok     bool
	}{
		{"44999.5,buy,2.5", models.LevelChange{Side: models.BidSide, Price: 44999.5, Quantity: 2.5}, true},
		{"45000.5,sell,0", models.LevelChange{Side: models.AskSide, Price: 45000.5, Quantity: 0}, true},
		{"sell,45001.0,3", models.LevelChange{Side: models.AskSide, Price: 45001.0, Quantity: 3}, true},
		{"45001.0,3", models.LevelChange{}, false},
		{"bad,buy,qty", models.LevelChange{}, false},
	}

	for _, tt := range tests {
		got, ok := parseChange(tt.change)
		if ok != tt.ok {
			t.Fatalf("%q: expected ok=%v, got %v", tt.change, tt.ok, ok)
		}
		if got != tt.want {
			t.Fatalf("%q: expected %+v, got %+v", tt.change, tt.want, got)
		}
	}
}

func TestConvertDropsCoveredIncrements(t *testing.T) {
	s := &session{symbol: "XBTUSDTM", log: logger.GetLogger(), snapshotSeq: 50}

	if _, ok := s.convert(incrementEvent{sequence: 50, change: "44999.5,buy,1"}); ok {
		t.Fatal("expected increment at snapshot sequence to be dropped")
	}

	u, ok := s.convert(incrementEvent{sequence: 51, change: "44999.5,buy,1", timestamp: 1700000000000})
	if !ok {
		t.Fatal("expected increment past snapshot kept")
	}
	if u.Sequence != 51 || u.PrevSequence != 50 {
		t.Fatalf("unexpected linkage: %d/%d", u.Sequence, u.PrevSequence)
	}
	if len(u.Changes) != 1 || u.Changes[0].Side != models.BidSide {
		t.Fatalf("unexpected changes: %+v", u.Changes)
	}
}

func TestFetchSnapshot(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("symbol"); got != "XBTUSDTM" {
			t.Errorf("unexpected symbol query: %s", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, `{"code":"200000","data":{"sequence":600,"bids":[[44999.5,2],[44999.0,3]],"asks":[[45000.5,1]]}}`)
	}))
	defer server.Close()

	s := &session{
		symbol:   "XBTUSDTM",
		endpoint: server.URL,
		client:   server.Client(),
		log:      logger.GetLogger(),
	}

	snap, err := s.fetchSnapshot(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Type != models.UpdateSnapshot || snap.Sequence != 600 {
		t.Fatalf("unexpected snapshot: %s %d", snap.Type, snap.Sequence)
	}
	if len(snap.Bids) != 2 || snap.Bids[0].Price != 44999.5 {
		t.Fatalf("unexpected bids: %+v", snap.Bids)
	}
	if len(snap.Asks) != 1 || snap.Asks[0].Quantity != 1 {
		t.Fatalf("unexpected asks: %+v", snap.Asks)
	}

	// Increments covered by the fresh snapshot are now discarded.
	if _, ok := s.convert(incrementEvent{sequence: 600, change: "44999.5,buy,1"}); ok {
		t.Fatal("expected stale increment dropped after snapshot")
	}
}

func TestFetchSnapshotRejectedCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"code":"500000","data":{}}`)
	}))
	defer server.Close()

	s := &session{
		symbol:   "XBTUSDTM",
		endpoint: server.URL,
		client:   &http.Client{Timeout: time.Second},
		log:      logger.GetLogger(),
	}

	_, err := s.fetchSnapshot(context.Background())
	if err == nil {
		t.Fatal("expected error for rejected snapshot")
	}
	var perr *reader.ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("expected protocol error, got %T: %v", err, err)
	}
	if perr.Venue != "kucoin" {
		t.Fatalf("unexpected venue: %s", perr.Venue)
	}
}
