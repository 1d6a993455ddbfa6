package bybit

import (
	"errors"
	"testing"

	appconfig "github.com/Prabhat-190/trade/config"
	"github.com/Prabhat-190/trade/models"
	"github.com/Prabhat-190/trade/reader"
)

func TestParseMessageSnapshot(t *testing.T) {
	msg := `{"topic":"orderbook.50.BTCUSDT","type":"snapshot","ts":1700000000000,` +
		`"data":{"s":"BTCUSDT","b":[["44999.5","2.5"],["44999.0","3"]],` +
		`"a":[["45000.5","1"],["45001.0","4"]],"u":18521288,"seq":7961638724}}`

	u, ok, err := parseMessage("BTCUSDT", msg)
	if err != nil || !ok {
		t.Fatalf("unexpected result: ok=%v err=%v", ok, err)
	}
	if u.Type != models.UpdateSnapshot {
		t.Fatalf("expected snapshot, got %s", u.Type)
	}
	if u.Venue != "bybit" || u.Symbol != "BTCUSDT" {
		t.Fatalf("unexpected identity: %s %s", u.Venue, u.Symbol)
	}
	if u.Sequence != 18521288 || u.PrevSequence != -1 {
		t.Fatalf("unexpected sequence: %d/%d", u.Sequence, u.PrevSequence)
	}
	if len(u.Bids) != 2 || len(u.Asks) != 2 {
		t.Fatalf("unexpected levels: %d bids, %d asks", len(u.Bids), len(u.Asks))
	}
	if u.Bids[0] != (models.PriceLevel{Price: 44999.5, Quantity: 2.5}) {
		t.Fatalf("unexpected best bid: %+v", u.Bids[0])
	}
	if u.Timestamp.UnixMilli() != 1700000000000 {
		t.Fatalf("unexpected timestamp: %v", u.Timestamp)
	}
}

func TestParseMessageDelta(t *testing.T) {
	msg := `{"topic":"orderbook.50.BTCUSDT","type":"delta","ts":1700000000100,` +
		`"data":{"s":"BTCUSDT","b":[["44999.5","0"]],"a":[["45000.5","2"]],"u":18521289,"seq":7961638725}}`

	u, ok, err := parseMessage("BTCUSDT", msg)
	if err != nil || !ok {
		t.Fatalf("unexpected result: ok=%v err=%v", ok, err)
	}
	if u.Type != models.UpdateDelta {
		t.Fatalf("expected delta, got %s", u.Type)
	}
	if u.Sequence != 18521289 || u.PrevSequence != -1 {
		t.Fatalf("unexpected sequence: %d/%d", u.Sequence, u.PrevSequence)
	}
	if len(u.Changes) != 2 {
		t.Fatalf("expected 2 changes, got %d", len(u.Changes))
	}
	if u.Changes[0] != (models.LevelChange{Side: models.BidSide, Price: 44999.5, Quantity: 0}) {
		t.Fatalf("unexpected bid removal: %+v", u.Changes[0])
	}
	if u.Changes[1] != (models.LevelChange{Side: models.AskSide, Price: 45000.5, Quantity: 2}) {
		t.Fatalf("unexpected ask change: %+v", u.Changes[1])
	}
}

func TestParseMessageControlMessages(t *testing.T) {
	for _, msg := range []string{
		`{"success":true,"ret_msg":"","conn_id":"abc","op":"subscribe"}`,
		`{"success":true,"ret_msg":"pong","conn_id":"abc","op":"ping"}`,
	} {
		u, ok, err := parseMessage("BTCUSDT", msg)
		if err != nil || ok {
			t.Fatalf("%s: expected silent control message, got ok=%v err=%v u=%+v", msg, ok, err, u)
		}
	}
}

func TestParseMessageRejectedSubscription(t *testing.T) {
	msg := `{"success":false,"ret_msg":"error:handler not found,topic:orderbook.50.NOPE","conn_id":"abc","op":"subscribe"}`

	_, _, err := parseMessage("NOPE", msg)
	var perr *reader.ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("expected protocol error, got %v", err)
	}
	if perr.Venue != "bybit" {
		t.Fatalf("unexpected venue: %s", perr.Venue)
	}
}

func TestParseMessageMalformed(t *testing.T) {
	_, _, err := parseMessage("BTCUSDT", "{not json")
	if !errors.Is(err, errMalformed) {
		t.Fatalf("expected malformed error, got %v", err)
	}
}

func TestRebaseKeepsSequenceMonotone(t *testing.T) {
	s := &session{}

	snap := models.BookUpdate{Type: models.UpdateSnapshot, Sequence: 500}
	if !s.rebase(&snap) || snap.Sequence != 500 {
		t.Fatalf("first snapshot should pass unchanged, got %d", snap.Sequence)
	}

	delta := models.BookUpdate{Type: models.UpdateDelta, Sequence: 501, PrevSequence: -1}
	if !s.rebase(&delta) || delta.Sequence != 501 {
		t.Fatalf("delta should pass unchanged, got %d", delta.Sequence)
	}

	// Service restart: the venue starts update ids over from one.
	restart := models.BookUpdate{Type: models.UpdateSnapshot, Sequence: 1}
	if !s.rebase(&restart) {
		t.Fatal("restart snapshot must pass")
	}
	if restart.Sequence != 502 {
		t.Fatalf("restart snapshot should rebase above the last delta, got %d", restart.Sequence)
	}

	next := models.BookUpdate{Type: models.UpdateDelta, Sequence: 2, PrevSequence: -1}
	if !s.rebase(&next) || next.Sequence != 503 {
		t.Fatalf("post-restart delta should stay consecutive, got %d", next.Sequence)
	}
}

func TestRebaseDropsStaleDeltas(t *testing.T) {
	s := &session{}

	snap := models.BookUpdate{Type: models.UpdateSnapshot, Sequence: 100}
	s.rebase(&snap)

	stale := models.BookUpdate{Type: models.UpdateDelta, Sequence: 100}
	if s.rebase(&stale) {
		t.Fatal("delta at the snapshot id must be dropped")
	}

	fresh := models.BookUpdate{Type: models.UpdateDelta, Sequence: 101}
	if !s.rebase(&fresh) || fresh.Sequence != 101 {
		t.Fatalf("next delta should pass, got %d", fresh.Sequence)
	}
}

func TestRebaseReplaySnapshotAtCurrentSequence(t *testing.T) {
	s := &session{}

	snap := models.BookUpdate{Type: models.UpdateSnapshot, Sequence: 100}
	s.rebase(&snap)

	// A resubscribe replay can carry the same id when the book is quiet.
	replay := models.BookUpdate{Type: models.UpdateSnapshot, Sequence: 100}
	if !s.rebase(&replay) || replay.Sequence != 101 {
		t.Fatalf("replayed snapshot should move forward, got %d", replay.Sequence)
	}

	next := models.BookUpdate{Type: models.UpdateDelta, Sequence: 101}
	if !s.rebase(&next) || next.Sequence != 102 {
		t.Fatalf("following delta should stay consecutive, got %d", next.Sequence)
	}
}

func TestSourceDefaults(t *testing.T) {
	cfg := &appconfig.Config{
		Feed: appconfig.FeedConfig{
			Source: "bybit",
			Bybit:  appconfig.BybitSourceConfig{Symbol: "BTCUSDT"},
		},
	}
	s := New(cfg)
	if s.Name() != "bybit" {
		t.Fatalf("unexpected name: %s", s.Name())
	}
	if got := s.wsURL(); got != defaultWSURL {
		t.Fatalf("unexpected ws url: %s", got)
	}
	if got := s.depth(); got != defaultDepth {
		t.Fatalf("unexpected depth: %d", got)
	}
}
