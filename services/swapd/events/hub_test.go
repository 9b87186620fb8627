package events

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"fixedswap/native/swap"
	"fixedswap/services/swapd/api"
)

var (
	pair   = swap.PairKey{X: "XTK", Y: "YTK"}
	trader = common.HexToAddress("0x2000000000000000000000000000000000000002")
	admin  = common.HexToAddress("0x1000000000000000000000000000000000000001")
)

func receipt(amountOut uint64) swap.Receipt {
	return swap.Receipt{
		ID:          uuid.New(),
		Pair:        pair,
		Trader:      trader,
		Direction:   swap.XToY,
		Mode:        swap.ModeExactIn,
		AssetIn:     "XTK",
		AssetOut:    "YTK",
		AmountIn:    1000,
		AmountOut:   amountOut,
		Fee:         20,
		FeeAsset:    "YTK",
		ScaledPrice: 2_000_000,
		SpreadBps:   100,
		ExecutedAt:  time.Unix(1_700_000_000, 0),
	}
}

func TestHubBacklogAndLiveDelivery(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()
	hub.SwapExecuted(ctx, receipt(1))
	hub.PairChanged(ctx, swap.PairEvent{Kind: swap.PairPriceUpdated, Actor: admin, State: swap.PairState{Pair: pair, ScaledPrice: 5}, At: time.Now()})

	updates, cancel, backlog := hub.Subscribe(ctx, "1")
	defer cancel()
	if len(backlog) != 1 || backlog[0].Sequence != 2 || backlog[0].Type != api.EventPair {
		t.Fatalf("unexpected backlog %+v", backlog)
	}
	if backlog[0].Pair.ScaledPrice != "5" || backlog[0].Kind != "price_updated" {
		t.Fatalf("unexpected pair payload %+v", backlog[0].Pair)
	}

	hub.SwapExecuted(ctx, receipt(1980))
	select {
	case event := <-updates:
		if event.Sequence != 3 || event.Swap == nil || event.Swap.AmountOut != "1980" {
			t.Fatalf("unexpected live event %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for live event")
	}
}

func TestHubDropsForSlowSubscribers(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()
	_, cancel, _ := hub.Subscribe(ctx, "")
	defer cancel()
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*3; i++ {
			hub.SwapExecuted(ctx, receipt(uint64(i)))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publishing blocked on a slow subscriber")
	}
}

func TestHubCancelOnContext(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	updates, stop, _ := hub.Subscribe(ctx, "")
	cancel()
	select {
	case _, ok := <-updates:
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatalf("subscription not cancelled")
	}
	stop()
	if hub.Subscribers() != 0 {
		t.Fatalf("expected no subscribers, got %d", hub.Subscribers())
	}
}

func TestHubHistoryBounded(t *testing.T) {
	hub := NewHub()
	for i := 0; i < historyLimit+10; i++ {
		hub.SwapExecuted(context.Background(), receipt(1))
	}
	_, cancel, backlog := hub.Subscribe(context.Background(), "")
	defer cancel()
	if len(backlog) != historyLimit {
		t.Fatalf("expected %d events, got %d", historyLimit, len(backlog))
	}
	if backlog[0].Sequence != 11 {
		t.Fatalf("expected oldest retained sequence 11, got %d", backlog[0].Sequence)
	}
}

func TestStreamHandler(t *testing.T) {
	hub := NewHub()
	hub.SwapExecuted(context.Background(), receipt(1980))
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?cursor=0"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	read := func() api.Event {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var event api.Event
		if err := json.Unmarshal(data, &event); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return event
	}
	if event := read(); event.Sequence != 1 || event.Swap.AmountOut != "1980" {
		t.Fatalf("unexpected backlog event %+v", event)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	hub.PairChanged(context.Background(), swap.PairEvent{Kind: swap.PairInitialized, Actor: admin, State: swap.PairState{Pair: pair}, At: time.Now()})
	if event := read(); event.Sequence != 2 || event.Type != api.EventPair || event.Pair.X != "XTK" {
		t.Fatalf("unexpected live event %+v", event)
	}
}
