package maicai

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DiscoverReserveTimes queries the platform for delivery windows open
// for the current cart and replaces the window set wholesale. Windows
// the platform flags unavailable are dropped. Returns ErrNoCart without
// touching the network when there is no orderable cart, and
// ErrNoWindows (with the stale set cleared) when the platform
// legitimately reports zero.
func (s *Session) DiscoverReserveTimes(ctx context.Context) error {
	var productsJSON []byte
	s.lock.Lock()
	products, ok := s.cartProductsLocked()
	if ok {
		// the endpoint wants the product list wrapped in one more array
		productsJSON, _ = json.Marshal([]any{products})
	} else {
		s.reserves = nil
	}
	s.lock.Unlock()
	if !ok {
		return ErrNoCart
	}

	body, err := s.postForm(ctx, s.tradeBase, "/order/getMultiReserveTime", map[string]string{
		"products":        string(productsJSON),
		"group_config_id": "",
		"isBridge":        "false",
	})
	if err != nil {
		return fmt.Errorf("fetch reserve time: %w", err)
	}
	e, err := decodeEnvelope(body)
	if err != nil {
		return err
	}
	if !*e.Success {
		return platformError(e)
	}

	var data []struct {
		Time []struct {
			Times []struct {
				StartTimestamp int64  `json:"start_timestamp"`
				EndTimestamp   int64  `json:"end_timestamp"`
				DisableType    int    `json:"disableType"`
				SelectMsg      string `json:"select_msg"`
			} `json:"times"`
		} `json:"time"`
	}
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if len(data) == 0 || len(data[0].Time) == 0 {
		s.log.Warn("no reserve time open")
		s.lock.Lock()
		s.reserves = nil
		s.lock.Unlock()
		return ErrNoWindows
	}

	out := make([]ReserveTime, 0, len(data[0].Time[0].Times))
	for _, t := range data[0].Time[0].Times {
		if t.DisableType != 0 {
			continue
		}
		s.log.Debug("reserve time open",
			zap.Int64("start", t.StartTimestamp),
			zap.Int64("end", t.EndTimestamp),
			zap.String("msg", t.SelectMsg))
		out = append(out, ReserveTime{
			Start: time.Unix(t.StartTimestamp, 0),
			End:   time.Unix(t.EndTimestamp, 0),
		})
	}
	s.log.Info("reserve times found", zap.Int("count", len(out)))

	s.lock.Lock()
	defer s.lock.Unlock()
	// the cart may have been cleared while the call was in flight; a
	// window set without its cart is useless, so drop the result
	if s.cart == nil {
		s.reserves = nil
		return ErrNoCart
	}
	s.reserves = out
	return nil
}

// ReserveTimes returns a copy of the currently open windows.
func (s *Session) ReserveTimes() []ReserveTime {
	s.lock.Lock()
	defer s.lock.Unlock()
	out := make([]ReserveTime, len(s.reserves))
	copy(out, s.reserves)
	return out
}
