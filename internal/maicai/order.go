package maicai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CheckOrder submits the chosen window plus the current cart for a
// price/feasibility quote. The returned code is the platform's result
// code whenever a well-formed response arrived, so callers can classify
// retry-worthiness even on logical failure; transport and parse
// failures report code -1.
func (s *Session) CheckOrder(ctx context.Context, rt ReserveTime) (*Order, int, error) {
	order := &Order{ReserveTime: rt}

	s.lock.Lock()
	if s.cart == nil {
		s.lock.Unlock()
		return nil, -1, ErrNoCart
	}
	order.cartData = cloneMap(s.cart)
	addressID := s.params["address_id"]
	s.lock.Unlock()

	pkg := cloneMap(order.cartData)
	pkg["reserved_time"] = map[string]any{
		"reserved_time_start": rt.Start.Unix(),
		"reserved_time_end":   rt.End.Unix(),
	}
	packages, _ := json.Marshal([]any{pkg})

	s.log.Info("checking order")
	body, err := s.postForm(ctx, s.tradeBase, "/order/checkOrder", map[string]string{
		"packages":                 string(packages),
		"user_ticket_id":           "default",
		"freight_ticket_id":        "default",
		"is_use_point":             "0",
		"is_use_balance":           "0",
		"is_buy_vip":               "0",
		"coupons_id":               "",
		"is_buy_coupons":           "0",
		"check_order_type":         "0",
		"is_support_merge_payment": "0",
		"showData":                 "true",
		"showMsg":                  "false",
	})
	if err != nil {
		return nil, -1, fmt.Errorf("check order: %w", err)
	}
	e, err := decodeEnvelope(body)
	if err != nil {
		return nil, -1, err
	}
	if !*e.Success {
		s.log.Warn("check order rejected", zap.Int("code", e.code()), zap.String("msg", e.msg()))
		return nil, e.code(), platformError(e)
	}

	var data struct {
		Order struct {
			TotalMoney           any `json:"total_money"`
			FreightDiscountMoney any `json:"freight_discount_money"`
			FreightMoney         any `json:"freight_money"`
			Freights             []struct {
				Freight struct {
					FreightRealMoney any `json:"freight_real_money"`
				} `json:"freight"`
			} `json:"freights"`
			DefaultCoupon struct {
				ID any `json:"_id"`
			} `json:"default_coupon"`
		} `json:"order"`
	}
	if err := json.Unmarshal(e.Data, &data); err != nil || len(data.Order.Freights) == 0 {
		return nil, -1, fmt.Errorf("%w: unusable quote", ErrBadResponse)
	}

	order.checkData = map[string]any{
		"price":                  data.Order.TotalMoney,
		"freight_discount_money": data.Order.FreightDiscountMoney,
		"freight_money":          data.Order.FreightMoney,
		"order_freight":          data.Order.Freights[0].Freight.FreightRealMoney,
		"user_ticket_id":         data.Order.DefaultCoupon.ID,
		"reserved_time_start":    rt.Start.Unix(),
		"reserved_time_end":      rt.End.Unix(),
		"parent_order_sign":      order.cartData["parent_order_sign"],
		"address_id":             addressID,
		"pay_type":               int(s.cfg.PayType),
		"product_type":           1,
		"form_id":                newFormID(),
		"receipt_without_sku":    nil,
		"vip_money":              "",
		"vip_buy_user_ticket_id": "",
		"coupons_money":          "",
		"coupons_id":             "",
	}

	order.cartData["reserved_time_start"] = rt.Start.Unix()
	order.cartData["reserved_time_end"] = rt.End.Unix()
	order.cartData["eta_trace_id"] = ""
	order.cartData["soon_arrival"] = ""
	order.cartData["first_selected_big_time"] = 0
	order.cartData["receipt_without_sku"] = 0

	return order, e.code(), nil
}

// SubmitOrder submits a previously quoted order. On success the cart
// snapshot and the window set are cleared under the session lock; the
// race is over. Orders without a quote fail fast with code -1.
func (s *Session) SubmitOrder(ctx context.Context, order *Order) (int, error) {
	if order == nil || order.checkData == nil {
		return -1, ErrNoQuote
	}
	if _, ok := order.checkData["price"]; !ok {
		return -1, ErrNoQuote
	}

	packageOrder, _ := json.Marshal(map[string]any{
		"payment_order": order.checkData,
		"packages":      []any{order.cartData},
	})

	s.log.Info("submitting order")
	body, err := s.postForm(ctx, s.tradeBase, "/order/addNewOrder", map[string]string{
		"package_order": string(packageOrder),
		"showData":      "true",
		"showMsg":       "false",
		"ab_config":     `{"key_onion":"C"}`,
	})
	if err != nil {
		return -1, fmt.Errorf("submit order: %w", err)
	}
	e, err := decodeEnvelope(body)
	if err != nil {
		return -1, err
	}
	if !*e.Success {
		s.log.Warn("submit order rejected", zap.Int("code", e.code()), zap.String("msg", e.msg()))
		return e.code(), platformError(e)
	}

	s.log.Info("order submitted")
	s.lock.Lock()
	s.cart = nil
	s.reserves = nil
	s.lock.Unlock()
	// the quote is single-use: a second submit of the same order must
	// fail the precondition, not double-submit
	order.checkData = nil
	order.cartData = nil
	return e.code(), nil
}

// HasUnpaidOrder reports how many orders are waiting for payment. Soft
// precondition: before Login it reports zero rather than failing, since
// the unpaid watcher polls unconditionally.
func (s *Session) HasUnpaidOrder(ctx context.Context) (int, error) {
	if !s.LoggedIn() {
		return 0, nil
	}
	body, err := s.postForm(ctx, s.tradeBase, "/order/notPayList", nil)
	if err != nil {
		return 0, fmt.Errorf("fetch unpaid orders: %w", err)
	}
	e, err := decodeEnvelope(body)
	if err != nil {
		return 0, err
	}
	if !*e.Success {
		return 0, platformError(e)
	}
	var data struct {
		OrderList []json.RawMessage `json:"order_list"`
	}
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return len(data.OrderList), nil
}

// newFormID generates the per-quote idempotency token: a dash-stripped
// uuid v4, fresh for every successful check.
func newFormID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// PayTypeFromString maps the config spelling to the platform enum.
func PayTypeFromString(s string) (PayType, error) {
	switch strings.ToLower(s) {
	case "", "alipay":
		return PayAlipay, nil
	case "wechat":
		return PayWechat, nil
	}
	return 0, fmt.Errorf("unknown pay type %q", s)
}

// ChannelFromString maps the config spelling to the platform enum.
func ChannelFromString(s string) (Channel, error) {
	switch strings.ToLower(s) {
	case "", "app":
		return ChannelApp, nil
	case "applet":
		return ChannelApplet, nil
	}
	return 0, fmt.Errorf("unknown channel %q", s)
}
