package maicai

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// cartFields are the per-cart keys carried verbatim from the cart
// response into the order payloads later on.
var cartFields = []string{
	"package_type",
	"package_id",
	"total_money",
	"total_origin_money",
	"goods_real_money",
	"total_count",
	"cart_count",
	"is_presale",
	"instant_rebate_money",
	"used_balance_money",
	"can_used_balance_money",
	"used_point_num",
	"used_point_money",
	"can_used_point_num",
	"can_used_point_money",
	"is_share_station",
	"only_today_products",
	"only_tomorrow_products",
	"front_package_text",
	"front_package_type",
	"front_package_stock_color",
	"front_package_bg_color",
}

// CartCheckAll marks every cart line selected so the following refresh
// sees the whole cart. Requires a selected address.
func (s *Session) CartCheckAll(ctx context.Context) error {
	if !s.hasParam("address_id") {
		return ErrAddressUnset
	}
	_, err := s.get(ctx, s.tradeBase, "/cart/allCheck", map[string]string{
		"is_check": "1",
	})
	if err != nil {
		return fmt.Errorf("cart check all: %w", err)
	}
	return nil
}

// RefreshCart fetches the current cart and replaces the snapshot
// wholesale. An empty-but-valid cart is a successful refresh that
// clears the snapshot; use HasCart to tell the cases apart.
func (s *Session) RefreshCart(ctx context.Context) error {
	if !s.hasParam("address_id") {
		return ErrAddressUnset
	}
	body, err := s.get(ctx, s.tradeBase, "/cart/index", map[string]string{
		"is_load":   "1",
		"ab_config": `{"key_onion":"D","key_cart_discount_price":"C"}`,
	})
	if err != nil {
		return fmt.Errorf("fetch cart: %w", err)
	}
	e, err := decodeEnvelope(body)
	if err != nil {
		return err
	}
	if !*e.Success {
		s.log.Warn("cart refresh rejected", zap.Int("code", e.code()), zap.String("msg", e.msg()))
		return platformError(e)
	}

	var data struct {
		NewOrderProductList []map[string]any `json:"new_order_product_list"`
		ParentOrderInfo     struct {
			ParentOrderSign string `json:"parent_order_sign"`
		} `json:"parent_order_info"`
	}
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return fmt.Errorf("%w: %v", ErrBadResponse, err)
	}

	if len(data.NewOrderProductList) == 0 {
		s.log.Warn("no orderable product in cart")
		s.lock.Lock()
		// windows belong to the cart they were discovered for; an empty
		// cart invalidates both
		s.cart = nil
		s.reserves = nil
		s.lock.Unlock()
		return nil
	}

	item := data.NewOrderProductList[0]
	cart := make(map[string]any, len(cartFields)+2)
	for _, k := range cartFields {
		cart[k] = item[k]
	}

	rawProducts, _ := item["products"].([]any)
	products := make([]any, 0, len(rawProducts))
	for _, rp := range rawProducts {
		p, ok := rp.(map[string]any)
		if !ok {
			continue
		}
		cp := make(map[string]any, len(p)+2)
		for k, v := range p {
			cp[k] = v
		}
		cp["total_money"] = p["total_price"]
		cp["total_origin_money"] = p["total_origin_price"]
		s.log.Debug("cart line",
			zap.Any("product", p["product_name"]),
			zap.Any("count", p["count"]),
			zap.Any("total", p["total_price"]))
		products = append(products, cp)
	}
	cart["products"] = products
	cart["parent_order_sign"] = data.ParentOrderInfo.ParentOrderSign

	s.log.Info("cart refreshed",
		zap.Int("items", len(products)),
		zap.Any("total", item["total_money"]))

	s.lock.Lock()
	s.cart = cart
	s.lock.Unlock()
	return nil
}

// HasCart reports whether the snapshot currently holds orderable
// products.
func (s *Session) HasCart() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.cart != nil
}

// cartProductsLocked returns the snapshot's product list; call with the
// session lock held.
func (s *Session) cartProductsLocked() ([]any, bool) {
	if s.cart == nil {
		return nil, false
	}
	products, ok := s.cart["products"].([]any)
	return products, ok
}
