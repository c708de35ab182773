// Package maicai is a client for the grocery platform's applet API. A
// Session owns one authenticated connection: the accumulated request
// headers/params captured from the applet, plus a mutex-guarded cache of
// the current cart and the currently open delivery windows that the
// dispatcher workers read and race on.
package maicai

import (
	"errors"
	"time"
)

// Channel identifies which client the platform thinks we are.
type Channel uint8

const (
	ChannelApp    Channel = 3
	ChannelApplet Channel = 4
)

// PayType is the payment method stamped onto submitted orders.
type PayType uint8

const (
	PayAlipay PayType = 2
	PayWechat PayType = 4
)

// Config carries the credentials and account choices for one session.
type Config struct {
	// Cookie is the DDXQSESSID value captured from an authenticated
	// applet session. Required.
	Cookie  string
	Channel Channel
	PayType PayType
}

// Address is one delivery location on the account.
type Address struct {
	ID         string
	CityNumber string
	Longitude  float64
	Latitude   float64
	UserName   string
	Mobile     string
	Location   string
	StationID  string
}

// ReserveTime is one open delivery window.
type ReserveTime struct {
	Start time.Time
	End   time.Time
}

// Order is the transient value an order worker carries through one
// check-then-submit cycle. The payloads are platform-shaped blobs: the
// cart as last refreshed plus the quote returned by the check step.
// Orders are never reused across cycles.
type Order struct {
	ReserveTime ReserveTime

	cartData  map[string]any
	checkData map[string]any
}

var (
	// ErrAuth means the cookie was rejected or the identity lookup
	// response was malformed.
	ErrAuth = errors.New("maicai: authentication failed")
	// ErrNoAddress means the account has no valid delivery address.
	ErrNoAddress = errors.New("maicai: no valid address")
	// ErrNotLoggedIn means an operation that needs the uid ran before
	// a successful Login.
	ErrNotLoggedIn = errors.New("maicai: not logged in")
	// ErrAddressUnset means a cart operation ran before SelectAddress.
	ErrAddressUnset = errors.New("maicai: address not selected")
	// ErrNoCart means there is no orderable cart snapshot.
	ErrNoCart = errors.New("maicai: cart is empty")
	// ErrNoWindows means the platform reported zero open windows.
	ErrNoWindows = errors.New("maicai: no reserve time available")
	// ErrNoQuote means SubmitOrder was called with an order that never
	// passed CheckOrder (or whose cart has since been cleared).
	ErrNoQuote = errors.New("maicai: order has no quote")
	// ErrBadResponse means a body failed envelope validation.
	ErrBadResponse = errors.New("maicai: malformed platform response")
)
