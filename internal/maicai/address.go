package maicai

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"go.uber.org/zap"
)

// ListAddresses fetches the account's delivery addresses. Login must
// have succeeded first.
func (s *Session) ListAddresses(ctx context.Context) ([]Address, error) {
	if !s.LoggedIn() {
		return nil, ErrNotLoggedIn
	}
	body, err := s.get(ctx, s.userBase, "/api/v1/user/address/", map[string]string{
		"source_type": "5",
	})
	if err != nil {
		return nil, fmt.Errorf("fetch addresses: %w", err)
	}
	e, err := decodeEnvelope(body)
	if err != nil {
		return nil, err
	}
	if !*e.Success {
		return nil, platformError(e)
	}

	var data struct {
		ValidAddress []struct {
			ID         string `json:"id"`
			CityNumber string `json:"city_number"`
			UserName   string `json:"user_name"`
			Mobile     string `json:"mobile"`
			StationID  string `json:"station_id"`
			Location   struct {
				Address  string     `json:"address"`
				Location [2]float64 `json:"location"`
			} `json:"location"`
		} `json:"valid_address"`
	}
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if len(data.ValidAddress) == 0 {
		return nil, ErrNoAddress
	}

	out := make([]Address, 0, len(data.ValidAddress))
	for _, a := range data.ValidAddress {
		addr := Address{
			ID:         a.ID,
			CityNumber: a.CityNumber,
			Longitude:  a.Location.Location[0],
			Latitude:   a.Location.Location[1],
			UserName:   a.UserName,
			Mobile:     a.Mobile,
			Location:   a.Location.Address,
			StationID:  a.StationID,
		}
		s.log.Debug("found address",
			zap.String("user", addr.UserName),
			zap.String("address", addr.Location),
			zap.String("station", addr.StationID))
		out = append(out, addr)
	}
	return out, nil
}

// SelectAddress stamps the address's geo/station fields into the
// request context. Replacement is idempotent: the keys are overwritten,
// never duplicated. No network call is made.
func (s *Session) SelectAddress(addr Address) {
	s.log.Info("using address",
		zap.String("address", addr.Location),
		zap.String("user", addr.UserName))

	lon := strconv.FormatFloat(addr.Longitude, 'f', -1, 64)
	lat := strconv.FormatFloat(addr.Latitude, 'f', -1, 64)

	s.lock.Lock()
	defer s.lock.Unlock()
	s.headers["ddmc-city-number"] = addr.CityNumber
	s.headers["ddmc-station-id"] = addr.StationID
	s.headers["ddmc-longitude"] = lon
	s.headers["ddmc-latitude"] = lat

	s.params["address_id"] = addr.ID
	s.params["station_id"] = addr.StationID
	s.params["city_number"] = addr.CityNumber
	s.params["longitude"] = lon
	s.params["latitude"] = lat
}
