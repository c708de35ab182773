package maicai

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// Login performs the identity lookup and enriches the request context
// with the account uid. Every uid-dependent operation requires this to
// have succeeded once.
func (s *Session) Login(ctx context.Context) error {
	body, err := s.get(ctx, s.userBase, "/api/v1/user/detail/", nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuth, err)
	}
	e, err := decodeEnvelope(body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuth, err)
	}
	if !*e.Success {
		return fmt.Errorf("%w: %v", ErrAuth, platformError(e))
	}

	var data struct {
		UserInfo struct {
			ID string `json:"id"`
		} `json:"user_info"`
	}
	if err := json.Unmarshal(e.Data, &data); err != nil || data.UserInfo.ID == "" {
		return fmt.Errorf("%w: user detail missing id", ErrAuth)
	}

	s.lock.Lock()
	s.headers["ddmc-uid"] = data.UserInfo.ID
	s.params["uid"] = data.UserInfo.ID
	s.lock.Unlock()

	s.log.Info("logged in", zap.String("uid", data.UserInfo.ID))
	return nil
}

// LoggedIn reports whether Login has succeeded on this session.
func (s *Session) LoggedIn() bool {
	return s.hasParam("uid")
}
