package app

import (
	"context"
	"log/slog"

	"github.com/utafrali/cartkeeper/internal/checkout"
	"github.com/utafrali/cartkeeper/internal/persistence"
	"github.com/utafrali/cartkeeper/pkg/logger"
)

// session ends the signed-in session: the flag is cleared and the
// cart-adjacent session keys are removed from the store.
type session struct {
	flag    *checkout.SessionFlag
	gateway *persistence.Gateway
	keys    []string
}

func (s *session) EndSession(ctx context.Context) error {
	s.flag.SignOut()
	if len(s.keys) == 0 {
		return nil
	}
	if err := s.gateway.ClearSession(ctx, s.keys...); err != nil {
		return err
	}
	logger.FromContext(ctx).InfoContext(ctx, "session ended", slog.Any("cleared_keys", s.keys))
	return nil
}
