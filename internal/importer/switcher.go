package importer

import (
	"context"
	"fmt"

	"github.com/cytomig/cytomig/internal/cytomine"
)

// principalSwitcher swaps the gateway's signing keys to act as another
// user and always swaps back. The super-admin keys captured at
// construction are the anchor: whatever happens inside an impersonated
// call, Restore puts them back and reopens the admin session, so a
// failed item can never leave later phases running as the wrong
// principal.
type principalSwitcher struct {
	gw      Gateway
	admin   cytomine.Credentials
	current int64
}

func newPrincipalSwitcher(ctx context.Context, gw Gateway) (*principalSwitcher, error) {
	if err := gw.OpenAdminSession(ctx); err != nil {
		return nil, fmt.Errorf("open admin session: %w", err)
	}
	return &principalSwitcher{gw: gw, admin: gw.Credentials()}, nil
}

// impersonate signs subsequent requests as the target user.
func (s *principalSwitcher) impersonate(ctx context.Context, userID int64) error {
	if s.current == userID {
		return nil
	}
	keys, err := s.gw.UserKeys(ctx, userID)
	if err != nil {
		return fmt.Errorf("fetch keys of user %d: %w", userID, err)
	}
	s.gw.SetCredentials(keys)
	s.current = userID
	return nil
}

// restore reinstates the super-admin keys and session.
func (s *principalSwitcher) restore(ctx context.Context) error {
	if s.current == 0 {
		return nil
	}
	s.gw.SetCredentials(s.admin)
	s.current = 0
	if err := s.gw.OpenAdminSession(ctx); err != nil {
		return fmt.Errorf("reopen admin session: %w", err)
	}
	return nil
}

// As runs fn as the target user and restores the admin principal no
// matter how fn returns. A restore failure outranks fn's error: it
// poisons everything that would run afterwards.
func (s *principalSwitcher) As(ctx context.Context, userID int64, fn func(ctx context.Context) error) error {
	if err := s.impersonate(ctx, userID); err != nil {
		return err
	}
	fnErr := fn(ctx)
	if err := s.restore(ctx); err != nil {
		return err
	}
	return fnErr
}
