package authn

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"identity-service/internal/clientip"
	"identity-service/internal/users"
	"identity-service/pkg/logger"
)

// Me returns the public profile of the signed-in account.
func (s *Service) Me(ctx context.Context, accountID string) (users.Profile, error) {
	if accountID == "" {
		return users.Profile{}, unauthorized(msgInvalidSession, nil)
	}
	acct, err := s.users.FindByID(ctx, accountID)
	if errors.Is(err, users.ErrNotFound) {
		return users.Profile{}, unauthorized(msgInvalidSession, nil)
	}
	if err != nil {
		return users.Profile{}, s.fail(ctx, "me: lookup", err)
	}
	return acct.Profile(), nil
}

// AdminUpdate is a partial update applied by an administrator. Nil fields are left alone.
type AdminUpdate struct {
	DisplayName *string `json:"name,omitempty"`
	Role        *string `json:"role,omitempty"`
	Status      *string `json:"status,omitempty"`
}

// AdminUpdateUser changes another account. It is the only operation that
// reports NOT_FOUND for a missing account id.
func (s *Service) AdminUpdateUser(ctx context.Context, actorID, actorRole, targetID string, in AdminUpdate) (users.Profile, error) {
	p, err := s.adminUpdateUser(ctx, actorID, actorRole, targetID, in)
	s.observe("admin_update_user", err)
	return p, err
}

func (s *Service) adminUpdateUser(ctx context.Context, actorID, actorRole, targetID string, in AdminUpdate) (users.Profile, error) {
	if users.Role(actorRole) != users.RoleAdmin {
		return users.Profile{}, unauthorized("admin role required", nil)
	}
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return users.Profile{}, invalidInput("user id is required")
	}

	patch, err := in.patch()
	if err != nil {
		return users.Profile{}, err
	}

	acct, err := s.users.Update(context.WithoutCancel(ctx), targetID, patch)
	if err != nil {
		return users.Profile{}, s.fail(ctx, "admin update: update", err)
	}

	if patch.Status != nil && *patch.Status == users.StatusDisabled {
		if err := s.users.SetRefreshTokenDigest(context.WithoutCancel(ctx), acct.ID, nil); err != nil {
			return users.Profile{}, s.fail(ctx, "admin update: revoke refresh", err)
		}
	}

	if s.audit != nil {
		meta, _ := json.Marshal(in)
		if err := s.audit.LogAdminAction(context.WithoutCancel(ctx), actorID, actorRole, acct.ID, clientip.FromContext(ctx), string(meta)); err != nil {
			logger.From(ctx).WarnContext(ctx, "audit append failed", "type", "admin.user.updated", "err", err)
		}
	}
	return acct.Profile(), nil
}

func (in AdminUpdate) patch() (users.Patch, error) {
	var p users.Patch
	if in.DisplayName != nil {
		if err := validateDisplayName(*in.DisplayName); err != nil {
			return p, err
		}
		p.DisplayName = in.DisplayName
	}
	if in.Role != nil {
		r := users.Role(strings.ToUpper(strings.TrimSpace(*in.Role)))
		if !r.Valid() {
			return p, invalidInput("role must be USER or ADMIN")
		}
		p.Role = &r
	}
	if in.Status != nil {
		st := users.Status(strings.ToLower(strings.TrimSpace(*in.Status)))
		if !st.Valid() {
			return p, invalidInput("status must be active or disabled")
		}
		p.Status = &st
	}
	if p.Empty() {
		return p, invalidInput("nothing to update")
	}
	return p, nil
}
