package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"gorm.io/gorm"

	"github.com/suPer8Hu/polylog/internal/chat"
	"github.com/suPer8Hu/polylog/internal/models"
)

type userLookup interface {
	GetByID(ctx context.Context, id uint64) (*models.User, error)
}

// Authenticator resolves a bearer token into a chat identity.
type Authenticator struct {
	secret string
	users  userLookup
}

// NewAuthenticator builds an Authenticator. users may be nil when no database
// is configured; tokens then resolve to their subject with a generated name.
func NewAuthenticator(secret string, users *UserRepo) *Authenticator {
	a := &Authenticator{secret: secret}
	if users != nil {
		a.users = users
	}
	return a
}

func (a *Authenticator) Authenticate(ctx context.Context, token string) (chat.Identity, error) {
	uid, err := ParseJWT(token, a.secret)
	if err != nil {
		return chat.Identity{}, err
	}
	id := strconv.FormatUint(uid, 10)

	if a.users == nil {
		return chat.Identity{UserID: id, UserName: "User " + id}, nil
	}
	u, err := a.users.GetByID(ctx, uid)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return chat.Identity{}, fmt.Errorf("%w: unknown user %d", ErrUnauthenticated, uid)
		}
		return chat.Identity{}, err
	}
	return chat.Identity{UserID: id, UserName: u.Name, AvatarRef: u.AvatarURL}, nil
}

// IdentityOrAnonymous never fails; any authentication error yields the
// anonymous identity.
func (a *Authenticator) IdentityOrAnonymous(ctx context.Context, token string) chat.Identity {
	id, err := a.Authenticate(ctx, token)
	if err != nil {
		return chat.Identity{UserName: chat.AnonymousName}
	}
	return id
}
