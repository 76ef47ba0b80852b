package session

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nyayasetu/legalchat/internal/common"
)

// CookieName is the signed session cookie. HttpOnly; carries a JWT binding
// a conversation id to its owning user for the validity window.
const CookieName = "legal_session"

type claims struct {
	UserID         uint64 `json:"user_id"`
	ConversationID string `json:"conversation_id"`
	jwt.RegisteredClaims
}

// Identifier derives or mints conversation ids from signed cookies. It is
// stateless: minting a token does not create a session row anywhere.
type Identifier struct {
	secret []byte
	ttl    time.Duration
	renew  bool
}

func NewIdentifier(secret string, ttl time.Duration, renew bool) *Identifier {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Identifier{secret: []byte(secret), ttl: ttl, renew: renew}
}

// Resolution is the outcome of resolving one request's session identity.
type Resolution struct {
	ConversationID string
	// Minted reports that no usable token was presented and a fresh
	// conversation id was issued.
	Minted bool
	// Cookie is the token value the caller must set, empty when the
	// existing cookie stays as it is.
	Cookie string
	// CookieTTL is the max age for Cookie when it is non-empty.
	CookieTTL time.Duration
}

// Resolve trusts the conversation id embedded in a valid token for this
// user. An absent, malformed, forged, expired, or foreign token is not an
// error; it just means a new conversation starts here.
func (i *Identifier) Resolve(userID uint64, token string) (Resolution, error) {
	if token != "" {
		if c, err := i.parse(token); err == nil && c.UserID == userID {
			res := Resolution{ConversationID: c.ConversationID}
			if i.renew {
				fresh, err := i.mintToken(userID, c.ConversationID)
				if err != nil {
					return Resolution{}, err
				}
				res.Cookie = fresh
				res.CookieTTL = i.ttl
			}
			return res, nil
		}
	}

	id, err := common.NewULID()
	if err != nil {
		return Resolution{}, err
	}
	fresh, err := i.mintToken(userID, id)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{
		ConversationID: id,
		Minted:         true,
		Cookie:         fresh,
		CookieTTL:      i.ttl,
	}, nil
}

func (i *Identifier) mintToken(userID uint64, conversationID string) (string, error) {
	now := time.Now()
	c := &claims{
		UserID:         userID,
		ConversationID: conversationID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.secret)
}

func (i *Identifier) parse(token string) (*claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return i.secret, nil
	})
	if err != nil {
		return nil, err
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid || c.ConversationID == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return c, nil
}
