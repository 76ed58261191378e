package feed

import (
	"encoding/json"
	"errors"
	"os"

	gojwt "github.com/golang-jwt/jwt/v5"
)

type TokenClaims struct {
	UserId   Id
	Username string
}

// the token is issued and verified by the platform.
// the client only reads identifying claims out of it.
func ParseTokenUnverified(token string) (*TokenClaims, error) {
	parser := gojwt.NewParser()
	parsed, _, err := parser.ParseUnverified(token, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := parsed.Claims.(gojwt.MapClaims)

	tokenClaims := &TokenClaims{}

	if userIdStr, ok := claims["user_id"]; ok {
		if userIdStr, ok := userIdStr.(string); ok {
			if userId, err := ParseId(userIdStr); err == nil {
				tokenClaims.UserId = userId
			}
		}
	}
	if username, ok := claims["username"]; ok {
		if username, ok := username.(string); ok {
			tokenClaims.Username = username
		}
	}

	return tokenClaims, nil
}

// persists the (token, user) pair across restarts. Nothing else survives.
type SessionStore struct {
	path string
}

func NewSessionStore(path string) *SessionStore {
	return &SessionStore{
		path: path,
	}
}

func (self *SessionStore) Load() (*Session, error) {
	sessionBytes, err := os.ReadFile(self.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	session := &Session{}
	if err := json.Unmarshal(sessionBytes, session); err != nil {
		return nil, err
	}
	if session.Token == "" || session.User == nil {
		return nil, nil
	}
	if claims, err := ParseTokenUnverified(session.Token); err == nil {
		// a persisted user that does not match the token identity is stale
		if claims.UserId != (Id{}) && claims.UserId != session.User.UserId {
			return nil, nil
		}
	}
	return session, nil
}

func (self *SessionStore) Save(session *Session) error {
	sessionBytes, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return os.WriteFile(self.path, sessionBytes, 0600)
}

func (self *SessionStore) Clear() error {
	err := os.Remove(self.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
