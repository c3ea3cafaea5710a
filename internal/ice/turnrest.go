package ice

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

// TURNRESTConfig configures coturn "use-auth-secret" credentials.
//
// See:
// - https://github.com/coturn/coturn/wiki/turnserver
// - https://datatracker.ietf.org/doc/html/draft-uberti-behave-turn-rest
//
//	username   = <unix_expiry_timestamp>:<username_prefix>:<session_id>
//	credential = base64(hmac_sha1(shared_secret, username))
type TURNRESTConfig struct {
	SharedSecret   string
	TTL            time.Duration
	UsernamePrefix string
	Now            func() time.Time
}

func (c TURNRESTConfig) Enabled() bool {
	return c.SharedSecret != ""
}

// TURNCredentials is one minted username/credential pair.
type TURNCredentials struct {
	Username   string
	Credential string
	Expires    time.Time
}

type turnREST struct {
	secret []byte
	ttl    time.Duration
	prefix string
	now    func() time.Time
}

func newTURNREST(cfg TURNRESTConfig) (*turnREST, error) {
	switch {
	case cfg.SharedSecret == "":
		return nil, errors.New("turn rest: shared secret is required")
	case cfg.TTL < time.Second:
		return nil, errors.New("turn rest: ttl must be at least 1s")
	case cfg.UsernamePrefix == "":
		return nil, errors.New("turn rest: username prefix is required")
	case strings.Contains(cfg.UsernamePrefix, ":"):
		return nil, errors.New("turn rest: username prefix must not contain ':'")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &turnREST{
		secret: []byte(cfg.SharedSecret),
		ttl:    cfg.TTL,
		prefix: cfg.UsernamePrefix,
		now:    now,
	}, nil
}

func (t *turnREST) mint(sessionID string) (TURNCredentials, error) {
	if sessionID == "" {
		return TURNCredentials{}, errors.New("turn rest: session id is required")
	}
	if strings.Contains(sessionID, ":") {
		return TURNCredentials{}, errors.New("turn rest: session id must not contain ':'")
	}

	expires := t.now().UTC().Add(t.ttl).Truncate(time.Second)
	username := strconv.FormatInt(expires.Unix(), 10) + ":" + t.prefix + ":" + sessionID

	mac := hmac.New(sha1.New, t.secret)
	_, _ = mac.Write([]byte(username))
	return TURNCredentials{
		Username:   username,
		Credential: base64.StdEncoding.EncodeToString(mac.Sum(nil)),
		Expires:    expires,
	}, nil
}
