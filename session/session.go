// Package session resolves the bearer token for the signed-in identity.
// The sign-in flow itself lives outside this module; providers only turn
// whatever it left behind (an access token or a refresh token) into a
// currently valid bearer token.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/fabfab/recollect/config"
	"github.com/fabfab/recollect/errs"
)

var (
	ErrNoSession = errors.New("no signed-in session")
	ErrExpired   = errors.New("access token expired")
)

// Provider is asked for a token before every authenticated call.
type Provider interface {
	Token(ctx context.Context) (string, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (string, error)

func (f ProviderFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// New picks a provider from configuration: a static access token, a refresh
// token exchanged through OAuth2, or none at all.
func New(cfg config.SessionConfig) Provider {
	switch {
	case cfg.AccessToken != "":
		return NewStatic(cfg.AccessToken)
	case cfg.RefreshToken != "":
		return NewRefreshing(cfg)
	default:
		return ProviderFunc(func(context.Context) (string, error) {
			return "", errs.Session(ErrNoSession)
		})
	}
}

type staticProvider struct {
	token string
	now   func() time.Time
}

// NewStatic serves a fixed token and refuses it once its JWT exp has passed.
func NewStatic(token string) Provider {
	return &staticProvider{token: strings.TrimSpace(token), now: time.Now}
}

func (p *staticProvider) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errs.Session(err)
	}
	if p.token == "" {
		return "", errs.Session(ErrNoSession)
	}
	if err := checkExpiry(p.token, p.now()); err != nil {
		return "", errs.Session(err)
	}
	return p.token, nil
}

type refreshingProvider struct {
	source oauth2.TokenSource
}

// NewRefreshing exchanges the stored refresh token for access tokens. The
// oauth2 reuse wrapper keeps a token only for its own lifetime.
func NewRefreshing(cfg config.SessionConfig) Provider {
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	httpCtx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: 30 * time.Second})
	seed := &oauth2.Token{RefreshToken: cfg.RefreshToken}
	return &refreshingProvider{
		source: oauth2.ReuseTokenSource(nil, oauthCfg.TokenSource(httpCtx, seed)),
	}
}

func (p *refreshingProvider) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errs.Session(err)
	}
	tok, err := p.source.Token()
	if err != nil {
		return "", errs.Session(fmt.Errorf("refresh access token: %w", err))
	}
	if tok.AccessToken == "" {
		return "", errs.Session(ErrNoSession)
	}
	return tok.AccessToken, nil
}

// checkExpiry inspects the exp claim without verifying the signature; the
// backend does the verification. Opaque tokens pass through.
func checkExpiry(token string, now time.Time) error {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if !now.Before(exp.Time) {
		return ErrExpired
	}
	return nil
}
