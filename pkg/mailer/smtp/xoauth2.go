package smtp

import (
	"context"
	"fmt"
	netsmtp "net/smtp"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// AuthXOAuth2 is the auth_mode value selecting XOAUTH2 authentication.
const AuthXOAuth2 = "xoauth2"

type xoauth2 struct {
	tokens   oauth2.TokenSource
	username string
}

// XOAuth2 returns an smtp.Auth that authenticates username with bearer tokens from tokens.
func XOAuth2(username string, tokens oauth2.TokenSource) netsmtp.Auth {
	return &xoauth2{username: username, tokens: tokens}
}

func newTokenSource(cfg *OAuthConfig) oauth2.TokenSource {
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	return cc.TokenSource(context.Background())
}

func (a *xoauth2) Start(_ *netsmtp.ServerInfo) (string, []byte, error) {
	tok, err := a.tokens.Token()
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrAuth, err)
	}
	resp := "user=" + a.username + "\x01auth=Bearer " + tok.AccessToken + "\x01\x01"
	return "XOAUTH2", []byte(resp), nil
}

func (a *xoauth2) Next(fromServer []byte, more bool) ([]byte, error) {
	if more {
		return nil, fmt.Errorf("%w: %s", ErrAuth, fromServer)
	}
	return nil, nil
}
