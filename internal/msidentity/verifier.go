// Package msidentity turns a Microsoft credential presented by a client
// into a verified auth.ExternalAssertion. It only establishes facts; user
// creation and linking are decided by the auth package.
package msidentity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	log "github.com/sirupsen/logrus"

	"github.com/iliyamo/mstodo-proxy/internal/auth"
	"github.com/iliyamo/mstodo-proxy/internal/graph"
)

const loginBaseURL = "https://login.microsoftonline.com/"

var (
	// ErrVerification means Microsoft did not vouch for the credential.
	ErrVerification = errors.New("microsoft credential verification failed")
	// ErrIDTokenDisabled is returned when no tenant/client is configured.
	ErrIDTokenDisabled = errors.New("id_token sign-in is not configured")
)

// ProfileFetcher resolves an access token to its owner's Graph profile.
type ProfileFetcher interface {
	Me(ctx context.Context, token string) (graph.Profile, error)
}

// Verifier verifies Graph access tokens and, when configured, OpenID
// Connect id_tokens issued by the Microsoft identity platform.
type Verifier struct {
	profiles ProfileFetcher
	idTokens *oidc.IDTokenVerifier
}

// New returns a Verifier. id_token verification is enabled only when both
// tenantID and clientID are set; discovery happens once, here.
func New(ctx context.Context, profiles ProfileFetcher, tenantID, clientID string) (*Verifier, error) {
	v := &Verifier{profiles: profiles}
	if tenantID == "" || clientID == "" {
		return v, nil
	}

	cfg := &oidc.Config{ClientID: clientID}
	issuer := loginBaseURL + tenantID + "/v2.0"
	if isMultiTenant(tenantID) {
		// the discovery document advertises a {tenantid} template issuer
		ctx = oidc.InsecureIssuerURLContext(ctx, loginBaseURL+"{tenantid}/v2.0")
		cfg.SkipIssuerCheck = true
	}
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("microsoft oidc discovery: %w", err)
	}
	v.idTokens = provider.Verifier(cfg)
	return v, nil
}

// NewWithIDTokenVerifier wires a prebuilt id_token verifier.
func NewWithIDTokenVerifier(profiles ProfileFetcher, idTokens *oidc.IDTokenVerifier) *Verifier {
	return &Verifier{profiles: profiles, idTokens: idTokens}
}

func isMultiTenant(tenantID string) bool {
	switch strings.ToLower(tenantID) {
	case "common", "organizations", "consumers":
		return true
	}
	return false
}

// FromAccessToken asks Graph who owns token.
func (v *Verifier) FromAccessToken(ctx context.Context, token string) (auth.ExternalAssertion, error) {
	p, err := v.profiles.Me(ctx, token)
	if err != nil {
		var apiErr *graph.APIError
		if errors.As(err, &apiErr) && apiErr.Unauthorized() {
			return auth.ExternalAssertion{}, fmt.Errorf("%w: %v", ErrVerification, err)
		}
		return auth.ExternalAssertion{}, err
	}
	return auth.ExternalAssertion{ExternalUserID: p.ID, ExternalEmail: p.Email()}, nil
}

// FromIDToken verifies an id_token's signature, issuer, audience and expiry.
// The object id (oid) is used as the external user id so that both paths
// agree with the id Graph reports for /me.
func (v *Verifier) FromIDToken(ctx context.Context, raw string) (auth.ExternalAssertion, error) {
	if v.idTokens == nil {
		return auth.ExternalAssertion{}, ErrIDTokenDisabled
	}
	tok, err := v.idTokens.Verify(ctx, raw)
	if err != nil {
		return auth.ExternalAssertion{}, fmt.Errorf("%w: %v", ErrVerification, err)
	}
	var claims struct {
		ObjectID          string `json:"oid"`
		Email             string `json:"email"`
		PreferredUsername string `json:"preferred_username"`
	}
	if err := tok.Claims(&claims); err != nil {
		return auth.ExternalAssertion{}, fmt.Errorf("%w: %v", ErrVerification, err)
	}
	if claims.ObjectID == "" {
		return auth.ExternalAssertion{}, fmt.Errorf("%w: id_token has no oid claim", ErrVerification)
	}
	email := claims.Email
	if email == "" {
		email = claims.PreferredUsername
	}
	log.WithFields(log.Fields{
		"issuer":        tok.Issuer,
		"email_present": email != "",
		"expiry_unix":   tok.Expiry.Unix(),
	}).Debug("microsoft id_token verified")
	return auth.ExternalAssertion{ExternalUserID: claims.ObjectID, ExternalEmail: email}, nil
}
