package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/Nerzal/gocloak/v13"
	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"github.com/telekom/acctl/pkg/account"
	"github.com/telekom/acctl/pkg/autherr"
	"github.com/telekom/acctl/pkg/oauth"
	"github.com/telekom/acctl/pkg/platform"
)

// subjectResolver works out who a freshly issued credential belongs to, so
// the account name is stable across logins.
type subjectResolver struct {
	keycloak *gocloak.GoCloak
	realm    string
	log      *zap.SugaredLogger
}

func newSubjectResolver(baseURL, realm string, hc *http.Client, log *zap.SugaredLogger) *subjectResolver {
	var kc *gocloak.GoCloak
	if realm != "" {
		kc = gocloak.NewClient(strings.TrimRight(baseURL, "/"), gocloak.SetLegacyWildFlySupport())
		if hc != nil {
			kc.SetRestyClient(resty.NewWithClient(hc))
		}
	}
	return &subjectResolver{keycloak: kc, realm: realm, log: log}
}

// resolve returns the subject part of the account name. Platform accounts
// use the session email, then the token's email or preferred_username
// claims, then the Keycloak userinfo endpoint. Service accounts use their
// client id.
func (r *subjectResolver) resolve(ctx context.Context, acct *account.Account, session *platform.Session, service *oauth.ServiceCredential) (string, error) {
	claims := unverifiedClaims(acct.Auth.Tokens.AccessToken)

	switch acct.Kind {
	case account.KindService:
		if session != nil && session.Client != nil && session.Client.ClientID != "" {
			return session.Client.ClientID, nil
		}
		if azp := claimString(claims, "azp"); azp != "" {
			return azp, nil
		}
		if service != nil && service.ClientID != "" {
			return service.ClientID, nil
		}
		return "", autherr.Auth("unable to determine the service account identity")
	case account.KindPlatform:
		if session != nil && session.User != nil && session.User.Email != "" {
			return session.User.Email, nil
		}
		for _, key := range []string{"email", "preferred_username"} {
			if v := claimString(claims, key); v != "" {
				r.fillUser(acct, claims)
				return v, nil
			}
		}
		return r.fromUserInfo(ctx, acct)
	default:
		return "", autherr.Type("unsupported account kind %q", acct.Kind)
	}
}

func (r *subjectResolver) fromUserInfo(ctx context.Context, acct *account.Account) (string, error) {
	if r.keycloak == nil {
		return "", autherr.Auth("unable to determine the account identity: token carries no email")
	}
	info, err := r.keycloak.GetUserInfo(ctx, acct.Auth.Tokens.AccessToken, r.realm)
	if err != nil {
		return "", autherr.Wrap(autherr.KindAuth, err, "failed to read user info")
	}
	subject := gocloak.PString(info.Email)
	if subject == "" {
		subject = gocloak.PString(info.PreferredUsername)
	}
	if subject == "" {
		return "", autherr.Auth("unable to determine the account identity: user info carries no email")
	}
	if acct.User == nil {
		acct.User = &account.User{Email: gocloak.PString(info.Email)}
	}
	r.log.Debugw("Resolved account subject from user info", "subject", subject)
	return subject, nil
}

func (r *subjectResolver) fillUser(acct *account.Account, claims jwt.MapClaims) {
	if acct.User != nil {
		return
	}
	acct.User = &account.User{
		Email:     claimString(claims, "email"),
		FirstName: claimString(claims, "given_name"),
		LastName:  claimString(claims, "family_name"),
	}
}

// unverifiedClaims decodes a JWT access token without checking its
// signature. Opaque tokens yield nil.
func unverifiedClaims(token string) jwt.MapClaims {
	if strings.Count(token, ".") != 2 {
		return nil
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	return claims
}

func claimString(claims jwt.MapClaims, key string) string {
	if claims == nil {
		return ""
	}
	v, _ := claims[key].(string)
	return v
}
