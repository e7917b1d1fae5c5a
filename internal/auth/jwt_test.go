package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avarfc/internal/config"
)

type signer struct {
	key jwk.Key
	set jwk.Set
}

func newSigner(t *testing.T, kid string) *signer {
	t.Helper()

	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	key, err := jwk.FromRaw(raw)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, kid))
	require.NoError(t, key.Set(jwk.AlgorithmKey, jwa.RS256))

	pub, err := jwk.PublicKeyOf(key)
	require.NoError(t, err)

	set := jwk.NewSet()
	require.NoError(t, set.AddKey(pub))

	return &signer{key: key, set: set}
}

func (s *signer) sign(t *testing.T, build func(*jwt.Builder) *jwt.Builder) string {
	t.Helper()

	b := jwt.NewBuilder().
		Subject("alice").
		Issuer("https://idp.example.com").
		Audience([]string{"avarfc"}).
		IssuedAt(time.Now()).
		Expiration(time.Now().Add(time.Hour))
	if build != nil {
		b = build(b)
	}
	tok, err := b.Build()
	require.NoError(t, err)

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, s.key))
	require.NoError(t, err)
	return string(signed)
}

func (s *signer) writeJWKS(t *testing.T) string {
	t.Helper()

	data, err := json.Marshal(s.set)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "jwks.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func newFileAuthenticator(t *testing.T, s *signer, mutate func(*config.AuthConfig)) *Authenticator {
	t.Helper()

	cfg := config.AuthConfig{
		Enabled:  true,
		JWKSFile: s.writeJWKS(t),
		Issuer:   "https://idp.example.com",
		Audience: "avarfc",
	}
	if mutate != nil {
		mutate(&cfg)
	}

	a, err := NewAuthenticator(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestAuthenticator_Authenticate(t *testing.T) {
	s := newSigner(t, "k1")
	other := newSigner(t, "k1")
	a := newFileAuthenticator(t, s, nil)

	tests := []struct {
		name      string
		token     string
		wantErr   error
		wantRoles []string
	}{
		{
			name: "valid token with scope roles",
			token: s.sign(t, func(b *jwt.Builder) *jwt.Builder {
				return b.Claim("scope", "Display Modify")
			}),
			wantRoles: []string{"Display", "Modify"},
		},
		{
			name:      "no roles claim",
			token:     s.sign(t, nil),
			wantRoles: []string{},
		},
		{
			name:    "empty token",
			token:   "",
			wantErr: ErrMissingToken,
		},
		{
			name:    "garbage",
			token:   "not.a.jwt",
			wantErr: ErrInvalidToken,
		},
		{
			name: "expired",
			token: s.sign(t, func(b *jwt.Builder) *jwt.Builder {
				return b.Expiration(time.Now().Add(-time.Hour))
			}),
			wantErr: ErrInvalidToken,
		},
		{
			name: "wrong issuer",
			token: s.sign(t, func(b *jwt.Builder) *jwt.Builder {
				return b.Issuer("https://evil.example.com")
			}),
			wantErr: ErrInvalidToken,
		},
		{
			name: "wrong audience",
			token: s.sign(t, func(b *jwt.Builder) *jwt.Builder {
				return b.Audience([]string{"someone-else"})
			}),
			wantErr: ErrInvalidToken,
		},
		{
			name:    "signed by unknown key",
			token:   other.sign(t, nil),
			wantErr: ErrInvalidToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := a.Authenticate(context.Background(), tt.token)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "alice", p.Subject)
			assert.Equal(t, tt.wantRoles, p.Roles)
			assert.Equal(t, tt.token, p.Token)
		})
	}
}

func TestAuthenticator_RolesClaim(t *testing.T) {
	s := newSigner(t, "k1")

	tests := []struct {
		name   string
		claim  string
		prefix string
		value  interface{}
		want   []string
	}{
		{
			name:  "list claim",
			claim: "roles",
			value: []string{"Display", "Modify"},
			want:  []string{"Display", "Modify"},
		},
		{
			name:   "prefixed list",
			claim:  "roles",
			prefix: "rfc:",
			value:  []string{"rfc:Display", "admin"},
			want:   []string{"Display", "admin"},
		},
		{
			name:   "prefixed scope string",
			claim:  "scp",
			prefix: "erp.",
			value:  "erp.Modify openid",
			want:   []string{"Modify", "openid"},
		},
		{
			name:  "non string claim",
			claim: "roles",
			value: 42,
			want:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newFileAuthenticator(t, s, func(c *config.AuthConfig) {
				c.RolesClaim = tt.claim
				c.RolePrefix = tt.prefix
			})
			token := s.sign(t, func(b *jwt.Builder) *jwt.Builder {
				return b.Claim(tt.claim, tt.value)
			})

			p, err := a.Authenticate(context.Background(), token)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Roles)
		})
	}
}

func TestNewAuthenticator_JWKSURL(t *testing.T) {
	s := newSigner(t, "k1")

	var fetches int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fetches++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(s.set)
	}))
	defer srv.Close()

	a, err := NewAuthenticator(context.Background(), config.AuthConfig{
		Enabled: true,
		JWKSURL: srv.URL,
	}, nil)
	require.NoError(t, err)
	defer a.Close()

	p, err := a.Authenticate(context.Background(), s.sign(t, nil))
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Subject)
	assert.GreaterOrEqual(t, fetches, 1)
}

func TestNewAuthenticator_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	tests := []struct {
		name string
		cfg  config.AuthConfig
		want string
	}{
		{
			name: "no key source",
			cfg:  config.AuthConfig{Enabled: true},
			want: "jwksUrl or jwksFile is required",
		},
		{
			name: "missing file",
			cfg:  config.AuthConfig{JWKSFile: filepath.Join(t.TempDir(), "missing.json")},
			want: "failed to read JWKS file",
		},
		{
			name: "unreachable url",
			cfg:  config.AuthConfig{JWKSURL: srv.URL},
			want: "failed to fetch JWKS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAuthenticator(context.Background(), tt.cfg, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"bearer abc ", "abc"},
		{"Basic dTpw", ""},
		{"Bearer", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			assert.Equal(t, tt.want, BearerToken(tt.header))
		})
	}
}
