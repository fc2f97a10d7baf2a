package session

import (
	"context"
	"time"

	paseto "aidanwoods.dev/go-paseto"

	"duo/cmd/identity/ids"
)

// Claims is the identity carried by an access token.
type Claims struct {
	UserID    string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Issuer    string
}

// Issued is a freshly signed access token.
type Issued struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Manager issues and verifies PASETO v4.public access tokens.
type Manager struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration

	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Issuer == "" || cfg.AccessTokenTTL <= 0 || cfg.ClockSkew < 0 {
		return nil, ErrConfig
	}
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.PasetoV4SecretKeyHex)
	if err != nil {
		return nil, ErrConfig
	}
	return &Manager{
		issuer:    cfg.Issuer,
		ttl:       cfg.AccessTokenTTL,
		clockSkew: cfg.ClockSkew,
		secret:    secret,
		public:    secret.Public(),
	}, nil
}

func (m *Manager) PublicKeyHex() string { return m.public.ExportHex() }

func (m *Manager) Issue(userID string, now time.Time) (Issued, error) {
	if userID == "" {
		return Issued{}, ErrInvalidToken
	}
	jti, err := ids.New(now)
	if err != nil {
		return Issued{}, err
	}
	exp := now.Add(m.ttl)

	tok := paseto.NewToken()
	tok.SetIssuer(m.issuer)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)
	tok.SetJti(jti)
	if err := tok.Set("uid", userID); err != nil {
		return Issued{}, err
	}

	return Issued{Token: tok.V4Sign(m.secret, nil), ExpiresAt: exp}, nil
}

// Verify checks signature, issuer and the validity window at now.
// The window check runs at now+skew, so a token is accepted slightly early and expires slightly early.
func (m *Manager) Verify(token string, now time.Time) (Claims, error) {
	p := paseto.NewParserWithoutExpiryCheck()
	p.AddRule(paseto.IssuedBy(m.issuer))
	p.AddRule(paseto.ValidAt(now.Add(m.clockSkew)))

	parsed, err := p.ParseV4Public(m.public, token, nil)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	uid, err := parsed.GetString("uid")
	if err != nil || uid == "" {
		return Claims{}, ErrInvalidToken
	}
	jti, _ := parsed.GetJti()
	iss, _ := parsed.GetIssuer()
	iat, _ := parsed.GetIssuedAt()
	exp, _ := parsed.GetExpiration()

	return Claims{UserID: uid, TokenID: jti, IssuedAt: iat, ExpiresAt: exp, Issuer: iss}, nil
}

// Authenticate resolves a bearer token to its user id.
func (m *Manager) Authenticate(_ context.Context, token string, now time.Time) (string, error) {
	c, err := m.Verify(token, now)
	if err != nil {
		return "", err
	}
	return c.UserID, nil
}
