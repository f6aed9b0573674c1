package grant

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emberfed/emberauth/internal/clock"
	"github.com/emberfed/emberauth/internal/config"
	"github.com/emberfed/emberauth/internal/domain/client"
	"github.com/emberfed/emberauth/internal/domain/policy"
	"github.com/emberfed/emberauth/internal/domain/session"
	"github.com/emberfed/emberauth/internal/domain/token"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeRepository struct {
	mu     sync.Mutex
	auth   map[uuid.UUID]*AuthorizationGrant
	device map[uuid.UUID]*DeviceCodeGrant
	seq    int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		auth:   make(map[uuid.UUID]*AuthorizationGrant),
		device: make(map[uuid.UUID]*DeviceCodeGrant),
	}
}

func (f *fakeRepository) CreateAuthorization(g *AuthorizationGrant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	cp := *g
	f.auth[g.ID] = &cp
	return nil
}

func (f *fakeRepository) FindAuthorizationByID(id uuid.UUID) (*AuthorizationGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := f.auth[id]; ok {
		cp := *g
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) FindAuthorizationByCodeHash(hash string) (*AuthorizationGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range f.auth {
		if g.CodeHash == hash {
			cp := *g
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) TransitionAuthorization(id uuid.UUID, fromStatus, toStatus string, updates map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.auth[id]
	if !ok || g.Status != fromStatus {
		return ErrConflict
	}
	g.Status = toStatus
	if v, ok := updates["session_id"]; ok {
		sid := v.(uuid.UUID)
		g.SessionID = &sid
	}
	if v, ok := updates["granted_scopes"]; ok {
		g.GrantedScopes = v.(string)
	}
	return nil
}

func (f *fakeRepository) CreateDevice(g *DeviceCodeGrant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	f.seq++
	cp := *g
	// Distinct creation stamps keep "newest row" well defined.
	cp.CreatedAt = time.Unix(int64(f.seq), 0)
	f.device[g.ID] = &cp
	return nil
}

func (f *fakeRepository) FindDeviceByCodeHash(hash string) (*DeviceCodeGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range f.device {
		if g.DeviceCodeHash == hash {
			cp := *g
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) FindDeviceByUserCode(userCode string) (*DeviceCodeGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var newest *DeviceCodeGrant
	for _, g := range f.device {
		if g.UserCode != userCode {
			continue
		}
		if newest == nil || g.CreatedAt.After(newest.CreatedAt) {
			newest = g
		}
	}
	if newest == nil {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *newest
	return &cp, nil
}

func (f *fakeRepository) LiveUserCodeExists(userCode string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range f.device {
		if g.UserCode == userCode && g.Status == StatusPending && g.ExpiresAt.After(now) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRepository) TransitionDevice(id uuid.UUID, fromStatus, toStatus string, updates map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.device[id]
	if !ok || g.Status != fromStatus {
		return ErrConflict
	}
	g.Status = toStatus
	if v, ok := updates["session_id"]; ok {
		sid := v.(uuid.UUID)
		g.SessionID = &sid
	}
	if v, ok := updates["granted_scopes"]; ok {
		g.GrantedScopes = v.(string)
	}
	return nil
}

func (f *fakeRepository) TouchDevicePoll(id uuid.UUID, polledAt time.Time, pollInterval int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := f.device[id]; ok {
		t := polledAt
		g.LastPolledAt = &t
		g.PollInterval = pollInterval
	}
	return nil
}

func (f *fakeRepository) ExpireStale(now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, g := range f.auth {
		if (g.Status == StatusPending || g.Status == StatusFulfilled) && !now.Before(g.ExpiresAt) {
			g.Status = StatusExpired
			n++
		}
	}
	for _, g := range f.device {
		if g.Status == StatusPending && !now.Before(g.ExpiresAt) {
			g.Status = StatusExpired
			n++
		}
	}
	return n, nil
}

type fakeClientService struct {
	clients map[string]*client.Client
	secrets map[string]string
}

func newFakeClientService() *fakeClientService {
	return &fakeClientService{
		clients: map[string]*client.Client{
			"web-app": {
				ClientID:      "web-app",
				RedirectURIs:  "https://app.example/callback https://app.example/alt",
				AllowedScopes: "openid profile email",
				RequirePKCE:   true,
				Active:        true,
			},
			"tv-app": {
				ClientID:      "tv-app",
				AllowedScopes: "openid profile",
				Active:        true,
			},
		},
		secrets: map[string]string{"web-app": "", "tv-app": ""},
	}
}

func (f *fakeClientService) Register(_ context.Context, _ *client.Client, _ string) error {
	return nil
}

func (f *fakeClientService) Lookup(clientID string) (*client.Client, error) {
	if c, ok := f.clients[clientID]; ok {
		return c, nil
	}
	return nil, client.ErrUnknownClient
}

func (f *fakeClientService) Authenticate(creds client.Credentials) (*client.Client, error) {
	c, err := f.Lookup(creds.ClientID)
	if err != nil {
		return nil, err
	}
	if f.secrets[creds.ClientID] != creds.Secret {
		return nil, client.ErrBadCredentials
	}
	return c, nil
}

// fakeTokenService records Issue calls and hands back canned values.
type fakeTokenService struct {
	mu                sync.Mutex
	issued            int
	lastOpts          *token.IssueOptions
	lastRefreshClient string
}

func (f *fakeTokenService) Issue(_ context.Context, sess *session.Session, clientID string, scopes []string, opts *token.IssueOptions) (*token.Issued, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issued++
	f.lastOpts = opts
	out := &token.Issued{
		AccessToken:  token.AccessTokenPrefix + "test",
		RefreshToken: token.RefreshTokenPrefix + "test",
		Scopes:       scopes,
	}
	if opts != nil && opts.IDToken != nil {
		out.IDToken = "header.payload.signature"
	}
	return out, nil
}

func (f *fakeTokenService) Refresh(_ context.Context, _, callerClientID string, _ []string) (*token.Issued, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastRefreshClient = callerClientID
	return nil, token.ErrTokenNotFound
}

func (f *fakeTokenService) Introspect(_ context.Context, _, _ string) (*token.Introspection, error) {
	return &token.Introspection{}, nil
}

func (f *fakeTokenService) Revoke(_ context.Context, _ string) error {
	return nil
}

func (f *fakeTokenService) RevokeFamily(_ context.Context, _ uuid.UUID) error {
	return nil
}

type fakeSessionService struct {
	sessions map[uuid.UUID]*session.Session
}

func (f *fakeSessionService) Create(userID uuid.UUID, authMethod string) (*session.Session, error) {
	sess := &session.Session{UserID: userID, AuthMethods: authMethod, Active: true}
	sess.ID = uuid.New()
	f.sessions[sess.ID] = sess
	return sess, nil
}

func (f *fakeSessionService) Get(id uuid.UUID) (*session.Session, error) {
	if sess, ok := f.sessions[id]; ok && sess.Active {
		return sess, nil
	}
	return nil, session.ErrInvalidSession
}

func (f *fakeSessionService) StepUp(id uuid.UUID, authMethod string) (*session.Session, error) {
	return f.Get(id)
}

func (f *fakeSessionService) Touch(_ uuid.UUID) error {
	return nil
}

func (f *fakeSessionService) MarkInactive(id uuid.UUID) error {
	if sess, ok := f.sessions[id]; ok {
		sess.Active = false
	}
	return nil
}

type testEnv struct {
	svc      Service
	repo     *fakeRepository
	tokens   *fakeTokenService
	sessions *fakeSessionService
	clock    *clock.Fake
	policy   policy.Evaluator
}

func newTestEnv(t *testing.T, eval policy.Evaluator) *testEnv {
	t.Helper()
	if eval == nil {
		eval = policy.AllowAll()
	}
	repo := newFakeRepository()
	tokens := &fakeTokenService{}
	sessions := &fakeSessionService{sessions: make(map[uuid.UUID]*session.Session)}
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	svc := NewService(
		repo,
		newFakeClientService(),
		tokens,
		sessions,
		eval,
		config.TokenConfig{AccessTokenTTL: 5 * time.Minute, RefreshTokenTTL: 720 * time.Hour, GrantTTL: 10 * time.Minute},
		config.DeviceFlowConfig{UserCodeLength: 8, PollInterval: 5 * time.Second, GrantTTL: 15 * time.Minute},
		clk,
		&clock.FakeRng{},
	)
	return &testEnv{svc: svc, repo: repo, tokens: tokens, sessions: sessions, clock: clk, policy: eval}
}

func (e *testEnv) newSession(t *testing.T) *session.Session {
	t.Helper()
	sess, err := e.sessions.Create(uuid.New(), session.MethodPassword)
	require.NoError(t, err)
	return sess
}

func pkcePair() (verifier, challenge string) {
	verifier = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	sum := sha256.Sum256([]byte(verifier))
	return verifier, base64.RawURLEncoding.EncodeToString(sum[:])
}

func startGrant(t *testing.T, e *testEnv, challenge string) (*AuthorizationGrant, string) {
	t.Helper()
	g, code, err := e.svc.StartAuthorization(context.Background(), &AuthorizeParams{
		ResponseType:        "code",
		ClientID:            "web-app",
		RedirectURI:         "https://app.example/callback",
		Scope:               "openid profile",
		State:               "xyz",
		Nonce:               "n-abc",
		CodeChallenge:       challenge,
		CodeChallengeMethod: CodeChallengeMethodS256,
	})
	require.NoError(t, err)
	return g, code
}

func TestStartAuthorizationValidation(t *testing.T) {
	e := newTestEnv(t, nil)
	_, challenge := pkcePair()

	base := AuthorizeParams{
		ResponseType:        "code",
		ClientID:            "web-app",
		RedirectURI:         "https://app.example/callback",
		Scope:               "openid",
		CodeChallenge:       challenge,
		CodeChallengeMethod: CodeChallengeMethodS256,
	}

	tests := []struct {
		name   string
		mutate func(*AuthorizeParams)
		want   error
	}{
		{"unsupported response_type", func(p *AuthorizeParams) { p.ResponseType = "token" }, ErrInvalidRequest},
		{"unknown client", func(p *AuthorizeParams) { p.ClientID = "nope" }, client.ErrUnknownClient},
		{"unregistered redirect_uri", func(p *AuthorizeParams) { p.RedirectURI = "https://evil.example/cb" }, ErrInvalidRequest},
		{"scope not allowed", func(p *AuthorizeParams) { p.Scope = "openid admin" }, ErrInvalidRequest},
		{"missing scope", func(p *AuthorizeParams) { p.Scope = "" }, ErrInvalidRequest},
		{"missing pkce for pkce-required client", func(p *AuthorizeParams) { p.CodeChallenge = "" }, ErrInvalidRequest},
		{"plain challenge method", func(p *AuthorizeParams) { p.CodeChallengeMethod = "plain" }, ErrInvalidRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			params := base
			tc.mutate(&params)
			_, _, err := e.svc.StartAuthorization(context.Background(), &params)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	g, code, err := e.svc.StartAuthorization(context.Background(), &base)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, g.Status)
	assert.True(t, strings.HasPrefix(code, AuthorizationCodePrefix))
	assert.NotContains(t, g.CodeHash, code, "raw code must not be stored")
}

func TestFullAuthorizationCodeFlow(t *testing.T) {
	e := newTestEnv(t, nil)
	verifier, challenge := pkcePair()
	g, code := startGrant(t, e, challenge)
	sess := e.newSession(t)

	require.NoError(t, e.svc.FulfillAuthorization(context.Background(), g.ID, sess.ID, []string{"openid", "profile"}))

	issued, err := e.svc.ExchangeAuthorizationCode(context.Background(), code,
		client.Credentials{ClientID: "web-app"}, "https://app.example/callback", verifier)
	require.NoError(t, err)
	assert.Equal(t, []string{"openid", "profile"}, issued.Scopes)

	// The granted scope set included openid, so an ID token was minted
	// with the request nonce.
	require.NotNil(t, e.tokens.lastOpts)
	require.NotNil(t, e.tokens.lastOpts.IDToken)
	assert.Equal(t, "n-abc", e.tokens.lastOpts.IDToken.Nonce)
	assert.NotEmpty(t, issued.IDToken)
}

func TestExchangeRequiresFulfillment(t *testing.T) {
	e := newTestEnv(t, nil)
	verifier, challenge := pkcePair()
	_, code := startGrant(t, e, challenge)

	_, err := e.svc.ExchangeAuthorizationCode(context.Background(), code,
		client.Credentials{ClientID: "web-app"}, "https://app.example/callback", verifier)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestExchangeIsSingleWinner(t *testing.T) {
	e := newTestEnv(t, nil)
	verifier, challenge := pkcePair()
	g, code := startGrant(t, e, challenge)
	sess := e.newSession(t)
	require.NoError(t, e.svc.FulfillAuthorization(context.Background(), g.ID, sess.ID, []string{"openid"}))

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.svc.ExchangeAuthorizationCode(context.Background(), code,
				client.Credentials{ClientID: "web-app"}, "https://app.example/callback", verifier)
		}(i)
	}
	wg.Wait()

	var wins, replays int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrGrantAlreadyExchanged):
			replays++
		default:
			t.Fatalf("unexpected exchange error: %v", err)
		}
	}
	assert.Equal(t, 1, wins, "exactly one racer wins")
	assert.Equal(t, 1, replays, "the loser sees a replay")
	assert.Equal(t, 1, e.tokens.issued, "exactly one token set per code")
}

func TestExchangePKCEMismatch(t *testing.T) {
	e := newTestEnv(t, nil)
	_, challenge := pkcePair()
	g, code := startGrant(t, e, challenge)
	sess := e.newSession(t)
	require.NoError(t, e.svc.FulfillAuthorization(context.Background(), g.ID, sess.ID, []string{"openid"}))

	_, err := e.svc.ExchangeAuthorizationCode(context.Background(), code,
		client.Credentials{ClientID: "web-app"}, "https://app.example/callback", "wrong-verifier")
	assert.ErrorIs(t, err, ErrCodeVerifierMismatch)

	_, err = e.svc.ExchangeAuthorizationCode(context.Background(), code,
		client.Credentials{ClientID: "web-app"}, "https://app.example/callback", "")
	assert.ErrorIs(t, err, ErrCodeVerifierMismatch)
}

func TestExchangeRedirectURIMismatch(t *testing.T) {
	e := newTestEnv(t, nil)
	verifier, challenge := pkcePair()
	g, code := startGrant(t, e, challenge)
	sess := e.newSession(t)
	require.NoError(t, e.svc.FulfillAuthorization(context.Background(), g.ID, sess.ID, []string{"openid"}))

	// Registered but different from the one authorized.
	_, err := e.svc.ExchangeAuthorizationCode(context.Background(), code,
		client.Credentials{ClientID: "web-app"}, "https://app.example/alt", verifier)
	assert.ErrorIs(t, err, ErrRedirectURIMismatch)
}

func TestExchangeForeignClientSeesNotFound(t *testing.T) {
	e := newTestEnv(t, nil)
	verifier, challenge := pkcePair()
	g, code := startGrant(t, e, challenge)
	sess := e.newSession(t)
	require.NoError(t, e.svc.FulfillAuthorization(context.Background(), g.ID, sess.ID, []string{"openid"}))

	_, err := e.svc.ExchangeAuthorizationCode(context.Background(), code,
		client.Credentials{ClientID: "tv-app"}, "https://app.example/callback", verifier)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExchangeExpiredGrant(t *testing.T) {
	e := newTestEnv(t, nil)
	verifier, challenge := pkcePair()
	g, code := startGrant(t, e, challenge)
	sess := e.newSession(t)
	require.NoError(t, e.svc.FulfillAuthorization(context.Background(), g.ID, sess.ID, []string{"openid"}))

	e.clock.Advance(11 * time.Minute)

	_, err := e.svc.ExchangeAuthorizationCode(context.Background(), code,
		client.Credentials{ClientID: "web-app"}, "https://app.example/callback", verifier)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestFulfillPolicyDenialCancelsGrant(t *testing.T) {
	deny := policy.EvaluatorFunc(func(_ context.Context, _ policy.Action) policy.Decision {
		return policy.Deny("not allowed for this client")
	})
	e := newTestEnv(t, deny)
	_, challenge := pkcePair()
	g, _ := startGrant(t, e, challenge)
	sess := e.newSession(t)

	err := e.svc.FulfillAuthorization(context.Background(), g.ID, sess.ID, []string{"openid"})
	assert.ErrorIs(t, err, ErrPolicyDenied)

	stored, err := e.repo.FindAuthorizationByID(g.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, stored.Status)
}

func TestFulfillIsOneShot(t *testing.T) {
	e := newTestEnv(t, nil)
	_, challenge := pkcePair()
	g, _ := startGrant(t, e, challenge)
	sess := e.newSession(t)

	require.NoError(t, e.svc.FulfillAuthorization(context.Background(), g.ID, sess.ID, []string{"openid"}))
	err := e.svc.FulfillAuthorization(context.Background(), g.ID, sess.ID, []string{"openid"})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestFulfillRejectsWidenedScopes(t *testing.T) {
	e := newTestEnv(t, nil)
	_, challenge := pkcePair()
	g, _ := startGrant(t, e, challenge)
	sess := e.newSession(t)

	err := e.svc.FulfillAuthorization(context.Background(), g.ID, sess.ID, []string{"openid", "email"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestDeviceAuthorizationFlow(t *testing.T) {
	e := newTestEnv(t, nil)

	g, deviceCode, userCode, err := e.svc.StartDeviceAuthorization(context.Background(),
		client.Credentials{ClientID: "tv-app"}, []string{"openid", "profile"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(deviceCode, DeviceCodePrefix))
	assert.Len(t, userCode, 8)
	for _, r := range userCode {
		assert.Contains(t, userCodeAlphabet, string(r))
	}
	assert.Equal(t, 5, g.PollInterval)

	creds := client.Credentials{ClientID: "tv-app"}

	// First poll: nobody has typed the code yet.
	res, err := e.svc.PollDeviceCode(context.Background(), deviceCode, creds)
	require.NoError(t, err)
	assert.Equal(t, PollAuthorizationPending, res.Status)

	// Too fast: throttled without touching user-facing state, and the
	// effective interval grows by 5 seconds.
	e.clock.Advance(2 * time.Second)
	res, err = e.svc.PollDeviceCode(context.Background(), deviceCode, creds)
	require.NoError(t, err)
	assert.Equal(t, PollSlowDown, res.Status)

	stored, err := e.repo.FindDeviceByCodeHash(hashCode(deviceCode))
	require.NoError(t, err)
	assert.Equal(t, 10, stored.PollInterval)

	// The user approves on another device.
	sess := e.newSession(t)
	require.NoError(t, e.svc.SubmitDeviceConsent(context.Background(), userCode, sess.ID, true, []string{"openid"}))

	// Respecting the bumped interval now yields tokens.
	e.clock.Advance(11 * time.Second)
	res, err = e.svc.PollDeviceCode(context.Background(), deviceCode, creds)
	require.NoError(t, err)
	require.Equal(t, PollFulfilled, res.Status)
	require.NotNil(t, res.Tokens)
	assert.Equal(t, []string{"openid"}, res.Tokens.Scopes)

	// The device code is single-use.
	e.clock.Advance(time.Minute)
	_, err = e.svc.PollDeviceCode(context.Background(), deviceCode, creds)
	assert.ErrorIs(t, err, ErrGrantAlreadyExchanged)
}

func TestDeviceConsentDeny(t *testing.T) {
	e := newTestEnv(t, nil)

	_, deviceCode, userCode, err := e.svc.StartDeviceAuthorization(context.Background(),
		client.Credentials{ClientID: "tv-app"}, []string{"openid"})
	require.NoError(t, err)

	sess := e.newSession(t)
	require.NoError(t, e.svc.SubmitDeviceConsent(context.Background(), userCode, sess.ID, false, nil))

	res, err := e.svc.PollDeviceCode(context.Background(), deviceCode, client.Credentials{ClientID: "tv-app"})
	require.NoError(t, err)
	assert.Equal(t, PollAccessDenied, res.Status)

	// The decision is final.
	err = e.svc.SubmitDeviceConsent(context.Background(), userCode, sess.ID, true, []string{"openid"})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestRefreshTokensAuthenticatesClient(t *testing.T) {
	e := newTestEnv(t, nil)

	_, err := e.svc.RefreshTokens(context.Background(), client.Credentials{ClientID: "ghost"},
		token.RefreshTokenPrefix+"test", nil)
	assert.ErrorIs(t, err, client.ErrUnknownClient)
	assert.Empty(t, e.tokens.lastRefreshClient, "issuer never consulted for a stranger")

	_, err = e.svc.RefreshTokens(context.Background(), client.Credentials{ClientID: "web-app"},
		token.RefreshTokenPrefix+"test", nil)
	assert.ErrorIs(t, err, token.ErrTokenNotFound)
	assert.Equal(t, "web-app", e.tokens.lastRefreshClient)
}

func TestDevicePollFulfilledButExpired(t *testing.T) {
	e := newTestEnv(t, nil)

	_, deviceCode, userCode, err := e.svc.StartDeviceAuthorization(context.Background(),
		client.Credentials{ClientID: "tv-app"}, []string{"openid"})
	require.NoError(t, err)

	sess := e.newSession(t)
	require.NoError(t, e.svc.SubmitDeviceConsent(context.Background(), userCode, sess.ID, true, []string{"openid"}))

	// Consent landed, but the device never collected before the deadline.
	e.clock.Advance(16 * time.Minute)

	res, err := e.svc.PollDeviceCode(context.Background(), deviceCode, client.Credentials{ClientID: "tv-app"})
	require.NoError(t, err)
	assert.Equal(t, PollExpired, res.Status)
	assert.Nil(t, res.Tokens)
	assert.Equal(t, 0, e.tokens.issued)
}

func TestDeviceCodeExpiry(t *testing.T) {
	e := newTestEnv(t, nil)

	_, deviceCode, userCode, err := e.svc.StartDeviceAuthorization(context.Background(),
		client.Credentials{ClientID: "tv-app"}, []string{"openid"})
	require.NoError(t, err)

	e.clock.Advance(16 * time.Minute)

	res, err := e.svc.PollDeviceCode(context.Background(), deviceCode, client.Credentials{ClientID: "tv-app"})
	require.NoError(t, err)
	assert.Equal(t, PollExpired, res.Status)

	sess := e.newSession(t)
	err = e.svc.SubmitDeviceConsent(context.Background(), userCode, sess.ID, true, []string{"openid"})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestDevicePollUnknownCode(t *testing.T) {
	e := newTestEnv(t, nil)
	_, err := e.svc.PollDeviceCode(context.Background(), DeviceCodePrefix+"unknown", client.Credentials{ClientID: "tv-app"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDevicePollForeignClient(t *testing.T) {
	e := newTestEnv(t, nil)

	_, deviceCode, _, err := e.svc.StartDeviceAuthorization(context.Background(),
		client.Credentials{ClientID: "tv-app"}, []string{"openid"})
	require.NoError(t, err)

	_, err = e.svc.PollDeviceCode(context.Background(), deviceCode, client.Credentials{ClientID: "web-app"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExpireStaleSweep(t *testing.T) {
	e := newTestEnv(t, nil)
	_, challenge := pkcePair()
	startGrant(t, e, challenge)
	_, _, _, err := e.svc.StartDeviceAuthorization(context.Background(),
		client.Credentials{ClientID: "tv-app"}, []string{"openid"})
	require.NoError(t, err)

	n, err := e.svc.ExpireStale(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	e.clock.Advance(16 * time.Minute)

	n, err = e.svc.ExpireStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
