package access

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/zk-tenant-iam/internal/core/domain"
)

type fakeSessions map[string]*domain.Principal

func (f fakeSessions) Validate(_ context.Context, raw string) (*domain.Principal, error) {
	if p, ok := f[raw]; ok {
		return p, nil
	}
	switch raw {
	case "expired":
		return nil, domain.ErrTokenExpired
	case "revoked":
		return nil, domain.ErrTokenRevoked
	}
	return nil, domain.ErrTokenInvalid
}

type fakeAuthorizer struct {
	grants map[string]bool
	calls  []domain.PermissionRequest
}

func (f *fakeAuthorizer) Authorize(_ context.Context, userID string, req domain.PermissionRequest) (bool, error) {
	f.calls = append(f.calls, req)
	return f.grants[userID+"|"+req.TenantID+"|"+string(req.ResourceType)+":"+string(req.Action)], nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.AuditEvent
	err    error
}

func (s *recordingSink) Record(_ context.Context, e domain.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

type deniedCounter map[string]int

func (d deniedCounter) ObserveAccessDenied(stage, reason string) {
	d[stage+":"+reason]++
}

func newTestPipeline(t *testing.T, sink *recordingSink, authz *fakeAuthorizer) *Pipeline {
	sessions := fakeSessions{
		"alice-token": {UserID: "alice", TokenID: "j1"},
		"bound-token": {UserID: "alice", TenantID: "globex", TokenID: "j2"},
	}
	return NewPipeline(sink, zaptest.NewLogger(t),
		TenantStage{Directory: NewStaticDirectory([]string{"acme", "globex"})},
		AuthenticationStage{Sessions: sessions},
		AuthorizationStage{Authorizer: authz},
	).WithClock(func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) })
}

func TestPipelineRunsOperationWhenAllStagesPass(t *testing.T) {
	sink := &recordingSink{}
	authz := &fakeAuthorizer{grants: map[string]bool{"alice|acme|role:create": true}}
	p := newTestPipeline(t, sink, authz)

	req := &Request{
		Operation:     "roles.create",
		TenantHeader:  "acme",
		Authorization: "Bearer alice-token",
		RequestID:     "req-1",
		Requirement:   &Requirement{Resource: domain.ResourceRole, Action: domain.ActionCreate},
	}
	executed := false
	err := p.Run(context.Background(), req, func(ctx context.Context) error {
		executed = true
		principal, ok := PrincipalFromContext(ctx)
		require.True(t, ok)
		require.Equal(t, "alice", principal.UserID)
		require.Equal(t, "acme", TenantFromContext(ctx))
		require.Equal(t, StateExecuting, req.State)
		return nil
	})
	require.NoError(t, err)
	require.True(t, executed)
	require.Equal(t, StateCompleted, req.State)

	require.Len(t, sink.events, 2)
	require.Equal(t, domain.AuditAttempt, sink.events[0].Outcome)
	require.Equal(t, domain.AuditSucceeded, sink.events[1].Outcome)
	require.Equal(t, "alice", sink.events[1].UserID)
	require.Equal(t, "acme", sink.events[1].TenantID)
	require.Equal(t, domain.ResourceRole, sink.events[1].Resource)
	require.Equal(t, "req-1", sink.events[1].RequestID)
}

func TestPipelineCarriesValidatedSite(t *testing.T) {
	sink := &recordingSink{}
	authz := &fakeAuthorizer{grants: map[string]bool{"alice|acme|role:create": true}}
	p := newTestPipeline(t, sink, authz)

	req := &Request{
		Operation:     "roles.create",
		TenantHeader:  "acme",
		SiteID:        " shop1 ",
		Authorization: "Bearer alice-token",
		Requirement:   &Requirement{Resource: domain.ResourceRole, Action: domain.ActionCreate},
	}
	err := p.Run(context.Background(), req, func(ctx context.Context) error {
		require.Equal(t, "shop1", SiteFromContext(ctx))
		return nil
	})
	require.NoError(t, err)
	require.Len(t, authz.calls, 1)
	require.Equal(t, "shop1", authz.calls[0].SiteID)
}

func TestPipelineStopsAtFirstFailingStage(t *testing.T) {
	cases := []struct {
		name   string
		req    Request
		stage  string
		target error
	}{
		{"missing tenant", Request{Authorization: "Bearer alice-token"}, "tenant", domain.ErrTenantNotFound},
		{"malformed tenant", Request{TenantHeader: "ac me", Authorization: "Bearer alice-token"}, "tenant", domain.ErrInvalidTenantID},
		{"unknown tenant", Request{TenantHeader: "initech", Authorization: "Bearer alice-token"}, "tenant", domain.ErrTenantNotFound},
		{"malformed site", Request{TenantHeader: "acme", SiteID: "shop*", Authorization: "Bearer alice-token"}, "tenant", domain.ErrInvalidSiteID},
		{"site without tenant", Request{SiteID: "shop1", Authorization: "Bearer alice-token"}, "tenant", domain.ErrInvalidSiteID},
		{"missing token", Request{TenantHeader: "acme"}, "authentication", domain.ErrAuthenticationRequired},
		{"wrong scheme", Request{TenantHeader: "acme", Authorization: "Basic abc"}, "authentication", domain.ErrAuthenticationRequired},
		{"expired token", Request{TenantHeader: "acme", Authorization: "Bearer expired"}, "authentication", domain.ErrTokenExpired},
		{"revoked token", Request{TenantHeader: "acme", Authorization: "Bearer revoked"}, "authentication", domain.ErrTokenRevoked},
		{"garbage token", Request{TenantHeader: "acme", Authorization: "Bearer garbage"}, "authentication", domain.ErrTokenInvalid},
		{"token bound to other tenant", Request{TenantHeader: "acme", Authorization: "Bearer bound-token"}, "authentication", domain.ErrTenantMismatch},
		{"no permission", Request{TenantHeader: "acme", Authorization: "Bearer alice-token",
			Requirement: &Requirement{Resource: domain.ResourceRole, Action: domain.ActionDelete}}, "authorization", domain.ErrPermissionDenied},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sink := &recordingSink{}
			p := newTestPipeline(t, sink, &fakeAuthorizer{})
			denied := deniedCounter{}
			p.WithObserver(denied)
			req := tc.req
			req.Operation = "test.op"

			err := p.Run(context.Background(), &req, func(context.Context) error {
				t.Fatal("operation must not run")
				return nil
			})
			require.ErrorIs(t, err, tc.target)
			require.Equal(t, StateFailed, req.State)
			require.Equal(t, tc.stage, req.FailedStage)

			require.Len(t, sink.events, 1)
			require.Equal(t, domain.AuditDenied, sink.events[0].Outcome)
			require.Equal(t, tc.stage, sink.events[0].Stage)
			require.Equal(t, domain.KindOf(tc.target), sink.events[0].Reason)
			require.Equal(t, 1, denied[tc.stage+":"+string(domain.KindOf(tc.target))])
		})
	}
}

func TestPipelineAuthorizesWithSiteAndResource(t *testing.T) {
	authz := &fakeAuthorizer{grants: map[string]bool{"alice|acme|listing:update": true}}
	p := newTestPipeline(t, &recordingSink{}, authz)
	req := &Request{
		Operation:     "listings.update",
		TenantHeader:  "acme",
		SiteID:        "shop",
		ResourceID:    "42",
		Authorization: "bearer alice-token",
		Requirement:   &Requirement{Resource: domain.ResourceListing, Action: domain.ActionUpdate},
	}
	require.NoError(t, p.Run(context.Background(), req, func(context.Context) error { return nil }))
	require.Len(t, authz.calls, 1)
	require.Equal(t, domain.PermissionRequest{
		TenantID: "acme", SiteID: "shop", ResourceType: domain.ResourceListing, ResourceID: "42", Action: domain.ActionUpdate,
	}, authz.calls[0])
}

func TestPipelineRecordsOperationFailure(t *testing.T) {
	sink := &recordingSink{}
	p := newTestPipeline(t, sink, &fakeAuthorizer{})
	req := &Request{Operation: "roles.delete", TenantHeader: "acme", Authorization: "Bearer alice-token"}

	err := p.Run(context.Background(), req, func(context.Context) error { return domain.ErrRoleInUse })
	require.ErrorIs(t, err, domain.ErrRoleInUse)
	require.Equal(t, "execute", req.FailedStage)
	require.Len(t, sink.events, 2)
	require.Equal(t, domain.AuditAttempt, sink.events[0].Outcome)
	require.Equal(t, domain.AuditFailed, sink.events[1].Outcome)
	require.Equal(t, domain.KindRoleInUse, sink.events[1].Reason)
}

func TestPipelineIgnoresAuditFailures(t *testing.T) {
	sink := &recordingSink{err: errors.New("disk full")}
	p := newTestPipeline(t, sink, &fakeAuthorizer{})
	req := &Request{Operation: "me", TenantHeader: "acme", Authorization: "Bearer alice-token"}
	require.NoError(t, p.Run(context.Background(), req, func(context.Context) error { return nil }))
}

func TestOptionalTenantStage(t *testing.T) {
	p := NewPipeline(nil, zaptest.NewLogger(t),
		TenantStage{Optional: true},
		AuthenticationStage{Sessions: fakeSessions{"t": {UserID: "bob", TenantID: "acme"}}},
	)
	req := &Request{Operation: "logout", Authorization: "Bearer t"}
	require.NoError(t, p.Run(context.Background(), req, func(context.Context) error { return nil }))
	require.Equal(t, "", req.TenantID)
	require.Equal(t, "bob", req.Principal.UserID)
}

func TestMultiSinkTriesEverySink(t *testing.T) {
	first := &recordingSink{err: errors.New("kafka down")}
	second := &recordingSink{}
	err := MultiSink{first, nil, second, NewLogSink(zaptest.NewLogger(t))}.Record(context.Background(), domain.AuditEvent{Operation: "x"})
	require.Error(t, err)
	require.Len(t, first.events, 1)
	require.Len(t, second.events, 1)
}

func TestBearerToken(t *testing.T) {
	token, ok := BearerToken("Bearer abc.def")
	require.True(t, ok)
	require.Equal(t, "abc.def", token)

	for _, header := range []string{"", "Bearer", "Bearer   ", "Token abc", "abc"} {
		_, ok := BearerToken(header)
		require.False(t, ok, header)
	}
}

func TestStaticDirectory(t *testing.T) {
	require.Nil(t, NewStaticDirectory(nil))
	var dir *StaticDirectory
	ok, err := dir.Exists(context.Background(), "anything")
	require.NoError(t, err)
	require.True(t, ok)

	dir = NewStaticDirectory([]string{" acme ", ""})
	ok, _ = dir.Exists(context.Background(), "acme")
	require.True(t, ok)
	ok, _ = dir.Exists(context.Background(), "globex")
	require.False(t, ok)
}
