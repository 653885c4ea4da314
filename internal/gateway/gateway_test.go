package gateway

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"portal/internal/common"
	"portal/internal/models"
	"portal/internal/session"
	"portal/internal/storage"
)

type mockStore struct {
	mock.Mock
	name string
}

func (m *mockStore) Name() string { return m.name }

func (m *mockStore) Signup(ctx context.Context, req models.SignupRequest) (*models.Account, error) {
	args := m.Called(ctx, req)
	acc, _ := args.Get(0).(*models.Account)
	return acc, args.Error(1)
}

func (m *mockStore) Login(ctx context.Context, username, password string) (*models.Account, error) {
	args := m.Called(ctx, username, password)
	acc, _ := args.Get(0).(*models.Account)
	return acc, args.Error(1)
}

func (m *mockStore) Lookup(ctx context.Context, username string) (*models.Account, error) {
	args := m.Called(ctx, username)
	acc, _ := args.Get(0).(*models.Account)
	return acc, args.Error(1)
}

func (m *mockStore) ListUsers(ctx context.Context) ([]models.AccountView, error) {
	args := m.Called(ctx)
	views, _ := args.Get(0).([]models.AccountView)
	return views, args.Error(1)
}

func (m *mockStore) SoftDelete(ctx context.Context, username string) error {
	return m.Called(ctx, username).Error(0)
}

// memSessions is a single in-memory session.
type memSessions struct {
	state     session.State
	destroyed int
}

func (s *memSessions) Establish(_ context.Context, id session.Identity) error {
	s.state.Establish(id)
	return nil
}

func (s *memSessions) Current(context.Context) (session.Identity, error) {
	return s.state.Current(), nil
}

func (s *memSessions) ReadIdentity(context.Context) (session.Identity, error) {
	return s.state.ReadIdentity(), nil
}

func (s *memSessions) Destroy(context.Context) error {
	s.destroyed++
	s.state.Destroy()
	return nil
}

type countingRecorder struct {
	mu        sync.Mutex
	outcomes  []string
	failovers []string
}

func (r *countingRecorder) ObserveOperation(op, store, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, op+"/"+store+"/"+outcome)
}

func (r *countingRecorder) ObserveFailover(op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failovers = append(r.failovers, op)
}

var errDown = common.Unreachable(errors.New("connection refused"))

func newTestGateway(t *testing.T, withFallback bool) (*Gateway, *mockStore, *mockStore, *countingRecorder) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	primary := &mockStore{name: storage.PrimaryName}
	var fallback *mockStore
	var fb storage.AccountStore
	if withFallback {
		fallback = &mockStore{name: storage.LocalName}
		fb = fallback
	}
	rec := &countingRecorder{}
	g := New(primary, fb, Options{Timeout: 50 * time.Millisecond, Logger: log, Recorder: rec})
	return g, primary, fallback, rec
}

func adminSession() *memSessions {
	s := &memSessions{}
	s.state.Establish(session.Identity{Username: "admin", IsAdmin: true, Origin: storage.PrimaryName})
	return s
}

func TestSignup_Primary(t *testing.T) {
	ctx := context.Background()
	g, primary, fallback, rec := newTestGateway(t, true)
	req := models.SignupRequest{Username: "alice", Password: "pw", ConfirmPassword: "pw"}
	primary.On("Signup", mock.Anything, req).Return(&models.Account{ID: 7, Username: "alice"}, nil)

	sess := &memSessions{}
	id, err := g.Signup(ctx, sess, req)
	require.NoError(t, err)
	assert.Equal(t, uint(7), id.UserID)
	assert.Equal(t, storage.PrimaryName, id.Origin)
	assert.True(t, id.ShowWelcome)
	assert.False(t, id.IsAdmin)
	assert.Equal(t, id, sess.state.Current())

	fallback.AssertNotCalled(t, "Signup", mock.Anything, mock.Anything)
	assert.Equal(t, []string{"signup/primary/ok"}, rec.outcomes)
}

func TestSignup_FailsOverWhenUnreachable(t *testing.T) {
	ctx := context.Background()
	g, primary, fallback, rec := newTestGateway(t, true)
	req := models.SignupRequest{Username: "alice", Password: "pw", ConfirmPassword: "pw"}
	primary.On("Signup", mock.Anything, req).Return(nil, errDown)
	fallback.On("Signup", mock.Anything, req).Return(&models.Account{Username: "alice"}, nil)

	sess := &memSessions{}
	id, err := g.Signup(ctx, sess, req)
	require.NoError(t, err)
	assert.Equal(t, storage.LocalName, id.Origin)
	assert.Equal(t, []string{OpSignup}, rec.failovers)
}

func TestSignup_ClassifiedErrorsDoNotFailOver(t *testing.T) {
	ctx := context.Background()
	g, primary, fallback, _ := newTestGateway(t, true)
	req := models.SignupRequest{Username: "bob", Password: "pw", ConfirmPassword: "pw"}
	primary.On("Signup", mock.Anything, req).Return(nil, common.New(common.ErrConflict, common.MsgDeletedUsername))

	sess := &memSessions{}
	_, err := g.Signup(ctx, sess, req)
	require.Error(t, err)
	assert.Equal(t, common.MsgDeletedUsername, common.Message(err))
	assert.False(t, sess.state.Current().Authenticated())
	fallback.AssertNotCalled(t, "Signup", mock.Anything, mock.Anything)
}

func TestLogin_PrimaryTimeoutFailsOver(t *testing.T) {
	ctx := context.Background()
	g, primary, fallback, _ := newTestGateway(t, true)
	primary.On("Login", mock.Anything, "alice", "pw").
		Run(func(args mock.Arguments) { <-args.Get(0).(context.Context).Done() }).
		Return(nil, context.DeadlineExceeded)
	fallback.On("Login", mock.Anything, "alice", "pw").Return(&models.Account{Username: "alice"}, nil)

	id, err := g.Login(ctx, &memSessions{}, "alice", "pw")
	require.NoError(t, err)
	assert.Equal(t, storage.LocalName, id.Origin)
}

func TestLogin_CallerCancellationDoesNotFailOver(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g, primary, fallback, _ := newTestGateway(t, true)
	primary.On("Login", mock.Anything, "alice", "pw").
		Run(func(mock.Arguments) { cancel() }).
		Return(nil, errDown)

	_, err := g.Login(ctx, &memSessions{}, "alice", "pw")
	require.Error(t, err)
	fallback.AssertNotCalled(t, "Login", mock.Anything, mock.Anything, mock.Anything)
}

func TestLogin_FallbackFailureCollapses(t *testing.T) {
	ctx := context.Background()
	g, primary, fallback, _ := newTestGateway(t, true)
	primary.On("Login", mock.Anything, "alice", "pw").Return(nil, errDown)
	fallback.On("Login", mock.Anything, "alice", "pw").Return(nil, common.Internal(errors.New("corrupt")))

	_, err := g.Login(ctx, &memSessions{}, "alice", "pw")
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrInvalidCredentials))
	assert.Equal(t, common.MsgInvalidCredentials, common.Message(err))
}

func TestLogin_FallbackClassifiedErrorPassesThrough(t *testing.T) {
	ctx := context.Background()
	g, primary, fallback, _ := newTestGateway(t, true)
	primary.On("Login", mock.Anything, "admin", "x").Return(nil, errDown)
	fallback.On("Login", mock.Anything, "admin", "x").
		Return(nil, common.New(common.ErrInvalidCredentials, common.MsgInvalidCredentials))

	_, err := g.Login(ctx, &memSessions{}, "admin", "x")
	assert.True(t, errors.Is(err, common.ErrInvalidCredentials))
}

func TestLogin_AdminSession(t *testing.T) {
	ctx := context.Background()
	g, primary, _, _ := newTestGateway(t, true)
	primary.On("Login", mock.Anything, "Admin", "secret").Return(&models.Account{ID: 1, Username: "admin"}, nil)

	sess := &memSessions{}
	id, err := g.Login(ctx, sess, "Admin", "secret")
	require.NoError(t, err)
	assert.True(t, id.IsAdmin)
	assert.True(t, sess.state.Current().IsAdmin)
}

func TestNoFallback_UnreachableSurfaces(t *testing.T) {
	ctx := context.Background()
	g, primary, _, _ := newTestGateway(t, false)
	primary.On("ListUsers", mock.Anything).Return(nil, context.DeadlineExceeded)

	_, err := g.ListUsers(ctx, adminSession())
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrStoreUnreachable))
	assert.Equal(t, common.MsgServerError, common.Message(err))
}

func TestListUsers_RequiresAdmin(t *testing.T) {
	ctx := context.Background()
	g, primary, _, _ := newTestGateway(t, true)

	sess := &memSessions{}
	sess.state.Establish(session.Identity{Username: "alice"})
	_, err := g.ListUsers(ctx, sess)
	assert.True(t, errors.Is(err, common.ErrForbidden))

	_, err = g.ListUsers(ctx, &memSessions{})
	assert.True(t, errors.Is(err, common.ErrForbidden))

	err = g.DeleteUser(ctx, sess, "bob")
	assert.True(t, errors.Is(err, common.ErrForbidden))
	primary.AssertNotCalled(t, "ListUsers", mock.Anything)
	primary.AssertNotCalled(t, "SoftDelete", mock.Anything, mock.Anything)
}

func TestListUsers_FallbackFailureIsServerError(t *testing.T) {
	ctx := context.Background()
	g, primary, fallback, _ := newTestGateway(t, true)
	primary.On("ListUsers", mock.Anything).Return(nil, errDown)
	fallback.On("ListUsers", mock.Anything).Return(nil, errors.New("disk gone"))

	_, err := g.ListUsers(ctx, adminSession())
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrInternal))
	assert.Equal(t, common.MsgServerError, common.Message(err))
}

func TestDeleteUser(t *testing.T) {
	ctx := context.Background()
	g, primary, _, _ := newTestGateway(t, true)
	primary.On("SoftDelete", mock.Anything, "bob").Return(nil)
	primary.On("SoftDelete", mock.Anything, "ghost").Return(common.New(common.ErrNotFound, common.MsgUserNotFound))

	require.NoError(t, g.DeleteUser(ctx, adminSession(), "bob"))

	err := g.DeleteUser(ctx, adminSession(), "ghost")
	assert.True(t, errors.Is(err, common.ErrNotFound))
}

func TestMe(t *testing.T) {
	ctx := context.Background()
	g, primary, fallback, _ := newTestGateway(t, true)

	profile, err := g.Me(ctx, &memSessions{})
	require.NoError(t, err)
	assert.False(t, profile.Authenticated)

	fallback.On("Lookup", mock.Anything, "alice").
		Return(&models.Account{Username: "alice", FirstName: "Alice", Nickname: " "}, nil)

	sess := &memSessions{}
	sess.state.Establish(session.Identity{Username: "alice", ShowWelcome: true, Origin: storage.LocalName})

	profile, err = g.Me(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, Profile{Authenticated: true, Username: "alice", DisplayName: "Alice", ShowWelcome: true}, profile)

	profile, err = g.Me(ctx, sess)
	require.NoError(t, err)
	assert.True(t, profile.Authenticated)
	assert.False(t, profile.ShowWelcome)

	primary.AssertNotCalled(t, "Lookup", mock.Anything, mock.Anything)
}

func TestMe_LookupFailureKeepsWelcome(t *testing.T) {
	ctx := context.Background()
	g, primary, _, _ := newTestGateway(t, true)
	primary.On("Lookup", mock.Anything, "carol").Return(nil, common.New(common.ErrNotFound, common.MsgUserNotFound)).Once()
	primary.On("Lookup", mock.Anything, "carol").Return(&models.Account{Username: "carol"}, nil)

	sess := &memSessions{}
	sess.state.Establish(session.Identity{Username: "carol", ShowWelcome: true, Origin: storage.PrimaryName})

	profile, err := g.Me(ctx, sess)
	require.NoError(t, err)
	assert.False(t, profile.Authenticated)
	assert.True(t, sess.state.Current().ShowWelcome)

	profile, err = g.Me(ctx, sess)
	require.NoError(t, err)
	assert.True(t, profile.ShowWelcome)
	assert.Equal(t, "carol", profile.DisplayName)
}

func TestLogout(t *testing.T) {
	g, _, _, _ := newTestGateway(t, true)
	sess := adminSession()

	require.NoError(t, g.Logout(context.Background(), sess))
	require.NoError(t, g.Logout(context.Background(), sess))
	assert.Equal(t, 2, sess.destroyed)
	assert.False(t, sess.state.Current().Authenticated())
}
