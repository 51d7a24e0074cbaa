package session

import (
	"errors"

	"github.com/google/uuid"
	"go.uber.org/mock/gomock"

	"github.com/jasonw10105-ux/artflow-sub000/internal/profile"
	dErrors "github.com/jasonw10105-ux/artflow-sub000/pkg/domainerrors"
)

func (s *ControllerSuite) TestNewRequiresDeps() {
	_, err := New(nil, s.mockStore)
	s.Error(err)

	_, err = New(s.mockProvider, nil)
	s.Error(err)
}

func (s *ControllerSuite) TestInitializeWithoutPersistedSession() {
	s.True(s.controller.Snapshot().Loading, "loading until initialization resolves")

	s.initializeEmpty()

	snap := s.controller.Snapshot()
	s.Equal(StateUnauthenticated, snap.State)
	s.False(snap.Loading)
	s.Nil(snap.Session)
	s.Nil(snap.Profile)
}

func (s *ControllerSuite) TestInitializeRestoresPersistedSession() {
	userID := uuid.New()
	sess := s.newSession(userID, "ann@example.com")
	row := s.newProfile(userID, "Ann")

	s.expectListener()
	s.mockProvider.EXPECT().CurrentSession(gomock.Any()).Return(sess, nil)
	s.mockStore.EXPECT().
		Subscribe(userID, gomock.Any()).
		Return(&profile.Subscription{Subject: userID}, nil)
	s.mockStore.EXPECT().FindByID(gomock.Any(), userID).Return(row, nil)

	s.Require().NoError(s.controller.Initialize(s.ctx))

	snap := s.controller.Snapshot()
	s.Equal(StateAuthenticated, snap.State)
	s.False(snap.Loading)
	s.True(snap.ProfileLoaded)
	s.Equal("Ann", snap.Profile.DisplayName)
}

func (s *ControllerSuite) TestInitializeProviderFailure() {
	s.expectListener()
	s.mockProvider.EXPECT().
		CurrentSession(gomock.Any()).
		Return(nil, errors.New("connection refused"))

	err := s.controller.Initialize(s.ctx)
	s.True(dErrors.HasCode(err, dErrors.CodeAuthService))

	snap := s.controller.Snapshot()
	s.Equal(StateUnauthenticated, snap.State)
	s.False(snap.Loading)
}

func (s *ControllerSuite) TestInitializeIsOneShot() {
	s.initializeEmpty()
	s.Error(s.controller.Initialize(s.ctx))
}

func (s *ControllerSuite) TestListenerAdoptsExternalSignIn() {
	s.initializeEmpty()

	userID := uuid.New()
	sess := s.newSession(userID, "ann@example.com")
	row := s.newProfile(userID, "Ann")

	s.mockStore.EXPECT().
		Subscribe(userID, gomock.Any()).
		Return(&profile.Subscription{Subject: userID}, nil)
	s.mockStore.EXPECT().FindByID(gomock.Any(), userID).Return(row, nil)

	s.sessionChange(sess)

	snap := s.controller.Snapshot()
	s.Equal(StateAuthenticated, snap.State)
	s.Equal("Ann", snap.Profile.DisplayName)
}

func (s *ControllerSuite) TestListenerClearsExternalSignOut() {
	s.initializeEmpty()
	userID := uuid.New()
	s.signIn(s.newSession(userID, "ann@example.com"), s.newProfile(userID, "Ann"))

	s.mockStore.EXPECT().Unsubscribe(gomock.Any())
	s.sessionChange(nil)

	snap := s.controller.Snapshot()
	s.Equal(StateUnauthenticated, snap.State)
	s.Nil(snap.Session)
	s.Nil(snap.Profile)
}

func (s *ControllerSuite) TestListenerIgnoresRedundantSession() {
	s.initializeEmpty()
	userID := uuid.New()
	sess := s.newSession(userID, "ann@example.com")
	s.signIn(sess, s.newProfile(userID, "Ann"))

	// The same session delivered again must not refetch or resubscribe.
	s.sessionChange(sess)

	snap := s.controller.Snapshot()
	s.Equal(StateAuthenticated, snap.State)
}

func (s *ControllerSuite) TestCloseTearsEverythingDown() {
	s.initializeEmpty()
	userID := uuid.New()
	s.signIn(s.newSession(userID, "ann@example.com"), s.newProfile(userID, "Ann"))

	watch := s.controller.Watch()

	s.mockStore.EXPECT().Unsubscribe(gomock.Any())
	s.controller.Close()
	s.controller.Close() // idempotent

	s.True(s.unregistered, "session listener must be unregistered")
	for range watch {
		// drain until closed
	}

	snap := s.controller.Snapshot()
	s.Equal(StateUnauthenticated, snap.State)
	s.Nil(snap.Session)
}

func (s *ControllerSuite) TestWatchAfterCloseIsClosed() {
	s.initializeEmpty()
	s.controller.Close()

	watch := s.controller.Watch()
	_, open := <-watch
	s.False(open, "watching a closed controller must hand back a closed channel")
}

func (s *ControllerSuite) TestWatchObservesTransitions() {
	s.initializeEmpty()

	watch := s.controller.Watch()
	first := <-watch
	s.Equal(StateUnauthenticated, first.State, "watch is seeded with the current snapshot")

	userID := uuid.New()
	s.signIn(s.newSession(userID, "ann@example.com"), s.newProfile(userID, "Ann"))

	var last Snapshot
	for len(watch) > 0 {
		last = <-watch
	}
	s.Equal(StateAuthenticated, last.State)
	s.Equal("Ann", last.Profile.DisplayName)

	s.controller.Unwatch(watch)
	_, open := <-watch
	s.False(open)
}

func (s *ControllerSuite) TestSnapshotsAreCopies() {
	s.initializeEmpty()
	userID := uuid.New()
	s.signIn(s.newSession(userID, "ann@example.com"), s.newProfile(userID, "Ann"))

	snap := s.controller.Snapshot()
	snap.Profile.DisplayName = "Mallory"
	snap.Session.Email = "mallory@example.com"

	fresh := s.controller.Snapshot()
	s.Equal("Ann", fresh.Profile.DisplayName)
	s.Equal("ann@example.com", fresh.Session.Email)
}
