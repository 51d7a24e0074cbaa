package session

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/mock/gomock"

	"github.com/jasonw10105-ux/artflow-sub000/internal/profile"
	dErrors "github.com/jasonw10105-ux/artflow-sub000/pkg/domainerrors"
)

func (s *ControllerSuite) TestFeedUpdateReplacesProfile() {
	s.initializeEmpty()
	userID := uuid.New()
	feed := s.signIn(s.newSession(userID, "ann@example.com"), s.newProfile(userID, "Ann"))

	// A concurrent edit from another device wins over whatever is held
	// locally, no merging.
	remote := s.newProfile(userID, "Ann")
	remote.Bio = "painter, oil on canvas"
	feed(profile.ChangeEvent{Kind: profile.EventUpdated, Subject: userID, Profile: remote})

	snap := s.controller.Snapshot()
	s.Equal("painter, oil on canvas", snap.Profile.Bio)
	s.Equal(StateAuthenticated, snap.State)
}

func (s *ControllerSuite) TestFeedUpdateIgnoresOtherSubjects() {
	s.initializeEmpty()
	userID := uuid.New()
	feed := s.signIn(s.newSession(userID, "ann@example.com"), s.newProfile(userID, "Ann"))

	stranger := uuid.New()
	feed(profile.ChangeEvent{Kind: profile.EventUpdated, Subject: stranger, Profile: s.newProfile(stranger, "Bob")})

	s.Equal("Ann", s.controller.Snapshot().Profile.DisplayName)
}

func (s *ControllerSuite) TestFeedUpdateWithoutRowIsDropped() {
	s.initializeEmpty()
	userID := uuid.New()
	feed := s.signIn(s.newSession(userID, "ann@example.com"), s.newProfile(userID, "Ann"))

	feed(profile.ChangeEvent{Kind: profile.EventUpdated, Subject: userID})

	s.Equal("Ann", s.controller.Snapshot().Profile.DisplayName)
}

func (s *ControllerSuite) TestFeedDeleteInvalidatesIdentity() {
	s.initializeEmpty()
	userID := uuid.New()
	feed := s.signIn(s.newSession(userID, "ann@example.com"), s.newProfile(userID, "Ann"))

	s.mockStore.EXPECT().Unsubscribe(gomock.Any())
	feed(profile.ChangeEvent{Kind: profile.EventDeleted, Subject: userID})

	snap := s.controller.Snapshot()
	s.Equal(StateUnauthenticated, snap.State)
	s.Nil(snap.Session)
	s.Nil(snap.Profile)

	// The invalidated client cannot keep writing.
	name := "Ann"
	_, err := s.controller.UpdateProfile(s.ctx, profile.Fields{DisplayName: &name})
	s.True(dErrors.HasCode(err, dErrors.CodeNotAuthenticated))
}

func (s *ControllerSuite) TestFeedEventsAfterSignOutAreDropped() {
	s.initializeEmpty()
	userID := uuid.New()
	feed := s.signIn(s.newSession(userID, "ann@example.com"), s.newProfile(userID, "Ann"))

	s.mockStore.EXPECT().Unsubscribe(gomock.Any())
	s.mockProvider.EXPECT().InvalidateSession(gomock.Any()).Return(nil)
	s.Require().NoError(s.controller.SignOut(s.ctx))

	// A delivery that raced the unsubscribe must not resurrect the profile.
	feed(profile.ChangeEvent{Kind: profile.EventUpdated, Subject: userID, Profile: s.newProfile(userID, "Ann")})

	snap := s.controller.Snapshot()
	s.Equal(StateUnauthenticated, snap.State)
	s.Nil(snap.Profile)
}

// A profile fetch that was in flight when the user signed out must be
// discarded, not installed into the signed-out state.
func (s *ControllerSuite) TestStaleFetchDiscardedAfterSignOut() {
	s.initializeEmpty()

	userID := uuid.New()
	sess := s.newSession(userID, "ann@example.com")
	row := s.newProfile(userID, "Ann")

	entered := make(chan struct{})
	release := make(chan struct{})

	s.mockStore.EXPECT().
		Subscribe(userID, gomock.Any()).
		Return(&profile.Subscription{Subject: userID}, nil)
	s.mockStore.EXPECT().
		FindByID(gomock.Any(), userID).
		DoAndReturn(func(any, uuid.UUID) (*profile.Profile, error) {
			close(entered)
			<-release
			return row, nil
		})
	s.mockStore.EXPECT().Unsubscribe(gomock.Any())
	s.mockProvider.EXPECT().InvalidateSession(gomock.Any()).Return(nil)

	// An external sign-in (say, a link callback in another tab) adopts the
	// session and starts fetching the profile.
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.sessionChange(sess)
	}()

	select {
	case <-entered:
	case <-time.After(time.Second):
		s.FailNow("profile fetch never started")
	}

	// The user signs out while the fetch is still in flight.
	s.Require().NoError(s.controller.SignOut(s.ctx))
	close(release)

	select {
	case <-done:
	case <-time.After(time.Second):
		s.FailNow("listener never returned")
	}

	snap := s.controller.Snapshot()
	s.Equal(StateUnauthenticated, snap.State)
	s.Nil(snap.Session)
	s.Nil(snap.Profile, "the late fetch result must be discarded")
}

// A second sign-in racing a slow first fetch: only the newest session's
// profile may land.
func (s *ControllerSuite) TestSlowFetchLosesToNewerSession() {
	s.initializeEmpty()

	aliceID := uuid.New()
	alice := s.newSession(aliceID, "alice@example.com")
	bobID := uuid.New()
	bob := s.newSession(bobID, "bob@example.com")
	bobRow := s.newProfile(bobID, "Bob")

	entered := make(chan struct{})
	release := make(chan struct{})

	s.mockStore.EXPECT().
		Subscribe(aliceID, gomock.Any()).
		Return(&profile.Subscription{Subject: aliceID}, nil)
	s.mockStore.EXPECT().
		FindByID(gomock.Any(), aliceID).
		DoAndReturn(func(any, uuid.UUID) (*profile.Profile, error) {
			close(entered)
			<-release
			return s.newProfile(aliceID, "Alice"), nil
		})
	s.mockStore.EXPECT().Unsubscribe(gomock.Any())
	s.mockProvider.EXPECT().
		SignInWithPassword(gomock.Any(), "bob@example.com", "secret").
		Return(bob, nil)
	s.mockStore.EXPECT().
		Subscribe(bobID, gomock.Any()).
		Return(&profile.Subscription{Subject: bobID}, nil)
	s.mockStore.EXPECT().FindByID(gomock.Any(), bobID).Return(bobRow, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.sessionChange(alice)
	}()

	select {
	case <-entered:
	case <-time.After(time.Second):
		s.FailNow("profile fetch never started")
	}

	_, err := s.controller.SignIn(s.ctx, "bob@example.com", "secret")
	s.Require().NoError(err)
	close(release)

	select {
	case <-done:
	case <-time.After(time.Second):
		s.FailNow("listener never returned")
	}

	snap := s.controller.Snapshot()
	s.Equal(StateAuthenticated, snap.State)
	s.Equal(bobID, snap.Session.UserID)
	s.Equal("Bob", snap.Profile.DisplayName)
}

// Two sign-ins racing each other through the operation path: the loser's
// profile fetch completes after the winner's adoption and must not be
// installed next to the winner's session. The guard generation is the one
// the adoption itself returned, so there is no window between adopting and
// capturing it for the second adoption to slip into.
func (s *ControllerSuite) TestConcurrentSignInsKeepSessionAndProfileCoherent() {
	s.initializeEmpty()

	aliceID := uuid.New()
	alice := s.newSession(aliceID, "alice@example.com")
	aliceRow := s.newProfile(aliceID, "Alice")
	bobID := uuid.New()
	bob := s.newSession(bobID, "bob@example.com")
	bobRow := s.newProfile(bobID, "Bob")

	entered := make(chan struct{})
	release := make(chan struct{})

	s.mockProvider.EXPECT().
		SignInWithPassword(gomock.Any(), "alice@example.com", "secret").
		Return(alice, nil)
	s.mockStore.EXPECT().
		Subscribe(aliceID, gomock.Any()).
		Return(&profile.Subscription{Subject: aliceID}, nil)
	s.mockStore.EXPECT().
		FindByID(gomock.Any(), aliceID).
		DoAndReturn(func(any, uuid.UUID) (*profile.Profile, error) {
			close(entered)
			<-release
			return aliceRow, nil
		})
	s.mockStore.EXPECT().Unsubscribe(gomock.Any())
	s.mockProvider.EXPECT().
		SignInWithPassword(gomock.Any(), "bob@example.com", "secret").
		Return(bob, nil)
	s.mockStore.EXPECT().
		Subscribe(bobID, gomock.Any()).
		Return(&profile.Subscription{Subject: bobID}, nil)
	s.mockStore.EXPECT().FindByID(gomock.Any(), bobID).Return(bobRow, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.controller.SignIn(s.ctx, "alice@example.com", "secret")
	}()

	select {
	case <-entered:
	case <-time.After(time.Second):
		s.FailNow("first profile fetch never started")
	}

	// Bob's sign-in adopts a newer session while Alice's row is still in
	// flight.
	_, err := s.controller.SignIn(s.ctx, "bob@example.com", "secret")
	s.Require().NoError(err)
	close(release)

	select {
	case <-done:
	case <-time.After(time.Second):
		s.FailNow("first sign-in never returned")
	}

	snap := s.controller.Snapshot()
	s.Equal(StateAuthenticated, snap.State)
	s.Equal(bobID, snap.Session.UserID)
	s.Equal(bobID, snap.Profile.ID, "the stale row must never land next to the newer session")
	s.Equal("Bob", snap.Profile.DisplayName)
}
