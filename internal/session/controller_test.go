package session

import (
	"errors"

	"github.com/google/uuid"
	"go.uber.org/mock/gomock"

	"github.com/jasonw10105-ux/artflow-sub000/internal/auth"
	"github.com/jasonw10105-ux/artflow-sub000/internal/profile"
	dErrors "github.com/jasonw10105-ux/artflow-sub000/pkg/domainerrors"
)

func (s *ControllerSuite) TestSignUpSendsLink() {
	s.initializeEmpty()

	s.mockStore.EXPECT().
		FindByEmail(gomock.Any(), "new@example.com").
		Return(nil, profile.ErrNotFound)
	s.mockProvider.EXPECT().
		SignInWithLink(gomock.Any(), "new@example.com", "/signup/complete").
		Return(&auth.LinkConfirmation{Email: "new@example.com", Token: "link_abc"}, nil)

	conf, err := s.controller.SignUp(s.ctx, "new@example.com")
	s.Require().NoError(err)
	s.Equal("link_abc", conf.Token)

	snap := s.controller.Snapshot()
	s.Equal(StateUnauthenticated, snap.State, "sending a link must not create a session")
}

func (s *ControllerSuite) TestSignUpRejectsDuplicateAccount() {
	s.initializeEmpty()

	// An existing profile row short-circuits: no link is ever dispatched.
	existing := s.newProfile(uuid.New(), "Ann")
	s.mockStore.EXPECT().
		FindByEmail(gomock.Any(), "ann@example.com").
		Return(existing, nil)

	conf, err := s.controller.SignUp(s.ctx, "ann@example.com")
	s.Nil(conf)
	s.True(dErrors.HasCode(err, dErrors.CodeDuplicateAccount))
}

func (s *ControllerSuite) TestSignUpNormalizesEmailForDuplicateCheck() {
	s.initializeEmpty()

	// The lookup must use the same canonical form the account registry
	// keys by, so "Ann@Example.COM" cannot slip past the duplicate check.
	existing := s.newProfile(uuid.New(), "Ann")
	s.mockStore.EXPECT().
		FindByEmail(gomock.Any(), "ann@example.com").
		Return(existing, nil)

	conf, err := s.controller.SignUp(s.ctx, "  Ann@Example.COM ")
	s.Nil(conf)
	s.True(dErrors.HasCode(err, dErrors.CodeDuplicateAccount))
}

func (s *ControllerSuite) TestSignUpSurfacesLinkDispatchFailure() {
	s.initializeEmpty()

	s.mockStore.EXPECT().
		FindByEmail(gomock.Any(), "new@example.com").
		Return(nil, profile.ErrNotFound)
	s.mockProvider.EXPECT().
		SignInWithLink(gomock.Any(), "new@example.com", gomock.Any()).
		Return(nil, errors.New("smtp down"))

	_, err := s.controller.SignUp(s.ctx, "new@example.com")
	s.True(dErrors.HasCode(err, dErrors.CodeAuthService))
}

func (s *ControllerSuite) TestSignUpSurfacesLookupFailure() {
	s.initializeEmpty()

	s.mockStore.EXPECT().
		FindByEmail(gomock.Any(), "new@example.com").
		Return(nil, errors.New("connection reset"))

	_, err := s.controller.SignUp(s.ctx, "new@example.com")
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

func (s *ControllerSuite) TestCompleteSignUpCreatesProfile() {
	s.initializeEmpty()

	userID := uuid.New()
	sess := s.newSession(userID, "new@example.com")
	row := s.newProfile(userID, "New")

	s.mockProvider.EXPECT().
		RegisterPassword(gomock.Any(), "new@example.com", "hunter2-long").
		Return(sess, nil)
	s.mockStore.EXPECT().
		Subscribe(userID, gomock.Any()).
		Return(&profile.Subscription{Subject: userID}, nil)
	s.mockStore.EXPECT().
		Upsert(gomock.Any(), userID, gomock.Any()).
		DoAndReturn(func(_ any, _ uuid.UUID, fields profile.Fields) (*profile.Profile, error) {
			s.Require().NotNil(fields.Email)
			s.Equal("new@example.com", *fields.Email)
			s.Require().NotNil(fields.Category)
			s.Equal(profile.CategoryCollector, *fields.Category)
			s.Require().NotNil(fields.PasswordSet)
			s.True(*fields.PasswordSet)
			return row, nil
		})

	got, err := s.controller.CompleteSignUp(s.ctx, "new@example.com", "hunter2-long", profile.CategoryCollector, "bio text")
	s.Require().NoError(err)
	s.Equal(row, got)

	snap := s.controller.Snapshot()
	s.Equal(StateAuthenticated, snap.State)
	s.True(snap.ProfileLoaded)
}

func (s *ControllerSuite) TestCompleteSignUpIsRepeatable() {
	s.initializeEmpty()

	userID := uuid.New()
	first := s.newSession(userID, "new@example.com")
	second := s.newSession(userID, "new@example.com")
	firstRow := s.newProfile(userID, "New")
	firstRow.Bio = "first bio"
	secondRow := s.newProfile(userID, "New")
	secondRow.Bio = "second bio"

	upsert := func(row *profile.Profile) func(any, uuid.UUID, profile.Fields) (*profile.Profile, error) {
		return func(_ any, _ uuid.UUID, fields profile.Fields) (*profile.Profile, error) {
			s.Require().NotNil(fields.Bio)
			s.Equal(row.Bio, *fields.Bio)
			return row, nil
		}
	}

	gomock.InOrder(
		s.mockProvider.EXPECT().
			RegisterPassword(gomock.Any(), "new@example.com", "hunter2-long").
			Return(first, nil),
		s.mockStore.EXPECT().
			Subscribe(userID, gomock.Any()).
			Return(&profile.Subscription{Subject: userID}, nil),
		s.mockStore.EXPECT().
			Upsert(gomock.Any(), userID, gomock.Any()).
			DoAndReturn(upsert(firstRow)),
		// The retry adopts a fresh session for the same subject and
		// overwrites the same row.
		s.mockProvider.EXPECT().
			RegisterPassword(gomock.Any(), "new@example.com", "hunter2-long").
			Return(second, nil),
		s.mockStore.EXPECT().Unsubscribe(gomock.Any()),
		s.mockStore.EXPECT().
			Subscribe(userID, gomock.Any()).
			Return(&profile.Subscription{Subject: userID}, nil),
		s.mockStore.EXPECT().
			Upsert(gomock.Any(), userID, gomock.Any()).
			DoAndReturn(upsert(secondRow)),
	)

	_, err := s.controller.CompleteSignUp(s.ctx, "new@example.com", "hunter2-long", profile.CategoryCollector, "first bio")
	s.Require().NoError(err)
	_, err = s.controller.CompleteSignUp(s.ctx, "new@example.com", "hunter2-long", profile.CategoryCollector, "second bio")
	s.Require().NoError(err)

	// The second call's fields win; no duplicate identity appears.
	snap := s.controller.Snapshot()
	s.Equal(StateAuthenticated, snap.State)
	s.Equal("second bio", snap.Profile.Bio)
	s.Equal(userID, snap.Session.UserID)
}

func (s *ControllerSuite) TestCompleteSignUpRejectsInvalidCategory() {
	s.initializeEmpty()

	_, err := s.controller.CompleteSignUp(s.ctx, "new@example.com", "hunter2-long", profile.Category("curator"), "")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ControllerSuite) TestCompleteSignUpSurfacesCredentialError() {
	s.initializeEmpty()

	s.mockProvider.EXPECT().
		RegisterPassword(gomock.Any(), "new@example.com", "short").
		Return(nil, dErrors.New(dErrors.CodeCredentialError, "password too short"))

	_, err := s.controller.CompleteSignUp(s.ctx, "new@example.com", "short", profile.CategoryCreator, "")
	s.True(dErrors.HasCode(err, dErrors.CodeCredentialError))

	snap := s.controller.Snapshot()
	s.Equal(StateUnauthenticated, snap.State)
}

func (s *ControllerSuite) TestCompleteSignUpSurfacesPersistFailure() {
	s.initializeEmpty()

	userID := uuid.New()
	sess := s.newSession(userID, "new@example.com")

	s.mockProvider.EXPECT().
		RegisterPassword(gomock.Any(), "new@example.com", "hunter2-long").
		Return(sess, nil)
	s.mockStore.EXPECT().
		Subscribe(userID, gomock.Any()).
		Return(&profile.Subscription{Subject: userID}, nil)
	s.mockStore.EXPECT().
		Upsert(gomock.Any(), userID, gomock.Any()).
		Return(nil, errors.New("disk full"))

	_, err := s.controller.CompleteSignUp(s.ctx, "new@example.com", "hunter2-long", profile.CategoryCreator, "")
	s.True(dErrors.HasCode(err, dErrors.CodeProfilePersist))

	// The session was adopted before the write failed; the account exists
	// but its profile never loaded.
	snap := s.controller.Snapshot()
	s.Equal(StateAuthenticated, snap.State)
	s.False(snap.ProfileLoaded)
}

func (s *ControllerSuite) TestSignInLoadsProfile() {
	s.initializeEmpty()

	userID := uuid.New()
	s.signIn(s.newSession(userID, "ann@example.com"), s.newProfile(userID, "Ann"))

	snap := s.controller.Snapshot()
	s.Equal(StateAuthenticated, snap.State)
	s.True(snap.ProfileLoaded)
	s.Equal(userID, snap.Profile.ID)
	s.Equal("Ann", snap.Profile.DisplayName)
}

func (s *ControllerSuite) TestSignInSurfacesInvalidCredentials() {
	s.initializeEmpty()

	s.mockProvider.EXPECT().
		SignInWithPassword(gomock.Any(), "ann@example.com", "wrong").
		Return(nil, dErrors.New(dErrors.CodeInvalidCredentials, "invalid email or password"))

	_, err := s.controller.SignIn(s.ctx, "ann@example.com", "wrong")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidCredentials))

	snap := s.controller.Snapshot()
	s.Equal(StateUnauthenticated, snap.State)
	s.Nil(snap.Session)
}

func (s *ControllerSuite) TestSignInWithoutProfileRow() {
	s.initializeEmpty()

	userID := uuid.New()
	sess := s.newSession(userID, "ghost@example.com")

	s.mockProvider.EXPECT().
		SignInWithPassword(gomock.Any(), "ghost@example.com", "secret").
		Return(sess, nil)
	s.mockStore.EXPECT().
		Subscribe(userID, gomock.Any()).
		Return(&profile.Subscription{Subject: userID}, nil)
	s.mockStore.EXPECT().
		FindByID(gomock.Any(), userID).
		Return(nil, profile.ErrNotFound)

	_, err := s.controller.SignIn(s.ctx, "ghost@example.com", "secret")
	s.True(dErrors.HasCode(err, dErrors.CodeProfileNotFound))

	snap := s.controller.Snapshot()
	s.Equal(StateAuthenticated, snap.State)
	s.False(snap.ProfileLoaded)
}

func (s *ControllerSuite) TestSignOutClearsStateBeforeRemoteCall() {
	s.initializeEmpty()
	userID := uuid.New()
	s.signIn(s.newSession(userID, "ann@example.com"), s.newProfile(userID, "Ann"))

	s.mockStore.EXPECT().Unsubscribe(gomock.Any())
	s.mockProvider.EXPECT().
		InvalidateSession(gomock.Any()).
		DoAndReturn(func(any) error {
			// Local state is already gone when the remote call runs.
			snap := s.controller.Snapshot()
			s.Equal(StateUnauthenticated, snap.State)
			s.Nil(snap.Session)
			return nil
		})

	s.Require().NoError(s.controller.SignOut(s.ctx))
}

func (s *ControllerSuite) TestSignOutKeepsLocalClearOnRemoteFailure() {
	s.initializeEmpty()
	userID := uuid.New()
	s.signIn(s.newSession(userID, "ann@example.com"), s.newProfile(userID, "Ann"))

	s.mockStore.EXPECT().Unsubscribe(gomock.Any())
	s.mockProvider.EXPECT().
		InvalidateSession(gomock.Any()).
		Return(errors.New("gateway timeout"))

	err := s.controller.SignOut(s.ctx)
	s.True(dErrors.HasCode(err, dErrors.CodeAuthService))

	snap := s.controller.Snapshot()
	s.Equal(StateUnauthenticated, snap.State)
	s.Nil(snap.Session)
	s.Nil(snap.Profile)
}

func (s *ControllerSuite) TestSignOutWithoutSession() {
	s.initializeEmpty()

	s.mockProvider.EXPECT().InvalidateSession(gomock.Any()).Return(nil)
	s.Require().NoError(s.controller.SignOut(s.ctx))
}

func (s *ControllerSuite) TestUpdateProfileRequiresSession() {
	s.initializeEmpty()

	name := "Mallory"
	_, err := s.controller.UpdateProfile(s.ctx, profile.Fields{DisplayName: &name})
	s.True(dErrors.HasCode(err, dErrors.CodeNotAuthenticated))
}

func (s *ControllerSuite) TestUpdateProfileEchoesServerRow() {
	s.initializeEmpty()
	userID := uuid.New()
	s.signIn(s.newSession(userID, "ann@example.com"), s.newProfile(userID, "Ann"))

	// The store normalizes the name; the snapshot must reflect the
	// server-confirmed row, not the locally supplied fields.
	requested := "  Ann B.  "
	confirmed := s.newProfile(userID, "Ann B.")
	s.mockStore.EXPECT().
		Update(gomock.Any(), userID, gomock.Any()).
		DoAndReturn(func(_ any, _ uuid.UUID, fields profile.Fields) (*profile.Profile, error) {
			s.Require().NotNil(fields.DisplayName)
			s.Equal(requested, *fields.DisplayName)
			return confirmed, nil
		})

	got, err := s.controller.UpdateProfile(s.ctx, profile.Fields{DisplayName: &requested})
	s.Require().NoError(err)
	s.Equal("Ann B.", got.DisplayName)
	s.Equal("Ann B.", s.controller.Snapshot().Profile.DisplayName)
}

func (s *ControllerSuite) TestUpdateProfileSurfacesPersistFailure() {
	s.initializeEmpty()
	userID := uuid.New()
	s.signIn(s.newSession(userID, "ann@example.com"), s.newProfile(userID, "Ann"))

	name := "Ann B."
	s.mockStore.EXPECT().
		Update(gomock.Any(), userID, gomock.Any()).
		Return(nil, errors.New("serialization failure"))

	_, err := s.controller.UpdateProfile(s.ctx, profile.Fields{DisplayName: &name})
	s.True(dErrors.HasCode(err, dErrors.CodeProfilePersist))

	// The local row is untouched on failure.
	s.Equal("Ann", s.controller.Snapshot().Profile.DisplayName)
}
