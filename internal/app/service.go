package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"crewsync/api/internal/assets"
	"crewsync/api/internal/assist"
	"crewsync/api/internal/auth"
	"crewsync/api/internal/authpw"
	"crewsync/api/internal/config"
	"crewsync/api/internal/email"
	"crewsync/api/internal/hierarchy"
	"crewsync/api/internal/policy"
	"crewsync/api/internal/scope"
	"crewsync/api/internal/search"
	"crewsync/api/internal/store"
	"crewsync/api/internal/sync"
	"crewsync/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	Org          string
	JTI          string
	ExpiresAt    time.Time
}

type RegisterOrganizationInput struct {
	OrganizationName string `json:"organizationName"`
	Name             string `json:"name"`
	Email            string `json:"email"`
	Password         string `json:"password"`
}

type AddUserInput struct {
	Name      string  `json:"name"`
	Email     string  `json:"email"`
	Password  string  `json:"password"`
	Role      string  `json:"role"`
	ManagerID *string `json:"managerId"`
}

type UpdateRoleInput struct {
	Role      string  `json:"role"`
	ManagerID *string `json:"managerId"`
}

type CreateTaskInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	AssignedTo  string `json:"assignedTo"`
	Points      int    `json:"points"`
}

type dataStore interface {
	Ping(ctx context.Context) error

	CreateOrganization(ctx context.Context, org store.Organization) error
	GetOrganization(ctx context.Context, id string) (store.Organization, error)
	DeleteOrganization(ctx context.Context, id string) error

	CreateUser(ctx context.Context, user store.User) error
	GetUserByID(ctx context.Context, id string) (store.User, error)
	ListUsersByOrg(ctx context.Context, organizationID string) ([]store.User, error)
	UpdateUserRole(ctx context.Context, id, role string, managerID *string) error
	UpdateUserAvatar(ctx context.Context, id, avatar string) error
	AddUserPoints(ctx context.Context, id string, points int) error
	DeleteUser(ctx context.Context, id string) error

	CreateTask(ctx context.Context, task store.Task) error
	GetTask(ctx context.Context, id string) (store.Task, error)
	ListTasksByOrg(ctx context.Context, organizationID string) ([]store.Task, error)
	CompleteTask(ctx context.Context, id string, completedAt time.Time) (bool, error)

	CreateTimeLog(ctx context.Context, timeLog store.TimeLog) error
	OpenTimeLog(ctx context.Context, userID, date string) (*store.TimeLog, error)
	CloseTimeLog(ctx context.Context, userID, date string, clockOut time.Time, location *store.LatLng) (bool, error)
	ListTimeLogsByOrg(ctx context.Context, organizationID string) ([]store.TimeLog, error)

	RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// RefreshStore holds refresh sessions. Backed by Redis in production
// with a Postgres fallback.
type RefreshStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type Service struct {
	cfg     config.Config
	store   dataStore
	refresh RefreshStore
	authpw  *authpw.Service
	email   *email.Service
	assets  *assets.Service
	assist  *assist.Service
	search  *search.Service
	hub     *sync.Hub
	events  sync.Publisher
	now     func() time.Time
}

func New(
	cfg config.Config,
	dataStore *store.PostgresStore,
	refresh RefreshStore,
	authSvc *authpw.Service,
	emailSvc *email.Service,
	assetsSvc *assets.Service,
	assistSvc *assist.Service,
	searchSvc *search.Service,
	hub *sync.Hub,
	events sync.Publisher,
) *Service {
	if assistSvc == nil {
		assistSvc = assist.NewService(assist.Config{})
	}
	return &Service{
		cfg:     cfg,
		store:   dataStore,
		refresh: refresh,
		authpw:  authSvc,
		email:   emailSvc,
		assets:  assetsSvc,
		assist:  assistSvc,
		search:  searchSvc,
		hub:     hub,
		events:  events,
		now:     time.Now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Hub exposes the event hub for per-connection sync controllers.
func (s *Service) Hub() *sync.Hub {
	return s.hub
}

// SyncStore exposes the organization-scoped read side for sync controllers.
func (s *Service) SyncStore() sync.Store {
	return s.store
}

func (s *Service) publish(evt sync.Event) {
	if s.events == nil {
		return
	}
	s.events.Publish(evt)
}

func (s *Service) publishChange(organizationID string, collection sync.Collection) {
	s.publish(sync.Event{OrganizationID: organizationID, Collection: collection})
}

// dayBucket is the local calendar date attendance logs are keyed by.
// It is fixed at clock-in; a shift crossing midnight closes under the
// day it started.
func (s *Service) dayBucket() string {
	return s.now().Format("2006-01-02")
}

// RegisterOrganization creates a new organization with its first admin
// user. The identity is written first; if the organization or profile
// write fails it is removed again so the email is not left claimed by
// an account that cannot sign in.
func (s *Service) RegisterOrganization(ctx context.Context, input RegisterOrganizationInput) (Session, error) {
	orgName := strings.TrimSpace(input.OrganizationName)
	if orgName == "" {
		return Session{}, errValidation("organizationName is required")
	}
	userName := strings.TrimSpace(input.Name)
	if userName == "" {
		return Session{}, errValidation("name is required")
	}

	identityID, err := s.authpw.Register(ctx, input.Email, input.Password)
	if err != nil {
		return Session{}, err
	}

	orgID := util.NewID("org")
	if err := s.store.CreateOrganization(ctx, store.Organization{ID: orgID, Name: orgName}); err != nil {
		s.rollbackIdentity(ctx, identityID)
		return Session{}, fmt.Errorf("create organization: %w", err)
	}

	admin := store.User{
		ID:             identityID,
		OrganizationID: orgID,
		Name:           userName,
		Email:          strings.ToLower(strings.TrimSpace(input.Email)),
		Role:           string(hierarchy.RoleAdmin),
		Avatar:         assets.DefaultAvatarURL(userName),
	}
	if err := s.store.CreateUser(ctx, admin); err != nil {
		if delErr := s.store.DeleteOrganization(ctx, orgID); delErr != nil {
			log.Printf("register rollback: delete organization %s: %v", orgID, delErr)
		}
		s.rollbackIdentity(ctx, identityID)
		return Session{}, fmt.Errorf("create admin user: %w", err)
	}

	if s.search != nil {
		s.search.IndexUser(search.UserRecord{
			ID: admin.ID, Name: admin.Name, Email: admin.Email,
			OrganizationID: orgID, Role: admin.Role,
		})
	}
	s.publishChange(orgID, sync.CollectionOrganization)
	s.publishChange(orgID, sync.CollectionUsers)

	return s.issueSession(ctx, admin)
}

func (s *Service) rollbackIdentity(ctx context.Context, identityID string) {
	if err := s.authpw.DeleteIdentity(ctx, identityID); err != nil {
		log.Printf("register rollback: delete identity %s: %v", identityID, err)
	}
}

func (s *Service) SignIn(ctx context.Context, emailAddr, password string) (Session, error) {
	identityID, err := s.authpw.SignIn(ctx, emailAddr, password)
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, identityID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	userID, err := s.refresh.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.refresh.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.Name,
		Role: user.Role,
		Org:  user.OrganizationID,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.refresh.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.Name,
		Role:         user.Role,
		Org:          user.OrganizationID,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Name,
		Role:      user.Role,
		Org:       user.OrganizationID,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// Logout revokes the session's tokens and broadcasts a sign-out so
// every live sync connection for this principal tears down.
func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.refresh.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	if session.UserID != "" {
		s.publish(sync.Event{OrganizationID: session.Org, SignedOutUserID: session.UserID})
	}
	return nil
}

func (s *Service) ChangePassword(ctx context.Context, session Session, currentPassword, newPassword string) error {
	return s.authpw.ChangePassword(ctx, session.UserID, currentPassword, newPassword)
}

// Snapshot returns the organization-scoped view for the principal.
func (s *Service) Snapshot(ctx context.Context, session Session) (scope.Snapshot, error) {
	principal, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return scope.Snapshot{}, err
	}
	org, err := s.store.GetOrganization(ctx, principal.OrganizationID)
	if err != nil {
		return scope.Snapshot{}, err
	}
	users, err := s.store.ListUsersByOrg(ctx, principal.OrganizationID)
	if err != nil {
		return scope.Snapshot{}, err
	}
	tasks, err := s.store.ListTasksByOrg(ctx, principal.OrganizationID)
	if err != nil {
		return scope.Snapshot{}, err
	}
	logs, err := s.store.ListTimeLogsByOrg(ctx, principal.OrganizationID)
	if err != nil {
		return scope.Snapshot{}, err
	}
	return scope.Project(&principal, []store.Organization{org}, users, tasks, logs), nil
}

// AddUser creates a user inside the principal's organization. Admin
// only. The new identity is rolled back if the profile write fails.
func (s *Service) AddUser(ctx context.Context, session Session, input AddUserInput) (store.User, error) {
	principal, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return store.User{}, err
	}
	if !policy.CanManageUsers(principal) {
		return store.User{}, errForbidden("only admins can manage users")
	}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return store.User{}, errValidation("name is required")
	}
	role := strings.ToUpper(strings.TrimSpace(input.Role))
	if !hierarchy.Valid(hierarchy.Role(role)) {
		return store.User{}, errValidation("invalid role")
	}

	users, err := s.store.ListUsersByOrg(ctx, principal.OrganizationID)
	if err != nil {
		return store.User{}, err
	}
	managerID, err := validateManager(role, input.ManagerID, users)
	if err != nil {
		return store.User{}, err
	}

	identityID, err := s.authpw.Register(ctx, input.Email, input.Password)
	if err != nil {
		return store.User{}, err
	}

	user := store.User{
		ID:             identityID,
		OrganizationID: principal.OrganizationID,
		Name:           name,
		Email:          strings.ToLower(strings.TrimSpace(input.Email)),
		Role:           role,
		ManagerID:      managerID,
		Avatar:         assets.DefaultAvatarURL(name),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		s.rollbackIdentity(ctx, identityID)
		return store.User{}, fmt.Errorf("create user: %w", err)
	}

	if s.email != nil && s.email.IsConfigured() {
		org, orgErr := s.store.GetOrganization(ctx, principal.OrganizationID)
		go func() {
			orgName := ""
			if orgErr == nil {
				orgName = org.Name
			}
			if sendErr := s.email.SendInvitationEmail(user.Email, email.InvitationData{
				AppName:          "CrewSync",
				UserName:         user.Name,
				OrganizationName: orgName,
				InviterName:      principal.Name,
				Role:             user.Role,
				SignInURL:        s.cfg.AppURL,
			}); sendErr != nil {
				log.Printf("invitation email to %s: %v", user.Email, sendErr)
			}
		}()
	}

	if s.search != nil {
		s.search.IndexUser(search.UserRecord{
			ID: user.ID, Name: user.Name, Email: user.Email,
			OrganizationID: user.OrganizationID, Role: user.Role,
		})
	}
	s.publishChange(principal.OrganizationID, sync.CollectionUsers)
	return user, nil
}

// validateManager checks that the requested manager exists in the
// organization and strictly outranks the role being assigned.
func validateManager(role string, managerID *string, orgUsers []store.User) (*string, error) {
	if managerID == nil || strings.TrimSpace(*managerID) == "" {
		return nil, nil
	}
	candidates := policy.CandidateManagersFor(role, orgUsers)
	for i := range candidates {
		if candidates[i].ID == *managerID {
			return managerID, nil
		}
	}
	return nil, errValidation("manager must outrank the assigned role")
}

// CandidateManagers returns the users in the principal's organization
// who may manage a holder of the given role.
func (s *Service) CandidateManagers(ctx context.Context, session Session, role string) ([]store.User, error) {
	role = strings.ToUpper(strings.TrimSpace(role))
	if !hierarchy.Valid(hierarchy.Role(role)) {
		return nil, errValidation("invalid role")
	}
	users, err := s.store.ListUsersByOrg(ctx, session.Org)
	if err != nil {
		return nil, err
	}
	return policy.CandidateManagersFor(role, users), nil
}

func (s *Service) UpdateUserRole(ctx context.Context, session Session, userID string, input UpdateRoleInput) (store.User, error) {
	principal, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return store.User{}, err
	}
	if !policy.CanManageUsers(principal) {
		return store.User{}, errForbidden("only admins can manage users")
	}

	target, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return store.User{}, err
	}
	if !scope.SameOrganization(principal, target.OrganizationID) {
		return store.User{}, sql.ErrNoRows
	}

	role := strings.ToUpper(strings.TrimSpace(input.Role))
	if !hierarchy.Valid(hierarchy.Role(role)) {
		return store.User{}, errValidation("invalid role")
	}
	users, err := s.store.ListUsersByOrg(ctx, principal.OrganizationID)
	if err != nil {
		return store.User{}, err
	}
	managerID, err := validateManager(role, input.ManagerID, users)
	if err != nil {
		return store.User{}, err
	}
	if managerID != nil && *managerID == target.ID {
		return store.User{}, errValidation("a user cannot manage themselves")
	}

	if err := s.store.UpdateUserRole(ctx, target.ID, role, managerID); err != nil {
		return store.User{}, err
	}
	updated, err := s.store.GetUserByID(ctx, target.ID)
	if err != nil {
		return store.User{}, err
	}

	if s.search != nil {
		s.search.IndexUser(search.UserRecord{
			ID: updated.ID, Name: updated.Name, Email: updated.Email,
			OrganizationID: updated.OrganizationID, Role: updated.Role,
		})
	}
	s.publishChange(principal.OrganizationID, sync.CollectionUsers)
	return updated, nil
}

// DeleteUser removes a user and their identity. The deleted user's
// live sessions are torn down through a sign-out event.
func (s *Service) DeleteUser(ctx context.Context, session Session, userID string) error {
	principal, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return err
	}
	if !policy.CanManageUsers(principal) {
		return errForbidden("only admins can manage users")
	}
	if userID == principal.ID {
		return errValidation("admins cannot delete their own account")
	}

	target, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if !scope.SameOrganization(principal, target.OrganizationID) {
		return sql.ErrNoRows
	}

	if err := s.store.DeleteUser(ctx, target.ID); err != nil {
		return err
	}

	if s.search != nil {
		s.search.DeleteUser(target.ID)
	}
	s.publish(sync.Event{OrganizationID: target.OrganizationID, SignedOutUserID: target.ID})
	s.publishChange(target.OrganizationID, sync.CollectionUsers)
	return nil
}

// UploadAvatar stores the image and points the principal's profile at it.
func (s *Service) UploadAvatar(ctx context.Context, session Session, data []byte, contentType string) (string, error) {
	if s.assets == nil {
		return "", domainError(http.StatusServiceUnavailable, "ASSETS_UNAVAILABLE", "Avatar storage is not configured", nil)
	}
	if len(data) == 0 {
		return "", errValidation("image data is required")
	}

	path := fmt.Sprintf("avatars/%s", session.UserID)
	url, err := s.assets.Upload(ctx, path, data, contentType)
	if err != nil {
		return "", fmt.Errorf("upload avatar: %w", err)
	}
	if err := s.store.UpdateUserAvatar(ctx, session.UserID, url); err != nil {
		return "", err
	}
	s.publishChange(session.Org, sync.CollectionUsers)
	return url, nil
}

// CreateTask assigns a task. The assigner must strictly outrank the
// assignee; the ALL sentinel requires at least one subordinate.
func (s *Service) CreateTask(ctx context.Context, session Session, input CreateTaskInput) (store.Task, error) {
	principal, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return store.Task{}, err
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.Task{}, errValidation("title is required")
	}
	if input.Points < 0 {
		return store.Task{}, errValidation("points must not be negative")
	}
	assignedTo := strings.TrimSpace(input.AssignedTo)
	if assignedTo == "" {
		return store.Task{}, errValidation("assignedTo is required")
	}

	users, err := s.store.ListUsersByOrg(ctx, principal.OrganizationID)
	if err != nil {
		return store.Task{}, err
	}

	if assignedTo == store.AssigneeAll {
		if !policy.CanAssignToAll(principal, users) {
			return store.Task{}, errForbidden("no subordinates to assign to")
		}
	} else {
		var target *store.User
		for i := range users {
			if users[i].ID == assignedTo {
				target = &users[i]
				break
			}
		}
		if target == nil {
			return store.Task{}, errValidation("assignee not found in organization")
		}
		if !policy.CanAssignTo(principal, *target) {
			return store.Task{}, errForbidden("tasks can only be assigned down the hierarchy")
		}
	}

	task := store.Task{
		ID:             util.NewID("tsk"),
		OrganizationID: principal.OrganizationID,
		Title:          title,
		Description:    strings.TrimSpace(input.Description),
		AssignedTo:     assignedTo,
		AssignedBy:     principal.ID,
		Points:         input.Points,
		Status:         store.TaskPending,
		CreatedAt:      s.now(),
	}
	if err := s.store.CreateTask(ctx, task); err != nil {
		return store.Task{}, err
	}

	if s.search != nil {
		s.search.IndexTask(search.TaskRecord{
			ID: task.ID, Title: task.Title, Description: task.Description,
			OrganizationID: task.OrganizationID, Status: task.Status,
		})
	}
	s.publishChange(principal.OrganizationID, sync.CollectionTasks)
	return task, nil
}

// CompleteTask marks a pending task completed and credits its points to
// the completer. Repeating it on a completed task is a no-op; the
// status write is conditional on the task still being pending, so
// concurrent completions credit at most once.
func (s *Service) CompleteTask(ctx context.Context, session Session, taskID string) (store.Task, error) {
	principal, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return store.Task{}, err
	}
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return store.Task{}, err
	}
	if !scope.SameOrganization(principal, task.OrganizationID) {
		return store.Task{}, sql.ErrNoRows
	}

	// A deleted assigner leaves assigned_by empty; the zero assigner
	// never outranks anyone, so orphaned ALL tasks stay completable
	// only through direct assignment.
	var assigner store.User
	if task.AssignedBy != "" {
		assigner, err = s.store.GetUserByID(ctx, task.AssignedBy)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return store.Task{}, err
		}
	}
	if !policy.CanCompleteTask(principal, task, assigner) {
		return store.Task{}, errForbidden("task is not assigned to you")
	}
	if task.Status == store.TaskCompleted {
		return task, nil
	}

	completedAt := s.now()
	changed, err := s.store.CompleteTask(ctx, task.ID, completedAt)
	if err != nil {
		return store.Task{}, err
	}
	if !changed {
		// Lost the race to another completer; their credit stands.
		return s.store.GetTask(ctx, task.ID)
	}

	// Credit only after the status write acknowledged the transition.
	if task.Points > 0 {
		if err := s.store.AddUserPoints(ctx, principal.ID, task.Points); err != nil {
			return store.Task{}, fmt.Errorf("credit points: %w", err)
		}
	}

	task.Status = store.TaskCompleted
	task.CompletedAt = &completedAt

	if s.search != nil {
		s.search.IndexTask(search.TaskRecord{
			ID: task.ID, Title: task.Title, Description: task.Description,
			OrganizationID: task.OrganizationID, Status: task.Status,
		})
	}
	s.publishChange(task.OrganizationID, sync.CollectionTasks)
	s.publishChange(task.OrganizationID, sync.CollectionUsers)
	return task, nil
}

// ClockIn opens an attendance log for today. At most one log per user
// and day may be open.
func (s *Service) ClockIn(ctx context.Context, session Session, location *store.LatLng) (store.TimeLog, error) {
	date := s.dayBucket()
	open, err := s.store.OpenTimeLog(ctx, session.UserID, date)
	if err != nil {
		return store.TimeLog{}, err
	}
	if open != nil {
		return store.TimeLog{}, errConflict("ALREADY_CLOCKED_IN", "You are already clocked in")
	}

	timeLog := store.TimeLog{
		ID:             util.NewID("tlg"),
		UserID:         session.UserID,
		OrganizationID: session.Org,
		ClockIn:        s.now(),
		LocationIn:     location,
		Date:           date,
	}
	if err := s.store.CreateTimeLog(ctx, timeLog); err != nil {
		// Two devices racing past the open-log check; the partial
		// unique index rejects the second insert.
		if errors.Is(err, store.ErrDuplicate) {
			return store.TimeLog{}, errConflict("ALREADY_CLOCKED_IN", "You are already clocked in")
		}
		return store.TimeLog{}, err
	}
	s.publishChange(session.Org, sync.CollectionLogs)
	return timeLog, nil
}

// ClockOut closes today's open log. The update is guarded on the log
// still being open, so a double clock-out cannot overwrite the first.
func (s *Service) ClockOut(ctx context.Context, session Session, location *store.LatLng) error {
	date := s.dayBucket()
	changed, err := s.store.CloseTimeLog(ctx, session.UserID, date, s.now(), location)
	if err != nil {
		return err
	}
	if !changed {
		return errConflict("NOT_CLOCKED_IN", "You are not clocked in")
	}
	s.publishChange(session.Org, sync.CollectionLogs)
	return nil
}

// DescribeTask drafts a task description. Always succeeds; degraded
// modes return canned text.
func (s *Service) DescribeTask(ctx context.Context, title, role string) string {
	return s.assist.DescribeTask(ctx, title, role)
}

// SuggestPoints proposes a point value for a task.
func (s *Service) SuggestPoints(ctx context.Context, title, difficulty string) int {
	return s.assist.SuggestPoints(ctx, title, difficulty)
}

// Search runs an organization-scoped full-text search.
func (s *Service) Search(ctx context.Context, session Session, q search.Query) search.Response {
	q.OrganizationID = session.Org
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}
