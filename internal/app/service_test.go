package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	gosync "sync"
	"testing"
	"time"

	"crewsync/api/internal/assist"
	"crewsync/api/internal/authpw"
	"crewsync/api/internal/config"
	"crewsync/api/internal/store"
	"crewsync/api/internal/sync"
)

type fakeStore struct {
	createOrganizationFn func(context.Context, store.Organization) error
	getOrganizationFn    func(context.Context, string) (store.Organization, error)
	deleteOrganizationFn func(context.Context, string) error

	createIdentityFn func(context.Context, store.Identity) error
	getIdentityFn    func(context.Context, string) (store.Identity, error)
	deleteIdentityFn func(context.Context, string) error

	createUserFn       func(context.Context, store.User) error
	getUserByIDFn      func(context.Context, string) (store.User, error)
	listUsersByOrgFn   func(context.Context, string) ([]store.User, error)
	updateUserRoleFn   func(context.Context, string, string, *string) error
	updateUserAvatarFn func(context.Context, string, string) error
	addUserPointsFn    func(context.Context, string, int) error
	deleteUserFn       func(context.Context, string) error

	createTaskFn     func(context.Context, store.Task) error
	getTaskFn        func(context.Context, string) (store.Task, error)
	listTasksByOrgFn func(context.Context, string) ([]store.Task, error)
	completeTaskFn   func(context.Context, string, time.Time) (bool, error)

	createTimeLogFn     func(context.Context, store.TimeLog) error
	openTimeLogFn       func(context.Context, string, string) (*store.TimeLog, error)
	closeTimeLogFn      func(context.Context, string, string, time.Time, *store.LatLng) (bool, error)
	listTimeLogsByOrgFn func(context.Context, string) ([]store.TimeLog, error)
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) CreateOrganization(ctx context.Context, org store.Organization) error {
	if f.createOrganizationFn != nil {
		return f.createOrganizationFn(ctx, org)
	}
	return nil
}
func (f *fakeStore) GetOrganization(ctx context.Context, id string) (store.Organization, error) {
	if f.getOrganizationFn != nil {
		return f.getOrganizationFn(ctx, id)
	}
	return store.Organization{ID: id}, nil
}
func (f *fakeStore) DeleteOrganization(ctx context.Context, id string) error {
	if f.deleteOrganizationFn != nil {
		return f.deleteOrganizationFn(ctx, id)
	}
	return nil
}

func (f *fakeStore) CreateIdentity(ctx context.Context, identity store.Identity) error {
	if f.createIdentityFn != nil {
		return f.createIdentityFn(ctx, identity)
	}
	return nil
}
func (f *fakeStore) GetIdentityByEmail(context.Context, string) (store.Identity, error) {
	return store.Identity{}, sql.ErrNoRows
}
func (f *fakeStore) GetIdentityByID(ctx context.Context, id string) (store.Identity, error) {
	if f.getIdentityFn != nil {
		return f.getIdentityFn(ctx, id)
	}
	return store.Identity{}, sql.ErrNoRows
}
func (f *fakeStore) UpdateIdentityPassword(context.Context, string, string) error { return nil }
func (f *fakeStore) DeleteIdentity(ctx context.Context, id string) error {
	if f.deleteIdentityFn != nil {
		return f.deleteIdentityFn(ctx, id)
	}
	return nil
}

func (f *fakeStore) CreateUser(ctx context.Context, user store.User) error {
	if f.createUserFn != nil {
		return f.createUserFn(ctx, user)
	}
	return nil
}
func (f *fakeStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, id)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) ListUsersByOrg(ctx context.Context, organizationID string) ([]store.User, error) {
	if f.listUsersByOrgFn != nil {
		return f.listUsersByOrgFn(ctx, organizationID)
	}
	return nil, nil
}
func (f *fakeStore) UpdateUserRole(ctx context.Context, id, role string, managerID *string) error {
	if f.updateUserRoleFn != nil {
		return f.updateUserRoleFn(ctx, id, role, managerID)
	}
	return nil
}
func (f *fakeStore) UpdateUserAvatar(ctx context.Context, id, avatar string) error {
	if f.updateUserAvatarFn != nil {
		return f.updateUserAvatarFn(ctx, id, avatar)
	}
	return nil
}
func (f *fakeStore) AddUserPoints(ctx context.Context, id string, points int) error {
	if f.addUserPointsFn != nil {
		return f.addUserPointsFn(ctx, id, points)
	}
	return nil
}
func (f *fakeStore) DeleteUser(ctx context.Context, id string) error {
	if f.deleteUserFn != nil {
		return f.deleteUserFn(ctx, id)
	}
	return nil
}

func (f *fakeStore) CreateTask(ctx context.Context, task store.Task) error {
	if f.createTaskFn != nil {
		return f.createTaskFn(ctx, task)
	}
	return nil
}
func (f *fakeStore) GetTask(ctx context.Context, id string) (store.Task, error) {
	if f.getTaskFn != nil {
		return f.getTaskFn(ctx, id)
	}
	return store.Task{}, sql.ErrNoRows
}
func (f *fakeStore) ListTasksByOrg(ctx context.Context, organizationID string) ([]store.Task, error) {
	if f.listTasksByOrgFn != nil {
		return f.listTasksByOrgFn(ctx, organizationID)
	}
	return nil, nil
}
func (f *fakeStore) CompleteTask(ctx context.Context, id string, completedAt time.Time) (bool, error) {
	if f.completeTaskFn != nil {
		return f.completeTaskFn(ctx, id, completedAt)
	}
	return false, nil
}

func (f *fakeStore) CreateTimeLog(ctx context.Context, timeLog store.TimeLog) error {
	if f.createTimeLogFn != nil {
		return f.createTimeLogFn(ctx, timeLog)
	}
	return nil
}
func (f *fakeStore) OpenTimeLog(ctx context.Context, userID, date string) (*store.TimeLog, error) {
	if f.openTimeLogFn != nil {
		return f.openTimeLogFn(ctx, userID, date)
	}
	return nil, nil
}
func (f *fakeStore) CloseTimeLog(ctx context.Context, userID, date string, clockOut time.Time, location *store.LatLng) (bool, error) {
	if f.closeTimeLogFn != nil {
		return f.closeTimeLogFn(ctx, userID, date, clockOut, location)
	}
	return false, nil
}
func (f *fakeStore) ListTimeLogsByOrg(ctx context.Context, organizationID string) ([]store.TimeLog, error) {
	if f.listTimeLogsByOrgFn != nil {
		return f.listTimeLogsByOrgFn(ctx, organizationID)
	}
	return nil, nil
}

func (f *fakeStore) SaveRefreshSession(context.Context, string, string, time.Time) error { return nil }
func (f *fakeStore) LookupRefreshSession(context.Context, string) (string, error) {
	return "", sql.ErrNoRows
}
func (f *fakeStore) RevokeRefreshSession(context.Context, string) error          { return nil }
func (f *fakeStore) RevokeAccessToken(context.Context, string, time.Time) error  { return nil }
func (f *fakeStore) IsAccessTokenRevoked(context.Context, string) (bool, error)  { return false, nil }

type eventRecorder struct {
	mu     gosync.Mutex
	events []sync.Event
}

func (r *eventRecorder) Publish(evt sync.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *eventRecorder) all() []sync.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]sync.Event, len(r.events))
	copy(out, r.events)
	return out
}

type testStore interface {
	dataStore
	RefreshStore
	authpw.IdentityStore
}

func newTestService(fs testStore) (*Service, *eventRecorder) {
	rec := &eventRecorder{}
	return &Service{
		cfg: config.Config{
			JWTSecret:  "test-secret",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: time.Hour,
		},
		store:   fs,
		refresh: fs,
		authpw:  authpw.NewService(fs),
		assist:  assist.NewService(assist.Config{}),
		events:  rec,
		now:     func() time.Time { return time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC) },
	}, rec
}

func orgUser(id, org, role string) store.User {
	return store.User{ID: id, OrganizationID: org, Name: id, Email: id + "@acme.test", Role: role}
}

func TestCompleteTaskCreditsOnce(t *testing.T) {
	credited := 0
	status := store.TaskPending
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, id string) (store.User, error) {
			switch id {
			case "usr_eng":
				return orgUser("usr_eng", "org_a", "ENGINEER"), nil
			case "usr_lead":
				return orgUser("usr_lead", "org_a", "TEAM_LEAD"), nil
			}
			return store.User{}, sql.ErrNoRows
		},
		getTaskFn: func(context.Context, string) (store.Task, error) {
			return store.Task{
				ID: "tsk_1", OrganizationID: "org_a",
				AssignedTo: "usr_eng", AssignedBy: "usr_lead",
				Points: 25, Status: status,
			}, nil
		},
		completeTaskFn: func(context.Context, string, time.Time) (bool, error) {
			// Only the first conditional write observes PENDING.
			if status == store.TaskCompleted {
				return false, nil
			}
			status = store.TaskCompleted
			return true, nil
		},
		addUserPointsFn: func(_ context.Context, id string, points int) error {
			if id != "usr_eng" {
				t.Errorf("credited %s, want usr_eng", id)
			}
			credited += points
			return nil
		},
	}
	svc, rec := newTestService(fs)
	session := Session{UserID: "usr_eng", Org: "org_a"}

	task, err := svc.CompleteTask(context.Background(), session, "tsk_1")
	if err != nil {
		t.Fatalf("first complete: %v", err)
	}
	if task.Status != store.TaskCompleted || task.CompletedAt == nil {
		t.Fatalf("task not marked completed: %+v", task)
	}
	if credited != 25 {
		t.Fatalf("credited %d points, want 25", credited)
	}

	repeat, err := svc.CompleteTask(context.Background(), session, "tsk_1")
	if err != nil {
		t.Fatalf("repeat complete must be a no-op, got %v", err)
	}
	if repeat.Status != store.TaskCompleted {
		t.Fatalf("repeat complete returned %+v", repeat)
	}
	if credited != 25 {
		t.Fatalf("double credit: %d points after repeat completion", credited)
	}

	var taskEvents, userEvents int
	for _, evt := range rec.all() {
		if evt.Collection == sync.CollectionTasks {
			taskEvents++
		}
		if evt.Collection == sync.CollectionUsers {
			userEvents++
		}
	}
	if taskEvents != 1 || userEvents != 1 {
		t.Fatalf("events after single success: tasks=%d users=%d", taskEvents, userEvents)
	}
}

func TestCompleteTaskLostRaceDoesNotCredit(t *testing.T) {
	credited := 0
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, id string) (store.User, error) {
			switch id {
			case "usr_eng":
				return orgUser("usr_eng", "org_a", "ENGINEER"), nil
			case "usr_lead":
				return orgUser("usr_lead", "org_a", "TEAM_LEAD"), nil
			}
			return store.User{}, sql.ErrNoRows
		},
		getTaskFn: func(context.Context, string) (store.Task, error) {
			// The read still sees PENDING; another caller wins the write.
			return store.Task{
				ID: "tsk_1", OrganizationID: "org_a",
				AssignedTo: "usr_eng", AssignedBy: "usr_lead",
				Points: 25, Status: store.TaskPending,
			}, nil
		},
		completeTaskFn: func(context.Context, string, time.Time) (bool, error) {
			return false, nil
		},
		addUserPointsFn: func(_ context.Context, id string, points int) error {
			credited += points
			return nil
		},
	}
	svc, rec := newTestService(fs)

	if _, err := svc.CompleteTask(context.Background(), Session{UserID: "usr_eng", Org: "org_a"}, "tsk_1"); err != nil {
		t.Fatalf("lost race must be a no-op, got %v", err)
	}
	if credited != 0 {
		t.Fatalf("lost race credited %d points", credited)
	}
	if len(rec.all()) != 0 {
		t.Fatalf("lost race published events: %+v", rec.all())
	}
}

func TestCompleteTaskNotAssignee(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, id string) (store.User, error) {
			switch id {
			case "usr_other":
				return orgUser("usr_other", "org_a", "ENGINEER"), nil
			case "usr_lead":
				return orgUser("usr_lead", "org_a", "TEAM_LEAD"), nil
			}
			return store.User{}, sql.ErrNoRows
		},
		getTaskFn: func(context.Context, string) (store.Task, error) {
			return store.Task{
				ID: "tsk_1", OrganizationID: "org_a",
				AssignedTo: "usr_eng", AssignedBy: "usr_lead",
				Status: store.TaskPending,
			}, nil
		},
	}
	svc, _ := newTestService(fs)

	_, err := svc.CompleteTask(context.Background(), Session{UserID: "usr_other", Org: "org_a"}, "tsk_1")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 403 {
		t.Fatalf("got %v, want forbidden", err)
	}
}

func TestCompleteAllTaskBySubordinate(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, id string) (store.User, error) {
			switch id {
			case "usr_intern":
				return orgUser("usr_intern", "org_a", "INTERN"), nil
			case "usr_mgr":
				return orgUser("usr_mgr", "org_a", "MANAGER"), nil
			}
			return store.User{}, sql.ErrNoRows
		},
		getTaskFn: func(context.Context, string) (store.Task, error) {
			return store.Task{
				ID: "tsk_all", OrganizationID: "org_a",
				AssignedTo: store.AssigneeAll, AssignedBy: "usr_mgr",
				Points: 10, Status: store.TaskPending,
			}, nil
		},
		completeTaskFn: func(context.Context, string, time.Time) (bool, error) { return true, nil },
	}
	svc, _ := newTestService(fs)

	if _, err := svc.CompleteTask(context.Background(), Session{UserID: "usr_intern", Org: "org_a"}, "tsk_all"); err != nil {
		t.Fatalf("subordinate completing ALL task: %v", err)
	}
}

func TestCompleteTaskAfterAssignerDeleted(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, id string) (store.User, error) {
			if id == "" {
				t.Error("looked up an empty assigner id")
			}
			if id == "usr_eng" {
				return orgUser("usr_eng", "org_a", "ENGINEER"), nil
			}
			return store.User{}, sql.ErrNoRows
		},
		getTaskFn: func(context.Context, string) (store.Task, error) {
			// The assigner's account is gone; assigned_by nulled out.
			return store.Task{
				ID: "tsk_1", OrganizationID: "org_a",
				AssignedTo: "usr_eng",
				Points:     10, Status: store.TaskPending,
			}, nil
		},
		completeTaskFn: func(context.Context, string, time.Time) (bool, error) { return true, nil },
	}
	svc, _ := newTestService(fs)

	task, err := svc.CompleteTask(context.Background(), Session{UserID: "usr_eng", Org: "org_a"}, "tsk_1")
	if err != nil {
		t.Fatalf("direct assignee completing an orphaned task: %v", err)
	}
	if task.Status != store.TaskCompleted {
		t.Fatalf("task not completed: %+v", task)
	}
}

func TestCompleteOrphanedAllTask(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, id string) (store.User, error) {
			return orgUser("usr_eng", "org_a", "ENGINEER"), nil
		},
		getTaskFn: func(context.Context, string) (store.Task, error) {
			return store.Task{
				ID: "tsk_all", OrganizationID: "org_a",
				AssignedTo: store.AssigneeAll,
				Status:     store.TaskPending,
			}, nil
		},
	}
	svc, _ := newTestService(fs)

	_, err := svc.CompleteTask(context.Background(), Session{UserID: "usr_eng", Org: "org_a"}, "tsk_all")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 403 {
		t.Fatalf("got %v, want forbidden for ALL task with no assigner", err)
	}
}

func TestCompleteTaskCrossOrg(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, id string) (store.User, error) {
			return orgUser(id, "org_b", "ENGINEER"), nil
		},
		getTaskFn: func(context.Context, string) (store.Task, error) {
			return store.Task{ID: "tsk_1", OrganizationID: "org_a", AssignedTo: "usr_x", Status: store.TaskPending}, nil
		},
	}
	svc, _ := newTestService(fs)

	_, err := svc.CompleteTask(context.Background(), Session{UserID: "usr_x", Org: "org_b"}, "tsk_1")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("got %v, want not found for cross-org task", err)
	}
}

func TestCreateTaskRequiresOutranking(t *testing.T) {
	users := []store.User{
		orgUser("usr_lead", "org_a", "TEAM_LEAD"),
		orgUser("usr_peer", "org_a", "TEAM_LEAD"),
		orgUser("usr_eng", "org_a", "ENGINEER"),
	}
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, id string) (store.User, error) {
			for _, u := range users {
				if u.ID == id {
					return u, nil
				}
			}
			return store.User{}, sql.ErrNoRows
		},
		listUsersByOrgFn: func(context.Context, string) ([]store.User, error) { return users, nil },
	}
	svc, rec := newTestService(fs)
	session := Session{UserID: "usr_lead", Org: "org_a"}

	_, err := svc.CreateTask(context.Background(), session, CreateTaskInput{Title: "Review", AssignedTo: "usr_peer"})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 403 {
		t.Fatalf("peer assignment: got %v, want forbidden", err)
	}

	task, err := svc.CreateTask(context.Background(), session, CreateTaskInput{Title: "Review", AssignedTo: "usr_eng", Points: 5})
	if err != nil {
		t.Fatalf("downward assignment: %v", err)
	}
	if task.Status != store.TaskPending || task.AssignedBy != "usr_lead" {
		t.Fatalf("unexpected task: %+v", task)
	}

	events := rec.all()
	if len(events) != 1 || events[0].Collection != sync.CollectionTasks {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestCreateTaskAllNeedsSubordinates(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, id string) (store.User, error) {
			return orgUser("usr_intern", "org_a", "INTERN"), nil
		},
		listUsersByOrgFn: func(context.Context, string) ([]store.User, error) {
			return []store.User{
				orgUser("usr_intern", "org_a", "INTERN"),
				orgUser("usr_mgr", "org_a", "MANAGER"),
			}, nil
		},
	}
	svc, _ := newTestService(fs)

	_, err := svc.CreateTask(context.Background(), Session{UserID: "usr_intern", Org: "org_a"}, CreateTaskInput{
		Title: "Sweep", AssignedTo: store.AssigneeAll,
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 403 {
		t.Fatalf("got %v, want forbidden for ALL without subordinates", err)
	}
}

func TestClockInConflict(t *testing.T) {
	created := 0
	fs := &fakeStore{
		openTimeLogFn: func(context.Context, string, string) (*store.TimeLog, error) {
			if created > 0 {
				return &store.TimeLog{ID: "tlg_1"}, nil
			}
			return nil, nil
		},
		createTimeLogFn: func(_ context.Context, timeLog store.TimeLog) error {
			if timeLog.Date != "2025-06-02" {
				t.Errorf("day bucket %q, want 2025-06-02", timeLog.Date)
			}
			created++
			return nil
		},
	}
	svc, rec := newTestService(fs)
	session := Session{UserID: "usr_eng", Org: "org_a"}

	if _, err := svc.ClockIn(context.Background(), session, &store.LatLng{Lat: 40.4, Lng: -3.7}); err != nil {
		t.Fatalf("first clock-in: %v", err)
	}

	_, err := svc.ClockIn(context.Background(), session, nil)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "ALREADY_CLOCKED_IN" {
		t.Fatalf("second clock-in: got %v, want ALREADY_CLOCKED_IN", err)
	}
	if created != 1 {
		t.Fatalf("created %d logs, want 1", created)
	}

	events := rec.all()
	if len(events) != 1 || events[0].Collection != sync.CollectionLogs {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestClockInInsertRace(t *testing.T) {
	fs := &fakeStore{
		openTimeLogFn: func(context.Context, string, string) (*store.TimeLog, error) {
			// The other device's insert lands between this check and ours.
			return nil, nil
		},
		createTimeLogFn: func(context.Context, store.TimeLog) error {
			return fmt.Errorf("insert time log: %w", store.ErrDuplicate)
		},
	}
	svc, rec := newTestService(fs)

	_, err := svc.ClockIn(context.Background(), Session{UserID: "usr_eng", Org: "org_a"}, nil)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "ALREADY_CLOCKED_IN" {
		t.Fatalf("got %v, want ALREADY_CLOCKED_IN", err)
	}
	if len(rec.all()) != 0 {
		t.Fatalf("no events expected on rejected clock-in, got %+v", rec.all())
	}
}

func TestClockOutWithoutOpenLog(t *testing.T) {
	fs := &fakeStore{
		closeTimeLogFn: func(context.Context, string, string, time.Time, *store.LatLng) (bool, error) {
			return false, nil
		},
	}
	svc, rec := newTestService(fs)

	err := svc.ClockOut(context.Background(), Session{UserID: "usr_eng", Org: "org_a"}, nil)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "NOT_CLOCKED_IN" {
		t.Fatalf("got %v, want NOT_CLOCKED_IN", err)
	}
	if len(rec.all()) != 0 {
		t.Fatalf("no events expected on failed clock-out, got %+v", rec.all())
	}
}

func TestRegisterOrganizationRollback(t *testing.T) {
	identityDeleted := false
	orgDeleted := false
	fs := &fakeStore{
		createUserFn: func(context.Context, store.User) error {
			return errors.New("profile write failed")
		},
		deleteIdentityFn: func(context.Context, string) error {
			identityDeleted = true
			return nil
		},
		deleteOrganizationFn: func(context.Context, string) error {
			orgDeleted = true
			return nil
		},
	}
	svc, rec := newTestService(fs)

	_, err := svc.RegisterOrganization(context.Background(), RegisterOrganizationInput{
		OrganizationName: "Acme",
		Name:             "Ada",
		Email:            "ada@acme.test",
		Password:         "correct-horse",
	})
	if err == nil {
		t.Fatal("expected registration to fail")
	}
	if !identityDeleted {
		t.Fatal("identity not rolled back; email stays claimed")
	}
	if !orgDeleted {
		t.Fatal("organization not rolled back")
	}
	if len(rec.all()) != 0 {
		t.Fatalf("no events expected on failed registration, got %+v", rec.all())
	}
}

func TestRegisterOrganizationEmailInUse(t *testing.T) {
	fs := &fakeStore{
		createOrganizationFn: func(context.Context, store.Organization) error {
			t.Error("organization must not be created for a taken email")
			return nil
		},
		createUserFn: func(context.Context, store.User) error {
			t.Error("user must not be created for a taken email")
			return nil
		},
	}
	existing := store.Identity{ID: "idn_1", Email: "ada@acme.test", PasswordHash: "x"}
	svc, _ := newTestService(&fakeStoreWithIdentity{fakeStore: fs, identity: existing})

	_, err := svc.RegisterOrganization(context.Background(), RegisterOrganizationInput{
		OrganizationName: "Acme",
		Name:             "Ada",
		Email:            "ada@acme.test",
		Password:         "correct-horse",
	})
	if !errors.Is(err, authpw.ErrEmailInUse) {
		t.Fatalf("got %v, want ErrEmailInUse", err)
	}
}

type fakeStoreWithIdentity struct {
	*fakeStore
	identity store.Identity
}

func (f *fakeStoreWithIdentity) GetIdentityByEmail(_ context.Context, email string) (store.Identity, error) {
	if email == f.identity.Email {
		return f.identity, nil
	}
	return store.Identity{}, sql.ErrNoRows
}

func TestRegisterOrganizationIssuesAdminSession(t *testing.T) {
	var createdUser store.User
	fs := &fakeStore{
		createUserFn: func(_ context.Context, user store.User) error {
			createdUser = user
			return nil
		},
	}
	svc, _ := newTestService(fs)

	session, err := svc.RegisterOrganization(context.Background(), RegisterOrganizationInput{
		OrganizationName: "Acme",
		Name:             "Ada",
		Email:            "Ada@Acme.Test",
		Password:         "correct-horse",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if createdUser.Role != "ADMIN" {
		t.Fatalf("first user role %q, want ADMIN", createdUser.Role)
	}
	if createdUser.Email != "ada@acme.test" {
		t.Fatalf("email not normalized: %q", createdUser.Email)
	}
	if createdUser.Avatar == "" {
		t.Fatal("expected a default avatar")
	}
	if session.Token == "" || session.RefreshToken == "" {
		t.Fatal("expected a full session")
	}
	if session.Org != createdUser.OrganizationID {
		t.Fatalf("session org %q does not match created user org %q", session.Org, createdUser.OrganizationID)
	}
}

func TestAddUserAdminOnly(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, id string) (store.User, error) {
			return orgUser("usr_mgr", "org_a", "MANAGER"), nil
		},
	}
	svc, _ := newTestService(fs)

	_, err := svc.AddUser(context.Background(), Session{UserID: "usr_mgr", Org: "org_a"}, AddUserInput{
		Name: "New", Email: "new@acme.test", Password: "longenough", Role: "INTERN",
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 403 {
		t.Fatalf("got %v, want forbidden for non-admin", err)
	}
}

func TestAddUserManagerMustOutrank(t *testing.T) {
	users := []store.User{
		orgUser("usr_admin", "org_a", "ADMIN"),
		orgUser("usr_tech", "org_a", "TECHNICIAN"),
	}
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, id string) (store.User, error) {
			return users[0], nil
		},
		listUsersByOrgFn: func(context.Context, string) ([]store.User, error) { return users, nil },
	}
	svc, _ := newTestService(fs)
	techID := "usr_tech"

	_, err := svc.AddUser(context.Background(), Session{UserID: "usr_admin", Org: "org_a"}, AddUserInput{
		Name: "New", Email: "new@acme.test", Password: "longenough",
		Role: "ENGINEER", ManagerID: &techID,
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("got %v, want validation error for underranked manager", err)
	}
}

func TestAddUserRollsBackIdentity(t *testing.T) {
	identityDeleted := false
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, id string) (store.User, error) {
			return orgUser("usr_admin", "org_a", "ADMIN"), nil
		},
		createUserFn: func(context.Context, store.User) error {
			return errors.New("profile write failed")
		},
		deleteIdentityFn: func(context.Context, string) error {
			identityDeleted = true
			return nil
		},
	}
	svc, _ := newTestService(fs)

	_, err := svc.AddUser(context.Background(), Session{UserID: "usr_admin", Org: "org_a"}, AddUserInput{
		Name: "New", Email: "new@acme.test", Password: "longenough", Role: "INTERN",
	})
	if err == nil {
		t.Fatal("expected add user to fail")
	}
	if !identityDeleted {
		t.Fatal("identity not rolled back")
	}
}

func TestDeleteUserPropagatesSignOut(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, id string) (store.User, error) {
			switch id {
			case "usr_admin":
				return orgUser("usr_admin", "org_a", "ADMIN"), nil
			case "usr_gone":
				return orgUser("usr_gone", "org_a", "ENGINEER"), nil
			}
			return store.User{}, sql.ErrNoRows
		},
	}
	svc, rec := newTestService(fs)

	if err := svc.DeleteUser(context.Background(), Session{UserID: "usr_admin", Org: "org_a"}, "usr_gone"); err != nil {
		t.Fatalf("delete user: %v", err)
	}

	var sawSignOut, sawUsers bool
	for _, evt := range rec.all() {
		if evt.SignedOutUserID == "usr_gone" {
			sawSignOut = true
		}
		if evt.Collection == sync.CollectionUsers {
			sawUsers = true
		}
	}
	if !sawSignOut {
		t.Fatal("deleted user's sessions not signed out")
	}
	if !sawUsers {
		t.Fatal("users collection change not published")
	}
}

func TestDeleteUserSelf(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, id string) (store.User, error) {
			return orgUser("usr_admin", "org_a", "ADMIN"), nil
		},
	}
	svc, _ := newTestService(fs)

	err := svc.DeleteUser(context.Background(), Session{UserID: "usr_admin", Org: "org_a"}, "usr_admin")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("got %v, want validation error for self-delete", err)
	}
}

func TestUpdateUserRoleCrossOrg(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, id string) (store.User, error) {
			if id == "usr_admin" {
				return orgUser("usr_admin", "org_a", "ADMIN"), nil
			}
			return orgUser(id, "org_b", "ENGINEER"), nil
		},
	}
	svc, _ := newTestService(fs)

	_, err := svc.UpdateUserRole(context.Background(), Session{UserID: "usr_admin", Org: "org_a"}, "usr_foreign", UpdateRoleInput{Role: "INTERN"})
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("got %v, want not found for cross-org target", err)
	}
}

func TestLogoutPublishesSignOut(t *testing.T) {
	fs := &fakeStore{}
	svc, rec := newTestService(fs)
	session := Session{UserID: "usr_eng", Org: "org_a", JTI: "jti_1", ExpiresAt: time.Now().Add(time.Minute)}

	if err := svc.Logout(context.Background(), session, "some-refresh-token"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	events := rec.all()
	if len(events) != 1 || events[0].SignedOutUserID != "usr_eng" || events[0].OrganizationID != "org_a" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestSnapshotScopedToOrganization(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, id string) (store.User, error) {
			return orgUser("usr_eng", "org_a", "ENGINEER"), nil
		},
		getOrganizationFn: func(_ context.Context, id string) (store.Organization, error) {
			return store.Organization{ID: id, Name: "Acme"}, nil
		},
		listUsersByOrgFn: func(_ context.Context, organizationID string) ([]store.User, error) {
			if organizationID != "org_a" {
				t.Errorf("queried org %q, want org_a", organizationID)
			}
			return []store.User{orgUser("usr_eng", "org_a", "ENGINEER")}, nil
		},
		listTasksByOrgFn: func(context.Context, string) ([]store.Task, error) {
			return []store.Task{{ID: "tsk_1", OrganizationID: "org_a"}}, nil
		},
		listTimeLogsByOrgFn: func(context.Context, string) ([]store.TimeLog, error) {
			return []store.TimeLog{{ID: "tlg_1", OrganizationID: "org_a", UserID: "usr_eng"}}, nil
		},
	}
	svc, _ := newTestService(fs)

	snap, err := svc.Snapshot(context.Background(), Session{UserID: "usr_eng", Org: "org_a"})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Organization == nil || snap.Organization.ID != "org_a" {
		t.Fatalf("unexpected organization: %+v", snap.Organization)
	}
	if len(snap.Users) != 1 || len(snap.Tasks) != 1 || len(snap.Logs) != 1 {
		t.Fatalf("unexpected snapshot sizes: %d users, %d tasks, %d logs", len(snap.Users), len(snap.Tasks), len(snap.Logs))
	}
}
