package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"secureattend/internal/auth"
	"secureattend/internal/dashboard"
	"secureattend/internal/notify"
	"secureattend/internal/queue"
	"secureattend/internal/roster"
)

const (
	testKey    = "handler-test-signing-key"
	testIssuer = "secureattend-test"
)

// fakeStore is an in-memory Store (and dashboard.Source).
type fakeStore struct {
	mu        sync.Mutex
	nextID    int64
	people    map[int64]roster.Person
	passwords map[int64][]byte
	events    []roster.Event
	anns      []roster.Announcement
}

func newFakeStore() *fakeStore {
	return &fakeStore{people: make(map[int64]roster.Person), passwords: make(map[int64][]byte)}
}

func (f *fakeStore) CreateUser(ctx context.Context, p roster.Person, password string) (roster.Person, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	p.ID = f.nextID
	if p.Department == "" {
		p.Department = "General"
	}
	p.CreatedAt = time.Now().UTC()
	f.people[p.ID] = p
	if password != "" {
		hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
		f.passwords[p.ID] = hash
	}
	return p, nil
}

func (f *fakeStore) GetUser(ctx context.Context, id int64) (roster.Person, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.people[id]
	if !ok {
		return roster.Person{}, roster.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (roster.Person, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.people {
		if p.Email != nil && *p.Email == email {
			return p, nil
		}
	}
	return roster.Person{}, roster.ErrNotFound
}

func (f *fakeStore) VerifyPassword(ctx context.Context, email, password string) (roster.Person, error) {
	p, err := f.GetUserByEmail(ctx, email)
	if err != nil {
		return roster.Person{}, err
	}
	f.mu.Lock()
	hash := f.passwords[p.ID]
	f.mu.Unlock()
	if bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil {
		return roster.Person{}, fmt.Errorf("invalid credentials")
	}
	return p, nil
}

func (f *fakeStore) ListUsers(ctx context.Context) ([]roster.Person, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]roster.Person, 0, len(f.people))
	for _, p := range f.people {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) UpdateUser(ctx context.Context, id int64, name, department string) (roster.Person, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.people[id]
	if !ok {
		return roster.Person{}, roster.ErrNotFound
	}
	if name != "" {
		p.Name = name
	}
	if department != "" {
		p.Department = department
	}
	f.people[id] = p
	return p, nil
}

func (f *fakeStore) DeleteUser(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.people[id]; !ok {
		return roster.ErrNotFound
	}
	delete(f.people, id)
	kept := f.events[:0]
	for _, evt := range f.events {
		if evt.UserID != id {
			kept = append(kept, evt)
		}
	}
	f.events = kept
	return nil
}

func (f *fakeStore) InsertEvent(ctx context.Context, evt roster.Event) (roster.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	evt.ID = int64(len(f.events) + 1)
	f.events = append(f.events, evt)
	return evt, nil
}

func (f *fakeStore) ListEvents(ctx context.Context, userID int64, limit, offset int) ([]roster.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []roster.Event
	for _, evt := range f.events {
		if userID == 0 || evt.UserID == userID {
			out = append(out, evt)
		}
	}
	return out, nil
}

func (f *fakeStore) ListAllEvents(ctx context.Context) ([]roster.Event, error) {
	return f.ListEvents(ctx, 0, 0, 0)
}

func (f *fakeStore) CreateAnnouncement(ctx context.Context, a roster.Announcement) (roster.Announcement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a.ID = int64(len(f.anns) + 1)
	a.CreatedAt = time.Now().UTC()
	f.anns = append(f.anns, a)
	return a, nil
}

func (f *fakeStore) ListAnnouncements(ctx context.Context, role roster.Role) ([]roster.Announcement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []roster.Announcement
	for _, a := range f.anns {
		if a.Audience == "" || a.Audience == string(role) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeStore) ResetAll(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.people = make(map[int64]roster.Person)
	f.events = nil
	return nil
}

type testEnv struct {
	store  *fakeStore
	router *gin.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := newFakeStore()
	dash := dashboard.NewService(store, 30, 75, func() time.Time {
		return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	})
	h := New(store, dash, nil, nil, queue.NewInMemory(16), notify.NewInMemory(), AuthConfig{
		Issuer:        testIssuer,
		SigningKey:    testKey,
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		ResetTokenTTL: time.Minute,
	})

	r := gin.New()
	h.Routes(r)
	return &testEnv{store: store, router: r}
}

func (e *testEnv) seedUser(t *testing.T, name, email string, role roster.Role, password string) roster.Person {
	t.Helper()
	p := roster.Person{Name: name, Role: role}
	if email != "" {
		p.Email = &email
	}
	created, err := e.store.CreateUser(context.Background(), p, password)
	require.NoError(t, err)
	return created
}

func (e *testEnv) token(t *testing.T, p roster.Person) string {
	t.Helper()
	pair, err := auth.Issue(p.ID, p.Role, testIssuer, testKey, time.Minute, time.Hour)
	require.NoError(t, err)
	return pair.AccessToken
}

func (e *testEnv) do(method, path, token string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, body)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewBuffer(data)
}

func multipartForm(t *testing.T, fields map[string]string, fileField, fileName string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if fileField != "" {
		part, err := w.CreateFormFile(fileField, fileName)
		require.NoError(t, err)
		_, err = part.Write([]byte("not-a-real-jpeg"))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "Admin", "admin@example.com", roster.RoleAdmin, "s3cret")

	w := env.do(http.MethodPost, "/v1/auth/login", "", jsonBody(t, gin.H{
		"email": "admin@example.com", "password": "s3cret",
	}), "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.AccessToken)

	w = env.do(http.MethodPost, "/v1/auth/login", "", jsonBody(t, gin.H{
		"email": "admin@example.com", "password": "wrong",
	}), "application/json")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(http.MethodGet, "/v1/users/", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRoleGate(t *testing.T) {
	env := newTestEnv(t)
	student := env.seedUser(t, "Stu", "stu@example.com", roster.RoleStudent, "pw")

	body, ct := multipartForm(t, map[string]string{"name": "New"}, "image", "face.jpg")
	w := env.do(http.MethodPost, "/v1/users/", env.token(t, student), body, ct)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRegisterUser(t *testing.T) {
	env := newTestEnv(t)
	admin := env.seedUser(t, "Admin", "admin@example.com", roster.RoleAdmin, "pw")

	body, ct := multipartForm(t, map[string]string{
		"name": "Asha", "department": "CSE", "email": "asha@example.com", "role": "student",
	}, "image", "face.jpg")
	w := env.do(http.MethodPost, "/v1/users/", env.token(t, admin), body, ct)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created roster.Person
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "Asha", created.Name)
	assert.Equal(t, roster.RoleStudent, created.Role)

	// Unknown roles are rejected, not silently accepted.
	body, ct = multipartForm(t, map[string]string{"name": "X", "role": "superuser"}, "image", "f.jpg")
	w = env.do(http.MethodPost, "/v1/users/", env.token(t, admin), body, ct)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Missing image is a validation error.
	body, ct = multipartForm(t, map[string]string{"name": "Y"}, "", "")
	w = env.do(http.MethodPost, "/v1/users/", env.token(t, admin), body, ct)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetUserByEmail(t *testing.T) {
	env := newTestEnv(t)
	admin := env.seedUser(t, "Admin", "admin@example.com", roster.RoleAdmin, "pw")
	token := env.token(t, admin)

	w := env.do(http.MethodGet, "/v1/users/by_email/?email=admin@example.com", token, nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodGet, "/v1/users/by_email/?email=missing@example.com", token, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(http.MethodGet, "/v1/users/by_email/", token, nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLogAttendanceAndList(t *testing.T) {
	env := newTestEnv(t)
	student := env.seedUser(t, "Stu", "stu@example.com", roster.RoleStudent, "pw")
	token := env.token(t, student)

	body, ct := multipartForm(t, map[string]string{"user_id": fmt.Sprint(student.ID)}, "", "")
	w := env.do(http.MethodPost, "/v1/attendance/", token, body, ct)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var evt roster.Event
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &evt))
	assert.Equal(t, student.ID, evt.UserID)

	w = env.do(http.MethodGet, fmt.Sprintf("/v1/attendance/?user_id=%d", student.ID), token, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Events []roster.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Events, 1)

	// Unknown person cannot be logged against.
	body, ct = multipartForm(t, map[string]string{"user_id": "9999"}, "", "")
	w = env.do(http.MethodPost, "/v1/attendance/", token, body, ct)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDashboardSummary(t *testing.T) {
	env := newTestEnv(t)
	admin := env.seedUser(t, "Admin", "admin@example.com", roster.RoleAdmin, "pw")
	s1 := env.seedUser(t, "A", "a@example.com", roster.RoleStudent, "pw")
	env.seedUser(t, "B", "b@example.com", roster.RoleStudent, "pw")
	token := env.token(t, admin)

	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 30; i++ {
		_, err := env.store.InsertEvent(context.Background(), roster.Event{
			UserID: s1.ID, Timestamp: now.Add(-time.Duration(i) * 24 * time.Hour),
		})
		require.NoError(t, err)
	}

	w := env.do(http.MethodGet, "/v1/dashboard/summary", token, nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var snap dashboard.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, 2, snap.Roster.TotalCount)
	assert.Equal(t, 50, snap.Roster.AvgRate)
	assert.Equal(t, 1, snap.Roster.AtRiskCount)

	// Invalid threshold surfaces as a caller error.
	w = env.do(http.MethodGet, "/v1/dashboard/summary?threshold=150", token, nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodGet, "/v1/dashboard/summary?period=-1", token, nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodGet, "/v1/dashboard/summary?role=superuser", token, nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUserSummary(t *testing.T) {
	env := newTestEnv(t)
	student := env.seedUser(t, "Stu", "stu@example.com", roster.RoleStudent, "pw")
	token := env.token(t, student)

	w := env.do(http.MethodGet, fmt.Sprintf("/v1/dashboard/users/%d/summary", student.ID), token, nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var sum roster.PersonSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sum))
	assert.Equal(t, 0, sum.Count)
	assert.Nil(t, sum.LastSeen)
}

func TestAnnouncements(t *testing.T) {
	env := newTestEnv(t)
	admin := env.seedUser(t, "Admin", "admin@example.com", roster.RoleAdmin, "pw")
	student := env.seedUser(t, "Stu", "stu@example.com", roster.RoleStudent, "pw")

	w := env.do(http.MethodPost, "/v1/announcements/", env.token(t, admin), jsonBody(t, gin.H{
		"title": "Exam schedule", "body": "See portal", "audience": "student",
	}), "application/json")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.do(http.MethodPost, "/v1/announcements/", env.token(t, admin), jsonBody(t, gin.H{
		"title": "Faculty meeting", "audience": "faculty",
	}), "application/json")
	require.Equal(t, http.StatusCreated, w.Code)

	// Students see only their audience.
	w = env.do(http.MethodGet, "/v1/announcements/", env.token(t, student), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var anns []roster.Announcement
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &anns))
	require.Len(t, anns, 1)
	assert.Equal(t, "Exam schedule", anns[0].Title)

	// Unknown audience is rejected.
	w = env.do(http.MethodPost, "/v1/announcements/", env.token(t, admin), jsonBody(t, gin.H{
		"title": "x", "audience": "everyone",
	}), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResetRequiresConfirmationToken(t *testing.T) {
	env := newTestEnv(t)
	admin := env.seedUser(t, "Admin", "admin@example.com", roster.RoleAdmin, "pw")
	env.seedUser(t, "Stu", "stu@example.com", roster.RoleStudent, "pw")
	token := env.token(t, admin)

	// Without a confirmation token the wipe is refused.
	w := env.do(http.MethodDelete, "/v1/admin/reset/", token, nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Made-up tokens are refused too.
	req := httptest.NewRequest(http.MethodDelete, "/v1/admin/reset/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Confirm-Token", "guessed")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// The issued token works exactly once.
	w2 := env.do(http.MethodPost, "/v1/admin/reset/confirmation", token, nil, "")
	require.Equal(t, http.StatusOK, w2.Code)
	var issued struct {
		ConfirmToken string `json:"confirm_token"`
	}
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &issued))
	require.NotEmpty(t, issued.ConfirmToken)

	req = httptest.NewRequest(http.MethodDelete, "/v1/admin/reset/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Confirm-Token", issued.ConfirmToken)
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	people, err := env.store.ListUsers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, people)

	// Replay of the consumed token fails.
	req = httptest.NewRequest(http.MethodDelete, "/v1/admin/reset/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Confirm-Token", issued.ConfirmToken)
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCheckinWithoutImageStorage(t *testing.T) {
	env := newTestEnv(t)
	student := env.seedUser(t, "Stu", "stu@example.com", roster.RoleStudent, "pw")

	body, ct := multipartForm(t, nil, "photo", "cam.jpg")
	w := env.do(http.MethodPost, "/v1/checkins", env.token(t, student), body, ct)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestDeleteUserCascades(t *testing.T) {
	env := newTestEnv(t)
	admin := env.seedUser(t, "Admin", "admin@example.com", roster.RoleAdmin, "pw")
	student := env.seedUser(t, "Stu", "stu@example.com", roster.RoleStudent, "pw")
	token := env.token(t, admin)

	_, err := env.store.InsertEvent(context.Background(), roster.Event{UserID: student.ID, Timestamp: time.Now()})
	require.NoError(t, err)

	w := env.do(http.MethodDelete, fmt.Sprintf("/v1/users/%d", student.ID), token, nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	events, err := env.store.ListAllEvents(context.Background())
	require.NoError(t, err)
	assert.Empty(t, events)

	w = env.do(http.MethodDelete, fmt.Sprintf("/v1/users/%d", student.ID), token, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
