package handler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/portalhq/portal/internal/auth"
	"github.com/portalhq/portal/internal/model"
	"github.com/portalhq/portal/internal/session"
	"github.com/portalhq/portal/internal/store"
)

// In-memory fakes standing in for the Mongo and Redis stores. They return the
// same sentinel errors as the real implementations so handler error mapping is
// exercised for real.

func acctKey(email, app string) string { return email + "|" + app }

type fakeAccounts struct {
	mu       sync.Mutex
	accounts map[string]*model.Account
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{accounts: make(map[string]*model.Account)}
}

func (f *fakeAccounts) CreateAccount(_ context.Context, acct *model.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := acctKey(acct.Email, acct.App)
	if _, ok := f.accounts[key]; ok {
		return store.ErrEmailExists
	}
	cp := *acct
	f.accounts[key] = &cp
	return nil
}

func (f *fakeAccounts) GetAccount(_ context.Context, email, app string) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if acct, ok := f.accounts[acctKey(email, app)]; ok {
		cp := *acct
		return &cp, nil
	}
	return nil, store.ErrAccountNotFound
}

func (f *fakeAccounts) AccountsByEmail(_ context.Context, email string) ([]*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Account
	for _, acct := range f.accounts {
		if acct.Email == email {
			cp := *acct
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeAccounts) AccountsByApp(_ context.Context, app string) ([]*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Account
	for _, acct := range f.accounts {
		if acct.App == app {
			cp := *acct
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeAccounts) UpdatePassword(_ context.Context, email, passwordHash string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, acct := range f.accounts {
		if acct.Email == email {
			acct.PasswordHash = passwordHash
			n++
		}
	}
	return n, nil
}

func (f *fakeAccounts) UpdateRole(_ context.Context, email, app, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct, ok := f.accounts[acctKey(email, app)]
	if !ok {
		return store.ErrAccountNotFound
	}
	acct.Role = role
	return nil
}

func (f *fakeAccounts) DeleteAccount(_ context.Context, email, app string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := acctKey(email, app)
	if _, ok := f.accounts[key]; !ok {
		return store.ErrAccountNotFound
	}
	delete(f.accounts, key)
	return nil
}

func (f *fakeAccounts) DeleteAccountsByApp(_ context.Context, app string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for key, acct := range f.accounts {
		if acct.App == app {
			delete(f.accounts, key)
			n++
		}
	}
	return n, nil
}

func (f *fakeAccounts) CountAccounts(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.accounts)), nil
}

type fakeApps struct {
	mu   sync.Mutex
	apps map[string]*model.App

	// docs maps "app|collection|userID" to the merged document fields,
	// mirroring what the tenant databases would hold.
	docs           map[string]map[string]any
	droppedTenants []string
}

func newFakeApps() *fakeApps {
	return &fakeApps{
		apps: make(map[string]*model.App),
		docs: make(map[string]map[string]any),
	}
}

func docKey(app, collection, userID string) string {
	return app + "|" + collection + "|" + userID
}

func (f *fakeApps) CreateApp(_ context.Context, app *model.App) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.apps[app.Name]; ok {
		return store.ErrAppExists
	}
	cp := *app
	cp.Collections = append([]string{}, app.Collections...)
	f.apps[app.Name] = &cp
	return nil
}

func (f *fakeApps) GetApp(_ context.Context, name string) (*model.App, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	app, ok := f.apps[name]
	if !ok {
		return nil, store.ErrAppNotFound
	}
	cp := *app
	cp.Collections = append([]string{}, app.Collections...)
	return &cp, nil
}

func (f *fakeApps) ListApps(_ context.Context) ([]*model.App, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.App
	for _, app := range f.apps {
		cp := *app
		cp.Collections = append([]string{}, app.Collections...)
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeApps) DeleteApp(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.apps[name]; !ok {
		return store.ErrAppNotFound
	}
	delete(f.apps, name)
	return nil
}

func (f *fakeApps) SetOwner(_ context.Context, name, owner string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	app, ok := f.apps[name]
	if !ok {
		return store.ErrAppNotFound
	}
	app.Owner = owner
	return nil
}

func (f *fakeApps) AddCollection(_ context.Context, appName, collection string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	app, ok := f.apps[appName]
	if !ok {
		return store.ErrAppNotFound
	}
	if app.HasCollection(collection) {
		return store.ErrCollectionExists
	}
	app.Collections = append(app.Collections, collection)
	return nil
}

func (f *fakeApps) RemoveCollection(_ context.Context, appName, collection string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	app, ok := f.apps[appName]
	if !ok {
		return store.ErrAppNotFound
	}
	for i, c := range app.Collections {
		if c == collection {
			app.Collections = append(app.Collections[:i], app.Collections[i+1:]...)
			for key := range f.docs {
				if strings.HasPrefix(key, appName+"|"+collection+"|") {
					delete(f.docs, key)
				}
			}
			return nil
		}
	}
	return store.ErrCollectionNotFound
}

func (f *fakeApps) DropTenant(_ context.Context, appName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.droppedTenants = append(f.droppedTenants, appName)
	for key := range f.docs {
		if strings.HasPrefix(key, appName+"|") {
			delete(f.docs, key)
		}
	}
	return nil
}

func (f *fakeApps) SeedMember(_ context.Context, appName string, collections []string, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range collections {
		f.docs[docKey(appName, c, email)] = map[string]any{"userId": email}
	}
	return nil
}

func (f *fakeApps) SeedCollection(_ context.Context, appName, collection string, emails []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, email := range emails {
		f.docs[docKey(appName, collection, email)] = map[string]any{"userId": email}
	}
	return nil
}

func (f *fakeApps) UpsertObject(_ context.Context, appName, collection, userID string, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := docKey(appName, collection, userID)
	doc, ok := f.docs[key]
	if !ok {
		doc = map[string]any{"userId": userID}
		f.docs[key] = doc
	}
	for k, v := range fields {
		if k == "userId" || k == "_id" {
			continue
		}
		doc[k] = v
	}
	return nil
}

func (f *fakeApps) PurgeMemberDocs(_ context.Context, appName string, collections []string, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range collections {
		delete(f.docs, docKey(appName, c, email))
	}
	return nil
}

func (f *fakeApps) doc(app, collection, userID string) (map[string]any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[docKey(app, collection, userID)]
	return doc, ok
}

type fakeVerifications struct {
	mu      sync.Mutex
	records map[string]*model.Verification
}

func newFakeVerifications() *fakeVerifications {
	return &fakeVerifications{records: make(map[string]*model.Verification)}
}

func (f *fakeVerifications) PutVerification(_ context.Context, rec *model.Verification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *rec
	f.records[rec.Email] = &cp
	return nil
}

func (f *fakeVerifications) GetVerification(_ context.Context, email string) (*model.Verification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[email]
	if !ok {
		return nil, store.ErrVerificationNotFound
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeVerifications) DeleteVerification(_ context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, email)
	return nil
}

type fakeSessions struct {
	mu       sync.Mutex
	sessions map[string]*model.Session
	counter  int
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: make(map[string]*model.Session)}
}

func (f *fakeSessions) Create(_ context.Context, id model.Identity) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counter++
	sess := &model.Session{
		Token:     fmt.Sprintf("token-%d", f.counter),
		Email:     id.Email,
		App:       id.App,
		Role:      id.Role,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	f.sessions[sess.Token] = sess
	return sess, nil
}

func (f *fakeSessions) Get(_ context.Context, token string) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[token]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return sess, nil
}

func (f *fakeSessions) Delete(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, token)
	return nil
}

type sentMail struct {
	To   string
	Code string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (f *fakeMailer) SendCode(_ context.Context, to, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMail{To: to, Code: code})
	return nil
}

func (f *fakeMailer) last(t *testing.T) sentMail {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatal("no mail was sent")
	}
	return f.sent[len(f.sent)-1]
}

const (
	testAdminEmail    = "admin@portal.local"
	testAdminPassword = "root-swordfish"
	memberPassword    = "member-pass-1"
)

// Password hashing is deliberately slow; hash the fixed test passwords once.
var (
	hashOnce   sync.Once
	adminHash  string
	memberHash string
)

func testHashes(t *testing.T) (admin, member string) {
	t.Helper()
	hashOnce.Do(func() {
		var err error
		if adminHash, err = auth.HashPassword(testAdminPassword); err != nil {
			panic(err)
		}
		if memberHash, err = auth.HashPassword(memberPassword); err != nil {
			panic(err)
		}
	})
	return adminHash, memberHash
}

// env bundles a handler with its fakes. The distinguished admin account is
// pre-seeded the way main does at startup.
type env struct {
	h             *Handler
	accounts      *fakeAccounts
	apps          *fakeApps
	verifications *fakeVerifications
	sessions      *fakeSessions
	mailer        *fakeMailer
}

func newEnv(t *testing.T) *env {
	t.Helper()

	admin, _ := testHashes(t)

	e := &env{
		accounts:      newFakeAccounts(),
		apps:          newFakeApps(),
		verifications: newFakeVerifications(),
		sessions:      newFakeSessions(),
		mailer:        &fakeMailer{},
	}

	e.accounts.accounts[acctKey(testAdminEmail, "")] = &model.Account{
		ID:           "admin",
		Email:        testAdminEmail,
		App:          "",
		Role:         model.RoleAdmin,
		PasswordHash: admin,
		CreatedAt:    time.Now(),
	}

	e.h = New(Config{
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		Accounts:        e.accounts,
		Apps:            e.apps,
		Verifications:   e.verifications,
		Sessions:        e.sessions,
		Mailer:          e.mailer,
		AdminEmail:      testAdminEmail,
		VerificationTTL: 600 * time.Second,
	})

	return e
}

// addApp registers an app directly in the fake store.
func (e *env) addApp(name, owner string, collections ...string) {
	if collections == nil {
		collections = []string{}
	}
	e.apps.apps[name] = &model.App{
		ID:          "app-" + name,
		Name:        name,
		Owner:       owner,
		Collections: collections,
		CreatedAt:   time.Now(),
	}
}

// addMember registers an account directly in the fake store.
func (e *env) addMember(t *testing.T, email, app, role string) {
	t.Helper()
	_, member := testHashes(t)
	e.accounts.accounts[acctKey(email, app)] = &model.Account{
		ID:           "acct-" + email + "-" + app,
		Email:        email,
		App:          app,
		Role:         role,
		PasswordHash: member,
		CreatedAt:    time.Now(),
	}
}

// formReq builds a form-encoded request, optionally authenticated as id.
func formReq(method, target string, form url.Values, id *model.Identity) *http.Request {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if id != nil {
		req = req.WithContext(auth.ContextWithIdentity(req.Context(), *id))
	}
	return req
}

func do(h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func wantStatus(t *testing.T, rec *httptest.ResponseRecorder, status int) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
}

func wantDetail(t *testing.T, rec *httptest.ResponseRecorder, status int, detail string) {
	t.Helper()
	wantStatus(t, rec, status)
	if !strings.Contains(rec.Body.String(), detail) {
		t.Fatalf("expected detail %q in body: %s", detail, rec.Body.String())
	}
}

func wantMessage(t *testing.T, rec *httptest.ResponseRecorder, message string) {
	t.Helper()
	wantStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), message) {
		t.Fatalf("expected message %q in body: %s", message, rec.Body.String())
	}
}

var (
	rootID = model.Identity{Email: testAdminEmail, App: "", Role: model.RoleAdmin}
)

func devID(email, app string) *model.Identity {
	return &model.Identity{Email: email, App: app, Role: model.RoleDeveloper}
}

func userID(email, app string) *model.Identity {
	return &model.Identity{Email: email, App: app, Role: model.RoleUser}
}
