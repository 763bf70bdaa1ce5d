package main

import (
	"html/template"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/elmwood/oidcop/core"
	"github.com/elmwood/oidcop/ticket"
)

const sessionCookie = "demo-session"

type demoUser struct {
	passwordHash []byte
	email        string
	name         string
}

type demoServer struct {
	oidc   *core.Server
	logger logrus.FieldLogger
	reg    *prometheus.Registry

	users map[string]*demoUser

	mu       sync.Mutex
	sessions map[string]string // session id -> username
}

func newDemoServer(oidc *core.Server, logger logrus.FieldLogger, reg *prometheus.Registry) *demoServer {
	return &demoServer{
		oidc:   oidc,
		logger: logger,
		reg:    reg,
		users: map[string]*demoUser{
			"alice": {
				passwordHash: mustHash("password"),
				email:        "alice@example.com",
				name:         "Alice Example",
			},
		},
		sessions: map[string]string{},
	}
}

const loginPage = `<!DOCTYPE html>
<html>
	<head>
		<meta charset="UTF-8">
		<title>Sign in</title>
	</head>
	<body>
		<h1>Sign in</h1>
		<form action="/login" method="POST">
			<input type="hidden" name="unique_id" value="{{ .UniqueID }}">
			<label>Username <input type="text" name="username"></label>
			<label>Password <input type="password" name="password"></label>
			<input type="submit" value="Sign in">
		</form>
	</body>
</html>`

var loginTmpl = template.Must(template.New("loginPage").Parse(loginPage))

func (s *demoServer) router() http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))
	r.HandleFunc(core.DefaultAuthorizationEndpointPath, s.authorize)
	r.HandleFunc(core.DefaultLogoutEndpointPath, s.logout)
	r.HandleFunc("/login", s.login).Methods(http.MethodPost)
	return r
}

// authorize receives requests the provider has already validated. A user
// with a live session is signed in immediately; everyone else gets the
// login form, which continues the flow by unique_id.
func (s *demoServer) authorize(w http.ResponseWriter, r *http.Request) {
	pending := core.PendingAuthorization(r)
	if pending == nil {
		http.NotFound(w, r)
		return
	}

	if user := s.sessionUser(r); user != nil {
		if err := s.oidc.SignIn(w, r, s.userTicket(user)); err != nil {
			s.logger.WithError(err).Error("sign-in failed")
		}
		return
	}

	if err := loginTmpl.Execute(w, map[string]string{"UniqueID": pending.UniqueID}); err != nil {
		s.logger.WithError(err).Error("failed to render login page")
	}
}

func (s *demoServer) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "failed to parse form", http.StatusBadRequest)
		return
	}

	user, ok := s.users[r.PostFormValue("username")]
	if !ok || bcrypt.CompareHashAndPassword(user.passwordHash, []byte(r.PostFormValue("password"))) != nil {
		http.Error(w, "invalid username or password", http.StatusUnauthorized)
		return
	}

	sid := uuid.NewString()
	s.mu.Lock()
	s.sessions[sid] = r.PostFormValue("username")
	s.mu.Unlock()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sid,
		Path:     "/",
		HttpOnly: true,
	})

	// The unique_id form field identifies the parked authorization
	// request; SignIn picks it up and completes the flow.
	if err := s.oidc.SignIn(w, r, s.userTicket(user)); err != nil {
		s.logger.WithError(err).Error("sign-in failed")
	}
}

func (s *demoServer) logout(w http.ResponseWriter, r *http.Request) {
	if core.PendingLogout(r) == nil {
		http.NotFound(w, r)
		return
	}

	if c, err := r.Cookie(sessionCookie); err == nil {
		s.mu.Lock()
		delete(s.sessions, c.Value)
		s.mu.Unlock()
		http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "", Path: "/", MaxAge: -1})
	}

	if err := s.oidc.SignOut(w, r); err != nil {
		s.logger.WithError(err).Error("sign-out failed")
	}
}

func (s *demoServer) sessionUser(r *http.Request) *demoUser {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return nil
	}
	s.mu.Lock()
	username, ok := s.sessions[c.Value]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return s.users[username]
}

func (s *demoServer) userTicket(user *demoUser) *ticket.Ticket {
	t := ticket.New(user.email)
	t.AddClaim("email", user.email, ticket.DestinationIDToken)
	t.AddClaim("name", user.name, ticket.DestinationIDToken, ticket.DestinationAccessToken)
	return t
}
