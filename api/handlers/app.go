package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/allerbuddy/allerbuddy-api/api"
	"github.com/allerbuddy/allerbuddy-api/api/scheduler"
	"github.com/allerbuddy/allerbuddy-api/config"
	"github.com/allerbuddy/allerbuddy-api/databases"
	"github.com/allerbuddy/allerbuddy-api/emergency"
	"github.com/allerbuddy/allerbuddy-api/emergency/geo"
	"github.com/allerbuddy/allerbuddy-api/models"
)

// App stores the router, db connection and the emergency engine, so it can
// be reused
type App struct {
	Router    *mux.Router
	Config    config.Config
	Scheduler *scheduler.Scheduler

	dbHelper      databases.DatabaseHelper
	reporter      *geo.Reporter
	trackers      *emergency.TrackerSet
	subscriptions *emergency.SubscriptionManager
}

// New creates a new mux router and all the routes
func (a *App) New() *mux.Router {
	// setup go-guardian for middleware
	m := api.MiddlewareDB{DB: databases.NewUserDatabase(a.dbHelper)}
	m.SetupGoGuardian()

	r := mux.NewRouter()

	eDB := databases.NewEmergencyDatabase(a.dbHelper)
	rDB := databases.NewBuddyRelationDatabase(a.dbHelper)
	iDB := databases.NewBuddyInvitationDatabase(a.dbHelper)
	uDB := databases.NewUserDatabase(a.dbHelper)

	a.reporter = geo.NewReporter()
	a.trackers = emergency.NewTrackerSet(eDB, a.reporter, 0)
	a.subscriptions = emergency.NewSubscriptionManager(eDB, 0)

	e := Emergency{
		DB:          eDB,
		Dispatcher:  emergency.NewDispatcher(eDB, rDB, uDB, geo.ContextProvider{}),
		Coordinator: emergency.NewCoordinator(eDB, uDB, a.trackers),
		Resolver:    emergency.NewResolver(eDB, a.trackers),
		Reporter:    a.reporter,
	}
	feed := Feed{
		Subscriptions: a.subscriptions,
		Listener:      emergency.NewPatientListener(eDB, 0),
	}
	bd := Buddy{RDB: rDB, IDB: iDB, UDB: uDB}
	u := User{DB: uDB}
	s := Search{UserDB: uDB}
	metrics := api.NewMetricsCollector()

	// healthchex
	r.HandleFunc("/health", healthCheckHandler)

	apiCreate := r.PathPrefix("/api/v1").Subrouter()
	apiCreate.Use(metrics.Middleware)

	apiCreate.Handle("/auth/token", api.Middleware(http.HandlerFunc(m.CreateToken))).Methods("POST")
	apiCreate.Handle("/auth/logout", api.Middleware(http.HandlerFunc(api.RevokeToken))).Methods("DELETE")

	apiCreate.Handle("/emergency", api.Middleware(http.HandlerFunc(e.RaiseEmergencyHandler))).Methods("POST")
	apiCreate.Handle("/emergency/{emergency_id}", api.Middleware(http.HandlerFunc(e.EmergencyByIDHandler))).Methods("GET")
	apiCreate.Handle("/emergency/{emergency_id}/respond", api.Middleware(http.HandlerFunc(e.RespondToEmergencyHandler))).Methods("POST")
	apiCreate.Handle("/emergency/{emergency_id}/resolve", api.Middleware(http.HandlerFunc(e.ResolveEmergencyHandler))).Methods("POST")
	apiCreate.Handle("/emergency/location", api.Middleware(http.HandlerFunc(e.ReportLocationHandler))).Methods("PUT")
	apiCreate.Handle("/emergencies/user/{user_id}", api.Middleware(http.HandlerFunc(e.EmergenciesByUserIDHandler))).Methods("GET")

	// websocket feeds authenticate via the bearer token query param the
	// browser websocket API forces on us, so they sit outside Middleware
	apiCreate.Handle("/emergencies/buddy/{buddy_id}/feed", http.HandlerFunc(feed.BuddyFeedHandler)).Methods("GET")
	apiCreate.Handle("/emergency/{emergency_id}/events", http.HandlerFunc(feed.PatientEventsHandler)).Methods("GET")

	apiCreate.Handle("/buddy/invite", api.Middleware(http.HandlerFunc(bd.InviteBuddyHandler))).Methods("POST")
	apiCreate.Handle("/buddy/{relation_id}", api.Middleware(http.HandlerFunc(bd.RemoveBuddyHandler))).Methods("DELETE")
	apiCreate.Handle("/buddies/{user_id}", api.Middleware(http.HandlerFunc(bd.BuddiesByUserIDHandler))).Methods("GET")
	apiCreate.Handle("/invitations/{user_id}", api.Middleware(http.HandlerFunc(bd.InvitationsByUserIDHandler))).Methods("GET")
	apiCreate.Handle("/invitation/{invitation_id}/accept", api.Middleware(http.HandlerFunc(bd.AcceptInvitationHandler))).Methods("POST")
	apiCreate.Handle("/invitation/{invitation_id}/decline", api.Middleware(http.HandlerFunc(bd.DeclineInvitationHandler))).Methods("POST")
	apiCreate.Handle("/invitation/{invitation_id}", api.Middleware(http.HandlerFunc(bd.CancelInvitationHandler))).Methods("DELETE")

	apiCreate.Handle("/search/users", api.Middleware(http.HandlerFunc(s.SearchUsersHandler))).Methods("GET")

	apiCreate.Handle("/user/create-user", http.HandlerFunc(u.UserCreateHandler)).Methods("POST")
	apiCreate.Handle("/user/check-user", http.HandlerFunc(u.UserCheckEmailHandler)).Methods("POST")
	apiCreate.Handle("/user/forgot-password", http.HandlerFunc(u.ForgotPasswordHandler)).Methods("POST")
	apiCreate.Handle("/user/reset-password", http.HandlerFunc(u.ResetPasswordHandler)).Methods("POST")
	apiCreate.Handle("/user/{user_id}", api.Middleware(http.HandlerFunc(u.UpdateUserByIDHandler))).Methods("PUT")
	apiCreate.Handle("/user/{user_id}", api.Middleware(http.HandlerFunc(u.UserHandler))).Methods("GET")

	apiCreate.Handle("/metrics", api.Middleware(http.HandlerFunc(metrics.Handler))).Methods("GET")

	// swagger docs hosted at "/"
	r.PathPrefix("/").Handler(http.StripPrefix("/", http.FileServer(http.Dir("./docs/"))))
	return r
}

// Initialize is invoked by main to connect with the database and create a router
func (a *App) Initialize() error {

	client, err := databases.NewClient(&a.Config)
	if err != nil {
		// if we fail to create a new database client, then kill the pod
		zap.S().With(err).Error("failed to create new client")
		return err
	}

	a.dbHelper = databases.NewDatabase(&a.Config, client)
	err = client.Connect()
	if err != nil {
		// if we fail to connect to the database, then kill the pod
		zap.S().With(err).Error("failed to connect to database")
		return err
	}
	zap.S().Info("allerbuddy-api has connected to the database")

	eDB := databases.NewEmergencyDatabase(a.dbHelper)
	ctx, cancel := api.WithQueryTimeout(context.Background())
	defer cancel()
	if err := eDB.EnsureIndexes(ctx); err != nil {
		zap.S().With(err).Error("failed to ensure emergency indexes")
		return err
	}

	// initialize api router
	a.initializeRoutes()

	// start the stale emergency sweep
	a.Scheduler = scheduler.NewScheduler(
		databases.NewEmergencyDatabase(a.dbHelper),
		databases.NewSchedulerLockDatabase(a.dbHelper),
		a.trackers,
	)
	a.Scheduler.Start()
	return nil
}

// Shutdown stops the background machinery: feeds, trackers and the sweep.
func (a *App) Shutdown() {
	if a.subscriptions != nil {
		a.subscriptions.Close()
	}
	if a.trackers != nil {
		a.trackers.StopAll()
	}
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
}

func (a *App) initializeRoutes() {
	a.Router = a.New()
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	b, _ := json.Marshal(models.HealthCheckResponse{
		Alive: true,
	})
	_, _ = io.WriteString(w, string(b))
}
