package server

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Steven867533/hce-backend/server/auth/key"
	"github.com/Steven867533/hce-backend/server/logger"
	"github.com/Steven867533/hce-backend/server/models"
	"github.com/Steven867533/hce-backend/server/twilio"
	"github.com/Steven867533/hce-backend/server/work"
	"github.com/Steven867533/hce-backend/shared"
	"github.com/go-playground/validator"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

var (
	logg        = logger.NewLogger()
	validate    = validator.New()
	authKeyPair *key.KeyPair
	workerPool  *work.WorkerPoolAdapter
	smsClient   *twilio.ClientWrapper
	devMode     bool
)

func init() {
	fatalOnError(RegisterValidators(validate))
}

// Start brings up the whole service: database, worker pool, job
// handlers and the http listener. It blocks until SIGINT/SIGTERM.
func Start(config *viper.Viper, isDevMode bool) {
	devMode = isDevMode

	serverConfig := shared.ServerConfig{}
	fatalOnError(config.Unmarshal(&serverConfig))
	fatalOnError(errors.Wrap(validate.Struct(serverConfig), "invalid server config"))

	keyPair, err := key.NewKeyPairFromRSAPrivateKeyPem(serverConfig.Hce.PrivateKeyPem)
	fatalOnError(err)
	authKeyPair = keyPair

	fatalOnError(maybeRestoreDatabase(serverConfig, configDirectory(devMode)))
	fatalOnError(models.AutoMigrate(serverConfig.Sqlite.PassPhrase, configDirectory(devMode)))

	smsClient = twilio.NewClient(serverConfig.Twilio, devMode)

	workerPool = work.NewWorkerAdapter(serverConfig.Hce.Cron.TimeZone)
	fatalOnError(registerJobHandlers(serverConfig, configDirectory(devMode)))
	workerPool.Start()

	server := &http.Server{
		Handler:      NewRouter(),
		Addr:         fmt.Sprintf(":%v", serverConfig.Hce.Listener.Port),
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}
	go serve(server)

	sigChannel := make(chan os.Signal, 1)
	signal.Notify(sigChannel, syscall.SIGINT, syscall.SIGTERM)
	<-sigChannel

	cleanup(workerPool, server)
}

// NewRouter mounts every route the service serves. Routes under the
// protected subrouters require a valid bearer token.
func NewRouter() *mux.Router {
	router := mux.NewRouter()
	router.Use(loggingMiddleware)
	router.Use(initialContextMiddleware)

	router.HandleFunc("/", rootStatus).Methods("GET")
	router.HandleFunc("/health", healthCheck).Methods("GET")
	router.HandleFunc("/.well-known/jwks.json", jwks).Methods("GET")

	router.HandleFunc("/auth/signup", signUp).Methods("POST")
	router.HandleFunc("/auth/login", logIn).Methods("POST")

	router.HandleFunc("/locations/nearby", findNearbyLocations).Methods("GET")

	usersRouter := router.PathPrefix("/users").Subrouter()
	usersRouter.Use(protectedRouteMiddleware)
	usersRouter.HandleFunc("/me", findCurrentUser).Methods("GET")
	usersRouter.HandleFunc("/me", updateCurrentUser).Methods("PUT")
	usersRouter.HandleFunc("/by-phone", findUserByPhone).Methods("GET")
	usersRouter.HandleFunc("/search", searchUsers).Methods("GET")
	usersRouter.HandleFunc("/{id}", findUser).Methods("GET")
	usersRouter.HandleFunc("/{id}", updateUser).Methods("PUT")

	readingsRouter := router.PathPrefix("/readings").Subrouter()
	readingsRouter.Use(protectedRouteMiddleware)
	readingsRouter.HandleFunc("", createReading).Methods("POST")
	readingsRouter.HandleFunc("", findReadings).Methods("GET")
	readingsRouter.HandleFunc("/dates", findReadingDates).Methods("GET")

	messagesRouter := router.PathPrefix("/messages").Subrouter()
	messagesRouter.Use(protectedRouteMiddleware)
	messagesRouter.HandleFunc("", sendMessage).Methods("POST")
	messagesRouter.HandleFunc("/unseen-count", unseenCount).Methods("GET")
	messagesRouter.HandleFunc("/unseen-persons", unseenPersons).Methods("GET")
	messagesRouter.HandleFunc("/mark-all-seen/{senderId}", markAllMessagesSeen).Methods("PUT")
	messagesRouter.HandleFunc("/{messageId}/seen", markMessageSeen).Methods("PUT")
	messagesRouter.HandleFunc("/{recipientId}", fetchConversation).Methods("GET")

	return router
}
