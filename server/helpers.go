package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Steven867533/hce-backend/server/auth"
	"github.com/Steven867533/hce-backend/server/models"
	"github.com/Steven867533/hce-backend/server/work"
	"github.com/Steven867533/hce-backend/utils"
	"github.com/go-playground/validator"
)

var phoneNumberRegexp = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
var nonDigitRegexp = regexp.MustCompile(`\D`)

// ---------------------------------------------------------------------------------//
// Handler helper functions
// --------------------------------------------------------------------------------//

type errorResponse struct {
	Message string `json:"message"`
}

func writeError(rw http.ResponseWriter, statusCode int, message string) {
	if statusCode >= http.StatusInternalServerError {
		logg.Error(message)
	} else {
		logg.Info(message)
	}

	rw.WriteHeader(statusCode)
	json.NewEncoder(rw).Encode(errorResponse{Message: message})
}

// writeServerError hides store/internal error detail from clients
// outside of dev mode.
func writeServerError(rw http.ResponseWriter, err error) {
	message := "Server error"
	if devMode && err != nil {
		message = err.Error()
	}

	logg.Error(err)
	rw.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(rw).Encode(errorResponse{Message: message})
}

func writeResponse(rw http.ResponseWriter, payload interface{}, statusCode int) {
	rw.WriteHeader(statusCode)
	json.NewEncoder(rw).Encode(payload)
}

func RegisterValidators(validate *validator.Validate) error {
	err := validate.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		password := fl.Field().String()
		if strings.Contains(password, " ") {
			return false
		}
		return len(password) >= 8
	})
	if err != nil {
		return err
	}

	err = validate.RegisterValidation("phone_number", func(fl validator.FieldLevel) bool {
		return isValidPhoneNumber(fl.Field().String())
	})
	if err != nil {
		return err
	}

	err = validate.RegisterValidation("user_role", func(fl validator.FieldLevel) bool {
		return models.UserRoleNameMap[fl.Field().String()]
	})
	if err != nil {
		return err
	}

	err = validate.RegisterValidation("blood_pressure", func(fl validator.FieldLevel) bool {
		return models.BloodPressureTypeNameMap[fl.Field().String()]
	})
	if err != nil {
		return err
	}

	return nil
}

func isValidPhoneNumber(phoneNumber string) bool {
	return phoneNumberRegexp.MatchString(phoneNumber)
}

// ---------------------------------------------------------------------------------//
// Middleware helper functions
// --------------------------------------------------------------------------------//

func decodeAndVerifyAuthHeader(authHeaderValue string) DecodedJWT {
	authHeaderList := strings.Split(authHeaderValue, "Bearer ")
	if len(authHeaderList) < 2 {
		return DecodedJWT{ErrorMsg: "no token provided"}
	}

	tokenClaims, err := auth.DecodeJWT(authHeaderList[1], authKeyPair)
	if err != nil {
		return DecodedJWT{ErrorMsg: "invalid token provided"}
	}

	// validate that the user account still exists
	_, err = models.FindUserBy("id", tokenClaims.Subject)
	if err != nil {
		return DecodedJWT{ErrorMsg: "invalid token provided"}
	}

	return DecodedJWT{Claims: tokenClaims}
}

func requestClaims(r *http.Request) *auth.HceTokenClaims {
	return r.Context().Value(RequestContextKey("decodedJWT")).(DecodedJWT).Claims
}

func requestUserID(r *http.Request) uint {
	id, _ := strconv.ParseUint(requestClaims(r).Subject, 10, 64)
	return uint(id)
}

// ---------------------------------------------------------------------------------//
// Server helper functions
// --------------------------------------------------------------------------------//

func serve(server *http.Server) {
	logg.Infof("hce-backend server is listening on port%v", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Fatal(err)
	}
}

func cleanup(workerPool *work.WorkerPoolAdapter, server *http.Server) {
	// Stop background jobs before the listener, so in-flight work drains
	workerPool.Stop()

	ctxShutDown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctxShutDown); err != nil {
		logg.Fatalf("hce-backend server shutdown failed: %+s", err)
	}

	if err := models.Close(); err != nil {
		logg.Errorf("error closing database: %v", err)
	}

	logg.Infof("hce-backend server stopped properly")
}

// configDirectory retrieves the directory used for configs & the db file,
// or logs an error message and exits if it's unable to.
func configDirectory(devMode bool) string {
	configFolderName := "hce"
	rootDir, err := os.UserHomeDir()
	fatalOnError(err)

	// Use 'dev' folder in current directory for dev mode
	if devMode {
		configFolderName = "dev"
		rootDir, err = os.Getwd()
		fatalOnError(err)
	}

	configDir := filepath.Join(rootDir, configFolderName)

	err = utils.CreateDirIfNotExist(configDir)
	fatalOnError(err)

	return configDir
}

func fatalOnError(err error) {
	if err != nil {
		logg.Fatal(err)
	}
}
