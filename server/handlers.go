package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Steven867533/hce-backend/server/auth"
	"github.com/Steven867533/hce-backend/server/auth/key"
	"github.com/Steven867533/hce-backend/server/geo"
	"github.com/Steven867533/hce-backend/server/models"
	"github.com/Steven867533/hce-backend/server/work"
	"github.com/Steven867533/hce-backend/version"
	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

// userSummary is the name+phone projection used by user lookups made on
// behalf of other users.
type userSummary struct {
	ID          uint   `json:"id"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phoneNumber"`
}

// ---------------------------------------------------------------------------------//
// System handlers
// --------------------------------------------------------------------------------//

func rootStatus(rw http.ResponseWriter, r *http.Request) {
	writeResponse(rw, map[string]interface{}{
		"message":   "Server is running",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"status":    "healthy",
		"version":   version.Version,
	}, http.StatusOK)
}

func healthCheck(rw http.ResponseWriter, r *http.Request) {
	dbState := "disconnected"
	if models.Connected() {
		dbState = "connected"
	}

	writeResponse(rw, map[string]interface{}{
		"status":    "UP",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"database":  dbState,
	}, http.StatusOK)
}

func jwks(rw http.ResponseWriter, r *http.Request) {
	keyPairJWK, err := authKeyPair.JWK()
	if err != nil {
		writeServerError(rw, err)
		return
	}

	writeResponse(rw, key.ExportJWKAsJWKS(keyPairJWK), http.StatusOK)
}

// ---------------------------------------------------------------------------------//
// Auth handlers
// --------------------------------------------------------------------------------//

type signupParams struct {
	Name               string `json:"name" validate:"required"`
	Email              string `json:"email" validate:"required,email"`
	Password           string `json:"password" validate:"required,password"`
	PhoneNumber        string `json:"phoneNumber" validate:"required,phone_number"`
	Birthdate          string `json:"birthdate" validate:"required"`
	Role               string `json:"role" validate:"required,user_role"`
	BloodPressureType  string `json:"bloodPressureType"`
	DoctorPhoneNumber  string `json:"doctorPhoneNumber"`
	PatientPhoneNumber string `json:"patientPhoneNumber"`
}

func signUp(rw http.ResponseWriter, r *http.Request) {
	params := signupParams{}
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(rw, http.StatusBadRequest, "invalid request payload")
		return
	}

	if err := validate.Struct(params); err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}

	if params.Role == models.PATIENT_ROLE && !models.BloodPressureTypeNameMap[params.BloodPressureType] {
		writeError(rw, http.StatusBadRequest, "Invalid blood pressure type")
		return
	}

	birthdate, err := models.ParseDate(params.Birthdate)
	if err != nil {
		writeError(rw, http.StatusBadRequest, "Valid birthdate is required")
		return
	}

	exists, err := models.UserExistsWithEmail(params.Email)
	if err != nil {
		writeServerError(rw, err)
		return
	}
	if exists {
		writeError(rw, http.StatusBadRequest, "User already exists")
		return
	}

	user := models.User{
		Name:              params.Name,
		Email:             params.Email,
		Password:          params.Password,
		PhoneNumber:       params.PhoneNumber,
		Birthdate:         birthdate,
		Role:              params.Role,
		BloodPressureType: params.BloodPressureType,
	}

	// Relationship references are optional at signup; an unmatched
	// phone number is skipped rather than rejected, the links can be
	// fixed up later through profile update.
	if params.Role == models.PATIENT_ROLE && params.DoctorPhoneNumber != "" {
		if doctor, err := models.FindUserByPhoneAndRole(params.DoctorPhoneNumber, models.DOCTOR_ROLE); err == nil {
			user.DoctorID = &doctor.ID
		}
	}
	if params.Role == models.COMPANION_ROLE && params.PatientPhoneNumber != "" {
		if patient, err := models.FindUserByPhoneAndRole(params.PatientPhoneNumber, models.PATIENT_ROLE); err == nil {
			user.PatientID = &patient.ID
		}
	}

	if err := models.CreateUser(&user); err != nil {
		writeServerError(rw, err)
		return
	}

	token, err := issueToken(&user)
	if err != nil {
		writeServerError(rw, err)
		return
	}

	writeResponse(rw, map[string]interface{}{"token": token, "userId": user.ID}, http.StatusCreated)
}

func logIn(rw http.ResponseWriter, r *http.Request) {
	params := struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}{}
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(rw, http.StatusBadRequest, "invalid request payload")
		return
	}

	user, err := models.FindUserForLogin(params.Email)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		writeServerError(rw, err)
		return
	}

	if err != nil || !auth.CheckPasswordHash(params.Password, user.Password) {
		writeError(rw, http.StatusBadRequest, "Invalid credentials")
		return
	}

	token, err := issueToken(user)
	if err != nil {
		writeServerError(rw, err)
		return
	}

	writeResponse(rw, map[string]interface{}{"token": token}, http.StatusOK)
}

func issueToken(user *models.User) (string, error) {
	claims := auth.NewTokenClaims(fmt.Sprint(user.ID), user.Role)
	return auth.EncodeJWT(claims, authKeyPair)
}

// ---------------------------------------------------------------------------------//
// User handlers
// --------------------------------------------------------------------------------//

func findCurrentUser(rw http.ResponseWriter, r *http.Request) {
	user, err := models.FindUserBy("id", requestClaims(r).Subject)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeError(rw, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		writeServerError(rw, err)
		return
	}

	writeResponse(rw, user, http.StatusOK)
}

func updateCurrentUser(rw http.ResponseWriter, r *http.Request) {
	updateUserProfile(rw, r, requestClaims(r).Subject)
}

func updateUser(rw http.ResponseWriter, r *http.Request) {
	// protectedRouteMiddleware has already rejected callers updating
	// anyone but themselves
	updateUserProfile(rw, r, mux.Vars(r)["id"])
}

func updateUserProfile(rw http.ResponseWriter, r *http.Request, userID string) {
	params := models.UserProfileUpdate{}
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(rw, http.StatusBadRequest, "invalid request payload")
		return
	}

	if err := validate.Struct(params); err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}

	user, err := models.FindUserBy("id", userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeError(rw, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		writeServerError(rw, err)
		return
	}

	if err = user.UpdateProfile(&params); err != nil {
		switch {
		case errors.Is(err, models.ErrDoctorNotFound),
			errors.Is(err, models.ErrCompanionNotFound),
			errors.Is(err, models.ErrPatientNotFound):
			writeError(rw, http.StatusNotFound, err.Error())
		case errors.Is(err, models.ErrPatientLinkRequired),
			errors.Is(err, models.ErrDoctorLinkRequired),
			errors.Is(err, models.ErrCompanionLinkRequired):
			writeError(rw, http.StatusBadRequest, err.Error())
		default:
			writeServerError(rw, err)
		}
		return
	}

	updatedUser, err := models.FindUserBy("id", userID)
	if err != nil {
		writeServerError(rw, err)
		return
	}

	writeResponse(rw, updatedUser, http.StatusOK)
}

func findUserByPhone(rw http.ResponseWriter, r *http.Request) {
	phoneNumber := r.URL.Query().Get("phoneNumber")
	if phoneNumber == "" {
		writeError(rw, http.StatusBadRequest, "Phone number is required")
		return
	}

	user, err := models.FindUserBy("phone_number", phoneNumber)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeError(rw, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		writeServerError(rw, err)
		return
	}

	writeResponse(rw, user, http.StatusOK)
}

func searchUsers(rw http.ResponseWriter, r *http.Request) {
	digits := nonDigitRegexp.ReplaceAllString(r.URL.Query().Get("phoneNumber"), "")
	if digits == "" {
		writeError(rw, http.StatusBadRequest, "Phone number is required")
		return
	}

	users, err := models.SearchUsersByPhoneDigits(digits, requestUserID(r))
	if err != nil {
		writeServerError(rw, err)
		return
	}

	results := make([]userSummary, 0, len(users))
	for _, user := range users {
		results = append(results, userSummary{ID: user.ID, Name: user.Name, PhoneNumber: user.PhoneNumber})
	}

	writeResponse(rw, results, http.StatusOK)
}

func findUser(rw http.ResponseWriter, r *http.Request) {
	user, err := models.FindUserBy("id", mux.Vars(r)["id"])
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeError(rw, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		writeServerError(rw, err)
		return
	}

	writeResponse(rw, userSummary{ID: user.ID, Name: user.Name, PhoneNumber: user.PhoneNumber}, http.StatusOK)
}

// ---------------------------------------------------------------------------------//
// Location handlers
// --------------------------------------------------------------------------------//

func findNearbyLocations(rw http.ResponseWriter, r *http.Request) {
	latitudeParam := r.URL.Query().Get("latitude")
	longitudeParam := r.URL.Query().Get("longitude")
	if latitudeParam == "" || longitudeParam == "" {
		writeError(rw, http.StatusBadRequest, "Latitude and longitude are required")
		return
	}

	latitude, latErr := strconv.ParseFloat(latitudeParam, 64)
	longitude, lonErr := strconv.ParseFloat(longitudeParam, 64)
	if latErr != nil || lonErr != nil {
		writeError(rw, http.StatusBadRequest, "Latitude and longitude are required")
		return
	}

	locations, err := models.AllLocations()
	if err != nil {
		writeServerError(rw, err)
		return
	}

	writeResponse(rw, geo.Nearby(locations, latitude, longitude), http.StatusOK)
}

// ---------------------------------------------------------------------------------//
// Reading handlers
// --------------------------------------------------------------------------------//

type readingParams struct {
	HeartRate float64  `json:"heartRate" validate:"required"`
	Spo2      float64  `json:"spo2" validate:"required"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func createReading(rw http.ResponseWriter, r *http.Request) {
	params := readingParams{}
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(rw, http.StatusBadRequest, "invalid request payload")
		return
	}

	if err := validate.Struct(params); err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}

	reading := models.Reading{
		UserID:    requestUserID(r),
		HeartRate: params.HeartRate,
		Spo2:      params.Spo2,
		Latitude:  params.Latitude,
		Longitude: params.Longitude,
	}

	if err := models.CreateReading(&reading); err != nil {
		writeServerError(rw, err)
		return
	}

	writeResponse(rw, reading, http.StatusCreated)
}

func findReadings(rw http.ResponseWriter, r *http.Request) {
	// Both bounds are the parsed instants; a date-only endDate means
	// midnight at the start of that day, not its end.
	startDate, startErr := models.ParseDate(r.URL.Query().Get("startDate"))
	endDate, endErr := models.ParseDate(r.URL.Query().Get("endDate"))
	if startErr != nil || endErr != nil {
		writeError(rw, http.StatusBadRequest, "Valid startDate and endDate are required")
		return
	}

	claims := requestClaims(r)
	userID := requestUserID(r)

	// Companions & doctors may read their patient's vitals
	patientIDParam := r.URL.Query().Get("patientId")
	if patientIDParam != "" && (claims.Role == models.COMPANION_ROLE || claims.Role == models.DOCTOR_ROLE) {
		patientID, err := strconv.ParseUint(patientIDParam, 10, 64)
		if err != nil {
			writeError(rw, http.StatusBadRequest, "Valid patientId is required")
			return
		}
		userID = uint(patientID)
	}

	readings, err := models.ReadingsInRange(userID, startDate, endDate)
	if err != nil {
		writeServerError(rw, err)
		return
	}

	writeResponse(rw, readings, http.StatusOK)
}

func findReadingDates(rw http.ResponseWriter, r *http.Request) {
	dates, err := models.ReadingDates(requestUserID(r))
	if err != nil {
		writeServerError(rw, err)
		return
	}

	writeResponse(rw, dates, http.StatusOK)
}

// ---------------------------------------------------------------------------------//
// Message handlers
// --------------------------------------------------------------------------------//

func sendMessage(rw http.ResponseWriter, r *http.Request) {
	params := struct {
		RecipientID uint   `json:"recipientId"`
		Content     string `json:"content"`
	}{}
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(rw, http.StatusBadRequest, "invalid request payload")
		return
	}

	if params.RecipientID == 0 || params.Content == "" {
		writeError(rw, http.StatusBadRequest, "Recipient ID and content are required")
		return
	}

	message := models.Message{
		SenderID:    requestUserID(r),
		RecipientID: params.RecipientID,
		Content:     params.Content,
	}

	if err := models.CreateMessage(&message); err != nil {
		writeServerError(rw, err)
		return
	}

	enqueueMessageNotification(&message)

	writeResponse(rw, errorResponse{Message: "Message sent"}, http.StatusCreated)
}

func unseenCount(rw http.ResponseWriter, r *http.Request) {
	count, err := models.UnseenCount(requestUserID(r))
	if err != nil {
		writeServerError(rw, err)
		return
	}

	writeResponse(rw, map[string]int64{"unseenCount": count}, http.StatusOK)
}

func unseenPersons(rw http.ResponseWriter, r *http.Request) {
	summaries, err := models.UnseenSenderSummaries(requestUserID(r))
	if err != nil {
		writeServerError(rw, err)
		return
	}

	writeResponse(rw, summaries, http.StatusOK)
}

// conversationMessage carries the participants' names alongside each
// message, so clients don't need a lookup per message.
type conversationMessage struct {
	models.Message
	SenderName    string `json:"senderName"`
	RecipientName string `json:"recipientName"`
}

func fetchConversation(rw http.ResponseWriter, r *http.Request) {
	otherID, err := strconv.ParseUint(mux.Vars(r)["recipientId"], 10, 64)
	if err != nil {
		writeError(rw, http.StatusBadRequest, "Valid recipient ID is required")
		return
	}

	callerID := requestUserID(r)
	messages, err := models.Conversation(callerID, uint(otherID))
	if err != nil {
		writeServerError(rw, err)
		return
	}

	namesByID := map[uint]string{}
	for _, userID := range []uint{callerID, uint(otherID)} {
		if user, err := models.FindUserBy("id", userID); err == nil {
			namesByID[user.ID] = user.Name
		}
	}

	conversation := make([]conversationMessage, 0, len(messages))
	for _, message := range messages {
		conversation = append(conversation, conversationMessage{
			Message:       message,
			SenderName:    namesByID[message.SenderID],
			RecipientName: namesByID[message.RecipientID],
		})
	}

	writeResponse(rw, conversation, http.StatusOK)
}

func markMessageSeen(rw http.ResponseWriter, r *http.Request) {
	// Missing message, someone else's message & already-seen message are
	// deliberately indistinguishable here, so senders can't probe for
	// other users' messages.
	seen, err := models.MarkMessageSeen(mux.Vars(r)["messageId"], requestUserID(r))
	if err != nil {
		writeServerError(rw, err)
		return
	}

	if !seen {
		writeError(rw, http.StatusNotFound, "Message not found or you are not authorized to mark it as seen")
		return
	}

	writeResponse(rw, errorResponse{Message: "Message marked as seen"}, http.StatusOK)
}

func markAllMessagesSeen(rw http.ResponseWriter, r *http.Request) {
	count, err := models.MarkAllSeenFrom(mux.Vars(r)["senderId"], requestUserID(r))
	if err != nil {
		writeServerError(rw, err)
		return
	}

	writeResponse(rw, map[string]interface{}{
		"message": "Messages marked as seen",
		"count":   count,
	}, http.StatusOK)
}

func enqueueMessageNotification(message *models.Message) {
	if smsClient == nil || !smsClient.Enabled() {
		return
	}

	recipient, err := models.FindUserBy("id", message.RecipientID)
	if err != nil {
		logg.Errorf("skipping notification for message %v: %v", message.ID, err)
		return
	}

	sender, err := models.FindUserBy("id", message.SenderID)
	if err != nil {
		logg.Errorf("skipping notification for message %v: %v", message.ID, err)
		return
	}

	err = workerPool.Perform(work.JobParams{
		Name:    fmt.Sprintf("message_notification_%v", message.ID),
		Handler: MESSAGE_NOTIFICATION_HANDLER,
		Unique:  true,
		Args: map[string]interface{}{
			"phoneNumber": recipient.PhoneNumber,
			"senderName":  sender.Name,
		},
	})
	if err != nil {
		logg.Error(err)
	}
}
