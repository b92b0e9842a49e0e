package server

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Steven867533/hce-backend/server/auth/key"
	"github.com/Steven867533/hce-backend/server/models"
	"github.com/stretchr/testify/assert"
)

func initializeTestServer(t *testing.T) {
	models.InitializeTestDb()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	assert.Nil(t, err)

	keyBytes, err := x509.MarshalPKCS8PrivateKey(privateKey)
	assert.Nil(t, err)

	pemContent := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyBytes})

	authKeyPair, err = key.NewKeyPairFromRSAPrivateKeyPem(string(pemContent))
	assert.Nil(t, err)
}

func doRequest(router http.Handler, method, target, token string, payload interface{}) *httptest.ResponseRecorder {
	var body bytes.Buffer
	if payload != nil {
		json.NewEncoder(&body).Encode(payload)
	}

	request := httptest.NewRequest(method, target, &body)
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]interface{} {
	body := map[string]interface{}{}
	err := json.Unmarshal(recorder.Body.Bytes(), &body)
	assert.Nil(t, err)

	return body
}

func signUpTestUser(t *testing.T, router http.Handler, name, email, phoneNumber, role string) (token string, userID uint) {
	payload := map[string]interface{}{
		"name":        name,
		"email":       email,
		"password":    "very-secure",
		"phoneNumber": phoneNumber,
		"birthdate":   "1990-05-01",
		"role":        role,
	}
	if role == models.PATIENT_ROLE {
		payload["bloodPressureType"] = "Average"
	}

	recorder := doRequest(router, "POST", "/auth/signup", "", payload)
	assert.Equal(t, http.StatusCreated, recorder.Code, "signup for %v should succeed: %v", email, recorder.Body.String())

	body := decodeBody(t, recorder)
	assert.NotEmpty(t, body["token"])

	return body["token"].(string), uint(body["userId"].(float64))
}

func TestSignupAndLogin(t *testing.T) {
	initializeTestServer(t)
	router := NewRouter()

	signUpTestUser(t, router, "tony stark", "stark@avengers.com", "+12345678900", models.PATIENT_ROLE)

	// Duplicate email
	recorder := doRequest(router, "POST", "/auth/signup", "", map[string]interface{}{
		"name":              "impostor",
		"email":             "stark@avengers.com",
		"password":          "very-secure",
		"phoneNumber":       "+12345678901",
		"birthdate":         "1990-05-01",
		"role":              models.PATIENT_ROLE,
		"bloodPressureType": "Average",
	})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, "User already exists", decodeBody(t, recorder)["message"])

	// Patient without a blood pressure type
	recorder = doRequest(router, "POST", "/auth/signup", "", map[string]interface{}{
		"name":        "no bp",
		"email":       "nobp@avengers.com",
		"password":    "very-secure",
		"phoneNumber": "+12345678902",
		"birthdate":   "1990-05-01",
		"role":        models.PATIENT_ROLE,
	})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, "Invalid blood pressure type", decodeBody(t, recorder)["message"])

	recorder = doRequest(router, "POST", "/auth/login", "", map[string]interface{}{
		"email":    "stark@avengers.com",
		"password": "very-secure",
	})
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.NotEmpty(t, decodeBody(t, recorder)["token"])

	recorder = doRequest(router, "POST", "/auth/login", "", map[string]interface{}{
		"email":    "stark@avengers.com",
		"password": "wrong-password",
	})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, "Invalid credentials", decodeBody(t, recorder)["message"])

	recorder = doRequest(router, "POST", "/auth/login", "", map[string]interface{}{
		"email":    "nobody@avengers.com",
		"password": "very-secure",
	})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, "Invalid credentials", decodeBody(t, recorder)["message"])
}

func doRawRequest(router http.Handler, method, target, token, body string) *httptest.ResponseRecorder {
	request := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	return recorder
}

func TestMalformedPayloadsAreRejected(t *testing.T) {
	initializeTestServer(t)
	router := NewRouter()

	recorder := doRawRequest(router, "POST", "/auth/signup", "", "{not json")
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, "invalid request payload", decodeBody(t, recorder)["message"])

	recorder = doRawRequest(router, "POST", "/auth/login", "", "{not json")
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, "invalid request payload", decodeBody(t, recorder)["message"])

	token, _ := signUpTestUser(t, router, "scott lang", "antman@avengers.com", "+12025550070", models.DOCTOR_ROLE)

	recorder = doRawRequest(router, "POST", "/messages", token, "{not json")
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, "invalid request payload", decodeBody(t, recorder)["message"])

	recorder = doRawRequest(router, "PUT", "/users/me", token, "{not json")
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, "invalid request payload", decodeBody(t, recorder)["message"])
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	initializeTestServer(t)
	router := NewRouter()

	recorder := doRequest(router, "GET", "/users/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)

	recorder = doRequest(router, "GET", "/users/me", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)

	recorder = doRequest(router, "GET", "/messages/unseen-count", "", nil)
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestCurrentUserProfile(t *testing.T) {
	initializeTestServer(t)
	router := NewRouter()

	token, userID := signUpTestUser(t, router, "sam wilson", "falcon@avengers.com", "+12025550060", models.DOCTOR_ROLE)

	recorder := doRequest(router, "GET", "/users/me", token, nil)
	assert.Equal(t, http.StatusOK, recorder.Code)

	body := decodeBody(t, recorder)
	assert.Equal(t, "sam wilson", body["name"])
	assert.Equal(t, float64(userID), body["id"])
	assert.NotContains(t, body, "password")

	recorder = doRequest(router, "PUT", "/users/me", token, map[string]interface{}{"name": "falcon"})
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "falcon", decodeBody(t, recorder)["name"])
}

func TestUpdateOtherUserIsForbidden(t *testing.T) {
	initializeTestServer(t)
	router := NewRouter()

	token, _ := signUpTestUser(t, router, "wanda", "wanda@avengers.com", "+12025550061", models.DOCTOR_ROLE)
	_, otherID := signUpTestUser(t, router, "vision", "vision@avengers.com", "+12025550062", models.DOCTOR_ROLE)

	recorder := doRequest(router, "PUT", fmt.Sprintf("/users/%v", otherID), token, map[string]interface{}{"name": "hacked"})
	assert.Equal(t, http.StatusForbidden, recorder.Code)

	// Reading another user's summary is allowed
	recorder = doRequest(router, "GET", fmt.Sprintf("/users/%v", otherID), token, nil)
	assert.Equal(t, http.StatusOK, recorder.Code)

	body := decodeBody(t, recorder)
	assert.Equal(t, "vision", body["name"])
	assert.Equal(t, "+12025550062", body["phoneNumber"])
	assert.NotContains(t, body, "email", "Summary projection only carries id, name & phone number")
}

func TestNearbyLocations(t *testing.T) {
	initializeTestServer(t)
	router := NewRouter()

	recorder := doRequest(router, "GET", "/locations/nearby?latitude=30.033333&longitude=31.233334", "", nil)
	assert.Equal(t, http.StatusOK, recorder.Code)

	results := []map[string]interface{}{}
	assert.Nil(t, json.Unmarshal(recorder.Body.Bytes(), &results))
	assert.Len(t, results, 4, "All seeded reference locations are returned")
	assert.Equal(t, "Cairo Pharmacy A", results[0]["name"])
	assert.Equal(t, 0.0, results[0]["distance"])

	recorder = doRequest(router, "GET", "/locations/nearby?latitude=30.0", "", nil)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, "Latitude and longitude are required", decodeBody(t, recorder)["message"])

	recorder = doRequest(router, "GET", "/locations/nearby?latitude=abc&longitude=31.2", "", nil)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestReadingEndpoints(t *testing.T) {
	initializeTestServer(t)
	router := NewRouter()

	token, _ := signUpTestUser(t, router, "bruce banner", "hulk@avengers.com", "+12025550063", models.PATIENT_ROLE)

	recorder := doRequest(router, "POST", "/readings", token, map[string]interface{}{
		"heartRate": 72.0,
		"spo2":      98.0,
	})
	assert.Equal(t, http.StatusCreated, recorder.Code)

	body := decodeBody(t, recorder)
	assert.Equal(t, 72.0, body["heartRate"])
	assert.NotEmpty(t, body["timestamp"])

	recorder = doRequest(router, "GET", "/readings?startDate=2000-01-01&endDate=2100-01-01", token, nil)
	assert.Equal(t, http.StatusOK, recorder.Code)

	readings := []map[string]interface{}{}
	assert.Nil(t, json.Unmarshal(recorder.Body.Bytes(), &readings))
	assert.Len(t, readings, 1)

	recorder = doRequest(router, "GET", "/readings?startDate=bogus&endDate=2100-01-01", token, nil)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	// A date-only endDate bounds at midnight of that day, so today's
	// reading is excluded when endDate is today
	today := time.Now().UTC().Format("2006-01-02")
	recorder = doRequest(router, "GET", fmt.Sprintf("/readings?startDate=2000-01-01&endDate=%v", today), token, nil)
	assert.Equal(t, http.StatusOK, recorder.Code)

	readings = []map[string]interface{}{}
	assert.Nil(t, json.Unmarshal(recorder.Body.Bytes(), &readings))
	assert.Empty(t, readings)

	recorder = doRequest(router, "GET", "/readings/dates", token, nil)
	assert.Equal(t, http.StatusOK, recorder.Code)

	dates := []string{}
	assert.Nil(t, json.Unmarshal(recorder.Body.Bytes(), &dates))
	assert.Len(t, dates, 1)
}

func TestMessagingEndpoints(t *testing.T) {
	initializeTestServer(t)
	router := NewRouter()

	patientToken, patientID := signUpTestUser(t, router, "peter parker", "web@avengers.com", "+12025550064", models.PATIENT_ROLE)
	doctorToken, doctorID := signUpTestUser(t, router, "dr strange", "strange@avengers.com", "+12025550065", models.DOCTOR_ROLE)

	recorder := doRequest(router, "POST", "/messages", patientToken, map[string]interface{}{
		"recipientId": doctorID,
		"content":     "my heart rate looks off",
	})
	assert.Equal(t, http.StatusCreated, recorder.Code)
	assert.Equal(t, "Message sent", decodeBody(t, recorder)["message"])

	recorder = doRequest(router, "POST", "/messages", patientToken, map[string]interface{}{"content": "no recipient"})
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, "Recipient ID and content are required", decodeBody(t, recorder)["message"])

	recorder = doRequest(router, "GET", "/messages/unseen-count", doctorToken, nil)
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, 1.0, decodeBody(t, recorder)["unseenCount"])

	recorder = doRequest(router, "GET", "/messages/unseen-persons", doctorToken, nil)
	assert.Equal(t, http.StatusOK, recorder.Code)

	summaries := []map[string]interface{}{}
	assert.Nil(t, json.Unmarshal(recorder.Body.Bytes(), &summaries))
	assert.Len(t, summaries, 1)
	assert.Equal(t, "peter parker", summaries[0]["name"])
	assert.Equal(t, 1.0, summaries[0]["unseenCount"])
	assert.Equal(t, "my heart rate looks off", summaries[0]["latestMessage"])

	recorder = doRequest(router, "GET", fmt.Sprintf("/messages/%v", patientID), doctorToken, nil)
	assert.Equal(t, http.StatusOK, recorder.Code)

	conversation := []map[string]interface{}{}
	assert.Nil(t, json.Unmarshal(recorder.Body.Bytes(), &conversation))
	assert.Len(t, conversation, 1)
	assert.Equal(t, "peter parker", conversation[0]["senderName"])
	assert.Equal(t, "dr strange", conversation[0]["recipientName"])
	messageID := conversation[0]["id"]

	// The sender can't mark their own message seen
	recorder = doRequest(router, "PUT", fmt.Sprintf("/messages/%v/seen", messageID), patientToken, nil)
	assert.Equal(t, http.StatusNotFound, recorder.Code)

	recorder = doRequest(router, "PUT", fmt.Sprintf("/messages/%v/seen", messageID), doctorToken, nil)
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "Message marked as seen", decodeBody(t, recorder)["message"])

	recorder = doRequest(router, "PUT", fmt.Sprintf("/messages/%v/seen", messageID), doctorToken, nil)
	assert.Equal(t, http.StatusNotFound, recorder.Code)
	assert.Equal(t, "Message not found or you are not authorized to mark it as seen",
		decodeBody(t, recorder)["message"])

	// Sweep the other direction
	recorder = doRequest(router, "POST", "/messages", doctorToken, map[string]interface{}{
		"recipientId": patientID,
		"content":     "come in for a checkup",
	})
	assert.Equal(t, http.StatusCreated, recorder.Code)

	recorder = doRequest(router, "PUT", fmt.Sprintf("/messages/mark-all-seen/%v", doctorID), patientToken, nil)
	assert.Equal(t, http.StatusOK, recorder.Code)

	body := decodeBody(t, recorder)
	assert.Equal(t, "Messages marked as seen", body["message"])
	assert.Equal(t, 1.0, body["count"])
}

func TestUserSearchEndpoint(t *testing.T) {
	initializeTestServer(t)
	router := NewRouter()

	callerToken, _ := signUpTestUser(t, router, "pepper", "pepper@avengers.com", "+14165550100", models.DOCTOR_ROLE)
	_, matchID := signUpTestUser(t, router, "happy", "happy@avengers.com", "+14165550199", models.DOCTOR_ROLE)

	recorder := doRequest(router, "GET", "/users/search?phoneNumber=(416)%20555", callerToken, nil)
	assert.Equal(t, http.StatusOK, recorder.Code)

	results := []map[string]interface{}{}
	assert.Nil(t, json.Unmarshal(recorder.Body.Bytes(), &results))
	assert.Len(t, results, 1, "Caller is excluded from their own search")
	assert.Equal(t, float64(matchID), results[0]["id"])

	recorder = doRequest(router, "GET", "/users/search?phoneNumber=--", callerToken, nil)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder = doRequest(router, "GET", "/users/by-phone?phoneNumber=%2B14165550199", callerToken, nil)
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "happy", decodeBody(t, recorder)["name"])

	recorder = doRequest(router, "GET", "/users/by-phone", callerToken, nil)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder = doRequest(router, "GET", "/users/by-phone?phoneNumber=%2B19999999999", callerToken, nil)
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestSystemEndpoints(t *testing.T) {
	initializeTestServer(t)
	router := NewRouter()

	recorder := doRequest(router, "GET", "/", "", nil)
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "healthy", decodeBody(t, recorder)["status"])

	recorder = doRequest(router, "GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, recorder.Code)

	body := decodeBody(t, recorder)
	assert.Equal(t, "UP", body["status"])
	assert.Equal(t, "connected", body["database"])

	recorder = doRequest(router, "GET", "/.well-known/jwks.json", "", nil)
	assert.Equal(t, http.StatusOK, recorder.Code)

	jwksBody := decodeBody(t, recorder)
	keys := jwksBody["keys"].([]interface{})
	assert.Len(t, keys, 1)
	assert.Equal(t, "hce-backend-key-id", keys[0].(map[string]interface{})["kid"])
}
