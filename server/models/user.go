package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/Steven867533/hce-backend/server/auth"
	"gorm.io/gorm"
)

const (
	PATIENT_ROLE   = "Patient"
	COMPANION_ROLE = "Companion"
	DOCTOR_ROLE    = "Doctor"
)

var UserRoleNameMap = map[string]bool{
	PATIENT_ROLE:   true,
	COMPANION_ROLE: true,
	DOCTOR_ROLE:    true,
}

var BloodPressureTypeNameMap = map[string]bool{
	"High":    true,
	"Average": true,
	"Low":     true,
	"N/A":     true,
}

// Lookup errors surfaced to clients as 404s. The text matches the
// wire messages the mobile clients already display.
var (
	ErrDoctorNotFound    = errors.New("Doctor not found with the provided phone number")
	ErrCompanionNotFound = errors.New("Companion not found with the provided phone number")
	ErrPatientNotFound   = errors.New("Patient not found with the provided phone number")
)

// Relationship invariant errors, enforced on profile update only.
// A freshly signed-up Patient may exist without links until the first
// profile update touches the record.
var (
	ErrPatientLinkRequired   = errors.New("patientId is required for companions")
	ErrDoctorLinkRequired    = errors.New("doctorId is required for patients")
	ErrCompanionLinkRequired = errors.New("companionId is required for patients")
)

var allFieldsExceptPassword = []string{"id",
	"name",
	"email",
	"phone_number",
	"birthdate",
	"role",
	"doctor_id",
	"companion_id",
	"patient_id",
	"blood_pressure_type",
	"created_at",
	"updated_at",
}

type User struct {
	BaseModel
	Name              string    `json:"name" validate:"required"`
	Email             string    `json:"email" validate:"required,email" gorm:"not null;unique"`
	Password          string    `json:"password,omitempty" validate:"required,password" gorm:"not null"`
	PhoneNumber       string    `json:"phoneNumber" validate:"required,phone_number" gorm:"not null;unique"`
	Birthdate         time.Time `json:"birthdate"`
	Role              string    `json:"role" validate:"required,user_role"`
	DoctorID          *uint     `json:"doctorId,omitempty"`
	CompanionID       *uint     `json:"companionId,omitempty"`
	PatientID         *uint     `json:"patientId,omitempty"`
	BloodPressureType string    `json:"bloodPressureType,omitempty" validate:"omitempty,blood_pressure" gorm:"default:N/A"`
}

// UserProfileUpdate is the allow-listed shape of a profile update.
// Password and role are deliberately not part of it, so no payload can
// ever touch them through this path.
type UserProfileUpdate struct {
	Name                 string `json:"name"`
	Email                string `json:"email" validate:"omitempty,email"`
	PhoneNumber          string `json:"phoneNumber" validate:"omitempty,phone_number"`
	Birthdate            string `json:"birthdate"`
	BloodPressureType    string `json:"bloodPressureType" validate:"omitempty,blood_pressure"`
	DoctorPhoneNumber    string `json:"doctorPhoneNumber"`
	CompanionPhoneNumber string `json:"companionPhoneNumber"`
	PatientPhoneNumber   string `json:"patientPhoneNumber"`
}

// UpdateProfile applies an allow-listed profile update, resolving any
// phone-number relationship references into record ids first. All lookups
// run before the single mutating update, so a failed lookup leaves the
// record untouched.
func (user *User) UpdateProfile(params *UserProfileUpdate) error {
	updates := map[string]interface{}{}

	if params.Name != "" {
		updates["name"] = params.Name
	}
	if params.Email != "" {
		updates["email"] = params.Email
	}
	if params.PhoneNumber != "" {
		updates["phone_number"] = params.PhoneNumber
	}
	if params.BloodPressureType != "" {
		updates["blood_pressure_type"] = params.BloodPressureType
	}
	if params.Birthdate != "" {
		birthdate, err := ParseDate(params.Birthdate)
		if err != nil {
			return err
		}
		updates["birthdate"] = birthdate
	}

	// Phone-number references only resolve for the role they belong to;
	// for any other role the field is ignored, as the clients send the
	// whole form regardless.
	doctorID, companionID, patientID := user.DoctorID, user.CompanionID, user.PatientID

	if params.DoctorPhoneNumber != "" && user.Role == PATIENT_ROLE {
		doctor, err := FindUserByPhoneAndRole(params.DoctorPhoneNumber, DOCTOR_ROLE)
		if err != nil {
			return ErrDoctorNotFound
		}
		doctorID = &doctor.ID
		updates["doctor_id"] = doctor.ID
	}

	if params.CompanionPhoneNumber != "" && user.Role == PATIENT_ROLE {
		companion, err := FindUserByPhoneAndRole(params.CompanionPhoneNumber, COMPANION_ROLE)
		if err != nil {
			return ErrCompanionNotFound
		}
		companionID = &companion.ID
		updates["companion_id"] = companion.ID
	}

	if params.PatientPhoneNumber != "" && user.Role == COMPANION_ROLE {
		patient, err := FindUserByPhoneAndRole(params.PatientPhoneNumber, PATIENT_ROLE)
		if err != nil {
			return ErrPatientNotFound
		}
		patientID = &patient.ID
		updates["patient_id"] = patient.ID
	}

	if err := validateRelationshipLinks(user.Role, doctorID, companionID, patientID); err != nil {
		return err
	}

	if len(updates) == 0 {
		return nil
	}

	return db.Model(&User{}).Where("id = ?", user.ID).Updates(updates).Error
}

// validateRelationshipLinks enforces the role-pair invariant on the
// post-update state: a Companion references exactly one Patient, a
// Patient references one Doctor and one Companion.
func validateRelationshipLinks(role string, doctorID, companionID, patientID *uint) error {
	switch role {
	case COMPANION_ROLE:
		if patientID == nil {
			return ErrPatientLinkRequired
		}
	case PATIENT_ROLE:
		if doctorID == nil {
			return ErrDoctorLinkRequired
		}
		if companionID == nil {
			return ErrCompanionLinkRequired
		}
	}

	return nil
}

func FindUserBy(field string, value interface{}) (*User, error) {
	user := User{}
	err := db.Select(allFieldsExceptPassword).First(&user, fmt.Sprintf("%v = ?", field), value).Error
	if err != nil {
		return nil, err
	}

	return &user, nil
}

func FindUserByPhoneAndRole(phoneNumber, role string) (*User, error) {
	user := User{}
	err := db.Select(allFieldsExceptPassword).
		First(&user, "phone_number = ? AND role = ?", phoneNumber, role).Error
	if err != nil {
		return nil, err
	}

	return &user, nil
}

// FindUserForLogin returns the full record including the password hash.
// Only the login handler should use it.
func FindUserForLogin(email string) (*User, error) {
	user := User{}
	err := db.First(&user, "email = ?", email).Error
	if err != nil {
		return nil, err
	}

	return &user, nil
}

// SearchUsersByPhoneDigits matches the digits-only form of stored phone
// numbers against a digits-only substring, excluding the caller. Only
// name and phone number are projected.
func SearchUsersByPhoneDigits(digits string, excludeUserID uint) ([]User, error) {
	users := []User{}

	err := db.Select("id", "name", "phone_number").
		Where("replace(phone_number, '+', '') LIKE ? AND id != ?", "%"+digits+"%", excludeUserID).
		Find(&users).Error
	if err != nil {
		return nil, err
	}

	return users, nil
}

func CreateUser(user *User) error {
	passwordHash, err := auth.HashPassword(user.Password)
	if err != nil {
		return err
	}
	user.Password = passwordHash

	if user.BloodPressureType == "" || user.Role != PATIENT_ROLE {
		user.BloodPressureType = "N/A"
	}

	return db.Create(user).Error
}

func UserExistsWithEmail(email string) (bool, error) {
	err := db.Select("id").First(&User{}, "email = ?", email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return true, nil
}

// ParseDate accepts the date-only form the clients send, falling back
// to a full RFC3339 timestamp.
func ParseDate(value string) (time.Time, error) {
	parsed, err := time.Parse("2006-01-02", value)
	if err == nil {
		return parsed, nil
	}

	return time.Parse(time.RFC3339, value)
}
