package models

import "go.mongodb.org/mongo-driver/bson/primitive"

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleAdmin:
		return true
	}
	return false
}

type User struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	FullName  string             `bson:"fullName" json:"fullName"`
	Email     string             `bson:"email" json:"email"`
	Password  string             `bson:"password" json:"-"` // Hide from JSON responses
	Role      Role               `bson:"role" json:"role"`
	Phone     string             `bson:"phone" json:"phone"`
	Specialty string             `bson:"specialty,omitempty" json:"specialty,omitempty"` // doctors only
}
