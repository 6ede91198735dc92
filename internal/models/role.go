package models

// Role is the caller's role as carried in access tokens.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
	RoleUser    Role = "user"
)
