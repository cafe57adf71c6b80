package domain

// Role identifies which of the four cooperating WIP servers a passphrase,
// port, or log entry belongs to.
type Role string

const (
	RoleWeather  Role = "weather"
	RoleLocation Role = "location"
	RoleQuery    Role = "query"
	RoleReport   Role = "report"
)
