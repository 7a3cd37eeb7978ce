package repo

import "database/sql"

// Repositories groups every repository the services depend on
type Repositories struct {
	Persons       PersonRepo
	Events        EventRepo
	Registrations RegistrationRepo
	Epass         EpassRepo
	Checkins      CheckinRepo
}

// NewRepositories wires all PostgreSQL repositories over one pool
func NewRepositories(db *sql.DB) *Repositories {
	return &Repositories{
		Persons:       NewPersonRepo(db),
		Events:        NewEventRepo(db),
		Registrations: NewRegistrationRepo(db),
		Epass:         NewEpassRepo(db),
		Checkins:      NewCheckinRepo(db),
	}
}
