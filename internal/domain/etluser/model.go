package etluser

import "time"

// User is the ETL-side record of an authenticated username.
type User struct {
	ID       int64     `json:"id"`
	Username string    `json:"username"`
	Created  time.Time `json:"created"`
}
