package user

import (
	"database/sql"
	"time"

	"github.com/jobportal/identity/internal/guard"
	"github.com/lib/pq"
)

// User represents a row of the users table
type User struct {
	ID                 string         `db:"id" json:"id"`
	Name               string         `db:"name" json:"name"`
	Email              string         `db:"email" json:"email"`
	PasswordDigest     string         `db:"password_digest" json:"-"`
	Role               guard.Role     `db:"role" json:"role"`
	Verified           bool           `db:"verified" json:"verified"`
	Skills             pq.StringArray `db:"skills" json:"skills,omitempty"`
	ResumeURL          sql.NullString `db:"resume_url" json:"resume_url,omitempty"`
	CompanyName        sql.NullString `db:"company_name" json:"company_name,omitempty"`
	CompanyWebsite     sql.NullString `db:"company_website" json:"company_website,omitempty"`
	CompanyDescription sql.NullString `db:"company_description" json:"company_description,omitempty"`
	LastLoggedOn       sql.NullTime   `db:"last_logged_on" json:"last_logged_on,omitempty"`
	CreatedAt          time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at" json:"updated_at"`
}

// Profile is the identity document shared with clients. Exactly one of
// Jobseeker or Employer is set, matching Role.
type Profile struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Email     string            `json:"email"`
	Role      guard.Role        `json:"role"`
	Verified  bool              `json:"verified"`
	Jobseeker *JobseekerDetails `json:"jobseeker,omitempty"`
	Employer  *EmployerDetails  `json:"employer,omitempty"`
}

// JobseekerDetails holds jobseeker-only fields
type JobseekerDetails struct {
	Skills    []string `json:"skills,omitempty"`
	ResumeURL string   `json:"resume_url,omitempty"`
}

// EmployerDetails holds employer-only fields
type EmployerDetails struct {
	CompanyName        string `json:"company_name,omitempty"`
	CompanyWebsite     string `json:"company_website,omitempty"`
	CompanyDescription string `json:"company_description,omitempty"`
}

// Identity returns the guard's view of the profile
func (p *Profile) Identity() *guard.Identity {
	if p == nil {
		return nil
	}
	return &guard.Identity{Subject: p.ID, Role: p.Role}
}

// Profile converts a row to the shared profile document
func (u *User) Profile() *Profile {
	p := &Profile{
		ID:       u.ID,
		Name:     u.Name,
		Email:    u.Email,
		Role:     u.Role,
		Verified: u.Verified,
	}

	switch u.Role {
	case guard.RoleJobseeker:
		p.Jobseeker = &JobseekerDetails{
			Skills:    []string(u.Skills),
			ResumeURL: u.ResumeURL.String,
		}
	case guard.RoleEmployer:
		p.Employer = &EmployerDetails{
			CompanyName:        u.CompanyName.String,
			CompanyWebsite:     u.CompanyWebsite.String,
			CompanyDescription: u.CompanyDescription.String,
		}
	}

	return p
}
