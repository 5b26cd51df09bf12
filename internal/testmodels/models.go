// Package testmodels holds entity fixtures shared by package tests.
package testmodels

import (
	"context"
	"fmt"
	"time"

	mts "github.com/cdsframework/mts-support-core-sub000"
)

// Gender is stored as a one-letter code through the default Value/Scan
// accessor pair.
type Gender int

const (
	GenderUnknown Gender = iota
	GenderFemale
	GenderMale
)

var genderCodes = map[Gender]string{GenderUnknown: "U", GenderFemale: "F", GenderMale: "M"}

func (g Gender) Value() (string, error) {
	code, ok := genderCodes[g]
	if !ok {
		return "", fmt.Errorf("unknown gender %d", int(g))
	}
	return code, nil
}

func (g *Gender) Scan(code string) error {
	for k, v := range genderCodes {
		if v == code {
			*g = k
			return nil
		}
	}
	return fmt.Errorf("unknown gender code %q", code)
}

// Status uses a custom accessor pair declared on the field tag.
type Status int16

const (
	StatusPlanned Status = iota + 1
	StatusInProgress
	StatusFinished
)

func (s Status) Code() int { return int(s) * 10 }

func (s *Status) FromCode(code int) { *s = Status(code / 10) }

// Organization is referenced by other entities and read through a view.
type Organization struct {
	mts.BaseEntity `mts:"table:organization,view:organization_v,parent:nodelete"`
	OrgID          int64  `mts:"pk,gen:sequence"`
	Name           string `mts:"sort:1"`
}

// Patient is an audited aggregate root with an AUTO text key.
type Patient struct {
	mts.BaseEntity `mts:"table:patient,alias:p,audit,parent:addschildren|deleteschildren"`
	PatientID      string        `mts:"pk,gen:auto"`
	LastName       string        `mts:"sort:1"`
	FirstName      string        `mts:"sort:2"`
	BirthDate      time.Time     `mts:"column:dob"`
	Active         bool          `mts:"bool:char"`
	Gender         Gender        `mts:""`
	Weight         float32       `mts:""`
	Organization   *Organization `mts:"column:org_id"`
	Notes          string        `mts:"-"`
}

func (*Patient) Relationships() []mts.Relationship {
	return []mts.Relationship{
		{Child: mts.TypeOf[Address](), QueryToken: "addresses", AutoRetrieve: true, Cascade: true},
		{Child: mts.TypeOf[Encounter](), QueryToken: "encounters", AutoRetrieve: true, NotFoundAllowed: true, Cascade: true},
		{Child: mts.TypeOf[Address](), QueryToken: "billingAddresses"},
	}
}

func (p *Patient) SetLastName(v string) { mts.Set(p, "LastName", &p.LastName, v) }

func (p *Patient) SetFirstName(v string) { mts.Set(p, "FirstName", &p.FirstName, v) }

func (p *Patient) Validate(ctx context.Context) error {
	verr := &mts.ValidationError{}
	if p.LastName == "" {
		verr.AddForEntity(p, "LastName", "patient.lastname.required", "last name is required")
	}
	return verr.OrNil()
}

// Address belongs to a Patient through a foreign-constraint column.
type Address struct {
	mts.BaseEntity `mts:"table:address"`
	AddressID      int64  `mts:"pk,gen:auto"`
	PatientID      string `mts:"source:Patient"`
	Line1          string
	City           string `mts:"sort:1,desc"`
	PostalCode     string `mts:"column:zip,noupdate"`
}

func (a *Address) SetCity(v string) { mts.Set(a, "City", &a.City, v) }

func (a *Address) Validate(ctx context.Context) error {
	verr := &mts.ValidationError{}
	if a.Line1 == "" {
		verr.AddForEntity(a, "Line1", "address.line1.required", "line 1 is required")
	}
	if lineage := mts.LineageFrom(ctx); lineage != nil {
		if _, ok := lineage.Parent(a).(*Patient); !ok {
			verr.AddForEntity(a, "", "address.parent.patient", "address must belong to a patient")
		}
	}
	return verr.OrNil()
}

// Encounter has a composite key ranked independently of declaration order
// and two references to Organization told apart by field name.
type Encounter struct {
	mts.BaseEntity `mts:"table:encounter,alias:e"`
	Sequence       int32         `mts:"pk,rank:2"`
	PatientID      string        `mts:"pk,rank:1,source:Patient"`
	Status         Status        `mts:"enum:Code|FromCode"`
	Provider       *Organization `mts:"source:Organization,fieldname:provider,column:provider_id,readonly"`
	Facility       *Organization `mts:"source:Organization,fieldname:facility,column:facility_id"`
	Reason         string        `mts:"noselect"`
	Version        int64         `mts:"updatepred,deletepred"`
}

func (*Encounter) Relationships() []mts.Relationship {
	return []mts.Relationship{
		{Child: mts.TypeOf[EncounterNote](), QueryToken: "notes", Cascade: true},
	}
}

func (e *Encounter) SetReason(v string) { mts.Set(e, "Reason", &e.Reason, v) }

// EncounterNote is keyed by its parent encounter plus a line number.
type EncounterNote struct {
	mts.BaseEntity `mts:"table:encounter_note"`
	Encounter      *Encounter `mts:"pk,rank:1,source:Encounter"`
	Line           int16      `mts:"pk,rank:2"`
	Text           string
}

// AuditLog is a keyless, append-only entity.
type AuditLog struct {
	mts.BaseEntity `mts:"table:audit_log,nopk,readonly"`
	Message        string
	LoggedAt       time.Time
	Level          int16
}

// Sample returns a populated patient in state UNSET with no children.
func Sample() *Patient {
	p := mts.New[Patient]()
	p.PatientID = "p-1"
	p.LastName = "Doe"
	p.FirstName = "Jane"
	p.BirthDate = time.Date(1980, 2, 3, 0, 0, 0, 0, time.UTC)
	p.Active = true
	p.Gender = GenderFemale
	p.Weight = 61.5
	p.Base().Reset()
	return p
}

func init() {
	mts.RegisterType[Organization]()
	mts.RegisterType[Patient]()
	mts.RegisterType[Address]()
	mts.RegisterType[Encounter]()
	mts.RegisterType[EncounterNote]()
	mts.RegisterType[AuditLog]()
}
