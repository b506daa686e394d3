package repository

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/pmuci/pointage/internal/domain/model"
)

// Fixture is the seed data of a MemoryStore, usually read from YAML.
type Fixture struct {
	Agencies    []FixtureAgency     `koanf:"agencies"`
	Chefs       []FixtureChef       `koanf:"chefs"`
	Employees   []FixtureEmployee   `koanf:"employees"`
	Assignments []FixtureAssignment `koanf:"assignments"`
}

type FixtureAgency struct {
	ID                string `koanf:"id"`
	Name              string `koanf:"name"`
	RequiredTerminals int    `koanf:"required_terminals"`
}

type FixtureChef struct {
	ID        string `koanf:"id"`
	FirstName string `koanf:"first_name"`
	LastName  string `koanf:"last_name"`
	AgencyID  string `koanf:"agency_id"`
}

type FixtureEmployee struct {
	ID              string `koanf:"id"`
	Matricule       string `koanf:"matricule"`
	FirstName       string `koanf:"first_name"`
	LastName        string `koanf:"last_name"`
	AgencyID        string `koanf:"agency_id"`
	Availability    string `koanf:"availability"`
	UnavailableFrom string `koanf:"unavailable_from"`
	UnavailableTo   string `koanf:"unavailable_to"`
}

type FixtureAssignment struct {
	Date       string `koanf:"date"`
	AgencyID   string `koanf:"agency_id"`
	EmployeeID string `koanf:"employee_id"`
	ChefID     string `koanf:"chef_id"`
}

// LoadFixture reads a YAML fixture file.
func LoadFixture(path string) (Fixture, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return Fixture{}, fmt.Errorf("load fixture %s: %w", path, err)
	}
	var f Fixture
	if err := k.Unmarshal("", &f); err != nil {
		return Fixture{}, fmt.Errorf("decode fixture %s: %w", path, err)
	}
	return f, nil
}

func (f FixtureEmployee) model() (model.Employee, error) {
	e := model.Employee{
		ID:           f.ID,
		Matricule:    f.Matricule,
		FirstName:    f.FirstName,
		LastName:     f.LastName,
		AgencyID:     f.AgencyID,
		Availability: model.Availability(f.Availability),
	}
	if e.Availability == "" {
		e.Availability = model.Available
	}
	if f.UnavailableFrom != "" && f.UnavailableTo != "" {
		from, err := model.ParseDay(f.UnavailableFrom)
		if err != nil {
			return model.Employee{}, fmt.Errorf("employee %s: %w", f.ID, err)
		}
		to, err := model.ParseDay(f.UnavailableTo)
		if err != nil {
			return model.Employee{}, fmt.Errorf("employee %s: %w", f.ID, err)
		}
		e.UnavailableFrom, e.UnavailableTo = &from, &to
	}
	return e, nil
}
