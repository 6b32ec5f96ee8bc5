package directory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type Service struct {
	patients PatientRepository
	doctors  DoctorRepository
}

func NewService(patients PatientRepository, doctors DoctorRepository) *Service {
	return &Service{patients: patients, doctors: doctors}
}

// -- Patients --

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	if p.FirstName == "" || p.LastName == "" {
		return fmt.Errorf("first_name and last_name are required")
	}
	return s.patients.Create(ctx, p)
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) UpdatePatient(ctx context.Context, p *Patient) error {
	if p.FirstName == "" || p.LastName == "" {
		return fmt.Errorf("first_name and last_name are required")
	}
	return s.patients.Update(ctx, p)
}

func (s *Service) DeactivatePatient(ctx context.Context, id uuid.UUID) error {
	return s.patients.Deactivate(ctx, id)
}

func (s *Service) ListPatients(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.patients.List(ctx, limit, offset)
}

// -- Doctors --

func (s *Service) CreateDoctor(ctx context.Context, d *Doctor) error {
	if d.FirstName == "" || d.LastName == "" {
		return fmt.Errorf("first_name and last_name are required")
	}
	return s.doctors.Create(ctx, d)
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return s.doctors.GetByID(ctx, id)
}

func (s *Service) UpdateDoctor(ctx context.Context, d *Doctor) error {
	if d.FirstName == "" || d.LastName == "" {
		return fmt.Errorf("first_name and last_name are required")
	}
	return s.doctors.Update(ctx, d)
}

func (s *Service) DeactivateDoctor(ctx context.Context, id uuid.UUID) error {
	return s.doctors.Deactivate(ctx, id)
}

func (s *Service) ListDoctors(ctx context.Context, specialty string, limit, offset int) ([]*Doctor, int, error) {
	if specialty != "" {
		return s.doctors.ListBySpecialty(ctx, specialty, limit, offset)
	}
	return s.doctors.List(ctx, limit, offset)
}

// PatientLookup and DoctorLookup expose active-record existence checks for
// the booking pipeline without handing it the whole registry.

type PatientLookup struct{ svc *Service }

func NewPatientLookup(svc *Service) *PatientLookup { return &PatientLookup{svc: svc} }

func (l *PatientLookup) ActiveExists(ctx context.Context, id uuid.UUID) (bool, error) {
	p, err := l.svc.GetPatient(ctx, id)
	if err != nil {
		return false, err
	}
	return p != nil && p.Active, nil
}

type DoctorLookup struct{ svc *Service }

func NewDoctorLookup(svc *Service) *DoctorLookup { return &DoctorLookup{svc: svc} }

func (l *DoctorLookup) ActiveExists(ctx context.Context, id uuid.UUID) (bool, error) {
	d, err := l.svc.GetDoctor(ctx, id)
	if err != nil {
		return false, err
	}
	return d != nil && d.Active, nil
}
