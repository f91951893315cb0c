// Package catalog exposes read-only reference data owned by the platform's
// catalog service: businesses, employees, and the services they perform. The
// scheduling core never writes any of it.
package catalog

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("catalog: not found")

type Business struct {
	ID           string
	OwnerID      string
	Name         string
	WorkingHours string // e.g. "Mon-Fri 9:00-17:00"
}

type Employee struct {
	ID         string
	BusinessID string
	Name       string
	Position   string
}

type Service struct {
	ID         string
	BusinessID string
	// EmployeeID is set when the service is performed by one specific
	// employee; empty means any employee of the business offers it.
	EmployeeID string
	Name       string
	Price      float64
}

type Provider interface {
	GetBusiness(ctx context.Context, id string) (Business, error)
	GetEmployee(ctx context.Context, id string) (Employee, error)
	GetService(ctx context.Context, id string) (Service, error)
}
