package catalog

import "context"

// StaticProvider serves a fixed catalog snapshot. Used by tests and by dev
// deployments that run without the catalog service.
type StaticProvider struct {
	businesses map[string]Business
	employees  map[string]Employee
	services   map[string]Service
}

func NewStaticProvider(businesses []Business, employees []Employee, services []Service) *StaticProvider {
	p := &StaticProvider{
		businesses: make(map[string]Business, len(businesses)),
		employees:  make(map[string]Employee, len(employees)),
		services:   make(map[string]Service, len(services)),
	}
	for _, b := range businesses {
		p.businesses[b.ID] = b
	}
	for _, e := range employees {
		p.employees[e.ID] = e
	}
	for _, s := range services {
		p.services[s.ID] = s
	}
	return p
}

func (p *StaticProvider) GetBusiness(_ context.Context, id string) (Business, error) {
	b, ok := p.businesses[id]
	if !ok {
		return Business{}, ErrNotFound
	}
	return b, nil
}

func (p *StaticProvider) GetEmployee(_ context.Context, id string) (Employee, error) {
	e, ok := p.employees[id]
	if !ok {
		return Employee{}, ErrNotFound
	}
	return e, nil
}

func (p *StaticProvider) GetService(_ context.Context, id string) (Service, error) {
	s, ok := p.services[id]
	if !ok {
		return Service{}, ErrNotFound
	}
	return s, nil
}
