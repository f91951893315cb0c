//go:build protogen

package catalog

import (
	"context"
	"time"

	"github.com/booksmart-dev/booksmart/libs/grpcx"
	catalogv1 "github.com/booksmart-dev/booksmart/protos/gen/catalog/v1"
)

type grpcProvider struct {
	client catalogv1.CatalogServiceClient
}

// NewGRPCProvider dials the catalog service. An empty addr yields a nil
// provider, which callers treat as "catalog unavailable".
func NewGRPCProvider(addr string) (Provider, error) {
	if addr == "" {
		return nil, nil
	}
	conn, err := grpcx.Dial(context.Background(), addr, grpcx.DialOptions{Timeout: 3 * time.Second})
	if err != nil {
		return nil, err
	}
	return &grpcProvider{client: catalogv1.NewCatalogServiceClient(conn)}, nil
}

func (p *grpcProvider) GetBusiness(ctx context.Context, id string) (Business, error) {
	resp, err := p.client.GetBusiness(ctx, &catalogv1.GetBusinessRequest{Id: id})
	if err != nil {
		return Business{}, err
	}
	return Business{
		ID:           resp.GetId(),
		OwnerID:      resp.GetOwnerId(),
		Name:         resp.GetName(),
		WorkingHours: resp.GetWorkingHours(),
	}, nil
}

func (p *grpcProvider) GetEmployee(ctx context.Context, id string) (Employee, error) {
	resp, err := p.client.GetEmployee(ctx, &catalogv1.GetEmployeeRequest{Id: id})
	if err != nil {
		return Employee{}, err
	}
	return Employee{
		ID:         resp.GetId(),
		BusinessID: resp.GetBusinessId(),
		Name:       resp.GetName(),
		Position:   resp.GetPosition(),
	}, nil
}

func (p *grpcProvider) GetService(ctx context.Context, id string) (Service, error) {
	resp, err := p.client.GetService(ctx, &catalogv1.GetServiceRequest{Id: id})
	if err != nil {
		return Service{}, err
	}
	return Service{
		ID:         resp.GetId(),
		BusinessID: resp.GetBusinessId(),
		EmployeeID: resp.GetEmployeeId(),
		Name:       resp.GetName(),
		Price:      resp.GetPrice(),
	}, nil
}
