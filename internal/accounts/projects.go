package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"licensemarket/internal/models"
)

var ErrProjectExists = errors.New("project name taken")

type NewProject struct {
	Project  string `json:"project" binding:"required"`
	URL      string `json:"url" binding:"required"`
	Price    int64  `json:"price" binding:"required"`
	Category string `json:"category" binding:"required"`
}

func (p *NewProject) normalize() {
	p.Project = strings.ToLower(strings.TrimSpace(p.Project))
	p.URL = strings.TrimSpace(p.URL)
	p.Category = strings.ToLower(strings.TrimSpace(p.Category))
}

func (p *NewProject) validate() error {
	switch {
	case !models.ValidProjectName(p.Project):
		return &models.FieldError{Field: "project", Message: "project names are 3 to 16 lower-case letters and digits"}
	case !models.ValidURL(p.URL):
		return &models.FieldError{Field: "url", Message: "invalid URL"}
	case !models.ValidPrice(p.Price):
		return &models.FieldError{Field: "price", Message: fmt.Sprintf("price must be between %d and %d", models.MinimumPrice, models.MaximumPrice)}
	case !models.ValidCategory(p.Category):
		return &models.FieldError{Field: "category", Message: "invalid category"}
	}
	return nil
}

// CreateProject lists a new project for handle at the current minimum
// commission.
func (s *Service) CreateProject(ctx context.Context, handle string, req NewProject) (*models.Project, error) {
	req.normalize()
	if err := req.validate(); err != nil {
		return nil, err
	}

	project := &models.Project{
		Project:    req.Project,
		Handle:     handle,
		URLs:       []string{req.URL},
		Price:      req.Price,
		Commission: s.MinimumCommission,
		Category:   req.Category,
		Created:    s.Now().UTC(),
		Badges:     map[string]bool{},
		Customers:  []models.Customer{},
	}
	created, err := s.Records.Projects.Write(ctx, project.Key(), project)
	if err != nil {
		return nil, fmt.Errorf("write project: %w", err)
	}
	if !created {
		return nil, ErrProjectExists
	}

	account, err := s.Records.Accounts.Update(ctx, handle, func(a *models.Account) error {
		a.Projects = append(a.Projects, req.Project)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("add project to account: %w", err)
	}
	if account == nil {
		return nil, ErrNotFound
	}
	s.Logger.Info("created project", "handle", handle, "project", req.Project)
	return project, nil
}

type ProjectRef struct {
	Handle  string `json:"handle"`
	Project string `json:"project"`
}

// PublicAccount is the part of an account anyone may see.
type PublicAccount struct {
	Handle    string          `json:"handle"`
	Name      string          `json:"name"`
	Location  string          `json:"location"`
	URLs      []string        `json:"urls"`
	Created   time.Time       `json:"created"`
	Badges    map[string]bool `json:"badges"`
	Projects  []string        `json:"projects"`
	Connected bool            `json:"connected"`
	Licenses  []ProjectRef    `json:"licenses"`
}

func (s *Service) PublicAccount(ctx context.Context, handle string) (*PublicAccount, error) {
	account, err := s.Account(ctx, handle)
	if err != nil {
		return nil, err
	}
	public := &PublicAccount{
		Handle:    account.Handle,
		Name:      account.Name,
		Location:  account.Location,
		URLs:      account.URLs,
		Created:   account.Created,
		Badges:    account.Badges,
		Projects:  account.Projects,
		Connected: account.Stripe.Connected,
		Licenses:  []ProjectRef{},
	}

	index, err := s.Records.Emails.Read(ctx, account.Email)
	if err != nil {
		return nil, fmt.Errorf("read e-mail index: %w", err)
	}
	if index == nil {
		return public, nil
	}

	orders := make([]*models.Order, len(index.OrderIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, id := range index.OrderIDs {
		g.Go(func() error {
			order, err := s.Records.Orders.Read(gctx, id)
			orders[i] = order
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("read orders: %w", err)
	}
	for _, order := range orders {
		if order != nil {
			public.Licenses = append(public.Licenses, ProjectRef{Handle: order.Handle, Project: order.Project})
		}
	}
	return public, nil
}

// PublicProject is a project page: terms, and the names of its customers.
type PublicProject struct {
	Project   string          `json:"project"`
	Handle    string          `json:"handle"`
	URLs      []string        `json:"urls"`
	Price     int64           `json:"price"`
	Category  string          `json:"category"`
	Created   time.Time       `json:"created"`
	Badges    map[string]bool `json:"badges"`
	Customers []string        `json:"customers"`
	// ForSale is false while the seller has no connected Stripe account.
	ForSale bool `json:"forSale"`
}

func (s *Service) PublicProject(ctx context.Context, handle, name string) (*PublicProject, error) {
	var (
		project *models.Project
		seller  *models.Account
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		project, err = s.Records.Projects.Read(gctx, models.ProjectKey(handle, name))
		return err
	})
	g.Go(func() (err error) {
		seller, err = s.Records.Accounts.Read(gctx, handle)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if project == nil || seller == nil {
		return nil, ErrNotFound
	}

	customers := make([]string, 0, len(project.Customers))
	for _, c := range project.Customers {
		customers = append(customers, c.Name)
	}
	return &PublicProject{
		Project:   project.Project,
		Handle:    project.Handle,
		URLs:      project.URLs,
		Price:     project.Price,
		Category:  project.Category,
		Created:   project.Created,
		Badges:    project.Badges,
		Customers: customers,
		ForSale:   seller.Stripe.Connected,
	}, nil
}
