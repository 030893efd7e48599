package services

import (
	"context"

	"github.com/kweaver-ai/sandboxctl/internal/apperrors"
	"github.com/kweaver-ai/sandboxctl/internal/domain"
	"github.com/kweaver-ai/sandboxctl/internal/repository"
)

// CreateTemplateInput carries the fields a client supplies on POST
// /templates.
type CreateTemplateInput struct {
	ID             string
	DisplayName    string
	ImageRef       string
	RuntimeKind    string
	DefaultLimits  domain.ResourceLimit
	DefaultTimeout int
}

// UpdateTemplateInput carries the mutable fields a client may change on a
// template: display name and the defaults applied to new sessions.
type UpdateTemplateInput struct {
	DisplayName    string
	DefaultLimits  domain.ResourceLimit
	DefaultTimeout int
}

// TemplateService implements the template catalog CRUD operations.
type TemplateService struct {
	templates repository.TemplateRepository
}

func NewTemplateService(templates repository.TemplateRepository) *TemplateService {
	return &TemplateService{templates: templates}
}

func (s *TemplateService) CreateTemplate(ctx context.Context, in CreateTemplateInput) (*domain.Template, error) {
	if _, err := s.templates.Get(ctx, in.ID); err == nil {
		return nil, apperrors.TemplateDuplicate(in.ID)
	}

	tmpl := &domain.Template{
		ID:             in.ID,
		DisplayName:    in.DisplayName,
		ImageRef:       in.ImageRef,
		RuntimeKind:    domain.RuntimeKind(in.RuntimeKind),
		DefaultLimits:  in.DefaultLimits,
		DefaultTimeout: in.DefaultTimeout,
	}
	if err := tmpl.Validate(); err != nil {
		return nil, apperrors.TemplateValidation(err.Error())
	}

	if err := s.templates.Create(ctx, tmpl); err != nil {
		return nil, apperrors.Internal(err)
	}
	return tmpl, nil
}

func (s *TemplateService) GetTemplate(ctx context.Context, id string) (*domain.Template, error) {
	tmpl, err := s.templates.Get(ctx, id)
	if err != nil {
		return nil, apperrors.TemplateNotFound(id)
	}
	return tmpl, nil
}

func (s *TemplateService) ListTemplates(ctx context.Context) ([]*domain.Template, error) {
	tmpls, err := s.templates.List(ctx)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return tmpls, nil
}

func (s *TemplateService) UpdateTemplate(ctx context.Context, id string, in UpdateTemplateInput) (*domain.Template, error) {
	tmpl, err := s.templates.Get(ctx, id)
	if err != nil {
		return nil, apperrors.TemplateNotFound(id)
	}

	if in.DisplayName != "" {
		if err := tmpl.Rename(in.DisplayName); err != nil {
			return nil, apperrors.TemplateValidation(err.Error())
		}
	}
	if in.DefaultTimeout > 0 || in.DefaultLimits != (domain.ResourceLimit{}) {
		limits := tmpl.DefaultLimits
		if in.DefaultLimits != (domain.ResourceLimit{}) {
			limits = in.DefaultLimits
		}
		timeout := tmpl.DefaultTimeout
		if in.DefaultTimeout > 0 {
			timeout = in.DefaultTimeout
		}
		if err := tmpl.UpdateDefaults(limits, timeout); err != nil {
			return nil, apperrors.TemplateValidation(err.Error())
		}
	}

	if err := s.templates.Update(ctx, tmpl); err != nil {
		return nil, apperrors.Internal(err)
	}
	return tmpl, nil
}

func (s *TemplateService) DeleteTemplate(ctx context.Context, id string) error {
	if _, err := s.templates.Get(ctx, id); err != nil {
		return apperrors.TemplateNotFound(id)
	}
	if err := s.templates.Delete(ctx, id); err != nil {
		return apperrors.Internal(err)
	}
	return nil
}
