package service

import (
	"context"
	"errors"
	"sort"
	"strings"

	"go.uber.org/zap"

	"juninpagos/backend/internal/domain"
	"juninpagos/backend/internal/storage"
)

const defaultTemplateCategory = "general"

// TemplateInput is the create form of a template.
type TemplateInput struct {
	Name      string                    `json:"name"`
	Subject   string                    `json:"subject"`
	BodyHTML  string                    `json:"body_html"`
	BodyText  *string                   `json:"body_text"`
	Variables []domain.TemplateVariable `json:"variables"`
	Category  string                    `json:"category"`
	CreatedBy string                    `json:"-"`
}

// TemplateService 邮件模板服务
type TemplateService struct {
	store  storage.TemplateRepository
	logger *zap.Logger
}

// NewTemplateService 创建模板服务
func NewTemplateService(store storage.TemplateRepository, logger *zap.Logger) *TemplateService {
	return &TemplateService{store: store, logger: logger}
}

// List returns templates sorted by name.
func (s *TemplateService) List(ctx context.Context, category string, activeOnly bool) ([]domain.EmailTemplate, error) {
	templates, err := s.store.ListTemplates(ctx, storage.TemplateQuery{Category: category, ActiveOnly: activeOnly})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(templates, func(i, j int) bool {
		return templates[i].Name < templates[j].Name
	})
	if templates == nil {
		templates = []domain.EmailTemplate{}
	}
	return templates, nil
}

// Create 创建模板
func (s *TemplateService) Create(ctx context.Context, in TemplateInput) (*domain.EmailTemplate, error) {
	if strings.TrimSpace(in.Name) == "" || strings.TrimSpace(in.Subject) == "" || strings.TrimSpace(in.BodyHTML) == "" {
		return nil, validationError("Nombre, asunto y contenido son requeridos")
	}
	category := in.Category
	if category == "" {
		category = defaultTemplateCategory
	}

	tpl := &domain.EmailTemplate{
		Name:      strings.TrimSpace(in.Name),
		Subject:   in.Subject,
		BodyHTML:  in.BodyHTML,
		BodyText:  in.BodyText,
		Variables: in.Variables,
		Category:  category,
		IsActive:  true,
	}
	if tpl.Variables == nil {
		tpl.Variables = []domain.TemplateVariable{}
	}
	if in.CreatedBy != "" {
		by := in.CreatedBy
		tpl.CreatedBy = &by
	}

	if err := s.store.CreateTemplate(ctx, tpl); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, ErrTemplateExists
		}
		return nil, err
	}
	s.logger.Info("template created", zap.String("template_id", tpl.ID), zap.String("name", tpl.Name))
	return tpl, nil
}

// Update 更新模板白名单字段
func (s *TemplateService) Update(ctx context.Context, id string, patch domain.TemplatePatch) (*domain.EmailTemplate, error) {
	if id == "" {
		return nil, validationError("ID de template requerido")
	}
	if patch.Empty() {
		return nil, validationError("No hay datos para actualizar")
	}
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return nil, validationError("El nombre no puede estar vacío")
	}

	tpl, err := s.store.GetTemplate(ctx, id)
	if err != nil {
		return nil, notFound(err, ErrTemplateNotFound)
	}
	patch.Apply(tpl)
	if err := s.store.UpdateTemplate(ctx, tpl); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, ErrTemplateExists
		}
		return nil, notFound(err, ErrTemplateNotFound)
	}
	return tpl, nil
}

// Delete 删除模板
func (s *TemplateService) Delete(ctx context.Context, id string) error {
	if id == "" {
		return validationError("ID de template requerido")
	}
	return notFound(s.store.DeleteTemplate(ctx, id), ErrTemplateNotFound)
}
