package service

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/nyaruka/phonenumbers"
	"go.uber.org/zap"

	"juninpagos/backend/internal/domain"
	"juninpagos/backend/internal/monitoring"
	"juninpagos/backend/internal/storage"
)

const (
	defaultLeadLimit = 100
	maxLeadLimit     = 1000
)

var leadSortFields = map[string]bool{
	"created_at": true,
	"nombre":     true,
	"localidad":  true,
	"estado":     true,
}

// ContactInput is the public contact form body.
type ContactInput struct {
	Nombre    string `json:"nombre" validate:"min=2,max=100"`
	Telefono  string `json:"telefono" validate:"min=8,max=20,telefono"`
	Localidad string `json:"localidad" validate:"max=100"`
}

// contactMessages holds the user-facing message for each field/tag failure.
var contactMessages = map[string]string{
	"Nombre.min":        "El nombre debe tener al menos 2 caracteres",
	"Nombre.max":        "El nombre no puede exceder 100 caracteres",
	"Telefono.min":      "El telefono debe tener al menos 8 digitos",
	"Telefono.max":      "El telefono no puede exceder 20 caracteres",
	"Telefono.telefono": "Formato de telefono invalido",
	"Localidad.max":     "La localidad no puede exceder 100 caracteres",
}

// LeadListFilter selects a page of leads.
type LeadListFilter struct {
	Page      int
	Limit     int
	SortBy    string
	SortOrder string // asc or desc
}

// LeadUpdateInput carries the admin-editable lead fields.
type LeadUpdateInput struct {
	Estado *domain.LeadStatus `json:"estado"`
	Notas  *string            `json:"notas"`
}

// LeadService 线索服务
type LeadService struct {
	store       storage.LeadRepository
	validate    *validator.Validate
	region      string
	publisher   LeadPublisher
	broadcaster Broadcaster
	metrics     *monitoring.Metrics
	logger      *zap.Logger
}

// NewLeadService 创建线索服务。publisher、broadcaster 和 metrics 可以为 nil。
func NewLeadService(
	store storage.LeadRepository,
	region string,
	publisher LeadPublisher,
	broadcaster Broadcaster,
	metrics *monitoring.Metrics,
	logger *zap.Logger,
) *LeadService {
	v := validator.New()
	_ = v.RegisterValidation("telefono", func(fl validator.FieldLevel) bool {
		return domain.ValidatePhone(fl.Field().String()) == nil
	})

	if region == "" {
		region = "AR"
	}
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if broadcaster == nil {
		broadcaster = nopBroadcaster{}
	}
	return &LeadService{
		store:       store,
		validate:    v,
		region:      strings.ToUpper(region),
		publisher:   publisher,
		broadcaster: broadcaster,
		metrics:     metrics,
		logger:      logger,
	}
}

// ValidateContact checks the form and returns the trimmed values. All failing
// rules are reported, joined by ", ".
func (s *LeadService) ValidateContact(in ContactInput) (ContactInput, error) {
	if err := s.validate.Struct(in); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return in, validationError("%v", err)
		}
		msgs := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			msg, ok := contactMessages[fe.StructField()+"."+fe.Tag()]
			if !ok {
				msg = fe.Error()
			}
			msgs = append(msgs, msg)
		}
		return in, validationError("%s", strings.Join(msgs, ", "))
	}

	return ContactInput{
		Nombre:    strings.TrimSpace(in.Nombre),
		Telefono:  strings.TrimSpace(in.Telefono),
		Localidad: strings.TrimSpace(in.Localidad),
	}, nil
}

// NormalizePhone returns the E.164 form of phone, or "" when it cannot be
// parsed as a valid number of the configured region.
func (s *LeadService) NormalizePhone(phone string) string {
	num, err := phonenumbers.Parse(phone, s.region)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return ""
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}

// Submit validates and stores a contact form submission.
func (s *LeadService) Submit(ctx context.Context, in ContactInput, ip string) (*domain.Lead, error) {
	clean, err := s.ValidateContact(in)
	if err != nil {
		return nil, err
	}

	lead := &domain.Lead{
		Nombre:       clean.Nombre,
		Telefono:     clean.Telefono,
		TelefonoE164: s.NormalizePhone(clean.Telefono),
		Localidad:    clean.Localidad,
		IP:           ip,
		Estado:       domain.LeadNuevo,
	}
	if err := s.store.CreateLead(ctx, lead); err != nil {
		s.logger.Error("failed to store lead", zap.Error(err))
		return nil, err
	}

	s.logger.Info("lead submitted",
		zap.Int64("lead_id", lead.ID),
		zap.String("nombre", lead.Nombre),
		zap.String("telefono", lead.Telefono),
	)
	s.metrics.RecordLeadSubmitted()
	s.broadcaster.Broadcast(EventLeadCreated, lead)

	if err := s.publisher.PublishLeadCreated(ctx, *lead); err != nil {
		// 通知失败不影响线索保存
		s.logger.Warn("failed to publish lead notification", zap.Int64("lead_id", lead.ID), zap.Error(err))
	}
	return lead, nil
}

// List returns a page of leads.
func (s *LeadService) List(ctx context.Context, f LeadListFilter) (Page[domain.Lead], error) {
	page, limit := clampPaging(f.Page, f.Limit, defaultLeadLimit, maxLeadLimit)

	sortBy := f.SortBy
	if !leadSortFields[sortBy] {
		sortBy = "created_at"
	}

	leads, total, err := s.store.ListLeads(ctx, storage.LeadQuery{
		Page:      page,
		Limit:     limit,
		SortBy:    sortBy,
		Ascending: strings.EqualFold(f.SortOrder, "asc"),
	})
	if err != nil {
		return Page[domain.Lead]{}, err
	}
	return newPage(leads, page, limit, total), nil
}

// ListAll returns every lead, newest first.
func (s *LeadService) ListAll(ctx context.Context) ([]domain.Lead, error) {
	leads, _, err := s.store.ListLeads(ctx, storage.LeadQuery{SortBy: "created_at"})
	if err != nil {
		return nil, err
	}
	if leads == nil {
		leads = []domain.Lead{}
	}
	return leads, nil
}

// Update changes the triage state or notes of a lead.
func (s *LeadService) Update(ctx context.Context, id int64, in LeadUpdateInput) (*domain.Lead, error) {
	if in.Estado == nil && in.Notas == nil {
		return nil, validationError("no hay campos para actualizar")
	}
	if in.Estado != nil && !in.Estado.Valid() {
		return nil, validationError("estado invalido: %s", *in.Estado)
	}

	lead, err := s.store.GetLead(ctx, id)
	if err != nil {
		return nil, notFound(err, ErrLeadNotFound)
	}
	if in.Estado != nil {
		lead.Estado = *in.Estado
	}
	if in.Notas != nil {
		lead.Notas = *in.Notas
	}
	if err := s.store.UpdateLead(ctx, lead); err != nil {
		return nil, notFound(err, ErrLeadNotFound)
	}
	return lead, nil
}

// Delete removes a lead.
func (s *LeadService) Delete(ctx context.Context, id int64) error {
	return notFound(s.store.DeleteLead(ctx, id), ErrLeadNotFound)
}
