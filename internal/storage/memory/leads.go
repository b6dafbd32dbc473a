package memory

import (
	"context"
	"sort"
	"strings"

	"juninpagos/backend/internal/domain"
	"juninpagos/backend/internal/storage"
)

// CreateLead 保存新线索并分配自增 ID。
func (s *Store) CreateLead(ctx context.Context, lead *domain.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextLeadID++
	lead.ID = s.nextLeadID
	now := s.now()
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = now
	}
	lead.UpdatedAt = now
	if lead.Estado == "" {
		lead.Estado = domain.LeadNuevo
	}

	stored := *lead
	s.leads[lead.ID] = &stored
	return nil
}

// GetLead 根据 ID 获取线索。
func (s *Store) GetLead(ctx context.Context, id int64) (*domain.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lead, ok := s.leads[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := *lead
	return &out, nil
}

// ListLeads 返回分页后的线索列表和总数。
func (s *Store) ListLeads(ctx context.Context, q storage.LeadQuery) ([]domain.Lead, int64, error) {
	s.mu.RLock()
	all := make([]domain.Lead, 0, len(s.leads))
	for _, lead := range s.leads {
		all = append(all, *lead)
	}
	s.mu.RUnlock()

	less := func(a, b domain.Lead) bool {
		switch q.SortBy {
		case "nombre":
			return strings.ToLower(a.Nombre) < strings.ToLower(b.Nombre)
		case "localidad":
			return strings.ToLower(a.Localidad) < strings.ToLower(b.Localidad)
		case "estado":
			return a.Estado < b.Estado
		}
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID < b.ID
		}
		return a.CreatedAt.Before(b.CreatedAt)
	}
	sort.SliceStable(all, func(i, j int) bool {
		if q.Ascending {
			return less(all[i], all[j])
		}
		return less(all[j], all[i])
	})

	start, end := page(len(all), q.Page, q.Limit)
	return all[start:end], int64(len(all)), nil
}

// UpdateLead 保存线索的全部字段。
func (s *Store) UpdateLead(ctx context.Context, lead *domain.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.leads[lead.ID]; !ok {
		return storage.ErrNotFound
	}
	lead.UpdatedAt = s.now()
	stored := *lead
	s.leads[lead.ID] = &stored
	return nil
}

// DeleteLead 删除线索，关联邮件和会话的 lead_id 置空。
func (s *Store) DeleteLead(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.leads[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.leads, id)

	for _, email := range s.emails {
		if email.LeadID != nil && *email.LeadID == id {
			email.LeadID = nil
		}
	}
	for _, thread := range s.threads {
		if thread.LeadID != nil && *thread.LeadID == id {
			thread.LeadID = nil
		}
	}
	return nil
}

func (s *Store) leadSummaryLocked(id *int64) *domain.LeadSummary {
	if id == nil {
		return nil
	}
	return s.leads[*id].Summary()
}
