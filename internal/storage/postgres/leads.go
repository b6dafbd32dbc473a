package postgres

import (
	"context"

	"gorm.io/gorm"

	"juninpagos/backend/internal/domain"
	"juninpagos/backend/internal/storage"
)

var leadSortColumns = map[string]string{
	"created_at": "created_at",
	"nombre":     "nombre",
	"localidad":  "localidad",
	"estado":     "estado",
}

// CreateLead 保存新线索
func (s *Store) CreateLead(ctx context.Context, lead *domain.Lead) error {
	if lead.Estado == "" {
		lead.Estado = domain.LeadNuevo
	}
	return translate(s.db.WithContext(ctx).Create(lead).Error)
}

// GetLead 根据 ID 获取线索
func (s *Store) GetLead(ctx context.Context, id int64) (*domain.Lead, error) {
	var lead domain.Lead
	if err := s.db.WithContext(ctx).First(&lead, id).Error; err != nil {
		return nil, translate(err)
	}
	return &lead, nil
}

// ListLeads 分页返回线索及总数
func (s *Store) ListLeads(ctx context.Context, q storage.LeadQuery) ([]domain.Lead, int64, error) {
	base := s.db.WithContext(ctx).Model(&domain.Lead{})

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	column, ok := leadSortColumns[q.SortBy]
	if !ok {
		column = "created_at"
	}
	order := column + " DESC, id DESC"
	if q.Ascending {
		order = column + " ASC, id ASC"
	}

	var leads []domain.Lead
	query := s.db.WithContext(ctx).Order(order)
	if q.Limit > 0 {
		query = query.Offset(storage.Offset(q.Page, q.Limit)).Limit(q.Limit)
	}
	if err := query.Find(&leads).Error; err != nil {
		return nil, 0, err
	}
	return leads, total, nil
}

// UpdateLead 保存线索
func (s *Store) UpdateLead(ctx context.Context, lead *domain.Lead) error {
	res := s.db.WithContext(ctx).Model(lead).Select("*").Omit("created_at").Updates(lead)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteLead 删除线索并解除邮件与会话的关联
func (s *Store) DeleteLead(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.Email{}).Where("lead_id = ?", id).Update("lead_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Model(&domain.EmailThread{}).Where("lead_id = ?", id).Update("lead_id", nil).Error; err != nil {
			return err
		}
		res := tx.Delete(&domain.Lead{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return storage.ErrNotFound
		}
		return nil
	})
}
