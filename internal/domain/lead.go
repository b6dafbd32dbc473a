package domain

import "time"

// LeadStatus is the triage state an admin assigns to a lead.
type LeadStatus string

const (
	LeadNuevo      LeadStatus = "nuevo"
	LeadContactado LeadStatus = "contactado"
	LeadInteresado LeadStatus = "interesado"
	LeadConvertido LeadStatus = "convertido"
	LeadPerdido    LeadStatus = "perdido"
)

// Valid reports whether s is one of the known lead states.
func (s LeadStatus) Valid() bool {
	switch s {
	case LeadNuevo, LeadContactado, LeadInteresado, LeadConvertido, LeadPerdido:
		return true
	}
	return false
}

// Lead 表示联系表单提交的潜在客户
type Lead struct {
	ID           int64      `json:"id" gorm:"primaryKey;autoIncrement"`
	Nombre       string     `json:"nombre" gorm:"type:varchar(100);not null"`
	Telefono     string     `json:"telefono" gorm:"type:varchar(20);not null"`
	TelefonoE164 string     `json:"telefono_e164,omitempty" gorm:"type:varchar(20)"`
	Localidad    string     `json:"localidad" gorm:"type:varchar(100)"`
	IP           string     `json:"ip" gorm:"type:varchar(64)"`
	Estado       LeadStatus `json:"estado" gorm:"type:varchar(20);default:'nuevo';index"`
	Notas        string     `json:"notas" gorm:"type:text"`
	CreatedAt    time.Time  `json:"created_at" gorm:"index"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// LeadSummary is the slice of a lead embedded in email and thread listings.
type LeadSummary struct {
	ID        int64  `json:"id"`
	Nombre    string `json:"nombre"`
	Telefono  string `json:"telefono"`
	Localidad string `json:"localidad"`
}

// Summary returns the embedded view of the lead.
func (l *Lead) Summary() *LeadSummary {
	if l == nil {
		return nil
	}
	return &LeadSummary{ID: l.ID, Nombre: l.Nombre, Telefono: l.Telefono, Localidad: l.Localidad}
}
