package bdoc

import "time"

// Business is master data: the domains a document can be written for.
type Business struct {
	BusinessID uint64    `gorm:"column:business_id;primaryKey;autoIncrement" json:"business_id"`
	Name       string    `gorm:"type:varchar(128);uniqueIndex;not null" json:"name"`
	CreatedOn  time.Time `gorm:"autoCreateTime" json:"created_on"`
}

func (Business) TableName() string { return "businesses" }

// SQLScript points at the stored copy of a submitted script.
type SQLScript struct {
	SQLID          uint64    `gorm:"column:sql_id;primaryKey;autoIncrement" json:"sql_id"`
	ScriptFilePath string    `gorm:"column:script_file_path;type:varchar(512);not null" json:"script_file_path"`
	BusinessID     uint64    `gorm:"column:business_id;index;not null" json:"business_id"`
	CreatedOn      time.Time `gorm:"autoCreateTime" json:"created_on"`
}

func (SQLScript) TableName() string { return "sqls" }

// PDF is a generated document.
type PDF struct {
	PDFID     uint64    `gorm:"column:pdf_id;primaryKey;autoIncrement" json:"pdf_id"`
	FilePath  string    `gorm:"column:file_path;type:varchar(512);not null" json:"file_path"`
	SQLID     uint64    `gorm:"column:sql_id;index;not null" json:"sql_id"`
	CreatedOn time.Time `gorm:"autoCreateTime" json:"created_on"`
}

func (PDF) TableName() string { return "pdfs" }

// RequestRecord marks a fingerprint as fulfilled. Exactly one of UserID and
// IPAddress is set. Rows are written once and never updated.
type RequestRecord struct {
	RequestID string    `gorm:"column:request_id;primaryKey;type:varchar(64)" json:"request_id"`
	UserID    *string   `gorm:"column:user_id;type:varchar(64);index" json:"user_id,omitempty"`
	IPAddress *string   `gorm:"column:ip_address;type:varchar(64);index" json:"ip_address,omitempty"`
	PDFID     uint64    `gorm:"column:pdf_id;not null" json:"pdf_id"`
	CreatedOn time.Time `gorm:"autoCreateTime" json:"created_on"`
}

func (RequestRecord) TableName() string { return "requests" }

// ArtifactRef is what a caller gets back for a fulfilled request.
type ArtifactRef struct {
	PDFID       uint64 `json:"pdf_id"`
	Path        string `json:"file_path"`
	Fingerprint string `json:"fingerprint"`
	Cached      bool   `json:"cached"`
}
