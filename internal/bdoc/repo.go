package bdoc

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is the persistence surface the orchestrator needs.
type Store interface {
	FindRequest(ctx context.Context, fingerprint string) (*RequestRecord, error)
	GetPDF(ctx context.Context, pdfID uint64) (*PDF, error)
	FindBusinessID(ctx context.Context, name string) (uint64, error)
	InsertScript(ctx context.Context, path string, businessID uint64) (uint64, error)
	InsertPDF(ctx context.Context, path string, sqlID uint64) (uint64, error)
	InsertRequest(ctx context.Context, rec *RequestRecord) error
}

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (r *Repo) FindRequest(ctx context.Context, fingerprint string) (*RequestRecord, error) {
	var rec RequestRecord
	if err := r.db.WithContext(ctx).
		Where("request_id = ?", fingerprint).
		First(&rec).Error; err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

func (r *Repo) GetPDF(ctx context.Context, pdfID uint64) (*PDF, error) {
	var p PDF
	if err := r.db.WithContext(ctx).First(&p, "pdf_id = ?", pdfID).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *Repo) FindBusinessID(ctx context.Context, name string) (uint64, error) {
	var b Business
	if err := r.db.WithContext(ctx).
		Select("business_id").
		Where("name = ?", name).
		First(&b).Error; err != nil {
		return 0, notFound(err)
	}
	return b.BusinessID, nil
}

// ListBusinessNames returns names in insertion order.
func (r *Repo) ListBusinessNames(ctx context.Context) ([]string, error) {
	names := []string{}
	if err := r.db.WithContext(ctx).
		Model(&Business{}).
		Order("business_id ASC").
		Pluck("name", &names).Error; err != nil {
		return nil, err
	}
	return names, nil
}

// SeedBusinesses inserts any missing names; existing rows are left alone.
func (r *Repo) SeedBusinesses(ctx context.Context, names []string) error {
	for _, n := range names {
		if n == "" {
			continue
		}
		if err := r.db.WithContext(ctx).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).
			Create(&Business{Name: n}).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *Repo) InsertScript(ctx context.Context, path string, businessID uint64) (uint64, error) {
	s := &SQLScript{ScriptFilePath: path, BusinessID: businessID}
	if err := r.db.WithContext(ctx).Create(s).Error; err != nil {
		return 0, err
	}
	return s.SQLID, nil
}

func (r *Repo) InsertPDF(ctx context.Context, path string, sqlID uint64) (uint64, error) {
	p := &PDF{FilePath: path, SQLID: sqlID}
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		return 0, err
	}
	return p.PDFID, nil
}

func (r *Repo) InsertRequest(ctx context.Context, rec *RequestRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

// Job CRUD
func (r *Repo) CreateJob(ctx context.Context, job *Job) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *Repo) GetJobByID(ctx context.Context, id string) (*Job, error) {
	var j Job
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &j, nil
}

// MarkJobRunning moves a queued job to running and bumps its attempt count.
// A redelivered job that is already running is bumped as well.
func (r *Repo) MarkJobRunning(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status IN ?", id, []JobStatus{JobQueued, JobRunning}).
		Updates(map[string]any{
			"status":   JobRunning,
			"attempts": gorm.Expr("attempts + 1"),
		}).Error
}

// MarkJobRetrying puts a job back to queued while keeping the last error.
func (r *Repo) MarkJobRetrying(ctx context.Context, id string, o Outcome) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":      JobQueued,
			"error_kind":  string(o.ErrorKind),
			"status_code": o.StatusCode,
			"error":       o.Message,
		}).Error
}

func (r *Repo) MarkJobSucceeded(ctx context.Context, id string, ref ArtifactRef) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":      JobSucceeded,
			"pdf_id":      ref.PDFID,
			"file_path":   ref.Path,
			"cached":      ref.Cached,
			"error_kind":  nil,
			"status_code": nil,
			"error":       nil,
		}).Error
}

func (r *Repo) MarkJobFailed(ctx context.Context, id string, o Outcome) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":      JobFailed,
			"error_kind":  string(o.ErrorKind),
			"status_code": o.StatusCode,
			"error":       o.Message,
			"pdf_id":      nil,
		}).Error
}
