package quota

import (
	"context"
	"fmt"

	"github.com/sumanyunandwani/AnalyzeAI/internal/identity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is the persistence capability the ledger needs.
type Store interface {
	GetCount(ctx context.Context, id identity.Identity) (n int, found bool, err error)
	SetCount(ctx context.Context, id identity.Identity, n int) (bool, error)
	// Insert creates the counter at n unless it already exists, and returns
	// the stored value either way.
	Insert(ctx context.Context, id identity.Identity, n int) (int, error)
	// DecrementIfPositive lowers the counter by one in a single statement.
	DecrementIfPositive(ctx context.Context, id identity.Identity) (bool, error)
}

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

var _ Store = (*Repo)(nil)

type table struct {
	model  any
	key    string
	column string
}

func tableFor(id identity.Identity) (table, error) {
	switch id.Kind {
	case identity.KindUser:
		return table{model: &UserCapacity{}, key: "user_id", column: "capacity"}, nil
	case identity.KindIP:
		return table{model: &IPCapacity{}, key: "ip_address", column: "count"}, nil
	default:
		return table{}, identity.ErrInvalid
	}
}

func (r *Repo) GetCount(ctx context.Context, id identity.Identity) (int, bool, error) {
	t, err := tableFor(id)
	if err != nil {
		return 0, false, err
	}
	var counts []int
	if err := r.db.WithContext(ctx).Model(t.model).
		Where(t.key+" = ?", id.Value).
		Limit(1).
		Pluck(t.column, &counts).Error; err != nil {
		return 0, false, fmt.Errorf("quota: get %s: %w", id, err)
	}
	if len(counts) == 0 {
		return 0, false, nil
	}
	return counts[0], true, nil
}

func (r *Repo) SetCount(ctx context.Context, id identity.Identity, n int) (bool, error) {
	t, err := tableFor(id)
	if err != nil {
		return false, err
	}
	res := r.db.WithContext(ctx).Model(t.model).
		Where(t.key+" = ?", id.Value).
		Update(t.column, n)
	if res.Error != nil {
		return false, fmt.Errorf("quota: set %s: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *Repo) Insert(ctx context.Context, id identity.Identity, n int) (int, error) {
	var row any
	switch id.Kind {
	case identity.KindUser:
		row = &UserCapacity{UserID: id.Value, Capacity: n}
	case identity.KindIP:
		row = &IPCapacity{IPAddress: id.Value, Count: n}
	default:
		return 0, identity.ErrInvalid
	}

	// A concurrent first request may have created the row already.
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error; err != nil {
		return 0, fmt.Errorf("quota: insert %s: %w", id, err)
	}
	stored, found, err := r.GetCount(ctx, id)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("quota: insert %s: row missing after insert", id)
	}
	return stored, nil
}

func (r *Repo) DecrementIfPositive(ctx context.Context, id identity.Identity) (bool, error) {
	t, err := tableFor(id)
	if err != nil {
		return false, err
	}
	res := r.db.WithContext(ctx).Model(t.model).
		Where(t.key+" = ? AND "+t.column+" > 0", id.Value).
		Update(t.column, gorm.Expr(t.column+" - 1"))
	if res.Error != nil {
		return false, fmt.Errorf("quota: decrement %s: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}
