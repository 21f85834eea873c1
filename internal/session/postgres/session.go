package postgres

import (
	"errors"
	"time"

	apperrors "github.com/pasalku/payment-gateway/internal"
	datamodel "github.com/pasalku/payment-gateway/internal/core/datamodel/session"
	sessionpkg "github.com/pasalku/payment-gateway/internal/session"
	"gorm.io/gorm"
)

type SessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) sessionpkg.Store {
	return &SessionRepository{
		db: db,
	}
}

func (r *SessionRepository) Create(s *datamodel.PaymentSession) error {
	s.Version = 1
	err := r.db.Create(s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperrors.ErrDuplicateQRID
		}
		return err
	}
	return nil
}

func (r *SessionRepository) Get(qrID string) (*datamodel.PaymentSession, error) {
	var s datamodel.PaymentSession
	err := r.db.Where("qr_id = ?", qrID).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrSessionNotFound
		}
		return nil, err
	}
	return &s, nil
}

// CompareAndSwap applies the mutation only when the stored version still
// matches expectedVersion. The guarded UPDATE's row count decides the race;
// no row-level lock is held across the mutation.
func (r *SessionRepository) CompareAndSwap(qrID string, expectedVersion int64, mutate sessionpkg.Mutator) (*datamodel.PaymentSession, error) {
	current, err := r.Get(qrID)
	if err != nil {
		return nil, err
	}

	if current.Version != expectedVersion {
		return nil, apperrors.ErrVersionConflict
	}

	updated := *current
	mutate(&updated)
	updated.Version = expectedVersion + 1
	updated.UpdatedAt = time.Now()

	updates := map[string]interface{}{
		"status":             updated.Status,
		"transaction_id":     updated.TransactionID,
		"paid_amount":        updated.PaidAmount,
		"paid_at":            updated.PaidAt,
		"last_update_source": updated.LastUpdateSource,
		"version":            updated.Version,
		"updated_at":         updated.UpdatedAt,
	}

	res := r.db.Model(&datamodel.PaymentSession{}).
		Where("qr_id = ? AND version = ?", qrID, expectedVersion).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, apperrors.ErrVersionConflict
	}

	return &updated, nil
}

func (r *SessionRepository) ListPending(limit int) ([]*datamodel.PaymentSession, error) {
	var sessions []*datamodel.PaymentSession
	query := r.db.
		Where("status IN ?", []string{datamodel.StatusCreated, datamodel.StatusPending}).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&sessions).Error
	return sessions, err
}
