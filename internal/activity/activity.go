package activity

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"bidmarket/internal/models"
)

const (
	ActionSignIn          = "SIGN_IN"
	ActionSignUp          = "SIGN_UP"
	ActionSignOut         = "SIGN_OUT"
	ActionWizardSubmit    = "WIZARD_SUBMIT"
	ActionProposalAccept  = "PROPOSAL_ACCEPT"
	ActionProposalSubmit  = "PROPOSAL_SUBMIT"
	ActionBidClaim        = "BID_CLAIM"
	ActionMinPriceUpdated = "MIN_PRICE_UPDATE"
)

type Recorder interface {
	Record(ctx context.Context, userID models.ID, action string, metadata map[string]any)
	Recent(ctx context.Context, userID models.ID, limit int) ([]models.ActivityLog, error)
}

type gormRecorder struct {
	db *gorm.DB
	lg *zap.SugaredLogger
}

func NewGorm(db *gorm.DB, lg *zap.SugaredLogger) Recorder {
	return &gormRecorder{db: db, lg: lg}
}

// Record never fails the caller; a lost row is only logged.
func (r *gormRecorder) Record(ctx context.Context, userID models.ID, action string, metadata map[string]any) {
	row := models.ActivityLog{UserID: userID.String(), Action: action, Metadata: models.MustJSONB(metadata), CreatedAt: time.Now()}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		r.lg.Warnw("activity record failed", "action", action, "user_id", userID, "error", err)
	}
}

func (r *gormRecorder) Recent(ctx context.Context, userID models.ID, limit int) ([]models.ActivityLog, error) {
	var logs []models.ActivityLog
	err := r.db.WithContext(ctx).Where("user_id = ?", userID.String()).
		Order("created_at desc").Limit(limit).Find(&logs).Error
	return logs, err
}

// Nop is used when no database is configured.
type Nop struct{}

func (Nop) Record(context.Context, models.ID, string, map[string]any) {}

func (Nop) Recent(context.Context, models.ID, int) ([]models.ActivityLog, error) {
	return nil, nil
}

// Memory keeps rows in process; used by tests and single-node development.
type Memory struct {
	mu   sync.Mutex
	rows []models.ActivityLog
}

func (m *Memory) Record(_ context.Context, userID models.ID, action string, metadata map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, models.ActivityLog{
		ID: int64(len(m.rows) + 1), UserID: userID.String(), Action: action,
		Metadata: models.MustJSONB(metadata), CreatedAt: time.Now(),
	})
}

func (m *Memory) Recent(_ context.Context, userID models.ID, limit int) ([]models.ActivityLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ActivityLog
	for i := len(m.rows) - 1; i >= 0 && len(out) < limit; i-- {
		if m.rows[i].UserID == userID.String() {
			out = append(out, m.rows[i])
		}
	}
	return out, nil
}

func (m *Memory) Actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, r.Action)
	}
	return out
}
