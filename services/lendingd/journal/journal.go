package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"lendpool/core"
	"lendpool/core/events"
	"lendpool/crypto"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ErrDisabled is returned by a nil journal.
var ErrDisabled = errors.New("journal: disabled")

// Entry is the persisted form of a committed receipt. Amounts are stored as
// decimal strings since SQL integer columns are signed.
type Entry struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Op               string    `gorm:"index;not null" json:"op"`
	Participant      string    `gorm:"index;not null" json:"participant"`
	Token            string    `json:"token,omitempty"`
	Amount           string    `json:"amount"`
	CollateralToken  string    `json:"collateralToken,omitempty"`
	CollateralAmount string    `json:"collateralAmount,omitempty"`
	StateHash        string    `gorm:"not null" json:"stateHash"`
	Events           string    `gorm:"type:text" json:"-"`
	CreatedAt        time.Time `gorm:"index" json:"time"`
}

// TableName pins the table regardless of naming strategy.
func (Entry) TableName() string { return "lending_receipts" }

// DecodedEvents returns the events committed with the receipt.
func (e Entry) DecodedEvents() ([]events.Event, error) {
	if strings.TrimSpace(e.Events) == "" {
		return nil, nil
	}
	var out []events.Event
	if err := json.Unmarshal([]byte(e.Events), &out); err != nil {
		return nil, fmt.Errorf("journal: decode events: %w", err)
	}
	return out, nil
}

// Journal appends receipts to a SQL database.
type Journal struct {
	db *gorm.DB
}

// Open connects to dsn. postgres:// and postgresql:// DSNs use the postgres
// driver; anything else is treated as a sqlite path or URI.
func Open(dsn string) (*Journal, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("journal: dsn required")
	}
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	return New(db)
}

// New wraps an open database and migrates the receipt table.
func New(db *gorm.DB) (*Journal, error) {
	if db == nil {
		return nil, fmt.Errorf("journal: database required")
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return &Journal{db: db}, nil
}

// Record appends a committed receipt.
func (j *Journal) Record(ctx context.Context, receipt core.Receipt) error {
	if j == nil {
		return ErrDisabled
	}
	entry, err := entryFromReceipt(receipt)
	if err != nil {
		return err
	}
	if err := j.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("journal: record %s: %w", receipt.ID, err)
	}
	return nil
}

// ListByParticipant returns the newest receipts for participant first.
func (j *Journal) ListByParticipant(ctx context.Context, participant crypto.Address, limit int) ([]Entry, error) {
	if j == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	var entries []Entry
	err := j.db.WithContext(ctx).
		Where("participant = ?", participant.String()).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	return entries, nil
}

// Get loads a single receipt by id.
func (j *Journal) Get(ctx context.Context, id uuid.UUID) (Entry, error) {
	if j == nil {
		return Entry{}, ErrDisabled
	}
	var entry Entry
	if err := j.db.WithContext(ctx).First(&entry, "id = ?", id).Error; err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// Close releases the underlying connection pool.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func entryFromReceipt(r core.Receipt) (Entry, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return Entry{}, fmt.Errorf("journal: receipt id: %w", err)
	}
	evts, err := json.Marshal(r.Events)
	if err != nil {
		return Entry{}, fmt.Errorf("journal: encode events: %w", err)
	}
	entry := Entry{
		ID:          id,
		Op:          r.Op,
		Participant: r.Participant.String(),
		Amount:      strconv.FormatUint(r.Amount, 10),
		StateHash:   r.StateHash,
		Events:      string(evts),
		CreatedAt:   r.Time.UTC(),
	}
	if !r.Token.IsZero() {
		entry.Token = r.Token.String()
	}
	if r.Loan != nil {
		entry.CollateralToken = r.Loan.CollateralToken.String()
		entry.CollateralAmount = strconv.FormatUint(r.Loan.CollateralAmount, 10)
	}
	return entry, nil
}
