package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"swap_rates/internal/domain"
)

// tokenRecord is the persisted supported-token row.
type tokenRecord struct {
	Symbol          string `gorm:"primaryKey"`
	Name            string
	Address         string `gorm:"index"`
	Decimals        int
	GasLimitDefault uint64
	UpdatedAt       time.Time
}

func (tokenRecord) TableName() string { return "tokens" }

// orderRecord is the persisted limit-order snapshot row.
type orderRecord struct {
	ID           int64  `gorm:"primaryKey"`
	Wallet       string `gorm:"index"`
	SourceToken  string
	DestToken    string
	SourceAmount float64
	TargetPrice  float64
	State        string
	CreatedAt    time.Time
}

func (orderRecord) TableName() string { return "orders" }

// promoWalletRecord assigns a promo wallet its destination token.
type promoWalletRecord struct {
	Wallet     string `gorm:"primaryKey"`
	DestSymbol string
	CreatedAt  time.Time
}

func (promoWalletRecord) TableName() string { return "promo_wallets" }

// Storage persists the token registry and the wallets' order snapshots.
type Storage struct {
	db *gorm.DB
}

var (
	_ domain.OrderProvider = (*Storage)(nil)
	_ domain.PromoProvider = (*Storage)(nil)
)

// NewStorage opens (and migrates) the SQLite database at path
func NewStorage(path string) (*Storage, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&tokenRecord{}, &orderRecord{}, &promoWalletRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Token Operations
// ======================================================================================

func toTokenRecord(t domain.Token) tokenRecord {
	return tokenRecord{
		Symbol:          strings.ToUpper(t.Symbol),
		Name:            t.Name,
		Address:         t.Address.Hex(),
		Decimals:        t.Decimals,
		GasLimitDefault: t.GasLimitDefault,
		UpdatedAt:       time.Now(),
	}
}

func (r tokenRecord) toDomain() domain.Token {
	return domain.Token{
		Symbol:          r.Symbol,
		Name:            r.Name,
		Address:         common.HexToAddress(r.Address),
		Decimals:        r.Decimals,
		GasLimitDefault: r.GasLimitDefault,
	}
}

// UpsertToken creates or updates a supported token
func (s *Storage) UpsertToken(t domain.Token) error {
	rec := toTokenRecord(t)
	return s.db.Save(&rec).Error
}

// SeedTokens inserts tokens that are not registered yet; existing rows win.
func (s *Storage) SeedTokens(tokens []domain.Token) error {
	if len(tokens) == 0 {
		return nil
	}
	recs := make([]tokenRecord, 0, len(tokens))
	for _, t := range tokens {
		recs = append(recs, toTokenRecord(t))
	}
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&recs).Error
}

// GetToken retrieves a token by symbol
func (s *Storage) GetToken(symbol string) (*domain.Token, error) {
	var rec tokenRecord
	err := s.db.First(&rec, "symbol = ?", strings.ToUpper(symbol)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	if err != nil {
		return nil, err
	}
	t := rec.toDomain()
	return &t, nil
}

// RequireToken is GetToken for tokens the service cannot run without.
func (s *Storage) RequireToken(symbol string) (domain.Token, error) {
	t, err := s.GetToken(symbol)
	if err != nil {
		return domain.Token{}, err
	}
	if t == nil {
		return domain.Token{}, fmt.Errorf("%s: %w", symbol, domain.ErrTokenNotFound)
	}
	return *t, nil
}

// AllTokens retrieves all supported tokens ordered by symbol
func (s *Storage) AllTokens() ([]domain.Token, error) {
	var recs []tokenRecord
	if err := s.db.Order("symbol").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Token, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// GasOverrides returns the per-symbol gas limits configured on tokens.
func (s *Storage) GasOverrides() (map[string]uint64, error) {
	var recs []tokenRecord
	if err := s.db.Where("gas_limit_default > 0").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make(map[string]uint64, len(recs))
	for _, r := range recs {
		out[r.Symbol] = r.GasLimitDefault
	}
	return out, nil
}

// DeleteToken removes a token from the registry
func (s *Storage) DeleteToken(symbol string) error {
	return s.db.Where("symbol = ?", strings.ToUpper(symbol)).Delete(&tokenRecord{}).Error
}

// ======================================================================================
// Order Operations
// ======================================================================================

// SaveOrder creates or replaces an order snapshot
func (s *Storage) SaveOrder(o domain.Order) error {
	rec := orderRecord{
		ID:           o.ID,
		Wallet:       o.Wallet.Hex(),
		SourceToken:  o.SourceToken.Hex(),
		DestToken:    o.DestToken.Hex(),
		SourceAmount: o.SourceAmount,
		TargetPrice:  o.TargetPrice,
		State:        string(o.State),
		CreatedAt:    o.CreatedAt,
	}
	return s.db.Save(&rec).Error
}

// UpdateOrderState moves an order to a new state
func (s *Storage) UpdateOrderState(id int64, state domain.OrderState) error {
	res := s.db.Model(&orderRecord{}).Where("id = ?", id).Update("state", string(state))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Orders returns every order of wallet, newest first
func (s *Storage) Orders(ctx context.Context, wallet common.Address) ([]domain.Order, error) {
	var recs []orderRecord
	err := s.db.WithContext(ctx).
		Where("wallet = ?", wallet.Hex()).
		Order("created_at DESC").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}

	out := make([]domain.Order, 0, len(recs))
	for _, r := range recs {
		out = append(out, domain.Order{
			ID:           r.ID,
			Wallet:       common.HexToAddress(r.Wallet),
			SourceToken:  common.HexToAddress(r.SourceToken),
			DestToken:    common.HexToAddress(r.DestToken),
			SourceAmount: r.SourceAmount,
			TargetPrice:  r.TargetPrice,
			State:        domain.OrderState(r.State),
			CreatedAt:    r.CreatedAt,
		})
	}
	return out, nil
}

// ======================================================================================
// Promo Wallet Operations
// ======================================================================================

// SetPromoWallet marks wallet as a promo wallet paying out in destSymbol
func (s *Storage) SetPromoWallet(wallet common.Address, destSymbol string) error {
	rec := promoWalletRecord{
		Wallet:     wallet.Hex(),
		DestSymbol: strings.ToUpper(destSymbol),
		CreatedAt:  time.Now(),
	}
	return s.db.Save(&rec).Error
}

// PromoDestination returns the destination token of a promo wallet. The
// token is zero when its symbol is not registered.
func (s *Storage) PromoDestination(wallet common.Address) (domain.Token, bool) {
	var rec promoWalletRecord
	res := s.db.Limit(1).Find(&rec, "wallet = ?", wallet.Hex())
	if res.Error != nil || res.RowsAffected == 0 {
		return domain.Token{}, false
	}
	t, err := s.GetToken(rec.DestSymbol)
	if err != nil || t == nil {
		return domain.Token{}, true
	}
	return *t, true
}
