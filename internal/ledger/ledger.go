package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"copycatch/internal/db"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrInsufficientBalance means the targeted wallet would go negative.
	// The enclosing transaction is rolled back entirely.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrLockTimeout is transient contention on the per-player lock; the
	// caller may retry, no side effects were committed.
	ErrLockTimeout    = errors.New("player ledger is busy")
	ErrPlayerNotFound = errors.New("player not found")
	ErrInvalidWallet  = errors.New("invalid wallet")
	ErrZeroAmount     = errors.New("amount must be non-zero")
)

// playerLockClass namespaces the two-key Postgres advisory lock so ledger
// locks never collide with other advisory users of the same database.
const playerLockClass = 1404

const lockTimeout = "3s"

type Ledger struct {
	db     *gorm.DB
	logger *slog.Logger
}

func New(conn *gorm.DB, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{db: conn, logger: logger}
}

// AcquirePlayerLock takes the transaction-scoped named lock serializing all
// balance mutations for one player. It must be called inside tx; the lock
// releases on commit or rollback. Waits longer than the short timeout fail
// with ErrLockTimeout.
func AcquirePlayerLock(tx *gorm.DB, playerID uint) error {
	if err := tx.Exec("SET LOCAL lock_timeout = '" + lockTimeout + "'").Error; err != nil {
		return err
	}
	if err := tx.Exec("SELECT pg_advisory_xact_lock(?, ?)", playerLockClass, int64(playerID)).Error; err != nil {
		if isLockTimeout(err) {
			return ErrLockTimeout
		}
		return err
	}
	return nil
}

// Record writes one immutable ledger entry for a player under the
// per-player lock and updates the player's balances. amount is signed;
// wallet selects which balance it targets.
func (l *Ledger) Record(ctx context.Context, playerID uint, amount int64, txType, reference, wallet string) (*db.Transaction, error) {
	var entry *db.Transaction
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquirePlayerLock(tx, playerID); err != nil {
			return err
		}
		var err error
		entry, err = l.RecordLocked(tx, playerID, amount, txType, reference, wallet)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// RecordLocked writes an entry inside an open transaction whose caller
// already holds the player lock. It lets multi-entry operations (split
// payouts) compose without nested lock timeouts.
func (l *Ledger) RecordLocked(tx *gorm.DB, playerID uint, amount int64, txType, reference, wallet string) (*db.Transaction, error) {
	if amount == 0 {
		return nil, ErrZeroAmount
	}
	if wallet != db.WalletLiquid && wallet != db.WalletLocked {
		return nil, ErrInvalidWallet
	}
	if reference == "" {
		reference = uuid.NewString()
	}

	var player db.Player
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&player, playerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlayerNotFound
		}
		return nil, err
	}

	balance := player.Balance
	locked := player.LockedBalance
	switch wallet {
	case db.WalletLiquid:
		balance += amount
		if balance < 0 {
			return nil, ErrInsufficientBalance
		}
	case db.WalletLocked:
		locked += amount
		if locked < 0 {
			return nil, ErrInsufficientBalance
		}
	}

	entry := db.Transaction{
		PlayerID:           playerID,
		Amount:             amount,
		Type:               txType,
		Wallet:             wallet,
		Reference:          reference,
		BalanceAfter:       balance,
		LockedBalanceAfter: locked,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return nil, err
	}
	if err := tx.Model(&db.Player{}).Where("id = ?", playerID).Updates(map[string]any{
		"balance":        balance,
		"locked_balance": locked,
		"updated_at":     time.Now().UTC(),
	}).Error; err != nil {
		return nil, err
	}

	l.logger.Info("ledger entry recorded",
		"player_id", playerID,
		"amount", amount,
		"type", txType,
		"wallet", wallet,
		"balance_after", balance,
		"locked_after", locked,
	)
	return &entry, nil
}

// Balances reads the current liquid and locked balances.
func (l *Ledger) Balances(ctx context.Context, playerID uint) (int64, int64, error) {
	var player db.Player
	if err := l.db.WithContext(ctx).First(&player, playerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, 0, ErrPlayerNotFound
		}
		return 0, 0, err
	}
	return player.Balance, player.LockedBalance, nil
}

// History returns a player's ledger entries, newest first.
func (l *Ledger) History(ctx context.Context, playerID uint, limit int) ([]db.Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var entries []db.Transaction
	err := l.db.WithContext(ctx).
		Where("player_id = ?", playerID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

func isLockTimeout(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "55P03"
}
