// Package store persists client data that outlives a connection, such as the
// nicknames watched for presence, on gorm.
package store

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/presbrey/ircconn/irc"
)

// ErrUnknownDriver is returned by Open for drivers other than sqlite,
// postgres and mysql.
var ErrUnknownDriver = errors.New("store: unknown driver")

var dialectors = map[string]func(dsn string) gorm.Dialector{
	"sqlite":   sqlite.Open,
	"postgres": postgres.Open,
	"mysql":    mysql.Open,
}

// Store is an open database.
type Store struct {
	db *gorm.DB
}

var (
	openMu sync.Mutex
	opened = make(map[string]*Store)
)

// Open returns the store for driver and dsn, creating the schema on first
// use. Stores are cached by driver and DSN so a reconnecting client reuses its
// database.
func Open(driver, dsn string) (*Store, error) {
	driver = strings.ToLower(driver)
	fn, ok := dialectors[driver]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}

	openMu.Lock()
	defer openMu.Unlock()
	key := driver + "\x00" + dsn
	if s, ok := opened[key]; ok {
		return s, nil
	}

	db, err := gorm.Open(fn(dsn), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}
	if err := db.AutoMigrate(&WatchedNick{}); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	s := &Store{db: db}
	opened[key] = s
	return s, nil
}

// Close closes the database and drops it from the cache.
func (s *Store) Close() error {
	openMu.Lock()
	for key, cached := range opened {
		if cached == s {
			delete(opened, key)
		}
	}
	openMu.Unlock()

	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WatchedNick is a nickname an account watches for presence.
type WatchedNick struct {
	ID        uint   `gorm:"primaryKey"`
	Account   string `gorm:"size:255;not null;uniqueIndex:idx_watched_account_key"`
	NickKey   string `gorm:"size:255;not null;uniqueIndex:idx_watched_account_key"`
	Nick      string `gorm:"size:255;not null"`
	CreatedAt time.Time
}

// WatchList is the persistent watch list of one account. It implements
// irc.WatchList.
type WatchList struct {
	db      *gorm.DB
	account string
}

var _ irc.WatchList = (*WatchList)(nil)

// WatchList returns the watch list of account.
func (s *Store) WatchList(account string) *WatchList {
	return &WatchList{db: s.db, account: account}
}

// Nicks returns the watched nicknames sorted.
func (w *WatchList) Nicks() ([]string, error) {
	var nicks []string
	err := w.db.Model(&WatchedNick{}).
		Where("account = ?", w.account).
		Order("nick").
		Pluck("nick", &nicks).Error
	if err != nil {
		return nil, fmt.Errorf("store: list watched nicks: %w", err)
	}
	return nicks, nil
}

// Add watches nick. Adding a nick twice keeps the first spelling.
func (w *WatchList) Add(nick string) error {
	if err := irc.ValidateNick(nick, nil); err != nil {
		return err
	}
	row := WatchedNick{Account: w.account, NickKey: strings.ToLower(nick), Nick: nick}
	err := w.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("store: watch %s: %w", nick, err)
	}
	return nil
}

// Remove stops watching nick.
func (w *WatchList) Remove(nick string) error {
	err := w.db.Where("account = ? AND nick_key = ?", w.account, strings.ToLower(nick)).
		Delete(&WatchedNick{}).Error
	if err != nil {
		return fmt.Errorf("store: unwatch %s: %w", nick, err)
	}
	return nil
}
