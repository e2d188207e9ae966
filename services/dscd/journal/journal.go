package journal

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"lukechampine.com/blake3"

	"dscengine/core/events"
	"dscengine/core/types"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

var (
	// ErrNilDB is returned when the journal is constructed without a database.
	ErrNilDB = errors.New("journal: database required")
	// ErrUnknownDriver is returned for unsupported database drivers.
	ErrUnknownDriver = errors.New("journal: unknown driver")
	// ErrNilEvent is returned when appending an empty event.
	ErrNilEvent = errors.New("journal: event required")
)

// Record is the persisted form of one emitted event.
type Record struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence   uint64    `gorm:"uniqueIndex;not null"`
	Digest     string    `gorm:"size:64;uniqueIndex;not null"`
	Type       string    `gorm:"size:64;index;not null"`
	Subject    string    `gorm:"size:96;index"`
	Attributes string    `gorm:"type:text;not null"`
	CreatedAt  time.Time `gorm:"index"`
}

// TableName pins the table name across drivers.
func (Record) TableName() string { return "dsc_events" }

// Entry is the API view of a journaled event.
type Entry struct {
	ID         string            `json:"id"`
	Sequence   uint64            `json:"sequence"`
	Digest     string            `json:"digest"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// Filter narrows a journal query. Account matches the event's primary
// subject: the depositor, redeemer, minter, burn beneficiary or liquidated
// account.
type Filter struct {
	Type     string
	Account  string
	AfterSeq uint64
	Limit    int
}

// Listener observes every entry after it is persisted.
type Listener func(Entry)

// Journal is an append-only event log. It implements events.Emitter so the
// engine can write to it directly.
type Journal struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	seq       uint64
	listeners []Listener
}

// Open connects to the configured backend and migrates the schema. For the
// sqlite driver dsn is a file path and its directory is created on demand.
func Open(driver, dsn string) (*Journal, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite":
		if dir := filepath.Dir(dsn); dir != "" && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("journal: create directory: %w", err)
			}
		}
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownDriver, driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("journal: open database: %w", err)
	}
	return New(db)
}

// New wraps an open gorm handle.
func New(db *gorm.DB) (*Journal, error) {
	if db == nil {
		return nil, ErrNilDB
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	var last Record
	err := db.Order("sequence desc").Limit(1).Find(&last).Error
	if err != nil {
		return nil, fmt.Errorf("journal: load sequence: %w", err)
	}
	return &Journal{db: db, logger: slog.Default(), now: time.Now, seq: last.Sequence}, nil
}

// SetLogger overrides the logger used for emit failures.
func (j *Journal) SetLogger(l *slog.Logger) {
	if l != nil {
		j.logger = l
	}
}

// SetClock overrides the timestamp source.
func (j *Journal) SetClock(now func() time.Time) {
	if now != nil {
		j.now = now
	}
}

// Subscribe registers a listener called after each append.
func (j *Journal) Subscribe(l Listener) {
	if l == nil {
		return
	}
	j.mu.Lock()
	j.listeners = append(j.listeners, l)
	j.mu.Unlock()
}

// Emit implements events.Emitter. Persistence failures are logged; the engine
// state change has already committed.
func (j *Journal) Emit(ev events.Event) {
	if ev == nil {
		return
	}
	if _, err := j.Append(context.Background(), ev.Event()); err != nil {
		j.logger.Error("journal append failed", "type", ev.EventType(), "error", err)
	}
}

// Append persists ev with the next sequence number.
func (j *Journal) Append(ctx context.Context, ev *types.Event) (Entry, error) {
	if ev == nil {
		return Entry{}, ErrNilEvent
	}
	attrs, err := json.Marshal(ev.Attributes)
	if err != nil {
		return Entry{}, fmt.Errorf("journal: encode attributes: %w", err)
	}

	j.mu.Lock()
	seq := j.seq + 1
	rec := Record{
		ID:         uuid.New(),
		Sequence:   seq,
		Digest:     Digest(seq, ev),
		Type:       ev.Type,
		Subject:    subject(ev.Attributes),
		Attributes: string(attrs),
		CreatedAt:  j.now().UTC(),
	}
	if err := j.db.WithContext(ctx).Create(&rec).Error; err != nil {
		j.mu.Unlock()
		return Entry{}, fmt.Errorf("journal: insert: %w", err)
	}
	j.seq = seq
	listeners := append([]Listener(nil), j.listeners...)
	j.mu.Unlock()

	entry, err := rec.entry()
	if err != nil {
		return Entry{}, err
	}
	for _, l := range listeners {
		l(entry)
	}
	return entry, nil
}

// Query returns entries in sequence order.
func (j *Journal) Query(ctx context.Context, f Filter) ([]Entry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	q := j.db.WithContext(ctx).Model(&Record{}).Where("sequence > ?", f.AfterSeq)
	if t := strings.TrimSpace(f.Type); t != "" {
		q = q.Where("type = ?", t)
	}
	if a := strings.TrimSpace(f.Account); a != "" {
		q = q.Where("subject = ?", a)
	}
	var records []Record
	if err := q.Order("sequence asc").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	out := make([]Entry, 0, len(records))
	for _, rec := range records {
		entry, err := rec.entry()
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

// Sequence returns the last assigned sequence number.
func (j *Journal) Sequence() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

// Close releases the underlying connection pool.
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r Record) entry() (Entry, error) {
	attrs := make(map[string]string)
	if err := json.Unmarshal([]byte(r.Attributes), &attrs); err != nil {
		return Entry{}, fmt.Errorf("journal: decode attributes: %w", err)
	}
	return Entry{
		ID:         r.ID.String(),
		Sequence:   r.Sequence,
		Digest:     r.Digest,
		Type:       r.Type,
		Attributes: attrs,
		CreatedAt:  r.CreatedAt,
	}, nil
}

// Digest is the blake3 hash of the sequence number, type and attributes in
// key order. Replaying the same log yields the same digests.
func Digest(seq uint64, ev *types.Event) string {
	h := blake3.New(32, nil)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	h.Write(buf[:])
	h.Write([]byte(ev.Type))
	keys := make([]string, 0, len(ev.Attributes))
	for k := range ev.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(ev.Attributes[k]))
	}
	return hex.EncodeToString(h.Sum(nil))
}

var subjectKeys = []string{"account", "redeemedFrom", "onBehalfOf"}

func subject(attrs map[string]string) string {
	for _, key := range subjectKeys {
		if v, ok := attrs[key]; ok {
			return v
		}
	}
	return ""
}
