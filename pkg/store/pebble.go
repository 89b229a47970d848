package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"

	"earnhub/pkg/logger"
	"earnhub/pkg/models"
)

var db *pebble.DB

// seq provides a small counter to reduce key collisions when multiple
// records share the same nanosecond timestamp.
var seq uint64

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("not found")

// Open opens (or creates) a Pebble database at the given path and keeps
// a global handle for simple usage in this package.
func Open(path string) error {
	var err error
	logger.Info("opening_pebble_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool {
	return db != nil
}

func notOpened() error {
	return fmt.Errorf("pebble not opened; call store.Open first")
}

// GetJSON loads and decodes the value at key into v.
func GetJSON(key string, v interface{}) error {
	if db == nil {
		return notOpened()
	}
	b, closer, err := db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	defer closer.Close()
	return json.Unmarshal(b, v)
}

// SetJSON encodes v and stores it at key with a synced write.
func SetJSON(key string, v interface{}) error {
	if db == nil {
		return notOpened()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := db.Set([]byte(key), b, pebble.Sync); err != nil {
		logger.Error("save_key_failed", "key", key, "error", err)
		return err
	}
	return nil
}

// Delete removes the value at key.
func Delete(key string) error {
	if db == nil {
		return notOpened()
	}
	return db.Delete([]byte(key), pebble.Sync)
}

// listPrefix returns the raw values for all keys with the given prefix in
// key order.
func listPrefix(prefix string) ([][]byte, error) {
	if db == nil {
		return nil, notOpened()
	}
	pfx := []byte(prefix)
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out [][]byte
	for iter.SeekGE(pfx); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), pfx) {
			break
		}
		out = append(out, append([]byte(nil), iter.Value()...))
	}
	return out, iter.Error()
}

// Batch groups writes applied atomically with a single synced commit.
type Batch struct {
	b *pebble.Batch
}

// NewBatch returns a write batch. Callers must Commit or discard it.
func NewBatch() (*Batch, error) {
	if db == nil {
		return nil, notOpened()
	}
	return &Batch{b: db.NewBatch()}, nil
}

// SetJSON stages an encoded write in the batch.
func (b *Batch) SetJSON(key string, v interface{}) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return b.b.Set([]byte(key), buf, nil)
}

// Commit applies all staged writes in one synced operation.
func (b *Batch) Commit() error {
	return b.b.Commit(pebble.Sync)
}

// Close discards an uncommitted batch.
func (b *Batch) Close() error {
	return b.b.Close()
}

// --- chat messages ---

// SaveMessage appends a message to a room's log by inserting a new key with
// a sortable timestamp prefix. Messages are ordered by insertion time.
func SaveMessage(msg models.ChatMessage) error {
	if db == nil {
		return notOpened()
	}
	ts := msg.TS
	if ts == 0 {
		ts = time.Now().UTC().UnixNano()
	}
	s := atomic.AddUint64(&seq, 1)
	key := fmt.Sprintf("chat:%s:msg:%020d-%06d", msg.Room, ts, s)
	if err := SetJSON(key, msg); err != nil {
		logger.Error("save_message_failed", "room", msg.Room, "key", key, "error", err)
		return err
	}
	logger.Debug("message_saved", "room", msg.Room, "id", msg.ID)
	return nil
}

// ListMessages returns all messages for a room in insertion order.
func ListMessages(room string) ([]models.ChatMessage, error) {
	vals, err := listPrefix("chat:" + room + ":msg:")
	if err != nil {
		return nil, err
	}
	out := make([]models.ChatMessage, 0, len(vals))
	for _, v := range vals {
		var m models.ChatMessage
		if err := json.Unmarshal(v, &m); err != nil {
			logger.Warn("skip_invalid_message", "room", room, "error", err)
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// recordLocks serializes read-modify-write cycles on individual records.
// Pebble batches make multi-key writes atomic but do not stop two requests
// from loading the same record and both committing; callers that mutate a
// balance or counter must hold the record's lock across the read and the
// write.
var recordLocks sync.Map

func lockRecord(key string) func() {
	v, _ := recordLocks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// LockUser takes the write lock for one user record and returns its release.
func LockUser(id string) func() { return lockRecord("user:" + id) }

// LockTask takes the write lock for one task record and returns its release.
func LockTask(id string) func() { return lockRecord("task:" + id) }

// LockModeration takes the write lock for one moderation record.
func LockModeration(userID string) func() { return lockRecord("moderation:" + userID) }

// --- users ---

func userKey(id string) string     { return "user:id:" + id }
func emailKey(email string) string { return "user:email:" + strings.ToLower(email) }

// SaveUser stores the user record and its email lookup index atomically.
func SaveUser(u models.User) error {
	b, err := NewBatch()
	if err != nil {
		return err
	}
	defer b.Close()
	if err := b.SetJSON(userKey(u.ID), u); err != nil {
		return err
	}
	if u.Email != "" {
		if err := b.SetJSON(emailKey(u.Email), u.ID); err != nil {
			return err
		}
	}
	return b.Commit()
}

// GetUser loads a user by id.
func GetUser(id string) (models.User, error) {
	var u models.User
	err := GetJSON(userKey(id), &u)
	return u, err
}

// GetUserByEmail resolves the email index then loads the user.
func GetUserByEmail(email string) (models.User, error) {
	var id string
	if err := GetJSON(emailKey(email), &id); err != nil {
		return models.User{}, err
	}
	return GetUser(id)
}

// ListUsers returns all stored users, newest first.
func ListUsers() ([]models.User, error) {
	vals, err := listPrefix("user:id:")
	if err != nil {
		return nil, err
	}
	out := make([]models.User, 0, len(vals))
	for _, v := range vals {
		var u models.User
		if err := json.Unmarshal(v, &u); err == nil {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedTS > out[j].CreatedTS })
	return out, nil
}

// --- moderation ---

// ModerationKey is the canonical per-user record key.
func ModerationKey(userID string) string { return "moderation:" + userID }

// SanctionKey is the redundant snapshot read by clients on mount.
func SanctionKey(userID string) string { return "sanction:" + userID }

// SaveModeration writes the per-user record and its sanction snapshot in one
// atomic batch so the cached copy can never disagree with the record.
func SaveModeration(rec models.ModerationRecord) error {
	b, err := NewBatch()
	if err != nil {
		return err
	}
	defer b.Close()
	if err := b.SetJSON(ModerationKey(rec.UserID), rec); err != nil {
		return err
	}
	if err := b.SetJSON(SanctionKey(rec.UserID), rec.Sanction); err != nil {
		return err
	}
	return b.Commit()
}

// GetModeration loads the moderation record for a user. Callers create the
// zero record lazily when none exists.
func GetModeration(userID string) (models.ModerationRecord, error) {
	var rec models.ModerationRecord
	err := GetJSON(ModerationKey(userID), &rec)
	return rec, err
}

// --- transactions ---

func txKey(id string) string { return "tx:id:" + id }

// txIndexKey yields keys that iterate newest-first: the timestamp is
// complemented so a forward scan walks recent entries first.
func txIndexKey(createdTS int64, s uint64) string {
	return fmt.Sprintf("tx:ts:%020d-%06d", uint64(math.MaxInt64)-uint64(createdTS), s)
}

// SaveTransaction inserts a new transaction and its time-index entry.
func SaveTransaction(tx models.Transaction) error {
	b, err := NewBatch()
	if err != nil {
		return err
	}
	defer b.Close()
	if err := b.SetJSON(txKey(tx.ID), tx); err != nil {
		return err
	}
	s := atomic.AddUint64(&seq, 1)
	if err := b.SetJSON(txIndexKey(tx.CreatedTS, s), tx.ID); err != nil {
		return err
	}
	return b.Commit()
}

// SaveTransactionWithUser inserts a new transaction together with an
// updated user record in one atomic batch. Used for the optimistic debit
// at withdrawal time.
func SaveTransactionWithUser(tx models.Transaction, u models.User) error {
	b, err := NewBatch()
	if err != nil {
		return err
	}
	defer b.Close()
	if err := b.SetJSON(txKey(tx.ID), tx); err != nil {
		return err
	}
	s := atomic.AddUint64(&seq, 1)
	if err := b.SetJSON(txIndexKey(tx.CreatedTS, s), tx.ID); err != nil {
		return err
	}
	if err := b.SetJSON(userKey(u.ID), u); err != nil {
		return err
	}
	return b.Commit()
}

// UpdateTransaction overwrites an existing transaction record, optionally
// together with an updated user record in the same atomic batch. The nil
// user case covers status-only transitions.
func UpdateTransaction(tx models.Transaction, u *models.User) error {
	b, err := NewBatch()
	if err != nil {
		return err
	}
	defer b.Close()
	if err := b.SetJSON(txKey(tx.ID), tx); err != nil {
		return err
	}
	if u != nil {
		if err := b.SetJSON(userKey(u.ID), *u); err != nil {
			return err
		}
	}
	return b.Commit()
}

// GetTransaction loads a transaction by id.
func GetTransaction(id string) (models.Transaction, error) {
	var tx models.Transaction
	err := GetJSON(txKey(id), &tx)
	return tx, err
}

// ListTransactions returns transactions newest first. A non-empty userID
// filters to that user's history; limit 0 means no cap.
func ListTransactions(userID string, limit int) ([]models.Transaction, error) {
	ids, err := listPrefix("tx:ts:")
	if err != nil {
		return nil, err
	}
	out := make([]models.Transaction, 0, len(ids))
	for _, raw := range ids {
		var id string
		if err := json.Unmarshal(raw, &id); err != nil {
			continue
		}
		tx, err := GetTransaction(id)
		if err != nil {
			continue
		}
		if userID != "" && tx.UserID != userID {
			continue
		}
		out = append(out, tx)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// --- disputes ---

func disputeKey(id string) string { return "dispute:id:" + id }

func disputeIndexKey(createdTS int64, s uint64) string {
	return fmt.Sprintf("dispute:ts:%020d-%06d", uint64(math.MaxInt64)-uint64(createdTS), s)
}

// SaveDispute inserts a new dispute ticket and its time-index entry.
func SaveDispute(d models.DisputeTicket) error {
	b, err := NewBatch()
	if err != nil {
		return err
	}
	defer b.Close()
	if err := b.SetJSON(disputeKey(d.ID), d); err != nil {
		return err
	}
	s := atomic.AddUint64(&seq, 1)
	if err := b.SetJSON(disputeIndexKey(d.CreatedTS, s), d.ID); err != nil {
		return err
	}
	return b.Commit()
}

// UpdateDispute overwrites an existing dispute ticket.
func UpdateDispute(d models.DisputeTicket) error {
	return SetJSON(disputeKey(d.ID), d)
}

// GetDispute loads a dispute ticket by id.
func GetDispute(id string) (models.DisputeTicket, error) {
	var d models.DisputeTicket
	err := GetJSON(disputeKey(id), &d)
	return d, err
}

// ListDisputes returns dispute tickets newest first.
func ListDisputes() ([]models.DisputeTicket, error) {
	ids, err := listPrefix("dispute:ts:")
	if err != nil {
		return nil, err
	}
	out := make([]models.DisputeTicket, 0, len(ids))
	for _, raw := range ids {
		var id string
		if err := json.Unmarshal(raw, &id); err != nil {
			continue
		}
		d, err := GetDispute(id)
		if err != nil {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// --- tasks and marketplace ---

// SaveTask stores a task definition.
func SaveTask(t models.Task) error { return SetJSON("task:id:"+t.ID, t) }

// GetTask loads a task by id.
func GetTask(id string) (models.Task, error) {
	var t models.Task
	err := GetJSON("task:id:"+id, &t)
	return t, err
}

// DeleteTask removes a task definition.
func DeleteTask(id string) error { return Delete("task:id:" + id) }

// ListTasks returns all tasks, newest first.
func ListTasks() ([]models.Task, error) {
	vals, err := listPrefix("task:id:")
	if err != nil {
		return nil, err
	}
	out := make([]models.Task, 0, len(vals))
	for _, v := range vals {
		var t models.Task
		if err := json.Unmarshal(v, &t); err == nil {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedTS > out[j].CreatedTS })
	return out, nil
}

// SaveProduct stores a marketplace product.
func SaveProduct(p models.Product) error { return SetJSON("market:id:"+p.ID, p) }

// GetProduct loads a product by id.
func GetProduct(id string) (models.Product, error) {
	var p models.Product
	err := GetJSON("market:id:"+id, &p)
	return p, err
}

// DeleteProduct removes a product listing.
func DeleteProduct(id string) error { return Delete("market:id:" + id) }

// ListProducts returns all products, newest first.
func ListProducts() ([]models.Product, error) {
	vals, err := listPrefix("market:id:")
	if err != nil {
		return nil, err
	}
	out := make([]models.Product, 0, len(vals))
	for _, v := range vals {
		var p models.Product
		if err := json.Unmarshal(v, &p); err == nil {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedTS > out[j].CreatedTS })
	return out, nil
}

// --- announcement ---

// SetAnnouncement stores the broadcast banner text.
func SetAnnouncement(text string) error { return SetJSON("announcement:text", text) }

// GetAnnouncement returns the broadcast banner text, empty when unset.
func GetAnnouncement() (string, error) {
	var s string
	err := GetJSON("announcement:text", &s)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return s, err
}
