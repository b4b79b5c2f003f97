package mongostore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/medaccess/pkg/audit"
	"github.com/dmitrymomot/medaccess/pkg/environment"
)

// DefaultCollection is used unless WithCollection is given.
const DefaultCollection = "audit_entries"

// record is the stored form of an entry. Seq orders the chain and is
// unique, so two writers can never link to the same predecessor.
// Context is kept as JSON text so the hash input survives the round trip.
type record struct {
	ID           string    `bson:"_id"`
	Seq          int64     `bson:"seq"`
	UserID       string    `bson:"user_id,omitempty"`
	Action       string    `bson:"action"`
	Description  string    `bson:"description,omitempty"`
	Severity     string    `bson:"severity"`
	Module       string    `bson:"module,omitempty"`
	IP           string    `bson:"ip,omitempty"`
	UserAgent    string    `bson:"user_agent,omitempty"`
	RequestID    string    `bson:"request_id,omitempty"`
	ErrorDetails string    `bson:"error_details,omitempty"`
	Context      string    `bson:"context,omitempty"`
	LoggedAt     time.Time `bson:"logged_at"`
	PrevHash     string    `bson:"prev_hash"`
	Hash         string    `bson:"hash"`
}

func toRecord(e audit.Entry, seq int64) (record, error) {
	r := record{
		ID:           e.ID,
		Seq:          seq,
		UserID:       e.UserID,
		Action:       e.Action,
		Description:  e.Description,
		Severity:     string(e.Severity),
		Module:       e.Module,
		IP:           e.IP,
		UserAgent:    e.UserAgent,
		RequestID:    e.RequestID,
		ErrorDetails: e.ErrorDetails,
		LoggedAt:     e.LoggedAt,
		PrevHash:     e.PrevHash,
		Hash:         e.Hash,
	}
	if len(e.Context) > 0 {
		b, err := json.Marshal(e.Context)
		if err != nil {
			return record{}, errors.Join(audit.ErrInvalidEntry, err)
		}
		r.Context = string(b)
	}
	return r, nil
}

func (r record) entry() (audit.Entry, error) {
	e := audit.Entry{
		ID:           r.ID,
		UserID:       r.UserID,
		Action:       r.Action,
		Description:  r.Description,
		Severity:     audit.Severity(r.Severity),
		Module:       r.Module,
		IP:           r.IP,
		UserAgent:    r.UserAgent,
		RequestID:    r.RequestID,
		ErrorDetails: r.ErrorDetails,
		LoggedAt:     r.LoggedAt.UTC(),
		PrevHash:     r.PrevHash,
		Hash:         r.Hash,
	}
	if r.Context != "" {
		if err := json.Unmarshal([]byte(r.Context), &e.Context); err != nil {
			return audit.Entry{}, fmt.Errorf("decode context of %s: %w", r.ID, err)
		}
	}
	return e, nil
}

// Storage implements audit.Storage on a MongoDB collection.
type Storage struct {
	coll       *mongo.Collection
	env        environment.Environment
	mu         sync.Mutex
	maxRetries int
}

// Option configures Storage.
type Option func(*storageConfig)

type storageConfig struct {
	collection string
	maxRetries int
}

func WithCollection(name string) Option {
	return func(c *storageConfig) {
		if name != "" {
			c.collection = name
		}
	}
}

// WithMaxRetries bounds how often Append retries after another writer
// took the next sequence number.
func WithMaxRetries(n int) Option {
	return func(c *storageConfig) {
		if n > 0 {
			c.maxRetries = n
		}
	}
}

// New returns a Storage and ensures its indexes exist. In production env
// Update, Delete and Drop are refused without touching the collection.
func New(ctx context.Context, db *mongo.Database, env environment.Environment, opts ...Option) (*Storage, error) {
	cfg := storageConfig{collection: DefaultCollection, maxRetries: 5}
	for _, opt := range opts {
		opt(&cfg)
	}

	coll := db.Collection(cfg.collection)
	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "seq", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "seq", Value: 1}}},
		{Keys: bson.D{{Key: "action", Value: 1}, {Key: "seq", Value: 1}}},
		{Keys: bson.D{{Key: "logged_at", Value: 1}}},
	})
	if err != nil {
		return nil, errors.Join(audit.ErrStorageNotAvailable, err)
	}

	return &Storage{coll: coll, env: env, maxRetries: cfg.maxRetries}, nil
}

func (s *Storage) Append(ctx context.Context, next func(prevHash string) audit.Entry) (audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for range s.maxRetries {
		var last record
		err := s.coll.FindOne(ctx, bson.D{}, options.FindOne().SetSort(bson.D{{Key: "seq", Value: -1}})).Decode(&last)
		switch {
		case errors.Is(err, mongo.ErrNoDocuments):
			last = record{}
		case err != nil:
			return audit.Entry{}, err
		}

		e := next(last.Hash)
		rec, err := toRecord(e, last.Seq+1)
		if err != nil {
			return audit.Entry{}, err
		}
		_, err = s.coll.InsertOne(ctx, rec)
		if err == nil {
			return e, nil
		}
		if !mongo.IsDuplicateKeyError(err) {
			return audit.Entry{}, err
		}
	}
	return audit.Entry{}, fmt.Errorf("audit chain contention: gave up after %d attempts", s.maxRetries)
}

func (s *Storage) Get(ctx context.Context, id string) (audit.Entry, error) {
	var rec record
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return audit.Entry{}, audit.ErrEntryNotFound
	}
	if err != nil {
		return audit.Entry{}, err
	}
	return rec.entry()
}

func (s *Storage) Find(ctx context.Context, c audit.Criteria) ([]audit.Entry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}})
	if c.Limit > 0 {
		opts.SetLimit(int64(c.Limit))
	}

	cur, err := s.coll.Find(ctx, filter(c), opts)
	if err != nil {
		return nil, err
	}
	var recs []record
	if err := cur.All(ctx, &recs); err != nil {
		return nil, err
	}

	out := make([]audit.Entry, 0, len(recs))
	for _, r := range recs {
		e, err := r.entry()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func filter(c audit.Criteria) bson.D {
	f := bson.D{}
	if c.UserID != "" {
		f = append(f, bson.E{Key: "user_id", Value: c.UserID})
	}
	if c.Action != "" {
		f = append(f, bson.E{Key: "action", Value: c.Action})
	}
	if c.Module != "" {
		f = append(f, bson.E{Key: "module", Value: c.Module})
	}
	if c.Severity != "" {
		f = append(f, bson.E{Key: "severity", Value: string(c.Severity)})
	}
	if !c.Since.IsZero() || !c.Until.IsZero() {
		r := bson.D{}
		if !c.Since.IsZero() {
			r = append(r, bson.E{Key: "$gte", Value: c.Since})
		}
		if !c.Until.IsZero() {
			r = append(r, bson.E{Key: "$lt", Value: c.Until})
		}
		f = append(f, bson.E{Key: "logged_at", Value: r})
	}
	return f
}

// Update rewrites every field except the sequence number.
func (s *Storage) Update(ctx context.Context, e audit.Entry) error {
	if s.env.IsProduction() {
		return &audit.IntegrityError{EntryID: e.ID, Op: audit.OpUpdate}
	}
	rec, err := toRecord(e, 0)
	if err != nil {
		return err
	}
	res, err := s.coll.UpdateOne(ctx, bson.D{{Key: "_id", Value: e.ID}}, bson.D{{Key: "$set", Value: bson.D{
		{Key: "user_id", Value: rec.UserID},
		{Key: "action", Value: rec.Action},
		{Key: "description", Value: rec.Description},
		{Key: "severity", Value: rec.Severity},
		{Key: "module", Value: rec.Module},
		{Key: "ip", Value: rec.IP},
		{Key: "user_agent", Value: rec.UserAgent},
		{Key: "request_id", Value: rec.RequestID},
		{Key: "error_details", Value: rec.ErrorDetails},
		{Key: "context", Value: rec.Context},
		{Key: "logged_at", Value: rec.LoggedAt},
		{Key: "prev_hash", Value: rec.PrevHash},
		{Key: "hash", Value: rec.Hash},
	}}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return audit.ErrEntryNotFound
	}
	return nil
}

func (s *Storage) Delete(ctx context.Context, id string) error {
	if s.env.IsProduction() {
		return &audit.IntegrityError{EntryID: id, Op: audit.OpDelete}
	}
	res, err := s.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return audit.ErrEntryNotFound
	}
	return nil
}

// Drop removes the collection. Intended for test cleanup.
func (s *Storage) Drop(ctx context.Context) error {
	if s.env.IsProduction() {
		return &audit.IntegrityError{EntryID: "*", Op: audit.OpDelete}
	}
	return s.coll.Drop(ctx)
}
