package mongo

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/RichardKnop/combiner/backends/iface"
	"github.com/RichardKnop/combiner/common"
	"github.com/RichardKnop/combiner/config"
	"github.com/RichardKnop/combiner/log"
)

const (
	defaultDatabase = "combiner"
	tasksCollection = "tasks"
	connectTimeout  = 15 * time.Second
)

type document struct {
	Key       string     `bson:"_id"`
	State     []byte     `bson:"state"`
	ExpiresAt *time.Time `bson:"expires_at,omitempty"`
}

// Store keeps task states in a MongoDB collection. Expired documents are
// hidden from reads straight away and removed later by a TTL index.
type Store struct {
	cnf     *config.Config
	once    sync.Once
	coll    *mongo.Collection
	connErr error
}

// New creates a MongoDB result backend. The collection is opened on first use.
func New(cnf *config.Config) (iface.Backend, error) {
	return common.NewBackend(cnf, NewStore(cnf)), nil
}

// NewStore creates a Store using cnf.MongoDB and cnf.ResultBackend
func NewStore(cnf *config.Config) *Store {
	return &Store{cnf: cnf}
}

// Put upserts the document for key
func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	coll, err := s.collection(ctx)
	if err != nil {
		return err
	}

	doc := document{Key: key, State: value}
	if ttl > 0 {
		expiresAt := time.Now().UTC().Add(ttl)
		doc.ExpiresAt = &expiresAt
	}

	_, err = coll.ReplaceOne(ctx, bson.M{"_id": key}, doc, options.Replace().SetUpsert(true))
	return err
}

// Get returns the state stored under key unless it has expired
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	coll, err := s.collection(ctx)
	if err != nil {
		return nil, err
	}

	filter := bson.M{
		"_id": key,
		"$or": bson.A{
			bson.M{"expires_at": bson.M{"$exists": false}},
			bson.M{"expires_at": bson.M{"$gt": time.Now().UTC()}},
		},
	}

	var doc document
	err = coll.FindOne(ctx, filter).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, iface.ErrStateNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.State, nil
}

// Delete removes the document for key
func (s *Store) Delete(ctx context.Context, key string) error {
	coll, err := s.collection(ctx)
	if err != nil {
		return err
	}

	res, err := coll.DeleteOne(ctx, bson.M{"_id": key})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return iface.ErrStateNotFound
	}
	return nil
}

func (s *Store) collection(ctx context.Context) (*mongo.Collection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.once.Do(func() {
		s.connErr = s.connect()
	})
	return s.coll, s.connErr
}

// connect uses the configured client when there is one, otherwise it dials
// the result backend URI. A failed connect is not retried.
func (s *Store) connect() error {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	database := defaultDatabase
	var client *mongo.Client
	if mcnf := s.cnf.MongoDB; mcnf != nil {
		if mcnf.Database != "" {
			database = mcnf.Database
		}
		client = mcnf.Client
	}

	if client == nil {
		opts := options.Client().ApplyURI(s.cnf.ResultBackend)
		if s.cnf.TLSConfig != nil {
			opts.SetTLSConfig(s.cnf.TLSConfig)
		}

		var err error
		if client, err = mongo.Connect(ctx, opts); err != nil {
			return err
		}
	}

	coll := client.Database(database).Collection(tasksCollection)
	log.INFO.Printf("Ensuring TTL index on %s.%s", database, tasksCollection)
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	if err != nil {
		return err
	}

	s.coll = coll
	return nil
}
