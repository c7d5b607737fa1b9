package dynamodb

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/pkg/errors"

	"github.com/RichardKnop/combiner/backends/iface"
	dynamodbiface "github.com/RichardKnop/combiner/backends/iface/dynamodb"
	"github.com/RichardKnop/combiner/common"
	"github.com/RichardKnop/combiner/config"
	"github.com/RichardKnop/combiner/log"
)

const defaultTable = "task_states"

// record is one item of the task states table. TTL is the attribute to
// enable DynamoDB time to live on.
type record struct {
	TaskUUID string
	State    []byte
	TTL      int64 `dynamodbav:",omitempty"`
}

// Store keeps task states in a DynamoDB table keyed by TaskUUID
type Store struct {
	client dynamodbiface.API
	table  string
	now    func() time.Time
}

// New creates a DynamoDB result backend. The table must already exist.
func New(cnf *config.Config) (iface.Backend, error) {
	table := defaultTable
	var client dynamodbiface.API
	if cnf.DynamoDB != nil {
		if cnf.DynamoDB.TaskStatesTable != "" {
			table = cnf.DynamoDB.TaskStatesTable
		}
		client = cnf.DynamoDB.Client
	}

	if client == nil {
		awsCnf, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			return nil, errors.Wrap(err, "Load AWS config error")
		}
		client = dynamodb.NewFromConfig(awsCnf)
	}

	store := NewStore(client, table)
	if err := store.CheckTable(context.Background()); err != nil {
		log.ERROR.Print(err)
		return nil, err
	}
	return common.NewBackend(cnf, store), nil
}

// NewStore creates a Store on table
func NewStore(client dynamodbiface.API, table string) *Store {
	return &Store{client: client, table: table, now: time.Now}
}

// CheckTable fails unless the table exists
func (s *Store) CheckTable(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)})
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return errors.Errorf("task table %q doesn't exist", s.table)
	}
	return err
}

// Put writes the item for key. The TTL attribute is left out when ttl is zero.
func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	rec := record{TaskUUID: key, State: value}
	if ttl > 0 {
		rec.TTL = s.now().Add(ttl).Unix()
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return errors.Wrapf(err, "Marshal item %s error", key)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	return err
}

// Get reads the item for key. DynamoDB deletes expired items lazily, so
// their TTL is checked here too.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.key(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Item) == 0 {
		return nil, iface.ErrStateNotFound
	}

	var rec record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, errors.Wrapf(err, "Unmarshal item %s error", key)
	}
	if rec.TTL > 0 && rec.TTL <= s.now().Unix() {
		return nil, iface.ErrStateNotFound
	}
	return rec.State, nil
}

// Delete removes the item for key
func (s *Store) Delete(ctx context.Context, key string) error {
	out, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(s.table),
		Key:          s.key(key),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return err
	}
	if len(out.Attributes) == 0 {
		return iface.ErrStateNotFound
	}
	return nil
}

func (s *Store) key(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"TaskUUID": &types.AttributeValueMemberS{Value: key},
	}
}
