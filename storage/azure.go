package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"github.com/emna-belhajltaief/smart-task-manager/domain"
)

var retryStatusCodes = []int{408, 429, 500, 502, 503, 504}

func tableClientOptions() *aztables.ClientOptions {
	return &aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   retryStatusCodes,
			},
		},
	}
}

func queueClientOptions() *azqueue.ClientOptions {
	return &azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   retryStatusCodes,
			},
		},
	}
}

// TableActivityLog mirrors activity entries into an Azure table partitioned
// by user.
type TableActivityLog struct {
	table entityAdder
}

type entityAdder interface {
	AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
}

// NewTableActivityLog connects to table using an Azure storage connection string.
func NewTableActivityLog(connStr, table string) (*TableActivityLog, error) {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, tableClientOptions())
	if err != nil {
		return nil, fmt.Errorf("table service: %w", err)
	}
	return &TableActivityLog{table: svc.NewClient(table)}, nil
}

type activityEntity struct {
	aztables.Entity
	BoardID    string `json:"BoardId"`
	EntityType string `json:"EntityType"`
	EntityID   string `json:"EntityId"`
	Action     string `json:"Action"`
	CreatedAt  string `json:"CreatedAt"`
}

func newActivityEntity(a domain.Activity) activityEntity {
	return activityEntity{
		Entity:     aztables.Entity{PartitionKey: a.UserID, RowKey: a.ID},
		BoardID:    a.BoardID,
		EntityType: a.EntityType,
		EntityID:   a.EntityID,
		Action:     a.Action,
		CreatedAt:  a.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// Record adds a as a table entity. Replays of the same activity id are
// ignored.
func (l *TableActivityLog) Record(ctx context.Context, a domain.Activity) error {
	data, err := sonic.Marshal(newActivityEntity(a))
	if err != nil {
		return err
	}
	if _, err := l.table.AddEntity(ctx, data, nil); err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.EntityAlreadyExists) {
			return nil
		}
		return fmt.Errorf("add activity entity: %w", err)
	}
	return nil
}

// QueuePublisher publishes activity as domain events on an Azure queue.
type QueuePublisher struct {
	queue messageEnqueuer
}

type messageEnqueuer interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// NewQueuePublisher connects to queue using an Azure storage connection string.
func NewQueuePublisher(connStr, queue string) (*QueuePublisher, error) {
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queue, queueClientOptions())
	if err != nil {
		return nil, fmt.Errorf("queue client: %w", err)
	}
	return &QueuePublisher{queue: q}, nil
}

// EventEnvelope is the queue message body.
type EventEnvelope struct {
	Type     string          `json:"type"`
	Activity domain.Activity `json:"activity"`
}

// Record enqueues a as a board event.
func (p *QueuePublisher) Record(ctx context.Context, a domain.Activity) error {
	data, err := sonic.Marshal(EventEnvelope{Type: a.EntityType + "." + a.Action, Activity: a})
	if err != nil {
		return err
	}
	if _, err := p.queue.EnqueueMessage(ctx, string(data), nil); err != nil {
		return fmt.Errorf("enqueue event: %w", err)
	}
	return nil
}

// CreateTables creates the named tables, skipping empty names and tables that
// already exist.
func CreateTables(ctx context.Context, connStr string, names []string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, err := svc.NewClient(name).CreateTable(ctx, nil); err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists)) {
				return fmt.Errorf("create table %s: %w", name, err)
			}
		}
	}
	return nil
}

// CreateQueues creates the named queues, skipping empty names and queues that
// already exist.
func CreateQueues(ctx context.Context, connStr string, names []string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
		if err != nil {
			return err
		}
		if _, err := q.Create(ctx, nil); err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == "QueueAlreadyExists") {
				return fmt.Errorf("create queue %s: %w", name, err)
			}
		}
	}
	return nil
}
