package storage

import (
	"context"
	"errors"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"
)

// CreateTables creates the named tables, skipping ones that already exist.
func CreateTables(ctx context.Context, connStr string, names []string, logger *log.Logger) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, TableClientOptions())
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, err := svc.NewClient(name).CreateTable(ctx, nil); err != nil {
			if !hasErrorCode(err, string(aztables.TableAlreadyExists)) {
				return err
			}
			logger.WithField("table", name).Debug("table already exists")
			continue
		}
		logger.WithField("table", name).Info("table created")
	}
	return nil
}

// CreateQueues creates the named queues, skipping ones that already exist.
func CreateQueues(ctx context.Context, connStr string, names []string, logger *log.Logger) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, QueueClientOptions())
		if err != nil {
			return err
		}
		if _, err := q.Create(ctx, nil); err != nil {
			if !hasErrorCode(err, "QueueAlreadyExists") {
				return err
			}
			logger.WithField("queue", name).Debug("queue already exists")
			continue
		}
		logger.WithField("queue", name).Info("queue created")
	}
	return nil
}

func hasErrorCode(err error, code string) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.ErrorCode == code
}
