package service

import (
	"context"

	"dealflow/pkg/logger"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/zap"
)

const leaderLockKey = "/locks/dealflow/scheduler"

// LeaderLock guarantees a single scheduler instance per queue: a second
// worker parks on the etcd mutex until the holder releases it or its lease
// expires.
type LeaderLock struct {
	client  *clientv3.Client
	session *concurrency.Session
	mutex   *concurrency.Mutex
}

func NewLeaderLock(client *clientv3.Client) *LeaderLock {
	return &LeaderLock{client: client}
}

// Acquire blocks until this instance holds the scheduler lock. The session
// lease keeps the lock alive while the process runs and releases it if the
// process dies without unlocking.
func (l *LeaderLock) Acquire(ctx context.Context) error {
	session, err := concurrency.NewSession(l.client, concurrency.WithTTL(10))
	if err != nil {
		return err
	}
	mutex := concurrency.NewMutex(session, leaderLockKey)

	logger.Info("waiting for scheduler lock", zap.String("key", leaderLockKey))
	if err := mutex.Lock(ctx); err != nil {
		session.Close()
		return err
	}

	l.session = session
	l.mutex = mutex
	logger.Info("scheduler lock acquired")
	return nil
}

func (l *LeaderLock) Release(ctx context.Context) {
	if l.mutex != nil {
		if err := l.mutex.Unlock(ctx); err != nil {
			logger.Warn("failed to release scheduler lock", zap.Error(err))
		}
	}
	if l.session != nil {
		l.session.Close()
	}
}
