package service

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

// userLocks serializes ledger mutations per user. Two writers for the
// same user must never compute BalanceAfter from the same prior row;
// different users never contend.
type userLocks struct {
	locks sync.Map // snowflake.ID -> *sync.Mutex
}

func (l *userLocks) Lock(userID snowflake.ID) func() {
	value, _ := l.locks.LoadOrStore(userID, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
