package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// NotificationChannel returns the Redis PubSub channel shared by every open
// tab of a teacher session.
func (r *CacheKeyStruct) NotificationChannel(sessionID string) string {
	return fmt.Sprintf("notify:%s", sessionID)
}

var CacheKey = NewCacheKeyStruct()
