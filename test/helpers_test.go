//go:build integration
// +build integration

package test

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/keyfold/refreshguard/token"
	"github.com/redis/go-redis/v9"
)

func newIntegrationStore(t *testing.T) (*token.Store, *redis.Client, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := token.NewStore(rdb, "rt", time.Hour, nil)

	return store, rdb, func() {
		_ = rdb.Close()
		mr.Close()
	}
}

func makeRecord(userID, id string, hashHex string) *token.Record {
	now := time.Now()

	return &token.Record{
		ID:          id,
		UserID:      userID,
		FamilyID:    "fam-" + id,
		TokenHash:   hashHex,
		CreatedAt:   now.Unix(),
		ExpiresAt:   now.Add(time.Hour).Unix(),
		CreatedByIP: "198.51.100.7",
	}
}

func hashByte(b byte) string {
	var out [32]byte
	for i := 0; i < len(out); i++ {
		out[i] = b
	}
	return hex.EncodeToString(out[:])
}
