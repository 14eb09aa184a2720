package mfacore

import (
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestBuildRequiresBackends(t *testing.T) {
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = []byte("builder-test-secret")

	if _, err := New().WithConfig(cfg).Build(); err == nil {
		t.Fatal("build without backends should fail")
	}
}

func TestBuilderIsSingleUse(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	db, err := gorm.Open(
		sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())),
		&gorm.Config{Logger: logger.Default.LogMode(logger.Silent)},
	)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = []byte("builder-test-secret")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1

	b := New().WithConfig(cfg).WithRedis(rdb).WithDB(db)
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(engine.Close)

	if _, err := b.Build(); err == nil {
		t.Fatal("second build on the same builder should fail")
	}
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	db, err := gorm.Open(
		sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())),
		&gorm.Config{Logger: logger.Default.LogMode(logger.Silent)},
	)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	cfg := DefaultConfig()
	// No signing key at all.
	if _, err := New().WithConfig(cfg).WithRedis(rdb).WithDB(db).Build(); err == nil {
		t.Fatal("build without a jwt key should fail")
	}
}
