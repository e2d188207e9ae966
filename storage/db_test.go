package storage

import (
	"errors"
	"path/filepath"
	"testing"
)

func exerciseDatabase(t *testing.T, db Database) {
	t.Helper()
	if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := db.Put([]byte("a/1"), []byte("one")); err != nil {
		t.Fatalf("put: %v", err)
	}
	batch := db.NewBatch()
	batch.Put([]byte("a/3"), []byte("three"))
	batch.Put([]byte("a/2"), []byte("two"))
	batch.Put([]byte("b/1"), []byte("other"))
	batch.Delete([]byte("a/1"))
	if batch.Len() != 4 {
		t.Fatalf("unexpected batch length %d", batch.Len())
	}
	if ok, _ := db.Has([]byte("a/2")); ok {
		t.Fatalf("batch writes must not be visible before Write")
	}
	if err := batch.Write(); err != nil {
		t.Fatalf("write batch: %v", err)
	}

	var keys []string
	if err := db.Iterate([]byte("a/"), func(key, value []byte) bool {
		keys = append(keys, string(key)+"="+string(value))
		return true
	}); err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if len(keys) != 2 || keys[0] != "a/2=two" || keys[1] != "a/3=three" {
		t.Fatalf("unexpected iteration %v", keys)
	}
	if ok, _ := db.Has([]byte("a/1")); ok {
		t.Fatalf("deleted key still present")
	}
	if err := db.Delete([]byte("b/1")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.Get([]byte("b/1")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	exerciseDatabase(t, db)
}

func TestLevelDB(t *testing.T) {
	db, err := NewLevelDB(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	defer db.Close()
	exerciseDatabase(t, db)
}
