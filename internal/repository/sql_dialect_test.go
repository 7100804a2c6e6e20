package repository

import (
	"testing"

	"gorm.io/gorm"
)

func TestDBDialectNameDefaultsToSQLite(t *testing.T) {
	if got := dbDialectName(nil); got != "sqlite" {
		t.Fatalf("nil db should report sqlite, got %s", got)
	}
	if got := dbDialectName(&gorm.DB{Config: &gorm.Config{}}); got != "sqlite" {
		t.Fatalf("missing dialector should report sqlite, got %s", got)
	}
}

func TestIsPostgresOnSQLite(t *testing.T) {
	db := openRepositoryTestDB(t, "dialect")
	if isPostgres(db) {
		t.Fatalf("sqlite db must not be detected as postgres")
	}
}
