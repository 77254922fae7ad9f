package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRepo opens a migrated sqlite database in a temp dir
func newTestRepo(t *testing.T) *Repository {
	t.Helper()

	ctx := context.Background()
	db, err := NewDB(ctx, Config{
		Driver:       "sqlite",
		DSN:          "file:" + filepath.Join(t.TempDir(), "test.db"),
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 4,
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.RunMigrations(ctx))
	return NewRepository(db)
}

func createUser(t *testing.T, repo *Repository, name string) *User {
	t.Helper()
	u := &User{Username: name, PasswordHash: "hash"}
	require.NoError(t, repo.CreateUser(context.Background(), u))
	return u
}

func TestRunMigrationsIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	require.NoError(t, repo.db.RunMigrations(context.Background()))

	n, err := repo.CountUsers(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUserLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	u := createUser(t, repo, "alice")
	assert.NotZero(t, u.ID)

	got, err := repo.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, u.ID, got.ID)
	assert.False(t, got.IsPremium)
	assert.WithinDuration(t, time.Now(), got.CreatedAt, time.Minute)

	missing, err := repo.GetUserByUsername(ctx, "Alice")
	require.NoError(t, err)
	assert.Nil(t, missing, "usernames are case-sensitive")

	changed, err := repo.SetPremium(ctx, u.ID, true)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.SetPremium(ctx, u.ID, true)
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, repo.UpdateUsername(ctx, u.ID, "alicia"))
	require.NoError(t, repo.UpdatePassword(ctx, u.ID, "newhash"))

	got, err = repo.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "alicia", got.Username)
	assert.Equal(t, "newhash", got.PasswordHash)
	assert.True(t, got.IsPremium)

	exists, err := repo.UsernameExists(ctx, "alicia")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, repo.DeleteUser(ctx, u.ID))
	err = repo.DeleteUser(ctx, u.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateUserDuplicate(t *testing.T) {
	repo := newTestRepo(t)
	createUser(t, repo, "bob")

	err := repo.CreateUser(context.Background(), &User{Username: "bob", PasswordHash: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestUpdateUsernameDuplicate(t *testing.T) {
	repo := newTestRepo(t)
	createUser(t, repo, "bob")
	carol := createUser(t, repo, "carol")

	err := repo.UpdateUsername(context.Background(), carol.ID, "bob")
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestLicenseOperations(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	owner := createUser(t, repo, "owner")
	other := createUser(t, repo, "other")

	base := time.Now().UTC().Add(-time.Hour)
	for i, key := range []string{"k1", "k2", "k3"} {
		l := &License{UserID: owner.ID, LicenseKey: key, Uses: 1, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, repo.CreateLicense(ctx, l))
		assert.NotZero(t, l.ID)
	}

	err := repo.CreateLicense(ctx, &License{UserID: other.ID, LicenseKey: "k1", Uses: 1})
	assert.ErrorIs(t, err, ErrDuplicate)

	list, err := repo.ListLicensesByUser(ctx, owner.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"k3", "k2", "k1"}, []string{list[0].LicenseKey, list[1].LicenseKey, list[2].LicenseKey})

	count, err := repo.CountLicensesByUser(ctx, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	assert.ErrorIs(t, repo.DeleteLicense(ctx, other.ID, "k1"), ErrNotFound)
	require.NoError(t, repo.DeleteLicense(ctx, owner.ID, "k1"))

	gone, err := repo.GetLicenseByKey(ctx, "k1")
	require.NoError(t, err)
	assert.Nil(t, gone)

	n, err := repo.DeleteLicensesByUser(ctx, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	total, err := repo.CountLicenses(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestDeleteUserCascadesLicenses(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	u := createUser(t, repo, "cascade")
	require.NoError(t, repo.CreateLicense(ctx, &License{UserID: u.ID, LicenseKey: "c1", Uses: 1}))

	require.NoError(t, repo.DeleteUser(ctx, u.ID))

	l, err := repo.GetLicenseByKey(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, l)
}

func TestConsumeLicenseUse(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	u := createUser(t, repo, "consumer")
	require.NoError(t, repo.CreateLicense(ctx, &License{UserID: u.ID, LicenseKey: "one", Uses: 1}))
	require.NoError(t, repo.CreateLicense(ctx, &License{UserID: u.ID, LicenseKey: "inf", Uses: UnlimitedUses}))

	ok, err := repo.ConsumeLicenseUse(ctx, "one")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.ConsumeLicenseUse(ctx, "one")
	require.NoError(t, err)
	assert.False(t, ok)

	l, err := repo.GetLicenseByKey(ctx, "one")
	require.NoError(t, err)
	assert.Equal(t, 0, l.Uses)

	for i := 0; i < 3; i++ {
		ok, err = repo.ConsumeLicenseUse(ctx, "inf")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	l, err = repo.GetLicenseByKey(ctx, "inf")
	require.NoError(t, err)
	assert.True(t, l.IsUnlimited())
}

func TestStatsIncrementAndFloor(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	stats, err := repo.GetStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalUsers)

	require.NoError(t, repo.IncrementStats(ctx, StatsDelta{Users: 1, Created: 2, Active: 2, Validations: 5}))
	require.NoError(t, repo.IncrementStats(ctx, StatsDelta{Users: -3, Active: -5, Deleted: 2}))

	stats, err = repo.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.TotalUsers)
	assert.Equal(t, int64(2), stats.TotalLicensesCreated)
	assert.Equal(t, int64(0), stats.TotalLicensesActive)
	assert.Equal(t, int64(2), stats.TotalLicensesDeleted)
	assert.Equal(t, int64(5), stats.TotalLicenseValidations)

	require.NoError(t, repo.ReplaceDerivedStats(ctx, 7, 9, 4))
	stats, err = repo.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), stats.TotalUsers)
	assert.Equal(t, int64(9), stats.TotalLicensesCreated)
	assert.Equal(t, int64(4), stats.TotalLicensesActive)
	assert.Equal(t, int64(2), stats.TotalLicensesDeleted)
}

func TestWithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	boom := errors.New("boom")

	err := repo.WithTx(ctx, func(tx *Repository) error {
		u := &User{Username: "ghost", PasswordHash: "x"}
		require.NoError(t, tx.CreateUser(ctx, u))
		require.NoError(t, tx.IncrementStats(ctx, StatsDelta{Users: 1}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	u, err := repo.GetUserByUsername(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, u)

	stats, err := repo.GetStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalUsers)
}

func TestWithTxNested(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	err := repo.WithTx(ctx, func(tx *Repository) error {
		return tx.WithTx(ctx, func(inner *Repository) error {
			assert.Same(t, tx, inner)
			return inner.CreateUser(ctx, &User{Username: "nested", PasswordHash: "x"})
		})
	})
	require.NoError(t, err)

	u, err := repo.GetUserByUsername(ctx, "nested")
	require.NoError(t, err)
	assert.NotNil(t, u)
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	u := createUser(t, repo, "historian")

	require.NoError(t, repo.AddHistory(ctx, u.ID, ActionRegister, ""))
	require.NoError(t, repo.AddHistory(ctx, u.ID, ActionLogin, ""))

	restore := now
	now = func() time.Time { return time.Now().UTC().Add(-40 * 24 * time.Hour) }
	require.NoError(t, repo.AddHistory(ctx, u.ID, ActionLogin, "old"))
	now = restore

	since := time.Now().Add(-30 * 24 * time.Hour)
	entries, err := repo.ListHistorySince(ctx, u.ID, since)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ActionLogin, entries[0].Action)

	n, err := repo.PruneHistory(ctx, u.ID, since)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, repo.DeleteHistoryByUser(ctx, u.ID))
	entries, err = repo.ListHistorySince(ctx, u.ID, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}
