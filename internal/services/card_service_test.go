package services

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/tkarlsen/mealcard/internal/database/testutil"
	"github.com/tkarlsen/mealcard/internal/models"
	"github.com/tkarlsen/mealcard/internal/offline"
	"github.com/tkarlsen/mealcard/internal/reader"
)

// fakeReader simulates the NFC adapter with in-memory blocks and a
// switchable failure mode.
type fakeReader struct {
	blocks  map[string]map[int][]byte
	nextUID string
	err     error
}

func newFakeReader() *fakeReader {
	return &fakeReader{blocks: make(map[string]map[int][]byte)}
}

func (f *fakeReader) Connect(ctx context.Context) error { return f.err }

func (f *fakeReader) WaitForCard(ctx context.Context, timeout time.Duration) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.nextUID == "" {
		return "", reader.ErrTimedOut
	}
	return f.nextUID, nil
}

func (f *fakeReader) ReadBlock(ctx context.Context, cardUID string, block int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	if card, ok := f.blocks[cardUID]; ok {
		if data, ok := card[block]; ok {
			return data, nil
		}
	}
	return make([]byte, reader.BlockSize), nil
}

func (f *fakeReader) WriteBlock(ctx context.Context, cardUID string, block int, data []byte) error {
	if f.err != nil {
		return f.err
	}
	if f.blocks[cardUID] == nil {
		f.blocks[cardUID] = make(map[int][]byte)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	f.blocks[cardUID][block] = buf
	return nil
}

func (f *fakeReader) Close() error { return nil }

// seedCard writes a consistent balance/binding/checksum triple onto the fake
// hardware.
func (f *fakeReader) seedCard(t *testing.T, cardUID, balance, studentNumber string) {
	t.Helper()

	err := reader.WriteCard(context.Background(), f, cardUID, reader.CardData{
		Balance:   decimal.RequireFromString(balance),
		StudentID: studentNumber,
	})
	require.NoError(t, err)
}

type cardFixture struct {
	db    *gorm.DB
	cache *offline.Cache
	queue *offline.Queue
	hw    *fakeReader
	svc   *CardService
}

func newCardFixture(t *testing.T, hw *fakeReader) *cardFixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t)
	offdb := testutil.MustOpenOfflineTestDB(t)

	cache, err := offline.NewCache(offdb, 0)
	require.NoError(t, err)
	queue, err := offline.NewQueue(offdb)
	require.NoError(t, err)

	cfg := CardServiceConfig{
		DB:    db,
		Cache: cache,
		Queue: queue,
		Locks: NewCardLocks(),
	}
	if hw != nil {
		cfg.Reader = hw
	}

	svc, err := NewCardService(cfg)
	require.NoError(t, err)

	return &cardFixture{db: db, cache: cache, queue: queue, hw: hw, svc: svc}
}

func TestScanWithoutReader(t *testing.T) {
	fix := newCardFixture(t, nil)

	_, err := fix.svc.Scan(context.Background(), time.Second)
	assert.ErrorIs(t, err, reader.ErrUnavailable)
}

func TestScanReturnsUID(t *testing.T) {
	hw := newFakeReader()
	hw.nextUID = "04AABBCC"
	fix := newCardFixture(t, hw)

	uid, err := fix.svc.Scan(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "04AABBCC", uid)
}

func TestWriteOfflineAcknowledgedAndQueued(t *testing.T) {
	fix := newCardFixture(t, nil)
	ctx := context.Background()

	result, err := fix.svc.Write(ctx, WriteRequest{
		CardUID:       "04AABBCC",
		Balance:       decimal.RequireFromString("10.00"),
		StudentNumber: "S10042",
		Kind:          models.OperationLoadFunds,
		Amount:        decimal.RequireFromString("10.00"),
	})
	require.NoError(t, err)
	assert.False(t, result.CommittedToHardware)

	// The delta is durably queued...
	pending, err := fix.queue.ListByStatus(ctx, models.SyncPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.OperationLoadFunds, pending[0].Kind)
	assert.True(t, pending[0].Amount.Equal(decimal.RequireFromString("10.00")))

	// ...and the mirror serves the new balance immediately.
	read, err := fix.svc.Read(ctx, "04AABBCC")
	require.NoError(t, err)
	assert.True(t, read.FromCache)
	assert.True(t, read.Balance.Equal(decimal.RequireFromString("10.00")))
	assert.Equal(t, "S10042", read.StudentNumber)
}

func TestWriteHardwareFailureFallsBackOffline(t *testing.T) {
	hw := newFakeReader()
	hw.err = reader.ErrUnavailable
	fix := newCardFixture(t, hw)
	ctx := context.Background()

	result, err := fix.svc.Write(ctx, WriteRequest{
		CardUID: "04AABBCC",
		Balance: decimal.RequireFromString("6.50"),
		Kind:    models.OperationPurchase,
		Amount:  decimal.RequireFromString("3.50"),
	})
	require.NoError(t, err)
	assert.False(t, result.CommittedToHardware)

	pending, err := fix.queue.ListByStatus(ctx, models.SyncPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestWriteHardwareCommits(t *testing.T) {
	hw := newFakeReader()
	fix := newCardFixture(t, hw)
	ctx := context.Background()

	result, err := fix.svc.Write(ctx, WriteRequest{
		CardUID:       "04AABBCC",
		Balance:       decimal.RequireFromString("20.00"),
		StudentNumber: "S10042",
		Kind:          models.OperationLoadFunds,
		Amount:        decimal.RequireFromString("20.00"),
	})
	require.NoError(t, err)
	assert.True(t, result.CommittedToHardware)

	// Nothing queued: the write reached the card.
	count, err := fix.queue.CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	// The authoritative record was created on first write.
	card, err := fix.svc.Get(ctx, "04AABBCC")
	require.NoError(t, err)
	assert.True(t, card.Balance.Equal(decimal.RequireFromString("20.00")))

	// And the card itself decodes back to the committed state.
	data, err := reader.ReadCard(ctx, hw, "04AABBCC")
	require.NoError(t, err)
	assert.True(t, data.Balance.Equal(decimal.RequireFromString("20.00")))
	assert.Equal(t, "S10042", data.StudentID)
}

func TestWriteRejectsInvalidInput(t *testing.T) {
	fix := newCardFixture(t, nil)
	ctx := context.Background()

	_, err := fix.svc.Write(ctx, WriteRequest{
		Balance: decimal.Zero,
		Kind:    models.OperationLoadFunds,
	})
	assert.Error(t, err, "missing card uid")

	_, err = fix.svc.Write(ctx, WriteRequest{
		CardUID: "04AA",
		Kind:    "NONSENSE",
	})
	assert.Error(t, err, "unknown kind")

	_, err = fix.svc.Write(ctx, WriteRequest{
		CardUID: "04AA",
		Balance: decimal.RequireFromString("-1.00"),
		Kind:    models.OperationPurchase,
	})
	assert.Error(t, err, "negative balance")
}

func TestReadPrefersHardwareAndRefreshesMirror(t *testing.T) {
	hw := newFakeReader()
	hw.seedCard(t, "04AABBCC", "14.25", "S10042")
	fix := newCardFixture(t, hw)
	ctx := context.Background()

	read, err := fix.svc.Read(ctx, "04AABBCC")
	require.NoError(t, err)
	assert.False(t, read.FromCache)
	assert.True(t, read.Balance.Equal(decimal.RequireFromString("14.25")))

	// A hardware read repopulates the mirror, so a later offline read works.
	snapshot, err := fix.cache.Get(ctx, "04AABBCC")
	require.NoError(t, err)
	assert.True(t, snapshot.Balance.Equal(decimal.RequireFromString("14.25")))
	assert.Equal(t, "S10042", snapshot.StudentNumber)
}

func TestReadFallsBackToCacheWhenHardwareDies(t *testing.T) {
	hw := newFakeReader()
	hw.seedCard(t, "04AABBCC", "14.25", "S10042")
	fix := newCardFixture(t, hw)
	ctx := context.Background()

	_, err := fix.svc.Read(ctx, "04AABBCC")
	require.NoError(t, err)

	hw.err = reader.ErrUnavailable

	read, err := fix.svc.Read(ctx, "04AABBCC")
	require.NoError(t, err)
	assert.True(t, read.FromCache)
	assert.True(t, read.Balance.Equal(decimal.RequireFromString("14.25")))
}

func TestReadSurfacesHardwareIntegrityFailure(t *testing.T) {
	hw := newFakeReader()
	hw.seedCard(t, "04AABBCC", "14.25", "S10042")
	fix := newCardFixture(t, hw)
	ctx := context.Background()

	// Populate the mirror, then corrupt the card. Corruption must surface
	// even though a perfectly good cached value exists.
	_, err := fix.svc.Read(ctx, "04AABBCC")
	require.NoError(t, err)

	require.NoError(t, hw.WriteBlock(ctx, "04AABBCC", reader.BalanceBlock,
		reader.EncodeBalance(decimal.RequireFromString("999.00"))))

	_, err = fix.svc.Read(ctx, "04AABBCC")
	assert.ErrorIs(t, err, reader.ErrIntegrity)
}

func TestReadUnparsableBalanceBlockNotServedFromCache(t *testing.T) {
	hw := newFakeReader()
	hw.seedCard(t, "04AABBCC", "14.25", "S10042")
	fix := newCardFixture(t, hw)
	ctx := context.Background()

	// Warm the mirror with a good read, then trash the balance block so it no
	// longer decodes at all. That is corruption, not an adapter outage, so the
	// read must fail instead of quietly serving the cached value.
	_, err := fix.svc.Read(ctx, "04AABBCC")
	require.NoError(t, err)

	garbage := bytes.Repeat([]byte{0xFF}, reader.BlockSize)
	require.NoError(t, hw.WriteBlock(ctx, "04AABBCC", reader.BalanceBlock, garbage))

	_, err = fix.svc.Read(ctx, "04AABBCC")
	assert.ErrorIs(t, err, reader.ErrIntegrity)
}

func TestReadRejectsTamperedCacheEntry(t *testing.T) {
	fix := newCardFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, fix.cache.Put(ctx, models.CachedCard{
		CardUID:       "04AABBCC",
		Balance:       decimal.RequireFromString("500.00"),
		StudentNumber: "S10042",
		Checksum:      "bogus123",
	}))

	_, err := fix.svc.Read(ctx, "04AABBCC")
	assert.ErrorIs(t, err, reader.ErrIntegrity)
}

func TestReadUnknownCard(t *testing.T) {
	fix := newCardFixture(t, nil)

	_, err := fix.svc.Read(context.Background(), "04AABBCC")
	assert.ErrorIs(t, err, ErrCardNotFound)
}

func TestRegisterBindsStudentNumber(t *testing.T) {
	fix := newCardFixture(t, nil)
	ctx := context.Background()

	student := models.Student{
		StudentNumber: "S10042",
		FirstName:     "Nora",
		LastName:      "Berg",
		Grade:         "7B",
	}
	require.NoError(t, fix.db.Create(&student).Error)

	card, result, err := fix.svc.Register(ctx, RegisterInput{
		CardUID:   "04AABBCC",
		StudentID: &student.ID,
		Balance:   decimal.RequireFromString("15.00"),
		PIN:       "4321",
	})
	require.NoError(t, err)
	require.NotNil(t, card)
	assert.False(t, result.CommittedToHardware, "no reader attached")
	assert.Equal(t, models.CardActive, card.Status)

	// The cached mirror carries the student number, not the UUID.
	snapshot, err := fix.cache.Get(ctx, "04AABBCC")
	require.NoError(t, err)
	assert.Equal(t, "S10042", snapshot.StudentNumber)

	ok, err := fix.svc.VerifyPIN(ctx, "04AABBCC", "4321")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = fix.svc.VerifyPIN(ctx, "04AABBCC", "0000")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegisterDuplicateUID(t *testing.T) {
	fix := newCardFixture(t, nil)
	ctx := context.Background()

	_, _, err := fix.svc.Register(ctx, RegisterInput{
		CardUID: "04AABBCC",
		Balance: decimal.Zero,
	})
	require.NoError(t, err)

	_, _, err = fix.svc.Register(ctx, RegisterInput{
		CardUID: "04AABBCC",
		Balance: decimal.Zero,
	})
	assert.Error(t, err)
}

func TestApplyDeltaSingleCycle(t *testing.T) {
	hw := newFakeReader()
	hw.seedCard(t, "04AABBCC", "10.00", "S10042")
	fix := newCardFixture(t, hw)
	ctx := context.Background()

	delta, err := fix.svc.ApplyDelta(ctx, DeltaRequest{
		CardUID: "04AABBCC",
		Kind:    models.OperationPurchase,
		Amount:  decimal.RequireFromString("3.50"),
	})
	require.NoError(t, err)
	assert.True(t, delta.Before.Equal(decimal.RequireFromString("10.00")))
	assert.True(t, delta.After.Equal(decimal.RequireFromString("6.50")))
	assert.Equal(t, "S10042", delta.StudentNumber)
	assert.True(t, delta.CommittedToHardware)
}

func TestApplyDeltaRejectsOverdraw(t *testing.T) {
	hw := newFakeReader()
	hw.seedCard(t, "04AABBCC", "2.00", "S10042")
	fix := newCardFixture(t, hw)
	ctx := context.Background()

	_, err := fix.svc.ApplyDelta(ctx, DeltaRequest{
		CardUID: "04AABBCC",
		Kind:    models.OperationPurchase,
		Amount:  decimal.RequireFromString("3.50"),
	})
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	// The rejected cycle must not have touched the card.
	read, err := fix.svc.Read(ctx, "04AABBCC")
	require.NoError(t, err)
	assert.True(t, read.Balance.Equal(decimal.RequireFromString("2.00")))
}

func TestConcurrentDeltasDoNotLoseUpdates(t *testing.T) {
	hw := newFakeReader()
	hw.seedCard(t, "04AABBCC", "0.00", "S10042")
	fix := newCardFixture(t, hw)

	const (
		workers        = 4
		loadsPerWorker = 25
	)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < loadsPerWorker; i++ {
				_, err := fix.svc.ApplyDelta(context.Background(), DeltaRequest{
					CardUID: "04AABBCC",
					Kind:    models.OperationLoadFunds,
					Amount:  decimal.NewFromInt(1),
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	// Every load of 1.00 must survive; a lost update shows up as a shortfall.
	read, err := fix.svc.Read(context.Background(), "04AABBCC")
	require.NoError(t, err)
	assert.True(t, read.Balance.Equal(decimal.NewFromInt(workers*loadsPerWorker)),
		"final balance %s", read.Balance.StringFixed(2))
}

func TestUpdateStatus(t *testing.T) {
	fix := newCardFixture(t, nil)
	ctx := context.Background()

	_, _, err := fix.svc.Register(ctx, RegisterInput{CardUID: "04AABBCC", Balance: decimal.Zero})
	require.NoError(t, err)

	card, err := fix.svc.UpdateStatus(ctx, "04AABBCC", models.CardLost)
	require.NoError(t, err)
	assert.Equal(t, models.CardLost, card.Status)
	assert.False(t, card.Usable(time.Now()))
}
