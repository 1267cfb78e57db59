package journal

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"lendpool/core"
	"lendpool/core/events"
	"lendpool/crypto"
	"lendpool/native/lending"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	j, err := Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func testAddress(prefix crypto.AddressPrefix, b byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	raw[0] = b
	raw[crypto.AddressLength-1] = b
	return crypto.MustNewAddress(prefix, raw)
}

func TestRecordAndListNewestFirst(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)
	alice := testAddress(crypto.ParticipantPrefix, 1)
	bob := testAddress(crypto.ParticipantPrefix, 2)
	usd := testAddress(crypto.TokenPrefix, 9)
	coll := testAddress(crypto.TokenPrefix, 8)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	lend := core.Receipt{
		ID:          uuid.NewString(),
		Op:          core.OpLend,
		Participant: alice,
		Token:       usd,
		Amount:      250,
		Events:      []events.Event{lending.NewLentEvent(alice, usd, 250, 250)},
		StateHash:   "aa",
		Time:        base,
	}
	borrow := core.Receipt{
		ID:          uuid.NewString(),
		Op:          core.OpBorrow,
		Participant: alice,
		Token:       usd,
		Amount:      100,
		Loan:        &lending.LoanRecord{AmountBorrowed: 100, CollateralAmount: 201, CollateralToken: coll},
		StateHash:   "bb",
		Time:        base.Add(time.Minute),
	}
	other := core.Receipt{
		ID:          uuid.NewString(),
		Op:          core.OpLend,
		Participant: bob,
		Token:       usd,
		Amount:      1,
		StateHash:   "cc",
		Time:        base,
	}
	for _, r := range []core.Receipt{lend, borrow, other} {
		require.NoError(t, j.Record(ctx, r))
	}

	entries, err := j.ListByParticipant(ctx, alice, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, core.OpBorrow, entries[0].Op)
	require.Equal(t, "100", entries[0].Amount)
	require.Equal(t, coll.String(), entries[0].CollateralToken)
	require.Equal(t, "201", entries[0].CollateralAmount)
	require.Equal(t, core.OpLend, entries[1].Op)

	evts, err := entries[1].DecodedEvents()
	require.NoError(t, err)
	require.Len(t, evts, 1)
	require.Equal(t, lending.EventTypeLent, evts[0].Type)

	got, err := j.Get(ctx, uuid.MustParse(other.ID))
	require.NoError(t, err)
	require.Equal(t, bob.String(), got.Participant)

	limited, err := j.ListByParticipant(ctx, alice, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestRecordRejectsDuplicatesAndBadIDs(t *testing.T) {
	ctx := context.Background()
	j := openTestJournal(t)
	r := core.Receipt{
		ID:          uuid.NewString(),
		Op:          core.OpWithdraw,
		Participant: testAddress(crypto.ParticipantPrefix, 3),
		Amount:      7,
		StateHash:   "dd",
		Time:        time.Now(),
	}
	require.NoError(t, j.Record(ctx, r))
	require.Error(t, j.Record(ctx, r))

	r.ID = "not-a-uuid"
	require.Error(t, j.Record(ctx, r))
}

func TestNilJournalIsDisabled(t *testing.T) {
	var j *Journal
	require.ErrorIs(t, j.Record(context.Background(), core.Receipt{}), ErrDisabled)
	_, err := j.ListByParticipant(context.Background(), crypto.Address{}, 10)
	require.ErrorIs(t, err, ErrDisabled)
	require.NoError(t, j.Close())
}
