package registry

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/varanames/registrar-client/codec"
	"github.com/varanames/registrar-client/cryptoutils"
	"github.com/varanames/registrar-client/interfaces"
	"github.com/varanames/registrar-client/ledger/simledger"
	"github.com/varanames/registrar-client/signer"
)

var testProgram = common.HexToAddress("0x000000000000000000000000000000000000a11c")

const (
	minCommitAge = 60_000
	maxCommitAge = 86_400_000
	oneYear      = interfaces.LedgerSpan(365 * 24 * 60 * 60 * 1000)
)

type testChain struct {
	ledger     *simledger.Ledger
	clock      *clock.Mock
	client     *OnchainRegistrarClient
	user       *signer.KeyedSigner
	controller *signer.KeyedSigner
}

// setupTestChain creates a simulated registrar and a client signing as an ordinary user.
func setupTestChain(t *testing.T) *testChain {
	t.Helper()
	user, err := signer.Generate()
	require.NoError(t, err)
	controller, err := signer.Generate()
	require.NoError(t, err)

	clk := clock.NewMock()
	clk.Set(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))

	ledger, err := simledger.New(&simledger.Config{
		Program:  testProgram,
		TimeUnit: interfaces.TimeUnit(time.Millisecond),
		Clock:    clk,
		Params: simledger.Params{
			Controller:   controller.Address(),
			BasePrice:    big.NewInt(2),
			PremiumPrice: big.NewInt(3),
			MinCommitAge: minCommitAge,
			MaxCommitAge: maxCommitAge,
			GracePeriod:  1000,
		},
	})
	require.NoError(t, err)

	client, err := NewOnchainRegistrarClient(slog.Default(), ledger, testProgram)
	require.NoError(t, err)
	client.SetSigner(user)

	return &testChain{ledger: ledger, clock: clk, client: client, user: user, controller: controller}
}

func wait(t *testing.T, o interfaces.TxOutcome, err error) (*interfaces.Finalized, error) {
	t.Helper()
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return o.Wait(ctx)
}

func TestRegistrar_CommitRegisterRenew(t *testing.T) {
	chain := setupTestChain(t)
	ctx := context.Background()
	name := interfaces.Name("alice")

	available, err := chain.client.Available(ctx, name, nil)
	require.NoError(t, err)
	assert.True(t, available)

	secret, salt, err := cryptoutils.NewBlinding(nil)
	require.NoError(t, err)
	args := &interfaces.RegisterArgs{Name: name, Owner: chain.user.Owner(), Duration: oneYear, Secret: secret, Salt: salt}
	commitment, err := cryptoutils.BuildCommitment(name, args.Owner, secret, salt)
	require.NoError(t, err)

	o, err := chain.client.Commit(ctx, commitment)
	fin, err := wait(t, o, err)
	require.NoError(t, err)
	committed, ok := fin.Event.(*interfaces.CommitSubmitted)
	require.True(t, ok)
	assert.Equal(t, commitment, committed.Commitment)
	assert.Equal(t, o.TxHash(), fin.TxHash)

	chain.clock.Add(61 * time.Second)
	registeredAt := interfaces.TimeUnit(time.Millisecond).At(chain.clock.Now())

	o, err = chain.client.Register(ctx, args)
	fin, err = wait(t, o, err)
	require.NoError(t, err)
	registered, ok := fin.Event.(*interfaces.NameRegistered)
	require.True(t, ok)
	assert.Equal(t, name, registered.Name)
	assert.Equal(t, args.Owner, registered.Owner)
	assert.Equal(t, registeredAt+interfaces.LedgerTime(oneYear), registered.Expires)
	assert.Equal(t, new(big.Int).Mul(big.NewInt(2), big.NewInt(int64(oneYear))), registered.Cost)

	available, err = chain.client.Available(ctx, name, nil)
	require.NoError(t, err)
	assert.False(t, available)

	expiry, err := chain.client.ExpiryOf(ctx, name, nil)
	require.NoError(t, err)
	require.NotNil(t, expiry)
	assert.Greater(t, *expiry, registeredAt)

	status, err := chain.client.Status(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusActive, status.Kind)

	o, err = chain.client.Renew(ctx, name, 1000)
	fin, err = wait(t, o, err)
	require.NoError(t, err)
	renewed, ok := fin.Event.(*interfaces.NameRenewed)
	require.True(t, ok)
	assert.Equal(t, registered.Expires+1000, renewed.Expires)
}

func TestRegistrar_PriceIsStable(t *testing.T) {
	chain := setupTestChain(t)
	ctx := context.Background()

	first, err := chain.client.Price(ctx, interfaces.Name("bob"), oneYear, nil)
	require.NoError(t, err)
	second, err := chain.client.Price(ctx, interfaces.Name("bob"), oneYear, nil)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	// "bob" is shorter than five bytes and pays the premium.
	assert.Equal(t, new(big.Int).Mul(big.NewInt(5), big.NewInt(int64(oneYear))), first)
}

func TestRegistrar_RejectedRegisterCarriesMessage(t *testing.T) {
	chain := setupTestChain(t)
	args := &interfaces.RegisterArgs{Name: interfaces.Name("carol"), Owner: chain.user.Owner(), Duration: oneYear}

	o, err := chain.client.Register(context.Background(), args)
	_, err = wait(t, o, err)

	var rejected *interfaces.TransactionRejected
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "No valid commitment", rejected.Message)
	assert.Equal(t, codec.OpRegister, rejected.Op)
	assert.Equal(t, "execute", rejected.Phase)
	assert.Equal(t, "carol", rejected.Name)
}

func TestRegistrar_AdminOperations(t *testing.T) {
	chain := setupTestChain(t)
	ctx := context.Background()

	// The ordinary user is not the controller.
	o, err := chain.client.ReserveNames(ctx, []interfaces.Name{interfaces.Name("root")})
	_, err = wait(t, o, err)
	var rejected *interfaces.TransactionRejected
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "Not controller", rejected.Message)

	chain.client.SetSigner(chain.controller)

	o, err = chain.client.ReserveNames(ctx, []interfaces.Name{interfaces.Name("root"), interfaces.Name("admin")})
	fin, err := wait(t, o, err)
	require.NoError(t, err)
	assert.Equal(t, []interfaces.Name{interfaces.Name("root"), interfaces.Name("admin")}, fin.Event.(*interfaces.NamesReserved).Labels)

	status, err := chain.client.Status(ctx, interfaces.Name("root"))
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusReserved, status.Kind)
	assert.Nil(t, status.Expiry)

	o, err = chain.client.SetPrices(ctx, big.NewInt(7), big.NewInt(1))
	fin, err = wait(t, o, err)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(7), fin.Event.(*interfaces.PricesSet).Base)

	o, err = chain.client.SetCommitAges(ctx, 1000, 2000)
	fin, err = wait(t, o, err)
	require.NoError(t, err)
	assert.Equal(t, &interfaces.CommitAgesSet{Min: 1000, Max: 2000}, fin.Event)

	o, err = chain.client.SetGracePeriod(ctx, 5)
	fin, err = wait(t, o, err)
	require.NoError(t, err)
	assert.Equal(t, &interfaces.GracePeriodSet{Grace: 5}, fin.Event)

	o, err = chain.client.Withdraw(ctx, chain.controller.Owner(), big.NewInt(1))
	_, err = wait(t, o, err)
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "Insufficient balance", rejected.Message)
}

func TestRegistrar_ValidationHappensBeforeLedger(t *testing.T) {
	ledger := new(MockLedger)
	client, err := NewOnchainRegistrarClient(slog.Default(), ledger, testProgram)
	require.NoError(t, err)
	ctx := context.Background()

	var verr *interfaces.ValidationError

	_, err = client.Available(ctx, make(interfaces.Name, interfaces.MaxNameLength+1), nil)
	assert.ErrorAs(t, err, &verr)
	_, err = client.ExpiryOf(ctx, interfaces.Name("a.b"), nil)
	assert.ErrorAs(t, err, &verr)
	_, err = client.Price(ctx, interfaces.Name("bob"), 0, nil)
	assert.ErrorAs(t, err, &verr)
	_, err = client.Status(ctx, interfaces.Name(""))
	assert.ErrorAs(t, err, &verr)

	labels := make([]interfaces.Name, interfaces.MaxReservedLabels+1)
	for i := range labels {
		labels[i] = interfaces.Name("x")
	}
	_, err = client.ReserveNames(ctx, labels)
	assert.ErrorAs(t, err, &verr)
	_, err = client.SetCommitAges(ctx, 10, 5)
	assert.ErrorAs(t, err, &verr)
	_, err = client.SetPrices(ctx, big.NewInt(-1), big.NewInt(0))
	assert.ErrorAs(t, err, &verr)
	_, err = client.Withdraw(ctx, interfaces.OwnerID{}, new(big.Int).Lsh(big.NewInt(1), 128))
	assert.ErrorAs(t, err, &verr)

	ledger.AssertNotCalled(t, "Query", mock.Anything, mock.Anything)
	ledger.AssertNotCalled(t, "Prepare", mock.Anything, mock.Anything, mock.Anything)
}

func TestRegistrar_QueryErrorCarriesLedgerMessage(t *testing.T) {
	ledger := new(MockLedger)
	client, err := NewOnchainRegistrarClient(slog.Default(), ledger, testProgram)
	require.NoError(t, err)

	ledger.On("Query", mock.Anything, mock.Anything).
		Return(nil, &interfaces.RevertError{Data: client.Codec().EncodeRevert("state unavailable")}).Once()

	_, err = client.Available(context.Background(), interfaces.Name("alice"), big.NewInt(12))
	var qerr *interfaces.QueryError
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, codec.OpAvailable, qerr.Op)
	assert.Equal(t, "alice", qerr.Name)
	assert.Equal(t, "state unavailable", qerr.Message)
	ledger.AssertExpectations(t)

	q := ledger.Calls[0].Arguments.Get(1).(*interfaces.Query)
	assert.Equal(t, big.NewInt(12), q.At)
	assert.Equal(t, testProgram, q.To)
}

func TestRegistrar_SendFailures(t *testing.T) {
	ledger := new(MockLedger)
	client, err := NewOnchainRegistrarClient(slog.Default(), ledger, testProgram)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = client.Commit(ctx, interfaces.Commitment{1})
	assert.ErrorIs(t, err, interfaces.ErrNoSigner)

	s := new(MockSigner)
	client.SetSigner(s)
	from := common.HexToAddress("0x01")
	s.On("Address").Return(from)
	ptx := &interfaces.PreparedTx{Op: codec.OpCommit, From: from, SigningKey: make([]byte, 32)}
	ledger.On("Prepare", mock.Anything, from, mock.Anything).Return(ptx, nil)
	signErr := errors.New("wallet locked")
	s.On("Sign", mock.Anything, ptx.SigningKey).Return(nil, signErr).Once()

	_, err = client.Commit(ctx, interfaces.Commitment{1})
	var rejected *interfaces.TransactionRejected
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "sign", rejected.Phase)
	assert.ErrorIs(t, err, signErr)
	ledger.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything, mock.Anything)

	s.On("Sign", mock.Anything, ptx.SigningKey).Return([]byte{1}, nil)
	ledger.On("Submit", mock.Anything, ptx, []byte{1}).Return(common.Hash{}, errors.New("nonce too low")).Once()
	_, err = client.Commit(ctx, interfaces.Commitment{1})
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "submit", rejected.Phase)
	assert.Equal(t, "nonce too low", rejected.Message)
}

func TestResolveStatus(t *testing.T) {
	name := interfaces.Name("alice")
	future := interfaces.LedgerTime(2000)
	past := interfaces.LedgerTime(500)

	tests := []struct {
		desc      string
		available bool
		reserved  bool
		expiry    *interfaces.LedgerTime
		want      interfaces.StatusKind
	}{
		{"never registered", true, false, nil, interfaces.StatusAvailable},
		{"lapsed past grace", true, false, &past, interfaces.StatusAvailable},
		{"reserved", false, true, nil, interfaces.StatusReserved},
		{"active", false, false, &future, interfaces.StatusActive},
		{"grace period", false, false, &past, interfaces.StatusInGracePeriod},
		{"unknown", false, false, nil, interfaces.StatusUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			st := ResolveStatus(name, 1000, tt.available, tt.reserved, tt.expiry)
			assert.Equal(t, tt.want, st.Kind)
			assert.Equal(t, tt.expiry, st.Expiry)
		})
	}
}
