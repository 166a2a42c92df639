package codec

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/varanames/registrar-client/interfaces"
)

func TestRegisterCallDecodes(t *testing.T) {
	c := MustNew()
	args := &interfaces.RegisterArgs{
		Name:     interfaces.Name("alice"),
		Owner:    interfaces.OwnerID{1, 2, 3},
		Duration: 31_536_000_000,
		Secret:   interfaces.Secret{9},
		Salt:     interfaces.Salt{8},
		Resolver: common.HexToAddress("0x00000000000000000000000000000000000000aa"),
	}

	data, err := c.EncodeRegister(args)
	require.NoError(t, err)

	method, values, err := c.DecodeCall(data)
	require.NoError(t, err)
	require.Equal(t, OpRegister, method.Name)
	require.Len(t, values, 6)
	require.Equal(t, []byte("alice"), values[0])
	require.Equal(t, [32]byte(args.Owner), values[1])
	require.Equal(t, uint64(31_536_000_000), values[2])
	require.Equal(t, [32]byte(args.Secret), values[3])
	require.Equal(t, [32]byte(args.Salt), values[4])
	require.Equal(t, args.Resolver, values[5])
}

func TestDecodeCallRejectsShortData(t *testing.T) {
	c := MustNew()
	_, _, err := c.DecodeCall([]byte{1, 2})
	require.Error(t, err)

	_, _, err = c.DecodeCall([]byte{0xde, 0xad, 0xbe, 0xef})
	require.Error(t, err)
}

func TestViewReplies(t *testing.T) {
	c := MustNew()

	reply, err := c.EncodeReply(OpAvailable, true)
	require.NoError(t, err)
	ok, err := c.DecodeAvailable(reply)
	require.NoError(t, err)
	require.True(t, ok)

	reply, err = c.EncodeReply(OpExpiryOf, false, uint64(0))
	require.NoError(t, err)
	expiry, err := c.DecodeExpiryOf(reply)
	require.NoError(t, err)
	require.Nil(t, expiry)

	reply, err = c.EncodeReply(OpExpiryOf, true, uint64(1234))
	require.NoError(t, err)
	expiry, err = c.DecodeExpiryOf(reply)
	require.NoError(t, err)
	require.NotNil(t, expiry)
	require.Equal(t, interfaces.LedgerTime(1234), *expiry)

	reply, err = c.EncodeReply(OpPrice, big.NewInt(700))
	require.NoError(t, err)
	price, err := c.DecodePrice(reply)
	require.NoError(t, err)
	require.Equal(t, int64(700), price.Int64())

	_, err = c.DecodePrice([]byte{1})
	require.Error(t, err)
}

func TestRevertMessages(t *testing.T) {
	c := MustNew()

	require.Equal(t, "Commitment too new", c.DecodeRevert(c.EncodeRevert("Commitment too new")))
	require.Equal(t, "execution reverted", c.DecodeRevert(nil))
	require.Equal(t, "execution reverted: 0102", c.DecodeRevert([]byte{1, 2}))
}

func TestEventLogs(t *testing.T) {
	c := MustNew()
	source := common.HexToAddress("0x0000000000000000000000000000000000000001")

	events := []interfaces.Event{
		&interfaces.CommitSubmitted{Commitment: interfaces.Commitment{7}, Timestamp: 42},
		&interfaces.NameRegistered{Name: interfaces.Name("alice"), Owner: interfaces.OwnerID{1}, Expires: 99, Cost: big.NewInt(5)},
		&interfaces.NameRenewed{Name: interfaces.Name("bob"), Expires: 100, Cost: big.NewInt(6)},
		&interfaces.PricesSet{Base: big.NewInt(10), Premium: big.NewInt(20)},
		&interfaces.CommitAgesSet{Min: 60_000, Max: 86_400_000},
		&interfaces.GracePeriodSet{Grace: 1000},
		&interfaces.NamesReserved{Labels: []interfaces.Name{interfaces.Name("root"), interfaces.Name("admin")}},
		&interfaces.Withdrawn{To: interfaces.OwnerID{3}, Amount: big.NewInt(11)},
	}

	for _, ev := range events {
		t.Run(string(ev.Kind()), func(t *testing.T) {
			log, err := c.EncodeLog(source, ev)
			require.NoError(t, err)
			require.Equal(t, source, log.Address)
			require.Equal(t, c.EventID(ev.Kind()), log.Topics[0])

			kind, ok := c.KindOf(log.Topics[0])
			require.True(t, ok)
			require.Equal(t, ev.Kind(), kind)

			decoded, err := c.DecodeLog(log)
			require.NoError(t, err)
			require.Equal(t, ev, decoded)
		})
	}
}

func TestDecodeLogUnknownTopic(t *testing.T) {
	c := MustNew()

	_, err := c.DecodeLog(&types.Log{})
	require.ErrorIs(t, err, ErrUnknownEvent)

	_, err = c.DecodeLog(&types.Log{Topics: []common.Hash{{0xff}}})
	require.ErrorIs(t, err, ErrUnknownEvent)
}
