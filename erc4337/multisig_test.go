package erc4337

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testOwners = []string{
	"0xCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC",
	"0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
	"0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB",
}

const testUserOpHash = "0x0101010101010101010101010101010101010101010101010101010101010101"

func sendingBundler(t *testing.T, sent *atomic.Int64) *BundlerClient {
	t.Helper()
	server := rpcHandler(t, map[string]func([]json.RawMessage) (interface{}, *RPCError){
		"eth_sendUserOperation": func([]json.RawMessage) (interface{}, *RPCError) {
			if sent != nil {
				sent.Add(1)
			}
			return "0xsubmittedhash", nil
		},
	})
	t.Cleanup(server.Close)
	return NewBundlerClient(server.URL)
}

type mockOwnerSigner struct {
	address   string
	signature []byte
	signCalls int
}

func (m *mockOwnerSigner) Address() string {
	return m.address
}

func (m *mockOwnerSigner) SignHash(ctx context.Context, hash []byte) ([]byte, error) {
	m.signCalls++
	return m.signature, nil
}

func TestCreateRequestThreshold(t *testing.T) {
	coordinator := NewCoordinator(sendingBundler(t, nil))
	op := testOp(t)

	for _, threshold := range []int{0, -1, 4} {
		_, err := coordinator.CreateRequest(op, testUserOpHash, testOwners, threshold)
		assert.ErrorIs(t, err, ErrInvalidThreshold, "threshold %d", threshold)
	}

	request, err := coordinator.CreateRequest(op, testUserOpHash, testOwners, 2)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(request.ID, "sigreq_"))
	assert.Equal(t, 0, request.CollectedCount())
	assert.False(t, request.IsReady())
}

func TestTwoOfThreeScenario(t *testing.T) {
	var sent atomic.Int64
	coordinator := NewCoordinator(sendingBundler(t, &sent))

	request, err := coordinator.CreateRequest(testOp(t), testUserOpHash, testOwners, 2)
	require.NoError(t, err)

	_, err = coordinator.AddSignature(request.ID, testOwners[0], "0x"+strings.Repeat("aa", 65))
	require.NoError(t, err)
	assert.False(t, request.IsReady())

	_, err = coordinator.AddSignature(request.ID, testOwners[1], "0x"+strings.Repeat("bb", 65))
	require.NoError(t, err)
	assert.True(t, request.IsReady())
	assert.Equal(t, 2, request.CollectedCount())

	hash, err := coordinator.Submit(context.Background(), request.ID)
	require.NoError(t, err)
	assert.Equal(t, "0xsubmittedhash", hash)
	assert.Equal(t, int64(1), sent.Load())

	// Request removed after submission
	_, err = coordinator.GetRequest(request.ID)
	assert.ErrorIs(t, err, ErrRequestNotFound)
}

func TestAddSignatureErrors(t *testing.T) {
	coordinator := NewCoordinator(sendingBundler(t, nil))
	request, err := coordinator.CreateRequest(testOp(t), testUserOpHash, testOwners, 2)
	require.NoError(t, err)

	_, err = coordinator.AddSignature("sigreq_missing", testOwners[0], "0x01")
	assert.ErrorIs(t, err, ErrRequestNotFound)

	_, err = coordinator.AddSignature(request.ID, "0x9999999999999999999999999999999999999999", "0x01")
	assert.ErrorIs(t, err, ErrOwnerNotFound)

	_, err = coordinator.AddSignature(request.ID, testOwners[0], "0x01")
	require.NoError(t, err)
	_, err = coordinator.AddSignature(request.ID, testOwners[0], "0x02")
	assert.ErrorIs(t, err, ErrAlreadySigned)

	// Case differences still count as the same owner
	_, err = coordinator.AddSignature(request.ID, strings.ToLower(testOwners[0]), "0x03")
	assert.ErrorIs(t, err, ErrAlreadySigned)
}

func TestAddSignatureConcurrentSameOwner(t *testing.T) {
	coordinator := NewCoordinator(sendingBundler(t, nil))
	request, err := coordinator.CreateRequest(testOp(t), testUserOpHash, testOwners, 2)
	require.NoError(t, err)

	// Racing submissions for one owner must fill the slot exactly once.
	const attempts = 16
	var accepted, rejected atomic.Int64
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			<-start
			_, err := coordinator.AddSignature(request.ID, testOwners[0], "0x0"+strings.Repeat("1", n+1))
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, ErrAlreadySigned):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(1), accepted.Load())
	assert.Equal(t, int64(attempts-1), rejected.Load())

	// Still one signature short of the threshold.
	_, err = coordinator.CombinedSignature(request.ID)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestCombinedSignatureOrdering(t *testing.T) {
	sigByOwner := map[string]string{
		testOwners[0]: "0x" + strings.Repeat("cc", 65),
		testOwners[1]: "0x" + strings.Repeat("aa", 65),
		testOwners[2]: "0x" + strings.Repeat("bb", 65),
	}

	combine := func(order []string) string {
		coordinator := NewCoordinator(sendingBundler(t, nil))
		request, err := coordinator.CreateRequest(testOp(t), testUserOpHash, testOwners, 3)
		require.NoError(t, err)

		for _, owner := range order {
			_, err := coordinator.AddSignature(request.ID, owner, sigByOwner[owner])
			require.NoError(t, err)
		}
		combined, err := coordinator.CombinedSignature(request.ID)
		require.NoError(t, err)
		return combined
	}

	sorted := combine([]string{testOwners[1], testOwners[2], testOwners[0]})
	reversed := combine([]string{testOwners[0], testOwners[2], testOwners[1]})
	assert.Equal(t, sorted, reversed, "arrival order must not change the combined bytes")

	// 0xaaaa... sorts first, 0xcccc... last
	expected := "0x" + strings.Repeat("aa", 65) + strings.Repeat("bb", 65) + strings.Repeat("cc", 65)
	assert.Equal(t, expected, sorted)
}

func TestCombinedSignatureNotReady(t *testing.T) {
	coordinator := NewCoordinator(sendingBundler(t, nil))
	request, err := coordinator.CreateRequest(testOp(t), testUserOpHash, testOwners, 2)
	require.NoError(t, err)

	_, err = coordinator.AddSignature(request.ID, testOwners[0], "0x01")
	require.NoError(t, err)

	_, err = coordinator.CombinedSignature(request.ID)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestCleanupRemovesExpired(t *testing.T) {
	coordinator := NewCoordinator(sendingBundler(t, nil))

	expired, err := coordinator.CreateRequest(testOp(t), testUserOpHash, testOwners, 2)
	require.NoError(t, err)
	expired.CreatedAt = time.Now().Add(-2 * time.Hour)

	live, err := coordinator.CreateRequest(testOp(t), testUserOpHash, testOwners, 2)
	require.NoError(t, err)

	coordinator.Cleanup()
	assert.Equal(t, 1, coordinator.PendingCount())

	_, err = coordinator.GetRequest(expired.ID)
	assert.ErrorIs(t, err, ErrRequestNotFound)
	_, err = coordinator.GetRequest(live.ID)
	assert.NoError(t, err)
}

func TestPayWithAllSigners(t *testing.T) {
	t.Run("stops at threshold", func(t *testing.T) {
		var sent atomic.Int64
		coordinator := NewCoordinator(sendingBundler(t, &sent))

		signers := []*mockOwnerSigner{
			{address: testOwners[0], signature: []byte(strings.Repeat("\xaa", 65))},
			{address: testOwners[1], signature: []byte(strings.Repeat("\xbb", 65))},
			{address: testOwners[2], signature: []byte(strings.Repeat("\xcc", 65))},
		}
		ownerSigners := []OwnerSigner{signers[0], signers[1], signers[2]}

		hash, err := coordinator.PayWithAllSigners(context.Background(), testOp(t), testUserOpHash, testOwners, 2, ownerSigners)
		require.NoError(t, err)
		assert.Equal(t, "0xsubmittedhash", hash)
		assert.Equal(t, int64(1), sent.Load())

		assert.Equal(t, 1, signers[0].signCalls)
		assert.Equal(t, 1, signers[1].signCalls)
		assert.Equal(t, 0, signers[2].signCalls, "signers past the threshold are never asked")
	})

	t.Run("insufficient signers rejected up front", func(t *testing.T) {
		var sent atomic.Int64
		coordinator := NewCoordinator(sendingBundler(t, &sent))

		signer := &mockOwnerSigner{address: testOwners[0], signature: []byte{0x01}}
		_, err := coordinator.PayWithAllSigners(context.Background(), testOp(t), testUserOpHash, testOwners, 2, []OwnerSigner{signer})
		require.True(t, errors.Is(err, ErrInsufficientSigners))
		assert.Equal(t, 0, signer.signCalls)
		assert.Equal(t, int64(0), sent.Load())
	})
}
