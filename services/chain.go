// services/chain.go
package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"bounty-payout-system/models"
)

var (
	ErrChainUnavailable  = errors.New("chain rpc unavailable")
	ErrReceiptNotFound   = errors.New("transaction receipt not found")
	ErrTransactionFailed = errors.New("transaction failed on-chain")
	ErrNoMatchingEvent   = errors.New("no matching escrow event in receipt")
	ErrInvalidTxHash     = errors.New("invalid transaction hash")
)

var (
	txHashPattern  = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
	addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
)

var ErrInvalidAddress = errors.New("invalid wallet address")

// NormalizeAddress validates the fixed 20-byte hex format and lower-cases it.
func NormalizeAddress(s string) (string, error) {
	if !addressPattern.MatchString(s) {
		return "", ErrInvalidAddress
	}
	return strings.ToLower(s), nil
}

// NormalizeTxHash validates the fixed 32-byte hex format and lower-cases it,
// the canonical form for every persisted hash.
func NormalizeTxHash(s string) (string, error) {
	if !txHashPattern.MatchString(s) {
		return "", ErrInvalidTxHash
	}
	return strings.ToLower(s), nil
}

// Escrow contract event signatures.
var (
	topicBountyCreated   = crypto.Keccak256Hash([]byte("BountyCreated(uint256,address,uint256,uint256)"))
	topicBountyClaimed   = crypto.Keccak256Hash([]byte("BountyClaimed(uint256,address,uint256)"))
	topicBountyCancelled = crypto.Keccak256Hash([]byte("BountyCancelled(uint256)"))
	topicBountyExpired   = crypto.Keccak256Hash([]byte("BountyExpired(uint256)"))
)

// EthReader is the subset of ethclient.Client the verifier uses. Tests swap in
// a stub; production passes the real client constructed in main.
type EthReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// ChainVerifier answers read-only questions about escrow transactions. It
// never persists anything.
type ChainVerifier struct {
	client EthReader
	escrow common.Address
}

func NewChainVerifier(client EthReader, escrowAddress string) *ChainVerifier {
	return &ChainVerifier{
		client: client,
		escrow: common.HexToAddress(escrowAddress),
	}
}

type FundingConfirmation struct {
	OnchainBountyID string
	EmployerAddress string
	TxHash          string
	BlockNumber     uint64
}

type ClaimConfirmation struct {
	TxHash      string
	BlockNumber uint64
}

func (v *ChainVerifier) successfulReceipt(ctx context.Context, txHash string) (*types.Receipt, error) {
	receipt, err := v.client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, ErrReceiptNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrChainUnavailable, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, ErrTransactionFailed
	}
	return receipt, nil
}

// VerifyFunding confirms that txHash emitted a BountyCreated event from the
// escrow contract with exactly the expected amount and deadline. The first
// qualifying log wins; only logs emitted by the escrow address are considered.
func (v *ChainVerifier) VerifyFunding(ctx context.Context, txHash string, expectedAmountMicros int64, expectedDeadline time.Time, expectedEmployerAddress string) (*FundingConfirmation, error) {
	receipt, err := v.successfulReceipt(ctx, txHash)
	if err != nil {
		return nil, err
	}

	expectedAmount := big.NewInt(expectedAmountMicros)
	expectedDeadlineUnix := big.NewInt(expectedDeadline.Unix())
	expectedEmployer := strings.ToLower(expectedEmployerAddress)

	for _, lg := range receipt.Logs {
		if lg.Address != v.escrow {
			continue
		}
		if len(lg.Topics) != 3 || lg.Topics[0] != topicBountyCreated || len(lg.Data) < 64 {
			continue
		}

		amount := new(big.Int).SetBytes(lg.Data[:32])
		deadline := new(big.Int).SetBytes(lg.Data[32:64])
		if amount.Cmp(expectedAmount) != 0 || deadline.Cmp(expectedDeadlineUnix) != 0 {
			continue
		}

		employer := strings.ToLower(common.BytesToAddress(lg.Topics[2].Bytes()).Hex())
		if expectedEmployer != "" && employer != expectedEmployer {
			continue
		}

		return &FundingConfirmation{
			OnchainBountyID: new(big.Int).SetBytes(lg.Topics[1].Bytes()).String(),
			EmployerAddress: employer,
			TxHash:          strings.ToLower(receipt.TxHash.Hex()),
			BlockNumber:     receipt.BlockNumber.Uint64(),
		}, nil
	}

	return nil, ErrNoMatchingEvent
}

// VerifyClaim confirms a BountyClaimed event for the expected on-chain bounty
// id, winner address (case-insensitive) and exact amount.
func (v *ChainVerifier) VerifyClaim(ctx context.Context, txHash, expectedOnchainBountyID, expectedWinnerAddress string, expectedAmountMicros int64) (*ClaimConfirmation, error) {
	receipt, err := v.successfulReceipt(ctx, txHash)
	if err != nil {
		return nil, err
	}

	expectedID, ok := new(big.Int).SetString(expectedOnchainBountyID, 10)
	if !ok {
		return nil, fmt.Errorf("%w: bad onchain bounty id %q", ErrNoMatchingEvent, expectedOnchainBountyID)
	}
	expectedAmount := big.NewInt(expectedAmountMicros)
	expectedWinner := strings.ToLower(expectedWinnerAddress)

	for _, lg := range receipt.Logs {
		if lg.Address != v.escrow {
			continue
		}
		if len(lg.Topics) != 3 || lg.Topics[0] != topicBountyClaimed || len(lg.Data) < 32 {
			continue
		}

		if new(big.Int).SetBytes(lg.Topics[1].Bytes()).Cmp(expectedID) != 0 {
			continue
		}
		winner := strings.ToLower(common.BytesToAddress(lg.Topics[2].Bytes()).Hex())
		if winner != expectedWinner {
			continue
		}
		if new(big.Int).SetBytes(lg.Data[:32]).Cmp(expectedAmount) != 0 {
			continue
		}

		return &ClaimConfirmation{
			TxHash:      strings.ToLower(receipt.TxHash.Hex()),
			BlockNumber: receipt.BlockNumber.Uint64(),
		}, nil
	}

	return nil, ErrNoMatchingEvent
}

// VerifyCancel confirms a BountyCancelled event for the expected on-chain
// bounty id.
func (v *ChainVerifier) VerifyCancel(ctx context.Context, txHash, expectedOnchainBountyID string) (*ClaimConfirmation, error) {
	receipt, err := v.successfulReceipt(ctx, txHash)
	if err != nil {
		return nil, err
	}

	expectedID, ok := new(big.Int).SetString(expectedOnchainBountyID, 10)
	if !ok {
		return nil, fmt.Errorf("%w: bad onchain bounty id %q", ErrNoMatchingEvent, expectedOnchainBountyID)
	}

	for _, lg := range receipt.Logs {
		if lg.Address != v.escrow {
			continue
		}
		if len(lg.Topics) != 2 || lg.Topics[0] != topicBountyCancelled {
			continue
		}
		if new(big.Int).SetBytes(lg.Topics[1].Bytes()).Cmp(expectedID) != 0 {
			continue
		}

		return &ClaimConfirmation{
			TxHash:      strings.ToLower(receipt.TxHash.Hex()),
			BlockNumber: receipt.BlockNumber.Uint64(),
		}, nil
	}

	return nil, ErrNoMatchingEvent
}

// DecodedEscrowEvent is one lifecycle event pulled from a block range scan.
type DecodedEscrowEvent struct {
	Type            models.EscrowEventType
	OnchainBountyID string
	TxHash          string
	BlockNumber     uint64
	Payload         models.JSONMap
}

// HeadBlock returns the current chain head number.
func (v *ChainVerifier) HeadBlock(ctx context.Context) (uint64, error) {
	head, err := v.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrChainUnavailable, err)
	}
	return head, nil
}

// FetchEscrowEvents scans [fromBlock, toBlock] for all four lifecycle event
// kinds of the escrow contract, in one filter query.
func (v *ChainVerifier) FetchEscrowEvents(ctx context.Context, fromBlock, toBlock uint64) ([]DecodedEscrowEvent, error) {
	logs, err := v.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{v.escrow},
		Topics: [][]common.Hash{{
			topicBountyCreated,
			topicBountyClaimed,
			topicBountyCancelled,
			topicBountyExpired,
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChainUnavailable, err)
	}

	events := make([]DecodedEscrowEvent, 0, len(logs))
	for _, lg := range logs {
		if len(lg.Topics) < 2 {
			continue
		}

		event := DecodedEscrowEvent{
			OnchainBountyID: new(big.Int).SetBytes(lg.Topics[1].Bytes()).String(),
			TxHash:          strings.ToLower(lg.TxHash.Hex()),
			BlockNumber:     lg.BlockNumber,
			Payload:         models.JSONMap{},
		}

		switch lg.Topics[0] {
		case topicBountyCreated:
			if len(lg.Topics) != 3 || len(lg.Data) < 64 {
				continue
			}
			event.Type = models.EscrowEventCreated
			event.Payload = models.JSONMap{
				"employer": strings.ToLower(common.BytesToAddress(lg.Topics[2].Bytes()).Hex()),
				"amount":   new(big.Int).SetBytes(lg.Data[:32]).String(),
				"deadline": new(big.Int).SetBytes(lg.Data[32:64]).String(),
			}
		case topicBountyClaimed:
			if len(lg.Topics) != 3 || len(lg.Data) < 32 {
				continue
			}
			event.Type = models.EscrowEventClaimed
			event.Payload = models.JSONMap{
				"winner": strings.ToLower(common.BytesToAddress(lg.Topics[2].Bytes()).Hex()),
				"amount": new(big.Int).SetBytes(lg.Data[:32]).String(),
			}
		case topicBountyCancelled:
			event.Type = models.EscrowEventCancelled
		case topicBountyExpired:
			event.Type = models.EscrowEventExpired
		default:
			continue
		}

		events = append(events, event)
	}

	return events, nil
}
