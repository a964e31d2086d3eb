package services

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"bounty-payout-system/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	err = db.AutoMigrate(
		&models.User{},
		&models.EmployerBlock{},
		&models.Bounty{},
		&models.BountyFunding{},
		&models.EscrowEvent{},
		&models.Submission{},
		&models.Payout{},
		&models.Job{},
		&models.AuditLog{},
	)
	if err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

type queuedJob struct {
	queue   string
	payload models.JSONMap
}

type fakeQueue struct {
	jobs []queuedJob
}

func (q *fakeQueue) Enqueue(queue string, payload models.JSONMap) error {
	q.jobs = append(q.jobs, queuedJob{queue: queue, payload: payload})
	return nil
}

func (q *fakeQueue) count(queue string) int {
	var n int
	for _, j := range q.jobs {
		if j.queue == queue {
			n++
		}
	}
	return n
}

// stubEth serves canned receipts and logs in place of a live RPC endpoint.
type stubEth struct {
	receipts map[common.Hash]*types.Receipt
	logs     []types.Log
	head     uint64
}

func (s *stubEth) TransactionReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	receipt, ok := s.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func (s *stubEth) FilterLogs(_ context.Context, _ ethereum.FilterQuery) ([]types.Log, error) {
	return s.logs, nil
}

func (s *stubEth) BlockNumber(_ context.Context) (uint64, error) {
	return s.head, nil
}

const testEscrowAddress = "0x00000000000000000000000000000000000000e5"

func word(v *big.Int) []byte {
	return common.BigToHash(v).Bytes()
}

func fundingLog(escrow common.Address, onchainID int64, employer common.Address, amountMicros, deadlineUnix int64) types.Log {
	data := append(word(big.NewInt(amountMicros)), word(big.NewInt(deadlineUnix))...)
	return types.Log{
		Address: escrow,
		Topics: []common.Hash{
			topicBountyCreated,
			common.BigToHash(big.NewInt(onchainID)),
			common.BytesToHash(employer.Bytes()),
		},
		Data: data,
	}
}

func claimLog(escrow common.Address, onchainID int64, winner common.Address, amountMicros int64) types.Log {
	return types.Log{
		Address: escrow,
		Topics: []common.Hash{
			topicBountyClaimed,
			common.BigToHash(big.NewInt(onchainID)),
			common.BytesToHash(winner.Bytes()),
		},
		Data: word(big.NewInt(amountMicros)),
	}
}

func cancelLog(escrow common.Address, onchainID int64) types.Log {
	return types.Log{
		Address: escrow,
		Topics: []common.Hash{
			topicBountyCancelled,
			common.BigToHash(big.NewInt(onchainID)),
		},
	}
}

func successReceipt(txHash common.Hash, blockNumber int64, logs ...types.Log) *types.Receipt {
	receiptLogs := make([]*types.Log, 0, len(logs))
	for i := range logs {
		lg := logs[i]
		lg.TxHash = txHash
		lg.BlockNumber = uint64(blockNumber)
		receiptLogs = append(receiptLogs, &lg)
	}
	return &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      txHash,
		BlockNumber: big.NewInt(blockNumber),
		Logs:        receiptLogs,
	}
}

func failedReceipt(txHash common.Hash, blockNumber int64) *types.Receipt {
	return &types.Receipt{
		Status:      types.ReceiptStatusFailed,
		TxHash:      txHash,
		BlockNumber: big.NewInt(blockNumber),
	}
}

func seedCandidate(t *testing.T, db *gorm.DB, payoutAddress string) *models.User {
	t.Helper()
	user := models.User{
		ID:                 uuid.NewString(),
		Role:               models.UserRoleCandidate,
		GithubUsername:     "candidate-" + uuid.NewString()[:8],
		Email:              "candidate@example.com",
		EmailNotifications: true,
		PayoutAddress:      payoutAddress,
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seed candidate: %v", err)
	}
	return &user
}

func seedEmployer(t *testing.T, db *gorm.DB) *models.User {
	t.Helper()
	user := models.User{
		ID:                 uuid.NewString(),
		Role:               models.UserRoleEmployer,
		GithubUsername:     "employer-" + uuid.NewString()[:8],
		Email:              "employer@example.com",
		EmailNotifications: true,
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seed employer: %v", err)
	}
	return &user
}

func seedBounty(t *testing.T, db *gorm.DB, employerID string, amountMicros int64, deadline time.Time) *models.Bounty {
	t.Helper()
	bounty := models.Bounty{
		ID:                 uuid.NewString(),
		EmployerID:         employerID,
		JobTitle:           "Senior Backend Engineer",
		AmountUSDC:         amountMicros,
		SubmissionDeadline: deadline,
		GracePeriodDays:    7,
		Status:             models.BountyStatusOpen,
	}
	if err := db.Create(&bounty).Error; err != nil {
		t.Fatalf("seed bounty: %v", err)
	}
	return &bounty
}

func noopLock(_ *gorm.DB, _ string) error { return nil }
