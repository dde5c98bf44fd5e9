package httpserver

import (
	"context"

	"github.com/scryptex-labs/texledger/pkg/ledger"
	"go.uber.org/zap"
)

// OperationRecorder forwards ledger operation events to zap and the
// prometheus operation counter.
type OperationRecorder struct {
	logger *zap.Logger
}

// NewOperationRecorder wires the recorder.
func NewOperationRecorder(logger *zap.Logger) *OperationRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OperationRecorder{logger: logger}
}

// LogOperation implements ledger.OperationLogger.
func (recorder *OperationRecorder) LogOperation(_ context.Context, entry ledger.OperationLog) {
	ledgerOperationsTotal.WithLabelValues(entry.Operation, entry.Status).Inc()
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("user_id", entry.UserID.String()),
		zap.String("status", entry.Status),
	}
	if entry.Amount != 0 {
		fields = append(fields, zap.Int64("amount", entry.Amount))
	}
	if entry.Purpose != "" {
		fields = append(fields, zap.String("purpose", entry.Purpose.String()))
	}
	if entry.TransactionID != "" {
		fields = append(fields, zap.String("transaction_id", entry.TransactionID))
	}
	if entry.ReferralCode != "" {
		fields = append(fields, zap.String("referral_code", entry.ReferralCode))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		recorder.logger.Warn("ledger operation failed", fields...)
		return
	}
	recorder.logger.Info("ledger operation", fields...)
}
