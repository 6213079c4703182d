package dispatch

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LogMessenger only logs what would have been sent. Used for dry runs.
type LogMessenger struct {
	logger *zap.Logger
}

// NewLogMessenger creates a dry-run messenger
func NewLogMessenger(logger *zap.Logger) *LogMessenger {
	return &LogMessenger{logger: logger}
}

// SendImage checks the image is readable and logs the delivery
func (m *LogMessenger) SendImage(ctx context.Context, address, imagePath, caption string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	info, err := os.Stat(imagePath)
	if err != nil {
		return "", fmt.Errorf("failed to stat image: %w", err)
	}

	id := "dry-run-" + uuid.NewString()
	m.logger.Info("Dry run: report not sent",
		zap.String("recipient", address),
		zap.String("image", imagePath),
		zap.Int64("bytes", info.Size()),
		zap.String("caption", caption),
		zap.String("message_id", id))
	return id, nil
}
