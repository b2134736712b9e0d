package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

// MaxDeliveryRecords bounds the delivery history file.
const MaxDeliveryRecords = 5

// DeliveryHistory is the most-recent-first log of report deliveries.
type DeliveryHistory struct {
	path   string
	logger zerolog.Logger
}

// NewDeliveryHistory binds the history to path.
func NewDeliveryHistory(path string, logger zerolog.Logger) *DeliveryHistory {
	return &DeliveryHistory{
		path:   path,
		logger: logger.With().Str("component", "delivery_history").Logger(),
	}
}

// Path returns the backing file.
func (h *DeliveryHistory) Path() string {
	return h.path
}

// Record inserts rec at the head and keeps at most MaxDeliveryRecords entries.
func (h *DeliveryHistory) Record(rec DeliveryRecord) error {
	records, err := h.Load()
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to load delivery history; starting fresh")
		records = nil
	}

	records = append([]DeliveryRecord{rec}, records...)
	if len(records) > MaxDeliveryRecords {
		records = records[:MaxDeliveryRecords]
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode delivery history: %w", err)
	}
	if err := WriteFileAtomic(h.path, data); err != nil {
		return fmt.Errorf("write delivery history: %w", err)
	}
	return nil
}

// Load returns the records, newest first. A missing file yields none.
func (h *DeliveryHistory) Load() ([]DeliveryRecord, error) {
	data, err := os.ReadFile(h.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []DeliveryRecord{}, nil
		}
		return nil, fmt.Errorf("read delivery history: %w", err)
	}
	return decodeHistory(data)
}

// legacyHistory covers the two object shapes older writers produced.
type legacyHistory struct {
	History  *[]DeliveryRecord `json:"history"`
	LastSend string            `json:"last_send"`
	Success  bool              `json:"success"`
	Subject  *string           `json:"subject"`
}

func decodeHistory(data []byte) ([]DeliveryRecord, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return []DeliveryRecord{}, nil
	}

	if trimmed[0] == '[' {
		var records []DeliveryRecord
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("decode delivery history: %w", err)
		}
		return records, nil
	}

	var legacy legacyHistory
	if err := json.Unmarshal(trimmed, &legacy); err != nil {
		return nil, fmt.Errorf("decode delivery history: %w", err)
	}
	if legacy.History != nil {
		return *legacy.History, nil
	}
	if legacy.LastSend == "" {
		return []DeliveryRecord{}, nil
	}

	subject := "Unknown"
	if legacy.Subject != nil {
		subject = *legacy.Subject
	}
	return []DeliveryRecord{{
		Timestamp: legacy.LastSend,
		Success:   legacy.Success,
		Subject:   subject,
		SentAt:    legacy.LastSend,
	}}, nil
}
