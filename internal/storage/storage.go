// Package storage persists closed trade cycles and aggregate statistics to a
// JSON file.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/quantjunkie/niftywing/internal/models"
)

type Storage struct {
	mu       sync.RWMutex
	filepath string
	data     *StorageData
}

type StorageData struct {
	Trades      []TradeRecord      `json:"trades"`
	DailyPnL    map[string]float64 `json:"daily_pnl"`
	Statistics  *Statistics        `json:"statistics"`
	LastUpdated time.Time          `json:"last_updated"`
}

// TradeRecord is one closed strategy cycle: four legs entered together and
// exited together.
type TradeRecord struct {
	ID        string       `json:"id"`
	EntryTime time.Time    `json:"entry_time"`
	ExitTime  time.Time    `json:"exit_time"`
	Reason    string       `json:"reason"` // trailing_stop | forced_exit | manual | shutdown
	EntrySpot float64      `json:"entry_spot"`
	PnL       float64      `json:"pnl"`
	Legs      []models.Leg `json:"legs"`
}

type Statistics struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	TotalPnL      float64 `json:"total_pnl"`
	AverageWin    float64 `json:"average_win"`
	AverageLoss   float64 `json:"average_loss"`
	MaxDrawdown   float64 `json:"max_drawdown"`
	CurrentStreak int     `json:"current_streak"`
}

func NewStorage(filepath string) (*Storage, error) {
	s := &Storage{
		filepath: filepath,
		data: &StorageData{
			DailyPnL:   make(map[string]float64),
			Statistics: &Statistics{},
		},
	}

	// Load existing data if file exists
	if _, err := os.Stat(filepath); err == nil {
		if err := s.Load(); err != nil {
			return nil, fmt.Errorf("loading storage: %w", err)
		}
	}

	return s, nil
}

func (s *Storage) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filepath)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, &s.data); err != nil {
		return err
	}
	if s.data.DailyPnL == nil {
		s.data.DailyPnL = make(map[string]float64)
	}
	if s.data.Statistics == nil {
		s.data.Statistics = &Statistics{}
	}

	return nil
}

func (s *Storage) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Storage) saveLocked() error {
	s.data.LastUpdated = time.Now()

	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	// Write to temp file first
	tmpFile := s.filepath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return err
	}

	// Atomic rename
	return os.Rename(tmpFile, s.filepath)
}

// RecordTrade appends a closed cycle, folds it into the statistics and the
// daily P&L map, and persists.
func (s *Storage) RecordTrade(trade TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.Trades = append(s.data.Trades, trade)
	s.updateStatistics(trade.PnL)

	day := trade.ExitTime.Format("2006-01-02")
	s.data.DailyPnL[day] += trade.PnL

	return s.saveLocked()
}

func (s *Storage) updateStatistics(pnl float64) {
	stats := s.data.Statistics
	stats.TotalTrades++
	stats.TotalPnL += pnl

	if pnl > 0 {
		stats.WinningTrades++
		if stats.CurrentStreak >= 0 {
			stats.CurrentStreak++
		} else {
			stats.CurrentStreak = 1
		}

		totalWins := stats.AverageWin*float64(stats.WinningTrades-1) + pnl
		stats.AverageWin = totalWins / float64(stats.WinningTrades)
	} else {
		stats.LosingTrades++
		if stats.CurrentStreak <= 0 {
			stats.CurrentStreak--
		} else {
			stats.CurrentStreak = -1
		}

		totalLosses := stats.AverageLoss*float64(stats.LosingTrades-1) + pnl
		stats.AverageLoss = totalLosses / float64(stats.LosingTrades)
	}

	if stats.TotalTrades > 0 {
		stats.WinRate = float64(stats.WinningTrades) / float64(stats.TotalTrades)
	}

	if pnl < 0 && pnl < stats.MaxDrawdown {
		stats.MaxDrawdown = pnl
	}
}

// GetStatistics returns a copy of the aggregate statistics.
func (s *Storage) GetStatistics() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.data.Statistics
}

// GetDailyPnL returns the realized P&L recorded for a date (YYYY-MM-DD).
func (s *Storage) GetDailyPnL(date string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.DailyPnL[date]
}

// GetTrades returns a copy of the closed trade history.
func (s *Storage) GetTrades() []TradeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TradeRecord, len(s.data.Trades))
	copy(out, s.data.Trades)
	return out
}
