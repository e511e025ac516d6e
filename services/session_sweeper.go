package services

import (
	"context"
	"sync"
	"time"

	"github.com/yeremiapane/table-service/utils"
)

// SessionSweeper periodically closes expired sessions so dashboards and
// customer tabs learn about expiry without waiting for the next lazy check.
type SessionSweeper struct {
	Sessions *SessionService
	Interval time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

func NewSessionSweeper(sessions *SessionService, interval time.Duration) *SessionSweeper {
	return &SessionSweeper{
		Sessions: sessions,
		Interval: interval,
		stopChan: make(chan struct{}),
	}
}

func (sw *SessionSweeper) Start() {
	if sw.Interval <= 0 {
		utils.InfoLogger.Println("Session sweeper disabled")
		return
	}

	sw.wg.Add(1)
	go func() {
		defer sw.wg.Done()
		ticker := time.NewTicker(sw.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				sw.sweep()
			case <-sw.stopChan:
				return
			}
		}
	}()
	utils.InfoLogger.Printf("Session sweeper started (interval %s)", sw.Interval)
}

func (sw *SessionSweeper) Stop() {
	sw.once.Do(func() { close(sw.stopChan) })
	sw.wg.Wait()
}

func (sw *SessionSweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sw.Interval)
	defer cancel()

	closed, err := sw.Sessions.SweepExpired(ctx)
	if err != nil {
		utils.ErrorLogger.Printf("Error sweeping expired sessions: %v", err)
		return
	}
	if closed > 0 {
		utils.InfoLogger.Printf("Closed %d expired table sessions", closed)
	}
}
