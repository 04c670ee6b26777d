package workers

import (
	"log"
	"sync"
	"time"

	"github.com/camden-git/faceregistry/sessions"
)

// SessionSweeper periodically evicts sessions that have been idle longer
// than the configured timeout, wiping their upload storage.
type SessionSweeper struct {
	Registry *sessions.Registry
	Timeout  time.Duration
	Interval time.Duration
	Wg       sync.WaitGroup
	StopChan chan struct{}
}

func NewSessionSweeper(registry *sessions.Registry, timeout, interval time.Duration) *SessionSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	sweeper := &SessionSweeper{
		Registry: registry,
		Timeout:  timeout,
		Interval: interval,
		StopChan: make(chan struct{}),
	}
	sweeper.Wg.Add(1)
	go sweeper.run()
	log.Printf("Started session sweeper (timeout %s, interval %s)", timeout, interval)
	return sweeper
}

func (s *SessionSweeper) run() {
	defer s.Wg.Done()

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.StopChan:
			log.Println("Session sweeper stopping: Stop signal received")
			return
		}
	}
}

func (s *SessionSweeper) sweep() {
	idle := s.Registry.ListIdle(s.Timeout)
	for _, id := range idle {
		if err := s.Registry.Remove(id); err != nil {
			log.Printf("Session sweeper: failed to remove session %s: %v", id, err)
		}
	}
	if len(idle) > 0 {
		log.Printf("Session sweeper: evicted %d idle session(s)", len(idle))
	}
}

func (s *SessionSweeper) Stop() {
	log.Println("Stopping session sweeper...")
	close(s.StopChan)
	s.Wg.Wait()
}
