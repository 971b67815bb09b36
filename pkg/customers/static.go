package customers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/voyagerhq/voyager/pkg/models"
)

// Static serves fixed customer data from memory. It implements the same
// interfaces as Client and backs tests and local development.
type Static struct {
	mu        sync.RWMutex
	snapshots map[string]*models.CustomerSnapshot
	segments  map[string][]string       // segment id -> customer ids
	counts    map[string]int            // customer id + event name -> count
	bestHours map[string]int            // customer id -> hour
}

func NewStatic() *Static {
	return &Static{
		snapshots: make(map[string]*models.CustomerSnapshot),
		segments:  make(map[string][]string),
		counts:    make(map[string]int),
		bestHours: make(map[string]int),
	}
}

func (s *Static) SetSnapshot(snapshot *models.CustomerSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots[snapshot.CustomerID] = snapshot
}

func (s *Static) SetSegment(segmentID string, customerIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.segments[segmentID] = customerIDs
}

func (s *Static) SetCount(customerID, eventName string, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counts[customerID+":"+eventName] = count
}

func (s *Static) SetBestHour(customerID string, hour int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bestHours[customerID] = hour
}

func (s *Static) Snapshot(_ context.Context, customerID string) (*models.CustomerSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, ok := s.snapshots[customerID]
	if !ok {
		return nil, fmt.Errorf("unknown customer %s", customerID)
	}

	return snapshot, nil
}

func (s *Static) IsMember(_ context.Context, segmentID, customerID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.segments[segmentID] {
		if id == customerID {
			return true, nil
		}
	}

	return false, nil
}

func (s *Static) Members(_ context.Context, segmentID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.segments[segmentID], nil
}

func (s *Static) Count(_ context.Context, customerID, eventName string, _ time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.counts[customerID+":"+eventName], nil
}

func (s *Static) BestSendHour(_ context.Context, customerID string) (int, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hour, ok := s.bestHours[customerID]

	return hour, ok, nil
}
