// Package store keeps launches, test items and their logs in memory for the local collector
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/labring/testreport/pkg/common"
	apierrors "github.com/labring/testreport/pkg/errors"
)

// Launch is a stored launch
type Launch struct {
	ID          string        `json:"id"`
	Project     string        `json:"project"`
	UUID        string        `json:"uuid,omitempty"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Mode        common.Mode   `json:"mode"`
	Tags        []string      `json:"tags,omitempty"`
	Rerun       bool          `json:"rerun,omitempty"`
	StartTime   time.Time     `json:"start_time"`
	EndTime     *time.Time    `json:"end_time,omitempty"`
	Status      common.Status `json:"status"`
}

// Item is a stored test item
type Item struct {
	ID        string          `json:"id"`
	LaunchID  string          `json:"launch_id"`
	ParentID  string          `json:"parent_id,omitempty"`
	Name      string          `json:"name"`
	Type      common.ItemType `json:"type"`
	StartTime time.Time       `json:"start_time"`
	EndTime   *time.Time      `json:"end_time,omitempty"`
	Status    common.Status   `json:"status"`
	Retry     bool            `json:"retry,omitempty"`
	RetryOf   string          `json:"retry_of,omitempty"`
	Issue     *common.Issue   `json:"issue,omitempty"`
	LogCount  int             `json:"log_count"`

	children []string
}

// Finished reports whether the item has an end time
func (i *Item) Finished() bool {
	return i.EndTime != nil
}

// Attachment is a stored log attachment
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
	Data        []byte `json:"-"`
}

// LogRecord is a stored log event
type LogRecord struct {
	ID         string          `json:"id"`
	Sequence   int64           `json:"sequence"`
	ItemID     string          `json:"item_id"`
	LaunchID   string          `json:"launch_id"`
	Time       time.Time       `json:"time"`
	Level      common.LogLevel `json:"level"`
	Message    string          `json:"message"`
	Attachment *Attachment     `json:"attachment,omitempty"`
}

// LaunchDetails is a launch together with its items in start order
type LaunchDetails struct {
	Launch *Launch `json:"launch"`
	Items  []*Item `json:"items"`
}

// LogListener is notified of every stored log record
type LogListener func(record *LogRecord)

// Store is a goroutine-safe in-memory collector store
type Store struct {
	mu        sync.RWMutex
	launches  map[string]*Launch
	items     map[string]*Item
	order     []string
	logs      map[string][]*LogRecord
	sequence  int64
	listeners []LogListener
}

// New creates an empty store
func New() *Store {
	return &Store{
		launches: make(map[string]*Launch),
		items:    make(map[string]*Item),
		logs:     make(map[string][]*LogRecord),
	}
}

// OnLog registers a listener called after each log record is stored
func (s *Store) OnLog(fn LogListener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

// StartLaunch stores a new in-progress launch
func (s *Store) StartLaunch(project string, rq *common.StartLaunchRQ) *Launch {
	l := &Launch{
		ID:          uuid.NewString(),
		Project:     project,
		UUID:        rq.UUID,
		Name:        rq.Name,
		Description: rq.Description,
		Mode:        common.ParseMode(string(rq.Mode)),
		Tags:        rq.Tags,
		Rerun:       rq.Rerun,
		StartTime:   orNow(rq.StartTime),
		Status:      common.StatusInProgress,
	}

	s.mu.Lock()
	s.launches[l.ID] = l
	s.mu.Unlock()
	return l
}

// FinishLaunch finishes a launch. Items still in progress are interrupted.
// Without an explicit status the launch fails if any item failed.
func (s *Store) FinishLaunch(id string, rq *common.FinishExecutionRQ) (*Launch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.launches[id]
	if !ok {
		return nil, apierrors.NewNotFoundError("Launch", id)
	}
	if l.EndTime != nil {
		return nil, apierrors.NewAlreadyFinishedError("Launch", id)
	}

	end := orNow(rq.EndTime)
	status := rq.Status
	computed := common.StatusPassed
	for _, itemID := range s.order {
		item := s.items[itemID]
		if item.LaunchID != id {
			continue
		}
		if !item.Finished() {
			item.EndTime = &end
			item.Status = common.StatusInterrupted
		}
		if item.Status == common.StatusFailed || item.Status == common.StatusInterrupted {
			computed = common.StatusFailed
		}
	}
	if status == "" {
		status = computed
	}

	l.EndTime = &end
	l.Status = status
	return l, nil
}

// StartItem stores a new item under parentID, or as a root item when parentID is empty
func (s *Store) StartItem(parentID string, rq *common.StartTestItemRQ) (*Item, error) {
	if rq.Name == "" {
		return nil, apierrors.NewIncorrectRequestError("Test item name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.launches[rq.LaunchID]
	if !ok {
		return nil, apierrors.NewNotFoundError("Launch", rq.LaunchID)
	}
	if l.EndTime != nil {
		return nil, apierrors.NewAlreadyFinishedError("Launch", l.ID)
	}

	var parent *Item
	if parentID != "" {
		parent, ok = s.items[parentID]
		if !ok {
			return nil, apierrors.NewNotFoundError("Test item", parentID)
		}
		if parent.Finished() {
			return nil, apierrors.NewAlreadyFinishedError("Test item", parentID)
		}
	}
	if rq.RetryOf != "" {
		if _, ok := s.items[rq.RetryOf]; !ok {
			return nil, apierrors.NewNotFoundError("Test item", rq.RetryOf)
		}
	}

	item := &Item{
		ID:        uuid.NewString(),
		LaunchID:  l.ID,
		ParentID:  parentID,
		Name:      rq.Name,
		Type:      rq.Type,
		StartTime: orNow(rq.StartTime),
		Status:    common.StatusInProgress,
		Retry:     rq.Retry,
		RetryOf:   rq.RetryOf,
	}

	s.items[item.ID] = item
	s.order = append(s.order, item.ID)
	if parent != nil {
		parent.children = append(parent.children, item.ID)
	}
	return item, nil
}

// FinishItem finishes an item. It fails while any child is still in progress.
func (s *Store) FinishItem(id string, rq *common.FinishTestItemRQ) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return nil, apierrors.NewNotFoundError("Test item", id)
	}
	if item.Finished() {
		return nil, apierrors.NewAlreadyFinishedError("Test item", id)
	}

	pending := 0
	failedChild := false
	for _, childID := range item.children {
		child := s.items[childID]
		if !child.Finished() {
			pending++
		}
		if child.Status == common.StatusFailed {
			failedChild = true
		}
	}
	if pending > 0 {
		return nil, apierrors.NewUnfinishedChildrenError(id, pending)
	}

	status := rq.Status
	if status == "" {
		status = common.StatusPassed
		if failedChild {
			status = common.StatusFailed
		}
	}

	end := orNow(rq.EndTime)
	item.EndTime = &end
	item.Status = status
	item.Issue = rq.Issue
	return item, nil
}

// SaveLogs stores a batch of log events. files maps attachment names to their
// uploaded parts in upload order; events referencing the same name consume them
// in turn. Each event gets its own result and one bad event never fails the batch.
func (s *Store) SaveLogs(rqs []*common.SaveLogRQ, files map[string][]*Attachment) []common.BatchElementCreatedRS {
	results := make([]common.BatchElementCreatedRS, 0, len(rqs))
	var stored []*LogRecord

	s.mu.Lock()
	for _, rq := range rqs {
		if rq == nil {
			results = append(results, common.BatchElementCreatedRS{Message: "empty log request"})
			continue
		}
		item, ok := s.items[rq.ItemID]
		if !ok {
			results = append(results, common.BatchElementCreatedRS{Message: apierrors.NewNotFoundError("Test item", rq.ItemID).Message})
			continue
		}

		s.sequence++
		record := &LogRecord{
			ID:       uuid.NewString(),
			Sequence: s.sequence,
			ItemID:   item.ID,
			LaunchID: item.LaunchID,
			Time:     orNow(rq.Time),
			Level:    rq.Level,
			Message:  rq.Message,
		}
		if rq.File != nil {
			if queue := files[rq.File.Name]; len(queue) > 0 {
				record.Attachment = queue[0]
				files[rq.File.Name] = queue[1:]
			} else {
				record.Attachment = &Attachment{Name: rq.File.Name}
			}
		}

		s.logs[item.ID] = append(s.logs[item.ID], record)
		item.LogCount++
		stored = append(stored, record)
		results = append(results, common.BatchElementCreatedRS{ID: record.ID})
	}
	listeners := append([]LogListener(nil), s.listeners...)
	s.mu.Unlock()

	for _, record := range stored {
		for _, fn := range listeners {
			fn(record)
		}
	}
	return results
}

// Launches returns every launch, newest first
func (s *Store) Launches() []*Launch {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Launch, 0, len(s.launches))
	for _, l := range s.launches {
		copied := *l
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out
}

// LaunchDetails returns a launch and its items
func (s *Store) LaunchDetails(id string) (*LaunchDetails, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.launches[id]
	if !ok {
		return nil, apierrors.NewNotFoundError("Launch", id)
	}

	launch := *l
	details := &LaunchDetails{Launch: &launch, Items: []*Item{}}
	for _, itemID := range s.order {
		item := s.items[itemID]
		if item.LaunchID == id {
			copied := *item
			copied.children = nil
			details.Items = append(details.Items, &copied)
		}
	}
	return details, nil
}

// Item returns a copy of a stored item
func (s *Store) Item(id string) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, apierrors.NewNotFoundError("Test item", id)
	}
	copied := *item
	copied.children = nil
	return &copied, nil
}

// ItemLogs returns the last tail log records of an item, or all of them when tail <= 0
func (s *Store) ItemLogs(itemID string, tail int) []*LogRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lastN(s.logs[itemID], tail)
}

// LaunchLogs returns the last tail log records across every item of a launch
func (s *Store) LaunchLogs(launchID string, tail int) []*LogRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []*LogRecord
	for _, itemID := range s.order {
		if s.items[itemID].LaunchID != launchID {
			continue
		}
		records = append(records, s.logs[itemID]...)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Sequence < records[j].Sequence })
	return lastN(records, tail)
}

func lastN(records []*LogRecord, n int) []*LogRecord {
	if n > 0 && len(records) > n {
		records = records[len(records)-n:]
	}
	out := make([]*LogRecord, len(records))
	copy(out, records)
	return out
}

// Stats counts stored entities
type Stats struct {
	Launches int   `json:"launches"`
	Items    int   `json:"items"`
	Logs     int64 `json:"logs"`
}

// Stats returns the current entity counts
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{Launches: len(s.launches), Items: len(s.items), Logs: s.sequence}
}
