// ABOUTME: Conversation metrics: status counts, response-time and SLA aggregates
// ABOUTME: Aggregates are computed over a recent window of timeline rows

package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/2389/omni-gateway/internal/store"
)

const (
	// SLAThreshold is how long a customer may wait for the first reply
	// before the conversation counts as out of SLA.
	SLAThreshold = 5 * time.Minute

	// AbandonedAfter is how long an open conversation may sit without
	// activity before it counts as abandoned.
	AbandonedAfter = 24 * time.Hour

	// Window bounds the timeline scan for the time-based aggregates.
	Window = 30 * 24 * time.Hour
)

// Report is the metrics payload served by the conversations API.
type Report struct {
	TotalConversations      int     `json:"total_conversations"`
	OpenConversations       int     `json:"open_conversations"`
	ClosedConversations     int     `json:"closed_conversations"`
	AbandonedConversations  int     `json:"abandoned_conversations"`
	RespondedConversations  int     `json:"responded_conversations"`
	UnansweredConversations int     `json:"unanswered_conversations"`
	AvgFirstResponseSeconds float64 `json:"avg_first_response_time_seconds"`
	AvgResolutionSeconds    float64 `json:"avg_resolution_time_seconds"`
	ConversationsOutOfSLA   int     `json:"conversations_out_of_sla"`
}

// Reader is the slice of the store the metrics service needs.
type Reader interface {
	CountConversations(ctx context.Context, abandonedBefore time.Time) (*store.ConversationCounts, error)
	ListTimelineSince(ctx context.Context, since time.Time) ([]store.TimelineEntry, error)
}

// Service derives the metrics report. Counts come straight from the store;
// the response-time aggregates are computed in memory from a slim timeline
// scan limited to recently active conversations.
type Service struct {
	reader Reader
	now    func() time.Time
}

// New creates a metrics service.
func New(reader Reader) *Service {
	return &Service{reader: reader, now: time.Now}
}

// Report computes the current metrics.
func (s *Service) Report(ctx context.Context) (*Report, error) {
	now := s.now().UTC()

	counts, err := s.reader.CountConversations(ctx, now.Add(-AbandonedAfter))
	if err != nil {
		return nil, fmt.Errorf("counting conversations: %w", err)
	}

	timeline, err := s.reader.ListTimelineSince(ctx, now.Add(-Window))
	if err != nil {
		return nil, fmt.Errorf("loading timeline: %w", err)
	}

	report := &Report{
		TotalConversations:      counts.Total,
		OpenConversations:       counts.Open,
		ClosedConversations:     counts.Closed,
		AbandonedConversations:  counts.Abandoned,
		RespondedConversations:  counts.Responded,
		UnansweredConversations: counts.Unanswered,
	}

	firstResponse := aggregate{}
	resolution := aggregate{}

	// Timeline rows arrive grouped by conversation and ordered by
	// timestamp, so one pass with a group cursor is enough.
	var group []store.TimelineEntry
	flush := func() {
		if len(group) == 0 {
			return
		}
		if delta, ok := firstResponseDelta(group); ok {
			firstResponse.add(delta)
			if delta > SLAThreshold {
				report.ConversationsOutOfSLA++
			}
		}
		if delta, ok := resolutionDelta(group); ok {
			resolution.add(delta)
		}
		group = group[:0]
	}

	for _, entry := range timeline {
		if len(group) > 0 && group[0].ConversationID != entry.ConversationID {
			flush()
		}
		group = append(group, entry)
	}
	flush()

	report.AvgFirstResponseSeconds = firstResponse.mean()
	report.AvgResolutionSeconds = resolution.mean()
	return report, nil
}

// firstResponseDelta returns the time between the first customer message
// and the first bot or agent message that followed it.
func firstResponseDelta(group []store.TimelineEntry) (time.Duration, bool) {
	var customerAt, responseAt time.Time
	for _, entry := range group {
		if entry.Sender == store.SenderCustomer {
			if customerAt.IsZero() {
				customerAt = entry.Timestamp
			}
		} else if responseAt.IsZero() {
			responseAt = entry.Timestamp
		}
	}
	if customerAt.IsZero() || responseAt.IsZero() || !responseAt.After(customerAt) {
		return 0, false
	}
	return responseAt.Sub(customerAt), true
}

// resolutionDelta returns the span from first to last message for closed
// conversations with at least two messages.
func resolutionDelta(group []store.TimelineEntry) (time.Duration, bool) {
	if len(group) < 2 || group[0].ConversationStatus != store.StatusClosed {
		return 0, false
	}
	return group[len(group)-1].Timestamp.Sub(group[0].Timestamp), true
}

type aggregate struct {
	sum   time.Duration
	count int
}

func (a *aggregate) add(d time.Duration) {
	a.sum += d
	a.count++
}

func (a *aggregate) mean() float64 {
	if a.count == 0 {
		return 0
	}
	return a.sum.Seconds() / float64(a.count)
}
