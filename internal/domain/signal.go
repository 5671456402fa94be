package domain

import "time"

// Event types produced by the classifier.
const (
	EventAccident = "accident"
	EventOutage   = "outage"
	EventRepair   = "repair"
	EventOther    = "other"
)

// Object types produced by the classifier.
const (
	ObjectWater      = "water"
	ObjectHeat       = "heat"
	ObjectIndustrial = "industrial"
	ObjectUnknown    = "unknown"
)

// Spheres derived from object type for the signal text.
const (
	SphereUtilities = "ЖКХ"
	SphereIndustry  = "промышленность"
)

// Actions recommended by the classifier.
const (
	ActionCall   = "call"
	ActionWatch  = "watch"
	ActionIgnore = "ignore"
)

// EventTypeRU translates classifier event types for the signal banner.
var EventTypeRU = map[string]string{
	EventAccident: "авария",
	EventOutage:   "остановка",
	EventRepair:   "ремонт",
	EventOther:    "другое",
}

// Verdict is the parsed LLM classification of one news item.
type Verdict struct {
	EventType string  `json:"event_type"`
	Relevance float64 `json:"relevance"`
	Urgency   int     `json:"urgency"`
	Object    string  `json:"object"`
	Why       string  `json:"why"`
	Action    string  `json:"action"`
}

// Signal is one emitted alert. At most one Signal exists per NewsItem and
// rows are never mutated after insertion except the recipient count and
// feedback fields.
type Signal struct {
	ID              int64
	NewsID          int64
	SentAt          time.Time
	EventType       string
	Urgency         int
	ObjectType      string
	Sphere          string
	Region          string
	Why             string
	MessageText     string
	RecipientsCount int
	FeedbackScore   int
}

// PendingSignal is an LLM-approved candidate awaiting final selection.
// Candidates collected during a cycle are ranked by PriorityScore and the
// top ones within the daily budget become signals.
type PendingSignal struct {
	ID            int64
	NewsID        int64
	CreatedAt     time.Time
	PriorityScore float64
	Relevance     float64
	Urgency       int
	EventType     string
	ObjectType    string
	MessageText   string
	Region        string
	Why           string
	CycleDate     string
	Status        string // pending, sent, skipped
}

// Incident groups related signals in the same region with the same event
// type inside a rolling window.
type Incident struct {
	ID           int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Title        string
	Region       string
	ObjectType   string
	EventType    string
	Status       string // open, closed, suppressed
	SignalsCount int
}

// Sphere maps an object type to the two-valued sphere label.
func Sphere(objectType string) string {
	if objectType == ObjectIndustrial {
		return SphereIndustry
	}
	return SphereUtilities
}
