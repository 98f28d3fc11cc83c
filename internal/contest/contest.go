// Package contest models AtCoder contests and owns the contest snapshot.
package contest

import (
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Type is a contest category.
type Type string

// Contest categories.
const (
	ABC   Type = "ABC"
	ARC   Type = "ARC"
	AGC   Type = "AGC"
	AHC   Type = "AHC"
	Other Type = "Other"
)

// Types lists every category in display order.
var Types = []Type{ABC, ARC, AGC, AHC, Other}

// ParseType parses a category name case-insensitively.
func ParseType(s string) (Type, bool) {
	for _, t := range Types {
		if strings.EqualFold(s, string(t)) {
			return t, true
		}
	}
	return "", false
}

type classifyRule struct {
	typ      Type
	keywords []string
}

// classifyRules is evaluated in order; the first rule with a matching keyword wins.
var classifyRules = []classifyRule{
	{ABC, []string{"beginner contest", "abc"}},
	{ARC, []string{"regular contest", "arc"}},
	{AGC, []string{"grand contest", "agc"}},
	{AHC, []string{"heuristic contest", "ahc"}},
}

// Classify derives a contest type from its display name.
func Classify(name string) Type {
	lower := strings.ToLower(name)
	for _, rule := range classifyRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.typ
			}
		}
	}
	return Other
}

// Zone is the fixed offset all contest times are normalized to.
var Zone = time.FixedZone("JST", 9*60*60)

// TimeLayout is the persisted, zone-less timestamp format.
const TimeLayout = "2006-01-02 15:04:05"

// Timestamp is a time persisted as a naive UTC+9 string.
type Timestamp struct {
	time.Time
}

// At normalizes t into Zone, truncated to seconds.
func At(t time.Time) Timestamp {
	return Timestamp{t.In(Zone).Truncate(time.Second)}
}

// ParseTimestamp parses a persisted timestamp.
func ParseTimestamp(s string) (Timestamp, error) {
	t, err := time.ParseInLocation(TimeLayout, strings.TrimSpace(s), Zone)
	if err != nil {
		return Timestamp{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return Timestamp{t}, nil
}

func (t Timestamp) String() string {
	if t.IsZero() {
		return ""
	}
	return t.In(Zone).Format(TimeLayout)
}

// MarshalYAML implements yaml.Marshaler.
func (t Timestamp) MarshalYAML() (any, error) {
	return t.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *Timestamp) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return t.set(s)
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return t.set(s)
}

func (t *Timestamp) set(s string) error {
	if s == "" {
		*t = Timestamp{}
		return nil
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Contest is one entry in the contest snapshot.
type Contest struct {
	ID            string    `yaml:"id" json:"id"`
	Name          string    `yaml:"name" json:"name"`
	StartTime     Timestamp `yaml:"start_time" json:"start_time"`
	EndTime       Timestamp `yaml:"end_time" json:"end_time"`
	Duration      string    `yaml:"duration" json:"duration"`
	Type          Type      `yaml:"type" json:"type"`
	URL           string    `yaml:"url" json:"url"`
	RatedRange    string    `yaml:"rated_range" json:"rated_range"`
	ThreadCreated bool      `yaml:"thread_created" json:"thread_created"`
	ResultSent    bool      `yaml:"result_sent" json:"result_sent"`
}

// Start returns the contest start instant.
func (c Contest) Start() time.Time { return c.StartTime.Time }

// End returns the contest end instant.
func (c Contest) End() time.Time { return c.EndTime.Time }

// FirstProblemURL returns the URL of the contest's first task.
func (c Contest) FirstProblemURL() string {
	return fmt.Sprintf("%s/tasks/%s_a", strings.TrimRight(c.URL, "/"), c.ID)
}

// IDFromURL derives the contest id from its URL slug.
func IDFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse contest url: %w", err)
	}
	id := path.Base(strings.TrimRight(u.Path, "/"))
	if id == "" || id == "." || id == "/" || id == "contests" {
		return "", fmt.Errorf("no contest id in %q", raw)
	}
	return id, nil
}

// ParseDuration parses an "HH:MM" contest length. Hours may exceed 24.
func ParseDuration(s string) (time.Duration, error) {
	var h, m int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	if h < 0 || m < 0 || m >= 60 {
		return 0, fmt.Errorf("parse duration %q: out of range", s)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}

// Validate fills defaults and reports records that cannot be scheduled.
func (c *Contest) Validate() error {
	if c.ID == "" && c.URL != "" {
		id, err := IDFromURL(c.URL)
		if err != nil {
			return err
		}
		c.ID = id
	}
	if c.ID == "" {
		return fmt.Errorf("contest %q has no id", c.Name)
	}
	if c.StartTime.IsZero() {
		return fmt.Errorf("contest %s has no start time", c.ID)
	}
	if c.EndTime.IsZero() {
		d, err := ParseDuration(c.Duration)
		if err != nil {
			return fmt.Errorf("contest %s: %w", c.ID, err)
		}
		c.EndTime = At(c.Start().Add(d))
	}
	if _, ok := ParseType(string(c.Type)); !ok {
		c.Type = Classify(c.Name)
	}
	return nil
}
