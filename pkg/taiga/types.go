package taiga

import (
	"encoding/json"
	"strconv"
)

type StatusInfo struct {
	Name string `json:"name"`
}

// Story is a single trackable ticket. Tags arrive as [name, color] pairs; the
// color may be null.
type Story struct {
	ID              int        `json:"id"`
	Ref             int        `json:"ref"`
	Version         int        `json:"version"`
	Subject         string     `json:"subject"`
	Status          int        `json:"status"`
	StatusExtraInfo StatusInfo `json:"status_extra_info"`
	Tags            [][]string `json:"tags"`
}

// TagNames flattens the [name, color] pairs to names.
func (s Story) TagNames() []string {
	names := make([]string, 0, len(s.Tags))
	for _, tag := range s.Tags {
		if len(tag) > 0 {
			names = append(names, tag[0])
		}
	}
	return names
}

type Epic struct {
	ID              int        `json:"id"`
	Ref             int        `json:"ref"`
	Version         int        `json:"version"`
	Subject         string     `json:"subject"`
	Status          int        `json:"status"`
	StatusExtraInfo StatusInfo `json:"status_extra_info"`
}

type StoryFilter struct {
	Status *int
	Tags   []string
}

type StoryPatch struct {
	Status  *int
	Tags    []string
	Comment string
}

type EpicPatch struct {
	Status *int
	Order  *int
}

type StoryAttributes struct {
	Version int                        `json:"version"`
	Values  map[string]json.RawMessage `json:"attributes_values"`
}

// Bool reads a checkbox custom attribute; absent or non-boolean values read
// as false.
func (a StoryAttributes) Bool(attributeID int) bool {
	raw, ok := a.Values[strconv.Itoa(attributeID)]
	if !ok {
		return false
	}
	var value bool
	if err := json.Unmarshal(raw, &value); err != nil {
		return false
	}
	return value
}

type HistoryUser struct {
	Name string `json:"name"`
}

type CustomAttribute struct {
	ID    int             `json:"id"`
	Value json.RawMessage `json:"value"`
}

// HistoryDiff carries the before/after custom-attribute lists of one change.
type HistoryDiff struct {
	CustomAttributes [][]CustomAttribute `json:"custom_attributes"`
}

type HistoryEntry struct {
	User HistoryUser `json:"user"`
	Diff HistoryDiff `json:"diff"`
}

// ChangedAttribute reports whether the entry set the given checkbox attribute
// to true.
func (e HistoryEntry) ChangedAttribute(attributeID int) bool {
	if len(e.Diff.CustomAttributes) < 2 {
		return false
	}
	for _, attr := range e.Diff.CustomAttributes[1] {
		if attr.ID != attributeID {
			continue
		}
		var value bool
		if err := json.Unmarshal(attr.Value, &value); err != nil {
			return false
		}
		return value
	}
	return false
}

type authResponse struct {
	AuthToken string `json:"auth_token"`
}
