package memory

import (
	"encoding/json"
	"strings"
)

// Tag is a structured facet such as customer=042.
type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// T is shorthand for building a Tag.
func T(key, value string) Tag { return Tag{Key: key, Value: value} }

// String encodes the tag as key:value, the form used by storage and the index.
func (t Tag) String() string {
	return t.Key + ":" + t.Value
}

// ParseTag decodes a key:value string. The value may itself contain colons.
func ParseTag(s string) (Tag, error) {
	key, value, ok := strings.Cut(s, ":")
	if !ok || key == "" {
		return Tag{}, Validationf("invalid tag %q: want key:value", s)
	}
	return Tag{Key: key, Value: value}, nil
}

// ParseTags decodes a list of key:value strings.
func ParseTags(ss []string) ([]Tag, error) {
	tags := make([]Tag, 0, len(ss))
	for _, s := range ss {
		t, err := ParseTag(s)
		if err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, nil
}

// TagStrings encodes tags as key:value strings.
func TagStrings(tags []Tag) []string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = t.String()
	}
	return out
}

// DedupeTags drops repeated tags, keeping first occurrence order.
func DedupeTags(tags []Tag) []Tag {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[Tag]bool, len(tags))
	out := tags[:0:0]
	for _, t := range tags {
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// HasAllTags reports whether have contains every tag in want.
func HasAllTags(have, want []Tag) bool {
	set := make(map[Tag]bool, len(have))
	for _, t := range have {
		set[t] = true
	}
	for _, t := range want {
		if !set[t] {
			return false
		}
	}
	return true
}

// UnmarshalJSON accepts either {"key":..,"value":..} or a "key:value" string.
func (t *Tag) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := ParseTag(s)
		if err != nil {
			return err
		}
		*t = parsed
		return nil
	}
	type plain Tag
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*t = Tag(p)
	return nil
}
