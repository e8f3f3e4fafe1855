// internal/models/profile.go
package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownList          = errors.New("UNKNOWN_PROFILE_LIST")
	ErrReservedAttribute    = errors.New("RESERVED_PROFILE_ATTRIBUTE")
	ErrAttributeValueType   = errors.New("INVALID_ATTRIBUTE_VALUE_TYPE")
	ErrEntryWithoutName     = errors.New("PROFILE_ENTRY_WITHOUT_NAME")
	ErrEntryWithoutGrouping = errors.New("PROFILE_ENTRY_WITHOUT_GROUPING")
)

// ProfileList names one of the list sub-resources of a profile.
type ProfileList string

const (
	ListCompetences ProfileList = "competences"
	ListMeanings    ProfileList = "meanings"
	ListMaterials   ProfileList = "materials"
)

// ParseProfileList validates a list name coming from configuration.
func ParseProfileList(name string) (ProfileList, error) {
	switch l := ProfileList(name); l {
	case ListCompetences, ListMeanings, ListMaterials:
		return l, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownList, name)
}

// Date is a possibly partial calendar date. Zero components are unset.
type Date struct {
	Year  int `json:"year,omitempty"`
	Month int `json:"month,omitempty"`
	Day   int `json:"day,omitempty"`
}

type UserName struct {
	Prefix string `json:"prefix,omitempty"`
	First  string `json:"first,omitempty"`
	Middle string `json:"middle,omitempty"`
	Last   string `json:"last,omitempty"`
	Suffix string `json:"suffix,omitempty"`
}

// ProfileEntry is one element of a competences, meanings or materials list. Only the
// grouping field matching the list is populated.
type ProfileEntry struct {
	Name           string   `json:"name"`
	Ontology       string   `json:"ontology,omitempty"`
	Category       string   `json:"category,omitempty"`
	Classification string   `json:"classification,omitempty"`
	Level          *float64 `json:"level,omitempty"`
	Description    *string  `json:"description,omitempty"`
	Quantity       *int     `json:"quantity,omitempty"`
}

// Grouping returns the second half of the entry key for the given list.
func (e ProfileEntry) Grouping(list ProfileList) string {
	switch list {
	case ListCompetences:
		return e.Ontology
	case ListMeanings:
		return e.Category
	case ListMaterials:
		return e.Classification
	}
	return ""
}

func (e ProfileEntry) clone() ProfileEntry {
	out := e
	if e.Level != nil {
		v := *e.Level
		out.Level = &v
	}
	if e.Description != nil {
		v := *e.Description
		out.Description = &v
	}
	if e.Quantity != nil {
		v := *e.Quantity
		out.Quantity = &v
	}
	return out
}

// Profile is the remote user profile plus its three list sub-resources. Attributes the
// service does not model are kept in Extra and written back untouched.
type Profile struct {
	ID          string
	Name        *UserName
	DateOfBirth *Date
	Gender      string
	Email       string
	PhoneNumber string
	Locale      string
	Avatar      string
	Nationality string
	Occupation  string
	Extra       map[string]json.RawMessage

	Competences []ProfileEntry
	Meanings    []ProfileEntry
	Materials   []ProfileEntry
}

type profileRepr struct {
	ID          string    `json:"id"`
	Name        *UserName `json:"name,omitempty"`
	DateOfBirth *Date     `json:"dateOfBirth,omitempty"`
	Gender      string    `json:"gender,omitempty"`
	Email       string    `json:"email,omitempty"`
	PhoneNumber string    `json:"phoneNumber,omitempty"`
	Locale      string    `json:"locale,omitempty"`
	Avatar      string    `json:"avatar,omitempty"`
	Nationality string    `json:"nationality,omitempty"`
	Occupation  string    `json:"occupation,omitempty"`
}

// modelled attributes plus the list sub-resources, which travel on their own endpoints
var reservedAttributes = map[string]bool{
	"id": true, "name": true, "dateOfBirth": true, "gender": true, "email": true,
	"phoneNumber": true, "locale": true, "avatar": true, "nationality": true, "occupation": true,
	"competences": true, "meanings": true, "materials": true,
}

func (p Profile) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(profileRepr{
		ID: p.ID, Name: p.Name, DateOfBirth: p.DateOfBirth, Gender: p.Gender, Email: p.Email,
		PhoneNumber: p.PhoneNumber, Locale: p.Locale, Avatar: p.Avatar,
		Nationality: p.Nationality, Occupation: p.Occupation,
	})
	if err != nil {
		return nil, err
	}
	if len(p.Extra) == 0 {
		return known, nil
	}

	merged := make(map[string]json.RawMessage, len(p.Extra)+len(reservedAttributes))
	for k, v := range p.Extra {
		if !reservedAttributes[k] {
			merged[k] = v
		}
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(known, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		merged[k] = v
	}
	return json.Marshal(merged)
}

func (p *Profile) UnmarshalJSON(data []byte) error {
	var repr profileRepr
	if err := json.Unmarshal(data, &repr); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}

	*p = Profile{
		ID: repr.ID, Name: repr.Name, DateOfBirth: repr.DateOfBirth, Gender: repr.Gender,
		Email: repr.Email, PhoneNumber: repr.PhoneNumber, Locale: repr.Locale, Avatar: repr.Avatar,
		Nationality: repr.Nationality, Occupation: repr.Occupation,
	}
	for k, v := range all {
		if reservedAttributes[k] {
			continue
		}
		if p.Extra == nil {
			p.Extra = make(map[string]json.RawMessage)
		}
		p.Extra[k] = v
	}
	return nil
}

// SetAttribute assigns a scalar attribute by its wire name. Names the service does not
// model are stored in Extra.
func (p *Profile) SetAttribute(name string, value interface{}) error {
	if name == "dateOfBirth" {
		switch d := value.(type) {
		case Date:
			p.DateOfBirth = &d
		case *Date:
			if d == nil {
				p.DateOfBirth = nil
				return nil
			}
			cp := *d
			p.DateOfBirth = &cp
		default:
			return fmt.Errorf("%w: %s expects a date, got %T", ErrAttributeValueType, name, value)
		}
		return nil
	}

	target := p.stringAttribute(name)
	if target != nil {
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("%w: %s expects a string, got %T", ErrAttributeValueType, name, value)
		}
		*target = s
		return nil
	}

	if reservedAttributes[name] {
		return fmt.Errorf("%w: %s", ErrReservedAttribute, name)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrAttributeValueType, name, err)
	}
	if p.Extra == nil {
		p.Extra = make(map[string]json.RawMessage)
	}
	p.Extra[name] = raw
	return nil
}

// Attribute returns the current value of a scalar attribute by its wire name.
func (p *Profile) Attribute(name string) (interface{}, bool) {
	if name == "dateOfBirth" {
		if p.DateOfBirth == nil {
			return nil, false
		}
		return *p.DateOfBirth, true
	}
	if target := p.stringAttribute(name); target != nil {
		return *target, *target != ""
	}
	raw, ok := p.Extra[name]
	if !ok {
		return nil, false
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	return v, true
}

func (p *Profile) stringAttribute(name string) *string {
	switch name {
	case "gender":
		return &p.Gender
	case "email":
		return &p.Email
	case "phoneNumber":
		return &p.PhoneNumber
	case "locale":
		return &p.Locale
	case "avatar":
		return &p.Avatar
	case "nationality":
		return &p.Nationality
	case "occupation":
		return &p.Occupation
	}
	return nil
}

func (p *Profile) list(list ProfileList) (*[]ProfileEntry, error) {
	switch list {
	case ListCompetences:
		return &p.Competences, nil
	case ListMeanings:
		return &p.Meanings, nil
	case ListMaterials:
		return &p.Materials, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownList, list)
}

// Entries returns a copy of one list sub-resource.
func (p *Profile) Entries(list ProfileList) []ProfileEntry {
	entries, err := p.list(list)
	if err != nil {
		return nil
	}
	out := make([]ProfileEntry, len(*entries))
	for i, e := range *entries {
		out[i] = e.clone()
	}
	return out
}

// SetEntries replaces one list sub-resource, as read from the remote service.
func (p *Profile) SetEntries(list ProfileList, entries []ProfileEntry) error {
	target, err := p.list(list)
	if err != nil {
		return err
	}
	out := make([]ProfileEntry, len(entries))
	for i, e := range entries {
		out[i] = e.clone()
	}
	*target = out
	return nil
}

// Upsert inserts entry into the list, or overwrites the payload fields carried by entry on
// the existing element with the same name and grouping, keeping its position.
func (p *Profile) Upsert(list ProfileList, entry ProfileEntry) error {
	target, err := p.list(list)
	if err != nil {
		return err
	}
	if entry.Name == "" {
		return ErrEntryWithoutName
	}
	grouping := entry.Grouping(list)
	if grouping == "" {
		return fmt.Errorf("%w: %s in %s", ErrEntryWithoutGrouping, entry.Name, list)
	}

	entry = entry.clone()
	for i := range *target {
		existing := &(*target)[i]
		if existing.Name != entry.Name || existing.Grouping(list) != grouping {
			continue
		}
		if entry.Level != nil {
			existing.Level = entry.Level
		}
		if entry.Description != nil {
			existing.Description = entry.Description
		}
		if entry.Quantity != nil {
			existing.Quantity = entry.Quantity
		}
		return nil
	}
	*target = append(*target, entry)
	return nil
}

// Find returns the entry with the given key.
func (p *Profile) Find(list ProfileList, name, grouping string) (ProfileEntry, bool) {
	entries, err := p.list(list)
	if err != nil {
		return ProfileEntry{}, false
	}
	for _, e := range *entries {
		if e.Name == name && e.Grouping(list) == grouping {
			return e.clone(), true
		}
	}
	return ProfileEntry{}, false
}

// Clone returns a deep copy.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	out := *p
	if p.Name != nil {
		n := *p.Name
		out.Name = &n
	}
	if p.DateOfBirth != nil {
		d := *p.DateOfBirth
		out.DateOfBirth = &d
	}
	if p.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(p.Extra))
		for k, v := range p.Extra {
			out.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	out.Competences = p.Entries(ListCompetences)
	out.Meanings = p.Entries(ListMeanings)
	out.Materials = p.Entries(ListMaterials)
	return &out
}

// NewEntry builds an entry keyed for the given list.
func NewEntry(list ProfileList, name, grouping string) ProfileEntry {
	e := ProfileEntry{Name: name}
	switch list {
	case ListCompetences:
		e.Ontology = grouping
	case ListMeanings:
		e.Category = grouping
	case ListMaterials:
		e.Classification = grouping
	}
	return e
}

func Float64(v float64) *float64 { return &v }
func String(v string) *string    { return &v }
func Int(v int) *int             { return &v }
