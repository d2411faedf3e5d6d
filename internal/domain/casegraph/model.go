package casegraph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Case types used across the enikshay case graph.
const (
	TypePerson           = "person"
	TypeOccurrence       = "occurrence"
	TypeEpisode          = "episode"
	TypeTest             = "test"
	TypeAdherence        = "adherence"
	TypeVoucher          = "voucher"
	TypeDrugResistance   = "drug_resistance"
	TypeReferral         = "referral"
	TypeInvestigation    = "investigation"
	TypeTrail            = "trail"
	TypeLabReferral      = "lab_referral"
	TypeDRTBHIVReferral  = "drtb-hiv-referral"
	TypePrescription     = "prescription"
	TypePrescriptionItem = "prescription_item"
	TypeSecondaryOwner   = "secondary_owner"
)

// Episode sub-types.
const (
	EpisodeConfirmedTB   = "confirmed_tb"
	EpisodeConfirmedDRTB = "confirmed_drtb"
)

// ArchivedOwnerID is the owner id assigned to archived cases.
const ArchivedOwnerID = "_archive_"

// Index relationships.
const (
	RelationshipExtension = "extension"
	RelationshipChild     = "child"
)

// Index is a directed edge from the owning case to ReferencedID.
type Index struct {
	Identifier     string `json:"identifier"`
	ReferencedID   string `json:"referenced_id"`
	ReferencedType string `json:"referenced_type"`
	Relationship   string `json:"relationship"`
}

// Case is a read-only view of an externally managed case record.
type Case struct {
	CaseID     string     `json:"case_id"`
	Domain     string     `json:"domain"`
	Type       string     `json:"type"`
	Closed     bool       `json:"closed"`
	Deleted    bool       `json:"deleted,omitempty"`
	OwnerID    string     `json:"owner_id"`
	OpenedOn   time.Time  `json:"opened_on"`
	ClosedOn   *time.Time `json:"closed_on,omitempty"`
	ModifiedOn time.Time  `json:"modified_on"`
	Indices    []Index    `json:"indices,omitempty"`
	Properties Properties `json:"properties"`
}

// Property returns the named dynamic property, or "" when unset.
func (c *Case) Property(name string) string {
	return c.Properties.Value(name)
}

// LookupProperty returns the named dynamic property and whether it is set.
func (c *Case) LookupProperty(name string) (string, bool) {
	return c.Properties.Get(name)
}

// DynamicProperties returns a copy of the property bag as a plain map.
func (c *Case) DynamicProperties() map[string]string {
	return c.Properties.Map()
}

func (c *Case) EpisodeType() string   { return c.Property("episode_type") }
func (c *Case) IsActive() bool        { return c.Property("is_active") == "yes" }
func (c *Case) AdherenceDate() string { return c.Property("adherence_date") }
func (c *Case) Sensitivity() string   { return c.Property("sensitivity") }
func (c *Case) DrugID() string        { return c.Property("drug_id") }

// ParentIDs returns the referenced ids of the case's indices, in index order.
func (c *Case) ParentIDs() []string {
	ids := make([]string, 0, len(c.Indices))
	for _, idx := range c.Indices {
		ids = append(ids, idx.ReferencedID)
	}
	return ids
}

// UpdateInstruction is a proposed change handed to a BulkUpdater.
type UpdateInstruction struct {
	CaseID     string            `json:"case_id"`
	Properties map[string]string `json:"properties"`
	Close      bool              `json:"close"`
}

// Properties is an insertion-ordered string to string mapping.
type Properties struct {
	keys   []string
	values map[string]string
}

// NewProperties builds a property bag from alternating key, value pairs.
func NewProperties(kv ...string) Properties {
	var p Properties
	for i := 0; i+1 < len(kv); i += 2 {
		p.Set(kv[i], kv[i+1])
	}
	return p
}

// PropertiesFromMap builds a property bag from m. Keys are added in the order given
// by keys; keys of m not listed are appended in sorted order.
func PropertiesFromMap(m map[string]string, keys ...string) Properties {
	var p Properties
	for _, k := range keys {
		if v, ok := m[k]; ok {
			p.Set(k, v)
		}
	}
	for _, k := range sortedKeys(m) {
		if _, ok := p.values[k]; !ok {
			p.Set(k, m[k])
		}
	}
	return p
}

func (p *Properties) Set(key, value string) {
	if p.values == nil {
		p.values = make(map[string]string)
	}
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
}

func (p Properties) Get(key string) (string, bool) {
	v, ok := p.values[key]
	return v, ok
}

func (p Properties) Value(key string) string {
	return p.values[key]
}

func (p Properties) Len() int { return len(p.keys) }

// Keys returns the keys in insertion order.
func (p Properties) Keys() []string {
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

func (p Properties) Map() map[string]string {
	out := make(map[string]string, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

// Merge returns a copy of p with updates applied on top.
func (p Properties) Merge(updates map[string]string) Properties {
	out := PropertiesFromMap(p.values, p.keys...)
	for _, k := range sortedKeys(updates) {
		out.Set(k, updates[k])
	}
	return out
}

func (p Properties) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range p.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(p.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (p *Properties) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*p = Properties{}
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("properties: expected object, got %v", tok)
	}
	var out Properties
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := kt.(string)
		if !ok {
			return fmt.Errorf("properties: expected string key, got %v", kt)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		out.Set(key, rawToString(raw))
	}
	*p = out
	return nil
}

// rawToString flattens loosely typed JSON values: strings are unquoted, null becomes
// "", and numbers or booleans keep their literal text.
func rawToString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	if string(raw) == "null" {
		return ""
	}
	return string(raw)
}
