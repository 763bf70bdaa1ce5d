// Package ticket implements the authentication ticket: the record of an
// authenticated subject and the properties of the flow that produced it.
// Tickets are the currency passed from sign-in through token issuance,
// and are reconstructed from tokens on later requests.
package ticket

import (
	"strings"
	"time"
)

// Destination names a token kind a claim may be copied into.
type Destination string

const (
	DestinationIDToken     Destination = "id_token"
	DestinationAccessToken Destination = "token"
)

// Well-known claim types.
const (
	ClaimSubject        = "sub"
	ClaimNameIdentifier = "name_id"
)

// Reserved property names.
const (
	PropIssuedAt            = "issued_at"
	PropExpiresAt           = "expires_at"
	PropClientID            = "client_id"
	PropRedirectURI         = "redirect_uri"
	PropResource            = "resource"
	PropScope               = "scope"
	PropNonce               = "nonce"
	PropAudiences           = "audiences"
	PropClientAuthenticated = "client_authenticated"
)

// Claim is a single named assertion about the subject. Destinations
// controls which token kinds the claim is serialized into; a claim with no
// destinations goes everywhere.
type Claim struct {
	Type         string        `json:"type"`
	Value        string        `json:"value"`
	Destinations []Destination `json:"destinations,omitempty"`
}

// HasDestination reports whether the claim may be emitted into the given
// token kind. Claims without an explicit destination set are unrestricted.
func (c Claim) HasDestination(d Destination) bool {
	if len(c.Destinations) == 0 {
		return true
	}
	for _, cd := range c.Destinations {
		if cd == d {
			return true
		}
	}
	return false
}

// Ticket pairs a claims-based identity with the properties of the flow it
// was issued under. The zero value is a valid empty ticket.
type Ticket struct {
	Claims     []Claim    `json:"claims"`
	Properties Properties `json:"properties"`
}

// New returns a ticket for the given subject.
func New(subject string) *Ticket {
	t := &Ticket{}
	t.Claims = append(t.Claims, Claim{Type: ClaimSubject, Value: subject})
	return t
}

// Subject returns the sub claim, falling back to the name-identifier
// claim. Empty when neither is present.
func (t *Ticket) Subject() string {
	if c, ok := t.Claim(ClaimSubject); ok {
		return c.Value
	}
	if c, ok := t.Claim(ClaimNameIdentifier); ok {
		return c.Value
	}
	return ""
}

// Claim returns the first claim of the given type.
func (t *Ticket) Claim(typ string) (Claim, bool) {
	for _, c := range t.Claims {
		if c.Type == typ {
			return c, true
		}
	}
	return Claim{}, false
}

// AddClaim appends a claim.
func (t *Ticket) AddClaim(typ, value string, destinations ...Destination) {
	t.Claims = append(t.Claims, Claim{Type: typ, Value: value, Destinations: destinations})
}

// Copy returns a deep copy. Token minting always operates on copies so a
// write in one serializer never leaks into another token of the same
// response.
func (t *Ticket) Copy() *Ticket {
	c := &Ticket{
		Claims:     make([]Claim, len(t.Claims)),
		Properties: t.Properties.copy(),
	}
	for i, cl := range t.Claims {
		c.Claims[i] = Claim{Type: cl.Type, Value: cl.Value}
		if cl.Destinations != nil {
			c.Claims[i].Destinations = append([]Destination(nil), cl.Destinations...)
		}
	}
	return c
}

// ForDestination returns a copy holding only the claims whose destination
// set includes d. The subject and name-identifier claims are always kept:
// a token without a subject is useless to every consumer.
func (t *Ticket) ForDestination(d Destination) *Ticket {
	c := t.Copy()
	filtered := c.Claims[:0]
	for _, cl := range c.Claims {
		if cl.Type == ClaimSubject || cl.Type == ClaimNameIdentifier || cl.HasDestination(d) {
			filtered = append(filtered, cl)
		}
	}
	c.Claims = filtered
	return c
}

// Properties is an ordered string map carrying the reserved flow
// properties alongside anything the host application stores.
type Properties struct {
	entries []propEntry
}

type propEntry struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Get returns the named property, or "" when absent.
func (p *Properties) Get(name string) string {
	for _, e := range p.entries {
		if e.Name == name {
			return e.Value
		}
	}
	return ""
}

// Has reports presence of the named property.
func (p *Properties) Has(name string) bool {
	for _, e := range p.entries {
		if e.Name == name {
			return true
		}
	}
	return false
}

// Set stores the property, preserving insertion order for new names.
// The client_id property is immutable once set: the binding between a
// ticket and the client it was issued to must survive the whole flow.
func (p *Properties) Set(name, value string) {
	if name == PropClientID && p.Has(PropClientID) {
		return
	}
	for i, e := range p.entries {
		if e.Name == name {
			p.entries[i].Value = value
			return
		}
	}
	p.entries = append(p.entries, propEntry{Name: name, Value: value})
}

// Delete removes the property. client_id cannot be removed once set.
func (p *Properties) Delete(name string) {
	if name == PropClientID {
		return
	}
	for i, e := range p.entries {
		if e.Name == name {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			return
		}
	}
}

// Each calls fn for every property in order.
func (p *Properties) Each(fn func(name, value string)) {
	for _, e := range p.entries {
		fn(e.Name, e.Value)
	}
}

func (p Properties) copy() Properties {
	c := Properties{entries: make([]propEntry, len(p.entries))}
	copy(c.entries, p.entries)
	return c
}

// Typed property views.

func (p *Properties) IssuedAt() time.Time  { return parseTime(p.Get(PropIssuedAt)) }
func (p *Properties) ExpiresAt() time.Time { return parseTime(p.Get(PropExpiresAt)) }

func (p *Properties) SetIssuedAt(t time.Time)  { p.Set(PropIssuedAt, formatTime(t)) }
func (p *Properties) SetExpiresAt(t time.Time) { p.Set(PropExpiresAt, formatTime(t)) }

// ClearLifetime removes issued-at and expires-at, so a derived artifact
// (an authorization code) gets its own lifetime rather than inheriting
// the ticket's.
func (p *Properties) ClearLifetime() {
	p.Delete(PropIssuedAt)
	p.Delete(PropExpiresAt)
}

func (p *Properties) ClientID() string    { return p.Get(PropClientID) }
func (p *Properties) RedirectURI() string { return p.Get(PropRedirectURI) }
func (p *Properties) Resource() string    { return p.Get(PropResource) }
func (p *Properties) Scope() string       { return p.Get(PropScope) }
func (p *Properties) Nonce() string       { return p.Get(PropNonce) }

func (p *Properties) SetClientID(v string)    { p.Set(PropClientID, v) }
func (p *Properties) SetRedirectURI(v string) { p.Set(PropRedirectURI, v) }
func (p *Properties) SetResource(v string)    { p.Set(PropResource, v) }
func (p *Properties) SetScope(v string)       { p.Set(PropScope, v) }
func (p *Properties) SetNonce(v string)       { p.Set(PropNonce, v) }

// Audiences returns the space-separated audiences property as a slice.
func (p *Properties) Audiences() []string {
	return strings.Fields(p.Get(PropAudiences))
}

// SetAudiences stores the audience set, space-separated.
func (p *Properties) SetAudiences(auds []string) {
	p.Set(PropAudiences, strings.Join(auds, " "))
}

// ClientAuthenticated reports whether the issuing request carried valid
// client credentials.
func (p *Properties) ClientAuthenticated() bool {
	return p.Get(PropClientAuthenticated) == "true"
}

// SetClientAuthenticated records whether the client authenticated.
func (p *Properties) SetClientAuthenticated(v bool) {
	if v {
		p.Set(PropClientAuthenticated, "true")
	} else {
		p.Set(PropClientAuthenticated, "false")
	}
}

// Scopes returns the scope property as a token set.
func (p *Properties) Scopes() []string { return strings.Fields(p.Get(PropScope)) }

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
