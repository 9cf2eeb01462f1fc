package secretstore

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Well-known payload fields
const (
	FieldHost              = "host"
	FieldPort              = "port"
	FieldUsername          = "username"
	FieldPassword          = "password"
	FieldDatabase          = "database"
	FieldDBName            = "dbname"
	FieldClusterIdentifier = "dbClusterIdentifier"
	FieldClusterIDAlt      = "clusterIdentifier"
)

// Payload is the decoded JSON body of a secret version
type Payload map[string]interface{}

// DecodePayload parses a secret string into a Payload
func DecodePayload(secretString string) (Payload, error) {
	var p Payload
	dec := json.NewDecoder(strings.NewReader(secretString))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("secret value is not a JSON object: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("secret value is not a JSON object")
	}
	return p, nil
}

// Encode renders the payload as the JSON secret string
func (p Payload) Encode() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode secret payload: %w", err)
	}
	return string(data), nil
}

// Clone returns a shallow copy; nested values are shared
func (p Payload) Clone() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Has reports whether the field is present, even if empty
func (p Payload) Has(field string) bool {
	_, ok := p[field]
	return ok
}

// String returns a field as a string, or "" when absent or null
func (p Payload) String(field string) string {
	switch v := p[field].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func (p Payload) Host() string     { return p.String(FieldHost) }
func (p Payload) Username() string { return p.String(FieldUsername) }
func (p Payload) Password() string { return p.String(FieldPassword) }

// Database returns the "database" field, falling back to "dbname"
func (p Payload) Database() string {
	if db := p.String(FieldDatabase); db != "" {
		return db
	}
	return p.String(FieldDBName)
}

// ClusterIdentifier returns "dbClusterIdentifier", falling back to "clusterIdentifier"
func (p Payload) ClusterIdentifier() string {
	if id := p.String(FieldClusterIdentifier); id != "" {
		return id
	}
	return p.String(FieldClusterIDAlt)
}

// Port returns the port as an int. It accepts JSON numbers and numeric strings.
func (p Payload) Port() (int, error) {
	raw := p.String(FieldPort)
	if raw == "" {
		return 0, fmt.Errorf("port is missing")
	}
	port, err := strconv.Atoi(raw)
	if err != nil {
		f, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil || f != float64(int(f)) {
			return 0, fmt.Errorf("invalid port number: %s", raw)
		}
		port = int(f)
	}
	if port <= 0 || port > 65535 {
		return 0, fmt.Errorf("invalid port number: %d", port)
	}
	return port, nil
}
