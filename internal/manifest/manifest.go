// Package manifest loads endpoint definitions from YAML files so a set of
// virtual webhooks can be seeded or kept in version control.
package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shohag/hookrelay/internal/models"
)

var ErrEmptyManifest = errors.New("manifest defines no endpoints")

type Manifest struct {
	Endpoints []EndpointSpec `yaml:"endpoints"`
}

type EndpointSpec struct {
	Name           string    `yaml:"name"`
	Path           string    `yaml:"path"`
	Method         string    `yaml:"method"`
	Enabled        *bool     `yaml:"enabled"`
	ResponseStatus int       `yaml:"responseStatus"`
	ResponseData   yaml.Node `yaml:"responseData"`
	Auth           *AuthSpec `yaml:"auth"`
}

type AuthSpec struct {
	Type  models.AuthType `yaml:"type"`
	Token string          `yaml:"token"`
}

// Store is what Apply needs from storage.
type Store interface {
	GetEndpointByPath(ctx context.Context, path string) (*models.Endpoint, error)
	CreateEndpoint(ctx context.Context, ep *models.Endpoint) error
	UpdateEndpoint(ctx context.Context, ep *models.Endpoint) error
}

func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if len(m.Endpoints) == 0 {
		return nil, ErrEmptyManifest
	}
	return &m, nil
}

// SetResponseJSON sets the reply body from a JSON document given as text.
func (s *EndpointSpec) SetResponseJSON(doc string) {
	s.ResponseData = yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: doc}
}

// Endpoint converts a spec into a validated endpoint with fresh identity.
func (s *EndpointSpec) Endpoint(now time.Time) (*models.Endpoint, error) {
	data, err := responseData(&s.ResponseData)
	if err != nil {
		return nil, fmt.Errorf("endpoint %q: %w", s.Path, err)
	}

	ep := &models.Endpoint{
		ID:             models.NewID("ep"),
		Name:           s.Name,
		Path:           strings.Trim(s.Path, "/"),
		Method:         strings.ToUpper(s.Method),
		Enabled:        true,
		ResponseStatus: s.ResponseStatus,
		ResponseData:   data,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if ep.Name == "" {
		ep.Name = ep.Path
	}
	if ep.Method == "" {
		ep.Method = models.MethodAny
	}
	if ep.ResponseStatus == 0 {
		ep.ResponseStatus = 200
	}
	if s.Enabled != nil {
		ep.Enabled = *s.Enabled
	}
	if s.Auth != nil {
		ep.AuthEnabled = true
		ep.AuthType = s.Auth.Type
		ep.AuthToken = s.Auth.Token
	}

	if err := ep.Validate(); err != nil {
		return nil, fmt.Errorf("endpoint %q: %w", s.Path, err)
	}
	return ep, nil
}

type Result struct {
	Created []string
	Updated []string
}

// Apply upserts every endpoint in m by path. Existing endpoints keep their id
// and capture history.
func Apply(ctx context.Context, store Store, m *Manifest) (*Result, error) {
	now := time.Now().UTC()
	res := &Result{}

	for i := range m.Endpoints {
		ep, err := m.Endpoints[i].Endpoint(now)
		if err != nil {
			return res, err
		}

		existing, err := store.GetEndpointByPath(ctx, ep.Path)
		if err != nil {
			return res, fmt.Errorf("looking up %q: %w", ep.Path, err)
		}
		if existing == nil {
			if err := store.CreateEndpoint(ctx, ep); err != nil {
				return res, fmt.Errorf("creating %q: %w", ep.Path, err)
			}
			res.Created = append(res.Created, ep.Path)
			continue
		}

		ep.ID = existing.ID
		ep.CreatedAt = existing.CreatedAt
		if err := store.UpdateEndpoint(ctx, ep); err != nil {
			return res, fmt.Errorf("updating %q: %w", ep.Path, err)
		}
		res.Updated = append(res.Updated, ep.Path)
	}
	return res, nil
}

// responseData turns the YAML value into JSON, keeping mapping key order. A
// string value is taken to be a JSON document.
func responseData(n *yaml.Node) (json.RawMessage, error) {
	if n.Kind == 0 {
		return models.CoerceResponseData(nil)
	}
	if n.Kind == yaml.ScalarNode && n.Tag == "!!str" {
		return models.CoerceResponseData(n.Value)
	}
	var buf bytes.Buffer
	if err := writeJSON(&buf, n); err != nil {
		return nil, err
	}
	return models.CoerceResponseData(json.RawMessage(buf.Bytes()))
}

func writeJSON(buf *bytes.Buffer, n *yaml.Node) error {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			buf.WriteString("null")
			return nil
		}
		return writeJSON(buf, n.Content[0])
	case yaml.AliasNode:
		return writeJSON(buf, n.Alias)
	case yaml.MappingNode:
		buf.WriteByte('{')
		for i := 0; i+1 < len(n.Content); i += 2 {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, _ := json.Marshal(n.Content[i].Value)
			buf.Write(key)
			buf.WriteByte(':')
			if err := writeJSON(buf, n.Content[i+1]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case yaml.SequenceNode:
		buf.WriteByte('[')
		for i, c := range n.Content {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSON(buf, c); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		var v any
		if err := n.Decode(&v); err != nil {
			return err
		}
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("responseData: %w", err)
		}
		buf.Write(b)
	}
	return nil
}
