package meta

import (
	"context"
	"fmt"

	"github.com/viant/afs"
	"github.com/viant/afs/storage"
	"github.com/viant/afs/url"
	"gopkg.in/yaml.v3"
)

// Service loads YAML documents from any afs supported location (local files,
// embedded filesystems, cloud storage) and expands ${env.KEY} expressions
// before decoding.
type Service struct {
	fs      afs.Service
	baseURL string
	options []storage.Option
}

// New creates a meta service. Relative locations are resolved against
// baseURL when it is not empty.
func New(fs afs.Service, baseURL string, options ...storage.Option) *Service {
	if fs == nil {
		fs = afs.New()
	}
	return &Service{fs: fs, baseURL: baseURL, options: options}
}

// URL resolves location against the base URL.
func (s *Service) URL(location string) string {
	if s.baseURL != "" && url.IsRelative(location) {
		return url.Join(s.baseURL, location)
	}
	return location
}

// Download returns the content at location with environment expressions
// expanded.
func (s *Service) Download(ctx context.Context, location string) ([]byte, error) {
	data, err := s.download(ctx, location)
	if err != nil {
		return nil, err
	}
	return []byte(expandEnv(string(data))), nil
}

func (s *Service) download(ctx context.Context, location string) ([]byte, error) {
	URL := s.URL(location)
	data, err := s.fs.DownloadWithURL(ctx, URL, s.options...)
	if err != nil {
		return nil, fmt.Errorf("failed to download %v: %w", URL, err)
	}
	return data, nil
}

// Load downloads location and decodes its YAML content into target.
// Expressions are expanded once; values that themselves look like
// expressions are kept verbatim.
func (s *Service) Load(ctx context.Context, location string, target interface{}) error {
	data, err := s.download(ctx, location)
	if err != nil {
		return err
	}
	return Decode(data, target)
}

// Decode expands environment expressions in data and decodes it as YAML.
func Decode(data []byte, target interface{}) error {
	if err := yaml.Unmarshal([]byte(expandEnv(string(data))), target); err != nil {
		return fmt.Errorf("failed to decode yaml: %w", err)
	}
	return nil
}
