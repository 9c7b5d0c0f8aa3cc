package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"family_dash/internal/model"
)

type feedsFile struct {
	Feeds []feedEntry `yaml:"feeds"`
}

type feedEntry struct {
	Name   string `yaml:"name"`
	URL    string `yaml:"url"`
	Color  string `yaml:"color"`
	Type   string `yaml:"type"`
	Active *bool  `yaml:"active"`
}

// LoadFeeds reads the YAML feed seed file at path. Entries default to the
// person type, the default color and active.
func LoadFeeds(path string) ([]model.Feed, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("read feeds file: %w", err)
	}

	var file feedsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse feeds file: %w", err)
	}

	feeds := make([]model.Feed, 0, len(file.Feeds))
	for i, e := range file.Feeds {
		typ, err := model.ParseFeedType(e.Type)
		if err != nil {
			return nil, fmt.Errorf("feeds[%d]: %w", i, err)
		}
		f := model.Feed{Name: e.Name, URL: e.URL, Color: e.Color, Type: typ, Active: true}
		if e.Active != nil {
			f.Active = *e.Active
		}
		f.Normalize()
		if err := f.Validate(); err != nil {
			return nil, fmt.Errorf("feeds[%d]: %w", i, err)
		}
		feeds = append(feeds, f)
	}
	return feeds, nil
}
