package scraper

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// SelectorConfig holds every markup marker the scraper depends on. The site
// changes its DOM frequently, so these live in selectors.json rather than code.
type SelectorConfig struct {
	Profile ProfileSelectors `json:"profile" yaml:"profile" toml:"profile"`
	Post    PostSelectors    `json:"post" yaml:"post" toml:"post"`
}

type ProfileSelectors struct {
	Header      string `json:"header" yaml:"header" toml:"header"`                   // e.g., "div[data-testid='UserName']"
	AccountName string `json:"account_name" yaml:"account_name" toml:"account_name"` // relative to Header
	Handle      string `json:"handle" yaml:"handle" toml:"handle"`                   // relative to Header
	Followers   string `json:"followers" yaml:"followers" toml:"followers"`
	PostCount   string `json:"post_count" yaml:"post_count" toml:"post_count"`
}

type PostSelectors struct {
	Item      string `json:"item" yaml:"item" toml:"item"` // e.g., "article[data-testid='tweet']"
	IDAttr    string `json:"id_attr" yaml:"id_attr" toml:"id_attr"`
	Permalink string `json:"permalink" yaml:"permalink" toml:"permalink"`
	Text      string `json:"text" yaml:"text" toml:"text"`
	Time      string `json:"time" yaml:"time" toml:"time"`

	SocialContext  string   `json:"social_context" yaml:"social_context" toml:"social_context"`
	RepostMarkers  []string `json:"repost_markers" yaml:"repost_markers" toml:"repost_markers"` // lower-case words in SocialContext
	Quote          string   `json:"quote" yaml:"quote" toml:"quote"`
	Promoted       string   `json:"promoted" yaml:"promoted" toml:"promoted"`
	PromotedLabels []string `json:"promoted_labels" yaml:"promoted_labels" toml:"promoted_labels"` // SocialContext texts that mark a promoted post

	Engagement EngagementSelectors `json:"engagement" yaml:"engagement" toml:"engagement"`
}

type EngagementSelectors struct {
	Group  string `json:"group" yaml:"group" toml:"group"` // action bar carrying a summary aria-label
	Reply  string `json:"reply" yaml:"reply" toml:"reply"`
	Repost string `json:"repost" yaml:"repost" toml:"repost"`
	Like   string `json:"like" yaml:"like" toml:"like"`
	Views  string `json:"views" yaml:"views" toml:"views"`
	Count  string `json:"count" yaml:"count" toml:"count"` // count region inside a control
}

// LoadSelectors loads the selector configuration from a file. The format
// follows the extension: .yaml/.yml, .toml, anything else is read as JSON.
func LoadSelectors(path string) (SelectorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SelectorConfig{}, fmt.Errorf("failed to read selector config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return decodeSelectors(data, "YAML", yaml.Unmarshal)
	case ".toml":
		return decodeSelectors(data, "TOML", toml.Unmarshal)
	default:
		return LoadSelectorsFromBytes(data)
	}
}

// LoadSelectorsFromBytes parses selector configuration from raw JSON bytes.
// Fields missing from the document keep their default value.
func LoadSelectorsFromBytes(data []byte) (SelectorConfig, error) {
	return decodeSelectors(data, "JSON", json.Unmarshal)
}

func decodeSelectors(data []byte, format string, unmarshal func([]byte, any) error) (SelectorConfig, error) {
	config := DefaultSelectors()
	if err := unmarshal(data, &config); err != nil {
		return SelectorConfig{}, fmt.Errorf("failed to parse selector config %s: %w", format, err)
	}
	if config.Post.Item == "" {
		return SelectorConfig{}, fmt.Errorf("selector config is missing post.item")
	}

	return config, nil
}

// DefaultSelectors returns the fallback configuration if no JSON file is loaded.
func DefaultSelectors() SelectorConfig {
	return SelectorConfig{
		Profile: ProfileSelectors{
			Header:      "div[data-testid='UserName']",
			AccountName: "span",
			Handle:      "div[dir='ltr'] span",
			Followers:   "a[href$='/verified_followers'] span, a[href$='/followers'] span",
			PostCount:   "div[data-testid='primaryColumn'] h2[role='heading'] ~ div[dir='ltr']",
		},
		Post: PostSelectors{
			Item:           "article[data-testid='tweet']",
			IDAttr:         "data-tweet-id",
			Permalink:      "a[href*='/status/']",
			Text:           "div[data-testid='tweetText']",
			Time:           "time",
			SocialContext:  "[data-testid='socialContext']",
			RepostMarkers:  []string{"reposted", "retweeted"},
			Quote:          "div[data-testid='quoteTweet']",
			Promoted:       "div[data-testid='placementTracking']",
			PromotedLabels: []string{"Ad", "Promoted"},
			Engagement: EngagementSelectors{
				Group:  "div[role='group'][aria-label]",
				Reply:  "[data-testid='reply']",
				Repost: "[data-testid='retweet'], [data-testid='unretweet']",
				Like:   "[data-testid='like'], [data-testid='unlike']",
				Views:  "a[href$='/analytics']",
				Count:  "span[data-testid='app-text-transition-container']",
			},
		},
	}
}
