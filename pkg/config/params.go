package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/labring/testreport/pkg/client"
	"github.com/labring/testreport/pkg/common"
)

const (
	DefaultBatchLogsSize    = 10
	DefaultReportingTimeout = 300
)

// TagSet is a de-duplicated, order-preserving set of launch tags. In YAML it is
// either a list or a single string of tags separated by ';'.
type TagSet []string

// ParseTags splits a ';'-separated tag string
func ParseTags(s string) TagSet {
	var tags TagSet
	seen := make(map[string]struct{})
	for _, tag := range strings.Split(s, ";") {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	return tags
}

// UnmarshalYAML implements yaml.Unmarshaler
func (t *TagSet) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*t = ParseTags(node.Value)
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*t = ParseTags(strings.Join(list, ";"))
		return nil
	default:
		return fmt.Errorf("tags: expected string or list, got %s", node.Tag)
	}
}

// ListenerParameters configures how a test run is reported
type ListenerParameters struct {
	Description string      `yaml:"description"`
	UUID        string      `yaml:"uuid"`
	Endpoint    string      `yaml:"endpoint"`
	Project     string      `yaml:"project"`
	Launch      string      `yaml:"launch"`
	Mode        common.Mode `yaml:"mode"`
	Tags        TagSet      `yaml:"tags"`
	Enable      bool        `yaml:"enable"`
	// SkippedAnIssue marks skipped items as defects. When false they are sent as NOT_ISSUE.
	SkippedAnIssue bool `yaml:"skipped_an_issue"`
	BatchLogsSize  int  `yaml:"batch_size_logs"`
	ConvertImage   bool `yaml:"convert_image"`
	// ReportingTimeoutSeconds bounds each collector request and the final launch drain
	ReportingTimeoutSeconds int    `yaml:"reporting_timeout"`
	Keystore                string `yaml:"keystore"`
	KeystorePassword        string `yaml:"keystore_password"`
	Rerun                   bool   `yaml:"rerun"`
}

// NewListenerParameters returns the default parameters
func NewListenerParameters() *ListenerParameters {
	return &ListenerParameters{
		Mode:                    common.ModeDefault,
		Enable:                  true,
		SkippedAnIssue:          true,
		BatchLogsSize:           DefaultBatchLogsSize,
		ConvertImage:            false,
		ReportingTimeoutSeconds: DefaultReportingTimeout,
	}
}

// LoadListenerParameters reads defaults, then the YAML file at path (if any),
// then RP_* environment overrides
func LoadListenerParameters(path string) (*ListenerParameters, error) {
	p := NewListenerParameters()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read parameters file: %w", err)
		}
		if err := yaml.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("failed to parse parameters file %s: %w", path, err)
		}
	}

	p.applyEnv(os.LookupEnv)
	p.normalize()
	return p, nil
}

func (p *ListenerParameters) applyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			slog.Warn("invalid boolean parameter, keeping current value", slog.String("key", key), slog.String("value", v))
			return
		}
		*dst = b
	}
	integer := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			slog.Warn("invalid integer parameter, keeping current value", slog.String("key", key), slog.String("value", v))
			return
		}
		*dst = n
	}

	str("RP_DESCRIPTION", &p.Description)
	str("RP_UUID", &p.UUID)
	str("RP_ENDPOINT", &p.Endpoint)
	str("RP_PROJECT", &p.Project)
	str("RP_LAUNCH", &p.Launch)
	if v, ok := lookup("RP_MODE"); ok && v != "" {
		p.Mode = common.Mode(v)
	}
	if v, ok := lookup("RP_TAGS"); ok && v != "" {
		p.Tags = ParseTags(v)
	}
	boolean("RP_ENABLE", &p.Enable)
	boolean("RP_SKIPPED_AN_ISSUE", &p.SkippedAnIssue)
	integer("RP_BATCH_SIZE_LOGS", &p.BatchLogsSize)
	boolean("RP_CONVERT_IMAGE", &p.ConvertImage)
	integer("RP_REPORTING_TIMEOUT", &p.ReportingTimeoutSeconds)
	str("RP_KEYSTORE_RESOURCE", &p.Keystore)
	str("RP_KEYSTORE_PASSWORD", &p.KeystorePassword)
	boolean("RP_RERUN", &p.Rerun)
}

func (p *ListenerParameters) normalize() {
	p.Mode = common.ParseMode(string(p.Mode))
	if p.BatchLogsSize <= 0 {
		p.BatchLogsSize = DefaultBatchLogsSize
	}
	if p.ReportingTimeoutSeconds <= 0 {
		p.ReportingTimeoutSeconds = DefaultReportingTimeout
	}
}

// ReportingTimeout returns the reporting timeout as a duration
func (p *ListenerParameters) ReportingTimeout() time.Duration {
	if p.ReportingTimeoutSeconds <= 0 {
		return DefaultReportingTimeout * time.Second
	}
	return time.Duration(p.ReportingTimeoutSeconds) * time.Second
}

// Validate checks the parameters an enabled launch needs
func (p *ListenerParameters) Validate() error {
	if !p.Enable {
		return nil
	}
	if p.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if p.Project == "" {
		return fmt.Errorf("project is required")
	}
	if p.Launch == "" {
		return fmt.Errorf("launch name is required")
	}
	return nil
}

// ClientConfig derives the HTTP delivery client configuration
func (p *ListenerParameters) ClientConfig(logger *slog.Logger) client.Config {
	return client.Config{
		BaseURL: p.Endpoint,
		Project: p.Project,
		APIKey:  p.UUID,
		Timeout: p.ReportingTimeout(),
		CAFile:  p.Keystore,
		Logger:  logger,
	}
}
