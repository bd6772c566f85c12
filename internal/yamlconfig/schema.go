package yamlconfig

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/vk/labgrid/internal/config"
	"github.com/vk/labgrid/internal/model"
	"gopkg.in/yaml.v3"
)

type document struct {
	Experiment *experiment `yaml:"experiment"`
}

type experiment struct {
	Name             string              `yaml:"name"`
	Dir              string              `yaml:"dir,omitempty"`
	Repo             string              `yaml:"repo,omitempty"`
	RevisionCache    string              `yaml:"revision_cache,omitempty"`
	BenchmarksDir    string              `yaml:"benchmarks_dir,omitempty"`
	ProblemExtension string              `yaml:"problem_extension,omitempty"`
	Driver           string              `yaml:"driver,omitempty"`
	BuildCommand     []string            `yaml:"build_command,omitempty"`
	Env              map[string]string   `yaml:"env,omitempty"`
	Suite            []string            `yaml:"suite,omitempty"`
	Suites           map[string][]string `yaml:"suites,omitempty"`
	OOMExitCodes     []int               `yaml:"oom_exit_codes,omitempty"`
	TimeoutExitCodes []int               `yaml:"timeout_exit_codes,omitempty"`
	Limits           limits              `yaml:"limits,omitempty"`
	Revisions        []revision          `yaml:"revisions"`
	Configs          []algorithmConfig   `yaml:"configs"`
	Environment      *environment        `yaml:"environment,omitempty"`
	Patterns         []config.Pattern    `yaml:"patterns,omitempty"`
	Derived          []config.Derived    `yaml:"derived,omitempty"`
	DomainGroups     map[string][]string `yaml:"domain_groups,omitempty"`
	Report           report              `yaml:"report,omitempty"`
	Archive          *archive            `yaml:"archive,omitempty"`
}

// scalar keeps a YAML scalar together with its resolved tag, so that
// durations and sizes can be written as numbers or as strings.
type scalar struct {
	value string
	tag   string
}

func (s *scalar) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a scalar", n.Line)
	}
	s.value, s.tag = os.ExpandEnv(n.Value), n.ShortTag()
	return nil
}

func (s scalar) numeric() bool {
	return s.tag == "!!int" || s.tag == "!!float"
}

func (s scalar) duration(name string) (time.Duration, error) {
	if s.value == "" {
		return 0, nil
	}
	if s.numeric() {
		secs, err := strconv.ParseFloat(s.value, 64)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", name, err)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s.value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return d, nil
}

func (s scalar) memory(name string) (int64, error) {
	n, err := model.ParseMemory(s.value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return n, nil
}

type limits struct {
	WallClock scalar `yaml:"wall_clock"`
	Memory    scalar `yaml:"memory"`
}

func (l limits) translate() (model.Limits, error) {
	wall, err := l.WallClock.duration("wall_clock")
	if err != nil {
		return model.Limits{}, err
	}
	mem, err := l.Memory.memory("memory")
	if err != nil {
		return model.Limits{}, err
	}
	return model.Limits{WallClock: wall, Memory: mem}, nil
}

type revision struct {
	ID           string   `yaml:"id"`
	Nick         string   `yaml:"nick,omitempty"`
	BuildOptions []string `yaml:"build_options,omitempty"`
}

type algorithmConfig struct {
	Nick          string   `yaml:"nick"`
	Args          []string `yaml:"args,omitempty"`
	DriverOptions []string `yaml:"driver_options,omitempty"`
	Limits        limits   `yaml:"limits,omitempty"`
}

type environment struct {
	Kind              string           `yaml:"kind"`
	Processes         int              `yaml:"processes,omitempty"`
	PollInterval      scalar           `yaml:"poll_interval,omitempty"`
	Partition         string           `yaml:"partition,omitempty"`
	QOS               string           `yaml:"qos,omitempty"`
	MemoryPerCPU      string           `yaml:"memory_per_cpu,omitempty"`
	Email             string           `yaml:"email,omitempty"`
	Export            []string         `yaml:"export,omitempty"`
	Setup             []string         `yaml:"setup,omitempty"`
	Remote            string           `yaml:"remote,omitempty"`
	Binary            string           `yaml:"binary,omitempty"`
	MaxSubmitAttempts int              `yaml:"max_submit_attempts,omitempty"`
	RetryDelay        scalar           `yaml:"retry_delay,omitempty"`
	UnknownGrace      scalar           `yaml:"unknown_grace,omitempty"`
	Notifier          *config.Notifier `yaml:"notifier,omitempty"`
}

type report struct {
	Attributes  []string            `yaml:"attributes,omitempty"`
	Formats     []string            `yaml:"formats,omitempty"`
	Rename      map[string]string   `yaml:"rename,omitempty"`
	Comparisons []config.Comparison `yaml:"compare,omitempty"`
	Scatter     []scatter           `yaml:"scatter,omitempty"`
	Aggregate   *aggregate          `yaml:"aggregate,omitempty"`
}

type scatter struct {
	Attribute string `yaml:"attribute"`
	X         string `yaml:"x"`
	Y         string `yaml:"y"`
	LogScale  bool   `yaml:"log_scale,omitempty"`
	Format    string `yaml:"format,omitempty"`
}

type aggregate struct {
	GroupBy    string   `yaml:"group_by,omitempty"`
	Reductions []string `yaml:"reductions,omitempty"`
	Attributes []string `yaml:"attributes,omitempty"`
}

type archive struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix,omitempty"`
	AccessKey scalar `yaml:"access_key,omitempty"`
	SecretKey scalar `yaml:"secret_key,omitempty"`
	Region    string `yaml:"region,omitempty"`
	UseSSL    bool   `yaml:"use_ssl,omitempty"`
}
