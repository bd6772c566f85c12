package config

import (
	"time"

	"github.com/vk/labgrid/internal/model"
)

// Model is the unified, format-agnostic representation of an experiment file.
type Model struct {
	// Path is the file the model was loaded from. Relative paths inside the
	// model are resolved against its directory.
	Path       string
	Experiment *Experiment
}

// Experiment is the format-agnostic representation of the `experiment` block.
type Experiment struct {
	Name             string
	Dir              string
	Repo             string
	RevisionCache    string
	BenchmarksDir    string
	ProblemExtension string
	Driver           string
	BuildCommand     []string
	Env              map[string]string

	Revisions []Revision
	Configs   []AlgorithmConfig
	Suite     []string
	Suites    map[string][]string

	Limits           model.Limits
	OOMExitCodes     []int
	TimeoutExitCodes []int

	Environment Environment

	Patterns     []Pattern
	Derived      []Derived
	DomainGroups map[string][]string

	Report  Report
	Archive *Archive
}

// Revision is the format-agnostic representation of a `revision` block.
type Revision struct {
	ID           string
	Nick         string
	BuildOptions []string
}

// AlgorithmConfig is the format-agnostic representation of a `config` block.
type AlgorithmConfig struct {
	Nick          string
	Args          []string
	DriverOptions []string
	Limits        model.Limits
}

// Environment kinds.
const (
	EnvLocal = "local"
	EnvSlurm = "slurm"
)

// Environment selects and configures where runs execute.
type Environment struct {
	Kind string
	// Processes bounds the local worker pool. Zero means one per CPU.
	Processes    int
	PollInterval time.Duration
	Slurm        *Slurm
}

// Slurm configures the batch cluster environment.
type Slurm struct {
	Partition         string
	QOS               string
	MemoryPerCPU      string
	Email             string
	Export            []string
	Setup             []string
	Remote            string
	Binary            string
	MaxSubmitAttempts int
	RetryDelay        time.Duration
	// UnknownGrace bounds how long a job the scheduler no longer knows is
	// waited for before it counts as lost.
	UnknownGrace time.Duration
	Notifier     *Notifier
}

// Notifier configures completion callbacks over socket.io.
type Notifier struct {
	URL       string
	Path      string
	Namespace string
	Event     string
	Insecure  bool
}

// Pattern is a regex-based attribute extractor.
type Pattern struct {
	Attribute string
	Regex     string
	// Type is one of "int", "float" or "string".
	Type     string
	File     string
	All      bool
	Required bool
}

// Derived kinds.
const (
	DerivedRatio              = "ratio"
	DerivedDifference         = "difference"
	DerivedEvaluationsPerTime = "evaluations_per_time"
)

// Derived is an attribute computed from other attributes while fetching.
type Derived struct {
	Name string
	Kind string
	A    string
	B    string
}

// Report configures the report step.
type Report struct {
	Attributes  []string
	Formats     []string
	Comparisons []Comparison
	Scatter     []Scatter
	Aggregate   *Aggregate
	Rename      map[string]string
}

// Comparison pairs two algorithms in comparison tables.
type Comparison struct {
	A     string
	B     string
	Label string
}

// Scatter describes one scatter plot.
type Scatter struct {
	Attribute string
	X         string
	Y         string
	LogScale  bool
	Format    string
}

// Aggregate configures per-domain reductions.
type Aggregate struct {
	GroupBy    string
	Reductions []string
	Attributes []string
}

// Archive configures the object storage upload of the evaluation directory.
type Archive struct {
	Endpoint  string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}
