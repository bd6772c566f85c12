package hcl

import (
	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
)

// fileRoot decodes all top-level blocks of an experiment file.
type fileRoot struct {
	Experiments []*experimentBlock `hcl:"experiment,block"`
	Remain      hcl.Body           `hcl:",remain"`
}

type experimentBlock struct {
	Name             string            `hcl:"name,label"`
	Dir              string            `hcl:"dir,optional"`
	Repo             string            `hcl:"repo,optional"`
	RevisionCache    string            `hcl:"revision_cache,optional"`
	BenchmarksDir    string            `hcl:"benchmarks_dir,optional"`
	ProblemExtension string            `hcl:"problem_extension,optional"`
	Driver           string            `hcl:"driver,optional"`
	BuildCommand     []string          `hcl:"build_command,optional"`
	Env              map[string]string `hcl:"env,optional"`
	Suite            []string          `hcl:"suite,optional"`
	OOMExitCodes     []int             `hcl:"oom_exit_codes,optional"`
	TimeoutExitCodes []int             `hcl:"timeout_exit_codes,optional"`

	Limits       *limitsBlock        `hcl:"limits,block"`
	Revisions    []*revisionBlock    `hcl:"revision,block"`
	Configs      []*configBlock      `hcl:"config,block"`
	Suites       []*suiteBlock       `hcl:"suite_set,block"`
	Environment  *environmentBlock   `hcl:"environment,block"`
	Patterns     []*patternBlock     `hcl:"pattern,block"`
	Derived      []*derivedBlock     `hcl:"derived,block"`
	DomainGroups []*domainGroupBlock `hcl:"domain_group,block"`
	Report       *reportBlock        `hcl:"report,block"`
	Archive      *archiveBlock       `hcl:"archive,block"`
}

// limitsBlock accepts numbers (seconds, bytes) or strings ("5m", "3584M").
type limitsBlock struct {
	WallClock *cty.Value `hcl:"wall_clock,optional"`
	Memory    *cty.Value `hcl:"memory,optional"`
}

type revisionBlock struct {
	ID           string   `hcl:"id,label"`
	Nick         string   `hcl:"nick,optional"`
	BuildOptions []string `hcl:"build_options,optional"`
}

type configBlock struct {
	Nick          string       `hcl:"nick,label"`
	Args          []string     `hcl:"args,optional"`
	DriverOptions []string     `hcl:"driver_options,optional"`
	Limits        *limitsBlock `hcl:"limits,block"`
}

type suiteBlock struct {
	Name      string   `hcl:"name,label"`
	Selectors []string `hcl:"selectors"`
}

type environmentBlock struct {
	Kind         string     `hcl:"kind,label"`
	Processes    int        `hcl:"processes,optional"`
	PollInterval *cty.Value `hcl:"poll_interval,optional"`

	Partition         string         `hcl:"partition,optional"`
	QOS               string         `hcl:"qos,optional"`
	MemoryPerCPU      string         `hcl:"memory_per_cpu,optional"`
	Email             string         `hcl:"email,optional"`
	Export            []string       `hcl:"export,optional"`
	Setup             []string       `hcl:"setup,optional"`
	Remote            string         `hcl:"remote,optional"`
	Binary            string         `hcl:"binary,optional"`
	MaxSubmitAttempts int            `hcl:"max_submit_attempts,optional"`
	RetryDelay        *cty.Value     `hcl:"retry_delay,optional"`
	UnknownGrace      *cty.Value     `hcl:"unknown_grace,optional"`
	Notifier          *notifierBlock `hcl:"notifier,block"`
}

type notifierBlock struct {
	URL       string `hcl:"url"`
	Path      string `hcl:"path,optional"`
	Namespace string `hcl:"namespace,optional"`
	Event     string `hcl:"event,optional"`
	Insecure  bool   `hcl:"insecure,optional"`
}

type patternBlock struct {
	Attribute string `hcl:"attribute,label"`
	Regex     string `hcl:"regex"`
	Type      string `hcl:"type,optional"`
	File      string `hcl:"file,optional"`
	All       bool   `hcl:"all,optional"`
	Required  bool   `hcl:"required,optional"`
}

type derivedBlock struct {
	Name string `hcl:"name,label"`
	Kind string `hcl:"kind"`
	A    string `hcl:"a,optional"`
	B    string `hcl:"b,optional"`
}

type domainGroupBlock struct {
	Name    string   `hcl:"name,label"`
	Domains []string `hcl:"domains"`
}

type reportBlock struct {
	Attributes []string          `hcl:"attributes,optional"`
	Formats    []string          `hcl:"formats,optional"`
	Rename     map[string]string `hcl:"rename,optional"`
	Compare    []*compareBlock   `hcl:"compare,block"`
	Scatter    []*scatterBlock   `hcl:"scatter,block"`
	Aggregate  *aggregateBlock   `hcl:"aggregate,block"`
}

type compareBlock struct {
	A     string `hcl:"a"`
	B     string `hcl:"b"`
	Label string `hcl:"label,optional"`
}

type scatterBlock struct {
	Attribute string `hcl:"attribute,label"`
	X         string `hcl:"x"`
	Y         string `hcl:"y"`
	LogScale  bool   `hcl:"log_scale,optional"`
	Format    string `hcl:"format,optional"`
}

type aggregateBlock struct {
	GroupBy    string   `hcl:"group_by,optional"`
	Reductions []string `hcl:"reductions,optional"`
	Attributes []string `hcl:"attributes,optional"`
}

type archiveBlock struct {
	Endpoint  string `hcl:"endpoint"`
	Bucket    string `hcl:"bucket"`
	Prefix    string `hcl:"prefix,optional"`
	AccessKey string `hcl:"access_key,optional"`
	SecretKey string `hcl:"secret_key,optional"`
	Region    string `hcl:"region,optional"`
	UseSSL    bool   `hcl:"use_ssl,optional"`
}
