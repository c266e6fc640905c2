package runner

import (
	"io/ioutil"

	"github.com/go-kit/log"
	"github.com/go-sif/piotest"
	"github.com/go-sif/piotest/driver"
	"github.com/go-sif/piotest/errors"
	"github.com/go-sif/piotest/flavor"
	"github.com/go-sif/piotest/sample"
	perrors "github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// Options size and select a test run. They may be loaded from YAML.
type Options struct {
	TestName        string   `yaml:"test_name"`        // prefix of every file name (default: "piotest")
	MinTasks        int      `yaml:"min_ntasks"`       // smallest acceptable world (default: 1)
	MaxTasks        int      `yaml:"max_ntasks"`       // ranks beyond this sit the run out (0: no limit)
	DimLen          [2]int   `yaml:"dim_len"`          // x and y extents of sample 2 (default: 4, 3)
	DimLen1         int      `yaml:"dim_len_1"`        // extent of sample 1 (default: 8)
	NumRecords      int      `yaml:"num_records"`      // records of sample 2 (default: 3)
	Async           bool     `yaml:"async"`            // run the async driver instead of the sync one
	ComponentCount  int      `yaml:"component_count"`  // async compute components (default: 1)
	NumIOProcs      int      `yaml:"num_io_procs"`     // async dedicated I/O ranks (default: 1)
	NumIOTasks      int      `yaml:"num_io_tasks"`     // sync ranks which also do I/O (default: all)
	Stride          int      `yaml:"stride"`           // sync distance between I/O ranks (default: 1)
	Base            int      `yaml:"base"`             // sync first I/O rank
	Rearrangers     []string `yaml:"rearrangers"`      // "box", "subset" (default: both)
	Flavors         []string `yaml:"flavors"`          // flavor names (default: every available flavor)
	Dir             string   `yaml:"dir"`              // directory for files (default: ".")
	FailUnavailable bool     `yaml:"fail_unavailable"` // an unavailable flavor fails the run instead of being skipped
	LogLevel        string   `yaml:"log_level"`        // TRACE, DEBUG, INFO, WARN or ERROR (default: INFO)
	MetricsFile     string   `yaml:"metrics_file"`     // Prometheus textfile of run metrics, one per rank

	Logger log.Logger `yaml:"-"` // overrides LogLevel
}

// CloneOptions makes a copy of an Options
func CloneOptions(opts *Options) *Options {
	res := *opts
	res.Rearrangers = append([]string(nil), opts.Rearrangers...)
	res.Flavors = append([]string(nil), opts.Flavors...)
	return &res
}

func ensureDefaultOptionsValues(opts *Options) {
	if opts.TestName == "" {
		opts.TestName = "piotest"
	}
	if opts.MinTasks == 0 {
		opts.MinTasks = 1
	}
	if opts.Dir == "" {
		opts.Dir = "."
	}
}

// LoadOptions reads Options from a YAML file. Unknown keys are an error.
func LoadOptions(path string) (*Options, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, perrors.WithMessage(err, "failed to read options")
	}
	opts := &Options{}
	if err = yaml.UnmarshalStrict(data, opts); err != nil {
		return nil, perrors.WithMessagef(err, "failed to parse options in %s", path)
	}
	return opts, nil
}

// driverOptions translates Options for the drivers, resolving names
func (o *Options) driverOptions(logger log.Logger) (driver.Options, error) {
	res := driver.Options{
		TestName:        o.TestName,
		Dir:             o.Dir,
		NumIOTasks:      o.NumIOTasks,
		Stride:          o.Stride,
		Base:            o.Base,
		ComponentCount:  o.ComponentCount,
		NumIOProcs:      o.NumIOProcs,
		FailUnavailable: o.FailUnavailable,
		Logger:          logger,
		Sizes: sample.Sizes{
			DimLen1:    o.DimLen1,
			XDimLen:    o.DimLen[0],
			YDimLen:    o.DimLen[1],
			NumRecords: o.NumRecords,
		},
	}
	for _, name := range o.Rearrangers {
		switch name {
		case piotest.RearrBox.String():
			res.Rearrangers = append(res.Rearrangers, piotest.RearrBox)
		case piotest.RearrSubset.String():
			res.Rearrangers = append(res.Rearrangers, piotest.RearrSubset)
		default:
			return res, &errors.OptionError{Option: "rearrangers", Value: name}
		}
	}
	for _, name := range o.Flavors {
		iotype, err := flavor.Parse(name)
		if err != nil {
			return res, err
		}
		res.Flavors = append(res.Flavors, iotype)
	}
	return res, nil
}
