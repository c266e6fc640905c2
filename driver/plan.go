package driver

import (
	"github.com/go-sif/piotest"
	"github.com/go-sif/piotest/flavor"
	"github.com/go-sif/piotest/sample"
)

// Flavor is a storage flavor as the plan sees it
type Flavor struct {
	IOType    piotest.IOType
	Name      string
	Available bool
}

// Plan is the sequence of combinations a driver runs. It is a pure function of
// its inputs, so every rank which builds it issues the same collective calls.
type Plan struct {
	Mode        piotest.Mode
	Rearrangers []piotest.Rearranger
	Flavors     []Flavor
	Samples     []int
}

// Step is one combination of a Plan
type Step struct {
	Rearranger piotest.Rearranger
	Flavor     Flavor
	Sample     int
}

// NewPlan builds the Plan of a mode. The available flavors of registry are
// planned, restricted to requested ones if there are any. A requested flavor
// which is not available is planned after them, so that it is reported rather
// than ignored.
func NewPlan(registry *flavor.Registry, mode piotest.Mode, rearrangers []piotest.Rearranger, requested []piotest.IOType, samples []int) *Plan {
	if len(rearrangers) == 0 {
		rearrangers = []piotest.Rearranger{piotest.RearrBox, piotest.RearrSubset}
	}
	if len(samples) == 0 {
		for n := 0; n < sample.Count; n++ {
			samples = append(samples, n)
		}
	}
	p := &Plan{
		Mode:        mode,
		Rearrangers: append([]piotest.Rearranger(nil), rearrangers...),
		Samples:     append([]int(nil), samples...),
	}
	planned := make(map[piotest.IOType]bool)
	for _, iotype := range registry.Filter(requested) {
		planned[iotype] = true
		p.Flavors = append(p.Flavors, Flavor{IOType: iotype, Name: flavorName(iotype), Available: true})
	}
	for _, iotype := range requested {
		if !planned[iotype] {
			planned[iotype] = true
			p.Flavors = append(p.Flavors, Flavor{IOType: iotype, Name: flavorName(iotype)})
		}
	}
	return p
}

func flavorName(iotype piotest.IOType) string {
	name, err := flavor.GetIOTypeName(iotype)
	if err != nil {
		return "unknown"
	}
	return name
}

// Steps lists every combination of the Plan in execution order
func (p *Plan) Steps() []Step {
	var res []Step
	for _, rearr := range p.Rearrangers {
		for _, f := range p.Flavors {
			for _, n := range p.Samples {
				res = append(res, Step{Rearranger: rearr, Flavor: f, Sample: n})
			}
		}
	}
	return res
}
