package vm

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Profiler samples the function and line executing at the end of each
// profiling interval. Samples may be read from another goroutine while the
// Proc runs.

// FunctionProfile holds the samples attributed to one function.
type FunctionProfile struct {
	Name    string
	Samples uint64 // atomic
	lines   sync.Map
}

// Profiler manages sample counts for all functions of a program.
type Profiler struct {
	functions sync.Map // name -> *FunctionProfile
	total     uint64
}

// NewProfiler creates an empty profiler.
func NewProfiler() *Profiler {
	return &Profiler{}
}

// RecordSample attributes one sample to fn at line.
func (p *Profiler) RecordSample(fn string, line int) {
	val, _ := p.functions.LoadOrStore(fn, &FunctionProfile{Name: fn})
	profile := val.(*FunctionProfile)
	atomic.AddUint64(&profile.Samples, 1)
	atomic.AddUint64(&p.total, 1)

	c, _ := profile.lines.LoadOrStore(line, new(uint64))
	atomic.AddUint64(c.(*uint64), 1)
}

// Function returns the profile of fn, or nil if it was never sampled.
func (p *Profiler) Function(fn string) *FunctionProfile {
	if val, ok := p.functions.Load(fn); ok {
		return val.(*FunctionProfile)
	}
	return nil
}

// Lines returns the samples of the function by source line.
func (f *FunctionProfile) Lines() map[int]uint64 {
	out := make(map[int]uint64)
	f.lines.Range(func(key, value interface{}) bool {
		out[key.(int)] = atomic.LoadUint64(value.(*uint64))
		return true
	})
	return out
}

// ProfilerStats holds aggregate profiling statistics.
type ProfilerStats struct {
	Functions    int    // number of functions sampled
	TotalSamples uint64 // samples over all functions
}

// Stats returns aggregate profiling statistics.
func (p *Profiler) Stats() ProfilerStats {
	var stats ProfilerStats
	p.functions.Range(func(key, value interface{}) bool {
		stats.Functions++
		return true
	})
	stats.TotalSamples = atomic.LoadUint64(&p.total)
	return stats
}

// FunctionSamples pairs a function with its sample count.
type FunctionSamples struct {
	Name    string
	Samples uint64
}

// TopFunctions returns the n most sampled functions, hottest first.
func (p *Profiler) TopFunctions(n int) []FunctionSamples {
	var all []FunctionSamples
	p.functions.Range(func(key, value interface{}) bool {
		profile := value.(*FunctionProfile)
		all = append(all, FunctionSamples{profile.Name, atomic.LoadUint64(&profile.Samples)})
		return true
	})
	sort.Slice(all, func(i, j int) bool {
		if all[i].Samples != all[j].Samples {
			return all[i].Samples > all[j].Samples
		}
		return all[i].Name < all[j].Name
	})
	if n < len(all) {
		all = all[:n]
	}
	return all
}

// Reset clears all profiling data.
func (p *Profiler) Reset() {
	p.functions = sync.Map{}
	atomic.StoreUint64(&p.total, 0)
}
