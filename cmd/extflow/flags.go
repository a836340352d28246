package main

import (
	units "github.com/docker/go-units"
	"github.com/pingcap/errors"
	"github.com/spf13/pflag"
)

// byteSize is a pflag.Value accepting human-readable sizes like "256MiB" or
// "2MiB", parsed and re-rendered with docker/go-units. Every memory/block
// size flag across this CLI binds one, so the parsing lives in one place
// instead of being re-validated by hand at each RunE.
type byteSize int64

func newByteSize(defaultValue string) *byteSize {
	n, err := units.RAMInBytes(defaultValue)
	if err != nil {
		panic("extflow: invalid built-in default size " + defaultValue)
	}
	b := byteSize(n)
	return &b
}

func (b *byteSize) String() string { return units.BytesSize(float64(*b)) }

func (b *byteSize) Set(s string) error {
	n, err := units.RAMInBytes(s)
	if err != nil {
		return errors.Annotatef(err, "invalid size %q", s)
	}
	*b = byteSize(n)
	return nil
}

func (b *byteSize) Type() string { return "byteSize" }

func (b *byteSize) Int64() int64 { return int64(*b) }

// byteSizeFlag registers name on flags with the given default and help
// text, returning the bound value.
func byteSizeFlag(flags *pflag.FlagSet, name, defaultValue, usage string) *byteSize {
	v := newByteSize(defaultValue)
	flags.Var(v, name, usage)
	return v
}
