package xar

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/meigma/xar/internal/checksum"
	"github.com/meigma/xar/internal/codec"
)

// Option keys.
const (
	OptOwnership       = "ownership"
	OptTOCChecksum     = "toc-cksum"
	OptFileChecksum    = "file-chksum"
	OptCompression     = "compression"
	OptCompressionArg  = "compression-arg"
	OptReadSize        = "rsize"
	OptCoalesce        = "coalesce"
	OptLinkSame        = "linksame"
	OptPropInclude     = "prop-include"
	OptPropExclude     = "prop-exclude"
	OptSaveSUID        = "savesuid"
	OptRecompress      = "recompress"
	OptExtractStdout   = "extract-stdout"
	OptStripComponents = "strip-components"
	OptRFC6713         = "rfc6713-format"
	OptLibraryVersion  = "xar-library-version"
)

// Values of OptOwnership.
const (
	OwnershipSymbolic = "symbolic"
	OwnershipNumeric  = "numeric"
)

// LibraryVersion is reported by OptLibraryVersion.
const LibraryVersion = "0x01060180"

const defaultReadSize = 4096

var multiValued = map[string]bool{
	OptPropInclude: true,
	OptPropExclude: true,
}

var boolOptions = map[string]bool{
	OptCoalesce:      true,
	OptLinkSame:      true,
	OptSaveSUID:      true,
	OptRecompress:    true,
	OptExtractStdout: true,
	OptRFC6713:       true,
}

// options is the string option mapping of one archive.
type options struct {
	keys   []string
	values map[string][]string
}

func newOptions() *options {
	o := &options{values: make(map[string][]string)}
	o.put(OptOwnership, OwnershipSymbolic)
	o.put(OptTOCChecksum, checksum.SHA1.String())
	o.put(OptFileChecksum, checksum.SHA1.String())
	o.put(OptCompression, codec.Gzip.String())
	o.put(OptReadSize, strconv.Itoa(defaultReadSize))
	o.put(OptCoalesce, "false")
	o.put(OptLinkSame, "false")
	o.put(OptSaveSUID, "false")
	o.put(OptRecompress, "false")
	o.put(OptExtractStdout, "false")
	o.put(OptStripComponents, "0")
	o.put(OptRFC6713, "false")
	return o
}

func (o *options) put(key, value string) {
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = []string{value}
}

func (o *options) add(key, value string) {
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = append(o.values[key], value)
}

func (o *options) get(key string) (string, bool) {
	v := o.values[key]
	if len(v) == 0 {
		return "", false
	}
	return v[len(v)-1], true
}

func (o *options) del(key string) {
	if _, ok := o.values[key]; !ok {
		return
	}
	delete(o.values, key)
	o.keys = slices.DeleteFunc(o.keys, func(k string) bool { return k == key })
}

// SetOption sets a string option. Known keys are validated eagerly; unknown
// keys are stored as given. prop-include and prop-exclude accumulate values.
func (a *Archive) SetOption(key, value string) error {
	if a.closed {
		return ErrClosed
	}
	canonical, err := a.validateOption(key, value)
	if err != nil {
		return err
	}
	if multiValued[key] {
		a.opts.add(key, canonical)
	} else {
		a.opts.put(key, canonical)
	}
	a.applyOption(key)
	return nil
}

// Option returns the effective value of key. For multi-valued keys it
// returns the most recently added value. rfc6713 reads true whenever an
// "other" TOC checksum forces the modern styles.
func (a *Archive) Option(key string) (string, bool) {
	switch key {
	case OptLibraryVersion:
		return LibraryVersion, true
	case OptRFC6713:
		return strconv.FormatBool(a.rfc6713()), true
	}
	return a.opts.get(key)
}

// OptionValues returns every value of key in the order they were set.
func (a *Archive) OptionValues(key string) []string {
	if key == OptLibraryVersion || key == OptRFC6713 {
		v, _ := a.Option(key)
		return []string{v}
	}
	return slices.Clone(a.opts.values[key])
}

// OptionKeys returns every key that has a value, in the order first set.
func (a *Archive) OptionKeys() []string {
	return slices.Clone(a.opts.keys)
}

// UnsetOption removes key. Known single-valued options fall back to their
// defaults.
func (a *Archive) UnsetOption(key string) error {
	if a.closed {
		return ErrClosed
	}
	if key == OptLibraryVersion {
		return fmt.Errorf("%w: %s", ErrReadOnlyOption, key)
	}
	a.opts.del(key)
	if v, ok := newOptions().get(key); ok {
		a.opts.put(key, v)
	}
	a.applyOption(key)
	return nil
}

func (a *Archive) validateOption(key, value string) (string, error) {
	switch {
	case key == OptLibraryVersion:
		return "", fmt.Errorf("%w: %s", ErrReadOnlyOption, key)
	case boolOptions[key]:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return "", fmt.Errorf("%w: %s=%q", ErrInvalidOption, key, value)
		}
		return strconv.FormatBool(b), nil
	}

	switch key {
	case OptOwnership:
		if value != OwnershipSymbolic && value != OwnershipNumeric {
			return "", fmt.Errorf("%w: %s=%q", ErrInvalidOption, key, value)
		}
	case OptTOCChecksum, OptFileChecksum:
		alg, err := checksum.Parse(value)
		if err != nil {
			return "", err
		}
		return alg.String(), nil
	case OptCompression:
		alg, err := codec.Parse(value)
		if err != nil {
			return "", err
		}
		if arg, ok := a.opts.get(OptCompressionArg); ok && arg != "" {
			if _, err := codec.ParseArgs(alg, arg); err != nil {
				return "", fmt.Errorf("%w (unset %s first)", err, OptCompressionArg)
			}
		}
		return alg.String(), nil
	case OptCompressionArg:
		if _, err := codec.ParseArgs(a.compressionAlgorithm(), value); err != nil {
			return "", err
		}
	case OptReadSize:
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return "", fmt.Errorf("%w: %s=%q", ErrInvalidOption, key, value)
		}
	case OptStripComponents:
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return "", fmt.Errorf("%w: %s=%q", ErrInvalidOption, key, value)
		}
	}
	return value, nil
}

// applyOption pushes option changes into live components.
func (a *Archive) applyOption(key string) {
	if key == OptCoalesce && a.heapW != nil {
		a.heapW.SetCoalesce(a.optBool(OptCoalesce))
	}
}

func (a *Archive) optBool(key string) bool {
	v, _ := a.opts.get(key)
	b, _ := strconv.ParseBool(v) //nolint:errcheck // validated on set
	return b
}

func (a *Archive) optInt(key string, def int) int {
	v, ok := a.opts.get(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func (a *Archive) tocAlgorithm() checksum.Algorithm {
	v, _ := a.opts.get(OptTOCChecksum)
	alg, err := checksum.Parse(v)
	if err != nil {
		return checksum.SHA1
	}
	return alg
}

func (a *Archive) fileAlgorithm() checksum.Algorithm {
	v, _ := a.opts.get(OptFileChecksum)
	alg, err := checksum.Parse(v)
	if err != nil {
		return checksum.SHA1
	}
	return alg
}

func (a *Archive) compressionAlgorithm() codec.Algorithm {
	v, _ := a.opts.get(OptCompression)
	alg, err := codec.Parse(v)
	if err != nil {
		return codec.Gzip
	}
	return alg
}

func (a *Archive) compressionArgs(alg codec.Algorithm) codec.Args {
	v, _ := a.opts.get(OptCompressionArg)
	args, err := codec.ParseArgs(alg, v)
	if err != nil {
		return codec.Args{}
	}
	return args
}

// rfc6713 reports whether zlib payloads are labeled application/zlib. It
// is forced on whenever the TOC checksum is a named algorithm.
func (a *Archive) rfc6713() bool {
	return a.optBool(OptRFC6713) || a.tocAlgorithm().Kind == checksum.KindOther
}

// recordable reports whether a metadata property passes the prop-include
// and prop-exclude filters.
func (a *Archive) recordable(key string) bool {
	if inc := a.opts.values[OptPropInclude]; len(inc) > 0 {
		return slices.Contains(inc, key)
	}
	return !slices.Contains(a.opts.values[OptPropExclude], key)
}
