package engine

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"reflect"

	"go.uber.org/zap"

	"github.com/pgavlin/wasmu/artifact"
	"github.com/pgavlin/wasmu/cache"
	"github.com/pgavlin/wasmu/compiler"
	"github.com/pgavlin/wasmu/types"
)

// Options configures a Universal engine.
type Options struct {
	// Target is the compilation target. It defaults to the host.
	Target *compiler.Target
	// Features are the WebAssembly features to accept. They default to types.NewFeatures().
	Features *types.Features
	// Compiler generates code. A nil compiler creates a headless engine that can only load artifacts.
	Compiler compiler.Compiler
	// Cache, if set, stores artifacts produced by Compile.
	Cache cache.Cache
	// Logger defaults to the package logger.
	Logger *zap.Logger
}

type universal struct {
	id         EngineID
	target     *compiler.Target
	builder    *artifact.Builder
	signatures *signatureRegistry
	cache      cache.Cache
	log        *zap.Logger
}

// Universal is an engine that compiles modules with a pluggable compiler. Copies of a Universal and its
// clones share one identity and one signature registry.
type Universal struct {
	*universal
}

// NewUniversal creates an engine.
func NewUniversal(opts Options) *Universal {
	target := opts.Target
	if target == nil {
		target = compiler.HostTarget()
	}
	features := types.NewFeatures()
	if opts.Features != nil {
		features = *opts.Features
	}
	log := opts.Logger
	if log == nil {
		log = Logger()
	}

	id := newEngineID()
	log = log.With(zap.Stringer("engine", id))
	log.Debug("created engine", zap.Stringer("target", target), zap.Bool("headless", opts.Compiler == nil))

	return &Universal{&universal{
		id:         id,
		target:     target,
		builder:    artifact.NewBuilder(opts.Compiler, features),
		signatures: newSignatureRegistry(),
		cache:      opts.Cache,
		log:        log,
	}}
}

func (e *Universal) Target() *compiler.Target {
	return e.target
}

// Features returns the WebAssembly features the engine accepts.
func (e *Universal) Features() types.Features {
	return e.builder.Features()
}

func (e *Universal) RegisterSignature(sig types.FunctionType) types.SharedSignatureIndex {
	return e.signatures.register(sig)
}

func (e *Universal) LookupSignature(idx types.SharedSignatureIndex) (types.FunctionType, bool) {
	return e.signatures.lookup(idx)
}

func (e *Universal) Validate(binary []byte) error {
	return compiler.Validate(binary, e.builder.Features())
}

func (e *Universal) Build(binary []byte, tunables compiler.Tunables) (*artifact.Build, error) {
	return artifact.NewBuild(e.builder, binary, e.target, tunables)
}

func (e *Universal) FromBuild(compiled artifact.Compiled) (*Artifact, error) {
	if !compiled.CPUFeatures().IsSubsetOf(e.target.CPUFeatures()) {
		return nil, types.CompileErrorf(types.CompileErrorUnsupportedTarget,
			"the artifact requires CPU features %v, but the target only has %v", compiled.CPUFeatures(), e.target.CPUFeatures())
	}
	return e.load(compiled), nil
}

func (e *Universal) Deserialize(b []byte) (*Artifact, error) {
	ref, err := artifact.NewBuildRef(b)
	if err != nil {
		return nil, err
	}
	if !ref.CPUFeatures().IsSubsetOf(e.target.CPUFeatures()) {
		return nil, types.DeserializeErrorf(types.DeserializeErrorIncompatible,
			"the provided bytes were compiled with CPU features (%v) not supported by the target (%v)", ref.CPUFeatures(), e.target.CPUFeatures())
	}
	e.log.Debug("deserialized artifact", zap.Int("size", len(b)))
	return e.load(ref), nil
}

func (e *Universal) load(compiled artifact.Compiled) *Artifact {
	info := compiled.ModuleInfo()
	signatures := make([]types.SharedSignatureIndex, len(info.Signatures))
	for i, sig := range info.Signatures {
		signatures[i] = e.RegisterSignature(sig)
	}
	return &Artifact{engine: e.id, compiled: compiled, module: info, signatures: signatures}
}

func (e *Universal) ID() EngineID {
	return e.id
}

func (e *Universal) Clone() Engine {
	return &Universal{e.universal}
}

func (e *Universal) cacheKey(wasm []byte) cache.Key {
	var meta [16]byte
	binary.LittleEndian.PutUint32(meta[0:4], uint32(e.target.Arch()))
	binary.LittleEndian.PutUint64(meta[4:12], e.target.CPUFeatures().Uint64())
	binary.LittleEndian.PutUint32(meta[12:16], e.builder.Features().Bits())
	return cache.NewKey(wasm, meta[:])
}

// Compile builds and loads a module. If the engine has a cache, artifacts are looked up by the binary,
// target and features, and cached entries that cannot be loaded or that were built with other styles
// are replaced.
func (e *Universal) Compile(binary []byte, tunables compiler.Tunables) (*Artifact, error) {
	if e.cache == nil {
		return e.compile(binary, tunables)
	}

	key := e.cacheKey(binary)
	log := e.log.With(zap.Binary("key", key[:8]))
	if a, ok := e.fromCache(key, tunables, log); ok {
		return a, nil
	}

	build, err := e.Build(binary, tunables)
	if err != nil {
		return nil, err
	}
	a, err := e.FromBuild(build)
	if err != nil {
		return nil, err
	}

	if data, err := build.Serialize(); err != nil {
		log.Warn("failed to serialize artifact for the cache", zap.Error(err))
	} else if err := e.cache.Add(key, bytes.NewReader(data)); err != nil {
		log.Warn("failed to add artifact to the cache", zap.Error(err))
	} else {
		log.Debug("cached artifact", zap.Int("size", len(data)))
	}
	return a, nil
}

func (e *Universal) compile(binary []byte, tunables compiler.Tunables) (*Artifact, error) {
	build, err := e.Build(binary, tunables)
	if err != nil {
		return nil, err
	}
	return e.FromBuild(build)
}

func (e *Universal) fromCache(key cache.Key, tunables compiler.Tunables, log *zap.Logger) (*Artifact, bool) {
	data, ok, err := readEntry(e.cache, key)
	if err != nil {
		log.Warn("failed to read cached artifact", zap.Error(err))
		return nil, false
	}
	if !ok {
		log.Debug("cache miss")
		return nil, false
	}

	a, err := e.Deserialize(data)
	if err == nil && !stylesMatch(a, tunables) {
		err = errors.New("artifact was built with different memory or table styles")
	}
	if err != nil {
		log.Debug("discarding stale cache entry", zap.Error(err))
		if err := e.cache.Delete(key); err != nil {
			log.Warn("failed to delete stale cache entry", zap.Error(err))
		}
		return nil, false
	}
	log.Debug("cache hit")
	return a, true
}

// readEntry reads a cache entry into an aligned buffer. The entry is closed before readEntry returns.
func readEntry(c cache.Cache, key cache.Key) ([]byte, bool, error) {
	content, ok, err := c.Get(key)
	if err != nil || !ok {
		return nil, false, err
	}
	defer content.Close()

	data, err := io.ReadAll(content)
	if err != nil {
		return nil, false, err
	}
	buf := artifact.AlignedBuffer(len(data))
	copy(buf, data)
	return buf, true, nil
}

func stylesMatch(a *Artifact, tunables compiler.Tunables) bool {
	compiled := a.Compiled()
	return reflect.DeepEqual(compiled.MemoryStyles().ToOwned(), compiler.MemoryStyles(tunables, a.ModuleInfo())) &&
		reflect.DeepEqual(compiled.TableStyles().ToOwned(), compiler.TableStyles(tunables, a.ModuleInfo()))
}

var _ Engine = (*Universal)(nil)
