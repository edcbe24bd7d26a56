package host

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"sync/atomic"
)

const editorLogPrefix = "host:editor"

// RefGraph is the RefError.What of a graph asset that does not exist.
const RefGraph = "graph"

// RefError reports a failed lookup or conflict on a named object.
type RefError struct {
	What string
	Ref  string
	Err  error
}

func (e *RefError) Error() string {
	return fmt.Sprintf("%s %q %s", e.What, e.Ref, e.Err)
}

func (e *RefError) Unwrap() error {
	return e.Err
}

func notFound(what, ref string) error {
	return &RefError{What: what, Ref: ref, Err: ErrNotFound}
}

func exists(what, ref string) error {
	return &RefError{What: what, Ref: ref, Err: ErrExists}
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// accessGuard panics when two goroutines are inside the editor at once. A
// real host would corrupt its object model instead.
type accessGuard struct {
	active atomic.Int32
}

func (g *accessGuard) enter() func() {
	if g.active.Add(1) != 1 {
		g.active.Add(-1)
		panic(fmt.Sprintf("%s - concurrent access to editor state", editorLogPrefix))
	}
	return func() { g.active.Add(-1) }
}

type asset struct {
	info   AssetInfo
	source string
	props  map[string]interface{}

	graph       *nodeGraph
	emitters    []*emitter
	states      []StateInfo
	transitions []Transition

	params  []MaterialParameter
	outputs map[string]string
}

// Editor is an in-memory editor object model. It implements every
// capability interface in this package and must only be used from the
// mutation thread; overlapping calls panic.
type Editor struct {
	guard  accessGuard
	assets map[string]*asset
	actors map[string]*ActorInfo
	seq    uint64
}

// NewEditor creates an empty editor with an empty level.
func NewEditor() *Editor {
	return &Editor{assets: make(map[string]*asset), actors: make(map[string]*ActorInfo)}
}

var graphKinds = map[AssetKind]bool{
	KindBlueprint:       true,
	KindMetaSoundSource: true,
	KindPCGGraph:        true,
	KindMaterial:        true,
}

var creatableKinds = map[AssetKind]bool{
	KindBlueprint:        true,
	KindNiagaraSystem:    true,
	KindMetaSoundSource:  true,
	KindStateTree:        true,
	KindPCGGraph:         true,
	KindMaterial:         true,
	KindDataTable:        true,
	KindRenderTarget:     true,
	KindSoundAttenuation: true,
}

var importKinds = map[string]AssetKind{
	".png": KindTexture,
	".jpg": KindTexture,
	".tga": KindTexture,
	".exr": KindTexture,
	".wav": KindSoundWave,
	".ogg": KindSoundWave,
	".fbx": KindStaticMesh,
	".obj": KindStaticMesh,
	".csv": KindDataTable,
}

func label(kind AssetKind) string {
	switch kind {
	case KindBlueprint:
		return "blueprint"
	case KindNiagaraSystem:
		return "niagara system"
	case KindMetaSoundSource:
		return "metasound"
	case KindStateTree:
		return "state tree"
	case KindPCGGraph:
		return "pcg graph"
	case KindMaterial:
		return "material"
	case KindMaterialInstance:
		return "material instance"
	}
	return "asset"
}

func cleanPath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if !strings.HasPrefix(p, "/") {
		return "", invalid("asset path %q must be absolute, e.g. /Game/Folder/Name", p)
	}
	p = path.Clean(p)
	if p == "/" || strings.Count(p, "/") < 2 {
		return "", invalid("asset path %q must include a root and a name", p)
	}
	return p, nil
}

// resolve finds an asset by full path or, failing that, by bare name.
func (e *Editor) resolve(ref string) (*asset, bool) {
	if a, ok := e.assets[ref]; ok {
		return a, true
	}
	if strings.HasPrefix(ref, "/") {
		if a, ok := e.assets[path.Clean(ref)]; ok {
			return a, true
		}
		return nil, false
	}
	var match *asset
	for _, a := range e.assets {
		if a.info.Name == ref && (match == nil || a.info.Path < match.info.Path) {
			match = a
		}
	}
	return match, match != nil
}

func (e *Editor) resolveKind(kind AssetKind, ref string) (*asset, error) {
	a, ok := e.resolve(ref)
	if !ok || a.info.Kind != kind {
		return nil, notFound(label(kind), ref)
	}
	return a, nil
}

func (e *Editor) create(kind AssetKind, p string) (*asset, error) {
	clean, err := cleanPath(p)
	if err != nil {
		return nil, err
	}
	if _, ok := e.assets[clean]; ok {
		return nil, exists(label(kind), clean)
	}
	a := &asset{
		info:  AssetInfo{Path: clean, Name: path.Base(clean), Kind: kind, Dirty: true},
		props: make(map[string]interface{}),
	}
	if graphKinds[kind] {
		a.graph = newNodeGraph()
	}
	e.assets[clean] = a
	return a, nil
}

// CreateAsset creates an empty asset at path.
func (e *Editor) CreateAsset(kind AssetKind, p string) (AssetInfo, error) {
	defer e.guard.enter()()
	if !creatableKinds[kind] {
		return AssetInfo{}, invalid("asset kind %q cannot be created", kind)
	}
	a, err := e.create(kind, p)
	if err != nil {
		return AssetInfo{}, err
	}
	return a.info, nil
}

// ImportAsset imports a source file into the destination folder. The asset
// kind follows the file extension.
func (e *Editor) ImportAsset(sourceFile, destination string) (AssetInfo, error) {
	defer e.guard.enter()()
	ext := strings.ToLower(path.Ext(sourceFile))
	kind, ok := importKinds[ext]
	if !ok {
		return AssetInfo{}, invalid("unsupported source file type %q", ext)
	}
	base := strings.TrimSuffix(path.Base(strings.ReplaceAll(sourceFile, "\\", "/")), path.Ext(sourceFile))
	if base == "" || base == "." {
		return AssetInfo{}, invalid("source file %q has no name", sourceFile)
	}
	dest := strings.TrimRight(strings.TrimSpace(destination), "/")
	a, err := e.create(kind, dest+"/"+base)
	if err != nil {
		return AssetInfo{}, err
	}
	a.source = sourceFile
	return a.info, nil
}

// SaveAsset clears the dirty flag.
func (e *Editor) SaveAsset(ref string) (AssetInfo, error) {
	defer e.guard.enter()()
	a, ok := e.resolve(ref)
	if !ok {
		return AssetInfo{}, notFound("asset", ref)
	}
	a.info.Dirty = false
	return a.info, nil
}

// DeleteAsset removes an asset.
func (e *Editor) DeleteAsset(ref string) error {
	defer e.guard.enter()()
	a, ok := e.resolve(ref)
	if !ok {
		return notFound("asset", ref)
	}
	delete(e.assets, a.info.Path)
	return nil
}

// FindAsset returns the asset for ref.
func (e *Editor) FindAsset(ref string) (AssetInfo, error) {
	defer e.guard.enter()()
	a, ok := e.resolve(ref)
	if !ok {
		return AssetInfo{}, notFound("asset", ref)
	}
	return a.info, nil
}

// ListAssets returns assets under prefix, optionally filtered by kind, sorted by path.
func (e *Editor) ListAssets(prefix string, kind AssetKind) []AssetInfo {
	defer e.guard.enter()()
	out := make([]AssetInfo, 0)
	for p, a := range e.assets {
		if prefix != "" && !strings.HasPrefix(p, prefix) {
			continue
		}
		if kind != "" && a.info.Kind != kind {
			continue
		}
		out = append(out, a.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (e *Editor) nextID(prefix, name string) string {
	e.seq++
	return fmt.Sprintf("%s_%s_%d", prefix, sanitize(name), e.seq)
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "Node"
	}
	return b.String()
}
