// Package host defines what the bridge needs from the editor host: a way to run
// work on the mutation thread, readiness information, and the per-subsystem
// authoring capabilities that command adapters drive.
package host

import (
	"errors"
	"image"
)

// Host errors. Adapters translate these into response error kinds.
var (
	ErrNotFound    = errors.New("not found")
	ErrExists      = errors.New("already exists")
	ErrInvalid     = errors.New("invalid argument")
	ErrBusy        = errors.New("host busy")
	ErrNotReady    = errors.New("host not ready")
	ErrLoopStopped = errors.New("main loop stopped")
)

// Subsystem names.
const (
	SubsystemSystem     = "system"
	SubsystemGraph      = "graph"
	SubsystemAsset      = "asset"
	SubsystemEffects    = "effects"
	SubsystemAudio      = "audio"
	SubsystemBehavior   = "behavior"
	SubsystemProcedural = "procedural"
	SubsystemCapture    = "capture"
	SubsystemMaterial   = "material"
	SubsystemLevel      = "level"
)

// AllSubsystems lists every subsystem the bridge knows about.
var AllSubsystems = []string{
	SubsystemSystem,
	SubsystemGraph,
	SubsystemAsset,
	SubsystemEffects,
	SubsystemAudio,
	SubsystemBehavior,
	SubsystemProcedural,
	SubsystemCapture,
	SubsystemMaterial,
	SubsystemLevel,
}

// TickSource is the host's run-on-mutation-thread primitive. Registered
// functions are called once per host tick on the mutation thread.
type TickSource interface {
	OnTick(fn func()) (unregister func(), err error)
}

// Waker is implemented by tick sources that can schedule an early tick.
type Waker interface {
	Wake()
}

// Readiness reports subsystem availability and the host version. Safe to call
// from any goroutine.
type Readiness interface {
	SubsystemReady(name string) bool
	Version() string
}

var (
	_ AssetStore       = (*Editor)(nil)
	_ GraphEditor      = (*Editor)(nil)
	_ EffectsEditor    = (*Editor)(nil)
	_ BehaviorEditor   = (*Editor)(nil)
	_ ProceduralEditor = (*Editor)(nil)
	_ PixelReader      = (*Editor)(nil)
	_ MaterialEditor   = (*Editor)(nil)
	_ LevelEditor      = (*Editor)(nil)
	_ TickSource       = (*MainLoop)(nil)
	_ Waker            = (*MainLoop)(nil)
	_ Readiness        = (*Availability)(nil)
)

// AssetKind names an asset class.
type AssetKind string

const (
	KindBlueprint        AssetKind = "Blueprint"
	KindNiagaraSystem    AssetKind = "NiagaraSystem"
	KindMetaSoundSource  AssetKind = "MetaSoundSource"
	KindStateTree        AssetKind = "StateTree"
	KindPCGGraph         AssetKind = "PCGGraph"
	KindMaterial         AssetKind = "Material"
	KindMaterialInstance AssetKind = "MaterialInstance"
	KindTexture          AssetKind = "Texture"
	KindStaticMesh       AssetKind = "StaticMesh"
	KindSoundWave        AssetKind = "SoundWave"
	KindDataTable        AssetKind = "DataTable"
	KindRenderTarget     AssetKind = "RenderTarget"
	KindSoundAttenuation AssetKind = "SoundAttenuation"
)

// AssetInfo describes an asset.
type AssetInfo struct {
	Path  string
	Name  string
	Kind  AssetKind
	Dirty bool
}

// Position is a node location on a graph canvas.
type Position struct {
	X float64
	Y float64
}

// NodeInfo describes a graph node.
type NodeInfo struct {
	ID         string
	Type       string
	Label      string
	Position   Position
	Properties map[string]interface{}
}

// Link is a pin-to-pin connection.
type Link struct {
	SourceNode string
	SourcePin  string
	TargetNode string
	TargetPin  string
}

// CompileReport is the outcome of compiling an asset.
type CompileReport struct {
	Success  bool
	Warnings []string
	Errors   []string
}

// EmitterInfo describes an emitter in an effects system.
type EmitterInfo struct {
	Name     string
	Template string
	Modules  []ModuleInfo
}

// ModuleInfo describes a module on an emitter stack.
type ModuleInfo struct {
	Name   string
	Stage  string
	Inputs map[string]interface{}
}

// StateInfo describes a behavior tree state.
type StateInfo struct {
	Name   string
	Parent string
	Type   string
}

// Transition connects two states.
type Transition struct {
	Source  string
	Target  string
	Trigger string
	Type    string
}

// ExecutionReport is the outcome of running a procedural graph.
type ExecutionReport struct {
	Nodes           int
	PointsGenerated int
}

// AssetStore creates, imports, saves and lists assets. Refs are full paths or
// bare asset names.
type AssetStore interface {
	CreateAsset(kind AssetKind, path string) (AssetInfo, error)
	ImportAsset(sourceFile, destination string) (AssetInfo, error)
	SaveAsset(ref string) (AssetInfo, error)
	DeleteAsset(ref string) error
	FindAsset(ref string) (AssetInfo, error)
	ListAssets(prefix string, kind AssetKind) []AssetInfo
}

// GraphEditor edits node graphs of the given asset kind.
type GraphEditor interface {
	AddNode(kind AssetKind, graph, nodeType, label string, pos Position) (NodeInfo, error)
	RemoveNode(kind AssetKind, graph, nodeID string) error
	Connect(kind AssetKind, graph string, link Link) error
	Disconnect(kind AssetKind, graph string, link Link) error
	FindNode(kind AssetKind, nodeID string) (graph string, err error)
	SetNodeProperty(kind AssetKind, graph, nodeID, prop string, value interface{}) error
	NodeProperty(kind AssetKind, graph, nodeID, prop string) (interface{}, error)
	SetGraphProperty(kind AssetKind, graph, key string, value interface{}) error
	Nodes(kind AssetKind, graph string) ([]NodeInfo, error)
	Links(kind AssetKind, graph string) ([]Link, error)
	Compile(kind AssetKind, graph string) (CompileReport, error)
}

// EffectsEditor edits emitter stacks of effects systems.
type EffectsEditor interface {
	AddEmitter(system, emitter, template string) (int, error)
	AddModule(system, emitter, module, stage string) (int, error)
	SetModuleInput(system, emitter, module, input string, value interface{}) error
	Emitters(system string) ([]EmitterInfo, error)
}

// BehaviorEditor edits state trees.
type BehaviorEditor interface {
	AddState(tree string, state StateInfo) error
	AddTransition(tree string, t Transition) error
	States(tree string) ([]StateInfo, error)
}

// ProceduralEditor runs procedural graphs.
type ProceduralEditor interface {
	ExecuteGraph(graph string) (ExecutionReport, error)
}

// PixelReader reads back a rendered preview of an asset.
type PixelReader interface {
	ReadPixels(ref string, width, height int) (*image.RGBA, error)
}

// Material parameter types.
const (
	ParamScalar  = "scalar"
	ParamVector  = "vector"
	ParamTexture = "texture"
)

// MaterialParameter is a named, typed material input. Vector values are
// []float64 of length 3 or 4; textures are asset paths.
type MaterialParameter struct {
	Name  string
	Type  string
	Value interface{}
}

// MaterialEditor edits material parameters, outputs and instances. Material
// expressions are the nodes of the material's graph and are edited through
// GraphEditor with KindMaterial.
type MaterialEditor interface {
	CreateMaterialInstance(parent, path string) (AssetInfo, error)
	SetMaterialParameter(material string, param MaterialParameter) error
	MaterialParameters(material string) ([]MaterialParameter, error)
	ConnectMaterialOutput(material, expressionID string, outputIndex int, property string) error
	MaterialOutputs(material string) (map[string]string, error)
}

// Vector is a world-space triple.
type Vector struct {
	X float64
	Y float64
	Z float64
}

// ActorSpec describes an actor to spawn. A zero Scale means 1,1,1.
type ActorSpec struct {
	Name     string
	Type     string
	Location Vector
	Rotation Vector
	Scale    Vector
	MeshPath string
}

// ActorInfo describes an actor in the open level.
type ActorInfo struct {
	Name       string
	Type       string
	Location   Vector
	Rotation   Vector
	Scale      Vector
	Hidden     bool
	Mobility   string
	MeshPath   string
	Materials  map[int]string
	Properties map[string]interface{}
}

// LevelEditor places and edits actors in the open level.
type LevelEditor interface {
	SpawnActor(spec ActorSpec) (ActorInfo, error)
	DeleteActor(name string) error
	Actor(name string) (ActorInfo, error)
	Actors(actorType string) []ActorInfo
	SetActorProperty(name, prop string, value interface{}) error
	ApplyMaterial(actor, material string, slot int) error
}
