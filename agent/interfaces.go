package agent

// Factory builds a Body from an agent's raw, not-yet-validated config
// subtree, returning the parsed Config alongside it. Each concrete agent
// type (built-in or contrib) registers one Factory under a type tag.
type Factory func(raw map[string]any) (Config, Body, error)

// ContribFactory is the exported symbol a contrib agent's compiled Go
// plugin (built with `go build -buildmode=plugin`) must provide, named
// "NewAgent" by convention. This is the idiomatic Go analogue of the
// original implementation's importlib-based dynamic module loading: a
// contrib author compiles their agent as a .so, and LoadContrib resolves
// this symbol out of it instead of exec'ing arbitrary source.
type ContribFactory = Factory
